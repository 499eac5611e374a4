package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

type Config struct {
	Host     string
	Port     int
	Debug    bool
	ServerID string

	APIKey    string
	SecretKey string

	DatabaseURL   string
	RedisAddr     string
	RedisPassword string
	RedisDB       int

	CORSAllowOrigins     []string
	CORSAllowMethods     []string
	CORSAllowHeaders     []string
	CORSAllowCredentials bool

	RateLimitEnabled bool
	RateLimitRPS     float64
	RateLimitBurst   int
	RateLimitBlock   time.Duration

	GzipEnabled bool
	GzipMinSize int

	// Blob bucket URL for session console logs (file://, s3://, azblob://).
	// Empty disables archiving.
	LogArchiveURL string
}

func Load() Config {
	cfg := Config{
		Host:     getenv("BROWSERFLEET_API_HOST", "0.0.0.0"),
		Port:     getint("BROWSERFLEET_API_PORT", 8765),
		Debug:    getbool("BROWSERFLEET_DEBUG", false),
		ServerID: getenv("BROWSERFLEET_SERVER_ID", hostnameOr("browserfleet")),

		APIKey:    os.Getenv("BROWSERFLEET_API_KEY"),
		SecretKey: os.Getenv("BROWSERFLEET_SECRET_KEY"),

		RedisAddr:     getenv("BROWSERFLEET_REDIS_ADDR", "localhost:6379"),
		RedisPassword: os.Getenv("BROWSERFLEET_REDIS_PASSWORD"),
		RedisDB:       getint("BROWSERFLEET_REDIS_DB", 0),

		CORSAllowOrigins: getlist("BROWSERFLEET_CORS_ALLOW_ORIGINS", []string{"*"}),
		CORSAllowMethods: getlist("BROWSERFLEET_CORS_ALLOW_METHODS",
			[]string{"GET", "POST", "PUT", "PATCH", "DELETE", "HEAD", "OPTIONS"}),
		CORSAllowHeaders: getlist("BROWSERFLEET_CORS_ALLOW_HEADERS",
			[]string{"Origin", "Content-Length", "Content-Type", "Authorization", "X-API-Key"}),
		CORSAllowCredentials: getbool("BROWSERFLEET_CORS_ALLOW_CREDENTIALS", true),

		RateLimitEnabled: getbool("BROWSERFLEET_RATE_LIMIT_ENABLED", true),
		// the limiter works in requests per second; the knob is per minute
		RateLimitRPS:   getfloat("BROWSERFLEET_RATE_LIMIT_REQUESTS_PER_MINUTE", 1200) / 60,
		RateLimitBurst: getint("BROWSERFLEET_RATE_LIMIT_BURST", 40),
		RateLimitBlock: time.Duration(getint("BROWSERFLEET_RATE_LIMIT_BLOCK_SECONDS", 60)) * time.Second,

		GzipEnabled: getbool("BROWSERFLEET_GZIP_ENABLED", true),
		GzipMinSize: getint("BROWSERFLEET_GZIP_MINIMUM_SIZE", 500),

		LogArchiveURL: os.Getenv("BROWSERFLEET_LOG_ARCHIVE_URL"),
	}

	cfg.DatabaseURL = os.Getenv("DATABASE_URL")
	if cfg.DatabaseURL == "" {
		cfg.DatabaseURL = buildPostgresDSN()
	}

	return cfg
}

// buildPostgresDSN assembles the DSN from discrete POSTGRES_* variables
// when DATABASE_URL is not set.
func buildPostgresDSN() string {
	host := getenv("BROWSERFLEET_POSTGRES_HOST", "localhost")
	port := getenv("BROWSERFLEET_POSTGRES_PORT", "5432")
	user := getenv("BROWSERFLEET_POSTGRES_USER", "browserfleet")
	pass := getenv("BROWSERFLEET_POSTGRES_PASSWORD", "browserfleet")
	name := getenv("BROWSERFLEET_POSTGRES_DB", "browserfleet")
	ssl := getenv("BROWSERFLEET_POSTGRES_SSLMODE", "disable")

	return fmt.Sprintf("postgres://%s:%s@%s:%s/%s?sslmode=%s",
		user, pass, host, port, name, ssl)
}

func hostnameOr(def string) string {
	if h, err := os.Hostname(); err == nil && h != "" {
		return h
	}
	return def
}

func getenv(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func getint(key string, def int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return def
}

func getfloat(key string, def float64) float64 {
	if v := os.Getenv(key); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			return f
		}
	}
	return def
}

func getbool(key string, def bool) bool {
	if v := os.Getenv(key); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			return b
		}
	}
	return def
}

func getlist(key string, def []string) []string {
	if v := os.Getenv(key); v != "" {
		parts := strings.Split(v, ",")
		for i := range parts {
			parts[i] = strings.TrimSpace(parts[i])
		}
		return parts
	}
	return def
}
