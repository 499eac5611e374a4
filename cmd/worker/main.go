package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/google/uuid"

	"github.com/autocrawlerHQ/browserfleet/internal/agent"
	"github.com/autocrawlerHQ/browserfleet/internal/logstore"
	"github.com/autocrawlerHQ/browserfleet/internal/provider"
	"github.com/autocrawlerHQ/browserfleet/internal/provider/docker"
)

type workerConfig struct {
	APIURL        string
	APIKey        string
	WorkPoolID    string
	Name          string
	Capacity      int
	PollInterval  time.Duration
	Registry      string
	ImagePrefix   string
	LogArchiveURL string
}

func main() {
	log.Println("========================================")
	log.Println("        BrowserFleet Worker             ")
	log.Println("========================================")

	cfg := loadConfig()

	poolID, err := uuid.Parse(cfg.WorkPoolID)
	if err != nil {
		log.Fatalf("[STARTUP] Invalid work pool ID %q: %v", cfg.WorkPoolID, err)
	}

	prov, err := docker.New(provider.ImageOptions{
		Registry:    cfg.Registry,
		ImagePrefix: cfg.ImagePrefix,
	})
	if err != nil {
		log.Fatalf("[STARTUP] Docker provider: %v", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := prov.Start(ctx); err != nil {
		log.Fatalf("[STARTUP] Docker unreachable: %v", err)
	}
	defer prov.Stop(context.Background())

	var logs *logstore.Store
	if cfg.LogArchiveURL != "" {
		logs, err = logstore.Open(ctx, cfg.LogArchiveURL)
		if err != nil {
			log.Printf("[STARTUP] Log archive disabled: %v", err)
		} else {
			defer logs.Close()
		}
	}

	client := agent.NewClient(cfg.APIURL, cfg.APIKey)
	a := agent.New(client, prov, logs, agent.Config{
		WorkerName:   cfg.Name,
		WorkPoolID:   poolID,
		Capacity:     cfg.Capacity,
		PollInterval: cfg.PollInterval,
	})

	log.Printf("[WORKER] Name: %s", cfg.Name)
	log.Printf("[WORKER] Pool: %s", poolID)
	log.Printf("[WORKER] Capacity: %d", cfg.Capacity)
	log.Printf("[WORKER] API: %s", cfg.APIURL)

	if err := a.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		log.Fatalf("[WORKER] Agent stopped with error: %v", err)
	}
	log.Println("[WORKER] Exited")
}

func loadConfig() workerConfig {
	var cfg workerConfig

	flag.StringVar(&cfg.APIURL, "api-url", envOr("BROWSERFLEET_API_URL", "http://localhost:8765"), "Central API base URL")
	flag.StringVar(&cfg.APIKey, "api-key", os.Getenv("BROWSERFLEET_API_KEY"), "API key")
	flag.StringVar(&cfg.WorkPoolID, "work-pool-id", os.Getenv("BROWSERFLEET_WORK_POOL_ID"), "Work pool to join (UUID)")
	flag.StringVar(&cfg.Name, "name", "", "Worker name (defaults to hostname)")
	flag.IntVar(&cfg.Capacity, "capacity", 1, "Concurrent session capacity")
	flag.DurationVar(&cfg.PollInterval, "poll-interval", 10*time.Second, "Loop interval")
	flag.StringVar(&cfg.Registry, "registry", os.Getenv("BROWSERFLEET_REGISTRY"), "Container registry prefix")
	flag.StringVar(&cfg.ImagePrefix, "image-prefix", os.Getenv("BROWSERFLEET_IMAGE_PREFIX"), "Browser image prefix")
	flag.StringVar(&cfg.LogArchiveURL, "log-archive-url", os.Getenv("BROWSERFLEET_LOG_ARCHIVE_URL"), "Blob bucket URL for console logs")

	flag.Parse()

	if cfg.WorkPoolID == "" {
		log.Fatal("[STARTUP] --work-pool-id is required")
	}

	if cfg.Name == "" {
		hostname, _ := os.Hostname()
		cfg.Name = fmt.Sprintf("worker-%s", hostname)
	}

	return cfg
}

func envOr(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}
