package router

import (
	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/hibiken/asynq"
	swaggerFiles "github.com/swaggo/files"
	ginSwagger "github.com/swaggo/gin-swagger"

	"github.com/autocrawlerHQ/browserfleet/internal/config"
	"github.com/autocrawlerHQ/browserfleet/internal/db"
	"github.com/autocrawlerHQ/browserfleet/internal/metrics"
	"github.com/autocrawlerHQ/browserfleet/internal/middleware"
	"github.com/autocrawlerHQ/browserfleet/internal/poolmgr"
	"github.com/autocrawlerHQ/browserfleet/internal/sessions"
	"github.com/autocrawlerHQ/browserfleet/internal/workpool"
)

func New(cfg config.Config, database *db.DB, placer sessions.Placer, reconciler *poolmgr.Reconciler, redisOpt asynq.RedisClientOpt) *gin.Engine {
	if !cfg.Debug {
		gin.SetMode(gin.ReleaseMode)
	}
	r := gin.Default()

	r.Use(cors.New(cors.Config{
		AllowOrigins:     cfg.CORSAllowOrigins,
		AllowMethods:     cfg.CORSAllowMethods,
		AllowHeaders:     cfg.CORSAllowHeaders,
		ExposeHeaders:    []string{"Content-Length"},
		AllowCredentials: cfg.CORSAllowCredentials,
	}))

	if cfg.GzipEnabled {
		r.Use(middleware.Gzip(cfg.GzipMinSize))
	}

	if cfg.RateLimitEnabled {
		r.Use(middleware.RateLimit(middleware.RateLimitConfig{
			RequestsPerSecond: cfg.RateLimitRPS,
			Burst:             cfg.RateLimitBurst,
			BlockDuration:     cfg.RateLimitBlock,
		}))
	}

	r.Use(middleware.Auth(cfg.APIKey))

	r.GET("/health", func(c *gin.Context) {
		sqlDB, _ := database.DB.DB()
		if err := sqlDB.Ping(); err != nil {
			c.JSON(503, gin.H{"status": "unhealthy", "database": "down", "error": err.Error()})
			return
		}

		// Redis only backs the optional maintenance queue, so its state is
		// reported but never fails the check.
		redisState := "up"
		inspector := asynq.NewInspector(redisOpt)
		if _, err := inspector.Queues(); err != nil {
			redisState = "down"
		}
		inspector.Close()

		c.JSON(200, gin.H{
			"status":    "healthy",
			"server_id": cfg.ServerID,
			"database":  "up",
			"redis":     redisState,
		})
	})

	r.GET("/swagger/*any", ginSwagger.WrapHandler(swaggerFiles.Handler))

	v1 := r.Group("/api/v1")
	{
		sessions.RegisterRoutes(v1, database.DB, placer)
		workpool.RegisterRoutes(v1, database.DB)
		metrics.RegisterRoutes(v1, database.DB)
		poolmgr.RegisterRoutes(v1, reconciler)
	}

	return r
}
