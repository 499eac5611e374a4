package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/hibiken/asynq"

	"github.com/autocrawlerHQ/browserfleet/internal/config"
	"github.com/autocrawlerHQ/browserfleet/internal/db"
	"github.com/autocrawlerHQ/browserfleet/internal/maintenance"
	"github.com/autocrawlerHQ/browserfleet/internal/poolmgr"
	"github.com/autocrawlerHQ/browserfleet/internal/provider"
	"github.com/autocrawlerHQ/browserfleet/internal/router"
	"github.com/autocrawlerHQ/browserfleet/internal/scheduler"

	_ "github.com/autocrawlerHQ/browserfleet/docs"
)

// @title           BrowserFleet API
// @version         1.0
// @description     BrowserFleet is a browser-session orchestration service: declarative session requests, work-pool scheduling, and pull-based worker provisioning.
// @termsOfService  http://swagger.io/terms/

// @contact.name   API Support
// @contact.url    http://www.swagger.io/support
// @contact.email  support@swagger.io

// @license.name  Apache 2.0
// @license.url   http://www.apache.org/licenses/LICENSE-2.0.html

// @host      localhost:8765
// @BasePath  /api/v1

// @securityDefinitions.apikey ApiKeyAuth
// @in header
// @name X-API-Key

func main() {
	cfg := config.Load()
	log.Printf("Starting BrowserFleet API server on %s:%d", cfg.Host, cfg.Port)
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	database, err := db.New(cfg.DatabaseURL)
	if err != nil {
		log.Fatalf("db: %v", err)
	}
	defer func() {
		if err := database.Close(); err != nil {
			log.Printf("Error closing database: %v", err)
		}
	}()

	sqlDB, err := database.DB.DB()
	if err != nil {
		log.Fatalf("getting underlying sql.DB: %v", err)
	}
	if err := sqlDB.Ping(); err != nil {
		log.Fatalf("db ping failed: %v", err)
	}
	log.Println("Database connection established")

	if err := database.AutoMigrate(); err != nil {
		log.Fatalf("migrate: %v", err)
	}

	redisOpt := asynq.RedisClientOpt{
		Addr:     cfg.RedisAddr,
		Password: cfg.RedisPassword,
		DB:       cfg.RedisDB,
	}

	manager := scheduler.New(database.DB, provider.DefaultFactory)

	maint := maintenance.New(database.DB, redisOpt)
	go func() {
		if err := maint.Start(); err != nil {
			log.Printf("Maintenance service stopped with error: %v", err)
		}
	}()
	defer maint.Stop()

	asynqClient := asynq.NewClient(redisOpt)
	defer asynqClient.Close()

	reconciler := poolmgr.NewReconciler(database.DB, manager, asynqClient)
	reconcilerCtx, reconcilerCancel := context.WithCancel(ctx)
	defer reconcilerCancel()

	go func() {
		if err := reconciler.Start(reconcilerCtx); err != nil && !errors.Is(err, context.Canceled) {
			log.Printf("Pool reconciler stopped with error: %v", err)
		} else {
			log.Println("Pool reconciler stopped")
		}
	}()

	r := router.New(cfg, database, manager, reconciler, redisOpt)

	srv := &http.Server{
		Addr:    fmt.Sprintf("%s:%d", cfg.Host, cfg.Port),
		Handler: r,
	}

	go func() {
		log.Printf("API listening on %s", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("listen: %s\n", err)
		}
	}()

	<-ctx.Done()

	log.Printf("Graceful shutdown...")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Fatal("Server forced to shutdown:", err)
	}
	log.Println("Server exited")
}
