package router

import (
	"context"
	"encoding/json"
	"log"
	"net/http"
	"net/http/httptest"
	"os"
	"testing"
	"time"

	"github.com/hibiken/asynq"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"

	"github.com/autocrawlerHQ/browserfleet/internal/config"
	"github.com/autocrawlerHQ/browserfleet/internal/db"
	"github.com/autocrawlerHQ/browserfleet/internal/poolmgr"
	"github.com/autocrawlerHQ/browserfleet/internal/scheduler"
)

var (
	testContainer *postgres.PostgresContainer
	testConnStr   string
)

func TestMain(m *testing.M) {
	ctx := context.Background()

	var err error
	testContainer, err = postgres.Run(ctx,
		"postgres:15-alpine",
		postgres.WithDatabase("testdb"),
		postgres.WithUsername("testuser"),
		postgres.WithPassword("testpass"),
		testcontainers.WithWaitStrategy(
			wait.ForLog("database system is ready to accept connections").
				WithOccurrence(2).
				WithStartupTimeout(30*time.Second),
		),
	)
	if err != nil {
		log.Fatalf("Failed to start PostgreSQL container: %v", err)
	}

	testConnStr, err = testContainer.ConnectionString(ctx, "sslmode=disable")
	if err != nil {
		log.Fatalf("Failed to get connection string: %v", err)
	}

	code := m.Run()

	if err := testContainer.Terminate(ctx); err != nil {
		log.Printf("Failed to terminate PostgreSQL container: %v", err)
	}

	os.Exit(code)
}

func setupEngine(t *testing.T) *httptest.ResponseRecorder {
	database, err := db.New(testConnStr)
	if err != nil {
		t.Fatalf("connect to test database: %v", err)
	}
	t.Cleanup(func() { database.Close() })
	if err := database.AutoMigrate(); err != nil {
		t.Fatalf("migrate: %v", err)
	}

	cfg := config.Load()
	cfg.ServerID = "router-test"
	cfg.APIKey = ""
	cfg.RateLimitEnabled = false
	cfg.GzipEnabled = false

	mgr := scheduler.New(database.DB, nil)
	reconciler := poolmgr.NewReconciler(database.DB, mgr, nil)

	// nothing listens here; the maintenance queue is optional
	redisOpt := asynq.RedisClientOpt{Addr: "127.0.0.1:1"}

	r := New(cfg, database, mgr, reconciler, redisOpt)

	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

func TestHealth_RedisDownIsInformational(t *testing.T) {
	w := setupEngine(t)

	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, body = %s", w.Code, w.Body.String())
	}

	var body struct {
		Status   string `json:"status"`
		ServerID string `json:"server_id"`
		Database string `json:"database"`
		Redis    string `json:"redis"`
	}
	if err := json.Unmarshal(w.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode body: %v", err)
	}
	if body.Status != "healthy" {
		t.Errorf("status = %q, want healthy", body.Status)
	}
	if body.ServerID != "router-test" {
		t.Errorf("server_id = %q, want router-test", body.ServerID)
	}
	if body.Database != "up" {
		t.Errorf("database = %q, want up", body.Database)
	}
	if body.Redis != "down" {
		t.Errorf("redis = %q, want down with no broker listening", body.Redis)
	}
}
