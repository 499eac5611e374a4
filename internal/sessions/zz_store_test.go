package sessions

import (
	"context"
	"log"
	"os"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"
	"gorm.io/datatypes"
	postgresDriver "gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
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

func setupTestDB(t *testing.T) *gorm.DB {
	db, err := gorm.Open(postgresDriver.Open(testConnStr), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		t.Fatalf("Failed to connect to test database: %v", err)
	}

	err = db.Migrator().DropTable(&SessionEvent{}, &SessionMetrics{}, &Session{})
	if err != nil {
		t.Logf("Warning: Failed to drop tables (may not exist): %v", err)
	}
	db.Exec("DROP TABLE IF EXISTS workers")

	err = db.AutoMigrate(&Session{}, &SessionEvent{}, &SessionMetrics{})
	if err != nil {
		t.Fatalf("Failed to migrate test database: %v", err)
	}

	// minimal workers table; the store releases slots via raw SQL and the
	// full schema lives in the workpool package
	err = db.Exec(`CREATE TABLE workers (
		id uuid PRIMARY KEY,
		current_load integer NOT NULL DEFAULT 0,
		updated_at timestamptz
	)`).Error
	if err != nil {
		t.Fatalf("Failed to create workers table: %v", err)
	}

	return db
}

func seedWorkerRow(t *testing.T, db *gorm.DB, load int) uuid.UUID {
	id := uuid.New()
	err := db.Exec("INSERT INTO workers (id, current_load, updated_at) VALUES (?, ?, ?)",
		id, load, time.Now()).Error
	if err != nil {
		t.Fatalf("Failed to seed worker row: %v", err)
	}
	return id
}

func workerLoad(t *testing.T, db *gorm.DB, id uuid.UUID) int {
	var load int
	if err := db.Raw("SELECT current_load FROM workers WHERE id = ?", id).Scan(&load).Error; err != nil {
		t.Fatalf("Failed to read worker load: %v", err)
	}
	return load
}

func TestStore_CreateSession(t *testing.T) {
	db := setupTestDB(t)
	store := NewStore(db)
	ctx := context.Background()

	t.Run("defaults applied", func(t *testing.T) {
		sess := validSession()
		sess.Status = ""

		if err := store.CreateSession(ctx, sess); err != nil {
			t.Fatalf("CreateSession() error = %v", err)
		}
		if sess.ID == uuid.Nil {
			t.Error("expected UUID to be generated")
		}
		if sess.Status != StatusPending {
			t.Errorf("default status = %v, want %v", sess.Status, StatusPending)
		}
		if sess.ExpiresAt != nil {
			t.Error("expires_at should stay nil without a timeout limit")
		}
	})

	t.Run("expiry derived from timeout", func(t *testing.T) {
		sess := validSession()
		sess.ResourceLimits = &ResourceLimits{TimeoutMinutes: intPtr(15)}

		before := time.Now()
		if err := store.CreateSession(ctx, sess); err != nil {
			t.Fatalf("CreateSession() error = %v", err)
		}
		if sess.ExpiresAt == nil {
			t.Fatal("expected expires_at to be derived")
		}
		want := before.Add(15 * time.Minute)
		if sess.ExpiresAt.Before(want.Add(-time.Minute)) || sess.ExpiresAt.After(want.Add(time.Minute)) {
			t.Errorf("expires_at = %v, want about %v", sess.ExpiresAt, want)
		}
	})

	t.Run("invalid spec rejected", func(t *testing.T) {
		sess := validSession()
		sess.Browser = "netscape"
		if err := store.CreateSession(ctx, sess); err == nil {
			t.Error("expected validation error")
		}
	})
}

func TestStore_ApplyEvent_Lifecycle(t *testing.T) {
	db := setupTestDB(t)
	store := NewStore(db)
	ctx := context.Background()

	sess := validSession()
	if err := store.CreateSession(ctx, sess); err != nil {
		t.Fatalf("CreateSession() error = %v", err)
	}

	steps := []struct {
		event SessionEventType
		want  SessionStatus
	}{
		{EvtSessionCreated, StatusPending},
		{EvtSessionStarting, StatusStarting},
		{EvtSessionCompleted, StatusCompleted},
	}

	for _, step := range steps {
		if err := store.ApplyEvent(ctx, &SessionEvent{SessionID: sess.ID, Event: step.event}); err != nil {
			t.Fatalf("ApplyEvent(%v) error = %v", step.event, err)
		}
		got, err := store.GetSession(ctx, sess.ID)
		if err != nil {
			t.Fatalf("GetSession() error = %v", err)
		}
		if got.Status != step.want {
			t.Errorf("after %v status = %v, want %v", step.event, got.Status, step.want)
		}
	}

	events, err := store.ListEvents(ctx, &sess.ID, nil, nil, nil, 0, 100)
	if err != nil {
		t.Fatalf("ListEvents() error = %v", err)
	}
	if len(events) != len(steps) {
		t.Errorf("event count = %d, want %d", len(events), len(steps))
	}
	for i := 1; i < len(events); i++ {
		if events[i].Timestamp.Before(events[i-1].Timestamp) {
			t.Error("events not in ascending timestamp order")
		}
	}
}

func TestStore_ApplyEvent_BrowserStartedDetails(t *testing.T) {
	db := setupTestDB(t)
	store := NewStore(db)
	ctx := context.Background()

	sess := validSession()
	if err := store.CreateSession(ctx, sess); err != nil {
		t.Fatalf("CreateSession() error = %v", err)
	}

	data := datatypes.JSON(`{"container_id":"abc123","ws_endpoint":"ws://10.0.0.5:49212","live_url":"http://10.0.0.5:49212"}`)
	err := store.ApplyEvent(ctx, &SessionEvent{
		SessionID: sess.ID,
		Event:     EvtBrowserStarted,
		Data:      data,
	})
	if err != nil {
		t.Fatalf("ApplyEvent() error = %v", err)
	}

	got, err := store.GetSession(ctx, sess.ID)
	if err != nil {
		t.Fatalf("GetSession() error = %v", err)
	}
	if got.Status != StatusRunning {
		t.Errorf("status = %v, want %v", got.Status, StatusRunning)
	}
	if got.ContainerID == nil || *got.ContainerID != "abc123" {
		t.Errorf("container_id = %v, want abc123", got.ContainerID)
	}
	if got.WSEndpoint == nil || *got.WSEndpoint != "ws://10.0.0.5:49212" {
		t.Errorf("ws_endpoint = %v", got.WSEndpoint)
	}
	if got.LiveURL == nil || *got.LiveURL != "http://10.0.0.5:49212" {
		t.Errorf("live_url = %v", got.LiveURL)
	}
}

func TestStore_ApplyEvent_Monotonic(t *testing.T) {
	db := setupTestDB(t)
	store := NewStore(db)
	ctx := context.Background()

	sess := validSession()
	if err := store.CreateSession(ctx, sess); err != nil {
		t.Fatalf("CreateSession() error = %v", err)
	}

	if err := store.ApplyEvent(ctx, &SessionEvent{SessionID: sess.ID, Event: EvtSessionCompleted}); err != nil {
		t.Fatalf("ApplyEvent() error = %v", err)
	}

	// a late starting event must not move the session backwards
	if err := store.ApplyEvent(ctx, &SessionEvent{SessionID: sess.ID, Event: EvtSessionStarting}); err != nil {
		t.Fatalf("ApplyEvent() error = %v", err)
	}

	got, err := store.GetSession(ctx, sess.ID)
	if err != nil {
		t.Fatalf("GetSession() error = %v", err)
	}
	if got.Status != StatusCompleted {
		t.Errorf("status = %v, want %v (no rank decrease)", got.Status, StatusCompleted)
	}

	// the late event is still recorded
	events, err := store.ListEvents(ctx, &sess.ID, nil, nil, nil, 0, 100)
	if err != nil {
		t.Fatalf("ListEvents() error = %v", err)
	}
	if len(events) != 2 {
		t.Errorf("event count = %d, want 2", len(events))
	}
}

func TestStore_ApplyEvent_ReleasesWorkerSlot(t *testing.T) {
	db := setupTestDB(t)
	store := NewStore(db)
	ctx := context.Background()

	workerID := seedWorkerRow(t, db, 2)

	sess := validSession()
	sess.Status = StatusRunning
	sess.WorkerID = &workerID
	if err := store.CreateSession(ctx, sess); err != nil {
		t.Fatalf("CreateSession() error = %v", err)
	}

	if err := store.ApplyEvent(ctx, &SessionEvent{SessionID: sess.ID, Event: EvtSessionCompleted}); err != nil {
		t.Fatalf("ApplyEvent() error = %v", err)
	}
	if load := workerLoad(t, db, workerID); load != 1 {
		t.Errorf("worker load = %d, want 1", load)
	}

	// a second terminal event must not decrement again
	if err := store.ApplyEvent(ctx, &SessionEvent{SessionID: sess.ID, Event: EvtSessionTerminated}); err != nil {
		t.Fatalf("ApplyEvent() error = %v", err)
	}
	if load := workerLoad(t, db, workerID); load != 1 {
		t.Errorf("worker load after repeat terminal = %d, want 1", load)
	}
}

func TestStore_ReleaseWorkerSlotClampsAtZero(t *testing.T) {
	db := setupTestDB(t)
	store := NewStore(db)
	ctx := context.Background()

	workerID := seedWorkerRow(t, db, 0)

	sess := validSession()
	sess.Status = StatusRunning
	sess.WorkerID = &workerID
	if err := store.CreateSession(ctx, sess); err != nil {
		t.Fatalf("CreateSession() error = %v", err)
	}

	if err := store.ApplyEvent(ctx, &SessionEvent{SessionID: sess.ID, Event: EvtSessionCrashed}); err != nil {
		t.Fatalf("ApplyEvent() error = %v", err)
	}
	if load := workerLoad(t, db, workerID); load != 0 {
		t.Errorf("worker load = %d, want 0 (clamped)", load)
	}
}

func TestStore_ApplyStatus(t *testing.T) {
	db := setupTestDB(t)
	store := NewStore(db)
	ctx := context.Background()

	sess := validSession()
	if err := store.CreateSession(ctx, sess); err != nil {
		t.Fatalf("CreateSession() error = %v", err)
	}

	// FAILED has no event mapping; it is set directly
	got, err := store.ApplyStatus(ctx, sess.ID, StatusFailed, nil)
	if err != nil {
		t.Fatalf("ApplyStatus() error = %v", err)
	}
	if got.Status != StatusFailed {
		t.Errorf("status = %v, want %v", got.Status, StatusFailed)
	}

	// backwards set is a no-op
	got, err = store.ApplyStatus(ctx, sess.ID, StatusRunning, nil)
	if err != nil {
		t.Fatalf("ApplyStatus() error = %v", err)
	}
	if got.Status != StatusFailed {
		t.Errorf("status = %v, want %v", got.Status, StatusFailed)
	}
}

func TestStore_ApplyStatus_DetailsWhitelist(t *testing.T) {
	db := setupTestDB(t)
	store := NewStore(db)
	ctx := context.Background()

	sess := validSession()
	if err := store.CreateSession(ctx, sess); err != nil {
		t.Fatalf("CreateSession() error = %v", err)
	}

	got, err := store.ApplyStatus(ctx, sess.ID, StatusRunning, map[string]interface{}{
		"container_id": "c1",
		"ws_endpoint":  "ws://host:1234",
		"live_url":     "http://host:1234",
		"status":       "completed", // must be ignored
	})
	if err != nil {
		t.Fatalf("ApplyStatus() error = %v", err)
	}
	if got.Status != StatusRunning {
		t.Errorf("status = %v, want %v", got.Status, StatusRunning)
	}
	if got.ContainerID == nil || *got.ContainerID != "c1" {
		t.Errorf("container_id = %v, want c1", got.ContainerID)
	}
}

func TestStore_DeleteSession(t *testing.T) {
	db := setupTestDB(t)
	store := NewStore(db)
	ctx := context.Background()

	t.Run("active session terminated first", func(t *testing.T) {
		workerID := seedWorkerRow(t, db, 1)
		sess := validSession()
		sess.Status = StatusRunning
		sess.WorkerID = &workerID
		if err := store.CreateSession(ctx, sess); err != nil {
			t.Fatalf("CreateSession() error = %v", err)
		}

		if err := store.DeleteSession(ctx, sess.ID, false); err != nil {
			t.Fatalf("DeleteSession() error = %v", err)
		}

		if _, err := store.GetSession(ctx, sess.ID); err != gorm.ErrRecordNotFound {
			t.Errorf("expected session gone, got err = %v", err)
		}
		if load := workerLoad(t, db, workerID); load != 0 {
			t.Errorf("worker load = %d, want 0 (slot released on delete)", load)
		}
	})

	t.Run("force skips termination", func(t *testing.T) {
		workerID := seedWorkerRow(t, db, 1)
		sess := validSession()
		sess.Status = StatusRunning
		sess.WorkerID = &workerID
		if err := store.CreateSession(ctx, sess); err != nil {
			t.Fatalf("CreateSession() error = %v", err)
		}

		if err := store.DeleteSession(ctx, sess.ID, true); err != nil {
			t.Fatalf("DeleteSession() error = %v", err)
		}
		if load := workerLoad(t, db, workerID); load != 1 {
			t.Errorf("worker load = %d, want 1 (force skips release)", load)
		}
	})
}

func TestStore_RefreshSession(t *testing.T) {
	db := setupTestDB(t)
	store := NewStore(db)
	ctx := context.Background()

	sess := validSession()
	sess.ResourceLimits = &ResourceLimits{TimeoutMinutes: intPtr(10)}
	if err := store.CreateSession(ctx, sess); err != nil {
		t.Fatalf("CreateSession() error = %v", err)
	}

	before := *sess.ExpiresAt
	time.Sleep(50 * time.Millisecond)

	got, err := store.RefreshSession(ctx, sess.ID)
	if err != nil {
		t.Fatalf("RefreshSession() error = %v", err)
	}
	if got.ExpiresAt == nil || !got.ExpiresAt.After(before) {
		t.Errorf("expires_at = %v, want after %v", got.ExpiresAt, before)
	}

	if _, err := store.ApplyStatus(ctx, sess.ID, StatusCompleted, nil); err != nil {
		t.Fatalf("ApplyStatus() error = %v", err)
	}
	if _, err := store.RefreshSession(ctx, sess.ID); err == nil {
		t.Error("expected refresh of terminal session to fail")
	}
}

func TestStore_ExpireOverdueSessions(t *testing.T) {
	db := setupTestDB(t)
	store := NewStore(db)
	ctx := context.Background()

	past := time.Now().Add(-time.Hour)
	future := time.Now().Add(time.Hour)

	overdue := validSession()
	overdue.Status = StatusRunning
	overdue.ExpiresAt = &past
	if err := store.CreateSession(ctx, overdue); err != nil {
		t.Fatalf("CreateSession() error = %v", err)
	}

	fresh := validSession()
	fresh.ExpiresAt = &future
	if err := store.CreateSession(ctx, fresh); err != nil {
		t.Fatalf("CreateSession() error = %v", err)
	}

	alreadyDone := validSession()
	alreadyDone.Status = StatusCompleted
	alreadyDone.ExpiresAt = &past
	if err := store.CreateSession(ctx, alreadyDone); err != nil {
		t.Fatalf("CreateSession() error = %v", err)
	}

	n, err := store.ExpireOverdueSessions(ctx, time.Now())
	if err != nil {
		t.Fatalf("ExpireOverdueSessions() error = %v", err)
	}
	if n != 1 {
		t.Errorf("expired = %d, want 1", n)
	}

	got, _ := store.GetSession(ctx, overdue.ID)
	if got.Status != StatusTimedOut {
		t.Errorf("overdue status = %v, want %v", got.Status, StatusTimedOut)
	}
	got, _ = store.GetSession(ctx, fresh.ID)
	if got.Status != StatusPending {
		t.Errorf("fresh status = %v, want %v", got.Status, StatusPending)
	}
	got, _ = store.GetSession(ctx, alreadyDone.ID)
	if got.Status != StatusCompleted {
		t.Errorf("terminal status = %v, want %v (untouched)", got.Status, StatusCompleted)
	}
}

func TestStore_GetSessionWithRelations(t *testing.T) {
	db := setupTestDB(t)
	store := NewStore(db)
	ctx := context.Background()

	sess := validSession()
	if err := store.CreateSession(ctx, sess); err != nil {
		t.Fatalf("CreateSession() error = %v", err)
	}
	if err := store.ApplyEvent(ctx, &SessionEvent{SessionID: sess.ID, Event: EvtSessionCreated}); err != nil {
		t.Fatalf("ApplyEvent() error = %v", err)
	}
	cpu := 12.5
	if err := store.CreateMetrics(ctx, &SessionMetrics{SessionID: sess.ID, CPUPercent: &cpu}); err != nil {
		t.Fatalf("CreateMetrics() error = %v", err)
	}

	got, err := store.GetSessionWithRelations(ctx, sess.ID, true, true)
	if err != nil {
		t.Fatalf("GetSessionWithRelations() error = %v", err)
	}
	if len(got.Events) != 1 {
		t.Errorf("events = %d, want 1", len(got.Events))
	}
	if len(got.Metrics) != 1 {
		t.Errorf("metrics = %d, want 1", len(got.Metrics))
	}

	bare, err := store.GetSessionWithRelations(ctx, sess.ID, false, false)
	if err != nil {
		t.Fatalf("GetSessionWithRelations() error = %v", err)
	}
	if len(bare.Events) != 0 || len(bare.Metrics) != 0 {
		t.Error("expected no relations without include flags")
	}
}
