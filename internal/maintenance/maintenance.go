package maintenance

import (
	"context"
	"encoding/json"
	"log"
	"time"

	"github.com/hibiken/asynq"
	"gorm.io/gorm"

	"github.com/autocrawlerHQ/browserfleet/internal/sessions"
	"github.com/autocrawlerHQ/browserfleet/internal/tasks"
	"github.com/autocrawlerHQ/browserfleet/internal/workpool"
)

// Service runs the Redis-backed maintenance queue: terminal-session
// cleanup and opt-in pool scale-up.
type Service struct {
	db       *gorm.DB
	server   *asynq.Server
	client   *asynq.Client
	mux      *asynq.ServeMux
	redisOpt asynq.RedisClientOpt
}

func New(db *gorm.DB, redisOpt asynq.RedisClientOpt) *Service {
	srv := asynq.NewServer(
		redisOpt,
		asynq.Config{
			Concurrency: 5,
			Queues: map[string]int{
				"maintenance": 10,
				"low":         1,
			},
		},
	)

	client := asynq.NewClient(redisOpt)
	mux := asynq.NewServeMux()

	s := &Service{
		db:       db,
		server:   srv,
		client:   client,
		mux:      mux,
		redisOpt: redisOpt,
	}

	mux.HandleFunc(tasks.TypePoolScale, s.handlePoolScale)
	mux.HandleFunc(tasks.TypeCleanupExpired, s.handleCleanupExpired)

	return s
}

func (s *Service) Start() error {
	log.Println("[MAINTENANCE] Starting maintenance service...")
	return s.server.Run(s.mux)
}

func (s *Service) Stop() {
	log.Println("[MAINTENANCE] Stopping maintenance service...")
	s.server.Shutdown()
	s.client.Close()
}

// handlePoolScale creates pending sessions for a pool that opted into
// auto-scaling, capped by the pool's free worker slots.
func (s *Service) handlePoolScale(ctx context.Context, t *asynq.Task) error {
	var payload tasks.PoolScalePayload
	if err := payload.Unmarshal(t.Payload()); err != nil {
		return err
	}

	poolStore := workpool.NewStore(s.db)
	pool, err := poolStore.GetWorkPool(ctx, payload.WorkPoolID)
	if err != nil {
		return err
	}

	if !pool.IsActive() || !AutoScaleEnabled(pool) {
		return nil
	}

	capacity, err := poolStore.GetPoolCapacity(ctx, pool.ID)
	if err != nil {
		return err
	}

	desired := payload.DesiredSessions
	if desired > capacity.AvailableSlots {
		desired = capacity.AvailableSlots
	}

	sessStore := sessions.NewStore(s.db)
	created := 0
	for i := 0; i < desired; i++ {
		sess := sessionFromPoolDefaults(pool)
		if err := sessStore.CreateSession(ctx, sess); err != nil {
			log.Printf("[MAINTENANCE] Failed to create scale-up session: %v", err)
			continue
		}
		created++
	}

	if created > 0 {
		log.Printf("[MAINTENANCE] Pool scale: created %d/%d sessions for pool %s",
			created, desired, pool.Name)
	}
	return nil
}

// handleCleanupExpired deletes terminal sessions past the retention window
// along with orphaned events and metrics.
func (s *Service) handleCleanupExpired(ctx context.Context, t *asynq.Task) error {
	var payload tasks.CleanupExpiredPayload
	if err := payload.Unmarshal(t.Payload()); err != nil {
		return err
	}

	log.Printf("[MAINTENANCE] Cleaning up terminal sessions older than %d hours", payload.MaxAge)

	cutoff := time.Now().Add(-time.Duration(payload.MaxAge) * time.Hour)

	terminal := []sessions.SessionStatus{
		sessions.StatusCompleted,
		sessions.StatusFailed,
		sessions.StatusExpired,
		sessions.StatusCrashed,
		sessions.StatusTimedOut,
		sessions.StatusTerminated,
	}

	result := s.db.WithContext(ctx).
		Where("status IN ? AND updated_at < ?", terminal, cutoff).
		Delete(&sessions.Session{})
	if result.Error != nil {
		return result.Error
	}

	if result.RowsAffected > 0 {
		log.Printf("[MAINTENANCE] Cleaned up %d terminal sessions", result.RowsAffected)
	}

	s.db.Exec(`DELETE FROM session_events WHERE session_id NOT IN (SELECT id FROM sessions)`)
	s.db.Exec(`DELETE FROM session_metrics WHERE session_id NOT IN (SELECT id FROM sessions)`)

	return nil
}

// AutoScaleEnabled reports whether the pool opted into scale-up via its
// provider config.
func AutoScaleEnabled(pool *workpool.WorkPool) bool {
	if len(pool.ProviderConfig) == 0 {
		return false
	}
	var cfg map[string]interface{}
	if err := json.Unmarshal(pool.ProviderConfig, &cfg); err != nil {
		return false
	}
	enabled, _ := cfg["auto_scale"].(bool)
	return enabled
}

func sessionFromPoolDefaults(pool *workpool.WorkPool) *sessions.Session {
	sess := &sessions.Session{
		Browser:         sessions.BrowserChrome,
		Version:         sessions.VerLatest,
		Headless:        true,
		OperatingSystem: sessions.OSLinux,
		Screen: sessions.ScreenConfig{
			Width:  1920,
			Height: 1080,
			DPI:    96,
			Scale:  1.0,
		},
		Environment: []byte("{}"),
		Status:      sessions.StatusPending,
		WorkPoolID:  &pool.ID,
	}
	if pool.DefaultBrowser != nil {
		sess.Browser = *pool.DefaultBrowser
	}
	workpool.MergeDefaults(sess, pool)
	return sess
}
