package workpool

import (
	"context"
	"crypto/rand"
	"database/sql"
	"encoding/base64"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/autocrawlerHQ/browserfleet/internal/sessions"
)

// workerTTL is the heartbeat silence after which a worker is considered dead.
const workerTTL = 5 * time.Minute

var (
	ErrPoolNameTaken   = errors.New("work pool name already taken")
	ErrWorkerNameTaken = errors.New("worker name already taken in this pool")
	ErrPoolHasSessions = errors.New("work pool has active sessions")
	ErrWorkerHasLoad   = errors.New("worker has active sessions")
)

type Store struct {
	db *gorm.DB
}

func NewStore(db *gorm.DB) *Store {
	return &Store{db: db}
}

func (s *Store) GetDB() *gorm.DB {
	return s.db
}

func (s *Store) CreateWorkPool(ctx context.Context, pool *WorkPool) error {
	if pool.ID == uuid.Nil {
		pool.ID = uuid.New()
	}
	if pool.Status == "" {
		pool.Status = PoolActive
	}
	if !pool.ProviderType.Valid() {
		return fmt.Errorf("unknown provider type %q", pool.ProviderType)
	}
	if pool.MaxSessionsPerWorker <= 0 {
		pool.MaxSessionsPerWorker = 5
	}

	var count int64
	if err := s.db.WithContext(ctx).Model(&WorkPool{}).
		Where("name = ?", pool.Name).Count(&count).Error; err != nil {
		return err
	}
	if count > 0 {
		return ErrPoolNameTaken
	}

	return s.db.WithContext(ctx).Create(pool).Error
}

func (s *Store) GetWorkPool(ctx context.Context, id uuid.UUID) (*WorkPool, error) {
	var pool WorkPool
	err := s.db.WithContext(ctx).First(&pool, "id = ?", id).Error
	if err != nil {
		return nil, err
	}
	return &pool, nil
}

func (s *Store) GetWorkPoolByName(ctx context.Context, name string) (*WorkPool, error) {
	var pool WorkPool
	err := s.db.WithContext(ctx).First(&pool, "name = ?", name).Error
	if err != nil {
		return nil, err
	}
	return &pool, nil
}

func (s *Store) ListWorkPools(ctx context.Context, status *PoolStatus, providerType *ProviderType, offset, limit int) ([]WorkPool, error) {
	query := s.db.WithContext(ctx).Model(&WorkPool{})

	if status != nil {
		query = query.Where("status = ?", *status)
	}
	if providerType != nil {
		query = query.Where("provider_type = ?", *providerType)
	}

	var pools []WorkPool
	err := query.Order("created_at DESC").Offset(offset).Limit(limit).Find(&pools).Error
	return pools, err
}

func (s *Store) UpdateWorkPool(ctx context.Context, id uuid.UUID, updates map[string]interface{}) error {
	updates["updated_at"] = time.Now()
	return s.db.WithContext(ctx).Model(&WorkPool{}).
		Where("id = ?", id).
		Updates(updates).Error
}

// DeleteWorkPool removes a pool. Without force the delete is refused while
// sessions in pending/starting/running still reference the pool. Workers
// cascade; referencing sessions keep their rows with work_pool_id nulled.
func (s *Store) DeleteWorkPool(ctx context.Context, id uuid.UUID, force bool) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if !force {
			var active int64
			err := tx.Model(&sessions.Session{}).
				Where("work_pool_id = ? AND status IN ?", id, []sessions.SessionStatus{
					sessions.StatusPending,
					sessions.StatusStarting,
					sessions.StatusRunning,
				}).
				Count(&active).Error
			if err != nil {
				return err
			}
			if active > 0 {
				return ErrPoolHasSessions
			}
		}

		if err := tx.Model(&sessions.Session{}).
			Where("work_pool_id = ?", id).
			Update("work_pool_id", nil).Error; err != nil {
			return err
		}
		if err := tx.Delete(&Worker{}, "work_pool_id = ?", id).Error; err != nil {
			return err
		}
		return tx.Delete(&WorkPool{}, "id = ?", id).Error
	})
}

// generateAPIKey returns a URL-safe random key of at least 32 bytes of
// entropy.
func generateAPIKey() (string, error) {
	buf := make([]byte, 32)
	if _, err := rand.Read(buf); err != nil {
		return "", err
	}
	return base64.RawURLEncoding.EncodeToString(buf), nil
}

// RegisterWorker creates a worker, generating an API key when absent. A
// second registration under the same (name, pool) is a conflict.
func (s *Store) RegisterWorker(ctx context.Context, w *Worker) error {
	if w.ID == uuid.Nil {
		w.ID = uuid.New()
	}
	if w.Status == "" {
		w.Status = WorkerOffline
	}
	if w.Capacity <= 0 {
		w.Capacity = 1
	}
	if w.APIKey == "" {
		key, err := generateAPIKey()
		if err != nil {
			return err
		}
		w.APIKey = key
	}

	var count int64
	if err := s.db.WithContext(ctx).Model(&Worker{}).
		Where("name = ? AND work_pool_id = ?", w.Name, w.WorkPoolID).
		Count(&count).Error; err != nil {
		return err
	}
	if count > 0 {
		return ErrWorkerNameTaken
	}

	return s.db.WithContext(ctx).Create(w).Error
}

func (s *Store) GetWorker(ctx context.Context, id uuid.UUID) (*Worker, error) {
	var worker Worker
	err := s.db.WithContext(ctx).First(&worker, "id = ?", id).Error
	if err != nil {
		return nil, err
	}
	return &worker, nil
}

func (s *Store) FindWorkerByName(ctx context.Context, poolID uuid.UUID, name string) (*Worker, error) {
	var worker Worker
	err := s.db.WithContext(ctx).
		First(&worker, "work_pool_id = ? AND name = ?", poolID, name).Error
	if err != nil {
		return nil, err
	}
	return &worker, nil
}

func (s *Store) ListWorkers(ctx context.Context, poolID *uuid.UUID, status *WorkerStatus, offset, limit int) ([]Worker, error) {
	query := s.db.WithContext(ctx).Model(&Worker{})

	if poolID != nil {
		query = query.Where("work_pool_id = ?", *poolID)
	}
	if status != nil {
		query = query.Where("status = ?", *status)
	}

	var workers []Worker
	err := query.Order("created_at DESC").Offset(offset).Limit(limit).Find(&workers).Error
	return workers, err
}

// Heartbeat updates the worker's self-reported state and telemetry. It
// never touches claim accounting beyond the agent's own load report.
func (s *Store) Heartbeat(ctx context.Context, id uuid.UUID, hb *WorkerHeartbeat) (*Worker, error) {
	if hb.Status != "" && !hb.Status.Valid() {
		return nil, fmt.Errorf("unknown worker status %q", hb.Status)
	}

	updates := map[string]interface{}{
		"last_heartbeat": time.Now(),
		"current_load":   hb.CurrentLoad,
		"updated_at":     time.Now(),
	}
	if hb.Status != "" {
		updates["status"] = hb.Status
	}
	if hb.Capacity != nil && *hb.Capacity > 0 {
		updates["capacity"] = *hb.Capacity
	}
	if hb.CPUPercent != nil {
		updates["cpu_percent"] = *hb.CPUPercent
	}
	if hb.MemoryUsageMB != nil {
		updates["memory_usage_mb"] = *hb.MemoryUsageMB
	}
	if hb.DiskUsageMB != nil {
		updates["disk_usage_mb"] = *hb.DiskUsageMB
	}
	if hb.IPAddress != nil {
		updates["ip_address"] = *hb.IPAddress
	}

	result := s.db.WithContext(ctx).Model(&Worker{}).
		Where("id = ?", id).
		Updates(updates)
	if result.Error != nil {
		return nil, result.Error
	}
	if result.RowsAffected == 0 {
		return nil, gorm.ErrRecordNotFound
	}

	return s.GetWorker(ctx, id)
}

// DeleteWorker removes a worker. Without force the delete is refused while
// the worker still carries load. Sessions bound to the worker keep their
// rows with worker_id nulled.
func (s *Store) DeleteWorker(ctx context.Context, id uuid.UUID, force bool) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var worker Worker
		if err := tx.First(&worker, "id = ?", id).Error; err != nil {
			return err
		}
		if !force && worker.CurrentLoad > 0 {
			return ErrWorkerHasLoad
		}

		if err := tx.Model(&sessions.Session{}).
			Where("worker_id = ?", id).
			Update("worker_id", nil).Error; err != nil {
			return err
		}
		return tx.Delete(&Worker{}, "id = ?", id).Error
	})
}

// ClaimSession atomically hands the oldest claimable session in the
// worker's pool to the worker. The candidate session row is locked before
// the worker row is updated; SKIP LOCKED keeps concurrent claimers from
// colliding on the same row.
func (s *Store) ClaimSession(ctx context.Context, workerID uuid.UUID) (*ClaimResult, error) {
	var result ClaimResult

	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var worker Worker
		if err := tx.First(&worker, "id = ?", workerID).Error; err != nil {
			return err
		}

		if !worker.Status.IsActive() {
			result = ClaimResult{Claimed: false, Reason: "not_active"}
			return nil
		}
		if worker.CurrentLoad >= worker.Capacity {
			result = ClaimResult{Claimed: false, Reason: "at_capacity"}
			return nil
		}

		var sess sessions.Session
		err := tx.
			Clauses(clause.Locking{Strength: "UPDATE", Options: "SKIP LOCKED"}).
			Where("work_pool_id = ? AND status = ? AND worker_id IS NULL",
				worker.WorkPoolID, sessions.StatusPending).
			Order("created_at ASC").
			First(&sess).Error
		if err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				result = ClaimResult{Claimed: false, Reason: "no_pending"}
				return nil
			}
			return err
		}

		now := time.Now()
		if err := tx.Model(&sessions.Session{}).
			Where("id = ?", sess.ID).
			Updates(map[string]interface{}{
				"worker_id":  workerID,
				"claimed_at": now,
				"updated_at": now,
			}).Error; err != nil {
			return err
		}

		if err := tx.Model(&Worker{}).
			Where("id = ?", workerID).
			UpdateColumn("current_load", gorm.Expr("current_load + 1")).Error; err != nil {
			return err
		}

		sess.WorkerID = &workerID
		sess.ClaimedAt = &now
		sess.UpdatedAt = now
		result = ClaimResult{Claimed: true, Session: &sess}
		return nil
	}, &sql.TxOptions{Isolation: sql.LevelSerializable})

	if err != nil {
		return nil, err
	}
	return &result, nil
}

// MarkStaleWorkersOffline flips workers silent past the TTL to offline.
// Returns how many were swept.
func (s *Store) MarkStaleWorkersOffline(ctx context.Context, now time.Time) (int, error) {
	cutoff := now.Add(-workerTTL)
	result := s.db.WithContext(ctx).Model(&Worker{}).
		Where("status != ? AND (last_heartbeat IS NULL OR last_heartbeat < ?)", WorkerOffline, cutoff).
		Updates(map[string]interface{}{
			"status":     WorkerOffline,
			"updated_at": now,
		})
	return int(result.RowsAffected), result.Error
}

// PoolCapacity summarizes a pool's worker slots.
type PoolCapacity struct {
	OnlineWorkers       int
	AvailableSlots      int
	TotalCapacity       int
	TotalLoad           int
	NonTerminalSessions int
}

// GetPoolCapacity computes the live worker slot picture used by placement
// scoring and pool stats.
func (s *Store) GetPoolCapacity(ctx context.Context, poolID uuid.UUID) (*PoolCapacity, error) {
	var workers []Worker
	err := s.db.WithContext(ctx).
		Where("work_pool_id = ? AND status IN ?", poolID,
			[]WorkerStatus{WorkerOnline, WorkerBusy}).
		Find(&workers).Error
	if err != nil {
		return nil, err
	}

	pc := &PoolCapacity{}
	for _, w := range workers {
		pc.OnlineWorkers++
		pc.TotalCapacity += w.Capacity
		pc.TotalLoad += w.CurrentLoad
		if w.CurrentLoad < w.Capacity {
			pc.AvailableSlots += w.Capacity - w.CurrentLoad
		}
	}

	var nonTerminal int64
	err = s.db.WithContext(ctx).Model(&sessions.Session{}).
		Where("work_pool_id = ? AND status IN ?", poolID, []sessions.SessionStatus{
			sessions.StatusPending,
			sessions.StatusStarting,
			sessions.StatusRunning,
		}).
		Count(&nonTerminal).Error
	if err != nil {
		return nil, err
	}
	pc.NonTerminalSessions = int(nonTerminal)

	return pc, nil
}

func (s *Store) AutoMigrate() error {
	return s.db.AutoMigrate(
		&WorkPool{},
		&Worker{},
	)
}
