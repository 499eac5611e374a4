package poolmgr

import (
	"context"
	"log"
	"time"

	"github.com/google/uuid"
	"github.com/hibiken/asynq"
	"gorm.io/gorm"

	"github.com/autocrawlerHQ/browserfleet/internal/maintenance"
	"github.com/autocrawlerHQ/browserfleet/internal/scheduler"
	"github.com/autocrawlerHQ/browserfleet/internal/sessions"
	"github.com/autocrawlerHQ/browserfleet/internal/tasks"
	"github.com/autocrawlerHQ/browserfleet/internal/workpool"
)

// Reconciler is the periodic sweeper: it marks stale workers offline,
// expires overdue sessions, retries deferred placements, and enqueues
// scale-up tasks for pools that opted in.
type Reconciler struct {
	db        *gorm.DB
	wpStore   *workpool.Store
	sessStore *sessions.Store
	manager   *scheduler.WorkPoolManager
	asynqClt  *asynq.Client

	tickInterval time.Duration
}

func NewReconciler(db *gorm.DB, manager *scheduler.WorkPoolManager, asynqClt *asynq.Client) *Reconciler {
	return &Reconciler{
		db:        db,
		wpStore:   workpool.NewStore(db),
		sessStore: sessions.NewStore(db),
		manager:   manager,
		asynqClt:  asynqClt,

		tickInterval: 60 * time.Second,
	}
}

func (r *Reconciler) Start(ctx context.Context) error {
	log.Println("[RECONCILER] Starting pool reconciler...")

	ticker := time.NewTicker(r.tickInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			log.Println("[RECONCILER] Pool reconciler stopping...")
			return ctx.Err()

		case <-ticker.C:
			if err := r.reconcile(ctx); err != nil {
				log.Printf("[RECONCILER] Reconciliation error: %v", err)
			}
		}
	}
}

func (r *Reconciler) reconcile(ctx context.Context) error {
	now := time.Now()

	stale, err := r.wpStore.MarkStaleWorkersOffline(ctx, now)
	if err != nil {
		log.Printf("[RECONCILER] Error sweeping stale workers: %v", err)
	} else if stale > 0 {
		log.Printf("[RECONCILER] Marked %d stale workers offline", stale)
	}

	expired, err := r.sessStore.ExpireOverdueSessions(ctx, now)
	if err != nil {
		log.Printf("[RECONCILER] Error expiring overdue sessions: %v", err)
	} else if expired > 0 {
		log.Printf("[RECONCILER] Timed out %d overdue sessions", expired)
	}

	if r.manager != nil {
		placed, err := r.manager.RetryPendingPlacements(ctx)
		if err != nil {
			log.Printf("[RECONCILER] Error retrying placements: %v", err)
		} else if placed > 0 {
			log.Printf("[RECONCILER] Placed %d deferred sessions", placed)
		}
	}

	return r.enqueueScaleTasks(ctx)
}

// enqueueScaleTasks fans out pool:scale tasks for active pools that
// enabled auto_scale and have free slots but no queued work.
func (r *Reconciler) enqueueScaleTasks(ctx context.Context) error {
	if r.asynqClt == nil {
		return nil
	}

	active := workpool.PoolActive
	pools, err := r.wpStore.ListWorkPools(ctx, &active, nil, 0, 1000)
	if err != nil {
		return err
	}

	for _, pool := range pools {
		if !maintenance.AutoScaleEnabled(&pool) {
			continue
		}

		capacity, err := r.wpStore.GetPoolCapacity(ctx, pool.ID)
		if err != nil {
			log.Printf("[RECONCILER] Error reading capacity for pool %s: %v", pool.Name, err)
			continue
		}
		if capacity.AvailableSlots <= 0 {
			continue
		}

		var pending int64
		err = r.db.WithContext(ctx).Model(&sessions.Session{}).
			Where("work_pool_id = ? AND status = ?", pool.ID, sessions.StatusPending).
			Count(&pending).Error
		if err != nil {
			continue
		}

		desired := capacity.AvailableSlots - int(pending)
		if desired <= 0 {
			continue
		}

		task, err := tasks.NewPoolScaleTask(tasks.PoolScalePayload{
			WorkPoolID:      pool.ID,
			DesiredSessions: desired,
		})
		if err != nil {
			continue
		}

		_, err = r.asynqClt.EnqueueContext(ctx, task,
			asynq.Queue(tasks.GetQueueForTask(tasks.TypePoolScale)))
		if err != nil {
			log.Printf("[RECONCILER] Error enqueueing scale task for pool %s: %v", pool.Name, err)
		}
	}

	return nil
}

// GetPoolStats assembles the per-pool dashboard view: session counts by
// status, worker fleet health, and utilization.
func (r *Reconciler) GetPoolStats(ctx context.Context, poolID uuid.UUID) (*PoolStats, error) {
	pool, err := r.wpStore.GetWorkPool(ctx, poolID)
	if err != nil {
		return nil, err
	}

	type statusRow struct {
		Status sessions.SessionStatus
		Count  int
	}
	var rows []statusRow
	err = r.db.WithContext(ctx).Model(&sessions.Session{}).
		Select("status, COUNT(*) AS count").
		Where("work_pool_id = ?", poolID).
		Group("status").
		Scan(&rows).Error
	if err != nil {
		return nil, err
	}

	statusCounts := make(map[sessions.SessionStatus]int, len(rows))
	for _, row := range rows {
		statusCounts[row.Status] = row.Count
	}

	workers, err := r.wpStore.ListWorkers(ctx, &poolID, nil, 0, 1000)
	if err != nil {
		return nil, err
	}

	capacity, err := r.wpStore.GetPoolCapacity(ctx, poolID)
	if err != nil {
		return nil, err
	}

	utilizationPercent := 0.0
	if capacity.TotalCapacity > 0 {
		utilizationPercent = float64(capacity.TotalLoad) / float64(capacity.TotalCapacity) * 100
	}

	return &PoolStats{
		Pool:               *pool,
		SessionsByStatus:   statusCounts,
		TotalWorkers:       len(workers),
		OnlineWorkers:      capacity.OnlineWorkers,
		TotalCapacity:      capacity.TotalCapacity,
		CurrentLoad:        capacity.TotalLoad,
		AvailableSlots:     capacity.AvailableSlots,
		UtilizationPercent: utilizationPercent,
	}, nil
}

type PoolStats struct {
	Pool               workpool.WorkPool              `json:"pool"`
	SessionsByStatus   map[sessions.SessionStatus]int `json:"sessions_by_status"`
	TotalWorkers       int                            `json:"total_workers"`
	OnlineWorkers      int                            `json:"online_workers"`
	TotalCapacity      int                            `json:"total_capacity"`
	CurrentLoad        int                            `json:"current_load"`
	AvailableSlots     int                            `json:"available_slots"`
	UtilizationPercent float64                        `json:"utilization_percent"`
}
