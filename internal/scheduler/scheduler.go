package scheduler

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sort"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/autocrawlerHQ/browserfleet/internal/provider"
	"github.com/autocrawlerHQ/browserfleet/internal/sessions"
	"github.com/autocrawlerHQ/browserfleet/internal/workpool"
)

var (
	ErrNotPending    = errors.New("session is not pending")
	ErrPoolNotActive = errors.New("requested pool is not active")
	ErrNoPoolFits    = errors.New("no active pool fits the session")
)

// WorkPoolManager binds pending sessions to work pools. It never binds a
// worker; workers pull their own sessions through the claim endpoint.
type WorkPoolManager struct {
	db        *gorm.DB
	sessions  *sessions.Store
	pools     *workpool.Store
	providers *provider.Factory
}

func New(db *gorm.DB, providers *provider.Factory) *WorkPoolManager {
	if providers == nil {
		providers = provider.DefaultFactory
	}
	return &WorkPoolManager{
		db:        db,
		sessions:  sessions.NewStore(db),
		pools:     workpool.NewStore(db),
		providers: providers,
	}
}

// Place implements sessions.Placer: it picks the requested pool when given
// (and active), otherwise the best-fit active pool by score, then fills the
// session's unset fields from the pool defaults.
func (m *WorkPoolManager) Place(ctx context.Context, sessionID uuid.UUID, requestedPool *uuid.UUID) error {
	sess, err := m.sessions.GetSession(ctx, sessionID)
	if err != nil {
		return err
	}
	if sess.Status != sessions.StatusPending {
		return ErrNotPending
	}

	var pool *workpool.WorkPool
	if requestedPool != nil {
		pool, err = m.pools.GetWorkPool(ctx, *requestedPool)
		if err != nil {
			return err
		}
		if !pool.IsActive() {
			return ErrPoolNotActive
		}
	} else {
		pool, err = m.selectBestPool(ctx, sess)
		if err != nil {
			return err
		}
	}

	workpool.MergeDefaults(sess, pool)

	updates := map[string]interface{}{
		"work_pool_id":     pool.ID,
		"version":          sess.Version,
		"headless":         sess.Headless,
		"operating_system": sess.OperatingSystem,
		"screen":           sess.Screen,
		"environment":      sess.Environment,
	}
	if sess.Proxy != nil {
		updates["proxy"] = sess.Proxy
	}
	if sess.ResourceLimits != nil {
		updates["resource_limits"] = sess.ResourceLimits
	}
	// a timeout inherited from the pool still needs expires_at for the
	// expiry sweep; creation only derives it from explicit limits
	if sess.ExpiresAt == nil && sess.ResourceLimits != nil && sess.ResourceLimits.TimeoutMinutes != nil {
		updates["expires_at"] = time.Now().Add(time.Duration(*sess.ResourceLimits.TimeoutMinutes) * time.Minute)
	}

	err = m.db.WithContext(ctx).Model(&sessions.Session{}).
		Where("id = ?", sess.ID).
		Updates(updates).Error
	if err != nil {
		return err
	}

	log.Printf("[SCHEDULER] Placed session %s on pool %s", sess.ID, pool.Name)
	return nil
}

// poolScore weights free worker slots against queued work so sessions
// spread toward idle pools.
func poolScore(capacity *workpool.PoolCapacity) int {
	return 10*capacity.AvailableSlots - capacity.NonTerminalSessions
}

func (m *WorkPoolManager) selectBestPool(ctx context.Context, sess *sessions.Session) (*workpool.WorkPool, error) {
	active := workpool.PoolActive
	pools, err := m.pools.ListWorkPools(ctx, &active, nil, 0, 1000)
	if err != nil {
		return nil, err
	}

	type candidate struct {
		pool  workpool.WorkPool
		score int
	}
	var candidates []candidate

	for _, pool := range pools {
		if !pool.Compatible(sess) {
			continue
		}
		capacity, err := m.pools.GetPoolCapacity(ctx, pool.ID)
		if err != nil {
			return nil, err
		}
		if capacity.AvailableSlots == 0 {
			continue
		}
		candidates = append(candidates, candidate{pool: pool, score: poolScore(capacity)})
	}

	if len(candidates) == 0 {
		return nil, ErrNoPoolFits
	}

	sort.Slice(candidates, func(i, j int) bool {
		if candidates[i].score != candidates[j].score {
			return candidates[i].score > candidates[j].score
		}
		return candidates[i].pool.ID.String() < candidates[j].pool.ID.String()
	})

	best := candidates[0].pool
	return &best, nil
}

// RetryPendingPlacements re-runs placement for pending sessions that have
// no pool yet. Called by the reconciler.
func (m *WorkPoolManager) RetryPendingPlacements(ctx context.Context) (int, error) {
	var unbound []sessions.Session
	err := m.db.WithContext(ctx).
		Where("status = ? AND work_pool_id IS NULL", sessions.StatusPending).
		Order("created_at ASC").
		Limit(100).
		Find(&unbound).Error
	if err != nil {
		return 0, err
	}

	placed := 0
	for _, sess := range unbound {
		if err := m.Place(ctx, sess.ID, nil); err != nil {
			if errors.Is(err, ErrNoPoolFits) || errors.Is(err, ErrNotPending) {
				continue
			}
			return placed, err
		}
		placed++
	}
	return placed, nil
}

// ProvisionDirect launches the session's container from the central
// service instead of a worker. Development path only; failure semantics
// match worker-side provisioning.
func (m *WorkPoolManager) ProvisionDirect(ctx context.Context, sessionID uuid.UUID) error {
	sess, err := m.sessions.GetSession(ctx, sessionID)
	if err != nil {
		return err
	}
	if sess.WorkPoolID == nil {
		return fmt.Errorf("session %s has no pool binding", sessionID)
	}

	pool, err := m.pools.GetWorkPool(ctx, *sess.WorkPoolID)
	if err != nil {
		return err
	}

	prov, ok := m.providers.Get(pool.ProviderType)
	if !ok {
		return fmt.Errorf("no provider registered for %s", pool.ProviderType)
	}

	if _, err := m.sessions.ApplyStatus(ctx, sess.ID, sessions.StatusStarting, nil); err != nil {
		return err
	}

	result, err := prov.LaunchContainer(ctx, sess)
	if err != nil {
		if _, ferr := m.sessions.ApplyStatus(ctx, sess.ID, sessions.StatusFailed, nil); ferr != nil {
			log.Printf("[SCHEDULER] Failed to mark session %s failed: %v", sess.ID, ferr)
		}
		return fmt.Errorf("launch container: %w", err)
	}

	_, err = m.sessions.ApplyStatus(ctx, sess.ID, sessions.StatusRunning, map[string]interface{}{
		"container_id": result.ContainerID,
		"ws_endpoint":  result.WSEndpoint,
		"live_url":     result.LiveURL,
	})
	return err
}
