package sessions

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

type Store struct{ db *gorm.DB }

func NewStore(db *gorm.DB) *Store { return &Store{db: db} }

// GetDB returns the underlying database connection for advanced operations
func (s *Store) GetDB() *gorm.DB {
	return s.db
}

func (s *Store) CreateSession(ctx context.Context, sess *Session) error {
	if sess.ID == uuid.Nil {
		sess.ID = uuid.New()
	}
	if sess.Status == "" {
		sess.Status = StatusPending
	}
	if err := sess.Validate(); err != nil {
		return err
	}
	if sess.ExpiresAt == nil && sess.ResourceLimits != nil && sess.ResourceLimits.TimeoutMinutes != nil {
		exp := time.Now().Add(time.Duration(*sess.ResourceLimits.TimeoutMinutes) * time.Minute)
		sess.ExpiresAt = &exp
	}
	return s.db.WithContext(ctx).Create(sess).Error
}

func (s *Store) GetSession(ctx context.Context, id uuid.UUID) (*Session, error) {
	var sess Session
	err := s.db.WithContext(ctx).First(&sess, "id = ?", id).Error
	if err != nil {
		return nil, err
	}
	return &sess, nil
}

// GetSessionWithRelations loads a session plus optionally its events and
// metrics in ascending timestamp order.
func (s *Store) GetSessionWithRelations(ctx context.Context, id uuid.UUID, includeEvents, includeMetrics bool) (*SessionWithRelations, error) {
	sess, err := s.GetSession(ctx, id)
	if err != nil {
		return nil, err
	}

	out := &SessionWithRelations{Session: *sess}

	if includeEvents {
		err = s.db.WithContext(ctx).
			Where("session_id = ?", id).
			Order("timestamp ASC, id ASC").
			Find(&out.Events).Error
		if err != nil {
			return nil, err
		}
	}
	if includeMetrics {
		err = s.db.WithContext(ctx).
			Where("session_id = ?", id).
			Order("timestamp ASC").
			Find(&out.Metrics).Error
		if err != nil {
			return nil, err
		}
	}

	return out, nil
}

// SessionFilter narrows ListSessions.
type SessionFilter struct {
	Status     *SessionStatus
	WorkPoolID *uuid.UUID
	WorkerID   *uuid.UUID
	Start      *time.Time
	End        *time.Time
}

func (s *Store) ListSessions(ctx context.Context, filter SessionFilter, offset, limit int) ([]Session, error) {
	query := s.db.WithContext(ctx).Model(&Session{})

	if filter.Status != nil {
		query = query.Where("status = ?", *filter.Status)
	}
	if filter.WorkPoolID != nil {
		query = query.Where("work_pool_id = ?", *filter.WorkPoolID)
	}
	if filter.WorkerID != nil {
		query = query.Where("worker_id = ?", *filter.WorkerID)
	}
	if filter.Start != nil {
		query = query.Where("created_at >= ?", *filter.Start)
	}
	if filter.End != nil {
		query = query.Where("created_at <= ?", *filter.End)
	}

	var sessions []Session
	err := query.Order("created_at DESC").
		Offset(offset).
		Limit(limit).
		Find(&sessions).Error

	return sessions, err
}

// ApplyEvent appends the event, advances session status when the event
// implies a forward transition, and on entering a terminal status releases
// the bound worker's slot. All in one transaction; the session row is
// locked before the worker row is touched.
func (s *Store) ApplyEvent(ctx context.Context, ev *SessionEvent) error {
	if !ev.Event.Valid() {
		return fmt.Errorf("unknown event type %q", ev.Event)
	}
	if ev.Timestamp.IsZero() {
		ev.Timestamp = time.Now()
	}

	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var sess Session
		if err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).
			First(&sess, "id = ?", ev.SessionID).Error; err != nil {
			return err
		}

		if err := tx.Create(ev).Error; err != nil {
			return err
		}

		next, ok := StatusFromEvent(ev.Event)
		if !ok || !ShouldTransition(sess.Status, next) {
			return nil
		}

		updates := map[string]interface{}{
			"status":     next,
			"updated_at": time.Now(),
		}
		if ev.Event == EvtBrowserStarted && len(ev.Data) > 0 {
			applyConnectionDetails(updates, ev.Data)
		}
		if err := tx.Model(&Session{}).Where("id = ?", sess.ID).Updates(updates).Error; err != nil {
			return err
		}

		if IsTerminalStatus(next) && sess.WorkerID != nil {
			return releaseWorkerSlot(tx, *sess.WorkerID)
		}
		return nil
	})
}

// ApplyStatus sets a session status directly, bypassing the event map but
// honoring the same monotonicity and terminal-release rules. Used for
// FAILED, which has no event mapping, and for worker-side status reports
// carrying connection details.
func (s *Store) ApplyStatus(ctx context.Context, id uuid.UUID, next SessionStatus, details map[string]interface{}) (*Session, error) {
	if !next.Valid() {
		return nil, fmt.Errorf("unknown session status %q", next)
	}

	var out Session
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var sess Session
		if err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).
			First(&sess, "id = ?", id).Error; err != nil {
			return err
		}

		updates := map[string]interface{}{"updated_at": time.Now()}
		for k, v := range details {
			switch k {
			case "container_id", "ws_endpoint", "live_url":
				updates[k] = v
			}
		}

		if ShouldTransition(sess.Status, next) {
			updates["status"] = next
			if err := tx.Model(&Session{}).Where("id = ?", sess.ID).Updates(updates).Error; err != nil {
				return err
			}
			if IsTerminalStatus(next) && sess.WorkerID != nil {
				if err := releaseWorkerSlot(tx, *sess.WorkerID); err != nil {
					return err
				}
			}
		} else if len(updates) > 1 {
			if err := tx.Model(&Session{}).Where("id = ?", sess.ID).Updates(updates).Error; err != nil {
				return err
			}
		}

		return tx.First(&out, "id = ?", id).Error
	})
	if err != nil {
		return nil, err
	}
	return &out, nil
}

// applyConnectionDetails lifts provider connection fields from event data
// onto the session row.
func applyConnectionDetails(updates map[string]interface{}, data []byte) {
	var payload struct {
		ContainerID *string `json:"container_id"`
		WSEndpoint  *string `json:"ws_endpoint"`
		LiveURL     *string `json:"live_url"`
	}
	if err := json.Unmarshal(data, &payload); err != nil {
		return
	}
	if payload.ContainerID != nil {
		updates["container_id"] = *payload.ContainerID
	}
	if payload.WSEndpoint != nil {
		updates["ws_endpoint"] = *payload.WSEndpoint
	}
	if payload.LiveURL != nil {
		updates["live_url"] = *payload.LiveURL
	}
}

// releaseWorkerSlot gives back one capacity slot, clamped at zero. Raw SQL
// keeps the sessions package free of a workpool import.
func releaseWorkerSlot(tx *gorm.DB, workerID uuid.UUID) error {
	return tx.Exec(
		"UPDATE workers SET current_load = GREATEST(current_load - 1, 0), updated_at = ? WHERE id = ?",
		time.Now(), workerID,
	).Error
}

// DeleteSession removes a session. A non-terminal session first receives a
// session_terminated event so the bound worker's slot is released; force
// skips the event and deletes outright.
func (s *Store) DeleteSession(ctx context.Context, id uuid.UUID, force bool) error {
	sess, err := s.GetSession(ctx, id)
	if err != nil {
		return err
	}

	if !force && !sess.IsTerminal() {
		ev := &SessionEvent{
			SessionID: id,
			Event:     EvtSessionTerminated,
			Timestamp: time.Now(),
		}
		if err := s.ApplyEvent(ctx, ev); err != nil {
			return err
		}
	}

	return s.db.WithContext(ctx).Delete(&Session{}, "id = ?", id).Error
}

// RefreshSession extends expires_at by the session's timeout from now.
// Terminal sessions cannot be refreshed.
func (s *Store) RefreshSession(ctx context.Context, id uuid.UUID) (*Session, error) {
	var out Session
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var sess Session
		if err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).
			First(&sess, "id = ?", id).Error; err != nil {
			return err
		}
		if sess.IsTerminal() {
			return fmt.Errorf("cannot refresh session in terminal status %s", sess.Status)
		}

		exp := time.Now().Add(time.Duration(sess.TimeoutMinutes()) * time.Minute)
		if err := tx.Model(&Session{}).Where("id = ?", id).Updates(map[string]interface{}{
			"expires_at": exp,
			"updated_at": time.Now(),
		}).Error; err != nil {
			return err
		}
		return tx.First(&out, "id = ?", id).Error
	})
	if err != nil {
		return nil, err
	}
	return &out, nil
}

// ExpireOverdueSessions applies session_timed_out to every non-terminal
// session whose expires_at has passed, releasing worker slots through the
// usual terminal path. Returns the number of sessions expired.
func (s *Store) ExpireOverdueSessions(ctx context.Context, now time.Time) (int, error) {
	var overdue []Session
	err := s.db.WithContext(ctx).
		Where("expires_at IS NOT NULL AND expires_at < ? AND status NOT IN (?)", now, terminalStatuses()).
		Find(&overdue).Error
	if err != nil {
		return 0, err
	}

	expired := 0
	for _, sess := range overdue {
		ev := &SessionEvent{
			SessionID: sess.ID,
			Event:     EvtSessionTimedOut,
			Timestamp: now,
		}
		if err := s.ApplyEvent(ctx, ev); err != nil {
			return expired, err
		}
		expired++
	}
	return expired, nil
}

func terminalStatuses() []SessionStatus {
	return []SessionStatus{
		StatusCompleted, StatusFailed, StatusExpired,
		StatusCrashed, StatusTimedOut, StatusTerminated,
	}
}

func (s *Store) ListEvents(ctx context.Context,
	sessionID *uuid.UUID, eventType *SessionEventType,
	start, end *time.Time, offset, limit int) ([]SessionEvent, error) {

	query := s.db.WithContext(ctx).Model(&SessionEvent{})

	if sessionID != nil {
		query = query.Where("session_id = ?", *sessionID)
	}
	if eventType != nil {
		query = query.Where("event = ?", *eventType)
	}
	if start != nil {
		query = query.Where("timestamp >= ?", *start)
	}
	if end != nil {
		query = query.Where("timestamp <= ?", *end)
	}

	var events []SessionEvent
	err := query.Order("timestamp ASC, id ASC").
		Offset(offset).
		Limit(limit).
		Find(&events).Error

	return events, err
}

func (s *Store) CreateMetrics(ctx context.Context, metrics *SessionMetrics) error {
	if metrics.ID == uuid.Nil {
		metrics.ID = uuid.New()
	}
	if metrics.Timestamp.IsZero() {
		metrics.Timestamp = time.Now()
	}
	return s.db.WithContext(ctx).Create(metrics).Error
}

func (s *Store) AutoMigrate() error {
	return s.db.AutoMigrate(
		&Session{},
		&SessionEvent{},
		&SessionMetrics{},
	)
}
