package tasks

import (
	"encoding/json"
	"fmt"

	"github.com/google/uuid"
	"github.com/hibiken/asynq"
)

// Task type names
const (
	TypePoolScale      = "pool:scale"
	TypeCleanupExpired = "cleanup:expired"
)

// PoolScalePayload is the payload for pool scaling tasks
type PoolScalePayload struct {
	WorkPoolID      uuid.UUID `json:"work_pool_id"`
	DesiredSessions int       `json:"desired_sessions"`
}

func (p *PoolScalePayload) Marshal() ([]byte, error) {
	return json.Marshal(p)
}

func (p *PoolScalePayload) Unmarshal(data []byte) error {
	return json.Unmarshal(data, p)
}

// NewPoolScaleTask creates a new pool scale task
func NewPoolScaleTask(payload PoolScalePayload) (*asynq.Task, error) {
	data, err := payload.Marshal()
	if err != nil {
		return nil, fmt.Errorf("failed to marshal payload: %w", err)
	}
	return asynq.NewTask(TypePoolScale, data), nil
}

// CleanupExpiredPayload is the payload for terminal-session cleanup tasks
type CleanupExpiredPayload struct {
	MaxAge int `json:"max_age"` // hours
}

func (p *CleanupExpiredPayload) Marshal() ([]byte, error) {
	return json.Marshal(p)
}

func (p *CleanupExpiredPayload) Unmarshal(data []byte) error {
	return json.Unmarshal(data, p)
}

// NewCleanupExpiredTask creates a new cleanup task
func NewCleanupExpiredTask(payload CleanupExpiredPayload) (*asynq.Task, error) {
	data, err := payload.Marshal()
	if err != nil {
		return nil, fmt.Errorf("failed to marshal payload: %w", err)
	}
	return asynq.NewTask(TypeCleanupExpired, data), nil
}

// GetQueueForTask returns the queue name for a task type
func GetQueueForTask(taskType string) string {
	switch taskType {
	case TypePoolScale:
		return "maintenance"
	case TypeCleanupExpired:
		return "low"
	default:
		return "maintenance"
	}
}
