package workpool

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"
	"gorm.io/gorm"

	"github.com/autocrawlerHQ/browserfleet/internal/sessions"
)

// ProviderType represents the execution backend of a work pool
// @Description Execution backend of a work pool
type ProviderType string //@name ProviderType

const (
	ProviderDocker     ProviderType = "docker"
	ProviderACI        ProviderType = "azure_container_instance"
	ProviderECS        ProviderType = "aws_ecs"
	ProviderCloudRun   ProviderType = "gcp_cloud_run"
	ProviderKubernetes ProviderType = "kubernetes"
)

func (p ProviderType) Valid() bool {
	switch p {
	case ProviderDocker, ProviderACI, ProviderECS, ProviderCloudRun, ProviderKubernetes:
		return true
	}
	return false
}

// PoolStatus represents the administrative state of a work pool
// @Description Administrative state of a work pool
type PoolStatus string //@name PoolStatus

const (
	PoolActive      PoolStatus = "active"
	PoolPaused      PoolStatus = "paused"
	PoolError       PoolStatus = "error"
	PoolMaintenance PoolStatus = "maintenance"
)

func (p PoolStatus) Valid() bool {
	switch p {
	case PoolActive, PoolPaused, PoolError, PoolMaintenance:
		return true
	}
	return false
}

// WorkerStatus represents the lifecycle state of a worker
// @Description Lifecycle state of a worker
type WorkerStatus string //@name WorkerStatus

const (
	WorkerOffline  WorkerStatus = "offline"
	WorkerOnline   WorkerStatus = "online"
	WorkerBusy     WorkerStatus = "busy"
	WorkerError    WorkerStatus = "error"
	WorkerStarting WorkerStatus = "starting"
	WorkerStopping WorkerStatus = "stopping"
)

func (w WorkerStatus) Valid() bool {
	switch w {
	case WorkerOffline, WorkerOnline, WorkerBusy, WorkerError, WorkerStarting, WorkerStopping:
		return true
	}
	return false
}

// IsActive reports whether a worker in this status may claim sessions.
func (w WorkerStatus) IsActive() bool {
	return w == WorkerOnline || w == WorkerBusy
}

// WorkPool represents a placement domain with shared session defaults
// @Description Work pool with provider type, defaults and capacity constraints
type WorkPool struct {
	ID           uuid.UUID    `json:"id" example:"550e8400-e29b-41d4-a716-446655440000"`
	Name         string       `json:"name" gorm:"uniqueIndex" example:"chrome-pool"`
	Description  string       `json:"description,omitempty" example:"Pool for Chrome browser workers"`
	ProviderType ProviderType `json:"provider_type" example:"docker"`
	Status       PoolStatus   `json:"status" example:"active"`

	DefaultBrowser         *sessions.Browser         `json:"default_browser,omitempty" example:"chrome"`
	DefaultBrowserVersion  *sessions.BrowserVersion  `json:"default_browser_version,omitempty" example:"latest"`
	DefaultHeadless        *bool                     `json:"default_headless,omitempty" example:"true"`
	DefaultOperatingSystem *sessions.OperatingSystem `json:"default_operating_system,omitempty" example:"linux"`
	DefaultScreen          *sessions.ScreenConfig    `json:"default_screen,omitempty"`
	DefaultProxy           *sessions.ProxyConfig     `json:"default_proxy,omitempty"`
	DefaultResourceLimits  *sessions.ResourceLimits  `json:"default_resource_limits,omitempty"`
	DefaultEnvironment     datatypes.JSON            `json:"default_environment,omitempty" swaggertype:"object"`

	MinWorkers           int `json:"min_workers" example:"0"`
	MaxWorkers           int `json:"max_workers" example:"10"`
	MaxSessionsPerWorker int `json:"max_sessions_per_worker" example:"5"`

	ProviderConfig datatypes.JSON `json:"provider_config,omitempty" swaggertype:"object"`

	CreatedAt time.Time `json:"created_at" example:"2023-01-01T00:00:00Z"`
	UpdatedAt time.Time `json:"updated_at" example:"2023-01-01T00:00:00Z"`
} //@name WorkPool

func (WorkPool) TableName() string {
	return "work_pools"
}

// BeforeCreate hook for WorkPool - generates UUID if nil
func (wp *WorkPool) BeforeCreate(tx *gorm.DB) error {
	if wp.ID == uuid.Nil {
		wp.ID = uuid.New()
	}
	return nil
}

// IsActive reports whether the pool accepts placements.
func (wp *WorkPool) IsActive() bool {
	return wp.Status == PoolActive
}

// Compatible reports whether a session request fits the pool's fixed
// defaults. A pool with no default browser or OS accepts any session.
func (wp *WorkPool) Compatible(sess *sessions.Session) bool {
	if wp.DefaultBrowser != nil && sess.Browser != *wp.DefaultBrowser {
		return false
	}
	if wp.DefaultOperatingSystem != nil && sess.OperatingSystem != *wp.DefaultOperatingSystem {
		return false
	}
	return true
}

// Worker represents a registered worker process
// @Description Worker that polls a work pool and runs browser sessions
type Worker struct {
	ID         uuid.UUID    `json:"id" example:"550e8400-e29b-41d4-a716-446655440001"`
	Name       string       `json:"name" gorm:"uniqueIndex:idx_workers_name_pool" example:"worker-chrome-001"`
	WorkPoolID uuid.UUID    `json:"work_pool_id" gorm:"type:uuid;uniqueIndex:idx_workers_name_pool" example:"550e8400-e29b-41d4-a716-446655440000"`
	Status     WorkerStatus `json:"status" example:"online"`

	Capacity    int `json:"capacity" example:"5"`
	CurrentLoad int `json:"current_load" example:"0"`

	CPUPercent    *float64 `json:"cpu_percent,omitempty" example:"12.5"`
	MemoryUsageMB *float64 `json:"memory_usage_mb,omitempty" example:"2048.0"`
	DiskUsageMB   *float64 `json:"disk_usage_mb,omitempty" example:"10240.0"`
	IPAddress     *string  `json:"ip_address,omitempty" example:"10.0.0.12"`

	LastHeartbeat *time.Time `json:"last_heartbeat,omitempty" example:"2023-01-01T00:00:00Z"`

	ProviderType    ProviderType   `json:"provider_type" example:"docker"`
	ProviderID      *string        `json:"provider_id,omitempty" example:"i-0abc123"`
	ProviderDetails datatypes.JSON `json:"provider_details,omitempty" swaggertype:"object"`

	APIKey string `json:"api_key,omitempty" example:"dGhpcyBpcyBub3QgYSByZWFsIGtleQ"`

	CreatedAt time.Time `json:"created_at" example:"2023-01-01T00:00:00Z"`
	UpdatedAt time.Time `json:"updated_at" example:"2023-01-01T00:00:00Z"`

	Pool WorkPool `json:"-" gorm:"foreignKey:WorkPoolID;constraint:OnDelete:CASCADE"`
} //@name Worker

func (Worker) TableName() string {
	return "workers"
}

// BeforeCreate hook for Worker - generates UUID if nil
func (w *Worker) BeforeCreate(tx *gorm.DB) error {
	if w.ID == uuid.Nil {
		w.ID = uuid.New()
	}
	return nil
}

// HasCapacity reports whether the worker can take one more session.
func (w *Worker) HasCapacity() bool {
	return w.Status.IsActive() && w.CurrentLoad < w.Capacity
}

// AvailableSlots returns the worker's free session slots.
func (w *Worker) AvailableSlots() int {
	if !w.Status.IsActive() {
		return 0
	}
	if n := w.Capacity - w.CurrentLoad; n > 0 {
		return n
	}
	return 0
}

// WorkerHeartbeat is a worker's periodic self-report
// @Description Heartbeat payload with status, load and host telemetry
type WorkerHeartbeat struct {
	Status        WorkerStatus `json:"status" example:"online"`
	CurrentLoad   int          `json:"current_load" example:"2" validate:"min=0"`
	Capacity      *int         `json:"capacity,omitempty" example:"4" validate:"omitempty,min=1"`
	CPUPercent    *float64     `json:"cpu_percent,omitempty" example:"12.5"`
	MemoryUsageMB *float64     `json:"memory_usage_mb,omitempty" example:"2048.0"`
	DiskUsageMB   *float64     `json:"disk_usage_mb,omitempty" example:"10240.0"`
	IPAddress     *string      `json:"ip_address,omitempty" example:"10.0.0.12"`
} //@name WorkerHeartbeat

// ClaimResult is the outcome of a worker's claim attempt
// @Description Claim outcome; on success carries the full session spec
type ClaimResult struct {
	Claimed bool              `json:"claimed" example:"true"`
	Reason  string            `json:"reason,omitempty" example:"no_pending"`
	Session *sessions.Session `json:"session,omitempty"`
} //@name ClaimResult

// WorkPoolListResponse represents a response containing a list of work pools
// @Description Response containing a list of work pools
type WorkPoolListResponse struct {
	Pools []WorkPool `json:"pools"`
	Total int        `json:"total" example:"5"`
} //@name WorkPoolListResponse

// WorkerListResponse represents a response containing a list of workers
// @Description Response containing a list of workers
type WorkerListResponse struct {
	Workers []Worker `json:"workers"`
	Total   int      `json:"total" example:"10"`
} //@name WorkerListResponse

// MessageResponse represents a simple message response
// @Description Simple message response
type MessageResponse struct {
	Message string `json:"message" example:"Operation completed successfully"`
} //@name MessageResponse

// ErrorResponse represents an error response
// @Description Error response with details
type ErrorResponse struct {
	Error string `json:"error" example:"Validation failed"`
} //@name ErrorResponse
