package sessions

import (
	"encoding/json"
	"fmt"
	"regexp"
	"time"

	"database/sql/driver"

	"github.com/google/uuid"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

// ScreenConfig represents screen configuration for browser sessions
// @Description Screen configuration with width, height, DPI and scale
type ScreenConfig struct {
	Width  int     `json:"width" example:"1920"`
	Height int     `json:"height" example:"1080"`
	DPI    int     `json:"dpi" example:"96"`
	Scale  float64 `json:"scale" example:"1.0"`
} //@name ScreenConfig

func (s ScreenConfig) Value() (driver.Value, error) {
	return json.Marshal(s)
}

func (s *ScreenConfig) Scan(value interface{}) error {
	if value == nil {
		*s = ScreenConfig{}
		return nil
	}

	var bytes []byte
	switch v := value.(type) {
	case []byte:
		bytes = v
	case string:
		bytes = []byte(v)
	default:
		return fmt.Errorf("cannot scan %T into ScreenConfig", value)
	}

	return json.Unmarshal(bytes, s)
}

// ProxyConfig represents proxy configuration for browser sessions
// @Description Proxy configuration with URL and optional credentials
type ProxyConfig struct {
	URL      string `json:"proxy_url" example:"http://proxy.example.com:8080"`
	Username string `json:"proxy_username,omitempty" example:"user"`
	Password string `json:"proxy_password,omitempty" example:"pass"`
} //@name ProxyConfig

func (p ProxyConfig) Value() (driver.Value, error) {
	return json.Marshal(p)
}

func (p *ProxyConfig) Scan(value interface{}) error {
	if value == nil {
		*p = ProxyConfig{}
		return nil
	}

	var bytes []byte
	switch v := value.(type) {
	case []byte:
		bytes = v
	case string:
		bytes = []byte(v)
	default:
		return fmt.Errorf("cannot scan %T into ProxyConfig", value)
	}

	return json.Unmarshal(bytes, p)
}

// memoryPattern matches memory limits like "512M" or "2G".
var memoryPattern = regexp.MustCompile(`^\d+[MG]$`)

// ResourceLimits represents resource limits for browser sessions
// @Description Resource limits for CPU, memory and timeout
type ResourceLimits struct {
	CPU            *float64 `json:"cpu,omitempty" example:"2.0"`
	Memory         *string  `json:"memory,omitempty" example:"2G"`
	TimeoutMinutes *int     `json:"timeout_minutes,omitempty" example:"30"`
} //@name ResourceLimits

func (r ResourceLimits) Value() (driver.Value, error) {
	return json.Marshal(r)
}

func (r *ResourceLimits) Scan(value interface{}) error {
	if value == nil {
		*r = ResourceLimits{}
		return nil
	}

	var bytes []byte
	switch v := value.(type) {
	case []byte:
		bytes = v
	case string:
		bytes = []byte(v)
	default:
		return fmt.Errorf("cannot scan %T into ResourceLimits", value)
	}

	return json.Unmarshal(bytes, r)
}

// Validate checks the memory literal shape.
func (r ResourceLimits) Validate() error {
	if r.Memory != nil && !memoryPattern.MatchString(*r.Memory) {
		return fmt.Errorf("invalid memory limit %q: expected <N>[MG]", *r.Memory)
	}
	if r.TimeoutMinutes != nil && *r.TimeoutMinutes <= 0 {
		return fmt.Errorf("timeout_minutes must be positive")
	}
	return nil
}

// Session represents a browser session
// @Description Browser session with configuration, placement and status
type Session struct {
	ID              uuid.UUID       `json:"id" example:"550e8400-e29b-41d4-a716-446655440000"`
	Browser         Browser         `json:"browser" example:"chrome"`
	Version         BrowserVersion  `json:"version" example:"latest"`
	Headless        bool            `json:"headless" example:"true"`
	OperatingSystem OperatingSystem `json:"operating_system" example:"linux"`
	Screen          ScreenConfig    `json:"screen"`
	Proxy           *ProxyConfig    `json:"proxy,omitempty"`
	ResourceLimits  *ResourceLimits `json:"resource_limits,omitempty"`
	Environment     datatypes.JSON  `json:"environment" swaggertype:"object"`
	Status          SessionStatus   `json:"status" example:"pending"`
	CreatedAt       time.Time       `json:"created_at" example:"2023-01-01T00:00:00Z"`
	UpdatedAt       time.Time       `json:"updated_at" example:"2023-01-01T00:00:00Z"`
	ExpiresAt       *time.Time      `json:"expires_at,omitempty" example:"2023-01-01T01:00:00Z"`

	WorkPoolID *uuid.UUID `json:"work_pool_id,omitempty" gorm:"type:uuid" example:"550e8400-e29b-41d4-a716-446655440002"`
	WorkerID   *uuid.UUID `json:"worker_id,omitempty" gorm:"type:uuid" example:"550e8400-e29b-41d4-a716-446655440003"`
	ClaimedAt  *time.Time `json:"claimed_at,omitempty" example:"2023-01-01T00:30:00Z"`

	ContainerID *string `json:"container_id,omitempty" example:"abc123"`
	WSEndpoint  *string `json:"ws_endpoint,omitempty" example:"ws://localhost:80/devtools/browser"`
	LiveURL     *string `json:"live_url,omitempty" example:"http://localhost:80"`
} //@name Session

func (Session) TableName() string {
	return "sessions"
}

// IsTerminal reports whether the session has reached a final status.
func (s *Session) IsTerminal() bool {
	return IsTerminalStatus(s.Status)
}

// IsClaimable reports whether a worker may still take ownership.
func (s *Session) IsClaimable() bool {
	return s.Status == StatusPending && s.WorkerID == nil
}

// TimeoutMinutes returns the effective session timeout, defaulting to 30.
func (s *Session) TimeoutMinutes() int {
	if s.ResourceLimits != nil && s.ResourceLimits.TimeoutMinutes != nil {
		return *s.ResourceLimits.TimeoutMinutes
	}
	return 30
}

// BeforeCreate hook for Session - generates UUID if nil
func (s *Session) BeforeCreate(tx *gorm.DB) error {
	if s.ID == uuid.Nil {
		s.ID = uuid.New()
	}
	return nil
}

// Validate rejects malformed session specs before they hit the store.
func (s *Session) Validate() error {
	if !s.Browser.Valid() {
		return fmt.Errorf("unknown browser %q", s.Browser)
	}
	if !s.Version.Valid() {
		return fmt.Errorf("unknown browser version %q", s.Version)
	}
	if !s.OperatingSystem.Valid() {
		return fmt.Errorf("unknown operating system %q", s.OperatingSystem)
	}
	if s.Screen.Width <= 0 || s.Screen.Height <= 0 {
		return fmt.Errorf("screen dimensions must be positive")
	}
	if s.ResourceLimits != nil {
		if err := s.ResourceLimits.Validate(); err != nil {
			return err
		}
	}
	return nil
}

// SessionEvent represents an event that occurred during a session
// @Description Session event with type, data and timestamp
type SessionEvent struct {
	ID        uuid.UUID        `json:"id" example:"550e8400-e29b-41d4-a716-446655440003"`
	SessionID uuid.UUID        `json:"session_id" example:"550e8400-e29b-41d4-a716-446655440000"`
	Event     SessionEventType `json:"event" example:"session_created"`
	Data      datatypes.JSON   `json:"data,omitempty" swaggertype:"object"`
	Timestamp time.Time        `json:"timestamp" example:"2023-01-01T00:00:00Z"`

	Session Session `json:"-" gorm:"foreignKey:SessionID;constraint:OnDelete:CASCADE"`
} //@name SessionEvent

func (SessionEvent) TableName() string {
	return "session_events"
}

// BeforeCreate hook for SessionEvent - generates UUID if nil
func (se *SessionEvent) BeforeCreate(tx *gorm.DB) error {
	if se.ID == uuid.Nil {
		se.ID = uuid.New()
	}
	return nil
}

// SessionMetrics represents performance metrics for a session
// @Description Performance metrics including CPU, memory and network usage
type SessionMetrics struct {
	ID             uuid.UUID `json:"id" example:"550e8400-e29b-41d4-a716-446655440004"`
	SessionID      uuid.UUID `json:"session_id" example:"550e8400-e29b-41d4-a716-446655440000"`
	CPUPercent     *float64  `json:"cpu_percent,omitempty" example:"45.2"`
	MemoryMB       *float64  `json:"memory_mb,omitempty" example:"1024.5"`
	NetworkRXBytes *int64    `json:"network_rx_bytes,omitempty" example:"1048576"`
	NetworkTXBytes *int64    `json:"network_tx_bytes,omitempty" example:"2097152"`
	Timestamp      time.Time `json:"timestamp" example:"2023-01-01T00:00:00Z"`

	Session Session `json:"-" gorm:"foreignKey:SessionID;constraint:OnDelete:CASCADE"`
} //@name SessionMetrics

func (SessionMetrics) TableName() string {
	return "session_metrics"
}

// BeforeCreate hook for SessionMetrics - generates UUID if nil
func (sm *SessionMetrics) BeforeCreate(tx *gorm.DB) error {
	if sm.ID == uuid.Nil {
		sm.ID = uuid.New()
	}
	return nil
}

// SessionWithRelations bundles a session with its optional relations
// @Description Session with optionally included events and metrics
type SessionWithRelations struct {
	Session
	Events  []SessionEvent   `json:"events,omitempty"`
	Metrics []SessionMetrics `json:"metrics,omitempty"`
} //@name SessionWithRelations

// SessionListResponse represents a response containing a list of sessions
// @Description Response containing a list of sessions with pagination info
type SessionListResponse struct {
	Sessions []Session `json:"sessions"`
	Total    int       `json:"total" example:"25"`
	Offset   int       `json:"offset" example:"0"`
	Limit    int       `json:"limit" example:"100"`
} //@name SessionListResponse

// SessionEventListResponse represents a response containing a list of session events
// @Description Response containing a list of session events with pagination info
type SessionEventListResponse struct {
	Events []SessionEvent `json:"events"`
	Total  int            `json:"total" example:"15"`
	Offset int            `json:"offset" example:"0"`
	Limit  int            `json:"limit" example:"100"`
} //@name SessionEventListResponse

// ErrorResponse represents an error response
// @Description Standard error response format
type ErrorResponse struct {
	Error string `json:"error" example:"Invalid session ID"`
} //@name ErrorResponse

// MessageResponse represents a simple message response
// @Description Standard message response format
type MessageResponse struct {
	Message string `json:"message" example:"Session termination initiated"`
} //@name MessageResponse
