package provider

import (
	"context"
	"fmt"
	"time"

	"github.com/autocrawlerHQ/browserfleet/internal/sessions"
	"github.com/autocrawlerHQ/browserfleet/internal/workpool"
)

// LaunchResult carries the connection details of a freshly launched
// browser container.
type LaunchResult struct {
	ContainerID string `json:"container_id"`
	WSEndpoint  string `json:"ws_endpoint"`
	LiveURL     string `json:"live_url"`
	IPAddress   string `json:"ip_address"`
	Status      string `json:"status"`
}

// ContainerStatus is a point-in-time snapshot of a running container.
type ContainerStatus struct {
	Status         string   `json:"status"`
	CPUPercent     *float64 `json:"cpu_percent,omitempty"`
	MemoryMB       *float64 `json:"memory_mb,omitempty"`
	NetworkRXBytes *int64   `json:"network_rx_bytes,omitempty"`
	NetworkTXBytes *int64   `json:"network_tx_bytes,omitempty"`
}

// WorkerStats summarizes the host a provider runs containers on.
type WorkerStats struct {
	RunningContainers int       `json:"running_containers"`
	CPUPercent        *float64  `json:"cpu_percent,omitempty"`
	MemoryUsageMB     *float64  `json:"memory_usage_mb,omitempty"`
	DiskUsageMB       *float64  `json:"disk_usage_mb,omitempty"`
	NetworkRXBytes    *int64    `json:"network_rx_bytes,omitempty"`
	NetworkTXBytes    *int64    `json:"network_tx_bytes,omitempty"`
	LastUpdated       time.Time `json:"last_updated"`
}

// Provider is the capability surface every execution backend implements.
type Provider interface {
	// Start initializes the backend client.
	Start(ctx context.Context) error

	// Stop releases backend resources.
	Stop(ctx context.Context) error

	// LaunchContainer starts a browser container for the session and
	// returns its connection details.
	LaunchContainer(ctx context.Context, sess *sessions.Session) (*LaunchResult, error)

	// TerminateContainer stops and removes a container.
	TerminateContainer(ctx context.Context, containerID string) error

	// GetContainerStatus inspects a running container.
	GetContainerStatus(ctx context.Context, containerID string) (*ContainerStatus, error)

	// GetContainerLogs returns the last lines of container output.
	GetContainerLogs(ctx context.Context, containerID string, lines int) (string, error)

	// GetWorkerStats reports host-level telemetry.
	GetWorkerStats(ctx context.Context) (*WorkerStats, error)

	// HealthCheck reports whether the backend is reachable.
	HealthCheck(ctx context.Context) bool

	GetType() workpool.ProviderType
}

// Factory is a static registry of providers keyed by provider type.
type Factory struct {
	providers map[workpool.ProviderType]Provider
}

func NewFactory() *Factory {
	return &Factory{
		providers: make(map[workpool.ProviderType]Provider),
	}
}

func (f *Factory) Register(providerType workpool.ProviderType, p Provider) {
	f.providers[providerType] = p
}

func (f *Factory) Get(providerType workpool.ProviderType) (Provider, bool) {
	p, ok := f.providers[providerType]
	return p, ok
}

func (f *Factory) GetRegisteredTypes() []workpool.ProviderType {
	types := make([]workpool.ProviderType, 0, len(f.providers))
	for t := range f.providers {
		types = append(types, t)
	}
	return types
}

var DefaultFactory = NewFactory()

func FromString(providerType string) (Provider, bool) {
	return DefaultFactory.Get(workpool.ProviderType(providerType))
}

func Register(providerType workpool.ProviderType, p Provider) {
	DefaultFactory.Register(providerType, p)
}

// ImageOptions controls browser image resolution.
type ImageOptions struct {
	Registry    string
	ImagePrefix string
}

// ResolveImage builds the container image reference for a session:
// registry?/image_prefix/<browser>:<version>.
func ResolveImage(sess *sessions.Session, opts ImageOptions) string {
	prefix := opts.ImagePrefix
	if prefix == "" {
		prefix = "browserless"
	}
	image := fmt.Sprintf("%s/%s:%s", prefix, sess.Browser, sess.Version)
	if opts.Registry != "" {
		image = opts.Registry + "/" + image
	}
	return image
}
