package docker

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/docker/docker/api/types/container"
	"github.com/docker/docker/api/types/filters"
	"github.com/docker/docker/api/types/image"
	"github.com/docker/docker/client"
	"github.com/docker/go-connections/nat"
	"github.com/shirou/gopsutil/v4/cpu"
	"github.com/shirou/gopsutil/v4/disk"
	"github.com/shirou/gopsutil/v4/mem"

	"github.com/autocrawlerHQ/browserfleet/internal/provider"
	"github.com/autocrawlerHQ/browserfleet/internal/sessions"
	"github.com/autocrawlerHQ/browserfleet/internal/workpool"
)

const sessionLabel = "com.browserfleet.session"

type DockerProvider struct {
	cli  *client.Client
	opts provider.ImageOptions

	defaultPort  int
	readyTimeout time.Duration
}

func New(opts provider.ImageOptions) (*DockerProvider, error) {
	cli, err := client.NewClientWithOpts(client.FromEnv, client.WithAPIVersionNegotiation())
	if err != nil {
		return nil, fmt.Errorf("docker client: %w", err)
	}

	return &DockerProvider{
		cli:          cli,
		opts:         opts,
		defaultPort:  80,
		readyTimeout: 30 * time.Second,
	}, nil
}

func (p *DockerProvider) GetType() workpool.ProviderType { return workpool.ProviderDocker }

func (p *DockerProvider) Start(ctx context.Context) error {
	if _, err := p.cli.Ping(ctx); err != nil {
		return fmt.Errorf("docker ping: %w", err)
	}
	return nil
}

func (p *DockerProvider) Stop(ctx context.Context) error {
	return p.cli.Close()
}

func (p *DockerProvider) HealthCheck(ctx context.Context) bool {
	_, err := p.cli.Ping(ctx)
	return err == nil
}

func (p *DockerProvider) keepContainers() bool {
	return strings.ToLower(os.Getenv("BROWSERFLEET_KEEP_CONTAINERS")) == "true"
}

// LaunchContainer starts a browser container for the session and waits for
// the mapped port to be assigned.
func (p *DockerProvider) LaunchContainer(ctx context.Context, sess *sessions.Session) (*provider.LaunchResult, error) {
	browserImage := provider.ResolveImage(sess, p.opts)

	if err := p.ensureImage(ctx, browserImage); err != nil {
		return nil, err
	}

	shortID := sess.ID.String()[:8]
	containerName := "bf-browser-" + shortID

	containerConfig := &container.Config{
		Image: browserImage,
		Env:   buildEnv(sess),
		Labels: map[string]string{
			sessionLabel: sess.ID.String(),
		},
		Hostname: "browser",
		ExposedPorts: natSet(
			fmt.Sprintf("%d/tcp", p.defaultPort),
		),
	}

	hostConfig := &container.HostConfig{
		AutoRemove:   false,
		PortBindings: natMap(p.defaultPort, 0),
		Tmpfs:        map[string]string{"/dev/shm": "rw,size=2g"},
	}
	applyResourceLimits(hostConfig, sess.ResourceLimits)

	resp, err := p.cli.ContainerCreate(ctx, containerConfig, hostConfig, nil, nil, containerName)
	if err != nil {
		return nil, fmt.Errorf("create browser container: %w", err)
	}

	if err := p.cli.ContainerStart(ctx, resp.ID, container.StartOptions{}); err != nil {
		return nil, p.abortLaunch(ctx, resp.ID, fmt.Errorf("start browser: %w", err))
	}

	hostPort, ipAddr, err := p.waitForContainer(ctx, resp.ID)
	if err != nil {
		return nil, p.abortLaunch(ctx, resp.ID, err)
	}

	hostName := "localhost"
	if runningInDocker() {
		hostName = "host.docker.internal"
	}

	return &provider.LaunchResult{
		ContainerID: resp.ID,
		WSEndpoint:  fmt.Sprintf("ws://%s:%d", hostName, hostPort),
		LiveURL:     fmt.Sprintf("http://%s:%d", hostName, hostPort),
		IPAddress:   ipAddr,
		Status:      "running",
	}, nil
}

func (p *DockerProvider) TerminateContainer(ctx context.Context, containerID string) error {
	if p.keepContainers() {
		return nil
	}

	filterArgs := filters.NewArgs()
	filterArgs.Add("id", containerID)
	containers, err := p.cli.ContainerList(ctx, container.ListOptions{
		All:     true,
		Filters: filterArgs,
	})
	if err == nil && len(containers) == 0 {
		return nil
	}

	return p.cli.ContainerRemove(ctx, containerID, container.RemoveOptions{Force: true})
}

func (p *DockerProvider) GetContainerStatus(ctx context.Context, containerID string) (*provider.ContainerStatus, error) {
	inspect, err := p.cli.ContainerInspect(ctx, containerID)
	if err != nil {
		return nil, err
	}

	out := &provider.ContainerStatus{Status: inspect.State.Status}

	stats, err := p.cli.ContainerStatsOneShot(ctx, containerID)
	if err != nil {
		return out, nil
	}
	defer stats.Body.Close()

	var v container.StatsResponse
	if err := json.NewDecoder(stats.Body).Decode(&v); err != nil {
		return out, nil
	}

	cpuPct := cpuPercentUnix(v)
	memMB := float64(v.MemoryStats.Usage) / (1024 * 1024)
	out.CPUPercent = &cpuPct
	out.MemoryMB = &memMB
	if eth, ok := v.Networks["eth0"]; ok {
		rx := int64(eth.RxBytes)
		tx := int64(eth.TxBytes)
		out.NetworkRXBytes = &rx
		out.NetworkTXBytes = &tx
	}

	return out, nil
}

func (p *DockerProvider) GetContainerLogs(ctx context.Context, containerID string, lines int) (string, error) {
	if lines <= 0 {
		lines = 100
	}

	rd, err := p.cli.ContainerLogs(ctx, containerID, container.LogsOptions{
		ShowStdout: true,
		ShowStderr: true,
		Tail:       strconv.Itoa(lines),
	})
	if err != nil {
		return "", err
	}
	defer rd.Close()

	var buf bytes.Buffer
	if _, err := io.Copy(&buf, rd); err != nil {
		return "", err
	}
	return buf.String(), nil
}

func (p *DockerProvider) GetWorkerStats(ctx context.Context) (*provider.WorkerStats, error) {
	filterArgs := filters.NewArgs()
	filterArgs.Add("label", sessionLabel)
	containers, err := p.cli.ContainerList(ctx, container.ListOptions{Filters: filterArgs})
	if err != nil {
		return nil, err
	}

	stats := &provider.WorkerStats{
		RunningContainers: len(containers),
		LastUpdated:       time.Now(),
	}

	if pcts, err := cpu.PercentWithContext(ctx, 0, false); err == nil && len(pcts) > 0 {
		stats.CPUPercent = &pcts[0]
	}
	if vm, err := mem.VirtualMemoryWithContext(ctx); err == nil {
		used := float64(vm.Used) / (1024 * 1024)
		stats.MemoryUsageMB = &used
	}
	if du, err := disk.UsageWithContext(ctx, "/"); err == nil {
		used := float64(du.Used) / (1024 * 1024)
		stats.DiskUsageMB = &used
	}

	return stats, nil
}

// buildEnv merges the mandatory browserless variables under the session's
// own environment. Session values win.
func buildEnv(sess *sessions.Session) []string {
	envMap := map[string]string{
		"BROWSERLESS_SESSION_ID": sess.ID.String(),
		"BROWSERLESS_HEADLESS":   strconv.FormatBool(sess.Headless),
		"RESOLUTION_WIDTH":       strconv.Itoa(sess.Screen.Width),
		"RESOLUTION_HEIGHT":      strconv.Itoa(sess.Screen.Height),
	}

	if sess.Environment != nil {
		var custom map[string]string
		if err := json.Unmarshal(sess.Environment, &custom); err == nil {
			for k, v := range custom {
				envMap[k] = v
			}
		}
	}

	env := make([]string, 0, len(envMap))
	for k, v := range envMap {
		env = append(env, k+"="+v)
	}
	return env
}

// applyResourceLimits translates session resource limits into container
// host config. Memory literals follow the <N>[MG] shape.
func applyResourceLimits(hc *container.HostConfig, limits *sessions.ResourceLimits) {
	if limits == nil {
		return
	}
	if limits.CPU != nil {
		hc.NanoCPUs = int64(*limits.CPU * 1e9)
	}
	if limits.Memory != nil {
		if b, ok := parseMemory(*limits.Memory); ok {
			hc.Memory = b
		}
	}
}

func parseMemory(s string) (int64, bool) {
	if len(s) < 2 {
		return 0, false
	}
	n, err := strconv.ParseInt(s[:len(s)-1], 10, 64)
	if err != nil {
		return 0, false
	}
	switch s[len(s)-1] {
	case 'M':
		return n * 1024 * 1024, true
	case 'G':
		return n * 1024 * 1024 * 1024, true
	}
	return 0, false
}

func (p *DockerProvider) ensureImage(ctx context.Context, imageName string) error {
	// Pull unconditionally; fall back to a local image when the registry
	// does not have it.
	rd, err := p.cli.ImagePull(ctx, imageName, image.PullOptions{})
	if err != nil {
		if _, inspectErr := p.cli.ImageInspect(ctx, imageName); inspectErr == nil {
			return nil
		}
		return fmt.Errorf("pull %s: %w", imageName, err)
	}
	defer rd.Close()
	_, _ = io.Copy(io.Discard, rd)
	return nil
}

func (p *DockerProvider) waitForContainer(ctx context.Context, containerID string) (hostPort int, ipAddr string, err error) {
	deadline := time.Now().Add(p.readyTimeout)

	for time.Now().Before(deadline) {
		if err := ctx.Err(); err != nil {
			return 0, "", err
		}

		inspect, err := p.cli.ContainerInspect(ctx, containerID)
		if err != nil {
			return 0, "", err
		}

		if !inspect.State.Running {
			time.Sleep(200 * time.Millisecond)
			continue
		}

		ipAddr = inspect.NetworkSettings.IPAddress

		for pc, bindings := range inspect.NetworkSettings.Ports {
			if pc.Int() == p.defaultPort && len(bindings) > 0 {
				if port, _ := strconv.Atoi(bindings[0].HostPort); port > 0 {
					return port, ipAddr, nil
				}
			}
		}
		time.Sleep(200 * time.Millisecond)
	}
	return 0, "", fmt.Errorf("browser container did not become ready within %s", p.readyTimeout)
}

func (p *DockerProvider) abortLaunch(ctx context.Context, containerID string, rootErr error) error {
	if !p.keepContainers() {
		_ = p.cli.ContainerRemove(ctx, containerID, container.RemoveOptions{Force: true})
	}
	return rootErr
}

func natSet(ports ...string) nat.PortSet {
	ps := nat.PortSet{}
	for _, p := range ports {
		ps[nat.Port(p)] = struct{}{}
	}
	return ps
}

func natMap(containerPort int, hostPort int) nat.PortMap {
	pm := nat.PortMap{}
	cp := nat.Port(strconv.Itoa(containerPort) + "/tcp")
	pm[cp] = []nat.PortBinding{{
		HostIP:   "0.0.0.0",
		HostPort: strconv.Itoa(hostPort),
	}}
	return pm
}

func cpuPercentUnix(v container.StatsResponse) float64 {
	cpuDelta := float64(v.CPUStats.CPUUsage.TotalUsage) - float64(v.PreCPUStats.CPUUsage.TotalUsage)
	sysDelta := float64(v.CPUStats.SystemUsage) - float64(v.PreCPUStats.SystemUsage)
	if sysDelta > 0 && cpuDelta > 0 {
		return (cpuDelta / sysDelta) * float64(len(v.CPUStats.CPUUsage.PercpuUsage)) * 100.0
	}
	return 0.0
}

// runningInDocker detects if the current process is itself containerized,
// in which case localhost does not reach the mapped host port.
func runningInDocker() bool {
	if _, err := os.Stat("/.dockerenv"); err == nil {
		return true
	}
	if data, err := os.ReadFile("/proc/1/cgroup"); err == nil {
		if strings.Contains(string(data), "docker") || strings.Contains(string(data), "kubepods") {
			return true
		}
	}
	return false
}
