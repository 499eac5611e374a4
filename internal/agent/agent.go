package agent

import (
	"context"
	"fmt"
	"log"
	"net"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shirou/gopsutil/v4/cpu"
	"github.com/shirou/gopsutil/v4/disk"
	"github.com/shirou/gopsutil/v4/mem"

	"github.com/autocrawlerHQ/browserfleet/internal/logstore"
	"github.com/autocrawlerHQ/browserfleet/internal/provider"
	"github.com/autocrawlerHQ/browserfleet/internal/sessions"
	"github.com/autocrawlerHQ/browserfleet/internal/workpool"
)

const archivedLogLines = 200

// Config tunes the agent loop.
type Config struct {
	WorkerName      string
	WorkPoolID      uuid.UUID
	Capacity        int
	PollInterval    time.Duration
	MetricsInterval time.Duration
}

func (c *Config) fillDefaults() {
	if c.Capacity <= 0 {
		c.Capacity = 1
	}
	if c.PollInterval <= 0 {
		c.PollInterval = 10 * time.Second
	}
	if c.MetricsInterval <= 0 {
		c.MetricsInterval = 60 * time.Second
	}
}

// activeSession is a session this worker is currently running.
type activeSession struct {
	sess        *sessions.Session
	containerID string
	claimedAt   time.Time
	lastMetrics time.Time
}

// Agent is the worker-side loop: heartbeat, reconcile, emit metrics,
// claim, provision. One loop per worker process.
type Agent struct {
	client *Client
	prov   provider.Provider
	logs   *logstore.Store // optional

	cfg    Config
	worker *workpool.Worker
	active map[uuid.UUID]*activeSession
}

func New(client *Client, prov provider.Provider, logs *logstore.Store, cfg Config) *Agent {
	cfg.fillDefaults()
	return &Agent{
		client: client,
		prov:   prov,
		logs:   logs,
		cfg:    cfg,
		active: make(map[uuid.UUID]*activeSession),
	}
}

// Run registers the worker and drives the loop until ctx is canceled,
// then drains.
func (a *Agent) Run(ctx context.Context) error {
	if err := a.register(ctx); err != nil {
		return err
	}
	log.Printf("[AGENT] Worker %s (%s) registered, capacity=%d",
		a.worker.Name, a.worker.ID, a.worker.Capacity)

	ticker := time.NewTicker(a.cfg.PollInterval)
	defer ticker.Stop()

	a.tick(ctx)
	for {
		select {
		case <-ctx.Done():
			a.drain()
			return ctx.Err()
		case <-ticker.C:
			a.tick(ctx)
		}
	}
}

func (a *Agent) tick(ctx context.Context) {
	if err := a.sendHeartbeat(ctx); err != nil {
		log.Printf("[AGENT] Heartbeat failed: %v", err)
	}
	a.reconcileActiveSessions(ctx)
	a.emitMetricsIfDue(ctx)

	if len(a.active) < a.worker.Capacity {
		a.claimAndStart(ctx)
	}
}

// register is idempotent by (name, pool): an existing worker record is
// reused so restarts keep the same identity.
func (a *Agent) register(ctx context.Context) error {
	existing, err := a.client.FindWorker(ctx, a.cfg.WorkPoolID, a.cfg.WorkerName)
	if err != nil {
		return err
	}
	if existing != nil {
		a.worker = existing
		// a changed -capacity must reach the server, which gates claims on it
		if a.cfg.Capacity > 0 && a.cfg.Capacity != existing.Capacity {
			a.worker.Capacity = a.cfg.Capacity
			hb := &workpool.WorkerHeartbeat{
				Status:      workpool.WorkerOnline,
				CurrentLoad: existing.CurrentLoad,
				Capacity:    &a.cfg.Capacity,
			}
			if err := a.client.Heartbeat(ctx, existing.ID, hb); err != nil {
				return fmt.Errorf("push capacity: %w", err)
			}
		}
		return nil
	}

	created, err := a.client.RegisterWorker(ctx, &workpool.Worker{
		Name:       a.cfg.WorkerName,
		WorkPoolID: a.cfg.WorkPoolID,
		Capacity:   a.cfg.Capacity,
		Status:     workpool.WorkerOnline,
	})
	if err != nil {
		return err
	}
	a.worker = created
	return nil
}

func (a *Agent) sendHeartbeat(ctx context.Context) error {
	status := workpool.WorkerOnline
	if len(a.active) > 0 {
		status = workpool.WorkerBusy
	}

	hb := &workpool.WorkerHeartbeat{
		Status:      status,
		CurrentLoad: len(a.active),
	}

	if pcts, err := cpu.PercentWithContext(ctx, 0, false); err == nil && len(pcts) > 0 {
		hb.CPUPercent = &pcts[0]
	}
	if vm, err := mem.VirtualMemoryWithContext(ctx); err == nil {
		used := float64(vm.Used) / (1024 * 1024)
		hb.MemoryUsageMB = &used
	}
	if du, err := disk.UsageWithContext(ctx, "/"); err == nil {
		used := float64(du.Used) / (1024 * 1024)
		hb.DiskUsageMB = &used
	}
	if ip := localIP(); ip != "" {
		hb.IPAddress = &ip
	}

	return a.client.Heartbeat(ctx, a.worker.ID, hb)
}

// reconcileActiveSessions checks each local session's container and
// expires sessions past their timeout.
func (a *Agent) reconcileActiveSessions(ctx context.Context) {
	now := time.Now()

	for id, as := range a.active {
		timeout := time.Duration(as.sess.TimeoutMinutes()) * time.Minute
		if now.After(as.claimedAt.Add(timeout)) {
			log.Printf("[AGENT] Session %s exceeded %s timeout", id, timeout)
			a.cleanupSession(ctx, as, "timeout")
			continue
		}

		status, err := a.prov.GetContainerStatus(ctx, as.containerID)
		if err != nil {
			log.Printf("[AGENT] Session %s container check failed: %v", id, err)
			a.cleanupSession(ctx, as, "crashed")
			continue
		}

		switch strings.ToLower(status.Status) {
		case "running":
			// still going
		case "exited":
			a.cleanupSession(ctx, as, "completed")
		default:
			a.cleanupSession(ctx, as, "crashed")
		}
	}
}

func (a *Agent) emitMetricsIfDue(ctx context.Context) {
	now := time.Now()

	for id, as := range a.active {
		if now.Sub(as.lastMetrics) < a.cfg.MetricsInterval {
			continue
		}

		status, err := a.prov.GetContainerStatus(ctx, as.containerID)
		if err != nil {
			continue
		}

		m := &sessions.SessionMetrics{
			SessionID:      id,
			CPUPercent:     status.CPUPercent,
			MemoryMB:       status.MemoryMB,
			NetworkRXBytes: status.NetworkRXBytes,
			NetworkTXBytes: status.NetworkTXBytes,
			Timestamp:      now,
		}
		if err := a.client.PushMetrics(ctx, m); err != nil {
			log.Printf("[AGENT] Failed to push metrics for session %s: %v", id, err)
			continue
		}
		as.lastMetrics = now
	}
}

func (a *Agent) claimAndStart(ctx context.Context) {
	result, err := a.client.Claim(ctx, a.worker.ID)
	if err != nil {
		log.Printf("[AGENT] Claim failed: %v", err)
		return
	}
	if !result.Claimed {
		if result.Reason != "no_pending" {
			log.Printf("[AGENT] Claim rejected: %s", result.Reason)
		}
		return
	}

	log.Printf("[AGENT] Claimed session %s (%s %s)",
		result.Session.ID, result.Session.Browser, result.Session.Version)
	a.startSession(ctx, result.Session)
}

// startSession walks the session through assignment and provisioning.
// Launch failure sets FAILED directly; there is no event for it.
func (a *Agent) startSession(ctx context.Context, sess *sessions.Session) {
	if err := a.client.PushEvent(ctx, sess.ID, sessions.EvtSessionAssigned, map[string]interface{}{
		"worker_id": a.worker.ID.String(),
	}); err != nil {
		log.Printf("[AGENT] Failed to report assignment for %s: %v", sess.ID, err)
	}

	if err := a.client.PushEvent(ctx, sess.ID, sessions.EvtSessionStarting, nil); err != nil {
		log.Printf("[AGENT] Failed to report starting for %s: %v", sess.ID, err)
	}

	result, err := a.prov.LaunchContainer(ctx, sess)
	if err != nil {
		log.Printf("[AGENT] Launch failed for session %s: %v", sess.ID, err)
		if serr := a.client.SetSessionStatus(ctx, sess.ID, sessions.StatusFailed, nil); serr != nil {
			log.Printf("[AGENT] Failed to mark session %s failed: %v", sess.ID, serr)
		}
		return
	}

	if err := a.client.PushEvent(ctx, sess.ID, sessions.EvtBrowserStarted, map[string]interface{}{
		"container_id": result.ContainerID,
		"ws_endpoint":  result.WSEndpoint,
		"live_url":     result.LiveURL,
	}); err != nil {
		log.Printf("[AGENT] Failed to report browser start for %s: %v", sess.ID, err)
	}

	a.active[sess.ID] = &activeSession{
		sess:        sess,
		containerID: result.ContainerID,
		claimedAt:   time.Now(),
		lastMetrics: time.Now(),
	}
	log.Printf("[AGENT] Session %s running at %s", sess.ID, result.WSEndpoint)
}

// cleanupSession archives logs, tears down the container, and reports
// the terminal event for the reason.
func (a *Agent) cleanupSession(ctx context.Context, as *activeSession, reason string) {
	id := as.sess.ID

	if a.logs != nil {
		if logs, err := a.prov.GetContainerLogs(ctx, as.containerID, archivedLogLines); err == nil && logs != "" {
			if err := a.logs.Save(ctx, id, logs); err != nil {
				log.Printf("[AGENT] Failed to archive logs for session %s: %v", id, err)
			}
		}
	}

	if err := a.prov.TerminateContainer(ctx, as.containerID); err != nil {
		log.Printf("[AGENT] Failed to terminate container for session %s: %v", id, err)
	}

	event := terminalEvent(reason)
	if err := a.client.PushEvent(ctx, id, event, map[string]interface{}{
		"reason": reason,
	}); err != nil {
		log.Printf("[AGENT] Failed to report %s for session %s: %v", event, id, err)
	}

	delete(a.active, id)
	log.Printf("[AGENT] Session %s cleaned up (reason: %s)", id, reason)
}

func terminalEvent(reason string) sessions.SessionEventType {
	switch reason {
	case "completed":
		return sessions.EvtSessionCompleted
	case "crashed":
		return sessions.EvtSessionCrashed
	case "timeout":
		return sessions.EvtSessionTimedOut
	default:
		return sessions.EvtSessionTerminated
	}
}

// drain runs on shutdown: terminate local sessions, then report the
// worker offline. Uses a fresh context since the loop's is canceled.
func (a *Agent) drain() {
	log.Printf("[AGENT] Draining %d active sessions...", len(a.active))

	ctx, cancel := context.WithTimeout(context.Background(), 60*time.Second)
	defer cancel()

	for _, as := range a.active {
		a.cleanupSession(ctx, as, "terminated")
	}

	if err := a.client.Heartbeat(ctx, a.worker.ID, &workpool.WorkerHeartbeat{
		Status:      workpool.WorkerOffline,
		CurrentLoad: 0,
	}); err != nil {
		log.Printf("[AGENT] Failed to report offline: %v", err)
	}
	log.Println("[AGENT] Drain complete")
}

// localIP picks the host's outbound interface address.
func localIP() string {
	conn, err := net.Dial("udp", "8.8.8.8:80")
	if err != nil {
		return ""
	}
	defer conn.Close()
	addr, ok := conn.LocalAddr().(*net.UDPAddr)
	if !ok {
		return ""
	}
	return addr.IP.String()
}
