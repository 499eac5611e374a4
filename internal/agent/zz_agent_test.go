package agent

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/autocrawlerHQ/browserfleet/internal/provider"
	"github.com/autocrawlerHQ/browserfleet/internal/sessions"
	"github.com/autocrawlerHQ/browserfleet/internal/workpool"
)

// fakeAPI is an httptest stand-in for the central service. It records
// events and serves canned claim results.
type fakeAPI struct {
	mu sync.Mutex

	worker     *workpool.Worker
	claimQueue []*sessions.Session

	events        []recordedEvent
	statusUpdates []recordedStatus
	heartbeats    []workpool.WorkerHeartbeat
	metrics       int
	registrations int

	server *httptest.Server
}

type recordedEvent struct {
	SessionID uuid.UUID
	Event     sessions.SessionEventType
	Data      map[string]interface{}
}

type recordedStatus struct {
	SessionID uuid.UUID
	Status    sessions.SessionStatus
}

func newFakeAPI(existing *workpool.Worker) *fakeAPI {
	f := &fakeAPI{worker: existing}

	gin.SetMode(gin.TestMode)
	r := gin.New()

	r.GET("/api/v1/workerpools/workers", func(c *gin.Context) {
		f.mu.Lock()
		defer f.mu.Unlock()
		if f.worker != nil && c.Query("name") == f.worker.Name {
			c.JSON(http.StatusOK, gin.H{"workers": []workpool.Worker{*f.worker}, "total": 1})
			return
		}
		c.JSON(http.StatusOK, gin.H{"workers": []workpool.Worker{}, "total": 0})
	})

	r.POST("/api/v1/workerpools/workers", func(c *gin.Context) {
		var w workpool.Worker
		if err := c.ShouldBindJSON(&w); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		w.ID = uuid.New()
		f.mu.Lock()
		f.worker = &w
		f.registrations++
		f.mu.Unlock()
		c.JSON(http.StatusCreated, w)
	})

	r.PUT("/api/v1/workerpools/workers/:id/heartbeat", func(c *gin.Context) {
		var hb workpool.WorkerHeartbeat
		if err := c.ShouldBindJSON(&hb); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		f.mu.Lock()
		f.heartbeats = append(f.heartbeats, hb)
		f.mu.Unlock()
		c.JSON(http.StatusOK, gin.H{})
	})

	r.POST("/api/v1/workerpools/workers/:id/claim-session", func(c *gin.Context) {
		f.mu.Lock()
		defer f.mu.Unlock()
		if len(f.claimQueue) == 0 {
			c.JSON(http.StatusOK, workpool.ClaimResult{Claimed: false, Reason: "no_pending"})
			return
		}
		sess := f.claimQueue[0]
		f.claimQueue = f.claimQueue[1:]
		c.JSON(http.StatusOK, workpool.ClaimResult{Claimed: true, Session: sess})
	})

	r.POST("/api/v1/events", func(c *gin.Context) {
		var body struct {
			SessionID uuid.UUID                 `json:"session_id"`
			Event     sessions.SessionEventType `json:"event"`
			Data      map[string]interface{}    `json:"data"`
		}
		if err := c.ShouldBindJSON(&body); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		f.mu.Lock()
		f.events = append(f.events, recordedEvent{body.SessionID, body.Event, body.Data})
		f.mu.Unlock()
		c.JSON(http.StatusCreated, gin.H{})
	})

	r.PUT("/api/v1/sessions/:id/status", func(c *gin.Context) {
		id, _ := uuid.Parse(c.Param("id"))
		var body struct {
			Status sessions.SessionStatus `json:"status"`
		}
		if err := c.ShouldBindJSON(&body); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		f.mu.Lock()
		f.statusUpdates = append(f.statusUpdates, recordedStatus{id, body.Status})
		f.mu.Unlock()
		c.JSON(http.StatusOK, gin.H{})
	})

	r.POST("/api/v1/metrics", func(c *gin.Context) {
		f.mu.Lock()
		f.metrics++
		f.mu.Unlock()
		c.JSON(http.StatusCreated, gin.H{})
	})

	f.server = httptest.NewServer(r)
	return f
}

func (f *fakeAPI) eventTypes() []sessions.SessionEventType {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]sessions.SessionEventType, len(f.events))
	for i, e := range f.events {
		out[i] = e.Event
	}
	return out
}

// fakeProvider is an in-memory provider.Provider.
type fakeProvider struct {
	mu sync.Mutex

	launchErr  error
	statuses   map[string]string // containerID -> status
	launched   int
	terminated []string
}

func newFakeProvider() *fakeProvider {
	return &fakeProvider{statuses: make(map[string]string)}
}

func (p *fakeProvider) Start(ctx context.Context) error { return nil }
func (p *fakeProvider) Stop(ctx context.Context) error  { return nil }

func (p *fakeProvider) LaunchContainer(ctx context.Context, sess *sessions.Session) (*provider.LaunchResult, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.launchErr != nil {
		return nil, p.launchErr
	}
	p.launched++
	id := fmt.Sprintf("ctr-%d", p.launched)
	p.statuses[id] = "running"
	return &provider.LaunchResult{
		ContainerID: id,
		WSEndpoint:  "ws://127.0.0.1:9222/devtools",
		LiveURL:     "http://127.0.0.1:6080",
		Status:      "running",
	}, nil
}

func (p *fakeProvider) TerminateContainer(ctx context.Context, containerID string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.terminated = append(p.terminated, containerID)
	delete(p.statuses, containerID)
	return nil
}

func (p *fakeProvider) GetContainerStatus(ctx context.Context, containerID string) (*provider.ContainerStatus, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	status, ok := p.statuses[containerID]
	if !ok {
		return nil, fmt.Errorf("no such container %s", containerID)
	}
	cpu := 12.5
	return &provider.ContainerStatus{Status: status, CPUPercent: &cpu}, nil
}

func (p *fakeProvider) GetContainerLogs(ctx context.Context, containerID string, lines int) (string, error) {
	return "log line\n", nil
}

func (p *fakeProvider) GetWorkerStats(ctx context.Context) (*provider.WorkerStats, error) {
	return &provider.WorkerStats{LastUpdated: time.Now()}, nil
}

func (p *fakeProvider) HealthCheck(ctx context.Context) bool { return true }
func (p *fakeProvider) GetType() workpool.ProviderType       { return workpool.ProviderDocker }

func (p *fakeProvider) setStatus(containerID, status string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.statuses[containerID] = status
}

func testAgent(api *fakeAPI, prov *fakeProvider, cfg Config) *Agent {
	if cfg.WorkerName == "" {
		cfg.WorkerName = "test-worker"
	}
	if cfg.WorkPoolID == uuid.Nil {
		cfg.WorkPoolID = uuid.New()
	}
	client := NewClient(api.server.URL, "test-key")
	return New(client, prov, nil, cfg)
}

func testSession() *sessions.Session {
	return &sessions.Session{
		ID:              uuid.New(),
		Browser:         sessions.BrowserChrome,
		Version:         sessions.VerLatest,
		OperatingSystem: sessions.OSLinux,
		Screen:          sessions.ScreenConfig{Width: 1920, Height: 1080},
		Status:          sessions.StatusPending,
	}
}

func TestRegister_CreatesWhenMissing(t *testing.T) {
	api := newFakeAPI(nil)
	defer api.server.Close()

	a := testAgent(api, newFakeProvider(), Config{Capacity: 2})
	if err := a.register(context.Background()); err != nil {
		t.Fatalf("register() error = %v", err)
	}
	if a.worker == nil || a.worker.ID == uuid.Nil {
		t.Fatal("worker should be registered with an ID")
	}
	if api.registrations != 1 {
		t.Errorf("registrations = %d, want 1", api.registrations)
	}
}

func TestRegister_ReusesExisting(t *testing.T) {
	existingID := uuid.New()
	api := newFakeAPI(&workpool.Worker{
		ID:       existingID,
		Name:     "test-worker",
		Capacity: 1,
	})
	defer api.server.Close()

	a := testAgent(api, newFakeProvider(), Config{Capacity: 3})
	if err := a.register(context.Background()); err != nil {
		t.Fatalf("register() error = %v", err)
	}
	if a.worker.ID != existingID {
		t.Errorf("worker ID = %v, want existing %v", a.worker.ID, existingID)
	}
	if a.worker.Capacity != 3 {
		t.Errorf("capacity = %d, want 3", a.worker.Capacity)
	}
	if api.registrations != 0 {
		t.Errorf("registrations = %d, want 0", api.registrations)
	}

	// the changed capacity must reach the server, not just the local copy
	api.mu.Lock()
	defer api.mu.Unlock()
	if len(api.heartbeats) != 1 {
		t.Fatalf("heartbeats = %d, want 1 capacity push", len(api.heartbeats))
	}
	if api.heartbeats[0].Capacity == nil || *api.heartbeats[0].Capacity != 3 {
		t.Errorf("pushed capacity = %v, want 3", api.heartbeats[0].Capacity)
	}
}

func TestRegister_UnchangedCapacityNotPushed(t *testing.T) {
	api := newFakeAPI(&workpool.Worker{
		ID:       uuid.New(),
		Name:     "test-worker",
		Capacity: 2,
	})
	defer api.server.Close()

	a := testAgent(api, newFakeProvider(), Config{Capacity: 2})
	if err := a.register(context.Background()); err != nil {
		t.Fatalf("register() error = %v", err)
	}

	api.mu.Lock()
	defer api.mu.Unlock()
	if len(api.heartbeats) != 0 {
		t.Errorf("heartbeats = %d, want 0 when capacity is unchanged", len(api.heartbeats))
	}
}

func TestClaimAndStart_EventSequence(t *testing.T) {
	api := newFakeAPI(nil)
	defer api.server.Close()
	prov := newFakeProvider()

	sess := testSession()
	api.claimQueue = []*sessions.Session{sess}

	a := testAgent(api, prov, Config{})
	ctx := context.Background()
	if err := a.register(ctx); err != nil {
		t.Fatalf("register() error = %v", err)
	}

	a.claimAndStart(ctx)

	want := []sessions.SessionEventType{
		sessions.EvtSessionAssigned,
		sessions.EvtSessionStarting,
		sessions.EvtBrowserStarted,
	}
	got := api.eventTypes()
	if len(got) != len(want) {
		t.Fatalf("events = %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("event[%d] = %v, want %v", i, got[i], want[i])
		}
	}

	// browser_started carries the connection details
	last := api.events[len(api.events)-1]
	if last.Data["ws_endpoint"] != "ws://127.0.0.1:9222/devtools" {
		t.Errorf("ws_endpoint = %v", last.Data["ws_endpoint"])
	}
	if id, _ := last.Data["container_id"].(string); id == "" {
		t.Error("container_id missing from browser_started data")
	}

	if len(a.active) != 1 {
		t.Errorf("active sessions = %d, want 1", len(a.active))
	}
}

func TestClaimAndStart_LaunchFailureSetsFailed(t *testing.T) {
	api := newFakeAPI(nil)
	defer api.server.Close()
	prov := newFakeProvider()
	prov.launchErr = fmt.Errorf("image pull failed")

	sess := testSession()
	api.claimQueue = []*sessions.Session{sess}

	a := testAgent(api, prov, Config{})
	ctx := context.Background()
	if err := a.register(ctx); err != nil {
		t.Fatalf("register() error = %v", err)
	}

	a.claimAndStart(ctx)

	if len(api.statusUpdates) != 1 {
		t.Fatalf("status updates = %d, want 1", len(api.statusUpdates))
	}
	if api.statusUpdates[0].SessionID != sess.ID || api.statusUpdates[0].Status != sessions.StatusFailed {
		t.Errorf("status update = %+v, want failed for %v", api.statusUpdates[0], sess.ID)
	}
	if len(a.active) != 0 {
		t.Errorf("active sessions = %d, want 0 after launch failure", len(a.active))
	}
}

func TestReconcile_ExitedContainerCompletes(t *testing.T) {
	api := newFakeAPI(nil)
	defer api.server.Close()
	prov := newFakeProvider()

	sess := testSession()
	api.claimQueue = []*sessions.Session{sess}

	a := testAgent(api, prov, Config{})
	ctx := context.Background()
	if err := a.register(ctx); err != nil {
		t.Fatalf("register() error = %v", err)
	}
	a.claimAndStart(ctx)

	containerID := a.active[sess.ID].containerID
	prov.setStatus(containerID, "exited")

	a.reconcileActiveSessions(ctx)

	if len(a.active) != 0 {
		t.Fatalf("active sessions = %d, want 0 after exit", len(a.active))
	}

	got := api.eventTypes()
	lastEvent := got[len(got)-1]
	if lastEvent != sessions.EvtSessionCompleted {
		t.Errorf("last event = %v, want session_completed", lastEvent)
	}
	if len(prov.terminated) != 1 || prov.terminated[0] != containerID {
		t.Errorf("terminated = %v, want [%s]", prov.terminated, containerID)
	}
}

func TestReconcile_TimeoutCleansUp(t *testing.T) {
	api := newFakeAPI(nil)
	defer api.server.Close()
	prov := newFakeProvider()

	sess := testSession()
	api.claimQueue = []*sessions.Session{sess}

	a := testAgent(api, prov, Config{})
	ctx := context.Background()
	if err := a.register(ctx); err != nil {
		t.Fatalf("register() error = %v", err)
	}
	a.claimAndStart(ctx)

	// backdate the claim past the session's timeout
	a.active[sess.ID].claimedAt = time.Now().Add(-time.Duration(sess.TimeoutMinutes()+1) * time.Minute)

	a.reconcileActiveSessions(ctx)

	got := api.eventTypes()
	lastEvent := got[len(got)-1]
	if lastEvent != sessions.EvtSessionTimedOut {
		t.Errorf("last event = %v, want session_timed_out", lastEvent)
	}
}

func TestTerminalEvent(t *testing.T) {
	tests := []struct {
		reason string
		want   sessions.SessionEventType
	}{
		{"completed", sessions.EvtSessionCompleted},
		{"crashed", sessions.EvtSessionCrashed},
		{"timeout", sessions.EvtSessionTimedOut},
		{"terminated", sessions.EvtSessionTerminated},
		{"anything-else", sessions.EvtSessionTerminated},
	}
	for _, tt := range tests {
		if got := terminalEvent(tt.reason); got != tt.want {
			t.Errorf("terminalEvent(%q) = %v, want %v", tt.reason, got, tt.want)
		}
	}
}

func TestDrain(t *testing.T) {
	api := newFakeAPI(nil)
	defer api.server.Close()
	prov := newFakeProvider()

	sess := testSession()
	api.claimQueue = []*sessions.Session{sess}

	a := testAgent(api, prov, Config{})
	ctx := context.Background()
	if err := a.register(ctx); err != nil {
		t.Fatalf("register() error = %v", err)
	}
	a.claimAndStart(ctx)

	a.drain()

	if len(a.active) != 0 {
		t.Errorf("active sessions = %d, want 0 after drain", len(a.active))
	}

	got := api.eventTypes()
	lastEvent := got[len(got)-1]
	if lastEvent != sessions.EvtSessionTerminated {
		t.Errorf("last event = %v, want session_terminated", lastEvent)
	}

	api.mu.Lock()
	defer api.mu.Unlock()
	if len(api.heartbeats) == 0 {
		t.Fatal("drain should report a final heartbeat")
	}
	final := api.heartbeats[len(api.heartbeats)-1]
	if final.Status != workpool.WorkerOffline || final.CurrentLoad != 0 {
		t.Errorf("final heartbeat = %+v, want offline with zero load", final)
	}
}

func TestConfigFillDefaults(t *testing.T) {
	cfg := Config{}
	cfg.fillDefaults()
	if cfg.Capacity != 1 {
		t.Errorf("capacity = %d, want 1", cfg.Capacity)
	}
	if cfg.PollInterval != 10*time.Second {
		t.Errorf("poll interval = %v, want 10s", cfg.PollInterval)
	}
	if cfg.MetricsInterval != 60*time.Second {
		t.Errorf("metrics interval = %v, want 60s", cfg.MetricsInterval)
	}
}
