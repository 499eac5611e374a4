package sessions

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
)

// recordingPlacer captures Place calls so handlers can be tested without a
// real scheduler.
type recordingPlacer struct {
	calls []struct {
		sessionID     uuid.UUID
		requestedPool *uuid.UUID
	}
	err error
}

func (p *recordingPlacer) Place(ctx context.Context, sessionID uuid.UUID, requestedPool *uuid.UUID) error {
	p.calls = append(p.calls, struct {
		sessionID     uuid.UUID
		requestedPool *uuid.UUID
	}{sessionID, requestedPool})
	return p.err
}

func setupRouter(t *testing.T, placer Placer) (*gin.Engine, *Store) {
	gin.SetMode(gin.TestMode)
	db := setupTestDB(t)

	r := gin.New()
	v1 := r.Group("/api/v1")
	RegisterRoutes(v1, db, placer)

	return r, NewStore(db)
}

func doJSON(t *testing.T, r *gin.Engine, method, path string, body interface{}) *httptest.ResponseRecorder {
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			t.Fatalf("encode body: %v", err)
		}
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

func TestHTTP_CreateSession(t *testing.T) {
	placer := &recordingPlacer{}
	r, _ := setupRouter(t, placer)

	w := doJSON(t, r, http.MethodPost, "/api/v1/sessions", map[string]interface{}{
		"browser": "chrome",
	})
	if w.Code != http.StatusCreated {
		t.Fatalf("status = %d, body = %s", w.Code, w.Body.String())
	}

	var sess Session
	if err := json.Unmarshal(w.Body.Bytes(), &sess); err != nil {
		t.Fatalf("decode response: %v", err)
	}

	if sess.Version != VerLatest {
		t.Errorf("version = %v, want %v", sess.Version, VerLatest)
	}
	if sess.OperatingSystem != OSLinux {
		t.Errorf("operating_system = %v, want %v", sess.OperatingSystem, OSLinux)
	}
	if sess.Screen.Width != 1920 || sess.Screen.Height != 1080 {
		t.Errorf("screen = %+v, want 1920x1080", sess.Screen)
	}
	if sess.Status != StatusPending {
		t.Errorf("status = %v, want %v", sess.Status, StatusPending)
	}

	if len(placer.calls) != 1 {
		t.Fatalf("placer calls = %d, want 1", len(placer.calls))
	}
	if placer.calls[0].requestedPool != nil {
		t.Error("requested pool should be nil when not supplied")
	}
}

func TestHTTP_CreateSession_RequestedPoolForwarded(t *testing.T) {
	placer := &recordingPlacer{}
	r, _ := setupRouter(t, placer)

	poolID := uuid.New()
	w := doJSON(t, r, http.MethodPost, "/api/v1/sessions", map[string]interface{}{
		"browser":      "firefox",
		"work_pool_id": poolID,
	})
	if w.Code != http.StatusCreated {
		t.Fatalf("status = %d, body = %s", w.Code, w.Body.String())
	}

	if len(placer.calls) != 1 {
		t.Fatalf("placer calls = %d, want 1", len(placer.calls))
	}
	if placer.calls[0].requestedPool == nil || *placer.calls[0].requestedPool != poolID {
		t.Errorf("requested pool = %v, want %v", placer.calls[0].requestedPool, poolID)
	}

	// the session itself stays unbound; binding is the scheduler's job
	var sess Session
	json.Unmarshal(w.Body.Bytes(), &sess)
	if sess.WorkPoolID != nil {
		t.Error("work_pool_id should not be bound by the handler")
	}
}

func TestHTTP_CreateSession_PlacementFailureDeferred(t *testing.T) {
	placer := &recordingPlacer{err: fmt.Errorf("no pool fits")}
	r, _ := setupRouter(t, placer)

	w := doJSON(t, r, http.MethodPost, "/api/v1/sessions", map[string]interface{}{
		"browser": "chrome",
	})
	// placement failure is not a request failure
	if w.Code != http.StatusCreated {
		t.Fatalf("status = %d, want 201", w.Code)
	}

	var sess Session
	json.Unmarshal(w.Body.Bytes(), &sess)
	if sess.Status != StatusPending {
		t.Errorf("status = %v, want %v", sess.Status, StatusPending)
	}
}

func TestHTTP_CreateSession_Invalid(t *testing.T) {
	r, _ := setupRouter(t, &recordingPlacer{})

	tests := []struct {
		name string
		body map[string]interface{}
	}{
		{"missing browser", map[string]interface{}{}},
		{"unknown browser", map[string]interface{}{"browser": "netscape"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := doJSON(t, r, http.MethodPost, "/api/v1/sessions", tt.body)
			if w.Code != http.StatusBadRequest {
				t.Errorf("status = %d, want 400", w.Code)
			}
		})
	}
}

func TestHTTP_GetSession(t *testing.T) {
	r, store := setupRouter(t, &recordingPlacer{})
	ctx := context.Background()

	sess := validSession()
	if err := store.CreateSession(ctx, sess); err != nil {
		t.Fatalf("CreateSession() error = %v", err)
	}
	if err := store.ApplyEvent(ctx, &SessionEvent{SessionID: sess.ID, Event: EvtSessionCreated}); err != nil {
		t.Fatalf("ApplyEvent() error = %v", err)
	}

	w := doJSON(t, r, http.MethodGet, "/api/v1/sessions/"+sess.ID.String()+"?include_events=true", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d", w.Code)
	}

	var got SessionWithRelations
	if err := json.Unmarshal(w.Body.Bytes(), &got); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if len(got.Events) != 1 {
		t.Errorf("events = %d, want 1", len(got.Events))
	}

	w = doJSON(t, r, http.MethodGet, "/api/v1/sessions/"+uuid.NewString(), nil)
	if w.Code != http.StatusNotFound {
		t.Errorf("status = %d, want 404", w.Code)
	}
}

func TestHTTP_UpdateSessionStatus(t *testing.T) {
	r, store := setupRouter(t, &recordingPlacer{})
	ctx := context.Background()

	sess := validSession()
	if err := store.CreateSession(ctx, sess); err != nil {
		t.Fatalf("CreateSession() error = %v", err)
	}

	w := doJSON(t, r, http.MethodPut, "/api/v1/sessions/"+sess.ID.String()+"/status", map[string]interface{}{
		"status": "running",
		"details": map[string]string{
			"ws_endpoint": "ws://host:9222",
		},
	})
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, body = %s", w.Code, w.Body.String())
	}

	var got Session
	json.Unmarshal(w.Body.Bytes(), &got)
	if got.Status != StatusRunning {
		t.Errorf("status = %v, want running", got.Status)
	}
	if got.WSEndpoint == nil || *got.WSEndpoint != "ws://host:9222" {
		t.Errorf("ws_endpoint = %v", got.WSEndpoint)
	}

	w = doJSON(t, r, http.MethodPut, "/api/v1/sessions/"+sess.ID.String()+"/status", map[string]interface{}{
		"status": "not_a_status",
	})
	if w.Code != http.StatusBadRequest {
		t.Errorf("status = %d, want 400", w.Code)
	}
}

func TestHTTP_Events(t *testing.T) {
	r, store := setupRouter(t, &recordingPlacer{})
	ctx := context.Background()

	sess := validSession()
	if err := store.CreateSession(ctx, sess); err != nil {
		t.Fatalf("CreateSession() error = %v", err)
	}

	w := doJSON(t, r, http.MethodPost, "/api/v1/events", map[string]interface{}{
		"session_id": sess.ID,
		"event":      "session_starting",
	})
	if w.Code != http.StatusCreated {
		t.Fatalf("status = %d, body = %s", w.Code, w.Body.String())
	}

	got, _ := store.GetSession(ctx, sess.ID)
	if got.Status != StatusStarting {
		t.Errorf("status = %v, want starting", got.Status)
	}

	w = doJSON(t, r, http.MethodGet, "/api/v1/events?session_id="+sess.ID.String(), nil)
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d", w.Code)
	}

	var list SessionEventListResponse
	json.Unmarshal(w.Body.Bytes(), &list)
	if list.Total != 1 {
		t.Errorf("total = %d, want 1", list.Total)
	}

	w = doJSON(t, r, http.MethodPost, "/api/v1/events", map[string]interface{}{
		"session_id": uuid.New(),
		"event":      "session_starting",
	})
	if w.Code != http.StatusNotFound {
		t.Errorf("status = %d, want 404", w.Code)
	}
}

func TestHTTP_DeleteSession(t *testing.T) {
	r, store := setupRouter(t, &recordingPlacer{})
	ctx := context.Background()

	sess := validSession()
	if err := store.CreateSession(ctx, sess); err != nil {
		t.Fatalf("CreateSession() error = %v", err)
	}

	w := doJSON(t, r, http.MethodDelete, "/api/v1/sessions/"+sess.ID.String(), nil)
	if w.Code != http.StatusNoContent {
		t.Fatalf("status = %d", w.Code)
	}

	if _, err := store.GetSession(ctx, sess.ID); err == nil {
		t.Error("expected session to be deleted")
	}
}
