package agent

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"github.com/google/uuid"

	"github.com/autocrawlerHQ/browserfleet/internal/sessions"
	"github.com/autocrawlerHQ/browserfleet/internal/workpool"
)

// Client is the worker-side API client for the central service.
type Client struct {
	baseURL string
	apiKey  string
	http    *http.Client
}

func NewClient(baseURL, apiKey string) *Client {
	return &Client{
		baseURL: baseURL,
		apiKey:  apiKey,
		http:    &http.Client{Timeout: 30 * time.Second},
	}
}

func (c *Client) do(ctx context.Context, method, path string, body, out interface{}) error {
	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return err
		}
		reader = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	if c.apiKey != "" {
		req.Header.Set("X-API-Key", c.apiKey)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		data, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return fmt.Errorf("%s %s: %s: %s", method, path, resp.Status, string(data))
	}

	if out != nil {
		return json.NewDecoder(resp.Body).Decode(out)
	}
	return nil
}

// FindWorker looks up a worker by name within a pool. Returns nil when no
// worker with that name exists yet.
func (c *Client) FindWorker(ctx context.Context, poolID uuid.UUID, name string) (*workpool.Worker, error) {
	path := fmt.Sprintf("/api/v1/workerpools/workers?name=%s&work_pool_id=%s",
		url.QueryEscape(name), poolID)

	var resp workpool.WorkerListResponse
	if err := c.do(ctx, http.MethodGet, path, nil, &resp); err != nil {
		return nil, err
	}
	if resp.Total == 0 {
		return nil, nil
	}
	return &resp.Workers[0], nil
}

func (c *Client) RegisterWorker(ctx context.Context, w *workpool.Worker) (*workpool.Worker, error) {
	var created workpool.Worker
	if err := c.do(ctx, http.MethodPost, "/api/v1/workerpools/workers", w, &created); err != nil {
		return nil, err
	}
	return &created, nil
}

func (c *Client) Heartbeat(ctx context.Context, workerID uuid.UUID, hb *workpool.WorkerHeartbeat) error {
	path := fmt.Sprintf("/api/v1/workerpools/workers/%s/heartbeat", workerID)
	return c.do(ctx, http.MethodPut, path, hb, nil)
}

func (c *Client) Claim(ctx context.Context, workerID uuid.UUID) (*workpool.ClaimResult, error) {
	path := fmt.Sprintf("/api/v1/workerpools/workers/%s/claim-session", workerID)
	var result workpool.ClaimResult
	if err := c.do(ctx, http.MethodPost, path, nil, &result); err != nil {
		return nil, err
	}
	return &result, nil
}

// PushEvent reports a lifecycle event for a session.
func (c *Client) PushEvent(ctx context.Context, sessionID uuid.UUID, event sessions.SessionEventType, data map[string]interface{}) error {
	body := map[string]interface{}{
		"session_id": sessionID,
		"event":      event,
	}
	if data != nil {
		body["data"] = data
	}
	return c.do(ctx, http.MethodPost, "/api/v1/events", body, nil)
}

// SetSessionStatus sets a session status directly, bypassing the event map.
// Used for FAILED, which has no corresponding event.
func (c *Client) SetSessionStatus(ctx context.Context, sessionID uuid.UUID, status sessions.SessionStatus, details map[string]interface{}) error {
	path := fmt.Sprintf("/api/v1/sessions/%s/status", sessionID)
	body := map[string]interface{}{"status": status}
	if details != nil {
		body["details"] = details
	}
	return c.do(ctx, http.MethodPut, path, body, nil)
}

func (c *Client) PushMetrics(ctx context.Context, m *sessions.SessionMetrics) error {
	return c.do(ctx, http.MethodPost, "/api/v1/metrics", m, nil)
}
