package sessions

import (
	"log"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"gorm.io/gorm"
)

func RegisterRoutes(rg *gin.RouterGroup, db *gorm.DB, placer Placer) {
	store := NewStore(db)

	rg.POST("/sessions", createSession(store, placer))
	rg.GET("/sessions", listSessions(store))
	rg.GET("/sessions/:id", getSession(store))
	rg.DELETE("/sessions/:id", deleteSession(store))
	rg.POST("/sessions/:id/refresh", refreshSession(store))
	rg.PUT("/sessions/:id/status", updateSessionStatus(store))

	rg.POST("/events", createEvent(store))
	rg.GET("/events", listEvents(store))
	rg.POST("/metrics", createMetrics(store))
}

// CreateSession creates a new browser session
// @Summary Create a new browser session
// @Description Create a new browser session and place it on a work pool
// @Tags sessions
// @Accept json
// @Produce json
// @Param session body Session true "Session configuration"
// @Success 201 {object} Session
// @Failure 400 {object} ErrorResponse
// @Failure 500 {object} ErrorResponse
// @Router /api/v1/sessions [post]
func createSession(store *Store, placer Placer) gin.HandlerFunc {
	return func(c *gin.Context) {
		var req Session
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}

		if req.Browser == "" {
			c.JSON(http.StatusBadRequest, gin.H{"error": "browser is required"})
			return
		}
		if req.Version == "" {
			req.Version = VerLatest
		}
		if req.OperatingSystem == "" {
			req.OperatingSystem = OSLinux
		}
		if req.Screen.Width == 0 || req.Screen.Height == 0 {
			req.Screen.Width = 1920
			req.Screen.Height = 1080
		}
		if req.Screen.DPI == 0 {
			req.Screen.DPI = 96
		}
		if req.Screen.Scale == 0 {
			req.Screen.Scale = 1.0
		}
		if req.Environment == nil {
			req.Environment = []byte("{}")
		}

		requestedPool := req.WorkPoolID
		req.WorkPoolID = nil
		req.WorkerID = nil
		req.Status = StatusPending

		if err := store.CreateSession(c.Request.Context(), &req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}

		if placer != nil {
			if err := placer.Place(c.Request.Context(), req.ID, requestedPool); err != nil {
				// The session stays PENDING and unbound; the reconciler
				// retries placement on its next tick.
				log.Printf("[SESSIONS] placement deferred for %s: %v", req.ID, err)
			}
		}

		sess, err := store.GetSession(c.Request.Context(), req.ID)
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusCreated, sess)
	}
}

// ListSessions lists all sessions with optional filtering
// @Summary List browser sessions
// @Description Get a list of browser sessions with optional filtering by status, pool, worker and time range
// @Tags sessions
// @Accept json
// @Produce json
// @Param status query SessionStatus false "Filter by session status" Enums(pending,starting,running,completed,failed,expired,crashed,timed_out,terminated)
// @Param work_pool_id query string false "Filter by work pool ID"
// @Param worker_id query string false "Filter by worker ID"
// @Param start_time query string false "Filter sessions created after this time (RFC3339)"
// @Param end_time query string false "Filter sessions created before this time (RFC3339)"
// @Param offset query int false "Pagination offset" default(0)
// @Param limit query int false "Pagination limit" default(100)
// @Success 200 {object} SessionListResponse "List of sessions with pagination info"
// @Failure 500 {object} ErrorResponse
// @Router /api/v1/sessions [get]
func listSessions(store *Store) gin.HandlerFunc {
	return func(c *gin.Context) {
		var filter SessionFilter

		if v := c.Query("status"); v != "" {
			s := SessionStatus(v)
			if !s.Valid() {
				c.JSON(http.StatusBadRequest, gin.H{"error": "invalid status"})
				return
			}
			filter.Status = &s
		}
		if v := c.Query("work_pool_id"); v != "" {
			id, err := uuid.Parse(v)
			if err != nil {
				c.JSON(http.StatusBadRequest, gin.H{"error": "invalid work_pool_id"})
				return
			}
			filter.WorkPoolID = &id
		}
		if v := c.Query("worker_id"); v != "" {
			id, err := uuid.Parse(v)
			if err != nil {
				c.JSON(http.StatusBadRequest, gin.H{"error": "invalid worker_id"})
				return
			}
			filter.WorkerID = &id
		}
		if v := c.Query("start_time"); v != "" {
			if t, err := time.Parse(time.RFC3339, v); err == nil {
				filter.Start = &t
			}
		}
		if v := c.Query("end_time"); v != "" {
			if t, err := time.Parse(time.RFC3339, v); err == nil {
				filter.End = &t
			}
		}
		offset, _ := strconv.Atoi(c.DefaultQuery("offset", "0"))
		limit, _ := strconv.Atoi(c.DefaultQuery("limit", "100"))

		sessions, err := store.ListSessions(c.Request.Context(), filter, offset, limit)
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusOK, gin.H{
			"sessions": sessions,
			"total":    len(sessions),
			"offset":   offset,
			"limit":    limit,
		})
	}
}

// GetSession retrieves a specific session by ID
// @Summary Get a browser session
// @Description Get details of a browser session, optionally with its events and metrics
// @Tags sessions
// @Accept json
// @Produce json
// @Param id path string true "Session ID (UUID)"
// @Param include_events query bool false "Include session events"
// @Param include_metrics query bool false "Include session metrics"
// @Success 200 {object} SessionWithRelations
// @Failure 400 {object} ErrorResponse
// @Failure 404 {object} ErrorResponse
// @Router /api/v1/sessions/{id} [get]
func getSession(store *Store) gin.HandlerFunc {
	return func(c *gin.Context) {
		id, err := uuid.Parse(c.Param("id"))
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid session ID"})
			return
		}

		includeEvents := c.Query("include_events") == "true"
		includeMetrics := c.Query("include_metrics") == "true"

		sess, err := store.GetSessionWithRelations(c.Request.Context(), id, includeEvents, includeMetrics)
		if err != nil {
			c.JSON(http.StatusNotFound, gin.H{"error": "session not found"})
			return
		}
		c.JSON(http.StatusOK, sess)
	}
}

// DeleteSession deletes a session
// @Summary Delete a browser session
// @Description Delete a session; active sessions are terminated first unless force is set
// @Tags sessions
// @Accept json
// @Produce json
// @Param id path string true "Session ID (UUID)"
// @Param force query bool false "Skip termination and delete outright"
// @Success 204
// @Failure 400 {object} ErrorResponse
// @Failure 404 {object} ErrorResponse
// @Router /api/v1/sessions/{id} [delete]
func deleteSession(store *Store) gin.HandlerFunc {
	return func(c *gin.Context) {
		id, err := uuid.Parse(c.Param("id"))
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid session ID"})
			return
		}
		force := c.Query("force") == "true"

		if err := store.DeleteSession(c.Request.Context(), id, force); err != nil {
			if err == gorm.ErrRecordNotFound {
				c.JSON(http.StatusNotFound, gin.H{"error": "session not found"})
				return
			}
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
			return
		}
		c.Status(http.StatusNoContent)
	}
}

// RefreshSession extends a session's expiry
// @Summary Refresh a browser session
// @Description Extend the session's expires_at by its timeout from now
// @Tags sessions
// @Accept json
// @Produce json
// @Param id path string true "Session ID (UUID)"
// @Success 200 {object} Session
// @Failure 400 {object} ErrorResponse
// @Failure 404 {object} ErrorResponse
// @Router /api/v1/sessions/{id}/refresh [post]
func refreshSession(store *Store) gin.HandlerFunc {
	return func(c *gin.Context) {
		id, err := uuid.Parse(c.Param("id"))
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid session ID"})
			return
		}

		sess, err := store.RefreshSession(c.Request.Context(), id)
		if err != nil {
			if err == gorm.ErrRecordNotFound {
				c.JSON(http.StatusNotFound, gin.H{"error": "session not found"})
				return
			}
			c.JSON(http.StatusConflict, gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusOK, sess)
	}
}

// UpdateSessionStatus sets a session status directly
// @Summary Update session status
// @Description Set a session status with optional connection details; ignored unless it advances the lifecycle
// @Tags sessions
// @Accept json
// @Produce json
// @Param id path string true "Session ID (UUID)"
// @Param status body object true "Status update"
// @Success 200 {object} Session
// @Failure 400 {object} ErrorResponse
// @Failure 404 {object} ErrorResponse
// @Router /api/v1/sessions/{id}/status [put]
func updateSessionStatus(store *Store) gin.HandlerFunc {
	return func(c *gin.Context) {
		id, err := uuid.Parse(c.Param("id"))
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid session ID"})
			return
		}

		var req struct {
			Status  SessionStatus          `json:"status" binding:"required"`
			Details map[string]interface{} `json:"details"`
		}
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}

		sess, err := store.ApplyStatus(c.Request.Context(), id, req.Status, req.Details)
		if err != nil {
			if err == gorm.ErrRecordNotFound {
				c.JSON(http.StatusNotFound, gin.H{"error": "session not found"})
				return
			}
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusOK, sess)
	}
}

// CreateEvent creates a new session event
// @Summary Create a session event
// @Description Append a lifecycle event; forward transitions also advance the session status
// @Tags events
// @Accept json
// @Produce json
// @Param event body SessionEvent true "Session event data"
// @Success 201 {object} SessionEvent
// @Failure 400 {object} ErrorResponse
// @Failure 404 {object} ErrorResponse
// @Router /api/v1/events [post]
func createEvent(store *Store) gin.HandlerFunc {
	return func(c *gin.Context) {
		var ev SessionEvent
		if err := c.ShouldBindJSON(&ev); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}

		if ev.SessionID == uuid.Nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "session_id is required"})
			return
		}
		if ev.Event == "" {
			c.JSON(http.StatusBadRequest, gin.H{"error": "event is required"})
			return
		}

		if err := store.ApplyEvent(c.Request.Context(), &ev); err != nil {
			if err == gorm.ErrRecordNotFound {
				c.JSON(http.StatusNotFound, gin.H{"error": "session not found"})
				return
			}
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusCreated, ev)
	}
}

// ListEvents lists session events with optional filtering
// @Summary List session events
// @Description Get a list of session events with optional filtering by session, event type and time range
// @Tags events
// @Accept json
// @Produce json
// @Param session_id query string false "Filter by session ID"
// @Param event_type query SessionEventType false "Filter by event type"
// @Param start_time query string false "Filter events created after this time (RFC3339)"
// @Param end_time query string false "Filter events created before this time (RFC3339)"
// @Param offset query int false "Pagination offset" default(0)
// @Param limit query int false "Pagination limit" default(100)
// @Success 200 {object} SessionEventListResponse "List of events with pagination info"
// @Failure 400 {object} ErrorResponse
// @Failure 500 {object} ErrorResponse
// @Router /api/v1/events [get]
func listEvents(store *Store) gin.HandlerFunc {
	return func(c *gin.Context) {
		var (
			sessionIDPtr *uuid.UUID
			eventType    *SessionEventType
			start, end   *time.Time
		)

		if q := c.Query("session_id"); q != "" {
			sessionID, err := uuid.Parse(q)
			if err != nil {
				c.JSON(http.StatusBadRequest, gin.H{"error": "invalid session_id"})
				return
			}
			sessionIDPtr = &sessionID
		}
		if v := c.Query("event_type"); v != "" {
			et := SessionEventType(v)
			eventType = &et
		}
		if v := c.Query("start_time"); v != "" {
			if t, err := time.Parse(time.RFC3339, v); err == nil {
				start = &t
			}
		}
		if v := c.Query("end_time"); v != "" {
			if t, err := time.Parse(time.RFC3339, v); err == nil {
				end = &t
			}
		}
		offset, _ := strconv.Atoi(c.DefaultQuery("offset", "0"))
		limit, _ := strconv.Atoi(c.DefaultQuery("limit", "100"))

		events, err := store.ListEvents(c.Request.Context(), sessionIDPtr, eventType, start, end, offset, limit)
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusOK, gin.H{
			"events": events,
			"total":  len(events),
			"offset": offset,
			"limit":  limit,
		})
	}
}

// CreateMetrics creates session performance metrics
// @Summary Create session metrics
// @Description Record a performance sample for a session (CPU, memory, network usage)
// @Tags metrics
// @Accept json
// @Produce json
// @Param metrics body SessionMetrics true "Session metrics data"
// @Success 201 {object} SessionMetrics
// @Failure 400 {object} ErrorResponse
// @Failure 500 {object} ErrorResponse
// @Router /api/v1/metrics [post]
func createMetrics(store *Store) gin.HandlerFunc {
	return func(c *gin.Context) {
		var metrics SessionMetrics
		if err := c.ShouldBindJSON(&metrics); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}

		if metrics.SessionID == uuid.Nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "session_id is required"})
			return
		}

		if err := store.CreateMetrics(c.Request.Context(), &metrics); err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusCreated, metrics)
	}
}
