package metrics

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"gorm.io/gorm"
)

func RegisterRoutes(rg *gin.RouterGroup, db *gorm.DB) {
	agg := NewAggregator(db)

	rg.GET("/metrics/session/:id", getSessionMetrics(agg))
	rg.GET("/metrics/system", getSystemMetrics(agg))
	rg.GET("/workerpools/metrics/workers/:id", getWorkerMetrics(agg))
	rg.GET("/workerpools/metrics/workpool/:id", getPoolMetrics(agg))
}

// parseQuery reads the shared window/interval parameters. The window
// defaults to the trailing 24 hours.
func parseQuery(c *gin.Context, defaultInterval string) (Query, bool) {
	q := Query{
		EndTime:  time.Now(),
		Interval: c.DefaultQuery("interval", defaultInterval),
	}
	q.StartTime = q.EndTime.Add(-24 * time.Hour)

	if raw := c.Query("start_time"); raw != "" {
		t, err := time.Parse(time.RFC3339, raw)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid start_time"})
			return q, false
		}
		q.StartTime = t
	}
	if raw := c.Query("end_time"); raw != "" {
		t, err := time.Parse(time.RFC3339, raw)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid end_time"})
			return q, false
		}
		q.EndTime = t
	}
	if q.Interval != "" && !ValidInterval(q.Interval) {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid interval"})
		return q, false
	}
	return q, true
}

// GetSessionMetrics aggregates metrics for one session
// @Summary Get session metrics
// @Description Get raw or time-bucketed metrics for a session
// @Tags metrics
// @Produce json
// @Param id path string true "Session ID (UUID)"
// @Param start_time query string false "Window start (RFC3339)"
// @Param end_time query string false "Window end (RFC3339)"
// @Param interval query string false "Bucket interval (1min, 5min, 15min, 1h, 1d)"
// @Success 200 {object} Report
// @Failure 400 {object} map[string]string
// @Router /api/v1/metrics/session/{id} [get]
func getSessionMetrics(agg *Aggregator) gin.HandlerFunc {
	return func(c *gin.Context) {
		id, err := uuid.Parse(c.Param("id"))
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid session ID"})
			return
		}
		q, ok := parseQuery(c, "")
		if !ok {
			return
		}
		report, err := agg.SessionMetrics(c.Request.Context(), id, q)
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusOK, report)
	}
}

// GetWorkerMetrics aggregates metrics across a worker's sessions
// @Summary Get worker metrics
// @Tags metrics
// @Produce json
// @Param id path string true "Worker ID (UUID)"
// @Param start_time query string false "Window start (RFC3339)"
// @Param end_time query string false "Window end (RFC3339)"
// @Param interval query string false "Bucket interval"
// @Success 200 {object} Report
// @Failure 400 {object} map[string]string
// @Router /api/v1/workerpools/metrics/workers/{id} [get]
func getWorkerMetrics(agg *Aggregator) gin.HandlerFunc {
	return func(c *gin.Context) {
		id, err := uuid.Parse(c.Param("id"))
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid worker ID"})
			return
		}
		q, ok := parseQuery(c, "")
		if !ok {
			return
		}
		report, err := agg.WorkerMetrics(c.Request.Context(), id, q)
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusOK, report)
	}
}

// GetPoolMetrics aggregates metrics across a pool's sessions
// @Summary Get work pool metrics
// @Description Defaults to 1h buckets; set include_worker_breakdown for per-worker series
// @Tags metrics
// @Produce json
// @Param id path string true "Work Pool ID (UUID)"
// @Param start_time query string false "Window start (RFC3339)"
// @Param end_time query string false "Window end (RFC3339)"
// @Param interval query string false "Bucket interval (default 1h)"
// @Param include_worker_breakdown query bool false "Group buckets per worker"
// @Success 200 {object} Report
// @Failure 400 {object} map[string]string
// @Router /api/v1/workerpools/metrics/workpool/{id} [get]
func getPoolMetrics(agg *Aggregator) gin.HandlerFunc {
	return func(c *gin.Context) {
		id, err := uuid.Parse(c.Param("id"))
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid pool ID"})
			return
		}
		q, ok := parseQuery(c, "1h")
		if !ok {
			return
		}
		breakdown := c.Query("include_worker_breakdown") == "true"
		report, err := agg.PoolMetrics(c.Request.Context(), id, q, breakdown)
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusOK, report)
	}
}

// GetSystemMetrics aggregates metrics across all sessions
// @Summary Get system-wide metrics
// @Tags metrics
// @Produce json
// @Param start_time query string false "Window start (RFC3339)"
// @Param end_time query string false "Window end (RFC3339)"
// @Param interval query string false "Bucket interval"
// @Success 200 {object} Report
// @Failure 400 {object} map[string]string
// @Router /api/v1/metrics/system [get]
func getSystemMetrics(agg *Aggregator) gin.HandlerFunc {
	return func(c *gin.Context) {
		q, ok := parseQuery(c, "")
		if !ok {
			return
		}
		report, err := agg.SystemMetrics(c.Request.Context(), q)
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusOK, report)
	}
}
