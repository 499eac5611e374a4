package metrics

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/autocrawlerHQ/browserfleet/internal/sessions"
)

// intervalSeconds maps the supported rollup intervals to their bucket
// widths. Buckets are epoch-floored so they align across queries.
var intervalSeconds = map[string]int64{
	"1min":  60,
	"5min":  300,
	"15min": 900,
	"1h":    3600,
	"1d":    86400,
}

func ValidInterval(interval string) bool {
	_, ok := intervalSeconds[interval]
	return ok
}

// Bucket is one time-bucketed rollup row.
type Bucket struct {
	BucketStart     time.Time  `json:"bucket_start"`
	AvgCPUPercent   *float64   `json:"avg_cpu_percent,omitempty"`
	AvgMemoryMB     *float64   `json:"avg_memory_mb,omitempty"`
	SumMemoryMB     *float64   `json:"sum_memory_mb,omitempty"`
	SumNetworkRX    *int64     `json:"sum_network_rx_bytes,omitempty"`
	SumNetworkTX    *int64     `json:"sum_network_tx_bytes,omitempty"`
	Samples         int        `json:"samples"`
	DistinctSession int        `json:"distinct_sessions"`
	WorkerID        *uuid.UUID `json:"worker_id,omitempty"`
}

// Report is the response document for an aggregation query.
type Report struct {
	Dimension string                    `json:"dimension"`
	ID        *uuid.UUID                `json:"id,omitempty"`
	Interval  string                    `json:"interval,omitempty"`
	StartTime time.Time                 `json:"start_time"`
	EndTime   time.Time                 `json:"end_time"`
	Buckets   []Bucket                  `json:"buckets,omitempty"`
	Raw       []sessions.SessionMetrics `json:"raw,omitempty"`
}

// Aggregator answers read-only rollup queries over session_metrics.
type Aggregator struct {
	db *gorm.DB
}

func NewAggregator(db *gorm.DB) *Aggregator {
	return &Aggregator{db: db}
}

// Query scopes a metrics aggregation.
type Query struct {
	StartTime time.Time
	EndTime   time.Time
	Interval  string // empty means raw rows
}

const bucketExpr = "to_timestamp(floor(extract(epoch from session_metrics.timestamp) / %d) * %d)"

func aggregateColumns(secs int64) string {
	bucket := fmt.Sprintf(bucketExpr, secs, secs)
	return bucket + ` AS bucket_start,
		AVG(session_metrics.cpu_percent) AS avg_cpu_percent,
		AVG(session_metrics.memory_mb) AS avg_memory_mb,
		SUM(session_metrics.memory_mb) AS sum_memory_mb,
		SUM(session_metrics.network_rx_bytes) AS sum_network_rx,
		SUM(session_metrics.network_tx_bytes) AS sum_network_tx,
		COUNT(*) AS samples,
		COUNT(DISTINCT session_metrics.session_id) AS distinct_session`
}

func (a *Aggregator) scoped(ctx context.Context, q Query) *gorm.DB {
	return a.db.WithContext(ctx).
		Model(&sessions.SessionMetrics{}).
		Where("session_metrics.timestamp >= ? AND session_metrics.timestamp < ?", q.StartTime, q.EndTime)
}

func (a *Aggregator) run(base *gorm.DB, q Query, report *Report) error {
	if q.Interval == "" {
		err := base.Order("session_metrics.timestamp ASC").Find(&report.Raw).Error
		return err
	}

	secs, ok := intervalSeconds[q.Interval]
	if !ok {
		return fmt.Errorf("unsupported interval: %s", q.Interval)
	}

	err := base.
		Select(aggregateColumns(secs)).
		Group("bucket_start").
		Order("bucket_start ASC").
		Scan(&report.Buckets).Error
	return err
}

// SessionMetrics aggregates samples for a single session.
func (a *Aggregator) SessionMetrics(ctx context.Context, sessionID uuid.UUID, q Query) (*Report, error) {
	report := &Report{
		Dimension: "session",
		ID:        &sessionID,
		Interval:  q.Interval,
		StartTime: q.StartTime,
		EndTime:   q.EndTime,
	}
	base := a.scoped(ctx, q).Where("session_metrics.session_id = ?", sessionID)
	if err := a.run(base, q, report); err != nil {
		return nil, err
	}
	return report, nil
}

// WorkerMetrics aggregates samples across every session the worker ran.
func (a *Aggregator) WorkerMetrics(ctx context.Context, workerID uuid.UUID, q Query) (*Report, error) {
	report := &Report{
		Dimension: "worker",
		ID:        &workerID,
		Interval:  q.Interval,
		StartTime: q.StartTime,
		EndTime:   q.EndTime,
	}
	base := a.scoped(ctx, q).
		Joins("JOIN sessions ON sessions.id = session_metrics.session_id").
		Where("sessions.worker_id = ?", workerID)
	if err := a.run(base, q, report); err != nil {
		return nil, err
	}
	return report, nil
}

// PoolMetrics aggregates samples across every session placed on the pool.
// With breakdown it returns one bucket series per worker.
func (a *Aggregator) PoolMetrics(ctx context.Context, poolID uuid.UUID, q Query, breakdown bool) (*Report, error) {
	report := &Report{
		Dimension: "pool",
		ID:        &poolID,
		Interval:  q.Interval,
		StartTime: q.StartTime,
		EndTime:   q.EndTime,
	}

	base := a.scoped(ctx, q).
		Joins("JOIN sessions ON sessions.id = session_metrics.session_id").
		Where("sessions.work_pool_id = ?", poolID)

	if q.Interval == "" || !breakdown {
		if err := a.run(base, q, report); err != nil {
			return nil, err
		}
		return report, nil
	}

	secs := intervalSeconds[q.Interval]
	if secs == 0 {
		return nil, fmt.Errorf("unsupported interval: %s", q.Interval)
	}

	err := base.
		Select(aggregateColumns(secs) + ", sessions.worker_id AS worker_id").
		Group("bucket_start, sessions.worker_id").
		Order("bucket_start ASC, sessions.worker_id ASC").
		Scan(&report.Buckets).Error
	if err != nil {
		return nil, err
	}
	return report, nil
}

// SystemMetrics aggregates every sample in the window.
func (a *Aggregator) SystemMetrics(ctx context.Context, q Query) (*Report, error) {
	report := &Report{
		Dimension: "system",
		Interval:  q.Interval,
		StartTime: q.StartTime,
		EndTime:   q.EndTime,
	}
	if err := a.run(a.scoped(ctx, q), q, report); err != nil {
		return nil, err
	}
	return report, nil
}
