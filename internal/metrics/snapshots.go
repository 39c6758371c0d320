package metrics

import (
	"context"
	"fmt"
	"time"
)

// Snapshot families record point-in-time gauges, one row per bucket. A new
// write for the same bucket replaces the row: the latest snapshot wins,
// unlike the additive usage counters.

// PerformanceSnapshot is a point-in-time process health reading.
type PerformanceSnapshot struct {
	Timestamp     time.Time
	CPUPercent    float64
	MemoryPercent float64
	EventLagMs    float64
}

// RecordPerformance stores the snapshot, replacing any earlier snapshot in
// the same bucket.
func (s *Store) RecordPerformance(ctx context.Context, snap PerformanceSnapshot) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO performance_metrics (bucket_start, cpu_percent, memory_percent, event_lag_ms)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (bucket_start) DO UPDATE SET
			cpu_percent    = EXCLUDED.cpu_percent,
			memory_percent = EXCLUDED.memory_percent,
			event_lag_ms   = EXCLUDED.event_lag_ms`,
		BucketStart(snap.Timestamp), snap.CPUPercent, snap.MemoryPercent, snap.EventLagMs,
	)
	if err != nil {
		return fmt.Errorf("RecordPerformance: %w", err)
	}
	return nil
}

// PerformancePoint is one regrouped window of performance gauges, averaged.
type PerformancePoint struct {
	Bucket        time.Time
	CPUPercent    float64
	MemoryPercent float64
	EventLagMs    float64
}

// PerformanceRange averages performance gauges across each regrouped window.
func (s *Store) PerformanceRange(ctx context.Context, from, to time.Time, g Granularity) ([]PerformancePoint, error) {
	query := fmt.Sprintf(`
		SELECT %s AS b, AVG(cpu_percent), AVG(memory_percent), AVG(event_lag_ms)
		FROM performance_metrics
		WHERE bucket_start >= $1 AND bucket_start <= $2
		GROUP BY b ORDER BY b`, g.bucketExpr())

	rows, err := s.db.QueryContext(ctx, query, from.UTC(), to.UTC())
	if err != nil {
		return nil, fmt.Errorf("PerformanceRange: %w", err)
	}
	defer rows.Close()

	var points []PerformancePoint
	for rows.Next() {
		var p PerformancePoint
		if err := rows.Scan(&p.Bucket, &p.CPUPercent, &p.MemoryPercent, &p.EventLagMs); err != nil {
			return nil, fmt.Errorf("PerformanceRange: %w", err)
		}
		points = append(points, p)
	}
	return points, rows.Err()
}

// InsightSnapshot is a point-in-time view of pipeline activity.
type InsightSnapshot struct {
	Timestamp        time.Time
	ActiveRuns       int64
	ActiveSessions   int64
	AvgRunDurationMs float64
}

// RecordInsight stores the snapshot, replacing any earlier one in the bucket.
func (s *Store) RecordInsight(ctx context.Context, snap InsightSnapshot) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO insight_metrics (bucket_start, active_runs, active_sessions, avg_run_duration_ms)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (bucket_start) DO UPDATE SET
			active_runs         = EXCLUDED.active_runs,
			active_sessions     = EXCLUDED.active_sessions,
			avg_run_duration_ms = EXCLUDED.avg_run_duration_ms`,
		BucketStart(snap.Timestamp), snap.ActiveRuns, snap.ActiveSessions, snap.AvgRunDurationMs,
	)
	if err != nil {
		return fmt.Errorf("RecordInsight: %w", err)
	}
	return nil
}

// InsightPoint is one regrouped window of insight gauges, averaged.
type InsightPoint struct {
	Bucket           time.Time
	ActiveRuns       float64
	ActiveSessions   float64
	AvgRunDurationMs float64
}

// InsightRange averages insight gauges across each regrouped window.
func (s *Store) InsightRange(ctx context.Context, from, to time.Time, g Granularity) ([]InsightPoint, error) {
	query := fmt.Sprintf(`
		SELECT %s AS b, AVG(active_runs), AVG(active_sessions), AVG(avg_run_duration_ms)
		FROM insight_metrics
		WHERE bucket_start >= $1 AND bucket_start <= $2
		GROUP BY b ORDER BY b`, g.bucketExpr())

	rows, err := s.db.QueryContext(ctx, query, from.UTC(), to.UTC())
	if err != nil {
		return nil, fmt.Errorf("InsightRange: %w", err)
	}
	defer rows.Close()

	var points []InsightPoint
	for rows.Next() {
		var p InsightPoint
		if err := rows.Scan(&p.Bucket, &p.ActiveRuns, &p.ActiveSessions, &p.AvgRunDurationMs); err != nil {
			return nil, fmt.Errorf("InsightRange: %w", err)
		}
		points = append(points, p)
	}
	return points, rows.Err()
}

// MemorySnapshot is a point-in-time view of the agent memory index. The
// count and byte gauges are monotonic; readiness is a flag.
type MemorySnapshot struct {
	Timestamp  time.Time
	FileCount  int64
	TotalBytes int64
	IndexReady bool
}

// RecordMemoryStats stores the snapshot, replacing any earlier one in the
// bucket.
func (s *Store) RecordMemoryStats(ctx context.Context, snap MemorySnapshot) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO memory_metrics (bucket_start, file_count, total_bytes, index_ready)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (bucket_start) DO UPDATE SET
			file_count  = EXCLUDED.file_count,
			total_bytes = EXCLUDED.total_bytes,
			index_ready = EXCLUDED.index_ready`,
		BucketStart(snap.Timestamp), snap.FileCount, snap.TotalBytes, snap.IndexReady,
	)
	if err != nil {
		return fmt.Errorf("RecordMemoryStats: %w", err)
	}
	return nil
}

// MemoryPoint is one regrouped window: max for the monotonic gauges, AND
// across the readiness flags.
type MemoryPoint struct {
	Bucket     time.Time
	FileCount  int64
	TotalBytes int64
	IndexReady bool
}

// MemoryRange regroups memory snapshots across [from, to].
func (s *Store) MemoryRange(ctx context.Context, from, to time.Time, g Granularity) ([]MemoryPoint, error) {
	query := fmt.Sprintf(`
		SELECT %s AS b, MAX(file_count), MAX(total_bytes), BOOL_AND(index_ready)
		FROM memory_metrics
		WHERE bucket_start >= $1 AND bucket_start <= $2
		GROUP BY b ORDER BY b`, g.bucketExpr())

	rows, err := s.db.QueryContext(ctx, query, from.UTC(), to.UTC())
	if err != nil {
		return nil, fmt.Errorf("MemoryRange: %w", err)
	}
	defer rows.Close()

	var points []MemoryPoint
	for rows.Next() {
		var p MemoryPoint
		if err := rows.Scan(&p.Bucket, &p.FileCount, &p.TotalBytes, &p.IndexReady); err != nil {
			return nil, fmt.Errorf("MemoryRange: %w", err)
		}
		points = append(points, p)
	}
	return points, rows.Err()
}
