package metrics

import (
	"context"
	"fmt"
	"time"
)

// UsageRecord is one observed slice of model usage. Counters accumulate
// into the record's 5-minute bucket.
type UsageRecord struct {
	Timestamp        time.Time
	Model            string
	InputTokens      int64
	OutputTokens     int64
	CacheReadTokens  int64
	CacheWriteTokens int64
	CostUSD          float64
	Messages         int64
	ToolCalls        int64
}

// RecordUsage adds the record's counters into its bucket+model row. The
// upsert sums on conflict, so concurrent writers targeting the same bucket
// never lose updates and write order doesn't matter.
func (s *Store) RecordUsage(ctx context.Context, rec UsageRecord) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO usage_metrics (
			bucket_start, model, input_tokens, output_tokens,
			cache_read_tokens, cache_write_tokens, cost_usd,
			message_count, tool_call_count
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		ON CONFLICT (bucket_start, model) DO UPDATE SET
			input_tokens       = usage_metrics.input_tokens + EXCLUDED.input_tokens,
			output_tokens      = usage_metrics.output_tokens + EXCLUDED.output_tokens,
			cache_read_tokens  = usage_metrics.cache_read_tokens + EXCLUDED.cache_read_tokens,
			cache_write_tokens = usage_metrics.cache_write_tokens + EXCLUDED.cache_write_tokens,
			cost_usd           = usage_metrics.cost_usd + EXCLUDED.cost_usd,
			message_count      = usage_metrics.message_count + EXCLUDED.message_count,
			tool_call_count    = usage_metrics.tool_call_count + EXCLUDED.tool_call_count`,
		BucketStart(rec.Timestamp), rec.Model,
		rec.InputTokens, rec.OutputTokens,
		rec.CacheReadTokens, rec.CacheWriteTokens, rec.CostUSD,
		rec.Messages, rec.ToolCalls,
	)
	if err != nil {
		return fmt.Errorf("RecordUsage: %w", err)
	}
	return nil
}

// RecordToolCalls accumulates tool-call-only increments under the synthetic
// "tools" model.
func (s *Store) RecordToolCalls(ctx context.Context, ts time.Time, count int64) error {
	return s.RecordUsage(ctx, UsageRecord{
		Timestamp: ts,
		Model:     ToolsModel,
		ToolCalls: count,
	})
}

// UsagePoint is one regrouped window of usage counters.
type UsagePoint struct {
	Bucket           time.Time
	InputTokens      int64
	OutputTokens     int64
	CacheReadTokens  int64
	CacheWriteTokens int64
	CostUSD          float64
	Messages         int64
	ToolCalls        int64
}

// UsageRange sums usage counters across each regrouped window in
// [from, to], ordered by window start.
func (s *Store) UsageRange(ctx context.Context, from, to time.Time, g Granularity) ([]UsagePoint, error) {
	query := fmt.Sprintf(`
		SELECT %s AS b,
		       SUM(input_tokens), SUM(output_tokens),
		       SUM(cache_read_tokens), SUM(cache_write_tokens),
		       SUM(cost_usd), SUM(message_count), SUM(tool_call_count)
		FROM usage_metrics
		WHERE bucket_start >= $1 AND bucket_start <= $2
		GROUP BY b ORDER BY b`, g.bucketExpr())

	rows, err := s.db.QueryContext(ctx, query, from.UTC(), to.UTC())
	if err != nil {
		return nil, fmt.Errorf("UsageRange: %w", err)
	}
	defer rows.Close()

	var points []UsagePoint
	for rows.Next() {
		var p UsagePoint
		if err := rows.Scan(
			&p.Bucket, &p.InputTokens, &p.OutputTokens,
			&p.CacheReadTokens, &p.CacheWriteTokens,
			&p.CostUSD, &p.Messages, &p.ToolCalls,
		); err != nil {
			return nil, fmt.Errorf("UsageRange: %w", err)
		}
		points = append(points, p)
	}
	return points, rows.Err()
}

// ModelUsage is one model's totals across a range.
type ModelUsage struct {
	Model        string
	TotalTokens  int64
	InputTokens  int64
	OutputTokens int64
	CostUSD      float64
	Messages     int64
}

// UsageByModel returns per-model totals over [from, to], heaviest models
// first. The synthetic "tools" model is excluded.
func (s *Store) UsageByModel(ctx context.Context, from, to time.Time) ([]ModelUsage, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT model,
		       SUM(input_tokens + output_tokens) AS total_tokens,
		       SUM(input_tokens), SUM(output_tokens),
		       SUM(cost_usd), SUM(message_count)
		FROM usage_metrics
		WHERE bucket_start >= $1 AND bucket_start <= $2 AND model != $3
		GROUP BY model
		ORDER BY total_tokens DESC`,
		from.UTC(), to.UTC(), ToolsModel,
	)
	if err != nil {
		return nil, fmt.Errorf("UsageByModel: %w", err)
	}
	defer rows.Close()

	var out []ModelUsage
	for rows.Next() {
		var m ModelUsage
		if err := rows.Scan(
			&m.Model, &m.TotalTokens, &m.InputTokens, &m.OutputTokens,
			&m.CostUSD, &m.Messages,
		); err != nil {
			return nil, fmt.Errorf("UsageByModel: %w", err)
		}
		out = append(out, m)
	}
	return out, rows.Err()
}

// Summary holds range-wide totals and the derived cache-hit ratio.
type Summary struct {
	InputTokens      int64
	OutputTokens     int64
	CacheReadTokens  int64
	CacheWriteTokens int64
	CostUSD          float64
	Messages         int64
	ToolCalls        int64
	CacheHitRatio    float64 // percent
}

// CacheHitRatio computes cacheRead / (cacheRead + input) as a percentage.
// Zero when the denominator is zero.
func CacheHitRatio(cacheRead, input int64) float64 {
	denom := cacheRead + input
	if denom == 0 {
		return 0
	}
	return float64(cacheRead) / float64(denom) * 100
}

// GetSummary returns totals across [from, to]. An empty range yields a
// zeroed summary, not an error.
func (s *Store) GetSummary(ctx context.Context, from, to time.Time) (Summary, error) {
	var sum Summary
	err := s.db.QueryRowContext(ctx, `
		SELECT COALESCE(SUM(input_tokens), 0), COALESCE(SUM(output_tokens), 0),
		       COALESCE(SUM(cache_read_tokens), 0), COALESCE(SUM(cache_write_tokens), 0),
		       COALESCE(SUM(cost_usd), 0), COALESCE(SUM(message_count), 0),
		       COALESCE(SUM(tool_call_count), 0)
		FROM usage_metrics
		WHERE bucket_start >= $1 AND bucket_start <= $2`,
		from.UTC(), to.UTC(),
	).Scan(
		&sum.InputTokens, &sum.OutputTokens,
		&sum.CacheReadTokens, &sum.CacheWriteTokens,
		&sum.CostUSD, &sum.Messages, &sum.ToolCalls,
	)
	if err != nil {
		return Summary{}, fmt.Errorf("GetSummary: %w", err)
	}
	sum.CacheHitRatio = CacheHitRatio(sum.CacheReadTokens, sum.InputTokens)
	return sum, nil
}
