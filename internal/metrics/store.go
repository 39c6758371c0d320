package metrics

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"go.uber.org/zap"
)

// BucketWidth is the fixed aggregation window for all metric families.
const BucketWidth = 5 * time.Minute

// ToolsModel is the synthetic model name used for tool-call-only usage
// increments. Excluded from usage-by-model breakdowns.
const ToolsModel = "tools"

// BucketStart floors a timestamp to its 5-minute bucket.
func BucketStart(ts time.Time) time.Time {
	return ts.UTC().Truncate(BucketWidth)
}

// Granularity selects how range queries regroup the native 5-minute buckets.
type Granularity string

const (
	GranularityBucket Granularity = "5m"
	GranularityHour   Granularity = "hour"
	GranularityDay    Granularity = "day"
)

// ParseGranularity validates a granularity parameter. This is the one place
// a query argument is rejected rather than defaulted.
func ParseGranularity(s string) (Granularity, error) {
	switch Granularity(s) {
	case GranularityBucket, GranularityHour, GranularityDay:
		return Granularity(s), nil
	case "":
		return GranularityBucket, nil
	default:
		return "", fmt.Errorf("invalid granularity %q", s)
	}
}

// bucketExpr is the SQL expression that regroups bucket_start for the
// granularity. Values are fixed strings, never user input.
func (g Granularity) bucketExpr() string {
	switch g {
	case GranularityHour:
		return "date_trunc('hour', bucket_start)"
	case GranularityDay:
		return "date_trunc('day', bucket_start)"
	default:
		return "bucket_start"
	}
}

// Store is the durable, time-bucketed metrics store. It owns all persistent
// state: usage counters, snapshot families, security events, and the
// sync-state table used by the log-tailing collaborator.
type Store struct {
	db     *sql.DB
	logger *zap.Logger
}

// NewStore wraps an open database handle.
func NewStore(db *sql.DB, logger *zap.Logger) *Store {
	return &Store{db: db, logger: logger}
}

const schema = `
CREATE TABLE IF NOT EXISTS usage_metrics (
	bucket_start      timestamptz NOT NULL,
	model             text        NOT NULL,
	input_tokens      bigint      NOT NULL DEFAULT 0,
	output_tokens     bigint      NOT NULL DEFAULT 0,
	cache_read_tokens bigint      NOT NULL DEFAULT 0,
	cache_write_tokens bigint     NOT NULL DEFAULT 0,
	cost_usd          double precision NOT NULL DEFAULT 0,
	message_count     bigint      NOT NULL DEFAULT 0,
	tool_call_count   bigint      NOT NULL DEFAULT 0,
	PRIMARY KEY (bucket_start, model)
);

CREATE TABLE IF NOT EXISTS performance_metrics (
	bucket_start   timestamptz PRIMARY KEY,
	cpu_percent    double precision NOT NULL DEFAULT 0,
	memory_percent double precision NOT NULL DEFAULT 0,
	event_lag_ms   double precision NOT NULL DEFAULT 0
);

CREATE TABLE IF NOT EXISTS insight_metrics (
	bucket_start        timestamptz PRIMARY KEY,
	active_runs         bigint NOT NULL DEFAULT 0,
	active_sessions     bigint NOT NULL DEFAULT 0,
	avg_run_duration_ms double precision NOT NULL DEFAULT 0
);

CREATE TABLE IF NOT EXISTS memory_metrics (
	bucket_start timestamptz PRIMARY KEY,
	file_count   bigint  NOT NULL DEFAULT 0,
	total_bytes  bigint  NOT NULL DEFAULT 0,
	index_ready  boolean NOT NULL DEFAULT false
);

CREATE TABLE IF NOT EXISTS security_events (
	id           text PRIMARY KEY,
	ts           timestamptz NOT NULL,
	risk_type    text NOT NULL,
	severity     text NOT NULL,
	tool_name    text NOT NULL DEFAULT '',
	command      text NOT NULL DEFAULT '',
	risk_score   double precision NOT NULL DEFAULT 0,
	acknowledged boolean NOT NULL DEFAULT false,
	details      jsonb
);
CREATE INDEX IF NOT EXISTS security_events_ts_idx ON security_events (ts DESC);

CREATE TABLE IF NOT EXISTS sync_state (
	key        text PRIMARY KEY,
	value      text NOT NULL,
	updated_at timestamptz NOT NULL DEFAULT now()
);
`

// EnsureSchema creates the tables if they don't exist.
func (s *Store) EnsureSchema(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, schema); err != nil {
		return fmt.Errorf("EnsureSchema: %w", err)
	}
	return nil
}

// GetSyncState returns the stored value for a bookkeeping key, or "" when
// the key is unset.
func (s *Store) GetSyncState(ctx context.Context, key string) (string, error) {
	var value string
	err := s.db.QueryRowContext(ctx,
		`SELECT value FROM sync_state WHERE key = $1`, key,
	).Scan(&value)
	if err == sql.ErrNoRows {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("GetSyncState: %w", err)
	}
	return value, nil
}

// SetSyncState upserts a bookkeeping key.
func (s *Store) SetSyncState(ctx context.Context, key, value string) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO sync_state (key, value, updated_at)
		VALUES ($1, $2, now())
		ON CONFLICT (key) DO UPDATE SET value = EXCLUDED.value, updated_at = now()`,
		key, value,
	)
	if err != nil {
		return fmt.Errorf("SetSyncState: %w", err)
	}
	return nil
}
