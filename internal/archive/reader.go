package archive

import (
	"context"
	"crypto/tls"
	"fmt"
	"math"
	"strings"
	"time"

	"github.com/ClickHouse/clickhouse-go/v2"
	"github.com/ClickHouse/clickhouse-go/v2/lib/driver"
	"go.uber.org/zap"
)

// Reader provides read access to the ClickHouse risk_alerts table.
type Reader struct {
	conn   driver.Conn
	logger *zap.Logger
}

// NewReader opens a ClickHouse connection for read queries.
func NewReader(dsn string, logger *zap.Logger) (*Reader, error) {
	opts, err := clickhouse.ParseDSN(dsn)
	if err != nil {
		return nil, fmt.Errorf("NewReader: %w", err)
	}
	if opts.TLS == nil {
		opts.TLS = &tls.Config{}
	}

	conn, err := clickhouse.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("NewReader: %w", err)
	}
	if err := conn.Ping(context.Background()); err != nil {
		return nil, fmt.Errorf("NewReader: %w", err)
	}

	return &Reader{conn: conn, logger: logger}, nil
}

// Close closes the ClickHouse connection.
func (r *Reader) Close() error {
	return r.conn.Close()
}

// ListAlertsParams holds filters and pagination for alert listing.
type ListAlertsParams struct {
	SessionKey *string
	RunID      *string
	ToolName   *string
	RiskType   *string
	MinScore   *uint8
	StartTime  *time.Time
	EndTime    *time.Time
	Page       int
	PageSize   int
}

// ListAlerts returns paginated, filtered risk alerts and the total count,
// newest first.
func (r *Reader) ListAlerts(ctx context.Context, params ListAlertsParams) ([]AlertRecord, int, error) {
	conditions := []string{"1 = 1"}
	var args []any

	if params.SessionKey != nil {
		conditions = append(conditions, "session_key = @session_key")
		args = append(args, clickhouse.Named("session_key", *params.SessionKey))
	}
	if params.RunID != nil {
		conditions = append(conditions, "run_id = @run_id")
		args = append(args, clickhouse.Named("run_id", *params.RunID))
	}
	if params.ToolName != nil {
		conditions = append(conditions, "tool_name = @tool_name")
		args = append(args, clickhouse.Named("tool_name", *params.ToolName))
	}
	if params.RiskType != nil {
		conditions = append(conditions, "risk_type = @risk_type")
		args = append(args, clickhouse.Named("risk_type", *params.RiskType))
	}
	if params.MinScore != nil {
		conditions = append(conditions, "severity_score >= @min_score")
		args = append(args, clickhouse.Named("min_score", *params.MinScore))
	}
	if params.StartTime != nil {
		conditions = append(conditions, "timestamp >= @start_time")
		args = append(args, clickhouse.Named("start_time", *params.StartTime))
	}
	if params.EndTime != nil {
		conditions = append(conditions, "timestamp <= @end_time")
		args = append(args, clickhouse.Named("end_time", *params.EndTime))
	}

	where := strings.Join(conditions, " AND ")
	if params.Page < 1 {
		params.Page = 1
	}
	if params.PageSize < 1 {
		params.PageSize = 50
	}
	offset := (params.Page - 1) * params.PageSize

	var total uint64
	countQuery := fmt.Sprintf("SELECT count() FROM risk_alerts WHERE %s", where)
	if err := r.conn.QueryRow(ctx, countQuery, args...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("ListAlerts count: %w", err)
	}

	dataQuery := fmt.Sprintf(
		"SELECT event_id, run_id, session_key, timestamp, "+
			"tool_name, command_preview, "+
			"risk_type, severity, severity_score, category, matched, description "+
			"FROM risk_alerts WHERE %s "+
			"ORDER BY timestamp DESC "+
			"LIMIT @limit OFFSET @offset",
		where,
	)
	args = append(args,
		clickhouse.Named("limit", uint32(params.PageSize)),
		clickhouse.Named("offset", uint32(offset)),
	)

	rows, err := r.conn.Query(ctx, dataQuery, args...)
	if err != nil {
		return nil, 0, fmt.Errorf("ListAlerts query: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var alerts []AlertRecord
	for rows.Next() {
		var a AlertRecord
		if err := rows.Scan(
			&a.EventID, &a.RunID, &a.SessionKey, &a.Timestamp,
			&a.ToolName, &a.CommandPreview,
			&a.RiskType, &a.Severity, &a.SeverityScore, &a.Category,
			&a.Matched, &a.Description,
		); err != nil {
			return nil, 0, fmt.Errorf("ListAlerts scan: %w", err)
		}
		alerts = append(alerts, a)
	}

	return alerts, int(total), rows.Err()
}

// SeverityCount holds a severity name and its count.
type SeverityCount struct {
	Severity string `json:"severity"`
	Count    int    `json:"count"`
}

// TimeSeriesBucket holds an hourly count.
type TimeSeriesBucket struct {
	Hour  string `json:"hour"`
	Count int    `json:"count"`
}

// TypeCount holds a risk type and its count.
type TypeCount struct {
	RiskType string `json:"risk_type"`
	Count    int    `json:"count"`
}

// ToolCount holds a tool name and its count.
type ToolCount struct {
	ToolName string `json:"tool_name"`
	Count    int    `json:"count"`
}

// SessionCount holds a session key and its count.
type SessionCount struct {
	SessionKey string `json:"session_key"`
	Count      int    `json:"count"`
}

// AnalyticsResult holds all alert aggregations.
type AnalyticsResult struct {
	Total          int                `json:"total"`
	MeanScore      float64            `json:"mean_score"`
	BySeverity     []SeverityCount    `json:"by_severity"`
	AlertsOverTime []TimeSeriesBucket `json:"alerts_over_time"`
	TopRiskTypes   []TypeCount        `json:"top_risk_types"`
	TopTools       []ToolCount        `json:"top_tools"`
	TopSessions    []SessionCount     `json:"top_sessions"`
}

// GetAnalytics returns aggregated alert analytics over the given number of
// days.
func (r *Reader) GetAnalytics(ctx context.Context, days int) (*AnalyticsResult, error) {
	rangeStart := time.Now().UTC().Add(-time.Duration(days) * 24 * time.Hour)
	baseArgs := []any{clickhouse.Named("range_start", rangeStart)}

	result := &AnalyticsResult{}

	var total uint64
	var mean float64
	err := r.conn.QueryRow(ctx,
		"SELECT count() as total, avg(severity_score) as mean_score "+
			"FROM risk_alerts WHERE timestamp >= @range_start",
		baseArgs...,
	).Scan(&total, &mean)
	if err != nil {
		return nil, fmt.Errorf("GetAnalytics summary: %w", err)
	}
	result.Total = int(total)
	result.MeanScore = safeFloat(mean)

	sevRows, err := r.conn.Query(ctx,
		"SELECT severity, count() as count "+
			"FROM risk_alerts WHERE timestamp >= @range_start "+
			"GROUP BY severity ORDER BY count DESC",
		baseArgs...,
	)
	if err != nil {
		return nil, fmt.Errorf("GetAnalytics by_severity: %w", err)
	}
	defer func() { _ = sevRows.Close() }()
	for sevRows.Next() {
		var sev string
		var count uint64
		if err := sevRows.Scan(&sev, &count); err != nil {
			return nil, fmt.Errorf("GetAnalytics by_severity scan: %w", err)
		}
		result.BySeverity = append(result.BySeverity, SeverityCount{
			Severity: sev, Count: int(count),
		})
	}

	aotRows, err := r.conn.Query(ctx,
		"SELECT toStartOfHour(timestamp) as hour, count() as count "+
			"FROM risk_alerts WHERE timestamp >= @range_start "+
			"GROUP BY hour ORDER BY hour",
		baseArgs...,
	)
	if err != nil {
		return nil, fmt.Errorf("GetAnalytics alerts_over_time: %w", err)
	}
	defer func() { _ = aotRows.Close() }()
	for aotRows.Next() {
		var hour time.Time
		var count uint64
		if err := aotRows.Scan(&hour, &count); err != nil {
			return nil, fmt.Errorf("GetAnalytics alerts_over_time scan: %w", err)
		}
		result.AlertsOverTime = append(result.AlertsOverTime, TimeSeriesBucket{
			Hour:  hour.Format(time.RFC3339),
			Count: int(count),
		})
	}

	typeRows, err := r.conn.Query(ctx,
		"SELECT risk_type, count() as count "+
			"FROM risk_alerts WHERE timestamp >= @range_start "+
			"GROUP BY risk_type ORDER BY count DESC LIMIT 10",
		baseArgs...,
	)
	if err != nil {
		return nil, fmt.Errorf("GetAnalytics top_risk_types: %w", err)
	}
	defer func() { _ = typeRows.Close() }()
	for typeRows.Next() {
		var rt string
		var count uint64
		if err := typeRows.Scan(&rt, &count); err != nil {
			return nil, fmt.Errorf("GetAnalytics top_risk_types scan: %w", err)
		}
		result.TopRiskTypes = append(result.TopRiskTypes, TypeCount{
			RiskType: rt, Count: int(count),
		})
	}

	toolRows, err := r.conn.Query(ctx,
		"SELECT tool_name, count() as count "+
			"FROM risk_alerts WHERE tool_name != '' AND timestamp >= @range_start "+
			"GROUP BY tool_name ORDER BY count DESC LIMIT 10",
		baseArgs...,
	)
	if err != nil {
		return nil, fmt.Errorf("GetAnalytics top_tools: %w", err)
	}
	defer func() { _ = toolRows.Close() }()
	for toolRows.Next() {
		var tool string
		var count uint64
		if err := toolRows.Scan(&tool, &count); err != nil {
			return nil, fmt.Errorf("GetAnalytics top_tools scan: %w", err)
		}
		result.TopTools = append(result.TopTools, ToolCount{
			ToolName: tool, Count: int(count),
		})
	}

	sessRows, err := r.conn.Query(ctx,
		"SELECT session_key, count() as count "+
			"FROM risk_alerts WHERE session_key != '' AND timestamp >= @range_start "+
			"GROUP BY session_key ORDER BY count DESC LIMIT 10",
		baseArgs...,
	)
	if err != nil {
		return nil, fmt.Errorf("GetAnalytics top_sessions: %w", err)
	}
	defer func() { _ = sessRows.Close() }()
	for sessRows.Next() {
		var key string
		var count uint64
		if err := sessRows.Scan(&key, &count); err != nil {
			return nil, fmt.Errorf("GetAnalytics top_sessions scan: %w", err)
		}
		result.TopSessions = append(result.TopSessions, SessionCount{
			SessionKey: key, Count: int(count),
		})
	}

	// Ensure slices are non-nil for JSON serialization
	if result.BySeverity == nil {
		result.BySeverity = []SeverityCount{}
	}
	if result.AlertsOverTime == nil {
		result.AlertsOverTime = []TimeSeriesBucket{}
	}
	if result.TopRiskTypes == nil {
		result.TopRiskTypes = []TypeCount{}
	}
	if result.TopTools == nil {
		result.TopTools = []ToolCount{}
	}
	if result.TopSessions == nil {
		result.TopSessions = []SessionCount{}
	}

	return result, nil
}

// safeFloat replaces NaN/Inf with 0.0.
// ClickHouse returns NaN for avg() on empty result sets.
func safeFloat(f float64) float64 {
	if math.IsNaN(f) || math.IsInf(f, 0) {
		return 0.0
	}
	return f
}
