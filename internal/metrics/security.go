package metrics

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/triage-ai/lookout/internal/risk"
)

// SecurityEvent is one recorded risk finding. Rows append; only the
// acknowledged flag mutates afterwards.
type SecurityEvent struct {
	ID           string
	Timestamp    time.Time
	RiskType     string
	Severity     risk.Severity
	ToolName     string
	Command      string
	RiskScore    float64
	Acknowledged bool
	Details      map[string]any
}

// InsertSecurityEvent appends an event, assigning it a fresh id. The
// assigned id is returned so callers can hand it to reviewers.
func (s *Store) InsertSecurityEvent(ctx context.Context, ev SecurityEvent) (string, error) {
	id := uuid.NewString()
	var details []byte
	if ev.Details != nil {
		var err error
		details, err = json.Marshal(ev.Details)
		if err != nil {
			return "", fmt.Errorf("InsertSecurityEvent: %w", err)
		}
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO security_events (id, ts, risk_type, severity, tool_name, command, risk_score, acknowledged, details)
		VALUES ($1, $2, $3, $4, $5, $6, $7, false, $8)`,
		id, ev.Timestamp.UTC(), ev.RiskType, ev.Severity.String(),
		ev.ToolName, ev.Command, ev.RiskScore, details,
	)
	if err != nil {
		return "", fmt.Errorf("InsertSecurityEvent: %w", err)
	}
	return id, nil
}

// SecurityEventFilter narrows a security event listing. Zero value means
// everything, newest first, capped at the default limit.
type SecurityEventFilter struct {
	MinSeverity        risk.Severity
	UnacknowledgedOnly bool
	Limit              int
}

const defaultSecurityEventLimit = 100

// SecurityEvents lists recorded events newest first.
func (s *Store) SecurityEvents(ctx context.Context, f SecurityEventFilter) ([]SecurityEvent, error) {
	limit := f.Limit
	if limit <= 0 {
		limit = defaultSecurityEventLimit
	}

	// Severity is stored by name, so a threshold becomes a name list.
	args := []any{limit}
	placeholders := make([]string, 0, int(risk.SeverityCritical-f.MinSeverity)+1)
	for sev := f.MinSeverity; sev <= risk.SeverityCritical; sev++ {
		args = append(args, sev.String())
		placeholders = append(placeholders, fmt.Sprintf("$%d", len(args)))
	}

	query := fmt.Sprintf(`
		SELECT id, ts, risk_type, severity, tool_name, command, risk_score, acknowledged, details
		FROM security_events
		WHERE severity IN (%s)`, strings.Join(placeholders, ", "))
	if f.UnacknowledgedOnly {
		query += " AND NOT acknowledged"
	}
	query += " ORDER BY ts DESC LIMIT $1"

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("SecurityEvents: %w", err)
	}
	defer rows.Close()

	var events []SecurityEvent
	for rows.Next() {
		var (
			ev      SecurityEvent
			sevName string
			details []byte
		)
		if err := rows.Scan(
			&ev.ID, &ev.Timestamp, &ev.RiskType, &sevName,
			&ev.ToolName, &ev.Command, &ev.RiskScore, &ev.Acknowledged, &details,
		); err != nil {
			return nil, fmt.Errorf("SecurityEvents: %w", err)
		}
		ev.Severity = risk.ParseSeverity(sevName)
		if len(details) > 0 {
			if err := json.Unmarshal(details, &ev.Details); err != nil {
				s.logger.Warn("security event details unreadable",
					zap.String("id", ev.ID), zap.Error(err))
			}
		}
		events = append(events, ev)
	}
	return events, rows.Err()
}

// AcknowledgeSecurityEvent marks an event reviewed. Unknown ids are an
// error so callers can surface a stale-id to the operator.
func (s *Store) AcknowledgeSecurityEvent(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE security_events SET acknowledged = true WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("AcknowledgeSecurityEvent: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("AcknowledgeSecurityEvent: %w", err)
	}
	if n == 0 {
		return fmt.Errorf("AcknowledgeSecurityEvent: no event %q", id)
	}
	return nil
}

// SecuritySummary aggregates the recorded events in a range.
type SecuritySummary struct {
	Total          int64
	Unacknowledged int64
	BySeverity     map[string]int64
	MeanRiskScore  float64
}

// GetSecuritySummary returns per-severity counts, the unacknowledged
// backlog, and the mean risk score over [from, to].
func (s *Store) GetSecuritySummary(ctx context.Context, from, to time.Time) (SecuritySummary, error) {
	sum := SecuritySummary{BySeverity: make(map[string]int64)}

	rows, err := s.db.QueryContext(ctx, `
		SELECT severity, COUNT(*)
		FROM security_events
		WHERE ts >= $1 AND ts <= $2
		GROUP BY severity`,
		from.UTC(), to.UTC(),
	)
	if err != nil {
		return SecuritySummary{}, fmt.Errorf("GetSecuritySummary: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		var (
			name  string
			count int64
		)
		if err := rows.Scan(&name, &count); err != nil {
			return SecuritySummary{}, fmt.Errorf("GetSecuritySummary: %w", err)
		}
		sum.BySeverity[name] = count
		sum.Total += count
	}
	if err := rows.Err(); err != nil {
		return SecuritySummary{}, fmt.Errorf("GetSecuritySummary: %w", err)
	}

	var mean sql.NullFloat64
	err = s.db.QueryRowContext(ctx, `
		SELECT COUNT(*) FILTER (WHERE NOT acknowledged), AVG(risk_score)
		FROM security_events
		WHERE ts >= $1 AND ts <= $2`,
		from.UTC(), to.UTC(),
	).Scan(&sum.Unacknowledged, &mean)
	if err != nil {
		return SecuritySummary{}, fmt.Errorf("GetSecuritySummary: %w", err)
	}
	if mean.Valid {
		sum.MeanRiskScore = mean.Float64
	}
	return sum, nil
}
