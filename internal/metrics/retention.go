package metrics

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"
)

// DefaultRetentionDays is how long metric rows live before the sweep
// removes them.
const DefaultRetentionDays = 30

// Prune deletes rows older than the retention window across every metric
// family and returns the total number of rows removed. days <= 0 applies
// the default. sync_state is bookkeeping, not history, and is never swept.
func (s *Store) Prune(ctx context.Context, days int) (int64, error) {
	if days <= 0 {
		days = DefaultRetentionDays
	}
	cutoff := time.Now().UTC().AddDate(0, 0, -days)

	sweeps := []struct {
		table  string
		column string
	}{
		{"usage_metrics", "bucket_start"},
		{"performance_metrics", "bucket_start"},
		{"insight_metrics", "bucket_start"},
		{"memory_metrics", "bucket_start"},
		{"security_events", "ts"},
	}

	var total int64
	for _, sw := range sweeps {
		res, err := s.db.ExecContext(ctx,
			fmt.Sprintf("DELETE FROM %s WHERE %s < $1", sw.table, sw.column), cutoff)
		if err != nil {
			return total, fmt.Errorf("Prune: %s: %w", sw.table, err)
		}
		n, err := res.RowsAffected()
		if err != nil {
			return total, fmt.Errorf("Prune: %s: %w", sw.table, err)
		}
		total += n
	}

	s.logger.Info("retention sweep complete",
		zap.Int("days", days),
		zap.Time("cutoff", cutoff),
		zap.Int64("rows_removed", total))
	return total, nil
}
