package collector

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/triage-ai/lookout/internal/archive"
	"github.com/triage-ai/lookout/internal/livefeed"
	"github.com/triage-ai/lookout/internal/metrics"
	"github.com/triage-ai/lookout/internal/risk"
	"github.com/triage-ai/lookout/internal/telemetry"
)

const (
	snapshotInterval = time.Minute
	sweepInterval    = 6 * time.Hour
	writeTimeout     = 5 * time.Second
)

// MetricsStore is the slice of the metrics store the collector writes
// through.
type MetricsStore interface {
	RecordUsage(ctx context.Context, rec metrics.UsageRecord) error
	RecordToolCalls(ctx context.Context, ts time.Time, count int64) error
	RecordPerformance(ctx context.Context, snap metrics.PerformanceSnapshot) error
	RecordInsight(ctx context.Context, snap metrics.InsightSnapshot) error
	RecordMemoryStats(ctx context.Context, snap metrics.MemorySnapshot) error
	InsertSecurityEvent(ctx context.Context, ev metrics.SecurityEvent) (string, error)
	Prune(ctx context.Context, days int) (int64, error)
}

// Collector bridges the live feed to durable storage. It subscribes to feed
// notifications, accumulates usage and security rows in the metrics store,
// forwards alerts to the archive writer, and keeps the Prometheus set
// current. Storage failures are logged and counted, never propagated back
// into event processing.
type Collector struct {
	store   MetricsStore
	feed    *livefeed.Feed
	archive archive.AlertWriter
	logger  *zap.Logger

	retentionDays int
}

// New builds a collector and registers its feed subscriptions. retentionDays
// <= 0 applies the store default.
func New(store MetricsStore, feed *livefeed.Feed, aw archive.AlertWriter, retentionDays int, logger *zap.Logger) *Collector {
	c := &Collector{
		store:         store,
		feed:          feed,
		archive:       aw,
		logger:        logger,
		retentionDays: retentionDays,
	}

	n := feed.Notifier()
	n.OnActivity(c.handleActivity)
	n.OnRunStarted(c.handleRunStarted)
	n.OnRunCompleted(c.handleRunCompleted)
	n.OnRiskAlert(c.handleRiskAlert)
	return c
}

// Run records periodic insight snapshots and triggers retention sweeps until
// the context is cancelled.
func (c *Collector) Run(ctx context.Context) {
	snapshots := time.NewTicker(snapshotInterval)
	defer snapshots.Stop()
	sweeps := time.NewTicker(sweepInterval)
	defer sweeps.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-snapshots.C:
			c.recordInsight(ctx)
		case <-sweeps.C:
			c.sweep(ctx)
		}
	}
}

func (c *Collector) handleActivity(evt livefeed.NormalizedEvent) {
	telemetry.EventsTotal.WithLabelValues(evt.Kind.String()).Inc()

	switch evt.Kind {
	case livefeed.KindHealth:
		c.recordHealth(evt)
	case livefeed.KindAgent:
		if usage, ok := evt.Payload["usage"].(map[string]any); ok {
			c.recordUsage(evt.Timestamp, usage)
		}
	}
}

func (c *Collector) handleRunStarted(livefeed.Run) {
	telemetry.ActiveRuns.Inc()
}

func (c *Collector) handleRunCompleted(run livefeed.Run) {
	telemetry.ActiveRuns.Dec()
	telemetry.RunsCompletedTotal.Inc()
	for _, call := range run.ToolCalls {
		telemetry.ToolCallsTotal.WithLabelValues(call.Name).Inc()
	}
	if len(run.ToolCalls) == 0 {
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), writeTimeout)
	defer cancel()
	if err := c.store.RecordToolCalls(ctx, run.CompletedAt, int64(len(run.ToolCalls))); err != nil {
		telemetry.StoreWriteErrorsTotal.WithLabelValues("usage_metrics").Inc()
		c.logger.Error("tool call write failed",
			zap.String("run_id", run.ID), zap.Error(err))
	}
}

func (c *Collector) handleRiskAlert(alert livefeed.Alert) {
	telemetry.RiskAlertsTotal.WithLabelValues(
		alert.Finding.Severity.String(),
		alert.Finding.Type.String(),
	).Inc()

	command := risk.CommandOf(risk.ToolCall{Name: alert.ToolCall.Name, Input: alert.ToolCall.Input})

	ctx, cancel := context.WithTimeout(context.Background(), writeTimeout)
	defer cancel()
	id, err := c.store.InsertSecurityEvent(ctx, metrics.SecurityEvent{
		Timestamp: alert.At,
		RiskType:  alert.Finding.Type.String(),
		Severity:  alert.Finding.Severity,
		ToolName:  alert.ToolCall.Name,
		Command:   archive.TruncateCommand(command, archive.CommandPreviewLength),
		RiskScore: float64(alert.Finding.Severity),
		Details: map[string]any{
			"run_id":      alert.RunID,
			"session_key": alert.SessionKey,
			"category":    alert.Finding.Category,
			"matched":     alert.Finding.Matched,
		},
	})
	if err != nil {
		telemetry.StoreWriteErrorsTotal.WithLabelValues("security_events").Inc()
		c.logger.Error("security event write failed",
			zap.String("run_id", alert.RunID), zap.Error(err))
	}

	c.archive.Write(&archive.AlertRecord{
		EventID:        id,
		RunID:          alert.RunID,
		SessionKey:     alert.SessionKey,
		Timestamp:      alert.At,
		ToolName:       alert.ToolCall.Name,
		CommandPreview: archive.TruncateCommand(command, archive.CommandPreviewLength),
		RiskType:       alert.Finding.Type.String(),
		Severity:       alert.Finding.Severity.String(),
		SeverityScore:  uint8(alert.Finding.Severity),
		Category:       alert.Finding.Category,
		Matched:        alert.Finding.Matched,
		Description:    alert.Finding.Description,
	})
}

// recordUsage persists one usage payload carried on an agent event.
func (c *Collector) recordUsage(ts time.Time, usage map[string]any) {
	rec := metrics.UsageRecord{
		Timestamp:        ts,
		Model:            payloadString(usage, "model"),
		InputTokens:      payloadInt(usage, "inputTokens"),
		OutputTokens:     payloadInt(usage, "outputTokens"),
		CacheReadTokens:  payloadInt(usage, "cacheReadTokens"),
		CacheWriteTokens: payloadInt(usage, "cacheWriteTokens"),
		CostUSD:          payloadFloat(usage, "costUsd"),
		Messages:         1,
	}
	if rec.Model == "" {
		return
	}

	telemetry.TokensTotal.WithLabelValues(rec.Model, "input").Add(float64(rec.InputTokens))
	telemetry.TokensTotal.WithLabelValues(rec.Model, "output").Add(float64(rec.OutputTokens))
	telemetry.CostUSDTotal.WithLabelValues(rec.Model).Add(rec.CostUSD)

	ctx, cancel := context.WithTimeout(context.Background(), writeTimeout)
	defer cancel()
	if err := c.store.RecordUsage(ctx, rec); err != nil {
		telemetry.StoreWriteErrorsTotal.WithLabelValues("usage_metrics").Inc()
		c.logger.Error("usage write failed",
			zap.String("model", rec.Model), zap.Error(err))
	}
}

// recordHealth persists performance and memory snapshots carried on a
// health event. Event lag is measured against the event's own timestamp.
func (c *Collector) recordHealth(evt livefeed.NormalizedEvent) {
	ctx, cancel := context.WithTimeout(context.Background(), writeTimeout)
	defer cancel()

	lag := time.Since(evt.Timestamp)
	if lag < 0 {
		lag = 0
	}
	perf := metrics.PerformanceSnapshot{
		Timestamp:     evt.Timestamp,
		CPUPercent:    payloadFloat(evt.Payload, "cpuPercent"),
		MemoryPercent: payloadFloat(evt.Payload, "memoryPercent"),
		EventLagMs:    float64(lag.Milliseconds()),
	}
	if err := c.store.RecordPerformance(ctx, perf); err != nil {
		telemetry.StoreWriteErrorsTotal.WithLabelValues("performance_metrics").Inc()
		c.logger.Error("performance write failed", zap.Error(err))
	}

	mem, ok := evt.Payload["memory"].(map[string]any)
	if !ok {
		return
	}
	snap := metrics.MemorySnapshot{
		Timestamp:  evt.Timestamp,
		FileCount:  payloadInt(mem, "fileCount"),
		TotalBytes: payloadInt(mem, "totalBytes"),
	}
	if ready, ok := mem["indexReady"].(bool); ok {
		snap.IndexReady = ready
	}
	if err := c.store.RecordMemoryStats(ctx, snap); err != nil {
		telemetry.StoreWriteErrorsTotal.WithLabelValues("memory_metrics").Inc()
		c.logger.Error("memory stats write failed", zap.Error(err))
	}
}

// recordInsight snapshots feed activity into the insight family.
func (c *Collector) recordInsight(ctx context.Context) {
	stats := c.feed.Stats()
	completed := c.feed.RecentCompleted(livefeed.CompletedRunCap)

	var avgDuration float64
	if len(completed) > 0 {
		var total int64
		for _, run := range completed {
			total += run.DurationMs
		}
		avgDuration = float64(total) / float64(len(completed))
	}

	sessions := make(map[string]struct{})
	for _, run := range c.feed.ActiveRuns() {
		sessions[run.SessionKey] = struct{}{}
	}

	wctx, cancel := context.WithTimeout(ctx, writeTimeout)
	defer cancel()
	err := c.store.RecordInsight(wctx, metrics.InsightSnapshot{
		Timestamp:        time.Now(),
		ActiveRuns:       int64(stats.ActiveRuns),
		ActiveSessions:   int64(len(sessions)),
		AvgRunDurationMs: avgDuration,
	})
	if err != nil {
		telemetry.StoreWriteErrorsTotal.WithLabelValues("insight_metrics").Inc()
		c.logger.Error("insight write failed", zap.Error(err))
	}
}

// sweep runs the retention pass.
func (c *Collector) sweep(ctx context.Context) {
	sctx, cancel := context.WithTimeout(ctx, time.Minute)
	defer cancel()
	if _, err := c.store.Prune(sctx, c.retentionDays); err != nil {
		c.logger.Error("retention sweep failed", zap.Error(err))
	}
}

func payloadString(payload map[string]any, key string) string {
	if v, ok := payload[key].(string); ok {
		return v
	}
	return ""
}

func payloadInt(payload map[string]any, key string) int64 {
	switch v := payload[key].(type) {
	case float64:
		return int64(v)
	case int64:
		return v
	case int:
		return int64(v)
	default:
		return 0
	}
}

func payloadFloat(payload map[string]any, key string) float64 {
	switch v := payload[key].(type) {
	case float64:
		return v
	case int64:
		return float64(v)
	case int:
		return float64(v)
	default:
		return 0
	}
}
