package livefeed

import (
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/triage-ai/lookout/internal/risk"
	"go.uber.org/zap"
)

const (
	// EventBufferCap is the fixed capacity of the recent-event ring buffer.
	EventBufferCap = 500
	// CompletedRunCap bounds the completed-run history.
	CompletedRunCap = 50

	defaultRecentEvents  = 100
	defaultRecentRuns    = 20
	defaultAlertSeverity = risk.SeverityHigh
)

// Feed turns inbound gateway events into normalized history, run-lifecycle
// state, and risk notifications. All mutation happens on the event-processing
// path; read accessors return copies.
type Feed struct {
	logger   *zap.Logger
	notifier *Notifier

	alertSeverity risk.Severity

	mu        sync.RWMutex
	events    []NormalizedEvent // newest first
	active    map[string]*Run
	completed []*Run // newest first

	totalEvents uint64
	toolCalls   uint64
	riskAlerts  uint64
	startedAt   time.Time
}

// Option configures a Feed.
type Option func(*Feed)

// WithAlertSeverity overrides the minimum severity that raises a risk alert.
func WithAlertSeverity(s risk.Severity) Option {
	return func(f *Feed) { f.alertSeverity = s }
}

// New creates an empty feed.
func New(logger *zap.Logger, opts ...Option) *Feed {
	f := &Feed{
		logger:        logger,
		notifier:      &Notifier{},
		alertSeverity: defaultAlertSeverity,
		active:        make(map[string]*Run),
		startedAt:     time.Now(),
	}
	for _, opt := range opts {
		opt(f)
	}
	return f
}

// Notifier returns the feed's notification registry.
func (f *Feed) Notifier() *Notifier {
	return f.notifier
}

// ProcessEvent is the single entry point for inbound gateway events. The
// wire tag selects the kind; unrecognized tags still produce a base record
// so no event is lost. Callers serialize: one event at a time, in arrival
// order.
func (f *Feed) ProcessEvent(tag string, payload map[string]any) NormalizedEvent {
	evt := f.normalize(tag, payload)

	f.mu.Lock()
	f.events = append([]NormalizedEvent{evt}, f.events...)
	if len(f.events) > EventBufferCap {
		f.events = f.events[:EventBufferCap]
	}
	f.totalEvents++
	f.mu.Unlock()

	f.notifier.emitActivity(evt)

	switch evt.Kind {
	case KindAgent:
		f.handleAgent(evt)
	case KindChat:
		f.handleChat(evt)
	case KindPresence:
		f.notifier.emitPresence(evt)
	}

	return evt
}

func (f *Feed) normalize(tag string, payload map[string]any) NormalizedEvent {
	evt := NormalizedEvent{
		ID:        uuid.NewString(),
		Kind:      ParseKind(tag),
		Timestamp: time.Now(),
		RunID:     payloadString(payload, "runId"),
		Stream:    payloadString(payload, "stream"),
		Payload:   payload,
	}

	switch evt.Kind {
	case KindAgent:
		evt.ToolName = payloadString(payload, "tool")
		evt.ToolInput = payloadObject(payload, "toolInput")
		evt.ExecCommand = payloadString(evt.ToolInput, "command") != ""
	case KindChat:
		evt.ChatRole = payloadString(payload, "role")
		evt.ChatContent = payloadString(payload, "content")
	}
	return evt
}

func (f *Feed) handleAgent(evt NormalizedEvent) {
	if evt.RunID == "" {
		return
	}

	f.mu.Lock()
	run, ok := f.active[evt.RunID]
	created := false
	if !ok {
		// A completed run id never comes back to life; late events for a
		// finished run are recorded in the buffer but don't reopen it.
		if f.isCompletedLocked(evt.RunID) {
			f.mu.Unlock()
			return
		}
		run = &Run{
			ID:         evt.RunID,
			SessionKey: payloadString(evt.Payload, "sessionKey"),
			Status:     RunRunning,
			StartedAt:  evt.Timestamp,
		}
		f.active[evt.RunID] = run
		created = true
	}
	f.mu.Unlock()

	if created {
		f.logger.Debug("run started", zap.String("run_id", run.ID))
		f.notifier.emitRunStarted(f.snapshotRun(run))
	}

	phase := payloadString(evt.Payload, "phase")

	if phase == "delta" {
		f.mu.Lock()
		run.TextLength += len(payloadString(evt.Payload, "text"))
		f.mu.Unlock()
	}

	if evt.ToolName != "" {
		f.handleToolCall(run, evt)
	}

	if phase == "done" || phase == "complete" {
		f.completeRun(evt.RunID, evt.Timestamp)
	}
}

func (f *Feed) handleToolCall(run *Run, evt NormalizedEvent) {
	record := ToolCallRecord{Name: evt.ToolName, Input: evt.ToolInput, At: evt.Timestamp}

	findings := risk.ScoreToolCall(risk.ToolCall{Name: evt.ToolName, Input: evt.ToolInput})

	// One alert per tool call: findings arrive sorted by descending
	// severity, so the first at or above the threshold is the worst.
	var alert *Alert
	f.mu.Lock()
	run.ToolCalls = append(run.ToolCalls, record)
	run.Risks = append(run.Risks, findings...)
	f.toolCalls++
	if len(findings) > 0 && findings[0].Severity >= f.alertSeverity {
		f.riskAlerts++
		alert = &Alert{
			RunID:      run.ID,
			SessionKey: run.SessionKey,
			ToolCall:   record,
			Finding:    findings[0],
			At:         evt.Timestamp,
		}
	}
	f.mu.Unlock()

	if alert != nil {
		f.logger.Warn("risk alert",
			zap.String("run_id", alert.RunID),
			zap.String("tool", alert.ToolCall.Name),
			zap.String("severity", alert.Finding.Severity.String()),
			zap.String("type", alert.Finding.Type.String()),
			zap.String("matched", alert.Finding.Matched),
		)
		f.notifier.emitRiskAlert(*alert)
	}
}

func (f *Feed) handleChat(evt NormalizedEvent) {
	if evt.RunID == "" {
		return
	}
	if payloadString(evt.Payload, "state") != "final" {
		return
	}
	f.mu.RLock()
	_, active := f.active[evt.RunID]
	f.mu.RUnlock()
	if active {
		f.completeRun(evt.RunID, evt.Timestamp)
	}
}

// completeRun moves a run from the active set to the head of the completed
// history. A run id lives in at most one of the two sets.
func (f *Feed) completeRun(runID string, at time.Time) {
	f.mu.Lock()
	run, ok := f.active[runID]
	if !ok {
		f.mu.Unlock()
		return
	}
	delete(f.active, runID)
	run.Status = RunCompleted
	run.CompletedAt = at
	run.DurationMs = at.Sub(run.StartedAt).Milliseconds()
	if run.DurationMs < 0 {
		run.DurationMs = 0
	}
	f.completed = append([]*Run{run}, f.completed...)
	if len(f.completed) > CompletedRunCap {
		f.completed = f.completed[:CompletedRunCap]
	}
	f.mu.Unlock()

	f.logger.Debug("run completed",
		zap.String("run_id", runID),
		zap.Int64("duration_ms", run.DurationMs),
	)
	f.notifier.emitRunCompleted(f.snapshotRun(run))
}

func (f *Feed) isCompletedLocked(runID string) bool {
	for _, run := range f.completed {
		if run.ID == runID {
			return true
		}
	}
	return false
}

func (f *Feed) snapshotRun(run *Run) Run {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return run.clone()
}

// RecentEvents returns up to limit most recent events, newest first.
// limit <= 0 selects the default of 100.
func (f *Feed) RecentEvents(limit int) []NormalizedEvent {
	if limit <= 0 {
		limit = defaultRecentEvents
	}
	f.mu.RLock()
	defer f.mu.RUnlock()
	if limit > len(f.events) {
		limit = len(f.events)
	}
	out := make([]NormalizedEvent, limit)
	copy(out, f.events[:limit])
	return out
}

// ActiveRuns returns copies of all active runs.
func (f *Feed) ActiveRuns() []Run {
	f.mu.RLock()
	defer f.mu.RUnlock()
	out := make([]Run, 0, len(f.active))
	for _, run := range f.active {
		out = append(out, run.clone())
	}
	return out
}

// RecentCompleted returns up to limit completed runs, newest first.
// limit <= 0 selects the default of 20; the hard cap is the history size.
func (f *Feed) RecentCompleted(limit int) []Run {
	if limit <= 0 {
		limit = defaultRecentRuns
	}
	if limit > CompletedRunCap {
		limit = CompletedRunCap
	}
	f.mu.RLock()
	defer f.mu.RUnlock()
	if limit > len(f.completed) {
		limit = len(f.completed)
	}
	out := make([]Run, limit)
	for i := 0; i < limit; i++ {
		out[i] = f.completed[i].clone()
	}
	return out
}

// Stats is the feed's aggregate counter view.
type Stats struct {
	TotalEvents   uint64
	ToolCalls     uint64
	RiskAlerts    uint64
	ActiveRuns    int
	CompletedRuns int
	BufferLen     int
	Uptime        time.Duration
}

// Stats returns the current counters. Counters are monotonic for the
// process lifetime.
func (f *Feed) Stats() Stats {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return Stats{
		TotalEvents:   f.totalEvents,
		ToolCalls:     f.toolCalls,
		RiskAlerts:    f.riskAlerts,
		ActiveRuns:    len(f.active),
		CompletedRuns: len(f.completed),
		BufferLen:     len(f.events),
		Uptime:        time.Since(f.startedAt),
	}
}

// Snapshot bundles recent events, runs, and stats for initializing a new
// subscriber.
type Snapshot struct {
	Events        []NormalizedEvent
	ActiveRuns    []Run
	CompletedRuns []Run
	Stats         Stats
}

// Snapshot returns a point-in-time view of the feed.
func (f *Feed) Snapshot() Snapshot {
	return Snapshot{
		Events:        f.RecentEvents(defaultRecentEvents),
		ActiveRuns:    f.ActiveRuns(),
		CompletedRuns: f.RecentCompleted(defaultRecentRuns),
		Stats:         f.Stats(),
	}
}
