package livefeed

import (
	"sync"
	"time"

	"github.com/triage-ai/lookout/internal/risk"
)

// Alert carries one high-severity finding together with its run context.
type Alert struct {
	RunID      string
	SessionKey string
	ToolCall   ToolCallRecord
	Finding    risk.Finding
	At         time.Time
}

// Notifier fans out feed notifications to registered subscribers. Each
// notification kind has its own subscriber list; delivery is synchronous,
// FIFO, in registration order, from the event-processing goroutine. Handlers
// that may block must hand off to their own goroutine or channel.
type Notifier struct {
	mu           sync.RWMutex
	activity     []func(NormalizedEvent)
	runStarted   []func(Run)
	runCompleted []func(Run)
	riskAlert    []func(Alert)
	presence     []func(NormalizedEvent)
}

// OnActivity subscribes to every normalized event.
func (n *Notifier) OnActivity(fn func(NormalizedEvent)) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.activity = append(n.activity, fn)
}

// OnRunStarted subscribes to run creation.
func (n *Notifier) OnRunStarted(fn func(Run)) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.runStarted = append(n.runStarted, fn)
}

// OnRunCompleted subscribes to terminal run transitions.
func (n *Notifier) OnRunCompleted(fn func(Run)) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.runCompleted = append(n.runCompleted, fn)
}

// OnRiskAlert subscribes to findings at or above the feed's alert threshold.
func (n *Notifier) OnRiskAlert(fn func(Alert)) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.riskAlert = append(n.riskAlert, fn)
}

// OnPresence subscribes to presence events, republished verbatim.
func (n *Notifier) OnPresence(fn func(NormalizedEvent)) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.presence = append(n.presence, fn)
}

func (n *Notifier) emitActivity(evt NormalizedEvent) {
	n.mu.RLock()
	subs := n.activity
	n.mu.RUnlock()
	for _, fn := range subs {
		fn(evt)
	}
}

func (n *Notifier) emitRunStarted(run Run) {
	n.mu.RLock()
	subs := n.runStarted
	n.mu.RUnlock()
	for _, fn := range subs {
		fn(run)
	}
}

func (n *Notifier) emitRunCompleted(run Run) {
	n.mu.RLock()
	subs := n.runCompleted
	n.mu.RUnlock()
	for _, fn := range subs {
		fn(run)
	}
}

func (n *Notifier) emitRiskAlert(alert Alert) {
	n.mu.RLock()
	subs := n.riskAlert
	n.mu.RUnlock()
	for _, fn := range subs {
		fn(alert)
	}
}

func (n *Notifier) emitPresence(evt NormalizedEvent) {
	n.mu.RLock()
	subs := n.presence
	n.mu.RUnlock()
	for _, fn := range subs {
		fn(evt)
	}
}
