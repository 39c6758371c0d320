package livefeed

import (
	"fmt"
	"testing"

	"github.com/triage-ai/lookout/internal/risk"
	"go.uber.org/zap"
)

func agentEvent(runID string, extra map[string]any) map[string]any {
	payload := map[string]any{"runId": runID, "sessionKey": "sess-" + runID}
	for k, v := range extra {
		payload[k] = v
	}
	return payload
}

func TestProcessEvent_BaseRecordForUnknownKind(t *testing.T) {
	feed := New(zap.NewNop())

	evt := feed.ProcessEvent("mystery", map[string]any{"runId": "r1"})
	if evt.Kind != KindUnknown {
		t.Errorf("expected KindUnknown, got %v", evt.Kind)
	}
	if evt.ID == "" || evt.Timestamp.IsZero() {
		t.Error("base record missing id or timestamp")
	}
	if got := feed.Stats().TotalEvents; got != 1 {
		t.Errorf("expected event counted, got %d", got)
	}
	if len(feed.RecentEvents(0)) != 1 {
		t.Error("unknown-kind event not recorded in buffer")
	}
}

func TestRingBuffer_CapacityAndOrder(t *testing.T) {
	feed := New(zap.NewNop())

	for i := 0; i < EventBufferCap+100; i++ {
		feed.ProcessEvent("tick", map[string]any{"n": i})
	}

	events := feed.RecentEvents(EventBufferCap + 100)
	if len(events) != EventBufferCap {
		t.Fatalf("buffer holds %d events, cap is %d", len(events), EventBufferCap)
	}
	// Newest first: head carries the last-processed payload.
	if n, _ := events[0].Payload["n"].(int); n != EventBufferCap+99 {
		t.Errorf("head of buffer is n=%v, want %d", events[0].Payload["n"], EventBufferCap+99)
	}
	if feed.Stats().BufferLen != EventBufferCap {
		t.Errorf("stats buffer len %d, want %d", feed.Stats().BufferLen, EventBufferCap)
	}
}

func TestRunLifecycle(t *testing.T) {
	feed := New(zap.NewNop())

	var started, completed []string
	feed.Notifier().OnRunStarted(func(r Run) { started = append(started, r.ID) })
	feed.Notifier().OnRunCompleted(func(r Run) { completed = append(completed, r.ID) })

	feed.ProcessEvent("agent", agentEvent("r1", map[string]any{"phase": "delta", "text": "hello"}))
	feed.ProcessEvent("agent", agentEvent("r1", map[string]any{"phase": "delta", "text": " world"}))

	active := feed.ActiveRuns()
	if len(active) != 1 || active[0].ID != "r1" {
		t.Fatalf("expected one active run r1, got %+v", active)
	}
	if active[0].TextLength != len("hello world") {
		t.Errorf("text length %d, want %d", active[0].TextLength, len("hello world"))
	}
	if len(started) != 1 || started[0] != "r1" {
		t.Errorf("run-started notifications: %v", started)
	}

	feed.ProcessEvent("agent", agentEvent("r1", map[string]any{"phase": "done"}))

	if len(feed.ActiveRuns()) != 0 {
		t.Error("run still active after done")
	}
	recent := feed.RecentCompleted(0)
	if len(recent) != 1 || recent[0].ID != "r1" {
		t.Fatalf("expected r1 at head of completed, got %+v", recent)
	}
	if recent[0].Status != RunCompleted {
		t.Errorf("status %q, want completed", recent[0].Status)
	}
	if recent[0].DurationMs < 0 {
		t.Errorf("negative duration %d", recent[0].DurationMs)
	}
	if len(completed) != 1 || completed[0] != "r1" {
		t.Errorf("run-completed notifications: %v", completed)
	}
}

func TestRunSets_Disjoint(t *testing.T) {
	feed := New(zap.NewNop())

	for i := 0; i < 10; i++ {
		id := fmt.Sprintf("r%d", i)
		feed.ProcessEvent("agent", agentEvent(id, nil))
		if i%2 == 0 {
			feed.ProcessEvent("agent", agentEvent(id, map[string]any{"phase": "complete"}))
		}
	}

	activeIDs := map[string]bool{}
	for _, r := range feed.ActiveRuns() {
		activeIDs[r.ID] = true
	}
	for _, r := range feed.RecentCompleted(CompletedRunCap) {
		if activeIDs[r.ID] {
			t.Errorf("run %s present in both active and completed sets", r.ID)
		}
	}
}

func TestCompletedRun_NotResurrected(t *testing.T) {
	feed := New(zap.NewNop())

	feed.ProcessEvent("agent", agentEvent("r1", nil))
	feed.ProcessEvent("agent", agentEvent("r1", map[string]any{"phase": "done"}))
	// Late event for the finished run.
	feed.ProcessEvent("agent", agentEvent("r1", map[string]any{"phase": "delta", "text": "late"}))

	if len(feed.ActiveRuns()) != 0 {
		t.Error("completed run came back to life")
	}
	if len(feed.RecentCompleted(0)) != 1 {
		t.Error("completed history changed")
	}
}

func TestCompletedHistory_Bounded(t *testing.T) {
	feed := New(zap.NewNop())

	for i := 0; i < CompletedRunCap+20; i++ {
		id := fmt.Sprintf("r%d", i)
		feed.ProcessEvent("agent", agentEvent(id, nil))
		feed.ProcessEvent("agent", agentEvent(id, map[string]any{"phase": "done"}))
	}

	completed := feed.RecentCompleted(CompletedRunCap)
	if len(completed) != CompletedRunCap {
		t.Fatalf("completed history holds %d, cap is %d", len(completed), CompletedRunCap)
	}
	// Newest first.
	if completed[0].ID != fmt.Sprintf("r%d", CompletedRunCap+19) {
		t.Errorf("head of completed history is %s", completed[0].ID)
	}
}

func TestChatFinal_CompletesRun(t *testing.T) {
	feed := New(zap.NewNop())

	feed.ProcessEvent("agent", agentEvent("r1", nil))
	feed.ProcessEvent("chat", map[string]any{"runId": "r1", "role": "assistant", "content": "bye", "state": "final"})

	if len(feed.ActiveRuns()) != 0 {
		t.Error("chat final state did not complete the run")
	}
	if len(feed.RecentCompleted(0)) != 1 {
		t.Error("run missing from completed history")
	}
}

func TestChatFinal_UnknownRunIgnored(t *testing.T) {
	feed := New(zap.NewNop())
	feed.ProcessEvent("chat", map[string]any{"runId": "ghost", "state": "final"})
	if len(feed.RecentCompleted(0)) != 0 {
		t.Error("final chat for unknown run created a completed entry")
	}
}

func TestRiskAlert_EndToEnd(t *testing.T) {
	feed := New(zap.NewNop())

	var alerts []Alert
	feed.Notifier().OnRiskAlert(func(a Alert) { alerts = append(alerts, a) })

	feed.ProcessEvent("agent", agentEvent("r1", map[string]any{
		"tool":      "bash",
		"toolInput": map[string]any{"command": "sudo rm -rf /"},
	}))

	// sudo scores high and rm -rf / scores critical; one alert fires per
	// tool call, carrying the worst finding.
	if len(alerts) != 1 {
		t.Fatalf("expected exactly 1 risk alert, got %d: %+v", len(alerts), alerts)
	}
	a := alerts[0]
	if a.RunID != "r1" || a.SessionKey != "sess-r1" {
		t.Errorf("alert missing run context: %+v", a)
	}
	if a.ToolCall.Name != "bash" {
		t.Errorf("alert tool %q, want bash", a.ToolCall.Name)
	}
	if a.Finding.Severity != risk.SeverityCritical {
		t.Errorf("alert severity %v, want critical", a.Finding.Severity)
	}
	if a.Finding.Type != risk.TypeDestructiveCommand {
		t.Errorf("alert type %v, want destructive-command", a.Finding.Type)
	}

	active := feed.ActiveRuns()
	if len(active) != 1 || len(active[0].Risks) < 2 {
		t.Fatalf("run risks not accumulated: %+v", active)
	}
	if got := feed.Stats().RiskAlerts; got != 1 {
		t.Errorf("risk alert counter %d, want 1", got)
	}
	if got := feed.Stats().ToolCalls; got != 1 {
		t.Errorf("tool call counter %d, want 1", got)
	}
}

func TestCleanToolCall_NoAlert(t *testing.T) {
	feed := New(zap.NewNop())

	fired := 0
	feed.Notifier().OnRiskAlert(func(Alert) { fired++ })

	feed.ProcessEvent("agent", agentEvent("r1", map[string]any{
		"tool":      "bash",
		"toolInput": map[string]any{"command": "ls -la"},
	}))

	if fired != 0 {
		t.Errorf("clean command raised %d alerts", fired)
	}
	if got := feed.Stats().ToolCalls; got != 1 {
		t.Errorf("tool call counter %d, want 1", got)
	}
}

func TestPresence_Republished(t *testing.T) {
	feed := New(zap.NewNop())

	var seen []NormalizedEvent
	feed.Notifier().OnPresence(func(e NormalizedEvent) { seen = append(seen, e) })

	feed.ProcessEvent("presence", map[string]any{"client": "cli-1", "status": "online"})

	if len(seen) != 1 {
		t.Fatalf("expected 1 presence notification, got %d", len(seen))
	}
	if seen[0].Payload["client"] != "cli-1" {
		t.Error("presence payload not republished verbatim")
	}
	if len(feed.ActiveRuns()) != 0 {
		t.Error("presence event created run state")
	}
}

func TestReadAccessors_ReturnCopies(t *testing.T) {
	feed := New(zap.NewNop())
	feed.ProcessEvent("agent", agentEvent("r1", map[string]any{
		"tool":      "bash",
		"toolInput": map[string]any{"command": "sudo id"},
	}))

	runs := feed.ActiveRuns()
	runs[0].Risks[0].Matched = "tampered"
	runs[0].ToolCalls[0].Name = "tampered"

	fresh := feed.ActiveRuns()
	if fresh[0].Risks[0].Matched == "tampered" || fresh[0].ToolCalls[0].Name == "tampered" {
		t.Error("accessor returned a live reference, not a copy")
	}
}

func TestSnapshot(t *testing.T) {
	feed := New(zap.NewNop())
	feed.ProcessEvent("agent", agentEvent("r1", nil))
	feed.ProcessEvent("agent", agentEvent("r2", nil))
	feed.ProcessEvent("agent", agentEvent("r2", map[string]any{"phase": "done"}))

	snap := feed.Snapshot()
	if len(snap.Events) != 3 {
		t.Errorf("snapshot events %d, want 3", len(snap.Events))
	}
	if len(snap.ActiveRuns) != 1 || len(snap.CompletedRuns) != 1 {
		t.Errorf("snapshot runs: %d active, %d completed", len(snap.ActiveRuns), len(snap.CompletedRuns))
	}
	if snap.Stats.TotalEvents != 3 {
		t.Errorf("snapshot stats total %d, want 3", snap.Stats.TotalEvents)
	}
}

func TestActivityNotification_EveryEvent(t *testing.T) {
	feed := New(zap.NewNop())
	count := 0
	feed.Notifier().OnActivity(func(NormalizedEvent) { count++ })

	feed.ProcessEvent("agent", agentEvent("r1", nil))
	feed.ProcessEvent("health", map[string]any{"ok": true})
	feed.ProcessEvent("nonsense", nil)

	if count != 3 {
		t.Errorf("activity notifications %d, want 3", count)
	}
}
