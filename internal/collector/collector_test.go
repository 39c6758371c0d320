package collector

import (
	"context"
	"sync"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/triage-ai/lookout/internal/archive"
	"github.com/triage-ai/lookout/internal/livefeed"
	"github.com/triage-ai/lookout/internal/metrics"
	"github.com/triage-ai/lookout/internal/risk"
)

type fakeStore struct {
	mu        sync.Mutex
	usage     []metrics.UsageRecord
	toolCalls []int64
	perf      []metrics.PerformanceSnapshot
	insight   []metrics.InsightSnapshot
	memory    []metrics.MemorySnapshot
	security  []metrics.SecurityEvent
	pruned    []int
}

func (f *fakeStore) RecordUsage(_ context.Context, rec metrics.UsageRecord) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.usage = append(f.usage, rec)
	return nil
}

func (f *fakeStore) RecordToolCalls(_ context.Context, _ time.Time, count int64) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.toolCalls = append(f.toolCalls, count)
	return nil
}

func (f *fakeStore) RecordPerformance(_ context.Context, snap metrics.PerformanceSnapshot) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.perf = append(f.perf, snap)
	return nil
}

func (f *fakeStore) RecordInsight(_ context.Context, snap metrics.InsightSnapshot) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.insight = append(f.insight, snap)
	return nil
}

func (f *fakeStore) RecordMemoryStats(_ context.Context, snap metrics.MemorySnapshot) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.memory = append(f.memory, snap)
	return nil
}

func (f *fakeStore) InsertSecurityEvent(_ context.Context, ev metrics.SecurityEvent) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.security = append(f.security, ev)
	return "evt-1", nil
}

func (f *fakeStore) Prune(_ context.Context, days int) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.pruned = append(f.pruned, days)
	return 0, nil
}

type fakeArchive struct {
	mu      sync.Mutex
	records []*archive.AlertRecord
}

func (f *fakeArchive) Write(record *archive.AlertRecord) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.records = append(f.records, record)
}

func (f *fakeArchive) Close() {}

func newTestCollector(t *testing.T) (*fakeStore, *fakeArchive, *livefeed.Feed) {
	t.Helper()
	store := &fakeStore{}
	aw := &fakeArchive{}
	feed := livefeed.New(zap.NewNop())
	New(store, feed, aw, 0, zap.NewNop())
	return store, aw, feed
}

func TestRiskAlertPersistedAndArchived(t *testing.T) {
	store, aw, feed := newTestCollector(t)

	feed.ProcessEvent("agent", map[string]any{
		"runId":      "r1",
		"sessionKey": "sess-1",
		"phase":      "tool",
		"tool":       "exec",
		"toolInput":  map[string]any{"command": "rm -rf /var"},
	})

	if len(store.security) == 0 {
		t.Fatal("risk alert not persisted as a security event")
	}
	ev := store.security[0]
	if ev.ToolName != "exec" {
		t.Errorf("tool name = %q, want exec", ev.ToolName)
	}
	if ev.Severity < risk.SeverityHigh {
		t.Errorf("severity = %v, want >= high", ev.Severity)
	}
	if ev.RiskType != risk.TypeDestructiveCommand.String() {
		t.Errorf("risk type = %q", ev.RiskType)
	}
	if ev.Details["run_id"] != "r1" || ev.Details["session_key"] != "sess-1" {
		t.Errorf("details missing run context: %v", ev.Details)
	}

	if len(aw.records) != len(store.security) {
		t.Fatalf("archive got %d records, store got %d", len(aw.records), len(store.security))
	}
	rec := aw.records[0]
	if rec.EventID != "evt-1" {
		t.Errorf("archive record carries event id %q", rec.EventID)
	}
	if rec.RunID != "r1" || rec.ToolName != "exec" {
		t.Errorf("archive record = %+v", rec)
	}
}

func TestCleanToolCallNotPersisted(t *testing.T) {
	store, aw, feed := newTestCollector(t)

	feed.ProcessEvent("agent", map[string]any{
		"runId":     "r1",
		"phase":     "tool",
		"tool":      "exec",
		"toolInput": map[string]any{"command": "ls -la"},
	})

	if len(store.security) != 0 {
		t.Errorf("clean tool call persisted: %+v", store.security)
	}
	if len(aw.records) != 0 {
		t.Errorf("clean tool call archived: %+v", aw.records)
	}
}

func TestToolCallsRecordedOnRunCompletion(t *testing.T) {
	store, _, feed := newTestCollector(t)

	feed.ProcessEvent("agent", map[string]any{
		"runId":     "r1",
		"phase":     "tool",
		"tool":      "read_file",
		"toolInput": map[string]any{"path": "main.go"},
	})
	feed.ProcessEvent("agent", map[string]any{
		"runId":     "r1",
		"phase":     "tool",
		"tool":      "read_file",
		"toolInput": map[string]any{"path": "util.go"},
	})
	if len(store.toolCalls) != 0 {
		t.Fatal("tool calls written before run completed")
	}

	feed.ProcessEvent("agent", map[string]any{"runId": "r1", "phase": "done"})
	if len(store.toolCalls) != 1 || store.toolCalls[0] != 2 {
		t.Errorf("tool call writes = %v, want [2]", store.toolCalls)
	}
}

func TestUsagePayloadRecorded(t *testing.T) {
	store, _, feed := newTestCollector(t)

	feed.ProcessEvent("agent", map[string]any{
		"runId": "r1",
		"phase": "done",
		"usage": map[string]any{
			"model":           "sonnet",
			"inputTokens":     float64(1200),
			"outputTokens":    float64(340),
			"cacheReadTokens": float64(900),
			"costUsd":         0.0123,
		},
	})

	if len(store.usage) != 1 {
		t.Fatalf("usage writes = %d, want 1", len(store.usage))
	}
	rec := store.usage[0]
	if rec.Model != "sonnet" || rec.InputTokens != 1200 || rec.OutputTokens != 340 {
		t.Errorf("usage record = %+v", rec)
	}
	if rec.CacheReadTokens != 900 || rec.CostUSD != 0.0123 {
		t.Errorf("usage record = %+v", rec)
	}
}

func TestUsagePayloadWithoutModelIgnored(t *testing.T) {
	store, _, feed := newTestCollector(t)

	feed.ProcessEvent("agent", map[string]any{
		"runId": "r1",
		"phase": "done",
		"usage": map[string]any{"inputTokens": float64(10)},
	})

	if len(store.usage) != 0 {
		t.Errorf("model-less usage persisted: %+v", store.usage)
	}
}

func TestHealthEventRecordsSnapshots(t *testing.T) {
	store, _, feed := newTestCollector(t)

	feed.ProcessEvent("health", map[string]any{
		"cpuPercent":    12.5,
		"memoryPercent": 48.0,
		"memory": map[string]any{
			"fileCount":  float64(320),
			"totalBytes": float64(1 << 20),
			"indexReady": true,
		},
	})

	if len(store.perf) != 1 {
		t.Fatalf("performance writes = %d, want 1", len(store.perf))
	}
	if store.perf[0].CPUPercent != 12.5 || store.perf[0].MemoryPercent != 48.0 {
		t.Errorf("performance snapshot = %+v", store.perf[0])
	}
	if store.perf[0].EventLagMs < 0 {
		t.Errorf("negative event lag: %v", store.perf[0].EventLagMs)
	}

	if len(store.memory) != 1 {
		t.Fatalf("memory writes = %d, want 1", len(store.memory))
	}
	if store.memory[0].FileCount != 320 || !store.memory[0].IndexReady {
		t.Errorf("memory snapshot = %+v", store.memory[0])
	}
}

func TestHealthEventWithoutMemoryBlock(t *testing.T) {
	store, _, feed := newTestCollector(t)

	feed.ProcessEvent("health", map[string]any{"cpuPercent": 5.0})

	if len(store.perf) != 1 {
		t.Fatalf("performance writes = %d, want 1", len(store.perf))
	}
	if len(store.memory) != 0 {
		t.Errorf("memory snapshot written without memory block: %+v", store.memory)
	}
}
