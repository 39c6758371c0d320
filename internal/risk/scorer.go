package risk

import (
	"encoding/json"
	"fmt"
	"sort"
	"strings"
)

// sessionFindingCap bounds how many findings a session summary carries.
// A display concession: callers needing every finding page through the
// source tool calls instead.
const sessionFindingCap = 50

// ScoreText matches the text against every catalog signature and returns
// the findings sorted by descending severity. The sort is stable, so equal
// severities keep catalog order. Empty input yields no findings.
func ScoreText(text string) []Finding {
	if text == "" {
		return nil
	}

	var findings []Finding
	for _, sig := range catalog {
		m := sig.Pattern.FindString(text)
		if m == "" {
			continue
		}
		findings = append(findings, Finding{
			Type:        sig.Type,
			Severity:    sig.Severity,
			Category:    sig.Category,
			Matched:     m,
			Description: fmt.Sprintf("%s severity %s: %s", sig.Severity, sig.Category, sig.Label),
		})
	}

	sort.SliceStable(findings, func(i, j int) bool {
		return findings[i].Severity > findings[j].Severity
	})
	return findings
}

// Tool name sets for ScoreToolCall dispatch. Names are compared lowercased.
var (
	execTools = map[string]bool{
		"bash":        true,
		"exec":        true,
		"shell":       true,
		"run_command": true,
		"terminal":    true,
	}
	fileTools = map[string]bool{
		"read":       true,
		"write":      true,
		"edit":       true,
		"file_read":  true,
		"file_write": true,
		"file_edit":  true,
	}
	webTools = map[string]bool{
		"web_fetch":  true,
		"web_search": true,
		"fetch":      true,
		"browser":    true,
	}
)

// ScoreToolCall scores the part of the tool input that carries the risk:
// the command for execution tools, the target path for file tools, the URL
// or query for web tools. Tools outside these sets yield no findings; an
// unknown tool shape is treated as a false negative rather than noise.
func ScoreToolCall(call ToolCall) []Finding {
	name := strings.ToLower(call.Name)
	switch {
	case execTools[name]:
		return ScoreText(inputString(call.Input, "command"))
	case fileTools[name]:
		return ScoreText(inputString(call.Input, "file_path", "path"))
	case webTools[name]:
		return ScoreText(inputString(call.Input, "url", "query"))
	default:
		return nil
	}
}

// inputString returns the first non-empty string value among keys.
func inputString(input map[string]any, keys ...string) string {
	for _, k := range keys {
		if v, ok := input[k].(string); ok && v != "" {
			return v
		}
	}
	return ""
}

// CommandOf extracts the scored text for a tool call, for alert context.
// Falls back to the JSON-encoded input when no dedicated field applies.
func CommandOf(call ToolCall) string {
	if s := inputString(call.Input, "command", "file_path", "path", "url", "query"); s != "" {
		return s
	}
	if len(call.Input) == 0 {
		return ""
	}
	b, err := json.Marshal(call.Input)
	if err != nil {
		return ""
	}
	return string(b)
}

// SessionSummary aggregates scoring across a sequence of tool calls.
type SessionSummary struct {
	MaxSeverity     Severity
	MaxSeverityName string
	TotalFindings   int
	CriticalCount   int
	HighCount       int
	ByType          map[string]int
	Findings        []Finding // first sessionFindingCap findings, in scan order
}

// SessionRisk folds ScoreToolCall over the tool calls of one session.
func SessionRisk(calls []ToolCall) SessionSummary {
	summary := SessionSummary{
		MaxSeverityName: SeverityNone.String(),
		ByType:          map[string]int{},
	}

	for _, call := range calls {
		for _, f := range ScoreToolCall(call) {
			summary.TotalFindings++
			summary.ByType[f.Type.String()]++
			switch f.Severity {
			case SeverityCritical:
				summary.CriticalCount++
			case SeverityHigh:
				summary.HighCount++
			}
			if f.Severity > summary.MaxSeverity {
				summary.MaxSeverity = f.Severity
				summary.MaxSeverityName = f.Severity.String()
			}
			if len(summary.Findings) < sessionFindingCap {
				summary.Findings = append(summary.Findings, f)
			}
		}
	}
	return summary
}
