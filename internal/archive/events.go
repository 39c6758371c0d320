package archive

import "time"

// AlertWriter is the interface for archiving risk alerts.
// Write() must NEVER block the caller.
type AlertWriter interface {
	Write(record *AlertRecord)
	Close()
}

// AlertRecord is one risk alert flattened for long-term analytics.
type AlertRecord struct {
	EventID        string
	RunID          string
	SessionKey     string
	Timestamp      time.Time
	ToolName       string
	CommandPreview string // First 500 chars
	RiskType       string
	Severity       string
	SeverityScore  uint8
	Category       string
	Matched        string
	Description    string
}

// CommandPreviewLength is the max chars stored in command_preview.
const CommandPreviewLength = 500

// TruncateCommand returns the first N characters (runes) of a command for
// preview storage. It never splits a multi-byte UTF-8 character.
func TruncateCommand(command string, maxLen int) string {
	runes := []rune(command)
	if len(runes) <= maxLen {
		return command
	}
	return string(runes[:maxLen])
}
