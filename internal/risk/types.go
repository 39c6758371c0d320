package risk

// Severity is the ordinal risk level attached to a finding.
type Severity int

const (
	SeverityNone Severity = iota
	SeverityLow
	SeverityMedium
	SeverityHigh
	SeverityCritical
)

// String returns the lowercase severity name.
func (s Severity) String() string {
	switch s {
	case SeverityLow:
		return "low"
	case SeverityMedium:
		return "medium"
	case SeverityHigh:
		return "high"
	case SeverityCritical:
		return "critical"
	default:
		return "none"
	}
}

// ParseSeverity maps a severity name back to its ordinal. Unknown names
// parse as SeverityNone.
func ParseSeverity(name string) Severity {
	switch name {
	case "low":
		return SeverityLow
	case "medium":
		return SeverityMedium
	case "high":
		return SeverityHigh
	case "critical":
		return SeverityCritical
	default:
		return SeverityNone
	}
}

// Type classifies what kind of risk a finding represents.
type Type int

const (
	TypeUnspecified Type = iota
	TypeDestructiveCommand
	TypePrivilegeEscalation
	TypeCredentialAccess
	TypeDataExfiltration
	TypeSensitiveFile
	TypeNetworkExposure
	TypeUnusualPattern
)

// String returns the hyphenated type name used in stored rows and alerts.
func (t Type) String() string {
	switch t {
	case TypeDestructiveCommand:
		return "destructive-command"
	case TypePrivilegeEscalation:
		return "privilege-escalation"
	case TypeCredentialAccess:
		return "credential-access"
	case TypeDataExfiltration:
		return "data-exfiltration"
	case TypeSensitiveFile:
		return "sensitive-file"
	case TypeNetworkExposure:
		return "network-exposure"
	case TypeUnusualPattern:
		return "unusual-pattern"
	default:
		return "unspecified"
	}
}

// Finding is one catalog match against a piece of text or a tool call.
// Findings are immutable and derived purely from their input.
type Finding struct {
	Type        Type
	Severity    Severity
	Category    string
	Matched     string // literal matched substring
	Description string
}

// ToolCall is the tool invocation shape the scorer understands.
type ToolCall struct {
	Name  string
	Input map[string]any
}
