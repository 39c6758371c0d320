package livefeed

import (
	"time"
)

// Kind is the closed set of gateway event kinds the feed understands.
// An unrecognized wire tag maps to KindUnknown; the event is still recorded.
type Kind int

const (
	KindUnknown Kind = iota
	KindAgent
	KindChat
	KindPresence
	KindHealth
	KindTick
)

// String returns the wire tag for the kind.
func (k Kind) String() string {
	switch k {
	case KindAgent:
		return "agent"
	case KindChat:
		return "chat"
	case KindPresence:
		return "presence"
	case KindHealth:
		return "health"
	case KindTick:
		return "tick"
	default:
		return "unknown"
	}
}

// ParseKind maps a wire tag to its Kind. Unknown tags parse as KindUnknown.
func ParseKind(tag string) Kind {
	switch tag {
	case "agent":
		return KindAgent
	case "chat":
		return KindChat
	case "presence":
		return KindPresence
	case "health":
		return KindHealth
	case "tick":
		return KindTick
	default:
		return KindUnknown
	}
}

// NormalizedEvent is the immutable record derived from one inbound gateway
// event. Kind-specific fields are zero-valued when they don't apply.
type NormalizedEvent struct {
	ID        string
	Kind      Kind
	Timestamp time.Time
	RunID     string
	Stream    string
	Payload   map[string]any

	// agent events
	ToolName    string
	ToolInput   map[string]any
	ExecCommand bool

	// chat events
	ChatRole    string
	ChatContent string
}

// payloadString returns payload[key] if it is a non-empty string.
func payloadString(payload map[string]any, key string) string {
	if payload == nil {
		return ""
	}
	if v, ok := payload[key].(string); ok {
		return v
	}
	return ""
}

// payloadObject returns payload[key] if it is an object.
func payloadObject(payload map[string]any, key string) map[string]any {
	if payload == nil {
		return nil
	}
	if v, ok := payload[key].(map[string]any); ok {
		return v
	}
	return nil
}
