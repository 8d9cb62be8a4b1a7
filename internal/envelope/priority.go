package envelope

import (
	"encoding/json"
	"fmt"
)

// Priority is an ordered delivery priority. The zero value is invalid;
// always construct via the named constants.
type Priority uint8

const (
	PriorityLow Priority = iota + 1
	PriorityNormal
	PriorityHigh
	PriorityCritical
)

func (p Priority) String() string {
	switch p {
	case PriorityLow:
		return "low"
	case PriorityNormal:
		return "normal"
	case PriorityHigh:
		return "high"
	case PriorityCritical:
		return "critical"
	default:
		return "unknown"
	}
}

// ParsePriority parses the wire spelling of a priority.
func ParsePriority(s string) (Priority, error) {
	switch s {
	case "low":
		return PriorityLow, nil
	case "normal":
		return PriorityNormal, nil
	case "high":
		return PriorityHigh, nil
	case "critical":
		return PriorityCritical, nil
	default:
		return 0, fmt.Errorf("unknown priority: %q", s)
	}
}

func (p Priority) MarshalJSON() ([]byte, error) {
	if p == 0 {
		return nil, fmt.Errorf("marshal priority: zero value")
	}
	return json.Marshal(p.String())
}

func (p *Priority) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return err
	}
	v, err := ParsePriority(s)
	if err != nil {
		return err
	}
	*p = v
	return nil
}

// Glyph returns the delivery-prefix emoji for the priority (§4.E step 1).
func (p Priority) Glyph() string {
	switch p {
	case PriorityCritical:
		return "🚨"
	case PriorityHigh:
		return "⚠️"
	case PriorityNormal:
		return "📨"
	case PriorityLow:
		return "💬"
	default:
		return ""
	}
}

// Category is the notification category of an envelope.
type Category string

const (
	CategoryHealth     Category = "health"
	CategoryRecovery   Category = "recovery"
	CategoryStatus     Category = "status"
	CategoryTask       Category = "task"
	CategoryEscalation Category = "escalation"
)

// MessageType is the structural kind of an envelope's message.
type MessageType string

const (
	MessageTypeNotification MessageType = "notification"
	MessageTypeRequest      MessageType = "request"
	MessageTypeResponse     MessageType = "response"
	MessageTypeReport       MessageType = "report"
	MessageTypeEscalation   MessageType = "escalation"
	MessageTypeBatch        MessageType = "batch"
)
