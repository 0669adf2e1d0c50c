package recorder

import (
	"fmt"
	"time"
)

// EventType is what happened to a session
type EventType int

const (
	SessionStarted EventType = iota
	Stepped
	SessionCompleted
	SessionStopped
	SessionFailed
)

// Event is one entry of a session trace
type Event struct {
	ID        int64     `json:"id"`
	Timestamp time.Time `json:"timestamp"`
	Type      EventType `json:"type"`
	SessionID string    `json:"session_id"`
	Details   string    `json:"details,omitempty"`
	// Snapshot is set for SessionStarted and Stepped
	Snapshot *Snapshot `json:"snapshot,omitempty"`
}

// String returns the string representation of the EventType
func (et EventType) String() string {
	switch et {
	case SessionStarted:
		return "SessionStarted"
	case Stepped:
		return "Stepped"
	case SessionCompleted:
		return "SessionCompleted"
	case SessionStopped:
		return "SessionStopped"
	case SessionFailed:
		return "SessionFailed"
	default:
		return "Unknown"
	}
}

// MarshalText writes the event type by name so traces stay readable
func (et EventType) MarshalText() ([]byte, error) {
	return []byte(et.String()), nil
}

// UnmarshalText reads an event type written by MarshalText
func (et *EventType) UnmarshalText(text []byte) error {
	for t := SessionStarted; t <= SessionFailed; t++ {
		if t.String() == string(text) {
			*et = t
			return nil
		}
	}
	return fmt.Errorf("unknown event type '%s'", text)
}
