package events

import (
	"time"

	"github.com/chaz8081/blelight/internal/color"
)

// Event type constants for kelindar/event.
const (
	TypeStateChanged uint32 = iota + 1
	TypeColorSubmitted
	TypeColorWritten
	TypeWriteFailed
)

// Event interface required by kelindar/event.
type Event interface {
	Type() uint32
}

// StateChangedEvent is published on every connection state transition.
type StateChangedEvent struct {
	From      string    `json:"from"`
	To        string    `json:"to"`
	Timestamp time.Time `json:"timestamp"`
}

// Type returns the event type identifier for StateChangedEvent.
func (e StateChangedEvent) Type() uint32 { return TypeStateChanged }

// ColorSubmittedEvent is published for every accepted submission.
// Replaced is true when it overwrote a color that was never written.
type ColorSubmittedEvent struct {
	Color    color.Color `json:"color"`
	Replaced bool        `json:"replaced"`
}

// Type returns the event type identifier for ColorSubmittedEvent.
func (e ColorSubmittedEvent) Type() uint32 { return TypeColorSubmitted }

// ColorWrittenEvent is published after a successful characteristic write.
type ColorWrittenEvent struct {
	Color    color.Color   `json:"color"`
	Duration time.Duration `json:"duration"`
}

// Type returns the event type identifier for ColorWrittenEvent.
func (e ColorWrittenEvent) Type() uint32 { return TypeColorWritten }

// WriteFailedEvent is published when a characteristic write fails.
type WriteFailedEvent struct {
	Color color.Color `json:"color"`
	Error string      `json:"error"`
}

// Type returns the event type identifier for WriteFailedEvent.
func (e WriteFailedEvent) Type() uint32 { return TypeWriteFailed }
