// Package session owns the connection to the ESP32 light: the connection
// state machine, the coalescing color write pipeline and the controller
// that ties permission checks, scanning and connecting together.
package session

// State is the coarse connection state shown to users.
type State int

const (
	Disconnected State = iota
	Connecting
	Connected
	PermissionDenied
)

func (s State) String() string {
	switch s {
	case Disconnected:
		return "Disconnected"
	case Connecting:
		return "Connecting"
	case Connected:
		return "Connected"
	case PermissionDenied:
		return "Permission Denied"
	default:
		return "Unknown"
	}
}

// Active reports whether an attempt is in progress or a link is up.
func (s State) Active() bool {
	return s == Connecting || s == Connected
}

// Indicator is the status color class a display should use for a State.
type Indicator int

const (
	Neutral Indicator = iota
	Affirmative
	Negative
	Transitional
)

func (i Indicator) String() string {
	switch i {
	case Affirmative:
		return "affirmative"
	case Negative:
		return "negative"
	case Transitional:
		return "transitional"
	default:
		return "neutral"
	}
}

// Indicator maps s to its display class.
func (s State) Indicator() Indicator {
	switch s {
	case Connected:
		return Affirmative
	case Disconnected:
		return Negative
	case Connecting:
		return Transitional
	default:
		return Neutral
	}
}
