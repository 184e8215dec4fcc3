package motion

import "fmt"

// State of the detection state machine.
type State int32

const (
	// Idle means capturing is disabled.
	Idle State = iota
	// ReferenceCapture waits for the first frame to compare against.
	ReferenceCapture
	// Monitoring evaluates frames without an active recording.
	Monitoring
	// Recording has an active session.
	Recording
)

func (s State) String() string {
	switch s {
	case Idle:
		return "idle"
	case ReferenceCapture:
		return "reference_capture"
	case Monitoring:
		return "monitoring"
	case Recording:
		return "recording"
	}
	return fmt.Sprintf("State(%d)", int32(s))
}

// MarshalText encodes the state by name, e.g. for JSON status messages.
func (s State) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// Listener is told about every state transition.
type Listener interface {
	StateChanged(State)
}
