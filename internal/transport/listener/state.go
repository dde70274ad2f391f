package listener

import "errors"

// State is the lifecycle position of a Manager.
type State int32

const (
	Constructed State = iota
	Starting
	Running
	FailedWhenStarting
)

func (s State) String() string {
	switch s {
	case Constructed:
		return "CONSTRUCTED"
	case Starting:
		return "STARTING"
	case Running:
		return "RUNNING"
	case FailedWhenStarting:
		return "FAILED_WHEN_STARTING"
	default:
		return "UNKNOWN"
	}
}

// ErrInvalidState is returned by Start unless the manager is Constructed and
// by Close while it is Starting.
var ErrInvalidState = errors.New("listener manager is in an invalid state for this operation")
