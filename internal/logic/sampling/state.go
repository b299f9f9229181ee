package sampling

import "fmt"

// State is the lifecycle state of a Task.
type State int

const (
	// StateIdle is the state of a task that has not been started.
	StateIdle State = iota
	// StateRunning means the polling goroutine is alive.
	StateRunning
	// StateStopped is reached after Stop; terminal.
	StateStopped
	// StateTimedOut is reached when the watchdog fires; terminal.
	StateTimedOut
	// StateFailed is reached when the sampler fails under FailAbort
	// (or too many times in a row under FailRetry); terminal.
	StateFailed
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateRunning:
		return "running"
	case StateStopped:
		return "stopped"
	case StateTimedOut:
		return "timed_out"
	case StateFailed:
		return "failed"
	default:
		return fmt.Sprintf("State(%d)", int(s))
	}
}

// Terminal reports whether the state can no longer change.
func (s State) Terminal() bool {
	return s == StateStopped || s == StateTimedOut || s == StateFailed
}
