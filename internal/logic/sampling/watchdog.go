package sampling

import (
	"fmt"
	"strings"
	"time"
)

// Policy selects the clock the watchdog measures.
type Policy int

const (
	// Absolute fires once Timeout has elapsed since Start, however many
	// samples succeeded in between.
	Absolute Policy = iota
	// Idle fires once Timeout has elapsed since the last stored sample
	// (or since Start if there was none).
	Idle
)

func (p Policy) String() string {
	switch p {
	case Absolute:
		return "absolute"
	case Idle:
		return "idle"
	default:
		return fmt.Sprintf("Policy(%d)", int(p))
	}
}

// ParsePolicy parses "absolute" or "idle" (case-insensitive).
func ParsePolicy(s string) (Policy, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "absolute":
		return Absolute, nil
	case "idle":
		return Idle, nil
	default:
		return 0, fmt.Errorf("unknown timeout policy %q (want absolute or idle)", s)
	}
}

// watchdog holds the two reference times the policies measure from.
type watchdog struct {
	policy  Policy
	timeout time.Duration
	started time.Time
	lastOK  time.Time
}

// reference returns the instant the policy counts from.
func (w *watchdog) reference() time.Time {
	if w.policy == Idle {
		return w.lastOK
	}
	return w.started
}

// deadline returns the instant at which the watchdog fires.
func (w *watchdog) deadline() time.Time {
	return w.reference().Add(w.timeout)
}

// expired evaluates the watchdog predicate at now.
func (w *watchdog) expired(now time.Time) bool {
	return now.Sub(w.reference()) >= w.timeout
}

// FailurePolicy decides what a failed sampler call does to the task.
type FailurePolicy int

const (
	// FailAbort ends the task in StateFailed on the first failed sample.
	FailAbort FailurePolicy = iota
	// FailRetry skips the failed cycle and samples again after the poll
	// interval. Config.MaxFailures bounds consecutive failures.
	FailRetry
)

func (p FailurePolicy) String() string {
	switch p {
	case FailAbort:
		return "abort"
	case FailRetry:
		return "retry"
	default:
		return fmt.Sprintf("FailurePolicy(%d)", int(p))
	}
}

// ParseFailurePolicy parses "abort" or "retry" (case-insensitive).
func ParseFailurePolicy(s string) (FailurePolicy, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "abort":
		return FailAbort, nil
	case "retry":
		return FailRetry, nil
	default:
		return 0, fmt.Errorf("unknown failure policy %q (want abort or retry)", s)
	}
}
