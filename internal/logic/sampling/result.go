package sampling

import (
	"fmt"
	"math"
	"time"
)

// Kind tells a measurement apart from the terminal markers.
type Kind int

const (
	// KindNone means no sample has been stored yet.
	KindNone Kind = iota
	// KindSample is a normal measurement.
	KindSample
	// KindTimeout is the marker stored when the watchdog fires.
	KindTimeout
	// KindFailure is the marker stored when the sampler failure ends the task.
	KindFailure
)

func (k Kind) String() string {
	switch k {
	case KindNone:
		return "none"
	case KindSample:
		return "sample"
	case KindTimeout:
		return "timeout"
	case KindFailure:
		return "failure"
	default:
		return fmt.Sprintf("Kind(%d)", int(k))
	}
}

// Result is a snapshot of the task's result slot.
//
// Value is NaN for every Kind other than KindSample, so a marker can never be
// mistaken for a measurement. Seq increases by one per stored result, and Time
// is the monotonic clock reading taken when the result was committed.
type Result struct {
	Value float64
	Kind  Kind
	Time  time.Time
	Seq   uint64
	Err   error // set for KindFailure
}

// Terminal reports whether r is a timeout or failure marker.
func (r Result) Terminal() bool {
	return r.Kind == KindTimeout || r.Kind == KindFailure
}

func (r Result) String() string {
	switch r.Kind {
	case KindSample:
		return fmt.Sprintf("#%d %.2f", r.Seq, r.Value)
	case KindFailure:
		return fmt.Sprintf("#%d failure: %v", r.Seq, r.Err)
	default:
		return fmt.Sprintf("#%d %s", r.Seq, r.Kind)
	}
}

func emptyResult() Result {
	return Result{Value: math.NaN(), Kind: KindNone}
}

// Stats counts what the polling loop has done so far.
type Stats struct {
	Cycles              uint64
	Samples             uint64
	Failures            uint64
	ConsecutiveFailures int
	LastElapsed         time.Duration // sampler cost of the last successful cycle
}
