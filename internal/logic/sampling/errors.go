package sampling

import "errors"

var (
	// ErrAlreadyStarted is returned by Start on a task that has left Idle.
	ErrAlreadyStarted = errors.New("sampling: task already started")
	// ErrNotStarted is returned by Stop, StopWait and Wait before Start.
	ErrNotStarted = errors.New("sampling: task not started")
	// ErrStopTimeout is returned by StopWait when the polling goroutine is still
	// alive after the wait budget. It is a warning: the goroutine keeps running
	// until its current sampler call returns, and may store one last result.
	ErrStopTimeout = errors.New("sampling: task did not stop within timeout")

	// ErrNilSampler is returned by New when no sampler is given.
	ErrNilSampler = errors.New("sampling: nil sampler")
	// ErrInvalidConfig is returned by New for out-of-range configuration.
	ErrInvalidConfig = errors.New("sampling: invalid config")
	// ErrInvalidCount is returned by samplers asked for fewer than one sub-sample.
	ErrInvalidCount = errors.New("sampling: sample count must be >= 1")
	// ErrSamplerPanic wraps a panic recovered from a sampler call.
	ErrSamplerPanic = errors.New("sampling: sampler panicked")
)
