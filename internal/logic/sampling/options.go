package sampling

import (
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace"
)

// Config holds the parameters of a Task. Timeout and Policy are required.
type Config struct {
	Name         string        // label for logs and metrics; defaults to the task ID
	Timeout      time.Duration // watchdog duration, must be > 0
	Policy       Policy        // Absolute or Idle
	PollInterval time.Duration // sleep between two cycles, >= 0
	Count        int           // sub-samples per cycle; 0 means 1

	OnFailure   FailurePolicy
	MaxFailures int // FailRetry only: consecutive failures before the task fails; 0 = unlimited
}

func (c *Config) validate() error {
	if c.Timeout <= 0 {
		return wrapConfig("timeout must be > 0, got %v", c.Timeout)
	}
	if c.PollInterval < 0 {
		return wrapConfig("poll interval must be >= 0, got %v", c.PollInterval)
	}
	if c.Count < 0 {
		return wrapConfig("count must be >= 1, got %d", c.Count)
	}
	if c.Count == 0 {
		c.Count = 1
	}
	if c.Policy != Absolute && c.Policy != Idle {
		return wrapConfig("unknown policy %v", c.Policy)
	}
	if c.OnFailure != FailAbort && c.OnFailure != FailRetry {
		return wrapConfig("unknown failure policy %v", c.OnFailure)
	}
	if c.MaxFailures < 0 {
		return wrapConfig("max failures must be >= 0, got %d", c.MaxFailures)
	}
	return nil
}

// Recorder observes the engine, e.g. to export metrics.
// ObserveState may be called with the task's lock held and must not call
// back into the Task.
type Recorder interface {
	ObserveSample(task string, r Reading)
	ObserveFailure(task string, err error)
	ObserveState(task string, s State)
}

type nopRecorder struct{}

func (nopRecorder) ObserveSample(string, Reading) {}
func (nopRecorder) ObserveFailure(string, error)  {}
func (nopRecorder) ObserveState(string, State)    {}

// Option customizes a Task.
type Option func(*Task)

// WithTracer sets the tracer used for one span per sample cycle.
// The default is the global otel tracer, a no-op until a provider is installed.
func WithTracer(tr trace.Tracer) Option {
	return func(t *Task) {
		if tr != nil {
			t.tracer = tr
		}
	}
}

// WithRecorder sets the Recorder notified of samples, failures and state changes.
func WithRecorder(r Recorder) Option {
	return func(t *Task) {
		if r != nil {
			t.recorder = r
		}
	}
}

func defaultTracer() trace.Tracer {
	return otel.Tracer("github.com/cjeanneret/PiSense/internal/logic/sampling")
}
