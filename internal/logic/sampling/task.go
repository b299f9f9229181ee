package sampling

import (
	"context"
	"fmt"
	"math"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/cjeanneret/PiSense/internal/debug"
)

// Task polls a Sampler on its own goroutine until it is stopped, its watchdog
// fires or the sampler fails.
//
// A Task is single-use: it starts in StateIdle, Start moves it to
// StateRunning, and every terminal state is final. A task that is started and
// never stopped keeps its goroutine until the watchdog fires. A sampler call
// that never returns leaks the goroutine running it; the task itself still
// terminates on its watchdog.
type Task struct {
	id       string
	cfg      Config
	sampler  Sampler
	tracer   trace.Tracer
	recorder Recorder

	mu       sync.Mutex
	state    State
	result   Result
	wd       watchdog
	stopReq  bool
	callback func(Result)
	stats    Stats

	stopCh   chan struct{} // closed once when stop is requested
	done     chan struct{} // closed when the polling goroutine exits
	stopOnce sync.Once
}

// New creates an idle Task. It does not start sampling.
func New(s Sampler, cfg Config, opts ...Option) (*Task, error) {
	if s == nil {
		return nil, ErrNilSampler
	}
	if err := cfg.validate(); err != nil {
		return nil, err
	}

	t := &Task{
		id:       uuid.Must(uuid.NewV7()).String(),
		cfg:      cfg,
		sampler:  s,
		tracer:   defaultTracer(),
		recorder: nopRecorder{},
		state:    StateIdle,
		result:   emptyResult(),
		wd:       watchdog{policy: cfg.Policy, timeout: cfg.Timeout},
		stopCh:   make(chan struct{}),
		done:     make(chan struct{}),
	}
	if t.cfg.Name == "" {
		t.cfg.Name = t.id
	}
	for _, opt := range opts {
		opt(t)
	}
	return t, nil
}

// ID returns the task's unique identifier.
func (t *Task) ID() string { return t.id }

// Name returns the configured name, or the ID if none was given.
func (t *Task) Name() string { return t.cfg.Name }

// Config returns the effective configuration.
func (t *Task) Config() Config { return t.cfg }

// OnResult registers fn as the task's observer, replacing any previous one.
// A nil fn removes the observer.
//
// fn runs on the polling goroutine after each stored sample, and once more
// with the marker when the watchdog fires or the sampler fails. It is never
// called after a Stop. Calls are strictly sequential; a slow fn delays the
// next cycle.
func (t *Task) OnResult(fn func(Result)) {
	t.mu.Lock()
	t.callback = fn
	t.mu.Unlock()
}

// Start launches the polling goroutine.
func (t *Task) Start() error {
	t.mu.Lock()
	if t.state != StateIdle {
		t.mu.Unlock()
		return ErrAlreadyStarted
	}
	now := time.Now()
	t.wd.started = now
	t.wd.lastOK = now
	t.setStateLocked(StateRunning)
	t.mu.Unlock()

	debug.Info("Task %s started (policy=%s timeout=%v interval=%v count=%d)",
		t.cfg.Name, t.cfg.Policy, t.cfg.Timeout, t.cfg.PollInterval, t.cfg.Count)

	go t.run()
	return nil
}

// Stop requests termination. The polling goroutine notices the request at its
// next suspension point; a sampler call in progress is not interrupted.
// Stop on a task that already terminated is a no-op.
func (t *Task) Stop() error {
	t.mu.Lock()
	defer t.mu.Unlock()

	switch {
	case t.state == StateIdle:
		return ErrNotStarted
	case t.state.Terminal():
		return nil
	}
	t.stopReq = true
	t.stopOnce.Do(func() { close(t.stopCh) })
	return nil
}

// StopWait requests termination and waits for the polling goroutine to exit.
// A timeout <= 0 waits indefinitely. If the goroutine is still alive when the
// timeout elapses, StopWait returns ErrStopTimeout and leaves it to finish.
func (t *Task) StopWait(timeout time.Duration) error {
	if err := t.Stop(); err != nil {
		return err
	}
	if timeout <= 0 {
		<-t.done
		return nil
	}

	timer := time.NewTimer(timeout)
	defer timer.Stop()
	select {
	case <-t.done:
		return nil
	case <-timer.C:
		debug.Warn("Task %s did not stop within %v", t.cfg.Name, timeout)
		return ErrStopTimeout
	}
}

// Wait blocks until the polling goroutine exits or ctx is done.
func (t *Task) Wait(ctx context.Context) error {
	if t.State() == StateIdle {
		return ErrNotStarted
	}
	select {
	case <-t.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Done returns a channel closed when the polling goroutine has exited.
// It is never closed for a task that was not started.
func (t *Task) Done() <-chan struct{} {
	return t.done
}

// Result returns a consistent snapshot of the result slot.
func (t *Task) Result() Result {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.result
}

// State returns the current lifecycle state.
func (t *Task) State() State {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.state
}

// IsRunning reports whether the task is in StateRunning.
func (t *Task) IsRunning() bool {
	return t.State() == StateRunning
}

// Stats returns a snapshot of the loop counters.
func (t *Task) Stats() Stats {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.stats
}

// outcome is what a sampler call produced.
type outcome struct {
	reading Reading
	err     error
}

func (t *Task) run() {
	defer close(t.done)

	for {
		// (a) cancellation is checked before every sampler call
		if t.stopRequested() {
			t.finish(StateStopped, Result{}, false)
			return
		}

		// (b) sample, watching the deadline while the call is in flight
		ctx, span := t.tracer.Start(context.Background(), "sampling.cycle",
			trace.WithAttributes(attribute.String("task", t.cfg.Name)))
		out, ok := t.sample(ctx)
		if !ok {
			span.SetAttributes(attribute.Bool("watchdog", true))
			span.End()
			t.expire()
			return
		}

		if out.err != nil {
			span.RecordError(out.err)
			span.SetStatus(codes.Error, "sampler failed")
			span.End()
			if t.fail(out.err) {
				return
			}
		} else {
			// (c) commit, then (d) notify
			res := t.commit(out.reading)
			span.SetAttributes(
				attribute.Int64("seq", int64(res.Seq)),
				attribute.Float64("value", res.Value),
			)
			span.End()
			if !t.stopRequested() {
				t.deliver(res)
			}
		}

		// (e) inter-poll sleep
		if !t.pause() {
			t.expire()
			return
		}

		// (f) watchdog predicate; a pending stop wins and is handled at the top
		if !t.stopRequested() && t.expired(time.Now()) {
			t.expire()
			return
		}
	}
}

// sample runs one sampler call on a helper goroutine and waits for it or for
// the watchdog deadline, whichever comes first. ok is false when the deadline
// won; the helper is then abandoned and no further call is issued.
func (t *Task) sample(ctx context.Context) (out outcome, ok bool) {
	ch := make(chan outcome, 1)
	go func() {
		_, span := t.tracer.Start(ctx, "sampling.sample",
			trace.WithAttributes(attribute.Int("count", t.cfg.Count)))
		out := t.call()
		if out.err == nil {
			span.SetAttributes(attribute.Int64("elapsed_us", out.reading.Elapsed.Microseconds()))
		}
		span.End()
		ch <- out
	}()

	timer := time.NewTimer(t.untilDeadline())
	defer timer.Stop()

	select {
	case out = <-ch:
		return out, true
	case <-timer.C:
		return outcome{}, false
	}
}

// call invokes the sampler, turning a panic into an error.
func (t *Task) call() (out outcome) {
	defer func() {
		if p := recover(); p != nil {
			out = outcome{err: fmt.Errorf("%w: %v", ErrSamplerPanic, p)}
		}
	}()
	out.reading, out.err = t.sampler.Sample(t.cfg.Count)
	return out
}

// pause sleeps the poll interval. It returns early on a stop request and
// returns false if the watchdog deadline passes first.
func (t *Task) pause() bool {
	if t.cfg.PollInterval <= 0 {
		return true
	}

	interval := time.NewTimer(t.cfg.PollInterval)
	defer interval.Stop()
	deadline := time.NewTimer(t.untilDeadline())
	defer deadline.Stop()

	select {
	case <-interval.C:
		return true
	case <-t.stopCh:
		return true
	case <-deadline.C:
		return false
	}
}

func (t *Task) untilDeadline() time.Duration {
	t.mu.Lock()
	defer t.mu.Unlock()
	return time.Until(t.wd.deadline())
}

func (t *Task) expired(now time.Time) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.wd.expired(now)
}

func (t *Task) stopRequested() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.stopReq
}

// commit stores a successful reading together with its timestamp.
func (t *Task) commit(r Reading) Result {
	now := time.Now()

	t.mu.Lock()
	t.stats.Cycles++
	t.stats.Samples++
	t.stats.ConsecutiveFailures = 0
	t.stats.LastElapsed = r.Elapsed
	t.result = Result{
		Value: r.Value,
		Kind:  KindSample,
		Time:  now,
		Seq:   t.result.Seq + 1,
	}
	t.wd.lastOK = now
	res := t.result
	t.mu.Unlock()

	t.recorder.ObserveSample(t.cfg.Name, r)
	debug.Sample(t.cfg.Name, res.Seq, res.Value)
	return res
}

// fail applies the failure policy. It returns true if the task terminated.
func (t *Task) fail(err error) bool {
	t.mu.Lock()
	t.stats.Cycles++
	t.stats.Failures++
	t.stats.ConsecutiveFailures++
	consecutive := t.stats.ConsecutiveFailures
	t.mu.Unlock()

	t.recorder.ObserveFailure(t.cfg.Name, err)
	debug.Error(fmt.Errorf("task %s: %w", t.cfg.Name, err))

	if t.cfg.OnFailure == FailRetry &&
		(t.cfg.MaxFailures == 0 || consecutive < t.cfg.MaxFailures) {
		return false
	}
	t.finish(StateFailed, Result{Value: math.NaN(), Kind: KindFailure, Err: err}, true)
	return true
}

// expire ends the task because the watchdog fired.
func (t *Task) expire() {
	if t.finish(StateTimedOut, Result{Value: math.NaN(), Kind: KindTimeout}, true) == StateTimedOut {
		debug.Info("Task %s: watchdog fired (%s policy, %v)", t.cfg.Name, t.cfg.Policy, t.cfg.Timeout)
	}
}

// finish moves the task to a terminal state and returns the state reached.
// If marker is true, res is stored as the final result and delivered to the
// observer. A pending stop request always wins: the task ends in StateStopped
// without a marker or a callback.
func (t *Task) finish(s State, res Result, marker bool) State {
	t.mu.Lock()
	if t.stopReq {
		s, marker = StateStopped, false
	}
	if marker {
		res.Time = time.Now()
		res.Seq = t.result.Seq + 1
		t.result = res
	}
	t.setStateLocked(s)
	t.mu.Unlock()

	if marker {
		t.deliver(res)
	}
	return s
}

func (t *Task) setStateLocked(s State) {
	prev := t.state
	t.state = s
	debug.Transition(t.cfg.Name, prev, s)
	t.recorder.ObserveState(t.cfg.Name, s)
}

// deliver invokes the observer outside the lock. A panicking observer is
// logged and does not take the polling goroutine down.
func (t *Task) deliver(res Result) {
	t.mu.Lock()
	fn := t.callback
	t.mu.Unlock()
	if fn == nil {
		return
	}

	defer func() {
		if p := recover(); p != nil {
			debug.Error(fmt.Errorf("task %s: observer panicked: %v", t.cfg.Name, p))
		}
	}()
	fn(res)
}

func wrapConfig(format string, args ...interface{}) error {
	return fmt.Errorf("%w: "+format, append([]interface{}{ErrInvalidConfig}, args...)...)
}
