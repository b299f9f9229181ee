package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"log"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strconv"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/sync/errgroup"

	"github.com/cjeanneret/PiSense/internal/config"
	"github.com/cjeanneret/PiSense/internal/debug"
	"github.com/cjeanneret/PiSense/internal/hw/gpio"
	"github.com/cjeanneret/PiSense/internal/hw/ultrasonic"
	"github.com/cjeanneret/PiSense/internal/logic/sampling"
	"github.com/cjeanneret/PiSense/internal/telemetry"
	"github.com/cjeanneret/PiSense/internal/web"
)

func main() {
	// CLI flags
	webPort := &webPortFlag{defaultPort: 8080}
	flag.Var(webPort, "web", "start web server on port; -web= for default 8080, -web 8980 for custom port")
	cfgPath := flag.String("config", filepath.Join("configs", "default.yaml"), "path to config file")
	samples := flag.Int("samples", 0, "override task.samples (readings averaged per value)")
	timeoutMs := flag.Int("timeout_ms", 0, "override task.timeout_ms")
	policy := flag.String("policy", "", "override task.timeout_policy (absolute|idle)")
	flag.Parse()

	if err := config.ValidateConfigPath(*cfgPath); err != nil {
		log.Fatalf("invalid config path: %v", err)
	}
	cfg, err := config.Load(*cfgPath)
	if err != nil {
		log.Fatalf("load config failed: %v", err)
	}

	// Only non-zero values are applied; zero means "use config default"
	ov := overrides{Samples: *samples, TimeoutMs: *timeoutMs, Policy: *policy}
	if err := validateCLIOverrides(ov); err != nil {
		log.Fatalf("invalid CLI override: %v", err)
	}
	applyOverrides(cfg, ov)

	debug.Init(cfg.Defaults.DebugLevel)
	debug.Section("Initialization")
	debug.Value("Config path", *cfgPath)
	debug.Value("Debug level", debug.Level())

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	if err := run(ctx, cfg, webPort.port(), os.Stdout); err != nil {
		log.Fatalf("pisense: %v", err)
	}
}

// run wires the hardware, the task and the optional web server, and blocks
// until the task has ended (or, with a web server, until ctx is done).
func run(ctx context.Context, cfg *config.Config, port int, out io.Writer) error {
	debug.Value("Mock GPIO", cfg.Defaults.MockGPIO)
	debug.Step(1, "Initializing GPIO driver")
	gpioDriver, err := gpio.NewDriver(cfg.Defaults.MockGPIO)
	if err != nil {
		return fmt.Errorf("init GPIO: %w", err)
	}
	var (
		task    *sampling.Task
		closers = []io.Closer{gpioDriver}
	)
	defer func() {
		releaseHardware(task, cfg.StopWait(), closers...)
	}()

	debug.Step(2, "Initializing sensor")
	sensor, err := newSensorFromConfig(gpioDriver, cfg)
	if err != nil {
		return fmt.Errorf("init sensor: %w", err)
	}
	if c, ok := sensor.(io.Closer); ok {
		// sensor before driver
		closers = append([]io.Closer{c}, closers...)
	}
	debug.PrintStruct("Sensor config", cfg.Sensor)

	debug.Step(3, "Initializing telemetry")
	var opts []sampling.Option
	if cfg.Telemetry.Tracing.Enabled {
		shutdown, err := telemetry.SetupTracing(ctx, cfg.Telemetry.Tracing.Endpoint, cfg.Telemetry.Tracing.SampleRate)
		if err != nil {
			return fmt.Errorf("setup tracing: %w", err)
		}
		defer func() {
			sctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			if err := shutdown(sctx); err != nil {
				log.Printf("tracing shutdown failed: %v", err)
			}
		}()
		debug.Value("OTLP endpoint", cfg.Telemetry.Tracing.Endpoint)
	}
	opts = append(opts, sampling.WithTracer(telemetry.Tracer("github.com/cjeanneret/PiSense/internal/logic/sampling")))

	var (
		metrics        *telemetry.Metrics
		metricsHandler http.Handler
	)
	if cfg.Telemetry.Metrics {
		reg := prometheus.NewRegistry()
		reg.MustRegister(
			collectors.NewGoCollector(),
			collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		)
		metrics = telemetry.NewMetrics(reg)
		metricsHandler = promhttp.HandlerFor(reg, promhttp.HandlerOpts{})
		opts = append(opts, sampling.WithRecorder(telemetry.NewRecorder(metrics)))
	}

	debug.Step(4, "Creating sampling task")
	task, err = sampling.New(sampling.Averaging(sensor.Measure, cfg.SubSampleDelay()), cfg.TaskConfig(), opts...)
	if err != nil {
		return fmt.Errorf("create task: %w", err)
	}
	debug.Value("Task ID", task.ID())
	debug.PrintStruct("Task config", task.Config())

	broadcaster := web.NewStatusBroadcaster()
	task.OnResult(func(res sampling.Result) {
		if res.Terminal() {
			debug.Info("Task %s ended with %s", task.Name(), res)
		} else {
			fmt.Fprintf(out, "Distance: %.2f cm\n", res.Value)
		}
		broadcaster.BroadcastResult(res)
	})

	var srv *web.Server
	if port > 0 {
		debug.SetOutput(io.MultiWriter(os.Stdout, web.BroadcastWriter(broadcaster)))
		srv, err = web.NewServer(fmt.Sprintf(":%d", port), web.Deps{
			Broadcaster:    broadcaster,
			Task:           task,
			Metrics:        metrics,
			MetricsHandler: metricsHandler,
		})
		if err != nil {
			return fmt.Errorf("create web server: %w", err)
		}
	}

	if err := task.Start(); err != nil {
		return err
	}
	debug.Section("Sampling")

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return supervise(gctx, task, cfg.StopWait(), srv == nil)
	})
	if srv != nil {
		g.Go(func() error {
			return srv.Run(gctx)
		})
	}
	err = g.Wait()

	report(out, task)
	return err
}

// supervise stops the task when ctx is done. If exitWithTask is set it also
// returns as soon as the task ends on its own.
func supervise(ctx context.Context, task *sampling.Task, stopWait time.Duration, exitWithTask bool) error {
	done := task.Done()
	if !exitWithTask {
		// keep serving the final status until shutdown
		done = nil
	}

	select {
	case <-done:
		return nil
	case <-ctx.Done():
	}

	debug.Info("Shutting down: stopping task %s", task.Name())
	if err := task.StopWait(stopWait); err != nil {
		if errors.Is(err, sampling.ErrStopTimeout) {
			log.Printf("warning: task did not stop within %v", stopWait)
			return nil
		}
		return err
	}
	return nil
}

// releaseHardware closes the sensor and the GPIO driver once the polling
// goroutine is gone. A task still inside a sampler call gets grace to finish;
// if it is still running after that, nothing is closed and false is returned.
func releaseHardware(task *sampling.Task, grace time.Duration, closers ...io.Closer) bool {
	if task != nil && task.IsRunning() {
		timer := time.NewTimer(grace)
		defer timer.Stop()
		select {
		case <-task.Done():
		case <-timer.C:
			log.Printf("warning: task %s still sampling after %v, leaving hardware open", task.Name(), grace)
			return false
		}
	}

	for _, c := range closers {
		if err := c.Close(); err != nil {
			log.Printf("closing %T failed: %v", c, err)
		}
	}
	return true
}

// report prints how the task ended.
func report(out io.Writer, task *sampling.Task) {
	st := task.Stats()
	debug.Summary("Task Summary")
	debug.Value("State", task.State())
	debug.Value("Samples", st.Samples)
	debug.Value("Failures", st.Failures)
	fmt.Fprintf(out, "Task %s: %s, last result %s (%d samples, %d failures)\n",
		task.Name(), task.State(), task.Result(), st.Samples, st.Failures)
}

// overrides holds CLI values that replace config entries when non-zero.
type overrides struct {
	Samples   int
	TimeoutMs int
	Policy    string
}

// validateCLIOverrides checks that non-zero CLI overrides are within valid ranges.
func validateCLIOverrides(o overrides) error {
	if o.Samples < 0 || o.Samples > 1000 {
		return fmt.Errorf("samples must be between 1 and 1000, got %d", o.Samples)
	}
	if o.TimeoutMs < 0 {
		return fmt.Errorf("timeout_ms must be > 0, got %d", o.TimeoutMs)
	}
	if o.Policy != "" {
		if _, err := sampling.ParsePolicy(o.Policy); err != nil {
			return err
		}
	}
	return nil
}

// applyOverrides mutates cfg with overrides. Only non-zero override values are applied.
func applyOverrides(cfg *config.Config, o overrides) {
	if o.Samples > 0 {
		cfg.Task.Samples = o.Samples
	}
	if o.TimeoutMs > 0 {
		cfg.Task.TimeoutMs = o.TimeoutMs
	}
	if o.Policy != "" {
		cfg.Task.TimeoutPolicy = o.Policy
	}
}

// webPortFlag implements flag.Value for -web: 0 = disabled, -web= or -web 8080 → 8080, -web 8980 → 8980.
type webPortFlag struct {
	val         int
	defaultPort int
}

func (w *webPortFlag) String() string {
	if w.val == 0 {
		return "0"
	}
	return strconv.Itoa(w.val)
}

func (w *webPortFlag) Set(s string) error {
	if s == "" {
		w.val = w.defaultPort
		return nil
	}
	v, err := strconv.Atoi(s)
	if err != nil {
		return err
	}
	if v <= 0 || v > 65535 {
		return fmt.Errorf("port must be 1-65535, got %d", v)
	}
	w.val = v
	return nil
}

func (w *webPortFlag) port() int { return w.val }

// newSensorFromConfig selects a sensor implementation based on configuration.
// A real HC-SR04 is set up (and settled) before it is returned.
func newSensorFromConfig(g gpio.Driver, cfg *config.Config) (ultrasonic.Sensor, error) {
	switch cfg.Sensor.Type {
	case config.SensorHCSR04:
		s := ultrasonic.NewHCSR04(g, ultrasonic.Config{
			TriggerPin:  cfg.Sensor.TriggerPin,
			EchoPin:     cfg.Sensor.EchoPin,
			Pulse:       cfg.Pulse(),
			EchoTimeout: cfg.EchoTimeout(),
			Settle:      cfg.Settle(),
		})
		if err := s.Setup(); err != nil {
			return nil, err
		}
		return s, nil
	case config.SensorSimulated:
		s, err := ultrasonic.NewSimulated(cfg.Sensor.MinCm, cfg.Sensor.MaxCm, cfg.SimDelay(), uint64(time.Now().UnixNano()))
		if err != nil {
			return nil, err
		}
		return s, nil
	default:
		return nil, fmt.Errorf("unsupported sensor type: %s", cfg.Sensor.Type)
	}
}
