package config

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/cjeanneret/PiSense/internal/logic/sampling"
)

// MaxConfigFileBytes caps the size of a configuration file.
const MaxConfigFileBytes = 64 << 10

// DefaultPollIntervalMs is used when task.poll_interval_ms is absent.
const DefaultPollIntervalMs = 300

// Sensor types.
const (
	SensorHCSR04    = "hcsr04_gpio"
	SensorSimulated = "simulated"
)

// SensorConfig describes the distance sensor and how it is sampled.
// Type selects a concrete implementation ("hcsr04_gpio" or "simulated").
type SensorConfig struct {
	Type             string  `yaml:"type"`
	TriggerPin       int     `yaml:"trigger_pin"`         // BCM pin driving TRIG
	EchoPin          int     `yaml:"echo_pin"`            // BCM pin reading ECHO (through a voltage divider)
	SettleMs         int     `yaml:"settle_ms"`           // wait after setup before the first measurement
	PulseUs          int     `yaml:"pulse_us"`            // trigger pulse width (µs)
	EchoTimeoutMs    int     `yaml:"echo_timeout_ms"`     // max wait for each echo edge
	SubSampleDelayMs int     `yaml:"sub_sample_delay_ms"` // gap between averaged readings
	MinCm            float64 `yaml:"min_cm"`              // simulated range
	MaxCm            float64 `yaml:"max_cm"`
	SimDelayMs       int     `yaml:"sim_delay_ms"` // simulated time per reading
}

// TaskConfig configures the background sampling task.
type TaskConfig struct {
	Name           string `yaml:"name"`
	Samples        int    `yaml:"samples"`          // readings averaged per stored sample
	PollIntervalMs int    `yaml:"poll_interval_ms"` // pause between samples
	TimeoutMs      int    `yaml:"timeout_ms"`       // watchdog timeout
	TimeoutPolicy  string `yaml:"timeout_policy"`   // "absolute" or "idle"
	OnFailure      string `yaml:"on_failure"`       // "abort" or "retry"
	MaxFailures    int    `yaml:"max_failures"`     // consecutive failures tolerated by "retry" (0 = unlimited)
	StopWaitMs     int    `yaml:"stop_wait_ms"`     // join timeout on shutdown
}

// TracingConfig configures OTLP span export.
type TracingConfig struct {
	Enabled    bool    `yaml:"enabled"`
	Endpoint   string  `yaml:"endpoint"`
	SampleRate float64 `yaml:"sample_rate"`
}

// TelemetryConfig enables metrics and tracing.
type TelemetryConfig struct {
	Metrics bool          `yaml:"metrics"`
	Tracing TracingConfig `yaml:"tracing"`
}

// DefaultsConfig contains generic parameters.
type DefaultsConfig struct {
	DebugLevel int  `yaml:"debug_level"` // debug level 0-4 (0=off, 1=info, 2=live, 3=verbose, 4=trace)
	MockGPIO   bool `yaml:"mock_gpio"`   // use mock GPIO (true=dev/test, false=real Raspberry Pi)
}

// Config aggregates all application configuration.
type Config struct {
	Sensor    SensorConfig    `yaml:"sensor"`
	Task      TaskConfig      `yaml:"task"`
	Telemetry TelemetryConfig `yaml:"telemetry"`
	Defaults  DefaultsConfig  `yaml:"defaults"`
}

// ValidateConfigPath accepts only a .yaml file whose parent directory is
// named "configs", with no ".." component.
func ValidateConfigPath(path string) error {
	if path == "" {
		return errors.New("config path is empty")
	}
	for _, part := range strings.FieldsFunc(filepath.ToSlash(path), func(r rune) bool { return r == '/' }) {
		if part == ".." {
			return fmt.Errorf("config path %q must not contain ..", path)
		}
	}
	clean := filepath.Clean(path)
	if filepath.Ext(clean) != ".yaml" {
		return fmt.Errorf("config path %q must have a .yaml extension", path)
	}
	abs, err := filepath.Abs(clean)
	if err != nil {
		return fmt.Errorf("resolve config path: %w", err)
	}
	if filepath.Base(filepath.Dir(abs)) != "configs" {
		return fmt.Errorf("config path %q must be inside a configs/ directory", path)
	}
	return nil
}

// Load reads a YAML file and returns the configuration.
func Load(path string) (*Config, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("read config file: %w", err)
	}
	defer f.Close()

	data, err := io.ReadAll(io.LimitReader(f, MaxConfigFileBytes+1))
	if err != nil {
		return nil, fmt.Errorf("read config file: %w", err)
	}
	if len(data) > MaxConfigFileBytes {
		return nil, fmt.Errorf("config file exceeds %d bytes", MaxConfigFileBytes)
	}

	// poll_interval_ms: 0 is valid, so its default is seeded before decoding.
	cfg := Config{Task: TaskConfig{PollIntervalMs: DefaultPollIntervalMs}}
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("unmarshal yaml: %w", err)
	}

	if err := cfg.applyDefaults(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) applyDefaults() error {
	s := &c.Sensor
	switch s.Type {
	case "":
		return fmt.Errorf("sensor.type is required")
	case SensorHCSR04:
		if s.TriggerPin <= 0 || s.EchoPin <= 0 {
			return fmt.Errorf("sensor.trigger_pin and sensor.echo_pin are required for %s", SensorHCSR04)
		}
		if s.TriggerPin == s.EchoPin {
			return fmt.Errorf("sensor.trigger_pin and sensor.echo_pin must differ, both are %d", s.EchoPin)
		}
	case SensorSimulated:
	default:
		return fmt.Errorf("unknown sensor.type %q", s.Type)
	}
	if s.SettleMs <= 0 {
		s.SettleMs = 2000 // HC-SR04 settle time
	}
	if s.PulseUs <= 0 {
		s.PulseUs = 10
	}
	if s.EchoTimeoutMs <= 0 {
		s.EchoTimeoutMs = 40 // ~6.8 m round trip, beyond the 4 m range
	}
	if s.SubSampleDelayMs < 0 {
		return fmt.Errorf("sensor.sub_sample_delay_ms must be >= 0, got %d", s.SubSampleDelayMs)
	}
	if s.MinCm == 0 && s.MaxCm == 0 {
		s.MinCm, s.MaxCm = 1, 400
	}
	if s.MinCm > s.MaxCm {
		return fmt.Errorf("sensor.min_cm (%.2f) must be <= sensor.max_cm (%.2f)", s.MinCm, s.MaxCm)
	}
	if s.SimDelayMs < 0 {
		return fmt.Errorf("sensor.sim_delay_ms must be >= 0, got %d", s.SimDelayMs)
	}

	t := &c.Task
	if t.Samples <= 0 {
		t.Samples = 3
	}
	if t.PollIntervalMs < 0 {
		return fmt.Errorf("task.poll_interval_ms must be >= 0, got %d", t.PollIntervalMs)
	}
	if t.TimeoutMs <= 0 {
		t.TimeoutMs = 5000
	}
	if t.TimeoutPolicy == "" {
		t.TimeoutPolicy = sampling.Absolute.String()
	}
	if _, err := sampling.ParsePolicy(t.TimeoutPolicy); err != nil {
		return fmt.Errorf("task.timeout_policy: %w", err)
	}
	if t.OnFailure == "" {
		t.OnFailure = sampling.FailAbort.String()
	}
	if _, err := sampling.ParseFailurePolicy(t.OnFailure); err != nil {
		return fmt.Errorf("task.on_failure: %w", err)
	}
	if t.MaxFailures < 0 {
		return fmt.Errorf("task.max_failures must be >= 0, got %d", t.MaxFailures)
	}
	if t.StopWaitMs <= 0 {
		t.StopWaitMs = 1000
	}

	tr := &c.Telemetry.Tracing
	if tr.Enabled && tr.Endpoint == "" {
		tr.Endpoint = "localhost:4317"
	}
	if tr.SampleRate < 0 || tr.SampleRate > 1 {
		return fmt.Errorf("telemetry.tracing.sample_rate must be between 0 and 1, got %.2f", tr.SampleRate)
	}
	if tr.Enabled && tr.SampleRate == 0 {
		tr.SampleRate = 1
	}

	if c.Defaults.DebugLevel < 0 || c.Defaults.DebugLevel > 4 {
		return fmt.Errorf("defaults.debug_level must be between 0 and 4, got %d", c.Defaults.DebugLevel)
	}
	return nil
}

func ms(n int) time.Duration {
	return time.Duration(n) * time.Millisecond
}

// Settle returns the sensor settle time after setup.
func (c *Config) Settle() time.Duration { return ms(c.Sensor.SettleMs) }

// Pulse returns the trigger pulse width.
func (c *Config) Pulse() time.Duration {
	return time.Duration(c.Sensor.PulseUs) * time.Microsecond
}

// EchoTimeout returns the max wait for one echo edge.
func (c *Config) EchoTimeout() time.Duration { return ms(c.Sensor.EchoTimeoutMs) }

// SubSampleDelay returns the gap between averaged readings.
func (c *Config) SubSampleDelay() time.Duration { return ms(c.Sensor.SubSampleDelayMs) }

// SimDelay returns the simulated time per reading.
func (c *Config) SimDelay() time.Duration { return ms(c.Sensor.SimDelayMs) }

// PollInterval returns the pause between samples.
func (c *Config) PollInterval() time.Duration { return ms(c.Task.PollIntervalMs) }

// Timeout returns the watchdog timeout.
func (c *Config) Timeout() time.Duration { return ms(c.Task.TimeoutMs) }

// StopWait returns the join timeout used on shutdown.
func (c *Config) StopWait() time.Duration { return ms(c.Task.StopWaitMs) }

// TaskConfig converts the task section into an engine configuration.
// Policies were validated by Load.
func (c *Config) TaskConfig() sampling.Config {
	policy, _ := sampling.ParsePolicy(c.Task.TimeoutPolicy)
	onFailure, _ := sampling.ParseFailurePolicy(c.Task.OnFailure)
	return sampling.Config{
		Name:         c.Task.Name,
		Timeout:      c.Timeout(),
		Policy:       policy,
		PollInterval: c.PollInterval(),
		Count:        c.Task.Samples,
		OnFailure:    onFailure,
		MaxFailures:  c.Task.MaxFailures,
	}
}
