package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/cjeanneret/PiSense/internal/logic/sampling"
)

// ---------- ValidateConfigPath ----------

func TestValidateConfigPath_Valid(t *testing.T) {
	// Create a real configs/ directory so filepath.Abs resolves correctly.
	dir := t.TempDir()
	cfgDir := filepath.Join(dir, "configs")
	if err := os.Mkdir(cfgDir, 0o755); err != nil {
		t.Fatal(err)
	}
	path := filepath.Join(cfgDir, "default.yaml")
	if err := os.WriteFile(path, []byte("{}"), 0o644); err != nil {
		t.Fatal(err)
	}

	if err := ValidateConfigPath(path); err != nil {
		t.Errorf("expected valid path, got error: %v", err)
	}
}

func TestValidateConfigPath_PathTraversal(t *testing.T) {
	cases := []string{
		"../../etc/passwd",
		"configs/../../../etc/shadow",
	}
	for _, path := range cases {
		if err := ValidateConfigPath(path); err == nil {
			t.Errorf("expected error for traversal path %q, got nil", path)
		}
	}
}

func TestValidateConfigPath_WrongExtension(t *testing.T) {
	cases := []string{
		"configs/default.json",
		"configs/default.yml",
		"configs/default.txt",
		"configs/default",
	}
	for _, path := range cases {
		if err := ValidateConfigPath(path); err == nil {
			t.Errorf("expected error for extension in %q, got nil", path)
		}
	}
}

func TestValidateConfigPath_NotInConfigsDir(t *testing.T) {
	cases := []string{
		"other/default.yaml",
		"default.yaml",
		"/tmp/default.yaml",
	}
	for _, path := range cases {
		if err := ValidateConfigPath(path); err == nil {
			t.Errorf("expected error for path outside configs/ %q, got nil", path)
		}
	}
}

func TestValidateConfigPath_EmptyPath(t *testing.T) {
	if err := ValidateConfigPath(""); err == nil {
		t.Error("expected error for empty path, got nil")
	}
}

func TestValidateConfigPath_VeryLongPath(t *testing.T) {
	long := "configs/" + strings.Repeat("a", 1000) + ".yaml"
	// Should not panic; error or success is OS-dependent, but must not crash.
	_ = ValidateConfigPath(long)
}

func TestValidateConfigPath_SpecialChars(t *testing.T) {
	dir := t.TempDir()
	cfgDir := filepath.Join(dir, "configs")
	if err := os.Mkdir(cfgDir, 0o755); err != nil {
		t.Fatal(err)
	}

	cases := []struct {
		name    string
		wantErr bool
	}{
		{"con fig.yaml", false},
		{"café.yaml", false},
	}
	for _, tc := range cases {
		path := filepath.Join(cfgDir, tc.name)
		err := ValidateConfigPath(path)
		if tc.wantErr && err == nil {
			t.Errorf("expected error for %q, got nil", tc.name)
		}
		if !tc.wantErr && err != nil {
			t.Errorf("unexpected error for %q: %v", tc.name, err)
		}
	}
}

func TestValidateConfigPath_DoubleTraversal(t *testing.T) {
	dir := t.TempDir()
	cfgDir := filepath.Join(dir, "configs")
	if err := os.Mkdir(cfgDir, 0o755); err != nil {
		t.Fatal(err)
	}
	// Try to escape via ../../configs/ok.yaml; filepath.Clean resolves this
	// and the parent must still be "configs".
	path := filepath.Join(cfgDir, "../../configs/ok.yaml")
	err := ValidateConfigPath(path)
	// After Clean the parent may or may not be "configs" depending on resolution.
	// The important thing is it either succeeds with a valid parent or fails.
	_ = err
}

// ---------- Load ----------

// writeConfig creates a temporary configs/ dir with the given YAML content and returns the path.
func writeConfig(t *testing.T, content string) string {
	t.Helper()
	dir := t.TempDir()
	cfgDir := filepath.Join(dir, "configs")
	if err := os.Mkdir(cfgDir, 0o755); err != nil {
		t.Fatal(err)
	}
	path := filepath.Join(cfgDir, "test.yaml")
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}
	return path
}

const validYAML = `
sensor:
  type: "hcsr04_gpio"
  trigger_pin: 23
  echo_pin: 24
  settle_ms: 500
  pulse_us: 10
  echo_timeout_ms: 30
  sub_sample_delay_ms: 60
task:
  name: "front"
  samples: 5
  poll_interval_ms: 250
  timeout_ms: 8000
  timeout_policy: "idle"
  on_failure: "retry"
  max_failures: 3
  stop_wait_ms: 1500
telemetry:
  metrics: true
  tracing:
    enabled: true
    endpoint: "collector:4317"
    sample_rate: 0.25
defaults:
  debug_level: 2
  mock_gpio: true
`

func TestLoad_ValidFullConfig(t *testing.T) {
	path := writeConfig(t, validYAML)
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.Sensor.Type != SensorHCSR04 {
		t.Errorf("sensor.type = %q, want %q", cfg.Sensor.Type, SensorHCSR04)
	}
	if cfg.Sensor.TriggerPin != 23 || cfg.Sensor.EchoPin != 24 {
		t.Errorf("pins = %d/%d, want 23/24", cfg.Sensor.TriggerPin, cfg.Sensor.EchoPin)
	}
	if cfg.Task.Samples != 5 {
		t.Errorf("task.samples = %d, want 5", cfg.Task.Samples)
	}
	if !cfg.Telemetry.Metrics || !cfg.Telemetry.Tracing.Enabled {
		t.Error("telemetry should be enabled")
	}
	if cfg.Telemetry.Tracing.Endpoint != "collector:4317" {
		t.Errorf("tracing.endpoint = %q", cfg.Telemetry.Tracing.Endpoint)
	}
	if cfg.Telemetry.Tracing.SampleRate != 0.25 {
		t.Errorf("tracing.sample_rate = %v, want 0.25", cfg.Telemetry.Tracing.SampleRate)
	}
	if cfg.Defaults.DebugLevel != 2 || !cfg.Defaults.MockGPIO {
		t.Errorf("defaults = %+v", cfg.Defaults)
	}
}

func TestLoad_TaskConfig(t *testing.T) {
	cfg, err := Load(writeConfig(t, validYAML))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	got := cfg.TaskConfig()
	want := sampling.Config{
		Name:         "front",
		Timeout:      8 * time.Second,
		Policy:       sampling.Idle,
		PollInterval: 250 * time.Millisecond,
		Count:        5,
		OnFailure:    sampling.FailRetry,
		MaxFailures:  3,
	}
	if got != want {
		t.Errorf("TaskConfig() = %+v, want %+v", got, want)
	}
}

func TestLoad_MissingSensorType(t *testing.T) {
	yaml := `
task:
  samples: 3
`
	if _, err := Load(writeConfig(t, yaml)); err == nil {
		t.Error("expected error for missing sensor.type, got nil")
	}
}

func TestLoad_UnknownSensorType(t *testing.T) {
	yaml := `
sensor:
  type: "lidar"
`
	if _, err := Load(writeConfig(t, yaml)); err == nil {
		t.Error("expected error for unknown sensor.type, got nil")
	}
}

func TestLoad_HCSR04Pins(t *testing.T) {
	cases := []struct {
		name string
		yaml string
	}{
		{"missing", "sensor:\n  type: hcsr04_gpio\n"},
		{"no_echo", "sensor:\n  type: hcsr04_gpio\n  trigger_pin: 23\n"},
		{"same_pin", "sensor:\n  type: hcsr04_gpio\n  trigger_pin: 23\n  echo_pin: 23\n"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if _, err := Load(writeConfig(t, tc.yaml)); err == nil {
				t.Error("expected pin validation error, got nil")
			}
		})
	}
}

func TestLoad_InvalidPolicies(t *testing.T) {
	cases := []struct {
		name string
		task string
	}{
		{"timeout_policy", "  timeout_policy: sometimes\n"},
		{"on_failure", "  on_failure: panic\n"},
		{"max_failures", "  max_failures: -1\n"},
		{"poll_interval", "  poll_interval_ms: -5\n"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			yaml := "sensor:\n  type: simulated\ntask:\n" + tc.task
			if _, err := Load(writeConfig(t, yaml)); err == nil {
				t.Errorf("expected error for %s, got nil", tc.name)
			}
		})
	}
}

func TestLoad_RangeInverted(t *testing.T) {
	yaml := `
sensor:
  type: "simulated"
  min_cm: 50
  max_cm: 10
`
	if _, err := Load(writeConfig(t, yaml)); err == nil {
		t.Error("expected error for min_cm > max_cm, got nil")
	}
}

func TestLoad_SampleRateOutOfRange(t *testing.T) {
	yaml := `
sensor:
  type: "simulated"
telemetry:
  tracing:
    enabled: true
    sample_rate: 1.5
`
	if _, err := Load(writeConfig(t, yaml)); err == nil {
		t.Error("expected error for sample_rate > 1, got nil")
	}
}

func TestLoad_DebugLevelOutOfRange(t *testing.T) {
	yaml := `
sensor:
  type: "simulated"
defaults:
  debug_level: 9
`
	if _, err := Load(writeConfig(t, yaml)); err == nil {
		t.Error("expected error for debug_level 9, got nil")
	}
}

func TestLoad_DefaultValues(t *testing.T) {
	yaml := `
sensor:
  type: "simulated"
telemetry:
  tracing:
    enabled: true
`
	cfg, err := Load(writeConfig(t, yaml))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.Sensor.SettleMs != 2000 {
		t.Errorf("settle_ms default = %d, want 2000", cfg.Sensor.SettleMs)
	}
	if cfg.Sensor.PulseUs != 10 {
		t.Errorf("pulse_us default = %d, want 10", cfg.Sensor.PulseUs)
	}
	if cfg.Sensor.EchoTimeoutMs != 40 {
		t.Errorf("echo_timeout_ms default = %d, want 40", cfg.Sensor.EchoTimeoutMs)
	}
	if cfg.Sensor.MinCm != 1 || cfg.Sensor.MaxCm != 400 {
		t.Errorf("simulated range default = [%v, %v], want [1, 400]", cfg.Sensor.MinCm, cfg.Sensor.MaxCm)
	}
	if cfg.Task.Samples != 3 {
		t.Errorf("samples default = %d, want 3", cfg.Task.Samples)
	}
	if cfg.Task.PollIntervalMs != 300 {
		t.Errorf("poll_interval_ms default = %d, want 300", cfg.Task.PollIntervalMs)
	}
	if cfg.Task.TimeoutMs != 5000 {
		t.Errorf("timeout_ms default = %d, want 5000", cfg.Task.TimeoutMs)
	}
	if cfg.Task.TimeoutPolicy != "absolute" {
		t.Errorf("timeout_policy default = %q, want absolute", cfg.Task.TimeoutPolicy)
	}
	if cfg.Task.OnFailure != "abort" {
		t.Errorf("on_failure default = %q, want abort", cfg.Task.OnFailure)
	}
	if cfg.Task.StopWaitMs != 1000 {
		t.Errorf("stop_wait_ms default = %d, want 1000", cfg.Task.StopWaitMs)
	}
	if cfg.Telemetry.Tracing.Endpoint != "localhost:4317" {
		t.Errorf("tracing.endpoint default = %q, want localhost:4317", cfg.Telemetry.Tracing.Endpoint)
	}
	if cfg.Telemetry.Tracing.SampleRate != 1 {
		t.Errorf("tracing.sample_rate default = %v, want 1", cfg.Telemetry.Tracing.SampleRate)
	}
}

func TestLoad_PollIntervalZero(t *testing.T) {
	yaml := `
sensor:
  type: "simulated"
task:
  poll_interval_ms: 0
  timeout_ms: 1000
`
	cfg, err := Load(writeConfig(t, yaml))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.Task.PollIntervalMs != 0 {
		t.Errorf("poll_interval_ms = %d, want explicit 0 kept", cfg.Task.PollIntervalMs)
	}
	if got := cfg.TaskConfig().PollInterval; got != 0 {
		t.Errorf("TaskConfig().PollInterval = %v, want 0", got)
	}
}

func TestLoad_PollIntervalNegative(t *testing.T) {
	yaml := `
sensor:
  type: "simulated"
task:
  poll_interval_ms: -1
`
	if _, err := Load(writeConfig(t, yaml)); err == nil {
		t.Error("expected error for poll_interval_ms -1, got nil")
	}
}

func TestLoad_FileTooLarge(t *testing.T) {
	dir := t.TempDir()
	cfgDir := filepath.Join(dir, "configs")
	if err := os.Mkdir(cfgDir, 0o755); err != nil {
		t.Fatal(err)
	}
	path := filepath.Join(cfgDir, "big.yaml")
	data := make([]byte, MaxConfigFileBytes+1)
	for i := range data {
		data[i] = '#'
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		t.Fatal(err)
	}
	_, err := Load(path)
	if err == nil {
		t.Error("expected error for oversized config file, got nil")
	}
}

func TestLoad_InvalidYAML(t *testing.T) {
	path := writeConfig(t, "{{{{invalid yaml!!!!")
	_, err := Load(path)
	if err == nil {
		t.Error("expected error for invalid YAML, got nil")
	}
}

func TestLoad_EmptyFile(t *testing.T) {
	path := writeConfig(t, "")
	_, err := Load(path)
	if err == nil {
		t.Error("expected error for empty config (sensor.type missing), got nil")
	}
}

func TestLoad_UnknownFields(t *testing.T) {
	yaml := `
sensor:
  type: "simulated"
unknown_section:
  foo: bar
`
	path := writeConfig(t, yaml)
	_, err := Load(path)
	if err != nil {
		t.Errorf("unknown fields should be ignored, got error: %v", err)
	}
}

func TestLoad_FileNotFound(t *testing.T) {
	dir := t.TempDir()
	cfgDir := filepath.Join(dir, "configs")
	if err := os.Mkdir(cfgDir, 0o755); err != nil {
		t.Fatal(err)
	}
	path := filepath.Join(cfgDir, "nonexistent.yaml")
	_, err := Load(path)
	if err == nil {
		t.Error("expected error for nonexistent file, got nil")
	}
}

func TestLoad_ShippedDefault(t *testing.T) {
	cfg, err := Load(filepath.Join("..", "..", "configs", "default.yaml"))
	if err != nil {
		t.Fatalf("configs/default.yaml: %v", err)
	}
	if cfg.Sensor.Type != SensorSimulated || !cfg.Defaults.MockGPIO {
		t.Errorf("shipped config should run without hardware, got sensor.type=%q mock_gpio=%v",
			cfg.Sensor.Type, cfg.Defaults.MockGPIO)
	}
}

// ---------- Helper methods ----------

func TestConfig_Durations(t *testing.T) {
	cfg := &Config{
		Sensor: SensorConfig{SettleMs: 2000, PulseUs: 10, EchoTimeoutMs: 40, SubSampleDelayMs: 60, SimDelayMs: 400},
		Task:   TaskConfig{PollIntervalMs: 300, TimeoutMs: 5000, StopWaitMs: 1000},
	}
	cases := []struct {
		name string
		got  time.Duration
		want time.Duration
	}{
		{"Settle", cfg.Settle(), 2 * time.Second},
		{"Pulse", cfg.Pulse(), 10 * time.Microsecond},
		{"EchoTimeout", cfg.EchoTimeout(), 40 * time.Millisecond},
		{"SubSampleDelay", cfg.SubSampleDelay(), 60 * time.Millisecond},
		{"SimDelay", cfg.SimDelay(), 400 * time.Millisecond},
		{"PollInterval", cfg.PollInterval(), 300 * time.Millisecond},
		{"Timeout", cfg.Timeout(), 5 * time.Second},
		{"StopWait", cfg.StopWait(), time.Second},
	}
	for _, tc := range cases {
		if tc.got != tc.want {
			t.Errorf("%s() = %v, want %v", tc.name, tc.got, tc.want)
		}
	}
}
