package ultrasonic

import (
	"fmt"
	"time"

	"github.com/cjeanneret/PiSense/internal/debug"
	"github.com/cjeanneret/PiSense/internal/hw/gpio"
)

// Config holds the wiring and timing of an HC-SR04.
type Config struct {
	TriggerPin  int
	EchoPin     int
	Pulse       time.Duration // trigger pulse width
	EchoTimeout time.Duration // max wait for each echo edge
	Settle      time.Duration // wait after Setup before the first measurement
}

// HCSR04 drives an HC-SR04 ultrasonic sensor through a GPIO driver.
// It is not safe for concurrent use; the sampling task calls it from one
// goroutine at a time.
type HCSR04 struct {
	gpio gpio.Driver
	cfg  Config
	now  func() time.Time
}

// NewHCSR04 creates a sensor. Zero timings fall back to the datasheet values.
func NewHCSR04(driver gpio.Driver, cfg Config) *HCSR04 {
	if cfg.Pulse <= 0 {
		cfg.Pulse = 10 * time.Microsecond
	}
	if cfg.EchoTimeout <= 0 {
		cfg.EchoTimeout = 40 * time.Millisecond
	}
	return &HCSR04{
		gpio: driver,
		cfg:  cfg,
		now:  time.Now,
	}
}

// Setup configures the pins, pulls the trigger low and lets the sensor settle.
func (s *HCSR04) Setup() error {
	debug.Verbose("HC-SR04 setup: trigger=%d echo=%d settle=%v",
		s.cfg.TriggerPin, s.cfg.EchoPin, s.cfg.Settle)

	if err := s.gpio.SetupPin(s.cfg.TriggerPin, gpio.Output); err != nil {
		return fmt.Errorf("setup trigger pin %d: %w", s.cfg.TriggerPin, err)
	}
	if err := s.gpio.SetupPin(s.cfg.EchoPin, gpio.InputPullDown); err != nil {
		return fmt.Errorf("setup echo pin %d: %w", s.cfg.EchoPin, err)
	}
	if err := s.gpio.WritePin(s.cfg.TriggerPin, gpio.Low); err != nil {
		return fmt.Errorf("reset trigger: %w", err)
	}
	if s.cfg.Settle > 0 {
		time.Sleep(s.cfg.Settle)
	}
	return nil
}

// Measure fires one trigger pulse and times the echo.
func (s *HCSR04) Measure() (float64, error) {
	if err := s.pulse(); err != nil {
		return 0, err
	}

	start := s.now()
	deadline := start.Add(s.cfg.EchoTimeout)
	reads := 0
	for {
		reads++
		lvl, err := s.gpio.ReadPin(s.cfg.EchoPin)
		if err != nil {
			return 0, fmt.Errorf("read echo: %w", err)
		}
		if lvl == gpio.High {
			break
		}
		start = s.now()
		if start.After(deadline) {
			return 0, ErrNoEcho
		}
	}

	end := start
	deadline = start.Add(s.cfg.EchoTimeout)
	for {
		reads++
		lvl, err := s.gpio.ReadPin(s.cfg.EchoPin)
		if err != nil {
			return 0, fmt.Errorf("read echo: %w", err)
		}
		if lvl == gpio.Low {
			break
		}
		end = s.now()
		if end.After(deadline) {
			return 0, ErrEchoStuck
		}
	}

	echo := end.Sub(start)
	cm := Distance(echo)
	if debug.IsEnabled(debug.LevelTrace) {
		debug.Trace("HC-SR04 echo %v (%d reads) -> %.2f cm", echo, reads, cm)
	}
	return cm, nil
}

func (s *HCSR04) pulse() error {
	if err := s.gpio.WritePin(s.cfg.TriggerPin, gpio.High); err != nil {
		return fmt.Errorf("trigger high: %w", err)
	}
	time.Sleep(s.cfg.Pulse)
	if err := s.gpio.WritePin(s.cfg.TriggerPin, gpio.Low); err != nil {
		return fmt.Errorf("trigger low: %w", err)
	}
	return nil
}

// Close leaves the trigger low. The driver itself is closed by its owner.
func (s *HCSR04) Close() error {
	return s.gpio.WritePin(s.cfg.TriggerPin, gpio.Low)
}
