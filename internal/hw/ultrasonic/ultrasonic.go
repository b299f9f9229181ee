// Package ultrasonic drives time-of-flight distance sensors.
package ultrasonic

import (
	"errors"
	"math"
	"time"
)

// SpeedOfSound is the speed of sound in air at about 20 °C, in cm/s.
const SpeedOfSound = 34300.0

var (
	// ErrNoEcho is returned when the echo line never rises after a trigger.
	ErrNoEcho = errors.New("ultrasonic: no echo")
	// ErrEchoStuck is returned when the echo line stays high past the timeout.
	ErrEchoStuck = errors.New("ultrasonic: echo stuck high")
)

// Sensor measures one distance in centimeters.
type Sensor interface {
	Measure() (float64, error)
}

// Distance converts a round-trip echo duration to centimeters,
// rounded to two decimals.
func Distance(echo time.Duration) float64 {
	cm := echo.Seconds() * SpeedOfSound / 2
	return math.Round(cm*100) / 100
}
