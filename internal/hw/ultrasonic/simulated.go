package ultrasonic

import (
	"fmt"
	"math/rand/v2"
	"sync"
	"time"
)

// Simulated returns uniformly distributed distances for development
// without hardware.
type Simulated struct {
	min, max float64
	delay    time.Duration

	mu  sync.Mutex
	rnd *rand.Rand
}

// NewSimulated creates a simulated sensor returning values in [min, max]
// after sleeping delay on every measurement.
func NewSimulated(min, max float64, delay time.Duration, seed uint64) (*Simulated, error) {
	if min > max {
		return nil, fmt.Errorf("ultrasonic: simulated range [%g, %g] is empty", min, max)
	}
	return &Simulated{
		min:   min,
		max:   max,
		delay: delay,
		rnd:   rand.New(rand.NewPCG(seed, seed^0x9e3779b97f4a7c15)),
	}, nil
}

// Measure sleeps the configured delay and returns a random distance in
// [min, max] centimeters. It never fails.
func (s *Simulated) Measure() (float64, error) {
	if s.delay > 0 {
		time.Sleep(s.delay)
	}
	s.mu.Lock()
	f := s.rnd.Float64()
	s.mu.Unlock()
	return s.min + f*(s.max-s.min), nil
}
