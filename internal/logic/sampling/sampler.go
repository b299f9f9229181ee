// Package sampling runs a Sampler on a background goroutine with a shared
// latest-result slot, an optional observer and a watchdog timeout.
package sampling

import (
	"fmt"
	"time"

	"github.com/cjeanneret/PiSense/internal/debug"
)

// Reading is one averaged measurement and what it cost to take it.
type Reading struct {
	Value   float64
	Elapsed time.Duration
}

// Sampler produces one measurement averaged over count sub-samples.
//
// Sample blocks for as long as the measurement takes. A Task calls it from a
// single goroutine at a time, so implementations need not be safe for
// concurrent use.
type Sampler interface {
	Sample(count int) (Reading, error)
}

// SamplerFunc adapts a function to the Sampler interface.
type SamplerFunc func(count int) (Reading, error)

// Sample calls f(count).
func (f SamplerFunc) Sample(count int) (Reading, error) {
	return f(count)
}

// ReadFunc takes a single raw reading from a sensor.
type ReadFunc func() (float64, error)

// Averaging turns a single-reading function into a Sampler that returns the
// arithmetic mean of count readings, waiting gap between two readings.
// No reading is discarded; one failed reading fails the whole sample.
func Averaging(read ReadFunc, gap time.Duration) Sampler {
	return &averager{read: read, gap: gap}
}

type averager struct {
	read ReadFunc
	gap  time.Duration
}

func (a *averager) Sample(count int) (Reading, error) {
	if count < 1 {
		return Reading{}, ErrInvalidCount
	}

	start := time.Now()
	var sum float64
	for i := 0; i < count; i++ {
		if i > 0 && a.gap > 0 {
			time.Sleep(a.gap)
		}
		v, err := a.read()
		if err != nil {
			return Reading{}, fmt.Errorf("sub-sample %d/%d: %w", i+1, count, err)
		}
		debug.Verbose("sub-sample %d/%d = %.2f", i+1, count, v)
		sum += v
	}

	return Reading{
		Value:   sum / float64(count),
		Elapsed: time.Since(start),
	}, nil
}
