// Package telemetry provides Prometheus metrics and OpenTelemetry tracing for PiSense.
package telemetry

import (
	"github.com/prometheus/client_golang/prometheus"

	"github.com/cjeanneret/PiSense/internal/logic/sampling"
)

// Metrics holds all Prometheus collectors.
type Metrics struct {
	SamplesTotal    *prometheus.CounterVec
	FailuresTotal   *prometheus.CounterVec
	SampleDuration  *prometheus.HistogramVec
	LastValue       *prometheus.GaugeVec
	TaskState       *prometheus.GaugeVec
	RequestsTotal   *prometheus.CounterVec
	RequestDuration *prometheus.HistogramVec
	SSEClients      prometheus.Gauge
}

// NewMetrics creates and registers all metrics with the given registerer.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		SamplesTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "pisense",
			Name:      "samples_total",
			Help:      "Total number of stored samples.",
		}, []string{"task"}),

		FailuresTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "pisense",
			Name:      "sampler_failures_total",
			Help:      "Total number of failed sampler calls.",
		}, []string{"task"}),

		SampleDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace:                       "pisense",
			Name:                            "sample_duration_seconds",
			Help:                            "Time spent in one sampler call.",
			Buckets:                         []float64{.001, .005, .01, .05, .1, .25, .5, 1, 2.5, 5},
			NativeHistogramBucketFactor:     1.1,
			NativeHistogramMaxBucketNumber:  100,
			NativeHistogramMinResetDuration: 0,
		}, []string{"task"}),

		LastValue: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: "pisense",
			Name:      "last_value",
			Help:      "Most recent stored sample value.",
		}, []string{"task"}),

		TaskState: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: "pisense",
			Name:      "task_state",
			Help:      "1 for the task's current lifecycle state, 0 otherwise.",
		}, []string{"task", "state"}),

		RequestsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "pisense",
			Name:      "http_requests_total",
			Help:      "Total number of HTTP requests.",
		}, []string{"method", "path", "status"}),

		RequestDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace:                       "pisense",
			Name:                            "http_request_duration_seconds",
			Help:                            "HTTP request duration in seconds.",
			NativeHistogramBucketFactor:     1.1,
			NativeHistogramMaxBucketNumber:  100,
			NativeHistogramMinResetDuration: 0,
		}, []string{"method", "path"}),

		SSEClients: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "pisense",
			Name:      "sse_clients",
			Help:      "Number of connected status stream clients.",
		}),
	}

	reg.MustRegister(
		m.SamplesTotal,
		m.FailuresTotal,
		m.SampleDuration,
		m.LastValue,
		m.TaskState,
		m.RequestsTotal,
		m.RequestDuration,
		m.SSEClients,
	)

	return m
}

// taskStates lists every state exported by the task_state gauge.
var taskStates = []sampling.State{
	sampling.StateIdle,
	sampling.StateRunning,
	sampling.StateStopped,
	sampling.StateTimedOut,
	sampling.StateFailed,
}

// Recorder feeds sampling task events into Metrics.
type Recorder struct {
	m *Metrics
}

// NewRecorder returns a sampling.Recorder backed by m.
func NewRecorder(m *Metrics) *Recorder {
	return &Recorder{m: m}
}

var _ sampling.Recorder = (*Recorder)(nil)

func (r *Recorder) ObserveSample(task string, rd sampling.Reading) {
	r.m.SamplesTotal.WithLabelValues(task).Inc()
	r.m.SampleDuration.WithLabelValues(task).Observe(rd.Elapsed.Seconds())
	r.m.LastValue.WithLabelValues(task).Set(rd.Value)
}

func (r *Recorder) ObserveFailure(task string, _ error) {
	r.m.FailuresTotal.WithLabelValues(task).Inc()
}

func (r *Recorder) ObserveState(task string, s sampling.State) {
	for _, st := range taskStates {
		v := 0.0
		if st == s {
			v = 1
		}
		r.m.TaskState.WithLabelValues(task, st.String()).Set(v)
	}
}
