package pipeline

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Metrics are the pipeline's Prometheus collectors.
type Metrics struct {
	outcomes *prometheus.CounterVec
	stages   *prometheus.HistogramVec
	running  prometheus.Gauge
}

// NewMetrics registers the pipeline collectors on reg, reusing collectors
// already registered there.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	m := &Metrics{
		outcomes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "applyflow", Subsystem: "pipeline",
			Name: "jobs_total", Help: "Finished jobs by outcome.",
		}, []string{"outcome"}),
		stages: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "applyflow", Subsystem: "pipeline",
			Name: "stage_duration_seconds", Help: "Time spent per pipeline stage.",
			Buckets: []float64{0.1, 0.5, 1, 2.5, 5, 10, 30, 60, 180},
		}, []string{"stage"}),
		running: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "applyflow", Subsystem: "pipeline",
			Name: "jobs_running", Help: "Jobs currently in a pipeline.",
		}),
	}
	if err := reg.Register(m.outcomes); err != nil {
		m.outcomes = existing(err).(*prometheus.CounterVec)
	}
	if err := reg.Register(m.stages); err != nil {
		m.stages = existing(err).(*prometheus.HistogramVec)
	}
	if err := reg.Register(m.running); err != nil {
		m.running = existing(err).(prometheus.Gauge)
	}
	return m
}

func existing(err error) prometheus.Collector {
	if already, ok := err.(prometheus.AlreadyRegisteredError); ok {
		return already.ExistingCollector
	}
	panic(err)
}

func (m *Metrics) finished(outcome string) {
	if m == nil {
		return
	}
	m.outcomes.WithLabelValues(outcome).Inc()
}

func (m *Metrics) stage(s Stage, start time.Time) {
	if m == nil {
		return
	}
	m.stages.WithLabelValues(string(s)).Observe(time.Since(start).Seconds())
}

func (m *Metrics) addRunning(d float64) {
	if m == nil {
		return
	}
	m.running.Add(d)
}
