package governor

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Metrics are the governor's Prometheus collectors.
type Metrics struct {
	inFlight  prometheus.Gauge
	throttles *prometheus.CounterVec
	calls     *prometheus.CounterVec
	wait      prometheus.Histogram
}

// NewMetrics registers the governor collectors on reg. Collectors already
// registered by an earlier governor on the same registry are reused.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	m := &Metrics{
		inFlight: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "applyflow", Subsystem: "llm",
			Name: "in_flight", Help: "Model requests currently outstanding.",
		}),
		throttles: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "applyflow", Subsystem: "llm",
			Name: "throttled_total", Help: "Throttling responses from the model provider.",
		}, []string{"purpose"}),
		calls: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "applyflow", Subsystem: "llm",
			Name: "calls_total", Help: "Model calls by purpose and outcome.",
		}, []string{"purpose", "outcome"}),
		wait: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: "applyflow", Subsystem: "llm",
			Name: "governor_wait_seconds", Help: "Time spent waiting for a governor slot.",
			Buckets: prometheus.DefBuckets,
		}),
	}

	if err := reg.Register(m.inFlight); err != nil {
		m.inFlight = existing(err).(prometheus.Gauge)
	}
	if err := reg.Register(m.throttles); err != nil {
		m.throttles = existing(err).(*prometheus.CounterVec)
	}
	if err := reg.Register(m.calls); err != nil {
		m.calls = existing(err).(*prometheus.CounterVec)
	}
	if err := reg.Register(m.wait); err != nil {
		m.wait = existing(err).(prometheus.Histogram)
	}
	return m
}

func existing(err error) prometheus.Collector {
	if already, ok := err.(prometheus.AlreadyRegisteredError); ok {
		return already.ExistingCollector
	}
	panic(err)
}

func (m *Metrics) addInFlight(d float64) {
	if m == nil {
		return
	}
	m.inFlight.Add(d)
}

func (m *Metrics) throttled(purpose string) {
	if m == nil {
		return
	}
	m.throttles.WithLabelValues(purpose).Inc()
}

func (m *Metrics) call(purpose, outcome string) {
	if m == nil {
		return
	}
	m.calls.WithLabelValues(purpose, outcome).Inc()
}

func (m *Metrics) waited(d time.Duration) {
	if m == nil {
		return
	}
	m.wait.Observe(d.Seconds())
}
