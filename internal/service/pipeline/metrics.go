package pipeline

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

var stageBuckets = []float64{1, 5, 15, 30, 60, 120, 300, 600, 1200, 2400}

// Metrics exposes pipeline outcomes to Prometheus. A nil *Metrics records nothing.
type Metrics struct {
	builds        *prometheus.CounterVec
	rejected      *prometheus.CounterVec
	stageDuration *prometheus.HistogramVec
	inFlight      prometheus.Gauge
}

// NewMetrics creates the collectors and registers them with reg, reusing collectors
// that are already registered.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		builds: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "buildhook",
			Subsystem: "pipeline",
			Name:      "builds_total",
			Help:      "Finished pipeline runs by project and outcome",
		}, []string{"project", "outcome"}),
		rejected: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "buildhook",
			Subsystem: "pipeline",
			Name:      "triggers_rejected_total",
			Help:      "Build triggers rejected before a run started",
		}, []string{"reason"}),
		stageDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "buildhook",
			Subsystem: "pipeline",
			Name:      "stage_duration_seconds",
			Help:      "Duration of pipeline stages",
			Buckets:   stageBuckets,
		}, []string{"stage", "outcome"}),
		inFlight: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "buildhook",
			Subsystem: "pipeline",
			Name:      "builds_in_flight",
			Help:      "Pipeline runs currently holding a build lock",
		}),
	}
	if reg == nil {
		return m
	}
	m.builds = register(reg, m.builds)
	m.rejected = register(reg, m.rejected)
	m.stageDuration = register(reg, m.stageDuration)
	m.inFlight = register(reg, m.inFlight)
	return m
}

func register[T prometheus.Collector](reg prometheus.Registerer, c T) T {
	if err := reg.Register(c); err != nil {
		if already, ok := err.(prometheus.AlreadyRegisteredError); ok {
			if existing, ok := already.ExistingCollector.(T); ok {
				return existing
			}
		}
	}
	return c
}

func (m *Metrics) rejectedTrigger(reason string) {
	if m == nil {
		return
	}
	m.rejected.WithLabelValues(reason).Inc()
}

func (m *Metrics) started() {
	if m == nil {
		return
	}
	m.inFlight.Inc()
}

func (m *Metrics) finished(project string, state State) {
	if m == nil {
		return
	}
	m.inFlight.Dec()
	m.builds.WithLabelValues(project, string(state)).Inc()
}

func (m *Metrics) stage(stage Stage, outcome string, d time.Duration) {
	if m == nil {
		return
	}
	m.stageDuration.WithLabelValues(string(stage), outcome).Observe(d.Seconds())
}
