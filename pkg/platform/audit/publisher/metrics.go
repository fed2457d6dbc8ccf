package publisher

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds Prometheus metrics for audit publishing.
type Metrics struct {
	Emitted               *prometheus.CounterVec
	Dropped               prometheus.Counter
	SampledOut            prometheus.Counter
	PersistFailures       prometheus.Counter
	CircuitBreakerDropped prometheus.Counter
	CircuitBreakerState   prometheus.Gauge
}

// NewMetrics registers the audit publisher metrics with reg. A nil reg uses
// the default registerer.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	f := promauto.With(reg)
	return &Metrics{
		Emitted: f.NewCounterVec(prometheus.CounterOpts{
			Name: "veriface_audit_events_emitted_total",
			Help: "Total audit events accepted for persistence by category",
		}, []string{"category"}),
		Dropped: f.NewCounter(prometheus.CounterOpts{
			Name: "veriface_audit_events_dropped_total",
			Help: "Total audit events dropped because the async buffer was full",
		}),
		SampledOut: f.NewCounter(prometheus.CounterOpts{
			Name: "veriface_audit_events_sampled_out_total",
			Help: "Total operations events discarded by sampling",
		}),
		PersistFailures: f.NewCounter(prometheus.CounterOpts{
			Name: "veriface_audit_persist_failures_total",
			Help: "Total audit events the store failed to persist",
		}),
		CircuitBreakerDropped: f.NewCounter(prometheus.CounterOpts{
			Name: "veriface_audit_circuit_breaker_dropped_total",
			Help: "Total audit events dropped while the store circuit was open",
		}),
		CircuitBreakerState: f.NewGauge(prometheus.GaugeOpts{
			Name: "veriface_audit_circuit_breaker_state",
			Help: "Current store circuit breaker state (0=closed/healthy, 1=open/unhealthy)",
		}),
	}
}

func (m *Metrics) IncEmitted(category string) {
	if m != nil {
		m.Emitted.WithLabelValues(category).Inc()
	}
}

func (m *Metrics) IncDropped() {
	if m != nil {
		m.Dropped.Inc()
	}
}

func (m *Metrics) IncSampledOut() {
	if m != nil {
		m.SampledOut.Inc()
	}
}

func (m *Metrics) IncPersistFailures() {
	if m != nil {
		m.PersistFailures.Inc()
	}
}

func (m *Metrics) IncCircuitBreakerDropped() {
	if m != nil {
		m.CircuitBreakerDropped.Inc()
	}
}

// SetCircuitBreakerState sets the circuit breaker state gauge.
func (m *Metrics) SetCircuitBreakerState(open bool) {
	if m == nil {
		return
	}
	if open {
		m.CircuitBreakerState.Set(1)
	} else {
		m.CircuitBreakerState.Set(0)
	}
}
