package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics provides observability for the verification pipeline.
type Metrics struct {
	// Collaborator call latencies by operation
	CallLatency *prometheus.HistogramVec

	// Terminal outcomes by status and reason
	Outcomes *prometheus.CounterVec

	// End-to-end Verify latency
	VerifyLatency prometheus.Histogram

	InFlight prometheus.Gauge

	// Enrollments that found an existing subject above the duplicate threshold
	DuplicatesFound prometheus.Counter

	RetainedArtifacts prometheus.Counter
}

// New registers the verification metrics with reg. A nil reg uses the
// default registerer.
func New(reg prometheus.Registerer) *Metrics {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	f := promauto.With(reg)
	return &Metrics{
		CallLatency: f.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "veriface_verification_call_duration_seconds",
			Help:    "Duration of collaborator calls by operation",
			Buckets: []float64{0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10},
		}, []string{"operation"}), // operation: "read_fields", "liveness", "reconstruct_id", ...

		Outcomes: f.NewCounterVec(prometheus.CounterOpts{
			Name: "veriface_verification_outcomes_total",
			Help: "Total verification outcomes by status and reason",
		}, []string{"status", "reason"}),

		VerifyLatency: f.NewHistogram(prometheus.HistogramOpts{
			Name:    "veriface_verification_duration_seconds",
			Help:    "Duration of a full verification including enrollment",
			Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30},
		}),

		InFlight: f.NewGauge(prometheus.GaugeOpts{
			Name: "veriface_verification_in_flight",
			Help: "Verifications currently being processed",
		}),

		DuplicatesFound: f.NewCounter(prometheus.CounterOpts{
			Name: "veriface_verification_duplicates_found_total",
			Help: "Total enrollments that matched an existing subject",
		}),

		RetainedArtifacts: f.NewCounter(prometheus.CounterOpts{
			Name: "veriface_verification_retained_artifacts_total",
			Help: "Total fused meshes retained under a retention policy",
		}),
	}
}

// ObserveCallLatency records the duration of one collaborator call.
func (m *Metrics) ObserveCallLatency(operation string, d time.Duration) {
	if m != nil {
		m.CallLatency.WithLabelValues(operation).Observe(d.Seconds())
	}
}

// IncrementOutcome records a terminal outcome. Verified outcomes carry an
// empty reason.
func (m *Metrics) IncrementOutcome(status, reason string) {
	if m != nil {
		m.Outcomes.WithLabelValues(status, reason).Inc()
	}
}

func (m *Metrics) ObserveVerifyLatency(d time.Duration) {
	if m != nil {
		m.VerifyLatency.Observe(d.Seconds())
	}
}

func (m *Metrics) IncInFlight() {
	if m != nil {
		m.InFlight.Inc()
	}
}

func (m *Metrics) DecInFlight() {
	if m != nil {
		m.InFlight.Dec()
	}
}

func (m *Metrics) AddDuplicates(n int) {
	if m != nil && n > 0 {
		m.DuplicatesFound.Add(float64(n))
	}
}

func (m *Metrics) IncRetained() {
	if m != nil {
		m.RetainedArtifacts.Inc()
	}
}
