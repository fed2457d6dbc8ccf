package ephemeral

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics provides observability for artifact lifetimes.
type Metrics struct {
	// Scoped files overwritten and removed on release
	FilesWiped prometheus.Counter

	// Releases where the overwrite or unlink failed
	WipeFailures prometheus.Counter

	// Tagged artifacts purged by retention policy
	FilesPurged *prometheus.CounterVec

	LiveHandles prometheus.Gauge
}

// NewMetrics registers the ephemeral metrics with reg. A nil reg uses the
// default registerer.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	f := promauto.With(reg)
	return &Metrics{
		FilesWiped: f.NewCounter(prometheus.CounterOpts{
			Name: "veriface_ephemeral_files_wiped_total",
			Help: "Total scoped files wiped on release",
		}),
		WipeFailures: f.NewCounter(prometheus.CounterOpts{
			Name: "veriface_ephemeral_wipe_failures_total",
			Help: "Total scoped file releases where wiping failed",
		}),
		FilesPurged: f.NewCounterVec(prometheus.CounterOpts{
			Name: "veriface_ephemeral_files_purged_total",
			Help: "Total tagged artifacts purged by retention policy",
		}, []string{"policy"}),
		LiveHandles: f.NewGauge(prometheus.GaugeOpts{
			Name: "veriface_ephemeral_live_handles",
			Help: "Scoped files currently held open",
		}),
	}
}

func (m *Metrics) IncFilesWiped() {
	if m != nil {
		m.FilesWiped.Inc()
	}
}

func (m *Metrics) IncWipeFailures() {
	if m != nil {
		m.WipeFailures.Inc()
	}
}

// IncPurged records one artifact removed under policy.
func (m *Metrics) IncPurged(policy string) {
	if m != nil {
		m.FilesPurged.WithLabelValues(policy).Inc()
	}
}

func (m *Metrics) SetLiveHandles(n int) {
	if m != nil {
		m.LiveHandles.Set(float64(n))
	}
}
