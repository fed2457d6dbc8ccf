// Package metrics builds the process-wide Prometheus registry that every
// module registers its collectors with.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds the process-level collectors and the registry.
type Metrics struct {
	Registry  *prometheus.Registry
	StartTime prometheus.Gauge
	Ready     *prometheus.GaugeVec
}

// New creates a registry with the Go and process collectors installed.
func New() *Metrics {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	f := promauto.With(reg)
	m := &Metrics{
		Registry: reg,
		StartTime: f.NewGauge(prometheus.GaugeOpts{
			Name: "veriface_start_time_seconds",
			Help: "Unix time the process started",
		}),
		Ready: f.NewGaugeVec(prometheus.GaugeOpts{
			Name: "veriface_dependency_ready",
			Help: "Last readiness result per dependency (1=ready)",
		}, []string{"dependency"}),
	}
	m.StartTime.Set(float64(time.Now().Unix()))
	return m
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.Registry, promhttp.HandlerOpts{Registry: m.Registry})
}

// SetReady records a readiness check result.
func (m *Metrics) SetReady(dependency string, ok bool) {
	if m == nil {
		return
	}
	v := 0.0
	if ok {
		v = 1
	}
	m.Ready.WithLabelValues(dependency).Set(v)
}
