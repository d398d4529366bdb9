// Package metrics exposes Prometheus instrumentation for the admission
// path and quota engine.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Registry bundles the metrics the admission handler and quota engine
// update. Constructed once at startup and threaded through via
// dependency injection rather than relying on the global default
// registry's package-level vars.
type Registry struct {
	AdmissionsTotal    *prometheus.CounterVec
	AdmissionLatency   *prometheus.HistogramVec
	UpstreamLatency    *prometheus.HistogramVec
	SweepReleasesTotal prometheus.Counter
	ReservationsOpen   prometheus.Gauge
}

// NewRegistry registers all metrics against the provided prometheus
// registerer (usually prometheus.NewRegistry() so tests don't collide
// with the global default registry).
func NewRegistry(reg prometheus.Registerer) *Registry {
	factory := promauto.With(reg)
	return &Registry{
		AdmissionsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "gateway",
			Subsystem: "quota",
			Name:      "admissions_total",
			Help:      "Total admission decisions, labeled by outcome.",
		}, []string{"outcome"}),
		AdmissionLatency: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "gateway",
			Subsystem: "quota",
			Name:      "admission_duration_seconds",
			Help:      "Latency of the atomic admit store round trip.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"operation"}),
		UpstreamLatency: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "gateway",
			Subsystem: "upstream",
			Name:      "request_duration_seconds",
			Help:      "Latency of upstream chat-completion calls.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"provider", "outcome"}),
		SweepReleasesTotal: factory.NewCounter(prometheus.CounterOpts{
			Namespace: "gateway",
			Subsystem: "quota",
			Name:      "sweep_releases_total",
			Help:      "Reservations reclaimed by the background sweep after exceeding the sweep deadline.",
		}),
		ReservationsOpen: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: "gateway",
			Subsystem: "quota",
			Name:      "reservations_open",
			Help:      "Best-effort gauge of reservations currently OPEN cluster-wide.",
		}),
	}
}
