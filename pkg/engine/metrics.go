package engine

import (
	"github.com/prometheus/client_golang/prometheus"

	"github.com/arsdragonfly/fluxduct/pkg/graph"
)

var (
	// FluxductEventsTotal counts inbound events by type and outcome
	FluxductEventsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "fluxduct_events_total",
			Help: "Total number of inbound events processed",
		},
		[]string{"type", "outcome"},
	)

	// FluxductRejectionsTotal counts rejected events by reason
	FluxductRejectionsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "fluxduct_rejections_total",
			Help: "Total number of rejected events by reason",
		},
		[]string{"type", "reason"},
	)

	// FluxductEntities tracks arena sizes
	FluxductEntities = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "fluxduct_entities",
			Help: "Number of entities per kind, split into live and removed",
		},
		[]string{"kind", "state"},
	)

	// FluxductApplySeconds tracks how long a single event takes to apply,
	// including the view refresh
	FluxductApplySeconds = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "fluxduct_apply_duration_seconds",
			Help:    "Time spent applying one event and refreshing the view",
			Buckets: prometheus.ExponentialBuckets(0.00001, 4, 8),
		},
	)
)

func init() {
	prometheus.MustRegister(FluxductEventsTotal)
	prometheus.MustRegister(FluxductRejectionsTotal)
	prometheus.MustRegister(FluxductEntities)
	prometheus.MustRegister(FluxductApplySeconds)
}

func observeStats(stats map[graph.Kind]graph.Counts) {
	for kind, c := range stats {
		FluxductEntities.WithLabelValues(string(kind), "live").Set(float64(c.Live))
		FluxductEntities.WithLabelValues(string(kind), "removed").Set(float64(c.Total - c.Live))
	}
}
