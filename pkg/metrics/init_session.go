package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

func (r *Registry) initSessionMetrics() {
	r.SessionStreamsActive = promauto.With(r.registry).NewGauge(
		prometheus.GaugeOpts{
			Name: "syncmesh_session_streams_active",
			Help: "Streams with a live local record",
		},
	)

	r.SessionLifecycleOps = promauto.With(r.registry).NewCounterVec(
		prometheus.CounterOpts{
			Name: "syncmesh_session_lifecycle_ops_total",
			Help: "Stream lifecycle operations applied locally",
		},
		[]string{"op"}, // create, start, pause, resume, flush, stop, destroy
	)

	r.SessionReadinessSeconds = promauto.With(r.registry).NewHistogram(
		prometheus.HistogramOpts{
			Name:    "syncmesh_session_readiness_wait_seconds",
			Help:    "Time spent waiting for all producers to signal ready",
			Buckets: prometheus.ExponentialBuckets(0.005, 2, 12),
		},
	)

	r.SessionReadinessTimeout = promauto.With(r.registry).NewCounter(
		prometheus.CounterOpts{
			Name: "syncmesh_session_readiness_timeouts_total",
			Help: "Readiness waits that expired with missing producers",
		},
	)
}
