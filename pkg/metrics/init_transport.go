package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

func (r *Registry) initTransportMetrics() {
	r.TransportMessages = promauto.With(r.registry).NewCounterVec(
		prometheus.CounterOpts{
			Name: "syncmesh_transport_messages_total",
			Help: "Transport messages by direction",
		},
		[]string{"direction"}, // sent, received
	)

	r.TransportBytes = promauto.With(r.registry).NewCounterVec(
		prometheus.CounterOpts{
			Name: "syncmesh_transport_bytes_total",
			Help: "Transport payload bytes by direction",
		},
		[]string{"direction"},
	)

	r.TransportDropped = promauto.With(r.registry).NewCounter(
		prometheus.CounterOpts{
			Name: "syncmesh_transport_dropped_total",
			Help: "Messages dropped on full subscriber buffers",
		},
	)
}
