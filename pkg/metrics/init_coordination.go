package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

func (r *Registry) initCoordinationMetrics() {
	r.CoordinationConnectedNodes = promauto.With(r.registry).NewGauge(
		prometheus.GaugeOpts{
			Name: "syncmesh_coordination_connected_nodes",
			Help: "Number of nodes in the membership view, self included",
		},
	)

	r.CoordinationPhase = promauto.With(r.registry).NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "syncmesh_coordination_phase",
			Help: "Current coordination phase (1 for the active phase)",
		},
		[]string{"phase"},
	)

	r.CoordinationRole = promauto.With(r.registry).NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "syncmesh_coordination_role",
			Help: "Current node role (1 for the active role)",
		},
		[]string{"role"},
	)

	r.CoordinationHeartbeats = promauto.With(r.registry).NewCounterVec(
		prometheus.CounterOpts{
			Name: "syncmesh_coordination_heartbeats_total",
			Help: "Heartbeats sent and received",
		},
		[]string{"direction"}, // sent, received
	)

	r.CoordinationEvictions = promauto.With(r.registry).NewCounter(
		prometheus.CounterOpts{
			Name: "syncmesh_coordination_evictions_total",
			Help: "Stale nodes evicted from the membership view",
		},
	)

	r.CoordinationElections = promauto.With(r.registry).NewCounterVec(
		prometheus.CounterOpts{
			Name: "syncmesh_coordination_elections_total",
			Help: "Election outcomes by result",
		},
		[]string{"outcome"}, // coordinator, participant, demoted
	)

	r.CoordinationElectionTime = promauto.With(r.registry).NewHistogram(
		prometheus.HistogramOpts{
			Name:    "syncmesh_coordination_election_seconds",
			Help:    "Time from election start to role assignment",
			Buckets: prometheus.ExponentialBuckets(0.01, 2, 10),
		},
	)

	r.CoordinationMessages = promauto.With(r.registry).NewCounterVec(
		prometheus.CounterOpts{
			Name: "syncmesh_coordination_messages_total",
			Help: "Coordination messages by type and direction",
		},
		[]string{"type", "direction"},
	)

	r.CoordinationParseErrors = promauto.With(r.registry).NewCounter(
		prometheus.CounterOpts{
			Name: "syncmesh_coordination_parse_errors_total",
			Help: "Inbound payloads dropped as malformed",
		},
	)

	r.DiscoveryPolls = promauto.With(r.registry).NewCounter(
		prometheus.CounterOpts{
			Name: "syncmesh_discovery_polls_total",
			Help: "Discovery polls issued",
		},
	)

	r.DiscoveryPeersVisible = promauto.With(r.registry).NewGauge(
		prometheus.GaugeOpts{
			Name: "syncmesh_discovery_peers_visible",
			Help: "Advertisements matched by the most recent poll",
		},
	)
}
