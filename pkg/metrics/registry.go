package metrics

import (
	"net/http"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Registry holds all metrics for the application
type Registry struct {
	// Coordination metrics
	CoordinationConnectedNodes prometheus.Gauge
	CoordinationPhase          *prometheus.GaugeVec
	CoordinationRole           *prometheus.GaugeVec
	CoordinationHeartbeats     *prometheus.CounterVec
	CoordinationEvictions      prometheus.Counter
	CoordinationElections      *prometheus.CounterVec
	CoordinationElectionTime   prometheus.Histogram
	CoordinationMessages       *prometheus.CounterVec
	CoordinationParseErrors    prometheus.Counter
	DiscoveryPolls             prometheus.Counter
	DiscoveryPeersVisible      prometheus.Gauge

	// Session metrics
	SessionStreamsActive    prometheus.Gauge
	SessionLifecycleOps     *prometheus.CounterVec
	SessionReadinessSeconds prometheus.Histogram
	SessionReadinessTimeout prometheus.Counter

	// Transport metrics
	TransportMessages *prometheus.CounterVec
	TransportBytes    *prometheus.CounterVec
	TransportDropped  prometheus.Counter

	registry *prometheus.Registry
}

var (
	defaultRegistry *Registry
	once            sync.Once
)

// NewRegistry creates a registry with all metric families registered.
func NewRegistry() *Registry {
	r := &Registry{registry: prometheus.NewRegistry()}
	r.initCoordinationMetrics()
	r.initSessionMetrics()
	r.initTransportMetrics()
	return r
}

// DefaultRegistry returns the shared global registry.
func DefaultRegistry() *Registry {
	once.Do(func() {
		defaultRegistry = NewRegistry()
	})
	return defaultRegistry
}

// Handler returns an HTTP handler exposing this registry.
func (r *Registry) Handler() http.Handler {
	return promhttp.HandlerFor(r.registry, promhttp.HandlerOpts{})
}

// SetPhase marks the current coordination phase, clearing the others.
func (r *Registry) SetPhase(phase string) {
	for _, p := range []string{"idle", "discovering", "electing", "accepting", "connecting", "ready", "paused", "disposing"} {
		r.CoordinationPhase.WithLabelValues(p).Set(0)
	}
	r.CoordinationPhase.WithLabelValues(phase).Set(1)
}

// SetRole marks the current node role, clearing the others.
func (r *Registry) SetRole(role string) {
	for _, rl := range []string{"unassigned", "participant", "coordinator"} {
		r.CoordinationRole.WithLabelValues(rl).Set(0)
	}
	r.CoordinationRole.WithLabelValues(role).Set(1)
}
