package coordination

import (
	"time"

	"github.com/benbjohnson/clock"

	"github.com/avolaere/syncmesh/pkg/logging"
	"github.com/avolaere/syncmesh/pkg/metrics"
)

// ElectionStrategy selects the comparison key nodes race on
type ElectionStrategy int

const (
	// StrategyRandom draws a uniform float at startup; lowest roll wins
	StrategyRandom ElectionStrategy = iota
	// StrategyFirstStarted uses the local start timestamp; earliest wins
	StrategyFirstStarted
)

// String returns the string representation of an ElectionStrategy
func (s ElectionStrategy) String() string {
	switch s {
	case StrategyRandom:
		return "random"
	case StrategyFirstStarted:
		return "first_started"
	default:
		return "unknown"
	}
}

// Config defines a controller's identity and timing.
type Config struct {
	// Node identification
	Session      string // session name shared by all nodes
	NodeID       string // human label for this node
	Capabilities []string
	Metadata     map[string]string

	// Election
	Strategy ElectionStrategy

	// Timing. Heartbeat and discovery intervals run 100ms-1s in
	// practice; node timeout is several heartbeat intervals.
	HeartbeatInterval time.Duration
	DiscoveryInterval time.Duration
	DiscoveryHorizon  time.Duration // forget discovered entries not seen this long
	NodeTimeout       time.Duration
	JoinTimeout       time.Duration
	ReadyTimeout      time.Duration // per-stream readiness wait

	// AutoSignalReady makes the controller acknowledge stream creation
	// immediately. The session layer disables it and signals once local
	// endpoints exist.
	AutoSignalReady bool

	// Plumbing. Nil values fall back to defaults.
	Logger  logging.Logger
	Clock   clock.Clock
	Metrics *metrics.Registry
}

// DefaultConfig returns a safe default configuration for a session node.
func DefaultConfig(session, nodeID string) Config {
	return Config{
		Session:           session,
		NodeID:            nodeID,
		Strategy:          StrategyRandom,
		HeartbeatInterval: 500 * time.Millisecond,
		DiscoveryInterval: 500 * time.Millisecond,
		DiscoveryHorizon:  5 * time.Second,
		NodeTimeout:       2500 * time.Millisecond,
		JoinTimeout:       2 * time.Second,
		ReadyTimeout:      5 * time.Second,
		AutoSignalReady:   true,
	}
}

// Validate checks if configuration is valid
func (c *Config) Validate() error {
	if c.Session == "" {
		return ErrInvalidSession
	}
	if c.NodeID == "" {
		return ErrInvalidNodeID
	}
	if c.HeartbeatInterval <= 0 || c.DiscoveryInterval <= 0 ||
		c.JoinTimeout <= 0 || c.ReadyTimeout <= 0 {
		return ErrIntervalTooSmall
	}
	if c.NodeTimeout <= c.HeartbeatInterval {
		return ErrNodeTimeoutTooSmall
	}
	return nil
}

// withDefaults fills the nil plumbing fields.
func (c Config) withDefaults() Config {
	if c.Logger == nil {
		c.Logger = logging.NewNopLogger()
	}
	if c.Clock == nil {
		c.Clock = clock.New()
	}
	if c.Metrics == nil {
		c.Metrics = metrics.DefaultRegistry()
	}
	if c.DiscoveryHorizon <= 0 {
		c.DiscoveryHorizon = 10 * c.DiscoveryInterval
	}
	return c
}
