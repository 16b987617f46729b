package coordination

import "github.com/avolaere/syncmesh/pkg/transport"

// Event is a typed variant published on the controller's event bus. One
// bus carries every state change so subscription and ordering stay uniform
// across event kinds.
type Event interface {
	eventKind() string
}

// PhaseChangedEvent is emitted on every phase transition
type PhaseChangedEvent struct {
	From Phase
	To   Phase
}

// RoleChangedEvent is emitted once, when election resolves
type RoleChangedEvent struct {
	Role           NodeRole
	CoordinatorUID string
}

// NodeJoinedEvent is emitted when a peer enters connectedNodes
type NodeJoinedEvent struct {
	Node Node
}

// NodeLeftEvent is emitted when a peer is removed. Reason is "leave" for an
// explicit departure and "timeout" for stale-node eviction.
type NodeLeftEvent struct {
	UID    string
	Reason string
}

// StreamDiscoveredEvent carries the matches of one successful discovery poll
type StreamDiscoveredEvent struct {
	Ads []transport.Advertisement
}

// DiscoveryTimeoutEvent is emitted when one-shot discovery finds nothing
// within its timeout
type DiscoveryTimeoutEvent struct {
	Filter string
}

// StreamCreatedEvent asks the local session to prepare endpoints for a
// stream. Readiness is signaled back through the controller.
type StreamCreatedEvent struct {
	Config StreamConfig
}

// StreamStartedEvent marks a stream started. StartAt, when non-zero, is the
// transport-clock instant at which sampling should begin.
type StreamStartedEvent struct {
	Name    string
	StartAt float64
}

// StreamPausedEvent marks a stream paused
type StreamPausedEvent struct {
	Name string
}

// StreamResumedEvent marks a stream resumed; Flush asks for a flush first
type StreamResumedEvent struct {
	Name  string
	Flush bool
}

// StreamFlushedEvent asks the local session to drop buffered samples
type StreamFlushedEvent struct {
	Name string
}

// StreamStoppedEvent halts local consumption without releasing resources
type StreamStoppedEvent struct {
	Name string
}

// StreamDestroyedEvent releases resources and removes the stream record
type StreamDestroyedEvent struct {
	Name string
}

// StreamReadyEvent reports a node's per-stream readiness acknowledgment
type StreamReadyEvent struct {
	Name string
	UID  string
}

// UserMessageEvent carries an application-level broadcast payload
type UserMessageEvent struct {
	From    string
	Payload map[string]string
}

// ConfigUpdateEvent carries coordinator-pushed settings
type ConfigUpdateEvent struct {
	From     string
	Settings map[string]string
}

func (PhaseChangedEvent) eventKind() string     { return "phase_changed" }
func (RoleChangedEvent) eventKind() string      { return "role_changed" }
func (NodeJoinedEvent) eventKind() string       { return "node_joined" }
func (NodeLeftEvent) eventKind() string         { return "node_left" }
func (StreamDiscoveredEvent) eventKind() string { return "stream_discovered" }
func (DiscoveryTimeoutEvent) eventKind() string { return "discovery_timeout" }
func (StreamCreatedEvent) eventKind() string    { return "stream_created" }
func (StreamStartedEvent) eventKind() string    { return "stream_started" }
func (StreamPausedEvent) eventKind() string     { return "stream_paused" }
func (StreamResumedEvent) eventKind() string    { return "stream_resumed" }
func (StreamFlushedEvent) eventKind() string    { return "stream_flushed" }
func (StreamStoppedEvent) eventKind() string    { return "stream_stopped" }
func (StreamDestroyedEvent) eventKind() string  { return "stream_destroyed" }
func (StreamReadyEvent) eventKind() string      { return "stream_ready" }
func (UserMessageEvent) eventKind() string      { return "user_message" }
func (ConfigUpdateEvent) eventKind() string     { return "config_update" }
