package coordination

// Wire message types. Every coordination message travels as a flat
// key/value record with at least "type" and "fromNodeUId".
const (
	TypeHeartbeat      = "heartbeat"
	TypeJoinRequest    = "join_request"
	TypeJoinOffer      = "join_offer"
	TypeTopologyUpdate = "topology_update"
	TypeCreateStream   = "create_stream"
	TypeStartStream    = "start_stream"
	TypeStreamReady    = "stream_ready"
	TypePauseStream    = "pause_stream"
	TypeResumeStream   = "resume_stream"
	TypeFlushStream    = "flush_stream"
	TypeStopStream     = "stop_stream"
	TypeDestroyStream  = "destroy_stream"
	TypeUserMessage    = "user_message"
	TypeConfigUpdate   = "config_update"
	TypeLeave          = "leave"
)

// Message is one coordination protocol message. Messages are transient:
// produced, sent, and discarded.
type Message interface {
	Type() string
	From() string
	record() Record
}

// Heartbeat refreshes the sender's liveness at the receiver
type Heartbeat struct {
	FromUID string
	NodeID  string
}

// JoinRequest asks the coordinator to admit the sending node
type JoinRequest struct {
	FromUID string
	Node    Node
}

// JoinOffer is the coordinator's reply to a JoinRequest. It travels on
// the coordinator's broadcast channel, so ToUID names the one node the
// offer is addressed to; everyone else ignores it.
type JoinOffer struct {
	FromUID  string
	ToUID    string
	Session  string
	Accepted bool
	Reason   string
}

// TopologyUpdate carries the coordinator's full membership view
type TopologyUpdate struct {
	FromUID string
	Nodes   []NodeSummary
}

// NodeSummary is the per-node slice of a topology update
type NodeSummary struct {
	UID  string
	ID   string
	Role NodeRole
}

// CreateStream instructs every node to prepare endpoints for a stream
type CreateStream struct {
	FromUID string
	Config  StreamConfig
}

// StartStream transitions a stream to started. StartAt, when non-zero, is
// a transport-clock instant so all nodes begin sampling together.
type StartStream struct {
	FromUID string
	Name    string
	StartAt float64
}

// StreamReady acknowledges that local preparation for a stream is complete
type StreamReady struct {
	FromUID string
	Name    string
}

// PauseStream pauses a started stream everywhere
type PauseStream struct {
	FromUID string
	Name    string
}

// ResumeStream resumes a paused stream; Flush requests a flush first
type ResumeStream struct {
	FromUID string
	Name    string
	Flush   bool
}

// FlushStream drops buffered samples everywhere
type FlushStream struct {
	FromUID string
	Name    string
}

// StopStream halts consumption without releasing resources
type StopStream struct {
	FromUID string
	Name    string
}

// DestroyStream releases resources and removes the stream record
type DestroyStream struct {
	FromUID string
	Name    string
}

// UserMessage carries an opaque application payload
type UserMessage struct {
	FromUID string
	Payload map[string]string
}

// ConfigUpdate pushes coordinator settings to all nodes
type ConfigUpdate struct {
	FromUID  string
	Settings map[string]string
}

// Leave is a best-effort departure notification
type Leave struct {
	FromUID string
}

func (m Heartbeat) Type() string      { return TypeHeartbeat }
func (m JoinRequest) Type() string    { return TypeJoinRequest }
func (m JoinOffer) Type() string      { return TypeJoinOffer }
func (m TopologyUpdate) Type() string { return TypeTopologyUpdate }
func (m CreateStream) Type() string   { return TypeCreateStream }
func (m StartStream) Type() string    { return TypeStartStream }
func (m StreamReady) Type() string    { return TypeStreamReady }
func (m PauseStream) Type() string    { return TypePauseStream }
func (m ResumeStream) Type() string   { return TypeResumeStream }
func (m FlushStream) Type() string    { return TypeFlushStream }
func (m StopStream) Type() string     { return TypeStopStream }
func (m DestroyStream) Type() string  { return TypeDestroyStream }
func (m UserMessage) Type() string    { return TypeUserMessage }
func (m ConfigUpdate) Type() string   { return TypeConfigUpdate }
func (m Leave) Type() string          { return TypeLeave }

func (m Heartbeat) From() string      { return m.FromUID }
func (m JoinRequest) From() string    { return m.FromUID }
func (m JoinOffer) From() string      { return m.FromUID }
func (m TopologyUpdate) From() string { return m.FromUID }
func (m CreateStream) From() string   { return m.FromUID }
func (m StartStream) From() string    { return m.FromUID }
func (m StreamReady) From() string    { return m.FromUID }
func (m PauseStream) From() string    { return m.FromUID }
func (m ResumeStream) From() string   { return m.FromUID }
func (m FlushStream) From() string    { return m.FromUID }
func (m StopStream) From() string     { return m.FromUID }
func (m DestroyStream) From() string  { return m.FromUID }
func (m UserMessage) From() string    { return m.FromUID }
func (m ConfigUpdate) From() string   { return m.FromUID }
func (m Leave) From() string          { return m.FromUID }
