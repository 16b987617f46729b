package coordination

import "sync"

// ParticipationMode selects which nodes produce and which consume a stream
type ParticipationMode int

const (
	// ModeAllNodes means every node produces and consumes
	ModeAllNodes ParticipationMode = iota
	// ModeCoordinatorOnly means only the coordinator produces; all
	// participants consume
	ModeCoordinatorOnly
	// ModeParticipantsOnly means participants produce; the coordinator
	// consumes
	ModeParticipantsOnly
	// ModeCustom uses the explicit sender/receiver UID lists
	ModeCustom
)

// String returns the string representation of a ParticipationMode
func (m ParticipationMode) String() string {
	switch m {
	case ModeAllNodes:
		return "all_nodes"
	case ModeCoordinatorOnly:
		return "coordinator_only"
	case ModeParticipantsOnly:
		return "participants_only"
	case ModeCustom:
		return "custom"
	default:
		return "unknown"
	}
}

// ParseParticipationMode converts a wire string to a ParticipationMode.
func ParseParticipationMode(s string) ParticipationMode {
	switch s {
	case "coordinator_only":
		return ModeCoordinatorOnly
	case "participants_only":
		return ModeParticipantsOnly
	case "custom":
		return ModeCustom
	default:
		return ModeAllNodes
	}
}

// StreamConfig describes a named data stream created across the session.
// It is owned by application code; the controller references it during
// lifecycle broadcasts without mutating it.
type StreamConfig struct {
	Name          string
	ChannelCount  int
	SampleRate    float64
	DataType      string
	Participation ParticipationMode
	// Senders and Receivers apply only to ModeCustom.
	Senders   []string
	Receivers []string
}

// StreamRecord is the per-stream runtime tri-state a node keeps for each
// lifecycle it participates in. StartAt, when non-zero, is the
// transport-clock instant (on the coordinator's clock) before which no
// node may push data; Started flips as soon as the start command lands,
// the data gate waits for the instant.
type StreamRecord struct {
	Created bool
	Started bool
	Paused  bool
	StartAt float64
}

// streamTable holds the controller's per-stream records.
type streamTable struct {
	mu      sync.Mutex
	streams map[string]*streamEntry
}

type streamEntry struct {
	config StreamConfig
	record StreamRecord
}

func newStreamTable() *streamTable {
	return &streamTable{streams: make(map[string]*streamEntry)}
}

func (t *streamTable) create(cfg StreamConfig) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if _, ok := t.streams[cfg.Name]; ok {
		return ErrStreamExists
	}
	t.streams[cfg.Name] = &streamEntry{config: cfg, record: StreamRecord{Created: true}}
	return nil
}

// apply mutates one stream's record under the table lock. It returns
// (record, true) when the stream exists and fn reported a change, and the
// unchanged record with false otherwise; idempotent lifecycle handling
// hangs off that bool.
func (t *streamTable) apply(name string, fn func(*StreamRecord) bool) (StreamRecord, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	e, ok := t.streams[name]
	if !ok {
		return StreamRecord{}, false
	}
	changed := fn(&e.record)
	return e.record, changed
}

func (t *streamTable) destroy(name string) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	if _, ok := t.streams[name]; !ok {
		return false
	}
	delete(t.streams, name)
	return true
}

func (t *streamTable) get(name string) (StreamConfig, StreamRecord, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	e, ok := t.streams[name]
	if !ok {
		return StreamConfig{}, StreamRecord{}, false
	}
	return e.config, e.record, true
}

func (t *streamTable) names() []string {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := make([]string, 0, len(t.streams))
	for name := range t.streams {
		out = append(out, name)
	}
	return out
}
