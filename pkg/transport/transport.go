package transport

import (
	"io"
	"strconv"
	"time"
)

// Transport is the pub/sub collaborator the coordination core runs on. It
// provides advertisement of named, typed channels, predicate-based
// discovery of other nodes' advertisements, discrete message transfer over
// subscribed channels, and a monotonic clock shared across the backend.
//
// Backends: inproc (in-memory, tests and single-process sessions), nng
// (mangos sockets over the LAN), mqtt (broker-based).
type Transport interface {
	io.Closer

	// Advertise makes a channel discoverable and returns its send side.
	Advertise(ad Advertisement) (Outlet, error)

	// Discover evaluates a predicate expression against visible
	// advertisements. It returns as soon as maxResults matches are found
	// or waitTime elapses, whichever comes first. A zero waitTime polls
	// the current view once.
	Discover(filter string, waitTime time.Duration, maxResults int) ([]Advertisement, error)

	// Subscribe establishes delivery from a discovered advertisement.
	Subscribe(ad Advertisement) (Inlet, error)

	// Now returns the backend's monotonic clock in seconds.
	Now() float64
}

// Advertisement describes a discoverable named, typed channel. Metadata is
// an open string map carried with the advertisement; the coordination core
// uses it for session name, node identity, role, and election tie-breakers.
// Endpoint is backend-assigned and opaque to callers.
type Advertisement struct {
	Name         string
	TypeTag      string
	ChannelCount int
	SampleRate   float64
	Metadata     map[string]string
	Endpoint     string
}

// Field resolves a predicate field reference against this advertisement.
// Built-in fields take precedence over metadata keys.
func (a Advertisement) Field(name string) (string, bool) {
	switch name {
	case "name":
		return a.Name, true
	case "type":
		return a.TypeTag, true
	case "channel_count":
		return strconv.Itoa(a.ChannelCount), true
	case "sample_rate":
		return strconv.FormatFloat(a.SampleRate, 'g', -1, 64), true
	case "endpoint":
		return a.Endpoint, true
	}
	v, ok := a.Metadata[name]
	return v, ok
}

// MetadataCount reports the number of metadata entries, for count().
func (a Advertisement) MetadataCount() int {
	return len(a.Metadata)
}

// Clone returns a deep copy so backends can hand out snapshots safely.
func (a Advertisement) Clone() Advertisement {
	out := a
	out.Metadata = make(map[string]string, len(a.Metadata))
	for k, v := range a.Metadata {
		out.Metadata[k] = v
	}
	return out
}

// Outlet is the send side of an advertised channel.
type Outlet interface {
	io.Closer

	// Advertisement returns the advertisement as currently published.
	Advertisement() Advertisement

	// Push delivers one discrete message to all current subscribers.
	Push(payload []byte) error

	// SetMetadata updates the advertisement's metadata in place, so later
	// discovery sees the new values (role changes after election).
	SetMetadata(metadata map[string]string) error
}

// Inlet is the receive side of a subscribed channel.
type Inlet interface {
	io.Closer

	// Advertisement returns the advertisement this inlet is bound to.
	Advertisement() Advertisement

	// Pull returns the next message, waiting up to timeout. A timeout of
	// zero polls only. An empty result is (nil, nil).
	Pull(timeout time.Duration) ([]byte, error)

	// TimeCorrection estimates the offset, in seconds, to add to the
	// remote sender's clock to map it onto the local transport clock.
	TimeCorrection() (float64, error)
}
