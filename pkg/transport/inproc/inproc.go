// Package inproc provides an in-memory transport backend. All nodes share
// one Network; advertisements, discovery, and message channels never leave
// the process. It backs the test suites and single-process sessions.
package inproc

import (
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/avolaere/syncmesh/pkg/predicate"
	"github.com/avolaere/syncmesh/pkg/transport"
)

// discoveryPollStep is how often a blocking Discover re-checks the registry.
const discoveryPollStep = 2 * time.Millisecond

// inletBuffer is the per-subscription channel depth. Publishing to a full
// subscriber drops the message rather than blocking the sender, matching
// the best-effort delivery model.
const inletBuffer = 256

// Network is the shared in-process advertisement registry and message
// fabric. Create one Network per simulated LAN and one Node per device.
type Network struct {
	mu      sync.RWMutex
	entries map[string]*entry // endpoint -> advertised channel
	start   time.Time
	closed  bool
}

type entry struct {
	ad   transport.Advertisement
	subs map[*Inlet]bool
}

// NewNetwork creates an empty in-process network.
func NewNetwork() *Network {
	return &Network{
		entries: make(map[string]*entry),
		start:   time.Now(),
	}
}

// Node returns a transport handle attached to this network. Nodes share
// the network clock, so TimeCorrection is always zero.
func (n *Network) Node() *Node {
	return &Node{net: n}
}

// Close tears down the network and every advertised channel on it.
func (n *Network) Close() error {
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.closed {
		return nil
	}
	n.closed = true
	for endpoint, e := range n.entries {
		for inlet := range e.subs {
			inlet.closeFromNetwork()
		}
		delete(n.entries, endpoint)
	}
	return nil
}

func (n *Network) now() float64 {
	return time.Since(n.start).Seconds()
}

// Node is one device's view of the network.
type Node struct {
	net      *Network
	closedMu sync.Mutex
	closed   bool
	outlets  []*Outlet
	inlets   []*Inlet
}

// Advertise registers a channel and returns its send side.
func (t *Node) Advertise(ad transport.Advertisement) (transport.Outlet, error) {
	t.net.mu.Lock()
	defer t.net.mu.Unlock()
	if t.net.closed {
		return nil, transport.ErrClosed
	}

	stored := ad.Clone()
	stored.Endpoint = uuid.NewString()
	e := &entry{ad: stored, subs: make(map[*Inlet]bool)}
	t.net.entries[stored.Endpoint] = e

	outlet := &Outlet{net: t.net, endpoint: stored.Endpoint}
	t.closedMu.Lock()
	t.outlets = append(t.outlets, outlet)
	t.closedMu.Unlock()
	return outlet, nil
}

// Discover evaluates a predicate against the current registry, re-checking
// until maxResults matches exist or waitTime elapses.
func (t *Node) Discover(filter string, waitTime time.Duration, maxResults int) ([]transport.Advertisement, error) {
	expr, err := predicate.Parse(filter)
	if err != nil {
		return nil, err
	}

	deadline := time.Now().Add(waitTime)
	for {
		matches := t.snapshot(expr, maxResults)
		if maxResults > 0 && len(matches) >= maxResults {
			return matches, nil
		}
		if waitTime <= 0 || !time.Now().Before(deadline) {
			return matches, nil
		}
		time.Sleep(discoveryPollStep)
	}
}

func (t *Node) snapshot(expr predicate.Expr, maxResults int) []transport.Advertisement {
	t.net.mu.RLock()
	defer t.net.mu.RUnlock()

	var matches []transport.Advertisement
	for _, e := range t.net.entries {
		if expr.Eval(e.ad) {
			matches = append(matches, e.ad.Clone())
			if maxResults > 0 && len(matches) >= maxResults {
				break
			}
		}
	}
	return matches
}

// Subscribe attaches an inlet to a discovered advertisement.
func (t *Node) Subscribe(ad transport.Advertisement) (transport.Inlet, error) {
	t.net.mu.Lock()
	defer t.net.mu.Unlock()
	if t.net.closed {
		return nil, transport.ErrClosed
	}
	e, ok := t.net.entries[ad.Endpoint]
	if !ok {
		return nil, transport.ErrNotFound
	}

	inlet := &Inlet{
		net: t.net,
		ad:  e.ad.Clone(),
		ch:  make(chan []byte, inletBuffer),
	}
	e.subs[inlet] = true

	t.closedMu.Lock()
	t.inlets = append(t.inlets, inlet)
	t.closedMu.Unlock()
	return inlet, nil
}

// Now returns the shared network clock in seconds.
func (t *Node) Now() float64 {
	return t.net.now()
}

// Close releases every outlet and inlet this node created. The network
// itself stays up for other nodes.
func (t *Node) Close() error {
	t.closedMu.Lock()
	defer t.closedMu.Unlock()
	if t.closed {
		return nil
	}
	t.closed = true
	for _, o := range t.outlets {
		o.Close()
	}
	for _, i := range t.inlets {
		i.Close()
	}
	return nil
}

var _ transport.Transport = (*Node)(nil)

// Outlet is the in-process send side of an advertised channel.
type Outlet struct {
	net      *Network
	endpoint string
}

// Advertisement returns the advertisement as currently published.
func (o *Outlet) Advertisement() transport.Advertisement {
	o.net.mu.RLock()
	defer o.net.mu.RUnlock()
	if e, ok := o.net.entries[o.endpoint]; ok {
		return e.ad.Clone()
	}
	return transport.Advertisement{Endpoint: o.endpoint}
}

// Push fans the payload out to all current subscribers. Subscribers whose
// buffers are full miss the message.
func (o *Outlet) Push(payload []byte) error {
	o.net.mu.RLock()
	e, ok := o.net.entries[o.endpoint]
	if !ok {
		o.net.mu.RUnlock()
		return transport.ErrClosed
	}
	// Snapshot under lock, send outside it.
	subs := make([]*Inlet, 0, len(e.subs))
	for inlet := range e.subs {
		subs = append(subs, inlet)
	}
	o.net.mu.RUnlock()

	msg := make([]byte, len(payload))
	copy(msg, payload)
	for _, inlet := range subs {
		inlet.deliver(msg)
	}
	return nil
}

// SetMetadata replaces the advertisement's metadata so subsequent
// discovery sees the new values.
func (o *Outlet) SetMetadata(metadata map[string]string) error {
	o.net.mu.Lock()
	defer o.net.mu.Unlock()
	e, ok := o.net.entries[o.endpoint]
	if !ok {
		return transport.ErrClosed
	}
	e.ad.Metadata = make(map[string]string, len(metadata))
	for k, v := range metadata {
		e.ad.Metadata[k] = v
	}
	return nil
}

// Close withdraws the advertisement and closes all subscriber inlets.
func (o *Outlet) Close() error {
	o.net.mu.Lock()
	e, ok := o.net.entries[o.endpoint]
	if ok {
		delete(o.net.entries, o.endpoint)
	}
	o.net.mu.Unlock()
	if !ok {
		return nil
	}
	for inlet := range e.subs {
		inlet.closeFromNetwork()
	}
	return nil
}

// Inlet is the in-process receive side of a subscribed channel.
type Inlet struct {
	net       *Network
	ad        transport.Advertisement
	ch        chan []byte
	closeOnce sync.Once
	closedMu  sync.Mutex
	closed    bool
}

// Advertisement returns the advertisement this inlet is bound to.
func (i *Inlet) Advertisement() transport.Advertisement {
	return i.ad.Clone()
}

func (i *Inlet) deliver(payload []byte) {
	// closedMu held across the send so Close cannot close the channel
	// between the check and the send.
	i.closedMu.Lock()
	defer i.closedMu.Unlock()
	if i.closed {
		return
	}
	select {
	case i.ch <- payload:
	default:
	}
}

// Pull returns the next message, waiting up to timeout. A zero timeout
// polls only; an empty result is (nil, nil).
func (i *Inlet) Pull(timeout time.Duration) ([]byte, error) {
	if timeout <= 0 {
		select {
		case msg, ok := <-i.ch:
			if !ok {
				return nil, transport.ErrClosed
			}
			return msg, nil
		default:
			if i.isClosed() {
				return nil, transport.ErrClosed
			}
			return nil, nil
		}
	}

	timer := time.NewTimer(timeout)
	defer timer.Stop()
	select {
	case msg, ok := <-i.ch:
		if !ok {
			return nil, transport.ErrClosed
		}
		return msg, nil
	case <-timer.C:
		if i.isClosed() {
			return nil, transport.ErrClosed
		}
		return nil, nil
	}
}

// TimeCorrection is always zero: all inproc nodes share one clock.
func (i *Inlet) TimeCorrection() (float64, error) {
	return 0, nil
}

func (i *Inlet) isClosed() bool {
	i.closedMu.Lock()
	defer i.closedMu.Unlock()
	return i.closed
}

// Close detaches the inlet from its channel.
func (i *Inlet) Close() error {
	i.net.mu.Lock()
	if e, ok := i.net.entries[i.ad.Endpoint]; ok {
		delete(e.subs, i)
	}
	i.net.mu.Unlock()
	i.closeFromNetwork()
	return nil
}

func (i *Inlet) closeFromNetwork() {
	i.closeOnce.Do(func() {
		i.closedMu.Lock()
		i.closed = true
		close(i.ch)
		i.closedMu.Unlock()
	})
}
