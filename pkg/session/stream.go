package session

import (
	"sync"
	"time"

	"github.com/avolaere/syncmesh/pkg/coordination"
	"github.com/avolaere/syncmesh/pkg/logging"
	"github.com/avolaere/syncmesh/pkg/predicate"
	"github.com/avolaere/syncmesh/pkg/transport"
)

// Stream is this node's handle for one named data stream: the send side
// when the node produces, the merged receive side when it consumes. Run
// state (started/paused) lives in the coordination controller; the
// stream consults it on every Send so lifecycle commands take effect
// without a local callback.
type Stream struct {
	session *Session
	name    string
	config  coordination.StreamConfig
	sender  bool
	recver  bool

	outlet transport.Outlet

	mu     sync.Mutex
	inlets map[string]transport.Inlet // producer endpoint -> inlet
	recv   chan []byte

	stopCh   chan struct{}
	wg       sync.WaitGroup
	downOnce sync.Once
}

// Name returns the stream's session-wide name.
func (st *Stream) Name() string {
	return st.name
}

// Config returns the stream's announced configuration.
func (st *Stream) Config() coordination.StreamConfig {
	return st.config
}

// IsSender reports whether this node produces for the stream.
func (st *Stream) IsSender() bool {
	return st.sender
}

// IsReceiver reports whether this node consumes the stream.
func (st *Stream) IsReceiver() bool {
	return st.recver
}

// Send publishes one payload on the stream's data channel. It fails when
// this node is not a sender or when the stream is not currently running.
func (st *Stream) Send(payload []byte) error {
	if !st.sender || st.outlet == nil {
		return ErrNotSender
	}
	_, rec, ok := st.session.ctrl.Stream(st.name)
	if !ok || !rec.Started || rec.Paused {
		return ErrStreamNotRunning
	}
	// A scheduled start instant is on the coordinator's clock; the inlet's
	// offset estimate maps it onto ours.
	if rec.StartAt > 0 &&
		st.session.tr.Now() < rec.StartAt+st.session.ctrl.TimeCorrection() {
		return ErrStreamNotRunning
	}
	if err := st.outlet.Push(payload); err != nil {
		return err
	}
	st.session.reg.TransportMessages.WithLabelValues("sent").Inc()
	st.session.reg.TransportBytes.WithLabelValues("sent").Add(float64(len(payload)))
	return nil
}

// Receive returns the next payload from any producer, waiting up to
// timeout. A zero timeout polls only; no payload is (nil, nil).
func (st *Stream) Receive(timeout time.Duration) ([]byte, error) {
	if !st.recver {
		return nil, ErrNotReceiver
	}
	if timeout <= 0 {
		select {
		case msg, ok := <-st.recv:
			if !ok {
				return nil, ErrSessionClosed
			}
			return msg, nil
		default:
			return nil, nil
		}
	}
	timer := time.NewTimer(timeout)
	defer timer.Stop()
	select {
	case msg, ok := <-st.recv:
		if !ok {
			return nil, ErrSessionClosed
		}
		return msg, nil
	case <-timer.C:
		return nil, nil
	}
}

// Flush drops everything buffered on the receive side.
func (st *Stream) Flush() {
	for {
		select {
		case <-st.recv:
		default:
			return
		}
	}
}

// subscribeLoop keeps the receive side subscribed to every producer's
// data channel, re-checking as producers come and go.
func (st *Stream) subscribeLoop() {
	defer st.wg.Done()
	filter := predicate.And(
		predicate.FieldEquals("type", dataTypeTag),
		predicate.FieldEquals("session", st.session.cfg.Session),
		predicate.FieldEquals(metaStream, st.name),
	)
	selfUID := st.session.ctrl.NodeUID()

	ticker := time.NewTicker(subscribeInterval)
	defer ticker.Stop()
	for {
		ads, err := st.session.tr.Discover(filter, 0, 0)
		if err != nil {
			st.session.log.Debug("data discovery failed",
				logging.Stream(st.name), logging.Err(err))
		}
		for _, ad := range ads {
			if ad.Metadata["node_uid"] == selfUID {
				continue
			}
			st.ensureInlet(ad)
		}
		select {
		case <-st.stopCh:
			return
		case <-ticker.C:
		}
	}
}

func (st *Stream) ensureInlet(ad transport.Advertisement) {
	st.mu.Lock()
	if _, ok := st.inlets[ad.Endpoint]; ok {
		st.mu.Unlock()
		return
	}
	st.mu.Unlock()

	inlet, err := st.session.tr.Subscribe(ad)
	if err != nil {
		st.session.log.Debug("data subscribe failed",
			logging.Stream(st.name), logging.Err(err))
		return
	}

	st.mu.Lock()
	if _, ok := st.inlets[ad.Endpoint]; ok {
		st.mu.Unlock()
		inlet.Close()
		return
	}
	st.inlets[ad.Endpoint] = inlet
	st.mu.Unlock()

	st.wg.Add(1)
	go st.pump(inlet)
}

func (st *Stream) pump(inlet transport.Inlet) {
	defer st.wg.Done()
	for {
		select {
		case <-st.stopCh:
			return
		default:
		}
		payload, err := inlet.Pull(100 * time.Millisecond)
		if err != nil {
			return
		}
		if payload == nil {
			continue
		}
		st.session.reg.TransportMessages.WithLabelValues("received").Inc()
		st.session.reg.TransportBytes.WithLabelValues("received").Add(float64(len(payload)))
		select {
		case st.recv <- payload:
		case <-st.stopCh:
			return
		default:
			st.session.reg.TransportDropped.Inc()
		}
	}
}

func (st *Stream) teardown() {
	st.downOnce.Do(func() {
		close(st.stopCh)
		if st.outlet != nil {
			st.outlet.Close()
		}
		st.mu.Lock()
		inlets := make([]transport.Inlet, 0, len(st.inlets))
		for _, inlet := range st.inlets {
			inlets = append(inlets, inlet)
		}
		st.inlets = make(map[string]transport.Inlet)
		st.mu.Unlock()
		for _, inlet := range inlets {
			inlet.Close()
		}
		st.wg.Wait()
	})
}
