// Package session layers a data plane on top of the coordination
// protocol. A Session owns one coordination controller and reacts to
// stream lifecycle events by opening the node's actual data endpoints:
// when the coordinator announces a stream, every sending node advertises
// a data channel, every receiving node subscribes to the senders, and
// readiness is signaled back only once those endpoints exist.
package session

import (
	"sync"
	"time"

	"github.com/avolaere/syncmesh/pkg/coordination"
	"github.com/avolaere/syncmesh/pkg/logging"
	"github.com/avolaere/syncmesh/pkg/metrics"
	"github.com/avolaere/syncmesh/pkg/transport"
)

// dataTypeTag marks data-plane advertisements, keeping them out of
// control-plane discovery.
const dataTypeTag = "syncmesh-data"

const metaStream = "stream"

// Session is one node's membership in a coordination session plus its
// live data streams.
type Session struct {
	cfg  coordination.Config
	ctrl *coordination.Controller
	tr   transport.Transport
	log  logging.Logger
	reg  *metrics.Registry

	mu      sync.Mutex
	streams map[string]*Stream

	events *coordination.Subscription
	stopCh chan struct{}
	wg     sync.WaitGroup

	closeOnce sync.Once
}

// New creates a session node. The controller's readiness signaling is
// taken over by the session: acknowledgment happens after local
// endpoints are open, not on receipt of the create command.
func New(cfg coordination.Config, tr transport.Transport) (*Session, error) {
	cfg.AutoSignalReady = false
	ctrl, err := coordination.NewController(cfg, tr)
	if err != nil {
		return nil, err
	}

	s := &Session{
		cfg:     cfg,
		ctrl:    ctrl,
		tr:      tr,
		log:     ctrl.Logger(),
		reg:     ctrl.Metrics(),
		streams: make(map[string]*Stream),
		events:  ctrl.Events(),
		stopCh:  make(chan struct{}),
	}
	s.wg.Add(1)
	go s.eventLoop()
	return s, nil
}

// Controller exposes the underlying coordination controller for
// membership inspection and user messaging.
func (s *Session) Controller() *coordination.Controller {
	return s.ctrl
}

// Start joins the session (or founds it, when this node wins the
// election).
func (s *Session) Start() error {
	return s.ctrl.Start()
}

// OpenStream creates a stream and starts it once every expected producer
// is ready. Coordinator only; after it returns, the stream is started on
// this node and the start command is on the wire to all others.
func (s *Session) OpenStream(cfg coordination.StreamConfig) (*Stream, error) {
	if err := s.ctrl.CreateStream(cfg); err != nil {
		return nil, err
	}
	if err := s.ctrl.StartStream(cfg.Name); err != nil {
		return nil, err
	}
	stream, _ := s.Stream(cfg.Name)
	return stream, nil
}

// Stream returns this node's handle for a named stream, if the stream
// exists and the node participates in it.
func (s *Session) Stream(name string) (*Stream, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	st, ok := s.streams[name]
	return st, ok
}

// Close tears down all streams and leaves the session.
func (s *Session) Close() {
	s.closeOnce.Do(func() {
		close(s.stopCh)
		s.ctrl.Dispose()
		s.events.Close()
		s.wg.Wait()

		s.mu.Lock()
		streams := make([]*Stream, 0, len(s.streams))
		for _, st := range s.streams {
			streams = append(streams, st)
		}
		s.streams = make(map[string]*Stream)
		s.mu.Unlock()
		for _, st := range streams {
			st.teardown()
		}
	})
}

// eventLoop reacts to lifecycle events from the controller.
func (s *Session) eventLoop() {
	defer s.wg.Done()
	for {
		select {
		case <-s.stopCh:
			return
		case ev, ok := <-s.events.C:
			if !ok {
				return
			}
			switch e := ev.(type) {
			case coordination.StreamCreatedEvent:
				s.setupStream(e.Config)
			case coordination.StreamDestroyedEvent:
				s.destroyStream(e.Name)
			case coordination.StreamFlushedEvent:
				if st, ok := s.Stream(e.Name); ok {
					st.Flush()
				}
			}
		}
	}
}

// setupStream opens this node's endpoints for a newly announced stream
// and acknowledges readiness.
func (s *Session) setupStream(cfg coordination.StreamConfig) {
	self := s.ctrl.State().Self()
	st := &Stream{
		session: s,
		name:    cfg.Name,
		config:  cfg,
		sender:  isSender(cfg, self),
		recver:  isReceiver(cfg, self),
		recv:    make(chan []byte, 256),
		inlets:  make(map[string]transport.Inlet),
		stopCh:  make(chan struct{}),
	}

	if st.sender {
		outlet, err := s.tr.Advertise(transport.Advertisement{
			Name:         cfg.Name,
			TypeTag:      dataTypeTag,
			ChannelCount: cfg.ChannelCount,
			SampleRate:   cfg.SampleRate,
			Metadata: map[string]string{
				"session":  s.cfg.Session,
				metaStream: cfg.Name,
				"node_uid": self.UID,
			},
		})
		if err != nil {
			s.log.Error("data outlet failed",
				logging.Stream(cfg.Name), logging.Err(err))
			return
		}
		st.outlet = outlet
	}
	if st.recver {
		st.wg.Add(1)
		go st.subscribeLoop()
	}

	s.mu.Lock()
	s.streams[cfg.Name] = st
	s.mu.Unlock()

	// Endpoints exist; tell the coordinator this node is ready.
	if err := s.ctrl.SignalStreamReady(cfg.Name); err != nil {
		s.log.Warn("readiness signal failed",
			logging.Stream(cfg.Name), logging.Err(err))
	}
}

func (s *Session) destroyStream(name string) {
	s.mu.Lock()
	st, ok := s.streams[name]
	if ok {
		delete(s.streams, name)
	}
	s.mu.Unlock()
	if ok {
		st.teardown()
	}
}

// isSender reports whether this node produces for the stream under its
// participation mode.
func isSender(cfg coordination.StreamConfig, self coordination.Node) bool {
	switch cfg.Participation {
	case coordination.ModeCoordinatorOnly:
		return self.Role == coordination.RoleCoordinator
	case coordination.ModeParticipantsOnly:
		return self.Role != coordination.RoleCoordinator
	case coordination.ModeCustom:
		return containsUID(cfg.Senders, self.UID)
	default:
		return true
	}
}

// isReceiver reports whether this node consumes the stream.
func isReceiver(cfg coordination.StreamConfig, self coordination.Node) bool {
	switch cfg.Participation {
	case coordination.ModeCoordinatorOnly:
		return self.Role != coordination.RoleCoordinator
	case coordination.ModeParticipantsOnly:
		return self.Role == coordination.RoleCoordinator
	case coordination.ModeCustom:
		return containsUID(cfg.Receivers, self.UID)
	default:
		return true
	}
}

func containsUID(uids []string, uid string) bool {
	for _, u := range uids {
		if u == uid {
			return true
		}
	}
	return false
}

// subscribeInterval is how often a receiving stream re-checks for new
// producer channels.
const subscribeInterval = 250 * time.Millisecond
