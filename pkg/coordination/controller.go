package coordination

import (
	"fmt"
	"sync"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/google/uuid"

	"github.com/avolaere/syncmesh/pkg/logging"
	"github.com/avolaere/syncmesh/pkg/metrics"
	"github.com/avolaere/syncmesh/pkg/predicate"
	"github.com/avolaere/syncmesh/pkg/transport"
)

// inletPollInterval bounds how long an inlet pump blocks in Pull before
// rechecking for shutdown.
const inletPollInterval = 100 * time.Millisecond

// Controller runs one node's participation in a coordination session:
// election, membership, heartbeating, and the stream lifecycle protocol.
//
// Concurrent Safety:
// 1. All inbound messages funnel through a single processing goroutine
// 2. State, the stream table, and the readiness set carry their own locks,
//    so public API calls are safe from any goroutine
// 3. Dispose is idempotent and cancels in-flight readiness waits
type Controller struct {
	cfg     Config
	tr      transport.Transport
	log     logging.Logger
	clk     clock.Clock
	bus     *Bus
	state   *State
	streams *streamTable

	discovery *Discovery
	elect     *election
	outlet    transport.Outlet

	mu      sync.Mutex
	handler handler
	inlets  map[string]inletPump // peer UID -> pump
	ready   map[string]map[string]bool
	waiters []*readyWaiter
	joinAck chan JoinOffer

	inbound chan []byte
	stopCh  chan struct{}
	wg      sync.WaitGroup

	disposeOnce sync.Once
	started     bool
}

type inletPump struct {
	inlet transport.Inlet
	done  chan struct{}
}

type readyWaiter struct {
	stream   string
	expected []string
	done     chan struct{}
}

// NewController creates a controller for one node. The transport is
// borrowed, not owned: Dispose closes the controller's outlet and inlets
// but leaves the transport itself to the caller.
func NewController(cfg Config, tr transport.Transport) (*Controller, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	cfg = cfg.withDefaults()

	uid := uuid.New().String()
	self := Node{
		ID:           cfg.NodeID,
		UID:          uid,
		Role:         RoleUnassigned,
		Capabilities: append([]string(nil), cfg.Capabilities...),
		Metadata:     cloneStringMap(cfg.Metadata),
	}

	bus := NewBus()
	c := &Controller{
		cfg:     cfg,
		tr:      tr,
		log:     cfg.Logger.With(logging.Session(cfg.Session), logging.NodeUID(uid)),
		clk:     cfg.Clock,
		bus:     bus,
		state:   NewState(self, bus),
		streams: newStreamTable(),
		inlets:  make(map[string]inletPump),
		ready:   make(map[string]map[string]bool),
		joinAck: make(chan JoinOffer, 1),
		inbound: make(chan []byte, 256),
		stopCh:  make(chan struct{}),
	}
	c.discovery = NewDiscovery(tr, bus, cfg.DiscoveryInterval, cfg.DiscoveryHorizon,
		c.log, cfg.Metrics, cfg.Clock)
	// Two discovery intervals: a winner that advertised just before this
	// node started needs a full polling cycle to become visible.
	c.elect = newElection(tr, c.log, cfg.Session, uid, cfg.Strategy, 2*cfg.DiscoveryInterval)
	return c, nil
}

// Events returns a new subscription to the controller's event bus. The
// caller owns the subscription and must Close it.
func (c *Controller) Events() *Subscription {
	return c.bus.Subscribe()
}

// State exposes the membership and phase view.
func (c *Controller) State() *State {
	return c.state
}

// NodeUID returns this node's session-unique identifier.
func (c *Controller) NodeUID() string {
	return c.state.Self().UID
}

// Logger returns the controller's logger, defaults applied, for layers
// built on top of the controller.
func (c *Controller) Logger() logging.Logger {
	return c.log
}

// Metrics returns the controller's metrics registry, defaults applied.
func (c *Controller) Metrics() *metrics.Registry {
	return c.cfg.Metrics
}

// TimeCorrection estimates the offset, in seconds, to add to instants on
// the coordinator's transport clock to map them onto the local one.
// Coordinators, and nodes without a coordinator inlet yet, report zero.
func (c *Controller) TimeCorrection() float64 {
	if c.state.IsCoordinator() {
		return 0
	}
	coordUID := c.state.CoordinatorUID()
	c.mu.Lock()
	pump, ok := c.inlets[coordUID]
	c.mu.Unlock()
	if !ok {
		return 0
	}
	corr, err := pump.inlet.TimeCorrection()
	if err != nil {
		return 0
	}
	return corr
}

// Start advertises this node, runs the election, and brings the node to
// its steady state: accepting joins as coordinator, or joined and ready
// as participant. It blocks until the role is settled or the join fails.
func (c *Controller) Start() error {
	c.mu.Lock()
	if c.started {
		c.mu.Unlock()
		return fmt.Errorf("controller already started")
	}
	c.started = true
	c.mu.Unlock()

	if err := c.state.TransitionTo(PhaseDiscovering); err != nil {
		return err
	}

	if err := c.advertise(); err != nil {
		return fmt.Errorf("advertise control channel: %w", err)
	}

	c.wg.Add(1)
	go c.processLoop()

	if err := c.state.TransitionTo(PhaseElecting); err != nil {
		return err
	}

	electionStart := c.clk.Now()
	result := c.elect.run()
	c.cfg.Metrics.CoordinationElections.WithLabelValues(result.outcome.String()).Inc()
	c.cfg.Metrics.CoordinationElectionTime.Observe(c.clk.Since(electionStart).Seconds())
	c.log.Info("election resolved", logging.String("outcome", result.outcome.String()))

	switch result.outcome {
	case outcomeCoordinator:
		return c.startAsCoordinator()
	default:
		return c.startAsParticipant(result.coordinatorAd)
	}
}

// advertise opens the control outlet carrying this node's election
// metadata plus any application metadata from the config.
func (c *Controller) advertise() error {
	self := c.state.Self()
	md := map[string]string{
		metaSession:  c.cfg.Session,
		metaNodeID:   self.ID,
		metaNodeUID:  self.UID,
		metaNodeRole: RoleUnassigned.String(),
	}
	for k, v := range c.elect.metadata() {
		md[k] = v
	}
	for k, v := range c.cfg.Metadata {
		md[k] = v
	}

	outlet, err := c.tr.Advertise(transport.Advertisement{
		Name:     c.cfg.Session + "-control-" + self.ID,
		TypeTag:  controlTypeTag,
		Metadata: md,
	})
	if err != nil {
		return err
	}
	c.outlet = outlet
	return nil
}

func (c *Controller) startAsCoordinator() error {
	c.state.BecomeCoordinator()
	c.cfg.Metrics.SetRole(RoleCoordinator.String())
	if err := c.updateRoleMetadata(RoleCoordinator); err != nil {
		return err
	}
	if err := c.state.TransitionTo(PhaseAccepting); err != nil {
		return err
	}
	c.cfg.Metrics.SetPhase(c.state.Phase().String())

	c.setHandler(&coordinatorHandler{c: c})

	// Watch for control advertisements from peers in the session and
	// subscribe to each so their requests and heartbeats reach us.
	c.wg.Add(1)
	go c.watchDiscovered()
	filter := predicate.And(
		predicate.FieldEquals(metaSession, c.cfg.Session),
		predicate.FieldNotEquals(metaNodeUID, c.NodeUID()),
		predicate.FieldEquals("type", controlTypeTag),
	)
	if err := c.discovery.StartDiscovery(filter); err != nil {
		return err
	}

	c.wg.Add(2)
	go c.heartbeatLoop()
	go c.evictionLoop()

	c.syncConnectedNodes()
	c.log.Info("acting as coordinator")
	return nil
}

func (c *Controller) startAsParticipant(coordinatorAd *transport.Advertisement) error {
	c.cfg.Metrics.SetRole(RoleParticipant.String())
	if err := c.state.TransitionTo(PhaseConnecting); err != nil {
		return err
	}
	c.cfg.Metrics.SetPhase(c.state.Phase().String())

	ad := coordinatorAd
	if ad == nil {
		found, err := c.findCoordinator()
		if err != nil {
			return err
		}
		ad = found
	}

	coordUID := ad.Metadata[metaNodeUID]
	c.state.BecomeParticipant(coordUID)
	if err := c.updateRoleMetadata(RoleParticipant); err != nil {
		return err
	}

	c.setHandler(&participantHandler{c: c})
	if err := c.ensureInlet(*ad); err != nil {
		return fmt.Errorf("subscribe coordinator: %w", err)
	}
	_ = c.state.AddNode(Node{
		UID:           coordUID,
		ID:            ad.Metadata[metaNodeID],
		Role:          RoleCoordinator,
		LastHeartbeat: c.clk.Now(),
	})

	if err := c.join(coordUID); err != nil {
		return err
	}

	if err := c.state.TransitionTo(PhaseReady); err != nil {
		return err
	}
	c.cfg.Metrics.SetPhase(c.state.Phase().String())

	c.wg.Add(1)
	go c.heartbeatLoop()

	c.syncConnectedNodes()
	c.log.Info("joined session", logging.String("coordinator", coordUID))
	return nil
}

// findCoordinator waits for a coordinator advertisement to appear. Nodes
// that lose the election can start before the winner has flipped its
// advertised role, so this polls up to the join timeout.
func (c *Controller) findCoordinator() (*transport.Advertisement, error) {
	filter := predicate.And(
		predicate.FieldEquals(metaSession, c.cfg.Session),
		predicate.FieldNotEquals(metaNodeUID, c.NodeUID()),
		predicate.FieldEquals("type", controlTypeTag),
		predicate.FieldEquals(metaNodeRole, RoleCoordinator.String()),
	)
	deadline := c.clk.Now().Add(c.cfg.JoinTimeout)
	for {
		ads, err := c.discovery.DiscoverOnce(filter, c.cfg.DiscoveryInterval, 1)
		if err != nil {
			return nil, err
		}
		if len(ads) > 0 {
			ad := ads[0].Clone()
			return &ad, nil
		}
		if !c.clk.Now().Before(deadline) {
			return nil, fmt.Errorf("%w: no coordinator visible", ErrJoinFailed)
		}
		select {
		case <-c.stopCh:
			return nil, ErrDisposed
		default:
		}
	}
}

// join sends JoinRequest until the coordinator answers or the join
// timeout expires. The request is retried because the coordinator may
// subscribe to our control channel a poll or two after we find it.
func (c *Controller) join(coordUID string) error {
	self := c.state.Self()
	req := JoinRequest{FromUID: self.UID, Node: self}

	timeout := c.clk.Timer(c.cfg.JoinTimeout)
	defer timeout.Stop()
	retry := c.clk.Ticker(c.cfg.DiscoveryInterval)
	defer retry.Stop()

	if err := c.send(req); err != nil {
		return err
	}
	for {
		select {
		case offer := <-c.joinAck:
			if !offer.Accepted {
				return fmt.Errorf("%w: %s", ErrJoinFailed, offer.Reason)
			}
			if offer.FromUID != coordUID {
				// A different coordinator answered; follow it.
				c.state.BecomeParticipant(offer.FromUID)
			}
			return nil
		case <-retry.C:
			if err := c.send(req); err != nil {
				return err
			}
		case <-timeout.C:
			return fmt.Errorf("%w: no answer within %s", ErrJoinFailed, c.cfg.JoinTimeout)
		case <-c.stopCh:
			return ErrDisposed
		}
	}
}

// updateRoleMetadata republishes the control advertisement with the
// settled role so late starters can find the coordinator by filter.
func (c *Controller) updateRoleMetadata(role NodeRole) error {
	md := cloneStringMap(c.outlet.Advertisement().Metadata)
	md[metaNodeRole] = role.String()
	return c.outlet.SetMetadata(md)
}

// send pushes one message on this node's control outlet.
func (c *Controller) send(msg Message) error {
	payload, err := Encode(msg)
	if err != nil {
		return err
	}
	c.cfg.Metrics.CoordinationMessages.WithLabelValues(msg.Type(), "sent").Inc()
	return c.outlet.Push(payload)
}

// broadcastTopology pushes the coordinator's full membership view.
func (c *Controller) broadcastTopology() error {
	nodes := c.state.Nodes()
	summaries := make([]NodeSummary, 0, len(nodes))
	for _, n := range nodes {
		summaries = append(summaries, NodeSummary{UID: n.UID, ID: n.ID, Role: n.Role})
	}
	return c.send(TopologyUpdate{FromUID: c.NodeUID(), Nodes: summaries})
}

func (c *Controller) setHandler(h handler) {
	c.mu.Lock()
	c.handler = h
	c.mu.Unlock()
}

func (c *Controller) currentHandler() handler {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.handler
}

// processLoop is the single consumer of inbound control messages.
func (c *Controller) processLoop() {
	defer c.wg.Done()
	for {
		select {
		case <-c.stopCh:
			return
		case payload := <-c.inbound:
			c.dispatch(payload)
		}
	}
}

func (c *Controller) dispatch(payload []byte) {
	msg, err := Decode(payload)
	if err != nil {
		c.cfg.Metrics.CoordinationParseErrors.Inc()
		c.log.Warn("dropping malformed message", logging.Err(err))
		return
	}
	if msg.From() == c.NodeUID() {
		return
	}
	c.cfg.Metrics.CoordinationMessages.WithLabelValues(msg.Type(), "received").Inc()

	h := c.currentHandler()
	if h == nil || !h.CanHandle(msg.Type()) {
		c.log.Debug("ignoring message for other role",
			logging.String("type", msg.Type()), logging.NodeUID(msg.From()))
		return
	}
	if err := h.Handle(msg); err != nil {
		c.log.Warn("message handling failed",
			logging.String("type", msg.Type()), logging.Err(err))
	}
}

// watchDiscovered reacts to discovery events by subscribing to every
// control channel in the session. Only the coordinator runs this.
func (c *Controller) watchDiscovered() {
	defer c.wg.Done()
	sub := c.bus.Subscribe()
	defer sub.Close()
	for {
		select {
		case <-c.stopCh:
			return
		case ev, ok := <-sub.C:
			if !ok {
				return
			}
			discovered, isDiscovery := ev.(StreamDiscoveredEvent)
			if !isDiscovery {
				continue
			}
			for _, ad := range discovered.Ads {
				if ad.TypeTag != controlTypeTag {
					continue
				}
				if err := c.ensureInlet(ad); err != nil {
					c.log.Warn("subscribe to peer failed",
						logging.NodeUID(ad.Metadata[metaNodeUID]), logging.Err(err))
				}
			}
		}
	}
}

// ensureInlet subscribes to a peer's control channel once and pumps its
// messages into the processing loop.
func (c *Controller) ensureInlet(ad transport.Advertisement) error {
	uid := ad.Metadata[metaNodeUID]
	if uid == "" || uid == c.NodeUID() {
		return nil
	}

	c.mu.Lock()
	if _, ok := c.inlets[uid]; ok {
		c.mu.Unlock()
		return nil
	}
	c.mu.Unlock()

	inlet, err := c.tr.Subscribe(ad)
	if err != nil {
		return err
	}

	pump := inletPump{inlet: inlet, done: make(chan struct{})}
	c.mu.Lock()
	if _, ok := c.inlets[uid]; ok {
		c.mu.Unlock()
		inlet.Close()
		return nil
	}
	c.inlets[uid] = pump
	c.mu.Unlock()

	c.wg.Add(1)
	go c.pumpInlet(uid, pump)
	return nil
}

func (c *Controller) pumpInlet(uid string, pump inletPump) {
	defer c.wg.Done()
	for {
		select {
		case <-c.stopCh:
			return
		case <-pump.done:
			return
		default:
		}
		payload, err := pump.inlet.Pull(inletPollInterval)
		if err != nil {
			if err != transport.ErrClosed {
				c.log.Debug("inlet pull failed", logging.NodeUID(uid), logging.Err(err))
			}
			return
		}
		if payload == nil {
			continue
		}
		select {
		case c.inbound <- payload:
		case <-c.stopCh:
			return
		}
	}
}

func (c *Controller) dropInlet(uid string) {
	c.mu.Lock()
	pump, ok := c.inlets[uid]
	if ok {
		delete(c.inlets, uid)
	}
	c.mu.Unlock()
	if ok {
		close(pump.done)
		pump.inlet.Close()
	}
}

// heartbeatLoop pushes a heartbeat every interval. The coordinator's
// heartbeat reaches all participants on its broadcast channel; a
// participant's reaches the coordinator, which subscribed to it.
func (c *Controller) heartbeatLoop() {
	defer c.wg.Done()
	ticker := c.clk.Ticker(c.cfg.HeartbeatInterval)
	defer ticker.Stop()
	self := c.state.Self()
	for {
		select {
		case <-c.stopCh:
			return
		case <-ticker.C:
			if err := c.send(Heartbeat{FromUID: self.UID, NodeID: self.ID}); err != nil {
				c.log.Debug("heartbeat send failed", logging.Err(err))
				continue
			}
			c.cfg.Metrics.CoordinationHeartbeats.WithLabelValues("sent").Inc()
		}
	}
}

// evictionLoop removes peers whose heartbeats stopped. Runs at half the
// node timeout so a stale node is gone within 1.5 timeouts at worst.
func (c *Controller) evictionLoop() {
	defer c.wg.Done()
	ticker := c.clk.Ticker(c.cfg.NodeTimeout / 2)
	defer ticker.Stop()
	for {
		select {
		case <-c.stopCh:
			return
		case <-ticker.C:
			stale := c.state.StaleNodes(c.cfg.NodeTimeout, c.clk.Now())
			if len(stale) == 0 {
				continue
			}
			for _, uid := range stale {
				c.log.Warn("evicting stale node", logging.NodeUID(uid))
				c.cfg.Metrics.CoordinationEvictions.Inc()
				c.state.RemoveNode(uid, "timeout")
				c.dropInlet(uid)
			}
			c.syncConnectedNodes()
			if err := c.broadcastTopology(); err != nil {
				c.log.Warn("topology broadcast failed", logging.Err(err))
			}
		}
	}
}

// Pause stops accepting new joins and pauses discovery. Coordinator only.
func (c *Controller) Pause() error {
	if !c.state.IsCoordinator() {
		return &RoleError{Op: "Pause"}
	}
	if err := c.state.TransitionTo(PhasePaused); err != nil {
		return err
	}
	c.cfg.Metrics.SetPhase(c.state.Phase().String())
	c.discovery.Pause()
	return nil
}

// Resume reopens the session for joins after a Pause. Coordinator only.
func (c *Controller) Resume() error {
	if !c.state.IsCoordinator() {
		return &RoleError{Op: "Resume"}
	}
	if err := c.state.TransitionTo(PhaseAccepting); err != nil {
		return err
	}
	c.cfg.Metrics.SetPhase(c.state.Phase().String())
	c.discovery.Resume()
	return nil
}

// Dispose leaves the session and releases the controller's transport
// resources. Safe to call more than once; in-flight readiness waits fail
// with ErrDisposed.
func (c *Controller) Dispose() {
	c.disposeOnce.Do(func() {
		if c.outlet != nil && c.state.Phase() != PhaseIdle {
			// Best effort: peers that miss this will evict us by timeout.
			if err := c.send(Leave{FromUID: c.NodeUID()}); err != nil {
				c.log.Debug("leave notification failed", logging.Err(err))
			}
		}
		_ = c.state.TransitionTo(PhaseDisposing)
		c.cfg.Metrics.SetPhase(c.state.Phase().String())

		close(c.stopCh)
		c.discovery.Close()

		c.mu.Lock()
		pumps := make([]inletPump, 0, len(c.inlets))
		for _, p := range c.inlets {
			pumps = append(pumps, p)
		}
		c.inlets = make(map[string]inletPump)
		c.mu.Unlock()
		for _, p := range pumps {
			close(p.done)
			p.inlet.Close()
		}

		if c.outlet != nil {
			c.outlet.Close()
		}
		c.wg.Wait()
		c.bus.Close()
		c.log.Info("controller disposed")
	})
}

// syncConnectedNodes mirrors the membership count into the gauge.
func (c *Controller) syncConnectedNodes() {
	c.cfg.Metrics.CoordinationConnectedNodes.Set(float64(c.state.NodeCount()))
}

func cloneStringMap(in map[string]string) map[string]string {
	if in == nil {
		return nil
	}
	out := make(map[string]string, len(in))
	for k, v := range in {
		out[k] = v
	}
	return out
}
