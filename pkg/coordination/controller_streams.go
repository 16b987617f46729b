package coordination

import (
	"fmt"
	"sort"

	"github.com/avolaere/syncmesh/pkg/logging"
)

// CreateStream announces a named stream to every node in the session and
// records it locally. Each node prepares its endpoints and acknowledges
// with a readiness signal; StartStream waits on those. Coordinator only.
func (c *Controller) CreateStream(cfg StreamConfig) error {
	if !c.state.IsCoordinator() {
		return &RoleError{Op: "CreateStream"}
	}
	if cfg.Name == "" {
		return fmt.Errorf("stream name must not be empty")
	}
	if _, _, ok := c.streams.get(cfg.Name); ok {
		return fmt.Errorf("%w: %s", ErrStreamExists, cfg.Name)
	}

	if err := c.send(CreateStream{FromUID: c.NodeUID(), Config: cfg}); err != nil {
		return err
	}
	if err := c.applyCreate(cfg); err != nil {
		return err
	}
	if c.cfg.AutoSignalReady {
		c.markReady(cfg.Name, c.NodeUID())
	}
	return nil
}

// StartStream waits for every expected producer to signal readiness and
// then broadcasts the start command. Coordinator only.
func (c *Controller) StartStream(name string) error {
	return c.StartStreamAt(name, 0)
}

// StartStreamAt is StartStream with an explicit transport-clock start
// instant so all nodes begin sampling together. A zero startAt means
// start immediately on receipt.
func (c *Controller) StartStreamAt(name string, startAt float64) error {
	if !c.state.IsCoordinator() {
		return &RoleError{Op: "StartStream"}
	}
	cfg, _, ok := c.streams.get(name)
	if !ok {
		return fmt.Errorf("%w: %s", ErrStreamUnknown, name)
	}

	expected := c.expectedProducers(cfg)
	waitStart := c.clk.Now()
	if err := c.awaitReady(name, expected); err != nil {
		return err
	}
	c.cfg.Metrics.SessionReadinessSeconds.Observe(c.clk.Since(waitStart).Seconds())

	if err := c.send(StartStream{FromUID: c.NodeUID(), Name: name, StartAt: startAt}); err != nil {
		return err
	}
	c.applyStart(name, startAt)
	return nil
}

// PauseStream suspends a started stream on every node. Coordinator only.
func (c *Controller) PauseStream(name string) error {
	if !c.state.IsCoordinator() {
		return &RoleError{Op: "PauseStream"}
	}
	if _, _, ok := c.streams.get(name); !ok {
		return fmt.Errorf("%w: %s", ErrStreamUnknown, name)
	}
	if err := c.send(PauseStream{FromUID: c.NodeUID(), Name: name}); err != nil {
		return err
	}
	c.applyPause(name)
	return nil
}

// ResumeStream resumes a paused stream; flush drops buffered samples
// first so consumption restarts at live data. Coordinator only.
func (c *Controller) ResumeStream(name string, flush bool) error {
	if !c.state.IsCoordinator() {
		return &RoleError{Op: "ResumeStream"}
	}
	if _, _, ok := c.streams.get(name); !ok {
		return fmt.Errorf("%w: %s", ErrStreamUnknown, name)
	}
	if err := c.send(ResumeStream{FromUID: c.NodeUID(), Name: name, Flush: flush}); err != nil {
		return err
	}
	c.applyResume(name, flush)
	return nil
}

// FlushStream drops buffered samples everywhere without changing the
// stream's run state. Coordinator only.
func (c *Controller) FlushStream(name string) error {
	if !c.state.IsCoordinator() {
		return &RoleError{Op: "FlushStream"}
	}
	if _, _, ok := c.streams.get(name); !ok {
		return fmt.Errorf("%w: %s", ErrStreamUnknown, name)
	}
	if err := c.send(FlushStream{FromUID: c.NodeUID(), Name: name}); err != nil {
		return err
	}
	c.applyFlush(name)
	return nil
}

// StopStream halts consumption on every node without releasing resources;
// the stream can be started again. Coordinator only.
func (c *Controller) StopStream(name string) error {
	if !c.state.IsCoordinator() {
		return &RoleError{Op: "StopStream"}
	}
	if _, _, ok := c.streams.get(name); !ok {
		return fmt.Errorf("%w: %s", ErrStreamUnknown, name)
	}
	if err := c.send(StopStream{FromUID: c.NodeUID(), Name: name}); err != nil {
		return err
	}
	c.applyStop(name)
	return nil
}

// DestroyStream releases the stream everywhere and removes its record.
// Coordinator only.
func (c *Controller) DestroyStream(name string) error {
	if !c.state.IsCoordinator() {
		return &RoleError{Op: "DestroyStream"}
	}
	if _, _, ok := c.streams.get(name); !ok {
		return fmt.Errorf("%w: %s", ErrStreamUnknown, name)
	}
	if err := c.send(DestroyStream{FromUID: c.NodeUID(), Name: name}); err != nil {
		return err
	}
	c.applyDestroy(name)
	return nil
}

// BroadcastUserMessage pushes an opaque application payload to every
// node. Coordinator only; participants talk to the coordinator instead.
func (c *Controller) BroadcastUserMessage(payload map[string]string) error {
	if !c.state.IsCoordinator() {
		return &RoleError{Op: "BroadcastUserMessage"}
	}
	return c.send(UserMessage{FromUID: c.NodeUID(), Payload: payload})
}

// SendUserMessage pushes an opaque application payload to the
// coordinator. Participant only.
func (c *Controller) SendUserMessage(payload map[string]string) error {
	if c.state.IsCoordinator() {
		return c.BroadcastUserMessage(payload)
	}
	return c.send(UserMessage{FromUID: c.NodeUID(), Payload: payload})
}

// BroadcastConfig pushes coordinator settings to every node. Coordinator
// only.
func (c *Controller) BroadcastConfig(settings map[string]string) error {
	if !c.state.IsCoordinator() {
		return &RoleError{Op: "BroadcastConfig"}
	}
	return c.send(ConfigUpdate{FromUID: c.NodeUID(), Settings: settings})
}

// SignalStreamReady acknowledges that this node's local endpoints for a
// stream exist. Controllers with AutoSignalReady send it on creation;
// the session layer calls it once endpoints are actually open.
func (c *Controller) SignalStreamReady(name string) error {
	if c.state.IsCoordinator() {
		c.markReady(name, c.NodeUID())
		return nil
	}
	return c.send(StreamReady{FromUID: c.NodeUID(), Name: name})
}

// StreamNames lists the streams with a live local record.
func (c *Controller) StreamNames() []string {
	names := c.streams.names()
	sort.Strings(names)
	return names
}

// Stream returns one stream's config and runtime record.
func (c *Controller) Stream(name string) (StreamConfig, StreamRecord, bool) {
	return c.streams.get(name)
}

// expectedProducers returns the UIDs whose readiness gates a start,
// derived from the participation mode against the current membership.
func (c *Controller) expectedProducers(cfg StreamConfig) []string {
	switch cfg.Participation {
	case ModeCoordinatorOnly:
		return []string{c.state.CoordinatorUID()}
	case ModeParticipantsOnly:
		var uids []string
		for _, n := range c.state.Nodes() {
			if n.Role != RoleCoordinator {
				uids = append(uids, n.UID)
			}
		}
		return uids
	case ModeCustom:
		return append([]string(nil), cfg.Senders...)
	default:
		var uids []string
		for _, n := range c.state.Nodes() {
			uids = append(uids, n.UID)
		}
		return uids
	}
}

// markReady records one node's readiness for a stream and releases any
// waiter whose expected set is now covered.
func (c *Controller) markReady(name, uid string) {
	c.mu.Lock()
	set := c.ready[name]
	if set == nil {
		set = make(map[string]bool)
		c.ready[name] = set
	}
	set[uid] = true

	remaining := c.waiters[:0]
	var released []*readyWaiter
	for _, w := range c.waiters {
		if w.stream == name && coveredBy(w.expected, set) {
			released = append(released, w)
			continue
		}
		remaining = append(remaining, w)
	}
	c.waiters = remaining
	c.mu.Unlock()

	for _, w := range released {
		close(w.done)
	}
	c.bus.Publish(StreamReadyEvent{Name: name, UID: uid})
}

// awaitReady blocks until every expected UID has signaled readiness for
// the stream, the ready timeout expires, or the controller is disposed.
func (c *Controller) awaitReady(name string, expected []string) error {
	w := &readyWaiter{stream: name, expected: expected, done: make(chan struct{})}

	c.mu.Lock()
	if coveredBy(expected, c.ready[name]) {
		c.mu.Unlock()
		return nil
	}
	c.waiters = append(c.waiters, w)
	c.mu.Unlock()

	timer := c.clk.Timer(c.cfg.ReadyTimeout)
	defer timer.Stop()
	select {
	case <-w.done:
		return nil
	case <-timer.C:
		c.cfg.Metrics.SessionReadinessTimeout.Inc()
		missing := c.removeWaiter(w, name)
		c.log.Warn("readiness wait expired",
			logging.Stream(name), logging.Strings("missing", missing))
		return &ReadinessError{Stream: name, Missing: missing}
	case <-c.stopCh:
		c.removeWaiter(w, name)
		return ErrDisposed
	}
}

// removeWaiter detaches a timed-out waiter and reports which expected
// UIDs never signaled.
func (c *Controller) removeWaiter(w *readyWaiter, name string) []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	for i, other := range c.waiters {
		if other == w {
			c.waiters = append(c.waiters[:i], c.waiters[i+1:]...)
			break
		}
	}
	var missing []string
	set := c.ready[name]
	for _, uid := range w.expected {
		if !set[uid] {
			missing = append(missing, uid)
		}
	}
	sort.Strings(missing)
	return missing
}

func coveredBy(expected []string, set map[string]bool) bool {
	for _, uid := range expected {
		if !set[uid] {
			return false
		}
	}
	return true
}

// applyCreate, applyStart, and friends mutate the local stream table and
// publish lifecycle events. They run on the coordinator at broadcast
// time and on participants at receipt, and every one is idempotent
// because lifecycle commands can be delivered more than once.

func (c *Controller) applyCreate(cfg StreamConfig) error {
	if err := c.streams.create(cfg); err != nil {
		if err == ErrStreamExists {
			return nil
		}
		return err
	}
	c.cfg.Metrics.SessionLifecycleOps.WithLabelValues("create").Inc()
	c.cfg.Metrics.SessionStreamsActive.Set(float64(len(c.streams.names())))
	c.bus.Publish(StreamCreatedEvent{Config: cfg})
	return nil
}

func (c *Controller) applyStart(name string, startAt float64) {
	_, changed := c.streams.apply(name, func(r *StreamRecord) bool {
		if r.Started && !r.Paused {
			return false
		}
		r.Started = true
		r.Paused = false
		r.StartAt = startAt
		return true
	})
	if changed {
		c.cfg.Metrics.SessionLifecycleOps.WithLabelValues("start").Inc()
		c.bus.Publish(StreamStartedEvent{Name: name, StartAt: startAt})
	}
}

func (c *Controller) applyPause(name string) {
	_, changed := c.streams.apply(name, func(r *StreamRecord) bool {
		if !r.Started || r.Paused {
			return false
		}
		r.Paused = true
		return true
	})
	if changed {
		c.cfg.Metrics.SessionLifecycleOps.WithLabelValues("pause").Inc()
		c.bus.Publish(StreamPausedEvent{Name: name})
	}
}

func (c *Controller) applyResume(name string, flush bool) {
	_, changed := c.streams.apply(name, func(r *StreamRecord) bool {
		if !r.Paused {
			return false
		}
		r.Paused = false
		return true
	})
	if changed {
		if flush {
			c.cfg.Metrics.SessionLifecycleOps.WithLabelValues("flush").Inc()
			c.bus.Publish(StreamFlushedEvent{Name: name})
		}
		c.cfg.Metrics.SessionLifecycleOps.WithLabelValues("resume").Inc()
		c.bus.Publish(StreamResumedEvent{Name: name, Flush: flush})
	}
}

func (c *Controller) applyFlush(name string) {
	if _, _, ok := c.streams.get(name); !ok {
		return
	}
	c.cfg.Metrics.SessionLifecycleOps.WithLabelValues("flush").Inc()
	c.bus.Publish(StreamFlushedEvent{Name: name})
}

func (c *Controller) applyStop(name string) {
	_, changed := c.streams.apply(name, func(r *StreamRecord) bool {
		if !r.Started {
			return false
		}
		r.Started = false
		r.Paused = false
		r.StartAt = 0
		return true
	})
	if changed {
		c.cfg.Metrics.SessionLifecycleOps.WithLabelValues("stop").Inc()
		c.bus.Publish(StreamStoppedEvent{Name: name})
	}
}

func (c *Controller) applyDestroy(name string) {
	if !c.streams.destroy(name) {
		return
	}
	c.mu.Lock()
	delete(c.ready, name)
	c.mu.Unlock()
	c.cfg.Metrics.SessionLifecycleOps.WithLabelValues("destroy").Inc()
	c.cfg.Metrics.SessionStreamsActive.Set(float64(len(c.streams.names())))
	c.bus.Publish(StreamDestroyedEvent{Name: name})
}
