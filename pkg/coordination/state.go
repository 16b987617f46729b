package coordination

import (
	"fmt"
	"sync"
	"time"
)

// State tracks this node's coordination phase, role, and the set of known
// peer nodes.
//
// Concurrent Safety:
// 1. All public methods use RWMutex for thread-safe access
// 2. Mutation methods are synchronous and side-effect-free beyond
//    emitting events on the bus
// 3. Node snapshots returned to callers are defensive copies
//
// Invariants: at most one node in connectedNodes has the coordinator role;
// CoordinatorUID is non-empty iff phase is accepting or ready (or paused
// while holding one of those roles).
type State struct {
	mu             sync.RWMutex
	self           Node
	phase          Phase
	isCoordinator  bool
	coordinatorUID string
	nodes          map[string]*Node // keyed by UID, self included
	bus            *Bus
}

// NewState creates coordination state for the local node. The local node
// starts unassigned in phase idle and is part of connectedNodes.
func NewState(self Node, bus *Bus) *State {
	self.Role = RoleUnassigned
	local := self.Clone()
	s := &State{
		self:  self,
		phase: PhaseIdle,
		nodes: map[string]*Node{self.UID: &local},
		bus:   bus,
	}
	return s
}

// Phase returns the current coordination phase.
func (s *State) Phase() Phase {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.phase
}

// IsCoordinator reports whether this node won the election.
func (s *State) IsCoordinator() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.isCoordinator
}

// CoordinatorUID returns the elected coordinator's UID, or "" before the
// election resolves.
func (s *State) CoordinatorUID() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.coordinatorUID
}

// Self returns a snapshot of the local node.
func (s *State) Self() Node {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.self.Clone()
}

// TransitionTo moves to the given phase, enforcing the phase graph, and
// emits a phase-change event.
func (s *State) TransitionTo(to Phase) error {
	s.mu.Lock()
	from := s.phase
	if from == to {
		s.mu.Unlock()
		return nil
	}
	if !canTransition(from, to) {
		s.mu.Unlock()
		return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, from, to)
	}
	s.phase = to
	s.mu.Unlock()

	s.bus.Publish(PhaseChangedEvent{From: from, To: to})
	return nil
}

// BecomeCoordinator records the election win and emits a role-change event.
func (s *State) BecomeCoordinator() {
	s.mu.Lock()
	s.isCoordinator = true
	s.coordinatorUID = s.self.UID
	s.self.Role = RoleCoordinator
	if local, ok := s.nodes[s.self.UID]; ok {
		local.Role = RoleCoordinator
	}
	s.mu.Unlock()

	s.bus.Publish(RoleChangedEvent{Role: RoleCoordinator, CoordinatorUID: s.self.UID})
}

// BecomeParticipant records the election loss and emits a role-change
// event. coordinatorUID may be empty while the coordinator is still being
// joined.
func (s *State) BecomeParticipant(coordinatorUID string) {
	s.mu.Lock()
	s.isCoordinator = false
	s.coordinatorUID = coordinatorUID
	s.self.Role = RoleParticipant
	if local, ok := s.nodes[s.self.UID]; ok {
		local.Role = RoleParticipant
	}
	s.mu.Unlock()

	s.bus.Publish(RoleChangedEvent{Role: RoleParticipant, CoordinatorUID: coordinatorUID})
}

// AddNode inserts a peer and emits a join event. Adding a second
// coordinator is rejected to preserve the single-coordinator invariant.
func (s *State) AddNode(n Node) error {
	s.mu.Lock()
	if _, ok := s.nodes[n.UID]; ok {
		s.mu.Unlock()
		return ErrNodeExists
	}
	if n.Role == RoleCoordinator {
		for _, existing := range s.nodes {
			if existing.Role == RoleCoordinator && existing.UID != n.UID {
				s.mu.Unlock()
				return fmt.Errorf("node %s: second coordinator rejected", n.UID)
			}
		}
	}
	stored := n.Clone()
	if stored.LastHeartbeat.IsZero() {
		stored.LastHeartbeat = time.Now()
	}
	s.nodes[n.UID] = &stored
	s.mu.Unlock()

	s.bus.Publish(NodeJoinedEvent{Node: stored.Clone()})
	return nil
}

// RemoveNode deletes a peer and emits a leave event. Removing an unknown
// node is a no-op.
func (s *State) RemoveNode(uid, reason string) {
	s.mu.Lock()
	if _, ok := s.nodes[uid]; !ok || uid == s.self.UID {
		s.mu.Unlock()
		return
	}
	delete(s.nodes, uid)
	s.mu.Unlock()

	s.bus.Publish(NodeLeftEvent{UID: uid, Reason: reason})
}

// UpdateHeartbeat refreshes a peer's last-seen timestamp.
func (s *State) UpdateHeartbeat(uid string, at time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if n, ok := s.nodes[uid]; ok {
		n.LastHeartbeat = at
	}
}

// StaleNodes returns the UIDs of peers whose last heartbeat is older than
// timeout, excluding self.
func (s *State) StaleNodes(timeout time.Duration, now time.Time) []string {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var stale []string
	for uid, n := range s.nodes {
		if uid == s.self.UID {
			continue
		}
		if now.Sub(n.LastHeartbeat) > timeout {
			stale = append(stale, uid)
		}
	}
	return stale
}

// Nodes returns a snapshot of all known nodes, self included.
func (s *State) Nodes() []Node {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]Node, 0, len(s.nodes))
	for _, n := range s.nodes {
		out = append(out, n.Clone())
	}
	return out
}

// Node returns a snapshot of one node by UID.
func (s *State) Node(uid string) (Node, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if n, ok := s.nodes[uid]; ok {
		return n.Clone(), true
	}
	return Node{}, false
}

// NodeCount returns the number of known nodes, self included.
func (s *State) NodeCount() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.nodes)
}

// ReplaceNodes swaps the peer set for the one in a topology update,
// keeping self. Used by participants, whose view follows the coordinator.
func (s *State) ReplaceNodes(nodes []Node) {
	s.mu.Lock()
	var joined []Node
	var left []string

	incoming := make(map[string]Node, len(nodes))
	for _, n := range nodes {
		incoming[n.UID] = n
	}
	for uid := range s.nodes {
		if uid == s.self.UID {
			continue
		}
		if _, ok := incoming[uid]; !ok {
			left = append(left, uid)
			delete(s.nodes, uid)
		}
	}
	for uid, n := range incoming {
		if uid == s.self.UID {
			continue
		}
		if _, ok := s.nodes[uid]; !ok {
			stored := n.Clone()
			stored.LastHeartbeat = time.Now()
			s.nodes[uid] = &stored
			joined = append(joined, stored.Clone())
		}
	}
	s.mu.Unlock()

	for _, n := range joined {
		s.bus.Publish(NodeJoinedEvent{Node: n})
	}
	for _, uid := range left {
		s.bus.Publish(NodeLeftEvent{UID: uid, Reason: "topology"})
	}
}
