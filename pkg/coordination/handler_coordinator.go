package coordination

import (
	"github.com/avolaere/syncmesh/pkg/logging"
)

// coordinatorHandler consumes messages addressed to the elected
// coordinator: join requests, participant heartbeats, readiness
// acknowledgements, and departures.
type coordinatorHandler struct {
	c *Controller
}

var coordinatorTypes = map[string]bool{
	TypeJoinRequest: true,
	TypeHeartbeat:   true,
	TypeStreamReady: true,
	TypeUserMessage: true,
	TypeLeave:       true,
}

func (h *coordinatorHandler) CanHandle(msgType string) bool {
	return coordinatorTypes[msgType]
}

func (h *coordinatorHandler) Handle(msg Message) error {
	switch m := msg.(type) {
	case JoinRequest:
		return h.handleJoinRequest(m)
	case Heartbeat:
		h.c.cfg.Metrics.CoordinationHeartbeats.WithLabelValues("received").Inc()
		h.c.state.UpdateHeartbeat(m.FromUID, h.c.clk.Now())
		return nil
	case StreamReady:
		h.c.markReady(m.Name, m.FromUID)
		return nil
	case UserMessage:
		h.c.bus.Publish(UserMessageEvent{From: m.FromUID, Payload: m.Payload})
		return nil
	case Leave:
		h.c.state.RemoveNode(m.FromUID, "leave")
		h.c.dropInlet(m.FromUID)
		h.c.syncConnectedNodes()
		return h.c.broadcastTopology()
	}
	return nil
}

// handleJoinRequest admits a node while the session is accepting. A
// paused session rejects joins with a reason the requester can surface.
func (h *coordinatorHandler) handleJoinRequest(m JoinRequest) error {
	self := h.c.state.Self()
	offer := JoinOffer{
		FromUID: self.UID,
		ToUID:   m.FromUID,
		Session: h.c.cfg.Session,
	}

	switch h.c.state.Phase() {
	case PhaseAccepting, PhaseReady:
		node := m.Node
		node.Role = RoleParticipant
		node.LastHeartbeat = h.c.clk.Now()
		if err := h.c.state.AddNode(node); err != nil && err != ErrNodeExists {
			offer.Accepted = false
			offer.Reason = err.Error()
			return h.c.send(offer)
		}
		offer.Accepted = true
		h.c.log.Info("node joined",
			logging.NodeUID(m.FromUID),
			logging.String("node_id", m.Node.ID),
			logging.Session(h.c.cfg.Session))
		h.c.syncConnectedNodes()
		if err := h.c.send(offer); err != nil {
			return err
		}
		return h.c.broadcastTopology()
	default:
		offer.Accepted = false
		offer.Reason = "session not accepting"
		return h.c.send(offer)
	}
}
