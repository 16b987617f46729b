package coordination

import (
	"github.com/avolaere/syncmesh/pkg/logging"
)

// participantHandler consumes the coordinator's broadcast channel: join
// offers, topology updates, stream lifecycle commands, and application
// messages. Lifecycle commands may arrive more than once (the transport
// is at-least-once under reconnects), so every application is idempotent.
type participantHandler struct {
	c *Controller
}

var participantTypes = map[string]bool{
	TypeJoinOffer:      true,
	TypeTopologyUpdate: true,
	TypeHeartbeat:      true,
	TypeCreateStream:   true,
	TypeStartStream:    true,
	TypePauseStream:    true,
	TypeResumeStream:   true,
	TypeFlushStream:    true,
	TypeStopStream:     true,
	TypeDestroyStream:  true,
	TypeUserMessage:    true,
	TypeConfigUpdate:   true,
	TypeLeave:          true,
}

func (h *participantHandler) CanHandle(msgType string) bool {
	return participantTypes[msgType]
}

func (h *participantHandler) Handle(msg Message) error {
	switch m := msg.(type) {
	case JoinOffer:
		if m.ToUID != h.c.state.Self().UID {
			return nil
		}
		select {
		case h.c.joinAck <- m:
		default:
		}
		return nil
	case TopologyUpdate:
		h.applyTopology(m)
		return nil
	case Heartbeat:
		h.c.cfg.Metrics.CoordinationHeartbeats.WithLabelValues("received").Inc()
		h.c.state.UpdateHeartbeat(m.FromUID, h.c.clk.Now())
		return nil
	case CreateStream:
		if err := h.c.applyCreate(m.Config); err != nil {
			return err
		}
		if h.c.cfg.AutoSignalReady {
			return h.c.SignalStreamReady(m.Config.Name)
		}
		return nil
	case StartStream:
		h.c.applyStart(m.Name, m.StartAt)
		return nil
	case PauseStream:
		h.c.applyPause(m.Name)
		return nil
	case ResumeStream:
		h.c.applyResume(m.Name, m.Flush)
		return nil
	case FlushStream:
		h.c.applyFlush(m.Name)
		return nil
	case StopStream:
		h.c.applyStop(m.Name)
		return nil
	case DestroyStream:
		h.c.applyDestroy(m.Name)
		return nil
	case UserMessage:
		h.c.bus.Publish(UserMessageEvent{From: m.FromUID, Payload: m.Payload})
		return nil
	case ConfigUpdate:
		h.c.bus.Publish(ConfigUpdateEvent{From: m.FromUID, Settings: m.Settings})
		return nil
	case Leave:
		// The coordinator is going away; drop it from the view so the
		// application can react to the NodeLeftEvent.
		h.c.state.RemoveNode(m.FromUID, "leave")
		h.c.log.Warn("coordinator left the session",
			logging.NodeUID(m.FromUID),
			logging.Session(h.c.cfg.Session))
		return nil
	}
	return nil
}

// applyTopology replaces the peer view with the coordinator's. Node
// summaries carry no capabilities or metadata; those live only in the
// coordinator's full view.
func (h *participantHandler) applyTopology(m TopologyUpdate) {
	nodes := make([]Node, 0, len(m.Nodes))
	for _, n := range m.Nodes {
		nodes = append(nodes, Node{UID: n.UID, ID: n.ID, Role: n.Role})
	}
	h.c.state.ReplaceNodes(nodes)
	h.c.syncConnectedNodes()
}
