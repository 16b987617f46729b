package coordination

import "time"

// NodeRole represents a node's role in the session
type NodeRole int

const (
	// RoleUnassigned is a node that has not completed election
	RoleUnassigned NodeRole = iota
	// RoleParticipant is a non-coordinator node connected to the coordinator
	RoleParticipant
	// RoleCoordinator is the single elected node that accepts joins and
	// drives stream lifecycle broadcasts
	RoleCoordinator
)

// String returns the string representation of a NodeRole
func (r NodeRole) String() string {
	switch r {
	case RoleUnassigned:
		return "unassigned"
	case RoleParticipant:
		return "participant"
	case RoleCoordinator:
		return "coordinator"
	default:
		return "unknown"
	}
}

// ParseRole converts a wire string to a NodeRole.
func ParseRole(s string) NodeRole {
	switch s {
	case "participant":
		return RoleParticipant
	case "coordinator":
		return RoleCoordinator
	default:
		return RoleUnassigned
	}
}

// Node is one participating device instance. ID is the human label; UID is
// globally unique and stable for the process lifetime. Peer copies are
// created on discovery/join and removed on timeout or explicit leave.
// LastHeartbeat is mutated only by the owning controller on receipt.
type Node struct {
	ID            string
	UID           string
	Role          NodeRole
	Capabilities  []string
	Metadata      map[string]string
	LastHeartbeat time.Time
}

// Clone returns a deep copy so callers can hold node snapshots safely.
func (n Node) Clone() Node {
	out := n
	out.Capabilities = append([]string(nil), n.Capabilities...)
	out.Metadata = make(map[string]string, len(n.Metadata))
	for k, v := range n.Metadata {
		out.Metadata[k] = v
	}
	return out
}
