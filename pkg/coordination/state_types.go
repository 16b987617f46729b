package coordination

// Phase represents where a node is in the coordination lifecycle
type Phase int

const (
	// PhaseIdle is the initial phase before Start
	PhaseIdle Phase = iota
	// PhaseDiscovering is the initial peer scan
	PhaseDiscovering
	// PhaseElecting is the one-shot election
	PhaseElecting
	// PhaseAccepting is a coordinator accepting join requests
	PhaseAccepting
	// PhaseConnecting is a participant joining its coordinator
	PhaseConnecting
	// PhaseReady is steady state
	PhaseReady
	// PhasePaused is a coordinator-gated pause of joins and streams
	PhasePaused
	// PhaseDisposing is terminal; all resources released
	PhaseDisposing
)

// String returns the string representation of a Phase
func (p Phase) String() string {
	switch p {
	case PhaseIdle:
		return "idle"
	case PhaseDiscovering:
		return "discovering"
	case PhaseElecting:
		return "electing"
	case PhaseAccepting:
		return "accepting"
	case PhaseConnecting:
		return "connecting"
	case PhaseReady:
		return "ready"
	case PhasePaused:
		return "paused"
	case PhaseDisposing:
		return "disposing"
	default:
		return "unknown"
	}
}

// phaseTransitions is the fixed phase graph. Only forward edges exist,
// except ready<->paused (and accepting<->paused for the coordinator's join
// gate). Disposing is reachable from anywhere and terminal.
var phaseTransitions = map[Phase][]Phase{
	PhaseIdle:        {PhaseDiscovering},
	PhaseDiscovering: {PhaseElecting},
	PhaseElecting:    {PhaseAccepting, PhaseConnecting},
	PhaseAccepting:   {PhaseReady, PhasePaused},
	PhaseConnecting:  {PhaseReady},
	PhaseReady:       {PhasePaused},
	PhasePaused:      {PhaseReady, PhaseAccepting},
	PhaseDisposing:   {},
}

// canTransition reports whether from -> to is a legal edge.
func canTransition(from, to Phase) bool {
	if from == PhaseDisposing {
		return false
	}
	if to == PhaseDisposing {
		return true
	}
	for _, next := range phaseTransitions[from] {
		if next == to {
			return true
		}
	}
	return false
}
