package coordination

import (
	"strconv"
	"testing"
	"time"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"

	"github.com/avolaere/syncmesh/pkg/logging"
	"github.com/avolaere/syncmesh/pkg/transport"
	"github.com/avolaere/syncmesh/pkg/transport/inproc"
)

const electionTestWait = 20 * time.Millisecond

// advertisePeer publishes a control advertisement with explicit election
// metadata, as a live node would during its own startup.
func advertisePeer(t *testing.T, net *inproc.Network, session, uid string, roll, startedAt float64, role NodeRole) {
	t.Helper()
	_, err := net.Node().Advertise(transport.Advertisement{
		Name:    session + "-control-" + uid,
		TypeTag: controlTypeTag,
		Metadata: map[string]string{
			metaSession:   session,
			metaNodeID:    uid,
			metaNodeUID:   uid,
			metaNodeRole:  role.String(),
			metaRoll:      strconv.FormatFloat(roll, 'g', 17, 64),
			metaStartedAt: strconv.FormatFloat(startedAt, 'g', 17, 64),
		},
	})
	if err != nil {
		t.Fatal(err)
	}
}

func newTestElection(net *inproc.Network, session, uid string, strategy ElectionStrategy) *election {
	return newElection(net.Node(), logging.NewNopLogger(), session, uid, strategy, electionTestWait)
}

func TestElectionAloneBecomesCoordinator(t *testing.T) {
	net := inproc.NewNetwork()
	defer net.Close()

	e := newTestElection(net, "lab", "uid-a", StrategyRandom)
	if res := e.run(); res.outcome != outcomeCoordinator {
		t.Errorf("outcome = %s, want coordinator", res.outcome)
	}
}

func TestElectionRandomStrictlyBetterWins(t *testing.T) {
	net := inproc.NewNetwork()
	defer net.Close()

	e := newTestElection(net, "lab", "uid-a", StrategyRandom)
	// A peer with a lower roll beats us.
	advertisePeer(t, net, "lab", "uid-b", e.roll/2, 0, RoleUnassigned)
	if res := e.run(); res.outcome != outcomeParticipant {
		t.Errorf("outcome = %s, want participant", res.outcome)
	}
}

func TestElectionRandomWorseRollLoses(t *testing.T) {
	net := inproc.NewNetwork()
	defer net.Close()

	e := newTestElection(net, "lab", "uid-a", StrategyRandom)
	advertisePeer(t, net, "lab", "uid-b", e.roll+1, 0, RoleUnassigned)
	if res := e.run(); res.outcome != outcomeCoordinator {
		t.Errorf("outcome = %s, want coordinator", res.outcome)
	}
}

func TestElectionFirstStartedWins(t *testing.T) {
	net := inproc.NewNetwork()
	defer net.Close()

	e := newTestElection(net, "lab", "uid-a", StrategyFirstStarted)
	advertisePeer(t, net, "lab", "uid-b", 0, e.startedAt-5, RoleUnassigned)
	if res := e.run(); res.outcome != outcomeParticipant {
		t.Errorf("outcome = %s, want participant (peer started earlier)", res.outcome)
	}
}

func TestElectionIgnoresOtherSessions(t *testing.T) {
	net := inproc.NewNetwork()
	defer net.Close()

	e := newTestElection(net, "lab", "uid-a", StrategyRandom)
	advertisePeer(t, net, "other", "uid-b", 0, 0, RoleUnassigned)
	if res := e.run(); res.outcome != outcomeCoordinator {
		t.Errorf("outcome = %s, want coordinator (peer is in another session)", res.outcome)
	}
}

func TestElectionConfirmationDemotes(t *testing.T) {
	net := inproc.NewNetwork()
	defer net.Close()

	e := newTestElection(net, "lab", "uid-a", StrategyRandom)
	// No peer has a better roll, but one already promoted: we defer.
	advertisePeer(t, net, "lab", "uid-b", e.roll+1, 0, RoleCoordinator)
	res := e.run()
	if res.outcome != outcomeDemoted {
		t.Fatalf("outcome = %s, want demoted", res.outcome)
	}
	if res.coordinatorAd == nil || res.coordinatorAd.Metadata[metaNodeUID] != "uid-b" {
		t.Errorf("coordinatorAd = %+v, want uid-b", res.coordinatorAd)
	}
}

// TestElectionExactlyOneWinner checks the election key comparison across
// random peer sets: with all nodes' rolls visible, exactly the best roll
// claims the coordinator role.
func TestElectionExactlyOneWinner(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 30

	properties := gopter.NewProperties(parameters)
	properties.Property("exactly one node wins", prop.ForAll(
		func(rolls []float64) bool {
			net := inproc.NewNetwork()
			defer net.Close()

			elections := make([]*election, len(rolls))
			for i, roll := range rolls {
				uid := "uid-" + strconv.Itoa(i)
				e := newTestElection(net, "lab", uid, StrategyRandom)
				e.roll = roll
				advertisePeer(t, net, "lab", uid, roll, 0, RoleUnassigned)
				elections[i] = e
			}

			winners := 0
			for _, e := range elections {
				if e.run().outcome == outcomeCoordinator {
					winners++
				}
			}
			return winners == 1
		},
		gen.SliceOfN(5, gen.Float64Range(0, 1)).SuchThat(func(rolls []float64) bool {
			seen := make(map[float64]bool)
			for _, r := range rolls {
				if seen[r] {
					return false
				}
				seen[r] = true
			}
			return true
		}),
	))
	properties.TestingRun(t)
}
