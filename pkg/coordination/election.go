package coordination

import (
	"math/rand/v2"
	"strconv"
	"time"

	"github.com/avolaere/syncmesh/pkg/logging"
	"github.com/avolaere/syncmesh/pkg/predicate"
	"github.com/avolaere/syncmesh/pkg/transport"
)

// Metadata keys every control advertisement carries for election and
// membership purposes.
const (
	metaSession   = "session"
	metaNodeID    = "node_id"
	metaNodeUID   = "node_uid"
	metaNodeRole  = "node_role"
	metaRoll      = "random_roll"
	metaStartedAt = "node_started_at"
)

// controlTypeTag marks control-channel advertisements so discovery can
// tell them apart from data streams in the same session.
const controlTypeTag = "syncmesh-control"

// election decides this node's role with a single bounded discovery
// query: look for any peer in the session whose election key is strictly
// better than ours. Finding one means someone else wins (or already won);
// finding none means we take the coordinator role, subject to a
// confirmation pass that heals the race where two nodes promote at once.
type election struct {
	tr        transport.Transport
	log       logging.Logger
	session   string
	selfUID   string
	strategy  ElectionStrategy
	roll      float64
	startedAt float64
	timeout   time.Duration
}

type electionOutcome int

const (
	outcomeCoordinator electionOutcome = iota
	outcomeParticipant
	outcomeDemoted
)

func (o electionOutcome) String() string {
	switch o {
	case outcomeCoordinator:
		return "coordinator"
	case outcomeParticipant:
		return "participant"
	case outcomeDemoted:
		return "demoted"
	default:
		return "unknown"
	}
}

type electionResult struct {
	outcome electionOutcome
	// coordinatorAd is set when the confirmation pass found a standing
	// coordinator this node must defer to.
	coordinatorAd *transport.Advertisement
}

func newElection(tr transport.Transport, log logging.Logger, session, selfUID string,
	strategy ElectionStrategy, timeout time.Duration) *election {
	return &election{
		tr:        tr,
		log:       log,
		session:   session,
		selfUID:   selfUID,
		strategy:  strategy,
		roll:      rand.Float64(),
		startedAt: tr.Now(),
		timeout:   timeout,
	}
}

// metadata returns the election fields this node advertises so peers can
// compare keys without a dedicated message exchange.
func (e *election) metadata() map[string]string {
	return map[string]string{
		metaRoll:      strconv.FormatFloat(e.roll, 'g', 17, 64),
		metaStartedAt: strconv.FormatFloat(e.startedAt, 'g', 17, 64),
	}
}

// betterPeerFilter matches peers in the session that beat this node's
// election key. Ties lose on both sides, which stalls the session rather
// than splitting it; the confirmation pass cannot heal a session where
// nobody promoted, so callers pick keys with negligible collision odds.
func (e *election) betterPeerFilter() string {
	switch e.strategy {
	case StrategyFirstStarted:
		return predicate.And(
			predicate.FieldEquals(metaSession, e.session),
			predicate.FieldNotEquals(metaNodeUID, e.selfUID),
			predicate.FieldEquals("type", controlTypeTag),
			predicate.FieldLess(metaStartedAt, e.startedAt),
		)
	default:
		return predicate.And(
			predicate.FieldEquals(metaSession, e.session),
			predicate.FieldNotEquals(metaNodeUID, e.selfUID),
			predicate.FieldEquals("type", controlTypeTag),
			predicate.FieldLess(metaRoll, e.roll),
		)
	}
}

// coordinatorFilter matches a peer that already holds the coordinator
// role in this session.
func (e *election) coordinatorFilter() string {
	return predicate.And(
		predicate.FieldEquals(metaSession, e.session),
		predicate.FieldNotEquals(metaNodeUID, e.selfUID),
		predicate.FieldEquals("type", controlTypeTag),
		predicate.FieldEquals(metaNodeRole, RoleCoordinator.String()),
	)
}

// run performs the election. Discovery failures fail open toward the
// coordinator role: a node that cannot see the network must still come
// up, and the confirmation pass demotes it when a standing coordinator
// is already advertised.
func (e *election) run() electionResult {
	ads, err := e.tr.Discover(e.betterPeerFilter(), e.timeout, 1)
	if err != nil {
		e.log.Warn("election discovery failed, assuming coordinator",
			logging.Err(err), logging.Session(e.session))
	}
	if err == nil && len(ads) > 0 {
		return electionResult{outcome: outcomeParticipant}
	}

	// Nobody better is visible. Before promoting, check whether a
	// coordinator already stands: two nodes that started inside each
	// other's discovery window can both reach this point.
	confirmed, cerr := e.tr.Discover(e.coordinatorFilter(), e.timeout, 1)
	if cerr != nil {
		e.log.Warn("coordinator confirmation failed, promoting anyway",
			logging.Err(cerr), logging.Session(e.session))
		return electionResult{outcome: outcomeCoordinator}
	}
	if len(confirmed) > 0 {
		ad := confirmed[0].Clone()
		return electionResult{outcome: outcomeDemoted, coordinatorAd: &ad}
	}
	return electionResult{outcome: outcomeCoordinator}
}
