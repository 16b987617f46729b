package coordination

import (
	"errors"
	"fmt"
	"strings"
)

// Configuration errors
var (
	ErrInvalidSession      = errors.New("session name cannot be empty")
	ErrInvalidNodeID       = errors.New("node ID cannot be empty")
	ErrIntervalTooSmall    = errors.New("interval must be positive")
	ErrNodeTimeoutTooSmall = errors.New("node timeout must exceed the heartbeat interval")
)

// State errors
var (
	ErrInvalidTransition = errors.New("illegal phase transition")
	ErrNodeExists        = errors.New("node already known")
	ErrDisposed          = errors.New("controller disposed")
)

// Protocol errors
var (
	// ErrJoinFailed means no coordinator advertisement was found within
	// the join timeout. Fatal to session startup.
	ErrJoinFailed = errors.New("no coordinator found within join timeout")
	// ErrStreamUnknown means a lifecycle operation referenced a stream
	// this node has no record of
	ErrStreamUnknown = errors.New("unknown stream")
	// ErrStreamExists means CreateStream reused an active stream name
	ErrStreamExists = errors.New("stream already exists")
	// ErrMessageParse means an inbound payload was malformed; it is
	// logged and dropped without affecting other messages
	ErrMessageParse = errors.New("malformed coordination message")
)

// RoleError is raised synchronously when a participant calls a
// coordinator-only operation. It is a programming error, not retried.
type RoleError struct {
	Op string
}

func (e *RoleError) Error() string {
	return fmt.Sprintf("operation %s requires the coordinator role", e.Op)
}

// ReadinessError is raised when not all expected producers signaled ready
// before the configured timeout. It names the missing node set.
type ReadinessError struct {
	Stream  string
	Missing []string
}

func (e *ReadinessError) Error() string {
	return fmt.Sprintf("stream %s: readiness timeout, missing nodes [%s]",
		e.Stream, strings.Join(e.Missing, ", "))
}
