// Package coordination elects exactly one coordinator among the nodes of
// a named session and keeps every node's view of membership and stream
// lifecycle in lock step.
//
// Nodes advertise a control channel over the transport layer and race a
// one-shot election: whoever sees no strictly better peer takes the
// coordinator role, everyone else joins as a participant. The coordinator
// owns membership (admitting joins, evicting stale nodes by heartbeat
// timeout) and drives the stream lifecycle with broadcast commands:
// create, start, pause, resume, flush, stop, destroy. Every command is
// applied idempotently on each node, so redelivery is harmless.
//
// The usual entry point is NewController followed by Start; the
// application observes changes through Events and drives streams through
// the coordinator-only lifecycle methods.
package coordination
