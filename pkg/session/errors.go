package session

import "errors"

var (
	// ErrNotSender means Send was called on a stream this node does not
	// produce for under the stream's participation mode
	ErrNotSender = errors.New("node is not a sender for this stream")
	// ErrNotReceiver means Receive was called on a stream this node does
	// not consume under the stream's participation mode
	ErrNotReceiver = errors.New("node is not a receiver for this stream")
	// ErrStreamNotRunning means Send was called before the stream
	// started or while it is paused or stopped
	ErrStreamNotRunning = errors.New("stream is not running")
	// ErrSessionClosed means the session was closed
	ErrSessionClosed = errors.New("session closed")
)
