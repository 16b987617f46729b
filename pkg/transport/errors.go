package transport

import "errors"

var (
	// ErrClosed is returned by operations on a closed transport, outlet, or inlet
	ErrClosed = errors.New("transport: closed")
	// ErrBadFrame indicates a received payload that is not a valid frame
	ErrBadFrame = errors.New("transport: malformed frame")
	// ErrNoCorrection indicates no time correction estimate is available yet
	ErrNoCorrection = errors.New("transport: no time correction samples")
	// ErrNotFound indicates the advertisement is no longer visible
	ErrNotFound = errors.New("transport: advertisement not found")
)
