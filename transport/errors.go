package transport

import "errors"

// Sentinel errors for transport operations.
var (
	// ErrClosed indicates the transport has been shut down.
	ErrClosed = errors.New("transport closed")

	// ErrInvalidDSCP indicates a DSCP value outside 0-63.
	ErrInvalidDSCP = errors.New("dscp value out of range")

	// ErrNilDispatcher indicates Serve was called without a dispatcher.
	ErrNilDispatcher = errors.New("nil dispatcher")
)
