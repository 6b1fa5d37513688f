package client

import (
	"errors"
	"fmt"

	"github.com/opd-ai/pcmlink/protocol"
)

var (
	// ErrClosed is returned by operations on a client after Close.
	ErrClosed = errors.New("client closed")

	// ErrServerLost reports that the server stayed silent for longer than
	// the timeout.
	ErrServerLost = errors.New("server stopped responding")

	// ErrStoppedByPeer reports that the server ended I/O.
	ErrStoppedByPeer = errors.New("server stopped the session")

	// ErrInvalidState is returned when an operation does not fit the current
	// I/O state, such as StartIO while I/O is already active.
	ErrInvalidState = errors.New("operation not valid in current state")
)

// RejectedError is returned when the server refuses the connection or the
// I/O start.
type RejectedError struct {
	Reason protocol.RejectReason
}

func (e *RejectedError) Error() string {
	return fmt.Sprintf("rejected by server: %s", e.Reason)
}
