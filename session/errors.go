package session

import (
	"errors"
	"fmt"

	"github.com/opd-ai/pcmlink/protocol"
)

// Sentinel errors for registry operations.
var (
	// ErrUnknownSession indicates no live connection has the given id.
	ErrUnknownSession = errors.New("unknown session")

	// ErrInvalidTransition indicates a request that the connection's current
	// state cannot honour, such as completing a start that was never requested.
	ErrInvalidTransition = errors.New("invalid state transition")

	// ErrNotRunning indicates the network loop is not serving requests.
	ErrNotRunning = errors.New("session registry not running")

	// ErrRequestQueueFull indicates too many application requests are pending.
	ErrRequestQueueFull = errors.New("request queue full")
)

// NegotiationError is the outcome of a ConnectRequest that cannot be honoured.
// It is never thrown across the network: the registry converts it into a
// ConnectReject carrying Reason.
type NegotiationError struct {
	Reason protocol.RejectReason
	Detail string
}

func (e *NegotiationError) Error() string {
	if e.Detail == "" {
		return fmt.Sprintf("negotiation failed: %s", e.Reason)
	}
	return fmt.Sprintf("negotiation failed: %s (%s)", e.Reason, e.Detail)
}

func rejectf(reason protocol.RejectReason, format string, args ...any) *NegotiationError {
	return &NegotiationError{Reason: reason, Detail: fmt.Sprintf(format, args...)}
}
