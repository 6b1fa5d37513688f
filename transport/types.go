package transport

import (
	"net"
	"time"

	"github.com/opd-ai/pcmlink/protocol"
)

// Sender transmits protocol messages. Sends are fire-and-forget: a failure is
// logged and returned, never retried.
type Sender interface {
	// Send encodes msg and writes it to addr as one datagram.
	Send(msg protocol.Message, addr net.Addr) error
}

// Dispatcher consumes the output of the receive loop. Both methods are called
// from the loop goroutine only, so an implementation owns its state without
// locking against the loop.
type Dispatcher interface {
	// Dispatch handles one decoded message from addr received at now.
	Dispatch(addr net.Addr, msg protocol.Message, now time.Time)

	// Poll runs periodic work and returns when it next wants to be polled.
	// A zero time means no preference.
	Poll(now time.Time) time.Time
}
