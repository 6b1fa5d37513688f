package session

import (
	"fmt"
	"net"

	"github.com/opd-ai/pcmlink/protocol"
	"github.com/opd-ai/pcmlink/ring"
)

// Params are the negotiated stream parameters from the local point of view:
// ChannelsIn is what this endpoint receives, ChannelsOut what it sends.
type Params struct {
	SampleRate  uint32
	Format      protocol.SampleFormat
	ChannelsIn  uint16
	ChannelsOut uint16
}

// Info identifies a connection to the collaborator.
type Info struct {
	ID     protocol.SessionID
	Addr   net.Addr
	Params Params
}

// StartDecision is the collaborator's answer to an I/O start request.
type StartDecision int

const (
	// StartAccepted grants I/O immediately.
	StartAccepted StartDecision = iota
	// StartDenied refuses I/O; the connection closes with CloseRejected.
	StartDenied
	// StartPending defers the answer. The collaborator completes it later
	// with CompleteStartIO, or the start times out.
	StartPending
)

func (d StartDecision) String() string {
	switch d {
	case StartAccepted:
		return "accepted"
	case StartDenied:
		return "denied"
	case StartPending:
		return "pending"
	default:
		return fmt.Sprintf("StartDecision(%d)", int(d))
	}
}

// CloseReason explains why a connection left the registry.
type CloseReason int

const (
	// CloseStopped follows a completed IOStop exchange.
	CloseStopped CloseReason = iota + 1
	// CloseTimedOut follows deadline expiry or an unanswered pending start.
	CloseTimedOut
	// CloseRejected follows a denied I/O start.
	CloseRejected
)

func (r CloseReason) String() string {
	switch r {
	case CloseStopped:
		return "stopped"
	case CloseTimedOut:
		return "timed out"
	case CloseRejected:
		return "rejected"
	default:
		return fmt.Sprintf("CloseReason(%d)", int(r))
	}
}

// Collaborator is the application side of a connection: an audio driver or a
// client of an audio server. Every method is called from the network
// goroutine with no registry lock held and must not block for long.
type Collaborator interface {
	// PollStartIO is called when the peer asks to start I/O.
	PollStartIO(info Info) StartDecision

	// PollStopIO is called on entry to the stopping state. The rings handed
	// to OnIOActive are already released when it runs.
	PollStopIO(info Info)

	// OnIOActive hands over the audio rings. The collaborator's audio thread
	// pops received samples from inbound and pushes samples to send into
	// outbound. Both rings report IsAbandoned once I/O stops.
	OnIOActive(info Info, inbound *ring.Consumer[float32], outbound *ring.Producer[float32])

	// OnConnectionClosed is called once when the connection is destroyed.
	OnConnectionClosed(info Info, reason CloseReason)
}

// Callbacks adapts plain functions to Collaborator. A nil StartIO accepts
// every start; other nil fields are ignored.
type Callbacks struct {
	StartIO  func(Info) StartDecision
	StopIO   func(Info)
	IOActive func(Info, *ring.Consumer[float32], *ring.Producer[float32])
	Closed   func(Info, CloseReason)
}

func (c Callbacks) PollStartIO(info Info) StartDecision {
	if c.StartIO == nil {
		return StartAccepted
	}
	return c.StartIO(info)
}

func (c Callbacks) PollStopIO(info Info) {
	if c.StopIO != nil {
		c.StopIO(info)
	}
}

func (c Callbacks) OnIOActive(info Info, inbound *ring.Consumer[float32], outbound *ring.Producer[float32]) {
	if c.IOActive != nil {
		c.IOActive(info, inbound, outbound)
	}
}

func (c Callbacks) OnConnectionClosed(info Info, reason CloseReason) {
	if c.Closed != nil {
		c.Closed(info, reason)
	}
}
