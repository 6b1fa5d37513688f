package session

import "fmt"

// State is the externally visible I/O lifecycle state of a connection.
type State int

const (
	// StateIOInactive is terminal: a connection reaching it is destroyed.
	StateIOInactive State = iota
	StateIOStartPending
	StateIOActive
	StateIOStopPending
)

func (s State) String() string {
	switch s {
	case StateIOInactive:
		return "IOInactive"
	case StateIOStartPending:
		return "IOStartPending"
	case StateIOActive:
		return "IOActive"
	case StateIOStopPending:
		return "IOStopPending"
	default:
		return fmt.Sprintf("State(%d)", int(s))
	}
}

// ioState is the closed set of per-state variants. Each variant carries only
// the data that exists in that state; in particular the audio stream lives in
// active and nowhere else.
type ioState interface {
	state() State
}

// startPending: negotiated, waiting for the peer's IOStart and then for the
// collaborator's decision.
type startPending struct {
	requested bool
}

// active: audio flows through stream.
type active struct {
	stream *Stream
}

// stopPending: rings released, waiting for the stop exchange to finish.
type stopPending struct {
	byPeer bool
}

// inactive: terminal, carries why the connection ended.
type inactive struct {
	reason CloseReason
}

func (startPending) state() State { return StateIOStartPending }
func (active) state() State       { return StateIOActive }
func (stopPending) state() State  { return StateIOStopPending }
func (inactive) state() State     { return StateIOInactive }

// event drives a transition. Events come from received messages, from the
// collaborator, from the application or from the deadline scheduler.
type event int

const (
	evNone event = iota
	evIOStart
	evStartAccepted
	evStartDenied
	evStartPending
	evIOStop
	evStopRequest
	evIOStopAck
	evStopAckSent
	evAudio
	evHeartbeat
	evExpired
	evStartTimeout

	numEvents
)

var eventNames = [...]string{
	evNone:          "none",
	evIOStart:       "IOStart",
	evStartAccepted: "StartAccepted",
	evStartDenied:   "StartDenied",
	evStartPending:  "StartPending",
	evIOStop:        "IOStop",
	evStopRequest:   "StopRequest",
	evIOStopAck:     "IOStopAck",
	evStopAckSent:   "StopAckSent",
	evAudio:         "Audio",
	evHeartbeat:     "Heartbeat",
	evExpired:       "Expired",
	evStartTimeout:  "StartTimeout",
}

func (e event) String() string {
	if e >= 0 && int(e) < len(eventNames) {
		return eventNames[e]
	}
	return fmt.Sprintf("event(%d)", int(e))
}

// effect is a bit set of side effects the registry performs after a
// transition, in the order the bits are declared.
type effect uint16

const (
	fxRelease      effect = 1 << iota // close the rings of the state being left
	fxAllocate                        // create the rings of the active state
	fxArmStart                        // start the pending-start timer
	fxSendStartAck                    // send IOStartAck
	fxSendDeny                        // send ConnectReject{Denied}
	fxSendStop                        // send IOStop
	fxSendStopAck                     // send IOStopAck
	fxNotifyActive                    // OnIOActive
	fxPollStart                       // PollStartIO, its decision becomes the next event
	fxPollStop                        // PollStopIO
	fxPushAudio                       // push the received frame into the inbound ring
	fxClose                           // remove from the registry, OnConnectionClosed
)

func (f effect) has(bit effect) bool { return f&bit != 0 }

// transition is the complete transition table. It is pure: for every state and
// every event it returns the next state, the effects to perform and an optional
// follow-up event. Pairs not listed return the state unchanged with no effect.
func transition(s ioState, ev event) (ioState, effect, event) {
	switch s := s.(type) {
	case startPending:
		switch ev {
		case evIOStart:
			if !s.requested {
				return startPending{requested: true}, fxPollStart, evNone
			}
		case evStartAccepted:
			if s.requested {
				return active{}, fxAllocate | fxSendStartAck | fxNotifyActive, evNone
			}
		case evStartDenied:
			if s.requested {
				return inactive{reason: CloseRejected}, fxSendDeny | fxClose, evNone
			}
		case evStartPending:
			if s.requested {
				return s, fxArmStart, evNone
			}
		case evStartTimeout:
			if s.requested {
				return inactive{reason: CloseTimedOut}, fxSendDeny | fxClose, evNone
			}
		case evIOStop:
			return inactive{reason: CloseStopped}, fxSendStopAck | fxClose, evNone
		case evStopRequest:
			return inactive{reason: CloseStopped}, fxSendStop | fxClose, evNone
		case evExpired:
			return inactive{reason: CloseTimedOut}, fxClose, evNone
		}
		return s, 0, evNone

	case active:
		switch ev {
		case evIOStart:
			return s, fxSendStartAck, evNone
		case evAudio:
			return s, fxPushAudio, evNone
		case evIOStop:
			return stopPending{byPeer: true}, fxRelease | fxSendStopAck | fxPollStop, evStopAckSent
		case evStopRequest:
			return stopPending{}, fxRelease | fxSendStop | fxPollStop, evNone
		case evExpired:
			return inactive{reason: CloseTimedOut}, fxRelease | fxClose, evNone
		}
		return s, 0, evNone

	case stopPending:
		switch ev {
		case evIOStopAck, evStopAckSent:
			return inactive{reason: CloseStopped}, fxClose, evNone
		case evIOStop:
			return inactive{reason: CloseStopped}, fxSendStopAck | fxClose, evNone
		case evStopRequest:
			if !s.byPeer {
				return s, fxSendStop, evNone
			}
		case evExpired:
			return inactive{reason: CloseTimedOut}, fxClose, evNone
		}
		return s, 0, evNone

	case inactive:
		return s, 0, evNone
	}

	panic(fmt.Sprintf("session: unhandled state %T", s))
}
