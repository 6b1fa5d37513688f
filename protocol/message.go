package protocol

import "fmt"

// Kind is the leading tag byte of every encoded message.
type Kind uint8

// Message kinds in wire order.
const (
	KindConnectRequest Kind = iota + 1
	KindConnectAccept
	KindConnectReject
	KindIOStart
	KindIOStartAck
	KindIOStop
	KindIOStopAck
	KindAudioFrame
	KindHeartbeat
)

func (k Kind) String() string {
	switch k {
	case KindConnectRequest:
		return "ConnectRequest"
	case KindConnectAccept:
		return "ConnectAccept"
	case KindConnectReject:
		return "ConnectReject"
	case KindIOStart:
		return "IOStart"
	case KindIOStartAck:
		return "IOStartAck"
	case KindIOStop:
		return "IOStop"
	case KindIOStopAck:
		return "IOStopAck"
	case KindAudioFrame:
		return "AudioFrame"
	case KindHeartbeat:
		return "Heartbeat"
	default:
		return fmt.Sprintf("Kind(%d)", uint8(k))
	}
}

// SessionID identifies a connection for the lifetime of the endpoint that
// assigned it. Zero is never assigned.
type SessionID uint64

// Message is one of the pcmlink protocol messages. The set is closed: only the
// types in this package implement it.
type Message interface {
	Kind() Kind
	Validate() error
	message()
}

// SessionMessage is a Message addressed to an existing session.
type SessionMessage interface {
	Message
	Session() SessionID
}

// ConnectRequest opens negotiation. Channel counts are from the requester's
// point of view: ChannelsIn is what it wants to receive, ChannelsOut is what it
// will send.
//
// Wire format:
//
//	[TAG(1)][CHANNELS_IN(2)][CHANNELS_OUT(2)][SAMPLE_RATE(4)][FORMAT(1)]
//
// Total size: 10 bytes
type ConnectRequest struct {
	ChannelsIn  uint16
	ChannelsOut uint16
	SampleRate  uint32
	Format      SampleFormat
}

// ConnectAccept assigns a session id to the requester.
//
// Wire format:
//
//	[TAG(1)][SESSION_ID(8)]
//
// Total size: 9 bytes
type ConnectAccept struct {
	SessionID SessionID
}

// ConnectReject refuses a ConnectRequest, or an IOStart the application denied.
//
// Wire format:
//
//	[TAG(1)][REASON(1)]
//
// Total size: 2 bytes
type ConnectReject struct {
	Reason RejectReason
}

// IOStart asks the remote endpoint to begin streaming. IOStartAck, IOStop,
// IOStopAck and Heartbeat share its 9-byte layout:
//
//	[TAG(1)][SESSION_ID(8)]
type IOStart struct {
	SessionID SessionID
}

// IOStartAck confirms that I/O is active.
type IOStartAck struct {
	SessionID SessionID
}

// IOStop asks the remote endpoint to stop streaming.
type IOStop struct {
	SessionID SessionID
}

// IOStopAck confirms that I/O has stopped.
type IOStopAck struct {
	SessionID SessionID
}

// Heartbeat keeps a session alive when no audio is flowing.
type Heartbeat struct {
	SessionID SessionID
}

// AudioFrame carries interleaved 32-bit float samples.
//
// Wire format:
//
//	[TAG(1)][SESSION_ID(8)][SEQUENCE(8)][CHANNELS(2)][COUNT(2)][SAMPLES(4*COUNT)]
//
// Header size: 21 bytes. COUNT is the number of samples, which must be a
// multiple of CHANNELS. A nil and an empty Samples are the same frame on the
// wire; an empty frame always decodes with nil Samples.
type AudioFrame struct {
	SessionID SessionID
	Sequence  uint64
	Channels  uint16
	Samples   []float32
}

// Frames returns the number of sample frames (samples per channel) carried.
func (f AudioFrame) Frames() int {
	if f.Channels == 0 {
		return 0
	}
	return len(f.Samples) / int(f.Channels)
}

func (ConnectRequest) Kind() Kind { return KindConnectRequest }
func (ConnectAccept) Kind() Kind  { return KindConnectAccept }
func (ConnectReject) Kind() Kind  { return KindConnectReject }
func (IOStart) Kind() Kind        { return KindIOStart }
func (IOStartAck) Kind() Kind     { return KindIOStartAck }
func (IOStop) Kind() Kind         { return KindIOStop }
func (IOStopAck) Kind() Kind      { return KindIOStopAck }
func (AudioFrame) Kind() Kind     { return KindAudioFrame }
func (Heartbeat) Kind() Kind      { return KindHeartbeat }

func (ConnectRequest) message() {}
func (ConnectAccept) message()  {}
func (ConnectReject) message()  {}
func (IOStart) message()        {}
func (IOStartAck) message()     {}
func (IOStop) message()         {}
func (IOStopAck) message()      {}
func (AudioFrame) message()     {}
func (Heartbeat) message()      {}

func (m IOStart) Session() SessionID    { return m.SessionID }
func (m IOStartAck) Session() SessionID { return m.SessionID }
func (m IOStop) Session() SessionID     { return m.SessionID }
func (m IOStopAck) Session() SessionID  { return m.SessionID }
func (m AudioFrame) Session() SessionID { return m.SessionID }
func (m Heartbeat) Session() SessionID  { return m.SessionID }

// Validate checks that channel counts are non-zero, the rate is non-zero and
// the format is a known wire value.
func (m ConnectRequest) Validate() error {
	switch {
	case m.ChannelsIn == 0 || m.ChannelsOut == 0:
		return fmt.Errorf("%w: channel counts must be > 0", ErrInvalidMessage)
	case m.SampleRate == 0:
		return fmt.Errorf("%w: sample rate must be > 0", ErrInvalidMessage)
	case !m.Format.Valid():
		return fmt.Errorf("%w: unknown sample format %d", ErrInvalidMessage, m.Format)
	}
	return nil
}

func (m ConnectAccept) Validate() error { return validSession(m.SessionID) }
func (m IOStart) Validate() error       { return validSession(m.SessionID) }
func (m IOStartAck) Validate() error    { return validSession(m.SessionID) }
func (m IOStop) Validate() error        { return validSession(m.SessionID) }
func (m IOStopAck) Validate() error     { return validSession(m.SessionID) }
func (m Heartbeat) Validate() error     { return validSession(m.SessionID) }

// Validate checks the reason is a known wire value.
func (m ConnectReject) Validate() error {
	if !m.Reason.Valid() {
		return fmt.Errorf("%w: unknown reject reason %d", ErrInvalidMessage, m.Reason)
	}
	return nil
}

// Validate checks the frame is channel-aligned and fits one datagram.
func (m AudioFrame) Validate() error {
	if err := validSession(m.SessionID); err != nil {
		return err
	}
	if m.Channels == 0 {
		return fmt.Errorf("%w: audio frame channel count must be > 0", ErrInvalidMessage)
	}
	if len(m.Samples)%int(m.Channels) != 0 {
		return fmt.Errorf("%w: %d samples do not divide into %d channels",
			ErrInvalidMessage, len(m.Samples), m.Channels)
	}
	if len(m.Samples) > MaxSamplesPerFrame {
		return fmt.Errorf("%w: %d samples, limit %d", ErrFrameTooLarge, len(m.Samples), MaxSamplesPerFrame)
	}
	return nil
}

func validSession(id SessionID) error {
	if id == 0 {
		return fmt.Errorf("%w: session id must be non-zero", ErrInvalidMessage)
	}
	return nil
}
