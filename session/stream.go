package session

import (
	"fmt"
	"sync/atomic"

	"github.com/opd-ai/pcmlink/protocol"
	"github.com/opd-ai/pcmlink/ring"
)

// StreamStats counts audio movement for one direction pair.
type StreamStats struct {
	FramesReceived  uint64 // AudioFrame messages with the right channel count
	FramesSent      uint64 // AudioFrame messages sent
	Gaps            uint64 // sequence jumps forward
	ZeroFilled      uint64 // samples of silence inserted for gaps
	Late            uint64 // frames behind the expected sequence, dropped
	Overruns        uint64 // received samples dropped on a full inbound ring
	ChannelMismatch uint64 // frames with the wrong channel count
}

type streamCounters struct {
	framesReceived  atomic.Uint64
	framesSent      atomic.Uint64
	gaps            atomic.Uint64
	zeroFilled      atomic.Uint64
	late            atomic.Uint64
	overruns        atomic.Uint64
	channelMismatch atomic.Uint64
}

// Stream owns the two rings of an active connection and moves audio between
// them and the network. The network side (Receive, Drain) runs on the network
// goroutine; the collaborator side (Inbound, Outbound) belongs to the audio
// thread.
type Stream struct {
	channelsIn  int
	channelsOut int
	packetSize  int // samples per outgoing frame

	inTx  *ring.Producer[float32]
	inRx  *ring.Consumer[float32]
	outTx *ring.Producer[float32]
	outRx *ring.Consumer[float32]

	expectedSeq uint64
	started     bool
	txSeq       uint64
	scratch     []float32

	stats streamCounters
}

// NewStream allocates both rings. capacity is the per-ring size in samples and
// must be a power of two. framesPerPacket sample frames go into each outgoing
// AudioFrame.
func NewStream(capacity int, params Params, framesPerPacket int) (*Stream, error) {
	if params.ChannelsIn == 0 || params.ChannelsOut == 0 {
		return nil, fmt.Errorf("stream needs non-zero channel counts")
	}
	packetSize := framesPerPacket * int(params.ChannelsOut)
	if framesPerPacket <= 0 || packetSize > protocol.MaxSamplesPerFrame {
		return nil, fmt.Errorf("%w: %d frames of %d channels", protocol.ErrFrameTooLarge,
			framesPerPacket, params.ChannelsOut)
	}

	inTx, inRx, err := ring.New[float32](capacity)
	if err != nil {
		return nil, err
	}
	outTx, outRx, err := ring.New[float32](capacity)
	if err != nil {
		return nil, err
	}

	return &Stream{
		channelsIn:  int(params.ChannelsIn),
		channelsOut: int(params.ChannelsOut),
		packetSize:  packetSize,
		inTx:        inTx,
		inRx:        inRx,
		outTx:       outTx,
		outRx:       outRx,
		scratch:     make([]float32, packetSize),
	}, nil
}

// Inbound returns the consumer half of the received-audio ring.
func (s *Stream) Inbound() *ring.Consumer[float32] { return s.inRx }

// Outbound returns the producer half of the to-send ring.
func (s *Stream) Outbound() *ring.Producer[float32] { return s.outTx }

// Receive pushes a received frame into the inbound ring, which always holds a
// contiguous run of sequence numbers. A forward jump is filled with zero
// samples, bounded by free space. Frames behind the expected sequence, late
// or duplicated, are counted and dropped. When the ring is full the newest
// samples are dropped, since only the consumer may discard the oldest.
func (s *Stream) Receive(frame protocol.AudioFrame) {
	if int(frame.Channels) != s.channelsIn {
		s.stats.channelMismatch.Add(1)
		return
	}
	s.stats.framesReceived.Add(1)

	switch {
	case !s.started:
		s.started = true
	case frame.Sequence > s.expectedSeq:
		s.fillGap(frame.Sequence-s.expectedSeq, len(frame.Samples))
	case frame.Sequence < s.expectedSeq:
		// already played or zero-filled
		s.stats.late.Add(1)
		return
	}
	s.expectedSeq = frame.Sequence + 1

	if n := s.inTx.PushSlice(frame.Samples); n < len(frame.Samples) {
		s.stats.overruns.Add(uint64(len(frame.Samples) - n))
	}
}

func (s *Stream) fillGap(missing uint64, frameSamples int) {
	s.stats.gaps.Add(1)

	// keep room for the frame that revealed the gap
	room := s.inTx.Slots() - frameSamples
	if room <= 0 || frameSamples == 0 {
		return
	}
	want := room
	if missing <= uint64(room/frameSamples) {
		want = int(missing) * frameSamples
	}

	n := s.inTx.Fill(0, want)
	s.stats.zeroFilled.Add(uint64(n))
}

// Drain sends every full packet waiting in the outbound ring through send and
// returns how many were sent. Partial packets stay queued.
func (s *Stream) Drain(id protocol.SessionID, send func(protocol.AudioFrame) error) int {
	sent := 0
	for s.outRx.Slots() >= s.packetSize {
		if s.outRx.PopSlice(s.scratch) != s.packetSize {
			break
		}

		frame := protocol.AudioFrame{
			SessionID: id,
			Sequence:  s.txSeq,
			Channels:  uint16(s.channelsOut),
			Samples:   s.scratch,
		}
		s.txSeq++
		if err := send(frame); err != nil {
			continue
		}
		s.stats.framesSent.Add(1)
		sent++
	}
	return sent
}

// Close releases both rings. The audio thread observes IsAbandoned on its
// halves and must stop using them.
func (s *Stream) Close() {
	s.inTx.Close()
	s.outRx.Close()
}

// Stats returns a snapshot of the stream counters. Safe from any goroutine.
func (s *Stream) Stats() StreamStats {
	return StreamStats{
		FramesReceived:  s.stats.framesReceived.Load(),
		FramesSent:      s.stats.framesSent.Load(),
		Gaps:            s.stats.gaps.Load(),
		ZeroFilled:      s.stats.zeroFilled.Load(),
		Late:            s.stats.late.Load(),
		Overruns:        s.stats.overruns.Load(),
		ChannelMismatch: s.stats.channelMismatch.Load(),
	}
}
