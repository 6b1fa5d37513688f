package client

import (
	"fmt"
	"time"

	"github.com/opd-ai/pcmlink/protocol"
	"github.com/opd-ai/pcmlink/ring"
	"github.com/opd-ai/pcmlink/session"
	"github.com/opd-ai/pcmlink/timing"
)

// DefaultRetryInterval is how often an unanswered control message is resent.
const DefaultRetryInterval = 50 * time.Millisecond

// Options configure a client. Channel counts are from the client's point of
// view: ChannelsIn is what it receives from the server.
type Options struct {
	ListenAddr string
	DSCP       int

	SampleRate  uint32
	Format      protocol.SampleFormat
	ChannelsIn  uint16
	ChannelsOut uint16

	RingCapacity    int
	FramesPerPacket int

	Timeout           time.Duration
	HeartbeatInterval time.Duration
	RetryInterval     time.Duration

	// TimeProvider drives every timer. Nil means the wall clock.
	TimeProvider timing.TimeProvider
}

// DefaultOptions mirror session.DefaultConfig so a default client matches a
// default server.
func DefaultOptions() Options {
	sc := session.DefaultConfig()
	return Options{
		ListenAddr:        "0.0.0.0:0",
		SampleRate:        sc.SampleRate,
		Format:            sc.Format,
		ChannelsIn:        sc.ChannelsOut,
		ChannelsOut:       sc.ChannelsIn,
		RingCapacity:      sc.RingCapacity,
		FramesPerPacket:   sc.FramesPerPacket,
		Timeout:           sc.Timeout,
		HeartbeatInterval: sc.HeartbeatInterval,
		RetryInterval:     DefaultRetryInterval,
	}
}

// Validate reports the first unusable option.
func (o Options) Validate() error {
	switch {
	case !o.Format.Valid():
		return fmt.Errorf("unknown sample format %d", o.Format)
	case o.SampleRate == 0:
		return fmt.Errorf("sample rate must be > 0")
	case o.ChannelsIn == 0 || o.ChannelsOut == 0:
		return fmt.Errorf("channel counts must be > 0")
	case !ring.IsPowerOfTwo(o.RingCapacity):
		return fmt.Errorf("ring capacity %d is not a power of two", o.RingCapacity)
	case o.FramesPerPacket <= 0 || o.FramesPerPacket*int(o.ChannelsOut) > protocol.MaxSamplesPerFrame:
		return fmt.Errorf("%d frames per packet do not fit one datagram", o.FramesPerPacket)
	case o.Timeout <= 0 || o.HeartbeatInterval <= 0 || o.RetryInterval <= 0:
		return fmt.Errorf("timeout, heartbeat and retry intervals must be > 0")
	case o.HeartbeatInterval >= o.Timeout:
		return fmt.Errorf("heartbeat interval %v must be shorter than timeout %v", o.HeartbeatInterval, o.Timeout)
	case o.DSCP < 0 || o.DSCP > 63:
		return fmt.Errorf("dscp %d out of range", o.DSCP)
	}
	return nil
}

func (o Options) request() protocol.ConnectRequest {
	return protocol.ConnectRequest{
		ChannelsIn:  o.ChannelsIn,
		ChannelsOut: o.ChannelsOut,
		SampleRate:  o.SampleRate,
		Format:      o.Format,
	}
}

func (o Options) params() session.Params {
	return session.Params{
		SampleRate:  o.SampleRate,
		Format:      o.Format,
		ChannelsIn:  o.ChannelsIn,
		ChannelsOut: o.ChannelsOut,
	}
}
