package session

import (
	"fmt"
	"time"

	"github.com/opd-ai/pcmlink/protocol"
	"github.com/opd-ai/pcmlink/ring"
)

// Defaults shared by the registry and the client.
const (
	DefaultTimeout           = 600 * time.Millisecond
	DefaultTickInterval      = 10 * time.Millisecond
	DefaultHeartbeatInterval = 100 * time.Millisecond
	DefaultRingCapacity      = 1 << 14
	DefaultFramesPerPacket   = 32
	DefaultMaxSessions       = 16
	DefaultSampleRate        = 48000
	DefaultChannels          = 2
)

// Config is what a registry serves and how it schedules.
type Config struct {
	SampleRate  uint32
	Format      protocol.SampleFormat
	ChannelsIn  uint16
	ChannelsOut uint16

	// RingCapacity is the size of each audio ring in samples.
	RingCapacity    int
	FramesPerPacket int
	MaxSessions     int

	// Timeout is how long a connection may stay silent.
	Timeout time.Duration
	// StartTimeout bounds a deferred I/O start. Zero means Timeout.
	StartTimeout      time.Duration
	TickInterval      time.Duration
	HeartbeatInterval time.Duration
}

// DefaultConfig returns a stereo 48 kHz f32 configuration.
func DefaultConfig() Config {
	return Config{
		SampleRate:        DefaultSampleRate,
		Format:            protocol.FormatF32,
		ChannelsIn:        DefaultChannels,
		ChannelsOut:       DefaultChannels,
		RingCapacity:      DefaultRingCapacity,
		FramesPerPacket:   DefaultFramesPerPacket,
		MaxSessions:       DefaultMaxSessions,
		Timeout:           DefaultTimeout,
		TickInterval:      DefaultTickInterval,
		HeartbeatInterval: DefaultHeartbeatInterval,
	}
}

// Validate reports the first unusable setting.
func (c Config) Validate() error {
	switch {
	case c.Format != protocol.FormatF32:
		return fmt.Errorf("sample format %s not supported, only f32", c.Format)
	case c.SampleRate == 0:
		return fmt.Errorf("sample rate must be > 0")
	case c.ChannelsIn == 0 || c.ChannelsOut == 0:
		return fmt.Errorf("channel counts must be > 0")
	case !ring.IsPowerOfTwo(c.RingCapacity):
		return fmt.Errorf("ring capacity %d is not a power of two", c.RingCapacity)
	case c.FramesPerPacket <= 0:
		return fmt.Errorf("frames per packet must be > 0")
	case c.FramesPerPacket*int(c.ChannelsOut) > protocol.MaxSamplesPerFrame:
		return fmt.Errorf("%d frames of %d channels exceed one datagram (%d samples)",
			c.FramesPerPacket, c.ChannelsOut, protocol.MaxSamplesPerFrame)
	case c.RingCapacity < 2*c.FramesPerPacket*int(max(c.ChannelsIn, c.ChannelsOut)):
		return fmt.Errorf("ring capacity %d too small for two packets", c.RingCapacity)
	case c.MaxSessions <= 0:
		return fmt.Errorf("max sessions must be > 0")
	case c.TickInterval <= 0:
		return fmt.Errorf("tick interval must be > 0")
	case c.Timeout <= c.TickInterval:
		return fmt.Errorf("timeout %v must exceed tick interval %v", c.Timeout, c.TickInterval)
	case c.StartTimeout < 0:
		return fmt.Errorf("start timeout must not be negative")
	case c.HeartbeatInterval <= 0:
		return fmt.Errorf("heartbeat interval must be > 0")
	}
	return nil
}

func (c Config) startTimeout() time.Duration {
	if c.StartTimeout > 0 {
		return c.StartTimeout
	}
	return c.Timeout
}
