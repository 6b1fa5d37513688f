package session

import (
	"github.com/opd-ai/pcmlink/protocol"
)

// Negotiate checks a ConnectRequest against the local configuration and
// returns the agreed parameters. Nothing is coerced: the request must match
// exactly. Checks run in a fixed order (format, rate, channels) so a request
// that is wrong in several ways always gets the same reason.
//
// The request's channel counts are from the requester's point of view, so its
// ChannelsOut must equal the local ChannelsIn and vice versa.
func (c Config) Negotiate(req protocol.ConnectRequest) (Params, error) {
	if req.Format != c.Format {
		return Params{}, rejectf(protocol.RejectFormatUnsupported,
			"requested %s, serving %s", req.Format, c.Format)
	}
	if req.SampleRate != c.SampleRate {
		return Params{}, rejectf(protocol.RejectRateMismatch,
			"requested %d Hz, serving %d Hz", req.SampleRate, c.SampleRate)
	}
	if req.ChannelsOut != c.ChannelsIn || req.ChannelsIn != c.ChannelsOut {
		return Params{}, rejectf(protocol.RejectChannelMismatch,
			"requested %d in/%d out, serving %d in/%d out",
			req.ChannelsIn, req.ChannelsOut, c.ChannelsOut, c.ChannelsIn)
	}

	return Params{
		SampleRate:  c.SampleRate,
		Format:      c.Format,
		ChannelsIn:  c.ChannelsIn,
		ChannelsOut: c.ChannelsOut,
	}, nil
}
