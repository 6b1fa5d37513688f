// Package protocol defines the pcmlink message vocabulary and its binary wire
// codec.
//
// Every message travels in exactly one UDP datagram. The first byte is a tag
// that discriminates the message kind; the remaining fields are fixed-width
// big-endian integers, followed for audio frames by IEEE-754 32-bit samples.
//
// # Messages
//
// Negotiation happens with ConnectRequest, answered by ConnectAccept (which
// assigns a session id) or ConnectReject. I/O is then controlled with IOStart,
// IOStartAck, IOStop and IOStopAck. AudioFrame carries interleaved samples and
// Heartbeat keeps an otherwise idle session alive. All messages other than the
// three negotiation messages implement SessionMessage.
//
// # Decoding
//
// Decode never panics. A truncated buffer, an unknown tag, an unknown enum value
// or an inconsistent field yields a *DecodeError, which matches ErrMalformed:
//
//	msg, err := protocol.Decode(datagram)
//	if errors.Is(err, protocol.ErrMalformed) {
//	    // drop and continue
//	}
//
// decode(encode(m)) == m holds for every message m that passes Validate.
package protocol
