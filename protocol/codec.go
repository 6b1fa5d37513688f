package protocol

import (
	"encoding/binary"
	"fmt"
	"math"

	"github.com/opd-ai/pcmlink/limits"
)

// Encoded sizes of the fixed-layout messages.
const (
	connectRequestSize = 10
	sessionOnlySize    = 9
	connectRejectSize  = 2

	// AudioHeaderSize is the size of an AudioFrame before its samples.
	AudioHeaderSize = 21
)

// MaxDatagramSize is the largest datagram Encode produces.
const MaxDatagramSize = limits.MaxDatagramSize

// MaxSamplesPerFrame is the largest number of samples one AudioFrame can carry.
var MaxSamplesPerFrame = limits.MaxSamples(AudioHeaderSize)

// EncodedSize returns the number of bytes Encode produces for m.
func EncodedSize(m Message) int {
	switch m := m.(type) {
	case ConnectRequest:
		return connectRequestSize
	case ConnectReject:
		return connectRejectSize
	case AudioFrame:
		return AudioHeaderSize + limits.SampleSize*len(m.Samples)
	default:
		return sessionOnlySize
	}
}

// Encode validates m and returns its wire representation.
func Encode(m Message) ([]byte, error) {
	if m == nil {
		return nil, fmt.Errorf("%w: nil message", ErrInvalidMessage)
	}
	return AppendEncode(make([]byte, 0, EncodedSize(m)), m)
}

// AppendEncode validates m and appends its wire representation to dst. The
// network loop reuses one buffer per send through this function.
func AppendEncode(dst []byte, m Message) ([]byte, error) {
	if m == nil {
		return dst, fmt.Errorf("%w: nil message", ErrInvalidMessage)
	}
	if err := m.Validate(); err != nil {
		return dst, err
	}

	dst = append(dst, byte(m.Kind()))
	switch m := m.(type) {
	case ConnectRequest:
		dst = binary.BigEndian.AppendUint16(dst, m.ChannelsIn)
		dst = binary.BigEndian.AppendUint16(dst, m.ChannelsOut)
		dst = binary.BigEndian.AppendUint32(dst, m.SampleRate)
		dst = append(dst, byte(m.Format))
	case ConnectReject:
		dst = append(dst, byte(m.Reason))
	case AudioFrame:
		dst = binary.BigEndian.AppendUint64(dst, uint64(m.SessionID))
		dst = binary.BigEndian.AppendUint64(dst, m.Sequence)
		dst = binary.BigEndian.AppendUint16(dst, m.Channels)
		dst = binary.BigEndian.AppendUint16(dst, uint16(len(m.Samples)))
		for _, s := range m.Samples {
			dst = binary.BigEndian.AppendUint32(dst, math.Float32bits(s))
		}
	case SessionMessage:
		dst = binary.BigEndian.AppendUint64(dst, uint64(m.Session()))
	case ConnectAccept:
		dst = binary.BigEndian.AppendUint64(dst, uint64(m.SessionID))
	}
	return dst, nil
}

// Decode parses one datagram. The returned message is a value type; for
// AudioFrame the samples are copied out of data, so data may be reused.
func Decode(data []byte) (Message, error) {
	if len(data) == 0 {
		return nil, malformed(data, "empty datagram")
	}

	kind := Kind(data[0])
	body := data[1:]

	switch kind {
	case KindConnectRequest:
		if len(data) != connectRequestSize {
			return nil, malformed(data, "bad ConnectRequest length")
		}
		m := ConnectRequest{
			ChannelsIn:  binary.BigEndian.Uint16(body[0:2]),
			ChannelsOut: binary.BigEndian.Uint16(body[2:4]),
			SampleRate:  binary.BigEndian.Uint32(body[4:8]),
			Format:      SampleFormat(body[8]),
		}
		if err := m.Validate(); err != nil {
			return nil, malformed(data, err.Error())
		}
		return m, nil

	case KindConnectReject:
		if len(data) != connectRejectSize {
			return nil, malformed(data, "bad ConnectReject length")
		}
		m := ConnectReject{Reason: RejectReason(body[0])}
		if !m.Reason.Valid() {
			return nil, malformed(data, "unknown reject reason")
		}
		return m, nil

	case KindConnectAccept, KindIOStart, KindIOStartAck, KindIOStop, KindIOStopAck, KindHeartbeat:
		if len(data) != sessionOnlySize {
			return nil, malformed(data, "bad "+kind.String()+" length")
		}
		id := SessionID(binary.BigEndian.Uint64(body))
		if id == 0 {
			return nil, malformed(data, "zero session id")
		}
		return sessionMessage(kind, id), nil

	case KindAudioFrame:
		return decodeAudio(data)

	default:
		return nil, malformed(data, "unknown tag")
	}
}

func sessionMessage(kind Kind, id SessionID) Message {
	switch kind {
	case KindConnectAccept:
		return ConnectAccept{SessionID: id}
	case KindIOStart:
		return IOStart{SessionID: id}
	case KindIOStartAck:
		return IOStartAck{SessionID: id}
	case KindIOStop:
		return IOStop{SessionID: id}
	case KindIOStopAck:
		return IOStopAck{SessionID: id}
	default:
		return Heartbeat{SessionID: id}
	}
}

func decodeAudio(data []byte) (Message, error) {
	if len(data) < AudioHeaderSize {
		return nil, malformed(data, "truncated AudioFrame header")
	}

	m := AudioFrame{
		SessionID: SessionID(binary.BigEndian.Uint64(data[1:9])),
		Sequence:  binary.BigEndian.Uint64(data[9:17]),
		Channels:  binary.BigEndian.Uint16(data[17:19]),
	}
	count := int(binary.BigEndian.Uint16(data[19:21]))

	switch {
	case m.SessionID == 0:
		return nil, malformed(data, "zero session id")
	case m.Channels == 0:
		return nil, malformed(data, "zero channel count")
	case count%int(m.Channels) != 0:
		return nil, malformed(data, "sample count not a multiple of channels")
	case len(data) != AudioHeaderSize+limits.SampleSize*count:
		return nil, malformed(data, "sample payload length mismatch")
	}

	// empty frames decode to nil Samples
	if count > 0 {
		m.Samples = make([]float32, count)
		payload := data[AudioHeaderSize:]
		for i := range m.Samples {
			m.Samples[i] = math.Float32frombits(binary.BigEndian.Uint32(payload[i*4:]))
		}
	}
	return m, nil
}

// SplitSamples cuts interleaved samples into channel-aligned runs that each fit
// one AudioFrame. The returned slices alias samples. A trailing partial frame
// (fewer than channels samples) is dropped.
func SplitSamples(samples []float32, channels uint16) [][]float32 {
	if channels == 0 {
		return nil
	}
	ch := int(channels)
	per := (MaxSamplesPerFrame / ch) * ch
	if per == 0 {
		return nil
	}

	usable := len(samples) - len(samples)%ch
	chunks := make([][]float32, 0, (usable+per-1)/per)
	for start := 0; start < usable; start += per {
		end := min(start+per, usable)
		chunks = append(chunks, samples[start:end])
	}
	return chunks
}
