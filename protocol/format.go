package protocol

import (
	"fmt"
	"strings"
)

// SampleFormat identifies the encoding of one PCM sample. The full set is part
// of the wire vocabulary so a peer can announce what it has; pcmlink only ever
// streams F32.
type SampleFormat uint8

// Sample formats in wire order.
const (
	FormatU8 SampleFormat = iota + 1
	FormatI16
	FormatI24
	FormatI32
	FormatF32
	FormatF64
)

var formatNames = map[SampleFormat]string{
	FormatU8:  "u8",
	FormatI16: "i16",
	FormatI24: "i24",
	FormatI32: "i32",
	FormatF32: "f32",
	FormatF64: "f64",
}

// Valid reports whether f is a known wire value.
func (f SampleFormat) Valid() bool {
	_, ok := formatNames[f]
	return ok
}

// SampleSize returns the size of one sample in bytes, 0 for unknown formats.
func (f SampleFormat) SampleSize() int {
	switch f {
	case FormatU8:
		return 1
	case FormatI16:
		return 2
	case FormatI24:
		return 3
	case FormatI32, FormatF32:
		return 4
	case FormatF64:
		return 8
	default:
		return 0
	}
}

// String returns the short lower-case name of the format.
func (f SampleFormat) String() string {
	if name, ok := formatNames[f]; ok {
		return name
	}
	return fmt.Sprintf("format(%d)", uint8(f))
}

// ParseSampleFormat converts a name such as "f32" into a SampleFormat.
func ParseSampleFormat(name string) (SampleFormat, error) {
	name = strings.ToLower(strings.TrimSpace(name))
	for f, n := range formatNames {
		if n == name {
			return f, nil
		}
	}
	return 0, fmt.Errorf("unknown sample format %q", name)
}

// RejectReason tells a requester why its ConnectRequest was refused.
type RejectReason uint8

const (
	// RejectRateMismatch: the requested sample rate differs from the local one.
	RejectRateMismatch RejectReason = iota + 1
	// RejectFormatUnsupported: the requested sample format is not F32.
	RejectFormatUnsupported
	// RejectBusy: the endpoint has no room for another session.
	RejectBusy
	// RejectChannelMismatch: the channel counts do not line up.
	RejectChannelMismatch
	// RejectDenied: the application refused to start I/O.
	RejectDenied
)

// Valid reports whether r is a known wire value.
func (r RejectReason) Valid() bool {
	return r >= RejectRateMismatch && r <= RejectDenied
}

func (r RejectReason) String() string {
	switch r {
	case RejectRateMismatch:
		return "rate mismatch"
	case RejectFormatUnsupported:
		return "format unsupported"
	case RejectBusy:
		return "busy"
	case RejectChannelMismatch:
		return "channel mismatch"
	case RejectDenied:
		return "denied"
	default:
		return fmt.Sprintf("reason(%d)", uint8(r))
	}
}
