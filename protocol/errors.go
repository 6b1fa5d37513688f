package protocol

import (
	"errors"
	"fmt"
)

// Sentinel errors for protocol operations.
var (
	// ErrMalformed indicates a datagram that could not be decoded.
	ErrMalformed = errors.New("malformed datagram")

	// ErrInvalidMessage indicates a message whose fields fail validation.
	ErrInvalidMessage = errors.New("invalid message")

	// ErrFrameTooLarge indicates an audio frame that would not fit one datagram.
	ErrFrameTooLarge = errors.New("audio frame exceeds datagram size")
)

// DecodeError describes why a datagram was rejected by Decode.
type DecodeError struct {
	Tag    byte   // first byte of the datagram, 0 if empty
	Length int    // datagram length
	Reason string // what was wrong
}

// Error implements the error interface.
func (e *DecodeError) Error() string {
	return fmt.Sprintf("malformed datagram (tag 0x%02x, %d bytes): %s", e.Tag, e.Length, e.Reason)
}

// Unwrap lets errors.Is match ErrMalformed.
func (e *DecodeError) Unwrap() error {
	return ErrMalformed
}

func malformed(data []byte, reason string) *DecodeError {
	e := &DecodeError{Length: len(data), Reason: reason}
	if len(data) > 0 {
		e.Tag = data[0]
	}
	return e
}
