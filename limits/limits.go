// Package limits provides centralized datagram size limits for the pcmlink protocol.
// This ensures consistent validation across the codec and the transport.
package limits

import (
	"errors"
	"fmt"
)

const (
	// MaxDatagramSize is the largest datagram an endpoint sends (1452 bytes).
	// It fits a 1500-byte Ethernet MTU after IPv6 (40) and UDP (8) headers.
	MaxDatagramSize = 1452

	// MaxReceiveBuffer is the receive buffer size. Receivers accept datagrams
	// larger than MaxDatagramSize so peers with a bigger MTU still interoperate.
	MaxReceiveBuffer = 65535

	// SampleSize is the encoded size of one IEEE-754 32-bit sample.
	SampleSize = 4
)

var (
	// ErrDatagramEmpty indicates an empty datagram was provided
	ErrDatagramEmpty = errors.New("empty datagram")

	// ErrDatagramTooLarge indicates a datagram exceeds the maximum size
	ErrDatagramTooLarge = errors.New("datagram too large")
)

// ValidateDatagramSize validates a datagram against the specified maximum size.
// Returns an error with context including the actual and maximum sizes.
func ValidateDatagramSize(datagram []byte, maxSize int) error {
	if len(datagram) == 0 {
		return ErrDatagramEmpty
	}
	if len(datagram) > maxSize {
		return fmt.Errorf("%w: size %d exceeds limit %d", ErrDatagramTooLarge, len(datagram), maxSize)
	}
	return nil
}

// ValidateOutgoing validates an encoded datagram against MaxDatagramSize.
func ValidateOutgoing(datagram []byte) error {
	return ValidateDatagramSize(datagram, MaxDatagramSize)
}

// MaxSamples returns how many 32-bit samples fit in one datagram after a
// header of headerSize bytes.
func MaxSamples(headerSize int) int {
	if headerSize >= MaxDatagramSize {
		return 0
	}
	return (MaxDatagramSize - headerSize) / SampleSize
}
