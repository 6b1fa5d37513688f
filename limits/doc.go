// Package limits provides centralized datagram size constants and validation
// functions for the pcmlink protocol.
//
// # Size Hierarchy
//
//   - MaxDatagramSize (1452 bytes): the largest datagram an endpoint sends. Audio
//     payloads are chunked by the sender so that every encoded message fits.
//
//   - MaxReceiveBuffer (65535 bytes): the receive buffer. Larger-than-expected
//     datagrams from peers are still read and handed to the decoder.
//
// # Validation Functions
//
//	err := limits.ValidateOutgoing(datagram)
//	if err != nil {
//	    // ErrDatagramEmpty or ErrDatagramTooLarge
//	}
//
// MaxSamples derives the per-datagram sample budget from a header size:
//
//	perFrame := limits.MaxSamples(21)
package limits
