package transport

import (
	"errors"
	"fmt"
	"net"

	"github.com/sirupsen/logrus"
	"golang.org/x/net/ipv4"
	"golang.org/x/net/ipv6"
)

// DSCPExpedited is the Expedited Forwarding code point used for real-time audio.
const DSCPExpedited = 46

// setDSCP marks every datagram sent on conn with the given code point. The
// socket may be IPv4, IPv6 or dual-stack, so both options are attempted and
// the call succeeds if either sticks.
func setDSCP(conn net.PacketConn, dscp int) error {
	if dscp < 0 || dscp > 63 {
		return fmt.Errorf("%w: %d", ErrInvalidDSCP, dscp)
	}
	if dscp == 0 {
		return nil
	}

	tos := dscp << 2
	err4 := ipv4.NewPacketConn(conn).SetTOS(tos)
	err6 := ipv6.NewPacketConn(conn).SetTrafficClass(tos)
	if err4 != nil && err6 != nil {
		return errors.Join(err4, err6)
	}

	logrus.WithFields(logrus.Fields{
		"function": "setDSCP",
		"dscp":     dscp,
		"tos":      tos,
		"ipv4":     err4 == nil,
		"ipv6":     err6 == nil,
	}).Debug("Marked socket traffic class")

	return nil
}
