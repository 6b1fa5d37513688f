package netsim

import (
	"net"
	"sync"
	"time"

	"github.com/opd-ai/pcmlink/protocol"
	"github.com/sirupsen/logrus"
)

// DropFunc decides whether the n-th outgoing datagram (counting from 1) is
// lost.
type DropFunc func(n int, datagram []byte) bool

// DeliveryRecord is one outgoing datagram.
type DeliveryRecord struct {
	Seq       int
	Addr      string
	Size      int
	Kind      protocol.Kind
	Timestamp int64 // unix nanoseconds
	Dropped   bool
}

// LossyConn is a net.PacketConn whose writes may be dropped.
type LossyConn struct {
	net.PacketConn

	drop DropFunc

	mu   sync.Mutex
	seq  int
	log  []DeliveryRecord
	lost int
}

// NewLossyConn wraps conn. A nil drop delivers everything.
func NewLossyConn(conn net.PacketConn, drop DropFunc) *LossyConn {
	logrus.WithFields(logrus.Fields{
		"function":   "NewLossyConn",
		"local_addr": conn.LocalAddr().String(),
	}).Warn("Simulated packet loss enabled")

	return &LossyConn{PacketConn: conn, drop: drop}
}

// WriteTo sends p unless the drop function selects it. A dropped datagram
// still reports success, as UDP would.
func (c *LossyConn) WriteTo(p []byte, addr net.Addr) (int, error) {
	c.mu.Lock()
	c.seq++
	rec := DeliveryRecord{
		Seq:       c.seq,
		Addr:      addr.String(),
		Size:      len(p),
		Timestamp: time.Now().UnixNano(),
	}
	if len(p) > 0 {
		rec.Kind = protocol.Kind(p[0])
	}
	rec.Dropped = c.drop != nil && c.drop(c.seq, p)
	if rec.Dropped {
		c.lost++
	}
	c.log = append(c.log, rec)
	c.mu.Unlock()

	if rec.Dropped {
		logrus.WithFields(logrus.Fields{
			"function": "LossyConn.WriteTo",
			"seq":      rec.Seq,
			"kind":     rec.Kind.String(),
			"size":     rec.Size,
		}).Debug("Dropping datagram")
		return len(p), nil
	}
	return c.PacketConn.WriteTo(p, addr)
}

// DeliveryLog returns a copy of every write so far.
func (c *LossyConn) DeliveryLog() []DeliveryRecord {
	c.mu.Lock()
	defer c.mu.Unlock()
	log := make([]DeliveryRecord, len(c.log))
	copy(log, c.log)
	return log
}

// ClearDeliveryLog forgets the recorded writes. Counting continues.
func (c *LossyConn) ClearDeliveryLog() {
	c.mu.Lock()
	c.log = nil
	c.mu.Unlock()
}

// Dropped returns how many datagrams were discarded.
func (c *LossyConn) Dropped() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.lost
}

// IsKind matches datagrams whose tag byte is kind.
func IsKind(kind protocol.Kind) func([]byte) bool {
	return func(datagram []byte) bool {
		return len(datagram) > 0 && protocol.Kind(datagram[0]) == kind
	}
}

// EveryNth drops every n-th datagram that match selects (all when match is
// nil). Counting is over matching datagrams only.
func EveryNth(n int, match func([]byte) bool) DropFunc {
	matched := 0
	return func(_ int, datagram []byte) bool {
		if match != nil && !match(datagram) {
			return false
		}
		matched++
		return n > 0 && matched%n == 0
	}
}

// Burst drops matching datagrams number from through to inclusive, counted
// over matching datagrams only.
func Burst(from, to int, match func([]byte) bool) DropFunc {
	matched := 0
	return func(_ int, datagram []byte) bool {
		if match != nil && !match(datagram) {
			return false
		}
		matched++
		return matched >= from && matched <= to
	}
}
