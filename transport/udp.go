package transport

import (
	"context"
	"errors"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/opd-ai/pcmlink/limits"
	"github.com/opd-ai/pcmlink/protocol"
	"github.com/opd-ai/pcmlink/timing"
	"github.com/sirupsen/logrus"
)

const (
	// DefaultPollInterval bounds how long the receive loop blocks when the
	// dispatcher has no earlier wake-up.
	DefaultPollInterval = 10 * time.Millisecond

	// minPollWait keeps the loop from spinning when a wake-up is already due.
	minPollWait = time.Millisecond
)

// UDPTransport owns one UDP socket. Send may be called from any goroutine;
// Serve runs the receive loop and must be called at most once.
type UDPTransport struct {
	conn       net.PacketConn
	listenAddr net.Addr

	pollInterval time.Duration
	timeProvider timing.TimeProvider

	sendBufs sync.Pool
	stats    counters

	serving   atomic.Bool
	closed    atomic.Bool
	closeOnce sync.Once
	closeErr  error
}

// NewUDPTransport binds a UDP socket on listenAddr and marks its traffic with
// dscp (0 disables marking). A failure to bind is returned; a failure to set
// the traffic class is only logged.
func NewUDPTransport(listenAddr string, dscp int) (*UDPTransport, error) {
	if dscp < 0 || dscp > 63 {
		return nil, ErrInvalidDSCP
	}

	conn, err := net.ListenPacket("udp", listenAddr)
	if err != nil {
		logrus.WithFields(logrus.Fields{
			"function":    "NewUDPTransport",
			"listen_addr": listenAddr,
			"error":       err.Error(),
		}).Error("Failed to bind UDP socket")
		return nil, err
	}

	return newUDPTransport(conn, dscp), nil
}

// NewUDPTransportFromConn wraps an already bound packet connection.
func NewUDPTransportFromConn(conn net.PacketConn, dscp int) (*UDPTransport, error) {
	if dscp < 0 || dscp > 63 {
		return nil, ErrInvalidDSCP
	}
	return newUDPTransport(conn, dscp), nil
}

func newUDPTransport(conn net.PacketConn, dscp int) *UDPTransport {
	t := &UDPTransport{
		conn:         conn,
		listenAddr:   conn.LocalAddr(),
		pollInterval: DefaultPollInterval,
		sendBufs: sync.Pool{
			New: func() any {
				buf := make([]byte, 0, limits.MaxDatagramSize)
				return &buf
			},
		},
	}

	if err := setDSCP(conn, dscp); err != nil {
		logrus.WithFields(logrus.Fields{
			"function": "NewUDPTransport",
			"dscp":     dscp,
			"error":    err.Error(),
		}).Warn("Could not set traffic class, sending unmarked")
	}

	logrus.WithFields(logrus.Fields{
		"function":   "NewUDPTransport",
		"local_addr": t.listenAddr.String(),
		"dscp":       dscp,
	}).Info("UDP transport listening")

	return t
}

// SetTimeProvider sets the clock handed to the dispatcher. Must be called
// before Serve.
func (t *UDPTransport) SetTimeProvider(tp timing.TimeProvider) {
	t.timeProvider = tp
}

// SetPollInterval sets the longest the loop blocks between dispatcher polls.
// Must be called before Serve.
func (t *UDPTransport) SetPollInterval(d time.Duration) {
	if d > 0 {
		t.pollInterval = d
	}
}

// LocalAddr returns the local address the transport is listening on.
func (t *UDPTransport) LocalAddr() net.Addr {
	return t.listenAddr
}

// Stats returns a snapshot of the datagram counters.
func (t *UDPTransport) Stats() Stats {
	return t.stats.snapshot()
}

// Send encodes msg and writes it to addr as a single datagram.
func (t *UDPTransport) Send(msg protocol.Message, addr net.Addr) error {
	if t.closed.Load() {
		return ErrClosed
	}

	bufp := t.sendBufs.Get().(*[]byte)
	defer t.sendBufs.Put(bufp)

	data, err := protocol.AppendEncode((*bufp)[:0], msg)
	if err != nil {
		logrus.WithFields(logrus.Fields{
			"function": "Send",
			"kind":     kindOf(msg),
			"error":    err.Error(),
		}).Error("Failed to encode message")
		return err
	}
	*bufp = data

	if err := limits.ValidateOutgoing(data); err != nil {
		t.stats.sendErrors.Add(1)
		return err
	}

	if _, err := t.conn.WriteTo(data, addr); err != nil {
		t.stats.sendErrors.Add(1)
		logrus.WithFields(logrus.Fields{
			"function": "Send",
			"kind":     msg.Kind().String(),
			"addr":     addr.String(),
			"error":    err.Error(),
		}).Warn("Failed to send datagram")
		return err
	}

	t.stats.datagramsSent.Add(1)
	t.stats.bytesSent.Add(uint64(len(data)))
	return nil
}

// Serve runs the receive loop until ctx is cancelled or Close is called. Each
// datagram is decoded and handed to d; malformed datagrams and transient read
// errors are logged and skipped. Between datagrams the loop polls d and sleeps
// no later than the wake-up it asks for. Serve returns nil after an orderly
// shutdown.
func (t *UDPTransport) Serve(ctx context.Context, d Dispatcher) error {
	if d == nil {
		return ErrNilDispatcher
	}
	if !t.serving.CompareAndSwap(false, true) {
		return errors.New("transport already serving")
	}
	if t.closed.Load() {
		return ErrClosed
	}

	stop := context.AfterFunc(ctx, func() { _ = t.Close() })
	defer stop()

	logrus.WithFields(logrus.Fields{
		"function":   "Serve",
		"local_addr": t.listenAddr.String(),
	}).Debug("Receive loop started")

	buffer := make([]byte, limits.MaxReceiveBuffer)
	for {
		now := timing.Get(t.timeProvider).Now()
		t.armDeadline(d.Poll(now), now)

		data, addr, err := t.readPacketData(buffer)
		if err != nil {
			if t.closed.Load() {
				logrus.WithFields(logrus.Fields{
					"function":   "Serve",
					"local_addr": t.listenAddr.String(),
				}).Debug("Receive loop stopped")
				return nil
			}
			t.handleReadError(err)
			continue
		}

		msg, err := protocol.Decode(data)
		if err != nil {
			t.stats.malformed.Add(1)
			logrus.WithFields(logrus.Fields{
				"function": "Serve",
				"addr":     addr.String(),
				"size":     len(data),
				"error":    err.Error(),
			}).Warn("Dropping malformed datagram")
			continue
		}

		d.Dispatch(addr, msg, timing.Get(t.timeProvider).Now())
	}
}

// armDeadline converts the dispatcher's wake-up into a socket read deadline.
// The wait is measured on the injected clock but applied on the wall clock,
// so tests can drive the dispatcher with a manual clock.
func (t *UDPTransport) armDeadline(wake, now time.Time) {
	wait := t.pollInterval
	if !wake.IsZero() {
		wait = min(max(wake.Sub(now), minPollWait), t.pollInterval)
	}
	_ = t.conn.SetReadDeadline(time.Now().Add(wait))
}

// readPacketData reads one datagram into buffer.
func (t *UDPTransport) readPacketData(buffer []byte) ([]byte, net.Addr, error) {
	n, addr, err := t.conn.ReadFrom(buffer)
	if err != nil {
		return nil, nil, err
	}

	t.stats.datagramsReceived.Add(1)
	t.stats.bytesReceived.Add(uint64(n))
	return buffer[:n], addr, nil
}

// handleReadError classifies a read failure. Deadline expiry is the normal
// wake-up path and is silent.
func (t *UDPTransport) handleReadError(err error) {
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return
	}

	t.stats.receiveErrors.Add(1)
	logrus.WithFields(logrus.Fields{
		"function": "Serve",
		"error":    err.Error(),
	}).Warn("Transient receive error")
}

// Close shuts down the transport. A receive loop blocked in Serve wakes up
// immediately and returns. Close is idempotent.
func (t *UDPTransport) Close() error {
	t.closeOnce.Do(func() {
		t.closed.Store(true)
		t.closeErr = t.conn.Close()

		logrus.WithFields(logrus.Fields{
			"function":   "Close",
			"local_addr": t.listenAddr.String(),
		}).Info("UDP transport closed")
	})
	return t.closeErr
}

func kindOf(msg protocol.Message) string {
	if msg == nil {
		return "nil"
	}
	return msg.Kind().String()
}
