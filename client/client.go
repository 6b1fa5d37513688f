package client

import (
	"context"
	"errors"
	"fmt"
	"net"
	"sync"
	"time"

	"github.com/opd-ai/pcmlink/protocol"
	"github.com/opd-ai/pcmlink/ring"
	"github.com/opd-ai/pcmlink/session"
	"github.com/opd-ai/pcmlink/timing"
	"github.com/opd-ai/pcmlink/transport"
	"github.com/sirupsen/logrus"
)

type phase int

const (
	phaseConnecting phase = iota
	phaseIdle
	phaseStarting
	phaseActive
	phaseStopping
	phaseClosed
)

var phaseNames = [...]string{"connecting", "idle", "starting", "active", "stopping", "closed"}

func (p phase) String() string {
	if int(p) < len(phaseNames) {
		return phaseNames[p]
	}
	return fmt.Sprintf("phase(%d)", int(p))
}

// Client is one session with a server. It implements transport.Dispatcher
// for its own receive loop; the exported methods are safe from any goroutine.
type Client struct {
	opts   Options
	server net.Addr
	tr     *transport.UDPTransport
	clock  timing.TimeProvider

	mu        sync.Mutex
	phase     phase
	id        protocol.SessionID
	stream    *session.Stream
	lastHeard time.Time
	retry     *timing.Periodic
	heartbeat *timing.Periodic
	pending   chan error // completes the outstanding Dial, StartIO or StopIO
	err       error

	done     chan struct{}
	loopDone chan struct{}
}

// Dial opens a socket, negotiates a session with the server at addr and
// returns once the server accepts. The ConnectRequest is resent every
// RetryInterval until an answer arrives or ctx ends.
func Dial(ctx context.Context, addr string, opts Options) (*Client, error) {
	if err := opts.Validate(); err != nil {
		return nil, err
	}

	server, err := net.ResolveUDPAddr("udp", addr)
	if err != nil {
		return nil, fmt.Errorf("resolving %s: %w", addr, err)
	}

	tr, err := transport.NewUDPTransport(opts.ListenAddr, opts.DSCP)
	if err != nil {
		return nil, fmt.Errorf("binding client socket: %w", err)
	}
	tr.SetTimeProvider(opts.TimeProvider)
	tr.SetPollInterval(min(opts.RetryInterval, opts.HeartbeatInterval))

	c := &Client{
		opts:     opts,
		server:   server,
		tr:       tr,
		clock:    timing.Get(opts.TimeProvider),
		pending:  make(chan error, 1),
		done:     make(chan struct{}),
		loopDone: make(chan struct{}),
	}

	now := c.clock.Now()
	c.retry = timing.NewPeriodic(opts.RetryInterval, now)
	c.heartbeat = timing.NewPeriodic(opts.HeartbeatInterval, now)

	logrus.WithFields(logrus.Fields{
		"function":    "Dial",
		"server":      server.String(),
		"local_addr":  tr.LocalAddr().String(),
		"sample_rate": opts.SampleRate,
	}).Info("Connecting to server")

	c.send(opts.request())
	wait := c.pending

	go c.run()

	select {
	case err := <-wait:
		if err != nil {
			_ = c.Close()
			return nil, err
		}
		return c, nil
	case <-ctx.Done():
		_ = c.Close()
		return nil, ctx.Err()
	}
}

func (c *Client) run() {
	defer close(c.loopDone)
	err := c.tr.Serve(context.Background(), c)
	if err != nil && !errors.Is(err, transport.ErrClosed) {
		logrus.WithFields(logrus.Fields{
			"function": "run",
			"error":    err.Error(),
		}).Error("Client receive loop failed")
		c.mu.Lock()
		c.finish(err)
		c.mu.Unlock()
	}
}

// SessionID returns the id the server assigned.
func (c *Client) SessionID() protocol.SessionID {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.id
}

// LocalAddr returns the address of the client socket.
func (c *Client) LocalAddr() net.Addr {
	return c.tr.LocalAddr()
}

// ServerAddr returns the server address.
func (c *Client) ServerAddr() net.Addr {
	return c.server
}

// Active reports whether I/O is running.
func (c *Client) Active() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.phase == phaseActive
}

// Stats returns the audio counters of the current or last I/O run.
func (c *Client) Stats() session.StreamStats {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.stream == nil {
		return session.StreamStats{}
	}
	return c.stream.Stats()
}

// Done is closed when the session has ended.
func (c *Client) Done() <-chan struct{} {
	return c.done
}

// Err returns why the session ended: nil after StopIO, ErrClosed after
// Close, ErrServerLost, ErrStoppedByPeer or a *RejectedError otherwise. It
// returns nil while the session is live.
func (c *Client) Err() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.err
}

// StartIO asks the server to start I/O and waits for the acknowledgement.
// It returns the consumer of received audio and the producer of audio to
// send. If ctx ends first the start stays outstanding; StopIO or Close
// abandon it.
func (c *Client) StartIO(ctx context.Context) (*ring.Consumer[float32], *ring.Producer[float32], error) {
	c.mu.Lock()
	if c.phase == phaseClosed {
		c.mu.Unlock()
		return nil, nil, ErrClosed
	}
	if c.phase != phaseIdle {
		c.mu.Unlock()
		return nil, nil, ErrInvalidState
	}
	wait := c.begin(phaseStarting, protocol.IOStart{SessionID: c.id})
	c.mu.Unlock()

	if err := c.await(ctx, wait); err != nil {
		return nil, nil, err
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.stream == nil || c.phase != phaseActive {
		return nil, nil, ErrInvalidState
	}
	return c.stream.Inbound(), c.stream.Outbound(), nil
}

// StopIO asks the server to stop. The rings are released at once; the
// session ends when the server acknowledges. If ctx ends first the client
// is closed.
func (c *Client) StopIO(ctx context.Context) error {
	c.mu.Lock()
	switch c.phase {
	case phaseClosed:
		c.mu.Unlock()
		return ErrClosed
	case phaseConnecting, phaseStopping:
		c.mu.Unlock()
		return ErrInvalidState
	}
	c.release()
	wait := c.begin(phaseStopping, protocol.IOStop{SessionID: c.id})
	c.mu.Unlock()

	err := c.await(ctx, wait)
	if err != nil {
		_ = c.Close()
	}
	return err
}

// Close ends the session without waiting for the server, telling it with a
// best-effort IOStop, and releases the socket. Close is idempotent.
func (c *Client) Close() error {
	c.mu.Lock()
	if c.phase != phaseClosed && c.phase != phaseConnecting {
		c.send(protocol.IOStop{SessionID: c.id})
	}
	c.finish(ErrClosed)
	c.mu.Unlock()

	<-c.loopDone
	return nil
}

// begin enters an acknowledged phase: it sends msg now and keeps resending it
// from Poll until the answer completes the returned channel. Callers hold mu.
func (c *Client) begin(p phase, msg protocol.Message) chan error {
	// an outstanding start is abandoned
	c.complete(ErrInvalidState)
	c.phase = p
	c.pending = make(chan error, 1)
	c.retry.Reset(c.clock.Now())
	c.send(msg)
	return c.pending
}

func (c *Client) await(ctx context.Context, wait chan error) error {
	select {
	case err := <-wait:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}

// complete answers the outstanding request, if any. Callers hold mu.
func (c *Client) complete(err error) {
	if c.pending != nil {
		c.pending <- err
		c.pending = nil
	}
}

// release closes the rings of an active run. Callers hold mu.
func (c *Client) release() {
	if c.stream != nil && c.phase == phaseActive {
		c.stream.Close()
	}
}

// finish ends the session with err and stops the receive loop. Callers hold mu.
func (c *Client) finish(err error) {
	if c.phase == phaseClosed {
		return
	}

	c.release()
	c.phase = phaseClosed
	c.err = err
	c.complete(err)
	close(c.done)
	_ = c.tr.Close()

	fields := logrus.Fields{
		"function":   "finish",
		"session_id": c.id,
		"server":     c.server.String(),
	}
	if err != nil {
		fields["error"] = err.Error()
	}
	logrus.WithFields(fields).Info("Session ended")
}

func (c *Client) send(msg protocol.Message) {
	// failures are logged by the transport; the retry timer covers losses
	_ = c.tr.Send(msg, c.server)
}

// Dispatch handles one datagram from the receive loop. Anything not from the
// server or not for this session is dropped.
func (c *Client) Dispatch(addr net.Addr, msg protocol.Message, now time.Time) {
	if addr.String() != c.server.String() {
		logrus.WithFields(logrus.Fields{
			"function": "Dispatch",
			"addr":     addr.String(),
			"kind":     msg.Kind().String(),
		}).Debug("Dropping datagram from unknown peer")
		return
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	switch m := msg.(type) {
	case protocol.ConnectAccept:
		if c.phase == phaseConnecting {
			c.id = m.SessionID
			c.phase = phaseIdle
			c.lastHeard = now
			c.heartbeat.Reset(now)
			logrus.WithFields(logrus.Fields{
				"function":   "Dispatch",
				"session_id": c.id,
				"server":     c.server.String(),
			}).Info("Connected")
			c.complete(nil)
		}
		return

	case protocol.ConnectReject:
		if c.phase != phaseClosed {
			c.finish(&RejectedError{Reason: m.Reason})
		}
		return

	case protocol.SessionMessage:
		if c.phase == phaseConnecting || c.phase == phaseClosed || m.Session() != c.id {
			return
		}
		c.lastHeard = now
	}

	switch m := msg.(type) {
	case protocol.IOStartAck:
		if c.phase != phaseStarting {
			return
		}
		stream, err := session.NewStream(c.opts.RingCapacity, c.opts.params(), c.opts.FramesPerPacket)
		if err != nil {
			c.finish(err)
			return
		}
		c.stream = stream
		c.phase = phaseActive
		logrus.WithFields(logrus.Fields{
			"function":   "Dispatch",
			"session_id": c.id,
		}).Info("I/O active")
		c.complete(nil)

	case protocol.AudioFrame:
		if c.phase == phaseActive {
			c.stream.Receive(m)
			c.stream.Drain(c.id, c.sendFrame)
		}

	case protocol.IOStop:
		c.send(protocol.IOStopAck{SessionID: c.id})
		if c.phase == phaseStopping {
			// both sides asked to stop at once
			c.finish(nil)
			return
		}
		c.finish(ErrStoppedByPeer)

	case protocol.IOStopAck:
		if c.phase == phaseStopping {
			c.finish(nil)
		}
	}
}

func (c *Client) sendFrame(f protocol.AudioFrame) error {
	return c.tr.Send(f, c.server)
}

// Poll resends unanswered control messages, sends heartbeats, pumps outbound
// audio and detects a silent server. It returns the next time it needs to run.
func (c *Client) Poll(now time.Time) time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.phase == phaseClosed {
		return time.Time{}
	}

	if c.phase != phaseConnecting && now.Sub(c.lastHeard) > c.opts.Timeout {
		if c.phase == phaseStopping {
			// the acknowledgement was lost and the server has already
			// dropped the session
			c.finish(nil)
			return time.Time{}
		}
		logrus.WithFields(logrus.Fields{
			"function":   "Poll",
			"session_id": c.id,
			"silent_for": now.Sub(c.lastHeard).String(),
		}).Warn("Server timed out")
		c.finish(ErrServerLost)
		return time.Time{}
	}

	if c.retry.Due(now) {
		switch c.phase {
		case phaseConnecting:
			c.send(c.opts.request())
		case phaseStarting:
			c.send(protocol.IOStart{SessionID: c.id})
		case phaseStopping:
			c.send(protocol.IOStop{SessionID: c.id})
		}
	}

	if c.phase == phaseConnecting {
		return c.retry.Next()
	}

	if c.heartbeat.Due(now) {
		c.send(protocol.Heartbeat{SessionID: c.id})
	}
	if c.phase == phaseActive {
		c.stream.Drain(c.id, c.sendFrame)
	}

	wake := timing.Earliest(c.retry.Next(), c.heartbeat.Next())
	return timing.Earliest(wake, c.lastHeard.Add(c.opts.Timeout))
}
