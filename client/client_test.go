package client

import (
	"context"
	"errors"
	"net"
	"sync"
	"testing"
	"time"

	"github.com/opd-ai/pcmlink/netsim"
	"github.com/opd-ai/pcmlink/protocol"
	"github.com/opd-ai/pcmlink/ring"
	"github.com/opd-ai/pcmlink/session"
	"github.com/opd-ai/pcmlink/transport"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type testServer struct {
	addr string
	reg  *session.Registry
	stop func()

	mu     sync.Mutex
	closed []session.CloseReason
}

func (s *testServer) closeReasons() []session.CloseReason {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]session.CloseReason(nil), s.closed...)
}

// echo copies everything the server receives back to the client.
func echo(_ session.Info, in *ring.Consumer[float32], out *ring.Producer[float32]) {
	go func() {
		buf := make([]float32, 256)
		for !in.IsAbandoned() {
			n := in.PopSlice(buf)
			if n == 0 {
				time.Sleep(time.Millisecond)
				continue
			}
			out.PushSlice(buf[:n])
		}
	}()
}

func startServer(t *testing.T, cb session.Callbacks) *testServer {
	t.Helper()
	conn, err := net.ListenPacket("udp", "127.0.0.1:0")
	require.NoError(t, err)
	return startServerOn(t, conn, cb)
}

func startServerOn(t *testing.T, conn net.PacketConn, cb session.Callbacks) *testServer {
	t.Helper()

	tr, err := transport.NewUDPTransportFromConn(conn, 0)
	require.NoError(t, err)

	s := &testServer{addr: tr.LocalAddr().String()}
	cb.Closed = func(_ session.Info, reason session.CloseReason) {
		s.mu.Lock()
		s.closed = append(s.closed, reason)
		s.mu.Unlock()
	}

	s.reg, err = session.NewRegistry(session.DefaultConfig(), tr, cb)
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		_ = tr.Serve(ctx, s.reg)
	}()

	var once sync.Once
	s.stop = func() {
		once.Do(func() {
			cancel()
			<-done
		})
	}
	t.Cleanup(s.stop)
	return s
}

func testOptions() Options {
	opts := DefaultOptions()
	opts.ListenAddr = "127.0.0.1:0"
	return opts
}

func dial(t *testing.T, addr string, opts Options) *Client {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	c, err := Dial(ctx, addr, opts)
	require.NoError(t, err)
	t.Cleanup(func() { _ = c.Close() })
	return c
}

func waitDone(t *testing.T, c *Client) {
	t.Helper()
	select {
	case <-c.Done():
	case <-time.After(3 * time.Second):
		t.Fatal("session did not end")
	}
}

func TestDialStartEchoStop(t *testing.T) {
	srv := startServer(t, session.Callbacks{IOActive: echo})
	c := dial(t, srv.addr, testOptions())
	assert.Equal(t, protocol.SessionID(1), c.SessionID())
	assert.False(t, c.Active())

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	inbound, outbound, err := c.StartIO(ctx)
	require.NoError(t, err)
	require.True(t, c.Active())

	sent := make([]float32, 2*DefaultOptions().FramesPerPacket)
	for i := range sent {
		sent[i] = float32(i) / 100
	}
	require.Equal(t, len(sent), outbound.PushSlice(sent))

	var got []float32
	buf := make([]float32, 256)
	require.Eventually(t, func() bool {
		n := inbound.PopSlice(buf)
		got = append(got, buf[:n]...)
		return len(got) >= len(sent)
	}, 3*time.Second, 5*time.Millisecond)
	assert.Equal(t, sent, got[:len(sent)])
	assert.GreaterOrEqual(t, c.Stats().FramesSent, uint64(1))
	assert.GreaterOrEqual(t, c.Stats().FramesReceived, uint64(1))

	require.NoError(t, c.StopIO(ctx))
	waitDone(t, c)
	assert.NoError(t, c.Err())
	assert.True(t, inbound.IsAbandoned())
	assert.True(t, outbound.IsAbandoned())

	assert.Eventually(t, func() bool { return srv.reg.Len() == 0 }, 2*time.Second, 5*time.Millisecond)
	assert.Equal(t, []session.CloseReason{session.CloseStopped}, srv.closeReasons())
}

func TestLostFramesAreZeroFilled(t *testing.T) {
	const packets = 20
	packetSize := 2 * session.DefaultFramesPerPacket

	conn, err := net.ListenPacket("udp", "127.0.0.1:0")
	require.NoError(t, err)
	lossy := netsim.NewLossyConn(conn, netsim.EveryNth(3, netsim.IsKind(protocol.KindAudioFrame)))

	srv := startServerOn(t, lossy, session.Callbacks{
		IOActive: func(_ session.Info, _ *ring.Consumer[float32], out *ring.Producer[float32]) {
			out.Fill(0.25, packets*packetSize)
		},
	})
	c := dial(t, srv.addr, testOptions())

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	inbound, _, err := c.StartIO(ctx)
	require.NoError(t, err)

	const lost = packets / 3
	require.Eventually(t, func() bool {
		return c.Stats().FramesReceived == packets-lost
	}, 3*time.Second, 5*time.Millisecond)

	stats := c.Stats()
	assert.Equal(t, uint64(lost), stats.Gaps)
	assert.Equal(t, uint64(lost*packetSize), stats.ZeroFilled)
	assert.Zero(t, stats.Late)
	assert.Equal(t, lost, lossy.Dropped())

	// silence where the lost frames were, so the timeline is intact
	require.Eventually(t, func() bool {
		return inbound.Slots() == packets*packetSize
	}, time.Second, time.Millisecond)
	buf := make([]float32, packets*packetSize)
	require.Equal(t, len(buf), inbound.PopSlice(buf))
	assert.Equal(t, float32(0.25), buf[0])
	assert.Equal(t, float32(0), buf[2*packetSize], "third frame was lost")
	assert.Equal(t, float32(0.25), buf[3*packetSize])
}

func TestDialRejectedOnRateMismatch(t *testing.T) {
	srv := startServer(t, session.Callbacks{})
	opts := testOptions()
	opts.SampleRate = 44100

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	_, err := Dial(ctx, srv.addr, opts)

	var rejected *RejectedError
	require.True(t, errors.As(err, &rejected), "got %v", err)
	assert.Equal(t, protocol.RejectRateMismatch, rejected.Reason)
	assert.Equal(t, 0, srv.reg.Len())
}

func TestDialGivesUpWithContext(t *testing.T) {
	// a socket that never answers
	silent, err := net.ListenPacket("udp", "127.0.0.1:0")
	require.NoError(t, err)
	defer silent.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 150*time.Millisecond)
	defer cancel()
	_, err = Dial(ctx, silent.LocalAddr().String(), testOptions())
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestDialRejectsBadOptions(t *testing.T) {
	opts := testOptions()
	opts.RingCapacity = 1000
	_, err := Dial(context.Background(), "127.0.0.1:1", opts)
	assert.Error(t, err)
}

func TestStartDenied(t *testing.T) {
	srv := startServer(t, session.Callbacks{
		StartIO: func(session.Info) session.StartDecision { return session.StartDenied },
	})
	c := dial(t, srv.addr, testOptions())

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	_, _, err := c.StartIO(ctx)

	var rejected *RejectedError
	require.True(t, errors.As(err, &rejected), "got %v", err)
	assert.Equal(t, protocol.RejectDenied, rejected.Reason)
	waitDone(t, c)
	assert.Equal(t, []session.CloseReason{session.CloseRejected}, srv.closeReasons())
}

func TestServerStopEndsSession(t *testing.T) {
	srv := startServer(t, session.Callbacks{})
	c := dial(t, srv.addr, testOptions())

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	inbound, _, err := c.StartIO(ctx)
	require.NoError(t, err)

	require.NoError(t, srv.reg.StopIO(ctx, c.SessionID()))
	waitDone(t, c)
	assert.ErrorIs(t, c.Err(), ErrStoppedByPeer)
	assert.True(t, inbound.IsAbandoned())
	assert.Eventually(t, func() bool { return srv.reg.Len() == 0 }, 2*time.Second, 5*time.Millisecond)
}

func TestServerLossIsDetected(t *testing.T) {
	srv := startServer(t, session.Callbacks{})
	opts := testOptions()
	opts.Timeout = 200 * time.Millisecond
	opts.HeartbeatInterval = 50 * time.Millisecond
	c := dial(t, srv.addr, opts)

	srv.stop()
	waitDone(t, c)
	assert.ErrorIs(t, c.Err(), ErrServerLost)
}

func TestStartIOStateChecks(t *testing.T) {
	srv := startServer(t, session.Callbacks{})
	c := dial(t, srv.addr, testOptions())

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	_, _, err := c.StartIO(ctx)
	require.NoError(t, err)

	_, _, err = c.StartIO(ctx)
	assert.ErrorIs(t, err, ErrInvalidState)

	require.NoError(t, c.Close())
	require.NoError(t, c.Close())
	assert.ErrorIs(t, c.Err(), ErrClosed)

	_, _, err = c.StartIO(ctx)
	assert.ErrorIs(t, err, ErrClosed)
	assert.ErrorIs(t, c.StopIO(ctx), ErrClosed)

	// the best-effort IOStop ends the session on the server too
	assert.Eventually(t, func() bool { return srv.reg.Len() == 0 }, 2*time.Second, 5*time.Millisecond)
}

func TestOptionsValidate(t *testing.T) {
	require.NoError(t, DefaultOptions().Validate())

	tests := map[string]func(*Options){
		"zero rate":            func(o *Options) { o.SampleRate = 0 },
		"unknown format":       func(o *Options) { o.Format = 0 },
		"no input channels":    func(o *Options) { o.ChannelsIn = 0 },
		"ring not power of 2":  func(o *Options) { o.RingCapacity = 3000 },
		"packet too large":     func(o *Options) { o.FramesPerPacket = 1000 },
		"heartbeat >= timeout": func(o *Options) { o.HeartbeatInterval = o.Timeout },
		"zero retry":           func(o *Options) { o.RetryInterval = 0 },
		"dscp out of range":    func(o *Options) { o.DSCP = 64 },
	}
	for name, mutate := range tests {
		t.Run(name, func(t *testing.T) {
			opts := DefaultOptions()
			mutate(&opts)
			assert.Error(t, opts.Validate())
		})
	}
}
