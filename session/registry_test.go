package session

import (
	"context"
	"testing"
	"time"

	"github.com/opd-ai/pcmlink/protocol"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestRegistry(t *testing.T, mutate func(*Config)) (*Registry, *mockSender, *recorder) {
	t.Helper()
	cfg := DefaultConfig()
	if mutate != nil {
		mutate(&cfg)
	}
	sender := &mockSender{}
	collab := &recorder{decision: StartAccepted}
	r, err := NewRegistry(cfg, sender, collab)
	require.NoError(t, err)
	r.Poll(epoch)
	return r, sender, collab
}

// activate negotiates session 1 with peer and starts I/O.
func activate(t *testing.T, r *Registry, now time.Time) protocol.SessionID {
	t.Helper()
	r.Dispatch(peerAddr(5000), stereoRequest(), now)
	id := r.Sessions()[0].ID
	r.Dispatch(peerAddr(5000), protocol.IOStart{SessionID: id}, now)
	require.Equal(t, StateIOActive, r.Sessions()[0].State)
	return id
}

// runRequest performs a blocking registry request while the test goroutine
// plays the network loop.
func runRequest(t *testing.T, r *Registry, now time.Time, call func(context.Context) error) error {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	done := make(chan error, 1)
	go func() { done <- call(ctx) }()

	deadline := time.After(2 * time.Second)
	for {
		r.Poll(now)
		select {
		case err := <-done:
			return err
		case <-deadline:
			t.Fatal("request not served")
			return nil
		case <-time.After(time.Millisecond):
		}
	}
}

func TestEndToEndConnectStartAndAudio(t *testing.T) {
	r, sender, collab := newTestRegistry(t, nil)
	peer := peerAddr(5000)

	r.Dispatch(peer, protocol.ConnectRequest{ChannelsIn: 2, ChannelsOut: 2, SampleRate: 48000, Format: protocol.FormatF32}, epoch)
	assert.Equal(t, protocol.ConnectAccept{SessionID: 1}, sender.last())
	require.Equal(t, 1, r.Len())
	assert.Equal(t, StateIOStartPending, r.Sessions()[0].State)
	assert.Zero(t, collab.starts, "start is polled on IOStart, not on connect")

	r.Dispatch(peer, protocol.IOStart{SessionID: 1}, epoch.Add(time.Millisecond))
	assert.Equal(t, 1, collab.starts)
	assert.Equal(t, 1, collab.active)
	require.NotNil(t, collab.inbound)
	require.NotNil(t, collab.outbound)
	assert.Equal(t, protocol.IOStartAck{SessionID: 1}, sender.last())

	r.Dispatch(peer, protocol.AudioFrame{SessionID: 1, Sequence: 0, Channels: 2, Samples: []float32{0.25, -0.25}},
		epoch.Add(2*time.Millisecond))

	v, ok := collab.inbound.TryPop()
	require.True(t, ok)
	assert.Equal(t, float32(0.25), v)
	v, ok = collab.inbound.TryPop()
	require.True(t, ok)
	assert.Equal(t, float32(-0.25), v)

	snap, err := r.Session(1)
	require.NoError(t, err)
	assert.Equal(t, StateIOActive, snap.State)
	assert.Equal(t, uint64(1), snap.Stream.FramesReceived)
}

func TestOutboundAudioIsPumpedOnPoll(t *testing.T) {
	r, sender, collab := newTestRegistry(t, nil)
	id := activate(t, r, epoch)
	sender.reset()

	packet := DefaultFramesPerPacket * DefaultChannels
	out := make([]float32, packet+3)
	for i := range out {
		out[i] = float32(i)
	}
	require.Equal(t, len(out), collab.outbound.PushSlice(out))

	r.Poll(epoch.Add(time.Millisecond))

	frames := sender.ofKind(protocol.KindAudioFrame)
	require.Len(t, frames, 1)
	assert.Equal(t, protocol.AudioFrame{SessionID: id, Sequence: 0, Channels: 2, Samples: out[:packet]}, frames[0])
}

func TestRateMismatchRejectsWithoutConnection(t *testing.T) {
	r, sender, collab := newTestRegistry(t, nil)

	r.Dispatch(peerAddr(5000), protocol.ConnectRequest{ChannelsIn: 2, ChannelsOut: 2, SampleRate: 44100, Format: protocol.FormatF32}, epoch)

	assert.Equal(t, protocol.ConnectReject{Reason: protocol.RejectRateMismatch}, sender.last())
	assert.Zero(t, r.Len())
	assert.Empty(t, collab.closed)
}

func TestUnsupportedFormatAndChannelMismatch(t *testing.T) {
	r, sender, _ := newTestRegistry(t, nil)

	r.Dispatch(peerAddr(5000), protocol.ConnectRequest{ChannelsIn: 2, ChannelsOut: 2, SampleRate: 48000, Format: protocol.FormatI16}, epoch)
	assert.Equal(t, protocol.ConnectReject{Reason: protocol.RejectFormatUnsupported}, sender.last())

	r.Dispatch(peerAddr(5000), protocol.ConnectRequest{ChannelsIn: 1, ChannelsOut: 2, SampleRate: 48000, Format: protocol.FormatF32}, epoch)
	assert.Equal(t, protocol.ConnectReject{Reason: protocol.RejectChannelMismatch}, sender.last())
	assert.Zero(t, r.Len())
}

func TestBusyWhenFull(t *testing.T) {
	r, sender, _ := newTestRegistry(t, func(c *Config) { c.MaxSessions = 1 })

	r.Dispatch(peerAddr(5000), stereoRequest(), epoch)
	r.Dispatch(peerAddr(5001), stereoRequest(), epoch)

	assert.Equal(t, protocol.ConnectReject{Reason: protocol.RejectBusy}, sender.last())
	assert.Equal(t, 1, r.Len())
}

func TestRepeatedConnectIsIdempotent(t *testing.T) {
	r, sender, _ := newTestRegistry(t, nil)

	r.Dispatch(peerAddr(5000), stereoRequest(), epoch)
	r.Dispatch(peerAddr(5000), stereoRequest(), epoch.Add(time.Millisecond))
	r.Dispatch(peerAddr(5001), stereoRequest(), epoch.Add(2*time.Millisecond))

	accepts := sender.ofKind(protocol.KindConnectAccept)
	require.Len(t, accepts, 3)
	assert.Equal(t, protocol.ConnectAccept{SessionID: 1}, accepts[0])
	assert.Equal(t, protocol.ConnectAccept{SessionID: 1}, accepts[1])
	assert.Equal(t, protocol.ConnectAccept{SessionID: 2}, accepts[2], "ids are unique per registry")
	assert.Equal(t, 2, r.Len())
}

func TestUnknownSessionAndWrongAddressAreDropped(t *testing.T) {
	r, _, collab := newTestRegistry(t, nil)
	r.Dispatch(peerAddr(5000), stereoRequest(), epoch)

	r.Dispatch(peerAddr(5000), protocol.IOStart{SessionID: 99}, epoch)
	r.Dispatch(peerAddr(6000), protocol.IOStart{SessionID: 1}, epoch)
	r.Dispatch(peerAddr(5000), protocol.ConnectAccept{SessionID: 1}, epoch)

	assert.Equal(t, uint64(3), r.Dropped())
	assert.Zero(t, collab.starts)
	assert.Equal(t, StateIOStartPending, r.Sessions()[0].State)
}

func TestDeniedStartNeverAllocates(t *testing.T) {
	r, sender, collab := newTestRegistry(t, nil)
	collab.decision = StartDenied

	r.Dispatch(peerAddr(5000), stereoRequest(), epoch)
	r.Dispatch(peerAddr(5000), protocol.IOStart{SessionID: 1}, epoch)

	assert.Equal(t, protocol.ConnectReject{Reason: protocol.RejectDenied}, sender.last())
	assert.Zero(t, collab.active)
	assert.Nil(t, collab.inbound)
	assert.Equal(t, []CloseReason{CloseRejected}, collab.closed)
	assert.Zero(t, r.Len())
}

func TestDeadlineExpiresWithinOneTick(t *testing.T) {
	r, _, collab := newTestRegistry(t, nil)
	activate(t, r, epoch)
	inbound := collab.inbound

	r.Poll(epoch.Add(DefaultTimeout))
	assert.Equal(t, 1, r.Len(), "not expired at the deadline itself")

	r.Poll(epoch.Add(DefaultTimeout + DefaultTickInterval))
	assert.Zero(t, r.Len(), "expired one tick after the deadline")
	assert.Equal(t, []CloseReason{CloseTimedOut}, collab.closed)
	assert.True(t, inbound.IsAbandoned(), "rings are released on forced exit")
}

func TestActivityRefreshesDeadline(t *testing.T) {
	r, _, collab := newTestRegistry(t, nil)
	id := activate(t, r, epoch)

	at := epoch.Add(500 * time.Millisecond)
	r.Poll(at)
	r.Dispatch(peerAddr(5000), protocol.Heartbeat{SessionID: id}, at)

	r.Poll(epoch.Add(DefaultTimeout + DefaultTickInterval))
	assert.Equal(t, 1, r.Len(), "heartbeat moved the deadline")

	r.Poll(at.Add(DefaultTimeout))
	assert.Equal(t, 1, r.Len())

	r.Poll(at.Add(DefaultTimeout + DefaultTickInterval))
	assert.Zero(t, r.Len())
	assert.Equal(t, []CloseReason{CloseTimedOut}, collab.closed)
}

func TestDeferredStartCompletes(t *testing.T) {
	r, sender, collab := newTestRegistry(t, nil)
	collab.decision = StartPending

	r.Dispatch(peerAddr(5000), stereoRequest(), epoch)
	r.Dispatch(peerAddr(5000), protocol.IOStart{SessionID: 1}, epoch)
	assert.Equal(t, StateIOStartPending, r.Sessions()[0].State)
	assert.Zero(t, collab.active)

	err := runRequest(t, r, epoch.Add(time.Millisecond), func(ctx context.Context) error {
		return r.CompleteStartIO(ctx, 1, true)
	})
	require.NoError(t, err)
	assert.Equal(t, StateIOActive, r.Sessions()[0].State)
	assert.Equal(t, 1, collab.active)
	assert.Equal(t, protocol.IOStartAck{SessionID: 1}, sender.last())

	// the cleared start timer must not expire the now active connection
	r.Dispatch(peerAddr(5000), protocol.Heartbeat{SessionID: 1}, epoch.Add(400*time.Millisecond))
	r.Poll(epoch.Add(DefaultTimeout + 2*DefaultTickInterval))
	assert.Equal(t, 1, r.Len())
}

func TestDeferredStartTimesOut(t *testing.T) {
	r, sender, collab := newTestRegistry(t, func(c *Config) { c.StartTimeout = 200 * time.Millisecond })
	collab.decision = StartPending

	r.Dispatch(peerAddr(5000), stereoRequest(), epoch)
	r.Dispatch(peerAddr(5000), protocol.IOStart{SessionID: 1}, epoch)

	r.Poll(epoch.Add(200 * time.Millisecond))
	assert.Equal(t, 1, r.Len())

	r.Poll(epoch.Add(210 * time.Millisecond))
	assert.Zero(t, r.Len())
	assert.Equal(t, []CloseReason{CloseTimedOut}, collab.closed)
	assert.Equal(t, protocol.ConnectReject{Reason: protocol.RejectDenied}, sender.last())
	assert.Zero(t, collab.active)
}

func TestCompleteStartErrors(t *testing.T) {
	r, _, _ := newTestRegistry(t, nil)
	r.Dispatch(peerAddr(5000), stereoRequest(), epoch)

	err := runRequest(t, r, epoch, func(ctx context.Context) error {
		return r.CompleteStartIO(ctx, 1, true)
	})
	assert.ErrorIs(t, err, ErrInvalidTransition, "no IOStart received yet")

	err = runRequest(t, r, epoch, func(ctx context.Context) error {
		return r.CompleteStartIO(ctx, 42, true)
	})
	assert.ErrorIs(t, err, ErrUnknownSession)
}

func TestLocalStopWaitsForAck(t *testing.T) {
	r, sender, collab := newTestRegistry(t, nil)
	id := activate(t, r, epoch)
	inbound := collab.inbound

	err := runRequest(t, r, epoch, func(ctx context.Context) error { return r.StopIO(ctx, id) })
	require.NoError(t, err)

	assert.Equal(t, protocol.IOStop{SessionID: id}, sender.last())
	assert.Equal(t, StateIOStopPending, r.Sessions()[0].State)
	assert.Equal(t, 1, collab.stops)
	assert.True(t, inbound.IsAbandoned())

	// the heartbeat tick retransmits the stop while waiting
	sender.reset()
	r.Poll(epoch.Add(DefaultHeartbeatInterval))
	assert.Contains(t, sender.messages(), protocol.Message(protocol.IOStop{SessionID: id}))

	r.Dispatch(peerAddr(5000), protocol.IOStopAck{SessionID: id}, epoch.Add(DefaultHeartbeatInterval))
	assert.Zero(t, r.Len())
	assert.Equal(t, []CloseReason{CloseStopped}, collab.closed)
}

func TestPeerStop(t *testing.T) {
	r, sender, collab := newTestRegistry(t, nil)
	id := activate(t, r, epoch)
	inbound := collab.inbound

	r.Dispatch(peerAddr(5000), protocol.IOStop{SessionID: id}, epoch)

	assert.Equal(t, protocol.IOStopAck{SessionID: id}, sender.last())
	assert.True(t, inbound.IsAbandoned())
	assert.Equal(t, 1, collab.stops)
	assert.Equal(t, []CloseReason{CloseStopped}, collab.closed)
	assert.Zero(t, r.Len())

	// a retransmitted stop for the destroyed session is dropped
	r.Dispatch(peerAddr(5000), protocol.IOStop{SessionID: id}, epoch)
	assert.Equal(t, uint64(1), r.Dropped())
}

func TestHeartbeatsAreSent(t *testing.T) {
	r, sender, _ := newTestRegistry(t, nil)
	r.Dispatch(peerAddr(5000), stereoRequest(), epoch)
	sender.reset()

	r.Poll(epoch.Add(DefaultHeartbeatInterval - time.Millisecond))
	assert.Empty(t, sender.ofKind(protocol.KindHeartbeat))

	r.Poll(epoch.Add(DefaultHeartbeatInterval))
	assert.Equal(t, []protocol.Message{protocol.Heartbeat{SessionID: 1}}, sender.ofKind(protocol.KindHeartbeat))
}

func TestTeardownClosesEverything(t *testing.T) {
	r, _, collab := newTestRegistry(t, nil)
	activate(t, r, epoch)
	inbound := collab.inbound

	r.Teardown()
	assert.Zero(t, r.Len())
	assert.True(t, inbound.IsAbandoned())
	assert.Equal(t, []CloseReason{CloseStopped}, collab.closed)
}

func TestRequestsAfterTeardownFail(t *testing.T) {
	r, _, _ := newTestRegistry(t, nil)
	id := activate(t, r, epoch)
	r.Teardown()

	done := make(chan error, 2)
	go func() {
		done <- r.StopIO(context.Background(), id)
		done <- r.CompleteStartIO(context.Background(), id, true)
	}()

	for i := 0; i < 2; i++ {
		select {
		case err := <-done:
			assert.ErrorIs(t, err, ErrNotRunning)
		case <-time.After(time.Second):
			t.Fatal("request blocked after teardown")
		}
	}
}

func TestTeardownFailsQueuedRequests(t *testing.T) {
	r, _, _ := newTestRegistry(t, nil)
	id := activate(t, r, epoch)

	done := make(chan error, 1)
	go func() { done <- r.StopIO(context.Background(), id) }()
	require.Eventually(t, func() bool { return len(r.requests) == 1 }, time.Second, time.Millisecond)

	r.Teardown()
	select {
	case err := <-done:
		assert.ErrorIs(t, err, ErrNotRunning)
	case <-time.After(time.Second):
		t.Fatal("queued request not answered by teardown")
	}
	r.Teardown()
}

func TestPollReturnsNextWake(t *testing.T) {
	r, _, _ := newTestRegistry(t, nil)
	wake := r.Poll(epoch.Add(time.Millisecond))
	assert.Equal(t, epoch.Add(DefaultTickInterval), wake)
}
