package session

import (
	"context"
	"errors"
	"net"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/opd-ai/pcmlink/protocol"
	"github.com/opd-ai/pcmlink/timing"
	"github.com/opd-ai/pcmlink/transport"
	"github.com/sirupsen/logrus"
)

// requestQueueSize bounds application requests waiting for the network loop.
const requestQueueSize = 64

type requestKind int

const (
	reqStopIO requestKind = iota
	reqCompleteStart
)

type request struct {
	kind     requestKind
	id       protocol.SessionID
	accepted bool
	done     chan error
}

// Registry maps peers to their connections and drives every connection's
// state machine. It implements transport.Dispatcher: Dispatch and Poll must be
// called from a single goroutine, normally the transport's receive loop.
// Application requests (StopIO, CompleteStartIO) and Sessions are safe from
// any goroutine.
type Registry struct {
	cfg    Config
	sender transport.Sender
	collab Collaborator

	// mu guards the maps for readers outside the network goroutine
	mu     sync.RWMutex
	byID   map[protocol.SessionID]*Connection
	byAddr map[string]*Connection
	nextID protocol.SessionID

	deadlines *Scheduler
	tick      *timing.Periodic
	heartbeat *timing.Periodic
	requests  chan request

	// stopped is closed by Teardown; later requests fail with ErrNotRunning
	stopped  chan struct{}
	stopOnce sync.Once

	dropped atomic.Uint64
}

// NewRegistry creates a registry serving cfg. Messages are sent through
// sender and lifecycle events are reported to collab (nil accepts every
// start and ignores everything else).
func NewRegistry(cfg Config, sender transport.Sender, collab Collaborator) (*Registry, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if collab == nil {
		collab = Callbacks{}
	}

	return &Registry{
		cfg:       cfg,
		sender:    sender,
		collab:    collab,
		byID:      make(map[protocol.SessionID]*Connection),
		byAddr:    make(map[string]*Connection),
		nextID:    1,
		deadlines: NewScheduler(),
		requests:  make(chan request, requestQueueSize),
		stopped:   make(chan struct{}),
	}, nil
}

// Config returns the configuration the registry serves.
func (r *Registry) Config() Config {
	return r.cfg
}

// Dispatch handles one received message. Messages for unknown sessions, or
// from an address other than the session's peer, are dropped.
func (r *Registry) Dispatch(addr net.Addr, msg protocol.Message, now time.Time) {
	switch m := msg.(type) {
	case protocol.ConnectRequest:
		r.handleConnect(addr, m, now)

	case protocol.SessionMessage:
		conn := r.lookup(m.Session())
		if conn == nil || conn.key != addr.String() {
			r.dropped.Add(1)
			logrus.WithFields(logrus.Fields{
				"function":   "Dispatch",
				"session_id": m.Session(),
				"kind":       m.Kind().String(),
				"addr":       addr.String(),
			}).Debug("Dropping message for unknown session")
			return
		}

		r.refresh(conn, now)

		var frame *protocol.AudioFrame
		ev := evNone
		switch m := m.(type) {
		case protocol.IOStart:
			ev = evIOStart
		case protocol.IOStop:
			ev = evIOStop
		case protocol.IOStopAck:
			ev = evIOStopAck
		case protocol.Heartbeat:
			ev = evHeartbeat
		case protocol.AudioFrame:
			ev = evAudio
			frame = &m
		}
		if ev != evNone {
			r.fire(conn, ev, frame, now)
		}

	default:
		r.dropped.Add(1)
		logrus.WithFields(logrus.Fields{
			"function": "Dispatch",
			"kind":     msg.Kind().String(),
			"addr":     addr.String(),
		}).Debug("Dropping message not addressed to a server")
	}
}

func (r *Registry) handleConnect(addr net.Addr, req protocol.ConnectRequest, now time.Time) {
	if conn := r.lookupAddr(addr.String()); conn != nil {
		// the accept was probably lost; answer with the same session
		r.refresh(conn, now)
		r.send(protocol.ConnectAccept{SessionID: conn.id}, addr)
		return
	}

	params, err := r.cfg.Negotiate(req)
	if err == nil && r.Len() >= r.cfg.MaxSessions {
		err = rejectf(protocol.RejectBusy, "%d sessions in use", r.cfg.MaxSessions)
	}
	if err != nil {
		reason := protocol.RejectDenied
		var negErr *NegotiationError
		if errors.As(err, &negErr) {
			reason = negErr.Reason
		}
		logrus.WithFields(logrus.Fields{
			"function": "handleConnect",
			"addr":     addr.String(),
			"reason":   reason.String(),
			"error":    err.Error(),
		}).Warn("Rejecting connect request")
		r.send(protocol.ConnectReject{Reason: reason}, addr)
		return
	}

	conn := newConnection(r.nextID, addr, params, now)
	r.nextID++

	r.mu.Lock()
	r.byID[conn.id] = conn
	r.byAddr[conn.key] = conn
	r.mu.Unlock()

	r.refresh(conn, now)
	r.send(protocol.ConnectAccept{SessionID: conn.id}, addr)

	logrus.WithFields(logrus.Fields{
		"function":     "handleConnect",
		"session_id":   conn.id,
		"addr":         addr.String(),
		"sample_rate":  params.SampleRate,
		"channels_in":  params.ChannelsIn,
		"channels_out": params.ChannelsOut,
	}).Info("Connection accepted")
}

// fire runs ev and any follow-up events through the state machine of conn and
// performs the resulting effects.
func (r *Registry) fire(conn *Connection, ev event, frame *protocol.AudioFrame, now time.Time) {
	for ev != evNone {
		prev := conn.current()
		next, fx, then := transition(prev, ev)
		if fx == 0 {
			logrus.WithFields(logrus.Fields{
				"function":   "fire",
				"session_id": conn.id,
				"state":      prev.state().String(),
				"event":      ev.String(),
			}).Debug("Ignoring event")
			return
		}
		if next.state() != prev.state() {
			logrus.WithFields(logrus.Fields{
				"function":   "fire",
				"session_id": conn.id,
				"from":       prev.state().String(),
				"to":         next.state().String(),
				"event":      ev.String(),
			}).Debug("State transition")
		}
		ev = then

		if fx.has(fxRelease) {
			if a, ok := prev.(active); ok && a.stream != nil {
				a.stream.Close()
			}
		}
		if fx.has(fxAllocate) {
			stream, err := NewStream(r.cfg.RingCapacity, conn.params, r.cfg.FramesPerPacket)
			if err != nil {
				logrus.WithFields(logrus.Fields{
					"function":   "fire",
					"session_id": conn.id,
					"error":      err.Error(),
				}).Error("Failed to allocate audio rings")
				next, fx = inactive{reason: CloseRejected}, fxSendDeny|fxClose
			} else {
				next = active{stream: stream}
			}
		}
		conn.setState(next)

		switch {
		case fx.has(fxArmStart):
			conn.setStartDeadline(now.Add(r.cfg.startTimeout()))
			r.deadlines.Schedule(conn.id, conn.deadline())
		case next.state() != StateIOStartPending && conn.clearStartDeadline():
			r.deadlines.Schedule(conn.id, conn.deadline())
		}

		info := conn.Info()
		if fx.has(fxSendStartAck) {
			r.send(protocol.IOStartAck{SessionID: conn.id}, conn.addr)
		}
		if fx.has(fxSendDeny) {
			r.send(protocol.ConnectReject{Reason: protocol.RejectDenied}, conn.addr)
		}
		if fx.has(fxSendStop) {
			r.send(protocol.IOStop{SessionID: conn.id}, conn.addr)
		}
		if fx.has(fxSendStopAck) {
			r.send(protocol.IOStopAck{SessionID: conn.id}, conn.addr)
		}
		if fx.has(fxNotifyActive) {
			stream := next.(active).stream
			logrus.WithFields(logrus.Fields{
				"function":   "fire",
				"session_id": conn.id,
				"addr":       conn.key,
			}).Info("I/O active")
			r.collab.OnIOActive(info, stream.Inbound(), stream.Outbound())
		}
		if fx.has(fxPollStart) {
			ev = decisionEvent(r.collab.PollStartIO(info))
		}
		if fx.has(fxPollStop) {
			r.collab.PollStopIO(info)
		}
		if fx.has(fxPushAudio) && frame != nil {
			stream := next.(active).stream
			stream.Receive(*frame)
			r.drain(conn, stream)
		}
		if fx.has(fxClose) {
			r.remove(conn, next.(inactive).reason)
			return
		}
	}
}

func decisionEvent(d StartDecision) event {
	switch d {
	case StartAccepted:
		return evStartAccepted
	case StartPending:
		return evStartPending
	default:
		return evStartDenied
	}
}

func (r *Registry) remove(conn *Connection, reason CloseReason) {
	r.mu.Lock()
	delete(r.byID, conn.id)
	if r.byAddr[conn.key] == conn {
		delete(r.byAddr, conn.key)
	}
	r.mu.Unlock()
	r.deadlines.Cancel(conn.id)

	logrus.WithFields(logrus.Fields{
		"function":   "remove",
		"session_id": conn.id,
		"addr":       conn.key,
		"reason":     reason.String(),
	}).Info("Connection closed")

	r.collab.OnConnectionClosed(conn.Info(), reason)
}

// refresh bumps the liveness deadline of conn.
func (r *Registry) refresh(conn *Connection, now time.Time) {
	conn.touch(now, r.cfg.Timeout)
	r.deadlines.Schedule(conn.id, conn.deadline())
}

func (r *Registry) send(msg protocol.Message, addr net.Addr) {
	if r.sender == nil {
		return
	}
	// failures are logged by the transport; UDP sends are not retried
	_ = r.sender.Send(msg, addr)
}

func (r *Registry) drain(conn *Connection, stream *Stream) {
	stream.Drain(conn.id, func(f protocol.AudioFrame) error {
		if r.sender == nil {
			return nil
		}
		return r.sender.Send(f, conn.addr)
	})
}

// Poll runs the periodic work of the registry: queued application requests,
// deadline expiry on every tick, heartbeats, and the outbound audio pump. It
// returns when it next needs to run.
func (r *Registry) Poll(now time.Time) time.Time {
	if r.tick == nil {
		// first tick is due immediately
		r.tick = timing.NewPeriodic(r.cfg.TickInterval, now.Add(-r.cfg.TickInterval))
		r.heartbeat = timing.NewPeriodic(r.cfg.HeartbeatInterval, now)
	}

	r.serveRequests(now)

	if r.tick.Due(now) {
		r.expire(now)
	}
	if r.heartbeat.Due(now) {
		r.sendHeartbeats(now)
	}

	for _, conn := range r.connections() {
		if stream := conn.stream(); stream != nil {
			r.drain(conn, stream)
		}
	}

	return timing.Earliest(r.tick.Next(), r.heartbeat.Next())
}

func (r *Registry) expire(now time.Time) {
	for _, id := range r.deadlines.PopExpired(now) {
		conn := r.lookup(id)
		if conn == nil {
			continue
		}

		ev := evExpired
		if conn.startExpired(now) {
			ev = evStartTimeout
		}
		logrus.WithFields(logrus.Fields{
			"function":   "expire",
			"session_id": id,
			"state":      conn.State().String(),
			"event":      ev.String(),
		}).Warn("Connection deadline expired")

		r.fire(conn, ev, nil, now)
		if r.lookup(id) != nil {
			r.deadlines.Schedule(id, conn.deadline())
		}
	}
}

func (r *Registry) sendHeartbeats(now time.Time) {
	for _, conn := range r.connections() {
		if s, ok := conn.current().(stopPending); ok && !s.byPeer {
			// our IOStop may have been lost
			r.fire(conn, evStopRequest, nil, now)
			continue
		}
		r.send(protocol.Heartbeat{SessionID: conn.id}, conn.addr)
	}
}

func (r *Registry) serveRequests(now time.Time) {
	for {
		select {
		case req := <-r.requests:
			req.done <- r.handleRequest(req, now)
		default:
			return
		}
	}
}

func (r *Registry) handleRequest(req request, now time.Time) error {
	conn := r.lookup(req.id)
	if conn == nil {
		return ErrUnknownSession
	}

	switch req.kind {
	case reqStopIO:
		r.fire(conn, evStopRequest, nil, now)
		return nil

	case reqCompleteStart:
		if s, ok := conn.current().(startPending); !ok || !s.requested {
			return ErrInvalidTransition
		}
		ev := evStartDenied
		if req.accepted {
			ev = evStartAccepted
		}
		r.fire(conn, ev, nil, now)
		return nil
	}
	return ErrInvalidTransition
}

func (r *Registry) submit(ctx context.Context, req request) error {
	req.done = make(chan error, 1)
	select {
	case <-r.stopped:
		return ErrNotRunning
	default:
	}

	select {
	case r.requests <- req:
	default:
		return ErrRequestQueueFull
	}

	select {
	case err := <-req.done:
		return err
	case <-r.stopped:
		// the loop may have answered just before it stopped
		select {
		case err := <-req.done:
			return err
		default:
			return ErrNotRunning
		}
	case <-ctx.Done():
		return ctx.Err()
	}
}

// StopIO asks the peer of session id to stop I/O. The connection enters
// IOStopPending and closes once the peer acknowledges. The request is carried
// out by the network loop; StopIO waits for it or for ctx. It must not be
// called from a Collaborator method.
func (r *Registry) StopIO(ctx context.Context, id protocol.SessionID) error {
	return r.submit(ctx, request{kind: reqStopIO, id: id})
}

// CompleteStartIO answers a start that PollStartIO left pending. It must not
// be called from a Collaborator method.
func (r *Registry) CompleteStartIO(ctx context.Context, id protocol.SessionID, accepted bool) error {
	return r.submit(ctx, request{kind: reqCompleteStart, id: id, accepted: accepted})
}

// Teardown releases every connection after the network loop has stopped.
// Pending and later requests fail with ErrNotRunning.
// Active rings are closed and each connection is reported as stopped.
func (r *Registry) Teardown() {
	r.stopOnce.Do(func() { close(r.stopped) })

	for _, conn := range r.connections() {
		if stream := conn.stream(); stream != nil {
			stream.Close()
		}
		conn.setState(inactive{reason: CloseStopped})
		r.remove(conn, CloseStopped)
	}

	for {
		select {
		case req := <-r.requests:
			req.done <- ErrNotRunning
		default:
			return
		}
	}
}

// Len returns the number of live connections.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.byID)
}

// Dropped returns how many messages were dropped for lack of a session.
func (r *Registry) Dropped() uint64 {
	return r.dropped.Load()
}

// Sessions returns snapshots of all live connections ordered by id.
func (r *Registry) Sessions() []Snapshot {
	conns := r.connections()
	snaps := make([]Snapshot, 0, len(conns))
	for _, conn := range conns {
		snaps = append(snaps, conn.Snapshot())
	}
	return snaps
}

// Session returns the snapshot of one connection.
func (r *Registry) Session(id protocol.SessionID) (Snapshot, error) {
	conn := r.lookup(id)
	if conn == nil {
		return Snapshot{}, ErrUnknownSession
	}
	return conn.Snapshot(), nil
}

func (r *Registry) lookup(id protocol.SessionID) *Connection {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.byID[id]
}

func (r *Registry) lookupAddr(key string) *Connection {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.byAddr[key]
}

// connections returns the live connections ordered by id.
func (r *Registry) connections() []*Connection {
	r.mu.RLock()
	conns := make([]*Connection, 0, len(r.byID))
	for _, conn := range r.byID {
		conns = append(conns, conn)
	}
	r.mu.RUnlock()

	sort.Slice(conns, func(i, j int) bool { return conns[i].id < conns[j].id })
	return conns
}
