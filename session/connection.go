package session

import (
	"net"
	"sync"
	"time"

	"github.com/opd-ai/pcmlink/protocol"
	"github.com/opd-ai/pcmlink/timing"
)

// Connection is one negotiated peer. Its fields are written only by the
// network goroutine; the lock exists so Snapshot can read from elsewhere.
type Connection struct {
	id      protocol.SessionID
	addr    net.Addr
	key     string
	params  Params
	created time.Time

	mu            sync.RWMutex
	state         ioState
	lastActivity  time.Time
	expiry        time.Time
	startDeadline time.Time
}

// Snapshot is a point-in-time copy of a connection for reporting.
type Snapshot struct {
	Info
	State        State
	Created      time.Time
	LastActivity time.Time
	Expiry       time.Time
	Stream       StreamStats
}

func newConnection(id protocol.SessionID, addr net.Addr, params Params, now time.Time) *Connection {
	return &Connection{
		id:           id,
		addr:         addr,
		key:          addr.String(),
		params:       params,
		created:      now,
		state:        startPending{},
		lastActivity: now,
	}
}

// ID returns the assigned session id.
func (c *Connection) ID() protocol.SessionID { return c.id }

// Info returns the identity handed to the collaborator.
func (c *Connection) Info() Info {
	return Info{ID: c.id, Addr: c.addr, Params: c.params}
}

// State returns the current lifecycle state.
func (c *Connection) State() State {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.state.state()
}

// Snapshot copies the connection's observable state.
func (c *Connection) Snapshot() Snapshot {
	c.mu.RLock()
	defer c.mu.RUnlock()

	snap := Snapshot{
		Info:         c.Info(),
		State:        c.state.state(),
		Created:      c.created,
		LastActivity: c.lastActivity,
		Expiry:       c.expiry,
	}
	if a, ok := c.state.(active); ok && a.stream != nil {
		snap.Stream = a.stream.Stats()
	}
	return snap
}

func (c *Connection) current() ioState {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.state
}

func (c *Connection) setState(s ioState) {
	c.mu.Lock()
	c.state = s
	c.mu.Unlock()
}

func (c *Connection) stream() *Stream {
	if a, ok := c.current().(active); ok {
		return a.stream
	}
	return nil
}

// touch records activity at now and returns the new liveness expiry.
func (c *Connection) touch(now time.Time, timeout time.Duration) time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.lastActivity = now
	c.expiry = now.Add(timeout)
	return c.expiry
}

func (c *Connection) setStartDeadline(at time.Time) {
	c.mu.Lock()
	c.startDeadline = at
	c.mu.Unlock()
}

// deadline is the earliest moment the scheduler must look at c again.
func (c *Connection) deadline() time.Time {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return timing.Earliest(c.expiry, c.startDeadline)
}

// clearStartDeadline drops the pending-start timer and reports whether one was set.
func (c *Connection) clearStartDeadline() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	wasSet := !c.startDeadline.IsZero()
	c.startDeadline = time.Time{}
	return wasSet
}

func (c *Connection) startExpired(now time.Time) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return !c.startDeadline.IsZero() && now.After(c.startDeadline)
}
