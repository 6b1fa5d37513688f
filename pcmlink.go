package pcmlink

import (
	"context"
	"errors"
	"fmt"
	"net"
	"sync"

	"github.com/google/uuid"
	"github.com/opd-ai/pcmlink/config"
	"github.com/opd-ai/pcmlink/discovery"
	"github.com/opd-ai/pcmlink/protocol"
	"github.com/opd-ai/pcmlink/session"
	"github.com/opd-ai/pcmlink/timing"
	"github.com/opd-ai/pcmlink/transport"
	"github.com/sirupsen/logrus"
)

var (
	// ErrAlreadyStarted is returned by a second call to Start.
	ErrAlreadyStarted = errors.New("server already started")

	// ErrNotRunning is returned by operations that need the network loop
	// while it is not running.
	ErrNotRunning = session.ErrNotRunning
)

// Server is one pcmlink endpoint: a UDP transport, the session registry fed
// by it, and optionally an mDNS advertisement.
type Server struct {
	id   uuid.UUID
	opts config.Options

	tr  *transport.UDPTransport
	reg *session.Registry

	mu         sync.Mutex
	started    bool
	running    bool
	cancel     context.CancelFunc
	done       chan struct{}
	serveErr   error
	advertiser *discovery.Advertiser
}

// New binds the socket described by opts (nil means config.Default) and
// prepares a registry reporting to collab. Nothing is received until Start.
func New(opts *config.Options, collab session.Collaborator) (*Server, error) {
	if opts == nil {
		d := config.Default()
		opts = &d
	}
	if err := opts.Validate(); err != nil {
		return nil, fmt.Errorf("invalid options: %w", err)
	}

	cfg, err := opts.SessionConfig()
	if err != nil {
		return nil, err
	}

	tr, err := transport.NewUDPTransport(opts.ListenAddr, opts.DSCP)
	if err != nil {
		return nil, fmt.Errorf("binding %s: %w", opts.ListenAddr, err)
	}
	tr.SetPollInterval(cfg.TickInterval)

	reg, err := session.NewRegistry(cfg, tr, collab)
	if err != nil {
		_ = tr.Close()
		return nil, err
	}

	s := &Server{
		id:   uuid.New(),
		opts: *opts,
		tr:   tr,
		reg:  reg,
		done: make(chan struct{}),
	}

	logrus.WithFields(logrus.Fields{
		"function":    "New",
		"instance_id": s.id.String(),
		"local_addr":  tr.LocalAddr().String(),
		"sample_rate": cfg.SampleRate,
		"format":      cfg.Format.String(),
	}).Info("Server created")

	return s, nil
}

// SetTimeProvider replaces the clock driving every deadline. Must be called
// before Start.
func (s *Server) SetTimeProvider(tp timing.TimeProvider) {
	s.tr.SetTimeProvider(tp)
}

// Start runs the network loop in its own goroutine until ctx ends or
// Shutdown is called, and starts advertising if configured.
func (s *Server) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.started {
		return ErrAlreadyStarted
	}
	s.started = true
	s.running = true

	ctx, s.cancel = context.WithCancel(ctx)
	go s.serve(ctx)

	if s.opts.Advertise {
		s.advertise()
	}

	logrus.WithFields(logrus.Fields{
		"function":    "Start",
		"instance_id": s.id.String(),
		"local_addr":  s.tr.LocalAddr().String(),
	}).Info("Server started")
	return nil
}

func (s *Server) serve(ctx context.Context) {
	err := s.tr.Serve(ctx, s.reg)

	s.mu.Lock()
	s.running = false
	s.serveErr = err
	adv := s.advertiser
	s.advertiser = nil
	s.mu.Unlock()

	s.reg.Teardown()

	if adv != nil {
		if err := adv.Shutdown(); err != nil {
			logrus.WithFields(logrus.Fields{
				"function": "serve",
				"error":    err.Error(),
			}).Warn("Failed to stop mDNS advertisement")
		}
	}
	close(s.done)
}

// advertise publishes the server over mDNS. A failure only disables
// discovery. Callers hold mu.
func (s *Server) advertise() {
	port := 0
	if udp, ok := s.tr.LocalAddr().(*net.UDPAddr); ok {
		port = udp.Port
	}

	cfg := s.reg.Config()
	adv, err := discovery.Advertise(discovery.Advertisement{
		Instance:    s.opts.ServiceName,
		Port:        port,
		ID:          s.id.String(),
		SampleRate:  cfg.SampleRate,
		Format:      cfg.Format,
		ChannelsIn:  cfg.ChannelsIn,
		ChannelsOut: cfg.ChannelsOut,
	})
	if err != nil {
		logrus.WithFields(logrus.Fields{
			"function": "advertise",
			"error":    err.Error(),
		}).Warn("mDNS advertisement unavailable")
		return
	}
	s.advertiser = adv
}

// Shutdown stops the network loop, closes the socket and releases every
// connection, reporting each one as stopped. It waits for the loop to exit
// or for ctx. Calling Shutdown on a server that was never started only
// closes the socket.
func (s *Server) Shutdown(ctx context.Context) error {
	s.mu.Lock()
	started := s.started
	cancel := s.cancel
	s.started = true
	s.mu.Unlock()

	if !started {
		err := s.tr.Close()
		s.reg.Teardown()
		close(s.done)
		return err
	}

	if cancel != nil {
		cancel()
	}
	select {
	case <-s.done:
	case <-ctx.Done():
		return ctx.Err()
	}

	logrus.WithFields(logrus.Fields{
		"function":    "Shutdown",
		"instance_id": s.id.String(),
	}).Info("Server stopped")
	return s.Err()
}

// Done is closed once the server has stopped.
func (s *Server) Done() <-chan struct{} {
	return s.done
}

// Err returns the error that stopped the network loop, if any.
func (s *Server) Err() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.serveErr
}

// IsRunning reports whether the network loop is running.
func (s *Server) IsRunning() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.running
}

// ID returns the instance id, unique per Server.
func (s *Server) ID() string {
	return s.id.String()
}

// LocalAddr returns the bound UDP address.
func (s *Server) LocalAddr() net.Addr {
	return s.tr.LocalAddr()
}

// Options returns the options the server was created with.
func (s *Server) Options() config.Options {
	return s.opts
}

// StopIO asks the peer of session id to stop I/O.
func (s *Server) StopIO(ctx context.Context, id protocol.SessionID) error {
	if !s.IsRunning() {
		return ErrNotRunning
	}
	return s.reg.StopIO(ctx, id)
}

// CompleteStartIO answers a start the collaborator left pending.
func (s *Server) CompleteStartIO(ctx context.Context, id protocol.SessionID, accepted bool) error {
	if !s.IsRunning() {
		return ErrNotRunning
	}
	return s.reg.CompleteStartIO(ctx, id, accepted)
}

// Sessions returns snapshots of the live connections ordered by id.
func (s *Server) Sessions() []session.Snapshot {
	return s.reg.Sessions()
}

// Session returns the snapshot of one connection.
func (s *Server) Session(id protocol.SessionID) (session.Snapshot, error) {
	return s.reg.Session(id)
}

// Stats returns the datagram counters of the socket.
func (s *Server) Stats() transport.Stats {
	return s.tr.Stats()
}

// Dropped returns how many messages arrived for no live session.
func (s *Server) Dropped() uint64 {
	return s.reg.Dropped()
}
