// File: server/server.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// Server handle: listening socket, accept path and shutdown broadcast.

package server

import (
	"net/netip"
	"sync"
	"sync/atomic"

	"github.com/sirupsen/logrus"

	"github.com/momentics/hioload-tcp/api"
	"github.com/momentics/hioload-tcp/control"
	"github.com/momentics/hioload-tcp/internal/logging"
	"github.com/momentics/hioload-tcp/reactor"
)

// ServerState is the lifecycle position of a Server.
type ServerState int32

const (
	ServerUnbound ServerState = iota
	ServerBound
	ServerListening
	ServerClosing
	ServerClosed
)

func (s ServerState) String() string {
	switch s {
	case ServerUnbound:
		return "UNBOUND"
	case ServerBound:
		return "BOUND"
	case ServerListening:
		return "LISTENING"
	case ServerClosing:
		return "CLOSING"
	case ServerClosed:
		return "CLOSED"
	default:
		return "UNKNOWN"
	}
}

// Server owns one loop, its listening socket and every accepted Connection.
type Server struct {
	bridge
	cfg    *Config
	caps   Capabilities
	loop   *reactor.Loop
	tcp    *reactor.TCP
	ledger *control.Ledger
	log    *logrus.Entry

	state     atomic.Int32
	running   atomic.Bool
	destroyed atomic.Bool
	nextID    atomic.Uint64
	capLease  *control.Lease
	bound     netip.AddrPort

	// gate orders submits against the loop stopping for good; once stopped
	// is set no request can reach the inbox.
	gate    sync.RWMutex
	stopped bool

	connsMu sync.Mutex
	conns   map[ConnID]*Connection
}

// NewServer creates an unbound server and its loop. Factory and Events are
// required; a nil Exceptions uses DefaultExceptionFactory.
func NewServer(caps Capabilities, opts ...ServerOption) (*Server, error) {
	api.Precondition(caps.Factory != nil, "connection factory capability is required")
	api.Precondition(caps.Events != nil, "server events capability is required")
	if caps.Exceptions == nil {
		caps.Exceptions = DefaultExceptionFactory
	}
	cfg := DefaultConfig()
	for _, opt := range opts {
		opt(cfg)
	}
	if cfg.Backlog <= 0 {
		cfg.Backlog = DefaultBacklog
	}
	if cfg.Logger == nil {
		cfg.Logger = logging.NewLogger("server")
	}

	loop, err := reactor.NewLoop(reactor.Options{
		InboxCapacity: cfg.InboxCapacity,
		Workers:       cfg.Workers,
		Affinity:      cfg.Affinity,
		Logger:        cfg.Logger.WithField("tag", "reactor"),
	})
	if err != nil {
		return nil, api.NewError(api.ErrCodeReactorFailure, "create loop").WithCause(err)
	}
	tcp, err := loop.NewTCP()
	if err != nil {
		_ = loop.Release()
		return nil, api.NewError(api.ErrCodeReactorFailure, "create server socket").WithCause(err)
	}

	s := &Server{
		bridge: bridge{log: cfg.Logger, metrics: control.NewMetricsRegistry()},
		cfg:    cfg,
		caps:   caps,
		loop:   loop,
		tcp:    tcp,
		ledger: control.NewLedger(),
		log:    cfg.Logger,
		conns:  make(map[ConnID]*Connection),
	}
	tcp.SetData(s)
	s.capLease = s.ledger.Acquire("capability")
	return s, nil
}

// State returns the lifecycle state.
func (s *Server) State() ServerState { return ServerState(s.state.Load()) }

// Bind binds the listening socket. Only valid before Run.
func (s *Server) Bind(ip netip.Addr, port int) error {
	if s.running.Load() {
		return api.ErrLoopRunning
	}
	if s.State() != ServerUnbound || s.destroyed.Load() {
		return api.ErrInvalidState
	}
	if port < 0 || port > 65535 {
		return api.ErrInvalidPort
	}
	if err := s.tcp.Bind(netip.AddrPortFrom(ip, uint16(port))); err != nil {
		return s.exception(err)
	}
	bound, err := s.tcp.Sockname()
	if err != nil {
		return s.exception(err)
	}
	s.bound = bound
	s.state.Store(int32(ServerBound))
	s.log.WithField("addr", bound.String()).Debug("bound")
	return nil
}

// Listen starts accepting connections. Only valid after Bind and before Run.
func (s *Server) Listen() error {
	if s.running.Load() {
		return api.ErrLoopRunning
	}
	if s.State() != ServerBound {
		return api.ErrInvalidState
	}
	if err := s.tcp.Listen(s.cfg.Backlog, s.onConnection); err != nil {
		return s.exception(err)
	}
	s.state.Store(int32(ServerListening))
	return nil
}

// BoundAddress formats the bound endpoint; nil create uses api.NewAddress.
func (s *Server) BoundAddress(create AddressFactory) any {
	return formatAddress(s.bound, create)
}

// ConnectionsCount returns the number of registered connections.
func (s *Server) ConnectionsCount() int {
	s.connsMu.Lock()
	defer s.connsMu.Unlock()
	return len(s.conns)
}

// Ledger exposes the acquire/release accounting.
func (s *Server) Ledger() *control.Ledger { return s.ledger }

// Metrics exposes the server counters.
func (s *Server) Metrics() *control.MetricsRegistry { return s.metrics }

// Stats merges counters, ledger balances and loop statistics.
func (s *Server) Stats() map[string]any {
	out := s.metrics.GetSnapshot()
	for k, v := range s.ledger.Snapshot() {
		out["ledger."+k] = v
	}
	for k, v := range s.loop.Stats() {
		out["loop."+k] = v
	}
	out["connections"] = s.ConnectionsCount()
	out["state"] = s.State().String()
	return out
}

func (s *Server) onConnection(status error) {
	if status != nil {
		s.emitError(s.exception(status))
		return
	}
	var c *Connection
	if err := s.call("CreateConnectionStorage", func() { c = s.caps.Factory.CreateConnectionStorage() }); err != nil {
		s.emitError(err)
		return
	}
	if c == nil {
		s.emitError(api.NewError(api.ErrCodeResourceExhausted, "connection factory returned nil"))
		return
	}
	c.srv = s
	c.id = ConnID(s.nextID.Add(1))
	c.state.Store(int32(ConnInitializing))

	c.closeMu.RLock()
	var wrapper any
	err := s.call("CreateConnectionWrapper", func() { wrapper = s.caps.Factory.CreateConnectionWrapper(c) })
	if err != nil || c.tcp == nil {
		c.closeMu.RUnlock()
		c.discard()
		if err != nil {
			s.emitError(err)
		} else {
			s.metrics.Inc("connections.rejected")
		}
		return
	}
	if err := s.tcp.Accept(c.tcp); err != nil {
		c.closeMu.RUnlock()
		c.discard()
		s.emitError(s.exception(err))
		return
	}
	c.local, _ = c.tcp.Sockname()
	c.remote, _ = c.tcp.Peername()
	c.wrapper = wrapper
	s.connsMu.Lock()
	s.conns[c.id] = c
	s.connsMu.Unlock()
	c.state.Store(int32(ConnInitialized))
	c.closeMu.RUnlock()

	s.metrics.Inc("connections.accepted")
	contextOf(s.loop).Log.WithField("conn", c.id).WithField("peer", c.remote.String()).Debug("accepted")
	_ = s.call("ServerEvents.ClientConnected", func() { s.caps.Events.ClientConnected(wrapper) })
}

func (s *Server) forget(c *Connection) {
	s.connsMu.Lock()
	delete(s.conns, c.id)
	s.connsMu.Unlock()
}

// Close closes every live connection and then the listening socket. The
// server's closed event fires after every connection's. Safe from any
// goroutine; repeated calls are no-ops.
func (s *Server) Close() error {
	return s.submit(&request{kind: reqServerClose})
}

func (s *Server) onCloseWake(lc *LoopContext, r *request) {
	s.finish(r)
	if s.tcp.IsClosing() {
		return
	}
	s.state.Store(int32(ServerClosing))
	lc.Log.WithField("connections", s.ConnectionsCount()).Debug("closing")
	s.loop.Walk(func(h reactor.Handle) {
		if h == reactor.Handle(s.tcp) || h.IsClosing() {
			return
		}
		switch v := h.Data().(type) {
		case *Connection:
			v.beginClose(nil)
		case *request:
			// finishes on its own dispatch
		default:
			s.loop.Close(h, nil)
		}
	})
	s.loop.Close(s.tcp, func(reactor.Handle) {
		s.state.Store(int32(ServerClosed))
		_ = s.call("ServerEvents.Closed", s.caps.Events.Closed)
	})
}

// Destroy frees the loop and the host capabilities. The server must be
// closed, or never run.
func (s *Server) Destroy() error {
	if s.running.Load() {
		return api.ErrLoopRunning
	}
	if s.State() == ServerClosing {
		return api.ErrNotClosed
	}
	if !s.destroyed.CompareAndSwap(false, true) {
		return nil
	}
	s.capLease.Release()
	return s.loop.Release()
}
