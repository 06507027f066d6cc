// File: facade/server.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// Package facade is the host-facing TCP server built on the reactor core.
// Event handlers run on an event pool, never on the loop goroutine.
package facade

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/netip"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/momentics/hioload-tcp/adapters"
	"github.com/momentics/hioload-tcp/api"
	"github.com/momentics/hioload-tcp/events"
	"github.com/momentics/hioload-tcp/internal/concurrency"
	"github.com/momentics/hioload-tcp/internal/logging"
	"github.com/momentics/hioload-tcp/pool"
	"github.com/momentics/hioload-tcp/server"
)

const (
	evClientConnected = "CLIENT_CONNECTED"
	evErrorOccurred   = "ERROR_OCCURRED"
	evListening       = "LISTENING"
	evClosed          = "CLOSED"
	evNotCloseable    = "CLIENT_NOT_CLOSEABLE_ERROR"
)

const (
	stateNotStarted int32 = iota
	stateListening
	stateClosing
	stateClosed
)

// Server is a reactor TCP server with an event API.
type Server struct {
	cfg     *Config
	core    *server.Server
	events  *events.Emitter
	pool    api.Executor
	buffers *pool.SlabPool
	control *adapters.ControlAdapter
	log     *logrus.Entry

	mu        sync.Mutex
	bound     bool
	started   bool
	state     atomic.Int32
	keepAlive atomic.Int64

	connsMu sync.RWMutex
	conns   map[uuid.UUID]*Conn
	closing sync.WaitGroup // connection closed events not yet emitted

	cancel context.CancelFunc
	done   chan struct{}
	runErr error
}

var _ api.GracefulShutdown = (*Server)(nil)

// NewServer builds a server from cfg (nil uses DefaultConfig) and opts.
func NewServer(cfg *Config, opts ...Option) (*Server, error) {
	if cfg == nil {
		cfg = DefaultConfig()
	} else {
		copied := *cfg
		cfg = &copied
	}
	for _, opt := range opts {
		opt(cfg)
	}
	if err := logging.SetLevel(cfg.LogLevel); err != nil {
		return nil, fmt.Errorf("log level: %w", err)
	}

	s := &Server{
		cfg:     cfg,
		events:  events.NewEmitter(),
		log:     logging.NewLogger("facade"),
		conns:   make(map[uuid.UUID]*Conn),
		done:    make(chan struct{}),
		buffers: pool.NewSlabPool(0),
	}
	s.keepAlive.Store(int64(cfg.KeepAlive))
	s.pool = concurrency.NewExecutor(cfg.EventWorkers, func(r any) {
		s.log.WithField("panic", r).Error("event handler panicked")
	})

	core, err := server.NewServer(server.Capabilities{
		Factory: serverHost{s},
		Events:  serverHost{s},
	},
		server.WithBacklog(cfg.Backlog),
		server.WithInboxCapacity(cfg.InboxCapacity),
		server.WithWorkers(cfg.Workers),
		server.WithAffinity(cfg.LoopCPUs...),
	)
	if err != nil {
		s.pool.Close()
		return nil, err
	}
	s.core = core

	s.control = adapters.NewControlAdapter(s.core.Stats)
	s.control.RegisterDebugProbe("facade.status", func() any { return s.status() })
	s.control.RegisterDebugProbe("facade.buffers", func() any { return s.buffers.Stats() })
	s.control.RegisterDebugProbe("facade.events", func() any { return s.pool.Stats() })
	s.control.OnReload(s.reload)
	if err := s.control.SetConfig(cfg.Map()); err != nil {
		return nil, err
	}
	return s, nil
}

// reload applies the hot-reloadable keys.
func (s *Server) reload() {
	if v, ok := s.control.Get("log_level"); ok {
		if name, _ := v.(string); name != "" {
			if err := logging.SetLevel(name); err != nil {
				s.log.WithError(err).Warn("ignoring log level")
			}
		}
	}
	if v, ok := s.control.Get("keepalive"); ok {
		switch d := v.(type) {
		case time.Duration:
			s.keepAlive.Store(int64(d))
		case string:
			if parsed, err := time.ParseDuration(d); err == nil {
				s.keepAlive.Store(int64(parsed))
			}
		}
	}
}

// Listen binds host:port. An empty host binds "::" and falls back to
// "0.0.0.0" when IPv6 is unavailable.
func (s *Server) Listen(host string, port int) error {
	if port < 0 || port > 65535 {
		return api.ErrInvalidPort
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state.Load() >= stateClosing {
		return api.ErrClosed
	}
	if s.bound {
		return api.ErrInvalidState
	}

	host = strings.TrimSpace(host)
	if host == "" {
		if err := s.core.Bind(netip.IPv6Unspecified(), port); err != nil {
			s.log.WithError(err).Debug("ipv6 bind failed, falling back to ipv4")
			if err := s.core.Bind(netip.IPv4Unspecified(), port); err != nil {
				return err
			}
		}
	} else {
		ip, err := resolve(host)
		if err != nil {
			return err
		}
		if err := s.core.Bind(ip, port); err != nil {
			return err
		}
	}
	if err := s.core.Listen(); err != nil {
		return err
	}
	s.bound = true
	return nil
}

func resolve(host string) (netip.Addr, error) {
	if ip, err := netip.ParseAddr(host); err == nil {
		return ip.Unmap(), nil
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	ips, err := net.DefaultResolver.LookupNetIP(ctx, "ip", host)
	if err != nil {
		return netip.Addr{}, fmt.Errorf("resolve %s: %w", host, err)
	}
	if len(ips) == 0 {
		return netip.Addr{}, fmt.Errorf("resolve %s: no addresses", host)
	}
	return ips[0].Unmap(), nil
}

// Start runs the loop on its own goroutine and emits the listening event.
func (s *Server) Start() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	switch {
	case s.state.Load() >= stateClosing:
		return api.ErrClosed
	case !s.bound:
		return api.ErrInvalidState
	case s.started:
		return api.ErrLoopRunning
	}
	s.started = true
	s.state.Store(stateListening)

	ctx, cancel := context.WithCancel(context.Background())
	s.cancel = cancel
	go s.run(ctx)
	s.dispatch(func() { _ = s.events.Emit(evListening, nil) })
	addr, _ := s.core.BoundAddress(nil).(*api.Address)
	s.log.WithField("addr", addr.String()).Info("listening")
	return nil
}

func (s *Server) run(ctx context.Context) {
	defer close(s.done)
	err := s.core.Run(ctx)
	s.cancel()
	if err != nil {
		s.log.WithError(err).Error("loop failed")
	}
	if derr := s.core.Destroy(); derr != nil && err == nil {
		err = derr
	}
	s.runErr = err
	s.pool.Close()
}

// Close closes every connection and then the listening socket. The closed
// event fires once, after every connection's closed event. Idempotent.
func (s *Server) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	switch s.state.Load() {
	case stateClosing, stateClosed:
		return nil
	case stateNotStarted:
		s.state.Store(stateClosed)
		err := s.core.Destroy()
		s.pool.Close()
		close(s.done)
		_ = s.events.Emit(evClosed, nil)
		s.events.RemoveAll()
		return err
	}
	s.state.Store(stateClosing)
	if err := s.core.Close(); err != nil {
		s.log.WithError(err).Warn("close request failed, cancelling loop")
		s.cancel()
		return err
	}
	return nil
}

// Wait blocks until the loop has exited and every resource is released.
func (s *Server) Wait() error {
	<-s.done
	return s.runErr
}

// Shutdown closes the server and waits for the teardown.
func (s *Server) Shutdown() error {
	if err := s.Close(); err != nil {
		return err
	}
	return s.Wait()
}

// Address returns the bound address, or nil when not listening.
func (s *Server) Address() *api.Address {
	s.mu.Lock()
	bound := s.bound
	s.mu.Unlock()
	if !bound || s.state.Load() >= stateClosing {
		return nil
	}
	addr, _ := s.core.BoundAddress(nil).(*api.Address)
	return addr
}

// ConnectionsCount returns the number of open connections.
func (s *Server) ConnectionsCount() int {
	s.connsMu.RLock()
	defer s.connsMu.RUnlock()
	return len(s.conns)
}

// Control exposes config, stats and debug probes.
func (s *Server) Control() api.Control { return s.control }

func (s *Server) status() string {
	switch s.state.Load() {
	case stateListening:
		return "LISTENING"
	case stateClosing:
		return "CLOSING"
	case stateClosed:
		return "CLOSED"
	default:
		return "NOT_STARTED"
	}
}

func (s *Server) String() string {
	st := s.status()
	if st == "LISTENING" {
		if addr := s.Address(); addr != nil {
			return fmt.Sprintf("TCP server {status=%s, address=(IP=%s, version=%d, port=%d)}",
				st, addr.IP, addr.Version, addr.Port)
		}
	}
	return "TCP server {status=" + st + "}"
}

// OnClientConnected registers fn for every accepted connection.
func (s *Server) OnClientConnected(fn func(c *Conn)) error {
	if s.state.Load() >= stateClosing {
		return api.ErrClosed
	}
	_, err := s.events.On(evClientConnected, func(data any) { fn(data.(*Conn)) })
	return err
}

// OnErrorOccurred registers fn for server errors.
func (s *Server) OnErrorOccurred(fn func(err error)) error {
	if s.state.Load() >= stateClosing {
		return api.ErrClosed
	}
	_, err := s.events.On(evErrorOccurred, func(data any) { fn(data.(error)) })
	return err
}

// OnceListening registers fn for the listening event.
func (s *Server) OnceListening(fn func()) error {
	if s.state.Load() >= stateClosing {
		return api.ErrClosed
	}
	_, err := s.events.Once(evListening, func(any) { fn() })
	return err
}

// OnceClosed registers fn for the closed event.
func (s *Server) OnceClosed(fn func()) error {
	if s.state.Load() == stateClosed {
		return api.ErrClosed
	}
	_, err := s.events.Once(evClosed, func(any) { fn() })
	return err
}

// dispatch runs fn on the event pool, or inline once the pool is gone.
func (s *Server) dispatch(fn func()) {
	if err := s.pool.Submit(fn); err != nil {
		if !errors.Is(err, concurrency.ErrExecutorClosed) {
			s.log.WithError(err).Warn("event dispatch failed")
		}
		fn()
	}
}

func (s *Server) addConn(c *Conn) {
	s.connsMu.Lock()
	s.conns[c.id] = c
	s.connsMu.Unlock()
}

func (s *Server) removeConn(c *Conn) {
	s.connsMu.Lock()
	delete(s.conns, c.id)
	s.connsMu.Unlock()
}

func (s *Server) finishClosing() {
	s.closing.Wait()
	s.state.Store(stateClosed)
	s.log.Info("closed")
	_ = s.events.Emit(evClosed, nil)
	s.events.RemoveAll()
}

// serverHost implements the core capabilities for a Server.
type serverHost struct{ s *Server }

func (h serverHost) CreateConnectionStorage() *server.Connection {
	return server.NewConnectionStorage()
}

func (h serverHost) CreateConnectionWrapper(core *server.Connection) any {
	s := h.s
	if s.state.Load() != stateListening {
		return nil
	}
	c := newConn(s, core)
	if err := core.Initialize(server.ConnectionCapabilities{
		Close:  c.forceClose,
		Events: connHost{c},
	}); err != nil {
		s.log.WithError(err).Warn("connection initialization failed")
		return nil
	}
	return c
}

func (h serverHost) ClientConnected(wrapper any) {
	s := h.s
	c := wrapper.(*Conn)
	c.accepted()
	s.addConn(c)
	delay := time.Duration(s.keepAlive.Load())
	if err := c.core.SetKeepAlive(true, delay, c.keepAliveDone(true)); err != nil {
		s.log.WithError(err).Debug("keepalive not scheduled")
	}
	s.dispatch(func() { _ = s.events.Emit(evClientConnected, c) })
}

func (h serverHost) ErrorOccurred(err error) {
	h.s.dispatch(func() { _ = h.s.events.Emit(evErrorOccurred, err) })
}

func (h serverHost) Closed() {
	h.s.dispatch(h.s.finishClosing)
}
