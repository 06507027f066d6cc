// File: server/connection.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// Per-connection state machine. Fields below the mutex are touched only on
// the loop goroutine; host goroutines go through the request gateway.

package server

import (
	"errors"
	"io"
	"net/netip"
	"sync"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/momentics/hioload-tcp/api"
	"github.com/momentics/hioload-tcp/control"
	"github.com/momentics/hioload-tcp/reactor"
)

// ConnState is the lifecycle position of a Connection.
type ConnState int32

const (
	ConnAccepted ConnState = iota
	ConnInitializing
	ConnInitialized
	ConnClosing
	ConnClosed
)

func (s ConnState) String() string {
	switch s {
	case ConnAccepted:
		return "ACCEPTED"
	case ConnInitializing:
		return "INITIALIZING"
	case ConnInitialized:
		return "INITIALIZED"
	case ConnClosing:
		return "CLOSING"
	case ConnClosed:
		return "CLOSED"
	default:
		return "UNKNOWN"
	}
}

// ConnID identifies a connection inside its server's registry.
type ConnID uint64

// Connection is one accepted TCP stream.
type Connection struct {
	id  ConnID
	srv *Server

	// closeMu is held shared by every in-flight operation.
	closeMu    sync.RWMutex
	readIssued atomic.Bool
	state      atomic.Int32
	destroyed  atomic.Bool
	capsFreed  atomic.Bool

	tcp        *reactor.TCP
	latestRead *request
	caps       ConnectionCapabilities
	capLease   *control.Lease
	wrapper    any
	local      netip.AddrPort
	remote     netip.AddrPort
}

// NewConnectionStorage returns empty storage for ConnectionFactory.
func NewConnectionStorage() *Connection {
	return &Connection{}
}

// Initialize accepts the connection. It may only be called from
// ConnectionFactory.CreateConnectionWrapper, and only once.
func (c *Connection) Initialize(caps ConnectionCapabilities) error {
	api.Precondition(caps.Events != nil, "connection events capability is required")
	api.Precondition(c.srv != nil && c.State() == ConnInitializing,
		"Initialize called outside CreateConnectionWrapper")
	if c.tcp != nil {
		return api.ErrInvalidState
	}
	tcp, err := c.srv.loop.NewTCP()
	if err != nil {
		return err
	}
	tcp.SetData(c)
	c.tcp = tcp
	c.caps = caps
	c.capLease = c.srv.ledger.Acquire("capability")
	return nil
}

// ID returns the registry key.
func (c *Connection) ID() ConnID { return c.id }

// State returns the lifecycle state.
func (c *Connection) State() ConnState { return ConnState(c.state.Load()) }

// Wrapper returns the host value built by CreateConnectionWrapper.
func (c *Connection) Wrapper() any { return c.wrapper }

// IsCloseable reports whether no read or write holds the connection. It never
// blocks.
func (c *Connection) IsCloseable() bool {
	if c.readIssued.Load() || !c.closeMu.TryLock() {
		return false
	}
	c.closeMu.Unlock()
	return true
}

// LocalAddress formats the local endpoint; nil create uses api.NewAddress.
func (c *Connection) LocalAddress(create AddressFactory) any {
	return formatAddress(c.local, create)
}

// RemoteAddress formats the peer endpoint; nil create uses api.NewAddress.
func (c *Connection) RemoteAddress(create AddressFactory) any {
	return formatAddress(c.remote, create)
}

// Read fills p once and reports the count through cb: n > 0 bytes, -1 on EOF,
// 0 when the connection closed first. Only one read may be outstanding.
func (c *Connection) Read(p []byte, cb Completion) error {
	api.Precondition(cb != nil, "read completion is required")
	s := c.srv
	if s == nil {
		return api.ErrInvalidState
	}
	if c.destroyed.Load() {
		return api.ErrClosed
	}
	if !c.readIssued.CompareAndSwap(false, true) {
		return api.ErrReadPending
	}
	r := &request{kind: reqRead, conn: c, buf: s.newBuffer(p), cb: s.newCallback(cb)}
	if err := s.submit(r); err != nil {
		r.buf.release(Discard)
		r.cb.release()
		c.readIssued.Store(false)
		return err
	}
	return nil
}

func (c *Connection) onReadWake(lc *LoopContext, r *request) {
	if c.tcp == nil || c.tcp.IsClosing() || len(r.buf.data) == 0 {
		c.completeRead(r, 0, nil, false)
		return
	}
	c.closeMu.RLock()
	c.latestRead = r
	if err := c.tcp.ReadStart(c.allocRead, c.onRead); err != nil {
		c.latestRead = nil
		c.closeMu.RUnlock()
		lc.Log.WithError(err).WithField("conn", c.id).Debug("read start failed")
		c.emitError(c.srv.exception(err))
		c.completeRead(r, 0, nil, false)
	}
}

func (c *Connection) allocRead(int) []byte {
	if c.latestRead == nil {
		return nil
	}
	return c.latestRead.buf.data
}

func (c *Connection) onRead(n int, err error) {
	r := c.latestRead
	c.latestRead = nil
	if serr := c.tcp.ReadStop(); serr != nil {
		c.emitError(c.srv.exception(serr))
	}
	if r == nil {
		return
	}
	var cerr error
	switch {
	case errors.Is(err, io.EOF):
		n = -1
	case err != nil:
		n, cerr = 0, c.srv.exception(err)
	}
	c.completeRead(r, n, cerr, true)
}

// completeRead delivers the single terminal result of a read request.
func (c *Connection) completeRead(r *request, n int, err error, locked bool) {
	s := c.srv
	if locked {
		c.closeMu.RUnlock()
	}
	if n > 0 {
		r.buf.release(Commit)
	}
	c.readIssued.Store(false)
	r.cb.invoke(&s.bridge, n, err)
	if n <= 0 {
		r.buf.release(Discard)
	}
	r.cb.release()
	s.finish(r)
}

// abortRead completes an in-flight read with zero bytes before a close.
func (c *Connection) abortRead() {
	r := c.latestRead
	if r == nil {
		return
	}
	c.latestRead = nil
	_ = c.tcp.ReadStop()
	c.completeRead(r, 0, nil, true)
}

// Write sends as much of p as the socket accepts without blocking and
// reports the count through cb. A full send buffer is retried once; p must
// stay untouched until cb runs.
func (c *Connection) Write(p []byte, cb Completion) error {
	api.Precondition(cb != nil, "write completion is required")
	s := c.srv
	if s == nil {
		return api.ErrInvalidState
	}
	if c.destroyed.Load() {
		return api.ErrClosed
	}
	r := &request{kind: reqWrite, conn: c, buf: s.newBuffer(p), cb: s.newCallback(cb)}
	if err := s.submit(r); err != nil {
		r.buf.release(Discard)
		r.cb.release()
		return err
	}
	return nil
}

func (c *Connection) onWriteWake(lc *LoopContext, r *request) {
	s := c.srv
	if c.tcp == nil || c.tcp.IsClosing() {
		r.cb.invoke(&s.bridge, 0, nil)
		r.buf.release(Discard)
		r.cb.release()
		s.finish(r)
		return
	}

	c.closeMu.RLock()
	locked := true
	n, err := c.tcp.TryWrite(r.buf.data)
	if errors.Is(err, syscall.EAGAIN) && r.attempt == 0 {
		c.closeMu.RUnlock()
		locked = false
		retry := &request{kind: reqWrite, conn: c, buf: r.buf, cb: r.cb, attempt: r.attempt + 1}
		serr := s.submit(retry)
		if serr == nil {
			s.metrics.Inc("writes.retried")
			s.finish(r)
			return
		}
		lc.Log.WithError(serr).WithField("conn", c.id).Warn("write retry not scheduled")
		c.emitError(serr)
		n, err = 0, nil
	}
	if locked {
		c.closeMu.RUnlock()
	}
	if err != nil {
		n, err = 0, s.exception(err)
	} else {
		s.metrics.Add("bytes.written", int64(n))
	}
	r.cb.invoke(&s.bridge, n, err)
	r.buf.release(Discard)
	r.cb.release()
	s.finish(r)
}

// Close tears the connection down. onClosed, if set, runs after the socket
// is released and before the closed event. Closing a closing connection is a
// no-op and its onClosed is dropped.
func (c *Connection) Close(onClosed func()) error {
	s := c.srv
	if s == nil {
		return api.ErrInvalidState
	}
	return s.submit(&request{kind: reqClose, conn: c, onClosed: onClosed})
}

func (c *Connection) onCloseWake(_ *LoopContext, r *request) {
	c.srv.finish(r)
	c.beginClose(r.onClosed)
}

func (c *Connection) beginClose(onClosed func()) {
	if c.tcp == nil || c.tcp.IsClosing() {
		return
	}
	c.state.Store(int32(ConnClosing))
	c.abortRead()
	c.srv.loop.Close(c.tcp, func(reactor.Handle) { c.onClosed(onClosed) })
}

func (c *Connection) onClosed(secondary func()) {
	s := c.srv
	c.state.Store(int32(ConnClosed))
	s.forget(c)
	s.metrics.Inc("connections.closed")
	if secondary != nil {
		_ = s.call("close callback", secondary)
	}
	_ = s.call("ConnectionEvents.Closed", c.caps.Events.Closed)
}

// SetKeepAlive toggles TCP keepalive on the loop goroutine; done, if set,
// receives the outcome there.
func (c *Connection) SetKeepAlive(enable bool, delay time.Duration, done func(error)) error {
	s := c.srv
	if s == nil {
		return api.ErrInvalidState
	}
	if c.destroyed.Load() {
		return api.ErrClosed
	}
	return s.submit(&request{kind: reqKeepAlive, conn: c, keepAlive: enable, delay: delay, onKeepAlive: done})
}

func (c *Connection) onKeepAliveWake(_ *LoopContext, r *request) {
	s := c.srv
	s.finish(r)
	var err error
	if c.tcp == nil || c.tcp.IsClosing() {
		err = api.ErrClosed
	} else if kerr := c.tcp.SetKeepAlive(r.keepAlive, r.delay); kerr != nil {
		err = s.exception(kerr)
	}
	if r.onKeepAlive != nil {
		_ = s.call("keepalive callback", func() { r.onKeepAlive(err) })
	}
}

func (c *Connection) emitError(err error) {
	s := c.srv
	s.metrics.Inc("errors.connection")
	if c.caps.Events == nil {
		s.emitError(err)
		return
	}
	_ = s.call("ConnectionEvents.ErrorOccurred", func() { c.caps.Events.ErrorOccurred(err) })
}

// discard drops a connection that never reached the host.
func (c *Connection) discard() {
	c.state.Store(int32(ConnClosed))
	if c.tcp != nil && !c.tcp.IsClosing() {
		c.srv.loop.Close(c.tcp, nil)
	}
	c.releaseCaps()
}

func (c *Connection) releaseCaps() {
	if c.capLease != nil && c.capsFreed.CompareAndSwap(false, true) {
		c.capLease.Release()
	}
}

// Destroy frees the host capabilities once the connection is closed.
func (c *Connection) Destroy() error {
	if c.State() != ConnClosed {
		return api.ErrNotClosed
	}
	if !c.destroyed.CompareAndSwap(false, true) {
		return nil
	}
	c.releaseCaps()
	return nil
}
