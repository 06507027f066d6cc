// File: facade/conn.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// Conn wraps one core connection with events, one pending read, one pending
// write and blocking io adapters.

package facade

import (
	"errors"
	"fmt"
	"io"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/momentics/hioload-tcp/api"
	"github.com/momentics/hioload-tcp/events"
	"github.com/momentics/hioload-tcp/server"
)

const (
	connOpen int32 = iota
	connClosing
	connClosed
)

// coreConn is the part of *server.Connection a Conn drives.
type coreConn interface {
	LocalAddress(create server.AddressFactory) any
	RemoteAddress(create server.AddressFactory) any
	Read(p []byte, cb server.Completion) error
	Write(p []byte, cb server.Completion) error
	SetKeepAlive(enable bool, delay time.Duration, done func(error)) error
	IsCloseable() bool
	Close(onClosed func()) error
	CloseInWorker() error
	Destroy() error
}

// Conn is an accepted client connection.
type Conn struct {
	id     uuid.UUID
	srv    *Server
	core   coreConn
	events *events.Emitter

	state     atomic.Int32
	reading   atomic.Bool
	writing   atomic.Bool
	keepAlive atomic.Bool

	local  *api.Address
	remote *api.Address
}

func newConn(s *Server, core coreConn) *Conn {
	c := &Conn{
		id:     uuid.New(),
		srv:    s,
		core:   core,
		events: events.NewEmitter(),
	}
	_, _ = c.events.On(evNotCloseable, func(any) {
		if err := c.core.CloseInWorker(); err != nil {
			s.log.WithError(err).WithField("conn", c.id).Warn("deferred close failed")
			c.state.CompareAndSwap(connClosing, connOpen)
			_ = c.events.Emit(evErrorOccurred, err)
		}
	})
	return c
}

// accepted runs on the loop goroutine once the socket is attached.
func (c *Conn) accepted() {
	c.local, _ = c.core.LocalAddress(nil).(*api.Address)
	c.remote, _ = c.core.RemoteAddress(nil).(*api.Address)
}

// ID returns the connection's random identifier.
func (c *Conn) ID() uuid.UUID { return c.id }

// Server returns the owning server.
func (c *Conn) Server() *Server { return c.srv }

// LocalAddress returns the local endpoint, or nil once closing.
func (c *Conn) LocalAddress() *api.Address {
	if !c.IsOpen() {
		return nil
	}
	return c.local
}

// RemoteAddress returns the peer endpoint, or nil once closing.
func (c *Conn) RemoteAddress() *api.Address {
	if !c.IsOpen() {
		return nil
	}
	return c.remote
}

// IsOpen reports whether Close has not been requested.
func (c *Conn) IsOpen() bool { return c.state.Load() == connOpen }

// Read fills p once. handler receives n > 0, -1 at end of stream (the
// connection then closes), or 0 with an error. It runs on the event pool.
func (c *Conn) Read(p []byte, handler func(n int, err error)) error {
	return c.read(p, func(n int, err error) {
		c.srv.dispatch(func() { handler(n, err) })
	})
}

// ReadAsync is Read with the result delivered on a channel.
func (c *Conn) ReadAsync(p []byte) <-chan api.Result[int] {
	ch := make(chan api.Result[int], 1)
	if err := c.read(p, func(n int, err error) { ch <- api.Result[int]{Value: n, Err: err} }); err != nil {
		ch <- api.Result[int]{Err: err}
	}
	return ch
}

// read delivers the result on the loop goroutine; deliver must not block.
func (c *Conn) read(p []byte, deliver func(n int, err error)) error {
	if !c.IsOpen() {
		return api.ErrClosed
	}
	if !c.reading.CompareAndSwap(false, true) {
		return api.ErrReadPending
	}
	if len(p) == 0 {
		c.reading.Store(false)
		deliver(0, nil)
		return nil
	}
	err := c.core.Read(p, func(n int, err error) {
		c.reading.Store(false)
		switch {
		case err != nil:
			c.emitError(err)
		case n < 0:
			c.srv.dispatch(func() { _ = c.Close() })
		}
		deliver(n, err)
	})
	if err != nil {
		c.reading.Store(false)
		return err
	}
	return nil
}

// Write sends all of p; handler receives the number of bytes written, which
// is short only when an error occurred or the connection closed. p is copied.
func (c *Conn) Write(p []byte, handler func(n int, err error)) error {
	return c.write(p, func(n int, err error) {
		c.srv.dispatch(func() { handler(n, err) })
	})
}

// WriteAsync is Write with the result delivered on a channel.
func (c *Conn) WriteAsync(p []byte) <-chan api.Result[int] {
	ch := make(chan api.Result[int], 1)
	if err := c.write(p, func(n int, err error) { ch <- api.Result[int]{Value: n, Err: err} }); err != nil {
		ch <- api.Result[int]{Err: err}
	}
	return ch
}

func (c *Conn) write(p []byte, deliver func(n int, err error)) error {
	if !c.IsOpen() {
		return api.ErrClosed
	}
	if !c.writing.CompareAndSwap(false, true) {
		return api.ErrWritePending
	}
	if len(p) == 0 {
		c.writing.Store(false)
		deliver(0, nil)
		return nil
	}
	buf := c.srv.buffers.Get(len(p))
	copy(buf, p)
	total := 0
	finish := func(err error) {
		c.srv.buffers.Put(buf)
		c.writing.Store(false)
		if err != nil {
			c.emitError(err)
		}
		deliver(total, err)
	}
	var next server.Completion
	next = func(n int, err error) {
		if err != nil || n <= 0 {
			finish(err)
			return
		}
		total += n
		if total == len(buf) {
			finish(nil)
			return
		}
		if serr := c.core.Write(buf[total:], next); serr != nil {
			finish(serr)
		}
	}
	if err := c.core.Write(buf, next); err != nil {
		c.srv.buffers.Put(buf)
		c.writing.Store(false)
		return err
	}
	return nil
}

// Reader adapts the connection to a blocking io.Reader.
func (c *Conn) Reader() io.Reader { return connReader{c} }

// Writer adapts the connection to a blocking io.Writer.
func (c *Conn) Writer() io.Writer { return connWriter{c} }

type connReader struct{ c *Conn }

func (r connReader) Read(p []byte) (int, error) {
	if len(p) == 0 {
		return 0, nil
	}
	res := <-r.c.ReadAsync(p)
	switch {
	case errors.Is(res.Err, api.ErrClosed):
		return 0, io.EOF
	case res.Err != nil:
		return 0, res.Err
	case res.Value <= 0:
		return 0, io.EOF
	}
	return res.Value, nil
}

type connWriter struct{ c *Conn }

func (w connWriter) Write(p []byte) (int, error) {
	n, err := (<-w.c.WriteAsync(p)).Unpack()
	if err == nil && n < len(p) {
		err = io.ErrShortWrite
	}
	return n, err
}

// EnableKeepAlive turns on TCP keepalive probes after delay of idleness.
func (c *Conn) EnableKeepAlive(delay time.Duration) error {
	if !c.IsOpen() {
		return api.ErrClosed
	}
	return c.core.SetKeepAlive(true, delay, c.keepAliveDone(true))
}

// DisableKeepAlive turns keepalive probes off.
func (c *Conn) DisableKeepAlive() error {
	if !c.IsOpen() {
		return api.ErrClosed
	}
	return c.core.SetKeepAlive(false, 0, c.keepAliveDone(false))
}

// IsKeepAliveEnabled reports the last applied keepalive setting.
func (c *Conn) IsKeepAliveEnabled() bool { return c.keepAlive.Load() }

func (c *Conn) keepAliveDone(enabled bool) func(error) {
	return func(err error) {
		if err != nil {
			if !errors.Is(err, api.ErrClosed) {
				c.emitError(err)
			}
			return
		}
		c.keepAlive.Store(enabled)
	}
}

// Close closes the connection. While a read or write is in flight the close
// is handed to the background work queue, which forces it.
func (c *Conn) Close() error {
	if !c.state.CompareAndSwap(connOpen, connClosing) {
		return nil
	}
	if !c.core.IsCloseable() {
		c.srv.dispatch(func() { _ = c.events.Emit(evNotCloseable, nil) })
		return nil
	}
	if err := c.core.Close(nil); err != nil {
		c.state.Store(connOpen)
		return err
	}
	return nil
}

// forceClose is the connection's close capability; it runs on the work queue.
func (c *Conn) forceClose() {
	c.state.CompareAndSwap(connOpen, connClosing)
	if err := c.core.Close(nil); err != nil {
		c.srv.log.WithError(err).WithField("conn", c.id).Warn("forced close failed")
	}
}

// OnceClosed registers fn for the closed event.
func (c *Conn) OnceClosed(fn func()) error {
	if c.state.Load() == connClosed {
		return api.ErrClosed
	}
	_, err := c.events.Once(evClosed, func(any) { fn() })
	return err
}

// OnErrorOccurred registers fn for connection errors. OS errors close the
// connection after the handlers ran.
func (c *Conn) OnErrorOccurred(fn func(err error)) error {
	if !c.IsOpen() {
		return api.ErrClosed
	}
	_, err := c.events.On(evErrorOccurred, func(data any) { fn(data.(error)) })
	return err
}

func (c *Conn) emitError(err error) {
	c.srv.dispatch(func() {
		_ = c.events.Emit(evErrorOccurred, err)
		var re *api.ReactorError
		if errors.As(err, &re) {
			_ = c.Close()
		}
	})
}

func (c *Conn) finishClosing() {
	defer c.srv.closing.Done()
	c.state.Store(connClosed)
	c.srv.removeConn(c)
	_ = c.events.Emit(evClosed, nil)
	c.events.RemoveAll()
	if err := c.core.Destroy(); err != nil {
		c.srv.log.WithError(err).WithField("conn", c.id).Warn("destroy failed")
	}
}

func (c *Conn) String() string {
	switch c.state.Load() {
	case connClosing:
		return "TCP client connection {status=CLOSING}"
	case connClosed:
		return "TCP client connection {status=CLOSED}"
	}
	return fmt.Sprintf("TCP client connection {status=CONNECTED, localAddress=%s, remoteAddress=%s}",
		c.local, c.remote)
}

// connHost implements the core connection events for a Conn.
type connHost struct{ c *Conn }

func (h connHost) Closed() {
	h.c.srv.closing.Add(1)
	h.c.srv.dispatch(h.c.finishClosing)
}

func (h connHost) ErrorOccurred(err error) { h.c.emitError(err) }
