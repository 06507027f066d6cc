// File: server/gateway.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// Cross-goroutine request gateway. A request rides a one-shot wake handle to
// the loop goroutine, is dispatched exactly once, and is freed by the wake
// handle's close callback.

package server

import (
	"errors"
	"time"

	"github.com/momentics/hioload-tcp/api"
	"github.com/momentics/hioload-tcp/control"
	"github.com/momentics/hioload-tcp/reactor"
)

type requestKind int

const (
	reqRead requestKind = iota
	reqWrite
	reqClose
	reqServerClose
	reqKeepAlive
)

func (k requestKind) String() string {
	switch k {
	case reqRead:
		return "read"
	case reqWrite:
		return "write"
	case reqClose:
		return "close"
	case reqServerClose:
		return "server_close"
	case reqKeepAlive:
		return "keepalive"
	default:
		return "unknown"
	}
}

type request struct {
	kind     requestKind
	conn     *Connection
	buf      *ioBuffer
	cb       *callbackRef
	onClosed func()
	attempt  int

	keepAlive   bool
	delay       time.Duration
	onKeepAlive func(error)

	wake  *reactor.Async
	lease *control.Lease
}

// submit hands r to the loop goroutine. On error nothing was queued and the
// caller still owns r's buffer and callback. Once Run has returned every
// submit fails with api.ErrClosed.
func (s *Server) submit(r *request) error {
	s.gate.RLock()
	defer s.gate.RUnlock()
	if s.stopped {
		return api.ErrClosed
	}
	a, err := s.loop.NewAsync(s.dispatch)
	if err != nil {
		return gatewayError(err)
	}
	r.wake = a
	r.lease = s.ledger.Acquire("context")
	a.SetData(r)
	if err := a.Send(); err != nil {
		r.lease.Release()
		r.wake, r.lease = nil, nil
		return gatewayError(err)
	}
	s.metrics.Inc("requests." + r.kind.String())
	return nil
}

func gatewayError(err error) error {
	if errors.Is(err, api.ErrResourceExhausted) {
		return err
	}
	return api.NewError(api.ErrCodeReactorFailure, "cannot schedule request").WithCause(err)
}

func (s *Server) dispatch(a *reactor.Async) {
	r := a.Data().(*request)
	lc := contextOf(a.Loop())
	switch r.kind {
	case reqRead:
		r.conn.onReadWake(lc, r)
	case reqWrite:
		r.conn.onWriteWake(lc, r)
	case reqClose:
		r.conn.onCloseWake(lc, r)
	case reqKeepAlive:
		r.conn.onKeepAliveWake(lc, r)
	case reqServerClose:
		s.onCloseWake(lc, r)
	default:
		api.Precondition(false, "unknown request kind")
	}
}

// finish closes the wake handle; teardown frees the request afterwards.
func (s *Server) finish(r *request) {
	s.loop.Close(r.wake, s.teardown)
}

func (s *Server) teardown(h reactor.Handle) {
	r := h.Data().(*request)
	h.SetData(nil)
	r.lease.Release()
	s.metrics.Inc("requests.completed")
}
