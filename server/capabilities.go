// File: server/capabilities.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// Host capability contracts and the bridge that invokes them.

package server

import (
	"errors"
	"fmt"
	"net/netip"

	"github.com/sirupsen/logrus"

	"github.com/momentics/hioload-tcp/api"
	"github.com/momentics/hioload-tcp/control"
	"github.com/momentics/hioload-tcp/reactor"
)

// Completion receives the result of a read or write. A non-nil err means n
// carries no data.
type Completion func(n int, err error)

// ServerEvents are the host callables notified by a Server.
type ServerEvents interface {
	Closed()
	ErrorOccurred(err error)
	ClientConnected(wrapper any)
}

// ConnectionEvents are the host callables notified by a Connection.
type ConnectionEvents interface {
	Closed()
	ErrorOccurred(err error)
}

// ConnectionFactory builds connection storage and its host wrapper on accept.
// CreateConnectionWrapper must call Connection.Initialize to accept the
// connection; returning without it rejects the peer.
type ConnectionFactory interface {
	CreateConnectionStorage() *Connection
	CreateConnectionWrapper(c *Connection) any
}

// ExceptionFactory turns an OS error number into a host error.
type ExceptionFactory func(code int) error

// AddressFactory formats a socket address for the host.
type AddressFactory func(ip string, version, port int) any

// DefaultExceptionFactory builds an api.ReactorError named after the errno.
func DefaultExceptionFactory(code int) error {
	return api.NewReactorError(code, reactor.ErrnoName(code))
}

// Capabilities is everything a Server needs from its host.
type Capabilities struct {
	Factory    ConnectionFactory
	Events     ServerEvents
	Exceptions ExceptionFactory
}

// ConnectionCapabilities is everything a Connection needs from its host.
// Close runs on the background work queue, never on the loop goroutine.
type ConnectionCapabilities struct {
	Close  func()
	Events ConnectionEvents
}

// bridge invokes host callables. A panicking host call is recovered and
// reported as ErrCodeHostCallFailure so cleanup on the calling path goes on.
// Broken invariants are re-raised.
type bridge struct {
	log     *logrus.Entry
	metrics *control.MetricsRegistry
}

func (b *bridge) call(what string, fn func()) (err error) {
	defer func() {
		r := recover()
		if r == nil {
			return
		}
		var perr *api.Error
		if e, ok := r.(error); ok && errors.As(e, &perr) && perr.Code == api.ErrCodePreconditionViolation {
			panic(r)
		}
		err = api.NewError(api.ErrCodeHostCallFailure, what+" failed").WithCause(fmt.Errorf("%v", r))
		b.metrics.Inc("host.failures")
		b.log.WithError(err).Error("host call panicked")
	}()
	fn()
	return nil
}

// exception converts a reactor error into the host's error value.
func (s *Server) exception(err error) error {
	if err == nil {
		return nil
	}
	errno, ok := reactor.AsErrno(err)
	if !ok {
		return api.NewError(api.ErrCodeReactorFailure, "reactor").WithCause(err)
	}
	var out error
	if cerr := s.call("ExceptionFactory", func() { out = s.caps.Exceptions(int(errno)) }); cerr != nil || out == nil {
		return DefaultExceptionFactory(int(errno))
	}
	return out
}

func (s *Server) emitError(err error) {
	s.metrics.Inc("errors.server")
	s.log.WithError(err).Debug("server error")
	_ = s.call("ServerEvents.ErrorOccurred", func() { s.caps.Events.ErrorOccurred(err) })
}

func formatAddress(ap netip.AddrPort, create AddressFactory) any {
	if !ap.IsValid() {
		return nil
	}
	if create == nil {
		create = api.NewAddress
	}
	version := api.IPv6
	if ap.Addr().Is4() {
		version = api.IPv4
	}
	return create(ap.Addr().String(), version, int(ap.Port()))
}
