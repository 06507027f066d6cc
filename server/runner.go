// File: server/runner.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// Loop runner and the per-run context handed to every dispatch handler.

package server

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/momentics/hioload-tcp/api"
	"github.com/momentics/hioload-tcp/reactor"
)

// LoopContext lives for one Run. It is attached to the loop at start and
// cleared at stop.
type LoopContext struct {
	Context context.Context
	Server  *Server
	Log     *logrus.Entry
	Started time.Time
}

func contextOf(l *reactor.Loop) *LoopContext {
	lc, _ := l.Data().(*LoopContext)
	api.Precondition(lc != nil, "loop context is not attached")
	return lc
}

// Run drives the loop on the calling goroutine until the server and every
// connection are closed. Cancelling ctx closes the server.
func (s *Server) Run(ctx context.Context) error {
	if s.destroyed.Load() {
		return api.ErrClosed
	}
	if !s.running.CompareAndSwap(false, true) {
		return api.ErrLoopRunning
	}
	defer s.running.Store(false)
	if s.isStopped() {
		return api.ErrClosed
	}

	lc := &LoopContext{
		Context: ctx,
		Server:  s,
		Log:     s.log.WithField("run", uuid.NewString()),
		Started: time.Now(),
	}
	stop := context.AfterFunc(ctx, func() {
		if err := s.Close(); err != nil && !errors.Is(err, api.ErrClosed) {
			s.log.WithError(err).Warn("close on cancel failed")
		}
	})
	defer stop()

	lc.Log.Debug("loop running")
	err := s.loop.RunWith(lc)
	s.closeGate()
	// Requests sent between the loop's last liveness check and closeGate are
	// still queued; run once more so each completes.
	if err == nil && s.loop.Pending() > 0 {
		err = s.loop.RunWith(lc)
	}
	lc.Log.WithField("uptime", time.Since(lc.Started)).Debug("loop exited")
	return err
}

// closeGate closes the gateway. Waits for in-flight submits to finish enqueueing.
func (s *Server) closeGate() {
	s.gate.Lock()
	s.stopped = true
	s.gate.Unlock()
}

func (s *Server) isStopped() bool {
	s.gate.RLock()
	defer s.gate.RUnlock()
	return s.stopped
}
