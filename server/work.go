// File: server/work.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// Background work queue use: the host close capability must not run on the
// loop goroutine.

package server

import "github.com/momentics/hioload-tcp/api"

// CloseInWorker runs the connection's Close capability on the background
// work queue. The loop stays alive until it finishes. Safe from any
// goroutine.
func (c *Connection) CloseInWorker() error {
	s := c.srv
	if s == nil {
		return api.ErrInvalidState
	}
	if s.isStopped() {
		return api.ErrClosed
	}
	api.Precondition(c.caps.Close != nil, "close capability is required")
	lease := s.ledger.Acquire("work")
	err := s.loop.QueueWork(func() {
		if err := s.call("ConnectionCapabilities.Close", c.caps.Close); err != nil {
			s.metrics.Inc("work.failed")
		}
	}, lease.Release)
	if err != nil {
		lease.Release()
		return api.NewError(api.ErrCodeReactorFailure, "queue close work").WithCause(err)
	}
	s.metrics.Inc("work.queued")
	return nil
}
