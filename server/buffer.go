// File: server/buffer.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// Caller-owned byte regions and completion references carried by requests.
// Both are released exactly once; the ledger panics on a second release.

package server

import "github.com/momentics/hioload-tcp/control"

// ReleaseMode tells the owner of a buffer whether its contents are valid.
type ReleaseMode int

const (
	// Commit publishes bytes written into the buffer.
	Commit ReleaseMode = iota
	// Discard drops the buffer without publishing.
	Discard
)

func (m ReleaseMode) String() string {
	if m == Commit {
		return "committed"
	}
	return "discarded"
}

type ioBuffer struct {
	data    []byte
	lease   *control.Lease
	metrics *control.MetricsRegistry
}

func (s *Server) newBuffer(p []byte) *ioBuffer {
	return &ioBuffer{data: p, lease: s.ledger.Acquire("buffer"), metrics: s.metrics}
}

func (b *ioBuffer) release(mode ReleaseMode) {
	b.lease.Release()
	b.metrics.Inc("buffers." + mode.String())
}

type callbackRef struct {
	fn    Completion
	lease *control.Lease
}

func (s *Server) newCallback(fn Completion) *callbackRef {
	return &callbackRef{fn: fn, lease: s.ledger.Acquire("callback")}
}

func (c *callbackRef) invoke(b *bridge, n int, err error) {
	_ = b.call("Completion", func() { c.fn(n, err) })
}

func (c *callbackRef) release() {
	c.lease.Release()
	c.fn = nil
}
