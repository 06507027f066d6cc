// File: reactor/async.go
// Author: momentics <momentics@gmail.com>
//
// Cross-goroutine wake primitive.

package reactor

import "sync/atomic"

// AsyncCallback runs on the loop goroutine when an Async is dispatched.
// It owns the handle and must eventually Close it.
type AsyncCallback func(a *Async)

// Async is a one-shot wake handle. It may be created and sent from any
// goroutine; it joins the loop's registry only when dispatched.
type Async struct {
	handle
	cb   AsyncCallback
	sent atomic.Bool
}

// NewAsync allocates a wake handle. Safe from any goroutine.
func (l *Loop) NewAsync(cb AsyncCallback) (*Async, error) {
	if l.state.Load() == loopClosed {
		return nil, ErrLoopClosed
	}
	a := &Async{cb: cb}
	a.init(l, TypeAsync, a)
	return a, nil
}

// Send queues the handle for dispatch and wakes the loop. Safe from any
// goroutine. Data set before Send is visible to the callback. On error the
// handle is not queued and may be discarded.
func (a *Async) Send() error {
	l := a.loop
	if l.state.Load() == loopClosed {
		return ErrLoopClosed
	}
	if !a.sent.CompareAndSwap(false, true) {
		return ErrAlreadySent
	}
	l.pending.Add(1)
	if !l.inbox.Enqueue(a) {
		l.pending.Add(-1)
		a.sent.Store(false)
		return ErrInboxFull
	}
	l.wake()
	return nil
}
