// File: reactor/loop.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// Single-goroutine event loop. Runs until no handle, pending wake or queued
// work remains.

package reactor

import (
	"runtime"
	"sync"
	"sync/atomic"

	"github.com/eapache/queue"
	"github.com/sirupsen/logrus"

	"github.com/momentics/hioload-tcp/api"
	"github.com/momentics/hioload-tcp/internal/concurrency"
	"github.com/momentics/hioload-tcp/internal/logging"
)

const (
	loopIdle int32 = iota
	loopRunning
	loopClosed
)

// Options tunes a Loop.
type Options struct {
	// InboxCapacity bounds the number of Async sends not yet dispatched.
	InboxCapacity int
	// Workers is the size of the background work queue pool.
	Workers int
	// Affinity pins the loop thread to these CPUs while Run executes.
	Affinity []int
	// Logger overrides the default "reactor" logger.
	Logger *logrus.Entry
}

// DefaultOptions returns the options used when fields are left zero.
func DefaultOptions() Options {
	return Options{
		InboxCapacity: 4096,
		Workers:       4,
	}
}

// Loop drives I/O readiness, wake signals and close callbacks.
type Loop struct {
	poller  *poller
	handles []*handle
	sockets map[int]*TCP
	closing *queue.Queue // *handle awaiting close callback, loop goroutine only

	inbox      *concurrency.LockFreeQueue[*Async]
	internalMu sync.Mutex
	internal   *queue.Queue // func() posted by worker goroutines
	pending    atomic.Int64 // queued sends and internal posts not yet run
	requests   atomic.Int64 // QueueWork items not yet completed
	wakeArmed  atomic.Bool

	exec     *concurrency.Executor
	affinity []int
	state    atomic.Int32
	data     any
	log      *logrus.Entry
}

// NewLoop allocates the poller, inbox and background work pool.
func NewLoop(opts Options) (*Loop, error) {
	def := DefaultOptions()
	if opts.InboxCapacity <= 0 {
		opts.InboxCapacity = def.InboxCapacity
	}
	if opts.Workers <= 0 {
		opts.Workers = def.Workers
	}
	if opts.Logger == nil {
		opts.Logger = logging.NewLogger("reactor")
	}
	p, err := newPoller()
	if err != nil {
		return nil, err
	}
	l := &Loop{
		poller:   p,
		sockets:  make(map[int]*TCP),
		closing:  queue.New(),
		inbox:    concurrency.NewLockFreeQueue[*Async](opts.InboxCapacity),
		internal: queue.New(),
		affinity: append([]int(nil), opts.Affinity...),
		log:      opts.Logger,
	}
	l.exec = concurrency.NewExecutor(opts.Workers, func(r any) {
		l.log.WithField("panic", r).Error("background work panicked")
	})
	return l, nil
}

// Data returns the value attached to the loop for the current run.
func (l *Loop) Data() any { return l.data }

// SetData attaches a value visible to every loop-goroutine callback.
func (l *Loop) SetData(v any) { l.data = v }

// Running reports whether Run is executing.
func (l *Loop) Running() bool { return l.state.Load() == loopRunning }

// Run processes events on the calling goroutine, locked to its OS thread,
// until the loop has nothing left to do.
func (l *Loop) Run() error { return l.run(false, nil) }

// RunWith is Run with data attached to the loop for the duration of the run
// and cleared when it returns.
func (l *Loop) RunWith(data any) error { return l.run(true, data) }

func (l *Loop) run(attach bool, data any) error {
	if !l.state.CompareAndSwap(loopIdle, loopRunning) {
		if l.state.Load() == loopClosed {
			return ErrLoopClosed
		}
		return api.ErrLoopRunning
	}
	runtime.LockOSThread()
	defer runtime.UnlockOSThread()
	if len(l.affinity) > 0 {
		if err := concurrency.PinCurrentThread(l.affinity); err != nil {
			l.log.WithError(err).WithField("cpus", l.affinity).Warn("cpu pinning failed")
		} else {
			defer func() { _ = concurrency.UnpinCurrentThread() }()
		}
	}
	defer l.state.Store(loopIdle)
	if attach {
		l.data = data
		defer func() { l.data = nil }()
	}

	l.log.WithField("handles", len(l.handles)).Debug("loop started")
	for {
		l.runPending()
		l.runClosing()
		if !l.alive() {
			break
		}
		timeout := -1
		if l.closing.Length() > 0 || l.pending.Load() > 0 {
			timeout = 0
		}
		woken, err := l.poller.wait(timeout, l.onEvent)
		if err != nil {
			l.log.WithError(err).Error("poll failed")
			return err
		}
		if woken {
			l.wakeArmed.Store(false)
		}
	}
	l.log.Debug("loop stopped")
	return nil
}

func (l *Loop) alive() bool {
	return len(l.handles) > 0 ||
		l.closing.Length() > 0 ||
		l.pending.Load() > 0 ||
		l.requests.Load() > 0
}

// runPending dispatches queued Async sends and internal posts.
func (l *Loop) runPending() {
	for i := 0; i < l.inbox.Cap(); i++ {
		a, ok := l.inbox.Dequeue()
		if !ok {
			break
		}
		l.pending.Add(-1)
		l.register(&a.handle)
		a.cb(a)
	}

	l.internalMu.Lock()
	n := l.internal.Length()
	posted := make([]func(), 0, n)
	for ; n > 0; n-- {
		posted = append(posted, l.internal.Remove().(func()))
	}
	l.internalMu.Unlock()
	for _, fn := range posted {
		l.pending.Add(-1)
		fn()
	}
}

// runClosing invokes the close callbacks of handles closed before this call,
// in the order Close was called.
func (l *Loop) runClosing() {
	for n := l.closing.Length(); n > 0; n-- {
		h := l.closing.Remove().(*handle)
		l.unregister(h)
		h.closed = true
		if h.closeCb != nil {
			h.closeCb(h.self)
		}
	}
}

func (l *Loop) onEvent(ev ioEvent) {
	t, ok := l.sockets[ev.fd]
	if !ok || t.IsClosing() {
		return
	}
	t.onIO(ev)
}

func (l *Loop) register(h *handle) {
	if h.index >= 0 {
		return
	}
	h.index = len(l.handles)
	l.handles = append(l.handles, h)
}

func (l *Loop) unregister(h *handle) {
	if h.index < 0 {
		return
	}
	last := len(l.handles) - 1
	moved := l.handles[last]
	l.handles[h.index] = moved
	moved.index = h.index
	l.handles[last] = nil
	l.handles = l.handles[:last]
	h.index = -1
}

// Close begins tearing down h. cb runs on a later loop iteration, after the
// callbacks of every handle closed earlier. Closing a closing handle is a no-op.
func (l *Loop) Close(h Handle, cb CloseCallback) {
	b := h.base()
	if b.closing || b.closed {
		return
	}
	b.closing = true
	b.closeCb = cb
	if b.closeFn != nil {
		b.closeFn()
	}
	l.register(b)
	l.closing.Add(b)
}

// IsClosing reports whether h is closing or closed.
func (l *Loop) IsClosing(h Handle) bool { return h.IsClosing() }

// Walk calls fn for every live handle. Handles closed by fn are still visited
// if they were live when the walk began.
func (l *Loop) Walk(fn func(h Handle)) {
	snapshot := make([]Handle, 0, len(l.handles))
	for _, h := range l.handles {
		if !h.closed {
			snapshot = append(snapshot, h.self)
		}
	}
	for _, h := range snapshot {
		fn(h)
	}
}

// ActiveHandles returns the number of registered handles.
func (l *Loop) ActiveHandles() int { return len(l.handles) }

// Pending returns the number of queued sends and internal posts not yet run.
func (l *Loop) Pending() int64 { return l.pending.Load() }

// post schedules fn on the loop goroutine. Safe from any goroutine.
func (l *Loop) post(fn func()) {
	l.pending.Add(1)
	l.internalMu.Lock()
	l.internal.Add(fn)
	l.internalMu.Unlock()
	l.wake()
}

func (l *Loop) wake() {
	if l.wakeArmed.CompareAndSwap(false, true) {
		if err := l.poller.wake(); err != nil {
			l.wakeArmed.Store(false)
			l.log.WithError(err).Warn("wake failed")
		}
	}
}

// Stats returns loop counters. Safe from any goroutine.
func (l *Loop) Stats() map[string]int64 {
	out := map[string]int64{
		"pending":  l.pending.Load(),
		"requests": l.requests.Load(),
	}
	for k, v := range l.exec.Stats() {
		out["work."+k] = v
	}
	return out
}

// Release frees the poller and the work pool once Run has returned. Handles
// still registered have their descriptors closed without callbacks.
func (l *Loop) Release() error {
	if l.state.Load() == loopRunning {
		return api.ErrLoopRunning
	}
	if l.state.Swap(loopClosed) == loopClosed {
		return nil
	}
	for _, h := range l.handles {
		if !h.closing && !h.closed && h.closeFn != nil {
			h.closeFn()
		}
		h.closed = true
	}
	l.handles = nil
	l.exec.Close()
	return l.poller.close()
}
