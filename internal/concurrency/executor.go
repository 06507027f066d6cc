// File: internal/concurrency/executor.go
// Package concurrency implements a task executor with per-worker queues.
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// Executor dispatches tasks across worker goroutines, using lock-free local queues
// and a global queue fallback. Close drains everything already accepted.

package concurrency

import (
	"runtime"
	"sync"
	"sync/atomic"

	"github.com/momentics/hioload-tcp/api"
)

// TaskFunc is a unit of work to execute.
type TaskFunc func()

// PanicHandler receives the value recovered from a panicking task.
type PanicHandler func(recovered any)

// Executor manages a pool of worker goroutines.
type Executor struct {
	globalQueue chan TaskFunc              // fallback queue for tasks when local queues are full
	localQueues []*LockFreeQueue[TaskFunc] // per-worker lock-free queues
	workers     []*worker
	closeCh     chan struct{}
	closed      atomic.Bool
	mu          sync.RWMutex // Submit holds it shared, Close exclusively
	wg          sync.WaitGroup
	numWorkers  int
	onPanic     PanicHandler

	// statistics
	totalTasks     atomic.Int64
	completedTasks atomic.Int64
}

var _ api.Executor = (*Executor)(nil)

// NewExecutor creates a new Executor with the given number of workers.
// If numWorkers <= 0, defaults to runtime.NumCPU().
func NewExecutor(numWorkers int, onPanic PanicHandler) *Executor {
	if numWorkers <= 0 {
		numWorkers = runtime.NumCPU()
	}
	e := &Executor{
		globalQueue: make(chan TaskFunc, numWorkers*4),
		closeCh:     make(chan struct{}),
		numWorkers:  numWorkers,
		onPanic:     onPanic,
	}
	e.localQueues = make([]*LockFreeQueue[TaskFunc], numWorkers)
	e.workers = make([]*worker, numWorkers)
	for i := 0; i < numWorkers; i++ {
		e.localQueues[i] = NewLockFreeQueue[TaskFunc](1024)
		e.workers[i] = &worker{
			id:         i,
			executor:   e,
			localQueue: e.localQueues[i],
			wake:       make(chan struct{}, 1),
		}
	}
	e.wg.Add(numWorkers)
	for _, w := range e.workers {
		go w.run()
	}
	return e
}

// Submit enqueues a task for execution, returning ErrExecutorClosed if executor is closed.
func (e *Executor) Submit(task func()) error {
	e.mu.RLock()
	defer e.mu.RUnlock()
	if e.closed.Load() {
		return ErrExecutorClosed
	}
	n := e.totalTasks.Add(1)
	idx := int(n % int64(e.numWorkers))
	if e.localQueues[idx].Enqueue(task) {
		e.workers[idx].signal()
		return nil
	}
	select {
	case e.globalQueue <- task:
		return nil
	case <-e.closeCh:
		e.totalTasks.Add(-1)
		return ErrExecutorClosed
	}
}

// NumWorkers returns the number of workers.
func (e *Executor) NumWorkers() int {
	return e.numWorkers
}

// Close stops accepting tasks, lets workers drain what was queued and waits for them to exit.
func (e *Executor) Close() {
	e.mu.Lock()
	if e.closed.Swap(true) {
		e.mu.Unlock()
		return
	}
	close(e.closeCh)
	e.mu.Unlock()
	e.wg.Wait()
}

// Stats returns basic executor metrics.
func (e *Executor) Stats() map[string]int64 {
	total := e.totalTasks.Load()
	completed := e.completedTasks.Load()
	return map[string]int64{
		"total_tasks":     total,
		"completed_tasks": completed,
		"pending_tasks":   total - completed,
		"num_workers":     int64(e.numWorkers),
	}
}

// worker represents a single executor goroutine.
type worker struct {
	id         int
	executor   *Executor
	localQueue *LockFreeQueue[TaskFunc]
	wake       chan struct{}
}

func (w *worker) signal() {
	select {
	case w.wake <- struct{}{}:
	default:
	}
}

func (w *worker) run() {
	defer w.executor.wg.Done()
	for {
		if task, ok := w.localQueue.Dequeue(); ok {
			w.executeTask(task)
			continue
		}
		select {
		case task := <-w.executor.globalQueue:
			w.executeTask(task)
		case <-w.wake:
		case <-w.executor.closeCh:
			w.drain()
			return
		}
	}
}

// drain runs everything still queued once the executor is closed.
func (w *worker) drain() {
	for {
		if task, ok := w.localQueue.Dequeue(); ok {
			w.executeTask(task)
			continue
		}
		select {
		case task := <-w.executor.globalQueue:
			w.executeTask(task)
		default:
			return
		}
	}
}

// executeTask runs the task and updates statistics, recovering from panics.
func (w *worker) executeTask(task TaskFunc) {
	defer func() {
		if r := recover(); r != nil && w.executor.onPanic != nil {
			w.executor.onPanic(r)
		}
		w.executor.completedTasks.Add(1)
	}()
	task()
}
