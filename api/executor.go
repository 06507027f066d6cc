// Package api
// Author: momentics
//
// Executor contract for work run off the loop goroutine.

package api

// Executor runs tasks on a bounded set of worker goroutines.
type Executor interface {
	// Submit queues task; it fails once the executor is closed.
	Submit(task func()) error
	NumWorkers() int
	// Stats reports queue depth and completion counters.
	Stats() map[string]int64
	// Close refuses new tasks, drains queued ones and waits for workers.
	Close()
}
