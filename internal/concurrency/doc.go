// File: internal/concurrency/doc.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// Concurrency primitives for hioload-tcp: a bounded lock-free MPMC queue
// used as the reactor's cross-goroutine inbox, and a worker-pool executor
// that backs the background work queue and host event dispatch.
package concurrency
