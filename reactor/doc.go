// Copyright (c) 2025
// Author: momentics <momentics@gmail.com>

// Package reactor provides a single-goroutine event loop: a registry of
// handles, FIFO close callbacks, a cross-goroutine wake primitive (Async),
// non-blocking TCP streams over epoll, and a background work queue whose
// completions run back on the loop goroutine.
//
// Every method except NewAsync, Async.Send, QueueWork and Stats must be
// called from the goroutine running Loop.Run, or before Run starts.
package reactor
