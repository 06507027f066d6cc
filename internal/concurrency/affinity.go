// File: internal/concurrency/affinity.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// CPU affinity for threads that own an event loop.

package concurrency

import (
	"fmt"
	"runtime"
)

// ErrAffinityUnsupported is returned where the platform cannot pin threads.
var ErrAffinityUnsupported = fmt.Errorf("cpu affinity not supported on %s", runtime.GOOS)

// PinCurrentThread restricts the calling OS thread to cpus. The caller must
// hold runtime.LockOSThread for the pin to stay with its goroutine. An empty
// set is a no-op.
func PinCurrentThread(cpus []int) error {
	if len(cpus) == 0 {
		return nil
	}
	for _, cpu := range cpus {
		if cpu < 0 {
			return fmt.Errorf("invalid cpu %d", cpu)
		}
	}
	return platformPin(cpus)
}

// UnpinCurrentThread restores the affinity the process started with.
func UnpinCurrentThread() error {
	return platformUnpin()
}
