// File: reactor/errors.go
// Author: momentics <momentics@gmail.com>
//
// Reactor error values.

package reactor

import (
	"errors"
	"syscall"

	"github.com/momentics/hioload-tcp/api"
)

var (
	// ErrLoopClosed is returned once Close has released the loop.
	ErrLoopClosed = errors.New("reactor: loop is closed")

	// ErrInboxFull is returned when the cross-goroutine inbox has no free slot.
	ErrInboxFull = api.NewError(api.ErrCodeResourceExhausted, "reactor: inbox is full")

	// ErrAlreadySent is returned by a second Send on the same Async.
	ErrAlreadySent = errors.New("reactor: async already sent")

	// ErrNotSupported is returned on platforms without a poller.
	ErrNotSupported = api.NewError(api.ErrCodeNotSupported, "reactor: this platform is not supported")
)

// AsErrno extracts the OS error number carried by err.
func AsErrno(err error) (syscall.Errno, bool) {
	var errno syscall.Errno
	if errors.As(err, &errno) {
		return errno, true
	}
	return 0, false
}
