//go:build unix

package reactor

import (
	"syscall"

	"golang.org/x/sys/unix"
)

// ErrnoName returns the symbolic name of an errno, e.g. "ECONNRESET".
func ErrnoName(code int) string {
	return unix.ErrnoName(syscall.Errno(code))
}
