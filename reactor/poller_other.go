//go:build !linux

// File: reactor/poller_other.go
// Author: momentics <momentics@gmail.com>
//
// Stub poller for unsupported platforms.

package reactor

type ioEvent struct {
	fd       int
	readable bool
	hangup   bool
}

type poller struct{}

func newPoller() (*poller, error) { return nil, ErrNotSupported }

func (p *poller) control(fd int, prev, next uint32) error { return ErrNotSupported }

func (p *poller) wake() error { return ErrNotSupported }

func (p *poller) wait(timeout int, fn func(ioEvent)) (bool, error) { return false, ErrNotSupported }

func (p *poller) close() error { return nil }
