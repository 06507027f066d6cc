//go:build linux

// File: reactor/poller_linux.go
// Author: momentics <momentics@gmail.com>
//
// Linux epoll(7) poller with an eventfd(2) wake descriptor.

package reactor

import (
	"encoding/binary"
	"fmt"

	"golang.org/x/sys/unix"
)

const (
	initialEvents = 128
	maxEvents     = 4096
)

type ioEvent struct {
	fd       int
	readable bool
	hangup   bool
}

type poller struct {
	epfd   int
	wfd    int
	events []unix.EpollEvent
}

func newPoller() (*poller, error) {
	epfd, err := unix.EpollCreate1(unix.EPOLL_CLOEXEC)
	if err != nil {
		return nil, fmt.Errorf("epoll create: %w", err)
	}
	wfd, err := unix.Eventfd(0, unix.EFD_NONBLOCK|unix.EFD_CLOEXEC)
	if err != nil {
		_ = unix.Close(epfd)
		return nil, fmt.Errorf("eventfd: %w", err)
	}
	ev := unix.EpollEvent{Events: unix.EPOLLIN, Fd: int32(wfd)}
	if err := unix.EpollCtl(epfd, unix.EPOLL_CTL_ADD, wfd, &ev); err != nil {
		_ = unix.Close(wfd)
		_ = unix.Close(epfd)
		return nil, fmt.Errorf("epoll ctl add eventfd: %w", err)
	}
	return &poller{
		epfd:   epfd,
		wfd:    wfd,
		events: make([]unix.EpollEvent, initialEvents),
	}, nil
}

// control moves fd from the prev interest mask to next; zero means unregistered.
func (p *poller) control(fd int, prev, next uint32) error {
	var op int
	switch {
	case prev == next:
		return nil
	case prev == 0:
		op = unix.EPOLL_CTL_ADD
	case next == 0:
		return unix.EpollCtl(p.epfd, unix.EPOLL_CTL_DEL, fd, nil)
	default:
		op = unix.EPOLL_CTL_MOD
	}
	ev := unix.EpollEvent{Events: next, Fd: int32(fd)}
	return unix.EpollCtl(p.epfd, op, fd, &ev)
}

func (p *poller) wake() error {
	var buf [8]byte
	binary.NativeEndian.PutUint64(buf[:], 1)
	for {
		_, err := unix.Write(p.wfd, buf[:])
		switch err {
		case nil, unix.EAGAIN:
			return nil
		case unix.EINTR:
			continue
		default:
			return err
		}
	}
}

func (p *poller) drainWake() {
	var buf [8]byte
	for {
		if _, err := unix.Read(p.wfd, buf[:]); err != unix.EINTR {
			return
		}
	}
}

// wait blocks up to timeout milliseconds (-1 forever) and reports I/O events
// to fn. woken is true when the wake descriptor fired.
func (p *poller) wait(timeout int, fn func(ioEvent)) (woken bool, err error) {
	n, err := unix.EpollWait(p.epfd, p.events, timeout)
	if err != nil {
		if err == unix.EINTR {
			return false, nil
		}
		return false, fmt.Errorf("epoll wait: %w", err)
	}
	for i := 0; i < n; i++ {
		ev := p.events[i]
		fd := int(ev.Fd)
		if fd == p.wfd {
			p.drainWake()
			woken = true
			continue
		}
		fn(ioEvent{
			fd:       fd,
			readable: ev.Events&(unix.EPOLLIN|unix.EPOLLRDHUP) != 0,
			hangup:   ev.Events&(unix.EPOLLHUP|unix.EPOLLERR) != 0,
		})
	}
	if n == len(p.events) && len(p.events) < maxEvents {
		p.events = make([]unix.EpollEvent, 2*len(p.events))
	}
	return woken, nil
}

func (p *poller) close() error {
	_ = unix.Close(p.wfd)
	return unix.Close(p.epfd)
}
