//go:build linux

// File: reactor/tcp_linux.go
// Author: momentics <momentics@gmail.com>
//
// Non-blocking TCP stream handle over epoll. Level-triggered: a socket is
// registered only while it is listening or reading.

package reactor

import (
	"io"
	"net/netip"
	"time"

	"golang.org/x/sys/unix"
)

const (
	maxAcceptsPerWake = 64
	maxReadsPerWake   = 32
	suggestedReadSize = 64 * 1024
)

// ConnectionCallback receives one pending connection; call Accept inside it
// to take the socket, otherwise it is closed.
type ConnectionCallback func(status error)

// AllocCallback supplies the buffer for the next read.
type AllocCallback func(suggested int) []byte

// ReadCallback receives n > 0 bytes, io.EOF, or an OS error.
type ReadCallback func(n int, err error)

// TCP is a stream socket owned by a loop.
type TCP struct {
	handle
	fd           int
	watching     uint32
	listening    bool
	onConnection ConnectionCallback
	pendingFD    int
	reading      bool
	alloc        AllocCallback
	onRead       ReadCallback
}

// NewTCP creates an unbound stream handle registered with the loop.
func (l *Loop) NewTCP() (*TCP, error) {
	if l.state.Load() == loopClosed {
		return nil, ErrLoopClosed
	}
	t := &TCP{fd: -1, pendingFD: -1}
	t.init(l, TypeTCP, t)
	t.closeFn = t.teardown
	l.register(&t.handle)
	return t, nil
}

// Fd returns the socket descriptor or -1.
func (t *TCP) Fd() int { return t.fd }

// Bind creates the socket and binds it to addr. IPv6 sockets accept IPv4
// peers as mapped addresses.
func (t *TCP) Bind(addr netip.AddrPort) error {
	if t.IsClosing() || t.fd >= 0 {
		return unix.EINVAL
	}
	ip := addr.Addr()
	family := unix.AF_INET6
	if ip.Is4() {
		family = unix.AF_INET
	}
	fd, err := unix.Socket(family, unix.SOCK_STREAM|unix.SOCK_NONBLOCK|unix.SOCK_CLOEXEC, 0)
	if err != nil {
		return err
	}
	if err := unix.SetsockoptInt(fd, unix.SOL_SOCKET, unix.SO_REUSEADDR, 1); err != nil {
		_ = unix.Close(fd)
		return err
	}
	if family == unix.AF_INET6 {
		if err := unix.SetsockoptInt(fd, unix.IPPROTO_IPV6, unix.IPV6_V6ONLY, 0); err != nil {
			_ = unix.Close(fd)
			return err
		}
	}
	if err := unix.Bind(fd, sockaddr(addr)); err != nil {
		_ = unix.Close(fd)
		return err
	}
	t.fd = fd
	return nil
}

// Listen starts accepting; cb runs once per incoming connection.
func (t *TCP) Listen(backlog int, cb ConnectionCallback) error {
	if t.IsClosing() || t.fd < 0 {
		return unix.EINVAL
	}
	if err := unix.Listen(t.fd, backlog); err != nil {
		return err
	}
	t.listening = true
	t.onConnection = cb
	return t.watch(unix.EPOLLIN)
}

// Accept moves the pending connection onto client.
func (t *TCP) Accept(client *TCP) error {
	if t.pendingFD < 0 {
		return unix.EAGAIN
	}
	if client.IsClosing() || client.fd >= 0 {
		return unix.EISCONN
	}
	client.fd = t.pendingFD
	t.pendingFD = -1
	return nil
}

// ReadStart subscribes to incoming data.
func (t *TCP) ReadStart(alloc AllocCallback, cb ReadCallback) error {
	switch {
	case t.IsClosing():
		return unix.EINVAL
	case t.fd < 0:
		return unix.ENOTCONN
	case t.reading:
		return unix.EALREADY
	}
	t.reading = true
	t.alloc = alloc
	t.onRead = cb
	if err := t.watch(unix.EPOLLIN | unix.EPOLLRDHUP); err != nil {
		t.reading = false
		t.alloc, t.onRead = nil, nil
		return err
	}
	return nil
}

// ReadStop cancels the subscription. Stopping an idle handle is a no-op.
func (t *TCP) ReadStop() error {
	t.reading = false
	t.alloc, t.onRead = nil, nil
	if t.IsClosing() || t.fd < 0 {
		return nil
	}
	return t.watch(0)
}

// TryWrite writes as much of b as the socket accepts without blocking.
// A full send buffer yields unix.EAGAIN.
func (t *TCP) TryWrite(b []byte) (int, error) {
	if t.IsClosing() || t.fd < 0 {
		return 0, unix.EBADF
	}
	if len(b) == 0 {
		return 0, nil
	}
	for {
		n, err := unix.Write(t.fd, b)
		if err == unix.EINTR {
			continue
		}
		if err != nil {
			return 0, err
		}
		return n, nil
	}
}

// SetKeepAlive toggles SO_KEEPALIVE; delay is the idle time before probes,
// rounded down to seconds with a minimum of one.
func (t *TCP) SetKeepAlive(enable bool, delay time.Duration) error {
	if t.IsClosing() || t.fd < 0 {
		return unix.EBADF
	}
	on := 0
	if enable {
		on = 1
	}
	if err := unix.SetsockoptInt(t.fd, unix.SOL_SOCKET, unix.SO_KEEPALIVE, on); err != nil {
		return err
	}
	if !enable {
		return nil
	}
	secs := int(delay / time.Second)
	if secs < 1 {
		secs = 1
	}
	return unix.SetsockoptInt(t.fd, unix.IPPROTO_TCP, unix.TCP_KEEPIDLE, secs)
}

// Sockname returns the local address.
func (t *TCP) Sockname() (netip.AddrPort, error) {
	if t.fd < 0 {
		return netip.AddrPort{}, unix.EBADF
	}
	sa, err := unix.Getsockname(t.fd)
	if err != nil {
		return netip.AddrPort{}, err
	}
	return addrPort(sa)
}

// Peername returns the remote address.
func (t *TCP) Peername() (netip.AddrPort, error) {
	if t.fd < 0 {
		return netip.AddrPort{}, unix.EBADF
	}
	sa, err := unix.Getpeername(t.fd)
	if err != nil {
		return netip.AddrPort{}, err
	}
	return addrPort(sa)
}

func (t *TCP) watch(mask uint32) error {
	if err := t.loop.poller.control(t.fd, t.watching, mask); err != nil {
		return err
	}
	switch {
	case mask == 0:
		delete(t.loop.sockets, t.fd)
	case t.watching == 0:
		t.loop.sockets[t.fd] = t
	}
	t.watching = mask
	return nil
}

func (t *TCP) onIO(ev ioEvent) {
	if !ev.readable && !ev.hangup {
		return
	}
	switch {
	case t.listening:
		t.acceptReady()
	case t.reading:
		t.readReady()
	}
}

func (t *TCP) acceptReady() {
	for i := 0; i < maxAcceptsPerWake && t.listening && !t.IsClosing(); i++ {
		nfd, _, err := unix.Accept4(t.fd, unix.SOCK_NONBLOCK|unix.SOCK_CLOEXEC)
		if err != nil {
			switch err {
			case unix.EAGAIN:
				return
			case unix.EINTR, unix.ECONNABORTED:
				continue
			}
			t.onConnection(err)
			return
		}
		t.pendingFD = nfd
		t.onConnection(nil)
		if t.pendingFD >= 0 {
			_ = unix.Close(t.pendingFD)
			t.pendingFD = -1
		}
	}
}

// readReady delivers reads until the socket drains or the subscriber stops.
// EOF and errors end the subscription.
func (t *TCP) readReady() {
	for i := 0; i < maxReadsPerWake && t.reading; i++ {
		buf := t.alloc(suggestedReadSize)
		if len(buf) == 0 {
			t.finishRead(0, unix.ENOBUFS)
			return
		}
		n, err := unix.Read(t.fd, buf)
		switch {
		case err == unix.EINTR:
			continue
		case err == unix.EAGAIN:
			return
		case err != nil:
			t.finishRead(0, err)
			return
		case n == 0:
			t.finishRead(0, io.EOF)
			return
		default:
			t.onRead(n, nil)
		}
	}
}

func (t *TCP) finishRead(n int, err error) {
	t.onRead(n, err)
	if t.reading {
		_ = t.ReadStop()
	}
}

func (t *TCP) teardown() {
	if t.watching != 0 {
		_ = t.loop.poller.control(t.fd, t.watching, 0)
		delete(t.loop.sockets, t.fd)
		t.watching = 0
	}
	if t.pendingFD >= 0 {
		_ = unix.Close(t.pendingFD)
		t.pendingFD = -1
	}
	if t.fd >= 0 {
		_ = unix.Close(t.fd)
		t.fd = -1
	}
	t.listening, t.reading = false, false
	t.alloc, t.onRead, t.onConnection = nil, nil, nil
}

func sockaddr(addr netip.AddrPort) unix.Sockaddr {
	ip := addr.Addr()
	if ip.Is4() {
		return &unix.SockaddrInet4{Port: int(addr.Port()), Addr: ip.As4()}
	}
	return &unix.SockaddrInet6{Port: int(addr.Port()), Addr: ip.As16()}
}

func addrPort(sa unix.Sockaddr) (netip.AddrPort, error) {
	switch v := sa.(type) {
	case *unix.SockaddrInet4:
		return netip.AddrPortFrom(netip.AddrFrom4(v.Addr), uint16(v.Port)), nil
	case *unix.SockaddrInet6:
		return netip.AddrPortFrom(netip.AddrFrom16(v.Addr).Unmap(), uint16(v.Port)), nil
	default:
		return netip.AddrPort{}, unix.EAFNOSUPPORT
	}
}
