//go:build !linux

// File: reactor/tcp_other.go
// Author: momentics <momentics@gmail.com>
//
// Stream handle stubs for unsupported platforms. NewLoop already fails here.

package reactor

import (
	"net/netip"
	"time"
)

type ConnectionCallback func(status error)

type AllocCallback func(suggested int) []byte

type ReadCallback func(n int, err error)

type TCP struct {
	handle
}

func (l *Loop) NewTCP() (*TCP, error) { return nil, ErrNotSupported }

func (t *TCP) Fd() int { return -1 }

func (t *TCP) Bind(addr netip.AddrPort) error { return ErrNotSupported }

func (t *TCP) Listen(backlog int, cb ConnectionCallback) error { return ErrNotSupported }

func (t *TCP) Accept(client *TCP) error { return ErrNotSupported }

func (t *TCP) ReadStart(alloc AllocCallback, cb ReadCallback) error { return ErrNotSupported }

func (t *TCP) ReadStop() error { return nil }

func (t *TCP) TryWrite(b []byte) (int, error) { return 0, ErrNotSupported }

func (t *TCP) SetKeepAlive(enable bool, delay time.Duration) error { return ErrNotSupported }

func (t *TCP) Sockname() (netip.AddrPort, error) { return netip.AddrPort{}, ErrNotSupported }

func (t *TCP) Peername() (netip.AddrPort, error) { return netip.AddrPort{}, ErrNotSupported }

func (t *TCP) onIO(ev ioEvent) {}
