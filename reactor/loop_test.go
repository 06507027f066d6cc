//go:build linux

package reactor

import (
	"errors"
	"io"
	"net"
	"net/netip"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sys/unix"
)

func newTestLoop(t *testing.T, opts Options) *Loop {
	t.Helper()
	l, err := NewLoop(opts)
	require.NoError(t, err)
	t.Cleanup(func() { _ = l.Release() })
	return l
}

func runAsync(l *Loop) <-chan error {
	done := make(chan error, 1)
	go func() { done <- l.Run() }()
	return done
}

func waitRun(t *testing.T, done <-chan error) {
	t.Helper()
	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(10 * time.Second):
		t.Fatal("loop did not stop")
	}
}

func TestRunWithoutHandlesReturns(t *testing.T) {
	l := newTestLoop(t, Options{})
	require.NoError(t, l.Run())
	assert.False(t, l.Running())
}

func TestAsyncDispatchedExactlyOnce(t *testing.T) {
	l := newTestLoop(t, Options{InboxCapacity: 8192})
	sentinel, err := l.NewTCP()
	require.NoError(t, err)

	const senders, perSender = 16, 200
	const total = senders * perSender
	var dispatched atomic.Int64
	seen := make([]atomic.Int32, total)

	done := runAsync(l)
	var g errgroup.Group
	for s := 0; s < senders; s++ {
		s := s
		g.Go(func() error {
			for i := 0; i < perSender; i++ {
				a, err := l.NewAsync(func(a *Async) {
					seen[a.Data().(int)].Add(1)
					l.Close(a, nil)
					if dispatched.Add(1) == total {
						l.Close(sentinel, nil)
					}
				})
				if err != nil {
					return err
				}
				a.SetData(s*perSender + i)
				if err := a.Send(); err != nil {
					return err
				}
				assert.ErrorIs(t, a.Send(), ErrAlreadySent)
			}
			return nil
		})
	}
	require.NoError(t, g.Wait())
	waitRun(t, done)

	assert.Equal(t, int64(total), dispatched.Load())
	for i := range seen {
		require.Equal(t, int32(1), seen[i].Load(), "request %d", i)
	}
	assert.Equal(t, 0, l.ActiveHandles())
}

func TestCloseCallbacksAreOrderedAndIdempotent(t *testing.T) {
	l := newTestLoop(t, Options{})
	var order []int
	handles := make([]*TCP, 3)
	for i := range handles {
		h, err := l.NewTCP()
		require.NoError(t, err)
		handles[i] = h
	}
	a, err := l.NewAsync(func(a *Async) {
		l.Close(a, nil)
		for i, h := range handles {
			i := i
			l.Close(h, func(Handle) { order = append(order, i) })
		}
		l.Close(handles[0], func(Handle) { order = append(order, 99) })
		assert.True(t, l.IsClosing(handles[0]))
	})
	require.NoError(t, err)
	require.NoError(t, a.Send())
	require.NoError(t, l.Run())
	assert.Equal(t, []int{0, 1, 2}, order)
}

func TestWalkVisitsLiveHandles(t *testing.T) {
	l := newTestLoop(t, Options{})
	keep, err := l.NewTCP()
	require.NoError(t, err)
	other, err := l.NewTCP()
	require.NoError(t, err)

	var visited []Handle
	a, err := l.NewAsync(func(a *Async) {
		l.Close(a, nil)
		l.Walk(func(h Handle) {
			visited = append(visited, h)
			if !h.IsClosing() {
				l.Close(h, nil)
			}
		})
	})
	require.NoError(t, err)
	require.NoError(t, a.Send())
	require.NoError(t, l.Run())

	assert.Len(t, visited, 3)
	assert.Contains(t, visited, Handle(keep))
	assert.Contains(t, visited, Handle(other))
}

func TestQueueWorkCompletesOnLoop(t *testing.T) {
	l := newTestLoop(t, Options{Workers: 2})
	var worked, after atomic.Bool
	a, err := l.NewAsync(func(a *Async) {
		l.Close(a, nil)
		require.NoError(t, l.QueueWork(func() {
			time.Sleep(20 * time.Millisecond)
			worked.Store(true)
		}, func() {
			assert.True(t, worked.Load())
			assert.True(t, l.Running())
			after.Store(true)
		}))
	})
	require.NoError(t, err)
	require.NoError(t, a.Send())
	require.NoError(t, l.Run())
	assert.True(t, after.Load(), "loop must stay alive until work completes")
}

func TestInboxFullAndReleasedLoop(t *testing.T) {
	l, err := NewLoop(Options{InboxCapacity: 2})
	require.NoError(t, err)
	for i := 0; i < 2; i++ {
		a, err := l.NewAsync(func(a *Async) { l.Close(a, nil) })
		require.NoError(t, err)
		require.NoError(t, a.Send())
	}
	extra, err := l.NewAsync(func(a *Async) { l.Close(a, nil) })
	require.NoError(t, err)
	assert.ErrorIs(t, extra.Send(), ErrInboxFull)
	assert.Equal(t, int64(2), l.Pending())

	require.NoError(t, l.Run())
	assert.Zero(t, l.Pending())
	require.NoError(t, extra.Send(), "a rejected send may be retried")
	assert.Equal(t, int64(1), l.Pending())
	require.NoError(t, l.Run())
	assert.Zero(t, l.Pending())

	require.NoError(t, l.Release())
	_, err = l.NewAsync(func(*Async) {})
	assert.ErrorIs(t, err, ErrLoopClosed)
	assert.ErrorIs(t, l.Run(), ErrLoopClosed)
	assert.ErrorIs(t, l.QueueWork(func() {}, nil), ErrLoopClosed)
}

func TestTCPAcceptReadWrite(t *testing.T) {
	l := newTestLoop(t, Options{})
	server, err := l.NewTCP()
	require.NoError(t, err)
	require.NoError(t, server.Bind(netip.MustParseAddrPort("127.0.0.1:0")))
	bound, err := server.Sockname()
	require.NoError(t, err)
	require.NotZero(t, bound.Port())

	buf := make([]byte, 64)
	var peer netip.AddrPort
	require.NoError(t, server.Listen(511, func(status error) {
		assert.NoError(t, status)
		client, err := l.NewTCP()
		assert.NoError(t, err)
		assert.NoError(t, server.Accept(client))
		peer, _ = client.Peername()
		assert.NoError(t, client.SetKeepAlive(true, 0))
		assert.NoError(t, client.ReadStart(func(int) []byte { return buf }, func(n int, err error) {
			assert.NoError(t, err)
			assert.NoError(t, client.ReadStop())
			written, werr := client.TryWrite(buf[:n])
			assert.NoError(t, werr)
			assert.Equal(t, n, written)
			l.Close(client, nil)
			l.Close(server, nil)
		}))
	}))

	done := runAsync(l)
	conn, err := net.Dial("tcp", bound.String())
	require.NoError(t, err)
	defer conn.Close()
	_, err = conn.Write([]byte("ping"))
	require.NoError(t, err)
	reply := make([]byte, 4)
	_, err = io.ReadFull(conn, reply)
	require.NoError(t, err)
	assert.Equal(t, "ping", string(reply))

	waitRun(t, done)
	assert.True(t, peer.Addr().IsLoopback())
	assert.Equal(t, -1, server.Fd())
}

func TestTCPReadEOF(t *testing.T) {
	l := newTestLoop(t, Options{})
	server, err := l.NewTCP()
	require.NoError(t, err)
	require.NoError(t, server.Bind(netip.MustParseAddrPort("127.0.0.1:0")))
	bound, err := server.Sockname()
	require.NoError(t, err)

	var readErr error
	buf := make([]byte, 16)
	require.NoError(t, server.Listen(16, func(status error) {
		client, _ := l.NewTCP()
		assert.NoError(t, server.Accept(client))
		assert.ErrorIs(t, server.Accept(client), unix.EAGAIN)
		assert.NoError(t, client.ReadStart(func(int) []byte { return buf }, func(n int, err error) {
			readErr = err
			l.Close(client, nil)
			l.Close(server, nil)
		}))
	}))

	done := runAsync(l)
	conn, err := net.Dial("tcp", bound.String())
	require.NoError(t, err)
	require.NoError(t, conn.Close())
	waitRun(t, done)
	assert.True(t, errors.Is(readErr, io.EOF))
}

func TestTCPTryWriteOnClosedHandle(t *testing.T) {
	l := newTestLoop(t, Options{})
	h, err := l.NewTCP()
	require.NoError(t, err)
	_, err = h.TryWrite([]byte("x"))
	assert.ErrorIs(t, err, unix.EBADF)
	assert.ErrorIs(t, h.ReadStart(nil, nil), unix.ENOTCONN)
	l.Close(h, nil)
	require.NoError(t, l.Run())
	assert.ErrorIs(t, h.Bind(netip.MustParseAddrPort("127.0.0.1:0")), unix.EINVAL)
}

func TestErrnoName(t *testing.T) {
	assert.Equal(t, "EPIPE", ErrnoName(int(unix.EPIPE)))
	errno, ok := AsErrno(unix.ECONNRESET)
	require.True(t, ok)
	assert.Equal(t, unix.ECONNRESET, errno)
	_, ok = AsErrno(io.EOF)
	assert.False(t, ok)
}

func TestRunPinsLoopThread(t *testing.T) {
	var allowed unix.CPUSet
	require.NoError(t, unix.SchedGetaffinity(0, &allowed))
	cpu := -1
	for i := 0; i < 1024 && cpu < 0; i++ {
		if allowed.IsSet(i) {
			cpu = i
		}
	}
	require.GreaterOrEqual(t, cpu, 0)

	l := newTestLoop(t, Options{Affinity: []int{cpu}})
	var pinned unix.CPUSet
	a, err := l.NewAsync(func(a *Async) {
		l.Close(a, nil)
		assert.NoError(t, unix.SchedGetaffinity(0, &pinned))
	})
	require.NoError(t, err)
	require.NoError(t, a.Send())
	require.NoError(t, l.Run())
	assert.Equal(t, 1, pinned.Count())
	assert.True(t, pinned.IsSet(cpu))
}
