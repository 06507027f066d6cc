//go:build linux

// Package benchmarks
// Author: momentics <momentics@gmail.com>
//
// Performance benchmarks for hioload-tcp components.

package benchmarks

import (
	"io"
	"net"
	"testing"

	"github.com/momentics/hioload-tcp/facade"
	"github.com/momentics/hioload-tcp/internal/concurrency"
	"github.com/momentics/hioload-tcp/pool"
)

// BenchmarkSlabPool measures write slab recycling.
func BenchmarkSlabPool(b *testing.B) {
	p := pool.NewSlabPool(0)

	b.ResetTimer()
	b.RunParallel(func(pb *testing.PB) {
		for pb.Next() {
			p.Put(p.Get(4096))
		}
	})
}

// BenchmarkInboxThroughput measures the reactor inbox queue under contention.
func BenchmarkInboxThroughput(b *testing.B) {
	q := concurrency.NewLockFreeQueue[int](1024)

	b.ResetTimer()
	b.RunParallel(func(pb *testing.PB) {
		i := 0
		for pb.Next() {
			if !q.Enqueue(i) {
				q.Dequeue()
			}
			i++
		}
	})
}

// BenchmarkEchoRoundTrip measures one request/response over loopback.
func BenchmarkEchoRoundTrip(b *testing.B) {
	srv, err := facade.NewServer(nil, facade.WithLogLevel("error"))
	if err != nil {
		b.Fatal(err)
	}
	if err := srv.OnClientConnected(func(c *facade.Conn) {
		_, _ = io.Copy(c.Writer(), c.Reader())
	}); err != nil {
		b.Fatal(err)
	}
	if err := srv.Listen("127.0.0.1", 0); err != nil {
		b.Fatal(err)
	}
	addr := srv.Address().String()
	if err := srv.Start(); err != nil {
		b.Fatal(err)
	}
	defer srv.Shutdown()

	conn, err := net.Dial("tcp", addr)
	if err != nil {
		b.Fatal(err)
	}
	defer conn.Close()

	msg := make([]byte, 512)
	reply := make([]byte, len(msg))
	b.SetBytes(int64(len(msg)))
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		if _, err := conn.Write(msg); err != nil {
			b.Fatal(err)
		}
		if _, err := io.ReadFull(conn, reply); err != nil {
			b.Fatal(err)
		}
	}
}
