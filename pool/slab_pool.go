// File: pool/slab_pool.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0

package pool

import (
	"sort"
	"sync/atomic"

	"github.com/momentics/hioload-tcp/internal/concurrency"
)

// DefaultClasses are the slab sizes used by NewSlabPool when none are given.
var DefaultClasses = []int{512, 4 << 10, 64 << 10}

const defaultClassDepth = 1024

type slabClass struct {
	size int
	free *concurrency.LockFreeQueue[[]byte]
}

// SlabPool hands out byte slices from the smallest size class that fits.
// Requests larger than the biggest class are allocated directly and are not
// recycled. Safe for concurrent use.
type SlabPool struct {
	classes []slabClass

	allocs  atomic.Int64
	reuses  atomic.Int64
	returns atomic.Int64
	drops   atomic.Int64
}

// NewSlabPool creates a pool keeping up to depth free slabs per class.
func NewSlabPool(depth int, classes ...int) *SlabPool {
	if depth <= 0 {
		depth = defaultClassDepth
	}
	if len(classes) == 0 {
		classes = DefaultClasses
	}
	sizes := append([]int(nil), classes...)
	sort.Ints(sizes)
	p := &SlabPool{}
	for _, size := range sizes {
		if size <= 0 || (len(p.classes) > 0 && p.classes[len(p.classes)-1].size == size) {
			continue
		}
		p.classes = append(p.classes, slabClass{
			size: size,
			free: concurrency.NewLockFreeQueue[[]byte](depth),
		})
	}
	return p
}

func (p *SlabPool) class(n int) *slabClass {
	for i := range p.classes {
		if p.classes[i].size >= n {
			return &p.classes[i]
		}
	}
	return nil
}

// Get returns a slice of length n.
func (p *SlabPool) Get(n int) []byte {
	c := p.class(n)
	if c == nil {
		p.allocs.Add(1)
		return make([]byte, n)
	}
	if b, ok := c.free.Dequeue(); ok {
		p.reuses.Add(1)
		return b[:n]
	}
	p.allocs.Add(1)
	return make([]byte, n, c.size)
}

// Put recycles b. Slices not obtained from Get are dropped.
func (p *SlabPool) Put(b []byte) {
	c := p.class(cap(b))
	if c == nil || c.size != cap(b) {
		p.drops.Add(1)
		return
	}
	if !c.free.Enqueue(b[:0]) {
		p.drops.Add(1)
		return
	}
	p.returns.Add(1)
}

// Stats returns allocation counters.
func (p *SlabPool) Stats() map[string]int64 {
	return map[string]int64{
		"allocs":  p.allocs.Load(),
		"reuses":  p.reuses.Load(),
		"returns": p.returns.Load(),
		"drops":   p.drops.Load(),
	}
}
