// control/ledger.go
// Author: momentics <momentics@gmail.com>
//
// Acquire/release accounting for references that must be released exactly once.

package control

import (
	"sync"
	"sync/atomic"

	"github.com/momentics/hioload-tcp/api"
)

// Ledger counts acquisitions and releases per resource kind.
type Ledger struct {
	mu       sync.Mutex
	acquired map[string]int64
	released map[string]int64
}

// NewLedger creates an empty ledger.
func NewLedger() *Ledger {
	return &Ledger{
		acquired: make(map[string]int64),
		released: make(map[string]int64),
	}
}

// Lease is a single acquired reference.
type Lease struct {
	ledger   *Ledger
	kind     string
	released atomic.Bool
}

// Acquire records one reference of kind and returns its lease.
func (l *Ledger) Acquire(kind string) *Lease {
	l.mu.Lock()
	l.acquired[kind]++
	l.mu.Unlock()
	return &Lease{ledger: l, kind: kind}
}

// Release returns the reference. A second release is a broken invariant.
func (x *Lease) Release() {
	api.Precondition(x.released.CompareAndSwap(false, true), "double release of "+x.kind)
	x.ledger.mu.Lock()
	x.ledger.released[x.kind]++
	x.ledger.mu.Unlock()
}

// Released reports whether the lease was returned.
func (x *Lease) Released() bool { return x.released.Load() }

// Kind returns the resource kind.
func (x *Lease) Kind() string { return x.kind }

// Outstanding returns acquired minus released for kind.
func (l *Ledger) Outstanding(kind string) int64 {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.acquired[kind] - l.released[kind]
}

// Acquired returns the total number of acquisitions for kind.
func (l *Ledger) Acquired(kind string) int64 {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.acquired[kind]
}

// Balanced reports whether every acquired reference has been released.
func (l *Ledger) Balanced() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	for kind, n := range l.acquired {
		if l.released[kind] != n {
			return false
		}
	}
	return true
}

// Snapshot returns "acquired.<kind>" and "released.<kind>" counts.
func (l *Ledger) Snapshot() map[string]int64 {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make(map[string]int64, 2*len(l.acquired))
	for kind, n := range l.acquired {
		out["acquired."+kind] = n
		out["released."+kind] = l.released[kind]
	}
	return out
}
