// File: reactor/handle.go
// Author: momentics <momentics@gmail.com>
//
// Common handle state shared by every loop-owned resource.

package reactor

// HandleType identifies the concrete handle kind.
type HandleType int

const (
	TypeAsync HandleType = iota + 1
	TypeTCP
)

func (t HandleType) String() string {
	switch t {
	case TypeAsync:
		return "async"
	case TypeTCP:
		return "tcp"
	default:
		return "unknown"
	}
}

// Handle is any resource owned by a Loop.
type Handle interface {
	Loop() *Loop
	Type() HandleType
	Data() any
	SetData(v any)
	IsClosing() bool
	base() *handle
}

// CloseCallback runs on the loop goroutine once a handle is fully torn down.
type CloseCallback func(h Handle)

type handle struct {
	loop    *Loop
	typ     HandleType
	self    Handle
	data    any
	index   int // position in loop.handles, -1 when unregistered
	closing bool
	closed  bool
	closeCb CloseCallback
	closeFn func()
}

func (h *handle) init(l *Loop, typ HandleType, self Handle) {
	h.loop = l
	h.typ = typ
	h.self = self
	h.index = -1
}

func (h *handle) base() *handle { return h }

// Loop returns the owning loop.
func (h *handle) Loop() *Loop { return h.loop }

// Type returns the handle kind.
func (h *handle) Type() HandleType { return h.typ }

// Data returns the user value attached to the handle.
func (h *handle) Data() any { return h.data }

// SetData attaches a user value to the handle.
func (h *handle) SetData(v any) { h.data = v }

// IsClosing reports whether Close was called, including after teardown completed.
func (h *handle) IsClosing() bool { return h.closing || h.closed }
