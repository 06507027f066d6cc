// File: events/emitter.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// Package events is a small named-event emitter used by the facade to fan
// server and connection notifications out to host handlers.
package events

import (
	"errors"
	"sort"
	"strings"
	"sync"
	"sync/atomic"
)

// ErrInvalidEventName is returned for blank event names.
var ErrInvalidEventName = errors.New("events: event name must not be blank")

// Handler receives the payload passed to Emit.
type Handler func(data any)

// HandlerID identifies one registration for Off.
type HandlerID uint64

type entry struct {
	id   HandlerID
	fn   Handler
	once bool
	used atomic.Bool
}

// Emitter is safe for concurrent use. Handlers run on the emitting goroutine
// in registration order, outside the emitter's lock.
type Emitter struct {
	mu       sync.RWMutex
	handlers map[string][]*entry
	nextID   atomic.Uint64
}

// NewEmitter returns an emitter with no handlers.
func NewEmitter() *Emitter {
	return &Emitter{handlers: make(map[string][]*entry)}
}

func normalize(name string) (string, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return "", ErrInvalidEventName
	}
	return name, nil
}

// On registers fn for every emission of name.
func (e *Emitter) On(name string, fn Handler) (HandlerID, error) {
	return e.add(name, fn, false)
}

// Once registers fn for the next emission of name only.
func (e *Emitter) Once(name string, fn Handler) (HandlerID, error) {
	return e.add(name, fn, true)
}

func (e *Emitter) add(name string, fn Handler, once bool) (HandlerID, error) {
	name, err := normalize(name)
	if err != nil {
		return 0, err
	}
	en := &entry{id: HandlerID(e.nextID.Add(1)), fn: fn, once: once}
	e.mu.Lock()
	e.handlers[name] = append(e.handlers[name], en)
	e.mu.Unlock()
	return en.id, nil
}

// Emit calls the handlers registered for name with data.
func (e *Emitter) Emit(name string, data any) error {
	name, err := normalize(name)
	if err != nil {
		return err
	}
	e.mu.RLock()
	list := append([]*entry(nil), e.handlers[name]...)
	e.mu.RUnlock()

	for _, en := range list {
		if en.once {
			if !en.used.CompareAndSwap(false, true) {
				continue
			}
			e.Off(name, en.id)
		}
		en.fn(data)
	}
	return nil
}

// Off removes one registration. Unknown ids are ignored.
func (e *Emitter) Off(name string, id HandlerID) {
	name = strings.TrimSpace(name)
	e.mu.Lock()
	defer e.mu.Unlock()
	list := e.handlers[name]
	for i, en := range list {
		if en.id == id {
			e.handlers[name] = append(list[:i:i], list[i+1:]...)
			break
		}
	}
	if len(e.handlers[name]) == 0 {
		delete(e.handlers, name)
	}
}

// RemoveFor drops every handler of name.
func (e *Emitter) RemoveFor(name string) {
	e.mu.Lock()
	delete(e.handlers, strings.TrimSpace(name))
	e.mu.Unlock()
}

// RemoveAll drops every handler.
func (e *Emitter) RemoveAll() {
	e.mu.Lock()
	e.handlers = make(map[string][]*entry)
	e.mu.Unlock()
}

// EventNames returns the sorted names that have at least one handler.
func (e *Emitter) EventNames() []string {
	e.mu.RLock()
	names := make([]string, 0, len(e.handlers))
	for name := range e.handlers {
		names = append(names, name)
	}
	e.mu.RUnlock()
	sort.Strings(names)
	return names
}

// HandlerCount returns the number of handlers registered for name.
func (e *Emitter) HandlerCount(name string) int {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return len(e.handlers[strings.TrimSpace(name)])
}
