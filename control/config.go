// control/config.go
// Author: momentics <momentics@gmail.com>
//
// Runtime configuration store. Listeners run only when a merge changes at
// least one value.

package control

import (
	"reflect"
	"sort"
	"sync"
)

// ConfigStore is a key/value map with snapshot reads and change listeners.
type ConfigStore struct {
	mu        sync.RWMutex
	config    map[string]any
	version   uint64
	listeners []func()
}

// NewConfigStore initializes a new config store with empty data.
func NewConfigStore() *ConfigStore {
	return &ConfigStore{config: make(map[string]any)}
}

// GetSnapshot returns a copy of all config values.
func (cs *ConfigStore) GetSnapshot() map[string]any {
	cs.mu.RLock()
	defer cs.mu.RUnlock()
	out := make(map[string]any, len(cs.config))
	for k, v := range cs.config {
		out[k] = v
	}
	return out
}

// Get returns a single value.
func (cs *ConfigStore) Get(key string) (any, bool) {
	cs.mu.RLock()
	defer cs.mu.RUnlock()
	v, ok := cs.config[key]
	return v, ok
}

// Version counts the merges that changed something.
func (cs *ConfigStore) Version() uint64 {
	cs.mu.RLock()
	defer cs.mu.RUnlock()
	return cs.version
}

// SetConfig merges newCfg and returns the sorted keys whose value changed.
// Listeners run after the merge is visible, on the calling goroutine.
func (cs *ConfigStore) SetConfig(newCfg map[string]any) []string {
	cs.mu.Lock()
	var changed []string
	for k, v := range newCfg {
		if old, ok := cs.config[k]; ok && reflect.DeepEqual(old, v) {
			continue
		}
		cs.config[k] = v
		changed = append(changed, k)
	}
	if len(changed) == 0 {
		cs.mu.Unlock()
		return nil
	}
	cs.version++
	listeners := append([]func(){}, cs.listeners...)
	cs.mu.Unlock()

	sort.Strings(changed)
	for _, fn := range listeners {
		fn()
	}
	return changed
}

// OnReload registers a listener hook called on config changes.
func (cs *ConfigStore) OnReload(fn func()) {
	cs.mu.Lock()
	defer cs.mu.Unlock()
	cs.listeners = append(cs.listeners, fn)
}
