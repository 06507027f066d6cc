// File: api/control.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0

package api

// Control is the runtime control plane of a running server: a mutable
// configuration map whose changes fire reload hooks, plus merged counters
// and debug probes for inspection.
type Control interface {
	// GetConfig returns a snapshot of the configuration.
	GetConfig() map[string]any
	// Get returns one configuration value.
	Get(key string) (any, bool)
	// SetConfig merges cfg. Reload hooks run when a value changed.
	SetConfig(cfg map[string]any) error
	OnReload(fn func())

	// Stats merges counters, live server state and "debug."-prefixed probes.
	Stats() map[string]any
	SetMetric(key string, value any)
	RegisterDebugProbe(name string, fn func() any)
}
