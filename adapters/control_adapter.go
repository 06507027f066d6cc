// Package adapters
// Author: momentics <momentics@gmail.com>
//
// Control adapter implementing api.Control interface using control package primitives.

package adapters

import (
	"github.com/sirupsen/logrus"

	"github.com/momentics/hioload-tcp/api"
	"github.com/momentics/hioload-tcp/control"
	"github.com/momentics/hioload-tcp/internal/logging"
)

// StatsSource supplies live counters merged into Stats.
type StatsSource func() map[string]any

// ControlAdapter exposes a server's configuration, counters and probes.
type ControlAdapter struct {
	config  *control.ConfigStore
	metrics *control.MetricsRegistry
	debug   *control.DebugProbes
	source  StatsSource
	log     *logrus.Entry
}

var _ api.Control = (*ControlAdapter)(nil)

// NewControlAdapter builds an adapter; source may be nil.
func NewControlAdapter(source StatsSource) *ControlAdapter {
	adapter := &ControlAdapter{
		config:  control.NewConfigStore(),
		metrics: control.NewMetricsRegistry(),
		debug:   control.NewDebugProbes(),
		source:  source,
		log:     logging.NewLogger("control"),
	}
	control.RegisterPlatformProbes(adapter.debug)
	return adapter
}

func (c *ControlAdapter) GetConfig() map[string]any {
	return c.config.GetSnapshot()
}

// SetConfig merges cfg and runs the reload listeners when a value changed.
func (c *ControlAdapter) SetConfig(cfg map[string]any) error {
	if cfg == nil {
		return api.ErrInvalidArgument
	}
	if changed := c.config.SetConfig(cfg); len(changed) > 0 {
		c.metrics.Inc("control.reloads")
		c.log.WithField("keys", changed).Debug("config changed")
	}
	return nil
}

// Get returns one configuration value.
func (c *ControlAdapter) Get(key string) (any, bool) {
	return c.config.Get(key)
}

func (c *ControlAdapter) Stats() map[string]any {
	combined := c.metrics.GetSnapshot()
	if c.source != nil {
		for k, v := range c.source() {
			combined[k] = v
		}
	}
	for k, v := range c.debug.DumpState() {
		combined["debug."+k] = v
	}
	return combined
}

// OnReload registers fn to run after every SetConfig that changes a value.
func (c *ControlAdapter) OnReload(fn func()) {
	c.config.OnReload(fn)
}

func (c *ControlAdapter) SetMetric(key string, value any) {
	c.metrics.Set(key, value)
}

func (c *ControlAdapter) RegisterDebugProbe(name string, fn func() any) {
	c.debug.RegisterProbe(name, fn)
}
