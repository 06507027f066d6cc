// File: facade/config.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// Facade configuration: defaults, TOML loading and functional options.

package facade

import (
	"fmt"
	"runtime"
	"strings"
	"time"

	"github.com/BurntSushi/toml"

	"github.com/momentics/hioload-tcp/server"
)

// Config holds the parameters of one server run. LogLevel and KeepAlive may
// be changed at runtime through Control.
type Config struct {
	Host          string        `toml:"host"`           // empty binds every interface
	Port          int           `toml:"port"`           // 0 picks an ephemeral port
	Backlog       int           `toml:"backlog"`        // listen(2) backlog
	InboxCapacity int           `toml:"inbox_capacity"` // requests queued for the loop
	Workers       int           `toml:"workers"`        // background work queue size
	EventWorkers  int           `toml:"event_workers"`  // goroutines running event handlers
	LoopCPUs      []int         `toml:"loop_cpus"`      // pin the loop thread; empty leaves it floating
	KeepAlive     time.Duration `toml:"keepalive"`      // idle time before keepalive probes
	LogLevel      string        `toml:"log_level"`
}

// DefaultConfig returns default configuration values.
func DefaultConfig() *Config {
	return &Config{
		Port:          0,
		Backlog:       server.DefaultBacklog,
		InboxCapacity: 4096,
		Workers:       4,
		EventWorkers:  runtime.NumCPU(),
		KeepAlive:     time.Second,
		LogLevel:      "info",
	}
}

// LoadConfig reads a TOML file over the defaults. Unknown keys are an error.
func LoadConfig(path string) (*Config, error) {
	cfg := DefaultConfig()
	md, err := toml.DecodeFile(path, cfg)
	if err != nil {
		return nil, fmt.Errorf("load config %s: %w", path, err)
	}
	if undecoded := md.Undecoded(); len(undecoded) > 0 {
		keys := make([]string, len(undecoded))
		for i, k := range undecoded {
			keys[i] = k.String()
		}
		return nil, fmt.Errorf("load config %s: unknown keys %s", path, strings.Join(keys, ", "))
	}
	return cfg, nil
}

// Map exposes the runtime-relevant values for Control.
func (c *Config) Map() map[string]any {
	return map[string]any{
		"host":           c.Host,
		"port":           c.Port,
		"backlog":        c.Backlog,
		"inbox_capacity": c.InboxCapacity,
		"workers":        c.Workers,
		"event_workers":  c.EventWorkers,
		"loop_cpus":      append([]int(nil), c.LoopCPUs...),
		"keepalive":      c.KeepAlive,
		"log_level":      c.LogLevel,
	}
}

// Option overrides a Config field.
type Option func(*Config)

// WithHost sets the listen host.
func WithHost(host string) Option { return func(c *Config) { c.Host = host } }

// WithPort sets the listen port.
func WithPort(port int) Option { return func(c *Config) { c.Port = port } }

// WithBacklog sets the listen backlog.
func WithBacklog(n int) Option { return func(c *Config) { c.Backlog = n } }

// WithEventWorkers sets the number of event handler goroutines.
func WithEventWorkers(n int) Option { return func(c *Config) { c.EventWorkers = n } }

// WithLoopCPUs pins the loop thread to cpus.
func WithLoopCPUs(cpus ...int) Option { return func(c *Config) { c.LoopCPUs = cpus } }

// WithKeepAlive sets the keepalive delay applied to new connections.
func WithKeepAlive(d time.Duration) Option { return func(c *Config) { c.KeepAlive = d } }

// WithLogLevel sets the logrus level name.
func WithLogLevel(level string) Option { return func(c *Config) { c.LogLevel = level } }
