// File: server/options.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// Core configuration and functional options.

package server

import "github.com/sirupsen/logrus"

// DefaultBacklog is the listen backlog used when none is configured.
const DefaultBacklog = 511

// Config tunes a Server.
type Config struct {
	Backlog       int   // listen(2) backlog
	InboxCapacity int   // pending requests not yet picked up by the loop
	Workers       int   // background work queue goroutines
	Affinity      []int // CPUs the loop thread is pinned to
	Logger        *logrus.Entry
}

// DefaultConfig returns sensible defaults.
func DefaultConfig() *Config {
	return &Config{
		Backlog:       DefaultBacklog,
		InboxCapacity: 4096,
		Workers:       4,
	}
}

// ServerOption customizes server initialization.
type ServerOption func(*Config)

// WithBacklog overrides the listen backlog.
func WithBacklog(n int) ServerOption {
	return func(c *Config) { c.Backlog = n }
}

// WithInboxCapacity bounds the cross-goroutine request inbox.
func WithInboxCapacity(n int) ServerOption {
	return func(c *Config) { c.InboxCapacity = n }
}

// WithWorkers sets the background work queue size.
func WithWorkers(n int) ServerOption {
	return func(c *Config) { c.Workers = n }
}

// WithAffinity pins the loop thread to cpus while Run executes.
func WithAffinity(cpus ...int) ServerOption {
	return func(c *Config) { c.Affinity = cpus }
}

// WithLogger replaces the default "server" logger.
func WithLogger(l *logrus.Entry) ServerOption {
	return func(c *Config) { c.Logger = l }
}
