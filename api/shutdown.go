// File: api/shutdown.go
// Package api defines unified graceful shutdown contract.
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0

package api

// GracefulShutdown combines closing a component with waiting until every
// resource it owns has been released.
type GracefulShutdown interface {
	// Shutdown stops the component and blocks until teardown completes.
	Shutdown() error
}
