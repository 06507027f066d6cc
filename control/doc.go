// Package control
// Author: momentics <momentics@gmail.com>
//
// Runtime metrics, configuration control, resource accounting and debug
// introspection for hioload-tcp.
//
// Provides concurrent-safe state handling primitives including:
//   - Snapshot config reads and atomic updates with reload listeners
//   - File watching for hot reload
//   - Counter metrics
//   - Acquire/release ledgers that enforce exactly-once release
//   - Debug probe registration
package control
