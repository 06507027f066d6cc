// File: pool/doc.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// Package pool provides size-classed byte slabs recycled through bounded
// lock-free queues. Buffers handed to the reactor for writes are taken from
// here and returned once the write completes.
package pool
