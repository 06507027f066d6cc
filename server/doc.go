// File: server/doc.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// Package server is the reactor-based TCP server core. Any goroutine may
// issue read, write, close and keepalive requests; each request travels
// through a one-shot wake handle to the loop goroutine, which alone mutates
// socket and handle state. Host code plugs in through capability interfaces
// (factory, events, exceptions) and receives results through Completion
// callbacks that fire exactly once per request.
package server
