//go:build !linux

// File: internal/concurrency/affinity_other.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0

package concurrency

func platformPin([]int) error { return ErrAffinityUnsupported }

func platformUnpin() error { return nil }
