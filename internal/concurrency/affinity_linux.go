//go:build linux

// File: internal/concurrency/affinity_linux.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0

package concurrency

import (
	"sync"

	"golang.org/x/sys/unix"
)

var (
	initialOnce sync.Once
	initialSet  unix.CPUSet
	initialErr  error
)

func initialAffinity() (unix.CPUSet, error) {
	initialOnce.Do(func() {
		initialErr = unix.SchedGetaffinity(0, &initialSet)
	})
	return initialSet, initialErr
}

func platformPin(cpus []int) error {
	if _, err := initialAffinity(); err != nil {
		return err
	}
	var set unix.CPUSet
	for _, cpu := range cpus {
		set.Set(cpu)
	}
	return unix.SchedSetaffinity(0, &set)
}

func platformUnpin() error {
	set, err := initialAffinity()
	if err != nil {
		return err
	}
	return unix.SchedSetaffinity(0, &set)
}
