package concurrency

import (
	"sync"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestExecutorRunsAllTasks(t *testing.T) {
	e := NewExecutor(4, nil)
	var wg sync.WaitGroup
	var ran atomic.Int64
	const n = 5000
	wg.Add(n)
	for i := 0; i < n; i++ {
		require.NoError(t, e.Submit(func() {
			ran.Add(1)
			wg.Done()
		}))
	}
	wg.Wait()
	e.Close()
	assert.Equal(t, int64(n), ran.Load())
	stats := e.Stats()
	assert.Equal(t, int64(n), stats["completed_tasks"])
	assert.Equal(t, int64(0), stats["pending_tasks"])
}

func TestExecutorCloseDrainsQueuedTasks(t *testing.T) {
	e := NewExecutor(2, nil)
	gate := make(chan struct{})
	var ran atomic.Int64
	for i := 0; i < 2; i++ {
		require.NoError(t, e.Submit(func() { <-gate; ran.Add(1) }))
	}
	for i := 0; i < 100; i++ {
		require.NoError(t, e.Submit(func() { ran.Add(1) }))
	}
	close(gate)
	e.Close()
	assert.Equal(t, int64(102), ran.Load())
	assert.ErrorIs(t, e.Submit(func() {}), ErrExecutorClosed)
	e.Close()
}

func TestExecutorRecoversPanics(t *testing.T) {
	var recovered atomic.Value
	e := NewExecutor(1, func(r any) { recovered.Store(r) })
	done := make(chan struct{})
	require.NoError(t, e.Submit(func() { panic("boom") }))
	require.NoError(t, e.Submit(func() { close(done) }))
	<-done
	e.Close()
	assert.Equal(t, "boom", recovered.Load())
}
