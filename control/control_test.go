package control

import (
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLedgerBalance(t *testing.T) {
	l := NewLedger()
	a := l.Acquire("buffer")
	b := l.Acquire("buffer")
	c := l.Acquire("callback")
	assert.False(t, l.Balanced())
	assert.Equal(t, int64(2), l.Outstanding("buffer"))

	a.Release()
	b.Release()
	c.Release()
	assert.True(t, l.Balanced())
	assert.True(t, a.Released())
	assert.Equal(t, int64(2), l.Acquired("buffer"))

	snap := l.Snapshot()
	assert.Equal(t, int64(1), snap["acquired.callback"])
	assert.Equal(t, int64(1), snap["released.callback"])
}

func TestLedgerDoubleReleasePanics(t *testing.T) {
	l := NewLedger()
	x := l.Acquire("context")
	x.Release()
	assert.Panics(t, x.Release)
	assert.Equal(t, int64(0), l.Outstanding("context"))
}

func TestLedgerConcurrent(t *testing.T) {
	l := NewLedger()
	var wg sync.WaitGroup
	for i := 0; i < 32; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 100; j++ {
				l.Acquire("k").Release()
			}
		}()
	}
	wg.Wait()
	assert.True(t, l.Balanced())
	assert.Equal(t, int64(3200), l.Acquired("k"))
}

func TestMetricsCounters(t *testing.T) {
	m := NewMetricsRegistry()
	m.Inc("requests")
	m.Add("requests", 4)
	m.Set("state", "LISTENING")
	assert.Equal(t, int64(5), m.Counter("requests"))
	assert.Equal(t, int64(0), m.Counter("missing"))
	snap := m.GetSnapshot()
	assert.Equal(t, int64(5), snap["requests"])
	assert.Equal(t, "LISTENING", snap["state"])
}

func TestConfigStoreReload(t *testing.T) {
	cs := NewConfigStore()
	calls := 0
	cs.OnReload(func() { calls++ })
	cs.SetConfig(map[string]any{"log_level": "debug"})
	assert.Equal(t, 1, calls)
	v, ok := cs.Get("log_level")
	require.True(t, ok)
	assert.Equal(t, "debug", v)
	assert.Len(t, cs.GetSnapshot(), 1)

	assert.Nil(t, cs.SetConfig(map[string]any{"log_level": "debug"}), "unchanged merge is silent")
	assert.Equal(t, 1, calls)
	assert.Equal(t, []string{"cpus", "log_level"},
		cs.SetConfig(map[string]any{"log_level": "warn", "cpus": []int{0, 1}}))
	assert.Nil(t, cs.SetConfig(map[string]any{"cpus": []int{0, 1}}))
	assert.Equal(t, 2, calls)
	assert.Equal(t, uint64(2), cs.Version())
}

func TestDebugProbes(t *testing.T) {
	dp := NewDebugProbes()
	RegisterPlatformProbes(dp)
	dp.RegisterProbe("answer", func() any { return 42 })
	state := dp.DumpState()
	assert.Equal(t, 42, state["answer"])
	assert.Contains(t, state, "platform.cpus")

	dp.RegisterProbe("broken", func() any { panic("boom") })
	assert.Equal(t, "probe panic: boom", dp.DumpState()["broken"])
	assert.Equal(t, []string{"answer", "broken", "platform.cpus", "platform.goroutines", "platform.os"}, dp.Names())
}

func TestWatchFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "server.toml")
	require.NoError(t, os.WriteFile(path, []byte("port = 1\n"), 0o600))

	changed := make(chan struct{}, 16)
	fw, err := WatchFile(path, func() { changed <- struct{}{} })
	require.NoError(t, err)
	defer fw.Close()

	require.NoError(t, os.WriteFile(filepath.Join(dir, "other.toml"), []byte("x"), 0o600))
	require.NoError(t, os.WriteFile(path, []byte("port = 2\n"), 0o600))

	select {
	case <-changed:
	case <-time.After(5 * time.Second):
		t.Fatal("no change notification")
	}
}
