package adapters_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/momentics/hioload-tcp/adapters"
	"github.com/momentics/hioload-tcp/api"
)

func TestControlAdapterBasic(t *testing.T) {
	ctrl := adapters.NewControlAdapter(func() map[string]any {
		return map[string]any{"connections": 3}
	})
	assert.Empty(t, ctrl.GetConfig(), "expected empty config on init")

	called := 0
	ctrl.OnReload(func() { called++ })
	require.NoError(t, ctrl.SetConfig(map[string]any{"k": 1}))
	require.NoError(t, ctrl.SetConfig(map[string]any{"x": 2}))
	assert.Equal(t, 2, called)
	assert.Equal(t, map[string]any{"k": 1, "x": 2}, ctrl.GetConfig())
	v, ok := ctrl.Get("k")
	require.True(t, ok)
	assert.Equal(t, 1, v)

	assert.ErrorIs(t, ctrl.SetConfig(nil), api.ErrInvalidArgument)
}

func TestControlAdapterStats(t *testing.T) {
	ctrl := adapters.NewControlAdapter(func() map[string]any {
		return map[string]any{"connections": 3}
	})
	ctrl.SetMetric("mode", "echo")
	ctrl.RegisterDebugProbe("answer", func() any { return 42 })
	require.NoError(t, ctrl.SetConfig(map[string]any{"k": 1}))

	stats := ctrl.Stats()
	assert.Equal(t, 3, stats["connections"])
	assert.Equal(t, "echo", stats["mode"])
	assert.Equal(t, 42, stats["debug.answer"])
	assert.Equal(t, int64(1), stats["control.reloads"])
	assert.Contains(t, stats, "debug.platform.cpus")
}
