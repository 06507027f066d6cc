//go:build linux

package concurrency

import (
	"runtime"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/sys/unix"
)

func firstAllowedCPU(t *testing.T) int {
	t.Helper()
	var set unix.CPUSet
	require.NoError(t, unix.SchedGetaffinity(0, &set))
	for cpu := 0; cpu < 1024; cpu++ {
		if set.IsSet(cpu) {
			return cpu
		}
	}
	t.Fatal("no cpu in affinity mask")
	return -1
}

func TestPinCurrentThread(t *testing.T) {
	runtime.LockOSThread()
	defer runtime.UnlockOSThread()

	cpu := firstAllowedCPU(t)
	require.NoError(t, PinCurrentThread(nil))
	require.NoError(t, PinCurrentThread([]int{cpu}))
	var set unix.CPUSet
	require.NoError(t, unix.SchedGetaffinity(0, &set))
	assert.Equal(t, 1, set.Count())
	assert.True(t, set.IsSet(cpu))
	require.NoError(t, UnpinCurrentThread())
}

func TestPinRejectsNegativeCPU(t *testing.T) {
	assert.Error(t, PinCurrentThread([]int{-1}))
}
