//go:build linux
// +build linux

package affinity_test

import (
	"testing"

	"github.com/momentics/hioload-uring/affinity"
	"github.com/momentics/hioload-uring/api"
	"github.com/stretchr/testify/require"
	"golang.org/x/sys/unix"
)

func TestPinRestrictsThread(t *testing.T) {
	var before unix.CPUSet
	require.NoError(t, unix.SchedGetaffinity(0, &before))
	cpu := -1
	for i := 0; i < len(before)*64; i++ {
		if before.IsSet(i) {
			cpu = i
			break
		}
	}
	require.GreaterOrEqual(t, cpu, 0)

	require.NoError(t, affinity.Pin(cpu))
	var during unix.CPUSet
	require.NoError(t, unix.SchedGetaffinity(0, &during))
	require.Equal(t, 1, during.Count())
	require.True(t, during.IsSet(cpu))

	require.NoError(t, affinity.Unpin())
	var after unix.CPUSet
	require.NoError(t, unix.SchedGetaffinity(0, &after))
	require.Equal(t, before.Count(), after.Count())
}

func TestPinRejectsNegative(t *testing.T) {
	require.ErrorIs(t, affinity.Pin(-1), api.ErrInvalidArgument)
	require.NoError(t, affinity.Unpin())
}
