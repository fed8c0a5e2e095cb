//go:build unix

package arena_test

import (
	"bytes"
	"testing"

	"github.com/cockroachdb/errors"
	"github.com/stretchr/testify/require"
	"github.com/vkngwrapper/mmalloc/arena"
	"github.com/vkngwrapper/mmalloc/memutils"
	"github.com/vkngwrapper/mmalloc/segment"
)

func TestMappedArena(t *testing.T) {
	mapped, err := segment.NewMapped(64 * 1024)
	require.NoError(t, err)
	defer func() {
		require.NoError(t, mapped.Close())
	}()

	var logs bytes.Buffer
	a, err := arena.New(testLogger(&logs), mapped, arena.CreateOptions{})
	require.NoError(t, err)

	var handles []arena.Handle
	for i := 0; i < 100; i++ {
		h, err := a.Allocate(200)
		require.NoError(t, err)
		writeInt(t, a, h, int32(i))
		handles = append(handles, h)
	}

	require.Equal(t, mapped.Base(), a.Start())
	require.GreaterOrEqual(t, mapped.Committed(), int(a.End()-a.Start()))

	for i, h := range handles {
		require.Equal(t, int32(i), readInt(t, a, h))
	}

	// The reservation caps growth
	_, err = a.Allocate(mapped.Reserved())
	require.True(t, errors.Is(err, memutils.ExhaustionError))

	for _, h := range handles {
		require.NoError(t, a.Release(h))
	}
	require.NoError(t, a.Validate())
	require.NoError(t, a.Destroy())
}
