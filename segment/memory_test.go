package segment_test

import (
	"testing"

	"github.com/cockroachdb/errors"
	"github.com/stretchr/testify/require"
	"github.com/vkngwrapper/mmalloc/memutils"
	"github.com/vkngwrapper/mmalloc/segment"
)

func TestMemoryExtend(t *testing.T) {
	mem := segment.NewMemory(0, 64)
	require.Equal(t, segment.DefaultMemoryBase, mem.Base())

	brk, err := mem.Extend(0)
	require.NoError(t, err)
	require.Equal(t, segment.DefaultMemoryBase, brk)

	prev, err := mem.Extend(40)
	require.NoError(t, err)
	require.Equal(t, segment.DefaultMemoryBase, prev)

	prev, err = mem.Extend(24)
	require.NoError(t, err)
	require.Equal(t, segment.DefaultMemoryBase+40, prev)

	brk, err = mem.Extend(0)
	require.NoError(t, err)
	require.Equal(t, segment.DefaultMemoryBase+64, brk)
}

func TestMemoryExhaustion(t *testing.T) {
	mem := segment.NewMemory(0x2000, 32)

	_, err := mem.Extend(16)
	require.NoError(t, err)

	prev, err := mem.Extend(17)
	require.Error(t, err)
	require.True(t, errors.Is(err, memutils.ExhaustionError))
	require.Equal(t, segment.Address(0x2010), prev)

	// The failed call must not move the break
	brk, err := mem.Extend(0)
	require.NoError(t, err)
	require.Equal(t, segment.Address(0x2010), brk)

	_, err = mem.Extend(-1)
	require.True(t, errors.Is(err, memutils.InvalidSizeError))
}

func TestMemoryBytes(t *testing.T) {
	mem := segment.NewMemory(0x2000, 64)
	_, err := mem.Extend(32)
	require.NoError(t, err)

	view, err := mem.Bytes(0x2008, 8)
	require.NoError(t, err)
	require.Len(t, view, 8)
	copy(view, "abcdefgh")

	again, err := mem.Bytes(0x2000, 32)
	require.NoError(t, err)
	require.Equal(t, []byte("abcdefgh"), again[8:16])

	// Views taken before growth stay attached to the same memory
	_, err = mem.Extend(32)
	require.NoError(t, err)
	view[0] = 'z'
	again, err = mem.Bytes(0x2008, 1)
	require.NoError(t, err)
	require.Equal(t, byte('z'), again[0])
}

func TestMemoryBytesOutOfRange(t *testing.T) {
	mem := segment.NewMemory(0x2000, 64)
	_, err := mem.Extend(32)
	require.NoError(t, err)

	_, err = mem.Bytes(0x1fff, 1)
	require.True(t, errors.Is(err, memutils.AddressRangeError))

	_, err = mem.Bytes(0x2000, 33)
	require.True(t, errors.Is(err, memutils.AddressRangeError))

	_, err = mem.Bytes(0x2020, 1)
	require.True(t, errors.Is(err, memutils.AddressRangeError))

	_, err = mem.Bytes(0x2000, -1)
	require.True(t, errors.Is(err, memutils.AddressRangeError))

	view, err := mem.Bytes(0x2020, 0)
	require.NoError(t, err)
	require.Len(t, view, 0)
}
