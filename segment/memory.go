package segment

import (
	"github.com/cockroachdb/errors"
	"github.com/vkngwrapper/mmalloc/memutils"
)

// DefaultMemoryBase is the address at which a Memory segment created with a zero base begins
const DefaultMemoryBase Address = 0x10000

// Memory is a Segment backed by a single Go byte slice. The backing array is allocated once
// with the full capacity so views handed out earlier are never invalidated by growth.
type Memory struct {
	base Address
	data []byte
}

var _ Segment = &Memory{}

// NewMemory creates a Memory segment whose first byte lives at base and which can grow to
// capacity bytes. A zero base is replaced with DefaultMemoryBase so that NullAddress is
// never inside the segment.
func NewMemory(base Address, capacity int) *Memory {
	if base == NullAddress {
		base = DefaultMemoryBase
	}
	if capacity < 0 {
		capacity = 0
	}

	return &Memory{
		base: base,
		data: make([]byte, 0, capacity),
	}
}

// Base returns the address of the first byte of the segment
func (m *Memory) Base() Address { return m.base }

// Capacity returns the number of bytes the segment can grow to
func (m *Memory) Capacity() int { return cap(m.data) }

// Extend moves the break forward by delta bytes and returns the previous break
func (m *Memory) Extend(delta int) (Address, error) {
	prev := m.base + Address(len(m.data))
	if delta < 0 {
		return prev, errors.Wrapf(memutils.InvalidSizeError, "cannot move the break by %d bytes", delta)
	}
	if delta > cap(m.data)-len(m.data) {
		return prev, errors.Wrapf(memutils.ExhaustionError, "requested %d bytes but only %d remain in a %d byte segment",
			delta, cap(m.data)-len(m.data), cap(m.data))
	}

	m.data = m.data[:len(m.data)+delta]
	return prev, nil
}

// Bytes returns a view of n bytes starting at addr
func (m *Memory) Bytes(addr Address, n int) ([]byte, error) {
	offset, err := checkRange(m.base, len(m.data), addr, n)
	if err != nil {
		return nil, err
	}

	return m.data[offset : offset+n : offset+n], nil
}

func checkRange(base Address, length int, addr Address, n int) (int, error) {
	if n < 0 || addr < base {
		return 0, errors.Wrapf(memutils.AddressRangeError, "range %#x+%d", uintptr(addr), n)
	}

	offset := uintptr(addr - base)
	if offset > uintptr(length) || uintptr(n) > uintptr(length)-offset {
		return 0, errors.Wrapf(memutils.AddressRangeError, "range %#x+%d ends past the break at %#x",
			uintptr(addr), n, uintptr(base)+uintptr(length))
	}

	return int(offset), nil
}
