//go:build unix

package segment

import (
	"unsafe"

	"github.com/cockroachdb/errors"
	"github.com/vkngwrapper/mmalloc/memutils"
	"golang.org/x/sys/unix"
)

// Mapped is a Segment backed by an anonymous private mapping. The whole reservation is
// mapped PROT_NONE up front so its addresses never move; pages are made readable and
// writable as the break advances over them.
type Mapped struct {
	region    []byte
	base      Address
	brk       int
	committed int
	pageSize  int
}

var _ Segment = &Mapped{}

// NewMapped reserves at least reserve bytes of address space. The reservation is rounded
// up to a whole number of pages.
func NewMapped(reserve int) (*Mapped, error) {
	if reserve < 1 {
		return nil, errors.Wrapf(memutils.InvalidSizeError, "cannot reserve %d bytes", reserve)
	}

	pageSize := unix.Getpagesize()
	memutils.DebugCheckPow2(pageSize, "pageSize")
	reserve = memutils.AlignUp(reserve, uint(pageSize))

	region, err := unix.Mmap(-1, 0, reserve, unix.PROT_NONE, unix.MAP_ANON|unix.MAP_PRIVATE)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to reserve %d bytes of address space", reserve)
	}

	return &Mapped{
		region:   region,
		base:     Address(uintptr(unsafe.Pointer(&region[0]))),
		pageSize: pageSize,
	}, nil
}

// Base returns the address of the first byte of the reservation
func (m *Mapped) Base() Address { return m.base }

// Reserved returns the size in bytes of the reservation
func (m *Mapped) Reserved() int { return len(m.region) }

// Committed returns the number of bytes that are currently readable and writable
func (m *Mapped) Committed() int { return m.committed }

// Extend moves the break forward by delta bytes and returns the previous break. Pages
// are committed as needed.
func (m *Mapped) Extend(delta int) (Address, error) {
	if m.region == nil {
		return NullAddress, errors.New("segment has been closed")
	}

	prev := m.base + Address(m.brk)
	if delta < 0 {
		return prev, errors.Wrapf(memutils.InvalidSizeError, "cannot move the break by %d bytes", delta)
	}
	if delta > len(m.region)-m.brk {
		return prev, errors.Wrapf(memutils.ExhaustionError, "requested %d bytes but only %d remain in a %d byte reservation",
			delta, len(m.region)-m.brk, len(m.region))
	}

	newBrk := m.brk + delta
	if newBrk > m.committed {
		commitTo := memutils.AlignUp(newBrk, uint(m.pageSize))
		err := unix.Mprotect(m.region[m.committed:commitTo], unix.PROT_READ|unix.PROT_WRITE)
		if err != nil {
			return prev, errors.Mark(errors.Wrapf(err, "failed to commit pages up to offset %d", commitTo), memutils.ExhaustionError)
		}
		m.committed = commitTo
	}

	m.brk = newBrk
	return prev, nil
}

// Bytes returns a view of n bytes starting at addr
func (m *Mapped) Bytes(addr Address, n int) ([]byte, error) {
	offset, err := checkRange(m.base, m.brk, addr, n)
	if err != nil {
		return nil, err
	}

	return m.region[offset : offset+n : offset+n], nil
}

// Close unmaps the reservation. Views returned by Bytes must not be used afterwards.
func (m *Mapped) Close() error {
	if m.region == nil {
		return nil
	}

	err := unix.Munmap(m.region)
	m.region = nil
	m.brk = 0
	m.committed = 0
	return err
}
