//go:build !unix

package segment

import (
	"github.com/cockroachdb/errors"
	"github.com/vkngwrapper/mmalloc/memutils"
)

// Mapped is only available on unix platforms
type Mapped struct {
	Memory
}

// NewMapped always fails outside of unix platforms. Use NewMemory instead.
func NewMapped(reserve int) (*Mapped, error) {
	return nil, errors.Wrap(memutils.UnsupportedError, "mapped segments require mmap")
}

// Reserved returns the size in bytes of the reservation
func (m *Mapped) Reserved() int { return m.Capacity() }

// Committed returns the number of bytes that are currently readable and writable
func (m *Mapped) Committed() int { return len(m.data) }

func (m *Mapped) Close() error { return nil }
