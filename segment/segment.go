// Package segment provides the heap-extension primitive that arenas grow into. A Segment
// behaves like a process data segment driven by sbrk: it has a break, which can only move
// forward, and every byte below the break can be viewed as a slice.
package segment

//go:generate mockgen -source segment.go -destination ./mocks/segment.go -package mocks

// Address is a location inside a Segment. The zero Address is never a valid location
// and is used as a null link.
type Address uintptr

const (
	NullAddress Address = 0
)

// Segment is a growable region of memory
type Segment interface {
	// Extend moves the break forward by delta bytes and returns the break as it was before
	// the call. Extend(0) queries the current break without changing it. Two successful
	// calls never return overlapping ranges. Extend must return an error matching
	// memutils.ExhaustionError when the segment cannot grow by delta bytes.
	Extend(delta int) (Address, error)
	// Bytes returns a view of n bytes starting at addr. The range must lie entirely below
	// the break, otherwise an error matching memutils.AddressRangeError is returned.
	// Views stay valid for as long as the segment is alive.
	Bytes(addr Address, n int) ([]byte, error)
}
