package memutils

import "github.com/cockroachdb/errors"

var (
	// PowerOfTwoError is the error returned from CheckPow2 or other methods if the number being tested is not a power of two
	PowerOfTwoError error = errors.New("number must be a power of two")

	// ExhaustionError is returned when the heap segment cannot grant the bytes an allocation needs. No handle
	// is produced and the arena is left as it was before the call.
	ExhaustionError error = errors.New("heap segment could not be extended")

	// InvalidHandleError is returned when a handle was not issued by the arena, points outside of it, or
	// no longer refers to a live allocation.
	InvalidHandleError error = errors.New("handle does not refer to a live allocation")

	// DoubleReleaseError is returned when a handle is released (or reallocated) after it was already
	// released. Errors carrying it also match InvalidHandleError.
	DoubleReleaseError error = errors.New("handle was already released")

	// InvalidSizeError is returned when a negative size is requested
	InvalidSizeError error = errors.New("size must not be negative")

	// AddressRangeError is returned by segments when an address range falls outside of the memory they manage
	AddressRangeError error = errors.New("address range is outside of the segment")

	// CorruptionError is returned when chunk metadata or debug canaries are found in an inconsistent state
	CorruptionError error = errors.New("arena metadata is corrupted")

	// UnsupportedError is returned when a feature is not available on the current platform
	UnsupportedError error = errors.New("not supported on this platform")
)
