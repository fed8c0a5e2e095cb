package arena

import (
	"context"
	"fmt"

	"github.com/cockroachdb/errors"
	"github.com/vkngwrapper/mmalloc/arena/internal/utils"
	"github.com/vkngwrapper/mmalloc/memutils"
	"github.com/vkngwrapper/mmalloc/memutils/metadata"
	"github.com/vkngwrapper/mmalloc/segment"
	"golang.org/x/exp/slog"
)

// Handle identifies an allocation made by an Arena. It is the address of the first byte of the
// allocation's data region.
type Handle uintptr

// NoHandle is the null handle. Releasing it does nothing, and reallocating it is the same as
// allocating.
const NoHandle Handle = 0

func (h Handle) String() string {
	return fmt.Sprintf("%#x", uintptr(h))
}

func handleFor(addr segment.Address) Handle {
	return Handle(addr + metadata.HeaderSize)
}

func (h Handle) chunkAddress() (segment.Address, error) {
	if uintptr(h) < metadata.HeaderSize {
		return segment.NullAddress, errors.Wrapf(memutils.InvalidHandleError, "handle %s", h)
	}

	return segment.Address(h) - metadata.HeaderSize, nil
}

// Arena is a first-fit allocator over a single contiguous region of a segment. Chunks are never
// split and never returned to the segment; free chunks are merged with the free chunks after them
// only when a request needs the space.
type Arena struct {
	logger *slog.Logger
	mutex  utils.OptionalRWMutex

	createFlags   CreateFlags
	maxArenaBytes int

	chunks *metadata.ChunkList
}

var _ memutils.Validatable = &Arena{}

// Allocate reserves a data region of at least size bytes and returns its handle. The contents of
// the region are unspecified. A size of 0 produces a valid, distinct handle.
func (a *Arena) Allocate(size int) (Handle, error) {
	a.mutex.Lock()
	defer a.mutex.Unlock()

	a.logger.Debug("Arena::Allocate", slog.Int("Size", size))

	return a.allocate(size)
}

func (a *Arena) allocate(size int) (Handle, error) {
	if size < 0 {
		return NoHandle, errors.Wrapf(memutils.InvalidSizeError, "requested %d bytes", size)
	}

	err := a.chunks.Init()
	if err != nil {
		return NoHandle, err
	}

	needed, err := metadata.ChunkSize(size)
	if err != nil {
		return NoHandle, err
	}

	addr, found, err := a.chunks.FindFree(needed, size)
	if err != nil {
		return NoHandle, err
	}
	if found {
		memutils.DebugValidate(a.chunks)
		return handleFor(addr), nil
	}

	if a.maxArenaBytes > 0 && needed > a.maxArenaBytes-a.chunks.Size() {
		a.logger.Debug("    Arena::allocate FAILED", slog.Int("ArenaBytes", a.chunks.Size()), slog.Int("MaxArenaBytes", a.maxArenaBytes))
		return NoHandle, errors.Wrapf(memutils.ExhaustionError, "growing by %d bytes would exceed the %d byte arena limit", needed, a.maxArenaBytes)
	}

	addr, err = a.chunks.Grow(needed, size)
	if err != nil {
		a.logger.Debug("    Arena::allocate FAILED", slog.Int("Needed", needed))
		return NoHandle, err
	}

	a.logger.Debug("    Grew arena",
		slog.Int("ChunkSize", needed),
		slog.String("End", fmt.Sprintf("%#x", uintptr(a.chunks.End()))),
	)
	memutils.DebugValidate(a.chunks)

	return handleFor(addr), nil
}

// Release returns the allocation identified by h to the arena. Releasing NoHandle does nothing.
// Releasing a handle that was not issued by this arena fails with memutils.InvalidHandleError, and
// releasing one that was already released fails with memutils.DoubleReleaseError.
func (a *Arena) Release(h Handle) error {
	a.mutex.Lock()
	defer a.mutex.Unlock()

	a.logger.Debug("Arena::Release", slog.String("Handle", h.String()))

	if h == NoHandle {
		return nil
	}

	return a.release(h)
}

func (a *Arena) release(h Handle) error {
	addr, err := h.chunkAddress()
	if err != nil {
		return err
	}

	err = a.chunks.Free(addr)
	if err != nil {
		return err
	}

	memutils.DebugValidate(a.chunks)
	return nil
}

// Reallocate moves the allocation identified by h into a data region of at least size bytes. The
// first min(old capacity, size) bytes are carried over and the old handle is released. If a new
// region can't be obtained, the error is returned and h remains valid and unchanged.
func (a *Arena) Reallocate(h Handle, size int) (Handle, error) {
	a.mutex.Lock()
	defer a.mutex.Unlock()

	a.logger.Debug("Arena::Reallocate", slog.String("Handle", h.String()), slog.Int("Size", size))

	if h == NoHandle {
		return a.allocate(size)
	}

	addr, err := h.chunkAddress()
	if err != nil {
		return NoHandle, err
	}

	_, _, err = a.chunks.Lookup(addr)
	if err != nil {
		return NoHandle, err
	}

	newHandle, err := a.allocate(size)
	if err != nil {
		return NoHandle, err
	}

	oldData, err := a.chunks.Payload(addr)
	if err != nil {
		return NoHandle, a.abandonAllocation(newHandle, err)
	}

	newData, err := a.chunks.Payload(segment.Address(newHandle) - metadata.HeaderSize)
	if err != nil {
		return NoHandle, a.abandonAllocation(newHandle, err)
	}

	count := len(oldData)
	if size < count {
		count = size
	}
	copy(newData[:count], oldData[:count])

	err = a.release(h)
	if err != nil {
		return NoHandle, err
	}

	return newHandle, nil
}

// abandonAllocation releases an allocation that could not be handed to the caller and returns
// cause, along with any error from the release
func (a *Arena) abandonAllocation(h Handle, cause error) error {
	err := a.release(h)
	if err != nil {
		a.logger.Error("failed to release abandoned allocation", slog.String("Handle", h.String()), slog.Any("error", err))
		return errors.CombineErrors(cause, err)
	}

	return cause
}

// Data returns the data region of the allocation identified by h. The slice covers the whole
// usable capacity of the chunk, which may be longer than the size that was requested.
func (a *Arena) Data(h Handle) ([]byte, error) {
	a.mutex.RLock()
	defer a.mutex.RUnlock()

	addr, err := h.chunkAddress()
	if err != nil {
		return nil, err
	}

	return a.chunks.Payload(addr)
}

// Size returns the number of bytes that were requested for the allocation identified by h
func (a *Arena) Size(h Handle) (int, error) {
	a.mutex.RLock()
	defer a.mutex.RUnlock()

	addr, err := h.chunkAddress()
	if err != nil {
		return 0, err
	}

	_, requested, err := a.chunks.Lookup(addr)
	return requested, err
}

// Start returns the address of the first chunk. It is segment.NullAddress until the first allocation.
func (a *Arena) Start() segment.Address {
	a.mutex.RLock()
	defer a.mutex.RUnlock()

	return a.chunks.Start()
}

// End returns the address one past the last chunk. It only moves when the arena grows.
func (a *Arena) End() segment.Address {
	a.mutex.RLock()
	defer a.mutex.RUnlock()

	return a.chunks.End()
}

func (a *Arena) Flags() CreateFlags {
	return a.createFlags
}

// IsEmpty will return true if the arena has no live allocations
func (a *Arena) IsEmpty() bool {
	a.mutex.RLock()
	defer a.mutex.RUnlock()

	return a.chunks.IsEmpty()
}

// Validate walks every chunk in the arena and returns memutils.CorruptionError if the chunk
// metadata is inconsistent
func (a *Arena) Validate() error {
	a.mutex.RLock()
	defer a.mutex.RUnlock()

	return a.chunks.Validate()
}

// CheckCorruption verifies the debug canaries after every live allocation. Canaries are only
// written when built with the debug_mem_utils build tag.
func (a *Arena) CheckCorruption() error {
	a.mutex.RLock()
	defer a.mutex.RUnlock()

	a.logger.Debug("Arena::CheckCorruption")

	return a.chunks.CheckCorruption()
}

// Destroy reports every allocation that was never released. It returns an error if there were
// any. The segment is not touched, so the caller remains responsible for it.
func (a *Arena) Destroy() error {
	a.mutex.Lock()
	defer a.mutex.Unlock()

	a.logger.Debug("Arena::Destroy")

	if a.chunks.IsEmpty() {
		return nil
	}

	err := a.chunks.VisitAllChunks(func(addr segment.Address, size int, requested int, free bool) error {
		if free {
			return nil
		}

		a.logUnreleasedMemory(addr, size, requested)
		return nil
	})
	if err != nil {
		a.logger.LogAttrs(context.Background(),
			slog.LevelError,
			"[UNRELEASED MEMORY] error while iterating unreleased memory",
			slog.Any("error", err))
	}

	return errors.Newf("%d allocations were not released before the destruction of this arena", a.chunks.AllocationCount())
}

func (a *Arena) logUnreleasedMemory(addr segment.Address, size, requested int) {
	a.logger.LogAttrs(context.Background(), slog.LevelError, "[UNRELEASED MEMORY] unreleased allocation",
		slog.String("handle", handleFor(addr).String()),
		slog.Int("offset", int(addr-a.chunks.Start())),
		slog.Int("chunkSize", size),
		slog.Int("requestedSize", requested),
	)
}
