package metadata

import (
	"math"

	cerrors "github.com/cockroachdb/errors"
	"github.com/dolthub/swiss"
	"github.com/launchdarkly/go-jsonstream/v3/jwriter"
	"github.com/pkg/errors"
	"github.com/vkngwrapper/mmalloc/memutils"
	"github.com/vkngwrapper/mmalloc/segment"
)

// ChunkList manages the chunks of a single arena. Chunk headers live inside the segment's memory,
// directly in front of the data region they describe, and are linked in both directions in address
// order. The list starts at the segment break observed by Init and only ever grows at its tail.
//
// ChunkList is not safe for concurrent use.
type ChunkList struct {
	seg         segment.Segment
	initialized bool

	start segment.Address
	end   segment.Address
	tail  segment.Address

	chunkCount int
	freeCount  int
	freeBytes  int

	// Requested payload size of every live allocation, keyed by chunk address
	live *swiss.Map[segment.Address, int]
}

var _ memutils.Validatable = &ChunkList{}

// NewChunkList creates a ChunkList that grows into the provided segment. Nothing is read from the
// segment until Init is called.
func NewChunkList(seg segment.Segment) *ChunkList {
	return &ChunkList{
		seg:  seg,
		live: swiss.NewMap[segment.Address, int](42),
	}
}

// ChunkSize returns the total chunk size needed to hold a payload of the provided size
func ChunkSize(payload int) (int, error) {
	if payload < 0 {
		return 0, errors.Wrapf(memutils.InvalidSizeError, "requested %d bytes", payload)
	}

	overhead := HeaderSize + memutils.DebugMargin + int(ChunkAlignment)
	if payload > math.MaxInt-overhead {
		return 0, errors.Wrapf(memutils.ExhaustionError, "a %d byte payload cannot be addressed", payload)
	}

	return memutils.AlignUp(payload+HeaderSize+memutils.DebugMargin, ChunkAlignment), nil
}

// Init records the current segment break as both the start and the end of the arena. It is a no-op
// after the first successful call.
func (l *ChunkList) Init() error {
	if l.initialized {
		return nil
	}

	brk, err := l.seg.Extend(0)
	if err != nil {
		return errors.Wrap(err, "failed to query the segment break")
	}
	if brk == segment.NullAddress {
		return errors.Wrap(memutils.CorruptionError, "the segment break is the null address")
	}

	l.start = brk
	l.end = brk
	l.initialized = true
	return nil
}

func (l *ChunkList) IsInitialized() bool    { return l.initialized }
func (l *ChunkList) Start() segment.Address { return l.start }
func (l *ChunkList) End() segment.Address   { return l.end }
func (l *ChunkList) Tail() segment.Address  { return l.tail }

// Size returns the number of bytes between the start and the end of the arena
func (l *ChunkList) Size() int { return int(l.end - l.start) }

func (l *ChunkList) ChunkCount() int      { return l.chunkCount }
func (l *ChunkList) FreeChunkCount() int  { return l.freeCount }
func (l *ChunkList) SumFreeSize() int     { return l.freeBytes }
func (l *ChunkList) AllocationCount() int { return l.live.Count() }

// IsEmpty will return true if the list has no live allocations
func (l *ChunkList) IsEmpty() bool { return l.live.Count() == 0 }

func (l *ChunkList) readHeader(addr segment.Address) (ChunkHeader, []byte, error) {
	buf, err := l.seg.Bytes(addr, HeaderSize)
	if err != nil {
		return ChunkHeader{}, nil, cerrors.Mark(errors.Wrapf(err, "chunk header at %#x is unreadable", uintptr(addr)), memutils.CorruptionError)
	}

	header, ok := decodeHeader(buf)
	if !ok {
		return ChunkHeader{}, nil, errors.Wrapf(memutils.CorruptionError, "no chunk header at %#x", uintptr(addr))
	}

	return header, buf, nil
}

// Header decodes the header of the chunk at addr without checking whether the chunk is live
func (l *ChunkList) Header(addr segment.Address) (ChunkHeader, error) {
	header, _, err := l.readHeader(addr)
	return header, err
}

// FindFree walks the list from the start looking for the first free chunk of at least needed bytes.
// A free chunk that is too small is grown by absorbing the run of free chunks that follow it, stopping
// as soon as the run is large enough. The chunk that is found is marked used and registered with
// the requested payload size.
func (l *ChunkList) FindFree(needed int, requested int) (segment.Address, bool, error) {
	addr := l.start
	for addr != segment.NullAddress && addr != l.end {
		header, buf, err := l.readHeader(addr)
		if err != nil {
			return segment.NullAddress, false, err
		}

		if !header.Free {
			addr = header.Next
			continue
		}

		if header.Size >= needed {
			l.take(addr, buf, header, requested)
			return addr, true, nil
		}

		folded, resume, err := l.coalesce(addr, buf, &header, needed)
		if err != nil {
			return segment.NullAddress, false, err
		}

		if folded {
			l.take(addr, buf, header, requested)
			return addr, true, nil
		}

		// Every chunk in the scanned run is free and the whole run was too small, so
		// none of them can satisfy the request either
		addr = resume
	}

	return segment.NullAddress, false, nil
}

// coalesce accumulates the sizes of the free chunks following addr until the running total reaches
// needed. When it does, the run is folded into addr and the chunk after the last absorbed one is
// relinked to it. When it doesn't, nothing is modified and the address of the chunk that ended the
// scan is returned.
func (l *ChunkList) coalesce(addr segment.Address, buf []byte, header *ChunkHeader, needed int) (bool, segment.Address, error) {
	total := header.Size
	absorbed := 0
	next := header.Next

	for next != segment.NullAddress && next != l.end {
		nextHeader, _, err := l.readHeader(next)
		if err != nil {
			return false, segment.NullAddress, err
		}

		if !nextHeader.Free {
			return false, next, nil
		}

		if next != addr+segment.Address(total) {
			return false, segment.NullAddress, errors.Wrapf(memutils.CorruptionError,
				"chunk at %#x does not begin where the chunk before it ends (%#x)", uintptr(next), uintptr(addr)+uintptr(total))
		}

		total += nextHeader.Size
		absorbed++

		if total >= needed {
			err = l.fold(addr, buf, header, total, absorbed, nextHeader.Next)
			return err == nil, nextHeader.Next, err
		}

		next = nextHeader.Next
	}

	return false, next, nil
}

func (l *ChunkList) fold(addr segment.Address, buf []byte, header *ChunkHeader, total int, absorbed int, after segment.Address) error {
	// Every header is read before any is written so a bad link leaves the list untouched
	absorbedBufs := make([][]byte, 0, absorbed)
	for current := header.Next; current != after; {
		currentHeader, currentBuf, err := l.readHeader(current)
		if err != nil {
			return err
		}

		absorbedBufs = append(absorbedBufs, currentBuf)
		current = currentHeader.Next
	}

	var afterHeader ChunkHeader
	var afterBuf []byte
	if after != segment.NullAddress {
		var err error
		afterHeader, afterBuf, err = l.readHeader(after)
		if err != nil {
			return err
		}
	}

	for _, absorbedBuf := range absorbedBufs {
		clearHeader(absorbedBuf)
	}

	header.Size = total
	header.Next = after
	encodeHeader(buf, *header)

	if afterBuf != nil {
		afterHeader.Prev = addr
		encodeHeader(afterBuf, afterHeader)
	} else {
		l.tail = addr
	}

	l.chunkCount -= absorbed
	l.freeCount -= absorbed
	return nil
}

func (l *ChunkList) take(addr segment.Address, buf []byte, header ChunkHeader, requested int) {
	if !header.Free {
		panic("attempted to take a chunk that is already in use")
	}

	header.Free = false
	encodeHeader(buf, header)

	l.freeCount--
	l.freeBytes -= header.Size
	l.live.Put(addr, requested)
	l.writeCanary(addr, header)
}

// Grow extends the segment by needed bytes and appends a used chunk covering them to the tail of
// the list. The new chunk is registered with the requested payload size.
func (l *ChunkList) Grow(needed int, requested int) (segment.Address, error) {
	if needed < HeaderSize {
		return segment.NullAddress, errors.Wrapf(memutils.InvalidSizeError, "a chunk must be at least %d bytes, got %d", HeaderSize, needed)
	}

	prevBreak, err := l.seg.Extend(needed)
	if err != nil {
		if cerrors.Is(err, memutils.ExhaustionError) {
			return segment.NullAddress, err
		}
		return segment.NullAddress, cerrors.Mark(errors.Wrapf(err, "failed to extend the segment by %d bytes", needed), memutils.ExhaustionError)
	}

	if prevBreak != l.end {
		return segment.NullAddress, errors.Wrapf(memutils.CorruptionError,
			"the segment break moved from %#x to %#x outside of the arena", uintptr(l.end), uintptr(prevBreak))
	}

	buf, err := l.seg.Bytes(prevBreak, HeaderSize)
	if err != nil {
		return segment.NullAddress, err
	}

	if l.tail != segment.NullAddress {
		tailHeader, tailBuf, err := l.readHeader(l.tail)
		if err != nil {
			return segment.NullAddress, err
		}

		tailHeader.Next = prevBreak
		encodeHeader(tailBuf, tailHeader)
	}

	header := ChunkHeader{
		Free: false,
		Size: needed,
		Prev: l.tail,
		Next: segment.NullAddress,
	}
	encodeHeader(buf, header)

	l.tail = prevBreak
	l.end += segment.Address(needed)
	l.chunkCount++
	l.live.Put(prevBreak, requested)
	l.writeCanary(prevBreak, header)

	return prevBreak, nil
}

// Lookup verifies that addr is the address of a live chunk and returns its header along with the
// payload size that was requested for it.
func (l *ChunkList) Lookup(addr segment.Address) (ChunkHeader, int, error) {
	if !l.initialized || addr < l.start || addr >= l.end {
		return ChunkHeader{}, 0, errors.Wrapf(memutils.InvalidHandleError, "chunk address %#x is outside of the arena", uintptr(addr))
	}

	requested, ok := l.live.Get(addr)
	if !ok {
		if header, err := l.Header(addr); err == nil && header.Free {
			return ChunkHeader{}, 0, cerrors.Mark(
				errors.Wrapf(memutils.DoubleReleaseError, "chunk at %#x", uintptr(addr)),
				memutils.InvalidHandleError,
			)
		}

		return ChunkHeader{}, 0, errors.Wrapf(memutils.InvalidHandleError, "no live chunk at %#x", uintptr(addr))
	}

	header, _, err := l.readHeader(addr)
	if err != nil {
		return ChunkHeader{}, 0, err
	}
	if header.Free {
		return ChunkHeader{}, 0, errors.Wrapf(memutils.CorruptionError, "chunk at %#x is registered as live but marked free", uintptr(addr))
	}

	return header, requested, nil
}

// Payload returns the data region of the live chunk at addr
func (l *ChunkList) Payload(addr segment.Address) ([]byte, error) {
	header, _, err := l.Lookup(addr)
	if err != nil {
		return nil, err
	}

	return l.seg.Bytes(addr+HeaderSize, header.PayloadSize(memutils.DebugMargin))
}

// Free marks the live chunk at addr free. Its contents are left as they are, and it is not merged
// with its neighbors until a later FindFree needs the space.
func (l *ChunkList) Free(addr segment.Address) error {
	header, _, err := l.Lookup(addr)
	if err != nil {
		return err
	}

	err = l.checkCanary(addr, header)
	if err != nil {
		return err
	}

	buf, err := l.seg.Bytes(addr, HeaderSize)
	if err != nil {
		return err
	}

	header.Free = true
	encodeHeader(buf, header)

	l.live.Delete(addr)
	l.freeCount++
	l.freeBytes += header.Size
	return nil
}

func (l *ChunkList) writeCanary(addr segment.Address, header ChunkHeader) {
	if memutils.DebugMargin == 0 {
		return
	}

	chunk, err := l.seg.Bytes(addr, header.Size)
	if err != nil {
		panic(err)
	}
	memutils.WriteMagicValue(chunk, header.Size-memutils.DebugMargin)
}

func (l *ChunkList) checkCanary(addr segment.Address, header ChunkHeader) error {
	if memutils.DebugMargin == 0 {
		return nil
	}

	chunk, err := l.seg.Bytes(addr, header.Size)
	if err != nil {
		return err
	}
	if !memutils.ValidateMagicValue(chunk, header.Size-memutils.DebugMargin) {
		return errors.Wrapf(memutils.CorruptionError, "payload of the chunk at %#x was written past its end", uintptr(addr))
	}

	return nil
}

// CheckCorruption verifies the debug canary after every live chunk's payload. Canaries are only
// written when built with the debug_mem_utils tag, so this always succeeds otherwise.
func (l *ChunkList) CheckCorruption() error {
	return l.VisitAllChunks(func(addr segment.Address, size int, requested int, free bool) error {
		if free {
			return nil
		}

		return l.checkCanary(addr, ChunkHeader{Size: size})
	})
}

// VisitAllChunks calls handleChunk once for every chunk in walk order. requested is the payload size
// that was asked for when the chunk is in use, and 0 when it is free.
func (l *ChunkList) VisitAllChunks(handleChunk func(addr segment.Address, size int, requested int, free bool) error) error {
	visited := 0
	for addr := l.start; addr != segment.NullAddress && addr != l.end; {
		header, _, err := l.readHeader(addr)
		if err != nil {
			return err
		}

		visited++
		if visited > l.chunkCount {
			return errors.Wrap(memutils.CorruptionError, "chunk links form a cycle")
		}

		requested, _ := l.live.Get(addr)
		err = handleChunk(addr, header.Size, requested, header.Free)
		if err != nil {
			return err
		}

		addr = header.Next
	}

	return nil
}

// Validate performs internal consistency checks on the list: links run in both directions, chunks are
// contiguous, sizes are legal, the tail reaches the end of the arena and the counters match what the
// walk observes.
func (l *ChunkList) Validate() error {
	if !l.initialized {
		if l.chunkCount != 0 || l.live.Count() != 0 {
			return errors.Wrap(memutils.CorruptionError, "an uninitialized list has chunks")
		}
		return nil
	}

	if l.start > l.end {
		return errors.Wrapf(memutils.CorruptionError, "arena start %#x is past its end %#x", uintptr(l.start), uintptr(l.end))
	}

	var count, freeCount, freeBytes, allocCount int
	prev := segment.NullAddress
	addr := l.start

	for addr != segment.NullAddress && addr != l.end {
		if addr < l.start || addr > l.end {
			return errors.Wrapf(memutils.CorruptionError, "chunk at %#x is outside of the arena", uintptr(addr))
		}

		header, _, err := l.readHeader(addr)
		if err != nil {
			return err
		}

		count++
		if count > l.chunkCount {
			return errors.Wrapf(memutils.CorruptionError, "walked more chunks than the %d the list holds", l.chunkCount)
		}

		if header.Prev != prev {
			return errors.Wrapf(memutils.CorruptionError, "chunk at %#x lists %#x as its previous chunk, but the walk came from %#x",
				uintptr(addr), uintptr(header.Prev), uintptr(prev))
		}

		if header.Size < HeaderSize || header.Size%int(ChunkAlignment) != 0 {
			return errors.Wrapf(memutils.CorruptionError, "chunk at %#x has an invalid size of %d", uintptr(addr), header.Size)
		}

		chunkEnd := addr + segment.Address(header.Size)
		if chunkEnd > l.end {
			return errors.Wrapf(memutils.CorruptionError, "chunk at %#x extends past the end of the arena", uintptr(addr))
		}

		_, isLive := l.live.Get(addr)
		if header.Free {
			if isLive {
				return errors.Wrapf(memutils.CorruptionError, "chunk at %#x is free but registered as live", uintptr(addr))
			}
			freeCount++
			freeBytes += header.Size
		} else {
			if !isLive {
				return errors.Wrapf(memutils.CorruptionError, "chunk at %#x is in use but not registered", uintptr(addr))
			}
			allocCount++
		}

		if header.Next == segment.NullAddress {
			if addr != l.tail {
				return errors.Wrapf(memutils.CorruptionError, "chunk at %#x ends the list but the tail is %#x", uintptr(addr), uintptr(l.tail))
			}
			if chunkEnd != l.end {
				return errors.Wrapf(memutils.CorruptionError, "the tail chunk ends at %#x, but the arena ends at %#x", uintptr(chunkEnd), uintptr(l.end))
			}
		} else if header.Next != chunkEnd {
			return errors.Wrapf(memutils.CorruptionError, "chunk at %#x ends at %#x, but its next chunk is %#x",
				uintptr(addr), uintptr(chunkEnd), uintptr(header.Next))
		}

		prev = addr
		addr = header.Next
	}

	if count > 0 && addr != segment.NullAddress {
		return errors.Wrap(memutils.CorruptionError, "the tail chunk must not have a next link")
	}

	if prev != l.tail {
		return errors.Wrapf(memutils.CorruptionError, "the walk ended at %#x, but the tail is %#x", uintptr(prev), uintptr(l.tail))
	}

	if count != l.chunkCount {
		return errors.Wrapf(memutils.CorruptionError, "the list holds %d chunks, but the walk found %d", l.chunkCount, count)
	}

	if freeCount != l.freeCount {
		return errors.Wrapf(memutils.CorruptionError, "the list holds %d free chunks, but the walk found %d", l.freeCount, freeCount)
	}

	if freeBytes != l.freeBytes {
		return errors.Wrapf(memutils.CorruptionError, "the free size of the list is %d, but the free chunks only added up to %d", l.freeBytes, freeBytes)
	}

	if allocCount != l.live.Count() {
		return errors.Wrapf(memutils.CorruptionError, "%d allocations are registered, but the walk found %d", l.live.Count(), allocCount)
	}

	return nil
}

// AddStatistics sums this list's allocation statistics into the provided memutils.Statistics object
func (l *ChunkList) AddStatistics(stats *memutils.Statistics) {
	stats.ChunkCount += l.chunkCount
	stats.AllocationCount += l.live.Count()
	stats.ArenaBytes += l.Size()
	stats.AllocationBytes += l.Size() - l.freeBytes
}

// AddDetailedStatistics sums this list's allocation statistics into the provided
// memutils.DetailedStatistics object
func (l *ChunkList) AddDetailedStatistics(stats *memutils.DetailedStatistics) error {
	stats.ChunkCount += l.chunkCount
	stats.ArenaBytes += l.Size()

	return l.VisitAllChunks(func(addr segment.Address, size int, requested int, free bool) error {
		if free {
			stats.AddUnusedRange(size)
		} else {
			stats.AddAllocation(size)
		}
		return nil
	})
}

// ChunkListJsonData populates a json object with summary information about this list
func (l *ChunkList) ChunkListJsonData(json *jwriter.ObjectState) {
	json.Name("TotalBytes").Int(l.Size())
	json.Name("UnusedBytes").Int(l.freeBytes)
	json.Name("Chunks").Int(l.chunkCount)
	json.Name("Allocations").Int(l.live.Count())
	json.Name("UnusedRanges").Int(l.freeCount)
}
