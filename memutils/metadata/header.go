package metadata

import (
	"encoding/binary"

	"github.com/vkngwrapper/mmalloc/segment"
)

const (
	// HeaderSize is the number of bytes at the front of every chunk that hold its metadata.
	// The data region handed to callers begins immediately afterwards.
	HeaderSize = 32
	// ChunkAlignment is the granularity of chunk sizes. It matches the widest header field,
	// so every header in the arena starts on an 8-byte boundary relative to the arena start.
	ChunkAlignment uint = 8

	headerMagic uint32 = 0x4d4d4348
	flagFree    uint32 = 1

	magicOffset = 0
	flagsOffset = 4
	sizeOffset  = 8
	prevOffset  = 16
	nextOffset  = 24
)

// ChunkHeader is the decoded form of the metadata at the front of a chunk
type ChunkHeader struct {
	Free bool
	// Size is the total length of the chunk in bytes, header included
	Size int
	// Prev is the chunk before this one in the walk, or segment.NullAddress for the root
	Prev segment.Address
	// Next is the chunk after this one in the walk, or segment.NullAddress for the tail
	Next segment.Address
}

// PayloadSize is the number of bytes available to callers in the chunk's data region
func (h ChunkHeader) PayloadSize(debugMargin int) int {
	return h.Size - HeaderSize - debugMargin
}

func decodeHeader(buf []byte) (ChunkHeader, bool) {
	if binary.LittleEndian.Uint32(buf[magicOffset:]) != headerMagic {
		return ChunkHeader{}, false
	}

	flags := binary.LittleEndian.Uint32(buf[flagsOffset:])
	return ChunkHeader{
		Free: flags&flagFree != 0,
		Size: int(binary.LittleEndian.Uint64(buf[sizeOffset:])),
		Prev: segment.Address(binary.LittleEndian.Uint64(buf[prevOffset:])),
		Next: segment.Address(binary.LittleEndian.Uint64(buf[nextOffset:])),
	}, true
}

func encodeHeader(buf []byte, h ChunkHeader) {
	var flags uint32
	if h.Free {
		flags |= flagFree
	}

	binary.LittleEndian.PutUint32(buf[magicOffset:], headerMagic)
	binary.LittleEndian.PutUint32(buf[flagsOffset:], flags)
	binary.LittleEndian.PutUint64(buf[sizeOffset:], uint64(h.Size))
	binary.LittleEndian.PutUint64(buf[prevOffset:], uint64(h.Prev))
	binary.LittleEndian.PutUint64(buf[nextOffset:], uint64(h.Next))
}

// A folded chunk loses its magic so stale handles into it can't be mistaken for live chunks
func clearHeader(buf []byte) {
	binary.LittleEndian.PutUint32(buf[magicOffset:], 0)
}
