package hash

import (
	"encoding/binary"
	"hash/fnv"
)

// KeyCodec lays a key out as a fixed number of bytes inside a bucket
// page. The width is part of the on-disk format: changing it changes
// the bucket capacity.
type KeyCodec[K any] interface {
	Size() int
	Encode(buf []byte, key K)
	Decode(buf []byte) K
}

// Comparator orders keys; returns 0 iff the keys are equal.
type Comparator[K any] func(a, b K) int

// HashFunc maps a key to the 32-bit value whose low bits index the
// directory.
type HashFunc[K any] func(key K) uint32

// DefaultHash hashes the codec's encoding of the key with FNV-1a.
func DefaultHash[K any](codec KeyCodec[K]) HashFunc[K] {
	return func(key K) uint32 {
		buf := make([]byte, codec.Size())
		codec.Encode(buf, key)

		h := fnv.New32a()
		_, _ = h.Write(buf)
		return h.Sum32()
	}
}

// Uint64Codec stores a uint64 key as 8 little-endian bytes.
type Uint64Codec struct{}

var _ KeyCodec[uint64] = Uint64Codec{}

func (Uint64Codec) Size() int { return 8 }

func (Uint64Codec) Encode(buf []byte, key uint64) {
	binary.LittleEndian.PutUint64(buf, key)
}

func (Uint64Codec) Decode(buf []byte) uint64 {
	return binary.LittleEndian.Uint64(buf)
}

func Uint64Comparator(a, b uint64) int {
	switch {
	case a < b:
		return -1
	case a > b:
		return 1
	default:
		return 0
	}
}
