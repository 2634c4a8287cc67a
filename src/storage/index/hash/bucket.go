package hash

import (
	"encoding/binary"

	"github.com/Blackdeer1524/RelDB/src/pkg/assert"
	"github.com/Blackdeer1524/RelDB/src/pkg/common"
	"github.com/Blackdeer1524/RelDB/src/storage/page"
)

const ridSize = 8 // PageID int32 + SlotNum uint32

// BucketCapacity is the number of key/RID pairs a bucket page holds
// for the given key width. Derived so that the two bitmaps plus the
// pair array fit in a page: ceil(B/8)*2 + B*pairSize <= PageSize.
func BucketCapacity(keySize int) uint32 {
	pairSize := keySize + ridSize
	return uint32(4 * common.PageSize / (4*pairSize + 1))
}

// BucketPage is a typed view over a raw page:
//
//	occupied[ceil(B/8)] ++ readable[ceil(B/8)] ++ array[B] of (key, rid)
//
// Bits are MSB-first within each byte: slot i lives at bit 7-(i%8) of
// byte i/8. The layout is the on-disk contract and must not change.
//
// A slot's occupied bit is sticky: it is set on first insert and
// survives removals, so scans may stop at the first non-occupied
// slot. A removed slot is occupied but not readable.
//
// The caller holds the page latch; the view itself is not
// synchronised.
type BucketPage[K any] struct {
	pg    *page.Page
	codec KeyCodec[K]

	capacity  uint32
	bitmapLen uint32
	pairSize  uint32
}

func NewBucketPage[K any](pg *page.Page, codec KeyCodec[K]) *BucketPage[K] {
	capacity := BucketCapacity(codec.Size())
	assert.Assert(capacity > 0, "key width %d leaves no room for pairs", codec.Size())

	bitmapLen := (capacity + 7) / 8
	pairSize := uint32(codec.Size() + ridSize)
	assert.Assert(
		2*bitmapLen+capacity*pairSize <= common.PageSize,
		"bucket layout overflows the page",
	)

	return &BucketPage[K]{
		pg:        pg,
		codec:     codec,
		capacity:  capacity,
		bitmapLen: bitmapLen,
		pairSize:  pairSize,
	}
}

func (b *BucketPage[K]) Capacity() uint32 { return b.capacity }

func (b *BucketPage[K]) IsOccupied(i uint32) bool {
	assert.Assert(i < b.capacity, "slot %d out of range", i)
	byt := b.pg.Data()[i/8]
	return (byt>>(7-i%8))&1 == 1
}

func (b *BucketPage[K]) SetOccupied(i uint32) {
	assert.Assert(i < b.capacity, "slot %d out of range", i)
	b.pg.Data()[i/8] |= 1 << (7 - i%8)
}

func (b *BucketPage[K]) IsReadable(i uint32) bool {
	assert.Assert(i < b.capacity, "slot %d out of range", i)
	byt := b.pg.Data()[b.bitmapLen+i/8]
	return (byt>>(7-i%8))&1 == 1
}

func (b *BucketPage[K]) SetReadable(i uint32) {
	assert.Assert(i < b.capacity, "slot %d out of range", i)
	b.pg.Data()[b.bitmapLen+i/8] |= 1 << (7 - i%8)
}

func (b *BucketPage[K]) unsetReadable(i uint32) {
	b.pg.Data()[b.bitmapLen+i/8] &^= 1 << (7 - i%8)
}

func (b *BucketPage[K]) pairAt(i uint32) []byte {
	off := 2*b.bitmapLen + i*b.pairSize
	return b.pg.Data()[off : off+b.pairSize]
}

func (b *BucketPage[K]) KeyAt(i uint32) K {
	return b.codec.Decode(b.pairAt(i))
}

func (b *BucketPage[K]) ValueAt(i uint32) common.RID {
	raw := b.pairAt(i)[b.codec.Size():]
	return common.RID{
		PageID:  common.PageID(int32(binary.LittleEndian.Uint32(raw))),
		SlotNum: binary.LittleEndian.Uint32(raw[4:]),
	}
}

func (b *BucketPage[K]) setPairAt(i uint32, key K, rid common.RID) {
	raw := b.pairAt(i)
	b.codec.Encode(raw, key)
	binary.LittleEndian.PutUint32(raw[b.codec.Size():], uint32(int32(rid.PageID)))
	binary.LittleEndian.PutUint32(raw[b.codec.Size()+4:], rid.SlotNum)
}

// Insert places (key, rid) into the lowest non-readable slot. Rejects
// an exact duplicate pair. Fails iff no free slot exists.
func (b *BucketPage[K]) Insert(key K, rid common.RID, cmp Comparator[K]) bool {
	slot := uint32(0)
	foundSlot := false
	hitEnd := false

	for i := uint32(0); i < b.capacity; i++ {
		if !b.IsOccupied(i) {
			hitEnd = true
		}
		if b.IsReadable(i) {
			if cmp(b.KeyAt(i), key) == 0 && b.ValueAt(i) == rid {
				return false
			}
		} else if !foundSlot {
			foundSlot = true
			slot = i
		}
		if hitEnd && foundSlot {
			break
		}
	}

	if !foundSlot {
		return false
	}

	b.setPairAt(slot, key, rid)
	b.SetOccupied(slot)
	b.SetReadable(slot)
	return true
}

// Remove clears the readable bit of the slot matching both key and
// rid. The occupied bit stays set.
func (b *BucketPage[K]) Remove(key K, rid common.RID, cmp Comparator[K]) bool {
	for i := uint32(0); i < b.capacity; i++ {
		if !b.IsOccupied(i) {
			break
		}
		if !b.IsReadable(i) {
			continue
		}
		if cmp(b.KeyAt(i), key) == 0 && b.ValueAt(i) == rid {
			b.unsetReadable(i)
			return true
		}
	}
	return false
}

// RemoveAt clears the readable bit only; scans still pass over the
// slot via its occupied bit.
func (b *BucketPage[K]) RemoveAt(i uint32) {
	if b.IsReadable(i) {
		b.unsetReadable(i)
	}
}

// GetValue appends every readable rid stored under key. Reports
// whether at least one match was found.
func (b *BucketPage[K]) GetValue(key K, cmp Comparator[K], result *[]common.RID) bool {
	found := false
	for i := uint32(0); i < b.capacity; i++ {
		if !b.IsOccupied(i) {
			break
		}
		if b.IsReadable(i) && cmp(b.KeyAt(i), key) == 0 {
			*result = append(*result, b.ValueAt(i))
			found = true
		}
	}
	return found
}

// Contains reports whether the exact (key, rid) pair is readable.
func (b *BucketPage[K]) Contains(key K, rid common.RID, cmp Comparator[K]) bool {
	for i := uint32(0); i < b.capacity; i++ {
		if !b.IsOccupied(i) {
			break
		}
		if b.IsReadable(i) && cmp(b.KeyAt(i), key) == 0 && b.ValueAt(i) == rid {
			return true
		}
	}
	return false
}

func (b *BucketPage[K]) NumReadable() uint32 {
	var n uint32
	for i := uint32(0); i < b.capacity; i++ {
		if !b.IsOccupied(i) {
			break
		}
		if b.IsReadable(i) {
			n++
		}
	}
	return n
}

func (b *BucketPage[K]) IsFull() bool {
	return b.NumReadable() == b.capacity
}

func (b *BucketPage[K]) IsEmpty() bool {
	return b.NumReadable() == 0
}
