package hash

import (
	"encoding/binary"

	"github.com/Blackdeer1524/RelDB/src/pkg/assert"
	"github.com/Blackdeer1524/RelDB/src/pkg/common"
	"github.com/Blackdeer1524/RelDB/src/storage/page"
)

const (
	// MaxDepth bounds the global depth; the directory arrays are
	// sized for the deepest possible directory.
	MaxDepth = 9

	// DirectoryArraySize is 1 << MaxDepth.
	DirectoryArraySize = 1 << MaxDepth

	dirPageIDOffset     = 0
	dirLSNOffset        = 4
	dirGlobalOffset     = 8
	dirLocalOffset      = 12
	dirBucketsOffset    = dirLocalOffset + DirectoryArraySize
	directoryLayoutSize = dirBucketsOffset + 4*DirectoryArraySize
)

// DirectoryPage is a typed view over the hash table's root page:
//
//	page_id ++ lsn ++ global_depth ++ local_depths[512] ++ bucket_page_ids[512]
//
// The logical directory is the first 1 << global_depth entries. The
// caller holds the page latch.
type DirectoryPage struct {
	pg *page.Page
}

func NewDirectoryPage(pg *page.Page) *DirectoryPage {
	assert.Assert(directoryLayoutSize <= common.PageSize, "directory layout overflows the page")
	return &DirectoryPage{pg: pg}
}

func (d *DirectoryPage) PageID() common.PageID {
	return common.PageID(int32(binary.LittleEndian.Uint32(d.pg.Data()[dirPageIDOffset:])))
}

func (d *DirectoryPage) SetPageID(id common.PageID) {
	binary.LittleEndian.PutUint32(d.pg.Data()[dirPageIDOffset:], uint32(int32(id)))
}

func (d *DirectoryPage) LSN() uint32 {
	return binary.LittleEndian.Uint32(d.pg.Data()[dirLSNOffset:])
}

func (d *DirectoryPage) SetLSN(lsn uint32) {
	binary.LittleEndian.PutUint32(d.pg.Data()[dirLSNOffset:], lsn)
}

func (d *DirectoryPage) GlobalDepth() uint32 {
	return binary.LittleEndian.Uint32(d.pg.Data()[dirGlobalOffset:])
}

func (d *DirectoryPage) setGlobalDepth(depth uint32) {
	binary.LittleEndian.PutUint32(d.pg.Data()[dirGlobalOffset:], depth)
}

func (d *DirectoryPage) IncrGlobalDepth() {
	depth := d.GlobalDepth()
	assert.Assert(depth < MaxDepth, "directory already at max depth")
	d.setGlobalDepth(depth + 1)
}

func (d *DirectoryPage) DecrGlobalDepth() {
	depth := d.GlobalDepth()
	assert.Assert(depth > 0, "directory already at depth zero")
	d.setGlobalDepth(depth - 1)
}

func (d *DirectoryPage) GlobalDepthMask() uint32 {
	return (1 << d.GlobalDepth()) - 1
}

// Size is the number of live directory entries.
func (d *DirectoryPage) Size() uint32 {
	return 1 << d.GlobalDepth()
}

func (d *DirectoryPage) GetBucketPageID(i uint32) common.PageID {
	assert.Assert(i < DirectoryArraySize, "directory index %d out of range", i)
	raw := d.pg.Data()[dirBucketsOffset+4*i:]
	return common.PageID(int32(binary.LittleEndian.Uint32(raw)))
}

func (d *DirectoryPage) SetBucketPageID(i uint32, pageID common.PageID) {
	assert.Assert(i < DirectoryArraySize, "directory index %d out of range", i)
	binary.LittleEndian.PutUint32(d.pg.Data()[dirBucketsOffset+4*i:], uint32(int32(pageID)))
}

func (d *DirectoryPage) GetLocalDepth(i uint32) uint32 {
	assert.Assert(i < DirectoryArraySize, "directory index %d out of range", i)
	return uint32(d.pg.Data()[dirLocalOffset+i])
}

func (d *DirectoryPage) SetLocalDepth(i uint32, depth uint32) {
	assert.Assert(i < DirectoryArraySize, "directory index %d out of range", i)
	assert.Assert(depth <= MaxDepth, "local depth %d exceeds max", depth)
	d.pg.Data()[dirLocalOffset+i] = byte(depth)
}

func (d *DirectoryPage) IncrLocalDepth(i uint32) {
	d.SetLocalDepth(i, d.GetLocalDepth(i)+1)
}

func (d *DirectoryPage) DecrLocalDepth(i uint32) {
	depth := d.GetLocalDepth(i)
	assert.Assert(depth > 0, "local depth of %d already zero", i)
	d.SetLocalDepth(i, depth-1)
}

func (d *DirectoryPage) GetLocalDepthMask(i uint32) uint32 {
	return (1 << d.GetLocalDepth(i)) - 1
}

// GetSplitImageIndex is the index differing from i only in the bit at
// position local_depth - 1.
func (d *DirectoryPage) GetSplitImageIndex(i uint32) uint32 {
	depth := d.GetLocalDepth(i)
	assert.Assert(depth > 0, "split image undefined at local depth zero")
	return i ^ (1 << (depth - 1))
}

// CanShrink reports whether halving the directory would strand no
// bucket: every local depth must be strictly below the global depth.
func (d *DirectoryPage) CanShrink() bool {
	depth := d.GlobalDepth()
	if depth == 0 {
		return false
	}
	for i := uint32(0); i < d.Size(); i++ {
		if d.GetLocalDepth(i) == depth {
			return false
		}
	}
	return true
}

// VerifyIntegrity asserts the structural invariants: local depths
// never exceed the global depth, and every group of indices sharing
// the low local_depth bits agrees on bucket page id and depth.
func (d *DirectoryPage) VerifyIntegrity() {
	size := d.Size()
	for i := uint32(0); i < size; i++ {
		depth := d.GetLocalDepth(i)
		assert.Assert(
			depth <= d.GlobalDepth(),
			"local depth %d at index %d exceeds global depth %d",
			depth, i, d.GlobalDepth(),
		)

		pageID := d.GetBucketPageID(i)
		mask := d.GetLocalDepthMask(i)
		for j := uint32(0); j < size; j++ {
			if j&mask != i&mask {
				continue
			}
			assert.Assert(
				d.GetBucketPageID(j) == pageID,
				"indices %d and %d share prefix but point to buckets %d and %d",
				i, j, pageID, d.GetBucketPageID(j),
			)
			assert.Assert(
				d.GetLocalDepth(j) == depth,
				"indices %d and %d share a bucket but disagree on depth: %d vs %d",
				i, j, depth, d.GetLocalDepth(j),
			)
		}
	}
}
