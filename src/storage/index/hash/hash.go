package hash

import (
	"sync"

	"go.uber.org/zap"

	"github.com/Blackdeer1524/RelDB/src/pkg/assert"
	"github.com/Blackdeer1524/RelDB/src/pkg/common"
	"github.com/Blackdeer1524/RelDB/src/storage/page"
)

// BufferPool is the page residency contract the table consumes; both
// bufferpool.Manager and bufferpool.ParallelManager satisfy it.
type BufferPool interface {
	NewPage() *page.Page
	FetchPage(pageID common.PageID) *page.Page
	UnpinPage(pageID common.PageID, isDirty bool) bool
	DeletePage(pageID common.PageID) bool
}

// ExtendibleHashTable is a directory-doubling hash index whose
// directory and buckets live in buffer pool pages.
//
// Latching discipline: the table latch sits above per-page latches
// and is always taken first. Readers (and the optimistic fast paths
// of Insert and Remove) take it shared; structural changes
// (splitInsert, merge) take it exclusive. The latch is never upgraded
// in place — it is dropped and reacquired, and the triggering
// condition is rechecked under the new mode. Every FetchPage is
// paired with UnpinPage on every exit path; a page is unpinned dirty
// iff its bytes changed.
type ExtendibleHashTable[K any] struct {
	tableLatch sync.RWMutex

	directoryPageID common.PageID

	pool  BufferPool
	codec KeyCodec[K]
	cmp   Comparator[K]
	hash  HashFunc[K]
	log   *zap.Logger
}

// New creates the directory page and a single bucket at global and
// local depth zero.
func New[K any](
	pool BufferPool,
	codec KeyCodec[K],
	cmp Comparator[K],
	hashFn HashFunc[K],
	log *zap.Logger,
) *ExtendibleHashTable[K] {
	if hashFn == nil {
		hashFn = DefaultHash(codec)
	}
	if log == nil {
		log = zap.NewNop()
	}

	dirPg := pool.NewPage()
	assert.Assert(dirPg != nil, "buffer pool exhausted creating the directory")
	bucketPg := pool.NewPage()
	assert.Assert(bucketPg != nil, "buffer pool exhausted creating the first bucket")

	h := &ExtendibleHashTable[K]{
		directoryPageID: dirPg.ID(),
		pool:            pool,
		codec:           codec,
		cmp:             cmp,
		hash:            hashFn,
		log:             log,
	}

	dir := NewDirectoryPage(dirPg)
	dir.SetPageID(dirPg.ID())
	dir.SetBucketPageID(0, bucketPg.ID())
	dir.SetLocalDepth(0, 0)

	h.pool.UnpinPage(bucketPg.ID(), true)
	h.pool.UnpinPage(dirPg.ID(), true)
	return h
}

func (h *ExtendibleHashTable[K]) keyToDirectoryIndex(key K, dir *DirectoryPage) uint32 {
	return h.hash(key) & dir.GlobalDepthMask()
}

// bucketPageIDFor resolves the bucket for key under the directory
// page's read latch and unpins the directory before returning.
func (h *ExtendibleHashTable[K]) bucketPageIDFor(key K) common.PageID {
	dirPg := h.fetch(h.directoryPageID)
	dirPg.RLock()
	dir := NewDirectoryPage(dirPg)
	bucketPID := dir.GetBucketPageID(h.keyToDirectoryIndex(key, dir))
	dirPg.RUnlock()
	h.pool.UnpinPage(h.directoryPageID, false)
	return bucketPID
}

func (h *ExtendibleHashTable[K]) fetch(pageID common.PageID) *page.Page {
	pg := h.pool.FetchPage(pageID)
	assert.Assert(pg != nil, "buffer pool exhausted fetching page %d", pageID)
	return pg
}

// GetValue appends every rid stored under key.
func (h *ExtendibleHashTable[K]) GetValue(key K, result *[]common.RID) bool {
	h.tableLatch.RLock()
	defer h.tableLatch.RUnlock()

	bucketPID := h.bucketPageIDFor(key)

	bucketPg := h.fetch(bucketPID)
	bucketPg.RLock()
	found := NewBucketPage(bucketPg, h.codec).GetValue(key, h.cmp, result)
	bucketPg.RUnlock()
	h.pool.UnpinPage(bucketPID, false)

	return found
}

// Insert adds (key, rid). The fast path inserts into a non-full
// bucket under the shared table latch; a full bucket routes through
// SplitInsert under the exclusive latch. Returns false iff the exact
// pair is already present, the directory cannot grow further, or the
// buffer pool has no frame for a split image.
func (h *ExtendibleHashTable[K]) Insert(key K, rid common.RID) bool {
	h.tableLatch.RLock()

	bucketPID := h.bucketPageIDFor(key)

	bucketPg := h.fetch(bucketPID)
	bucketPg.Lock()
	bucket := NewBucketPage(bucketPg, h.codec)

	if bucket.Contains(key, rid, h.cmp) {
		bucketPg.Unlock()
		h.pool.UnpinPage(bucketPID, false)
		h.tableLatch.RUnlock()
		return false
	}

	if !bucket.IsFull() {
		ok := bucket.Insert(key, rid, h.cmp)
		bucketPg.Unlock()
		h.pool.UnpinPage(bucketPID, ok)
		h.tableLatch.RUnlock()
		return ok
	}

	bucketPg.Unlock()
	h.pool.UnpinPage(bucketPID, false)
	h.tableLatch.RUnlock()

	// The bucket was full: retry under the writer latch. The split
	// condition is rechecked there since it may have resolved in the
	// latch gap.
	h.tableLatch.Lock()
	defer h.tableLatch.Unlock()
	return h.splitInsert(key, rid)
}

// splitInsert runs under the exclusive table latch. It re-resolves
// all state, grows the directory while the target bucket's local
// depth equals the global depth, splits the bucket otherwise, and
// recurses until the pair lands.
func (h *ExtendibleHashTable[K]) splitInsert(key K, rid common.RID) bool {
	dirPg := h.fetch(h.directoryPageID)
	dirPg.Lock()
	dir := NewDirectoryPage(dirPg)

	bucketIdx := h.keyToDirectoryIndex(key, dir)
	bucketPID := dir.GetBucketPageID(bucketIdx)

	bucketPg := h.fetch(bucketPID)
	bucketPg.Lock()
	bucket := NewBucketPage(bucketPg, h.codec)

	releaseAll := func(dirDirty, bucketDirty bool) {
		bucketPg.Unlock()
		h.pool.UnpinPage(bucketPID, bucketDirty)
		dirPg.Unlock()
		h.pool.UnpinPage(h.directoryPageID, dirDirty)
	}

	if bucket.Contains(key, rid, h.cmp) {
		releaseAll(false, false)
		return false
	}

	if !bucket.IsFull() {
		ok := bucket.Insert(key, rid, h.cmp)
		releaseAll(false, ok)
		return ok
	}

	localDepth := dir.GetLocalDepth(bucketIdx)

	if localDepth == dir.GlobalDepth() {
		if dir.GlobalDepth() == MaxDepth {
			// The directory cannot double again; the full bucket is
			// plain resource exhaustion, not an error.
			releaseAll(false, false)
			return false
		}

		size := dir.Size()
		for i := uint32(0); i < size; i++ {
			mirror := i | (1 << dir.GlobalDepth())
			dir.SetBucketPageID(mirror, dir.GetBucketPageID(i))
			dir.SetLocalDepth(mirror, dir.GetLocalDepth(i))
		}
		dir.IncrGlobalDepth()

		h.log.Debug("doubled directory", zap.Uint32("globalDepth", dir.GlobalDepth()))

		releaseAll(true, false)
		return h.splitInsert(key, rid)
	}

	// Split: allocate the image bucket and redistribute.
	newPg := h.pool.NewPage()
	if newPg == nil {
		releaseAll(false, false)
		return false
	}
	newPID := newPg.ID()

	oldID := bucketIdx & dir.GetLocalDepthMask(bucketIdx)
	newID := oldID | (1 << localDepth)
	newLocalDepth := localDepth + 1
	newMask := uint32(1<<newLocalDepth) - 1

	for i := uint32(0); i < dir.Size(); i++ {
		switch i & newMask {
		case oldID:
			dir.SetLocalDepth(i, newLocalDepth)
		case newID:
			dir.SetBucketPageID(i, newPID)
			dir.SetLocalDepth(i, newLocalDepth)
		}
	}

	newPg.Lock()
	newBucket := NewBucketPage(newPg, h.codec)
	for i := uint32(0); i < bucket.Capacity(); i++ {
		if !bucket.IsOccupied(i) {
			break
		}
		if !bucket.IsReadable(i) {
			continue
		}
		k := bucket.KeyAt(i)
		if h.hash(k)&newMask == newID {
			moved := newBucket.Insert(k, bucket.ValueAt(i), h.cmp)
			assert.Assert(moved, "fresh split image rejected an entry")
			bucket.RemoveAt(i)
		}
	}
	newPg.Unlock()
	h.pool.UnpinPage(newPID, true)

	h.log.Debug("split bucket",
		zap.Int32("bucket", int32(bucketPID)),
		zap.Int32("image", int32(newPID)),
		zap.Uint32("localDepth", newLocalDepth))

	releaseAll(true, true)
	return h.splitInsert(key, rid)
}

// Remove deletes (key, rid). A successful removal from a bucket with
// positive local depth triggers a merge attempt under the exclusive
// table latch.
func (h *ExtendibleHashTable[K]) Remove(key K, rid common.RID) bool {
	h.tableLatch.RLock()

	dirPg := h.fetch(h.directoryPageID)
	dirPg.RLock()
	dir := NewDirectoryPage(dirPg)
	bucketIdx := h.keyToDirectoryIndex(key, dir)
	bucketPID := dir.GetBucketPageID(bucketIdx)
	localDepth := dir.GetLocalDepth(bucketIdx)
	dirPg.RUnlock()
	h.pool.UnpinPage(h.directoryPageID, false)

	bucketPg := h.fetch(bucketPID)
	bucketPg.Lock()
	removed := NewBucketPage(bucketPg, h.codec).Remove(key, rid, h.cmp)
	bucketPg.Unlock()
	h.pool.UnpinPage(bucketPID, removed)

	h.tableLatch.RUnlock()

	if removed && localDepth > 0 {
		h.tableLatch.Lock()
		h.merge(key)
		h.tableLatch.Unlock()
	}
	return removed
}

// merge runs under the exclusive table latch and is idempotent: every
// precondition is re-established from current state, so a stale
// trigger simply returns. When a bucket and its split image can
// coalesce, the empty one is deleted, the survivor absorbs the
// directory range, the directory shrinks while it can, and merge
// recurses since the coalesced bucket may itself be mergeable.
func (h *ExtendibleHashTable[K]) merge(key K) {
	dirPg := h.fetch(h.directoryPageID)
	dirPg.Lock()
	dir := NewDirectoryPage(dirPg)

	release := func(dirty bool) {
		dirPg.Unlock()
		h.pool.UnpinPage(h.directoryPageID, dirty)
	}

	if dir.GlobalDepth() == 0 {
		release(false)
		return
	}

	bucketIdx := h.keyToDirectoryIndex(key, dir)
	localDepth := dir.GetLocalDepth(bucketIdx)
	if localDepth == 0 {
		release(false)
		return
	}

	imageIdx := dir.GetSplitImageIndex(bucketIdx)
	if dir.GetLocalDepth(imageIdx) != localDepth {
		// An uneven earlier split: the image cannot coalesce with us
		// at this depth. Bail out; see DESIGN.md.
		release(false)
		return
	}

	bucketPID := dir.GetBucketPageID(bucketIdx)
	imagePID := dir.GetBucketPageID(imageIdx)
	assert.Assert(bucketPID != imagePID, "split image resolves to the same bucket")

	bucketEmpty := h.bucketIsEmpty(bucketPID)
	imageEmpty := h.bucketIsEmpty(imagePID)
	if !bucketEmpty && !imageEmpty {
		release(false)
		return
	}

	survivorPID, deadPID := bucketPID, imagePID
	if bucketEmpty {
		survivorPID, deadPID = imagePID, bucketPID
	}

	newLocalDepth := localDepth - 1
	newMask := uint32(1<<newLocalDepth) - 1
	target := bucketIdx & newMask
	for i := uint32(0); i < dir.Size(); i++ {
		if i&newMask == target {
			dir.SetBucketPageID(i, survivorPID)
			dir.SetLocalDepth(i, newLocalDepth)
		}
	}

	deleted := h.pool.DeletePage(deadPID)
	assert.Assert(deleted, "merged bucket %d is still pinned", deadPID)

	for dir.CanShrink() {
		dir.DecrGlobalDepth()
	}

	h.log.Debug("merged buckets",
		zap.Int32("survivor", int32(survivorPID)),
		zap.Int32("deleted", int32(deadPID)),
		zap.Uint32("globalDepth", dir.GlobalDepth()))

	release(true)

	h.merge(key)
}

func (h *ExtendibleHashTable[K]) bucketIsEmpty(pageID common.PageID) bool {
	pg := h.fetch(pageID)
	pg.RLock()
	empty := NewBucketPage[K](pg, h.codec).IsEmpty()
	pg.RUnlock()
	h.pool.UnpinPage(pageID, false)
	return empty
}

// GlobalDepth reads the directory's depth under the shared latch.
func (h *ExtendibleHashTable[K]) GlobalDepth() uint32 {
	h.tableLatch.RLock()
	defer h.tableLatch.RUnlock()

	dirPg := h.fetch(h.directoryPageID)
	dirPg.RLock()
	depth := NewDirectoryPage(dirPg).GlobalDepth()
	dirPg.RUnlock()
	h.pool.UnpinPage(h.directoryPageID, false)
	return depth
}

// VerifyIntegrity asserts the directory invariants.
func (h *ExtendibleHashTable[K]) VerifyIntegrity() {
	h.tableLatch.RLock()
	defer h.tableLatch.RUnlock()

	dirPg := h.fetch(h.directoryPageID)
	dirPg.RLock()
	NewDirectoryPage(dirPg).VerifyIntegrity()
	dirPg.RUnlock()
	h.pool.UnpinPage(h.directoryPageID, false)
}
