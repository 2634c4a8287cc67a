package bufferpool

import (
	"errors"
	"fmt"
	"sync"

	"go.uber.org/zap"

	"github.com/Blackdeer1524/RelDB/src/pkg/assert"
	"github.com/Blackdeer1524/RelDB/src/pkg/common"
	"github.com/Blackdeer1524/RelDB/src/storage/page"
)

// DiskManager is the storage collaborator the pool reads and writes
// through. Pages are PageSize bytes; I/O failures are fatal inside the
// implementation, hence no error returns.
type DiskManager interface {
	ReadPage(pageID common.PageID, buf []byte)
	WritePage(pageID common.PageID, buf []byte)
}

// Manager caches disk pages in a fixed set of frames with pin/unpin
// reference counting and LRU victim selection. Every public operation
// is atomic under a single internal mutex.
//
// Page ids are allocated with a stride of numInstances so that several
// instances can share the id space without overlap:
// id mod numInstances == instanceIndex always holds.
type Manager struct {
	mu sync.Mutex

	poolSize      uint64
	numInstances  uint32
	instanceIndex uint32
	nextPageID    common.PageID

	frames    []page.Page
	pageTable map[common.PageID]common.FrameID
	freeList  []common.FrameID

	replacer Replacer
	disk     DiskManager
	log      *zap.Logger
}

func New(
	poolSize uint64,
	replacer Replacer,
	disk DiskManager,
	log *zap.Logger,
) *Manager {
	return NewInstance(poolSize, 1, 0, replacer, disk, log)
}

// NewInstance creates one shard of a parallel pool. instanceIndex
// seeds the page-id allocator; see Manager doc for the stride rule.
func NewInstance(
	poolSize uint64,
	numInstances uint32,
	instanceIndex uint32,
	replacer Replacer,
	disk DiskManager,
	log *zap.Logger,
) *Manager {
	assert.Assert(poolSize > 0, "pool size must be greater than zero")
	assert.Assert(numInstances > 0, "instance count must be greater than zero")
	assert.Assert(
		instanceIndex < numInstances,
		"instance index %d out of range [0, %d)",
		instanceIndex,
		numInstances,
	)

	if log == nil {
		log = zap.NewNop()
	}

	frames := make([]page.Page, poolSize)
	freeList := make([]common.FrameID, 0, poolSize)
	for i := range poolSize {
		frames[i].SetID(common.InvalidPageID)
		freeList = append(freeList, common.FrameID(i))
	}

	return &Manager{
		poolSize:      poolSize,
		numInstances:  numInstances,
		instanceIndex: instanceIndex,
		nextPageID:    common.PageID(instanceIndex),
		frames:        frames,
		pageTable:     map[common.PageID]common.FrameID{},
		freeList:      freeList,
		replacer:      replacer,
		disk:          disk,
		log:           log,
	}
}

func (m *Manager) PoolSize() uint64 { return m.poolSize }

// NewPage allocates a fresh page id, places it in a frame pinned once
// and returns the frame. Returns nil iff every frame is pinned.
func (m *Manager) NewPage() *page.Page {
	m.mu.Lock()
	defer m.mu.Unlock()

	frameID, ok := m.reserveFrame()
	if !ok {
		return nil
	}

	pageID := m.allocatePage()

	pg := &m.frames[frameID]
	pg.ResetMemory()
	pg.SetID(pageID)
	pg.SetDirty(false)
	pg.IncPin()

	m.pageTable[pageID] = frameID
	m.replacer.Pin(frameID)

	m.log.Debug("allocated page",
		zap.Int32("pageID", int32(pageID)),
		zap.Uint64("frameID", uint64(frameID)))
	return pg
}

// FetchPage pins the page with the given id, reading it from disk if
// it is not resident. Returns nil iff the page is absent and every
// frame is pinned.
func (m *Manager) FetchPage(pageID common.PageID) *page.Page {
	assert.Assert(pageID != common.InvalidPageID, "fetch of invalid page id")

	m.mu.Lock()
	defer m.mu.Unlock()

	if frameID, ok := m.pageTable[pageID]; ok {
		pg := &m.frames[frameID]
		pg.IncPin()
		m.replacer.Pin(frameID)
		return pg
	}

	frameID, ok := m.reserveFrame()
	if !ok {
		return nil
	}

	pg := &m.frames[frameID]
	m.disk.ReadPage(pageID, pg.Data())
	pg.SetID(pageID)
	pg.SetDirty(false)
	pg.IncPin()

	m.pageTable[pageID] = frameID
	m.replacer.Pin(frameID)
	return pg
}

// UnpinPage drops one pin. Reports false if the page is not resident
// or was not pinned. The dirty flag is sticky: unpinning with
// isDirty=false never clears it.
func (m *Manager) UnpinPage(pageID common.PageID, isDirty bool) bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	frameID, ok := m.pageTable[pageID]
	if !ok {
		return false
	}

	pg := &m.frames[frameID]
	if pg.PinCount() == 0 {
		return false
	}

	pg.DecPin()
	if isDirty {
		pg.SetDirty(true)
	}
	if pg.PinCount() == 0 {
		m.replacer.Unpin(frameID)
	}
	return true
}

// DeletePage removes the page from the pool and returns its frame to
// the free list. Vacuously true for non-resident pages; false while
// the page is pinned.
func (m *Manager) DeletePage(pageID common.PageID) bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	frameID, ok := m.pageTable[pageID]
	if !ok {
		return true
	}

	pg := &m.frames[frameID]
	if pg.PinCount() != 0 {
		return false
	}

	m.deallocatePage(pageID)
	m.replacer.Pin(frameID)
	delete(m.pageTable, pageID)

	pg.ResetMemory()
	pg.SetID(common.InvalidPageID)
	pg.SetDirty(false)

	m.freeList = append(m.freeList, frameID)
	return true
}

// FlushPage writes the page to disk unconditionally. Returns true iff
// the page was resident.
func (m *Manager) FlushPage(pageID common.PageID) bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	frameID, ok := m.pageTable[pageID]
	if !ok {
		return false
	}

	pg := &m.frames[frameID]
	m.disk.WritePage(pageID, pg.Data())
	pg.SetDirty(false)
	return true
}

func (m *Manager) FlushAllPages() {
	m.mu.Lock()
	defer m.mu.Unlock()

	for pageID, frameID := range m.pageTable {
		pg := &m.frames[frameID]
		m.disk.WritePage(pageID, pg.Data())
		pg.SetDirty(false)
	}
}

// reserveFrame finds a usable frame, preferring the free list over
// eviction. An evicted page is written back first when dirty.
func (m *Manager) reserveFrame() (common.FrameID, bool) {
	if n := len(m.freeList); n > 0 {
		frameID := m.freeList[n-1]
		m.freeList = m.freeList[:n-1]
		return frameID, true
	}

	frameID, ok := m.replacer.Victim()
	if !ok {
		return 0, false
	}

	victim := &m.frames[frameID]
	assert.Assert(
		victim.PinCount() == 0,
		"victim page %d is pinned",
		victim.ID(),
	)

	if victim.IsDirty() {
		m.disk.WritePage(victim.ID(), victim.Data())
	}
	delete(m.pageTable, victim.ID())

	m.log.Debug("evicted page",
		zap.Int32("pageID", int32(victim.ID())),
		zap.Uint64("frameID", uint64(frameID)))
	return frameID, true
}

func (m *Manager) allocatePage() common.PageID {
	pageID := m.nextPageID
	m.nextPageID += common.PageID(m.numInstances)

	assert.Assert(
		uint32(pageID)%m.numInstances == m.instanceIndex,
		"page id %d does not belong to instance %d",
		pageID,
		m.instanceIndex,
	)
	return pageID
}

// deallocatePage is a no-op: the allocator is monotonic and ids are
// never reused within a run.
func (m *Manager) deallocatePage(common.PageID) {}

// EnsureAllPagesUnpinnedAndUnlocked reports every resident page that
// still holds a pin or whose latch is taken. Tests call it after a
// workload to catch leaked pins.
func (m *Manager) EnsureAllPagesUnpinnedAndUnlocked() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	pinned := map[common.PageID]uint32{}
	locked := map[common.PageID]struct{}{}

	for pageID, frameID := range m.pageTable {
		pg := &m.frames[frameID]
		if pg.PinCount() != 0 {
			pinned[pageID] = pg.PinCount()
		}
		if !pg.TryLock() {
			locked[pageID] = struct{}{}
		} else {
			pg.Unlock()
		}
	}

	var err error
	if len(pinned) > 0 {
		err = fmt.Errorf("not all pages were properly unpinned: %+v", pinned)
	}
	if len(locked) > 0 {
		err = errors.Join(err, fmt.Errorf(
			"found pages that were locked and not properly unlocked: %+v",
			locked,
		))
	}
	return err
}
