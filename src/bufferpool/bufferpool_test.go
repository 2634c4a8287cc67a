package bufferpool

import (
	"bytes"
	"encoding/binary"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/Blackdeer1524/RelDB/src/pkg/common"
	"github.com/Blackdeer1524/RelDB/src/storage/disk"
)

type MockDiskManager struct {
	mock.Mock
}

func (m *MockDiskManager) ReadPage(pageID common.PageID, buf []byte) {
	m.Called(pageID, buf)
}

func (m *MockDiskManager) WritePage(pageID common.PageID, buf []byte) {
	m.Called(pageID, buf)
}

type MockReplacer struct {
	mock.Mock
}

func (m *MockReplacer) Victim() (common.FrameID, bool) {
	args := m.Called()
	return args.Get(0).(common.FrameID), args.Bool(1)
}

func (m *MockReplacer) Pin(frameID common.FrameID)   { m.Called(frameID) }
func (m *MockReplacer) Unpin(frameID common.FrameID) { m.Called(frameID) }

func (m *MockReplacer) Size() uint64 {
	args := m.Called()
	return args.Get(0).(uint64)
}

func newTestPool(t *testing.T, poolSize uint64) *Manager {
	t.Helper()
	return New(poolSize, NewLRUReplacer(), disk.NewInMemory(zap.NewNop()), zap.NewNop())
}

func TestNewPage_AssignsSequentialIDs(t *testing.T) {
	pool := newTestPool(t, 3)

	for want := common.PageID(0); want < 3; want++ {
		pg := pool.NewPage()
		require.NotNil(t, pg)
		assert.Equal(t, want, pg.ID())
		assert.Equal(t, uint32(1), pg.PinCount())
		assert.False(t, pg.IsDirty())
	}
}

func TestNewPage_StridedAllocation(t *testing.T) {
	d := disk.NewInMemory(zap.NewNop())

	first := NewInstance(4, 3, 0, NewLRUReplacer(), d, zap.NewNop())
	second := NewInstance(4, 3, 1, NewLRUReplacer(), d, zap.NewNop())
	third := NewInstance(4, 3, 2, NewLRUReplacer(), d, zap.NewNop())

	assert.Equal(t, common.PageID(1), second.NewPage().ID())
	assert.Equal(t, common.PageID(0), first.NewPage().ID())
	assert.Equal(t, common.PageID(2), third.NewPage().ID())
	assert.Equal(t, common.PageID(3), first.NewPage().ID())
	assert.Equal(t, common.PageID(4), second.NewPage().ID())
	assert.Equal(t, common.PageID(5), third.NewPage().ID())
}

func TestFetchPage_Cached(t *testing.T) {
	mockDisk := new(MockDiskManager)
	mockReplacer := new(MockReplacer)

	pool := New(1, mockReplacer, mockDisk, zap.NewNop())

	mockReplacer.On("Pin", common.FrameID(0)).Return()

	pg := pool.NewPage()
	require.NotNil(t, pg)
	pageID := pg.ID()

	fetched := pool.FetchPage(pageID)
	require.NotNil(t, fetched)
	assert.Same(t, pg, fetched)
	assert.Equal(t, uint32(2), fetched.PinCount())

	// no disk traffic for a resident page
	mockDisk.AssertNotCalled(t, "ReadPage", mock.Anything, mock.Anything)
	mockReplacer.AssertExpectations(t)
}

func TestFetchPage_EvictsDirtyVictim(t *testing.T) {
	mockDisk := new(MockDiskManager)
	mockReplacer := new(MockReplacer)

	pool := New(1, mockReplacer, mockDisk, zap.NewNop())

	mockReplacer.On("Pin", common.FrameID(0)).Return()
	mockReplacer.On("Unpin", common.FrameID(0)).Return()

	pg := pool.NewPage()
	require.NotNil(t, pg)
	oldID := pg.ID()
	copy(pg.Data(), []byte("dirty bytes"))
	require.True(t, pool.UnpinPage(oldID, true))

	mockReplacer.On("Victim").Return(common.FrameID(0), true)
	mockDisk.On("WritePage", oldID, mock.Anything).Return()

	newID := oldID + 1
	mockDisk.On("ReadPage", newID, mock.Anything).Run(func(args mock.Arguments) {
		buf := args.Get(1).([]byte)
		clear(buf)
	}).Return()

	fetched := pool.FetchPage(newID)
	require.NotNil(t, fetched)
	assert.Equal(t, newID, fetched.ID())

	mockDisk.AssertExpectations(t)
	mockReplacer.AssertExpectations(t)
}

func TestUnpinPage_Semantics(t *testing.T) {
	pool := newTestPool(t, 2)

	pg := pool.NewPage()
	require.NotNil(t, pg)
	pageID := pg.ID()

	assert.False(t, pool.UnpinPage(pageID+100, false), "unknown page")

	require.True(t, pool.UnpinPage(pageID, false))
	assert.False(t, pool.UnpinPage(pageID, false), "pin count already zero")

	// dirtiness is sticky
	fetched := pool.FetchPage(pageID)
	require.NotNil(t, fetched)
	require.True(t, pool.UnpinPage(pageID, true))
	assert.True(t, fetched.IsDirty())

	fetched = pool.FetchPage(pageID)
	require.NotNil(t, fetched)
	require.True(t, pool.UnpinPage(pageID, false))
	assert.True(t, fetched.IsDirty(), "unpin(false) must not clear the dirty flag")
}

func TestDeletePage_Semantics(t *testing.T) {
	pool := newTestPool(t, 1)

	assert.True(t, pool.DeletePage(42), "vacuously true for an absent page")

	pg := pool.NewPage()
	require.NotNil(t, pg)
	pageID := pg.ID()

	assert.False(t, pool.DeletePage(pageID), "pinned page cannot be deleted")

	require.True(t, pool.UnpinPage(pageID, false))
	assert.True(t, pool.DeletePage(pageID))

	// the frame is reusable right away
	next := pool.NewPage()
	require.NotNil(t, next)
	assert.Equal(t, uint32(1), next.PinCount())
}

// Scenario: a pool of 10 saturates, flushed pages survive eviction.
func TestManager_Capacity(t *testing.T) {
	const poolSize = 10
	pool := newTestPool(t, poolSize)

	pages := make([]common.PageID, 0, poolSize)

	first := pool.NewPage()
	require.NotNil(t, first)
	copy(first.Data(), []byte("Hello"))
	pages = append(pages, first.ID())

	for i := 1; i < poolSize; i++ {
		pg := pool.NewPage()
		require.NotNil(t, pg)
		pages = append(pages, pg.ID())
	}

	assert.Nil(t, pool.NewPage(), "all frames pinned")

	for i := 0; i < 5; i++ {
		require.True(t, pool.UnpinPage(pages[i], true))
		require.True(t, pool.FlushPage(pages[i]))
	}

	for i := 0; i < 5; i++ {
		pg := pool.NewPage()
		require.NotNil(t, pg)
		require.True(t, pool.UnpinPage(pg.ID(), false))
	}

	fetched := pool.FetchPage(pages[0])
	require.NotNil(t, fetched)
	assert.Equal(t, []byte("Hello"), fetched.Data()[:5])
	require.True(t, pool.UnpinPage(pages[0], true))
}

// Scenario: zero bytes inside the payload survive a flush/fetch round
// trip byte for byte.
func TestManager_BinarySafety(t *testing.T) {
	pool := newTestPool(t, 2)

	pg := pool.NewPage()
	require.NotNil(t, pg)
	pageID := pg.ID()

	content := make([]byte, common.PageSize)
	for i := range content {
		content[i] = byte(i*31 + 7)
	}
	content[common.PageSize/2] = 0
	content[common.PageSize-1] = 0
	copy(pg.Data(), content)

	require.True(t, pool.UnpinPage(pageID, true))
	require.True(t, pool.FlushPage(pageID))

	// force the page out of its frame
	for i := 0; i < 2; i++ {
		scratch := pool.NewPage()
		require.NotNil(t, scratch)
		require.True(t, pool.UnpinPage(scratch.ID(), false))
	}

	fetched := pool.FetchPage(pageID)
	require.NotNil(t, fetched)
	assert.True(t, bytes.Equal(content, fetched.Data()))
	require.True(t, pool.UnpinPage(pageID, false))
}

func TestManager_ConcurrentFetches(t *testing.T) {
	const (
		poolSize   = 4
		numPages   = 32
		numWorkers = 4
		opsPerWkr  = 500
	)

	pool := newTestPool(t, poolSize)

	pageIDs := make([]common.PageID, 0, numPages)
	for i := 0; i < numPages; i++ {
		pg := pool.NewPage()
		require.NotNil(t, pg)
		pg.Lock()
		binary.LittleEndian.PutUint32(pg.Data(), uint32(pg.ID()))
		pg.Unlock()
		pageIDs = append(pageIDs, pg.ID())
		require.True(t, pool.UnpinPage(pg.ID(), true))
	}

	var wg sync.WaitGroup
	wg.Add(numWorkers)
	for w := 0; w < numWorkers; w++ {
		workerID := w
		go func() {
			defer wg.Done()
			for i := 0; i < opsPerWkr; i++ {
				pageID := pageIDs[(i*7+workerID*3)%numPages]

				pg := pool.FetchPage(pageID)
				if !assert.NotNil(t, pg) {
					continue
				}

				pg.RLock()
				stored := binary.LittleEndian.Uint32(pg.Data())
				pg.RUnlock()
				assert.Equal(t, uint32(pageID), stored)

				pool.UnpinPage(pageID, false)
			}
		}()
	}
	wg.Wait()
}
