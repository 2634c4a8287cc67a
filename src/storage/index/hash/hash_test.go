package hash

import (
	"sync"
	"testing"

	"github.com/panjf2000/ants"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/Blackdeer1524/RelDB/src/bufferpool"
	"github.com/Blackdeer1524/RelDB/src/pkg/common"
	"github.com/Blackdeer1524/RelDB/src/pkg/utils"
	"github.com/Blackdeer1524/RelDB/src/storage/disk"
)

func newTestTable(t *testing.T, poolSize uint64) *ExtendibleHashTable[uint64] {
	t.Helper()

	pool := bufferpool.New(
		poolSize,
		bufferpool.NewLRUReplacer(),
		disk.NewInMemory(zap.NewNop()),
		zap.NewNop(),
	)
	t.Cleanup(func() {
		require.NoError(t, pool.EnsureAllPagesUnpinnedAndUnlocked())
	})
	return New[uint64](pool, Uint64Codec{}, Uint64Comparator, nil, zap.NewNop())
}

func TestHashTable_InsertAndGet(t *testing.T) {
	h := newTestTable(t, 8)

	require.True(t, h.Insert(1, ridFor(1)))
	require.True(t, h.Insert(2, ridFor(2)))

	var result []common.RID
	require.True(t, h.GetValue(1, &result))
	assert.Equal(t, []common.RID{ridFor(1)}, result)

	result = result[:0]
	assert.False(t, h.GetValue(3, &result))
	assert.Empty(t, result)
}

func TestHashTable_DuplicatePairRejected(t *testing.T) {
	h := newTestTable(t, 8)

	require.True(t, h.Insert(1, ridFor(1)))
	assert.False(t, h.Insert(1, ridFor(1)))

	// same key, distinct rid coexists
	require.True(t, h.Insert(1, ridFor(2)))

	var result []common.RID
	require.True(t, h.GetValue(1, &result))
	assert.ElementsMatch(t, []common.RID{ridFor(1), ridFor(2)}, result)
}

// Scenario: grow from a single depth-0 bucket through splits, then
// drain the table again.
func TestHashTable_SplitGrowAndRemove(t *testing.T) {
	const numKeys = 497
	h := newTestTable(t, 16)

	for k := uint64(1); k <= numKeys; k++ {
		require.True(t, h.Insert(k, ridFor(k)), "insert key %d", k)
	}

	assert.Greater(t, h.GlobalDepth(), uint32(0), "497 keys cannot fit one bucket")
	h.VerifyIntegrity()

	for k := uint64(1); k <= numKeys; k++ {
		var result []common.RID
		require.True(t, h.GetValue(k, &result), "lookup key %d", k)
		assert.Equal(t, []common.RID{ridFor(k)}, result, "key %d", k)
	}

	for k := uint64(1); k <= numKeys; k++ {
		require.True(t, h.Remove(k, ridFor(k)), "remove key %d", k)
	}

	for k := uint64(1); k <= numKeys; k++ {
		assert.False(t, h.Remove(k, ridFor(k)), "second remove of key %d", k)

		var result []common.RID
		assert.False(t, h.GetValue(k, &result), "lookup of removed key %d", k)
		assert.Empty(t, result)
	}

	h.VerifyIntegrity()
}

func TestHashTable_MergeShrinksDirectory(t *testing.T) {
	pool := bufferpool.New(
		16,
		bufferpool.NewLRUReplacer(),
		disk.NewInMemory(zap.NewNop()),
		zap.NewNop(),
	)
	// An identity hash keeps the split layout predictable: one split
	// on the low bit, evens on one side, odds on the other.
	identity := func(k uint64) uint32 { return uint32(k) }
	h := New[uint64](pool, Uint64Codec{}, Uint64Comparator, identity, zap.NewNop())

	numKeys := uint64(BucketCapacity(8)) + 1
	for k := uint64(0); k < numKeys; k++ {
		require.True(t, h.Insert(k, ridFor(k)))
	}
	require.Equal(t, uint32(1), h.GlobalDepth())
	h.VerifyIntegrity()

	for k := uint64(0); k < numKeys; k++ {
		require.True(t, h.Remove(k, ridFor(k)))
	}

	assert.Equal(t, uint32(0), h.GlobalDepth(),
		"the emptied split image merges back and the directory halves")
	h.VerifyIntegrity()
}

func TestHashTable_RemoveMissing(t *testing.T) {
	h := newTestTable(t, 8)

	assert.False(t, h.Remove(1, ridFor(1)))

	require.True(t, h.Insert(1, ridFor(1)))
	assert.False(t, h.Remove(1, ridFor(2)), "rid must match too")
	assert.True(t, h.Remove(1, ridFor(1)))
}

func TestHashTable_AllPagesUnpinned(t *testing.T) {
	pool := bufferpool.New(
		3, // directory + bucket + one spare frame forces tight reuse
		bufferpool.NewLRUReplacer(),
		disk.NewInMemory(zap.NewNop()),
		zap.NewNop(),
	)
	h := New[uint64](pool, Uint64Codec{}, Uint64Comparator, nil, zap.NewNop())
	defer func() { require.NoError(t, pool.EnsureAllPagesUnpinnedAndUnlocked()) }()

	// With every operation pairing fetch with unpin, a pool of 3
	// frames survives arbitrarily many operations and splits.
	for k := uint64(0); k < 1200; k++ {
		require.True(t, h.Insert(k, ridFor(k)), "insert key %d", k)
	}
	for k := uint64(0); k < 1200; k += 3 {
		require.True(t, h.Remove(k, ridFor(k)), "remove key %d", k)
	}
	h.VerifyIntegrity()
}

func TestHashTable_ConcurrentOps(t *testing.T) {
	const (
		workers       = 8
		keysPerWorker = 300
	)

	h := newTestTable(t, 32)

	workerPool := utils.Must(ants.NewPool(workers))
	defer workerPool.Release()

	var wg sync.WaitGroup
	wg.Add(workers)
	for w := 0; w < workers; w++ {
		workerID := uint64(w)
		require.NoError(t, workerPool.Submit(func() {
			defer wg.Done()

			base := workerID * keysPerWorker
			for k := base; k < base+keysPerWorker; k++ {
				assert.True(t, h.Insert(k, ridFor(k)), "insert key %d", k)
			}
			for k := base; k < base+keysPerWorker; k++ {
				var result []common.RID
				assert.True(t, h.GetValue(k, &result), "lookup key %d", k)
			}
			for k := base; k < base+keysPerWorker; k += 2 {
				assert.True(t, h.Remove(k, ridFor(k)), "remove key %d", k)
			}
		}))
	}
	wg.Wait()

	h.VerifyIntegrity()

	for w := uint64(0); w < workers; w++ {
		base := w * keysPerWorker
		for k := base; k < base+keysPerWorker; k++ {
			var result []common.RID
			found := h.GetValue(k, &result)
			if k%2 == 0 {
				assert.False(t, found, "key %d was removed", k)
			} else {
				assert.True(t, found, "key %d must remain", k)
			}
		}
	}
}
