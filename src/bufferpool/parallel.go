package bufferpool

import (
	"go.uber.org/zap"

	"github.com/Blackdeer1524/RelDB/src/pkg/common"
	"github.com/Blackdeer1524/RelDB/src/storage/page"
)

// ParallelManager shards one logical pool over several Manager
// instances to cut latch contention. Routing follows the allocator
// stride: page id mod instance count names the owning instance, so a
// page always comes back to the shard that allocated it.
type ParallelManager struct {
	instances []*Manager

	// next instance to try first in NewPage; not synchronised, a
	// stale read only skews the round-robin start.
	nextInstance uint32
}

func NewParallel(
	numInstances uint32,
	poolSizePerInstance uint64,
	disk DiskManager,
	log *zap.Logger,
) *ParallelManager {
	instances := make([]*Manager, 0, numInstances)
	for i := range numInstances {
		instances = append(instances, NewInstance(
			poolSizePerInstance,
			numInstances,
			i,
			NewLRUReplacer(),
			disk,
			log,
		))
	}
	return &ParallelManager{instances: instances}
}

func (p *ParallelManager) instanceFor(pageID common.PageID) *Manager {
	return p.instances[uint32(pageID)%uint32(len(p.instances))]
}

func (p *ParallelManager) PoolSize() uint64 {
	var total uint64
	for _, inst := range p.instances {
		total += inst.PoolSize()
	}
	return total
}

// NewPage asks each instance in turn, starting past the last one that
// served an allocation, until one has a free frame.
func (p *ParallelManager) NewPage() *page.Page {
	start := p.nextInstance
	n := uint32(len(p.instances))
	for i := range n {
		idx := (start + i) % n
		if pg := p.instances[idx].NewPage(); pg != nil {
			p.nextInstance = idx + 1
			return pg
		}
	}
	return nil
}

func (p *ParallelManager) FetchPage(pageID common.PageID) *page.Page {
	return p.instanceFor(pageID).FetchPage(pageID)
}

func (p *ParallelManager) UnpinPage(pageID common.PageID, isDirty bool) bool {
	return p.instanceFor(pageID).UnpinPage(pageID, isDirty)
}

func (p *ParallelManager) DeletePage(pageID common.PageID) bool {
	return p.instanceFor(pageID).DeletePage(pageID)
}

func (p *ParallelManager) FlushPage(pageID common.PageID) bool {
	return p.instanceFor(pageID).FlushPage(pageID)
}

func (p *ParallelManager) FlushAllPages() {
	for _, inst := range p.instances {
		inst.FlushAllPages()
	}
}
