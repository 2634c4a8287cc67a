package bufferpool

import (
	"container/list"
	"sync"

	"github.com/Blackdeer1524/RelDB/src/pkg/common"
)

// Replacer maintains a victim-selection order over unpinned frames.
type Replacer interface {
	// Victim removes and returns the least recently unpinned frame.
	// Returns false iff no frame is eligible.
	Victim() (common.FrameID, bool)
	// Pin removes the frame from the replacer; idempotent.
	Pin(frameID common.FrameID)
	// Unpin makes the frame a victim candidate; idempotent.
	Unpin(frameID common.FrameID)
	// Size is the number of victim-eligible frames.
	Size() uint64
}

// LRUReplacer victimises the frame whose last Unpin is the oldest.
// A frame is present iff it is unpinned; the list keeps unpin order
// (front = least recently unpinned), the map gives O(1) removal.
type LRUReplacer struct {
	mu    sync.Mutex
	order *list.List
	nodes map[common.FrameID]*list.Element
}

var _ Replacer = (*LRUReplacer)(nil)

func NewLRUReplacer() *LRUReplacer {
	return &LRUReplacer{
		order: list.New(),
		nodes: map[common.FrameID]*list.Element{},
	}
}

func (r *LRUReplacer) Victim() (common.FrameID, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	front := r.order.Front()
	if front == nil {
		return 0, false
	}

	frameID := front.Value.(common.FrameID)
	r.order.Remove(front)
	delete(r.nodes, frameID)
	return frameID, true
}

func (r *LRUReplacer) Pin(frameID common.FrameID) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if node, ok := r.nodes[frameID]; ok {
		r.order.Remove(node)
		delete(r.nodes, frameID)
	}
}

func (r *LRUReplacer) Unpin(frameID common.FrameID) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.nodes[frameID]; ok {
		return
	}
	r.nodes[frameID] = r.order.PushBack(frameID)
}

func (r *LRUReplacer) Size() uint64 {
	r.mu.Lock()
	defer r.mu.Unlock()

	return uint64(r.order.Len())
}
