package page

import (
	"sync"

	"github.com/Blackdeer1524/RelDB/src/pkg/common"
)

// Page is a frame-sized unit of memory mirroring one disk page.
// Metadata (id, pin count, dirty flag) is owned by the buffer pool and
// is only mutated under the pool's latch; the page's own RW latch
// protects the data bytes and is taken by whoever holds a pin.
type Page struct {
	latch sync.RWMutex

	id       common.PageID
	pinCount uint32
	dirty    bool

	data [common.PageSize]byte
}

func New() *Page {
	return &Page{id: common.InvalidPageID}
}

// Data returns the full page image. The caller must hold the page
// latch in the matching mode while reading or writing it.
func (p *Page) Data() []byte {
	return p.data[:]
}

func (p *Page) ID() common.PageID { return p.id }

func (p *Page) PinCount() uint32 { return p.pinCount }

func (p *Page) IsDirty() bool { return p.dirty }

// SetID, SetDirty, IncPin, DecPin and ResetMemory are buffer pool
// internals: they must only be called under the pool latch.

func (p *Page) SetID(id common.PageID) { p.id = id }

func (p *Page) SetDirty(dirty bool) { p.dirty = dirty }

func (p *Page) IncPin() { p.pinCount++ }

func (p *Page) DecPin() {
	if p.pinCount > 0 {
		p.pinCount--
	}
}

func (p *Page) ResetMemory() {
	clear(p.data[:])
}

func (p *Page) Lock()    { p.latch.Lock() }
func (p *Page) Unlock()  { p.latch.Unlock() }
func (p *Page) RLock()   { p.latch.RLock() }
func (p *Page) RUnlock() { p.latch.RUnlock() }

func (p *Page) TryLock() bool { return p.latch.TryLock() }
