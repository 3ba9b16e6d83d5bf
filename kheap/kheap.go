// Package kheap implements the sub-page kernel block allocator layered
// over the physical page allocator: 16-byte aligned blocks,
// a page header per page, and size-bucketed first-fit free lists.
package kheap

import (
	"sync"

	"github.com/AndrewD/prex/debug"
	"github.com/AndrewD/prex/defs"
	"github.com/AndrewD/prex/page"
)

const (
	alignSize   = 16
	blockMagic  = 0xdead
	pageMagic   = 0xbeef
	headerWords = 4 // magic, size, bucket-index cache, pg_next index
)

// pageHdr_t tracks a single page donated to the heap: how many blocks
// in it are still allocated, and the block headers carved from it.
type pageHdr_t struct {
	magic   uint16
	nrAlloc int
	base    page.Pa_t
	blocks  []*blockHdr_t // in address order within the page
}

// blockHdr_t is the bookkeeping for one block; Data is the usable
// region a caller receives from Alloc.
type blockHdr_t struct {
	magic uint16
	size  int
	free  bool
	page  *pageHdr_t
	Data  []byte
}

// Heap_t is the kernel heap: a page allocator underneath, a list of
// owned pages, and NR_BLOCK_LIST size-bucketed free lists.
type Heap_t struct {
	sync.Mutex
	pages  *page.Allocator_t
	owned  []*pageHdr_t
	nrList int
	free   [][]*blockHdr_t // free[i] holds blocks of size (i+1)*alignSize
	maxAlloc int
}

// New builds a kernel heap over the given page allocator.
func New(pages *page.Allocator_t) *Heap_t {
	n := page.PGSIZE / alignSize
	h := &Heap_t{
		pages:    pages,
		nrList:   n,
		free:     make([][]*blockHdr_t, n),
		maxAlloc: page.PGSIZE - headerWords*8,
	}
	return h
}

func roundAlign(n int) int {
	return (n + alignSize - 1) &^ (alignSize - 1)
}

func bucket(size int) int {
	idx := size/alignSize - 1
	if idx < 0 {
		idx = 0
	}
	return idx
}

// Alloc returns a byte slice backed by the heap whose length is n
// rounded up to the 16-byte block size, or ENOMEM if no page could be donated. Requests larger than a
// page minus its header fail: a caller that needs more must use the
// page allocator directly.
func (h *Heap_t) Alloc(n int) ([]byte, defs.Err_t) {
	if n <= 0 {
		return nil, defs.EINVAL
	}
	n = roundAlign(n)
	if n > h.maxAlloc {
		return nil, defs.ENOMEM
	}

	h.Lock()
	defer h.Unlock()

	for i := bucket(n); i < h.nrList; i++ {
		if len(h.free[i]) == 0 {
			continue
		}
		last := len(h.free[i]) - 1
		blk := h.free[i][last]
		h.free[i] = h.free[i][:last]
		blk.free = false
		blk.page.nrAlloc++
		return blk.Data[:n], 0
	}

	// no block fits; donate a fresh page.
	pa, err := h.pages.Alloc(page.PGSIZE)
	if err != 0 {
		return nil, defs.ENOMEM
	}
	raw := h.pages.Dmap(pa)
	ph := &pageHdr_t{magic: pageMagic, base: pa}
	h.owned = append(h.owned, ph)

	blk := &blockHdr_t{magic: blockMagic, size: len(raw), free: false, page: ph}
	blk.Data = raw
	ph.blocks = append(ph.blocks, blk)
	ph.nrAlloc = 1

	if blk.size > n {
		h.split(blk, n)
	}
	return blk.Data[:n], 0
}

// split carves a leading block of n bytes off blk, returning the
// remainder to the appropriate free bucket.
func (h *Heap_t) split(blk *blockHdr_t, n int) {
	rem := blk.size - n
	if rem < alignSize {
		return
	}
	tail := &blockHdr_t{
		magic: blockMagic,
		size:  rem,
		free:  true,
		page:  blk.page,
		Data:  blk.Data[n:],
	}
	blk.size = n
	blk.Data = blk.Data[:n:n]
	idx := indexOf(blk.page.blocks, blk)
	blk.page.blocks = append(blk.page.blocks[:idx+1], append([]*blockHdr_t{tail}, blk.page.blocks[idx+1:]...)...)
	h.free[bucket(rem)] = append(h.free[bucket(rem)], tail)
}

func indexOf(blocks []*blockHdr_t, target *blockHdr_t) int {
	for i, b := range blocks {
		if b == target {
			return i
		}
	}
	return -1
}

// findBlock locates the block header owning data, by scanning owned
// pages. In a real kernel this would be PAGE_TOP(addr) pointer
// arithmetic; Go gives us no such address-from-slice trick, so the
// heap tracks ownership explicitly instead.
func (h *Heap_t) findBlock(data []byte) *blockHdr_t {
	for _, ph := range h.owned {
		for _, b := range ph.blocks {
			if &b.Data[0] == &data[0] {
				return b
			}
		}
	}
	return nil
}

// Free returns data to its bucket; if that empties its page, the page
// goes back to the page allocator. Corrupt block or page magic is
// fatal.
func (h *Heap_t) Free(data []byte) {
	if len(data) == 0 {
		return
	}
	h.Lock()
	defer h.Unlock()

	blk := h.findBlock(data)
	if blk == nil || blk.magic != blockMagic || blk.page.magic != pageMagic {
		debug.Panic("kheap: corrupt or foreign block")
	}
	if blk.free {
		debug.Panic("kheap: double free")
	}
	blk.free = true
	blk.page.nrAlloc--
	if blk.page.nrAlloc < 0 {
		debug.Panic("kheap: negative alloc count")
	}
	h.free[bucket(blk.size)] = append(h.free[bucket(blk.size)], blk)

	if blk.page.nrAlloc == 0 {
		h.reclaimPage(blk.page)
	}
}

// reclaimPage removes every block of ph from its free bucket and
// returns the page to the page allocator.
func (h *Heap_t) reclaimPage(ph *pageHdr_t) {
	for _, b := range ph.blocks {
		bl := h.free[bucket(b.size)]
		for i, c := range bl {
			if c == b {
				h.free[bucket(b.size)] = append(bl[:i], bl[i+1:]...)
				break
			}
		}
	}
	for i, p := range h.owned {
		if p == ph {
			h.owned = append(h.owned[:i], h.owned[i+1:]...)
			break
		}
	}
	h.pages.Free(ph.base, page.PGSIZE)
}

// PagesInUse reports the number of pages currently donated to the
// heap, for heap accounting checks.
func (h *Heap_t) PagesInUse() int {
	h.Lock()
	defer h.Unlock()
	return len(h.owned)
}
