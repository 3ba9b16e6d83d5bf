// Package page implements the physical page allocator: a
// sorted list of free physical regions, allocated first-fit and
// coalesced on free.
package page

import (
	"sort"
	"sync"

	"github.com/AndrewD/prex/defs"
	"github.com/AndrewD/prex/util"
)

// PGSHIFT is the base-2 exponent of the page size.
const PGSHIFT uint = 12

// PGSIZE is the size of a single page in bytes.
const PGSIZE int = 1 << PGSHIFT

// Pa_t is a physical address, page-allocator granularity.
type Pa_t uintptr

// RoundPage rounds n up to a whole number of pages.
func RoundPage(n int) int {
	return util.Roundup(n, PGSIZE)
}

// region_t is one free physical range, [Base, Base+Size).
type region_t struct {
	Base Pa_t
	Size int
}

// Allocator_t is the first-fit physical page allocator. All sizes
// passed to its methods are rounded up to page granularity before the
// free list is consulted. It also owns the backing RAM image, playing
// the role of the kernel's direct map on a machine with no real
// physical memory to speak of.
type Allocator_t struct {
	sync.Mutex
	free []region_t // sorted by Base, no two elements adjacent
	ram  []byte
}

// New builds an allocator backed by a RAM image of size bytes, entirely
// free to start. Pa_t values it hands out are offsets into that image.
func New(size int) *Allocator_t {
	a := &Allocator_t{ram: make([]byte, RoundPage(size))}
	a.Seed(0, len(a.ram))
	return a
}

// Dmap returns the direct-mapped byte view of the page at pa.
func (a *Allocator_t) Dmap(pa Pa_t) []byte {
	if int(pa)+PGSIZE > len(a.ram) {
		panic("page: address out of range")
	}
	return a.ram[pa : int(pa)+PGSIZE]
}

// Bytes returns the direct-mapped view of the whole region [pa,
// pa+size), for multi-page copies.
func (a *Allocator_t) Bytes(pa Pa_t, size int) []byte {
	if int(pa)+size > len(a.ram) {
		panic("page: region out of range")
	}
	return a.ram[pa : int(pa)+size]
}

// Seed adds [base, base+size) to the free list at boot time, before any
// allocation has been requested. It is just page_free on a still-empty
// allocator.
func (a *Allocator_t) Seed(base Pa_t, size int) {
	a.Free(base, size)
}

// Alloc returns the base of a freshly carved region of at least n
// bytes (rounded to page granularity), splitting the first region that
// fits. It fails with ENOMEM if no free region is large enough.
func (a *Allocator_t) Alloc(n int) (Pa_t, defs.Err_t) {
	n = RoundPage(n)
	if n <= 0 {
		return 0, defs.EINVAL
	}
	a.Lock()
	defer a.Unlock()
	for i := range a.free {
		r := &a.free[i]
		if r.Size < n {
			continue
		}
		base := r.Base
		if r.Size == n {
			a.free = append(a.free[:i], a.free[i+1:]...)
		} else {
			r.Base += Pa_t(n)
			r.Size -= n
		}
		return base, 0
	}
	return 0, defs.ENOMEM
}

// Reserve carves the specific range [base, base+size) out of whatever
// free region contains it, splitting on either side as needed. It
// fails with ENOMEM if the range is not entirely free.
func (a *Allocator_t) Reserve(base Pa_t, size int) defs.Err_t {
	size = RoundPage(size)
	end := base + Pa_t(size)
	a.Lock()
	defer a.Unlock()
	for i := range a.free {
		r := a.free[i]
		rend := r.Base + Pa_t(r.Size)
		if base < r.Base || end > rend {
			continue
		}
		var repl []region_t
		if base > r.Base {
			repl = append(repl, region_t{r.Base, int(base - r.Base)})
		}
		if end < rend {
			repl = append(repl, region_t{end, int(rend - end)})
		}
		a.free = append(a.free[:i], append(repl, a.free[i+1:]...)...)
		return 0
	}
	return defs.ENOMEM
}

// Free returns [base, base+size) to the free list, coalescing with any
// adjacent free regions so no two adjacent free regions ever exist.
func (a *Allocator_t) Free(base Pa_t, size int) {
	size = RoundPage(size)
	a.Lock()
	defer a.Unlock()
	a.free = append(a.free, region_t{base, size})
	sort.Slice(a.free, func(i, j int) bool { return a.free[i].Base < a.free[j].Base })

	coalesced := a.free[:0:0]
	for _, r := range a.free {
		if n := len(coalesced); n > 0 && coalesced[n-1].Base+Pa_t(coalesced[n-1].Size) == r.Base {
			coalesced[n-1].Size += r.Size
		} else {
			coalesced = append(coalesced, r)
		}
	}
	a.free = coalesced
}

// TotalBytes reports the size of the managed RAM image.
func (a *Allocator_t) TotalBytes() int { return len(a.ram) }

// FreeBytes reports the total free memory under management, for the
// info syscall and for tests asserting idempotence.
func (a *Allocator_t) FreeBytes() int {
	a.Lock()
	defer a.Unlock()
	n := 0
	for _, r := range a.free {
		n += r.Size
	}
	return n
}
