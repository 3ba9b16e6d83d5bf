package vm

import (
	"sync"
	"sync/atomic"

	"github.com/AndrewD/prex/defs"
	"github.com/AndrewD/prex/page"
)

// MMU_i abstracts the board layer's page-table primitives, consumed
// here only as an interface. A no-MMU kernel build passes NoMMU.
type MMU_i interface {
	// Map installs pa -> va for size bytes with the given protection.
	Map(pgd any, pa page.Pa_t, va, size int, flags defs.SegFlag_t) defs.Err_t
	// Unmap removes the mapping for [va, va+size).
	Unmap(pgd any, va, size int)
	// NewPageDir allocates an empty page directory handle.
	NewPageDir() any
}

// Map_t is a reference-counted address space: one lock protects the
// segment list and the page-directory handle together. Pmap is nil in
// the no-MMU variant.
type Map_t struct {
	sync.Mutex
	Pages    *page.Allocator_t
	MMU      MMU_i // nil selects the no-MMU variant
	Pmap     any   // opaque page-directory handle, nil on no-MMU
	Segs     *segList
	RefCount int32
}

// NewMap creates a fresh, empty address space spanning [0, span).
// mmu == nil selects the no-MMU variant (see nommu.go).
func NewMap(pages *page.Allocator_t, mmu MMU_i, span int) *Map_t {
	m := &Map_t{Pages: pages, MMU: mmu, Segs: newSegList(span), RefCount: 1}
	if mmu != nil {
		m.Pmap = mmu.NewPageDir()
	}
	return m
}

// Ref increments the map's reference count (VM_SHARE task creation).
func (m *Map_t) Ref() { atomic.AddInt32(&m.RefCount, 1) }

// Unref decrements the reference count, returning true when it drops
// to zero and the caller should tear the map down.
func (m *Map_t) Unref() bool {
	return atomic.AddInt32(&m.RefCount, -1) == 0
}

// Total reports the address space's mapped byte count, used to check
// the vm_allocate/vm_free round-trip invariant.
func (m *Map_t) Total() int {
	m.Lock()
	defer m.Unlock()
	return m.Segs.totalMapped()
}

// Allocate implements the vm_allocate syscall. If anywhere
// is true, addr is ignored and a first-fit segment is chosen; otherwise
// addr is exact and the range is reserved.
func (m *Map_t) Allocate(addr int, size int, anywhere bool) (int, defs.Err_t) {
	if size <= 0 {
		return 0, defs.EINVAL
	}
	size = page.RoundPage(size)

	m.Lock()
	defer m.Unlock()

	var seg *Segment_t
	var err defs.Err_t
	if anywhere {
		seg, err = m.Segs.allocFirstFit(size)
	} else {
		seg, err = m.Segs.reserve(addr, size)
	}
	if err != 0 {
		return 0, err
	}

	if perr := m.backWithPages(seg); perr != 0 {
		m.Segs.free(seg)
		return 0, perr
	}
	seg.Flags |= defs.SEG_READ | defs.SEG_WRITE
	return seg.Base, 0
}

// backWithPages allocates and zero-fills physical pages for seg and,
// on the MMU variant, installs the page-table mapping. On no-MMU
// builds seg.Base keeps the address the segment list chose; the
// physical base is recorded in seg.PA and is not made equal to it.
func (m *Map_t) backWithPages(seg *Segment_t) defs.Err_t {
	pa, err := m.Pages.Alloc(seg.Size)
	if err != 0 {
		return defs.ENOMEM
	}
	b := m.Pages.Bytes(pa, seg.Size)
	for i := range b {
		b[i] = 0
	}
	seg.PA = pa
	if m.MMU != nil {
		if err := m.MMU.Map(m.Pmap, pa, seg.Base, seg.Size, seg.Flags); err != 0 {
			m.Pages.Free(pa, seg.Size)
			return err
		}
	}
	return 0
}

// Free implements vm_free. Segments flagged SHARED or MAPPED never
// return pages to the page allocator; a sibling task may still be
// using them (see nommu.go).
func (m *Map_t) Free(addr int) defs.Err_t {
	m.Lock()
	defer m.Unlock()

	seg, ok := m.Segs.lookup(addr)
	if !ok || seg.Base != addr {
		return defs.EINVAL
	}
	keepPhys := seg.shared() || seg.mapped()
	if m.MMU != nil {
		m.MMU.Unmap(m.Pmap, seg.Base, seg.Size)
	}
	if !keepPhys && seg.PA != 0 {
		m.Pages.Free(seg.PA, seg.Size)
	}
	m.Segs.free(seg)
	return 0
}

// Attribute implements vm_attribute. Changing the
// protection of a SHARED segment breaks copy-on-write: fresh physical
// pages are allocated, the old contents copied in, the segment
// remapped, and it is detached from the shared circle.
func (m *Map_t) Attribute(addr int, prot defs.SegFlag_t) defs.Err_t {
	m.Lock()
	defer m.Unlock()

	seg, ok := m.Segs.lookup(addr)
	if !ok {
		return defs.EINVAL
	}
	if prot&^(defs.SEG_READ|defs.SEG_WRITE) != 0 {
		return defs.EINVAL
	}

	if seg.shared() {
		newPA, err := m.Pages.Alloc(seg.Size)
		if err != 0 {
			return defs.ENOMEM
		}
		copy(m.Pages.Bytes(newPA, seg.Size), m.Pages.Bytes(seg.PA, seg.Size))
		seg.unlink()
		seg.PA = newPA
		seg.Flags &^= defs.SEG_SHARED
	}
	seg.Flags = (seg.Flags &^ (defs.SEG_READ | defs.SEG_WRITE)) | prot
	if m.MMU != nil {
		m.MMU.Unmap(m.Pmap, seg.Base, seg.Size)
		if err := m.MMU.Map(m.Pmap, seg.PA, seg.Base, seg.Size, seg.Flags); err != 0 {
			return err
		}
	}
	return 0
}

// MapForeign implements vm_map: maps a range of src into m
// at a freshly chosen address, sharing src's physical pages. Disallows
// self-mapping.
func (m *Map_t) MapForeign(src *Map_t, addr, size int) (int, defs.Err_t) {
	if src == m {
		return 0, defs.EINVAL
	}
	size = page.RoundPage(size)

	src.Lock()
	srcSeg, ok := src.Segs.lookup(addr)
	if !ok || srcSeg.Size < size {
		src.Unlock()
		return 0, defs.EINVAL
	}
	srcSeg.Flags |= defs.SEG_SHARED
	src.Unlock()

	m.Lock()
	defer m.Unlock()
	dst, err := m.Segs.allocFirstFit(size)
	if err != 0 {
		return 0, err
	}
	dst.PA = srcSeg.PA
	dst.Flags = defs.SEG_SHARED | defs.SEG_MAPPED | (srcSeg.Flags & (defs.SEG_READ | defs.SEG_WRITE | defs.SEG_EXEC))
	dst.linkWith(srcSeg)
	if m.MMU != nil {
		if err := m.MMU.Map(m.Pmap, dst.PA, dst.Base, dst.Size, dst.Flags); err != 0 {
			m.Segs.free(dst)
			return 0, err
		}
	}
	return dst.Base, 0
}
