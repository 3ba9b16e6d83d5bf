// Package vm implements the per-task address space and segment
// manager, in its MMU and no-MMU variants.
package vm

import (
	"github.com/AndrewD/prex/defs"
	"github.com/AndrewD/prex/page"
)

// Segment_t is a half-open [Base, Base+Size) virtual range. Segments
// of one Map_t live in an address-ordered slice; segments shared
// across tasks (from vm_map or Dup of a read-only mapping) are also
// threaded onto a circular shared-copy list via Next/Prev.
type Segment_t struct {
	Base  int
	Size  int
	PA    page.Pa_t
	Flags defs.SegFlag_t

	// Next/Prev link this segment into the circular shared-copy list
	// when Flags has SEG_SHARED set. A segment not on any shared
	// circle points to itself.
	Next, Prev *Segment_t
}

func (s *Segment_t) free() bool   { return s.Flags&defs.SEG_FREE != 0 }
func (s *Segment_t) shared() bool { return s.Flags&defs.SEG_SHARED != 0 }
func (s *Segment_t) mapped() bool { return s.Flags&defs.SEG_MAPPED != 0 }

func (s *Segment_t) end() int { return s.Base + s.Size }

// selfLink makes s its own one-element shared circle.
func (s *Segment_t) selfLink() { s.Next, s.Prev = s, s }

// unlink detaches s from whatever shared circle it is on.
func (s *Segment_t) unlink() {
	if s.Next == nil {
		return
	}
	s.Next.Prev = s.Prev
	s.Prev.Next = s.Next
	s.selfLink()
}

// linkWith threads s into other's shared circle.
func (s *Segment_t) linkWith(other *Segment_t) {
	if other.Next == nil {
		other.selfLink()
	}
	s.Next = other.Next
	s.Prev = other
	other.Next.Prev = s
	other.Next = s
}

// segList is the address-ordered segment list of one address space.
// Invariant 4: no two adjacent segments are both free, and
// the sum of segment sizes equals the address-space span.
type segList struct {
	segs []*Segment_t // kept sorted by Base
}

func newSegList(span int) *segList {
	root := &Segment_t{Base: 0, Size: span, Flags: defs.SEG_FREE}
	root.selfLink()
	return &segList{segs: []*Segment_t{root}}
}

// allocFirstFit finds the first free segment of at least size bytes,
// splitting off the remainder (seg_alloc).
func (l *segList) allocFirstFit(size int) (*Segment_t, defs.Err_t) {
	for i, s := range l.segs {
		if !s.free() || s.Size < size {
			continue
		}
		return l.carve(i, s.Base, size), 0
	}
	return nil, defs.ENOMEM
}

// reserve finds the free segment containing [addr, addr+size) and
// splits at most once on each side (seg_reserve).
func (l *segList) reserve(addr, size int) (*Segment_t, defs.Err_t) {
	end := addr + size
	for i, s := range l.segs {
		if !s.free() || addr < s.Base || end > s.end() {
			continue
		}
		return l.carve(i, addr, size), 0
	}
	return nil, defs.ENOMEM
}

// carve splits the free segment at index i so that a [addr,
// addr+size) piece is returned non-free and any leftover on either
// side remains free.
func (l *segList) carve(i, addr, size int) *Segment_t {
	s := l.segs[i]
	var out []*Segment_t
	if addr > s.Base {
		lead := &Segment_t{Base: s.Base, Size: addr - s.Base, Flags: defs.SEG_FREE}
		lead.selfLink()
		out = append(out, lead)
	}
	mid := &Segment_t{Base: addr, Size: size}
	mid.selfLink()
	out = append(out, mid)
	if addr+size < s.end() {
		tail := &Segment_t{Base: addr + size, Size: s.end() - addr - size, Flags: defs.SEG_FREE}
		tail.selfLink()
		out = append(out, tail)
	}
	l.segs = append(l.segs[:i], append(out, l.segs[i+1:]...)...)
	return mid
}

// free marks seg free, coalesces with its address-order neighbors, and
// detaches it from any shared circle (seg_free).
func (l *segList) free(seg *Segment_t) {
	idx := -1
	for i, s := range l.segs {
		if s == seg {
			idx = i
			break
		}
	}
	if idx < 0 {
		return
	}
	seg.unlink()
	seg.Flags = defs.SEG_FREE
	seg.PA = 0

	// coalesce with next then previous, matching the order
	// calls out explicitly.
	if idx+1 < len(l.segs) && l.segs[idx+1].free() {
		nxt := l.segs[idx+1]
		seg.Size += nxt.Size
		l.segs = append(l.segs[:idx+1], l.segs[idx+2:]...)
	}
	if idx > 0 && l.segs[idx-1].free() {
		prv := l.segs[idx-1]
		prv.Size += seg.Size
		l.segs = append(l.segs[:idx], l.segs[idx+1:]...)
	}
}

// lookup returns the segment covering va, if any.
func (l *segList) lookup(va int) (*Segment_t, bool) {
	for _, s := range l.segs {
		if va >= s.Base && va < s.end() && !s.free() {
			return s, true
		}
	}
	return nil, false
}

// totalMapped sums the size of every non-free segment, the quantity
// the vm_allocate/vm_free round-trip invariant is checked
// against.
func (l *segList) totalMapped() int {
	n := 0
	for _, s := range l.segs {
		if !s.free() {
			n += s.Size
		}
	}
	return n
}

func (l *segList) clone() *segList {
	out := &segList{segs: make([]*Segment_t, len(l.segs))}
	for i, s := range l.segs {
		cp := *s
		cp.selfLink()
		out.segs[i] = &cp
	}
	return out
}
