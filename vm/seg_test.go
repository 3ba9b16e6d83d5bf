package vm

import (
	"testing"

	"github.com/AndrewD/prex/defs"
	"github.com/AndrewD/prex/page"
)

const testSpan = 1 << 22

func newTestMap() *Map_t {
	return NewMap(page.New(testSpan), NoMMU, testSpan)
}

func segSpanSum(l *segList) int {
	n := 0
	for _, s := range l.segs {
		n += s.Size
	}
	return n
}

func TestAllocateAnywhere(t *testing.T) {
	m := newTestMap()
	addr, err := m.Allocate(0, 3*page.PGSIZE, true)
	if err != 0 {
		t.Fatalf("Allocate: %v", err)
	}
	if addr%page.PGSIZE != 0 {
		t.Fatalf("allocated address %#x not page aligned", addr)
	}
	if got := m.Total(); got != 3*page.PGSIZE {
		t.Fatalf("Total = %d, want %d", got, 3*page.PGSIZE)
	}
}

func TestAllocateExact(t *testing.T) {
	m := newTestMap()
	want := 8 * page.PGSIZE
	addr, err := m.Allocate(want, 2*page.PGSIZE, false)
	if err != 0 {
		t.Fatalf("Allocate(exact): %v", err)
	}
	if addr != want {
		t.Fatalf("exact Allocate placed at %#x, want %#x", addr, want)
	}
	// The same range cannot be taken twice.
	if _, err := m.Allocate(want, page.PGSIZE, false); err == 0 {
		t.Fatalf("overlapping exact Allocate succeeded")
	}
}

func TestAllocateFreeRoundTrip(t *testing.T) {
	m := newTestMap()
	before := m.Total()

	addr, err := m.Allocate(0, 4*page.PGSIZE, true)
	if err != 0 {
		t.Fatalf("Allocate: %v", err)
	}
	if err := m.Free(addr); err != 0 {
		t.Fatalf("Free: %v", err)
	}
	if got := m.Total(); got != before {
		t.Fatalf("Total after round trip = %d, want %d", got, before)
	}
	if got := len(m.Segs.segs); got != 1 {
		t.Fatalf("segment list not fully coalesced: %d segments", got)
	}
}

func TestSegListSpanInvariant(t *testing.T) {
	m := newTestMap()
	a1, _ := m.Allocate(0, page.PGSIZE, true)
	a2, _ := m.Allocate(16*page.PGSIZE, 2*page.PGSIZE, false)
	if got := segSpanSum(m.Segs); got != testSpan {
		t.Fatalf("segment sizes sum to %d, want span %d", got, testSpan)
	}
	m.Free(a1)
	m.Free(a2)
	if got := segSpanSum(m.Segs); got != testSpan {
		t.Fatalf("segment sizes sum to %d after frees, want span %d", got, testSpan)
	}
}

func TestFreeMidAddressIsInvalid(t *testing.T) {
	m := newTestMap()
	addr, _ := m.Allocate(0, 2*page.PGSIZE, true)
	if err := m.Free(addr + page.PGSIZE); err != defs.EINVAL {
		t.Fatalf("Free of a non-base address = %v, want EINVAL", err)
	}
}

func TestAttributeChangesProtection(t *testing.T) {
	m := newTestMap()
	addr, _ := m.Allocate(0, page.PGSIZE, true)

	if err := m.Attribute(addr, defs.SEG_READ); err != 0 {
		t.Fatalf("Attribute: %v", err)
	}
	seg, _ := m.Segs.lookup(addr)
	if seg.Flags&defs.SEG_WRITE != 0 {
		t.Fatalf("write bit still set after read-only Attribute")
	}
	if err := m.Attribute(addr, defs.SEG_EXEC); err != defs.EINVAL {
		t.Fatalf("Attribute with non-protection bits = %v, want EINVAL", err)
	}
}

func TestMapForeignSharesPhysical(t *testing.T) {
	src := newTestMap()
	dst := NewMap(src.Pages, NoMMU, testSpan)

	addr, _ := src.Allocate(0, 2*page.PGSIZE, true)
	copy(src.Pages.Dmap(mustSeg(t, src, addr).PA), []byte("shared bytes"))

	out, err := dst.MapForeign(src, addr, 2*page.PGSIZE)
	if err != 0 {
		t.Fatalf("MapForeign: %v", err)
	}
	got := mustSeg(t, dst, out)
	if got.PA != mustSeg(t, src, addr).PA {
		t.Fatalf("mapped segment does not share the source's physical pages")
	}
	if got.Flags&defs.SEG_MAPPED == 0 || got.Flags&defs.SEG_SHARED == 0 {
		t.Fatalf("mapped segment flags = %v, want SHARED|MAPPED", got.Flags)
	}
}

func TestMapForeignSelfIsInvalid(t *testing.T) {
	m := newTestMap()
	addr, _ := m.Allocate(0, page.PGSIZE, true)
	if _, err := m.MapForeign(m, addr, page.PGSIZE); err != defs.EINVAL {
		t.Fatalf("self MapForeign = %v, want EINVAL", err)
	}
}

func TestSharedSegmentKeepsPagesOnFree(t *testing.T) {
	src := newTestMap()
	dst := NewMap(src.Pages, NoMMU, testSpan)

	addr, _ := src.Allocate(0, page.PGSIZE, true)
	out, err := dst.MapForeign(src, addr, page.PGSIZE)
	if err != 0 {
		t.Fatalf("MapForeign: %v", err)
	}

	free := src.Pages.FreeBytes()
	if err := dst.Free(out); err != 0 {
		t.Fatalf("Free of mapped segment: %v", err)
	}
	if src.Pages.FreeBytes() != free {
		t.Fatalf("recipient Free returned shared pages to the allocator")
	}
	if err := src.Free(addr); err != 0 {
		t.Fatalf("Free of donor segment: %v", err)
	}
	if src.Pages.FreeBytes() != free {
		t.Fatalf("donor Free returned still-shared pages to the allocator")
	}
}

func mustSeg(t *testing.T, m *Map_t, addr int) *Segment_t {
	t.Helper()
	seg, ok := m.Segs.lookup(addr)
	if !ok {
		t.Fatalf("no segment at %#x", addr)
	}
	return seg
}
