package kheap

import (
	"testing"

	"github.com/AndrewD/prex/page"
)

func newTestHeap() (*Heap_t, *page.Allocator_t) {
	pa := page.New(64 * page.PGSIZE)
	return New(pa), pa
}

func TestAllocAlignedAndSized(t *testing.T) {
	h, _ := newTestHeap()
	b, err := h.Alloc(24)
	if err != 0 {
		t.Fatalf("Alloc: %v", err)
	}
	if len(b) != 32 {
		t.Fatalf("Alloc(24) returned %d bytes, want the 16-byte-aligned 32", len(b))
	}
}

func TestAllocTooLargeFails(t *testing.T) {
	h, _ := newTestHeap()
	if _, err := h.Alloc(page.PGSIZE); err == 0 {
		t.Fatalf("Alloc of a full page through the heap must fail")
	}
}

func TestFreeReusesBlock(t *testing.T) {
	h, _ := newTestHeap()
	b1, _ := h.Alloc(64)
	h.Free(b1)
	b2, err := h.Alloc(64)
	if err != 0 {
		t.Fatalf("Alloc after Free: %v", err)
	}
	if &b1[0] != &b2[0] {
		t.Fatalf("freed block not reused for an identical request")
	}
}

func TestEmptyPageReturnsToAllocator(t *testing.T) {
	h, pa := newTestHeap()
	before := pa.FreeBytes()

	b, _ := h.Alloc(128)
	if pa.FreeBytes() != before-page.PGSIZE {
		t.Fatalf("heap did not take exactly one page for the first block")
	}
	h.Free(b)
	if pa.FreeBytes() != before {
		t.Fatalf("empty heap page not returned to the page allocator")
	}
	if h.PagesInUse() != 0 {
		t.Fatalf("PagesInUse = %d after last Free, want 0", h.PagesInUse())
	}
}

func TestPageSharedByMultipleBlocks(t *testing.T) {
	h, pa := newTestHeap()
	before := pa.FreeBytes()

	b1, _ := h.Alloc(64)
	b2, _ := h.Alloc(64)
	if pa.FreeBytes() != before-page.PGSIZE {
		t.Fatalf("two small blocks should share one page")
	}
	h.Free(b1)
	if pa.FreeBytes() != before-page.PGSIZE {
		t.Fatalf("page returned while a block in it is still allocated")
	}
	h.Free(b2)
	if pa.FreeBytes() != before {
		t.Fatalf("page not returned after its last block was freed")
	}
}

func TestDoubleFreePanics(t *testing.T) {
	h, _ := newTestHeap()
	b, _ := h.Alloc(64)
	h.Free(b)

	defer func() {
		if recover() == nil {
			t.Fatalf("double Free did not panic")
		}
	}()
	h.Free(b)
}

func TestForeignBlockPanics(t *testing.T) {
	h, _ := newTestHeap()
	defer func() {
		if recover() == nil {
			t.Fatalf("Free of a foreign buffer did not panic")
		}
	}()
	h.Free(make([]byte, 32))
}
