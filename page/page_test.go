package page

import (
	"testing"

	"github.com/AndrewD/prex/defs"
)

func TestAllocRoundsToPageSize(t *testing.T) {
	a := New(16 * PGSIZE)
	if _, err := a.Alloc(1); err != 0 {
		t.Fatalf("Alloc(1): %v", err)
	}
	if got := a.FreeBytes(); got != 15*PGSIZE {
		t.Fatalf("free after 1-byte alloc = %d, want %d", got, 15*PGSIZE)
	}
}

func TestAllocExactRemainingSucceedsOneMoreFails(t *testing.T) {
	a := New(8 * PGSIZE)
	if _, err := a.Alloc(8 * PGSIZE); err != 0 {
		t.Fatalf("Alloc of entire memory: %v", err)
	}
	if _, err := a.Alloc(PGSIZE); err != defs.ENOMEM {
		t.Fatalf("Alloc beyond capacity = %v, want ENOMEM", err)
	}
}

func TestFreeCoalescesNeighbors(t *testing.T) {
	a := New(8 * PGSIZE)
	p1, _ := a.Alloc(2 * PGSIZE)
	p2, _ := a.Alloc(2 * PGSIZE)
	p3, _ := a.Alloc(2 * PGSIZE)

	// Free the middle region last so it must merge with both sides.
	a.Free(p1, 2*PGSIZE)
	a.Free(p3, 2*PGSIZE)
	a.Free(p2, 2*PGSIZE)

	// A fully coalesced free list satisfies the largest possible
	// request again.
	if _, err := a.Alloc(8 * PGSIZE); err != 0 {
		t.Fatalf("Alloc of entire memory after scattered frees: %v", err)
	}
}

func TestReserveSplitsContainingRegion(t *testing.T) {
	a := New(16 * PGSIZE)
	if err := a.Reserve(Pa_t(4*PGSIZE), 2*PGSIZE); err != 0 {
		t.Fatalf("Reserve: %v", err)
	}
	if got := a.FreeBytes(); got != 14*PGSIZE {
		t.Fatalf("free after Reserve = %d, want %d", got, 14*PGSIZE)
	}
	// The carved range must no longer be reservable.
	if err := a.Reserve(Pa_t(4*PGSIZE), PGSIZE); err != defs.ENOMEM {
		t.Fatalf("Reserve of an already-reserved range = %v, want ENOMEM", err)
	}
	// But both leftover sides are.
	if err := a.Reserve(0, 4*PGSIZE); err != 0 {
		t.Fatalf("Reserve of leading remainder: %v", err)
	}
	if err := a.Reserve(Pa_t(6*PGSIZE), 10*PGSIZE); err != 0 {
		t.Fatalf("Reserve of trailing remainder: %v", err)
	}
}

func TestAllocFirstFitSkipsSmallHoles(t *testing.T) {
	a := New(16 * PGSIZE)
	p1, _ := a.Alloc(PGSIZE)
	_, _ = a.Alloc(PGSIZE) // pins the page after p1
	a.Free(p1, PGSIZE)     // one-page hole at the front

	pa, err := a.Alloc(4 * PGSIZE)
	if err != 0 {
		t.Fatalf("Alloc(4 pages): %v", err)
	}
	if pa == p1 {
		t.Fatalf("4-page allocation placed into a 1-page hole")
	}
	// The hole is still there for a fitting request.
	got, err := a.Alloc(PGSIZE)
	if err != 0 || got != p1 {
		t.Fatalf("Alloc(1 page) = (%v, %v), want the hole at %v", got, err, p1)
	}
}

func TestDmapIsStablePerPage(t *testing.T) {
	a := New(4 * PGSIZE)
	pa, _ := a.Alloc(PGSIZE)
	copy(a.Dmap(pa), []byte("persistent"))
	if string(a.Dmap(pa)[:10]) != "persistent" {
		t.Fatalf("Dmap contents did not persist across calls")
	}
}
