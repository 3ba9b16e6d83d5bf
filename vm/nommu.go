package vm

// NoMMU selects the no-MMU variant when passed to NewMap. Addresses
// are not identity-mapped: the segment list hands out a segment's
// Base independently of the physical PA the page allocator returns,
// and the two generally differ. Map_t.MMU being nil makes every
// page-table call in map.go/dup.go a no-op, leaving only the
// page-allocator and segment-list bookkeeping that both variants
// share.
var NoMMU MMU_i = nil

// A note on no-MMU sharing: Map_t.Free refuses to return physical
// pages to the page allocator whenever a segment carries SEG_SHARED
// or SEG_MAPPED, on *both* the donor path (MapForeign marks the
// source segment SEG_SHARED before sharing it) and the recipient path
// (the destination segment is created with SEG_MAPPED). A sibling
// task therefore can never have its backing pages freed out from
// under it by a MapForeign peer's vm_free, on either the MMU or the
// no-MMU variant.
