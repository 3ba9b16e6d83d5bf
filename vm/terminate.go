package vm

// Terminate drops m's reference and, when that was the last one,
// returns every segment's physical pages to the page allocator and
// tears down its page-table mappings -- the vm_terminate half of task
// teardown that Unref alone deliberately leaves undone. SHARED or
// MAPPED segments are skipped, the same rule Free and the no-MMU
// variant already apply (see nommu.go): a segment still referenced by
// a sibling task's shared circle must not have its backing pages
// freed out from under it.
func Terminate(m *Map_t) {
	if !m.Unref() {
		return
	}

	m.Lock()
	defer m.Unlock()
	for _, s := range m.Segs.segs {
		if s.free() {
			continue
		}
		keepPhys := s.shared() || s.mapped()
		if m.MMU != nil {
			m.MMU.Unmap(m.Pmap, s.Base, s.Size)
		}
		if !keepPhys && s.PA != 0 {
			m.Pages.Free(s.PA, s.Size)
		}
	}
}
