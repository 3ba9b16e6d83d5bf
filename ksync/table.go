package ksync

import (
	"sync"

	"github.com/AndrewD/prex/limits"
	"github.com/AndrewD/prex/sched"
)

// Table_t maps an opaque user-space handle (the address of a
// statically-initialized mutex word) to its kernel-side Mutex_t,
// allocated lazily the first time it's used --
// the sentinel-detected-as-uninitialized pattern: user code never
// calls an explicit mutex_init, it just starts locking, and the first
// locker pays for the allocation.
type Table_t struct {
	sched *sched.Sched_t
	cfg   *limits.Config_t

	mu    sync.Mutex
	byKey map[uintptr]*Mutex_t
}

// NewTable builds an empty mutex table.
func NewTable(s *sched.Sched_t, cfg *limits.Config_t) *Table_t {
	return &Table_t{sched: s, cfg: cfg, byKey: make(map[uintptr]*Mutex_t)}
}

// Ensure returns the Mutex_t for handle, allocating one on first use.
func (tb *Table_t) Ensure(handle uintptr) *Mutex_t {
	tb.mu.Lock()
	defer tb.mu.Unlock()
	m, ok := tb.byKey[handle]
	if !ok {
		m = New(tb.sched, tb.cfg)
		tb.byKey[handle] = m
	}
	return m
}

// Destroy drops the mutex registered for handle, if any.
func (tb *Table_t) Destroy(handle uintptr) {
	tb.mu.Lock()
	defer tb.mu.Unlock()
	delete(tb.byKey, handle)
}

// Clear empties the table, for task teardown (mutex_cleanup).
func (tb *Table_t) Clear() {
	tb.mu.Lock()
	tb.byKey = make(map[uintptr]*Mutex_t)
	tb.mu.Unlock()
}

// All returns every live mutex in the table, for task teardown: each
// must be forcibly released before the table itself is cleared.
func (tb *Table_t) All() []*Mutex_t {
	tb.mu.Lock()
	defer tb.mu.Unlock()
	out := make([]*Mutex_t, 0, len(tb.byKey))
	for _, m := range tb.byKey {
		out = append(out, m)
	}
	return out
}
