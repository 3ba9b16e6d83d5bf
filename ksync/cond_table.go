package ksync

import (
	"sync"

	"github.com/AndrewD/prex/sched"
)

// CondTable_t maps an opaque user handle to its kernel-side Cond_t,
// allocating one lazily on first use against whatever mutex handle
// accompanies that first call -- the same sentinel-initialized pattern
// as Table_t, extended to condition variables.
type CondTable_t struct {
	sched *sched.Sched_t

	mu    sync.Mutex
	byKey map[uintptr]*Cond_t
}

// NewCondTable builds an empty condition-variable table.
func NewCondTable(s *sched.Sched_t) *CondTable_t {
	return &CondTable_t{sched: s, byKey: make(map[uintptr]*Cond_t)}
}

// Ensure returns the Cond_t for handle, allocating one bound to mu on
// first use.
func (tb *CondTable_t) Ensure(handle uintptr, mu *Mutex_t) *Cond_t {
	tb.mu.Lock()
	defer tb.mu.Unlock()
	c, ok := tb.byKey[handle]
	if !ok {
		c = NewCond(tb.sched, mu)
		tb.byKey[handle] = c
	}
	return c
}

// Destroy drops the condition variable registered for handle, if any.
func (tb *CondTable_t) Destroy(handle uintptr) {
	tb.mu.Lock()
	defer tb.mu.Unlock()
	delete(tb.byKey, handle)
}

// Clear empties the table, for task teardown.
func (tb *CondTable_t) Clear() {
	tb.mu.Lock()
	tb.byKey = make(map[uintptr]*Cond_t)
	tb.mu.Unlock()
}
