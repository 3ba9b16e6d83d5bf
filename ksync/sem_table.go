package ksync

import (
	"sync"

	"github.com/AndrewD/prex/sched"
)

// SemTable_t maps an opaque user handle to its kernel-side Sem_t,
// allocating one lazily on first use with the caller-supplied initial
// value (sem_init), the same sentinel pattern as Table_t.
type SemTable_t struct {
	sched *sched.Sched_t

	mu    sync.Mutex
	byKey map[uintptr]*Sem_t
}

// NewSemTable builds an empty semaphore table.
func NewSemTable(s *sched.Sched_t) *SemTable_t {
	return &SemTable_t{sched: s, byKey: make(map[uintptr]*Sem_t)}
}

// Ensure returns the Sem_t for handle, allocating one with the given
// initial value on first use.
func (tb *SemTable_t) Ensure(handle uintptr, initial int) *Sem_t {
	tb.mu.Lock()
	defer tb.mu.Unlock()
	s, ok := tb.byKey[handle]
	if !ok {
		s = NewSem(tb.sched, initial)
		tb.byKey[handle] = s
	}
	return s
}

// Destroy drops the semaphore registered for handle, if any.
func (tb *SemTable_t) Destroy(handle uintptr) {
	tb.mu.Lock()
	defer tb.mu.Unlock()
	delete(tb.byKey, handle)
}

// Clear empties the table, for task teardown.
func (tb *SemTable_t) Clear() {
	tb.mu.Lock()
	tb.byKey = make(map[uintptr]*Sem_t)
	tb.mu.Unlock()
}
