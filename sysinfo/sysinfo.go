// Package sysinfo aggregates the per-subsystem counters behind the
// info syscall: memory, scheduler, and clock statistics collected
// on demand from whichever sources the kernel registers.
package sysinfo

import (
	"sync"

	"github.com/AndrewD/prex/defs"
)

// Kind_t selects which statistics block an info call fills in.
type Kind_t int

const (
	INFO_MEMORY Kind_t = iota
	INFO_SCHED
	INFO_TIMER
)

// Meminfo_t reports physical memory and kernel heap usage.
type Meminfo_t struct {
	Total     int // bytes under page-allocator management
	Free      int // bytes currently free
	HeapPages int // pages donated to the kernel heap
}

// Schedinfo_t reports scheduler population counts.
type Schedinfo_t struct {
	Threads int
	Tasks   int
	HZ      int
}

// Timerinfo_t reports the clock state.
type Timerinfo_t struct {
	Lbolt uint32
	HZ    int
}

// Sources_t is the set of collector callbacks the kernel registers at
// boot; each is invoked on demand so the numbers are current at the
// moment of the call.
type Sources_t struct {
	Memory func() Meminfo_t
	Sched  func() Schedinfo_t
	Timer  func() Timerinfo_t
}

// Subsystem_t answers info queries from the registered sources.
type Subsystem_t struct {
	mu  sync.Mutex
	src Sources_t
}

// New builds an info subsystem with no sources registered.
func New() *Subsystem_t {
	return &Subsystem_t{}
}

// Register installs the collector callbacks.
func (s *Subsystem_t) Register(src Sources_t) {
	s.mu.Lock()
	s.src = src
	s.mu.Unlock()
}

// Memory answers an INFO_MEMORY query.
func (s *Subsystem_t) Memory() (Meminfo_t, defs.Err_t) {
	s.mu.Lock()
	f := s.src.Memory
	s.mu.Unlock()
	if f == nil {
		return Meminfo_t{}, defs.EINVAL
	}
	return f(), 0
}

// Sched answers an INFO_SCHED query.
func (s *Subsystem_t) Sched() (Schedinfo_t, defs.Err_t) {
	s.mu.Lock()
	f := s.src.Sched
	s.mu.Unlock()
	if f == nil {
		return Schedinfo_t{}, defs.EINVAL
	}
	return f(), 0
}

// Timer answers an INFO_TIMER query.
func (s *Subsystem_t) Timer() (Timerinfo_t, defs.Err_t) {
	s.mu.Lock()
	f := s.src.Timer
	s.mu.Unlock()
	if f == nil {
		return Timerinfo_t{}, defs.EINVAL
	}
	return f(), 0
}
