// Package thread implements thread lifecycle on top of the scheduler:
// creation, entry-point loading, and termination's "zombie slot"
// handoff.
//
// A thread cannot free its own kernel stack while it is still the one
// executing -- the teardown of a self-terminating thread is deferred
// until the *next* thread_deallocate call made by someone else. This
// package models that literally: Destroy keeps exactly one "zombie"
// thread's teardown pending and reaps it on the following call.
package thread

import (
	"sync"

	"github.com/AndrewD/prex/defs"
	"github.com/AndrewD/prex/limits"
	"github.com/AndrewD/prex/sched"
)

// threadRec holds the entry point a thread's wrapper goroutine is
// waiting for, set by Load after Create but before the thread is
// first resumed.
type threadRec struct {
	mu sync.Mutex
	fn func(*sched.Thread_t)
}

// Subsystem_t owns thread creation/teardown and the zombie slot.
type Subsystem_t struct {
	sched *sched.Sched_t
	cfg   *limits.Config_t

	hookMu    sync.Mutex
	onDestroy []func(*sched.Thread_t)

	recMu   sync.Mutex
	entries map[*sched.Thread_t]*threadRec

	zombieMu sync.Mutex
	zombie   *sched.Thread_t
}

// New builds a thread subsystem bound to a scheduler. It registers
// its own mutex-cancellation hook; everything else a terminating
// thread must be detached from -- IPC rendezvous state -- is injected
// by the task package via OnDestroy, so this package never imports
// ipc/ksync.
func New(s *sched.Sched_t, cfg *limits.Config_t) *Subsystem_t {
	sub := &Subsystem_t{sched: s, cfg: cfg, entries: make(map[*sched.Thread_t]*threadRec)}
	sub.OnDestroy(cancelMutexes)
	return sub
}

// cancelMutexes hands back every mutex t still holds at termination,
// ownership-only, without priority-chain adjustment (mutex_cancel).
func cancelMutexes(t *sched.Thread_t) {
	held := append([]sched.MutexRef_i(nil), t.HeldMutexes...)
	for _, m := range held {
		m.ForceRelease(t)
	}
}

// OnDestroy registers a cleanup hook run, in registration order, every
// time a thread is torn down.
func (s *Subsystem_t) OnDestroy(fn func(*sched.Thread_t)) {
	s.hookMu.Lock()
	s.onDestroy = append(s.onDestroy, fn)
	s.hookMu.Unlock()
}

// Create allocates a fresh thread and spawns its body goroutine parked
// at AwaitTurn (thread_allocate plus the kernel-stack/context setup
// thread_create does before sched_start): the goroutine runs nothing
// until Load supplies an entry point and the scheduler resumes it.
func (s *Subsystem_t) Create(policy defs.Policy_t, basePrio int) *sched.Thread_t {
	t := s.sched.NewThread(basePrio, policy)
	rec := &threadRec{}
	s.recMu.Lock()
	s.entries[t] = rec
	s.recMu.Unlock()

	go func() {
		t.AwaitTurn()
		rec.mu.Lock()
		fn := rec.fn
		rec.mu.Unlock()
		if fn != nil {
			fn(t)
		}
		s.Destroy(t)
	}()
	return t
}

// Load sets t's entry point (thread_load); must be called
// before t is first resumed.
func (s *Subsystem_t) Load(t *sched.Thread_t, entry func(*sched.Thread_t)) defs.Err_t {
	s.recMu.Lock()
	rec, ok := s.entries[t]
	s.recMu.Unlock()
	if !ok {
		return defs.EINVAL
	}
	rec.mu.Lock()
	rec.fn = entry
	rec.mu.Unlock()
	return 0
}

// Destroy implements thread_destroy: runs every registered cleanup
// hook, stops t in the scheduler, then applies the zombie-slot
// handoff -- a self-terminating thread (t is Current) becomes the new
// zombie and is reaped on the *next* Destroy call from someone else;
// any previously pending zombie is reaped now.
func (s *Subsystem_t) Destroy(t *sched.Thread_t) {
	s.hookMu.Lock()
	hooks := append([]func(*sched.Thread_t){}, s.onDestroy...)
	s.hookMu.Unlock()
	for _, fn := range hooks {
		fn(t)
	}

	self := t == s.sched.Current()
	s.sched.Stop(t)

	s.zombieMu.Lock()
	prev := s.zombie
	if self {
		s.zombie = t
	}
	s.zombieMu.Unlock()

	if prev != nil {
		s.reap(prev)
	}
	if !self {
		s.reap(t)
	}

	if self {
		// Stop forced LockNest to 1 and Resched true on the current
		// thread; this Unlock is its last act before the switch away.
		s.sched.Unlock(t)
	}
}

// reap releases a thread's kernel stack and removes it from the
// thread table, the part of teardown the zombie slot exists to defer.
func (s *Subsystem_t) reap(t *sched.Thread_t) {
	t.Stack = nil
	s.recMu.Lock()
	delete(s.entries, t)
	s.recMu.Unlock()
	s.sched.Forget(t)
}
