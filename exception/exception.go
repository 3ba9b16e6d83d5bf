// Package exception implements the 32-slot per-thread exception
// ("signal") mechanism: posting chooses a target thread, delivery
// runs at the thread's next dispatch point.
package exception

import (
	"sync"

	"github.com/AndrewD/prex/defs"
	"github.com/AndrewD/prex/limits"
	"github.com/AndrewD/prex/sched"
)

// TaskRef_i is the narrow view of a task exception delivery needs,
// implemented by task.Task_t. Kept here rather than imported so the
// dependency runs task -> exception, not the other way around.
type TaskRef_i interface {
	// HasHandler reports whether the task has installed a non-default
	// exception handler (exception_setup's EXC_DFL check).
	HasHandler() bool
	// Threads returns the task's threads in creation order; element 0
	// is the master thread, the fallback target when nobody is parked
	// in Wait.
	Threads() []*sched.Thread_t
	// System reports whether the task is kernel-protected: such tasks
	// never receive exceptions (exception_post's TF_SYSTEM check).
	System() bool
}

// Subsystem_t owns the single event every exception_wait-blocked
// thread parks on.
type Subsystem_t struct {
	sched *sched.Sched_t
	cfg   *limits.Config_t

	event *sched.Event_t

	mu      sync.Mutex
	waiting map[*sched.Thread_t]bool // threads currently parked via Wait
}

// New builds an exception subsystem bound to a scheduler.
func New(s *sched.Sched_t, cfg *limits.Config_t) *Subsystem_t {
	return &Subsystem_t{sched: s, cfg: cfg, event: s.NewEvent(), waiting: make(map[*sched.Thread_t]bool)}
}

// Post implements exception_post: marks excno pending on whichever
// thread should receive it and wakes that thread with INTR regardless
// of what it was sleeping on. Target selection prefers a
// thread parked in Wait over the task's master thread, even if the
// master thread outranks it: delivery goes to whoever asked for it
// first.
func (s *Subsystem_t) Post(task TaskRef_i, excno int) defs.Err_t {
	if task.System() {
		return defs.EPERM
	}
	threads := task.Threads()
	if !task.HasHandler() || len(threads) == 0 || excno < 0 || excno >= s.cfg.MaxExc {
		return defs.EINVAL
	}

	s.mu.Lock()
	var target *sched.Thread_t
	for _, t := range threads {
		if s.waiting[t] {
			target = t
			break
		}
	}
	s.mu.Unlock()
	if target == nil {
		target = threads[0]
	}

	target.ExcBits |= 1 << uint(excno)
	s.sched.Unsleep(target, defs.SLP_INTR)
	return 0
}

// Wait implements exception_wait: blocks t until some exception bit
// is set, then returns the lowest pending excno. A
// successful wait reports EINTR, like any other sleep broken by
// exception delivery; a wait broken by CancelWaiters is EINVAL.
func (s *Subsystem_t) Wait(t *sched.Thread_t, hasHandler bool) (int, defs.Err_t) {
	if !hasHandler {
		return 0, defs.EINVAL
	}

	s.mu.Lock()
	s.waiting[t] = true
	s.mu.Unlock()

	res := s.sched.Sleep(t, s.event)

	s.mu.Lock()
	delete(s.waiting, t)
	s.mu.Unlock()

	if res == defs.SLP_BREAK {
		return 0, defs.EINVAL
	}

	for i := 0; i < s.cfg.MaxExc; i++ {
		if t.ExcBits&(1<<uint(i)) != 0 {
			return i, defs.EINTR
		}
	}
	return 0, defs.EINTR
}

// Deliver implements exception_deliver: finds the lowest-numbered
// pending bit, clears it, and reports whether the task must be
// terminated instead -- a task without a handler dies on its first
// hardware trap exception. With no user-mode trap frame to redirect,
// this is the dispatch point a thread's own body loop calls between
// units of work to act on a posted exception.
func (s *Subsystem_t) Deliver(t *sched.Thread_t, hasHandler bool) (excno int, terminate bool, pending bool) {
	if t.ExcBits == 0 {
		return 0, false, false
	}
	for i := 0; i < s.cfg.MaxExc; i++ {
		if t.ExcBits&(1<<uint(i)) != 0 {
			excno = i
			break
		}
	}
	if !hasHandler {
		return excno, true, true
	}
	t.ExcBits &^= 1 << uint(excno)
	return excno, false, true
}

// CancelWaiters implements the cleanup exception_setup does when a
// handler is removed (EXC_DFL): clear every pending bit and unblock
// any thread parked in Wait with SLP_BREAK.
func (s *Subsystem_t) CancelWaiters(threads []*sched.Thread_t) {
	s.mu.Lock()
	var toWake []*sched.Thread_t
	for _, t := range threads {
		t.ExcBits = 0
		if s.waiting[t] {
			toWake = append(toWake, t)
		}
	}
	s.mu.Unlock()
	for _, t := range toWake {
		s.sched.Unsleep(t, defs.SLP_BREAK)
	}
}
