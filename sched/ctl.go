package sched

import "github.com/AndrewD/prex/defs"

// Suspend raises t's suspend count; when it becomes positive, t is
// pulled off its run queue (or, if t is the current thread, its
// reschedule flag is set).
func (s *Sched_t) Suspend(t *Thread_t) {
	s.qlock.lock()
	t.SuspendCount++
	first := t.SuspendCount == 1
	if first {
		t.State |= defs.TS_SUSP
		if t == s.current {
			t.Resched = true
		} else {
			s.removeFromRunq(t)
		}
	}
	s.qlock.unlock()
}

// Resume lowers t's suspend count; at zero, a runnable thread rejoins
// its run queue.
func (s *Sched_t) Resume(t *Thread_t) {
	s.qlock.lock()
	defer s.qlock.unlock()
	if t.SuspendCount == 0 {
		return
	}
	t.SuspendCount--
	if t.SuspendCount > 0 {
		return
	}
	t.State &^= defs.TS_SUSP
	if t.Runnable() && t != s.current {
		s.enqueueTail(t)
	}
}

// Setpri implements sched_setpri: updates both priorities and, if t
// is queued, re-enqueues it at the new priority. Raising a non-current
// thread above the running thread's priority requests a reschedule.
func (s *Sched_t) Setpri(t *Thread_t, base, cur int) {
	s.qlock.lock()
	wasQueued := t.runqIx >= 0
	if wasQueued {
		s.removeFromRunq(t)
	}
	t.BasePrio = base
	t.Prio = cur
	if wasQueued {
		s.enqueueTail(t)
	}
	if t != s.current && cur < s.current.Prio {
		s.current.Resched = true
	}
	s.qlock.unlock()
}

// Stop implements sched_stop: marks t EXIT and removes it from
// wherever it is queued. If t is the current thread, its lock nest is
// forced to 1 and reschedule set so a switch is guaranteed at the
// next Unlock; the caller must not free t's stack until after that
// switch (see the zombie handoff in the thread package).
func (s *Sched_t) Stop(t *Thread_t) {
	s.qlock.lock()
	t.State = defs.TS_EXIT
	s.removeFromRunq(t)
	if t.SlpEvent != nil {
		removeFromSleepq(t.SlpEvent, t)
		t.SlpEvent = nil
	}
	if t.Timeout != nil {
		t.Timeout.Stop()
		t.Timeout = nil
	}
	if t.Periodic != nil {
		t.Periodic.Stop()
		t.Periodic = nil
	}
	isCurrent := t == s.current
	s.qlock.unlock()

	if isCurrent {
		t.LockNest = 1
		t.Resched = true
	}
}

// Forget drops a fully torn down thread from the thread table.
func (s *Sched_t) Forget(t *Thread_t) { s.forget(t) }

// SetPolicy changes t's scheduling policy (thread_schedparam);
// switching into SCHED_RR refills the round-robin quantum so the new
// policy starts with a full slice.
func (s *Sched_t) SetPolicy(t *Thread_t, policy defs.Policy_t) {
	s.qlock.lock()
	t.Policy = policy
	if policy == defs.SCHED_RR {
		t.TimeLeft = t.Quantum
	}
	s.qlock.unlock()
}
