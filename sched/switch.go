package sched

import "github.com/AndrewD/prex/defs"

// switchFrom gives up the CPU on behalf of t, which has already been
// marked non-runnable (asleep, suspended, or exiting) by the caller.
// It and Unlock's outermost exit are the only places a context switch
// occurs.
func (s *Sched_t) switchFrom(t *Thread_t) {
	s.qlock.lock()
	next := s.dequeueHighest()
	s.current = next
	s.qlock.unlock()

	if next != t {
		next.parkCh <- struct{}{}
		<-t.parkCh
	}

	// "After each switch, interrupts are briefly re-enabled and the
	// wake queue drained again" -- covers an ISR that woke
	// a higher-priority thread during the handoff above.
	s.DrainWakeq()
}

// Reschedule is the preemption check run by Unlock's outermost exit
// (the tick handler only sets the resched flag that this check acts
// on): if a higher-priority thread than the
// current one is runnable, or the current thread set its own resched
// flag (quantum expiry, suspend, stop), give up the CPU. Only a
// thread displaced by a strictly higher-priority wakeup returns to
// the head of its queue, keeping its turn within its priority class;
// a quantum expiry goes to the tail so round-robin rotates among
// equal-priority peers.
func (s *Sched_t) Reschedule(t *Thread_t) {
	s.qlock.lock()
	preempted := s.maxpri < t.Prio
	need := t.Resched || (preempted && t.Runnable())
	t.Resched = false
	if need && t.Runnable() {
		if preempted {
			s.enqueueHead(t)
		} else {
			s.enqueueTail(t)
		}
	}
	s.qlock.unlock()

	if !need {
		return
	}
	s.switchFrom(t)
}

// Lock enters a reentrant scheduler critical section on behalf of t
// (sched_lock). Because exactly one thread is ever "current" at a
// time, nesting is tracked purely on t with no additional mutual
// exclusion needed.
func (s *Sched_t) Lock(t *Thread_t) {
	t.LockNest++
}

// Unlock leaves a scheduler critical section (sched_unlock). At the
// outermost exit it drains the wake queue and, if warranted,
// reschedules -- the only two places (besides voluntary sleep) a
// switch happens.
func (s *Sched_t) Unlock(t *Thread_t) {
	t.LockNest--
	if t.LockNest < 0 {
		panic("sched: unbalanced unlock")
	}
	if t.LockNest > 0 {
		return
	}
	s.DrainWakeq()
	s.Reschedule(t)
}

// Yield voluntarily releases the CPU.
func (s *Sched_t) Yield(t *Thread_t) {
	s.qlock.lock()
	if t.Runnable() {
		s.enqueueTail(t)
	}
	s.qlock.unlock()
	s.switchFrom(t)
}

// Tick is called from the simulated clock ISR at HZ (sched_tick):
// charges the current thread a tick and, for SCHED_RR, decrements its
// time slice, refilling and requesting a reschedule at zero.
func (s *Sched_t) Tick() {
	s.qlock.lock()
	t := s.current
	t.Ticks++
	resched := false
	if t.Policy == defs.SCHED_RR {
		t.TimeLeft--
		if t.TimeLeft <= 0 {
			t.TimeLeft = t.Quantum
			resched = true
		}
	}
	if resched {
		t.Resched = true
	}
	s.qlock.unlock()
}
