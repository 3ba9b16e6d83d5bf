package sched

import "github.com/AndrewD/prex/defs"

// enqueueTail appends t to its priority's run queue (normal wake and
// quantum expiry). Caller holds qlock.
func (s *Sched_t) enqueueTail(t *Thread_t) {
	t.runqIx = len(s.runq[t.Prio])
	s.runq[t.Prio] = append(s.runq[t.Prio], t)
	if t.Prio < s.maxpri {
		s.maxpri = t.Prio
	}
}

// enqueueHead inserts t at the head of its priority's run queue,
// preserving its position within its priority class when a preempted
// thread is returned.
func (s *Sched_t) enqueueHead(t *Thread_t) {
	q := append([]*Thread_t{t}, s.runq[t.Prio]...)
	s.runq[t.Prio] = q
	for i, th := range q {
		th.runqIx = i
	}
	if t.Prio < s.maxpri {
		s.maxpri = t.Prio
	}
}

// dequeueHighest removes and returns the head of runq[maxpri], the
// highest-priority runnable thread, recomputing maxpri. Caller holds
// qlock.
func (s *Sched_t) dequeueHighest() *Thread_t {
	for {
		q := s.runq[s.maxpri]
		if len(q) > 0 {
			t := q[0]
			s.runq[s.maxpri] = q[1:]
			for i, th := range s.runq[s.maxpri] {
				th.runqIx = i
			}
			t.runqIx = -1
			s.recomputeMaxpri()
			return t
		}
		if s.maxpri == s.idle.Prio {
			return s.idle
		}
		s.maxpri++
	}
}

// recomputeMaxpri restores the invariant maxpri == min{p : runq[p]
// nonempty}, or PRI_IDLE when every queue but the idle thread's is
// empty.
func (s *Sched_t) recomputeMaxpri() {
	for p := 0; p < len(s.runq); p++ {
		if len(s.runq[p]) > 0 {
			s.maxpri = p
			return
		}
	}
	s.maxpri = s.idle.Prio
}

// removeFromRunq removes t from whatever run queue it's on, if any.
func (s *Sched_t) removeFromRunq(t *Thread_t) {
	if t.runqIx < 0 {
		return
	}
	q := s.runq[t.Prio]
	if t.runqIx < len(q) && q[t.runqIx] == t {
		q = append(q[:t.runqIx], q[t.runqIx+1:]...)
		s.runq[t.Prio] = q
		for i := t.runqIx; i < len(q); i++ {
			q[i].runqIx = i
		}
	}
	t.runqIx = -1
	s.recomputeMaxpri()
}

// Enqueue makes t runnable: sets TS_RUN and, if it isn't suspended,
// places it on its priority's run queue.
func (s *Sched_t) Enqueue(t *Thread_t, head bool) {
	s.qlock.lock()
	defer s.qlock.unlock()
	t.State |= defs.TS_RUN
	t.State &^= defs.TS_SLEEP
	if t.SuspendCount > 0 || t == s.current {
		return
	}
	if head {
		s.enqueueHead(t)
	} else {
		s.enqueueTail(t)
	}
}
