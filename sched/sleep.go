package sched

import "github.com/AndrewD/prex/defs"

// Event_t is a named sleep/wake rendezvous.
type Event_t struct {
	sleepq []*Thread_t
}

// NewEvent allocates an event with an empty sleep queue.
func (s *Sched_t) NewEvent() *Event_t { return &Event_t{} }

// Sleep blocks the calling thread t on event e until woken. Sleep
// takes no timeout and arms no callout: a caller that wants a timed
// sleep arms the callout itself (timer.Delay / timer_callout) and
// records it in t.Timeout, so that sched stays free of a timer
// import. Sleep runs the pending
// wake queue before parking and again immediately after waking, the
// two wakeq_flush points besides sched_unlock's own drain.
func (s *Sched_t) Sleep(t *Thread_t, e *Event_t) defs.SleepResult_t {
	s.qlock.lock()
	t.State = (t.State &^ defs.TS_RUN) | defs.TS_SLEEP
	t.SlpEvent = e
	t.SlpResult = defs.SLP_SUCCESS
	e.sleepq = append(e.sleepq, t)
	s.drainWakeqLocked()
	s.qlock.unlock()

	s.switchFrom(t)

	s.qlock.lock()
	s.drainWakeqLocked()
	s.qlock.unlock()
	return t.SlpResult
}

// removeFromSleepq detaches t from e's sleep queue, if present.
func removeFromSleepq(e *Event_t, t *Thread_t) bool {
	for i, c := range e.sleepq {
		if c == t {
			e.sleepq = append(e.sleepq[:i], e.sleepq[i+1:]...)
			return true
		}
	}
	return false
}

// Wakeup moves every sleeper on e to the wake queue with SLP_SUCCESS
// (sched_wakeup).
func (s *Sched_t) Wakeup(e *Event_t) {
	s.qlock.lock()
	defer s.qlock.unlock()
	for _, t := range e.sleepq {
		s.moveToWakeqLocked(t, defs.SLP_SUCCESS)
	}
	e.sleepq = nil
}

// WakeOne wakes the single highest-priority sleeper on e
// (sched_wakeone).
func (s *Sched_t) WakeOne(e *Event_t) *Thread_t {
	s.qlock.lock()
	defer s.qlock.unlock()
	if len(e.sleepq) == 0 {
		return nil
	}
	best := 0
	for i, t := range e.sleepq {
		if t.Prio < e.sleepq[best].Prio {
			best = i
		}
	}
	t := e.sleepq[best]
	e.sleepq = append(e.sleepq[:best], e.sleepq[best+1:]...)
	s.moveToWakeqLocked(t, defs.SLP_SUCCESS)
	return t
}

// Unsleep wakes a specific sleeping thread with a specific result
// (sched_unsleep): used by exception delivery (INTR), object deletion
// (INVAL), and IPC cancellation (BREAK).
func (s *Sched_t) Unsleep(t *Thread_t, result defs.SleepResult_t) {
	s.qlock.lock()
	defer s.qlock.unlock()
	if t.SlpEvent == nil {
		return
	}
	removeFromSleepq(t.SlpEvent, t)
	s.moveToWakeqLocked(t, result)
}

// moveToWakeqLocked transitions t from SLEEP to the transient WAKING
// state (the wake queue) with the given result. Caller holds qlock.
func (s *Sched_t) moveToWakeqLocked(t *Thread_t, result defs.SleepResult_t) {
	if t.Timeout != nil {
		t.Timeout.Stop()
		t.Timeout = nil
	}
	t.SlpResult = result
	t.SlpEvent = nil
	s.wakeq = append(s.wakeq, t)
}

// drainWakeqLocked moves every thread on the wake queue onto a run
// queue if it is RUN and not SUSP and not the current thread: the
// WAKING -> RUN transition. Caller holds qlock.
func (s *Sched_t) drainWakeqLocked() {
	q := s.wakeq
	s.wakeq = nil
	for _, t := range q {
		t.State = (t.State &^ defs.TS_SLEEP) | defs.TS_RUN
		if t.SuspendCount > 0 || t == s.current {
			continue
		}
		s.enqueueTail(t)
	}
}

// DrainWakeq is the public hook sched_unlock's outermost exit and the
// post-switch interrupt window both call.
func (s *Sched_t) DrainWakeq() {
	s.qlock.lock()
	defer s.qlock.unlock()
	s.drainWakeqLocked()
}
