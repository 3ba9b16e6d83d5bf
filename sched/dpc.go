package sched

import "runtime"

// Dpc_t is a single deferred procedure call slot: a
// function/argument pair run on the dedicated DPC thread.
type Dpc_t struct {
	fn      func(interface{})
	arg     interface{}
	pending bool
}

type dpcState_t struct {
	thread *Thread_t
	event  *Event_t
	queue  []*Dpc_t
}

// ScheduleDPC assigns fn/arg to d and wakes the DPC thread,
// coalescing repeated calls while d is still pending. Callable from
// any context, including an ISR-simulating goroutine.
func (s *Sched_t) ScheduleDPC(d *Dpc_t, fn func(interface{}), arg interface{}) {
	s.qlock.lock()
	d.fn, d.arg = fn, arg
	if !d.pending {
		d.pending = true
		s.dpc.queue = append(s.dpc.queue, d)
	}
	s.qlock.unlock()
	s.Wakeup(s.dpc.event)
}

// RunDPCThread drains the DPC queue forever, running each callback
// with interrupts enabled and the scheduler unlocked, parking on the
// DPC event between bursts. It should be started once, as the body of
// the dedicated PRI_DPC goroutine.
func (s *Sched_t) RunDPCThread() {
	t := s.dpc.thread
	for {
		s.qlock.lock()
		var next *Dpc_t
		if len(s.dpc.queue) > 0 {
			next = s.dpc.queue[0]
			s.dpc.queue = s.dpc.queue[1:]
		}
		s.qlock.unlock()

		if next == nil {
			s.Sleep(t, s.dpc.event)
			continue
		}

		s.qlock.lock()
		fn, arg := next.fn, next.arg
		next.pending = false
		s.qlock.unlock()

		fn(arg)
	}
}

// DPCThread returns the dedicated DPC thread, for callers that need to
// resume/start its goroutine.
func (s *Sched_t) DPCThread() *Thread_t { return s.dpc.thread }

// RunIdleThread is the PRI_IDLE thread body: it becomes current once
// at boot and, whenever nothing else is runnable, keeps giving the CPU
// back to the Go runtime between dispatch attempts rather than truly
// spinning -- the closest a portable simulation gets to "sti; hlt".
func (s *Sched_t) RunIdleThread() {
	t := s.idle
	<-t.parkCh
	for {
		s.switchFrom(t)
		runtime.Gosched()
	}
}
