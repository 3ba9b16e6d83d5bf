package ksync

import (
	"sync/atomic"

	"golang.org/x/sync/semaphore"

	"github.com/AndrewD/prex/defs"
	"github.com/AndrewD/prex/sched"
)

// semCapacity bounds how high a counting semaphore's value can ever
// climb; large enough that no real kernel object comes close.
const semCapacity = 1 << 30

// Sem_t is a counting semaphore. The actual count is tracked by a
// semaphore.Weighted, which gives atomic decrement/increment for
// free; Wait/Post drive it through a
// TryAcquire-retry loop against the kernel's own sleep queue rather
// than the library's blocking Acquire, so that EINTR and object
// deletion (sched.Unsleep with SLP_INTR/SLP_INVAL) interrupt a waiter
// exactly like every other kernel blocking point.
type Sem_t struct {
	sched *sched.Sched_t
	event *sched.Event_t
	w     *semaphore.Weighted
	value int64
}

// NewSem builds a semaphore with the given initial value.
func NewSem(s *sched.Sched_t, initial int) *Sem_t {
	w := semaphore.NewWeighted(semCapacity)
	if held := int64(semCapacity - initial); held > 0 {
		w.TryAcquire(held) // pre-acquire the unavailable units; always succeeds, capacity is full
	}
	return &Sem_t{sched: s, event: s.NewEvent(), w: w, value: int64(initial)}
}

// Wait decrements the semaphore, blocking t while the value is zero
// (sem_wait).
func (sem *Sem_t) Wait(t *sched.Thread_t) defs.Err_t {
	for {
		if sem.w.TryAcquire(1) {
			atomic.AddInt64(&sem.value, -1)
			return 0
		}
		res := sem.sched.Sleep(t, sem.event)
		if res != defs.SLP_SUCCESS && res != defs.SLP_TIMEOUT {
			return sleepErr(res)
		}
	}
}

// Trywait decrements the semaphore without blocking.
func (sem *Sem_t) Trywait() defs.Err_t {
	if sem.w.TryAcquire(1) {
		atomic.AddInt64(&sem.value, -1)
		return 0
	}
	return defs.EAGAIN
}

// Post increments the semaphore and wakes every waiter to retry
// (sem_post); waking all rather than exactly one trades precise FIFO
// wake order for a simple, always-correct retry loop.
func (sem *Sem_t) Post() {
	atomic.AddInt64(&sem.value, 1)
	sem.w.Release(1)
	sem.sched.Wakeup(sem.event)
}

// Value reports the current count (sem_getvalue).
func (sem *Sem_t) Value() int {
	return int(atomic.LoadInt64(&sem.value))
}
