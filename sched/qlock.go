package sched

import "sync"

// qlock_t stands in for the splhigh/splx interrupt mask a real
// single-processor kernel would use to protect run queues, sleep
// queues, the wake queue, and the DPC queue: a single mutex with
// short, non-blocking
// critical sections, safe to take from an ISR-simulating goroutine
// (timer tick, exception_post) concurrently with the current thread's
// own goroutine.
type qlock_t struct {
	mu sync.Mutex
}

func (q *qlock_t) lock()   { q.mu.Lock() }
func (q *qlock_t) unlock() { q.mu.Unlock() }
