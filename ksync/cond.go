package ksync

import "github.com/AndrewD/prex/sched"

// Cond_t is a condition variable associated with a mutex, modeled on
// the classic wait/signal/broadcast triad.
type Cond_t struct {
	sched *sched.Sched_t
	event *sched.Event_t
	mutex *Mutex_t
}

// NewCond builds a condition variable guarded by mu.
func NewCond(s *sched.Sched_t, mu *Mutex_t) *Cond_t {
	return &Cond_t{sched: s, event: s.NewEvent(), mutex: mu}
}

// Wait atomically unlocks the associated mutex and sleeps t on the
// condition, relocking before returning -- the caller must already
// hold the mutex (cond_wait).
func (c *Cond_t) Wait(t *sched.Thread_t) {
	c.mutex.Unlock(t)
	c.sched.Sleep(t, c.event)
	c.mutex.Lock(t)
}

// Signal wakes the single highest-priority waiter (cond_signal).
func (c *Cond_t) Signal() {
	c.sched.WakeOne(c.event)
}

// Broadcast wakes every waiter (cond_broadcast).
func (c *Cond_t) Broadcast() {
	c.sched.Wakeup(c.event)
}
