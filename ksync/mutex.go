// Package ksync implements the synchronization primitives layered on
// the scheduler: priority-inheritance mutexes, condition variables,
// and counting semaphores.
package ksync

import (
	"sync"

	"github.com/AndrewD/prex/defs"
	"github.com/AndrewD/prex/limits"
	"github.com/AndrewD/prex/sched"
)

// Mutex_t is a recursive mutex with priority inheritance.
type Mutex_t struct {
	sched *sched.Sched_t
	cfg   *limits.Config_t

	mu      sync.Mutex
	holder  *sched.Thread_t
	count   int
	ceiling int
	waiters []*sched.Thread_t
	event   *sched.Event_t
}

// New allocates an unheld mutex; ceiling starts at MINPRI (the
// lowest/weakest priority) since no thread is waiting.
func New(s *sched.Sched_t, cfg *limits.Config_t) *Mutex_t {
	return &Mutex_t{sched: s, cfg: cfg, ceiling: cfg.NPri - 1, event: s.NewEvent()}
}

// Ceiling implements sched.MutexRef_i for the unlock-path priority
// recomputation in Unlock.
func (m *Mutex_t) Ceiling() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.ceiling
}

// Lock acquires m for thread t, recursive for the same thread. When
// blocking is necessary and the holder has strictly lower priority
// than t, the holder's (and transitively, whatever it's blocked on)
// priority is raised to t's -- priority inheritance.
func (m *Mutex_t) Lock(t *sched.Thread_t) defs.Err_t {
	m.mu.Lock()
	if m.holder == nil {
		m.holder = t
		m.count = 1
		t.HeldMutexes = append(t.HeldMutexes, m)
		m.mu.Unlock()
		return 0
	}
	if m.holder == t {
		m.count++
		m.mu.Unlock()
		return 0
	}
	if err := m.inheritLocked(t); err != 0 {
		m.mu.Unlock()
		return err
	}
	t.WaitMutex = m
	m.waiters = append(m.waiters, t)
	m.mu.Unlock()

	res := m.sched.Sleep(t, m.event)
	t.WaitMutex = nil
	return sleepErr(res)
}

// Trylock attempts to acquire m without blocking.
func (m *Mutex_t) Trylock(t *sched.Thread_t) defs.Err_t {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.holder == nil {
		m.holder = t
		m.count = 1
		t.HeldMutexes = append(t.HeldMutexes, m)
		return 0
	}
	if m.holder == t {
		m.count++
		return 0
	}
	return defs.EBUSY
}

// inheritLocked walks the chain of mutex holders starting at m,
// raising each one's priority to t's where it is strictly lower, up
// to MaxInherit hops. The cap is a fail-safe that bounds lock time:
// hitting it is treated as success, not failure. Only a chain that
// loops back to t itself is EDEADLK. Caller holds m.mu.
func (m *Mutex_t) inheritLocked(t *sched.Thread_t) defs.Err_t {
	cur := m
	for hops := 0; hops < m.cfg.MaxInherit; hops++ {
		h := cur.holder
		if h == nil {
			return 0
		}
		if h == t {
			return defs.EDEADLK
		}
		if h.Prio > t.Prio {
			m.sched.Setpri(h, h.BasePrio, t.Prio)
			cur.ceiling = t.Prio
		}
		next, ok := h.WaitMutex.(*Mutex_t)
		if !ok || next == nil {
			return 0
		}
		cur = next
	}
	return 0
}

// Unlock releases one level of recursion; at zero, the unlocker's
// priority is recomputed from its base priority and the ceilings of
// whatever mutexes it still holds, then the highest-priority waiter
// (if any) becomes the new holder.
func (m *Mutex_t) Unlock(t *sched.Thread_t) defs.Err_t {
	m.mu.Lock()
	if m.holder != t {
		m.mu.Unlock()
		return defs.EPERM
	}
	m.count--
	if m.count > 0 {
		m.mu.Unlock()
		return 0
	}

	removeHeld(t, m)
	newPrio := t.BasePrio
	for _, hm := range t.HeldMutexes {
		if c := hm.Ceiling(); c < newPrio {
			newPrio = c
		}
	}
	m.sched.Setpri(t, t.BasePrio, newPrio)

	if len(m.waiters) == 0 {
		m.holder = nil
		m.ceiling = m.cfg.NPri - 1
		m.mu.Unlock()
		return 0
	}

	best := 0
	for i, w := range m.waiters {
		if w.Prio < m.waiters[best].Prio {
			best = i
		}
	}
	nh := m.waiters[best]
	m.waiters = append(m.waiters[:best], m.waiters[best+1:]...)
	m.holder = nh
	m.count = 1
	m.ceiling = nh.Prio
	nh.HeldMutexes = append(nh.HeldMutexes, m)
	m.mu.Unlock()

	m.sched.Unsleep(nh, defs.SLP_SUCCESS)
	return 0
}

// ForceRelease hands m over to its highest-priority waiter (or clears
// it) without any priority-chain adjustment, for task teardown:
// ownership-only handoff.
func (m *Mutex_t) ForceRelease(t *sched.Thread_t) {
	m.mu.Lock()
	if m.holder != t {
		m.mu.Unlock()
		return
	}
	removeHeld(t, m)
	var nh *sched.Thread_t
	if len(m.waiters) > 0 {
		best := 0
		for i, w := range m.waiters {
			if w.Prio < m.waiters[best].Prio {
				best = i
			}
		}
		nh = m.waiters[best]
		m.waiters = append(m.waiters[:best], m.waiters[best+1:]...)
		m.holder = nh
		m.count = 1
		nh.HeldMutexes = append(nh.HeldMutexes, m)
	} else {
		m.holder = nil
		m.count = 0
	}
	m.mu.Unlock()
	if nh != nil {
		m.sched.Unsleep(nh, defs.SLP_SUCCESS)
	}
}

func removeHeld(t *sched.Thread_t, m *Mutex_t) {
	for i, hm := range t.HeldMutexes {
		if hm == sched.MutexRef_i(m) {
			t.HeldMutexes = append(t.HeldMutexes[:i], t.HeldMutexes[i+1:]...)
			return
		}
	}
}

func sleepErr(res defs.SleepResult_t) defs.Err_t {
	switch res {
	case defs.SLP_SUCCESS:
		return 0
	case defs.SLP_INVAL:
		return defs.EINVAL
	case defs.SLP_INTR:
		return defs.EINTR
	case defs.SLP_BREAK:
		return defs.EAGAIN
	default:
		return defs.EINVAL
	}
}
