// Package timer implements the sorted callout list, the lbolt tick,
// periodic timers, and the sleep/alarm primitives built on them.
package timer

import (
	"sort"
	"sync"
	"sync/atomic"

	"github.com/AndrewD/prex/defs"
	"github.com/AndrewD/prex/limits"
	"github.com/AndrewD/prex/sched"
	"github.com/AndrewD/prex/util"
)

// Timer_t is a single armed callout.
type Timer_t struct {
	expire   uint32
	interval uint32 // 0 for one-shot
	active   bool
	fn       func(arg interface{})
	arg      interface{}
	event    *sched.Event_t // signalled on each firing, for periodics

	sub *Subsystem_t
}

// Stop removes t from the active list; legal at any interrupt level.
// Implements sched.TimerRef_i so a Thread_t can hold one as its
// Timeout or Periodic field without the sched package importing
// timer.
func (t *Timer_t) Stop() {
	t.sub.stop(t)
}

// Subsystem_t owns the tick counter and the active timer list.
type Subsystem_t struct {
	sched *sched.Sched_t
	cfg   *limits.Config_t

	mu     sync.Mutex
	active []*Timer_t // sorted by expire
	expired []*Timer_t // one-shots detached by Tick, awaiting the timer thread

	lbolt uint32

	delayEvent  *sched.Event_t
	timerThread *sched.Thread_t
	dispatchEvt *sched.Event_t
}

// New builds a timer subsystem bound to a scheduler.
func New(s *sched.Sched_t, cfg *limits.Config_t) *Subsystem_t {
	sub := &Subsystem_t{sched: s, cfg: cfg}
	sub.delayEvent = s.NewEvent()
	sub.dispatchEvt = s.NewEvent()
	sub.timerThread = s.NewThread(1, defs.SCHED_FIFO)
	return sub
}

// TimerThread returns the dedicated timer-dispatch thread.
func (sub *Subsystem_t) TimerThread() *sched.Thread_t { return sub.timerThread }

// Lbolt returns the current tick count.
func (sub *Subsystem_t) Lbolt() uint32 { return atomic.LoadUint32(&sub.lbolt) }

func (sub *Subsystem_t) insert(t *Timer_t) {
	sub.active = append(sub.active, t)
	sort.Slice(sub.active, func(i, j int) bool {
		return util.TimeBefore(sub.active[i].expire, sub.active[j].expire)
	})
	t.active = true
}

func (sub *Subsystem_t) removeLocked(t *Timer_t) {
	for i, c := range sub.active {
		if c == t {
			sub.active = append(sub.active[:i], sub.active[i+1:]...)
			break
		}
	}
	t.active = false
}

// Callout arms (or re-arms) a one-shot timer (timer_callout).
func (sub *Subsystem_t) Callout(t *Timer_t, msec int, fn func(interface{}), arg interface{}) *Timer_t {
	if t == nil {
		t = &Timer_t{sub: sub}
	}
	sub.mu.Lock()
	defer sub.mu.Unlock()
	if t.active {
		sub.removeLocked(t)
	}
	t.fn, t.arg, t.interval = fn, arg, 0
	t.expire = sub.lbolt + ticksFor(sub.cfg, msec)
	sub.insert(t)
	return t
}

func ticksFor(cfg *limits.Config_t, msec int) uint32 {
	ticks := (msec*cfg.HZ + 999) / 1000
	if ticks <= 0 {
		ticks = 1
	}
	return uint32(ticks)
}

// stop removes t from the active list; legal at any interrupt level.
func (sub *Subsystem_t) stop(t *Timer_t) {
	sub.mu.Lock()
	defer sub.mu.Unlock()
	if t.active {
		sub.removeLocked(t)
	}
}

// Periodic allocates (or cancels, when start == 0) a periodic timer
// attached to a thread (timer_periodic): it replaces any existing
// periodic timer on that thread rather than stacking a second one.
func (sub *Subsystem_t) Periodic(th *sched.Thread_t, start, period int) {
	if th.Periodic != nil {
		th.Periodic.Stop()
		th.Periodic = nil
	}
	if start == 0 {
		return
	}
	t := &Timer_t{sub: sub, event: sub.sched.NewEvent()}
	sub.mu.Lock()
	t.interval = ticksFor(sub.cfg, period)
	t.expire = sub.lbolt + ticksFor(sub.cfg, start)
	sub.insert(t)
	sub.mu.Unlock()
	th.Periodic = t
}

// WaitPeriod sleeps th on its own periodic timer's event until the
// next tick (timer_waitperiod).
func (sub *Subsystem_t) WaitPeriod(th *sched.Thread_t) defs.SleepResult_t {
	pt, ok := th.Periodic.(*Timer_t)
	if !ok || pt == nil {
		return defs.SLP_INVAL
	}
	return sub.sched.Sleep(th, pt.event)
}

// Delay sleeps the current thread on the shared delay event for up
// to msec milliseconds (timer_delay), returning the result and the
// number of milliseconds remaining when it woke early.
func (sub *Subsystem_t) Delay(th *sched.Thread_t, msec int) (defs.SleepResult_t, int) {
	start := sub.Lbolt()
	to := sub.Callout(nil, msec, func(arg interface{}) {
		sub.sched.Unsleep(arg.(*sched.Thread_t), defs.SLP_TIMEOUT)
	}, th)
	th.Timeout = to

	res := sub.sched.Sleep(th, sub.delayEvent)

	th.Timeout = nil
	to.Stop()

	elapsedMs := int(sub.Lbolt()-start) * 1000 / sub.cfg.HZ
	remain := msec - elapsedMs
	if remain < 0 {
		remain = 0
	}
	return res, remain
}
