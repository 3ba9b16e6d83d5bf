package timer

import "sync/atomic"

// Tick is the clock ISR: increments lbolt and walks the head of the
// sorted active list while expire <= lbolt. A periodic
// timer is re-armed in place and its event signalled immediately; a
// one-shot timer is detached to the expired list for the timer thread
// to dispatch at normal priority with interrupts enabled.
func (sub *Subsystem_t) Tick() {
	atomic.AddUint32(&sub.lbolt, 1)
	now := sub.Lbolt()

	sub.mu.Lock()
	var toSignal []*Timer_t
	for len(sub.active) > 0 && !after(sub.active[0].expire, now) {
		t := sub.active[0]
		sub.active = sub.active[1:]
		t.active = false
		if t.interval != 0 {
			t.expire = now + t.interval
			sub.insert(t)
			if t.event != nil {
				toSignal = append(toSignal, t)
			}
		} else {
			sub.expired = append(sub.expired, t)
		}
	}
	sub.mu.Unlock()

	for _, t := range toSignal {
		sub.sched.Wakeup(t.event)
	}
	if len(sub.expired) > 0 {
		sub.sched.Wakeup(sub.dispatchEvt)
	}
}

func after(expire, now uint32) bool {
	return int32(expire-now) > 0
}

// RunTimerThread drains one-shot expirations and invokes their
// callbacks at normal scheduler priority with interrupts enabled,
// parking on the dispatch event between bursts. Start this as the
// body of the dedicated timer-thread goroutine.
func (sub *Subsystem_t) RunTimerThread() {
	for {
		sub.mu.Lock()
		var batch []*Timer_t
		batch, sub.expired = sub.expired, nil
		sub.mu.Unlock()

		if len(batch) == 0 {
			sub.sched.Sleep(sub.timerThread, sub.dispatchEvt)
			continue
		}
		for _, t := range batch {
			t.fn(t.arg)
		}
	}
}
