package timer

// Poster_i is the narrow view of a task the alarm timer needs: post an
// abstract exception to it on expiry. Defined here rather than
// importing the task package, so timer stays a leaf dependency of
// task instead of the other way around.
type Poster_i interface {
	PostAlarm()
}

// Alarm arms (or, if msec == 0, cancels) a per-task one-shot timer
// that posts the alarm exception on expiry (timer_alarm). It returns
// the number of milliseconds remaining on whatever alarm was
// previously armed for the task.
func (sub *Subsystem_t) Alarm(existing *Timer_t, task Poster_i, msec int) (*Timer_t, int) {
	var remain int
	if existing != nil && existing.active {
		remainTicks := int32(existing.expire - sub.Lbolt())
		if remainTicks > 0 {
			remain = int(remainTicks) * 1000 / sub.cfg.HZ
		}
		existing.Stop()
	}
	if msec == 0 {
		return nil, remain
	}
	t := sub.Callout(nil, msec, func(arg interface{}) {
		arg.(Poster_i).PostAlarm()
	}, task)
	return t, remain
}
