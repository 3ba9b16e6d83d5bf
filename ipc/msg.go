package ipc

import (
	"github.com/AndrewD/prex/defs"
	"github.com/AndrewD/prex/sched"
)

// dequeueHighest removes and returns the thread with the numerically
// smallest (highest) priority from q (msg_dequeue): the queue
// discipline is priority order, not FIFO.
func dequeueHighest(q *[]*sched.Thread_t) *sched.Thread_t {
	if len(*q) == 0 {
		return nil
	}
	best := 0
	for i, t := range *q {
		if t.Prio < (*q)[best].Prio {
			best = i
		}
	}
	t := (*q)[best]
	*q = append((*q)[:best], (*q)[best+1:]...)
	return t
}

func removeFromQueue(q *[]*sched.Thread_t, t *sched.Thread_t) bool {
	for i, c := range *q {
		if c == t {
			*q = append((*q)[:i], (*q)[i+1:]...)
			return true
		}
	}
	return false
}

// Send implements msg_send: blocks until a receiver replies. msg
// must be at least HeaderSize bytes; the sender's task id header
// stamping is the caller's responsibility (it owns the task type ipc
// doesn't import).
func (ipc *Subsystem_t) Send(obj *Object_t, t *sched.Thread_t, msg []byte) ([]byte, defs.Err_t) {
	if len(msg) < HeaderSize {
		return nil, defs.EINVAL
	}

	obj.mu.Lock()
	if obj.deleted {
		obj.mu.Unlock()
		return nil, defs.EINVAL
	}
	for _, r := range obj.recvq {
		if r == t {
			obj.mu.Unlock()
			return nil, defs.EDEADLK
		}
	}

	pm := &pendingMsg{data: msg}
	obj.pending[t] = pm

	if recv := dequeueHighest(&obj.recvq); recv != nil {
		recv.Sender = &t.ID
		t.Receiver = &recv.ID
		obj.mu.Unlock()
		ipc.sched.Unsleep(recv, defs.SLP_SUCCESS)
	} else {
		obj.sendq = append(obj.sendq, t)
		obj.mu.Unlock()
	}

	ipc.trackActive(t, obj)
	res := ipc.sched.Sleep(t, obj.event)
	ipc.untrackActive(t)

	obj.mu.Lock()
	delete(obj.pending, t)
	reply := pm.reply
	obj.mu.Unlock()

	switch res {
	case defs.SLP_SUCCESS:
		return reply, 0
	case defs.SLP_BREAK:
		return nil, defs.EAGAIN
	case defs.SLP_INVAL:
		return nil, defs.EINVAL
	case defs.SLP_INTR:
		return nil, defs.EINTR
	default:
		return nil, defs.EINVAL
	}
}

// Receive implements msg_receive: waits for a sender, then returns
// up to maxsize bytes of its message. The sender remains asleep until
// the matching Reply. Only the owning task may receive on a port, and
// a thread already mid-rendezvous (queued to receive, or holding an
// unreplied sender) may not start a second receive.
func (ipc *Subsystem_t) Receive(obj *Object_t, t *sched.Thread_t, maxsize int) (*sched.Thread_t, []byte, defs.Err_t) {
	obj.mu.Lock()
	if obj.deleted {
		obj.mu.Unlock()
		return nil, nil, defs.EINVAL
	}
	if obj.Owner != t.Task {
		obj.mu.Unlock()
		return nil, nil, defs.EACCES
	}
	if t.Sender != nil {
		obj.mu.Unlock()
		return nil, nil, defs.EBUSY
	}
	for _, r := range obj.recvq {
		if r == t {
			obj.mu.Unlock()
			return nil, nil, defs.EBUSY
		}
	}

	if sender := dequeueHighest(&obj.sendq); sender != nil {
		pm := obj.pending[sender]
		n := maxsize
		if len(pm.data) < n {
			n = len(pm.data)
		}
		out := append([]byte(nil), pm.data[:n]...)
		sender.Receiver = &t.ID
		t.Sender = &sender.ID
		obj.mu.Unlock()
		return sender, out, 0
	}

	obj.recvq = append(obj.recvq, t)
	obj.mu.Unlock()

	ipc.trackActive(t, obj)
	res := ipc.sched.Sleep(t, obj.event)
	ipc.untrackActive(t)
	switch res {
	case defs.SLP_INVAL:
		return nil, nil, defs.EINVAL
	case defs.SLP_INTR:
		return nil, nil, defs.EINTR
	case defs.SLP_BREAK:
		return nil, nil, defs.EAGAIN
	}

	// Woken by a Send that attached itself as our sender (see Send's
	// dequeueHighest(recvq) branch above).
	obj.mu.Lock()
	defer obj.mu.Unlock()
	if t.Sender == nil {
		return nil, nil, defs.EINVAL
	}
	sid := *t.Sender
	sender, ok := ipc.sched.Lookup(sid)
	if !ok {
		return nil, nil, defs.EINVAL
	}
	pm := obj.pending[sender]
	if pm == nil {
		return nil, nil, defs.EINVAL
	}
	n := maxsize
	if len(pm.data) < n {
		n = len(pm.data)
	}
	return sender, append([]byte(nil), pm.data[:n]...), 0
}

// Reply implements msg_reply: copies msg into the waiting sender's
// pending message slot and wakes it with SUCCESS, clearing the
// sender/receiver links on both sides.
func (ipc *Subsystem_t) Reply(obj *Object_t, t *sched.Thread_t, msg []byte) defs.Err_t {
	if t.Sender == nil {
		return defs.EINVAL
	}
	sid := *t.Sender
	sender, ok := ipc.sched.Lookup(sid)
	if !ok {
		return defs.EINVAL
	}

	obj.mu.Lock()
	pm := obj.pending[sender]
	if pm == nil {
		obj.mu.Unlock()
		return defs.EINVAL
	}
	n := len(msg)
	if len(pm.data) < n {
		n = len(pm.data)
	}
	pm.reply = append([]byte(nil), msg[:n]...)
	obj.mu.Unlock()

	sender.Receiver = nil
	t.Sender = nil
	ipc.sched.Unsleep(sender, defs.SLP_SUCCESS)
	return 0
}

// Cancel is the thread-termination cleanup: detach t from whatever
// IPC state it holds across every object it might be queued or
// attached on.
func (ipc *Subsystem_t) Cancel(obj *Object_t, t *sched.Thread_t) {
	obj.mu.Lock()
	defer obj.mu.Unlock()

	if t.Receiver != nil {
		if recv, ok := ipc.sched.Lookup(*t.Receiver); ok {
			recv.Sender = nil
		}
		t.Receiver = nil
	}
	removeFromQueue(&obj.sendq, t)
	delete(obj.pending, t)

	if t.Sender != nil {
		if sender, ok := ipc.sched.Lookup(*t.Sender); ok {
			sender.Receiver = nil
			ipc.sched.Unsleep(sender, defs.SLP_BREAK)
		}
		t.Sender = nil
	}
	removeFromQueue(&obj.recvq, t)
}
