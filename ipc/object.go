// Package ipc implements synchronous message-passing: named objects
// (ports) with priority-ordered send/receive queues and rendezvous
// send/receive/reply.
//
// A message body is copied by value through the kernel; there is no
// kernel buffering beyond the in-flight copy, and the transfer is
// synchronous end-to-end. A goroutine-per-thread kernel shares one
// host address space, so the user-page-into-kernel mapping a real
// machine would need collapses here to a slice copy: Send/Receive/
// Reply take and return plain []byte, with no page-table work, much
// as the no-MMU memory build does without it (see vm/nommu.go).
package ipc

import (
	"fmt"
	"sync"

	"github.com/AndrewD/prex/defs"
	"github.com/AndrewD/prex/limits"
	"github.com/AndrewD/prex/sched"
)

// HeaderSize is the minimum message size: every send must carry at
// least the stamped sender header.
const HeaderSize = 16

// Object_t is a named IPC port.
type Object_t struct {
	ipc   *Subsystem_t
	Name  string
	Owner interface{} // opaque task back-pointer; ipc never dereferences it

	mu      sync.Mutex
	sendq   []*sched.Thread_t
	recvq   []*sched.Thread_t
	event   *sched.Event_t
	deleted bool

	pending map[*sched.Thread_t]*pendingMsg
}

// pendingMsg is the in-flight message body for one sender, handed off
// to whichever receiver dequeues it and read back (shrunk to the
// reply) when the sender wakes.
type pendingMsg struct {
	data  []byte
	reply []byte
}

// Subsystem_t owns the port namespace shared by every task.
type Subsystem_t struct {
	sched *sched.Sched_t
	cfg   *limits.Config_t
	ns    *namespace_t

	activeMu sync.Mutex
	active   map[*sched.Thread_t]*Object_t // which object a thread is currently blocked against, for msg_cancel
}

// New builds an IPC subsystem bound to a scheduler.
func New(s *sched.Sched_t, cfg *limits.Config_t) *Subsystem_t {
	return &Subsystem_t{sched: s, cfg: cfg, ns: newNamespace(), active: make(map[*sched.Thread_t]*Object_t)}
}

func (ipc *Subsystem_t) trackActive(t *sched.Thread_t, obj *Object_t) {
	ipc.activeMu.Lock()
	ipc.active[t] = obj
	ipc.activeMu.Unlock()
}

func (ipc *Subsystem_t) untrackActive(t *sched.Thread_t) {
	ipc.activeMu.Lock()
	delete(ipc.active, t)
	ipc.activeMu.Unlock()
}

// CancelThread implements msg_cancel, called from thread teardown
// without the caller needing to know which object (if any) t is
// currently blocked against.
func (ipc *Subsystem_t) CancelThread(t *sched.Thread_t) {
	ipc.activeMu.Lock()
	obj := ipc.active[t]
	ipc.activeMu.Unlock()
	if obj == nil {
		return
	}
	ipc.Cancel(obj, t)
}

// key qualifies a name by its owning task so two tasks may each use
// the same port name in their own namespace.
func key(owner interface{}, name string) string {
	return fmt.Sprintf("%p/%s", owner, name)
}

// CreateObject allocates a fresh port owned by owner and registers it
// under name in owner's namespace (object_create). EEXIST-equivalent
// (EBUSY) if the name is already taken.
func (ipc *Subsystem_t) CreateObject(owner interface{}, name string) (*Object_t, defs.Err_t) {
	obj := &Object_t{
		ipc:     ipc,
		Name:    name,
		Owner:   owner,
		event:   ipc.sched.NewEvent(),
		pending: make(map[*sched.Thread_t]*pendingMsg),
	}
	if !ipc.ns.register(key(owner, name), obj) {
		return nil, defs.EBUSY
	}
	return obj, 0
}

// Lookup resolves name within owner's namespace to an opaque handle
// (object_lookup).
func (ipc *Subsystem_t) Lookup(owner interface{}, name string) (*Object_t, defs.Err_t) {
	obj, ok := ipc.ns.lookup(key(owner, name))
	if !ok {
		return nil, defs.ESRCH
	}
	return obj, 0
}

// Delete removes obj from the namespace and wakes every thread queued
// on it with INVAL.
func (ipc *Subsystem_t) Delete(obj *Object_t) {
	ipc.ns.unregister(key(obj.Owner, obj.Name))

	obj.mu.Lock()
	waiters := append(append([]*sched.Thread_t{}, obj.sendq...), obj.recvq...)
	obj.sendq = nil
	obj.recvq = nil
	obj.deleted = true
	obj.mu.Unlock()

	for _, t := range waiters {
		ipc.sched.Unsleep(t, defs.SLP_INVAL)
	}
}
