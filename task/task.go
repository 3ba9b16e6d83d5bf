// Package task implements protection domains: creation in the three
// VM-derivation modes, capability enforcement, suspension, the alarm
// timer, and the cascading teardown that detaches a dying task from
// every subsystem it touched.
package task

import (
	"sync"
	"sync/atomic"

	"github.com/AndrewD/prex/defs"
	"github.com/AndrewD/prex/exception"
	"github.com/AndrewD/prex/ipc"
	"github.com/AndrewD/prex/ksync"
	"github.com/AndrewD/prex/limits"
	"github.com/AndrewD/prex/page"
	"github.com/AndrewD/prex/sched"
	"github.com/AndrewD/prex/thread"
	"github.com/AndrewD/prex/timer"
	"github.com/AndrewD/prex/ustr"
	"github.com/AndrewD/prex/vm"
)

// TaskId is the opaque handle user space holds for a task.
type TaskId uint64

// Task_t is one protection domain: an address space, a thread list,
// a capability set, and the kernel objects the task owns.
type Task_t struct {
	ID     TaskId
	sub    *Subsystem_t
	parent *Task_t

	mu      sync.Mutex
	name    ustr.Ustr_t
	vmMap   *vm.Map_t
	threads []*sched.Thread_t // element 0 is the master thread
	caps    defs.Cap_t
	flags   defs.TaskFlag_t
	handler uintptr // 0 means no handler installed
	suspCnt int
	alarm   *timer.Timer_t

	// Per-task synchronization object registries, torn down with the
	// task.
	Mutexes *ksync.Table_t
	Conds   *ksync.CondTable_t
	Sems    *ksync.SemTable_t

	objects []*ipc.Object_t
}

// Subsystem_t owns the task table and the root kernel task.
type Subsystem_t struct {
	sched   *sched.Sched_t
	cfg     *limits.Config_t
	threads *thread.Subsystem_t
	ipc     *ipc.Subsystem_t
	timer   *timer.Subsystem_t
	exc     *exception.Subsystem_t
	pages   *page.Allocator_t
	mmu     vm.MMU_i
	vmSpan  int

	mu     sync.Mutex
	tasks  map[TaskId]*Task_t
	nextID uint64

	kernTask *Task_t
}

// New builds the task subsystem and its root kernel task, which holds
// every capability and a fresh address space. Thread teardown is wired
// to IPC cancellation here, so a dying thread always detaches from any
// rendezvous it is parked in.
func New(s *sched.Sched_t, cfg *limits.Config_t, th *thread.Subsystem_t,
	ip *ipc.Subsystem_t, tm *timer.Subsystem_t, ex *exception.Subsystem_t,
	pages *page.Allocator_t, mmu vm.MMU_i, vmSpan int) *Subsystem_t {

	sub := &Subsystem_t{
		sched: s, cfg: cfg, threads: th, ipc: ip, timer: tm, exc: ex,
		pages: pages, mmu: mmu, vmSpan: vmSpan,
		tasks: make(map[TaskId]*Task_t),
	}
	th.OnDestroy(ip.CancelThread)

	kern := sub.newTask(nil, vm.NewMap(pages, mmu, vmSpan))
	kern.caps = defs.CapAll
	kern.flags = defs.TF_SYSTEM
	if n, err := ustr.New("kernel", cfg.MaxDevName); err == 0 {
		kern.name = n
	}
	sub.kernTask = kern
	return sub
}

// KernelTask returns the root system task.
func (sub *Subsystem_t) KernelTask() *Task_t { return sub.kernTask }

// Count reports the task table's population, for the info syscall.
func (sub *Subsystem_t) Count() int {
	sub.mu.Lock()
	defer sub.mu.Unlock()
	return len(sub.tasks)
}

// Lookup resolves a TaskId.
func (sub *Subsystem_t) Lookup(id TaskId) (*Task_t, bool) {
	sub.mu.Lock()
	defer sub.mu.Unlock()
	t, ok := sub.tasks[id]
	return t, ok
}

func (sub *Subsystem_t) newTask(parent *Task_t, m *vm.Map_t) *Task_t {
	t := &Task_t{
		ID:      TaskId(atomic.AddUint64(&sub.nextID, 1)),
		sub:     sub,
		parent:  parent,
		vmMap:   m,
		Mutexes: ksync.NewTable(sub.sched, sub.cfg),
		Conds:   ksync.NewCondTable(sub.sched),
		Sems:    ksync.NewSemTable(sub.sched),
	}
	sub.mu.Lock()
	sub.tasks[t.ID] = t
	sub.mu.Unlock()
	return t
}

// access enforces the reachability rule every cross-task syscall
// shares: a system task can only be named by another system task, and
// a caller may act on a non-child task only with the given capability.
func access(caller, target *Task_t, cap defs.Cap_t) defs.Err_t {
	if target.flags&defs.TF_SYSTEM != 0 && caller.flags&defs.TF_SYSTEM == 0 {
		return defs.EPERM
	}
	if caller != target && caller != target.parent && !caller.Capable(cap) {
		return defs.EPERM
	}
	return 0
}

// Create implements task creation (task_create): the child's address
// space is fresh, shared, or deep-copied from the parent according to
// mode, and the child inherits the parent's capability set and
// exception handler. No capability can be gained by creation.
func (sub *Subsystem_t) Create(caller, parent *Task_t, mode defs.TaskCreateMode_t) (*Task_t, defs.Err_t) {
	if parent == nil {
		return nil, defs.ESRCH
	}
	if err := access(caller, parent, defs.CAP_TASKCTRL); err != 0 {
		return nil, err
	}

	var m *vm.Map_t
	switch mode {
	case defs.VM_NEW:
		m = vm.NewMap(sub.pages, sub.mmu, sub.vmSpan)
	case defs.VM_SHARE:
		parent.vmMap.Ref()
		m = parent.vmMap
	case defs.VM_COPY:
		var err defs.Err_t
		m, err = vm.Dup(parent.vmMap)
		if err != 0 {
			return nil, err
		}
	default:
		return nil, defs.EINVAL
	}

	child := sub.newTask(parent, m)
	parent.mu.Lock()
	child.caps = parent.caps
	child.handler = parent.handler
	parent.mu.Unlock()
	return child, 0
}

// Terminate tears a task down (task_terminate): every thread is
// destroyed (detaching its IPC rendezvous and held mutexes), the
// task's mutexes are handed off and its sync tables cleared, its IPC
// objects deleted, its alarm stopped, and finally its address space
// released.
func (sub *Subsystem_t) Terminate(caller, target *Task_t) defs.Err_t {
	if target == nil {
		return defs.ESRCH
	}
	if err := access(caller, target, defs.CAP_KILL); err != 0 {
		return err
	}

	target.mu.Lock()
	threads := append([]*sched.Thread_t(nil), target.threads...)
	objects := append([]*ipc.Object_t(nil), target.objects...)
	alarm := target.alarm
	target.threads = nil
	target.objects = nil
	target.alarm = nil
	target.mu.Unlock()

	// Destroy every thread but a self-terminating caller's own last,
	// so the cleanup below still runs on a live thread.
	var self *sched.Thread_t
	cur := sub.sched.Current()
	for _, t := range threads {
		if t == cur {
			self = t
			continue
		}
		sub.threads.Destroy(t)
	}

	for _, m := range target.Mutexes.All() {
		for _, t := range threads {
			m.ForceRelease(t)
		}
	}
	target.Mutexes.Clear()
	target.Conds.Clear()
	target.Sems.Clear()

	for _, obj := range objects {
		sub.ipc.Delete(obj)
	}
	if alarm != nil {
		alarm.Stop()
	}

	vm.Terminate(target.vmMap)

	sub.mu.Lock()
	delete(sub.tasks, target.ID)
	sub.mu.Unlock()

	if self != nil {
		sub.threads.Destroy(self) // does not return when self is current
	}
	return 0
}

// CreateThread allocates a new thread belonging to t, suspended one
// level deeper than the task itself so a resume of a suspended task
// does not start it prematurely.
func (t *Task_t) CreateThread(policy defs.Policy_t, basePrio int) *sched.Thread_t {
	th := t.sub.threads.Create(policy, basePrio)
	th.Task = t
	t.mu.Lock()
	for i := 0; i < t.suspCnt; i++ {
		t.sub.sched.Suspend(th)
	}
	t.threads = append(t.threads, th)
	t.mu.Unlock()
	return th
}

// Suspend raises the task's suspend count and suspends every thread.
func (sub *Subsystem_t) Suspend(caller, target *Task_t) defs.Err_t {
	if err := access(caller, target, defs.CAP_TASKCTRL); err != 0 {
		return err
	}
	target.mu.Lock()
	target.suspCnt++
	threads := append([]*sched.Thread_t(nil), target.threads...)
	target.mu.Unlock()
	for _, t := range threads {
		sub.sched.Suspend(t)
	}
	return 0
}

// Resume lowers the task's suspend count and resumes every thread.
func (sub *Subsystem_t) Resume(caller, target *Task_t) defs.Err_t {
	if err := access(caller, target, defs.CAP_TASKCTRL); err != 0 {
		return err
	}
	target.mu.Lock()
	if target.suspCnt == 0 {
		target.mu.Unlock()
		return defs.EINVAL
	}
	target.suspCnt--
	threads := append([]*sched.Thread_t(nil), target.threads...)
	target.mu.Unlock()
	for _, t := range threads {
		sub.sched.Resume(t)
	}
	return 0
}

// Setname renames the task (task_setname).
func (sub *Subsystem_t) Setname(caller, target *Task_t, name string) defs.Err_t {
	if err := access(caller, target, defs.CAP_TASKCTRL); err != 0 {
		return err
	}
	n, err := ustr.New(name, sub.cfg.MaxDevName)
	if err != 0 {
		return err
	}
	target.mu.Lock()
	target.name = n
	target.mu.Unlock()
	return 0
}

// Name returns the task's current name.
func (t *Task_t) Name() string {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.name.String()
}

// Setcap replaces the task's capability set (task_setcap); only a
// caller holding CAP_SETPCAP may change capabilities, its own
// included.
func (sub *Subsystem_t) Setcap(caller, target *Task_t, caps defs.Cap_t) defs.Err_t {
	if !caller.Capable(defs.CAP_SETPCAP) {
		return defs.EPERM
	}
	if target.flags&defs.TF_SYSTEM != 0 && caller.flags&defs.TF_SYSTEM == 0 {
		return defs.EPERM
	}
	target.mu.Lock()
	target.caps = caps
	target.mu.Unlock()
	return 0
}

// Capable reports whether the task holds the given capability bit.
func (t *Task_t) Capable(cap defs.Cap_t) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.caps&cap != 0
}

// Chkcap is the syscall-boundary capability check (task_chkcap): EPERM
// when the bit is missing.
func (t *Task_t) Chkcap(cap defs.Cap_t) defs.Err_t {
	if !t.Capable(cap) {
		return defs.EPERM
	}
	return 0
}

// Map returns the task's address space.
func (t *Task_t) Map() *vm.Map_t {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.vmMap
}

// AddObject records an IPC object as owned by t, for teardown.
func (t *Task_t) AddObject(obj *ipc.Object_t) {
	t.mu.Lock()
	t.objects = append(t.objects, obj)
	t.mu.Unlock()
}

// RemoveObject forgets an object the task deleted itself.
func (t *Task_t) RemoveObject(obj *ipc.Object_t) {
	t.mu.Lock()
	defer t.mu.Unlock()
	for i, o := range t.objects {
		if o == obj {
			t.objects = append(t.objects[:i], t.objects[i+1:]...)
			return
		}
	}
}

// SetHandler installs (or, with 0, removes) the task's exception
// handler (exception_setup). Removing the handler clears every pending
// exception and unblocks any thread parked in exception_wait.
func (t *Task_t) SetHandler(handler uintptr) {
	t.mu.Lock()
	t.handler = handler
	threads := append([]*sched.Thread_t(nil), t.threads...)
	t.mu.Unlock()
	if handler == 0 {
		t.sub.exc.CancelWaiters(threads)
	}
}

// HasHandler reports whether a non-default exception handler is
// installed.
func (t *Task_t) HasHandler() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.handler != 0
}

// Threads returns the task's threads in creation order; element 0 is
// the master thread.
func (t *Task_t) Threads() []*sched.Thread_t {
	t.mu.Lock()
	defer t.mu.Unlock()
	return append([]*sched.Thread_t(nil), t.threads...)
}

// System reports whether the task is kernel-protected.
func (t *Task_t) System() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.flags&defs.TF_SYSTEM != 0
}

// SetFlags merges flag bits into the task.
func (t *Task_t) SetFlags(f defs.TaskFlag_t) {
	t.mu.Lock()
	t.flags |= f
	t.mu.Unlock()
}

// PostAlarm delivers the alarm exception to the task when its alarm
// timer expires.
func (t *Task_t) PostAlarm() {
	t.sub.exc.Post(t, defs.ExcAlarm)
}

// Alarm arms (or with msec == 0 cancels) the task's one-shot alarm
// timer (timer_alarm), returning the milliseconds that remained on any
// previously armed alarm.
func (sub *Subsystem_t) Alarm(t *Task_t, msec int) int {
	t.mu.Lock()
	prev := t.alarm
	t.mu.Unlock()
	nt, remain := sub.timer.Alarm(prev, t, msec)
	t.mu.Lock()
	t.alarm = nt
	t.mu.Unlock()
	return remain
}
