package kernel

import (
	"github.com/AndrewD/prex/defs"
	"github.com/AndrewD/prex/ipc"
	"github.com/AndrewD/prex/sched"
	"github.com/AndrewD/prex/task"
)

// vmAccess enforces the memory syscalls' cross-task rule: a caller may
// operate on its own address space freely, on another task's only with
// CAP_EXTMEM.
func vmAccess(caller, target *task.Task_t) defs.Err_t {
	if target == nil {
		return defs.ESRCH
	}
	if target.System() && !caller.System() {
		return defs.EPERM
	}
	if caller != target && !caller.Capable(defs.CAP_EXTMEM) {
		return defs.EPERM
	}
	return 0
}

// VmAllocate is the vm_allocate syscall.
func (k *Kernel_t) VmAllocate(caller, target *task.Task_t, addr, size int, anywhere bool) (int, defs.Err_t) {
	if err := vmAccess(caller, target); err != 0 {
		return 0, err
	}
	return target.Map().Allocate(addr, size, anywhere)
}

// VmFree is the vm_free syscall.
func (k *Kernel_t) VmFree(caller, target *task.Task_t, addr int) defs.Err_t {
	if err := vmAccess(caller, target); err != 0 {
		return err
	}
	return target.Map().Free(addr)
}

// VmAttribute is the vm_attribute syscall; only the read and write
// bits may be changed.
func (k *Kernel_t) VmAttribute(caller, target *task.Task_t, addr int, prot defs.SegFlag_t) defs.Err_t {
	if err := vmAccess(caller, target); err != 0 {
		return err
	}
	return target.Map().Attribute(addr, prot)
}

// VmMap is the vm_map syscall: maps a range of src's address space
// into the caller's, sharing physical pages. Self-mapping is EINVAL.
func (k *Kernel_t) VmMap(caller, src *task.Task_t, addr, size int) (int, defs.Err_t) {
	if err := vmAccess(caller, src); err != 0 {
		return 0, err
	}
	return caller.Map().MapForeign(src.Map(), addr, size)
}

// ThreadSetPrio is the priority half of the thread_schedparam syscall:
// realtime priorities (below the configured boundary) require
// CAP_NICE.
func (k *Kernel_t) ThreadSetPrio(caller *task.Task_t, t *sched.Thread_t, prio int) defs.Err_t {
	if prio < 0 || prio >= k.Cfg.NPri {
		return defs.EINVAL
	}
	if prio < k.Cfg.PriRealtime && !caller.Capable(defs.CAP_NICE) {
		return defs.EPERM
	}
	k.Sched.Setpri(t, prio, prio)
	return 0
}

// ThreadSetPolicy is the policy half of thread_schedparam.
func (k *Kernel_t) ThreadSetPolicy(caller *task.Task_t, t *sched.Thread_t, policy defs.Policy_t) defs.Err_t {
	if policy != defs.SCHED_FIFO && policy != defs.SCHED_RR {
		return defs.EINVAL
	}
	k.Sched.SetPolicy(t, policy)
	return 0
}

// ObjectCreate is the object_create syscall: the new port is recorded
// as owned by the calling task for teardown.
func (k *Kernel_t) ObjectCreate(caller *task.Task_t, name string) (*ipc.Object_t, defs.Err_t) {
	obj, err := k.IPC.CreateObject(caller, name)
	if err != 0 {
		return nil, err
	}
	caller.AddObject(obj)
	return obj, 0
}
