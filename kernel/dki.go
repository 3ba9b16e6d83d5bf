package kernel

import (
	"github.com/AndrewD/prex/debug"
	"github.com/AndrewD/prex/defs"
	"github.com/AndrewD/prex/device"
	"github.com/AndrewD/prex/klog"
	"github.com/AndrewD/prex/page"
	"github.com/AndrewD/prex/sched"
	"github.com/AndrewD/prex/sysinfo"
	"github.com/AndrewD/prex/task"
	"github.com/AndrewD/prex/timer"
)

// DKI_t is the driver-kernel interface: the table of entry points a
// driver image receives, once, when its entry function is invoked at
// boot. Field order is part of the stable driver ABI; new entries are
// appended, never inserted.
type DKI_t struct {
	// Memory.
	KmemAlloc   func(n int) ([]byte, defs.Err_t)
	KmemFree    func(p []byte)
	PageAlloc   func(n int) (page.Pa_t, defs.Err_t)
	PageFree    func(base page.Pa_t, n int)
	PageReserve func(base page.Pa_t, n int) defs.Err_t

	// Interrupts. IRQ routing and priority masking belong to the
	// board support layer; the core records the hooks a host
	// environment installs and hands them through unchanged.
	IrqAttach func(vector int, isr func()) defs.Err_t
	IrqDetach func(vector int)

	// Timers.
	TimerCallout func(t *timer.Timer_t, msec int, fn func(interface{}), arg interface{}) *timer.Timer_t
	TimerStop    func(t *timer.Timer_t)
	TimerDelay   func(msec int) (defs.SleepResult_t, int)

	// Scheduler.
	SchedLock   func()
	SchedUnlock func()
	SchedTsleep func(e *sched.Event_t, msec int) defs.SleepResult_t
	SchedWakeup func(e *sched.Event_t)
	SchedDPC    func(d *sched.Dpc_t, fn func(interface{}), arg interface{})
	NewEvent    func() *sched.Event_t

	// Task and exception.
	TaskCapable   func(cap defs.Cap_t) bool
	ExceptionPost func(t *task.Task_t, excno int) defs.Err_t

	// Devices.
	DeviceCreate    func(name string, flags defs.DeviceFlag_t, ops device.Devops_i) (*device.Device_t, defs.Err_t)
	DeviceDestroy   func(d *device.Device_t) defs.Err_t
	DeviceLookup    func(name string) (*device.Device_t, defs.Err_t)
	DeviceControl   func(d *device.Device_t, cmd int, arg interface{}) defs.Err_t
	DeviceBroadcast func(cmd int, arg interface{}, force bool) defs.Err_t
	DevicePrivate   func(d *device.Device_t) interface{}

	// Machine.
	MachineBootinfo  func() BootInfo_t
	MachinePowerdown func(cmd int, force bool) defs.Err_t

	// Diagnostics.
	Sysinfo   func() (sysinfo.Meminfo_t, defs.Err_t)
	DebugLog  func(msg string)
	DebugDump func() string
}

// dkiTable builds the driver entry table bound to this kernel
// instance. Scheduler lock/unlock and sleep operate on the calling
// driver thread, which must be a kernel thread the scheduler knows as
// current.
func (k *Kernel_t) dkiTable() *DKI_t {
	bi := BootInfo_t{RAMSize: k.Pages.TotalBytes()}
	var irqs struct{ isrs map[int]func() }
	irqs.isrs = make(map[int]func())

	return &DKI_t{
		KmemAlloc:   k.Heap.Alloc,
		KmemFree:    k.Heap.Free,
		PageAlloc:   k.Pages.Alloc,
		PageFree:    k.Pages.Free,
		PageReserve: k.Pages.Reserve,

		IrqAttach: func(vector int, isr func()) defs.Err_t {
			if _, busy := irqs.isrs[vector]; busy {
				return defs.EBUSY
			}
			irqs.isrs[vector] = isr
			return 0
		},
		IrqDetach: func(vector int) { delete(irqs.isrs, vector) },

		TimerCallout: k.Timer.Callout,
		TimerStop:    func(t *timer.Timer_t) { t.Stop() },
		TimerDelay: func(msec int) (defs.SleepResult_t, int) {
			return k.Timer.Delay(k.Sched.Current(), msec)
		},

		SchedLock:   func() { k.Sched.Lock(k.Sched.Current()) },
		SchedUnlock: func() { cur := k.Sched.Current(); k.Sched.Unlock(cur) },
		SchedTsleep: func(e *sched.Event_t, msec int) defs.SleepResult_t {
			cur := k.Sched.Current()
			if msec > 0 {
				cur.Timeout = k.Timer.Callout(nil, msec, func(arg interface{}) {
					k.Sched.Unsleep(arg.(*sched.Thread_t), defs.SLP_TIMEOUT)
				}, cur)
			}
			res := k.Sched.Sleep(cur, e)
			if cur.Timeout != nil {
				cur.Timeout.Stop()
				cur.Timeout = nil
			}
			return res
		},
		SchedWakeup: k.Sched.Wakeup,
		SchedDPC:    k.Sched.ScheduleDPC,
		NewEvent:    k.Sched.NewEvent,

		TaskCapable: func(cap defs.Cap_t) bool {
			return k.Task.KernelTask().Capable(cap)
		},
		ExceptionPost: func(t *task.Task_t, excno int) defs.Err_t {
			return k.Exc.Post(t, excno)
		},

		DeviceCreate:  k.Dev.Create,
		DeviceDestroy: k.Dev.Destroy,
		DeviceLookup:  k.Dev.Lookup,
		DeviceControl: func(d *device.Device_t, cmd int, arg interface{}) defs.Err_t {
			return d.Control(cmd, arg)
		},
		DeviceBroadcast: k.Dev.Broadcast,
		DevicePrivate: func(d *device.Device_t) interface{} {
			return d.Private()
		},

		MachineBootinfo:  func() BootInfo_t { return bi },
		MachinePowerdown: k.Powerdown,

		Sysinfo:   k.Info.Memory,
		DebugLog:  func(msg string) { klog.Printf("%s", msg) },
		DebugDump: func() string { return debug.Callerdump(2) },
	}
}
