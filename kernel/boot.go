// Package kernel wires the core subsystems together: it sizes the
// page allocator from the RAM size given to New, brings the
// subsystems up, hands the driver image its entry table, and starts
// the dedicated kernel threads.
package kernel

import (
	"errors"

	"golang.org/x/sync/errgroup"

	"github.com/AndrewD/prex/defs"
	"github.com/AndrewD/prex/device"
	"github.com/AndrewD/prex/exception"
	"github.com/AndrewD/prex/ipc"
	"github.com/AndrewD/prex/kheap"
	"github.com/AndrewD/prex/klog"
	"github.com/AndrewD/prex/limits"
	"github.com/AndrewD/prex/page"
	"github.com/AndrewD/prex/sched"
	"github.com/AndrewD/prex/sysinfo"
	"github.com/AndrewD/prex/task"
	"github.com/AndrewD/prex/thread"
	"github.com/AndrewD/prex/timer"
	"github.com/AndrewD/prex/vm"
)

// Module_t describes one loaded boot image: the kernel itself, the
// driver image, or an initial user task.
type Module_t struct {
	Name  string
	Phys  page.Pa_t
	Text  int
	Data  int
	Size  int
	Entry int
}

// BootInfo_t is the memory and module description the boot loader
// hands the kernel on entry.
type BootInfo_t struct {
	RAMSize int
	Kernel  Module_t
	Driver  Module_t
	Tasks   []Module_t
}

// Kernel_t owns every core subsystem.
type Kernel_t struct {
	Cfg    *limits.Config_t
	Pages  *page.Allocator_t
	Heap   *kheap.Heap_t
	Sched  *sched.Sched_t
	Timer  *timer.Subsystem_t
	IPC    *ipc.Subsystem_t
	Exc    *exception.Subsystem_t
	Thread *thread.Subsystem_t
	Task   *task.Subsystem_t
	Dev    *device.Registry_t
	Info   *sysinfo.Subsystem_t
}

// New builds the core with the given tunables, RAM size, and MMU
// primitives (nil for the no-MMU build).
func New(cfg *limits.Config_t, ramSize int, mmu vm.MMU_i) *Kernel_t {
	pages := page.New(ramSize)
	s := sched.New(cfg)
	th := thread.New(s, cfg)
	ip := ipc.New(s, cfg)
	tm := timer.New(s, cfg)
	ex := exception.New(s, cfg)

	k := &Kernel_t{
		Cfg:    cfg,
		Pages:  pages,
		Heap:   kheap.New(pages),
		Sched:  s,
		Timer:  tm,
		IPC:    ip,
		Exc:    ex,
		Thread: th,
		Task:   task.New(s, cfg, th, ip, tm, ex, pages, mmu, ramSize),
		Dev:    device.NewRegistry(cfg),
		Info:   sysinfo.New(),
	}
	k.Info.Register(sysinfo.Sources_t{
		Memory: func() sysinfo.Meminfo_t {
			return sysinfo.Meminfo_t{
				Total:     pages.TotalBytes(),
				Free:      pages.FreeBytes(),
				HeapPages: k.Heap.PagesInUse(),
			}
		},
		Sched: func() sysinfo.Schedinfo_t {
			return sysinfo.Schedinfo_t{
				Threads: s.NThreads(),
				Tasks:   k.Task.Count(),
				HZ:      cfg.HZ,
			}
		},
		Timer: func() sysinfo.Timerinfo_t {
			return sysinfo.Timerinfo_t{Lbolt: tm.Lbolt(), HZ: cfg.HZ}
		},
	})
	return k
}

// errReserve is the bring-up failure for an unreservable boot module.
var errReserve = errors.New("kernel: boot module range not free")

// Boot carves the boot modules out of physical memory, creates the
// initial user tasks, invokes the driver image's entry with the
// driver-kernel table, and starts the dedicated kernel threads. The
// module reservations are independent of one another, so they run
// concurrently and the first failure aborts the whole bring-up.
func (k *Kernel_t) Boot(bi BootInfo_t, driverEntry func(*DKI_t)) defs.Err_t {
	var g errgroup.Group
	reserve := func(m Module_t) func() error {
		return func() error {
			if m.Size == 0 {
				return nil
			}
			if err := k.Pages.Reserve(m.Phys, m.Size); err != 0 {
				return errReserve
			}
			return nil
		}
	}
	g.Go(reserve(bi.Kernel))
	g.Go(reserve(bi.Driver))
	for _, m := range bi.Tasks {
		g.Go(reserve(m))
	}
	if g.Wait() != nil {
		return defs.ENOMEM
	}

	kern := k.Task.KernelTask()
	for _, m := range bi.Tasks {
		child, err := k.Task.Create(kern, kern, defs.VM_NEW)
		if err != 0 {
			return err
		}
		if m.Name != "" {
			k.Task.Setname(kern, child, m.Name)
		}
		child.CreateThread(defs.SCHED_RR, k.Cfg.NPri/2)
	}

	if driverEntry != nil {
		driverEntry(k.dkiTable())
	}

	go k.Sched.RunIdleThread()
	go k.Sched.RunDPCThread()
	go k.Timer.RunTimerThread()

	klog.Printf("kernel: boot complete, %d bytes free\n", k.Pages.FreeBytes())
	return 0
}

// ClockTick is the clock interrupt entry: it advances the timer wheel
// and charges the running thread. The host environment calls it at HZ.
func (k *Kernel_t) ClockTick() {
	k.Timer.Tick()
	k.Sched.Tick()
}

// Log appends a message to the kernel log ring (the log syscall).
func (k *Kernel_t) Log(msg string) {
	klog.Printf("%s", msg)
}

// LogSnapshot returns the buffered kernel log (the dbgctl syscall's
// read operation).
func (k *Kernel_t) LogSnapshot() []byte {
	return klog.Global.Snapshot()
}

// Time returns the current tick count (the time syscall).
func (k *Kernel_t) Time() uint32 {
	return k.Timer.Lbolt()
}

// Powerdown broadcasts the shutdown devctl to every device; with
// force, drivers that fail to quiesce are ignored.
func (k *Kernel_t) Powerdown(cmd int, force bool) defs.Err_t {
	return k.Dev.Broadcast(cmd, nil, force)
}
