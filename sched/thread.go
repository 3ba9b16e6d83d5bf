// Package sched implements the fixed-priority preemptive scheduler:
// 256 run queues, sleep/wake via events, a DPC thread, and the tick
// handler. A Thread_t's kernel execution is a real goroutine; Sched_t
// hands a single logical CPU between them with a per-thread resume
// channel, so Go's own goroutine stacks stand in for a board layer's
// context-switch primitive.
package sched

import (
	"sync/atomic"

	"github.com/AndrewD/prex/defs"
	"github.com/AndrewD/prex/limits"
)

// ThreadId is the opaque handle other packages hold instead of a raw
// *Thread_t: the thread table (Sched_t.threads) owns every Thread_t,
// and holders of a ThreadId must resolve it through the table rather
// than trust a cached pointer.
type ThreadId uint64

// MutexRef_i is the view of a held mutex the scheduler needs to
// recompute a thread's priority on unlock, without sched importing
// ksync. ForceRelease hands the mutex off without any priority-chain
// adjustment, for thread/task teardown.
type MutexRef_i interface {
	Ceiling() int
	ForceRelease(t *Thread_t)
}

// TimerRef_i is the view of an armed timer the scheduler needs to
// cancel it, without sched importing timer.
type TimerRef_i interface {
	Stop()
}

// Thread_t is a schedulable unit of execution.
type Thread_t struct {
	ID ThreadId
	// Task is an opaque back-pointer to the owning task; sched never
	// dereferences it, only the task/thread packages do.
	Task interface{}

	Prio, BasePrio int
	Policy         defs.Policy_t
	TimeLeft       int
	Quantum        int
	Ticks          int64

	State        defs.ThreadState_t
	SuspendCount int
	LockNest     int // sched_lock/sched_unlock nesting (reentrant per thread)
	Resched      bool

	ExcBits   uint32
	SlpEvent  *Event_t
	SlpResult defs.SleepResult_t

	HeldMutexes []MutexRef_i
	WaitMutex   MutexRef_i

	Timeout  TimerRef_i
	Periodic TimerRef_i

	Sender, Receiver *ThreadId
	MsgAddr, MsgSize int

	Stack []byte

	parkCh chan struct{}
	runqIx int // index within its priority's run queue, -1 when not queued
}

// Runnable reports whether t belongs on a run queue: RUN and not
// SUSP.
func (t *Thread_t) Runnable() bool {
	return t.State&defs.TS_RUN != 0 && t.State&defs.TS_SUSP == 0 && t.State&defs.TS_EXIT == 0
}

// AwaitTurn blocks the calling goroutine until the scheduler hands
// this thread the logical CPU. A freshly created thread's body
// goroutine calls this once, immediately on entry, before touching
// any kernel state -- the Go-goroutine equivalent of the
// syscall-return trampoline a new thread's context starts at.
func (t *Thread_t) AwaitTurn() {
	<-t.parkCh
}

// newThread allocates a Thread_t with an 8K kernel stack, starting suspended.
func newThread(id ThreadId, prio int, policy defs.Policy_t, cfg *limits.Config_t) *Thread_t {
	t := &Thread_t{
		ID:           id,
		Prio:         prio,
		BasePrio:     prio,
		Policy:       policy,
		Quantum:      cfg.Quantum,
		TimeLeft:     cfg.Quantum,
		State:        defs.TS_RUN | defs.TS_SUSP,
		SuspendCount: 1, // threads begin suspended
		parkCh:       make(chan struct{}, 1),
		runqIx:       -1,
		Stack:        make([]byte, 8192),
	}
	return t
}

// unsuspendFresh clears the initial suspended state newThread sets,
// for the kernel's own idle and DPC threads, which must be runnable
// from the moment they're created rather than waiting for an explicit
// thread_resume.
func unsuspendFresh(t *Thread_t) {
	t.SuspendCount = 0
	t.State &^= defs.TS_SUSP
}

// Sched_t is the single logical CPU's scheduler state.
type Sched_t struct {
	cfg *limits.Config_t

	qlock qlock_t // guards everything below; see qlock.go

	runq   [][]*Thread_t
	maxpri int

	wakeq []*Thread_t

	threads map[ThreadId]*Thread_t
	nextID  uint64

	current *Thread_t
	idle    *Thread_t

	dpc dpcState_t
}

// New builds a scheduler and its idle thread, which occupies the
// lowest priority level and is always runnable.
func New(cfg *limits.Config_t) *Sched_t {
	s := &Sched_t{
		cfg:     cfg,
		runq:    make([][]*Thread_t, cfg.NPri),
		maxpri:  cfg.PriIdle,
		threads: make(map[ThreadId]*Thread_t),
	}
	s.idle = s.NewThread(cfg.PriIdle, defs.SCHED_FIFO)
	unsuspendFresh(s.idle)
	s.current = s.idle
	s.idle.parkCh <- struct{}{} // idle starts "running"
	s.dpc.thread = s.NewThread(cfg.PriDPC, defs.SCHED_FIFO)
	unsuspendFresh(s.dpc.thread)
	s.dpc.event = s.NewEvent()
	return s
}

// NewThread registers a fresh thread in the thread table, starting
// suspended with the given base priority and policy.
func (s *Sched_t) NewThread(prio int, policy defs.Policy_t) *Thread_t {
	id := ThreadId(atomic.AddUint64(&s.nextID, 1))
	t := newThread(id, prio, policy, s.cfg)
	s.qlock.lock()
	s.threads[id] = t
	s.qlock.unlock()
	return t
}

// Lookup resolves a ThreadId through the thread table.
func (s *Sched_t) Lookup(id ThreadId) (*Thread_t, bool) {
	s.qlock.lock()
	defer s.qlock.unlock()
	t, ok := s.threads[id]
	return t, ok
}

// forget removes a thread from the table once fully torn down.
func (s *Sched_t) forget(t *Thread_t) {
	s.qlock.lock()
	delete(s.threads, t.ID)
	s.qlock.unlock()
}

// Current returns the thread logically holding the CPU.
func (s *Sched_t) Current() *Thread_t {
	s.qlock.lock()
	defer s.qlock.unlock()
	return s.current
}

// Idle returns the scheduler's idle thread.
func (s *Sched_t) Idle() *Thread_t { return s.idle }

// NThreads reports the thread table's population, for the info
// syscall.
func (s *Sched_t) NThreads() int {
	s.qlock.lock()
	defer s.qlock.unlock()
	return len(s.threads)
}
