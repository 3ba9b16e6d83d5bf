// Package limits holds the kernel's compile-time tunables as a
// constructible configuration rather than free-floating constants, so
// a test harness can build an alternate configuration.
package limits

// Config_t collects the scheduler, timer, and naming tunables consulted
// throughout the kernel core.
type Config_t struct {
	// NPri is the number of scheduling priorities; 0 is highest.
	NPri int
	// PriIdle is the priority of the idle thread, the lowest priority.
	PriIdle int
	// PriDPC is the priority the dedicated DPC thread runs at.
	PriDPC int
	// MaxInherit bounds the priority-inheritance chain walk.
	MaxInherit int
	// HZ is the clock tick rate.
	HZ int
	// Quantum is the round-robin time slice, in ticks.
	Quantum int
	// MaxDevName bounds device and task name length.
	MaxDevName int
	// MaxExc is the number of exception slots per thread.
	MaxExc int
	// PriRealtime is the boundary below which only CAP_NICE may set a
	// thread's priority (thread_schedparam).
	PriRealtime int
}

// Default returns the kernel's standard tunable set.
func Default() *Config_t {
	return &Config_t{
		NPri:        256,
		PriIdle:     255,
		PriDPC:      1,
		MaxInherit:  16,
		HZ:          100,
		Quantum:     8,
		MaxDevName:  32,
		MaxExc:      32,
		PriRealtime: 7,
	}
}
