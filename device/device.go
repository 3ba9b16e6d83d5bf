// Package device implements the device object registry and the devops
// dispatch surface drivers plug into: named devices with a vtable of
// operations, protected-device capability checks, and devctl
// broadcast.
package device

import (
	"sync"

	"github.com/AndrewD/prex/defs"
	"github.com/AndrewD/prex/limits"
	"github.com/AndrewD/prex/ustr"
)

// Devops_i is the operation vtable a driver supplies when it creates a
// device. Embed NopOps to pick up default entries for the operations a
// driver does not implement.
type Devops_i interface {
	Open(d *Device_t, mode int) defs.Err_t
	Close(d *Device_t) defs.Err_t
	Read(d *Device_t, buf []byte, off int) (int, defs.Err_t)
	Write(d *Device_t, buf []byte, off int) (int, defs.Err_t)
	Ioctl(d *Device_t, cmd int, arg interface{}) defs.Err_t
	Devctl(d *Device_t, cmd int, arg interface{}) defs.Err_t
}

// NopOps provides the default no-op vtable entries: open/close/devctl
// succeed doing nothing, data and control transfers are unsupported.
type NopOps struct{}

func (NopOps) Open(*Device_t, int) defs.Err_t  { return 0 }
func (NopOps) Close(*Device_t) defs.Err_t      { return 0 }
func (NopOps) Read(*Device_t, []byte, int) (int, defs.Err_t) {
	return 0, defs.ENOTSUP
}
func (NopOps) Write(*Device_t, []byte, int) (int, defs.Err_t) {
	return 0, defs.ENOTSUP
}
func (NopOps) Ioctl(*Device_t, int, interface{}) defs.Err_t  { return defs.ENOTSUP }
func (NopOps) Devctl(*Device_t, int, interface{}) defs.Err_t { return 0 }

// Caller_i is the narrow view of a task the device layer needs for its
// protected-device check.
type Caller_i interface {
	Capable(defs.Cap_t) bool
}

// Device_t is one registered device object.
type Device_t struct {
	name  ustr.Ustr_t
	ops   Devops_i
	flags defs.DeviceFlag_t

	mu      sync.Mutex
	refs    int
	active  bool
	private interface{}
}

// Name returns the device's registered name.
func (d *Device_t) Name() string { return d.name.String() }

// Flags returns the device's classification bits.
func (d *Device_t) Flags() defs.DeviceFlag_t { return d.flags }

// SetPrivate attaches driver-private state to the device
// (device_private in the driver-kernel table).
func (d *Device_t) SetPrivate(p interface{}) {
	d.mu.Lock()
	d.private = p
	d.mu.Unlock()
}

// Private returns the driver-private state.
func (d *Device_t) Private() interface{} {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.private
}

// Registry_t owns every registered device, in creation order.
type Registry_t struct {
	cfg *limits.Config_t

	mu      sync.Mutex
	devices []*Device_t
}

// NewRegistry builds an empty device registry.
func NewRegistry(cfg *limits.Config_t) *Registry_t {
	return &Registry_t{cfg: cfg}
}

// Create registers a new device (device_create). The name is bounded;
// a duplicate name is EBUSY.
func (r *Registry_t) Create(name string, flags defs.DeviceFlag_t, ops Devops_i) (*Device_t, defs.Err_t) {
	n, err := ustr.New(name, r.cfg.MaxDevName)
	if err != 0 {
		return nil, err
	}
	if ops == nil {
		ops = NopOps{}
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, d := range r.devices {
		if d.active && d.name.Eq(n) {
			return nil, defs.EBUSY
		}
	}
	d := &Device_t{name: n, ops: ops, flags: flags, active: true}
	r.devices = append(r.devices, d)
	return d, 0
}

// Destroy unregisters a device (device_destroy); it stays allocated
// until its last reference is dropped but stops resolving by name.
func (r *Registry_t) Destroy(d *Device_t) defs.Err_t {
	r.mu.Lock()
	defer r.mu.Unlock()
	if !d.active {
		return defs.ENODEV
	}
	d.active = false
	if d.refs == 0 {
		r.remove(d)
	}
	return 0
}

func (r *Registry_t) remove(d *Device_t) {
	for i, c := range r.devices {
		if c == d {
			r.devices = append(r.devices[:i], r.devices[i+1:]...)
			return
		}
	}
}

// Lookup resolves a device name (device_lookup).
func (r *Registry_t) Lookup(name string) (*Device_t, defs.Err_t) {
	n, err := ustr.New(name, r.cfg.MaxDevName)
	if err != 0 {
		return nil, defs.ENODEV
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, d := range r.devices {
		if d.active && d.name.Eq(n) {
			return d, 0
		}
	}
	return nil, defs.ENODEV
}

// Open resolves name and calls the driver's open entry (device_open).
// A protected device requires the caller to hold CAP_RAWIO.
func (r *Registry_t) Open(caller Caller_i, name string, mode int) (*Device_t, defs.Err_t) {
	d, err := r.Lookup(name)
	if err != 0 {
		return nil, err
	}
	if d.flags&defs.D_PROT != 0 && !caller.Capable(defs.CAP_RAWIO) {
		return nil, defs.EPERM
	}
	if err := d.ops.Open(d, mode); err != 0 {
		return nil, err
	}
	d.mu.Lock()
	d.refs++
	d.mu.Unlock()
	return d, 0
}

// Close drops an open reference (device_close); a destroyed device is
// finally removed when its last reference goes away.
func (r *Registry_t) Close(d *Device_t) defs.Err_t {
	d.mu.Lock()
	if d.refs == 0 {
		d.mu.Unlock()
		return defs.EINVAL
	}
	if err := d.ops.Close(d); err != 0 {
		d.mu.Unlock()
		return err
	}
	d.refs--
	last := d.refs == 0
	d.mu.Unlock()

	if last {
		r.mu.Lock()
		if !d.active {
			r.remove(d)
		}
		r.mu.Unlock()
	}
	return 0
}

// Read transfers bytes from the device (device_read).
func (d *Device_t) Read(buf []byte, off int) (int, defs.Err_t) {
	return d.ops.Read(d, buf, off)
}

// Write transfers bytes to the device (device_write).
func (d *Device_t) Write(buf []byte, off int) (int, defs.Err_t) {
	return d.ops.Write(d, buf, off)
}

// Ioctl dispatches a device-specific control request (device_ioctl).
func (d *Device_t) Ioctl(cmd int, arg interface{}) defs.Err_t {
	return d.ops.Ioctl(d, cmd, arg)
}

// Control dispatches a kernel-originated devctl request
// (device_control).
func (d *Device_t) Control(cmd int, arg interface{}) defs.Err_t {
	return d.ops.Devctl(d, cmd, arg)
}

// Broadcast calls devctl on every registered device in creation order
// (device_broadcast). With force set, every device is visited and the
// result is EIO if any call failed; without it, the walk stops at the
// first error, which is returned as-is.
func (r *Registry_t) Broadcast(cmd int, arg interface{}, force bool) defs.Err_t {
	r.mu.Lock()
	devices := append([]*Device_t(nil), r.devices...)
	r.mu.Unlock()

	var failed defs.Err_t
	for _, d := range devices {
		if !d.active {
			continue
		}
		if err := d.ops.Devctl(d, cmd, arg); err != 0 {
			if !force {
				return err
			}
			if failed == 0 {
				failed = err
			}
		}
	}
	if failed != 0 {
		return defs.EIO
	}
	return 0
}
