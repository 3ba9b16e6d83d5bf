package device

import (
	"testing"

	"github.com/AndrewD/prex/defs"
	"github.com/AndrewD/prex/limits"
)

type caps defs.Cap_t

func (c caps) Capable(want defs.Cap_t) bool { return defs.Cap_t(c)&want != 0 }

func newTestRegistry() *Registry_t {
	return NewRegistry(limits.Default())
}

func TestCreateLookup(t *testing.T) {
	r := newTestRegistry()
	d, err := r.Create("console", defs.D_CHR|defs.D_TTY, nil)
	if err != 0 {
		t.Fatalf("Create: %v", err)
	}
	got, err := r.Lookup("console")
	if err != 0 || got != d {
		t.Fatalf("Lookup = (%v, %v), want the created device", got, err)
	}
}

func TestCreateDuplicateName(t *testing.T) {
	r := newTestRegistry()
	if _, err := r.Create("ram0", defs.D_BLK, nil); err != 0 {
		t.Fatalf("Create: %v", err)
	}
	if _, err := r.Create("ram0", defs.D_BLK, nil); err != defs.EBUSY {
		t.Fatalf("duplicate Create = %v, want EBUSY", err)
	}
}

func TestLookupUnknown(t *testing.T) {
	r := newTestRegistry()
	if _, err := r.Lookup("nvram"); err != defs.ENODEV {
		t.Fatalf("Lookup of unregistered device = %v, want ENODEV", err)
	}
}

func TestProtectedDeviceNeedsRawio(t *testing.T) {
	r := newTestRegistry()
	r.Create("mem", defs.D_CHR|defs.D_PROT, nil)

	if _, err := r.Open(caps(0), "mem", 0); err != defs.EPERM {
		t.Fatalf("Open of protected device without CAP_RAWIO = %v, want EPERM", err)
	}
	if _, err := r.Open(caps(defs.CAP_RAWIO), "mem", 0); err != 0 {
		t.Fatalf("Open with CAP_RAWIO: %v", err)
	}
}

func TestDefaultOpsAreNops(t *testing.T) {
	r := newTestRegistry()
	d, _ := r.Create("null", defs.D_CHR, nil)

	if _, err := d.Read(make([]byte, 4), 0); err != defs.ENOTSUP {
		t.Fatalf("default Read = %v, want ENOTSUP", err)
	}
	if _, err := d.Write(make([]byte, 4), 0); err != defs.ENOTSUP {
		t.Fatalf("default Write = %v, want ENOTSUP", err)
	}
	if err := d.Ioctl(1, nil); err != defs.ENOTSUP {
		t.Fatalf("default Ioctl = %v, want ENOTSUP", err)
	}
	if err := d.Control(1, nil); err != 0 {
		t.Fatalf("default Devctl = %v, want success", err)
	}
}

func TestDestroyedDeviceLingersUntilClosed(t *testing.T) {
	r := newTestRegistry()
	r.Create("disk0", defs.D_BLK, nil)

	d, err := r.Open(caps(0), "disk0", 0)
	if err != 0 {
		t.Fatalf("Open: %v", err)
	}
	if err := r.Destroy(d); err != 0 {
		t.Fatalf("Destroy: %v", err)
	}
	if _, err := r.Lookup("disk0"); err != defs.ENODEV {
		t.Fatalf("destroyed device still resolves by name")
	}
	if err := r.Close(d); err != 0 {
		t.Fatalf("Close after Destroy: %v", err)
	}
	if err := r.Close(d); err != defs.EINVAL {
		t.Fatalf("double Close = %v, want EINVAL", err)
	}
}

type ctlRecorder struct {
	NopOps
	calls *[]string
	name  string
	fail  defs.Err_t
}

func (c ctlRecorder) Devctl(*Device_t, int, interface{}) defs.Err_t {
	*c.calls = append(*c.calls, c.name)
	return c.fail
}

func TestBroadcastStopsOnFirstErrorWithoutForce(t *testing.T) {
	r := newTestRegistry()
	var calls []string
	r.Create("a", defs.D_CHR, ctlRecorder{calls: &calls, name: "a"})
	r.Create("b", defs.D_CHR, ctlRecorder{calls: &calls, name: "b", fail: defs.EBUSY})
	r.Create("c", defs.D_CHR, ctlRecorder{calls: &calls, name: "c"})

	if err := r.Broadcast(1, nil, false); err != defs.EBUSY {
		t.Fatalf("Broadcast = %v, want the first error EBUSY", err)
	}
	if len(calls) != 2 || calls[0] != "a" || calls[1] != "b" {
		t.Fatalf("Broadcast visited %v, want [a b]", calls)
	}
}

func TestBroadcastForceVisitsAllAndReturnsEIO(t *testing.T) {
	r := newTestRegistry()
	var calls []string
	r.Create("a", defs.D_CHR, ctlRecorder{calls: &calls, name: "a", fail: defs.EBUSY})
	r.Create("b", defs.D_CHR, ctlRecorder{calls: &calls, name: "b"})
	r.Create("c", defs.D_CHR, ctlRecorder{calls: &calls, name: "c", fail: defs.ENXIO})

	if err := r.Broadcast(1, nil, true); err != defs.EIO {
		t.Fatalf("forced Broadcast = %v, want EIO", err)
	}
	if len(calls) != 3 {
		t.Fatalf("forced Broadcast visited %v, want all three devices", calls)
	}
}

func TestBroadcastAllSucceed(t *testing.T) {
	r := newTestRegistry()
	var calls []string
	r.Create("a", defs.D_CHR, ctlRecorder{calls: &calls, name: "a"})
	r.Create("b", defs.D_CHR, ctlRecorder{calls: &calls, name: "b"})

	if err := r.Broadcast(1, nil, true); err != 0 {
		t.Fatalf("Broadcast with no failures = %v, want success", err)
	}
}
