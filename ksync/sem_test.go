package ksync

import (
	"testing"

	"github.com/AndrewD/prex/defs"
)

func TestSemWaitNonBlockingWhenAvailable(t *testing.T) {
	s, _ := newTestSched()
	sem := NewSem(s, 1)

	th := s.NewThread(100, defs.SCHED_FIFO)
	if err := sem.Wait(th); err != 0 {
		t.Fatalf("Wait on available semaphore: %v", err)
	}
}

func TestSemTrywaitExhausted(t *testing.T) {
	s, _ := newTestSched()
	sem := NewSem(s, 1)

	if err := sem.Trywait(); err != 0 {
		t.Fatalf("first Trywait: %v", err)
	}
	if err := sem.Trywait(); err != defs.EAGAIN {
		t.Fatalf("Trywait on exhausted semaphore = %v, want EAGAIN", err)
	}
}

func TestSemPostReplenishes(t *testing.T) {
	s, _ := newTestSched()
	sem := NewSem(s, 0)

	if err := sem.Trywait(); err != defs.EAGAIN {
		t.Fatalf("Trywait on empty semaphore = %v, want EAGAIN", err)
	}
	sem.Post()
	if err := sem.Trywait(); err != 0 {
		t.Fatalf("Trywait after Post: %v", err)
	}
}

func TestSemInitialValue(t *testing.T) {
	s, _ := newTestSched()
	sem := NewSem(s, 3)

	if got := sem.Value(); got != 3 {
		t.Fatalf("initial Value = %d, want 3", got)
	}
	for i := 0; i < 3; i++ {
		if err := sem.Trywait(); err != 0 {
			t.Fatalf("Trywait %d/3: %v", i+1, err)
		}
	}
	if err := sem.Trywait(); err != defs.EAGAIN {
		t.Fatalf("Trywait past initial value = %v, want EAGAIN", err)
	}
	if got := sem.Value(); got != 0 {
		t.Fatalf("Value after draining = %d, want 0", got)
	}
}
