package ksync

import "testing"

func TestCondSignalBroadcastNoWaiters(t *testing.T) {
	s, cfg := newTestSched()
	mu := New(s, cfg)
	c := NewCond(s, mu)

	// Must be safe no-ops when nobody is parked on the condition.
	c.Signal()
	c.Broadcast()
}
