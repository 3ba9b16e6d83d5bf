package ipc

import (
	"testing"

	"github.com/AndrewD/prex/defs"
	"github.com/AndrewD/prex/limits"
	"github.com/AndrewD/prex/sched"
)

func newTestSubsystem() (*Subsystem_t, *sched.Sched_t) {
	cfg := limits.Default()
	s := sched.New(cfg)
	return New(s, cfg), s
}

func TestDequeueHighestPicksLowestPrioValue(t *testing.T) {
	ipc, s := newTestSubsystem()
	_ = ipc
	a := s.NewThread(50, defs.SCHED_FIFO)
	b := s.NewThread(10, defs.SCHED_FIFO)
	c := s.NewThread(100, defs.SCHED_FIFO)

	q := []*sched.Thread_t{a, b, c}
	got := dequeueHighest(&q)
	if got != b {
		t.Fatalf("dequeueHighest picked prio %d, want thread with prio 10", got.Prio)
	}
	if len(q) != 2 {
		t.Fatalf("queue len after dequeue = %d, want 2", len(q))
	}
}

func TestCreateObjectDuplicateName(t *testing.T) {
	ipc, _ := newTestSubsystem()
	owner := "taskA"

	if _, err := ipc.CreateObject(owner, "mailbox"); err != 0 {
		t.Fatalf("first CreateObject: %v", err)
	}
	if _, err := ipc.CreateObject(owner, "mailbox"); err != defs.EBUSY {
		t.Fatalf("duplicate CreateObject = %v, want EBUSY", err)
	}
}

func TestLookupUnknownName(t *testing.T) {
	ipc, _ := newTestSubsystem()
	if _, err := ipc.Lookup("taskA", "nope"); err != defs.ESRCH {
		t.Fatalf("Lookup of unregistered name = %v, want ESRCH", err)
	}
}

func TestLookupDifferentOwnersIsolated(t *testing.T) {
	ipc, _ := newTestSubsystem()
	objA, err := ipc.CreateObject("taskA", "mailbox")
	if err != 0 {
		t.Fatalf("CreateObject: %v", err)
	}
	if _, err := ipc.Lookup("taskB", "mailbox"); err != defs.ESRCH {
		t.Fatalf("Lookup under different owner found a match, want ESRCH")
	}
	found, err := ipc.Lookup("taskA", "mailbox")
	if err != 0 || found != objA {
		t.Fatalf("Lookup under correct owner failed: obj=%v err=%v", found, err)
	}
}

func TestSendRejectsShortMessage(t *testing.T) {
	ipc, s := newTestSubsystem()
	obj, _ := ipc.CreateObject("taskA", "mailbox")
	sender := s.NewThread(100, defs.SCHED_FIFO)

	if _, err := ipc.Send(obj, sender, make([]byte, HeaderSize-1)); err != defs.EINVAL {
		t.Fatalf("Send with short message = %v, want EINVAL", err)
	}
}

func TestSendRejectsDeletedObject(t *testing.T) {
	ipc, s := newTestSubsystem()
	obj, _ := ipc.CreateObject("taskA", "mailbox")
	ipc.Delete(obj)

	sender := s.NewThread(100, defs.SCHED_FIFO)
	if _, err := ipc.Send(obj, sender, make([]byte, HeaderSize)); err != defs.EINVAL {
		t.Fatalf("Send on deleted object = %v, want EINVAL", err)
	}
}

func TestSendDetectsSelfReceiveDeadlock(t *testing.T) {
	ipc, s := newTestSubsystem()
	obj, _ := ipc.CreateObject("taskA", "mailbox")
	th := s.NewThread(100, defs.SCHED_FIFO)

	obj.mu.Lock()
	obj.recvq = append(obj.recvq, th)
	obj.mu.Unlock()

	if _, err := ipc.Send(obj, th, make([]byte, HeaderSize)); err != defs.EDEADLK {
		t.Fatalf("Send while already receiving = %v, want EDEADLK", err)
	}
}

// TestReceiveImmediateSender exercises Receive's non-blocking path,
// where a sender is already queued -- the only Receive branch
// reachable without a live scheduler loop driving the parkCh handoff.
func TestReceiveImmediateSender(t *testing.T) {
	ipc, s := newTestSubsystem()
	obj, _ := ipc.CreateObject("taskB", "mailbox")
	sender := s.NewThread(100, defs.SCHED_FIFO)
	receiver := s.NewThread(100, defs.SCHED_FIFO)
	receiver.Task = "taskB"

	msg := append(make([]byte, HeaderSize), []byte("hello")...)
	obj.mu.Lock()
	obj.sendq = append(obj.sendq, sender)
	obj.pending[sender] = &pendingMsg{data: msg}
	obj.mu.Unlock()

	got, out, err := ipc.Receive(obj, receiver, len(msg))
	if err != 0 {
		t.Fatalf("Receive: %v", err)
	}
	if got != sender {
		t.Fatalf("Receive returned sender %v, want %v", got, sender)
	}
	if string(out) != string(msg) {
		t.Fatalf("Receive payload = %q, want %q", out, msg)
	}
	if sender.Receiver == nil || *sender.Receiver != receiver.ID {
		t.Fatalf("sender.Receiver not linked to receiver")
	}
	if receiver.Sender == nil || *receiver.Sender != sender.ID {
		t.Fatalf("receiver.Sender not linked to sender")
	}
}

func TestReceiveTruncatesToMaxsize(t *testing.T) {
	ipc, s := newTestSubsystem()
	obj, _ := ipc.CreateObject("taskB", "mailbox")
	sender := s.NewThread(100, defs.SCHED_FIFO)
	receiver := s.NewThread(100, defs.SCHED_FIFO)
	receiver.Task = "taskB"

	msg := append(make([]byte, HeaderSize), []byte("0123456789")...)
	obj.mu.Lock()
	obj.sendq = append(obj.sendq, sender)
	obj.pending[sender] = &pendingMsg{data: msg}
	obj.mu.Unlock()

	_, out, err := ipc.Receive(obj, receiver, HeaderSize+4)
	if err != 0 {
		t.Fatalf("Receive: %v", err)
	}
	if len(out) != HeaderSize+4 {
		t.Fatalf("Receive payload len = %d, want %d", len(out), HeaderSize+4)
	}
}

func TestReceiveByNonOwnerDenied(t *testing.T) {
	ipc, s := newTestSubsystem()
	obj, _ := ipc.CreateObject("taskB", "mailbox")
	intruder := s.NewThread(100, defs.SCHED_FIFO)
	intruder.Task = "taskA"

	if _, _, err := ipc.Receive(obj, intruder, HeaderSize); err != defs.EACCES {
		t.Fatalf("Receive by non-owner = %v, want EACCES", err)
	}
}

func TestReceiveWhileAlreadyReceiving(t *testing.T) {
	ipc, s := newTestSubsystem()
	obj, _ := ipc.CreateObject("taskB", "mailbox")
	receiver := s.NewThread(100, defs.SCHED_FIFO)
	receiver.Task = "taskB"

	// Queued on the receive queue already.
	obj.mu.Lock()
	obj.recvq = append(obj.recvq, receiver)
	obj.mu.Unlock()
	if _, _, err := ipc.Receive(obj, receiver, HeaderSize); err != defs.EBUSY {
		t.Fatalf("Receive while queued to receive = %v, want EBUSY", err)
	}

	// Mid-rendezvous with an unreplied sender.
	obj.mu.Lock()
	obj.recvq = nil
	obj.mu.Unlock()
	sender := s.NewThread(100, defs.SCHED_FIFO)
	receiver.Sender = &sender.ID
	if _, _, err := ipc.Receive(obj, receiver, HeaderSize); err != defs.EBUSY {
		t.Fatalf("Receive with an unreplied sender = %v, want EBUSY", err)
	}
}

// TestReplyWakesSenderWithPayload exercises Reply's non-blocking
// bookkeeping directly, wiring up the sender/receiver/pending state
// Send and Receive would have established.
func TestReplyWakesSenderWithPayload(t *testing.T) {
	ipc, s := newTestSubsystem()
	obj, _ := ipc.CreateObject("taskB", "mailbox")
	sender := s.NewThread(100, defs.SCHED_FIFO)
	receiver := s.NewThread(100, defs.SCHED_FIFO)

	sender.Receiver = &receiver.ID
	receiver.Sender = &sender.ID
	obj.pending[sender] = &pendingMsg{data: make([]byte, HeaderSize)}

	reply := []byte("ack")
	if err := ipc.Reply(obj, receiver, reply); err != 0 {
		t.Fatalf("Reply: %v", err)
	}
	if sender.Receiver != nil {
		t.Fatalf("Reply did not clear sender.Receiver")
	}
	if receiver.Sender != nil {
		t.Fatalf("Reply did not clear receiver.Sender")
	}
	if string(obj.pending[sender].reply) != "ack" {
		t.Fatalf("reply payload = %q, want %q", obj.pending[sender].reply, "ack")
	}
}

func TestReplyWithoutSenderIsInvalid(t *testing.T) {
	ipc, s := newTestSubsystem()
	obj, _ := ipc.CreateObject("taskB", "mailbox")
	receiver := s.NewThread(100, defs.SCHED_FIFO)

	if err := ipc.Reply(obj, receiver, []byte("x")); err != defs.EINVAL {
		t.Fatalf("Reply with no attached sender = %v, want EINVAL", err)
	}
}

func TestCancelDetachesSenderSide(t *testing.T) {
	ipc, s := newTestSubsystem()
	obj, _ := ipc.CreateObject("taskB", "mailbox")
	sender := s.NewThread(100, defs.SCHED_FIFO)
	receiver := s.NewThread(100, defs.SCHED_FIFO)

	sender.Receiver = &receiver.ID
	receiver.Sender = &sender.ID

	ipc.Cancel(obj, receiver)

	if sender.Receiver != nil {
		t.Fatalf("Cancel did not clear the attached sender's Receiver link")
	}
	if receiver.Sender != nil {
		t.Fatalf("Cancel did not clear receiver.Sender")
	}
}

func TestCancelRemovesFromSendQueue(t *testing.T) {
	ipc, s := newTestSubsystem()
	obj, _ := ipc.CreateObject("taskB", "mailbox")
	a := s.NewThread(100, defs.SCHED_FIFO)
	b := s.NewThread(100, defs.SCHED_FIFO)

	obj.mu.Lock()
	obj.sendq = []*sched.Thread_t{a, b}
	obj.mu.Unlock()

	ipc.Cancel(obj, a)

	obj.mu.Lock()
	defer obj.mu.Unlock()
	if len(obj.sendq) != 1 || obj.sendq[0] != b {
		t.Fatalf("sendq after Cancel = %v, want only b", obj.sendq)
	}
}

func TestDeleteClearsNamespaceAndQueues(t *testing.T) {
	ipc, s := newTestSubsystem()
	obj, _ := ipc.CreateObject("taskA", "mailbox")
	waiter := s.NewThread(100, defs.SCHED_FIFO)
	obj.mu.Lock()
	obj.recvq = append(obj.recvq, waiter)
	obj.mu.Unlock()

	ipc.Delete(obj)

	if _, err := ipc.Lookup("taskA", "mailbox"); err != defs.ESRCH {
		t.Fatalf("Lookup after Delete = %v, want ESRCH", err)
	}
	if !obj.deleted {
		t.Fatalf("object not marked deleted")
	}
}
