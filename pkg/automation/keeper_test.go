package automation

import (
	"bytes"
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/ethereum/go-ethereum/common"

	"github.com/perpdesk/smartmargin/pkg/crypto"
)

var (
	testCaller = common.HexToAddress("0xCC00000000000000000000000000000000000000")
	testOwner  = common.HexToAddress("0xAA00000000000000000000000000000000000000")
)

func TestDeriveHandleDeterministic(t *testing.T) {
	a := DeriveHandle(testOwner, 1)
	b := DeriveHandle(testOwner, 1)
	if a != b {
		t.Error("same inputs must derive the same handle")
	}
	if DeriveHandle(testOwner, 2) == a {
		t.Error("different order ids must derive different handles")
	}
	if DeriveHandle(testCaller, 1) == a {
		t.Error("different owners must derive different handles")
	}
}

func TestTriggerDigestBindsOwnerAndOrder(t *testing.T) {
	base := TriggerDigest(testOwner, 1)
	if bytes.Equal(base, TriggerDigest(testOwner, 2)) {
		t.Error("digest must bind the order id")
	}
	if bytes.Equal(base, TriggerDigest(testCaller, 1)) {
		t.Error("digest must bind the owner")
	}
}

func TestKeeperTaskTable(t *testing.T) {
	k := NewKeeper(testCaller, nil, nil)

	task := Task{Handle: DeriveHandle(testOwner, 1), Account: testOwner, OrderID: 1}
	if err := k.RegisterTask(task); err != nil {
		t.Fatalf("register: %v", err)
	}
	if got := k.TaskCount(); got != 1 {
		t.Errorf("task count = %d, want 1", got)
	}

	if err := k.CancelTask(task.Handle); err != nil {
		t.Fatalf("cancel: %v", err)
	}
	if got := k.TaskCount(); got != 0 {
		t.Errorf("task count = %d, want 0", got)
	}

	// Cancelling an absent handle is a no-op
	if err := k.CancelTask(DeriveHandle(testOwner, 99)); err != nil {
		t.Errorf("cancel absent: %v", err)
	}
}

// fakeInbound records triggers and controls eligibility per order id.
type fakeInbound struct {
	mu       sync.Mutex
	eligible map[uint64]bool
	fail     bool
	triggers []uint64
	sigs     [][]byte
}

func (f *fakeInbound) Checker(_ common.Address, orderID uint64) (bool, []byte) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.eligible[orderID], nil
}

func (f *fakeInbound) HandleTrigger(_ context.Context, _ common.Address, orderID uint64, sig []byte) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.fail {
		return errors.New("rejected")
	}
	f.triggers = append(f.triggers, orderID)
	f.sigs = append(f.sigs, sig)
	return nil
}

func TestKeeperTriggersEligibleTasks(t *testing.T) {
	seed := make([]byte, 32)
	seed[0] = 7
	signer := crypto.NewKeeperSignerFromSeed(seed)

	k := NewKeeper(testCaller, signer, nil)
	in := &fakeInbound{eligible: map[uint64]bool{1: true, 2: false}}
	k.SetInbound(in)

	k.RegisterTask(Task{Handle: DeriveHandle(testOwner, 1), Account: testOwner, OrderID: 1})
	k.RegisterTask(Task{Handle: DeriveHandle(testOwner, 2), Account: testOwner, OrderID: 2})

	k.Tick(context.Background())

	if len(in.triggers) != 1 || in.triggers[0] != 1 {
		t.Fatalf("triggers = %v, want [1]", in.triggers)
	}
	// The trigger carries a valid BLS signature over the trigger digest
	if !crypto.VerifyKeeper(signer.PubKey(), in.sigs[0], TriggerDigest(testOwner, 1)) {
		t.Error("trigger signature does not verify")
	}
}

func TestKeeperRetriesFailedTriggers(t *testing.T) {
	k := NewKeeper(testCaller, nil, nil)
	in := &fakeInbound{eligible: map[uint64]bool{1: true}, fail: true}
	k.SetInbound(in)
	k.RegisterTask(Task{Handle: DeriveHandle(testOwner, 1), Account: testOwner, OrderID: 1})

	k.Tick(context.Background())
	if got := k.TaskCount(); got != 1 {
		t.Errorf("failed trigger dropped the task: count = %d, want 1", got)
	}

	// Next tick succeeds
	in.mu.Lock()
	in.fail = false
	in.mu.Unlock()
	k.Tick(context.Background())
	if len(in.triggers) != 1 {
		t.Errorf("triggers = %v, want one after retry", in.triggers)
	}
}

func TestKeeperMirrorsAnnouncements(t *testing.T) {
	k := NewKeeper(testCaller, nil, nil)

	task := Task{Handle: DeriveHandle(testOwner, 5), Account: testOwner, OrderID: 5}
	k.handleAnnounce(Announce{Registered: true, Task: task})
	if got := k.TaskCount(); got != 1 {
		t.Errorf("task count = %d, want 1 after registration announce", got)
	}
	k.handleAnnounce(Announce{Registered: false, Task: task})
	if got := k.TaskCount(); got != 0 {
		t.Errorf("task count = %d, want 0 after cancellation announce", got)
	}
}
