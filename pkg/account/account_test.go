package account

import (
	"context"
	"errors"
	"testing"

	"github.com/ethereum/go-ethereum/common"

	"github.com/perpdesk/smartmargin/pkg/automation"
	"github.com/perpdesk/smartmargin/pkg/market"
)

var (
	alice      = common.HexToAddress("0xAA00000000000000000000000000000000000000")
	bob        = common.HexToAddress("0xBB00000000000000000000000000000000000000")
	keeperAddr = common.HexToAddress("0xCC00000000000000000000000000000000000000")
)

const btc market.Key = "BTC-PERP"

func testMarketParams() market.Params {
	return market.Params{
		TickSize:             1,
		LotSize:              1,
		MaxLeverage:          25,
		InitialMarginBps:     400,
		MaintenanceMarginBps: 100,
		MinMargin:            100,
		BaseFeeBps:           10,
		MaxPosition:          1_000_000,
	}
}

func testSettings() *Settings {
	return &Settings{
		Treasury:         common.HexToAddress("0x7EA0000000000000000000000000000000000000"),
		LimitOrderFeeBps: 5,
		StopOrderFeeBps:  10,
		KeeperFee:        50,
	}
}

// testRig is one account wired to a fresh simulated venue and an in-process
// keeper.
type testRig struct {
	acct     *Account
	sim      *market.Sim
	keeper   *automation.Keeper
	settings *Settings
}

func newTestRig(t *testing.T) *testRig {
	t.Helper()
	sim := market.NewSim()
	if err := sim.Register(btc, testMarketParams(), 10_000); err != nil {
		t.Fatalf("register market: %v", err)
	}
	keeper := automation.NewKeeper(keeperAddr, nil, nil)
	settings := testSettings()
	acct := New(Config{
		Owner:    alice,
		Settings: settings,
		Market:   sim,
		Tasks:    keeper,
	})
	return &testRig{acct: acct, sim: sim, keeper: keeper, settings: settings}
}

func TestDepositWithdraw(t *testing.T) {
	r := newTestRig(t)
	ctx := context.Background()

	if err := r.acct.Deposit(ctx, alice, 100_000); err != nil {
		t.Fatalf("deposit: %v", err)
	}
	if got := r.acct.Balance(); got != 100_000 {
		t.Errorf("balance = %d, want 100000", got)
	}
	if got := r.acct.FreeMargin(); got != 100_000 {
		t.Errorf("free margin = %d, want 100000", got)
	}

	if err := r.acct.Withdraw(ctx, alice, 40_000); err != nil {
		t.Fatalf("withdraw: %v", err)
	}
	if got := r.acct.Balance(); got != 60_000 {
		t.Errorf("balance = %d, want 60000", got)
	}
}

func TestDepositRejectsNonPositive(t *testing.T) {
	r := newTestRig(t)
	ctx := context.Background()

	for _, amount := range []int64{0, -1} {
		if err := r.acct.Deposit(ctx, alice, amount); !errors.Is(err, ErrValueCannotBeZero) {
			t.Errorf("deposit(%d) = %v, want ErrValueCannotBeZero", amount, err)
		}
		if err := r.acct.Withdraw(ctx, alice, amount); !errors.Is(err, ErrValueCannotBeZero) {
			t.Errorf("withdraw(%d) = %v, want ErrValueCannotBeZero", amount, err)
		}
	}
}

func TestWithdrawBoundedByFreeMargin(t *testing.T) {
	r := newTestRig(t)
	ctx := context.Background()
	r.acct.Deposit(ctx, alice, 10_000)

	// Committed margin is not withdrawable
	if _, err := r.acct.PlaceConditionalOrder(ctx, alice, PlaceOrderRequest{
		MarketKey:   btc,
		MarginDelta: 6_000,
		SizeDelta:   10,
		TargetPrice: 9_000,
		Type:        Limit,
	}); err != nil {
		t.Fatalf("place: %v", err)
	}

	err := r.acct.Withdraw(ctx, alice, 5_000)
	var insufficient *InsufficientFreeMarginError
	if !errors.As(err, &insufficient) {
		t.Fatalf("withdraw = %v, want InsufficientFreeMarginError", err)
	}
	if insufficient.Available != 4_000 || insufficient.Requested != 5_000 {
		t.Errorf("error detail = %+v, want available 4000, requested 5000", insufficient)
	}

	if err := r.acct.Withdraw(ctx, alice, 4_000); err != nil {
		t.Errorf("withdraw within free margin: %v", err)
	}
}

func TestNativeBalance(t *testing.T) {
	r := newTestRig(t)
	ctx := context.Background()

	if err := r.acct.DepositNative(ctx, alice, 1_000); err != nil {
		t.Fatalf("deposit native: %v", err)
	}
	if err := r.acct.WithdrawNative(ctx, alice, 400); err != nil {
		t.Fatalf("withdraw native: %v", err)
	}
	if got := r.acct.NativeBalance(); got != 600 {
		t.Errorf("native balance = %d, want 600", got)
	}
	if err := r.acct.WithdrawNative(ctx, alice, 601); !errors.Is(err, ErrNativeWithdrawalFailed) {
		t.Errorf("overdrawn native withdraw = %v, want ErrNativeWithdrawalFailed", err)
	}
}

func TestOwnerOnly(t *testing.T) {
	r := newTestRig(t)
	ctx := context.Background()

	if err := r.acct.Deposit(ctx, bob, 100); !errors.Is(err, ErrUnauthorized) {
		t.Errorf("deposit by non-owner = %v, want ErrUnauthorized", err)
	}
	if err := r.acct.Withdraw(ctx, bob, 100); !errors.Is(err, ErrUnauthorized) {
		t.Errorf("withdraw by non-owner = %v, want ErrUnauthorized", err)
	}
	if _, err := r.acct.PlaceConditionalOrder(ctx, bob, PlaceOrderRequest{
		MarketKey: btc, SizeDelta: 1, Type: Limit,
	}); !errors.Is(err, ErrUnauthorized) {
		t.Errorf("place by non-owner = %v, want ErrUnauthorized", err)
	}
}

func TestEventsPublishedOnCommitOnly(t *testing.T) {
	r := newTestRig(t)
	ctx := context.Background()

	var events []Event
	r.acct.sinks = []Sink{sinkFunc(func(_ common.Address, ev Event) {
		events = append(events, ev)
	})}

	r.acct.Deposit(ctx, alice, 1_000)
	if len(events) != 1 || events[0].Name() != "deposit" {
		t.Fatalf("events after deposit = %v", events)
	}

	// Failed unit publishes nothing
	r.acct.Withdraw(ctx, alice, 100_000)
	if len(events) != 1 {
		t.Errorf("failed withdraw published events: %v", events[1:])
	}
}

type sinkFunc func(common.Address, Event)

func (f sinkFunc) Publish(owner common.Address, ev Event) { f(owner, ev) }

func TestPersistenceRoundTrip(t *testing.T) {
	store, err := NewStore(t.TempDir())
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	defer store.Close()

	sim := market.NewSim()
	sim.Register(btc, testMarketParams(), 10_000)
	keeper := automation.NewKeeper(keeperAddr, nil, nil)
	settings := testSettings()

	newMgr := func() *Manager {
		return NewManager(ManagerConfig{
			Settings:  settings,
			Store:     store,
			Tasks:     keeper,
			NewMarket: func(common.Address) market.Adapter { return sim },
		})
	}

	ctx := context.Background()
	mgr := newMgr()
	acct, err := mgr.Account(alice)
	if err != nil {
		t.Fatalf("provision: %v", err)
	}
	acct.Deposit(ctx, alice, 100_000)
	acct.DepositNative(ctx, alice, 500)
	id, err := acct.PlaceConditionalOrder(ctx, alice, PlaceOrderRequest{
		MarketKey:   btc,
		MarginDelta: 5_000,
		SizeDelta:   10,
		TargetPrice: 9_000,
		Type:        Stop,
	})
	if err != nil {
		t.Fatalf("place: %v", err)
	}

	// A fresh manager over the same store must restore the full state
	reloaded, err := newMgr().Account(alice)
	if err != nil {
		t.Fatalf("reload: %v", err)
	}
	if got := reloaded.Balance(); got != 100_000 {
		t.Errorf("reloaded balance = %d, want 100000", got)
	}
	if got := reloaded.CommittedMargin(); got != 5_000 {
		t.Errorf("reloaded committed margin = %d, want 5000", got)
	}
	if got := reloaded.NativeBalance(); got != 500 {
		t.Errorf("reloaded native balance = %d, want 500", got)
	}
	o, ok := reloaded.GetConditionalOrder(id)
	if !ok {
		t.Fatalf("order %d lost across reload", id)
	}
	if o.Type != Stop || o.TargetPrice != 9_000 || o.SizeDelta != 10 {
		t.Errorf("reloaded order = %+v", o)
	}
	if o.TaskHandle != automation.DeriveHandle(alice, id) {
		t.Error("reloaded order lost its task handle")
	}
}

func TestManagerTransferOwnership(t *testing.T) {
	sim := market.NewSim()
	sim.Register(btc, testMarketParams(), 10_000)
	mgr := NewManager(ManagerConfig{
		Settings:  testSettings(),
		NewMarket: func(common.Address) market.Adapter { return sim },
	})

	ctx := context.Background()
	acct, _ := mgr.Account(alice)
	acct.Deposit(ctx, alice, 1_000)

	if err := mgr.TransferOwnership(alice, bob); err != nil {
		t.Fatalf("transfer: %v", err)
	}

	// The previous owner lost the capability; the new owner holds it
	if err := acct.Deposit(ctx, alice, 100); !errors.Is(err, ErrUnauthorized) {
		t.Errorf("previous owner still authorized: %v", err)
	}
	if err := acct.Deposit(ctx, bob, 100); err != nil {
		t.Errorf("new owner rejected: %v", err)
	}
	if _, ok := mgr.Lookup(alice); ok {
		t.Error("manager still indexes the previous owner")
	}
	if _, ok := mgr.Lookup(bob); !ok {
		t.Error("manager does not index the new owner")
	}

	// Balance moved with the account
	if got := acct.Balance(); got != 1_100 {
		t.Errorf("balance = %d, want 1100", got)
	}
}

func TestTransferOwnershipPurgesPreviousOwner(t *testing.T) {
	store, err := NewStore(t.TempDir())
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	defer store.Close()

	newMgr := func() *Manager {
		return NewManager(ManagerConfig{
			Settings: testSettings(),
			Store:    store,
			NewMarket: func(common.Address) market.Adapter {
				sim := market.NewSim()
				sim.Register(btc, testMarketParams(), 10_000)
				return sim
			},
		})
	}

	ctx := context.Background()
	mgr := newMgr()
	acct, err := mgr.Account(alice)
	if err != nil {
		t.Fatalf("provision: %v", err)
	}
	acct.Deposit(ctx, alice, 10_000)
	id, err := acct.PlaceConditionalOrder(ctx, alice, PlaceOrderRequest{
		MarketKey:   btc,
		MarginDelta: 4_000,
		SizeDelta:   10,
		TargetPrice: 9_000,
		Type:        Limit,
	})
	if err != nil {
		t.Fatalf("place: %v", err)
	}
	if err := mgr.TransferOwnership(alice, bob); err != nil {
		t.Fatalf("transfer: %v", err)
	}

	// A fresh manager over the same store sees the state under the new owner
	// only; the previous address starts from scratch.
	reloaded := newMgr()
	bobAcct, err := reloaded.Account(bob)
	if err != nil {
		t.Fatalf("reload bob: %v", err)
	}
	if got := bobAcct.Balance(); got != 10_000 {
		t.Errorf("bob balance = %d, want 10000", got)
	}
	if got := bobAcct.CommittedMargin(); got != 4_000 {
		t.Errorf("bob committed margin = %d, want 4000", got)
	}
	if _, ok := bobAcct.GetConditionalOrder(id); !ok {
		t.Errorf("order %d lost across transfer", id)
	}

	aliceAcct, err := reloaded.Account(alice)
	if err != nil {
		t.Fatalf("reload alice: %v", err)
	}
	if got := aliceAcct.Balance(); got != 0 {
		t.Errorf("stale balance resurrected under previous owner: %d", got)
	}
	if got := len(aliceAcct.ConditionalOrders()); got != 0 {
		t.Errorf("stale orders resurrected under previous owner: %d", got)
	}
}
