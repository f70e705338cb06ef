package account

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	"github.com/ethereum/go-ethereum/common"

	"github.com/perpdesk/smartmargin/pkg/automation"
	smcrypto "github.com/perpdesk/smartmargin/pkg/crypto"
	"github.com/perpdesk/smartmargin/pkg/market"
)

func newTestManager(t *testing.T, signer *smcrypto.KeeperSigner) (*Manager, *automation.Keeper, *market.Sim) {
	t.Helper()
	sim := market.NewSim()
	if err := sim.Register(btc, testMarketParams(), 10_000); err != nil {
		t.Fatalf("register market: %v", err)
	}
	keeper := automation.NewKeeper(keeperAddr, signer, nil)
	var pub *smcrypto.KeeperPubKey
	if signer != nil {
		pub = signer.PubKey()
	}
	mgr := NewManager(ManagerConfig{
		Settings:  testSettings(),
		Tasks:     keeper,
		KeeperPub: pub,
		NewMarket: func(common.Address) market.Adapter { return sim },
	})
	keeper.SetInbound(mgr)
	return mgr, keeper, sim
}

func placeEligibleOrder(t *testing.T, mgr *Manager) uint64 {
	t.Helper()
	ctx := context.Background()
	acct, err := mgr.Account(alice)
	if err != nil {
		t.Fatalf("provision: %v", err)
	}
	acct.Deposit(ctx, alice, 100_000)
	acct.DepositNative(ctx, alice, 1_000)
	id, err := acct.PlaceConditionalOrder(ctx, alice, PlaceOrderRequest{
		MarketKey:        btc,
		MarginDelta:      5_000,
		SizeDelta:        10,
		TargetPrice:      10_000,
		Type:             Limit,
		DesiredFillPrice: 11_000,
	})
	if err != nil {
		t.Fatalf("place: %v", err)
	}
	return id
}

func TestManagerCheckerPassthrough(t *testing.T) {
	mgr, _, _ := newTestManager(t, nil)
	id := placeEligibleOrder(t, mgr)

	eligible, payload := mgr.Checker(alice, id)
	if !eligible || payload == nil {
		t.Errorf("checker = (%v, %v), want eligible with payload", eligible, payload)
	}
	// Unknown owners are never eligible
	if eligible, _ := mgr.Checker(bob, id); eligible {
		t.Error("unknown owner reported eligible")
	}
}

func TestManagerHandleTriggerVerifiesSignature(t *testing.T) {
	seed := make([]byte, 32)
	seed[0] = 3
	signer := smcrypto.NewKeeperSignerFromSeed(seed)

	mgr, _, _ := newTestManager(t, signer)
	id := placeEligibleOrder(t, mgr)
	ctx := context.Background()

	// Garbage signature is rejected before any dispatch
	if err := mgr.HandleTrigger(ctx, alice, id, []byte("bogus")); !errors.Is(err, ErrUnauthorized) {
		t.Errorf("bad signature = %v, want ErrUnauthorized", err)
	}

	// Signature from a different key is rejected
	otherSeed := make([]byte, 32)
	otherSeed[0] = 4
	other := smcrypto.NewKeeperSignerFromSeed(otherSeed)
	badSig := other.Sign(automation.TriggerDigest(alice, id))
	if err := mgr.HandleTrigger(ctx, alice, id, badSig); !errors.Is(err, ErrUnauthorized) {
		t.Errorf("wrong key = %v, want ErrUnauthorized", err)
	}

	// The keeper's own signature executes the order
	sig := signer.Sign(automation.TriggerDigest(alice, id))
	if err := mgr.HandleTrigger(ctx, alice, id, sig); err != nil {
		t.Fatalf("valid trigger: %v", err)
	}
	acct, _ := mgr.Lookup(alice)
	if _, ok := acct.GetConditionalOrder(id); ok {
		t.Error("order still pending after valid trigger")
	}
}

// perOwnerVenue builds a fresh sim per account, mirroring the daemon wiring:
// a sim holds one position per market for its owning account and must never
// be shared across owners.
func perOwnerVenue(t *testing.T) func(common.Address) market.Adapter {
	t.Helper()
	return func(common.Address) market.Adapter {
		sim := market.NewSim()
		if err := sim.Register(btc, testMarketParams(), 10_000); err != nil {
			t.Fatalf("register market: %v", err)
		}
		return sim
	}
}

func TestManagerIsolatesMarketsPerOwner(t *testing.T) {
	mgr := NewManager(ManagerConfig{
		Settings:  testSettings(),
		NewMarket: perOwnerVenue(t),
	})
	ctx := context.Background()

	aliceAcct, _ := mgr.Account(alice)
	aliceAcct.Deposit(ctx, alice, 100_000)
	err := aliceAcct.Execute(ctx, alice,
		[]CommandKind{CmdModifyMarketMargin, CmdSubmitAtomicOrder},
		[]json.RawMessage{
			marshal(t, ModifyMarketMarginParams{Market: btc, Delta: 20_000}),
			marshal(t, SubmitOrderParams{Market: btc, SizeDelta: 10, DesiredFillPrice: 10_000}),
		})
	if err != nil {
		t.Fatalf("open position: %v", err)
	}

	// Another owner's venue is empty: it can neither read nor unwind the
	// first owner's position.
	bobAcct, _ := mgr.Account(bob)
	pos, err := bobAcct.GetPosition(btc)
	if err != nil {
		t.Fatalf("bob position: %v", err)
	}
	if pos.Size != 0 || pos.Margin != 0 {
		t.Errorf("bob sees another owner's position: size=%d margin=%d", pos.Size, pos.Margin)
	}

	got, err := aliceAcct.GetPosition(btc)
	if err != nil {
		t.Fatalf("alice position: %v", err)
	}
	if got.Size != 10 || got.Margin != 20_000 {
		t.Errorf("alice position = size %d margin %d, want 10/20000", got.Size, got.Margin)
	}
}

func TestRestoreReregistersPersistedTasks(t *testing.T) {
	store, err := NewStore(t.TempDir())
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	defer store.Close()

	seed := make([]byte, 32)
	seed[0] = 9
	signer := smcrypto.NewKeeperSignerFromSeed(seed)

	newLife := func() (*Manager, *automation.Keeper) {
		keeper := automation.NewKeeper(keeperAddr, signer, nil)
		mgr := NewManager(ManagerConfig{
			Settings:  testSettings(),
			Store:     store,
			Tasks:     keeper,
			KeeperPub: signer.PubKey(),
			NewMarket: perOwnerVenue(t),
		})
		keeper.SetInbound(mgr)
		return mgr, keeper
	}

	mgr1, _ := newLife()
	id := placeEligibleOrder(t, mgr1)

	// Second process life: no owner has touched the API yet.
	mgr2, keeper2 := newLife()
	if got := keeper2.TaskCount(); got != 0 {
		t.Fatalf("task count before restore = %d, want 0", got)
	}
	n, err := mgr2.Restore()
	if err != nil {
		t.Fatalf("restore: %v", err)
	}
	if n != 1 {
		t.Errorf("restored accounts = %d, want 1", n)
	}
	if got := keeper2.TaskCount(); got != 1 {
		t.Fatalf("task count after restore = %d, want 1", got)
	}

	// The restored task is live: the next poll cycle executes the order.
	keeper2.Tick(context.Background())
	acct, ok := mgr2.Lookup(alice)
	if !ok {
		t.Fatal("alice not provisioned by restore")
	}
	if _, pending := acct.GetConditionalOrder(id); pending {
		t.Error("order still pending after restored keeper tick")
	}
	if got := keeper2.TaskCount(); got != 0 {
		t.Errorf("task count after execution = %d, want 0", got)
	}
}

func TestKeeperLoopExecutesThroughManager(t *testing.T) {
	seed := make([]byte, 32)
	seed[0] = 5
	signer := smcrypto.NewKeeperSignerFromSeed(seed)

	mgr, keeper, _ := newTestManager(t, signer)
	id := placeEligibleOrder(t, mgr)

	// One poll cycle: checker reports eligible, trigger executes the order.
	keeper.Tick(context.Background())

	acct, _ := mgr.Lookup(alice)
	if _, ok := acct.GetConditionalOrder(id); ok {
		t.Error("order still pending after keeper tick")
	}
	if got := keeper.TaskCount(); got != 0 {
		t.Errorf("keeper tasks = %d, want 0", got)
	}
}
