package account

import (
	"context"
	"sync"
	"sync/atomic"

	"github.com/ethereum/go-ethereum/common"
	"go.uber.org/zap"

	"github.com/perpdesk/smartmargin/pkg/automation"
	"github.com/perpdesk/smartmargin/pkg/market"
)

// Settings are deployment-wide parameters shared by every account a Manager
// provisions: treasury address, conditional-order fee surcharges, the fixed
// keeper fee, and the global execution kill switch.
type Settings struct {
	Treasury         common.Address
	LimitOrderFeeBps int64
	StopOrderFeeBps  int64
	KeeperFee        int64 // native cents paid per trigger

	executionsPaused atomic.Bool
}

// PauseExecutions toggles the global conditional-order kill switch. Pending
// orders stay registered; their checkers report ineligible until resumed.
func (s *Settings) PauseExecutions(paused bool) {
	s.executionsPaused.Store(paused)
}

func (s *Settings) ExecutionsPaused() bool {
	return s.executionsPaused.Load()
}

// AllowanceProvider is the external token-allowance delegate. Permit grants
// are forwarded verbatim; the account never interprets them.
type AllowanceProvider interface {
	Permit(ctx context.Context, owner common.Address, p PermitAllowanceParams) error
}

// SwapProvider converts a whitelisted input token into margin-asset proceeds.
type SwapProvider interface {
	Whitelisted(token common.Address) bool
	Swap(ctx context.Context, owner common.Address, p SwapDepositParams) (int64, error)
}

// Config wires one account's collaborators.
type Config struct {
	Owner     common.Address
	Settings  *Settings
	Market    market.Adapter
	Tasks     automation.Adapter
	Allowance AllowanceProvider
	Swapper   SwapProvider
	Store     *Store // nil: in-memory only
	Sinks     []Sink
	Log       *zap.SugaredLogger
}

// Account is a user-owned smart-margin ledger: collateral balance, committed
// margin for pending conditional orders, and command dispatch into the
// external market and automation collaborators. A single mutex serializes
// every unit (owner batch or keeper trigger), so each either commits fully or
// has no observable effect.
type Account struct {
	mu        sync.Mutex
	log       *zap.SugaredLogger
	settings  *Settings
	market    market.Adapter
	tasks     automation.Adapter
	allowance AllowanceProvider
	swapper   SwapProvider
	store     *Store
	sinks     []Sink

	st state
}

func New(cfg Config) *Account {
	log := cfg.Log
	if log == nil {
		log = zap.NewNop().Sugar()
	}
	settings := cfg.Settings
	if settings == nil {
		settings = &Settings{}
	}
	return &Account{
		log:       log,
		settings:  settings,
		market:    cfg.Market,
		tasks:     cfg.Tasks,
		allowance: cfg.Allowance,
		swapper:   cfg.Swapper,
		store:     cfg.Store,
		sinks:     cfg.Sinks,
		st: state{
			Owner:  cfg.Owner,
			Orders: make(map[uint64]*ConditionalOrder),
		},
	}
}

// restore replaces the in-memory state with a loaded snapshot. Called by the
// Manager before the account serves any unit.
func (a *Account) restore(st state) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if st.Orders == nil {
		st.Orders = make(map[uint64]*ConditionalOrder)
	}
	a.st = st
}

func (a *Account) Owner() common.Address {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.st.Owner
}

func (a *Account) Balance() int64 {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.st.Balance
}

func (a *Account) CommittedMargin() int64 {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.st.CommittedMargin
}

func (a *Account) FreeMargin() int64 {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.st.freeMargin()
}

func (a *Account) NativeBalance() int64 {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.st.NativeBalance
}

// GetConditionalOrder returns a Pending order by id.
func (a *Account) GetConditionalOrder(id uint64) (ConditionalOrder, bool) {
	a.mu.Lock()
	defer a.mu.Unlock()
	o, ok := a.st.Orders[id]
	if !ok {
		return ConditionalOrder{}, false
	}
	return *o, true
}

// ConditionalOrders returns a snapshot of all Pending orders.
func (a *Account) ConditionalOrders() []ConditionalOrder {
	a.mu.Lock()
	defer a.mu.Unlock()
	out := make([]ConditionalOrder, 0, len(a.st.Orders))
	for _, o := range a.st.Orders {
		out = append(out, *o)
	}
	return out
}

// GetPosition is a fresh read-only projection from the market adapter.
func (a *Account) GetPosition(key market.Key) (market.Position, error) {
	return a.market.Position(key)
}

// GetDelayedOrder is a fresh read-only projection from the market adapter.
func (a *Account) GetDelayedOrder(key market.Key) (market.DelayedOrder, error) {
	return a.market.DelayedOrder(key)
}

// transferOwnership re-keys the single owner capability. Manager-only.
func (a *Account) transferOwnership(next common.Address) common.Address {
	a.mu.Lock()
	defer a.mu.Unlock()
	prev := a.st.Owner
	a.st.Owner = next
	if a.store != nil {
		// One batch: purge the previous owner's records and write the new
		// ones, so the balance never exists under two addresses.
		if err := a.store.TransferState(prev, &a.st); err != nil {
			a.log.Errorw("persist_failed", "owner", next.Hex(), "err", err)
		}
	}
	for _, s := range a.sinks {
		s.Publish(next, OwnershipTransferredEvent{Previous: prev, Next: next})
	}
	return prev
}

// runOwner executes fn as one owner-initiated atomic unit.
func (a *Account) runOwner(ctx context.Context, caller common.Address, fn func(context.Context, *uow) error) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if caller != a.st.Owner {
		return ErrUnauthorized
	}
	u := a.newUow()
	if err := fn(ctx, u); err != nil {
		u.discard()
		return err
	}
	return u.commit()
}

// Deposit credits margin-asset collateral to the ledger.
func (a *Account) Deposit(ctx context.Context, caller common.Address, amount int64) error {
	return a.runOwner(ctx, caller, func(_ context.Context, u *uow) error {
		return u.deposit(amount)
	})
}

// Withdraw debits free margin back to the owner.
func (a *Account) Withdraw(ctx context.Context, caller common.Address, amount int64) error {
	return a.runOwner(ctx, caller, func(_ context.Context, u *uow) error {
		return u.withdraw(amount)
	})
}

// DepositNative credits native-token balance used for keeper fees.
func (a *Account) DepositNative(ctx context.Context, caller common.Address, amount int64) error {
	return a.runOwner(ctx, caller, func(_ context.Context, u *uow) error {
		return u.depositNative(amount)
	})
}

// WithdrawNative debits native-token balance back to the owner.
func (a *Account) WithdrawNative(ctx context.Context, caller common.Address, amount int64) error {
	return a.runOwner(ctx, caller, func(_ context.Context, u *uow) error {
		return u.withdrawNative(amount)
	})
}

// PlaceConditionalOrder places a standing limit/stop order and registers its
// automation task. Owner-only.
func (a *Account) PlaceConditionalOrder(ctx context.Context, caller common.Address, req PlaceOrderRequest) (uint64, error) {
	var id uint64
	err := a.runOwner(ctx, caller, func(_ context.Context, u *uow) error {
		var err error
		id, err = u.placeConditionalOrder(req)
		return err
	})
	return id, err
}

// CancelConditionalOrder cancels a Pending order, freeing its committed
// margin and deregistering its task. Owner-only.
func (a *Account) CancelConditionalOrder(ctx context.Context, caller common.Address, id uint64) error {
	return a.runOwner(ctx, caller, func(_ context.Context, u *uow) error {
		return u.cancelConditionalOrder(id)
	})
}
