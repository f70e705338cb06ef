package account

import (
	"context"

	"github.com/perpdesk/smartmargin/pkg/automation"
	"github.com/perpdesk/smartmargin/pkg/market"
)

// uow is one atomic unit of work. Handlers mutate a working copy of account
// state and a staged market session; automation register/cancel calls and
// events are buffered. commit applies everything at a single point, so a
// handler failure anywhere in a batch leaves no observable effect.
type uow struct {
	acct      *Account
	st        state
	mkt       market.Session
	registers []automation.Task
	cancels   []automation.TaskHandle
	events    []Event
}

func (a *Account) newUow() *uow {
	return &uow{acct: a, st: a.st.clone()}
}

// market lazily opens the staged venue session.
func (u *uow) market() (market.Session, error) {
	if u.mkt != nil {
		return u.mkt, nil
	}
	s, err := u.acct.market.Begin()
	if err != nil {
		return nil, &ExternalRejectionError{Provider: "market", Err: err}
	}
	u.mkt = s
	return s, nil
}

func (u *uow) emit(ev Event) {
	u.events = append(u.events, ev)
}

func (u *uow) discard() {
	if u.mkt != nil {
		u.mkt.Discard()
		u.mkt = nil
	}
}

// commit makes the unit observable: venue session first (the only fallible
// step that can still abort the unit), then durable state, then buffered
// automation calls and events. Post-venue failures are logged, never
// propagated: the unit has committed.
func (u *uow) commit() error {
	a := u.acct

	if u.mkt != nil {
		if err := u.mkt.Commit(); err != nil {
			return &ExternalRejectionError{Provider: "market", Err: err}
		}
		u.mkt = nil
	}

	if a.store != nil {
		var removed []uint64
		for id := range a.st.Orders {
			if _, ok := u.st.Orders[id]; !ok {
				removed = append(removed, id)
			}
		}
		if err := a.store.SaveState(&u.st, removed); err != nil {
			a.log.Errorw("persist_failed", "owner", u.st.Owner.Hex(), "err", err)
		}
	}

	a.st = u.st

	if a.tasks != nil {
		for _, h := range u.cancels {
			if err := a.tasks.CancelTask(h); err != nil {
				a.log.Warnw("task_cancel_failed", "err", err)
			}
		}
		for _, t := range u.registers {
			if err := a.tasks.RegisterTask(t); err != nil {
				a.log.Warnw("task_register_failed", "order_id", t.OrderID, "err", err)
			}
		}
	}

	for _, ev := range u.events {
		for _, s := range a.sinks {
			s.Publish(a.st.Owner, ev)
		}
	}
	return nil
}

// --- Ledger handlers ---

func (u *uow) deposit(amount int64) error {
	if amount <= 0 {
		return ErrValueCannotBeZero
	}
	u.st.Balance += amount
	u.emit(DepositEvent{Amount: amount})
	return nil
}

func (u *uow) withdraw(amount int64) error {
	if amount <= 0 {
		return ErrValueCannotBeZero
	}
	if free := u.st.freeMargin(); amount > free {
		return &InsufficientFreeMarginError{Available: free, Requested: amount}
	}
	u.st.Balance -= amount
	u.emit(WithdrawEvent{Amount: amount})
	return nil
}

func (u *uow) depositNative(amount int64) error {
	if amount <= 0 {
		return ErrValueCannotBeZero
	}
	u.st.NativeBalance += amount
	u.emit(NativeDepositEvent{Amount: amount})
	return nil
}

func (u *uow) withdrawNative(amount int64) error {
	if amount <= 0 {
		return ErrValueCannotBeZero
	}
	if amount > u.st.NativeBalance {
		return ErrNativeWithdrawalFailed
	}
	u.st.NativeBalance -= amount
	u.emit(NativeWithdrawEvent{Amount: amount})
	return nil
}

// --- Market handlers ---

// modifyMarketMargin moves collateral between the ledger and the market. A
// positive delta is checked against free margin here; a negative delta is a
// withdrawal request the venue itself validates against its margin floor.
func (u *uow) modifyMarketMargin(key market.Key, delta int64) error {
	if delta == 0 {
		return ErrValueCannotBeZero
	}
	s, err := u.market()
	if err != nil {
		return err
	}
	if delta > 0 {
		if free := u.st.freeMargin(); delta > free {
			return &InsufficientFreeMarginError{Available: free, Requested: delta}
		}
		if err := s.ModifyMargin(key, delta); err != nil {
			return &ExternalRejectionError{Provider: "market", Err: err}
		}
		u.st.Balance -= delta
		return nil
	}
	if err := s.ModifyMargin(key, delta); err != nil {
		return &ExternalRejectionError{Provider: "market", Err: err}
	}
	u.st.Balance += -delta
	return nil
}

func (u *uow) withdrawAllMarketMargin(key market.Key) error {
	s, err := u.market()
	if err != nil {
		return err
	}
	amount, err := s.WithdrawAllMargin(key)
	if err != nil {
		return &ExternalRejectionError{Provider: "market", Err: err}
	}
	u.st.Balance += amount
	return nil
}

func (u *uow) submitAtomicOrder(key market.Key, sizeDelta, fillBound int64) error {
	s, err := u.market()
	if err != nil {
		return err
	}
	if err := u.chargeTradeFee(s, key, sizeDelta, 0); err != nil {
		return err
	}
	if err := s.SubmitAtomicOrder(key, sizeDelta, fillBound); err != nil {
		return &ExternalRejectionError{Provider: "market", Err: err}
	}
	return nil
}

func (u *uow) submitDelayedOrder(key market.Key, sizeDelta, fillBound int64) error {
	s, err := u.market()
	if err != nil {
		return err
	}
	if err := u.chargeTradeFee(s, key, sizeDelta, 0); err != nil {
		return err
	}
	if err := s.SubmitDelayedOrder(key, sizeDelta, fillBound); err != nil {
		return &ExternalRejectionError{Provider: "market", Err: err}
	}
	return nil
}

func (u *uow) submitOffchainDelayedOrder(key market.Key, sizeDelta, fillBound int64) error {
	s, err := u.market()
	if err != nil {
		return err
	}
	if err := u.chargeTradeFee(s, key, sizeDelta, 0); err != nil {
		return err
	}
	if err := s.SubmitOffchainDelayedOrder(key, sizeDelta, fillBound); err != nil {
		return &ExternalRejectionError{Provider: "market", Err: err}
	}
	return nil
}

func (u *uow) cancelDelayedOrder(key market.Key) error {
	s, err := u.market()
	if err != nil {
		return err
	}
	if err := s.CancelDelayedOrder(key); err != nil {
		return &ExternalRejectionError{Provider: "market", Err: err}
	}
	return nil
}

func (u *uow) cancelOffchainDelayedOrder(key market.Key) error {
	s, err := u.market()
	if err != nil {
		return err
	}
	if err := s.CancelOffchainDelayedOrder(key); err != nil {
		return &ExternalRejectionError{Provider: "market", Err: err}
	}
	return nil
}

func (u *uow) closePosition(key market.Key, fillBound int64) error {
	s, err := u.market()
	if err != nil {
		return err
	}
	pos, err := s.Position(key)
	if err != nil {
		return &ExternalRejectionError{Provider: "market", Err: err}
	}
	if err := u.chargeTradeFee(s, key, -pos.Size, 0); err != nil {
		return err
	}
	if err := s.ClosePosition(key, fillBound); err != nil {
		return &ExternalRejectionError{Provider: "market", Err: err}
	}
	return nil
}

// --- Collaborator handlers ---

func (u *uow) permitAllowance(ctx context.Context, p PermitAllowanceParams) error {
	if u.acct.allowance == nil {
		return &ExternalRejectionError{Provider: "allowance", Err: errNoProvider}
	}
	if err := u.acct.allowance.Permit(ctx, u.st.Owner, p); err != nil {
		return &ExternalRejectionError{Provider: "allowance", Err: err}
	}
	return nil
}

func (u *uow) swapDeposit(ctx context.Context, p SwapDepositParams) error {
	if u.acct.swapper == nil {
		return &ExternalRejectionError{Provider: "swap", Err: errNoProvider}
	}
	if !u.acct.swapper.Whitelisted(p.TokenIn) {
		return &TokenNotWhitelistedError{Token: p.TokenIn.Hex()}
	}
	proceeds, err := u.acct.swapper.Swap(ctx, u.st.Owner, p)
	if err != nil {
		return &ExternalRejectionError{Provider: "swap", Err: err}
	}
	u.st.Balance += proceeds
	u.emit(DepositEvent{Amount: proceeds})
	return nil
}
