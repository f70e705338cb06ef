package account

import (
	"context"
	"encoding/json"

	"github.com/ethereum/go-ethereum/common"

	"github.com/perpdesk/smartmargin/pkg/automation"
)

// TriggerPayload is the data half of the checker result: the exact call the
// keeper must submit to trigger execution.
type TriggerPayload struct {
	Account string `json:"account"`
	OrderID uint64 `json:"order_id"`
}

// placeConditionalOrder stores a Pending order, reserves its positive margin
// delta against free margin, and buffers the automation task registration.
func (u *uow) placeConditionalOrder(req PlaceOrderRequest) (uint64, error) {
	if req.SizeDelta == 0 {
		return 0, ErrZeroSizeDelta
	}
	if req.Type != Limit && req.Type != Stop {
		return 0, &InvalidOrderTypeError{Ordinal: uint8(req.Type)}
	}
	if req.MarginDelta > 0 {
		if free := u.st.freeMargin(); req.MarginDelta > free {
			return 0, &InsufficientFreeMarginError{Available: free, Requested: req.MarginDelta}
		}
		u.st.CommittedMargin += req.MarginDelta
	}

	id := u.st.NextOrderID
	u.st.NextOrderID++

	handle := automation.DeriveHandle(u.st.Owner, id)
	u.st.Orders[id] = &ConditionalOrder{
		ID:               id,
		MarketKey:        req.MarketKey,
		MarginDelta:      req.MarginDelta,
		SizeDelta:        req.SizeDelta,
		TargetPrice:      req.TargetPrice,
		Type:             req.Type,
		DesiredFillPrice: req.DesiredFillPrice,
		ReduceOnly:       req.ReduceOnly,
		TaskHandle:       handle,
	}
	u.registers = append(u.registers, automation.Task{Handle: handle, Account: u.st.Owner, OrderID: id})

	u.emit(OrderPlacedEvent{
		ID:          id,
		MarketKey:   req.MarketKey,
		MarginDelta: req.MarginDelta,
		SizeDelta:   req.SizeDelta,
		TargetPrice: req.TargetPrice,
		OrderType:   req.Type.String(),
		ReduceOnly:  req.ReduceOnly,
	})
	return id, nil
}

// cancelConditionalOrder moves a Pending order to the Cancelled terminal:
// frees its committed margin, deletes the record, buffers the task
// deregistration.
func (u *uow) cancelConditionalOrder(id uint64) error {
	o, ok := u.st.Orders[id]
	if !ok {
		return &OrderNotFoundError{ID: id}
	}
	u.st.CommittedMargin -= o.committed()
	delete(u.st.Orders, id)
	u.cancels = append(u.cancels, o.TaskHandle)
	u.emit(OrderCancelledEvent{ID: id, Reason: CancelledByUser.String()})
	return nil
}

// eligibleNow re-evaluates the eligibility predicate against live market
// state: false when the order is gone, executions are globally paused, the
// market is suspended, or the oracle reading is invalid. Returns the current
// price for eligible orders.
func (a *Account) eligibleNow(o *ConditionalOrder) (int64, bool) {
	if a.settings.ExecutionsPaused() {
		return 0, false
	}
	suspended, err := a.market.Suspended(o.MarketKey)
	if err != nil || suspended {
		return 0, false
	}
	price, err := a.market.AssetPrice(o.MarketKey)
	if err != nil {
		return 0, false
	}
	return price, o.eligibleAt(price)
}

// Checker is the read-only eligibility predicate the automation network
// polls. The returned data is the trigger payload to submit when eligible.
func (a *Account) Checker(id uint64) (bool, []byte) {
	a.mu.Lock()
	defer a.mu.Unlock()

	o, ok := a.st.Orders[id]
	if !ok {
		return false, nil
	}
	if _, ok := a.eligibleNow(o); !ok {
		return false, nil
	}
	data, err := json.Marshal(TriggerPayload{Account: a.st.Owner.Hex(), OrderID: id})
	if err != nil {
		return false, nil
	}
	return true, data
}

// ExecuteConditionalOrder is the automation network's execution entry point.
// Eligibility is re-validated here against current state; a stale checker
// result is never trusted. The whole call is one atomic unit: a failure at
// any step, including the keeper fee transfer, leaves no side effects.
func (a *Account) ExecuteConditionalOrder(ctx context.Context, caller common.Address, id uint64) error {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.tasks == nil || caller != a.tasks.Caller() {
		return ErrUnauthorized
	}
	o, ok := a.st.Orders[id]
	if !ok {
		return &OrderNotFoundError{ID: id}
	}
	price, ok := a.eligibleNow(o)
	if !ok {
		return ErrConditionNotMet
	}

	u := a.newUow()
	if err := u.executeConditionalOrder(id, price); err != nil {
		u.discard()
		return err
	}
	return u.commit()
}

func (u *uow) executeConditionalOrder(id uint64, price int64) error {
	o := u.st.Orders[id]

	s, err := u.market()
	if err != nil {
		return err
	}

	sizeDelta := o.SizeDelta
	if o.ReduceOnly {
		pos, perr := s.Position(o.MarketKey)
		if perr != nil {
			return &ExternalRejectionError{Provider: "market", Err: perr}
		}

		// A reduce-only order that would grow or establish a position is
		// cancelled instead of filled; the keeper still gets paid for the
		// trigger.
		if pos.Size == 0 || (pos.Size > 0 && o.SizeDelta > 0) || (pos.Size < 0 && o.SizeDelta < 0) {
			u.st.CommittedMargin -= o.committed()
			delete(u.st.Orders, id)
			u.cancels = append(u.cancels, o.TaskHandle)
			if err := u.payKeeperFee(); err != nil {
				return err
			}
			u.emit(OrderCancelledEvent{
				ID:        id,
				Reason:    CancelledNotReduceOnly.String(),
				KeeperFee: u.acct.settings.KeeperFee,
			})
			return nil
		}

		// Clamp at the zero-crossing. The two directions are handled as
		// separate branches.
		if pos.Size > 0 {
			if sizeDelta < -pos.Size {
				sizeDelta = -pos.Size
			}
		} else {
			if sizeDelta > -pos.Size {
				sizeDelta = -pos.Size
			}
		}
	}

	// Free the committed margin and apply the order's margin delta through
	// the venue. Positive deltas move ledger balance into the market;
	// negative deltas are withdrawal requests the venue validates.
	if o.MarginDelta > 0 {
		u.st.CommittedMargin -= o.MarginDelta
		u.st.Balance -= o.MarginDelta
		if err := s.ModifyMargin(o.MarketKey, o.MarginDelta); err != nil {
			return &ExternalRejectionError{Provider: "market", Err: err}
		}
	} else if o.MarginDelta < 0 {
		if err := s.ModifyMargin(o.MarketKey, o.MarginDelta); err != nil {
			return &ExternalRejectionError{Provider: "market", Err: err}
		}
		u.st.Balance += -o.MarginDelta
	}

	extraBps, err := u.acct.conditionalOrderFeeBps(o.Type)
	if err != nil {
		return err
	}
	if err := u.chargeTradeFee(s, o.MarketKey, sizeDelta, extraBps); err != nil {
		return err
	}

	if err := s.SubmitAtomicOrder(o.MarketKey, sizeDelta, o.DesiredFillPrice); err != nil {
		return &ExternalRejectionError{Provider: "market", Err: err}
	}

	delete(u.st.Orders, id)
	u.cancels = append(u.cancels, o.TaskHandle)

	if err := u.payKeeperFee(); err != nil {
		return err
	}

	u.emit(OrderFilledEvent{ID: id, FillPrice: price, KeeperFee: u.acct.settings.KeeperFee})
	return nil
}

// payKeeperFee draws the fixed keeper fee from native balance. A shortfall
// fails the transfer and thereby the whole execute call.
func (u *uow) payKeeperFee() error {
	fee := u.acct.settings.KeeperFee
	if fee == 0 {
		return nil
	}
	if fee > u.st.NativeBalance {
		return ErrNativeWithdrawalFailed
	}
	u.st.NativeBalance -= fee
	return nil
}
