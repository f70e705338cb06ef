package account

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/ethereum/go-ethereum/common"

	"github.com/perpdesk/smartmargin/pkg/market"
)

// CommandKind is the ordinal dispatch tag for one command in a batch. Three
// families: ledger ops, market ops, automation ops, plus the forwarded
// allowance/swap collaborator commands.
type CommandKind uint8

const (
	CmdDeposit CommandKind = iota
	CmdWithdraw
	CmdWithdrawNative
	CmdModifyMarketMargin
	CmdWithdrawAllMarketMargin
	CmdSubmitAtomicOrder
	CmdSubmitDelayedOrder
	CmdSubmitOffchainDelayedOrder
	CmdCancelDelayedOrder
	CmdCancelOffchainDelayedOrder
	CmdClosePosition
	CmdPlaceConditionalOrder
	CmdCancelConditionalOrder
	CmdPermitAllowance
	CmdSwapDeposit

	cmdKindCount
)

func (k CommandKind) String() string {
	switch k {
	case CmdDeposit:
		return "deposit"
	case CmdWithdraw:
		return "withdraw"
	case CmdWithdrawNative:
		return "withdraw_native"
	case CmdModifyMarketMargin:
		return "modify_market_margin"
	case CmdWithdrawAllMarketMargin:
		return "withdraw_all_market_margin"
	case CmdSubmitAtomicOrder:
		return "submit_atomic_order"
	case CmdSubmitDelayedOrder:
		return "submit_delayed_order"
	case CmdSubmitOffchainDelayedOrder:
		return "submit_offchain_delayed_order"
	case CmdCancelDelayedOrder:
		return "cancel_delayed_order"
	case CmdCancelOffchainDelayedOrder:
		return "cancel_offchain_delayed_order"
	case CmdClosePosition:
		return "close_position"
	case CmdPlaceConditionalOrder:
		return "place_conditional_order"
	case CmdCancelConditionalOrder:
		return "cancel_conditional_order"
	case CmdPermitAllowance:
		return "permit_allowance"
	case CmdSwapDeposit:
		return "swap_deposit"
	default:
		return "unknown"
	}
}

// Command payloads, decoded from the batch's opaque JSON blobs per kind.

type AmountParams struct {
	Amount int64 `json:"amount"`
}

type ModifyMarketMarginParams struct {
	Market market.Key `json:"market"`
	Delta  int64      `json:"delta"`
}

type MarketOnlyParams struct {
	Market market.Key `json:"market"`
}

type SubmitOrderParams struct {
	Market           market.Key `json:"market"`
	SizeDelta        int64      `json:"size_delta"`
	DesiredFillPrice int64      `json:"desired_fill_price"`
}

type ClosePositionParams struct {
	Market           market.Key `json:"market"`
	DesiredFillPrice int64      `json:"desired_fill_price"`
}

type PlaceConditionalOrderParams struct {
	Market           market.Key `json:"market"`
	MarginDelta      int64      `json:"margin_delta"`
	SizeDelta        int64      `json:"size_delta"`
	TargetPrice      int64      `json:"target_price"`
	OrderType        uint8      `json:"order_type"`
	DesiredFillPrice int64      `json:"desired_fill_price"`
	ReduceOnly       bool       `json:"reduce_only"`
}

type CancelConditionalOrderParams struct {
	OrderID uint64 `json:"order_id"`
}

// PermitAllowanceParams is a single-use, expiring, amount-capped allowance
// grant forwarded verbatim to the allowance provider.
type PermitAllowanceParams struct {
	Token     common.Address `json:"token"`
	Amount    int64          `json:"amount"`
	Deadline  int64          `json:"deadline"`
	Nonce     uint64         `json:"nonce"`
	Signature []byte         `json:"signature"`
}

type SwapDepositParams struct {
	TokenIn      common.Address `json:"token_in"`
	FeeTier      int64          `json:"fee_tier"`
	AmountIn     int64          `json:"amount_in"`
	MinAmountOut int64          `json:"min_amount_out"`
	PriceBound   int64          `json:"price_bound"`
	Deadline     int64          `json:"deadline"`
}

// Execute runs a batch of commands as one atomic unit. Owner-only. Pairs are
// processed strictly in order; the first failure aborts the entire batch,
// including the effects of earlier commands.
func (a *Account) Execute(ctx context.Context, caller common.Address, kinds []CommandKind, inputs []json.RawMessage) error {
	a.mu.Lock()
	defer a.mu.Unlock()

	if caller != a.st.Owner {
		return ErrUnauthorized
	}
	if len(kinds) != len(inputs) {
		return ErrLengthMismatch
	}

	u := a.newUow()
	for i, kind := range kinds {
		if err := u.dispatch(ctx, kind, inputs[i]); err != nil {
			u.discard()
			return fmt.Errorf("command %d (%s): %w", i, kind, err)
		}
	}
	return u.commit()
}

func (u *uow) dispatch(ctx context.Context, kind CommandKind, input json.RawMessage) error {
	switch kind {
	case CmdDeposit:
		var p AmountParams
		if err := decode(input, &p); err != nil {
			return err
		}
		return u.deposit(p.Amount)

	case CmdWithdraw:
		var p AmountParams
		if err := decode(input, &p); err != nil {
			return err
		}
		return u.withdraw(p.Amount)

	case CmdWithdrawNative:
		var p AmountParams
		if err := decode(input, &p); err != nil {
			return err
		}
		return u.withdrawNative(p.Amount)

	case CmdModifyMarketMargin:
		var p ModifyMarketMarginParams
		if err := decode(input, &p); err != nil {
			return err
		}
		return u.modifyMarketMargin(p.Market, p.Delta)

	case CmdWithdrawAllMarketMargin:
		var p MarketOnlyParams
		if err := decode(input, &p); err != nil {
			return err
		}
		return u.withdrawAllMarketMargin(p.Market)

	case CmdSubmitAtomicOrder:
		var p SubmitOrderParams
		if err := decode(input, &p); err != nil {
			return err
		}
		return u.submitAtomicOrder(p.Market, p.SizeDelta, p.DesiredFillPrice)

	case CmdSubmitDelayedOrder:
		var p SubmitOrderParams
		if err := decode(input, &p); err != nil {
			return err
		}
		return u.submitDelayedOrder(p.Market, p.SizeDelta, p.DesiredFillPrice)

	case CmdSubmitOffchainDelayedOrder:
		var p SubmitOrderParams
		if err := decode(input, &p); err != nil {
			return err
		}
		return u.submitOffchainDelayedOrder(p.Market, p.SizeDelta, p.DesiredFillPrice)

	case CmdCancelDelayedOrder:
		var p MarketOnlyParams
		if err := decode(input, &p); err != nil {
			return err
		}
		return u.cancelDelayedOrder(p.Market)

	case CmdCancelOffchainDelayedOrder:
		var p MarketOnlyParams
		if err := decode(input, &p); err != nil {
			return err
		}
		return u.cancelOffchainDelayedOrder(p.Market)

	case CmdClosePosition:
		var p ClosePositionParams
		if err := decode(input, &p); err != nil {
			return err
		}
		return u.closePosition(p.Market, p.DesiredFillPrice)

	case CmdPlaceConditionalOrder:
		var p PlaceConditionalOrderParams
		if err := decode(input, &p); err != nil {
			return err
		}
		if p.OrderType > uint8(Stop) {
			return &InvalidOrderTypeError{Ordinal: p.OrderType}
		}
		_, err := u.placeConditionalOrder(PlaceOrderRequest{
			MarketKey:        p.Market,
			MarginDelta:      p.MarginDelta,
			SizeDelta:        p.SizeDelta,
			TargetPrice:      p.TargetPrice,
			Type:             OrderType(p.OrderType),
			DesiredFillPrice: p.DesiredFillPrice,
			ReduceOnly:       p.ReduceOnly,
		})
		return err

	case CmdCancelConditionalOrder:
		var p CancelConditionalOrderParams
		if err := decode(input, &p); err != nil {
			return err
		}
		return u.cancelConditionalOrder(p.OrderID)

	case CmdPermitAllowance:
		var p PermitAllowanceParams
		if err := decode(input, &p); err != nil {
			return err
		}
		return u.permitAllowance(ctx, p)

	case CmdSwapDeposit:
		var p SwapDepositParams
		if err := decode(input, &p); err != nil {
			return err
		}
		return u.swapDeposit(ctx, p)

	default:
		return &InvalidCommandTypeError{Ordinal: uint8(kind)}
	}
}

func decode(input json.RawMessage, v any) error {
	if err := json.Unmarshal(input, v); err != nil {
		return fmt.Errorf("decode input: %w", err)
	}
	return nil
}
