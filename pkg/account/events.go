package account

import (
	"github.com/ethereum/go-ethereum/common"

	"github.com/perpdesk/smartmargin/pkg/market"
)

// Event is an account state change observed only after its atomic unit
// committed. Events are buffered inside the unit of work and published to
// every sink on commit.
type Event interface {
	Name() string
}

// Sink receives committed events. Implementations: zap log sink, websocket
// hub, pebble journal.
type Sink interface {
	Publish(owner common.Address, ev Event)
}

type DepositEvent struct {
	Amount int64 `json:"amount"`
}

func (DepositEvent) Name() string { return "deposit" }

type WithdrawEvent struct {
	Amount int64 `json:"amount"`
}

func (WithdrawEvent) Name() string { return "withdraw" }

type NativeDepositEvent struct {
	Amount int64 `json:"amount"`
}

func (NativeDepositEvent) Name() string { return "native_deposit" }

type NativeWithdrawEvent struct {
	Amount int64 `json:"amount"`
}

func (NativeWithdrawEvent) Name() string { return "native_withdraw" }

type OrderPlacedEvent struct {
	ID          uint64     `json:"id"`
	MarketKey   market.Key `json:"market"`
	MarginDelta int64      `json:"margin_delta"`
	SizeDelta   int64      `json:"size_delta"`
	TargetPrice int64      `json:"target_price"`
	OrderType   string     `json:"order_type"`
	ReduceOnly  bool       `json:"reduce_only"`
}

func (OrderPlacedEvent) Name() string { return "order_placed" }

type OrderCancelledEvent struct {
	ID        uint64 `json:"id"`
	Reason    string `json:"reason"`
	KeeperFee int64  `json:"keeper_fee,omitempty"`
}

func (OrderCancelledEvent) Name() string { return "order_cancelled" }

type OrderFilledEvent struct {
	ID        uint64 `json:"id"`
	FillPrice int64  `json:"fill_price"`
	KeeperFee int64  `json:"keeper_fee"`
}

func (OrderFilledEvent) Name() string { return "order_filled" }

type FeeImposedEvent struct {
	MarketKey market.Key     `json:"market"`
	Amount    int64          `json:"amount"`
	Treasury  common.Address `json:"treasury"`
}

func (FeeImposedEvent) Name() string { return "fee_imposed" }

type OwnershipTransferredEvent struct {
	Previous common.Address `json:"previous"`
	Next     common.Address `json:"next"`
}

func (OwnershipTransferredEvent) Name() string { return "ownership_transferred" }
