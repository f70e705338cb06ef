package account

import (
	"github.com/ethereum/go-ethereum/common"

	"github.com/perpdesk/smartmargin/pkg/automation"
	"github.com/perpdesk/smartmargin/pkg/market"
)

// OrderType distinguishes the two standing-order price conditions.
type OrderType int8

const (
	Limit OrderType = iota
	Stop
)

func (t OrderType) String() string {
	switch t {
	case Limit:
		return "limit"
	case Stop:
		return "stop"
	default:
		return "unknown"
	}
}

// CancelReason records why a conditional order reached the Cancelled
// terminal.
type CancelReason int8

const (
	CancelledByUser CancelReason = iota
	CancelledNotReduceOnly
)

func (r CancelReason) String() string {
	switch r {
	case CancelledByUser:
		return "by_user"
	case CancelledNotReduceOnly:
		return "not_reduce_only"
	default:
		return "unknown"
	}
}

// ConditionalOrder is a standing limit/stop instruction, Pending from place
// until exactly one of cancel or execute deletes it. MarginDelta and
// SizeDelta are signed; a positive MarginDelta is committed against free
// margin while the order is Pending.
type ConditionalOrder struct {
	ID               uint64
	MarketKey        market.Key
	MarginDelta      int64
	SizeDelta        int64
	TargetPrice      int64
	Type             OrderType
	DesiredFillPrice int64
	ReduceOnly       bool
	TaskHandle       automation.TaskHandle
}

// committed returns the free margin this order reserves while Pending.
// Negative deltas commit nothing.
func (o *ConditionalOrder) committed() int64 {
	if o.MarginDelta > 0 {
		return o.MarginDelta
	}
	return 0
}

// eligibleAt reports whether the price condition holds at the given market
// price.
func (o *ConditionalOrder) eligibleAt(price int64) bool {
	if o.Type == Limit {
		if o.SizeDelta > 0 {
			return price >= o.TargetPrice
		}
		return price <= o.TargetPrice
	}
	// Stop
	if o.SizeDelta > 0 {
		return price <= o.TargetPrice
	}
	return price >= o.TargetPrice
}

// PlaceOrderRequest carries the place operation's arguments.
type PlaceOrderRequest struct {
	MarketKey        market.Key
	MarginDelta      int64
	SizeDelta        int64
	TargetPrice      int64
	Type             OrderType
	DesiredFillPrice int64
	ReduceOnly       bool
}

// state is the mutable account state. Batches run on a working copy and the
// copy is swapped in on commit, so a failed batch leaves no trace.
type state struct {
	Owner           common.Address
	Balance         int64 // margin-asset cents
	CommittedMargin int64 // reserved by Pending conditional orders
	NativeBalance   int64 // native-token cents, funds keeper fees
	NextOrderID     uint64
	Orders          map[uint64]*ConditionalOrder
}

func (s *state) freeMargin() int64 {
	return s.Balance - s.CommittedMargin
}

func (s *state) clone() state {
	cp := *s
	cp.Orders = make(map[uint64]*ConditionalOrder, len(s.Orders))
	for id, o := range s.Orders {
		oc := *o
		cp.Orders[id] = &oc
	}
	return cp
}
