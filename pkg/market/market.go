package market

import "fmt"

// Status defines the trading status of a market
type Status int8

const (
	Active Status = iota // Trading enabled
	Paused               // Trading halted (emergency)
)

func (s Status) String() string {
	switch s {
	case Active:
		return "Active"
	case Paused:
		return "Paused"
	default:
		return "Unknown"
	}
}

// Params defines the risk and precision parameters for one market.
// All prices are integer ticks, all sizes integer lots, all margin amounts
// margin-asset cents. Ticks and lots are scaled so that 1 tick × 1 lot equals
// 1 cent of notional.
type Params struct {
	// TickSize: minimum price increment (1 = $0.001)
	TickSize int64
	// LotSize: minimum size increment (100 lots = 1 base unit)
	LotSize int64

	// Leverage & margin
	MaxLeverage          int64
	InitialMarginBps     int64 // e.g. 200 bps = 2% = 50x leverage
	MaintenanceMarginBps int64 // margin floor for open positions

	// MinMargin: absolute floor on margin left in the market while a
	// position is open, regardless of notional
	MinMargin int64

	// BaseFeeBps: venue taker fee in basis points, charged by the account's
	// fee engine on every size-changing order
	BaseFeeBps int64

	MaxPosition int64 // lots, absolute
}

// DefaultPerpParams returns parameters modeled on a typical 25x perp market.
func DefaultPerpParams() Params {
	return Params{
		TickSize:             1,
		LotSize:              100,
		MaxLeverage:          25,
		InitialMarginBps:     400, // 4% = 25x
		MaintenanceMarginBps: 100, // 1%
		MinMargin:            4000,
		BaseFeeBps:           10,
		MaxPosition:          10_000_000,
	}
}

// RequiredMaintenanceMargin returns the minimum margin the venue will keep
// locked against an open position of |size| lots at the given price.
func (p Params) RequiredMaintenanceMargin(price, size int64) int64 {
	if size < 0 {
		size = -size
	}
	notional := size * price
	required := notional * p.MaintenanceMarginBps / 10_000
	if required < p.MinMargin {
		required = p.MinMargin
	}
	return required
}

// Validate checks parameter sanity at registration time.
func (p Params) Validate() error {
	if p.TickSize <= 0 || p.LotSize <= 0 {
		return fmt.Errorf("non-positive tick/lot size: %d/%d", p.TickSize, p.LotSize)
	}
	if p.InitialMarginBps <= 0 || p.MaintenanceMarginBps <= 0 {
		return fmt.Errorf("non-positive margin bps: %d/%d", p.InitialMarginBps, p.MaintenanceMarginBps)
	}
	if p.MaintenanceMarginBps > p.InitialMarginBps {
		return fmt.Errorf("maintenance margin %d bps above initial %d bps", p.MaintenanceMarginBps, p.InitialMarginBps)
	}
	if p.BaseFeeBps < 0 {
		return fmt.Errorf("negative base fee: %d bps", p.BaseFeeBps)
	}
	return nil
}
