package account

import (
	"errors"
	"fmt"

	"github.com/perpdesk/smartmargin/pkg/market"
)

// BpsDenom is the basis-point denominator shared with the venue.
const BpsDenom = 10_000

// TradeFee returns the margin-asset fee for a size-changing order:
// |sizeDelta| x price x (baseBps + extraBps) / BpsDenom. Prices are ticks and
// sizes lots, scaled so tick x lot equals one cent of notional.
func TradeFee(sizeDelta, price, baseBps, extraBps int64) int64 {
	size := sizeDelta
	if size < 0 {
		size = -size
	}
	return size * price * (baseBps + extraBps) / BpsDenom
}

// chargeTradeFee computes and funds the trade fee atomically with the order
// submission it accompanies. Funding order: free margin first, then the
// shortfall out of the position's market margin; if the venue cannot yield
// that margin the whole enclosing unit fails and nothing is charged.
func (u *uow) chargeTradeFee(s market.Session, key market.Key, sizeDelta, extraBps int64) error {
	baseBps, err := u.acct.market.BaseFeeBps(key)
	if err != nil {
		return &ExternalRejectionError{Provider: "market", Err: err}
	}
	price, err := s.AssetPrice(key)
	if err != nil {
		return &ExternalRejectionError{Provider: "market", Err: err}
	}

	fee := TradeFee(sizeDelta, price, baseBps, extraBps)
	if fee == 0 {
		return nil
	}

	free := u.st.freeMargin()
	if fee <= free {
		u.st.Balance -= fee
	} else {
		shortfall := fee - free
		if err := s.ModifyMargin(key, -shortfall); err != nil {
			return fmt.Errorf("%w: %w", ErrCannotPayFee, err)
		}
		u.st.Balance -= free
	}

	u.emit(FeeImposedEvent{MarketKey: key, Amount: fee, Treasury: u.acct.settings.Treasury})
	return nil
}

// conditionalOrderFeeBps returns the fee surcharge for a conditional fill,
// which differs between limit and stop orders.
func (a *Account) conditionalOrderFeeBps(t OrderType) (int64, error) {
	switch t {
	case Limit:
		return a.settings.LimitOrderFeeBps, nil
	case Stop:
		return a.settings.StopOrderFeeBps, nil
	default:
		return 0, errors.New("unknown order type")
	}
}
