package market

// Key identifies one perpetual-futures market (e.g. "ETH-PERP").
type Key string

// Position is a read-only projection of the account's position in one market.
// Size is in signed lots (+long, -short), Margin in margin-asset cents,
// LastPrice in ticks.
type Position struct {
	ID               uint64
	Size             int64
	Margin           int64
	LastPrice        int64
	LastFundingIndex int64
}

// DelayedOrder is a read-only projection of a pending delayed order.
type DelayedOrder struct {
	SizeDelta   int64
	FillBound   int64
	Offchain    bool
	SubmittedAt int64
}

// Adapter is the external perpetual-futures venue the account delegates
// position management to. Reads never mutate venue state; all mutations go
// through a Session so they can be folded into the caller's atomic unit.
type Adapter interface {
	Position(key Key) (Position, error)
	DelayedOrder(key Key) (DelayedOrder, error)
	// AssetPrice returns the current margin-asset price of the market's base
	// asset in ticks. An invalid oracle reading is surfaced as an error.
	AssetPrice(key Key) (int64, error)
	Suspended(key Key) (bool, error)
	BaseFeeBps(key Key) (int64, error)

	// Begin opens a staged mutation session. Nothing is observable on the
	// venue until Commit; Discard drops every staged operation.
	Begin() (Session, error)
}

// Session stages venue mutations for one atomic unit. Reads within a session
// observe the staged state, so later commands in a batch see the effects of
// earlier ones.
type Session interface {
	// ModifyMargin moves margin between the account and the market. Positive
	// delta deposits, negative withdraws; the venue rejects withdrawals that
	// would leave an open position under its margin floor.
	ModifyMargin(key Key, delta int64) error
	// WithdrawAllMargin pulls every free cent of margin out of the market and
	// returns the amount withdrawn.
	WithdrawAllMargin(key Key) (int64, error)

	SubmitAtomicOrder(key Key, sizeDelta, fillBound int64) error
	SubmitDelayedOrder(key Key, sizeDelta, fillBound int64) error
	SubmitOffchainDelayedOrder(key Key, sizeDelta, fillBound int64) error
	CancelDelayedOrder(key Key) error
	CancelOffchainDelayedOrder(key Key) error
	ClosePosition(key Key, fillBound int64) error

	Position(key Key) (Position, error)
	AssetPrice(key Key) (int64, error)

	Commit() error
	Discard()
}
