package account

import (
	"errors"
	"fmt"
)

// Error taxonomy. Validation and authorization errors are raised locally
// before any external call; resource errors surface from the ledger; external
// rejections wrap the collaborator's error once and propagate it verbatim.

var (
	// ErrUnauthorized: caller is neither the owner nor the registered
	// automation caller for the invoked entry point.
	ErrUnauthorized = errors.New("unauthorized")

	// ErrLengthMismatch: command and input lists differ in length.
	ErrLengthMismatch = errors.New("commands and inputs length mismatch")

	// ErrValueCannotBeZero: amount must be strictly positive.
	ErrValueCannotBeZero = errors.New("value cannot be zero")

	// ErrZeroSizeDelta: conditional order with no size.
	ErrZeroSizeDelta = errors.New("size delta cannot be zero")

	// ErrConditionNotMet: execute called on an order whose price condition
	// does not hold right now.
	ErrConditionNotMet = errors.New("conditional order not eligible")

	// ErrNativeWithdrawalFailed: native balance below the requested amount
	// (withdrawal or keeper fee).
	ErrNativeWithdrawalFailed = errors.New("native withdrawal failed")

	// ErrCannotPayFee: trade fee could not be funded from free margin plus
	// market margin.
	ErrCannotPayFee = errors.New("cannot pay trade fee")

	errNoProvider = errors.New("provider not configured")
)

// InsufficientFreeMarginError reports a draw against free margin that exceeds
// what is available.
type InsufficientFreeMarginError struct {
	Available int64
	Requested int64
}

func (e *InsufficientFreeMarginError) Error() string {
	return fmt.Sprintf("insufficient free margin: available %d, requested %d", e.Available, e.Requested)
}

// InvalidCommandTypeError reports an unrecognized command ordinal.
type InvalidCommandTypeError struct {
	Ordinal uint8
}

func (e *InvalidCommandTypeError) Error() string {
	return fmt.Sprintf("invalid command type: %d", e.Ordinal)
}

// InvalidOrderTypeError reports an unrecognized conditional order type
// ordinal.
type InvalidOrderTypeError struct {
	Ordinal uint8
}

func (e *InvalidOrderTypeError) Error() string {
	return fmt.Sprintf("invalid conditional order type: %d", e.Ordinal)
}

// OrderNotFoundError reports an operation on an absent or already-terminal
// conditional order id.
type OrderNotFoundError struct {
	ID uint64
}

func (e *OrderNotFoundError) Error() string {
	return fmt.Sprintf("conditional order %d not found", e.ID)
}

// TokenNotWhitelistedError reports a swap attempt with a token outside the
// externally-maintained whitelist.
type TokenNotWhitelistedError struct {
	Token string
}

func (e *TokenNotWhitelistedError) Error() string {
	return fmt.Sprintf("token %s not whitelisted for swaps", e.Token)
}

// ExternalRejectionError wraps a collaborator failure (market, swap,
// allowance or automation provider). The wrapped error is the provider's
// rejection, unaltered.
type ExternalRejectionError struct {
	Provider string
	Err      error
}

func (e *ExternalRejectionError) Error() string {
	return fmt.Sprintf("%s provider rejected: %v", e.Provider, e.Err)
}

func (e *ExternalRejectionError) Unwrap() error { return e.Err }
