// Package apperrors defines the sentinel errors returned by lifecycle
// operations. Callers classify failures with errors.Is and wrap these
// with fmt.Errorf("%w: ...") at the detection site.
package apperrors

import "errors"

var (
	// ErrInvalidParameter reports malformed input: zero amounts, zero
	// periods, committed amount above the credit limit, and the like.
	ErrInvalidParameter = errors.New("invalid parameter")

	// ErrNotInState reports an operation attempted from a credit state
	// that does not allow it, e.g. drawdown on a deleted credit.
	ErrNotInState = errors.New("credit not in required state")

	// ErrUnauthorized reports a caller that may not act on the credit.
	// The billing engine performs no authentication itself; embedding
	// services return this and the API maps it to 403.
	ErrUnauthorized = errors.New("unauthorized")

	// ErrOutstandingObligation reports a close attempted while balances
	// or an unfulfilled commitment remain.
	ErrOutstandingObligation = errors.New("outstanding obligation")

	// ErrNotFound reports a credit that does not exist in storage.
	ErrNotFound = errors.New("credit not found")

	// ErrInternal reports an invariant violation that should never occur
	// on well-formed state.
	ErrInternal = errors.New("internal error")
)
