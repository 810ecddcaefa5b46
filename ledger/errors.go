/*
errors.go - Centralized error types for the points core

PURPOSE:
  All error kinds in one place. Every Engine failure maps to exactly
  one sentinel; callers branch with errors.Is and the HTTP layer maps
  sentinels to status codes. Structured errors carry the details a
  client message needs without leaking internals.

ERROR CATEGORIES:
  1. Lookup errors    - referenced user/bin missing
  2. Validation errors - detected before any mutation
  3. Unit-of-work errors - payout failure, lost CAS race, storage

USAGE:
  if errors.Is(err, ledger.ErrInsufficientBalance) { ... }

  var ibe *ledger.InsufficientBalanceError
  if errors.As(err, &ibe) { ... ibe.Shortfall ... }

SEE ALSO:
  - engine.go: where these are returned
  - api/handlers.go: HTTP status mapping
*/
package ledger

import (
	"errors"
	"fmt"
)

// =============================================================================
// SENTINEL ERRORS - Use with errors.Is()
// =============================================================================

var (
	// ErrUserNotFound is returned when the referenced user does not exist.
	ErrUserNotFound = errors.New("user not found")

	// ErrBinNotFound is returned when the referenced smart bin does not exist.
	ErrBinNotFound = errors.New("smart bin not found")

	// ErrInvalidInput covers constraint violations detected before any
	// mutation: non-positive bottle counts, below-minimum redemptions,
	// unsupported payout methods, empty accounts.
	ErrInvalidInput = errors.New("invalid input")

	// ErrInsufficientBalance is returned when a redemption exceeds the
	// user's current balance.
	ErrInsufficientBalance = errors.New("insufficient balance")

	// ErrPayoutFailed is returned when the external payout step failed or
	// timed out. The unit of work is fully rolled back before this
	// surfaces: no balance decrement survives a failed payout.
	ErrPayoutFailed = errors.New("payout failed")

	// ErrConcurrencyConflict is returned when a balance update lost the
	// optimistic-locking race more times than the engine is willing to
	// retry. Safe for the caller to retry: nothing was committed.
	ErrConcurrencyConflict = errors.New("concurrent balance update conflict")

	// ErrBinUnserviceable is returned for deposits at full/maintenance
	// bins when the rejection policy is enabled.
	ErrBinUnserviceable = errors.New("smart bin not accepting deposits")

	// ErrEntryFinalized guards the append-only contract: a terminal
	// entry cannot transition again.
	ErrEntryFinalized = errors.New("ledger entry already finalized")

	// ErrInternal wraps storage-level failures.
	ErrInternal = errors.New("internal storage failure")
)

// =============================================================================
// STRUCTURED ERRORS - Carry additional context
// =============================================================================

// InsufficientBalanceError reports a balance shortage.
type InsufficientBalanceError struct {
	UserID    UserID
	Available Points
	Requested Points
}

func (e *InsufficientBalanceError) Error() string {
	return fmt.Sprintf("insufficient balance: have %d points, requested %d", e.Available, e.Requested)
}

func (e *InsufficientBalanceError) Unwrap() error { return ErrInsufficientBalance }

// Shortfall is how many points the user is missing.
func (e *InsufficientBalanceError) Shortfall() Points { return e.Requested - e.Available }

// PayoutError reports a failed external payout step.
type PayoutError struct {
	Method PayoutMethod
	Cause  error
}

func (e *PayoutError) Error() string {
	return fmt.Sprintf("payout via %s failed: %v", e.Method, e.Cause)
}

func (e *PayoutError) Unwrap() error { return ErrPayoutFailed }

// =============================================================================
// ERROR HELPERS
// =============================================================================

// IsRetryable returns true if the same call might succeed on retry.
// Payout failures are deliberately NOT retryable as the same call: a
// retry must be a new redeem request to avoid double payout.
func IsRetryable(err error) bool {
	return errors.Is(err, ErrConcurrencyConflict)
}

// IsClientError returns true if the error is due to invalid caller input.
func IsClientError(err error) bool {
	return errors.Is(err, ErrInvalidInput) ||
		errors.Is(err, ErrInsufficientBalance) ||
		errors.Is(err, ErrBinUnserviceable)
}

// IsNotFound returns true if a referenced user or bin is missing.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrUserNotFound) || errors.Is(err, ErrBinNotFound)
}
