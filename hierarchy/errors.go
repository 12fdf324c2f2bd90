/*
errors.go - Centralized error taxonomy for the hierarchy core

PURPOSE:
  All error kinds in one place. Callers match with errors.Is/errors.As;
  the api package maps each kind to an HTTP status.

TAXONOMY:
  ErrInvalidInput       malformed request, no state change
  ErrAccountNotFound    sender/target/account missing
  ErrSubscriberNotFound subscriber missing
  ErrEntryNotFound      ledger entry missing
  ErrUnauthorized       caller lacks hierarchy rights or tier
  ErrInsufficientFunds  debited balance cannot cover the amount
  ErrCappingViolation   resulting balance would breach the tier floor
  ErrConflict           conditional update lost a race; retryable

PROPAGATION:
  No error is ever partially applied: every failure path guarantees zero
  balance/ledger mutation. ErrConflict is the only kind the core retries
  internally (a small bounded number of times) before surfacing.
*/
package hierarchy

import (
	"errors"
	"fmt"

	"github.com/shopspring/decimal"
)

// =============================================================================
// SENTINEL ERRORS - Use with errors.Is()
// =============================================================================

var (
	ErrInvalidInput       = errors.New("invalid input")
	ErrAccountNotFound    = errors.New("account not found")
	ErrSubscriberNotFound = errors.New("subscriber not found")
	ErrEntryNotFound      = errors.New("transaction not found")
	ErrPackageNotFound    = errors.New("package not found")
	ErrUnauthorized       = errors.New("not authorized")

	// ErrInsufficientFunds is returned when a Debit/ReverseCredit exceeds
	// the target's balance.
	ErrInsufficientFunds = errors.New("insufficient funds")

	// ErrCappingViolation is returned when a transfer would leave a balance
	// below its tier's capping floor.
	ErrCappingViolation = errors.New("capping floor violation")

	// ErrConflict is returned when a conditional balance update lost a
	// concurrent race. Callers may retry.
	ErrConflict = errors.New("concurrent update conflict")

	// ErrParentImmutable is returned when changing a reseller's parent
	// while it still owns subscribers.
	ErrParentImmutable = errors.New("parent is immutable while subscribers exist")

	// ErrHasSubordinates is returned when deleting an account that still
	// owns subordinate accounts or subscribers.
	ErrHasSubordinates = errors.New("account still has subordinates")
)

// =============================================================================
// STRUCTURED ERRORS - Carry additional context
// =============================================================================

// InvalidInputError names the offending field.
type InvalidInputError struct {
	Field  string
	Reason string
}

func (e *InvalidInputError) Error() string {
	return fmt.Sprintf("invalid %s: %s", e.Field, e.Reason)
}

func (e *InvalidInputError) Unwrap() error { return ErrInvalidInput }

// InsufficientFundsError details a balance shortage on the debited account.
type InsufficientFundsError struct {
	AccountID string
	Available decimal.Decimal
	Requested decimal.Decimal
}

func (e *InsufficientFundsError) Error() string {
	return fmt.Sprintf("insufficient funds on %s: available %s, requested %s",
		e.AccountID, e.Available, e.Requested)
}

func (e *InsufficientFundsError) Unwrap() error { return ErrInsufficientFunds }

// CappingViolationError details a floor breach.
type CappingViolationError struct {
	AccountID string
	Tier      Tier
	Floor     decimal.Decimal
	Resulting decimal.Decimal
}

func (e *CappingViolationError) Error() string {
	return fmt.Sprintf("capping violation on %s: resulting balance %s below %s floor %s",
		e.AccountID, e.Resulting, e.Tier, e.Floor)
}

func (e *CappingViolationError) Unwrap() error { return ErrCappingViolation }

// BalancePredicateError is returned by stores when a conditional balance
// update matched no row: either the floor predicate failed or the balance
// changed under us. The ledger re-validates and classifies it.
type BalancePredicateError struct {
	AccountID string
}

func (e *BalancePredicateError) Error() string {
	return fmt.Sprintf("balance predicate not satisfied for %s", e.AccountID)
}

func (e *BalancePredicateError) Unwrap() error { return ErrConflict }

// =============================================================================
// ERROR HELPERS
// =============================================================================

// IsNotFound reports whether the error names a missing record.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrAccountNotFound) ||
		errors.Is(err, ErrSubscriberNotFound) ||
		errors.Is(err, ErrEntryNotFound) ||
		errors.Is(err, ErrPackageNotFound)
}

// IsRetryable reports whether the operation might succeed on retry.
func IsRetryable(err error) bool {
	return errors.Is(err, ErrConflict)
}

// IsClientError reports whether the caller can fix the request.
func IsClientError(err error) bool {
	return errors.Is(err, ErrInvalidInput) ||
		errors.Is(err, ErrInsufficientFunds) ||
		errors.Is(err, ErrCappingViolation) ||
		errors.Is(err, ErrParentImmutable) ||
		errors.Is(err, ErrHasSubordinates)
}
