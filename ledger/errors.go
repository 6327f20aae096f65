/*
errors.go - Centralized error types for the ledger core

PURPOSE:
  All error types in one place. Callers branch with errors.Is; structured
  errors carry context and Unwrap to a sentinel.

ERROR CATEGORIES:
  1. Validation errors - rejected before any state change, synchronous
  2. Not-found errors  - unknown ids, synchronous, no state change
  3. Persistence errors - surfaced after the in-memory mutation succeeded;
     in-memory state is authoritative and is not rolled back
  4. Consistency warnings - diagnostic only, never block an operation
*/
package ledger

import (
	"errors"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

// =============================================================================
// SENTINEL ERRORS - Use with errors.Is()
// =============================================================================

var (
	// ErrInvalidAmount is returned when a transaction amount is zero or
	// negative, or a transfer's target amount is.
	ErrInvalidAmount = errors.New("invalid amount")

	// ErrInvalidKind is returned for an unknown transaction kind.
	ErrInvalidKind = errors.New("invalid transaction kind")

	// ErrAccountNotFound is returned when a referenced account id is unknown.
	ErrAccountNotFound = errors.New("account not found")

	// ErrCategoryNotFound is returned when a non-empty category label has
	// not been registered.
	ErrCategoryNotFound = errors.New("category not found")

	// ErrNotFound is returned by Update/Delete for an unknown id.
	ErrNotFound = errors.New("not found")

	// ErrUnconvertible is returned when the conversion service cannot
	// produce a rate for a currency pair the transaction needs.
	ErrUnconvertible = errors.New("unconvertible currency")

	// ErrIDMismatch is returned when an update payload carries a different
	// id than the record being updated.
	ErrIDMismatch = errors.New("id mismatch")

	// ErrDuplicateID is returned when a create carries an id that is
	// already taken.
	ErrDuplicateID = errors.New("duplicate id")

	// ErrForbidden is returned for deletions that would break a structural
	// invariant (e.g. deleting an account that still has transactions
	// without asking for a cascade).
	ErrForbidden = errors.New("forbidden")

	// ErrInvalidSeries is returned for a malformed recurring series.
	ErrInvalidSeries = errors.New("invalid recurring series")

	// ErrClosed is returned by operations on a closed ledger.
	ErrClosed = errors.New("ledger closed")
)

// =============================================================================
// STRUCTURED ERRORS
// =============================================================================

// ValidationError carries the field that failed validation. It unwraps to
// one of the validation sentinels so callers can branch either way.
type ValidationError struct {
	Field  string
	Reason error
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("validation failed on %s: %v", e.Field, e.Reason)
}

func (e *ValidationError) Unwrap() error { return e.Reason }

// PersistenceError reports a failed save. By the time it is observed the
// in-memory mutation has already been applied; the ledger keeps retrying
// in the background.
type PersistenceError struct {
	At  time.Time
	Err error
}

func (e *PersistenceError) Error() string {
	return fmt.Sprintf("persistence failed at %s: %v", e.At.Format(time.RFC3339), e.Err)
}

func (e *PersistenceError) Unwrap() error { return e.Err }

// ConsistencyWarning is emitted when a full recompute disagrees with the
// incrementally maintained balance beyond rounding tolerance. It indicates
// a defect in delta bookkeeping, not a user error, and never blocks.
type ConsistencyWarning struct {
	Account     AccountID
	Incremental decimal.Decimal
	Recomputed  decimal.Decimal
}

func (w ConsistencyWarning) String() string {
	return fmt.Sprintf("balance drift on %s: incremental %s, recomputed %s",
		w.Account, w.Incremental, w.Recomputed)
}

// =============================================================================
// ERROR HELPERS
// =============================================================================

// IsValidation reports whether err was rejected before any state change.
func IsValidation(err error) bool {
	return errors.Is(err, ErrInvalidAmount) ||
		errors.Is(err, ErrInvalidKind) ||
		errors.Is(err, ErrAccountNotFound) ||
		errors.Is(err, ErrCategoryNotFound) ||
		errors.Is(err, ErrUnconvertible) ||
		errors.Is(err, ErrIDMismatch) ||
		errors.Is(err, ErrDuplicateID) ||
		errors.Is(err, ErrInvalidSeries)
}

// IsNotFound reports whether err refers to a missing record.
func IsNotFound(err error) bool { return errors.Is(err, ErrNotFound) }
