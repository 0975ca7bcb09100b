/*
errors.go - Centralized error types for the inventory engine

PURPOSE:
  All error types in one place for consistency and discoverability.
  Callers classify errors with errors.Is / errors.As and the helpers below.

ERROR CATEGORIES:
  1. Input errors     - rejected before any lock is taken (invalid quantity)
  2. Business errors  - rejected with no partial effect (insufficient stock,
                        non-empty delete)
  3. Invariant errors - should be structurally impossible (cross-owner);
                        treated as fatal, never silently corrected
  4. Store errors     - lock timeouts, missing rows

NOTE ON RESERVE:
  Reserve never errors for insufficient stock. Partial allocation - including
  zero - is a designed outcome, not a failure. Over-pick and cancel-after-
  partial-pick are reported as boolean false, not errors, because they are
  expected caller-logic conditions.
*/
package inventory

import (
	"errors"
	"fmt"

	"github.com/shopspring/decimal"
)

// =============================================================================
// SENTINEL ERRORS - Use with errors.Is()
// =============================================================================

var (
	// ErrInvalidQuantity is returned when a receive/pick/transfer quantity
	// is zero or negative. Rejected before any lock is taken.
	ErrInvalidQuantity = errors.New("quantity must be greater than zero")

	// ErrInvalidStrategy is returned when a reserve call names an allocation
	// strategy that is not FIFO or FEFO.
	ErrInvalidStrategy = errors.New("unknown allocation strategy")

	// ErrInsufficientAvailable is returned when a transfer would exceed the
	// source Quant's available (unreserved) quantity. No partial effect.
	ErrInsufficientAvailable = errors.New("insufficient available quantity")

	// ErrNonEmptyQuant is returned when deleting a Quant whose qty > 0.
	ErrNonEmptyQuant = errors.New("quant is not empty")

	// ErrCrossOwnerAllocation indicates an internal invariant violation:
	// candidate selection produced a Quant whose owner differs from the
	// document's owner. Fatal; never silently corrected.
	ErrCrossOwnerAllocation = errors.New("cross-owner allocation detected")

	// ErrLockTimeout is returned when the underlying store could not acquire
	// a row lock in time. The whole operation is safe to retry.
	ErrLockTimeout = errors.New("lock wait timeout")

	// ErrQuantNotFound is returned when a referenced Quant doesn't exist.
	ErrQuantNotFound = errors.New("quant not found")

	// ErrReservationNotFound is returned when a referenced Reservation
	// doesn't exist.
	ErrReservationNotFound = errors.New("reservation not found")

	// ErrDocumentNotFound is returned when a referenced Document doesn't exist.
	ErrDocumentNotFound = errors.New("document not found")

	// ErrLineNotFound is returned when a referenced DocumentLine doesn't exist.
	ErrLineNotFound = errors.New("document line not found")

	// ErrItemMismatch is returned when a transfer destination holds a
	// different item than the source.
	ErrItemMismatch = errors.New("source and destination item differ")

	// ErrSameLocation is returned when a transfer destination resolves to
	// the source Quant's own identity tuple.
	ErrSameLocation = errors.New("transfer destination equals source location")

	// ErrDocumentClosed is returned when mutating a document in a terminal
	// state (COMPLETED or CANCELED).
	ErrDocumentClosed = errors.New("document is in a terminal state")
)

// =============================================================================
// STRUCTURED ERRORS - Carry additional context
// =============================================================================

// InsufficientAvailableError details a transfer/pick shortage.
type InsufficientAvailableError struct {
	Quant     QuantID
	Available decimal.Decimal
	Requested decimal.Decimal
}

func (e *InsufficientAvailableError) Error() string {
	return fmt.Sprintf("insufficient available quantity on quant %s: available %s, requested %s",
		e.Quant, e.Available, e.Requested)
}

func (e *InsufficientAvailableError) Unwrap() error {
	return ErrInsufficientAvailable
}

// NonEmptyQuantError details a rejected delete.
type NonEmptyQuantError struct {
	Quant QuantID
	Qty   decimal.Decimal
}

func (e *NonEmptyQuantError) Error() string {
	return fmt.Sprintf("cannot delete quant %s: qty is %s, not zero", e.Quant, e.Qty)
}

func (e *NonEmptyQuantError) Unwrap() error {
	return ErrNonEmptyQuant
}

// CrossOwnerError details an owner-isolation invariant violation.
type CrossOwnerError struct {
	Quant         QuantID
	QuantOwner    OwnerID
	DocumentOwner OwnerID
}

func (e *CrossOwnerError) Error() string {
	return fmt.Sprintf("quant %s owned by %s surfaced for document owned by %s",
		e.Quant, e.QuantOwner, e.DocumentOwner)
}

func (e *CrossOwnerError) Unwrap() error {
	return ErrCrossOwnerAllocation
}

// =============================================================================
// ERROR HELPERS
// =============================================================================

// IsRetryable returns true if the whole operation might succeed on retry.
func IsRetryable(err error) bool {
	return errors.Is(err, ErrLockTimeout)
}

// IsClientError returns true if the error is due to invalid caller input.
func IsClientError(err error) bool {
	return errors.Is(err, ErrInvalidQuantity) ||
		errors.Is(err, ErrInvalidStrategy) ||
		errors.Is(err, ErrInsufficientAvailable) ||
		errors.Is(err, ErrNonEmptyQuant) ||
		errors.Is(err, ErrItemMismatch) ||
		errors.Is(err, ErrSameLocation) ||
		errors.Is(err, ErrDocumentClosed)
}

// IsNotFound returns true if the error indicates a missing resource.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrQuantNotFound) ||
		errors.Is(err, ErrReservationNotFound) ||
		errors.Is(err, ErrDocumentNotFound) ||
		errors.Is(err, ErrLineNotFound)
}
