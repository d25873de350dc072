/*
errors.go - Centralized error taxonomy for the ledger engine

PURPOSE:
  All error types in one place for consistency and discoverability.
  Domain packages return the structured types below; callers match with
  errors.Is against the sentinels or errors.As against the structs.

ERROR CATEGORIES:
  1. ValidationError       - malformed input, nothing was mutated
  2. NotFoundError         - item/lot/document/partner/account missing
  3. InsufficientStockError - a sale would drive a lot negative
  4. InvalidStateError     - wrong document status, or dependent returns exist
  5. ConsistencyError      - an invariant check failed; fatal

PROPAGATION:
  Validation and not-found errors are raised before any mutation. Anything
  raised inside a WithTx scope aborts the whole scope, so partial ledger
  state is never visible.

SEE ALSO:
  - api/handlers.go: HTTP status mapping
*/
package generic

import (
	"errors"
	"fmt"

	"github.com/shopspring/decimal"
)

// =============================================================================
// SENTINEL ERRORS - Use with errors.Is()
// =============================================================================

var (
	ErrValidation        = errors.New("validation failed")
	ErrNotFound          = errors.New("not found")
	ErrInsufficientStock = errors.New("insufficient stock")
	ErrInvalidState      = errors.New("invalid state")
	ErrConsistency       = errors.New("ledger consistency violated")

	// ErrLockNotObtained is returned when an advisory subject lock could not
	// be acquired before the context or retry budget ran out.
	ErrLockNotObtained = errors.New("subject lock not obtained")
)

// =============================================================================
// STRUCTURED ERRORS - Carry additional context
// =============================================================================

// ValidationError describes a rejected input field.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	if e.Field == "" {
		return fmt.Sprintf("validation failed: %s", e.Reason)
	}
	return fmt.Sprintf("validation failed: %s: %s", e.Field, e.Reason)
}

func (e *ValidationError) Unwrap() error { return ErrValidation }

// NewValidationError is a small convenience for domain packages.
func NewValidationError(field, reason string) *ValidationError {
	return &ValidationError{Field: field, Reason: reason}
}

// NotFoundError names the missing resource.
type NotFoundError struct {
	Kind string // "item", "lot", "document", "partner", "account", "payment"
	ID   string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("%s not found: %s", e.Kind, e.ID)
}

func (e *NotFoundError) Unwrap() error { return ErrNotFound }

// InsufficientStockError provides details about a stock shortage.
type InsufficientStockError struct {
	ItemID     string
	LotID      string
	DocumentID string
	Available  decimal.Decimal
	Requested  decimal.Decimal
}

func (e *InsufficientStockError) Error() string {
	return fmt.Sprintf("insufficient stock: item %s lot %s available %s, requested %s",
		e.ItemID, e.LotID, e.Available.String(), e.Requested.String())
}

func (e *InsufficientStockError) Unwrap() error { return ErrInsufficientStock }

// InvalidStateError is raised when an operation is not allowed in the
// document's current status.
type InvalidStateError struct {
	DocumentID string
	Status     string
	Operation  string
	Reason     string
}

func (e *InvalidStateError) Error() string {
	msg := fmt.Sprintf("cannot %s document %s in status %s", e.Operation, e.DocumentID, e.Status)
	if e.Reason != "" {
		msg += ": " + e.Reason
	}
	return msg
}

func (e *InvalidStateError) Unwrap() error { return ErrInvalidState }

// ConsistencyError reports a stored value that disagrees with the value
// recomputed from the ledger. Should never happen under correct usage.
type ConsistencyError struct {
	Subject  Subject
	EntryID  EntryID
	What     string
	Stored   decimal.Decimal
	Expected decimal.Decimal
}

func (e *ConsistencyError) Error() string {
	return fmt.Sprintf("consistency violated for %s (%s, entry %s): stored %s, expected %s",
		e.Subject, e.What, e.EntryID, e.Stored.String(), e.Expected.String())
}

func (e *ConsistencyError) Unwrap() error { return ErrConsistency }

// =============================================================================
// ERROR HELPERS
// =============================================================================

// IsClientError returns true if the error is due to the caller's request.
func IsClientError(err error) bool {
	return errors.Is(err, ErrValidation) ||
		errors.Is(err, ErrInsufficientStock) ||
		errors.Is(err, ErrInvalidState)
}

// IsNotFound returns true if the error indicates a missing resource.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrNotFound)
}
