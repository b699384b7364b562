/*
errors.go - Centralized error taxonomy for the clinical core

PURPOSE:
  All domain error classes in one place for consistency and discoverability.
  Domain packages wrap these errors with additional context.

ERROR CATEGORIES:
  1. Validation errors  - Malformed input, never retried automatically
  2. State errors       - Illegal status transitions, guarded operations
  3. Concurrency errors - Lost updates; the whole atomic unit is retryable
  4. Invariant errors   - Impossible states; fatal, alert instead of repair

USAGE:
  Callers classify with errors.Is:

    if errors.Is(err, core.ErrStateTransition) {
        // reject the operation, surface the message
    }

SEE ALSO:
  - billing/payments.go: Billing-specific wrappers
  - api/handlers.go: Error-to-HTTP-status mapping
*/
package core

import (
	"errors"
	"fmt"
)

// =============================================================================
// SENTINEL ERRORS - Use with errors.Is()
// =============================================================================

var (
	// ErrValidation is returned for malformed input: non-positive amounts,
	// missing method-specific fields, unknown enum values.
	ErrValidation = errors.New("validation failed")

	// ErrStateTransition is returned when an operation would move an entity
	// outside its transition table, or a guarded operation's precondition
	// fails (voiding a paid order, confirming against a void order).
	ErrStateTransition = errors.New("illegal state transition")

	// ErrConcurrency is returned when a lost update or serialization failure
	// is detected. The whole atomic unit is safe to retry from scratch.
	ErrConcurrency = errors.New("concurrent modification detected")

	// ErrInvariantViolation indicates an impossible persisted state
	// (e.g. a paid order with nonzero balance). It implies a bug elsewhere
	// and should trigger alerting, never silent repair.
	ErrInvariantViolation = errors.New("invariant violation")

	// ErrDuplicateIdempotencyKey is returned when a submission carries a
	// previously seen idempotency key. Expected behavior for retries.
	ErrDuplicateIdempotencyKey = errors.New("duplicate idempotency key")

	// ErrNotFound is returned when a referenced entity doesn't exist.
	ErrNotFound = errors.New("entity not found")
)

// =============================================================================
// STRUCTURED ERRORS - Carry additional context
// =============================================================================

// ValidationError reports which field failed and why.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid %s: %s", e.Field, e.Reason)
}

func (e *ValidationError) Unwrap() error { return ErrValidation }

// TransitionError reports a rejected status transition or guarded operation.
type TransitionError struct {
	Entity string
	From   State
	To     State
	Reason string
}

func (e *TransitionError) Error() string {
	if e.Reason != "" {
		return fmt.Sprintf("%s: cannot move %s -> %s: %s", e.Entity, e.From, e.To, e.Reason)
	}
	return fmt.Sprintf("%s: cannot move %s -> %s", e.Entity, e.From, e.To)
}

func (e *TransitionError) Unwrap() error { return ErrStateTransition }

// InvariantError reports an impossible persisted state with enough context
// to alert on.
type InvariantError struct {
	Entity   string
	EntityID string
	Detail   string
}

func (e *InvariantError) Error() string {
	return fmt.Sprintf("invariant violated on %s %s: %s", e.Entity, e.EntityID, e.Detail)
}

func (e *InvariantError) Unwrap() error { return ErrInvariantViolation }

// =============================================================================
// ERROR HELPERS
// =============================================================================

// IsRetryable returns true if the whole atomic unit might succeed on retry.
func IsRetryable(err error) bool {
	return errors.Is(err, ErrConcurrency)
}

// IsClientError returns true if the error is due to invalid client input
// or a rejected operation, as opposed to an internal failure.
func IsClientError(err error) bool {
	return errors.Is(err, ErrValidation) ||
		errors.Is(err, ErrStateTransition) ||
		errors.Is(err, ErrDuplicateIdempotencyKey)
}

// IsNotFound returns true if the error indicates a missing entity.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrNotFound)
}
