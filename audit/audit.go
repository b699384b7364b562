/*
Package audit provides the append-only domain event log.

PURPOSE:
  Every state-changing operation in the core records an immutable event:
  who did what to which entity, with what severity, and whether operators
  should be notified. Events are written inside the same transaction as
  the mutation they document, so a failed mutation never leaves an orphan
  event and a committed mutation is never undocumented.

CRITICAL INVARIANTS:
  1. APPEND-ONLY: No Update, No Delete. EVER.
  2. SAME-TRANSACTION: Event and mutation commit or roll back together.
  3. OPEN METADATA: The payload is an untyped key-value blob; only the
     envelope (entity, id, action, severity, notify) is enforced.

SEE ALSO:
  - billing/payments.go: Confirm/reject events
  - store/sqlite/events.go: Persistence
*/
package audit

import (
	"context"
	"time"
)

// Severity classifies an event for alerting and filtering.
type Severity string

const (
	SeverityInfo     Severity = "info"
	SeverityWarning  Severity = "warning"
	SeverityCritical Severity = "critical"
)

// Event is one immutable audit record. Envelope fields are strict; the
// Metadata payload is open by design since its shape varies per action.
type Event struct {
	ID        string
	Timestamp time.Time
	Actor     string
	Entity    string // entity name, e.g. "charge_order"
	EntityID  string
	Action    string // e.g. "payment_confirmed"
	Metadata  map[string]any
	Severity  Severity
	Notify    bool
}

// Log stores events. Append-only: there is no update or delete API.
type Log interface {
	// Append records an event. Callers inside an atomic unit must use the
	// transaction-scoped store so the event shares the mutation's fate.
	Append(ctx context.Context, e Event) error

	// Query returns events matching the filter, oldest first.
	Query(ctx context.Context, f Filter) ([]Event, error)
}

// Filter narrows a Query. Nil/empty fields match everything.
type Filter struct {
	Entity   string
	EntityID string
	Actor    string
	Actions  []string
	Severity Severity
	From     *time.Time
	To       *time.Time
}

// Trail extends Log with the patient-scoped view: it traverses
// Appointment -> ChargeOrder -> Payment and Appointment -> WaitingRoomEntry
// relations so a patient's whole history reads as one timeline.
type Trail interface {
	Log

	// ForAppointment returns events touching the appointment or any entity
	// hanging off it (its charge order, payments, waiting-room entry).
	ForAppointment(ctx context.Context, appointmentID string) ([]Event, error)

	// ForPatient returns events across all of the patient's appointments
	// and their dependent entities, oldest first.
	ForPatient(ctx context.Context, patientID string) ([]Event, error)
}
