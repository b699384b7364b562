/*
Package billing owns the financial ledger: charge orders, their line
items, and payments.

PURPOSE:
  A charge order's monetary state (total, balance due, status) must stay
  consistent with its items and confirmed payments under concurrent
  writes. Every mutation runs as one atomic unit - entity write, ledger
  recalculation, and audit event commit or roll back together.

KEY CONCEPTS IN THIS FILE (types.go):
  - ChargeOrder: The bill; total, balance due, and status are derived
  - ChargeItem:  A line item; subtotal is always quantity x unit price
  - Payment:     Moves pending -> confirmed/rejected, terminal either way

DESIGN PRINCIPLES:
  1. Precision: decimal.Decimal everywhere, never binary floating point
  2. Single recalc path: Recalc is the only balance computation
  3. Type safety: Typed IDs prevent mixing order/item/payment references
  4. Auditability: Every mutation carries an actor and emits an event

SEE ALSO:
  - ledger.go:   Recalc, void, waive
  - items.go:    Item writes with synchronous recalculation
  - payments.go: Validation, confirm, reject, idempotency
*/
package billing

import (
	"time"

	"github.com/shopspring/decimal"

	"github.com/ungardev/medops/core"
)

// =============================================================================
// IDENTIFIERS
// =============================================================================

type OrderID string
type ItemID string
type PaymentID string

// =============================================================================
// CHARGE ORDER - The bill backing an appointment
// =============================================================================

type OrderStatus string

const (
	OrderOpen          OrderStatus = "open"
	OrderPartiallyPaid OrderStatus = "partially_paid"
	OrderPaid          OrderStatus = "paid"
	OrderVoid          OrderStatus = "void"
	OrderWaived        OrderStatus = "waived"
)

// orderGraph covers the guarded, explicit transitions (void/waive).
// open/partially_paid <-> paid movements are owned by Recalc, not the graph.
var orderGraph = core.Transitions{
	core.State(OrderOpen):          {core.State(OrderVoid), core.State(OrderWaived)},
	core.State(OrderPartiallyPaid): {core.State(OrderVoid), core.State(OrderWaived)},
}

// ChargeOrder is created exactly once per appointment, at zero value.
// Total, BalanceDue, and Status are recomputed by Recalc on every write
// that could affect them; there is no second, independently cached path.
type ChargeOrder struct {
	ID            OrderID
	AppointmentID core.AppointmentID
	PatientID     core.PatientID
	Currency      string // ISO 4217 code; stored values stay in this currency

	Total      decimal.Decimal
	BalanceDue decimal.Decimal
	Status     OrderStatus

	IssuedAt time.Time
	IssuedBy string

	CreatedAt time.Time
	UpdatedAt time.Time
}

// Terminal reports whether the order accepts no further monetary writes.
func (o *ChargeOrder) Terminal() bool {
	return o.Status == OrderPaid || o.Status == OrderVoid || o.Status == OrderWaived
}

// CheckInvariants verifies the persisted triple is possible. A violation
// implies a bug elsewhere and is surfaced as fatal, never repaired.
func (o *ChargeOrder) CheckInvariants() error {
	switch o.Status {
	case OrderPaid:
		if !o.BalanceDue.IsZero() || !o.Total.IsPositive() {
			return &core.InvariantError{
				Entity:   "charge_order",
				EntityID: string(o.ID),
				Detail:   "paid order must have zero balance and positive total",
			}
		}
	case OrderWaived:
		if !o.BalanceDue.IsZero() {
			return &core.InvariantError{
				Entity:   "charge_order",
				EntityID: string(o.ID),
				Detail:   "waived order must have zero balance",
			}
		}
	}
	if o.BalanceDue.IsNegative() {
		return &core.InvariantError{
			Entity:   "charge_order",
			EntityID: string(o.ID),
			Detail:   "balance due is negative",
		}
	}
	return nil
}

// =============================================================================
// CHARGE ITEM - Line item belonging to exactly one order
// =============================================================================

// ChargeItem's Subtotal is recomputed as Quantity x UnitPrice on every
// write; callers cannot override it.
type ChargeItem struct {
	ID          ItemID
	OrderID     OrderID
	Description string
	Quantity    decimal.Decimal
	UnitPrice   decimal.Decimal
	Subtotal    decimal.Decimal

	CreatedAt time.Time
	UpdatedAt time.Time
}

// =============================================================================
// PAYMENT - pending -> {confirmed, rejected}, terminal
// =============================================================================

type PaymentMethod string

const (
	MethodCash     PaymentMethod = "cash"
	MethodCard     PaymentMethod = "card"
	MethodTransfer PaymentMethod = "transfer"
	MethodOther    PaymentMethod = "other"
)

type PaymentStatus string

const (
	PaymentPending   PaymentStatus = "pending"
	PaymentConfirmed PaymentStatus = "confirmed"
	PaymentRejected  PaymentStatus = "rejected"
	PaymentVoid      PaymentStatus = "void"
)

var paymentGraph = core.Transitions{
	core.State(PaymentPending): {core.State(PaymentConfirmed), core.State(PaymentRejected)},
}

// Payment belongs to exactly one order; AppointmentID is denormalized
// from the order at submission for patient-scoped queries.
type Payment struct {
	ID            PaymentID
	OrderID       OrderID
	AppointmentID core.AppointmentID

	Amount decimal.Decimal
	Method PaymentMethod
	Status PaymentStatus

	// Conditionally required: transfer needs both, card needs the reference.
	ReferenceNumber string
	BankName        string

	// Optional; unique when present. Duplicate submissions are rejected at
	// the storage layer independent of transaction isolation.
	IdempotencyKey string

	Note       string
	ReceivedAt time.Time

	CreatedAt time.Time
	UpdatedAt time.Time
}
