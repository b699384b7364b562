/*
store.go - Persistence interface for the billing core

PURPOSE:
  Defines what the ledger, item store, and payment processor need from
  the database. Implementations live under store/sqlite; the same
  patterns apply to PostgreSQL with minor dialect differences.

ATOMIC UNITS:
  Every read-aggregate-then-write sequence (payment confirmation, item
  write + recalculation, void/waive) runs inside WithTx so the balance
  read and the status/ledger writes share one transaction scoped to the
  order. The audit append uses the same transaction-bound Store, so a
  rolled-back mutation leaves no orphan event.

IDEMPOTENCY:
  SavePayment inserting a previously seen idempotency key must fail with
  core.ErrDuplicateIdempotencyKey, enforced by a uniqueness constraint
  rather than application reads.
*/
package billing

import (
	"context"

	"github.com/ungardev/medops/audit"
	"github.com/ungardev/medops/core"
)

// Store is the persistence surface of the billing core.
// Not-found lookups return errors matching core.ErrNotFound.
type Store interface {
	Order(ctx context.Context, id OrderID) (*ChargeOrder, error)
	OrderForAppointment(ctx context.Context, id core.AppointmentID) (*ChargeOrder, error)
	SaveOrder(ctx context.Context, o *ChargeOrder) error

	Items(ctx context.Context, orderID OrderID) ([]ChargeItem, error)
	Item(ctx context.Context, id ItemID) (*ChargeItem, error)
	SaveItem(ctx context.Context, it *ChargeItem) error
	DeleteItem(ctx context.Context, id ItemID) error

	Payments(ctx context.Context, orderID OrderID) ([]Payment, error)
	Payment(ctx context.Context, id PaymentID) (*Payment, error)
	SavePayment(ctx context.Context, p *Payment) error

	// AppendEvent writes an audit event through the same connection or
	// transaction as the surrounding mutation.
	AppendEvent(ctx context.Context, e audit.Event) error
}

// TxStore wraps Store with transaction support.
type TxStore interface {
	Store

	// WithTx executes fn within one database transaction. If fn returns an
	// error the transaction is rolled back, otherwise committed.
	// Serialization failures surface as core.ErrConcurrency; the whole fn
	// is safe to retry from scratch.
	WithTx(ctx context.Context, fn func(Store) error) error
}
