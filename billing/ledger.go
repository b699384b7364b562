/*
ledger.go - Charge order totals, balance, and status

PURPOSE:
  Recalc is the single source of truth for the (total, balance_due,
  status) triple. Every write that could affect it - item upsert/delete,
  payment confirmation/rejection - re-runs it synchronously inside the
  same transaction. No second, independently cached balance path exists.

RECALC CONTRACT:
  total       = sum of item subtotals
  balance_due = max(total - sum of confirmed payments, 0)
  status      = paid            if balance_due = 0 and total > 0
              = partially_paid  if any confirmed amount
              = open            otherwise

  void and waived orders keep their balance and status untouched: waive
  pinned the balance at zero, and void froze the order as it stood. A
  paid status is likewise never silently overwritten; a paid order whose
  recomputed balance is nonzero is an invariant violation, caught by
  CheckInvariants, not repaired.

GUARDED OPERATIONS:
  MarkVoid:   rejected on paid orders
  MarkWaived: rejected on paid and void orders; pins balance to zero
  Both emit notify-flagged audit events in the same transaction.
*/
package billing

import (
	"context"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"github.com/ungardev/medops/audit"
	"github.com/ungardev/medops/core"
)

// =============================================================================
// RECALC - Pure, idempotent; persistence is the caller's responsibility
// =============================================================================

// Recalc recomputes the order's total, balance due, and status from its
// items and payments. It mutates only those three fields and performs no
// I/O. Idempotent: running it twice yields the same result.
func Recalc(order *ChargeOrder, items []ChargeItem, payments []Payment) {
	total := decimal.Zero
	for _, it := range items {
		total = total.Add(it.Subtotal)
	}

	confirmed := decimal.Zero
	for _, p := range payments {
		if p.Status == PaymentConfirmed {
			confirmed = confirmed.Add(p.Amount)
		}
	}

	// Void froze the order; waive pinned balance at zero. Neither is
	// recomputed over.
	if order.Status == OrderVoid || order.Status == OrderWaived {
		return
	}

	order.Total = total
	order.BalanceDue = core.NonNegative(total.Sub(confirmed))

	if order.Status == OrderPaid {
		// Never silently overwritten. CheckInvariants flags the corpse if
		// the recomputed balance no longer matches.
		return
	}

	switch {
	case order.BalanceDue.IsZero() && total.IsPositive():
		order.Status = OrderPaid
	case confirmed.IsPositive():
		order.Status = OrderPartiallyPaid
	default:
		order.Status = OrderOpen
	}
}

// recalcAndSave reloads the order's items and payments, recomputes, and
// persists. Must run on a transaction-bound Store.
func recalcAndSave(ctx context.Context, s Store, order *ChargeOrder) error {
	items, err := s.Items(ctx, order.ID)
	if err != nil {
		return err
	}
	payments, err := s.Payments(ctx, order.ID)
	if err != nil {
		return err
	}
	Recalc(order, items, payments)
	if err := order.CheckInvariants(); err != nil {
		return err
	}
	return s.SaveOrder(ctx, order)
}

// =============================================================================
// LEDGER SERVICE
// =============================================================================

// Ledger exposes the guarded order operations and balance reads.
type Ledger struct {
	store TxStore
	log   zerolog.Logger
	now   func() time.Time
}

func NewLedger(store TxStore, log zerolog.Logger) *Ledger {
	return &Ledger{store: store, log: log, now: time.Now}
}

// MarkVoid voids an order. Fails with a transition error on paid orders
// (and on already-terminal ones). Emits a critical, notify-flagged event.
func (l *Ledger) MarkVoid(ctx context.Context, id OrderID, reason, actor string) (*ChargeOrder, error) {
	var order *ChargeOrder
	err := l.store.WithTx(ctx, func(s Store) error {
		var err error
		order, err = s.Order(ctx, id)
		if err != nil {
			return err
		}
		if order.Status == OrderPaid {
			return &core.TransitionError{
				Entity: "charge_order",
				From:   core.State(order.Status),
				To:     core.State(OrderVoid),
				Reason: "paid orders cannot be voided",
			}
		}
		if err := orderGraph.Step("charge_order", core.State(order.Status), core.State(OrderVoid)); err != nil {
			return err
		}
		order.Status = OrderVoid
		if err := s.SaveOrder(ctx, order); err != nil {
			return err
		}
		return s.AppendEvent(ctx, audit.Event{
			Timestamp: l.now().UTC(),
			Actor:     actor,
			Entity:    "charge_order",
			EntityID:  string(order.ID),
			Action:    "order_voided",
			Metadata:  map[string]any{"reason": reason, "appointment_id": string(order.AppointmentID)},
			Severity:  audit.SeverityCritical,
			Notify:    true,
		})
	})
	if err != nil {
		return nil, err
	}
	l.log.Warn().Str("order_id", string(order.ID)).Str("actor", actor).Str("reason", reason).
		Msg("charge order voided")
	return order, nil
}

// MarkWaived waives an order's remaining balance. Fails on paid and void
// orders. Pins balance due to zero and emits a notify-flagged event.
func (l *Ledger) MarkWaived(ctx context.Context, id OrderID, reason, actor string) (*ChargeOrder, error) {
	var order *ChargeOrder
	err := l.store.WithTx(ctx, func(s Store) error {
		var err error
		order, err = s.Order(ctx, id)
		if err != nil {
			return err
		}
		if err := orderGraph.Step("charge_order", core.State(order.Status), core.State(OrderWaived)); err != nil {
			return err
		}
		order.Status = OrderWaived
		order.BalanceDue = decimal.Zero
		if err := s.SaveOrder(ctx, order); err != nil {
			return err
		}
		return s.AppendEvent(ctx, audit.Event{
			Timestamp: l.now().UTC(),
			Actor:     actor,
			Entity:    "charge_order",
			EntityID:  string(order.ID),
			Action:    "order_waived",
			Metadata:  map[string]any{"reason": reason, "appointment_id": string(order.AppointmentID)},
			Severity:  audit.SeverityInfo,
			Notify:    true,
		})
	})
	if err != nil {
		return nil, err
	}
	l.log.Info().Str("order_id", string(order.ID)).Str("actor", actor).Msg("charge order waived")
	return order, nil
}

// Order returns the order by id.
func (l *Ledger) Order(ctx context.Context, id OrderID) (*ChargeOrder, error) {
	return l.store.Order(ctx, id)
}

// OrderForAppointment returns the order auto-provisioned for the
// appointment.
func (l *Ledger) OrderForAppointment(ctx context.Context, id core.AppointmentID) (*ChargeOrder, error) {
	return l.store.OrderForAppointment(ctx, id)
}

// BalanceDue returns the current balance for an appointment's order,
// recomputed through the single recalc path rather than trusting the
// cached column.
func (l *Ledger) BalanceDue(ctx context.Context, id core.AppointmentID) (decimal.Decimal, error) {
	order, err := l.store.OrderForAppointment(ctx, id)
	if err != nil {
		return decimal.Zero, err
	}
	items, err := l.store.Items(ctx, order.ID)
	if err != nil {
		return decimal.Zero, err
	}
	payments, err := l.store.Payments(ctx, order.ID)
	if err != nil {
		return decimal.Zero, err
	}
	Recalc(order, items, payments)
	return order.BalanceDue, nil
}

// Receipt is the read-only projection document-rendering collaborators
// consume. The core exposes no rendering.
type Receipt struct {
	Order    ChargeOrder
	Items    []ChargeItem
	Payments []Payment
}

// ReceiptFor assembles the order with its items and payments.
func (l *Ledger) ReceiptFor(ctx context.Context, id OrderID) (*Receipt, error) {
	order, err := l.store.Order(ctx, id)
	if err != nil {
		return nil, err
	}
	items, err := l.store.Items(ctx, id)
	if err != nil {
		return nil, err
	}
	payments, err := l.store.Payments(ctx, id)
	if err != nil {
		return nil, err
	}
	return &Receipt{Order: *order, Items: items, Payments: payments}, nil
}
