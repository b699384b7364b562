/*
payments.go - Payment validation, confirmation, and rejection

PURPOSE:
  A payment is created pending and transitions exactly once, to confirmed
  or rejected. Both transitions are atomic units: the fresh balance read,
  the payment status write, the ledger recalculation, and the audit event
  share one transaction. Concurrent confirmations against the same order
  therefore serialize instead of double-spending the balance.

VALIDATION:
  - amount must be positive
  - the owning order must not be void
  - transfer requires reference number and bank name; card requires the
    reference number

IDEMPOTENCY:
  A submission carrying a previously seen idempotency key fails with
  core.ErrDuplicateIdempotencyKey via the store's uniqueness constraint,
  leaving exactly one persisted payment.
*/
package billing

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/ungardev/medops/audit"
	"github.com/ungardev/medops/core"
)

// ExceedsBalanceError rejects a confirmation whose amount no longer fits
// the order's remaining balance. The payment may have been valid at
// creation time; only the balance at confirmation time counts.
type ExceedsBalanceError struct {
	PaymentID  PaymentID
	Amount     string
	BalanceDue string
}

func (e *ExceedsBalanceError) Error() string {
	return fmt.Sprintf("payment %s: amount %s exceeds balance due %s", e.PaymentID, e.Amount, e.BalanceDue)
}

func (e *ExceedsBalanceError) Unwrap() error { return core.ErrStateTransition }

// Processor validates and settles payments against the ledger.
type Processor struct {
	store TxStore
	log   zerolog.Logger
	now   func() time.Time
}

func NewProcessor(store TxStore, log zerolog.Logger) *Processor {
	return &Processor{store: store, log: log, now: time.Now}
}

// validate applies the method-independent and method-specific rules.
// The order is checked separately since it requires a read.
func validate(p *Payment) error {
	if !p.Amount.IsPositive() {
		return &core.ValidationError{Field: "amount", Reason: "must be positive"}
	}
	switch p.Method {
	case MethodCash, MethodOther:
	case MethodCard:
		if p.ReferenceNumber == "" {
			return &core.ValidationError{Field: "reference_number", Reason: "required for card payments"}
		}
	case MethodTransfer:
		if p.ReferenceNumber == "" {
			return &core.ValidationError{Field: "reference_number", Reason: "required for transfers"}
		}
		if p.BankName == "" {
			return &core.ValidationError{Field: "bank_name", Reason: "required for transfers"}
		}
	default:
		return &core.ValidationError{Field: "method", Reason: "unknown payment method"}
	}
	return nil
}

// Submit creates a pending payment against an order.
func (p *Processor) Submit(ctx context.Context, payment *Payment, actor string) (*Payment, error) {
	if err := validate(payment); err != nil {
		return nil, err
	}
	if payment.ID == "" {
		payment.ID = PaymentID(uuid.NewString())
	}
	payment.Status = PaymentPending
	if payment.ReceivedAt.IsZero() {
		payment.ReceivedAt = p.now().UTC()
	}

	err := p.store.WithTx(ctx, func(s Store) error {
		order, err := s.Order(ctx, payment.OrderID)
		if err != nil {
			return err
		}
		if order.Status == OrderVoid {
			return &core.TransitionError{
				Entity: "payment",
				From:   core.State(PaymentPending),
				To:     core.State(PaymentPending),
				Reason: "order is void",
			}
		}
		payment.AppointmentID = order.AppointmentID
		if err := s.SavePayment(ctx, payment); err != nil {
			return err
		}
		return s.AppendEvent(ctx, audit.Event{
			Timestamp: p.now().UTC(),
			Actor:     actor,
			Entity:    "payment",
			EntityID:  string(payment.ID),
			Action:    "payment_submitted",
			Metadata: map[string]any{
				"order_id": string(payment.OrderID),
				"amount":   payment.Amount.String(),
				"method":   string(payment.Method),
			},
			Severity: audit.SeverityInfo,
		})
	})
	if err != nil {
		return nil, err
	}
	return payment, nil
}

// Confirm settles a pending payment. The balance is re-read inside the
// transaction; a payment that fit when submitted still fails here if
// another confirmation got there first.
func (p *Processor) Confirm(ctx context.Context, id PaymentID, actor, note string) (*Payment, error) {
	var payment *Payment
	err := p.store.WithTx(ctx, func(s Store) error {
		var err error
		payment, err = s.Payment(ctx, id)
		if err != nil {
			return err
		}
		if err := paymentGraph.Step("payment", core.State(payment.Status), core.State(PaymentConfirmed)); err != nil {
			return err
		}

		order, err := s.Order(ctx, payment.OrderID)
		if err != nil {
			return err
		}
		if order.Status == OrderVoid {
			return &core.TransitionError{
				Entity: "payment",
				From:   core.State(payment.Status),
				To:     core.State(PaymentConfirmed),
				Reason: "order is void",
			}
		}

		// Fresh balance, same transaction.
		items, err := s.Items(ctx, order.ID)
		if err != nil {
			return err
		}
		payments, err := s.Payments(ctx, order.ID)
		if err != nil {
			return err
		}
		Recalc(order, items, payments)
		if payment.Amount.GreaterThan(order.BalanceDue) {
			return &ExceedsBalanceError{
				PaymentID:  payment.ID,
				Amount:     payment.Amount.String(),
				BalanceDue: order.BalanceDue.String(),
			}
		}

		payment.Status = PaymentConfirmed
		if err := s.SavePayment(ctx, payment); err != nil {
			return err
		}
		if err := recalcAndSave(ctx, s, order); err != nil {
			return err
		}
		return s.AppendEvent(ctx, audit.Event{
			Timestamp: p.now().UTC(),
			Actor:     actor,
			Entity:    "payment",
			EntityID:  string(payment.ID),
			Action:    "payment_confirmed",
			Metadata: map[string]any{
				"actor":    actor,
				"note":     note,
				"order_id": string(payment.OrderID),
				"amount":   payment.Amount.String(),
			},
			Severity: audit.SeverityInfo,
			Notify:   true,
		})
	})
	if err != nil {
		return nil, err
	}
	p.log.Info().Str("payment_id", string(payment.ID)).Str("actor", actor).
		Str("amount", payment.Amount.String()).Msg("payment confirmed")
	return payment, nil
}

// Reject marks a pending payment rejected and recalculates the ledger.
func (p *Processor) Reject(ctx context.Context, id PaymentID, actor, reason string) (*Payment, error) {
	var payment *Payment
	err := p.store.WithTx(ctx, func(s Store) error {
		var err error
		payment, err = s.Payment(ctx, id)
		if err != nil {
			return err
		}
		if err := paymentGraph.Step("payment", core.State(payment.Status), core.State(PaymentRejected)); err != nil {
			return err
		}
		payment.Status = PaymentRejected
		if err := s.SavePayment(ctx, payment); err != nil {
			return err
		}
		order, err := s.Order(ctx, payment.OrderID)
		if err != nil {
			return err
		}
		if err := recalcAndSave(ctx, s, order); err != nil {
			return err
		}
		return s.AppendEvent(ctx, audit.Event{
			Timestamp: p.now().UTC(),
			Actor:     actor,
			Entity:    "payment",
			EntityID:  string(payment.ID),
			Action:    "payment_rejected",
			Metadata: map[string]any{
				"actor":    actor,
				"reason":   reason,
				"order_id": string(payment.OrderID),
			},
			Severity: audit.SeverityWarning,
			Notify:   true,
		})
	})
	if err != nil {
		return nil, err
	}
	p.log.Warn().Str("payment_id", string(payment.ID)).Str("actor", actor).
		Str("reason", reason).Msg("payment rejected")
	return payment, nil
}

// Payment returns a payment by id.
func (p *Processor) Payment(ctx context.Context, id PaymentID) (*Payment, error) {
	return p.store.Payment(ctx, id)
}

// List returns all payments on an order.
func (p *Processor) List(ctx context.Context, orderID OrderID) ([]Payment, error) {
	return p.store.Payments(ctx, orderID)
}
