/*
billing.go - Charge orders, items, and payments (billing.TxStore)

All writes are upserts keyed by id; timestamps are maintained here so
domain code never touches them. The idempotency-key uniqueness violation
is translated to core.ErrDuplicateIdempotencyKey at this layer.
*/
package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"github.com/ungardev/medops/audit"
	"github.com/ungardev/medops/billing"
	"github.com/ungardev/medops/core"
)

type billingStore struct {
	s  *Store
	tx *sql.Tx
}

func (b *billingStore) WithTx(ctx context.Context, fn func(billing.Store) error) error {
	if b.tx != nil {
		// Already transaction-bound; nest flat.
		return fn(b)
	}
	return b.s.withTx(ctx, func(tx *sql.Tx) error {
		return fn(&billingStore{s: b.s, tx: tx})
	})
}

func (b *billingStore) read(f func(q dbtx) error) error {
	if b.tx != nil {
		return f(b.tx)
	}
	return b.s.read(f)
}

func (b *billingStore) write(f func(q dbtx) error) error {
	if b.tx != nil {
		return f(b.tx)
	}
	return b.s.write(f)
}

func (b *billingStore) AppendEvent(ctx context.Context, e audit.Event) error {
	return b.write(func(q dbtx) error {
		return appendEvent(ctx, q, e)
	})
}

// =============================================================================
// CHARGE ORDERS
// =============================================================================

const orderColumns = `id, appointment_id, patient_id, currency, total, balance_due,
	status, issued_at, issued_by, created_at, updated_at`

func (b *billingStore) Order(ctx context.Context, id billing.OrderID) (*billing.ChargeOrder, error) {
	var o *billing.ChargeOrder
	err := b.read(func(q dbtx) error {
		var err error
		o, err = scanOrder(q.QueryRowContext(ctx,
			`SELECT `+orderColumns+` FROM charge_orders WHERE id = ?`, id))
		return err
	})
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("charge order %s: %w", id, core.ErrNotFound)
	}
	return o, err
}

func (b *billingStore) OrderForAppointment(ctx context.Context, id core.AppointmentID) (*billing.ChargeOrder, error) {
	var o *billing.ChargeOrder
	err := b.read(func(q dbtx) error {
		var err error
		o, err = scanOrder(q.QueryRowContext(ctx,
			`SELECT `+orderColumns+` FROM charge_orders WHERE appointment_id = ?`, id))
		return err
	})
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("charge order for appointment %s: %w", id, core.ErrNotFound)
	}
	return o, err
}

func (b *billingStore) SaveOrder(ctx context.Context, o *billing.ChargeOrder) error {
	now := time.Now().UTC()
	if o.CreatedAt.IsZero() {
		o.CreatedAt = now
	}
	if o.IssuedAt.IsZero() {
		o.IssuedAt = now
	}
	o.UpdatedAt = now

	return b.write(func(q dbtx) error {
		_, err := q.ExecContext(ctx, `
			INSERT INTO charge_orders (`+orderColumns+`)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
			ON CONFLICT(id) DO UPDATE SET
				total       = excluded.total,
				balance_due = excluded.balance_due,
				status      = excluded.status,
				issued_by   = excluded.issued_by,
				updated_at  = excluded.updated_at`,
			o.ID, o.AppointmentID, o.PatientID, o.Currency,
			o.Total.String(), o.BalanceDue.String(), o.Status,
			formatTime(o.IssuedAt), o.IssuedBy,
			formatTime(o.CreatedAt), formatTime(o.UpdatedAt),
		)
		if isUniqueConstraintError(err) {
			// A second provisioning attempt for the same appointment.
			return fmt.Errorf("%w: appointment already has a charge order", core.ErrConcurrency)
		}
		return err
	})
}

type scanner interface {
	Scan(dest ...any) error
}

func scanOrder(row scanner) (*billing.ChargeOrder, error) {
	var (
		o                  billing.ChargeOrder
		total, balance     string
		issuedAt           string
		createdAt, updated string
	)
	err := row.Scan(&o.ID, &o.AppointmentID, &o.PatientID, &o.Currency,
		&total, &balance, &o.Status, &issuedAt, &o.IssuedBy, &createdAt, &updated)
	if err != nil {
		return nil, err
	}
	if o.Total, err = decimal.NewFromString(total); err != nil {
		return nil, fmt.Errorf("corrupt total on order %s: %w", o.ID, err)
	}
	if o.BalanceDue, err = decimal.NewFromString(balance); err != nil {
		return nil, fmt.Errorf("corrupt balance on order %s: %w", o.ID, err)
	}
	o.IssuedAt = parseTime(issuedAt)
	o.CreatedAt = parseTime(createdAt)
	o.UpdatedAt = parseTime(updated)
	return &o, nil
}

// =============================================================================
// CHARGE ITEMS
// =============================================================================

const itemColumns = `id, order_id, description, quantity, unit_price, subtotal,
	created_at, updated_at`

func (b *billingStore) Items(ctx context.Context, orderID billing.OrderID) ([]billing.ChargeItem, error) {
	var items []billing.ChargeItem
	err := b.read(func(q dbtx) error {
		rows, err := q.QueryContext(ctx,
			`SELECT `+itemColumns+` FROM charge_items
			 WHERE order_id = ? ORDER BY created_at ASC, id ASC`, orderID)
		if err != nil {
			return err
		}
		defer rows.Close()
		for rows.Next() {
			it, err := scanItem(rows)
			if err != nil {
				return err
			}
			items = append(items, *it)
		}
		return rows.Err()
	})
	return items, err
}

func (b *billingStore) Item(ctx context.Context, id billing.ItemID) (*billing.ChargeItem, error) {
	var it *billing.ChargeItem
	err := b.read(func(q dbtx) error {
		var err error
		it, err = scanItem(q.QueryRowContext(ctx,
			`SELECT `+itemColumns+` FROM charge_items WHERE id = ?`, id))
		return err
	})
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("charge item %s: %w", id, core.ErrNotFound)
	}
	return it, err
}

func (b *billingStore) SaveItem(ctx context.Context, it *billing.ChargeItem) error {
	now := time.Now().UTC()
	if it.CreatedAt.IsZero() {
		it.CreatedAt = now
	}
	it.UpdatedAt = now

	return b.write(func(q dbtx) error {
		_, err := q.ExecContext(ctx, `
			INSERT INTO charge_items (`+itemColumns+`)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?)
			ON CONFLICT(id) DO UPDATE SET
				description = excluded.description,
				quantity    = excluded.quantity,
				unit_price  = excluded.unit_price,
				subtotal    = excluded.subtotal,
				updated_at  = excluded.updated_at`,
			it.ID, it.OrderID, it.Description,
			it.Quantity.String(), it.UnitPrice.String(), it.Subtotal.String(),
			formatTime(it.CreatedAt), formatTime(it.UpdatedAt),
		)
		return err
	})
}

func (b *billingStore) DeleteItem(ctx context.Context, id billing.ItemID) error {
	return b.write(func(q dbtx) error {
		res, err := q.ExecContext(ctx, `DELETE FROM charge_items WHERE id = ?`, id)
		if err != nil {
			return err
		}
		if n, _ := res.RowsAffected(); n == 0 {
			return fmt.Errorf("charge item %s: %w", id, core.ErrNotFound)
		}
		return nil
	})
}

func scanItem(row scanner) (*billing.ChargeItem, error) {
	var (
		it                 billing.ChargeItem
		qty, price, sub    string
		createdAt, updated string
	)
	err := row.Scan(&it.ID, &it.OrderID, &it.Description, &qty, &price, &sub,
		&createdAt, &updated)
	if err != nil {
		return nil, err
	}
	if it.Quantity, err = decimal.NewFromString(qty); err != nil {
		return nil, fmt.Errorf("corrupt quantity on item %s: %w", it.ID, err)
	}
	if it.UnitPrice, err = decimal.NewFromString(price); err != nil {
		return nil, fmt.Errorf("corrupt unit price on item %s: %w", it.ID, err)
	}
	if it.Subtotal, err = decimal.NewFromString(sub); err != nil {
		return nil, fmt.Errorf("corrupt subtotal on item %s: %w", it.ID, err)
	}
	it.CreatedAt = parseTime(createdAt)
	it.UpdatedAt = parseTime(updated)
	return &it, nil
}

// =============================================================================
// PAYMENTS
// =============================================================================

const paymentColumns = `id, order_id, appointment_id, amount, method, status,
	reference_number, bank_name, idempotency_key, note, received_at,
	created_at, updated_at`

func (b *billingStore) Payments(ctx context.Context, orderID billing.OrderID) ([]billing.Payment, error) {
	var payments []billing.Payment
	err := b.read(func(q dbtx) error {
		rows, err := q.QueryContext(ctx,
			`SELECT `+paymentColumns+` FROM payments
			 WHERE order_id = ? ORDER BY created_at ASC, id ASC`, orderID)
		if err != nil {
			return err
		}
		defer rows.Close()
		for rows.Next() {
			p, err := scanPayment(rows)
			if err != nil {
				return err
			}
			payments = append(payments, *p)
		}
		return rows.Err()
	})
	return payments, err
}

func (b *billingStore) Payment(ctx context.Context, id billing.PaymentID) (*billing.Payment, error) {
	var p *billing.Payment
	err := b.read(func(q dbtx) error {
		var err error
		p, err = scanPayment(q.QueryRowContext(ctx,
			`SELECT `+paymentColumns+` FROM payments WHERE id = ?`, id))
		return err
	})
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("payment %s: %w", id, core.ErrNotFound)
	}
	return p, err
}

func (b *billingStore) SavePayment(ctx context.Context, p *billing.Payment) error {
	now := time.Now().UTC()
	if p.CreatedAt.IsZero() {
		p.CreatedAt = now
	}
	p.UpdatedAt = now

	return b.write(func(q dbtx) error {
		_, err := q.ExecContext(ctx, `
			INSERT INTO payments (`+paymentColumns+`)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
			ON CONFLICT(id) DO UPDATE SET
				status     = excluded.status,
				note       = excluded.note,
				updated_at = excluded.updated_at`,
			p.ID, p.OrderID, p.AppointmentID, p.Amount.String(), p.Method, p.Status,
			p.ReferenceNumber, p.BankName, nullString(p.IdempotencyKey), p.Note,
			formatTime(p.ReceivedAt), formatTime(p.CreatedAt), formatTime(p.UpdatedAt),
		)
		if isUniqueConstraintError(err) {
			return fmt.Errorf("payment key %q: %w", p.IdempotencyKey, core.ErrDuplicateIdempotencyKey)
		}
		return err
	})
}

func scanPayment(row scanner) (*billing.Payment, error) {
	var (
		p                  billing.Payment
		amount             string
		idemKey            sql.NullString
		receivedAt         string
		createdAt, updated string
	)
	err := row.Scan(&p.ID, &p.OrderID, &p.AppointmentID, &amount, &p.Method, &p.Status,
		&p.ReferenceNumber, &p.BankName, &idemKey, &p.Note, &receivedAt,
		&createdAt, &updated)
	if err != nil {
		return nil, err
	}
	if p.Amount, err = decimal.NewFromString(amount); err != nil {
		return nil, fmt.Errorf("corrupt amount on payment %s: %w", p.ID, err)
	}
	p.IdempotencyKey = idemKey.String
	p.ReceivedAt = parseTime(receivedAt)
	p.CreatedAt = parseTime(createdAt)
	p.UpdatedAt = parseTime(updated)
	return &p, nil
}
