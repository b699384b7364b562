/*
flow.go - Appointments and waiting-room entries (flow.TxStore)

Queue placement support lives here: MaxOrderInBand reads the per-band
counter and the UNIQUE(day, priority, queue_order) constraint backs the
application-level serialization, so a racing placement surfaces as a
retryable conflict instead of two entries sharing a position. EnsureOrder
provisions the appointment's charge order with INSERT OR IGNORE against
the one-order-per-appointment unique constraint.
*/
package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/ungardev/medops/audit"
	"github.com/ungardev/medops/billing"
	"github.com/ungardev/medops/core"
	"github.com/ungardev/medops/flow"
)

type flowStore struct {
	s  *Store
	tx *sql.Tx
}

func (f *flowStore) WithTx(ctx context.Context, fn func(flow.Store) error) error {
	if f.tx != nil {
		return fn(f)
	}
	return f.s.withTx(ctx, func(tx *sql.Tx) error {
		return fn(&flowStore{s: f.s, tx: tx})
	})
}

func (f *flowStore) read(fn func(q dbtx) error) error {
	if f.tx != nil {
		return fn(f.tx)
	}
	return f.s.read(fn)
}

func (f *flowStore) write(fn func(q dbtx) error) error {
	if f.tx != nil {
		return fn(f.tx)
	}
	return f.s.write(fn)
}

func (f *flowStore) AppendEvent(ctx context.Context, e audit.Event) error {
	return f.write(func(q dbtx) error {
		return appendEvent(ctx, q, e)
	})
}

// =============================================================================
// APPOINTMENTS
// =============================================================================

const appointmentColumns = `id, patient_id, type, status, expected_amount,
	scheduled_for, arrival_time, created_at, updated_at`

func (f *flowStore) Appointment(ctx context.Context, id core.AppointmentID) (*flow.Appointment, error) {
	var a *flow.Appointment
	err := f.read(func(q dbtx) error {
		var err error
		a, err = scanAppointment(q.QueryRowContext(ctx,
			`SELECT `+appointmentColumns+` FROM appointments WHERE id = ?`, id))
		return err
	})
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("appointment %s: %w", id, core.ErrNotFound)
	}
	return a, err
}

func (f *flowStore) SaveAppointment(ctx context.Context, a *flow.Appointment) error {
	now := time.Now().UTC()
	if a.CreatedAt.IsZero() {
		a.CreatedAt = now
	}
	a.UpdatedAt = now

	var arrival sql.NullString
	if a.ArrivalTime != nil {
		arrival = nullString(formatTime(*a.ArrivalTime))
	}

	return f.write(func(q dbtx) error {
		_, err := q.ExecContext(ctx, `
			INSERT INTO appointments (`+appointmentColumns+`)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
			ON CONFLICT(id) DO UPDATE SET
				status          = excluded.status,
				expected_amount = excluded.expected_amount,
				scheduled_for   = excluded.scheduled_for,
				arrival_time    = excluded.arrival_time,
				updated_at      = excluded.updated_at`,
			a.ID, a.PatientID, a.Type, a.Status, a.ExpectedAmount.String(),
			formatTime(a.ScheduledFor), arrival,
			formatTime(a.CreatedAt), formatTime(a.UpdatedAt),
		)
		return err
	})
}

func (f *flowStore) DeleteAppointment(ctx context.Context, id core.AppointmentID) error {
	return f.write(func(q dbtx) error {
		res, err := q.ExecContext(ctx, `DELETE FROM appointments WHERE id = ?`, id)
		if err != nil {
			return err
		}
		if n, _ := res.RowsAffected(); n == 0 {
			return fmt.Errorf("appointment %s: %w", id, core.ErrNotFound)
		}
		return nil
	})
}

func scanAppointment(row scanner) (*flow.Appointment, error) {
	var (
		a                  flow.Appointment
		expected           string
		scheduledFor       string
		arrival            sql.NullString
		createdAt, updated string
	)
	err := row.Scan(&a.ID, &a.PatientID, &a.Type, &a.Status, &expected,
		&scheduledFor, &arrival, &createdAt, &updated)
	if err != nil {
		return nil, err
	}
	if a.ExpectedAmount, err = decimal.NewFromString(expected); err != nil {
		return nil, fmt.Errorf("corrupt expected amount on appointment %s: %w", a.ID, err)
	}
	a.ScheduledFor = parseTime(scheduledFor)
	a.ArrivalTime = parseTimePtr(arrival)
	a.CreatedAt = parseTime(createdAt)
	a.UpdatedAt = parseTime(updated)
	return &a, nil
}

// =============================================================================
// WAITING-ROOM ENTRIES
// =============================================================================

const entryColumns = `id, appointment_id, patient_id, status, priority, source,
	arrival_time, day, queue_order, created_at, updated_at`

func (f *flowStore) Entry(ctx context.Context, id flow.EntryID) (*flow.WaitingRoomEntry, error) {
	var e *flow.WaitingRoomEntry
	err := f.read(func(q dbtx) error {
		var err error
		e, err = scanEntry(q.QueryRowContext(ctx,
			`SELECT `+entryColumns+` FROM waiting_room_entries WHERE id = ?`, id))
		return err
	})
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("waiting-room entry %s: %w", id, core.ErrNotFound)
	}
	return e, err
}

func (f *flowStore) EntryForAppointment(ctx context.Context, id core.AppointmentID) (*flow.WaitingRoomEntry, error) {
	var e *flow.WaitingRoomEntry
	err := f.read(func(q dbtx) error {
		var err error
		e, err = scanEntry(q.QueryRowContext(ctx,
			`SELECT `+entryColumns+` FROM waiting_room_entries WHERE appointment_id = ?`, id))
		return err
	})
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("waiting-room entry for appointment %s: %w", id, core.ErrNotFound)
	}
	return e, err
}

func (f *flowStore) SaveEntry(ctx context.Context, e *flow.WaitingRoomEntry) error {
	now := time.Now().UTC()
	if e.CreatedAt.IsZero() {
		e.CreatedAt = now
	}
	e.UpdatedAt = now

	return f.write(func(q dbtx) error {
		_, err := q.ExecContext(ctx, `
			INSERT INTO waiting_room_entries (`+entryColumns+`)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
			ON CONFLICT(id) DO UPDATE SET
				status     = excluded.status,
				priority   = excluded.priority,
				updated_at = excluded.updated_at`,
			e.ID, e.AppointmentID, e.PatientID, e.Status, e.Priority, e.Source,
			formatTime(e.ArrivalTime), e.Band(), e.Order,
			formatTime(e.CreatedAt), formatTime(e.UpdatedAt),
		)
		if isUniqueConstraintError(err) {
			// Either two placements raced to the same band position or two
			// arrivals raced to create the entry; both retry cleanly.
			return fmt.Errorf("%w: waiting-room placement conflict", core.ErrConcurrency)
		}
		return err
	})
}

func (f *flowStore) MaxOrderInBand(ctx context.Context, day string, p flow.Priority) (int, error) {
	var max int
	err := f.read(func(q dbtx) error {
		return q.QueryRowContext(ctx,
			`SELECT COALESCE(MAX(queue_order), 0) FROM waiting_room_entries
			 WHERE day = ? AND priority = ?`, day, p).Scan(&max)
	})
	return max, err
}

// Queue applies the composite sort contract in SQL: emergency band before
// normal regardless of arrival time, then earliest arrival, then the
// assigned in-band order as final tiebreaker.
func (f *flowStore) Queue(ctx context.Context, day string) ([]flow.WaitingRoomEntry, error) {
	var entries []flow.WaitingRoomEntry
	err := f.read(func(q dbtx) error {
		rows, err := q.QueryContext(ctx,
			`SELECT `+entryColumns+` FROM waiting_room_entries
			 WHERE day = ?
			 ORDER BY CASE priority WHEN 'emergency' THEN 0 ELSE 1 END,
			          julianday(arrival_time),
			          queue_order`, day)
		if err != nil {
			return err
		}
		defer rows.Close()
		for rows.Next() {
			e, err := scanEntry(rows)
			if err != nil {
				return err
			}
			entries = append(entries, *e)
		}
		return rows.Err()
	})
	return entries, err
}

func scanEntry(row scanner) (*flow.WaitingRoomEntry, error) {
	var (
		e                  flow.WaitingRoomEntry
		arrival, day       string
		createdAt, updated string
	)
	err := row.Scan(&e.ID, &e.AppointmentID, &e.PatientID, &e.Status, &e.Priority,
		&e.Source, &arrival, &day, &e.Order, &createdAt, &updated)
	if err != nil {
		return nil, err
	}
	e.ArrivalTime = parseTime(arrival)
	e.CreatedAt = parseTime(createdAt)
	e.UpdatedAt = parseTime(updated)
	return &e, nil
}

// =============================================================================
// CHARGE ORDER PROVISIONING
// =============================================================================

// EnsureOrder provisions the appointment's charge order at zero value.
// INSERT OR IGNORE against the appointment_id unique constraint makes the
// guard idempotent: a second call (or a racing one) is a no-op.
func (f *flowStore) EnsureOrder(ctx context.Context, a *flow.Appointment, currency string) (bool, error) {
	now := time.Now().UTC()
	zero := decimal.Zero.String()

	var created bool
	err := f.write(func(q dbtx) error {
		res, err := q.ExecContext(ctx, `
			INSERT OR IGNORE INTO charge_orders
				(id, appointment_id, patient_id, currency, total, balance_due,
				 status, issued_at, issued_by, created_at, updated_at)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, '', ?, ?)`,
			uuid.NewString(), a.ID, a.PatientID, currency, zero, zero,
			billing.OrderOpen, formatTime(now), formatTime(now), formatTime(now),
		)
		if err != nil {
			return err
		}
		n, _ := res.RowsAffected()
		created = n > 0
		return nil
	})
	return created, err
}
