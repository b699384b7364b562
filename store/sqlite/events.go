/*
events.go - Append-only audit log (audit.Trail)

The events table has exactly one write path, appendEvent, which all
store views share so an event always rides the transaction of the
mutation it documents. The patient trail is assembled by traversing
Appointment -> ChargeOrder -> Payment and Appointment -> WaitingRoomEntry
in SQL rather than keeping a second, denormalized event index.
*/
package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/google/uuid"

	"github.com/ungardev/medops/audit"
)

type auditStore struct {
	s *Store
}

// appendEvent is the single write path for the events table. Shared by
// the billing and flow views so events join their mutation's transaction.
func appendEvent(ctx context.Context, q dbtx, e audit.Event) error {
	if e.ID == "" {
		e.ID = uuid.NewString()
	}
	var metadata any
	if len(e.Metadata) > 0 {
		raw, err := json.Marshal(e.Metadata)
		if err != nil {
			return err
		}
		metadata = string(raw)
	}
	notify := 0
	if e.Notify {
		notify = 1
	}
	_, err := q.ExecContext(ctx, `
		INSERT INTO events (id, ts, actor, entity, entity_id, action,
			metadata_json, severity, notify)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		e.ID, formatTime(e.Timestamp), e.Actor, e.Entity, e.EntityID, e.Action,
		metadata, e.Severity, notify,
	)
	return err
}

func (a *auditStore) Append(ctx context.Context, e audit.Event) error {
	return a.s.write(func(q dbtx) error {
		return appendEvent(ctx, q, e)
	})
}

const eventColumns = `id, ts, actor, entity, entity_id, action, metadata_json,
	severity, notify`

func (a *auditStore) Query(ctx context.Context, f audit.Filter) ([]audit.Event, error) {
	query := `SELECT ` + eventColumns + ` FROM events`
	var (
		where []string
		args  []any
	)
	if f.Entity != "" {
		where = append(where, "entity = ?")
		args = append(args, f.Entity)
	}
	if f.EntityID != "" {
		where = append(where, "entity_id = ?")
		args = append(args, f.EntityID)
	}
	if f.Actor != "" {
		where = append(where, "actor = ?")
		args = append(args, f.Actor)
	}
	if f.Severity != "" {
		where = append(where, "severity = ?")
		args = append(args, f.Severity)
	}
	if len(f.Actions) > 0 {
		where = append(where, "action IN (?"+strings.Repeat(", ?", len(f.Actions)-1)+")")
		for _, action := range f.Actions {
			args = append(args, action)
		}
	}
	if f.From != nil {
		where = append(where, "ts >= ?")
		args = append(args, formatTime(*f.From))
	}
	if f.To != nil {
		where = append(where, "ts <= ?")
		args = append(args, formatTime(*f.To))
	}
	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}
	query += " ORDER BY ts ASC, id ASC"

	return a.queryEvents(ctx, query, args...)
}

// ForAppointment returns events touching the appointment or anything
// hanging off it: its charge order, that order's payments, and its
// waiting-room entry.
func (a *auditStore) ForAppointment(ctx context.Context, appointmentID string) ([]audit.Event, error) {
	return a.queryEvents(ctx, `
		SELECT `+eventColumns+` FROM events
		WHERE entity_id IN (
			SELECT ?
			UNION SELECT id FROM charge_orders WHERE appointment_id = ?
			UNION SELECT id FROM payments WHERE appointment_id = ?
			UNION SELECT id FROM waiting_room_entries WHERE appointment_id = ?
		)
		ORDER BY ts ASC, id ASC`,
		appointmentID, appointmentID, appointmentID, appointmentID)
}

// ForPatient widens the traversal to every appointment of the patient.
func (a *auditStore) ForPatient(ctx context.Context, patientID string) ([]audit.Event, error) {
	return a.queryEvents(ctx, `
		SELECT `+eventColumns+` FROM events
		WHERE entity_id IN (
			SELECT id FROM appointments WHERE patient_id = ?
			UNION SELECT co.id FROM charge_orders co
				JOIN appointments ap ON ap.id = co.appointment_id
				WHERE ap.patient_id = ?
			UNION SELECT p.id FROM payments p
				JOIN appointments ap ON ap.id = p.appointment_id
				WHERE ap.patient_id = ?
			UNION SELECT w.id FROM waiting_room_entries w
				JOIN appointments ap ON ap.id = w.appointment_id
				WHERE ap.patient_id = ?
		)
		ORDER BY ts ASC, id ASC`,
		patientID, patientID, patientID, patientID)
}

func (a *auditStore) queryEvents(ctx context.Context, query string, args ...any) ([]audit.Event, error) {
	var events []audit.Event
	err := a.s.read(func(q dbtx) error {
		rows, err := q.QueryContext(ctx, query, args...)
		if err != nil {
			return err
		}
		defer rows.Close()
		for rows.Next() {
			e, err := scanEvent(rows)
			if err != nil {
				return err
			}
			events = append(events, *e)
		}
		return rows.Err()
	})
	return events, err
}

func scanEvent(row scanner) (*audit.Event, error) {
	var (
		e        audit.Event
		ts       string
		metadata sql.NullString
		notify   int
	)
	err := row.Scan(&e.ID, &ts, &e.Actor, &e.Entity, &e.EntityID, &e.Action,
		&metadata, &e.Severity, &notify)
	if err != nil {
		return nil, err
	}
	e.Timestamp = parseTime(ts)
	e.Notify = notify != 0
	if metadata.Valid && metadata.String != "" {
		if err := json.Unmarshal([]byte(metadata.String), &e.Metadata); err != nil {
			return nil, fmt.Errorf("corrupt metadata on event %s: %w", e.ID, err)
		}
	}
	return &e, nil
}
