/*
store.go - Persistence interface for patient flow

The flow core reads and writes appointments and waiting-room entries and
provisions each appointment's charge order without importing the billing
package: EnsureOrder hides the order row behind an idempotent get-or-create.
Queue placement needs the per-band maximum inside the same transaction as
the insert, so MaxOrderInBand lives here rather than in application code.
*/
package flow

import (
	"context"
	"time"

	"github.com/ungardev/medops/audit"
	"github.com/ungardev/medops/core"
)

// Store is the persistence surface of the flow core.
// Not-found lookups return errors matching core.ErrNotFound.
type Store interface {
	Appointment(ctx context.Context, id core.AppointmentID) (*Appointment, error)
	SaveAppointment(ctx context.Context, a *Appointment) error
	// DeleteAppointment removes the appointment and, by cascade, its
	// waiting-room entry.
	DeleteAppointment(ctx context.Context, id core.AppointmentID) error

	Entry(ctx context.Context, id EntryID) (*WaitingRoomEntry, error)
	EntryForAppointment(ctx context.Context, id core.AppointmentID) (*WaitingRoomEntry, error)
	SaveEntry(ctx context.Context, e *WaitingRoomEntry) error

	// MaxOrderInBand returns the highest assigned order within the
	// (day, priority) band, zero if the band is empty. Must be called on a
	// transaction-bound store so placement is atomic per band.
	MaxOrderInBand(ctx context.Context, day string, p Priority) (int, error)

	// Queue returns the day's entries ordered by the composite key:
	// emergency band first, then arrival time, then assigned order.
	Queue(ctx context.Context, day string) ([]WaitingRoomEntry, error)

	// EnsureOrder provisions the appointment's charge order at zero value.
	// Idempotent: returns created=false when one already exists.
	EnsureOrder(ctx context.Context, a *Appointment, currency string) (created bool, err error)

	AppendEvent(ctx context.Context, e audit.Event) error
}

// TxStore wraps Store with transaction support.
type TxStore interface {
	Store

	WithTx(ctx context.Context, fn func(Store) error) error
}

// Clock supplies the current time; injectable for tests.
type Clock func() time.Time
