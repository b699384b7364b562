/*
appointment.go - Appointment lifecycle and its side effects

PURPOSE:
  The Scheduler owns every appointment mutation:

  - Create:         persist pending + auto-provision the charge order at
                    zero value (exactly once; the guard is idempotent),
                    pre-seeding same-day appointments into the waiting room
  - UpdateStatus:   enforce the transition graph and keep the waiting-room
                    entry in step (consultation, completion, cancellation)
  - MarkArrived:    no-op unless pending; stamps arrival time and
                    get-or-creates the waiting-room entry
  - RegisterWalkIn: create + arrive in one step with walk-in source
  - Delete:         remove the appointment and its entry together

  The reactive save-hooks of the original flow are explicit synchronous
  calls inside one transaction, so ordering and rollback are testable.
*/
package flow

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/ungardev/medops/audit"
	"github.com/ungardev/medops/core"
)

// Scheduler drives the appointment state machine.
type Scheduler struct {
	store    TxStore
	policy   AmountPolicy
	currency string
	log      zerolog.Logger

	// Now is injectable for tests; defaults to time.Now.
	Now Clock
}

func NewScheduler(store TxStore, policy AmountPolicy, currency string, log zerolog.Logger) *Scheduler {
	return &Scheduler{store: store, policy: policy, currency: currency, log: log, Now: time.Now}
}

// =============================================================================
// CREATE
// =============================================================================

// Create persists a pending appointment and provisions its charge order.
// Same-day appointments are pre-seeded into the waiting room as scheduled
// arrivals-to-be.
func (sc *Scheduler) Create(ctx context.Context, a *Appointment, actor string) (*Appointment, error) {
	return sc.create(ctx, a, true, actor)
}

func (sc *Scheduler) create(ctx context.Context, a *Appointment, preseed bool, actor string) (*Appointment, error) {
	if a.PatientID == "" {
		return nil, &core.ValidationError{Field: "patient_id", Reason: "required"}
	}
	if !sc.policy.Known(a.Type) {
		return nil, &core.ValidationError{Field: "type", Reason: "unknown appointment type"}
	}
	if a.ID == "" {
		a.ID = core.AppointmentID(uuid.NewString())
	}
	a.Status = AppointmentPending
	if a.ExpectedAmount.IsZero() {
		a.ExpectedAmount = sc.policy.ExpectedAmount(a.Type)
	}
	if a.ScheduledFor.IsZero() {
		a.ScheduledFor = sc.Now().UTC()
	}

	err := sc.store.WithTx(ctx, func(s Store) error {
		if err := s.SaveAppointment(ctx, a); err != nil {
			return err
		}
		created, err := s.EnsureOrder(ctx, a, sc.currency)
		if err != nil {
			return err
		}
		if err := s.AppendEvent(ctx, audit.Event{
			Timestamp: sc.Now().UTC(),
			Actor:     actor,
			Entity:    "appointment",
			EntityID:  string(a.ID),
			Action:    "appointment_created",
			Metadata: map[string]any{
				"patient_id":        string(a.PatientID),
				"type":              string(a.Type),
				"order_provisioned": created,
			},
			Severity: audit.SeverityInfo,
		}); err != nil {
			return err
		}
		if preseed && sameDay(a.ScheduledFor, sc.Now()) {
			return sc.ensureEntry(ctx, s, a, PriorityNormal, SourceScheduled, a.ScheduledFor, actor)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return a, nil
}

// =============================================================================
// STATUS TRANSITIONS
// =============================================================================

// UpdateStatus moves the appointment along its graph and keeps the
// waiting-room entry in step. Arrival requests are routed through the
// arrival path so the time stamp and entry creation are never skipped;
// the graph is checked first so an arrival request against a terminal
// appointment fails like any other illegal transition.
func (sc *Scheduler) UpdateStatus(ctx context.Context, id core.AppointmentID, next AppointmentStatus, actor string) (*Appointment, error) {
	if next == AppointmentArrived {
		appt, err := sc.store.Appointment(ctx, id)
		if err != nil {
			return nil, err
		}
		if err := appointmentGraph.Step("appointment", core.State(appt.Status), core.State(next)); err != nil {
			return nil, err
		}
		return sc.MarkArrived(ctx, id, PriorityNormal, SourceScheduled, actor)
	}

	var appt *Appointment
	err := sc.store.WithTx(ctx, func(s Store) error {
		var err error
		appt, err = s.Appointment(ctx, id)
		if err != nil {
			return err
		}
		from := appt.Status
		if err := appointmentGraph.Step("appointment", core.State(from), core.State(next)); err != nil {
			return err
		}
		appt.Status = next
		if err := s.SaveAppointment(ctx, appt); err != nil {
			return err
		}
		if err := sc.syncEntry(ctx, s, appt, next, actor); err != nil {
			return err
		}
		return s.AppendEvent(ctx, audit.Event{
			Timestamp: sc.Now().UTC(),
			Actor:     actor,
			Entity:    "appointment",
			EntityID:  string(appt.ID),
			Action:    "appointment_status_changed",
			Metadata:  map[string]any{"from": string(from), "to": string(next)},
			Severity:  audit.SeverityInfo,
		})
	})
	if err != nil {
		return nil, err
	}
	return appt, nil
}

// syncEntry mirrors an appointment transition onto its waiting-room
// entry. The entry is a derived projection: if there is none, or its own
// graph does not allow the move, the appointment transition stands alone.
func (sc *Scheduler) syncEntry(ctx context.Context, s Store, appt *Appointment, next AppointmentStatus, actor string) error {
	var target EntryStatus
	switch next {
	case AppointmentInConsultation:
		target = EntryInConsultation
	case AppointmentCompleted:
		target = EntryCompleted
	case AppointmentCanceled:
		target = EntryCanceled
	default:
		return nil
	}

	entry, err := s.EntryForAppointment(ctx, appt.ID)
	if err != nil {
		if errors.Is(err, core.ErrNotFound) {
			return nil
		}
		return err
	}
	if !entryGraph.Can(core.State(entry.Status), core.State(target)) {
		return nil
	}
	from := entry.Status
	entry.Status = target
	if err := s.SaveEntry(ctx, entry); err != nil {
		return err
	}
	return s.AppendEvent(ctx, audit.Event{
		Timestamp: sc.Now().UTC(),
		Actor:     actor,
		Entity:    "waiting_room_entry",
		EntityID:  string(entry.ID),
		Action:    "waiting_entry_status_changed",
		Metadata:  map[string]any{"from": string(from), "to": string(target), "appointment_id": string(appt.ID)},
		Severity:  audit.SeverityInfo,
	})
}

// =============================================================================
// ARRIVAL
// =============================================================================

// MarkArrived is a no-op unless the appointment is pending. On success it
// stamps the arrival time and get-or-creates the waiting-room entry, so
// calling it twice never produces a duplicate.
func (sc *Scheduler) MarkArrived(ctx context.Context, id core.AppointmentID, p Priority, source SourceType, actor string) (*Appointment, error) {
	var appt *Appointment
	err := sc.store.WithTx(ctx, func(s Store) error {
		var err error
		appt, err = s.Appointment(ctx, id)
		if err != nil {
			return err
		}
		if appt.Status != AppointmentPending {
			return nil
		}
		now := sc.Now().UTC()
		appt.Status = AppointmentArrived
		appt.ArrivalTime = &now
		if err := s.SaveAppointment(ctx, appt); err != nil {
			return err
		}
		if err := sc.ensureEntry(ctx, s, appt, p, source, now, actor); err != nil {
			return err
		}
		return s.AppendEvent(ctx, audit.Event{
			Timestamp: now,
			Actor:     actor,
			Entity:    "appointment",
			EntityID:  string(appt.ID),
			Action:    "appointment_arrived",
			Metadata:  map[string]any{"priority": string(p), "source": string(source)},
			Severity:  audit.SeverityInfo,
		})
	})
	if err != nil {
		return nil, err
	}
	return appt, nil
}

// ensureEntry get-or-creates the waiting-room entry, keyed by
// appointment. Placement assigns max(band)+1 within the same transaction.
func (sc *Scheduler) ensureEntry(ctx context.Context, s Store, appt *Appointment, p Priority, source SourceType, arrival time.Time, actor string) error {
	if _, err := s.EntryForAppointment(ctx, appt.ID); err == nil {
		return nil
	} else if !errors.Is(err, core.ErrNotFound) {
		return err
	}

	entry := &WaitingRoomEntry{
		ID:            EntryID(uuid.NewString()),
		AppointmentID: appt.ID,
		PatientID:     appt.PatientID,
		Status:        EntryWaiting,
		Priority:      p,
		Source:        source,
		ArrivalTime:   arrival.UTC(),
	}
	if err := placeInQueue(ctx, s, entry); err != nil {
		return err
	}
	return s.AppendEvent(ctx, audit.Event{
		Timestamp: sc.Now().UTC(),
		Actor:     actor,
		Entity:    "waiting_room_entry",
		EntityID:  string(entry.ID),
		Action:    "waiting_entry_created",
		Metadata: map[string]any{
			"appointment_id": string(appt.ID),
			"priority":       string(p),
			"order":          entry.Order,
		},
		Severity: audit.SeverityInfo,
	})
}

// =============================================================================
// WALK-IN REGISTRATION
// =============================================================================

// RegisterWalkIn creates an appointment for a patient standing at the
// desk and arrives it immediately with walk-in source.
func (sc *Scheduler) RegisterWalkIn(ctx context.Context, a *Appointment, p Priority, actor string) (*Appointment, error) {
	a.ScheduledFor = sc.Now().UTC()
	if _, err := sc.create(ctx, a, false, actor); err != nil {
		return nil, err
	}
	return sc.MarkArrived(ctx, a.ID, p, SourceWalkIn, actor)
}

// =============================================================================
// READS AND DELETION
// =============================================================================

// Appointment returns the appointment by id.
func (sc *Scheduler) Appointment(ctx context.Context, id core.AppointmentID) (*Appointment, error) {
	return sc.store.Appointment(ctx, id)
}

// Delete removes the appointment; the waiting-room entry goes with it.
func (sc *Scheduler) Delete(ctx context.Context, id core.AppointmentID, actor string) error {
	return sc.store.WithTx(ctx, func(s Store) error {
		appt, err := s.Appointment(ctx, id)
		if err != nil {
			return err
		}
		if err := s.DeleteAppointment(ctx, id); err != nil {
			return err
		}
		return s.AppendEvent(ctx, audit.Event{
			Timestamp: sc.Now().UTC(),
			Actor:     actor,
			Entity:    "appointment",
			EntityID:  string(appt.ID),
			Action:    "appointment_deleted",
			Metadata:  map[string]any{"patient_id": string(appt.PatientID)},
			Severity:  audit.SeverityWarning,
		})
	})
}

func sameDay(a, b time.Time) bool {
	return a.UTC().Format("2006-01-02") == b.UTC().Format("2006-01-02")
}
