/*
Package flow governs the patient-flow state machines: appointments and
the waiting-room queue derived from them.

PURPOSE:
  An appointment moves through a fixed directed graph; its arrival feeds
  a priority-ordered waiting-room projection. The two entities are
  linked: arrival creates the queue entry (get-or-create), consultation
  and completion keep it in step, cancellation cascades into it.

KEY CONCEPTS IN THIS FILE (types.go):
  - Appointment:       pending -> arrived -> in_consultation -> completed,
                       canceled reachable from every non-terminal state
  - WaitingRoomEntry:  waiting -> in_consultation -> completed/canceled,
                       banded by priority with a monotonic in-band order
  - Transition graphs: plain core.Transitions tables, verifiable without
                       persistence

SEE ALSO:
  - appointment.go: Scheduler (create, transitions, arrival)
  - queue.go:       Placement and the composite sort contract
  - policy.go:      Expected amount per appointment type
*/
package flow

import (
	"time"

	"github.com/shopspring/decimal"

	"github.com/ungardev/medops/core"
)

// =============================================================================
// IDENTIFIERS
// =============================================================================

type EntryID string

// =============================================================================
// APPOINTMENT
// =============================================================================

type AppointmentStatus string

const (
	AppointmentPending        AppointmentStatus = "pending"
	AppointmentArrived        AppointmentStatus = "arrived"
	AppointmentInConsultation AppointmentStatus = "in_consultation"
	AppointmentCompleted      AppointmentStatus = "completed"
	AppointmentCanceled       AppointmentStatus = "canceled"
)

var appointmentGraph = core.Transitions{
	core.State(AppointmentPending):        {core.State(AppointmentArrived), core.State(AppointmentCanceled)},
	core.State(AppointmentArrived):        {core.State(AppointmentInConsultation), core.State(AppointmentCanceled)},
	core.State(AppointmentInConsultation): {core.State(AppointmentCompleted), core.State(AppointmentCanceled)},
}

type AppointmentType string

const (
	TypeConsultation AppointmentType = "consultation"
	TypeFollowUp     AppointmentType = "follow_up"
	TypeProcedure    AppointmentType = "procedure"
	TypeEmergency    AppointmentType = "emergency"
)

// Appointment owns exactly one auto-provisioned charge order, created at
// zero value when the appointment is first persisted.
type Appointment struct {
	ID        core.AppointmentID
	PatientID core.PatientID
	Type      AppointmentType
	Status    AppointmentStatus

	// ExpectedAmount is policy-derived from the appointment type unless
	// explicitly overridden at creation.
	ExpectedAmount decimal.Decimal

	ScheduledFor time.Time
	ArrivalTime  *time.Time

	CreatedAt time.Time
	UpdatedAt time.Time
}

// =============================================================================
// WAITING-ROOM ENTRY
// =============================================================================

type EntryStatus string

const (
	EntryWaiting        EntryStatus = "waiting"
	EntryInConsultation EntryStatus = "in_consultation"
	EntryCompleted      EntryStatus = "completed"
	EntryCanceled       EntryStatus = "canceled"
)

var entryGraph = core.Transitions{
	core.State(EntryWaiting):        {core.State(EntryInConsultation), core.State(EntryCanceled)},
	core.State(EntryInConsultation): {core.State(EntryCompleted), core.State(EntryCanceled)},
}

type Priority string

const (
	PriorityNormal    Priority = "normal"
	PriorityEmergency Priority = "emergency"
)

type SourceType string

const (
	SourceScheduled SourceType = "scheduled"
	SourceWalkIn    SourceType = "walk_in"
)

// WaitingRoomEntry is a derived projection of an arrived appointment.
// Order is monotonic within its (day, priority) band; reads sort by
// (band, arrival time, order), never by raw insertion order.
type WaitingRoomEntry struct {
	ID            EntryID
	AppointmentID core.AppointmentID
	PatientID     core.PatientID

	Status   EntryStatus
	Priority Priority
	Source   SourceType

	ArrivalTime time.Time
	Order       int

	CreatedAt time.Time
	UpdatedAt time.Time
}

// Band returns the calendar day (UTC) the entry is queued under.
func (e *WaitingRoomEntry) Band() string {
	return e.ArrivalTime.UTC().Format("2006-01-02")
}
