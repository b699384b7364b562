/*
dto.go - Data Transfer Objects for API requests and responses

PURPOSE:
  JSON structures decoupling the domain model from the API contract.
  Monetary fields are rendered as fixed two-decimal strings at this
  boundary; internally they stay exact decimals.

NAMING CONVENTION:
  - *DTO: Response types returned to clients
  - *Request: Request body types from clients

VALIDATION:
  Structural validation (parseable decimals, known enums) happens in the
  handlers; business rules live in the domain packages.
*/
package api

import (
	"time"

	"github.com/shopspring/decimal"

	"github.com/ungardev/medops/audit"
	"github.com/ungardev/medops/billing"
	"github.com/ungardev/medops/core"
	"github.com/ungardev/medops/flow"
)

// =============================================================================
// APPOINTMENTS
// =============================================================================

type AppointmentDTO struct {
	ID             string `json:"id"`
	PatientID      string `json:"patient_id"`
	Type           string `json:"type"`
	Status         string `json:"status"`
	ExpectedAmount string `json:"expected_amount"`
	ScheduledFor   string `json:"scheduled_for"`
	ArrivalTime    string `json:"arrival_time,omitempty"`
}

type CreateAppointmentRequest struct {
	PatientID      string `json:"patient_id"`
	Type           string `json:"type"`
	ScheduledFor   string `json:"scheduled_for,omitempty"`   // RFC 3339; defaults to now
	ExpectedAmount string `json:"expected_amount,omitempty"` // overrides the policy table
	WalkIn         bool   `json:"walk_in,omitempty"`
	Priority       string `json:"priority,omitempty"` // walk-in only
}

type UpdateStatusRequest struct {
	Status string `json:"status"`
}

type ArriveRequest struct {
	Priority string `json:"priority,omitempty"` // defaults to normal
	Source   string `json:"source,omitempty"`   // defaults to scheduled
}

func toAppointmentDTO(a *flow.Appointment) AppointmentDTO {
	dto := AppointmentDTO{
		ID:             string(a.ID),
		PatientID:      string(a.PatientID),
		Type:           string(a.Type),
		Status:         string(a.Status),
		ExpectedAmount: core.Display(a.ExpectedAmount),
		ScheduledFor:   a.ScheduledFor.UTC().Format(time.RFC3339),
	}
	if a.ArrivalTime != nil {
		dto.ArrivalTime = a.ArrivalTime.UTC().Format(time.RFC3339)
	}
	return dto
}

// =============================================================================
// CHARGE ORDERS AND ITEMS
// =============================================================================

type OrderDTO struct {
	ID            string `json:"id"`
	AppointmentID string `json:"appointment_id"`
	PatientID     string `json:"patient_id"`
	Currency      string `json:"currency"`
	Total         string `json:"total"`
	BalanceDue    string `json:"balance_due"`
	Status        string `json:"status"`

	// Populated only when the caller supplies a conversion rate.
	ConvertedTotal      string `json:"converted_total,omitempty"`
	ConvertedBalanceDue string `json:"converted_balance_due,omitempty"`
}

type ReceiptDTO struct {
	Order    OrderDTO     `json:"order"`
	Items    []ItemDTO    `json:"items"`
	Payments []PaymentDTO `json:"payments"`
}

type ItemDTO struct {
	ID          string `json:"id"`
	OrderID     string `json:"order_id"`
	Description string `json:"description"`
	Quantity    string `json:"quantity"`
	UnitPrice   string `json:"unit_price"`
	Subtotal    string `json:"subtotal"`
}

type UpsertItemRequest struct {
	ID          string `json:"id,omitempty"` // empty creates, set updates
	Description string `json:"description"`
	Quantity    string `json:"quantity"`
	UnitPrice   string `json:"unit_price"`
}

type ReasonRequest struct {
	Reason string `json:"reason"`
}

type BalanceDTO struct {
	AppointmentID string `json:"appointment_id"`
	BalanceDue    string `json:"balance_due"`
}

func toOrderDTO(o *billing.ChargeOrder, rate *decimal.Decimal) OrderDTO {
	dto := OrderDTO{
		ID:            string(o.ID),
		AppointmentID: string(o.AppointmentID),
		PatientID:     string(o.PatientID),
		Currency:      o.Currency,
		Total:         core.Display(o.Total),
		BalanceDue:    core.Display(o.BalanceDue),
		Status:        string(o.Status),
	}
	if rate != nil {
		dto.ConvertedTotal = core.Display(core.Convert(o.Total, *rate))
		dto.ConvertedBalanceDue = core.Display(core.Convert(o.BalanceDue, *rate))
	}
	return dto
}

func toItemDTO(it *billing.ChargeItem) ItemDTO {
	return ItemDTO{
		ID:          string(it.ID),
		OrderID:     string(it.OrderID),
		Description: it.Description,
		Quantity:    it.Quantity.String(),
		UnitPrice:   core.Display(it.UnitPrice),
		Subtotal:    core.Display(it.Subtotal),
	}
}

// =============================================================================
// PAYMENTS
// =============================================================================

type PaymentDTO struct {
	ID              string `json:"id"`
	OrderID         string `json:"order_id"`
	AppointmentID   string `json:"appointment_id"`
	Amount          string `json:"amount"`
	Method          string `json:"method"`
	Status          string `json:"status"`
	ReferenceNumber string `json:"reference_number,omitempty"`
	BankName        string `json:"bank_name,omitempty"`
	Note            string `json:"note,omitempty"`
	ReceivedAt      string `json:"received_at"`
}

type SubmitPaymentRequest struct {
	OrderID         string `json:"order_id"`
	Amount          string `json:"amount"`
	Method          string `json:"method"`
	ReferenceNumber string `json:"reference_number,omitempty"`
	BankName        string `json:"bank_name,omitempty"`
	IdempotencyKey  string `json:"idempotency_key,omitempty"`
	Note            string `json:"note,omitempty"`
}

type ConfirmPaymentRequest struct {
	Note string `json:"note,omitempty"`
}

func toPaymentDTO(p *billing.Payment) PaymentDTO {
	return PaymentDTO{
		ID:              string(p.ID),
		OrderID:         string(p.OrderID),
		AppointmentID:   string(p.AppointmentID),
		Amount:          core.Display(p.Amount),
		Method:          string(p.Method),
		Status:          string(p.Status),
		ReferenceNumber: p.ReferenceNumber,
		BankName:        p.BankName,
		Note:            p.Note,
		ReceivedAt:      p.ReceivedAt.UTC().Format(time.RFC3339),
	}
}

// =============================================================================
// WAITING ROOM
// =============================================================================

type EntryDTO struct {
	ID            string `json:"id"`
	AppointmentID string `json:"appointment_id"`
	PatientID     string `json:"patient_id"`
	Status        string `json:"status"`
	Priority      string `json:"priority"`
	Source        string `json:"source"`
	ArrivalTime   string `json:"arrival_time"`
	Order         int    `json:"order"`
}

func toEntryDTO(e *flow.WaitingRoomEntry) EntryDTO {
	return EntryDTO{
		ID:            string(e.ID),
		AppointmentID: string(e.AppointmentID),
		PatientID:     string(e.PatientID),
		Status:        string(e.Status),
		Priority:      string(e.Priority),
		Source:        string(e.Source),
		ArrivalTime:   e.ArrivalTime.UTC().Format(time.RFC3339),
		Order:         e.Order,
	}
}

// =============================================================================
// AUDIT
// =============================================================================

type EventDTO struct {
	ID        string         `json:"id"`
	Timestamp string         `json:"timestamp"`
	Actor     string         `json:"actor"`
	Entity    string         `json:"entity"`
	EntityID  string         `json:"entity_id"`
	Action    string         `json:"action"`
	Metadata  map[string]any `json:"metadata,omitempty"`
	Severity  string         `json:"severity"`
	Notify    bool           `json:"notify"`
}

func toEventDTO(e *audit.Event) EventDTO {
	return EventDTO{
		ID:        e.ID,
		Timestamp: e.Timestamp.UTC().Format(time.RFC3339Nano),
		Actor:     e.Actor,
		Entity:    e.Entity,
		EntityID:  e.EntityID,
		Action:    e.Action,
		Metadata:  e.Metadata,
		Severity:  string(e.Severity),
		Notify:    e.Notify,
	}
}
