/*
handlers.go - HTTP API handlers for the clinic operations core

PURPOSE:
  Exposes the ledger, patient flow, and audit trail via REST API. Handles
  HTTP request/response, JSON serialization, and delegates to domain
  logic. No business rule lives here.

ENDPOINTS:
  Appointments:
    POST   /api/appointments                Create (or register a walk-in)
    GET    /api/appointments/{id}           Get appointment
    POST   /api/appointments/{id}/status    Transition status
    POST   /api/appointments/{id}/arrive    Mark arrived
    DELETE /api/appointments/{id}           Delete appointment
    GET    /api/appointments/{id}/order     The appointment's charge order
    GET    /api/appointments/{id}/balance   Current balance due
    GET    /api/appointments/{id}/audit     Event trail for the appointment

  Orders:
    GET    /api/orders/{id}                 Receipt projection
    POST   /api/orders/{id}/void            Void order
    POST   /api/orders/{id}/waive           Waive remaining balance
    POST   /api/orders/{id}/items           Add or update a charge item

  Items:
    DELETE /api/items/{id}                  Remove a charge item

  Payments:
    POST   /api/payments                    Submit pending payment
    GET    /api/payments/{id}               Get payment
    POST   /api/payments/{id}/confirm       Confirm payment
    POST   /api/payments/{id}/reject        Reject payment

  Waiting room:
    GET    /api/waiting-room                Today's queue (?day=YYYY-MM-DD)
    POST   /api/waiting-room/{id}/status    Transition entry status

  Audit:
    GET    /api/audit                       Filtered event query
    GET    /api/patients/{id}/audit         Patient-wide event trail

REQUEST FLOW:
  1. Parse HTTP request
  2. Validate input shape
  3. Call domain logic (scheduler, ledger, processor, queue)
  4. Serialize response
  5. Handle errors

ERROR HANDLING:
  Errors are returned as JSON with appropriate HTTP status:
  - 400: Validation errors, invalid input
  - 404: Resource not found
  - 409: Illegal transition, idempotency conflict, write contention
  - 500: Invariant violations, internal errors

ACTOR ATTRIBUTION:
  The acting staff member is read from the X-Actor header; audit events
  carry it verbatim. Authentication is out of scope for the core.

SEE ALSO:
  - dto.go: Request/response data structures
  - server.go: Router setup and middleware
*/
package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"github.com/ungardev/medops/audit"
	"github.com/ungardev/medops/billing"
	"github.com/ungardev/medops/core"
	"github.com/ungardev/medops/flow"
)

// =============================================================================
// HANDLER CONTEXT
// =============================================================================

// Handler holds all dependencies for HTTP handlers.
type Handler struct {
	Scheduler *flow.Scheduler
	Queue     *flow.Queue
	Ledger    *billing.Ledger
	Items     *billing.Items
	Processor *billing.Processor
	Trail     audit.Trail

	Log zerolog.Logger
}

// actor reads the acting staff member from the request. Empty means an
// unattributed system action; the audit log stores it as-is.
func actor(r *http.Request) string {
	return r.Header.Get("X-Actor")
}

// =============================================================================
// RESPONSE HELPERS
// =============================================================================

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

type errorResponse struct {
	Error string `json:"error"`
	Kind  string `json:"kind,omitempty"`
}

// writeError maps domain errors to HTTP statuses. Unknowns are 500.
func (h *Handler) writeError(w http.ResponseWriter, r *http.Request, err error) {
	var (
		status = http.StatusInternalServerError
		kind   string
	)
	switch {
	case errors.Is(err, core.ErrValidation):
		status, kind = http.StatusBadRequest, "validation"
	case errors.Is(err, core.ErrNotFound):
		status, kind = http.StatusNotFound, "not_found"
	case errors.Is(err, core.ErrDuplicateIdempotencyKey):
		status, kind = http.StatusConflict, "duplicate"
	case errors.Is(err, core.ErrStateTransition):
		status, kind = http.StatusConflict, "transition"
	case errors.Is(err, core.ErrConcurrency):
		status, kind = http.StatusConflict, "contention"
	case errors.Is(err, core.ErrInvariantViolation):
		kind = "invariant"
	}
	if status == http.StatusInternalServerError {
		h.Log.Error().Err(err).Str("path", r.URL.Path).Msg("request failed")
	}
	writeJSON(w, status, errorResponse{Error: err.Error(), Kind: kind})
}

func decodeBody(r *http.Request, v any) error {
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		return &core.ValidationError{Field: "body", Reason: "malformed JSON"}
	}
	return nil
}

func parseAmount(field, raw string) (decimal.Decimal, error) {
	d, err := decimal.NewFromString(raw)
	if err != nil {
		return decimal.Zero, &core.ValidationError{Field: field, Reason: "not a decimal"}
	}
	return d, nil
}

// =============================================================================
// APPOINTMENTS
// =============================================================================

// CreateAppointment handles POST /api/appointments. With walk_in set the
// appointment is created and arrived in one step.
func (h *Handler) CreateAppointment(w http.ResponseWriter, r *http.Request) {
	var req CreateAppointmentRequest
	if err := decodeBody(r, &req); err != nil {
		h.writeError(w, r, err)
		return
	}

	appt := &flow.Appointment{
		PatientID: core.PatientID(req.PatientID),
		Type:      flow.AppointmentType(req.Type),
	}
	if req.ExpectedAmount != "" {
		amount, err := parseAmount("expected_amount", req.ExpectedAmount)
		if err != nil {
			h.writeError(w, r, err)
			return
		}
		appt.ExpectedAmount = amount
	}
	if req.ScheduledFor != "" {
		t, err := time.Parse(time.RFC3339, req.ScheduledFor)
		if err != nil {
			h.writeError(w, r, &core.ValidationError{Field: "scheduled_for", Reason: "not RFC 3339"})
			return
		}
		appt.ScheduledFor = t.UTC()
	}

	var err error
	if req.WalkIn {
		priority := flow.PriorityNormal
		if req.Priority != "" {
			priority = flow.Priority(req.Priority)
		}
		appt, err = h.Scheduler.RegisterWalkIn(r.Context(), appt, priority, actor(r))
	} else {
		appt, err = h.Scheduler.Create(r.Context(), appt, actor(r))
	}
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, toAppointmentDTO(appt))
}

// GetAppointment handles GET /api/appointments/{id}.
func (h *Handler) GetAppointment(w http.ResponseWriter, r *http.Request) {
	appt, err := h.Scheduler.Appointment(r.Context(), core.AppointmentID(chi.URLParam(r, "id")))
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toAppointmentDTO(appt))
}

// UpdateAppointmentStatus handles POST /api/appointments/{id}/status.
func (h *Handler) UpdateAppointmentStatus(w http.ResponseWriter, r *http.Request) {
	var req UpdateStatusRequest
	if err := decodeBody(r, &req); err != nil {
		h.writeError(w, r, err)
		return
	}
	appt, err := h.Scheduler.UpdateStatus(r.Context(),
		core.AppointmentID(chi.URLParam(r, "id")), flow.AppointmentStatus(req.Status), actor(r))
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toAppointmentDTO(appt))
}

// MarkArrived handles POST /api/appointments/{id}/arrive.
func (h *Handler) MarkArrived(w http.ResponseWriter, r *http.Request) {
	req := ArriveRequest{Priority: string(flow.PriorityNormal), Source: string(flow.SourceScheduled)}
	if r.ContentLength > 0 {
		if err := decodeBody(r, &req); err != nil {
			h.writeError(w, r, err)
			return
		}
	}
	appt, err := h.Scheduler.MarkArrived(r.Context(),
		core.AppointmentID(chi.URLParam(r, "id")),
		flow.Priority(req.Priority), flow.SourceType(req.Source), actor(r))
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toAppointmentDTO(appt))
}

// DeleteAppointment handles DELETE /api/appointments/{id}.
func (h *Handler) DeleteAppointment(w http.ResponseWriter, r *http.Request) {
	if err := h.Scheduler.Delete(r.Context(), core.AppointmentID(chi.URLParam(r, "id")), actor(r)); err != nil {
		h.writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// GetAppointmentOrder handles GET /api/appointments/{id}/order. An
// optional ?rate= query adds a converted view for display currencies.
func (h *Handler) GetAppointmentOrder(w http.ResponseWriter, r *http.Request) {
	order, err := h.Ledger.OrderForAppointment(r.Context(), core.AppointmentID(chi.URLParam(r, "id")))
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	rate, err := rateParam(r)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toOrderDTO(order, rate))
}

func rateParam(r *http.Request) (*decimal.Decimal, error) {
	raw := r.URL.Query().Get("rate")
	if raw == "" {
		return nil, nil
	}
	rate, err := parseAmount("rate", raw)
	if err != nil {
		return nil, err
	}
	if !rate.IsPositive() {
		return nil, &core.ValidationError{Field: "rate", Reason: "must be positive"}
	}
	return &rate, nil
}

// GetBalance handles GET /api/appointments/{id}/balance.
func (h *Handler) GetBalance(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	balance, err := h.Ledger.BalanceDue(r.Context(), core.AppointmentID(id))
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, BalanceDTO{
		AppointmentID: id,
		BalanceDue:    core.Display(balance),
	})
}

// GetAppointmentAudit handles GET /api/appointments/{id}/audit.
func (h *Handler) GetAppointmentAudit(w http.ResponseWriter, r *http.Request) {
	events, err := h.Trail.ForAppointment(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toEventDTOs(events))
}

// =============================================================================
// CHARGE ORDERS AND ITEMS
// =============================================================================

// GetOrder handles GET /api/orders/{id}: the receipt projection with
// items and payments included.
func (h *Handler) GetOrder(w http.ResponseWriter, r *http.Request) {
	receipt, err := h.Ledger.ReceiptFor(r.Context(), billing.OrderID(chi.URLParam(r, "id")))
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	rate, err := rateParam(r)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	dto := ReceiptDTO{
		Order:    toOrderDTO(&receipt.Order, rate),
		Items:    make([]ItemDTO, 0, len(receipt.Items)),
		Payments: make([]PaymentDTO, 0, len(receipt.Payments)),
	}
	for i := range receipt.Items {
		dto.Items = append(dto.Items, toItemDTO(&receipt.Items[i]))
	}
	for i := range receipt.Payments {
		dto.Payments = append(dto.Payments, toPaymentDTO(&receipt.Payments[i]))
	}
	writeJSON(w, http.StatusOK, dto)
}

// VoidOrder handles POST /api/orders/{id}/void.
func (h *Handler) VoidOrder(w http.ResponseWriter, r *http.Request) {
	var req ReasonRequest
	if r.ContentLength > 0 {
		if err := decodeBody(r, &req); err != nil {
			h.writeError(w, r, err)
			return
		}
	}
	order, err := h.Ledger.MarkVoid(r.Context(), billing.OrderID(chi.URLParam(r, "id")), req.Reason, actor(r))
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toOrderDTO(order, nil))
}

// WaiveOrder handles POST /api/orders/{id}/waive.
func (h *Handler) WaiveOrder(w http.ResponseWriter, r *http.Request) {
	var req ReasonRequest
	if r.ContentLength > 0 {
		if err := decodeBody(r, &req); err != nil {
			h.writeError(w, r, err)
			return
		}
	}
	order, err := h.Ledger.MarkWaived(r.Context(), billing.OrderID(chi.URLParam(r, "id")), req.Reason, actor(r))
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toOrderDTO(order, nil))
}

// UpsertItem handles POST /api/orders/{id}/items. Supplying an item id
// updates; omitting it creates.
func (h *Handler) UpsertItem(w http.ResponseWriter, r *http.Request) {
	var req UpsertItemRequest
	if err := decodeBody(r, &req); err != nil {
		h.writeError(w, r, err)
		return
	}
	quantity, err := parseAmount("quantity", req.Quantity)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	unitPrice, err := parseAmount("unit_price", req.UnitPrice)
	if err != nil {
		h.writeError(w, r, err)
		return
	}

	item := &billing.ChargeItem{
		ID:          billing.ItemID(req.ID),
		OrderID:     billing.OrderID(chi.URLParam(r, "id")),
		Description: req.Description,
		Quantity:    quantity,
		UnitPrice:   unitPrice,
	}
	item, err = h.Items.Upsert(r.Context(), item, actor(r))
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, toItemDTO(item))
}

// DeleteItem handles DELETE /api/items/{id}.
func (h *Handler) DeleteItem(w http.ResponseWriter, r *http.Request) {
	if err := h.Items.Delete(r.Context(), billing.ItemID(chi.URLParam(r, "id")), actor(r)); err != nil {
		h.writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// =============================================================================
// PAYMENTS
// =============================================================================

// SubmitPayment handles POST /api/payments.
func (h *Handler) SubmitPayment(w http.ResponseWriter, r *http.Request) {
	var req SubmitPaymentRequest
	if err := decodeBody(r, &req); err != nil {
		h.writeError(w, r, err)
		return
	}
	amount, err := parseAmount("amount", req.Amount)
	if err != nil {
		h.writeError(w, r, err)
		return
	}

	payment := &billing.Payment{
		OrderID:         billing.OrderID(req.OrderID),
		Amount:          amount,
		Method:          billing.PaymentMethod(req.Method),
		ReferenceNumber: req.ReferenceNumber,
		BankName:        req.BankName,
		IdempotencyKey:  req.IdempotencyKey,
		Note:            req.Note,
	}
	payment, err = h.Processor.Submit(r.Context(), payment, actor(r))
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, toPaymentDTO(payment))
}

// GetPayment handles GET /api/payments/{id}.
func (h *Handler) GetPayment(w http.ResponseWriter, r *http.Request) {
	payment, err := h.Processor.Payment(r.Context(), billing.PaymentID(chi.URLParam(r, "id")))
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toPaymentDTO(payment))
}

// ConfirmPayment handles POST /api/payments/{id}/confirm.
func (h *Handler) ConfirmPayment(w http.ResponseWriter, r *http.Request) {
	var req ConfirmPaymentRequest
	if r.ContentLength > 0 {
		if err := decodeBody(r, &req); err != nil {
			h.writeError(w, r, err)
			return
		}
	}
	payment, err := h.Processor.Confirm(r.Context(), billing.PaymentID(chi.URLParam(r, "id")), actor(r), req.Note)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toPaymentDTO(payment))
}

// RejectPayment handles POST /api/payments/{id}/reject.
func (h *Handler) RejectPayment(w http.ResponseWriter, r *http.Request) {
	var req ReasonRequest
	if r.ContentLength > 0 {
		if err := decodeBody(r, &req); err != nil {
			h.writeError(w, r, err)
			return
		}
	}
	payment, err := h.Processor.Reject(r.Context(), billing.PaymentID(chi.URLParam(r, "id")), actor(r), req.Reason)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toPaymentDTO(payment))
}

// =============================================================================
// WAITING ROOM
// =============================================================================

// GetQueue handles GET /api/waiting-room. Defaults to today; an optional
// ?day=YYYY-MM-DD query selects another day.
func (h *Handler) GetQueue(w http.ResponseWriter, r *http.Request) {
	var (
		entries []flow.WaitingRoomEntry
		err     error
	)
	if day := r.URL.Query().Get("day"); day != "" {
		if _, perr := time.Parse("2006-01-02", day); perr != nil {
			h.writeError(w, r, &core.ValidationError{Field: "day", Reason: "expected YYYY-MM-DD"})
			return
		}
		entries, err = h.Queue.Day(r.Context(), day)
	} else {
		entries, err = h.Queue.Today(r.Context())
	}
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	dtos := make([]EntryDTO, 0, len(entries))
	for i := range entries {
		dtos = append(dtos, toEntryDTO(&entries[i]))
	}
	writeJSON(w, http.StatusOK, dtos)
}

// UpdateEntryStatus handles POST /api/waiting-room/{id}/status.
func (h *Handler) UpdateEntryStatus(w http.ResponseWriter, r *http.Request) {
	var req UpdateStatusRequest
	if err := decodeBody(r, &req); err != nil {
		h.writeError(w, r, err)
		return
	}
	entry, err := h.Queue.UpdateStatus(r.Context(),
		flow.EntryID(chi.URLParam(r, "id")), flow.EntryStatus(req.Status), actor(r))
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toEntryDTO(entry))
}

// =============================================================================
// AUDIT
// =============================================================================

// QueryAudit handles GET /api/audit with optional entity, entity_id,
// actor, severity, action, from, and to query parameters.
func (h *Handler) QueryAudit(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	filter := audit.Filter{
		Entity:   q.Get("entity"),
		EntityID: q.Get("entity_id"),
		Actor:    q.Get("actor"),
		Severity: audit.Severity(q.Get("severity")),
	}
	if actions, ok := q["action"]; ok {
		filter.Actions = actions
	}
	for param, dst := range map[string]**time.Time{"from": &filter.From, "to": &filter.To} {
		if raw := q.Get(param); raw != "" {
			t, err := time.Parse(time.RFC3339, raw)
			if err != nil {
				h.writeError(w, r, &core.ValidationError{Field: param, Reason: "not RFC 3339"})
				return
			}
			*dst = &t
		}
	}

	events, err := h.Trail.Query(r.Context(), filter)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toEventDTOs(events))
}

// GetPatientAudit handles GET /api/patients/{id}/audit.
func (h *Handler) GetPatientAudit(w http.ResponseWriter, r *http.Request) {
	events, err := h.Trail.ForPatient(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toEventDTOs(events))
}

func toEventDTOs(events []audit.Event) []EventDTO {
	dtos := make([]EventDTO, 0, len(events))
	for i := range events {
		dtos = append(dtos, toEventDTO(&events[i]))
	}
	return dtos
}
