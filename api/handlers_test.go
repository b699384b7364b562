/*
handlers_test.go - HTTP-level tests over the full router

Exercises the wiring end to end: request decoding, domain calls, error
to status mapping, and response shapes. Domain behavior itself is
covered in the billing and flow packages.
*/
package api

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ungardev/medops/billing"
	"github.com/ungardev/medops/flow"
	"github.com/ungardev/medops/store/sqlite"
)

func newTestServer(t *testing.T) http.Handler {
	store, err := sqlite.New(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })

	log := zerolog.Nop()
	h := &Handler{
		Scheduler: flow.NewScheduler(store.Flow(), flow.DefaultAmountPolicy(), "USD", log),
		Queue:     flow.NewQueue(store.Flow(), log),
		Ledger:    billing.NewLedger(store.Billing(), log),
		Items:     billing.NewItems(store.Billing(), log),
		Processor: billing.NewProcessor(store.Billing(), log),
		Trail:     store.Audit(),
		Log:       log,
	}
	return NewRouter(h, []string{"http://localhost"})
}

func do(t *testing.T, srv http.Handler, method, path string, body any) *httptest.ResponseRecorder {
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("X-Actor", "desk-1")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	rec := httptest.NewRecorder()
	srv.ServeHTTP(rec, req)
	return rec
}

func decode[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	var v T
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &v), "body: %s", rec.Body.String())
	return v
}

// =============================================================================
// END-TO-END FLOW
// =============================================================================

func TestAPI_WalkInToSettledReceipt(t *testing.T) {
	// GIVEN: A walk-in patient
	// WHEN: They are registered, charged, and they pay in full
	// THEN: Every intermediate read reflects the ledger state

	srv := newTestServer(t)

	rec := do(t, srv, http.MethodPost, "/api/appointments", CreateAppointmentRequest{
		PatientID: "patient-1",
		Type:      "consultation",
		WalkIn:    true,
	})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	appt := decode[AppointmentDTO](t, rec)
	assert.Equal(t, "arrived", appt.Status)
	assert.NotEmpty(t, appt.ArrivalTime)

	// The waiting room shows the patient.
	rec = do(t, srv, http.MethodGet, "/api/waiting-room", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	entries := decode[[]EntryDTO](t, rec)
	require.Len(t, entries, 1)
	assert.Equal(t, appt.ID, entries[0].AppointmentID)

	// The order was provisioned at zero.
	rec = do(t, srv, http.MethodGet, "/api/appointments/"+appt.ID+"/order", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	order := decode[OrderDTO](t, rec)
	assert.Equal(t, "0.00", order.Total)

	// Charge a consultation.
	rec = do(t, srv, http.MethodPost, "/api/orders/"+order.ID+"/items", UpsertItemRequest{
		Description: "Consultation",
		Quantity:    "1",
		UnitPrice:   "50.00",
	})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())

	rec = do(t, srv, http.MethodGet, "/api/appointments/"+appt.ID+"/balance", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "50.00", decode[BalanceDTO](t, rec).BalanceDue)

	// Pay and confirm.
	rec = do(t, srv, http.MethodPost, "/api/payments", SubmitPaymentRequest{
		OrderID: order.ID,
		Amount:  "50.00",
		Method:  "cash",
	})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	payment := decode[PaymentDTO](t, rec)
	assert.Equal(t, "pending", payment.Status)

	rec = do(t, srv, http.MethodPost, "/api/payments/"+payment.ID+"/confirm", ConfirmPaymentRequest{Note: "front desk"})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Equal(t, "confirmed", decode[PaymentDTO](t, rec).Status)

	// Receipt shows the settled order.
	rec = do(t, srv, http.MethodGet, "/api/orders/"+order.ID, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	receipt := decode[ReceiptDTO](t, rec)
	assert.Equal(t, "paid", receipt.Order.Status)
	assert.Equal(t, "0.00", receipt.Order.BalanceDue)
	assert.Len(t, receipt.Items, 1)
	assert.Len(t, receipt.Payments, 1)

	// The audit trail carries the acting staff member from X-Actor.
	rec = do(t, srv, http.MethodGet, "/api/appointments/"+appt.ID+"/audit", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	events := decode[[]EventDTO](t, rec)
	require.NotEmpty(t, events)
	for _, e := range events {
		assert.Equal(t, "desk-1", e.Actor)
	}
}

// =============================================================================
// ERROR MAPPING
// =============================================================================

func TestAPI_ErrorStatuses(t *testing.T) {
	srv := newTestServer(t)

	// 404 for a missing appointment.
	rec := do(t, srv, http.MethodGet, "/api/appointments/missing", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Equal(t, "not_found", decode[errorResponse](t, rec).Kind)

	// 400 for malformed JSON.
	req := httptest.NewRequest(http.MethodPost, "/api/appointments", bytes.NewBufferString("{nope"))
	req.Header.Set("Content-Type", "application/json")
	raw := httptest.NewRecorder()
	srv.ServeHTTP(raw, req)
	assert.Equal(t, http.StatusBadRequest, raw.Code)

	// 400 for a validation failure.
	rec = do(t, srv, http.MethodPost, "/api/appointments", CreateAppointmentRequest{
		PatientID: "patient-1",
		Type:      "telepathy",
	})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "validation", decode[errorResponse](t, rec).Kind)

	// 409 for an illegal transition.
	rec = do(t, srv, http.MethodPost, "/api/appointments", CreateAppointmentRequest{
		PatientID:    "patient-1",
		Type:         "consultation",
		ScheduledFor: "2030-01-01T09:00:00Z",
	})
	require.Equal(t, http.StatusCreated, rec.Code)
	appt := decode[AppointmentDTO](t, rec)

	rec = do(t, srv, http.MethodPost, "/api/appointments/"+appt.ID+"/status", UpdateStatusRequest{Status: "completed"})
	assert.Equal(t, http.StatusConflict, rec.Code)
	assert.Equal(t, "transition", decode[errorResponse](t, rec).Kind)
}

func TestAPI_DuplicateIdempotencyKeyConflicts(t *testing.T) {
	srv := newTestServer(t)

	rec := do(t, srv, http.MethodPost, "/api/appointments", CreateAppointmentRequest{
		PatientID: "patient-1",
		Type:      "consultation",
		WalkIn:    true,
	})
	require.Equal(t, http.StatusCreated, rec.Code)
	appt := decode[AppointmentDTO](t, rec)

	rec = do(t, srv, http.MethodGet, "/api/appointments/"+appt.ID+"/order", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	order := decode[OrderDTO](t, rec)

	submit := SubmitPaymentRequest{
		OrderID:        order.ID,
		Amount:         "10.00",
		Method:         "cash",
		IdempotencyKey: "retry-1",
	}
	rec = do(t, srv, http.MethodPost, "/api/payments", submit)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())

	rec = do(t, srv, http.MethodPost, "/api/payments", submit)
	assert.Equal(t, http.StatusConflict, rec.Code)
	assert.Equal(t, "duplicate", decode[errorResponse](t, rec).Kind)
}

// =============================================================================
// DISPLAY CONVERSION
// =============================================================================

func TestAPI_OrderConversionRate(t *testing.T) {
	srv := newTestServer(t)

	rec := do(t, srv, http.MethodPost, "/api/appointments", CreateAppointmentRequest{
		PatientID: "patient-1",
		Type:      "consultation",
		WalkIn:    true,
	})
	require.Equal(t, http.StatusCreated, rec.Code)
	appt := decode[AppointmentDTO](t, rec)

	rec = do(t, srv, http.MethodGet, "/api/appointments/"+appt.ID+"/order", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	order := decode[OrderDTO](t, rec)

	rec = do(t, srv, http.MethodPost, "/api/orders/"+order.ID+"/items", UpsertItemRequest{
		Description: "Consultation",
		Quantity:    "1",
		UnitPrice:   "100.00",
	})
	require.Equal(t, http.StatusCreated, rec.Code)

	rec = do(t, srv, http.MethodGet, fmt.Sprintf("/api/orders/%s?rate=0.925", order.ID), nil)
	require.Equal(t, http.StatusOK, rec.Code)
	receipt := decode[ReceiptDTO](t, rec)
	assert.Equal(t, "92.50", receipt.Order.ConvertedTotal)
	assert.Equal(t, "100.00", receipt.Order.Total, "stored values stay in the native currency")

	// A non-positive rate is rejected.
	rec = do(t, srv, http.MethodGet, fmt.Sprintf("/api/orders/%s?rate=0", order.ID), nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}
