package billing_test

import (
	"context"
	"testing"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ungardev/medops/audit"
	"github.com/ungardev/medops/billing"
	"github.com/ungardev/medops/core"
	"github.com/ungardev/medops/flow"
	"github.com/ungardev/medops/store/sqlite"
)

// =============================================================================
// TEST SETUP
// =============================================================================

type fixture struct {
	store     *sqlite.Store
	ledger    *billing.Ledger
	items     *billing.Items
	processor *billing.Processor
}

func newFixture(t *testing.T) *fixture {
	store, err := sqlite.New(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })

	log := zerolog.Nop()
	return &fixture{
		store:     store,
		ledger:    billing.NewLedger(store.Billing(), log),
		items:     billing.NewItems(store.Billing(), log),
		processor: billing.NewProcessor(store.Billing(), log),
	}
}

// seedOrder creates an appointment through the scheduler and returns its
// auto-provisioned charge order.
func seedOrder(t *testing.T, f *fixture) *billing.ChargeOrder {
	sched := flow.NewScheduler(f.store.Flow(), flow.DefaultAmountPolicy(), "USD", zerolog.Nop())
	appt, err := sched.Create(context.Background(), &flow.Appointment{
		PatientID: "patient-1",
		Type:      flow.TypeConsultation,
	}, "tester")
	require.NoError(t, err)

	order, err := f.ledger.OrderForAppointment(context.Background(), appt.ID)
	require.NoError(t, err)
	return order
}

func addItem(t *testing.T, f *fixture, orderID billing.OrderID, qty, price string) *billing.ChargeItem {
	item, err := f.items.Upsert(context.Background(), &billing.ChargeItem{
		OrderID:   orderID,
		Quantity:  d(qty),
		UnitPrice: d(price),
	}, "tester")
	require.NoError(t, err)
	return item
}

func d(s string) decimal.Decimal { return core.MustDecimal(s) }

func item(qty, price string) billing.ChargeItem {
	q, p := d(qty), d(price)
	return billing.ChargeItem{Quantity: q, UnitPrice: p, Subtotal: q.Mul(p)}
}

func confirmed(amount string) billing.Payment {
	return billing.Payment{Amount: d(amount), Status: billing.PaymentConfirmed}
}

func pending(amount string) billing.Payment {
	return billing.Payment{Amount: d(amount), Status: billing.PaymentPending}
}

// =============================================================================
// RECALC - pure ledger arithmetic
// =============================================================================

func TestRecalc_EmptyOrder_OpenAtZero(t *testing.T) {
	order := &billing.ChargeOrder{Status: billing.OrderOpen}
	billing.Recalc(order, nil, nil)

	assert.True(t, order.Total.IsZero())
	assert.True(t, order.BalanceDue.IsZero())
	assert.Equal(t, billing.OrderOpen, order.Status)
}

func TestRecalc_ItemsOnly_BalanceEqualsTotal(t *testing.T) {
	order := &billing.ChargeOrder{Status: billing.OrderOpen}
	billing.Recalc(order, []billing.ChargeItem{item("2", "25.50"), item("1", "9.00")}, nil)

	assert.True(t, order.Total.Equal(d("60.00")), "total = %s", order.Total)
	assert.True(t, order.BalanceDue.Equal(d("60.00")))
	assert.Equal(t, billing.OrderOpen, order.Status)
}

func TestRecalc_PartialPayment_PartiallyPaid(t *testing.T) {
	order := &billing.ChargeOrder{Status: billing.OrderOpen}
	billing.Recalc(order,
		[]billing.ChargeItem{item("1", "100")},
		[]billing.Payment{confirmed("40")})

	assert.True(t, order.BalanceDue.Equal(d("60")))
	assert.Equal(t, billing.OrderPartiallyPaid, order.Status)
}

func TestRecalc_FullPayment_Paid(t *testing.T) {
	order := &billing.ChargeOrder{Status: billing.OrderOpen}
	billing.Recalc(order,
		[]billing.ChargeItem{item("1", "100")},
		[]billing.Payment{confirmed("60"), confirmed("40")})

	assert.True(t, order.BalanceDue.IsZero())
	assert.Equal(t, billing.OrderPaid, order.Status)
}

func TestRecalc_PendingPaymentsDoNotCount(t *testing.T) {
	// GIVEN: A fully "covered" order whose payment is still pending
	// THEN: Balance is untouched; only confirmed money settles
	order := &billing.ChargeOrder{Status: billing.OrderOpen}
	billing.Recalc(order,
		[]billing.ChargeItem{item("1", "100")},
		[]billing.Payment{pending("100")})

	assert.True(t, order.BalanceDue.Equal(d("100")))
	assert.Equal(t, billing.OrderOpen, order.Status)
}

func TestRecalc_OverpaymentClampsBalanceAtZero(t *testing.T) {
	order := &billing.ChargeOrder{Status: billing.OrderOpen}
	billing.Recalc(order,
		[]billing.ChargeItem{item("1", "50")},
		[]billing.Payment{confirmed("80")})

	assert.True(t, order.BalanceDue.IsZero(), "balance never goes negative")
	assert.Equal(t, billing.OrderPaid, order.Status)
}

func TestRecalc_ZeroTotal_NeverPaid(t *testing.T) {
	// A zero-value order with zero balance stays open; paid requires a
	// positive total.
	order := &billing.ChargeOrder{Status: billing.OrderOpen}
	billing.Recalc(order, nil, nil)
	assert.Equal(t, billing.OrderOpen, order.Status)
}

func TestRecalc_VoidOrderFrozen(t *testing.T) {
	order := &billing.ChargeOrder{
		Status:     billing.OrderVoid,
		Total:      d("100"),
		BalanceDue: d("100"),
	}
	billing.Recalc(order, []billing.ChargeItem{item("1", "500")}, nil)

	assert.True(t, order.Total.Equal(d("100")), "void orders are frozen as they stood")
	assert.True(t, order.BalanceDue.Equal(d("100")))
	assert.Equal(t, billing.OrderVoid, order.Status)
}

func TestRecalc_WaivedOrderKeepsZeroBalance(t *testing.T) {
	order := &billing.ChargeOrder{
		Status:     billing.OrderWaived,
		Total:      d("100"),
		BalanceDue: decimal.Zero,
	}
	billing.Recalc(order, []billing.ChargeItem{item("1", "100")}, nil)

	assert.True(t, order.BalanceDue.IsZero(), "waive pinned the balance at zero")
	assert.Equal(t, billing.OrderWaived, order.Status)
}

func TestRecalc_PaidStatusNeverSilentlyOverwritten(t *testing.T) {
	// GIVEN: A paid order whose recomputed balance no longer matches
	// THEN: Recalc leaves the status alone; CheckInvariants flags it
	order := &billing.ChargeOrder{Status: billing.OrderPaid}
	billing.Recalc(order,
		[]billing.ChargeItem{item("1", "80")},
		[]billing.Payment{confirmed("50")})

	assert.Equal(t, billing.OrderPaid, order.Status)
	err := order.CheckInvariants()
	require.Error(t, err)
	assert.ErrorIs(t, err, core.ErrInvariantViolation)
}

func TestRecalc_Idempotent(t *testing.T) {
	order := &billing.ChargeOrder{Status: billing.OrderOpen}
	items := []billing.ChargeItem{item("3", "10")}
	payments := []billing.Payment{confirmed("10")}

	billing.Recalc(order, items, payments)
	first := *order
	billing.Recalc(order, items, payments)

	assert.True(t, order.Total.Equal(first.Total))
	assert.True(t, order.BalanceDue.Equal(first.BalanceDue))
	assert.Equal(t, first.Status, order.Status)
}

// =============================================================================
// ITEM WRITES - synchronous recalculation over the store
// =============================================================================

func TestItems_UpsertAndDelete_RecalculateOrder(t *testing.T) {
	// GIVEN: A fresh zero-value order
	// WHEN: Adding two items, updating one, deleting the other
	// THEN: The persisted totals track every step

	f := newFixture(t)
	order := seedOrder(t, f)
	ctx := context.Background()

	first := addItem(t, f, order.ID, "2", "25")  // 50
	second := addItem(t, f, order.ID, "1", "30") // 30

	got, err := f.ledger.Order(ctx, order.ID)
	require.NoError(t, err)
	assert.True(t, got.Total.Equal(d("80")), "total = %s", got.Total)
	assert.True(t, got.BalanceDue.Equal(d("80")))

	// Update the first item's quantity
	first.Quantity = d("3")
	_, err = f.items.Upsert(ctx, first, "tester")
	require.NoError(t, err)

	got, err = f.ledger.Order(ctx, order.ID)
	require.NoError(t, err)
	assert.True(t, got.Total.Equal(d("105")))

	// Delete the second item
	require.NoError(t, f.items.Delete(ctx, second.ID, "tester"))

	got, err = f.ledger.Order(ctx, order.ID)
	require.NoError(t, err)
	assert.True(t, got.Total.Equal(d("75")))
	assert.True(t, got.BalanceDue.Equal(d("75")))
	assert.Equal(t, billing.OrderOpen, got.Status)
}

func TestItems_SubtotalIsComputedNotTrusted(t *testing.T) {
	f := newFixture(t)
	order := seedOrder(t, f)

	item, err := f.items.Upsert(context.Background(), &billing.ChargeItem{
		OrderID:   order.ID,
		Quantity:  d("2"),
		UnitPrice: d("10"),
		Subtotal:  d("999"), // caller-supplied value is ignored
	}, "tester")
	require.NoError(t, err)
	assert.True(t, item.Subtotal.Equal(d("20")))
}

func TestItems_NegativeQuantityRejected(t *testing.T) {
	f := newFixture(t)
	order := seedOrder(t, f)

	_, err := f.items.Upsert(context.Background(), &billing.ChargeItem{
		OrderID:   order.ID,
		Quantity:  d("-1"),
		UnitPrice: d("10"),
	}, "tester")
	assert.ErrorIs(t, err, core.ErrValidation)
}

func TestItems_WriteOnVoidOrderRejected(t *testing.T) {
	f := newFixture(t)
	order := seedOrder(t, f)
	ctx := context.Background()

	_, err := f.ledger.MarkVoid(ctx, order.ID, "registration error", "tester")
	require.NoError(t, err)

	_, err = f.items.Upsert(ctx, &billing.ChargeItem{
		OrderID:   order.ID,
		Quantity:  d("1"),
		UnitPrice: d("10"),
	}, "tester")
	assert.ErrorIs(t, err, core.ErrStateTransition)
}

func TestItems_DeleteOnPaidOrderRejected(t *testing.T) {
	f := newFixture(t)
	order := seedOrder(t, f)
	ctx := context.Background()

	item := addItem(t, f, order.ID, "1", "50")
	payFully(t, f, order.ID, "50")

	err := f.items.Delete(ctx, item.ID, "tester")
	assert.ErrorIs(t, err, core.ErrStateTransition)
}

// payFully submits and confirms one payment covering the given amount.
func payFully(t *testing.T, f *fixture, orderID billing.OrderID, amount string) *billing.Payment {
	ctx := context.Background()
	payment, err := f.processor.Submit(ctx, &billing.Payment{
		OrderID: orderID,
		Amount:  d(amount),
		Method:  billing.MethodCash,
	}, "tester")
	require.NoError(t, err)

	payment, err = f.processor.Confirm(ctx, payment.ID, "tester", "")
	require.NoError(t, err)
	return payment
}

// =============================================================================
// VOID AND WAIVE
// =============================================================================

func TestMarkVoid_FreezesOrder(t *testing.T) {
	f := newFixture(t)
	order := seedOrder(t, f)
	addItem(t, f, order.ID, "1", "75")

	got, err := f.ledger.MarkVoid(context.Background(), order.ID, "duplicate registration", "dr-a")
	require.NoError(t, err)
	assert.Equal(t, billing.OrderVoid, got.Status)
	assert.True(t, got.Total.Equal(d("75")), "void keeps the order as it stood")
}

func TestMarkVoid_PaidOrderRejected(t *testing.T) {
	f := newFixture(t)
	order := seedOrder(t, f)
	addItem(t, f, order.ID, "1", "50")
	payFully(t, f, order.ID, "50")

	_, err := f.ledger.MarkVoid(context.Background(), order.ID, "too late", "dr-a")
	assert.ErrorIs(t, err, core.ErrStateTransition)
}

func TestMarkWaived_PinsBalanceAtZero(t *testing.T) {
	f := newFixture(t)
	order := seedOrder(t, f)
	addItem(t, f, order.ID, "1", "120")

	got, err := f.ledger.MarkWaived(context.Background(), order.ID, "charity case", "dr-a")
	require.NoError(t, err)
	assert.Equal(t, billing.OrderWaived, got.Status)
	assert.True(t, got.BalanceDue.IsZero())

	// The waived balance survives the recomputation path.
	balance, err := f.ledger.BalanceDue(context.Background(), got.AppointmentID)
	require.NoError(t, err)
	assert.True(t, balance.IsZero())
}

func TestMarkWaived_VoidOrderRejected(t *testing.T) {
	f := newFixture(t)
	order := seedOrder(t, f)
	ctx := context.Background()

	_, err := f.ledger.MarkVoid(ctx, order.ID, "", "tester")
	require.NoError(t, err)

	_, err = f.ledger.MarkWaived(ctx, order.ID, "", "tester")
	assert.ErrorIs(t, err, core.ErrStateTransition)
}

func TestMarkVoid_EmitsCriticalNotifyEvent(t *testing.T) {
	f := newFixture(t)
	order := seedOrder(t, f)

	_, err := f.ledger.MarkVoid(context.Background(), order.ID, "entered twice", "dr-a")
	require.NoError(t, err)

	events, err := f.store.Audit().Query(context.Background(), audit.Filter{
		Actions: []string{"order_voided"},
	})
	require.NoError(t, err)
	require.Len(t, events, 1)
	assert.Equal(t, audit.SeverityCritical, events[0].Severity)
	assert.True(t, events[0].Notify)
	assert.Equal(t, "dr-a", events[0].Actor)
	assert.Equal(t, "entered twice", events[0].Metadata["reason"])
}

// =============================================================================
// BALANCE READS
// =============================================================================

func TestBalanceDue_RecomputesFromScratch(t *testing.T) {
	f := newFixture(t)
	order := seedOrder(t, f)
	addItem(t, f, order.ID, "2", "40")

	balance, err := f.ledger.BalanceDue(context.Background(), order.AppointmentID)
	require.NoError(t, err)
	assert.True(t, balance.Equal(d("80")))

	payFully(t, f, order.ID, "80")

	balance, err = f.ledger.BalanceDue(context.Background(), order.AppointmentID)
	require.NoError(t, err)
	assert.True(t, balance.IsZero())
}

func TestReceiptFor_AssemblesOrderItemsPayments(t *testing.T) {
	f := newFixture(t)
	order := seedOrder(t, f)
	addItem(t, f, order.ID, "1", "60")
	payFully(t, f, order.ID, "60")

	receipt, err := f.ledger.ReceiptFor(context.Background(), order.ID)
	require.NoError(t, err)
	assert.Len(t, receipt.Items, 1)
	assert.Len(t, receipt.Payments, 1)
	assert.Equal(t, billing.OrderPaid, receipt.Order.Status)
}
