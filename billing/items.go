/*
items.go - Charge item writes with synchronous ledger recalculation

PURPOSE:
  Every item write recomputes its own subtotal and re-triggers the owning
  ledger's recalculation inside the same transaction. The reactive
  save-hook of the original billing flow is an explicit call here, so
  ordering and failure atomicity are visible and testable.

CONTRACT:
  subtotal = quantity x unit_price, fixed-point decimal, immutable to
  external override. Deletion follows the same recalculation contract.
  Writes against terminal orders (paid, void, waived) are rejected.
*/
package billing

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/ungardev/medops/audit"
	"github.com/ungardev/medops/core"
)

// Items is the charge item store service.
type Items struct {
	store TxStore
	log   zerolog.Logger
	now   func() time.Time
}

func NewItems(store TxStore, log zerolog.Logger) *Items {
	return &Items{store: store, log: log, now: time.Now}
}

// Upsert validates, recomputes the subtotal, persists the item, and
// recalculates the owning order - all in one transaction.
func (s *Items) Upsert(ctx context.Context, item *ChargeItem, actor string) (*ChargeItem, error) {
	if item.OrderID == "" {
		return nil, &core.ValidationError{Field: "order_id", Reason: "required"}
	}
	if item.Quantity.IsNegative() {
		return nil, &core.ValidationError{Field: "quantity", Reason: "must be non-negative"}
	}
	if item.UnitPrice.IsNegative() {
		return nil, &core.ValidationError{Field: "unit_price", Reason: "must be non-negative"}
	}

	action := "charge_item_updated"
	if item.ID == "" {
		item.ID = ItemID(uuid.NewString())
		action = "charge_item_added"
	}
	item.Subtotal = item.Quantity.Mul(item.UnitPrice)

	err := s.store.WithTx(ctx, func(tx Store) error {
		order, err := tx.Order(ctx, item.OrderID)
		if err != nil {
			return err
		}
		if order.Terminal() {
			return &core.TransitionError{
				Entity: "charge_order",
				From:   core.State(order.Status),
				To:     core.State(order.Status),
				Reason: "items cannot change on a " + string(order.Status) + " order",
			}
		}
		if err := tx.SaveItem(ctx, item); err != nil {
			return err
		}
		if err := recalcAndSave(ctx, tx, order); err != nil {
			return err
		}
		return tx.AppendEvent(ctx, audit.Event{
			Timestamp: s.now().UTC(),
			Actor:     actor,
			Entity:    "charge_item",
			EntityID:  string(item.ID),
			Action:    action,
			Metadata: map[string]any{
				"order_id": string(item.OrderID),
				"quantity": item.Quantity.String(),
				"subtotal": item.Subtotal.String(),
			},
			Severity: audit.SeverityInfo,
		})
	})
	if err != nil {
		return nil, err
	}
	return item, nil
}

// Delete removes an item and recalculates the owning order in the same
// transaction.
func (s *Items) Delete(ctx context.Context, id ItemID, actor string) error {
	return s.store.WithTx(ctx, func(tx Store) error {
		item, err := tx.Item(ctx, id)
		if err != nil {
			return err
		}
		order, err := tx.Order(ctx, item.OrderID)
		if err != nil {
			return err
		}
		if order.Terminal() {
			return &core.TransitionError{
				Entity: "charge_order",
				From:   core.State(order.Status),
				To:     core.State(order.Status),
				Reason: "items cannot change on a " + string(order.Status) + " order",
			}
		}
		if err := tx.DeleteItem(ctx, id); err != nil {
			return err
		}
		if err := recalcAndSave(ctx, tx, order); err != nil {
			return err
		}
		return tx.AppendEvent(ctx, audit.Event{
			Timestamp: s.now().UTC(),
			Actor:     actor,
			Entity:    "charge_item",
			EntityID:  string(id),
			Action:    "charge_item_deleted",
			Metadata:  map[string]any{"order_id": string(order.ID)},
			Severity:  audit.SeverityInfo,
		})
	})
}

// List returns all items on an order.
func (s *Items) List(ctx context.Context, orderID OrderID) ([]ChargeItem, error) {
	return s.store.Items(ctx, orderID)
}
