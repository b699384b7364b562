/*
queue.go - Waiting-room queue placement and ordering

PURPOSE:
  Placement is append-to-band: a new entry takes max(order)+1 within its
  own (day, priority) band, computed and inserted in one transaction so
  two arrivals never race to the same position. Reads always apply the
  composite sort contract - emergency band before normal regardless of
  arrival time, then earliest arrival, then assigned order - never raw
  insertion order.
*/
package flow

import (
	"context"
	"time"

	"github.com/rs/zerolog"

	"github.com/ungardev/medops/audit"
	"github.com/ungardev/medops/core"
)

// placeInQueue assigns the entry's in-band position and persists it.
// Must run on a transaction-bound store.
func placeInQueue(ctx context.Context, s Store, e *WaitingRoomEntry) error {
	max, err := s.MaxOrderInBand(ctx, e.Band(), e.Priority)
	if err != nil {
		return err
	}
	e.Order = max + 1
	return s.SaveEntry(ctx, e)
}

// Queue exposes waiting-room reads and entry transitions.
type Queue struct {
	store TxStore
	log   zerolog.Logger
	Now   Clock
}

func NewQueue(store TxStore, log zerolog.Logger) *Queue {
	return &Queue{store: store, log: log, Now: time.Now}
}

// Today returns the current day's queue in composite order.
func (q *Queue) Today(ctx context.Context) ([]WaitingRoomEntry, error) {
	return q.store.Queue(ctx, q.Now().UTC().Format("2006-01-02"))
}

// Day returns the queue for an arbitrary day (YYYY-MM-DD, UTC).
func (q *Queue) Day(ctx context.Context, day string) ([]WaitingRoomEntry, error) {
	return q.store.Queue(ctx, day)
}

// Entry returns an entry by id.
func (q *Queue) Entry(ctx context.Context, id EntryID) (*WaitingRoomEntry, error) {
	return q.store.Entry(ctx, id)
}

// UpdateStatus moves an entry along its own transition table:
// waiting -> {in_consultation, canceled},
// in_consultation -> {completed, canceled}, terminal after that.
func (q *Queue) UpdateStatus(ctx context.Context, id EntryID, next EntryStatus, actor string) (*WaitingRoomEntry, error) {
	var entry *WaitingRoomEntry
	err := q.store.WithTx(ctx, func(s Store) error {
		var err error
		entry, err = s.Entry(ctx, id)
		if err != nil {
			return err
		}
		from := entry.Status
		if err := entryGraph.Step("waiting_room_entry", core.State(from), core.State(next)); err != nil {
			return err
		}
		entry.Status = next
		if err := s.SaveEntry(ctx, entry); err != nil {
			return err
		}
		return s.AppendEvent(ctx, audit.Event{
			Timestamp: q.Now().UTC(),
			Actor:     actor,
			Entity:    "waiting_room_entry",
			EntityID:  string(entry.ID),
			Action:    "waiting_entry_status_changed",
			Metadata:  map[string]any{"from": string(from), "to": string(next)},
			Severity:  audit.SeverityInfo,
		})
	})
	if err != nil {
		return nil, err
	}
	return entry, nil
}
