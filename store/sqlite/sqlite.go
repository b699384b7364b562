/*
Package sqlite provides the SQLite-backed implementation of the storage
interfaces.

PURPOSE:
  Implements billing.TxStore, flow.TxStore, and audit.Trail on one
  database. In production the same patterns apply to PostgreSQL - only
  minor SQL dialect differences.

KEY TABLES:
  appointments:         Patient-flow state machine rows
  charge_orders:        One per appointment (UNIQUE constraint)
  charge_items:         Line items, cascade-deleted with their order
  payments:             Partial unique index on idempotency_key
  waiting_room_entries: One per appointment; UNIQUE(day, priority, order)
  events:               Append-only audit log; no UPDATE or DELETE path

CONCURRENCY:
  A sync.RWMutex serializes writers the way request workers expect:
  every atomic unit (WithTx) holds the write lock, so the balance read
  and the ledger write inside it cannot interleave with another unit.
  SQLITE_BUSY and table-lock errors map to core.ErrConcurrency, which
  callers may retry as a whole unit.

WAL MODE:
  The database is opened with WAL and foreign keys on. In-memory
  databases pin the pool to one connection so every handle sees the same
  schema.

USAGE:
  store, err := sqlite.New("./data/clinic.db")
  ledger := billing.NewLedger(store.Billing(), logger)

SEE ALSO:
  - billing.go: charge orders, items, payments
  - flow.go:    appointments, waiting-room entries
  - events.go:  audit log and patient trail
*/
package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/mattn/go-sqlite3"

	"github.com/ungardev/medops/audit"
	"github.com/ungardev/medops/billing"
	"github.com/ungardev/medops/core"
	"github.com/ungardev/medops/flow"
)

// Store owns the database handle. Domain-facing views are obtained via
// Billing(), Flow(), and Audit().
type Store struct {
	db *sql.DB
	mu sync.RWMutex
}

// New opens (or creates) the database at path. Use ":memory:" for tests.
func New(path string) (*Store, error) {
	db, err := sql.Open("sqlite3", path+"?_foreign_keys=on&_journal_mode=WAL")
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	if strings.Contains(path, ":memory:") {
		// Each pooled connection would otherwise get its own empty database.
		db.SetMaxOpenConns(1)
	}

	s := &Store{db: db}
	if err := s.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to migrate database: %w", err)
	}
	return s, nil
}

// Close closes the database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// Billing returns the billing-facing view of the store.
func (s *Store) Billing() billing.TxStore { return &billingStore{s: s} }

// Flow returns the patient-flow-facing view of the store.
func (s *Store) Flow() flow.TxStore { return &flowStore{s: s} }

// Audit returns the audit log with the patient-trail queries.
func (s *Store) Audit() audit.Trail { return &auditStore{s: s} }

func (s *Store) migrate() error {
	schema := `
	CREATE TABLE IF NOT EXISTS appointments (
		id TEXT PRIMARY KEY,
		patient_id TEXT NOT NULL,
		type TEXT NOT NULL,
		status TEXT NOT NULL
			CHECK (status IN ('pending','arrived','in_consultation','completed','canceled')),
		expected_amount TEXT NOT NULL,
		scheduled_for TEXT NOT NULL,
		arrival_time TEXT,
		created_at TEXT NOT NULL,
		updated_at TEXT NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_appointments_patient
		ON appointments(patient_id);
	CREATE INDEX IF NOT EXISTS idx_appointments_status
		ON appointments(status);

	-- Exactly one charge order per appointment; provisioning relies on
	-- the UNIQUE constraint for its idempotent guard.
	CREATE TABLE IF NOT EXISTS charge_orders (
		id TEXT PRIMARY KEY,
		appointment_id TEXT NOT NULL UNIQUE
			REFERENCES appointments(id) ON DELETE CASCADE,
		patient_id TEXT NOT NULL,
		currency TEXT NOT NULL,
		total TEXT NOT NULL,
		balance_due TEXT NOT NULL,
		status TEXT NOT NULL
			CHECK (status IN ('open','partially_paid','paid','void','waived')),
		issued_at TEXT NOT NULL,
		issued_by TEXT NOT NULL DEFAULT '',
		created_at TEXT NOT NULL,
		updated_at TEXT NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_charge_orders_patient
		ON charge_orders(patient_id);

	CREATE TABLE IF NOT EXISTS charge_items (
		id TEXT PRIMARY KEY,
		order_id TEXT NOT NULL
			REFERENCES charge_orders(id) ON DELETE CASCADE,
		description TEXT NOT NULL DEFAULT '',
		quantity TEXT NOT NULL,
		unit_price TEXT NOT NULL,
		subtotal TEXT NOT NULL,
		created_at TEXT NOT NULL,
		updated_at TEXT NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_charge_items_order
		ON charge_items(order_id);

	CREATE TABLE IF NOT EXISTS payments (
		id TEXT PRIMARY KEY,
		order_id TEXT NOT NULL
			REFERENCES charge_orders(id) ON DELETE CASCADE,
		appointment_id TEXT NOT NULL,
		amount TEXT NOT NULL,
		method TEXT NOT NULL
			CHECK (method IN ('cash','card','transfer','other')),
		status TEXT NOT NULL
			CHECK (status IN ('pending','confirmed','rejected','void')),
		reference_number TEXT NOT NULL DEFAULT '',
		bank_name TEXT NOT NULL DEFAULT '',
		idempotency_key TEXT,
		note TEXT NOT NULL DEFAULT '',
		received_at TEXT NOT NULL,
		created_at TEXT NOT NULL,
		updated_at TEXT NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_payments_order
		ON payments(order_id);
	CREATE INDEX IF NOT EXISTS idx_payments_appointment
		ON payments(appointment_id);

	-- Cross-request deduplication independent of transaction isolation.
	CREATE UNIQUE INDEX IF NOT EXISTS idx_payments_idempotency
		ON payments(idempotency_key) WHERE idempotency_key IS NOT NULL;

	CREATE TABLE IF NOT EXISTS waiting_room_entries (
		id TEXT PRIMARY KEY,
		appointment_id TEXT NOT NULL UNIQUE
			REFERENCES appointments(id) ON DELETE CASCADE,
		patient_id TEXT NOT NULL,
		status TEXT NOT NULL
			CHECK (status IN ('waiting','in_consultation','completed','canceled')),
		priority TEXT NOT NULL
			CHECK (priority IN ('normal','emergency')),
		source TEXT NOT NULL
			CHECK (source IN ('scheduled','walk_in')),
		arrival_time TEXT NOT NULL,
		day TEXT NOT NULL,
		queue_order INTEGER NOT NULL,
		created_at TEXT NOT NULL,
		updated_at TEXT NOT NULL,
		UNIQUE(day, priority, queue_order)
	);

	CREATE INDEX IF NOT EXISTS idx_entries_day
		ON waiting_room_entries(day);

	-- Append-only. No UPDATE or DELETE statements exist for this table.
	CREATE TABLE IF NOT EXISTS events (
		id TEXT PRIMARY KEY,
		ts TEXT NOT NULL,
		actor TEXT NOT NULL DEFAULT '',
		entity TEXT NOT NULL,
		entity_id TEXT NOT NULL,
		action TEXT NOT NULL,
		metadata_json TEXT,
		severity TEXT NOT NULL
			CHECK (severity IN ('info','warning','critical')),
		notify INTEGER NOT NULL DEFAULT 0
	);

	CREATE INDEX IF NOT EXISTS idx_events_entity
		ON events(entity, entity_id);
	CREATE INDEX IF NOT EXISTS idx_events_ts
		ON events(ts);
	`
	_, err := s.db.Exec(schema)
	return err
}

// =============================================================================
// TRANSACTIONS AND SHARED HELPERS
// =============================================================================

// dbtx is satisfied by both *sql.DB and *sql.Tx.
type dbtx interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// withTx runs fn inside one transaction under the write lock. Rollback on
// error, commit otherwise; lock-contention errors surface as retryable.
func (s *Store) withTx(ctx context.Context, fn func(tx *sql.Tx) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	if err := fn(tx); err != nil {
		return mapBusy(err)
	}
	if err := tx.Commit(); err != nil {
		return mapBusy(err)
	}
	return nil
}

// read runs f outside any transaction, under the read lock.
func (s *Store) read(f func(q dbtx) error) error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return f(s.db)
}

// write runs f outside any transaction, under the write lock.
func (s *Store) write(f func(q dbtx) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return f(s.db)
}

func mapBusy(err error) error {
	if isBusy(err) {
		return fmt.Errorf("%w: %v", core.ErrConcurrency, err)
	}
	return err
}

func isBusy(err error) bool {
	var se sqlite3.Error
	if errors.As(err, &se) {
		return se.Code == sqlite3.ErrBusy || se.Code == sqlite3.ErrLocked
	}
	return false
}

func isUniqueConstraintError(err error) bool {
	var se sqlite3.Error
	if errors.As(err, &se) {
		return se.ExtendedCode == sqlite3.ErrConstraintUnique ||
			se.ExtendedCode == sqlite3.ErrConstraintPrimaryKey
	}
	return err != nil && strings.Contains(err.Error(), "UNIQUE constraint failed")
}

func nullString(v string) sql.NullString {
	if v == "" {
		return sql.NullString{}
	}
	return sql.NullString{String: v, Valid: true}
}

func formatTime(t time.Time) string {
	return t.UTC().Format(time.RFC3339Nano)
}

func parseTime(v string) time.Time {
	t, _ := time.Parse(time.RFC3339Nano, v)
	return t
}

func parseTimePtr(v sql.NullString) *time.Time {
	if !v.Valid || v.String == "" {
		return nil
	}
	t := parseTime(v.String)
	return &t
}

// Interface conformance checks.
var (
	_ billing.TxStore = (*billingStore)(nil)
	_ flow.TxStore    = (*flowStore)(nil)
	_ audit.Trail     = (*auditStore)(nil)
)
