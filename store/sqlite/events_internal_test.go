package sqlite

import (
	"database/sql"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ungardev/medops/audit"
)

// stubRow feeds canned column values into a scan function.
type stubRow struct {
	vals []any
}

func (r stubRow) Scan(dest ...any) error {
	for i, d := range dest {
		switch p := d.(type) {
		case *string:
			*p = r.vals[i].(string)
		case *sql.NullString:
			*p = r.vals[i].(sql.NullString)
		case *int:
			*p = r.vals[i].(int)
		case *audit.Severity:
			*p = r.vals[i].(audit.Severity)
		}
	}
	return nil
}

func eventRow(metadata sql.NullString) stubRow {
	return stubRow{vals: []any{
		"evt-1", "2025-03-10T09:00:00Z", "desk-1", "appointment", "appt-1",
		"appointment_created", metadata, audit.SeverityInfo, 0,
	}}
}

func TestScanEvent_MetadataRoundTrips(t *testing.T) {
	e, err := scanEvent(eventRow(sql.NullString{Valid: true, String: `{"patient_id":"patient-1"}`}))
	require.NoError(t, err)
	assert.Equal(t, "patient-1", e.Metadata["patient_id"])
	assert.Equal(t, audit.SeverityInfo, e.Severity)
	assert.False(t, e.Notify)
}

func TestScanEvent_CorruptMetadataSurfaces(t *testing.T) {
	// A metadata blob that no longer parses must fail the read, not come
	// back as a silently empty map.
	_, err := scanEvent(eventRow(sql.NullString{Valid: true, String: `{not json`}))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "corrupt metadata on event evt-1")
}

func TestScanEvent_NullMetadataIsAbsent(t *testing.T) {
	e, err := scanEvent(eventRow(sql.NullString{}))
	require.NoError(t, err)
	assert.Nil(t, e.Metadata)
}
