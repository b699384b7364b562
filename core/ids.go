package core

// Identifiers shared across domain packages. Billing references
// appointments and patients without importing the flow package, so the
// cross-domain IDs live here. Package-local IDs (orders, payments,
// queue entries) stay with their owning package.

type AppointmentID string
type PatientID string
