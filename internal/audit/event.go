// Package audit batches activity and audit events into the document and
// relational stores and maintains the sliding per-user and per-tenant
// activity indices in the key-value store.
package audit

import "time"

const (
	SeverityInfo  = "info"
	SeverityWarn  = "warn"
	SeverityHigh  = "high"
	SeverityError = "error"
)

// Event is one auditable action. Every event lands in the document store;
// events carrying TableName additionally land in the relational audit
// table. UserID 0 marks a system event.
type Event struct {
	UserID    uint
	TenantID  uint
	Action    string
	Details   map[string]any
	IPAddress string
	UserAgent string
	SessionID string
	Severity  string
	Timestamp time.Time

	// Row-level mutation fields; TableName routes the event to the
	// relational stream.
	TableName string
	RecordID  string
	OldValues map[string]any
	NewValues map[string]any
}
