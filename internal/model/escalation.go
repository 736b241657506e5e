package model

import (
	"encoding/json"
	"time"
)

// EscalationStatus tracks the human-confirmation gate lifecycle.
type EscalationStatus string

const (
	EscalationPending  EscalationStatus = "pending"
	EscalationApproved EscalationStatus = "approved"
	EscalationRejected EscalationStatus = "rejected"
)

// Escalation suspends a capability call pending human confirmation. The
// orchestrator records one and reports "pending confirmation" to the model
// instead of executing; the in-flight stream is unaffected.
type Escalation struct {
	ID             int64
	TenantID       string
	ConversationID int64
	Capability     string
	Arguments      json.RawMessage
	Status         EscalationStatus
	CreatedAt      time.Time
}
