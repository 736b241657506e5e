package model

import "time"

// UsageRecord is one completion pass's token consumption, written by the
// accounting worker from the usage stream. Best-effort: losing one is
// acceptable, blocking a user turn is not.
type UsageRecord struct {
	ID               int64
	TenantID         string
	ConversationID   int64
	Model            string
	PromptTokens     int
	CompletionTokens int
	CreatedAt        time.Time
}
