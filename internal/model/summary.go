package model

import "time"

// ConversationSummary is the cached compaction of a conversation's archived
// region. CoveredMessageCount is the cache key: as long as the archive
// boundary doesn't move, the summary is reused without an LLM call.
type ConversationSummary struct {
	ID                  int64
	ConversationID      int64
	Summary             string
	CoveredMessageCount int
	CreatedAt           time.Time
}

// MemoryProfile is the slow-moving long-term memory for a conversation:
// facts, recurring topics and open items folded in block by block,
// independent of per-turn compaction.
type MemoryProfile struct {
	ConversationID  int64
	Profile         string
	LastFoldedCount int
	UpdatedAt       time.Time
}
