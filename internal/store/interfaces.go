package store

import (
	"context"
	"errors"

	"propflow.app/assist/internal/model"
)

// ErrNotFound is returned when a requested entity does not exist
var ErrNotFound = errors.New("not found")

// ConversationStore defines the contract for conversation data access
type ConversationStore interface {
	GetByID(ctx context.Context, id int64) (*model.Conversation, error)
	Create(ctx context.Context, conv *model.Conversation) error
	ListByUser(ctx context.Context, tenantID, userID string) ([]model.Conversation, error)
}

// MessageStore defines the contract for the append-only message log
type MessageStore interface {
	Append(ctx context.Context, msg *model.Message) error
	ListByConversation(ctx context.Context, conversationID int64) ([]model.Message, error)
	ListRecent(ctx context.Context, conversationID int64, limit int) ([]model.Message, error)
	CountByConversation(ctx context.Context, conversationID int64) (int, error)
}

// SummaryStore defines the contract for cached conversation summaries
type SummaryStore interface {
	// GetByCoveredCount returns the summary covering exactly coveredCount
	// archived messages, or ErrNotFound.
	GetByCoveredCount(ctx context.Context, conversationID int64, coveredCount int) (*model.ConversationSummary, error)
	GetLatest(ctx context.Context, conversationID int64) (*model.ConversationSummary, error)
	// Upsert stores a new summary and prunes superseded rows for the conversation.
	Upsert(ctx context.Context, summary *model.ConversationSummary) error
}

// ProfileStore defines the contract for long-term memory profiles
type ProfileStore interface {
	Get(ctx context.Context, conversationID int64) (*model.MemoryProfile, error)
	Save(ctx context.Context, profile *model.MemoryProfile) error
}

// EscalationStore defines the contract for human-confirmation gates
type EscalationStore interface {
	GetByID(ctx context.Context, id int64) (*model.Escalation, error)
	Create(ctx context.Context, esc *model.Escalation) error
	UpdateStatus(ctx context.Context, id int64, status model.EscalationStatus) error
	ListPending(ctx context.Context, tenantID string) ([]model.Escalation, error)
}

// UsageStore defines the contract for token usage accounting rows
type UsageStore interface {
	Create(ctx context.Context, rec *model.UsageRecord) error
}
