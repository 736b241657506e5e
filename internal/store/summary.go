package store

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v5"

	"propflow.app/assist/internal/model"
)

type summaryStore struct {
	q Querier
}

func (s *summaryStore) GetByCoveredCount(ctx context.Context, conversationID int64, coveredCount int) (*model.ConversationSummary, error) {
	row := s.q.QueryRow(ctx,
		`SELECT id, conversation_id, summary, covered_message_count, created_at
		 FROM conversation_summaries
		 WHERE conversation_id = $1 AND covered_message_count = $2`,
		conversationID, coveredCount)
	return scanSummary(row)
}

func (s *summaryStore) GetLatest(ctx context.Context, conversationID int64) (*model.ConversationSummary, error) {
	row := s.q.QueryRow(ctx,
		`SELECT id, conversation_id, summary, covered_message_count, created_at
		 FROM conversation_summaries
		 WHERE conversation_id = $1
		 ORDER BY covered_message_count DESC
		 LIMIT 1`, conversationID)
	return scanSummary(row)
}

// Upsert stores the new summary and prunes superseded rows. One logical
// "current" summary per conversation.
func (s *summaryStore) Upsert(ctx context.Context, summary *model.ConversationSummary) error {
	row := s.q.QueryRow(ctx,
		`INSERT INTO conversation_summaries (id, conversation_id, summary, covered_message_count)
		 VALUES ($1, $2, $3, $4)
		 RETURNING created_at`,
		summary.ID, summary.ConversationID, summary.Summary, summary.CoveredMessageCount)
	if err := row.Scan(&summary.CreatedAt); err != nil {
		return err
	}

	_, err := s.q.Exec(ctx,
		`DELETE FROM conversation_summaries
		 WHERE conversation_id = $1 AND id != $2`,
		summary.ConversationID, summary.ID)
	return err
}

func scanSummary(row pgx.Row) (*model.ConversationSummary, error) {
	var sum model.ConversationSummary
	if err := row.Scan(&sum.ID, &sum.ConversationID, &sum.Summary, &sum.CoveredMessageCount, &sum.CreatedAt); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return &sum, nil
}
