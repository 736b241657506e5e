package store

import (
	"context"

	"propflow.app/assist/internal/model"
)

type usageStore struct {
	q Querier
}

func (s *usageStore) Create(ctx context.Context, rec *model.UsageRecord) error {
	row := s.q.QueryRow(ctx,
		`INSERT INTO usage_records (id, tenant_id, conversation_id, model, prompt_tokens, completion_tokens)
		 VALUES ($1, $2, $3, $4, $5, $6)
		 RETURNING created_at`,
		rec.ID, rec.TenantID, rec.ConversationID, rec.Model, rec.PromptTokens, rec.CompletionTokens)
	return row.Scan(&rec.CreatedAt)
}
