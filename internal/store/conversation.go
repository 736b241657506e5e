package store

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v5"

	"propflow.app/assist/internal/model"
)

type conversationStore struct {
	q Querier
}

func (s *conversationStore) GetByID(ctx context.Context, id int64) (*model.Conversation, error) {
	row := s.q.QueryRow(ctx,
		`SELECT id, tenant_id, user_id, title, slug, created_at
		 FROM conversations WHERE id = $1`, id)

	var conv model.Conversation
	if err := row.Scan(&conv.ID, &conv.TenantID, &conv.UserID, &conv.Title, &conv.Slug, &conv.CreatedAt); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return &conv, nil
}

func (s *conversationStore) Create(ctx context.Context, conv *model.Conversation) error {
	row := s.q.QueryRow(ctx,
		`INSERT INTO conversations (id, tenant_id, user_id, title, slug)
		 VALUES ($1, $2, $3, $4, $5)
		 RETURNING created_at`,
		conv.ID, conv.TenantID, conv.UserID, conv.Title, conv.Slug)
	return row.Scan(&conv.CreatedAt)
}

func (s *conversationStore) ListByUser(ctx context.Context, tenantID, userID string) ([]model.Conversation, error) {
	rows, err := s.q.Query(ctx,
		`SELECT id, tenant_id, user_id, title, slug, created_at
		 FROM conversations
		 WHERE tenant_id = $1 AND user_id = $2
		 ORDER BY created_at DESC`, tenantID, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var convs []model.Conversation
	for rows.Next() {
		var conv model.Conversation
		if err := rows.Scan(&conv.ID, &conv.TenantID, &conv.UserID, &conv.Title, &conv.Slug, &conv.CreatedAt); err != nil {
			return nil, err
		}
		convs = append(convs, conv)
	}
	return convs, rows.Err()
}
