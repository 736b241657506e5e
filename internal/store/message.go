package store

import (
	"context"
	"encoding/json"

	"propflow.app/assist/internal/model"
)

type messageStore struct {
	q Querier
}

func (s *messageStore) Append(ctx context.Context, msg *model.Message) error {
	attachments := msg.Attachments
	if attachments == nil {
		attachments = []model.AttachmentRef{}
	}
	data, err := json.Marshal(attachments)
	if err != nil {
		return err
	}

	row := s.q.QueryRow(ctx,
		`INSERT INTO messages (id, conversation_id, tenant_id, role, content, attachments)
		 VALUES ($1, $2, $3, $4, $5, $6)
		 RETURNING created_at`,
		msg.ID, msg.ConversationID, msg.TenantID, msg.Role, msg.Content, data)
	return row.Scan(&msg.CreatedAt)
}

func (s *messageStore) ListByConversation(ctx context.Context, conversationID int64) ([]model.Message, error) {
	rows, err := s.q.Query(ctx,
		`SELECT id, conversation_id, tenant_id, role, content, attachments, created_at
		 FROM messages
		 WHERE conversation_id = $1
		 ORDER BY id`, conversationID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanMessages(rows)
}

// ListRecent returns the newest limit messages in chronological order.
func (s *messageStore) ListRecent(ctx context.Context, conversationID int64, limit int) ([]model.Message, error) {
	rows, err := s.q.Query(ctx,
		`SELECT id, conversation_id, tenant_id, role, content, attachments, created_at
		 FROM (
		     SELECT id, conversation_id, tenant_id, role, content, attachments, created_at
		     FROM messages
		     WHERE conversation_id = $1
		     ORDER BY id DESC
		     LIMIT $2
		 ) recent
		 ORDER BY id`, conversationID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanMessages(rows)
}

func (s *messageStore) CountByConversation(ctx context.Context, conversationID int64) (int, error) {
	var count int
	err := s.q.QueryRow(ctx,
		`SELECT COUNT(*) FROM messages WHERE conversation_id = $1`, conversationID).Scan(&count)
	return count, err
}

func scanMessages(rows interface {
	Next() bool
	Scan(dest ...any) error
	Err() error
}) ([]model.Message, error) {
	var msgs []model.Message
	for rows.Next() {
		var msg model.Message
		var attachments []byte
		if err := rows.Scan(&msg.ID, &msg.ConversationID, &msg.TenantID, &msg.Role, &msg.Content, &attachments, &msg.CreatedAt); err != nil {
			return nil, err
		}
		if len(attachments) > 0 {
			if err := json.Unmarshal(attachments, &msg.Attachments); err != nil {
				return nil, err
			}
		}
		msgs = append(msgs, msg)
	}
	return msgs, rows.Err()
}
