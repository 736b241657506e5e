package store

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v5"

	"propflow.app/assist/internal/model"
)

type escalationStore struct {
	q Querier
}

func (s *escalationStore) GetByID(ctx context.Context, id int64) (*model.Escalation, error) {
	row := s.q.QueryRow(ctx,
		`SELECT id, tenant_id, conversation_id, capability, arguments, status, created_at
		 FROM escalations WHERE id = $1`, id)

	var esc model.Escalation
	var status string
	if err := row.Scan(&esc.ID, &esc.TenantID, &esc.ConversationID, &esc.Capability, &esc.Arguments, &status, &esc.CreatedAt); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	esc.Status = model.EscalationStatus(status)
	return &esc, nil
}

func (s *escalationStore) Create(ctx context.Context, esc *model.Escalation) error {
	if esc.Status == "" {
		esc.Status = model.EscalationPending
	}
	row := s.q.QueryRow(ctx,
		`INSERT INTO escalations (id, tenant_id, conversation_id, capability, arguments, status)
		 VALUES ($1, $2, $3, $4, $5, $6)
		 RETURNING created_at`,
		esc.ID, esc.TenantID, esc.ConversationID, esc.Capability, esc.Arguments, esc.Status)
	return row.Scan(&esc.CreatedAt)
}

func (s *escalationStore) UpdateStatus(ctx context.Context, id int64, status model.EscalationStatus) error {
	tag, err := s.q.Exec(ctx,
		`UPDATE escalations SET status = $2 WHERE id = $1`, id, status)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *escalationStore) ListPending(ctx context.Context, tenantID string) ([]model.Escalation, error) {
	rows, err := s.q.Query(ctx,
		`SELECT id, tenant_id, conversation_id, capability, arguments, status, created_at
		 FROM escalations
		 WHERE tenant_id = $1 AND status = 'pending'
		 ORDER BY created_at`, tenantID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var escs []model.Escalation
	for rows.Next() {
		var esc model.Escalation
		var status string
		if err := rows.Scan(&esc.ID, &esc.TenantID, &esc.ConversationID, &esc.Capability, &esc.Arguments, &status, &esc.CreatedAt); err != nil {
			return nil, err
		}
		esc.Status = model.EscalationStatus(status)
		escs = append(escs, esc)
	}
	return escs, rows.Err()
}
