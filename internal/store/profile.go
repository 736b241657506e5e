package store

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v5"

	"propflow.app/assist/internal/model"
)

type profileStore struct {
	q Querier
}

func (s *profileStore) Get(ctx context.Context, conversationID int64) (*model.MemoryProfile, error) {
	row := s.q.QueryRow(ctx,
		`SELECT conversation_id, profile, last_folded_count, updated_at
		 FROM memory_profiles WHERE conversation_id = $1`, conversationID)

	var p model.MemoryProfile
	if err := row.Scan(&p.ConversationID, &p.Profile, &p.LastFoldedCount, &p.UpdatedAt); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return &p, nil
}

func (s *profileStore) Save(ctx context.Context, profile *model.MemoryProfile) error {
	row := s.q.QueryRow(ctx,
		`INSERT INTO memory_profiles (conversation_id, profile, last_folded_count, updated_at)
		 VALUES ($1, $2, $3, now())
		 ON CONFLICT (conversation_id)
		 DO UPDATE SET profile = $2, last_folded_count = $3, updated_at = now()
		 RETURNING updated_at`,
		profile.ConversationID, profile.Profile, profile.LastFoldedCount)
	return row.Scan(&profile.UpdatedAt)
}
