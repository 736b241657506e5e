package handler_test

import (
	"context"

	"propflow.app/assist/internal/model"
	"propflow.app/assist/internal/store"
)

type mockConversationStore struct {
	getByIDFn    func(ctx context.Context, id int64) (*model.Conversation, error)
	createFn     func(ctx context.Context, conv *model.Conversation) error
	listByUserFn func(ctx context.Context, tenantID, userID string) ([]model.Conversation, error)
}

func (m *mockConversationStore) GetByID(ctx context.Context, id int64) (*model.Conversation, error) {
	if m.getByIDFn != nil {
		return m.getByIDFn(ctx, id)
	}
	return nil, store.ErrNotFound
}

func (m *mockConversationStore) Create(ctx context.Context, conv *model.Conversation) error {
	if m.createFn != nil {
		return m.createFn(ctx, conv)
	}
	return nil
}

func (m *mockConversationStore) ListByUser(ctx context.Context, tenantID, userID string) ([]model.Conversation, error) {
	if m.listByUserFn != nil {
		return m.listByUserFn(ctx, tenantID, userID)
	}
	return nil, nil
}

type mockMessageStore struct {
	appendFn             func(ctx context.Context, msg *model.Message) error
	listByConversationFn func(ctx context.Context, conversationID int64) ([]model.Message, error)
}

func (m *mockMessageStore) Append(ctx context.Context, msg *model.Message) error {
	if m.appendFn != nil {
		return m.appendFn(ctx, msg)
	}
	return nil
}

func (m *mockMessageStore) ListByConversation(ctx context.Context, conversationID int64) ([]model.Message, error) {
	if m.listByConversationFn != nil {
		return m.listByConversationFn(ctx, conversationID)
	}
	return nil, nil
}

func (m *mockMessageStore) ListRecent(ctx context.Context, conversationID int64, limit int) ([]model.Message, error) {
	return nil, nil
}

func (m *mockMessageStore) CountByConversation(ctx context.Context, conversationID int64) (int, error) {
	return 0, nil
}

type mockEscalationStore struct {
	getByIDFn      func(ctx context.Context, id int64) (*model.Escalation, error)
	createFn       func(ctx context.Context, esc *model.Escalation) error
	updateStatusFn func(ctx context.Context, id int64, status model.EscalationStatus) error
	listPendingFn  func(ctx context.Context, tenantID string) ([]model.Escalation, error)
}

func (m *mockEscalationStore) GetByID(ctx context.Context, id int64) (*model.Escalation, error) {
	if m.getByIDFn != nil {
		return m.getByIDFn(ctx, id)
	}
	return nil, store.ErrNotFound
}

func (m *mockEscalationStore) Create(ctx context.Context, esc *model.Escalation) error {
	if m.createFn != nil {
		return m.createFn(ctx, esc)
	}
	return nil
}

func (m *mockEscalationStore) UpdateStatus(ctx context.Context, id int64, status model.EscalationStatus) error {
	if m.updateStatusFn != nil {
		return m.updateStatusFn(ctx, id, status)
	}
	return nil
}

func (m *mockEscalationStore) ListPending(ctx context.Context, tenantID string) ([]model.Escalation, error) {
	if m.listPendingFn != nil {
		return m.listPendingFn(ctx, tenantID)
	}
	return nil, nil
}
