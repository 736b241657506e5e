package queue

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/redis/go-redis/v9"
)

// UsageMessage is one LLM call's token accounting, produced by the server
// and persisted by the worker.
type UsageMessage struct {
	TenantID         string
	ConversationID   int64
	Model            string
	PromptTokens     int
	CompletionTokens int
	TraceID          *string
	Attempt          int
}

// FoldMessage asks the worker to fold a conversation into its long-term
// memory profile.
type FoldMessage struct {
	TenantID       string
	ConversationID int64
	MessageCount   int
	TraceID        *string
	Attempt        int
}

type Producer interface {
	EnqueueUsage(ctx context.Context, msg UsageMessage) error
	EnqueueFold(ctx context.Context, msg FoldMessage) error
	Close() error
}

type redisProducer struct {
	client      *redis.Client
	usageStream string
	foldStream  string
	logger      *slog.Logger
}

func NewRedisProducer(client *redis.Client, usageStream, foldStream string, logger *slog.Logger) Producer {
	if logger == nil {
		logger = slog.Default()
	}
	return &redisProducer{
		client:      client,
		usageStream: usageStream,
		foldStream:  foldStream,
		logger:      logger,
	}
}

func (p *redisProducer) EnqueueUsage(ctx context.Context, msg UsageMessage) error {
	attempt := msg.Attempt
	if attempt <= 0 {
		attempt = 1
	}

	fields := map[string]any{
		"task_type":         string(TaskTypeUsageRecord),
		"tenant_id":         msg.TenantID,
		"conversation_id":   msg.ConversationID,
		"model":             msg.Model,
		"prompt_tokens":     msg.PromptTokens,
		"completion_tokens": msg.CompletionTokens,
		"attempt":           attempt,
	}
	if msg.TraceID != nil && *msg.TraceID != "" {
		fields["trace_id"] = *msg.TraceID
	}

	if err := p.client.XAdd(ctx, &redis.XAddArgs{
		Stream: p.usageStream,
		Values: fields,
	}).Err(); err != nil {
		return fmt.Errorf("enqueue usage record: %w", err)
	}

	p.logger.DebugContext(ctx, "enqueued usage record",
		"conversation_id", msg.ConversationID,
		"model", msg.Model,
		"prompt_tokens", msg.PromptTokens,
		"completion_tokens", msg.CompletionTokens)
	return nil
}

func (p *redisProducer) EnqueueFold(ctx context.Context, msg FoldMessage) error {
	attempt := msg.Attempt
	if attempt <= 0 {
		attempt = 1
	}

	fields := map[string]any{
		"task_type":       string(TaskTypeMemoryFold),
		"tenant_id":       msg.TenantID,
		"conversation_id": msg.ConversationID,
		"message_count":   msg.MessageCount,
		"attempt":         attempt,
	}
	if msg.TraceID != nil && *msg.TraceID != "" {
		fields["trace_id"] = *msg.TraceID
	}

	if err := p.client.XAdd(ctx, &redis.XAddArgs{
		Stream: p.foldStream,
		Values: fields,
	}).Err(); err != nil {
		return fmt.Errorf("enqueue memory fold: %w", err)
	}

	p.logger.InfoContext(ctx, "enqueued memory fold",
		"conversation_id", msg.ConversationID,
		"message_count", msg.MessageCount,
		"attempt", attempt)
	return nil
}

func (p *redisProducer) Close() error {
	return p.client.Close()
}
