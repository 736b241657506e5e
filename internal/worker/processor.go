package worker

import (
	"context"
	"fmt"
	"log/slog"

	"propflow.app/assist/common/id"
	"propflow.app/assist/common/logger"
	"propflow.app/assist/internal/memory"
	"propflow.app/assist/internal/model"
	"propflow.app/assist/internal/queue"
	"propflow.app/assist/internal/store"
)

// TaskProcessor dispatches queue messages to their handlers: usage records
// go straight to Postgres, fold tasks run the long-term memory folder.
type TaskProcessor struct {
	usage  store.UsageStore
	folder *memory.Folder
}

func NewTaskProcessor(usage store.UsageStore, folder *memory.Folder) *TaskProcessor {
	return &TaskProcessor{usage: usage, folder: folder}
}

func (p *TaskProcessor) Process(ctx context.Context, msg queue.Message) error {
	ctx = logger.WithLogFields(ctx, logger.LogFields{
		TenantID:       logger.Str(msg.TenantID),
		ConversationID: logger.I64(msg.ConversationID),
		Component:      "assist.worker.processor",
	})

	switch msg.TaskType {
	case queue.TaskTypeUsageRecord:
		return p.processUsage(ctx, msg)
	case queue.TaskTypeMemoryFold:
		return p.folder.Fold(ctx, msg.ConversationID, msg.MessageCount)
	default:
		return fmt.Errorf("unknown task type %q", msg.TaskType)
	}
}

func (p *TaskProcessor) processUsage(ctx context.Context, msg queue.Message) error {
	record := &model.UsageRecord{
		ID:               id.New(),
		TenantID:         msg.TenantID,
		ConversationID:   msg.ConversationID,
		Model:            msg.Model,
		PromptTokens:     msg.PromptTokens,
		CompletionTokens: msg.CompletionTokens,
	}
	if err := p.usage.Create(ctx, record); err != nil {
		return fmt.Errorf("persist usage record: %w", err)
	}

	slog.DebugContext(ctx, "usage record persisted",
		"model", msg.Model,
		"prompt_tokens", msg.PromptTokens,
		"completion_tokens", msg.CompletionTokens)
	return nil
}
