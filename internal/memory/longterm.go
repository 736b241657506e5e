package memory

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"propflow.app/assist/common/llm"
	"propflow.app/assist/common/logger"
	"propflow.app/assist/core/config"
	"propflow.app/assist/internal/model"
	"propflow.app/assist/internal/queue"
	"propflow.app/assist/internal/store"
)

type profileResponse struct {
	Profile string `json:"profile" jsonschema:"required,description=Updated long-term memory profile"`
}

var profileSchema = llm.GenerateSchema[profileResponse]()

const folderSystemPrompt = `You maintain the long-term memory profile of a CRM assistant conversation.

The profile captures what stays true across sessions:
- the user's preferences and working style
- leads, contacts and properties they care about, with IDs where known
- standing instructions ("always cc the office", "viewings only after 5pm")

Fold the new turns into the existing profile. Keep it under 200 words,
plain prose. Drop anything transient or already resolved.`

// FoldScheduler decides, after each persisted turn, whether a long-term
// fold is due and enqueues it for the worker. Runs on the serving path, so
// it only ever reads one row and writes one stream entry.
type FoldScheduler struct {
	profiles store.ProfileStore
	producer queue.Producer
	cfg      config.AssistantConfig
}

func NewFoldScheduler(profiles store.ProfileStore, producer queue.Producer, cfg config.AssistantConfig) *FoldScheduler {
	return &FoldScheduler{profiles: profiles, producer: producer, cfg: cfg}
}

// MaybeSchedule enqueues a fold when enough new messages accumulated since
// the last one. Failures are logged and swallowed: folding is maintenance,
// never worth failing a turn over.
func (s *FoldScheduler) MaybeSchedule(ctx context.Context, tenantID string, conversationID int64, messageCount int) {
	ctx = logger.WithLogFields(ctx, logger.LogFields{
		Component: "assist.memory.fold_scheduler",
	})

	lastFolded := 0
	if profile, err := s.profiles.Get(ctx, conversationID); err == nil {
		lastFolded = profile.LastFoldedCount
	} else if !errors.Is(err, store.ErrNotFound) {
		slog.WarnContext(ctx, "profile lookup for fold scheduling failed", "error", err)
		return
	}

	if messageCount-lastFolded < s.cfg.LongTermFoldInterval {
		return
	}

	err := s.producer.EnqueueFold(ctx, queue.FoldMessage{
		TenantID:       tenantID,
		ConversationID: conversationID,
		MessageCount:   messageCount,
		TraceID:        logger.TraceID(ctx),
	})
	if err != nil {
		slog.WarnContext(ctx, "enqueueing memory fold failed",
			"conversation_id", conversationID,
			"error", err)
	}
}

// Folder performs the fold on the worker: it reads the unfolded block,
// merges it into the profile and advances the fold watermark.
type Folder struct {
	messages store.MessageStore
	profiles store.ProfileStore
	llm      llm.Client
}

func NewFolder(messages store.MessageStore, profiles store.ProfileStore, client llm.Client) *Folder {
	return &Folder{messages: messages, profiles: profiles, llm: client}
}

func (f *Folder) Fold(ctx context.Context, conversationID int64, messageCount int) error {
	ctx = logger.WithLogFields(ctx, logger.LogFields{
		Component: "assist.memory.folder",
	})

	existing := ""
	lastFolded := 0
	if profile, err := f.profiles.Get(ctx, conversationID); err == nil {
		existing = profile.Profile
		lastFolded = profile.LastFoldedCount
	} else if !errors.Is(err, store.ErrNotFound) {
		return fmt.Errorf("profile lookup: %w", err)
	}

	if lastFolded >= messageCount {
		// A newer fold already ran; this task is stale.
		slog.InfoContext(ctx, "skipping stale fold",
			"conversation_id", conversationID,
			"last_folded", lastFolded,
			"requested", messageCount)
		return nil
	}

	all, err := f.messages.ListByConversation(ctx, conversationID)
	if err != nil {
		return fmt.Errorf("list messages for fold: %w", err)
	}
	if messageCount > len(all) {
		messageCount = len(all)
	}
	delta := all[lastFolded:messageCount]
	if len(delta) == 0 {
		return nil
	}

	start := time.Now()
	var response profileResponse
	usage, err := chatWithRetry(ctx, f.llm, llm.Request{
		SystemPrompt: folderSystemPrompt,
		UserPrompt:   buildFoldPrompt(existing, delta),
		SchemaName:   "profile_response",
		Schema:       profileSchema,
		MaxTokens:    400,
		Temperature:  llm.Temp(0.2),
	}, &response)
	if err != nil {
		return fmt.Errorf("fold profile: %w", err)
	}
	if strings.TrimSpace(response.Profile) == "" {
		return fmt.Errorf("folder returned empty profile")
	}

	if err := f.profiles.Save(ctx, &model.MemoryProfile{
		ConversationID:  conversationID,
		Profile:         response.Profile,
		LastFoldedCount: messageCount,
	}); err != nil {
		return fmt.Errorf("save profile: %w", err)
	}

	slog.InfoContext(ctx, "memory profile folded",
		"conversation_id", conversationID,
		"folded_messages", len(delta),
		"last_folded", messageCount,
		"prompt_tokens", usage.PromptTokens,
		"completion_tokens", usage.CompletionTokens,
		"duration_ms", time.Since(start).Milliseconds())
	return nil
}

func buildFoldPrompt(existing string, delta []model.Message) string {
	var b strings.Builder
	if existing != "" {
		b.WriteString("Current profile:\n")
		b.WriteString(existing)
		b.WriteString("\n\nNew turns:\n")
	} else {
		b.WriteString("Turns to build the profile from:\n")
	}
	for _, msg := range delta {
		fmt.Fprintf(&b, "[%s] %s\n", msg.Role, msg.Content)
	}
	return b.String()
}
