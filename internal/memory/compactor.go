package memory

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"propflow.app/assist/common/id"
	"propflow.app/assist/common/llm"
	"propflow.app/assist/common/logger"
	"propflow.app/assist/core/config"
	"propflow.app/assist/internal/model"
	"propflow.app/assist/internal/store"
)

type summaryResponse struct {
	Summary string `json:"summary" jsonschema:"required,description=Condensed summary of the conversation so far"`
}

var summarySchema = llm.GenerateSchema[summaryResponse]()

const summarizerSystemPrompt = `You maintain a rolling summary of a CRM assistant conversation.

Condense the given turns into a compact summary that preserves:
- names, IDs and contact details of leads, contacts and properties mentioned
- decisions made and actions taken (emails sent, viewings scheduled, status changes)
- open items and unanswered questions

Drop greetings, filler and repetition. Write plain prose, at most 300 words.
If an earlier summary is given, fold the new turns into it rather than
starting over.`

// BoundedContext is what the orchestrator hands to the model: an optional
// long-term profile, an optional summary of the archived region, and the
// recent turns verbatim.
type BoundedContext struct {
	Profile string
	Summary string
	Recent  []model.Message
}

// Compactor assembles bounded conversation context. Below the threshold the
// full history passes through untouched; above it, everything older than
// the recent window is replaced by a cached or freshly generated summary.
type Compactor struct {
	messages  store.MessageStore
	summaries store.SummaryStore
	profiles  store.ProfileStore
	llm       llm.Client
	cfg       config.AssistantConfig
}

func NewCompactor(messages store.MessageStore, summaries store.SummaryStore, profiles store.ProfileStore, client llm.Client, cfg config.AssistantConfig) *Compactor {
	return &Compactor{
		messages:  messages,
		summaries: summaries,
		profiles:  profiles,
		llm:       client,
		cfg:       cfg,
	}
}

// GetBoundedContext returns the context for one turn. Summarization failures
// degrade to the recent window alone: a turn is never lost to the compactor.
func (c *Compactor) GetBoundedContext(ctx context.Context, conversationID int64) (BoundedContext, error) {
	ctx = logger.WithLogFields(ctx, logger.LogFields{
		Component: "assist.memory.compactor",
	})

	count, err := c.messages.CountByConversation(ctx, conversationID)
	if err != nil {
		return BoundedContext{}, fmt.Errorf("count messages: %w", err)
	}

	result := BoundedContext{}
	if profile, err := c.profiles.Get(ctx, conversationID); err == nil {
		result.Profile = profile.Profile
	} else if !errors.Is(err, store.ErrNotFound) {
		slog.WarnContext(ctx, "loading memory profile failed", "error", err)
	}

	if count <= c.cfg.SummarizationThreshold {
		all, err := c.messages.ListByConversation(ctx, conversationID)
		if err != nil {
			return BoundedContext{}, fmt.Errorf("list messages: %w", err)
		}
		result.Recent = all
		return result, nil
	}

	archivedLen := count - c.cfg.RecentWindow
	recent, err := c.messages.ListRecent(ctx, conversationID, c.cfg.RecentWindow)
	if err != nil {
		return BoundedContext{}, fmt.Errorf("list recent messages: %w", err)
	}
	result.Recent = recent

	summary, err := c.summaryFor(ctx, conversationID, archivedLen)
	if err != nil {
		// Degraded mode: recent window only.
		slog.WarnContext(ctx, "summarization failed, serving recent window only",
			"conversation_id", conversationID,
			"archived_len", archivedLen,
			"error", err)
		return result, nil
	}
	result.Summary = summary
	return result, nil
}

// summaryFor returns the summary covering exactly archivedLen messages,
// generating and caching it on miss.
func (c *Compactor) summaryFor(ctx context.Context, conversationID int64, archivedLen int) (string, error) {
	cached, err := c.summaries.GetByCoveredCount(ctx, conversationID, archivedLen)
	if err == nil {
		slog.DebugContext(ctx, "summary cache hit",
			"conversation_id", conversationID,
			"covered", archivedLen)
		return cached.Summary, nil
	}
	if !errors.Is(err, store.ErrNotFound) {
		return "", fmt.Errorf("summary lookup: %w", err)
	}

	if c.llm == nil {
		return "", fmt.Errorf("no summarizer configured")
	}

	// Incremental: start from the latest summary (whatever boundary it
	// covered) and fold in only the turns it hasn't seen.
	baseSummary := ""
	baseCovered := 0
	if latest, err := c.summaries.GetLatest(ctx, conversationID); err == nil {
		baseSummary = latest.Summary
		baseCovered = latest.CoveredMessageCount
	} else if !errors.Is(err, store.ErrNotFound) {
		return "", fmt.Errorf("latest summary lookup: %w", err)
	}

	all, err := c.messages.ListByConversation(ctx, conversationID)
	if err != nil {
		return "", fmt.Errorf("list messages for summary: %w", err)
	}
	if archivedLen > len(all) {
		archivedLen = len(all)
	}
	if baseCovered > archivedLen {
		// The cached boundary is ahead of ours (window config changed);
		// rebuild from scratch rather than un-summarize.
		baseSummary = ""
		baseCovered = 0
	}
	delta := all[baseCovered:archivedLen]

	start := time.Now()
	var response summaryResponse
	usage, err := chatWithRetry(ctx, c.llm, llm.Request{
		SystemPrompt: summarizerSystemPrompt,
		UserPrompt:   buildSummaryPrompt(baseSummary, delta),
		SchemaName:   "summary_response",
		Schema:       summarySchema,
		MaxTokens:    600,
		Temperature:  llm.Temp(0.2),
	}, &response)
	if err != nil {
		return "", fmt.Errorf("summarize: %w", err)
	}
	if strings.TrimSpace(response.Summary) == "" {
		return "", fmt.Errorf("summarizer returned empty summary")
	}

	summary := &model.ConversationSummary{
		ID:                  id.New(),
		ConversationID:      conversationID,
		Summary:             response.Summary,
		CoveredMessageCount: archivedLen,
	}
	if err := c.summaries.Upsert(ctx, summary); err != nil {
		// The summary is still usable this turn even if caching failed.
		slog.WarnContext(ctx, "caching summary failed", "error", err)
	}

	slog.InfoContext(ctx, "conversation summarized",
		"conversation_id", conversationID,
		"covered", archivedLen,
		"delta_messages", len(delta),
		"prompt_tokens", usage.PromptTokens,
		"completion_tokens", usage.CompletionTokens,
		"duration_ms", time.Since(start).Milliseconds())

	return response.Summary, nil
}

func buildSummaryPrompt(baseSummary string, delta []model.Message) string {
	var b strings.Builder
	if baseSummary != "" {
		b.WriteString("Earlier summary:\n")
		b.WriteString(baseSummary)
		b.WriteString("\n\nNew turns to fold in:\n")
	} else {
		b.WriteString("Turns to summarize:\n")
	}
	for _, msg := range delta {
		fmt.Fprintf(&b, "[%s] %s\n", msg.Role, msg.Content)
	}
	return b.String()
}
