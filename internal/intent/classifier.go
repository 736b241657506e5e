package intent

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"propflow.app/assist/common/llm"
	"propflow.app/assist/common/logger"
	"propflow.app/assist/internal/model"
)

type classificationResponse struct {
	Category string `json:"category" jsonschema:"enum=smalltalk,enum=leads,enum=properties,enum=email,enum=calendar,enum=documents,enum=contacts,enum=multi" jsonschema_description:"The single category this message belongs to"`
}

var classificationSchema = llm.GenerateSchema[classificationResponse]()

const classifierSystemPrompt = `You classify one CRM assistant message into exactly one category.

Categories:
- smalltalk: greetings, thanks, chit-chat, anything needing no backend action
- leads: creating, updating, finding or qualifying leads
- properties: searching or managing property listings
- email: drafting, replying to or sending emails
- calendar: viewings, appointments, scheduling
- documents: attachments, files, contracts, uploads
- contacts: contact records, phone numbers, addresses, owners
- multi: spans several categories, or genuinely unclear

Short confirmations like "yes, do that" continue the previous topic; use the
prior turns to resolve them. Answer with the category only.`

// Classifier maps one user turn to a Category. Rule pass first (free,
// deterministic), one cheap structured completion on ambiguous input.
type Classifier struct {
	llm llm.Client
	cfg RulesConfig
}

func NewClassifier(client llm.Client, cfg RulesConfig) *Classifier {
	return &Classifier{llm: client, cfg: cfg}
}

// Classify never fails: every internal error resolves to CategoryMulti so a
// classification hiccup can cost tokens but never the turn.
func (c *Classifier) Classify(ctx context.Context, message string, priorTurns []model.Message) Category {
	ctx = logger.WithLogFields(ctx, logger.LogFields{
		Component: "assist.intent.classifier",
	})

	if category, ok := classifyByRules(message, c.cfg); ok {
		slog.DebugContext(ctx, "classified by rule",
			"category", string(category),
			"message", logger.Truncate(message, 80))
		return category
	}

	if c.llm == nil {
		return CategoryMulti
	}

	var response classificationResponse
	_, err := c.llm.Chat(ctx, llm.Request{
		SystemPrompt: classifierSystemPrompt,
		UserPrompt:   c.buildPrompt(message, priorTurns),
		SchemaName:   "classification_response",
		Schema:       classificationSchema,
		MaxTokens:    64,
		Temperature:  llm.Temp(0), // classification must be stable
	}, &response)
	if err != nil {
		slog.WarnContext(ctx, "classifier fallback failed, defaulting to multi", "error", err)
		return CategoryMulti
	}

	category := Parse(response.Category)
	slog.DebugContext(ctx, "classified by llm",
		"category", string(category),
		"raw", response.Category)
	return category
}

// buildPrompt includes up to the last 2 turns so "yes, do that" style
// continuations resolve against what was just discussed.
func (c *Classifier) buildPrompt(message string, priorTurns []model.Message) string {
	var b strings.Builder

	if len(priorTurns) > 2 {
		priorTurns = priorTurns[len(priorTurns)-2:]
	}
	for _, turn := range priorTurns {
		fmt.Fprintf(&b, "[%s] %s\n", turn.Role, logger.Truncate(turn.Content, 300))
	}

	fmt.Fprintf(&b, "\nClassify this message: %s", message)
	return b.String()
}
