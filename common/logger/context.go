package logger

import "context"

type contextKey string

const logFieldsKey contextKey = "log_fields"

// LogFields contains structured fields automatically added to all logs within a context.
// Fields flow through context enrichment, enabling zero-touch logging where business
// context (tenant_id, conversation_id, etc.) is automatically included in all log statements.
type LogFields struct {
	TenantID       *string
	UserID         *string
	ConversationID *int64
	RunID          *string // correlation id of one orchestration run
	Category       *string // routed intent category for the current turn
	Component      string  // component name (OTel semantic convention style, e.g. "assist.brain.orchestrator")
}

// WithLogFields enriches context with structured log fields.
// Multiple calls merge fields, with newer non-nil/non-empty values taking precedence.
// Context timeouts and cancellation are preserved.
func WithLogFields(ctx context.Context, fields LogFields) context.Context {
	existing := GetLogFields(ctx)
	merged := mergeFields(existing, fields)
	return context.WithValue(ctx, logFieldsKey, merged)
}

// GetLogFields retrieves log fields from context.
// Returns empty LogFields if none are set.
func GetLogFields(ctx context.Context) LogFields {
	if fields, ok := ctx.Value(logFieldsKey).(LogFields); ok {
		return fields
	}
	return LogFields{}
}

// mergeFields merges two LogFields, preferring non-nil/non-empty values from 'new'.
func mergeFields(existing, new LogFields) LogFields {
	result := existing

	if new.TenantID != nil {
		result.TenantID = new.TenantID
	}
	if new.UserID != nil {
		result.UserID = new.UserID
	}
	if new.ConversationID != nil {
		result.ConversationID = new.ConversationID
	}
	if new.RunID != nil {
		result.RunID = new.RunID
	}
	if new.Category != nil {
		result.Category = new.Category
	}
	if new.Component != "" {
		result.Component = new.Component
	}

	return result
}

// Str returns a pointer to s, for LogFields literals.
func Str(s string) *string {
	return &s
}

// I64 returns a pointer to i, for LogFields literals.
func I64(i int64) *int64 {
	return &i
}
