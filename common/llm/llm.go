package llm

import (
	"context"
	"encoding/json"
	"fmt"
	"regexp"

	"github.com/invopop/jsonschema"
)

var nameInvalidChars = regexp.MustCompile(`[^a-zA-Z0-9_-]`)

// Provider constants for LLM provider selection.
const (
	ProviderOpenAI    = "openai"
	ProviderAnthropic = "anthropic"
)

// ReasoningEffort controls the amount of reasoning for supported models.
type ReasoningEffort string

const (
	ReasoningEffortLow    ReasoningEffort = "low"
	ReasoningEffortMedium ReasoningEffort = "medium"
	ReasoningEffortHigh   ReasoningEffort = "high"
)

// Config holds LLM client configuration.
type Config struct {
	Provider        string          // "openai" or "anthropic"
	APIKey          string          // Required: API key for the provider
	BaseURL         string          // Optional: custom API endpoint
	Model           string          // Model name (e.g., "gpt-4o", "claude-sonnet-4-5-20250514")
	ReasoningEffort ReasoningEffort // Optional: for models that support reasoning
}

// AgentClient supports tool-calling conversations for agent loops. Tokens
// and tool-call argument fragments are delivered incrementally over the
// returned channel.
type AgentClient interface {
	StreamWithTools(ctx context.Context, req AgentRequest) (<-chan StreamEvent, error)
	Model() string
}

// AgentRequest contains the messages and tools for an agent turn.
type AgentRequest struct {
	Messages    []Message
	Tools       []Tool
	MaxTokens   int
	Temperature *float64
}

// Message represents a conversation message.
type Message struct {
	Role       string     // "system", "user", "assistant", "tool"
	Name       string     // Optional: participant name for multi-user conversations (user messages only)
	Content    string     // Text content
	ToolCalls  []ToolCall // For assistant messages that request tool calls
	ToolCallID string     // For tool result messages (references the tool call)
}

// Tool defines a function the LLM can call.
type Tool struct {
	Name        string
	Description string
	Parameters  any // JSON Schema for parameters
}

// ToolCall represents a tool invocation requested by the LLM.
type ToolCall struct {
	ID        string // Unique ID for this call
	Name      string // Tool name
	Arguments string // JSON-encoded arguments
}

// StreamEventKind discriminates streaming events.
type StreamEventKind string

const (
	StreamText     StreamEventKind = "text"      // incremental text delta
	StreamToolCall StreamEventKind = "tool_call" // incremental tool-call fragment
	StreamDone     StreamEventKind = "done"      // terminal: stream finished cleanly
	StreamError    StreamEventKind = "error"     // terminal: stream failed
)

// StreamEvent is one unit of a streaming completion. Events arrive in
// generation order; exactly one terminal event (done or error) closes the
// stream. Usage is only populated on the terminal done event.
type StreamEvent struct {
	Kind         StreamEventKind
	TextDelta    string
	ToolCall     *ToolCallDelta
	FinishReason string
	Usage        *Usage
	Err          error
}

// ToolCallDelta is an incremental fragment of a tool invocation. The model
// may interleave fragments for several calls; Index identifies which
// in-progress call a fragment belongs to. ID and Name are only set on the
// first fragment for an index.
type ToolCallDelta struct {
	Index          int
	ID             string
	Name           string
	ArgumentsDelta string
}

// Usage reports token consumption for one completion pass.
type Usage struct {
	PromptTokens     int
	CompletionTokens int
}

// NewAgentClient creates an AgentClient for tool-calling conversations.
// It selects the appropriate provider based on cfg.Provider ("openai" or "anthropic").
// Defaults to OpenAI if no provider is specified.
func NewAgentClient(cfg Config) (AgentClient, error) {
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("API key is required")
	}

	provider := cfg.Provider
	if provider == "" {
		provider = ProviderOpenAI
	}

	switch provider {
	case ProviderAnthropic:
		return newAnthropicClient(cfg)
	case ProviderOpenAI:
		return newOpenAIClient(cfg)
	default:
		return nil, fmt.Errorf("unsupported LLM provider: %s", provider)
	}
}

// ParseToolArguments unmarshals tool arguments into the target struct.
func ParseToolArguments[T any](arguments string) (T, error) {
	var result T
	if err := json.Unmarshal([]byte(arguments), &result); err != nil {
		return result, fmt.Errorf("parse tool arguments: %w", err)
	}
	return result, nil
}

// GenerateSchemaFrom generates a JSON schema from an instance value.
// Useful when the type is not known at compile time.
func GenerateSchemaFrom(v any) any {
	reflector := jsonschema.Reflector{
		AllowAdditionalProperties: false,
		DoNotReference:            true,
	}
	return reflector.Reflect(v)
}

// SanitizeName converts a username to a valid OpenAI name parameter.
// The name must match ^[a-zA-Z0-9_-]{1,64}$.
// Invalid characters are replaced with underscores, and the result is truncated to 64 characters.
func SanitizeName(username string) string {
	sanitized := nameInvalidChars.ReplaceAllString(username, "_")
	if len(sanitized) > 64 {
		sanitized = sanitized[:64]
	}
	return sanitized
}
