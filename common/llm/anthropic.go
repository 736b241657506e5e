package llm

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
)

type anthropicClient struct {
	client anthropic.Client
	model  string
}

// newAnthropicClient creates an AgentClient using the Anthropic API.
func newAnthropicClient(cfg Config) (AgentClient, error) {
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("API key is required")
	}

	opts := []option.RequestOption{
		option.WithAPIKey(cfg.APIKey),
	}
	if cfg.BaseURL != "" {
		opts = append(opts, option.WithBaseURL(cfg.BaseURL))
	}

	model := cfg.Model
	if model == "" {
		model = "claude-sonnet-4-5-20250514"
	}

	return &anthropicClient{
		client: anthropic.NewClient(opts...),
		model:  model,
	}, nil
}

// StreamWithTools streams a completion, translating Anthropic's block-based
// events into the provider-agnostic StreamEvent shape. Tool-use blocks map
// onto indexed tool-call deltas: the block-start carries ID and name, the
// input_json deltas carry argument fragments.
func (c *anthropicClient) StreamWithTools(ctx context.Context, req AgentRequest) (<-chan StreamEvent, error) {
	params := c.buildParams(req)

	stream := c.client.Messages.NewStreaming(ctx, params)
	events := make(chan StreamEvent)

	go func() {
		defer close(events)
		start := time.Now()

		acc := anthropic.Message{}

		for stream.Next() {
			event := stream.Current()
			if err := acc.Accumulate(event); err != nil {
				send(ctx, events, StreamEvent{Kind: StreamError, Err: fmt.Errorf("anthropic accumulate: %w", err)})
				return
			}

			switch ev := event.AsAny().(type) {
			case anthropic.ContentBlockStartEvent:
				if ev.ContentBlock.Type == "tool_use" {
					delta := &ToolCallDelta{
						Index: int(ev.Index),
						ID:    ev.ContentBlock.ID,
						Name:  ev.ContentBlock.Name,
					}
					if !send(ctx, events, StreamEvent{Kind: StreamToolCall, ToolCall: delta}) {
						return
					}
				}

			case anthropic.ContentBlockDeltaEvent:
				switch d := ev.Delta.AsAny().(type) {
				case anthropic.TextDelta:
					if !send(ctx, events, StreamEvent{Kind: StreamText, TextDelta: d.Text}) {
						return
					}
				case anthropic.InputJSONDelta:
					delta := &ToolCallDelta{
						Index:          int(ev.Index),
						ArgumentsDelta: d.PartialJSON,
					}
					if !send(ctx, events, StreamEvent{Kind: StreamToolCall, ToolCall: delta}) {
						return
					}
				}
			}
		}

		if err := stream.Err(); err != nil {
			send(ctx, events, StreamEvent{Kind: StreamError, Err: fmt.Errorf("anthropic stream: %w", err)})
			return
		}

		slog.DebugContext(ctx, "agent stream completed",
			"model", c.model,
			"duration_ms", time.Since(start).Milliseconds(),
			"input_tokens", acc.Usage.InputTokens,
			"output_tokens", acc.Usage.OutputTokens,
			"stop_reason", acc.StopReason)

		send(ctx, events, StreamEvent{
			Kind:         StreamDone,
			FinishReason: c.mapStopReason(acc.StopReason),
			Usage: &Usage{
				PromptTokens:     int(acc.Usage.InputTokens),
				CompletionTokens: int(acc.Usage.OutputTokens),
			},
		})
	}()

	return events, nil
}

func (c *anthropicClient) Model() string {
	return c.model
}

func (c *anthropicClient) buildParams(req AgentRequest) anthropic.MessageNewParams {
	maxTokens := req.MaxTokens
	if maxTokens == 0 {
		maxTokens = 8192
	}

	// Extract system message and convert remaining messages
	systemContent, messages := c.convertMessages(req.Messages)
	tools := c.convertTools(req.Tools)

	params := anthropic.MessageNewParams{
		Model:     anthropic.Model(c.model),
		MaxTokens: int64(maxTokens),
		Messages:  messages,
	}

	if len(systemContent) > 0 {
		params.System = systemContent
	}

	if len(tools) > 0 {
		params.Tools = tools
	}

	if req.Temperature != nil {
		params.Temperature = anthropic.Float(*req.Temperature)
	}

	return params
}

// convertMessages extracts system content and converts messages to Anthropic format.
// Anthropic requires system messages to be passed separately, not in the messages array.
func (c *anthropicClient) convertMessages(msgs []Message) ([]anthropic.TextBlockParam, []anthropic.MessageParam) {
	var systemContent []anthropic.TextBlockParam
	messages := make([]anthropic.MessageParam, 0, len(msgs))

	for _, msg := range msgs {
		switch msg.Role {
		case "system":
			systemContent = append(systemContent, anthropic.TextBlockParam{
				Type: "text",
				Text: msg.Content,
			})

		case "user":
			content := []anthropic.ContentBlockParamUnion{
				anthropic.NewTextBlock(msg.Content),
			}
			messages = append(messages, anthropic.MessageParam{
				Role:    anthropic.MessageParamRoleUser,
				Content: content,
			})

		case "assistant":
			var content []anthropic.ContentBlockParamUnion

			// Add text content if present
			if msg.Content != "" {
				content = append(content, anthropic.NewTextBlock(msg.Content))
			}

			// Add tool use blocks for any tool calls
			for _, tc := range msg.ToolCalls {
				content = append(content, anthropic.ContentBlockParamUnion{
					OfToolUse: &anthropic.ToolUseBlockParam{
						Type:  "tool_use",
						ID:    tc.ID,
						Name:  tc.Name,
						Input: []byte(tc.Arguments),
					},
				})
			}

			messages = append(messages, anthropic.MessageParam{
				Role:    anthropic.MessageParamRoleAssistant,
				Content: content,
			})

		case "tool":
			// Tool results in Anthropic are user messages with tool_result content blocks
			content := []anthropic.ContentBlockParamUnion{
				anthropic.NewToolResultBlock(msg.ToolCallID, msg.Content, false),
			}
			messages = append(messages, anthropic.MessageParam{
				Role:    anthropic.MessageParamRoleUser,
				Content: content,
			})
		}
	}

	return systemContent, messages
}

func (c *anthropicClient) convertTools(tools []Tool) []anthropic.ToolUnionParam {
	result := make([]anthropic.ToolUnionParam, len(tools))

	for i, t := range tools {
		// Convert parameters to InputSchema
		inputSchema := anthropic.ToolInputSchemaParam{
			Type: "object",
		}

		if t.Parameters != nil {
			inputSchema.Properties = t.Parameters
		}

		result[i] = anthropic.ToolUnionParam{
			OfTool: &anthropic.ToolParam{
				Name:        t.Name,
				Description: anthropic.String(t.Description),
				InputSchema: inputSchema,
			},
		}
	}

	return result
}

func (c *anthropicClient) mapStopReason(reason anthropic.StopReason) string {
	switch reason {
	case anthropic.StopReasonEndTurn:
		return "stop"
	case anthropic.StopReasonToolUse:
		return "tool_calls"
	case anthropic.StopReasonMaxTokens:
		return "length"
	case anthropic.StopReasonStopSequence:
		return "stop"
	default:
		return string(reason)
	}
}
