package brain

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/trace"

	"propflow.app/assist/common/id"
	"propflow.app/assist/common/llm"
	"propflow.app/assist/common/logger"
	"propflow.app/assist/core/config"
	"propflow.app/assist/internal/capability"
	"propflow.app/assist/internal/intent"
	"propflow.app/assist/internal/memory"
	"propflow.app/assist/internal/model"
	"propflow.app/assist/internal/queue"
	"propflow.app/assist/internal/store"
)

type EventKind string

const (
	EventTextDelta    EventKind = "text_delta"
	EventToolsInvoked EventKind = "tools_invoked"
	EventDone         EventKind = "done"
	EventError        EventKind = "error"
)

// Event is one unit of orchestrator output. Exactly one terminal event
// (done or error) closes the channel.
type Event struct {
	Kind      EventKind
	TextDelta string
	// ToolNames lists the capabilities invoked in the round just started
	// (tools_invoked) or deduplicated counts for the whole run (done).
	ToolNames   []string
	ToolCounts  map[string]int
	Err         error
	RateLimited bool
}

// RunRequest is one user turn to orchestrate.
type RunRequest struct {
	TenantID       string
	UserID         string
	ConversationID int64
	Message        string
	Attachments    []model.AttachmentRef
}

const systemPromptHeader = `You are Assist, the conversational layer of a property CRM. You help
agents manage leads, property listings, emails, viewings, documents and
contacts. Use the provided tools for anything that touches CRM data; never
invent IDs or records. Keep answers short and concrete. Sending email
always requires human confirmation, so present queued emails as pending.`

// Orchestrator drives one conversational turn: route, assemble context,
// stream the completion, execute requested capabilities, repeat until the
// model settles on a final answer or the round cap fires.
type Orchestrator struct {
	engine        llm.AgentClient
	classifier    *intent.Classifier
	registry      *capability.Registry
	compactor     *memory.Compactor
	foldScheduler *memory.FoldScheduler
	messages      store.MessageStore
	accountant    *Accountant
	cfg           config.AssistantConfig
}

func NewOrchestrator(
	engine llm.AgentClient,
	classifier *intent.Classifier,
	registry *capability.Registry,
	compactor *memory.Compactor,
	foldScheduler *memory.FoldScheduler,
	messages store.MessageStore,
	accountant *Accountant,
	cfg config.AssistantConfig,
) *Orchestrator {
	return &Orchestrator{
		engine:        engine,
		classifier:    classifier,
		registry:      registry,
		compactor:     compactor,
		foldScheduler: foldScheduler,
		messages:      messages,
		accountant:    accountant,
		cfg:           cfg,
	}
}

// Run starts one orchestration run. Events arrive on the returned channel
// in generation order; the channel closes after the terminal event. The
// synchronous error covers request validation only.
func (o *Orchestrator) Run(ctx context.Context, req RunRequest) (<-chan Event, error) {
	if req.TenantID == "" {
		return nil, fmt.Errorf("tenant id is required")
	}
	if strings.TrimSpace(req.Message) == "" && len(req.Attachments) == 0 {
		return nil, fmt.Errorf("message is empty")
	}

	runID := uuid.NewString()
	events := make(chan Event, 64)

	go func() {
		defer close(events)
		o.run(ctx, req, runID, events)
	}()

	return events, nil
}

type runState struct {
	req      RunRequest
	runID    string
	events   chan<- Event
	history  []llm.Message
	tools    []llm.Tool
	finalBuf strings.Builder
	// callCounts tracks identical name+args invocations for the volume guard.
	callCounts map[string]int
	toolCounts map[string]int
}

func (o *Orchestrator) run(ctx context.Context, req RunRequest, runID string, events chan<- Event) {
	sc := logger.StartSpan(ctx, "assist.orchestrator.run", trace.WithSpanKind(trace.SpanKindServer))
	defer sc.End()
	ctx = sc.Context()

	ctx = logger.WithLogFields(ctx, logger.LogFields{
		TenantID:       logger.Str(req.TenantID),
		UserID:         logger.Str(req.UserID),
		ConversationID: logger.I64(req.ConversationID),
		RunID:          logger.Str(runID),
		Component:      "assist.brain.orchestrator",
	})
	start := time.Now()

	// Prior turns are read before the current message is appended, so the
	// classifier sees exactly the context the user saw.
	bounded, err := o.compactor.GetBoundedContext(ctx, req.ConversationID)
	if err != nil {
		o.emitError(ctx, events, fmt.Errorf("assemble context: %w", err), false)
		return
	}

	category := o.classifier.Classify(ctx, req.Message, bounded.Recent)
	ctx = logger.WithLogFields(ctx, logger.LogFields{Category: logger.Str(string(category))})

	userMsg := &model.Message{
		ID:             id.New(),
		ConversationID: req.ConversationID,
		TenantID:       req.TenantID,
		Role:           model.RoleUser,
		Content:        req.Message,
		Attachments:    req.Attachments,
	}
	if err := o.messages.Append(ctx, userMsg); err != nil {
		o.emitError(ctx, events, fmt.Errorf("persist user message: %w", err), false)
		return
	}

	descriptors := o.registry.Filter(category, len(req.Attachments) > 0)
	tools := make([]llm.Tool, 0, len(descriptors))
	for _, desc := range descriptors {
		tools = append(tools, llm.Tool{
			Name:        desc.Name,
			Description: desc.Description,
			Parameters:  desc.Parameters,
		})
	}

	slog.InfoContext(ctx, "run started",
		"category", string(category),
		"capabilities", len(tools),
		"recent_messages", len(bounded.Recent),
		"has_summary", bounded.Summary != "")

	state := &runState{
		req:        req,
		runID:      runID,
		events:     events,
		history:    buildHistory(bounded, req),
		tools:      tools,
		callCounts: make(map[string]int),
		toolCounts: make(map[string]int),
	}

	o.loop(ctx, state)

	slog.InfoContext(ctx, "run finished",
		"duration_ms", time.Since(start).Milliseconds(),
		"tool_calls", len(state.callCounts))
}

func buildHistory(bounded memory.BoundedContext, req RunRequest) []llm.Message {
	var system strings.Builder
	system.WriteString(systemPromptHeader)
	if bounded.Profile != "" {
		system.WriteString("\n\nWhat you remember about this user:\n")
		system.WriteString(bounded.Profile)
	}
	if bounded.Summary != "" {
		system.WriteString("\n\nSummary of the conversation so far:\n")
		system.WriteString(bounded.Summary)
	}

	history := make([]llm.Message, 0, len(bounded.Recent)+2)
	history = append(history, llm.Message{Role: "system", Content: system.String()})
	for _, msg := range bounded.Recent {
		history = append(history, llm.Message{Role: msg.Role, Content: msg.Content})
	}

	content := req.Message
	if len(req.Attachments) > 0 {
		names := make([]string, 0, len(req.Attachments))
		for _, att := range req.Attachments {
			names = append(names, fmt.Sprintf("%s (id %s)", att.Filename, att.ID))
		}
		content = fmt.Sprintf("%s\n\n[uploaded files: %s]", content, strings.Join(names, ", "))
	}
	history = append(history, llm.Message{Role: "user", Content: content})
	return history
}

// loop runs completion rounds until the model stops asking for tools, the
// round cap fires, or something terminal happens.
func (o *Orchestrator) loop(ctx context.Context, state *runState) {
	for round := 0; round < o.cfg.MaxToolRounds; round++ {
		calls, finished := o.completionPass(ctx, state, state.tools)
		if finished {
			return
		}
		if len(calls) == 0 {
			o.finalize(ctx, state)
			return
		}
		o.executeRound(ctx, state, calls)
	}

	// Round cap: tell the user in-band, then one last pass with no tools
	// so the model has to wrap up in prose.
	notice := "\n\nI've hit the limit of actions for this turn, wrapping up with what I have so far."
	state.finalBuf.WriteString(notice)
	o.emit(ctx, state.events, Event{Kind: EventTextDelta, TextDelta: notice})
	state.history = append(state.history, llm.Message{
		Role:    "user",
		Content: "You reached the per-turn action limit. Summarize what was done and what remains, without calling any more tools.",
	})

	slog.WarnContext(ctx, "round cap reached, forcing tool-free wrap-up",
		"max_rounds", o.cfg.MaxToolRounds)

	if _, finished := o.completionPass(ctx, state, nil); finished {
		return
	}
	o.finalize(ctx, state)
}

// completionPass streams one completion. It forwards text deltas as they
// arrive and accumulates tool-call fragments. finished=true means a
// terminal event was already emitted (error or cancellation).
func (o *Orchestrator) completionPass(ctx context.Context, state *runState, tools []llm.Tool) ([]llm.ToolCall, bool) {
	stream, err := o.engine.StreamWithTools(ctx, llm.AgentRequest{
		Messages:  state.history,
		Tools:     tools,
		MaxTokens: 2048,
	})
	if err != nil {
		o.handleEngineError(ctx, state, err)
		return nil, true
	}

	acc := NewAccumulator()
	var roundText strings.Builder

	for event := range stream {
		switch event.Kind {
		case llm.StreamText:
			roundText.WriteString(event.TextDelta)
			state.finalBuf.WriteString(event.TextDelta)
			o.emit(ctx, state.events, Event{Kind: EventTextDelta, TextDelta: event.TextDelta})
		case llm.StreamToolCall:
			acc.Add(*event.ToolCall)
		case llm.StreamDone:
			if event.Usage != nil {
				o.accountant.Record(ctx, queue.UsageMessage{
					TenantID:         state.req.TenantID,
					ConversationID:   state.req.ConversationID,
					Model:            o.engine.Model(),
					PromptTokens:     event.Usage.PromptTokens,
					CompletionTokens: event.Usage.CompletionTokens,
					TraceID:          logger.TraceID(ctx),
				})
			}
		case llm.StreamError:
			if ctx.Err() != nil {
				o.cancelled(ctx, state)
				return nil, true
			}
			o.handleEngineError(ctx, state, event.Err)
			return nil, true
		}
	}

	if ctx.Err() != nil {
		o.cancelled(ctx, state)
		return nil, true
	}

	if acc.Empty() {
		return nil, false
	}

	calls, err := acc.Completed()
	if err != nil {
		o.handleEngineError(ctx, state, fmt.Errorf("malformed tool stream: %w", err))
		return nil, true
	}

	// The assistant turn that requested the calls goes into history before
	// any result, preserving the linear transcript the engine expects.
	state.history = append(state.history, llm.Message{
		Role:      "assistant",
		Content:   roundText.String(),
		ToolCalls: calls,
	})
	return calls, false
}

// executeRound runs one round's calls concurrently (bounded) and appends
// every result to history in call order before returning.
func (o *Orchestrator) executeRound(ctx context.Context, state *runState, calls []llm.ToolCall) {
	names := make([]string, 0, len(calls))
	for _, call := range calls {
		names = append(names, call.Name)
		state.toolCounts[call.Name]++
	}
	o.emit(ctx, state.events, Event{Kind: EventToolsInvoked, ToolNames: names})

	slog.InfoContext(ctx, "executing tool round", "calls", names)

	maxParallel := o.cfg.MaxParallelTools
	if maxParallel <= 0 {
		maxParallel = 1
	}

	// The volume guard runs serially before anything is spawned: callCounts
	// is plain map state owned by the run goroutine, and the concurrent part
	// below must never touch it.
	results := make([]string, len(calls))
	rejected := make([]bool, len(calls))
	for i, call := range calls {
		guard := call.Name + "\x00" + call.Arguments
		if state.callCounts[guard]++; state.callCounts[guard] > o.cfg.RepeatCallLimit {
			slog.WarnContext(ctx, "repeated identical call rejected",
				"capability", call.Name,
				"count", state.callCounts[guard])
			results[i] = repeatedCallResult(call.Name)
			rejected[i] = true
		}
	}

	sem := make(chan struct{}, maxParallel)
	var wg sync.WaitGroup

	for i, call := range calls {
		if rejected[i] {
			continue
		}
		wg.Add(1)
		go func(i int, call llm.ToolCall) {
			defer wg.Done()
			sem <- struct{}{}
			defer func() { <-sem }()
			results[i] = o.executeCall(ctx, state, call)
		}(i, call)
	}
	wg.Wait()

	for i, call := range calls {
		state.history = append(state.history, llm.Message{
			Role:       "tool",
			Content:    results[i],
			ToolCallID: call.ID,
		})
	}
}

func (o *Orchestrator) executeCall(ctx context.Context, state *runState, call llm.ToolCall) string {
	timeout := time.Duration(o.cfg.ToolCallTimeoutSecs) * time.Second
	if timeout <= 0 {
		timeout = 25 * time.Second
	}
	callCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	result, err := o.registry.Execute(callCtx, capability.Invocation{
		Name:           call.Name,
		Args:           json.RawMessage(call.Arguments),
		TenantID:       state.req.TenantID,
		UserID:         state.req.UserID,
		ConversationID: state.req.ConversationID,
		CorrelationID:  state.runID,
	})
	if err != nil {
		slog.WarnContext(ctx, "capability execution failed",
			"capability", call.Name,
			"error", err)
		return toolResultForError(call.Name, err)
	}
	if len(result) == 0 {
		return "{}"
	}
	return string(result)
}

// finalize persists the assistant's answer and emits the terminal done
// event with deduplicated tool counts.
func (o *Orchestrator) finalize(ctx context.Context, state *runState) {
	final := state.finalBuf.String()
	if strings.TrimSpace(final) == "" {
		final = "Done."
	}

	persistCtx := context.WithoutCancel(ctx)
	count := o.persistAssistant(persistCtx, state, final)

	o.emit(ctx, state.events, Event{Kind: EventDone, ToolCounts: state.toolCounts})

	if count > 0 {
		o.foldScheduler.MaybeSchedule(persistCtx, state.req.TenantID, state.req.ConversationID, count)
	}
}

// cancelled finalizes a run whose caller went away: whatever text already
// reached the wire is persisted so the transcript matches what the user saw.
func (o *Orchestrator) cancelled(ctx context.Context, state *runState) {
	slog.InfoContext(ctx, "run cancelled", "cause", context.Cause(ctx))

	partial := strings.TrimSpace(state.finalBuf.String())
	if partial == "" {
		return
	}
	persistCtx := context.WithoutCancel(ctx)
	o.persistAssistant(persistCtx, state, partial)
}

func (o *Orchestrator) persistAssistant(ctx context.Context, state *runState, content string) int {
	msg := &model.Message{
		ID:             id.New(),
		ConversationID: state.req.ConversationID,
		TenantID:       state.req.TenantID,
		Role:           model.RoleAssistant,
		Content:        content,
	}
	if err := o.messages.Append(ctx, msg); err != nil {
		slog.ErrorContext(ctx, "persisting assistant message failed", "error", err)
		return 0
	}

	count, err := o.messages.CountByConversation(ctx, state.req.ConversationID)
	if err != nil {
		slog.WarnContext(ctx, "counting messages failed", "error", err)
		return 0
	}
	return count
}

func (o *Orchestrator) handleEngineError(ctx context.Context, state *runState, err error) {
	rateLimited := llm.IsRateLimited(err)
	slog.ErrorContext(ctx, "completion engine failed",
		"error", err,
		"rate_limited", rateLimited)
	o.emitError(ctx, state.events, err, rateLimited)
}

func (o *Orchestrator) emitError(ctx context.Context, events chan<- Event, err error, rateLimited bool) {
	message := "The assistant hit a temporary problem. Please try again."
	if rateLimited {
		message = "The assistant is handling too many requests right now. Please wait a moment and try again."
	}
	o.emit(ctx, events, Event{
		Kind:        EventError,
		Err:         errors.New(message),
		RateLimited: rateLimited,
	})
}

func (o *Orchestrator) emit(ctx context.Context, events chan<- Event, event Event) {
	select {
	case events <- event:
	case <-ctx.Done():
	}
}
