package brain

import (
	"context"
	"encoding/json"
	"errors"
	"os"
	"strings"
	"sync"
	"testing"

	"propflow.app/assist/common/id"
	"propflow.app/assist/common/llm"
	"propflow.app/assist/core/config"
	"propflow.app/assist/internal/capability"
	"propflow.app/assist/internal/intent"
	"propflow.app/assist/internal/memory"
	"propflow.app/assist/internal/model"
	"propflow.app/assist/internal/queue"
	"propflow.app/assist/internal/store"
)

func TestMain(m *testing.M) {
	if err := id.Init(1); err != nil {
		panic(err)
	}
	os.Exit(m.Run())
}

// fakeEngine replays scripted event streams, one per completion pass, and
// records every request it was given.
type fakeEngine struct {
	scripts  [][]llm.StreamEvent
	requests []llm.AgentRequest
}

func (f *fakeEngine) StreamWithTools(ctx context.Context, req llm.AgentRequest) (<-chan llm.StreamEvent, error) {
	f.requests = append(f.requests, req)
	if len(f.scripts) == 0 {
		return nil, errors.New("no scripted response left")
	}
	script := f.scripts[0]
	f.scripts = f.scripts[1:]

	ch := make(chan llm.StreamEvent, len(script))
	for _, event := range script {
		ch <- event
	}
	close(ch)
	return ch, nil
}

func (f *fakeEngine) Model() string { return "fake-engine" }

type memMessageStore struct {
	messages []model.Message
}

func (f *memMessageStore) Append(ctx context.Context, msg *model.Message) error {
	f.messages = append(f.messages, *msg)
	return nil
}

func (f *memMessageStore) ListByConversation(ctx context.Context, conversationID int64) ([]model.Message, error) {
	return f.messages, nil
}

func (f *memMessageStore) ListRecent(ctx context.Context, conversationID int64, limit int) ([]model.Message, error) {
	if len(f.messages) <= limit {
		return f.messages, nil
	}
	return f.messages[len(f.messages)-limit:], nil
}

func (f *memMessageStore) CountByConversation(ctx context.Context, conversationID int64) (int, error) {
	return len(f.messages), nil
}

type memSummaryStore struct{}

func (memSummaryStore) GetByCoveredCount(ctx context.Context, conversationID int64, coveredCount int) (*model.ConversationSummary, error) {
	return nil, store.ErrNotFound
}

func (memSummaryStore) GetLatest(ctx context.Context, conversationID int64) (*model.ConversationSummary, error) {
	return nil, store.ErrNotFound
}

func (memSummaryStore) Upsert(ctx context.Context, summary *model.ConversationSummary) error {
	return nil
}

type memProfileStore struct{}

func (memProfileStore) Get(ctx context.Context, conversationID int64) (*model.MemoryProfile, error) {
	return nil, store.ErrNotFound
}

func (memProfileStore) Save(ctx context.Context, profile *model.MemoryProfile) error {
	return nil
}

type nullProducer struct{}

func (nullProducer) EnqueueUsage(ctx context.Context, msg queue.UsageMessage) error { return nil }
func (nullProducer) EnqueueFold(ctx context.Context, msg queue.FoldMessage) error   { return nil }
func (nullProducer) Close() error                                                   { return nil }

type handlerFunc func(ctx context.Context, inv capability.Invocation) (json.RawMessage, error)

func testRegistry(t *testing.T, handlers map[string]handlerFunc) *capability.Registry {
	t.Helper()
	r := capability.NewRegistry()
	for name, handler := range handlers {
		err := r.Register(capability.Descriptor{
			Name:        name,
			Description: "test capability",
			Parameters:  llm.GenerateSchemaFrom(struct{}{}),
		}, capability.Handler(handler))
		if err != nil {
			t.Fatalf("register %s: %v", name, err)
		}
	}
	return r
}

func assistantConfig() config.AssistantConfig {
	return config.AssistantConfig{
		RecentWindow:           20,
		SummarizationThreshold: 50,
		LongTermFoldInterval:   30,
		MaxToolRounds:          4,
		MaxParallelTools:       4,
		RepeatCallLimit:        3,
		ToolCallTimeoutSecs:    5,
		ShortMessageRunes:      3,
	}
}

func newTestOrchestrator(t *testing.T, engine llm.AgentClient, registry *capability.Registry, messages *memMessageStore) *Orchestrator {
	t.Helper()
	cfg := assistantConfig()
	compactor := memory.NewCompactor(messages, memSummaryStore{}, memProfileStore{}, nil, cfg)
	scheduler := memory.NewFoldScheduler(memProfileStore{}, nullProducer{}, cfg)
	classifier := intent.NewClassifier(nil, intent.DefaultRulesConfig())
	accountant := NewAccountant(nullProducer{}, 16)
	accountant.Start(context.Background())
	return NewOrchestrator(engine, classifier, registry, compactor, scheduler, messages, accountant, cfg)
}

func collect(t *testing.T, events <-chan Event) []Event {
	t.Helper()
	var all []Event
	for event := range events {
		all = append(all, event)
	}
	return all
}

func textOf(events []Event) string {
	var b strings.Builder
	for _, e := range events {
		if e.Kind == EventTextDelta {
			b.WriteString(e.TextDelta)
		}
	}
	return b.String()
}

func kinds(events []Event) []EventKind {
	result := make([]EventKind, len(events))
	for i, e := range events {
		result[i] = e.Kind
	}
	return result
}

func TestSmalltalkRunsOneRoundWithNoTools(t *testing.T) {
	engine := &fakeEngine{scripts: [][]llm.StreamEvent{{
		{Kind: llm.StreamText, TextDelta: "Hey! "},
		{Kind: llm.StreamText, TextDelta: "How can I help?"},
		{Kind: llm.StreamDone, FinishReason: "stop", Usage: &llm.Usage{PromptTokens: 10, CompletionTokens: 5}},
	}}}
	messages := &memMessageStore{}
	registry := testRegistry(t, map[string]handlerFunc{
		"create_lead": func(ctx context.Context, inv capability.Invocation) (json.RawMessage, error) {
			t.Fatal("no capability may run for smalltalk")
			return nil, nil
		},
	})
	o := newTestOrchestrator(t, engine, registry, messages)

	events, err := o.Run(context.Background(), RunRequest{
		TenantID: "t1", UserID: "u1", ConversationID: 1, Message: "hey",
	})
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	all := collect(t, events)

	if len(engine.requests) != 1 {
		t.Fatalf("completion passes = %d, want 1", len(engine.requests))
	}
	if len(engine.requests[0].Tools) != 0 {
		t.Errorf("smalltalk exposed %d tools", len(engine.requests[0].Tools))
	}
	if textOf(all) != "Hey! How can I help?" {
		t.Errorf("text = %q", textOf(all))
	}
	last := all[len(all)-1]
	if last.Kind != EventDone {
		t.Fatalf("terminal event = %v", kinds(all))
	}
	for _, e := range all {
		if e.Kind == EventToolsInvoked {
			t.Error("unexpected tools_invoked frame")
		}
	}

	// user + assistant persisted
	if len(messages.messages) != 2 {
		t.Fatalf("persisted %d messages", len(messages.messages))
	}
	if messages.messages[1].Role != model.RoleAssistant || messages.messages[1].Content != "Hey! How can I help?" {
		t.Errorf("assistant message = %+v", messages.messages[1])
	}
}

func TestToolRoundThenAnswer(t *testing.T) {
	engine := &fakeEngine{scripts: [][]llm.StreamEvent{
		{
			{Kind: llm.StreamText, TextDelta: "Creating the lead now. "},
			{Kind: llm.StreamToolCall, ToolCall: &llm.ToolCallDelta{Index: 0, ID: "call_1", Name: "create_lead", ArgumentsDelta: `{"name":`}},
			{Kind: llm.StreamToolCall, ToolCall: &llm.ToolCallDelta{Index: 0, ArgumentsDelta: `"Anna Meyer"}`}},
			{Kind: llm.StreamDone, FinishReason: "tool_calls", Usage: &llm.Usage{PromptTokens: 50, CompletionTokens: 20}},
		},
		{
			{Kind: llm.StreamText, TextDelta: "Lead created."},
			{Kind: llm.StreamDone, FinishReason: "stop", Usage: &llm.Usage{PromptTokens: 80, CompletionTokens: 8}},
		},
	}}

	var gotInv capability.Invocation
	registry := testRegistry(t, map[string]handlerFunc{
		"create_lead": func(ctx context.Context, inv capability.Invocation) (json.RawMessage, error) {
			gotInv = inv
			return json.RawMessage(`{"id":101,"name":"Anna Meyer"}`), nil
		},
	})
	messages := &memMessageStore{}
	o := newTestOrchestrator(t, engine, registry, messages)

	events, err := o.Run(context.Background(), RunRequest{
		TenantID: "t1", UserID: "u1", ConversationID: 1,
		Message: "please create a lead for Anna Meyer",
	})
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	all := collect(t, events)

	if gotInv.TenantID != "t1" || gotInv.UserID != "u1" {
		t.Errorf("invocation scope = %s/%s", gotInv.TenantID, gotInv.UserID)
	}
	if string(gotInv.Args) != `{"name":"Anna Meyer"}` {
		t.Errorf("args = %s", gotInv.Args)
	}

	var sawTools bool
	for _, e := range all {
		if e.Kind == EventToolsInvoked {
			sawTools = true
			if len(e.ToolNames) != 1 || e.ToolNames[0] != "create_lead" {
				t.Errorf("tool names = %v", e.ToolNames)
			}
		}
	}
	if !sawTools {
		t.Error("missing tools_invoked frame")
	}

	last := all[len(all)-1]
	if last.Kind != EventDone {
		t.Fatalf("terminal = %v", kinds(all))
	}
	if last.ToolCounts["create_lead"] != 1 {
		t.Errorf("tool counts = %v", last.ToolCounts)
	}

	// The second pass must carry the tool result in history.
	second := engine.requests[1]
	var toolTurn *llm.Message
	for i := range second.Messages {
		if second.Messages[i].Role == "tool" {
			toolTurn = &second.Messages[i]
		}
	}
	if toolTurn == nil {
		t.Fatal("no tool result in second request")
	}
	if toolTurn.ToolCallID != "call_1" || !strings.Contains(toolTurn.Content, "Anna Meyer") {
		t.Errorf("tool turn = %+v", toolTurn)
	}
}

func TestDatastoreErrorIsSanitized(t *testing.T) {
	engine := &fakeEngine{scripts: [][]llm.StreamEvent{
		{
			{Kind: llm.StreamToolCall, ToolCall: &llm.ToolCallDelta{Index: 0, ID: "call_1", Name: "find_leads", ArgumentsDelta: `{}`}},
			{Kind: llm.StreamDone, FinishReason: "tool_calls"},
		},
		{
			{Kind: llm.StreamText, TextDelta: "Sorry, that failed."},
			{Kind: llm.StreamDone, FinishReason: "stop"},
		},
	}}
	registry := testRegistry(t, map[string]handlerFunc{
		"find_leads": func(ctx context.Context, inv capability.Invocation) (json.RawMessage, error) {
			return nil, errors.New(`pq: connection refused host=10.0.3.7 user=assist_rw`)
		},
	})
	messages := &memMessageStore{}
	o := newTestOrchestrator(t, engine, registry, messages)

	events, err := o.Run(context.Background(), RunRequest{
		TenantID: "t1", ConversationID: 1, Message: "find my leads please",
	})
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	all := collect(t, events)
	if all[len(all)-1].Kind != EventDone {
		t.Fatalf("terminal = %v", kinds(all))
	}

	second := engine.requests[1]
	for _, msg := range second.Messages {
		if msg.Role != "tool" {
			continue
		}
		if strings.Contains(msg.Content, "10.0.3.7") || strings.Contains(msg.Content, "assist_rw") || strings.Contains(msg.Content, "pq:") {
			t.Fatalf("internal error leaked into tool result: %q", msg.Content)
		}
		if !strings.Contains(msg.Content, "internal error") {
			t.Errorf("expected generic failure text, got %q", msg.Content)
		}
	}
}

func TestRoundCapEmitsTruncationNoticeAndWrapsUp(t *testing.T) {
	toolRound := []llm.StreamEvent{
		{Kind: llm.StreamToolCall, ToolCall: &llm.ToolCallDelta{Index: 0, ID: "c", Name: "find_leads", ArgumentsDelta: `{}`}},
		{Kind: llm.StreamDone, FinishReason: "tool_calls"},
	}
	engine := &fakeEngine{scripts: [][]llm.StreamEvent{
		toolRound, toolRound, toolRound, toolRound,
		{
			{Kind: llm.StreamText, TextDelta: "Here is what I found so far."},
			{Kind: llm.StreamDone, FinishReason: "stop"},
		},
	}}
	calls := 0
	registry := testRegistry(t, map[string]handlerFunc{
		"find_leads": func(ctx context.Context, inv capability.Invocation) (json.RawMessage, error) {
			calls++
			return json.RawMessage(`{"count":0}`), nil
		},
	})
	messages := &memMessageStore{}
	o := newTestOrchestrator(t, engine, registry, messages)

	events, err := o.Run(context.Background(), RunRequest{
		TenantID: "t1", ConversationID: 1, Message: "find all my leads",
	})
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	all := collect(t, events)

	if all[len(all)-1].Kind != EventDone {
		t.Fatalf("terminal = %v", kinds(all))
	}
	if len(engine.requests) != 5 {
		t.Errorf("completion passes = %d, want 4 rounds + wrap-up", len(engine.requests))
	}
	if wrapUp := engine.requests[4]; len(wrapUp.Tools) != 0 {
		t.Errorf("wrap-up pass still had %d tools", len(wrapUp.Tools))
	}
	notice := "limit of actions"
	if occurrences := strings.Count(textOf(all), notice); occurrences != 1 {
		t.Errorf("truncation notice appeared %d times", occurrences)
	}
	// The volume guard kicks in before the round cap for identical calls.
	if calls != assistantConfig().RepeatCallLimit {
		t.Errorf("handler ran %d times, want %d", calls, assistantConfig().RepeatCallLimit)
	}
}

func TestRepeatedIdenticalCallsAreRejected(t *testing.T) {
	toolRound := []llm.StreamEvent{
		{Kind: llm.StreamToolCall, ToolCall: &llm.ToolCallDelta{Index: 0, ID: "c", Name: "find_leads", ArgumentsDelta: `{"query":"x"}`}},
		{Kind: llm.StreamDone, FinishReason: "tool_calls"},
	}
	engine := &fakeEngine{scripts: [][]llm.StreamEvent{
		toolRound, toolRound, toolRound, toolRound,
		{{Kind: llm.StreamText, TextDelta: "done"}, {Kind: llm.StreamDone, FinishReason: "stop"}},
	}}
	executions := 0
	registry := testRegistry(t, map[string]handlerFunc{
		"find_leads": func(ctx context.Context, inv capability.Invocation) (json.RawMessage, error) {
			executions++
			return json.RawMessage(`{}`), nil
		},
	})
	messages := &memMessageStore{}
	o := newTestOrchestrator(t, engine, registry, messages)

	events, err := o.Run(context.Background(), RunRequest{
		TenantID: "t1", ConversationID: 1, Message: "find leads named x",
	})
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	collect(t, events)

	if executions != 3 {
		t.Errorf("executions = %d, want repeat limit of 3", executions)
	}

	// The fourth round's tool result must be the rejection, not a real result.
	lastToolContent := ""
	for _, msg := range engine.requests[4].Messages {
		if msg.Role == "tool" {
			lastToolContent = msg.Content
		}
	}
	if !strings.Contains(lastToolContent, "already executed") {
		t.Errorf("expected rejection result, got %q", lastToolContent)
	}
}

func TestRoundWithDistinctCallsRunsThemConcurrently(t *testing.T) {
	engine := &fakeEngine{scripts: [][]llm.StreamEvent{
		{
			{Kind: llm.StreamToolCall, ToolCall: &llm.ToolCallDelta{Index: 0, ID: "c0", Name: "find_leads", ArgumentsDelta: `{"page":0}`}},
			{Kind: llm.StreamToolCall, ToolCall: &llm.ToolCallDelta{Index: 1, ID: "c1", Name: "find_leads", ArgumentsDelta: `{"page":1}`}},
			{Kind: llm.StreamToolCall, ToolCall: &llm.ToolCallDelta{Index: 2, ID: "c2", Name: "find_leads", ArgumentsDelta: `{"page":2}`}},
			{Kind: llm.StreamToolCall, ToolCall: &llm.ToolCallDelta{Index: 3, ID: "c3", Name: "find_leads", ArgumentsDelta: `{"page":3}`}},
			{Kind: llm.StreamDone, FinishReason: "tool_calls"},
		},
		{
			{Kind: llm.StreamText, TextDelta: "All pages fetched."},
			{Kind: llm.StreamDone, FinishReason: "stop"},
		},
	}}

	// Every handler blocks until all four are in flight at once. If the
	// round ran them one at a time, the calls would sit on their timeout
	// instead of returning a result.
	var mu sync.Mutex
	inFlight := 0
	allIn := make(chan struct{})
	registry := testRegistry(t, map[string]handlerFunc{
		"find_leads": func(ctx context.Context, inv capability.Invocation) (json.RawMessage, error) {
			mu.Lock()
			inFlight++
			if inFlight == 4 {
				close(allIn)
			}
			mu.Unlock()
			select {
			case <-allIn:
				return json.RawMessage(`{"ok":true}`), nil
			case <-ctx.Done():
				return nil, ctx.Err()
			}
		},
	})
	messages := &memMessageStore{}
	o := newTestOrchestrator(t, engine, registry, messages)

	events, err := o.Run(context.Background(), RunRequest{
		TenantID: "t1", ConversationID: 1, Message: "fetch every page of leads",
	})
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	all := collect(t, events)

	last := all[len(all)-1]
	if last.Kind != EventDone {
		t.Fatalf("terminal = %v", kinds(all))
	}
	if last.ToolCounts["find_leads"] != 4 {
		t.Errorf("tool counts = %v", last.ToolCounts)
	}

	toolResults := 0
	for _, msg := range engine.requests[1].Messages {
		if msg.Role != "tool" {
			continue
		}
		toolResults++
		if !strings.Contains(msg.Content, `"ok":true`) {
			t.Errorf("tool result = %q", msg.Content)
		}
	}
	if toolResults != 4 {
		t.Errorf("tool results in second pass = %d, want 4", toolResults)
	}
}

// haltingEngine emits one text delta, then waits for the caller's context
// to die before surfacing the stream error, the shape a provider stream
// takes when the connection is torn down mid-response.
type haltingEngine struct {
	started chan struct{}
}

func (e *haltingEngine) StreamWithTools(ctx context.Context, req llm.AgentRequest) (<-chan llm.StreamEvent, error) {
	ch := make(chan llm.StreamEvent)
	go func() {
		defer close(ch)
		ch <- llm.StreamEvent{Kind: llm.StreamText, TextDelta: "I found two listings that"}
		close(e.started)
		<-ctx.Done()
		ch <- llm.StreamEvent{Kind: llm.StreamError, Err: ctx.Err()}
	}()
	return ch, nil
}

func (e *haltingEngine) Model() string { return "fake-engine" }

func TestCancelledRunPersistsPartialText(t *testing.T) {
	engine := &haltingEngine{started: make(chan struct{})}
	messages := &memMessageStore{}
	o := newTestOrchestrator(t, engine, testRegistry(t, nil), messages)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	events, err := o.Run(ctx, RunRequest{
		TenantID: "t1", ConversationID: 1, Message: "show me listings in berlin",
	})
	if err != nil {
		t.Fatalf("run: %v", err)
	}

	<-engine.started
	cancel()
	all := collect(t, events)

	for _, e := range all {
		if e.Kind == EventDone {
			t.Error("done emitted for a cancelled run")
		}
	}

	// user message plus the partial assistant turn
	if len(messages.messages) != 2 {
		t.Fatalf("persisted %d messages, want 2", len(messages.messages))
	}
	last := messages.messages[len(messages.messages)-1]
	if last.Role != model.RoleAssistant {
		t.Fatalf("last persisted role = %s", last.Role)
	}
	if last.Content != "I found two listings that" {
		t.Errorf("persisted partial = %q", last.Content)
	}
}

func TestEngineFailureEmitsTerminalError(t *testing.T) {
	engine := &fakeEngine{scripts: [][]llm.StreamEvent{{
		{Kind: llm.StreamText, TextDelta: "Let me look"},
		{Kind: llm.StreamError, Err: errors.New("upstream 502")},
	}}}
	registry := testRegistry(t, map[string]handlerFunc{
		"find_leads": func(ctx context.Context, inv capability.Invocation) (json.RawMessage, error) {
			return json.RawMessage(`{}`), nil
		},
	})
	messages := &memMessageStore{}
	o := newTestOrchestrator(t, engine, registry, messages)

	events, err := o.Run(context.Background(), RunRequest{
		TenantID: "t1", ConversationID: 1, Message: "find my leads",
	})
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	all := collect(t, events)

	last := all[len(all)-1]
	if last.Kind != EventError {
		t.Fatalf("terminal = %v", kinds(all))
	}
	if last.RateLimited {
		t.Error("transport failure misreported as rate limit")
	}
	if strings.Contains(last.Err.Error(), "502") {
		t.Errorf("internal error leaked: %v", last.Err)
	}
	for _, e := range all {
		if e.Kind == EventDone {
			t.Error("done emitted after engine failure")
		}
	}
}

func TestConfirmationRequiredBecomesPendingResult(t *testing.T) {
	engine := &fakeEngine{scripts: [][]llm.StreamEvent{
		{
			{Kind: llm.StreamToolCall, ToolCall: &llm.ToolCallDelta{Index: 0, ID: "c", Name: "send_email", ArgumentsDelta: `{"to":"a@b.de"}`}},
			{Kind: llm.StreamDone, FinishReason: "tool_calls"},
		},
		{
			{Kind: llm.StreamText, TextDelta: "Queued for confirmation."},
			{Kind: llm.StreamDone, FinishReason: "stop"},
		},
	}}
	registry := testRegistry(t, map[string]handlerFunc{
		"send_email": func(ctx context.Context, inv capability.Invocation) (json.RawMessage, error) {
			return nil, capability.ErrConfirmationRequired
		},
	})
	messages := &memMessageStore{}
	o := newTestOrchestrator(t, engine, registry, messages)

	events, err := o.Run(context.Background(), RunRequest{
		TenantID: "t1", ConversationID: 1, Message: "send the email to anna",
	})
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	all := collect(t, events)
	if all[len(all)-1].Kind != EventDone {
		t.Fatalf("terminal = %v", kinds(all))
	}

	for _, msg := range engine.requests[1].Messages {
		if msg.Role == "tool" && !strings.Contains(msg.Content, "pending human confirmation") {
			t.Errorf("tool result = %q", msg.Content)
		}
	}
}

func TestRunValidation(t *testing.T) {
	o := newTestOrchestrator(t, &fakeEngine{}, testRegistry(t, nil), &memMessageStore{})

	if _, err := o.Run(context.Background(), RunRequest{ConversationID: 1, Message: "hi"}); err == nil {
		t.Error("expected error without tenant")
	}
	if _, err := o.Run(context.Background(), RunRequest{TenantID: "t1", ConversationID: 1, Message: "  "}); err == nil {
		t.Error("expected error for empty message")
	}
}
