package handler_test

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"

	"github.com/gin-gonic/gin"
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"propflow.app/assist/core/config"
	"propflow.app/assist/internal/brain"
	"propflow.app/assist/internal/http/handler"
	"propflow.app/assist/internal/http/middleware"
	"propflow.app/assist/internal/model"
)

type mockOrchestrator struct {
	runFn func(ctx context.Context, req brain.RunRequest) (<-chan brain.Event, error)
}

func (m *mockOrchestrator) Run(ctx context.Context, req brain.RunRequest) (<-chan brain.Event, error) {
	if m.runFn != nil {
		return m.runFn(ctx, req)
	}
	events := make(chan brain.Event)
	close(events)
	return events, nil
}

// scripted returns a closed channel preloaded with the given events, the
// shape a finished run leaves behind.
func scripted(events ...brain.Event) <-chan brain.Event {
	ch := make(chan brain.Event, len(events))
	for _, event := range events {
		ch <- event
	}
	close(ch)
	return ch
}

var _ = Describe("ChatHandler", func() {
	var (
		router        *gin.Engine
		conversations *mockConversationStore
		orchestrator  *mockOrchestrator
		cfg           config.AssistantConfig
	)

	chat := func(conversationID, body string) *httptest.ResponseRecorder {
		req := httptest.NewRequest(http.MethodPost, "/conversations/"+conversationID+"/chat", bytes.NewBufferString(body))
		req.Header.Set("Content-Type", "application/json")
		req.Header.Set("X-Tenant-ID", "tenant-1")
		req.Header.Set("X-User-ID", "user-1")
		w := httptest.NewRecorder()
		router.ServeHTTP(w, req)
		return w
	}

	BeforeEach(func() {
		gin.SetMode(gin.TestMode)
		router = gin.New()
		conversations = &mockConversationStore{
			getByIDFn: func(_ context.Context, id int64) (*model.Conversation, error) {
				return &model.Conversation{ID: id, TenantID: "tenant-1", UserID: "user-1"}, nil
			},
		}
		orchestrator = &mockOrchestrator{}
		cfg = config.AssistantConfig{HeartbeatSecs: 30, IdleWatchdogSecs: 30}

		group := router.Group("/conversations")
		group.Use(middleware.Identity())
		group.POST("/:conversation_id/chat", func(c *gin.Context) {
			handler.NewChatHandler(orchestrator, conversations, cfg).Stream(c)
		})
	})

	It("streams deltas, tool announcements and a terminal done frame", func() {
		var got brain.RunRequest
		orchestrator.runFn = func(_ context.Context, req brain.RunRequest) (<-chan brain.Event, error) {
			got = req
			return scripted(
				brain.Event{Kind: brain.EventToolsInvoked, ToolNames: []string{"find_leads"}},
				brain.Event{Kind: brain.EventTextDelta, TextDelta: "Found "},
				brain.Event{Kind: brain.EventTextDelta, TextDelta: "2 leads."},
				brain.Event{Kind: brain.EventDone, ToolCounts: map[string]int{"find_leads": 1}},
			), nil
		}

		w := chat("42", `{"message":"find my leads"}`)

		Expect(w.Code).To(Equal(http.StatusOK))
		Expect(w.Header().Get("Content-Type")).To(Equal("text/event-stream"))
		Expect(got.TenantID).To(Equal("tenant-1"))
		Expect(got.ConversationID).To(Equal(int64(42)))

		body := w.Body.String()
		Expect(body).To(HavePrefix("event: ping\ndata: ready\n\n"))
		Expect(body).To(ContainSubstring("event: tools\ndata: {\"tools\":[\"find_leads\"]}\n\n"))
		Expect(body).To(ContainSubstring("event: delta\ndata: {\"text\":\"Found \"}\n\n"))
		Expect(body).To(ContainSubstring("event: delta\ndata: {\"text\":\"2 leads.\"}\n\n"))
		Expect(body).To(HaveSuffix("event: done\ndata: {\"tools\":{\"find_leads\":1}}\n\n"))
	})

	It("relays a terminal error frame", func() {
		orchestrator.runFn = func(_ context.Context, _ brain.RunRequest) (<-chan brain.Event, error) {
			return scripted(
				brain.Event{Kind: brain.EventError, Err: errors.New("the assistant is receiving too many requests, please retry shortly"), RateLimited: true},
			), nil
		}

		w := chat("42", `{"message":"hello"}`)

		Expect(w.Code).To(Equal(http.StatusOK))
		body := w.Body.String()
		Expect(body).To(ContainSubstring("event: error\n"))
		Expect(body).To(ContainSubstring("\"rate_limited\":true"))
		Expect(body).NotTo(ContainSubstring("event: done"))
	})

	It("aborts a stalled run with an error frame and cancels it", func() {
		cfg.IdleWatchdogSecs = 1
		var runCtx context.Context
		orchestrator.runFn = func(ctx context.Context, _ brain.RunRequest) (<-chan brain.Event, error) {
			runCtx = ctx
			// A run that never produces an event.
			return make(chan brain.Event), nil
		}

		w := chat("42", `{"message":"hello"}`)

		Expect(w.Code).To(Equal(http.StatusOK))
		body := w.Body.String()
		Expect(body).To(ContainSubstring("event: error\ndata: {\"error\":\"the assistant stopped responding, please retry\"}\n\n"))
		Expect(body).NotTo(ContainSubstring("event: done"))
		Expect(runCtx.Err()).To(Equal(context.Canceled))
	})

	It("rejects a run the orchestrator refuses before streaming starts", func() {
		orchestrator.runFn = func(_ context.Context, _ brain.RunRequest) (<-chan brain.Event, error) {
			return nil, errors.New("message is empty")
		}

		w := chat("42", `{"message":""}`)

		Expect(w.Code).To(Equal(http.StatusBadRequest))
		var resp map[string]any
		Expect(json.Unmarshal(w.Body.Bytes(), &resp)).To(Succeed())
		Expect(resp["error"]).To(Equal("message is empty"))
	})

	It("hides conversations of other tenants", func() {
		conversations.getByIDFn = func(_ context.Context, id int64) (*model.Conversation, error) {
			return &model.Conversation{ID: id, TenantID: "tenant-2"}, nil
		}

		w := chat("42", `{"message":"hello"}`)

		Expect(w.Code).To(Equal(http.StatusNotFound))
	})

	It("rejects a non-numeric conversation id", func() {
		w := chat("abc", `{"message":"hello"}`)

		Expect(w.Code).To(Equal(http.StatusBadRequest))
	})

	It("rejects malformed attachments", func() {
		w := chat("42", `{"message":"see attached","attachments":[{"filename":"a.pdf"}]}`)

		Expect(w.Code).To(Equal(http.StatusBadRequest))
	})
})
