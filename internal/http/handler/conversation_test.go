package handler_test

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"time"

	"github.com/gin-gonic/gin"
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"propflow.app/assist/internal/http/handler"
	"propflow.app/assist/internal/http/middleware"
	"propflow.app/assist/internal/model"
)

var _ = Describe("ConversationHandler", func() {
	var (
		router        *gin.Engine
		conversations *mockConversationStore
		messages      *mockMessageStore
	)

	newRequest := func(method, path string, body []byte) *httptest.ResponseRecorder {
		req := httptest.NewRequest(method, path, bytes.NewBuffer(body))
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
		conversations = &mockConversationStore{}
		messages = &mockMessageStore{}
		h := handler.NewConversationHandler(conversations, messages)

		group := router.Group("/conversations")
		group.Use(middleware.Identity())
		group.POST("", h.Create)
		group.GET("", h.List)
		group.GET("/:conversation_id/messages", h.Messages)
	})

	It("rejects requests without identity headers", func() {
		req := httptest.NewRequest(http.MethodGet, "/conversations", nil)
		w := httptest.NewRecorder()
		router.ServeHTTP(w, req)

		Expect(w.Code).To(Equal(http.StatusUnauthorized))
	})

	It("creates a conversation scoped to the caller", func() {
		var created *model.Conversation
		conversations.createFn = func(_ context.Context, conv *model.Conversation) error {
			created = conv
			return nil
		}

		body, _ := json.Marshal(map[string]string{"title": "Weber viewing follow-up"})
		w := newRequest(http.MethodPost, "/conversations", body)

		Expect(w.Code).To(Equal(http.StatusCreated))
		Expect(created).NotTo(BeNil())
		Expect(created.TenantID).To(Equal("tenant-1"))
		Expect(created.UserID).To(Equal("user-1"))
		Expect(created.ID).NotTo(BeZero())
		Expect(created.Slug).To(HavePrefix("weber-viewing-follow-up"))

		var resp map[string]any
		Expect(json.Unmarshal(w.Body.Bytes(), &resp)).To(Succeed())
		// int64 IDs cross the wire as strings
		Expect(resp["id"]).To(BeAssignableToTypeOf(""))
		Expect(resp["title"]).To(Equal("Weber viewing follow-up"))
	})

	It("defaults the title when none is given", func() {
		var created *model.Conversation
		conversations.createFn = func(_ context.Context, conv *model.Conversation) error {
			created = conv
			return nil
		}

		w := newRequest(http.MethodPost, "/conversations", []byte(`{}`))

		Expect(w.Code).To(Equal(http.StatusCreated))
		Expect(created.Title).To(Equal("New conversation"))
	})

	It("lists the caller's conversations", func() {
		conversations.listByUserFn = func(_ context.Context, tenantID, userID string) ([]model.Conversation, error) {
			Expect(tenantID).To(Equal("tenant-1"))
			Expect(userID).To(Equal("user-1"))
			return []model.Conversation{
				{ID: 7, Title: "Schmidt lead", Slug: "schmidt-lead", CreatedAt: time.Now()},
			}, nil
		}

		w := newRequest(http.MethodGet, "/conversations", nil)

		Expect(w.Code).To(Equal(http.StatusOK))
		var resp map[string][]map[string]any
		Expect(json.Unmarshal(w.Body.Bytes(), &resp)).To(Succeed())
		Expect(resp["conversations"]).To(HaveLen(1))
		Expect(resp["conversations"][0]["id"]).To(Equal("7"))
	})

	It("returns the message log for an owned conversation", func() {
		conversations.getByIDFn = func(_ context.Context, id int64) (*model.Conversation, error) {
			return &model.Conversation{ID: id, TenantID: "tenant-1", UserID: "user-1"}, nil
		}
		messages.listByConversationFn = func(_ context.Context, conversationID int64) ([]model.Message, error) {
			Expect(conversationID).To(Equal(int64(42)))
			return []model.Message{
				{ID: 1, Role: model.RoleUser, Content: "any news on the apartment?"},
				{ID: 2, Role: model.RoleAssistant, Content: "The owner accepted your offer."},
			}, nil
		}

		w := newRequest(http.MethodGet, "/conversations/42/messages", nil)

		Expect(w.Code).To(Equal(http.StatusOK))
		var resp map[string][]map[string]any
		Expect(json.Unmarshal(w.Body.Bytes(), &resp)).To(Succeed())
		Expect(resp["messages"]).To(HaveLen(2))
		Expect(resp["messages"][1]["role"]).To(Equal("assistant"))
	})

	It("hides conversations belonging to another tenant", func() {
		conversations.getByIDFn = func(_ context.Context, id int64) (*model.Conversation, error) {
			return &model.Conversation{ID: id, TenantID: "tenant-2", UserID: "user-9"}, nil
		}

		w := newRequest(http.MethodGet, "/conversations/42/messages", nil)

		Expect(w.Code).To(Equal(http.StatusNotFound))
	})

	It("rejects a non-numeric conversation id", func() {
		w := newRequest(http.MethodGet, "/conversations/abc/messages", nil)

		Expect(w.Code).To(Equal(http.StatusBadRequest))
	})
})
