package handler

import (
	"errors"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"propflow.app/assist/common"
	"propflow.app/assist/common/id"
	"propflow.app/assist/internal/http/dto"
	"propflow.app/assist/internal/http/middleware"
	"propflow.app/assist/internal/model"
	"propflow.app/assist/internal/store"
)

type ConversationHandler struct {
	conversations store.ConversationStore
	messages      store.MessageStore
}

func NewConversationHandler(conversations store.ConversationStore, messages store.MessageStore) *ConversationHandler {
	return &ConversationHandler{conversations: conversations, messages: messages}
}

func (h *ConversationHandler) Create(c *gin.Context) {
	ctx := c.Request.Context()

	var req dto.CreateConversationRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	title := req.Title
	if title == "" {
		title = "New conversation"
	}
	slug, err := common.Slugify(title, "conversation")
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to create conversation"})
		return
	}

	conversation := &model.Conversation{
		ID:       id.New(),
		TenantID: middleware.TenantID(c),
		UserID:   middleware.UserID(c),
		Title:    title,
		Slug:     slug,
	}
	if err := h.conversations.Create(ctx, conversation); err != nil {
		slog.ErrorContext(ctx, "creating conversation failed", "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to create conversation"})
		return
	}

	c.JSON(http.StatusCreated, dto.ToConversationResponse(conversation))
}

func (h *ConversationHandler) List(c *gin.Context) {
	ctx := c.Request.Context()

	conversations, err := h.conversations.ListByUser(ctx, middleware.TenantID(c), middleware.UserID(c))
	if err != nil {
		slog.ErrorContext(ctx, "listing conversations failed", "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to list conversations"})
		return
	}

	responses := make([]*dto.ConversationResponse, 0, len(conversations))
	for i := range conversations {
		responses = append(responses, dto.ToConversationResponse(&conversations[i]))
	}
	c.JSON(http.StatusOK, gin.H{"conversations": responses})
}

func (h *ConversationHandler) Messages(c *gin.Context) {
	ctx := c.Request.Context()

	conversationID, err := strconv.ParseInt(c.Param("conversation_id"), 10, 64)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid conversation id"})
		return
	}

	conversation, err := h.conversations.GetByID(ctx, conversationID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "conversation not found"})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to load conversation"})
		return
	}
	if conversation.TenantID != middleware.TenantID(c) {
		c.JSON(http.StatusNotFound, gin.H{"error": "conversation not found"})
		return
	}

	messages, err := h.messages.ListByConversation(ctx, conversationID)
	if err != nil {
		slog.ErrorContext(ctx, "listing messages failed", "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to list messages"})
		return
	}

	responses := make([]dto.MessageResponse, 0, len(messages))
	for _, msg := range messages {
		responses = append(responses, dto.ToMessageResponse(msg))
	}
	c.JSON(http.StatusOK, gin.H{"messages": responses})
}
