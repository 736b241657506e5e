package handler

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	"propflow.app/assist/core/config"
	"propflow.app/assist/internal/brain"
	"propflow.app/assist/internal/http/dto"
	"propflow.app/assist/internal/http/middleware"
	"propflow.app/assist/internal/model"
	"propflow.app/assist/internal/store"
)

// Orchestrator runs one assistant turn. Satisfied by brain.Orchestrator.
type Orchestrator interface {
	Run(ctx context.Context, req brain.RunRequest) (<-chan brain.Event, error)
}

// ChatHandler is the wire emitter: it owns the SSE connection for one turn
// and relays orchestrator events as they happen. SSE event names: delta,
// tools, done, error, ping. done and error are terminal.
type ChatHandler struct {
	orchestrator  Orchestrator
	conversations store.ConversationStore
	cfg           config.AssistantConfig
}

func NewChatHandler(orchestrator Orchestrator, conversations store.ConversationStore, cfg config.AssistantConfig) *ChatHandler {
	return &ChatHandler{
		orchestrator:  orchestrator,
		conversations: conversations,
		cfg:           cfg,
	}
}

func (h *ChatHandler) Stream(c *gin.Context) {
	ctx := c.Request.Context()

	conversationID, err := strconv.ParseInt(c.Param("conversation_id"), 10, 64)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid conversation id"})
		return
	}

	tenantID := middleware.TenantID(c)
	conversation, err := h.conversations.GetByID(ctx, conversationID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "conversation not found"})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to load conversation"})
		return
	}
	if conversation.TenantID != tenantID {
		// Cross-tenant lookups get the same answer as a missing row.
		c.JSON(http.StatusNotFound, gin.H{"error": "conversation not found"})
		return
	}

	var req dto.ChatRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		slog.WarnContext(ctx, "invalid chat request", "error", err)
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	attachments := make([]model.AttachmentRef, 0, len(req.Attachments))
	for _, att := range req.Attachments {
		attachments = append(attachments, model.AttachmentRef{
			ID:       att.ID,
			Filename: att.Filename,
			MimeType: att.MimeType,
		})
	}

	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	events, err := h.orchestrator.Run(runCtx, brain.RunRequest{
		TenantID:       tenantID,
		UserID:         middleware.UserID(c),
		ConversationID: conversationID,
		Message:        req.Message,
		Attachments:    attachments,
	})
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	setSSEHeaders(c.Writer)
	flusher, ok := c.Writer.(http.Flusher)
	if !ok {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "streaming not supported"})
		return
	}

	sseWrite(c.Writer, "ping", "ready")
	flusher.Flush()

	h.relay(c, runCtx, cancel, events, flusher)
}

// relay pumps orchestrator events onto the wire until a terminal event,
// client disconnect, or the idle watchdog fires. After cancel the writer
// is never touched again.
func (h *ChatHandler) relay(c *gin.Context, runCtx context.Context, cancel context.CancelFunc, events <-chan brain.Event, flusher http.Flusher) {
	heartbeat := time.NewTicker(h.heartbeatInterval())
	defer heartbeat.Stop()

	watchdog := time.NewTimer(h.watchdogInterval())
	defer watchdog.Stop()

	clientClosed := c.Request.Context().Done()

	for {
		select {
		case <-clientClosed:
			// The orchestrator observes runCtx and finalizes on its own.
			cancel()
			return

		case <-watchdog.C:
			slog.WarnContext(runCtx, "idle watchdog fired, aborting run")
			cancel()
			sseWrite(c.Writer, "error", dto.ErrorFrame{Error: "the assistant stopped responding, please retry"})
			flusher.Flush()
			return

		case <-heartbeat.C:
			sseWrite(c.Writer, "ping", time.Now().UTC().Format(time.RFC3339Nano))
			flusher.Flush()

		case event, ok := <-events:
			if !ok {
				return
			}
			if !watchdog.Stop() {
				select {
				case <-watchdog.C:
				default:
				}
			}
			watchdog.Reset(h.watchdogInterval())

			switch event.Kind {
			case brain.EventTextDelta:
				sseWrite(c.Writer, "delta", dto.DeltaFrame{Text: event.TextDelta})
			case brain.EventToolsInvoked:
				sseWrite(c.Writer, "tools", dto.ToolsFrame{Tools: event.ToolNames})
			case brain.EventDone:
				sseWrite(c.Writer, "done", dto.DoneFrame{Tools: event.ToolCounts})
				flusher.Flush()
				return
			case brain.EventError:
				sseWrite(c.Writer, "error", dto.ErrorFrame{
					Error:       event.Err.Error(),
					RateLimited: event.RateLimited,
				})
				flusher.Flush()
				return
			}
			flusher.Flush()
		}
	}
}

func (h *ChatHandler) heartbeatInterval() time.Duration {
	if h.cfg.HeartbeatSecs > 0 {
		return time.Duration(h.cfg.HeartbeatSecs) * time.Second
	}
	return 15 * time.Second
}

func (h *ChatHandler) watchdogInterval() time.Duration {
	if h.cfg.IdleWatchdogSecs > 0 {
		return time.Duration(h.cfg.IdleWatchdogSecs) * time.Second
	}
	return 45 * time.Second
}
