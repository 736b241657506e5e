package router

import (
	"github.com/gin-gonic/gin"

	"propflow.app/assist/internal/http/handler"
)

func ConversationRouter(rg *gin.RouterGroup, h *handler.ConversationHandler, chat *handler.ChatHandler) {
	rg.POST("", h.Create)
	rg.GET("", h.List)
	rg.GET("/:conversation_id/messages", h.Messages)
	rg.POST("/:conversation_id/chat", chat.Stream)
}
