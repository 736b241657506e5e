package router

import (
	"github.com/gin-gonic/gin"

	"propflow.app/assist/core/config"
	"propflow.app/assist/internal/brain"
	"propflow.app/assist/internal/http/handler"
	"propflow.app/assist/internal/http/middleware"
	"propflow.app/assist/internal/store"
)

func SetupRoutes(router *gin.Engine, stores *store.Stores, orchestrator *brain.Orchestrator, cfg config.AssistantConfig) {
	router.GET("/health", func(c *gin.Context) {
		c.JSON(200, gin.H{"status": "ok"})
	})

	v1 := router.Group("/api/v1")
	v1.Use(middleware.Identity())
	{
		conversationHandler := handler.NewConversationHandler(stores.Conversations(), stores.Messages())
		chatHandler := handler.NewChatHandler(orchestrator, stores.Conversations(), cfg)
		ConversationRouter(v1.Group("/conversations"), conversationHandler, chatHandler)

		escalationHandler := handler.NewEscalationHandler(stores.Escalations())
		EscalationRouter(v1.Group("/escalations"), escalationHandler)
	}
}
