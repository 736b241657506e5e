package router

import (
	"github.com/gin-gonic/gin"

	"propflow.app/assist/internal/http/handler"
)

func EscalationRouter(rg *gin.RouterGroup, h *handler.EscalationHandler) {
	rg.GET("", h.ListPending)
	rg.POST("/:escalation_id/decision", h.Decide)
}
