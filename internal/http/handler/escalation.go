package handler

import (
	"errors"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"propflow.app/assist/internal/http/dto"
	"propflow.app/assist/internal/http/middleware"
	"propflow.app/assist/internal/model"
	"propflow.app/assist/internal/store"
)

// EscalationHandler exposes the human-confirmation queue: pending rows and
// the approve/reject decision. Actual delivery of approved actions happens
// out of band.
type EscalationHandler struct {
	escalations store.EscalationStore
}

func NewEscalationHandler(escalations store.EscalationStore) *EscalationHandler {
	return &EscalationHandler{escalations: escalations}
}

func (h *EscalationHandler) ListPending(c *gin.Context) {
	ctx := c.Request.Context()

	pending, err := h.escalations.ListPending(ctx, middleware.TenantID(c))
	if err != nil {
		slog.ErrorContext(ctx, "listing escalations failed", "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to list escalations"})
		return
	}

	responses := make([]dto.EscalationResponse, 0, len(pending))
	for _, esc := range pending {
		responses = append(responses, dto.ToEscalationResponse(esc))
	}
	c.JSON(http.StatusOK, gin.H{"escalations": responses})
}

func (h *EscalationHandler) Decide(c *gin.Context) {
	ctx := c.Request.Context()

	escalationID, err := strconv.ParseInt(c.Param("escalation_id"), 10, 64)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid escalation id"})
		return
	}

	var req dto.DecideEscalationRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	escalation, err := h.escalations.GetByID(ctx, escalationID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "escalation not found"})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to load escalation"})
		return
	}
	if escalation.TenantID != middleware.TenantID(c) {
		c.JSON(http.StatusNotFound, gin.H{"error": "escalation not found"})
		return
	}
	if escalation.Status != model.EscalationPending {
		c.JSON(http.StatusConflict, gin.H{"error": "escalation already decided"})
		return
	}

	status := model.EscalationApproved
	if req.Decision == "reject" {
		status = model.EscalationRejected
	}
	if err := h.escalations.UpdateStatus(ctx, escalationID, status); err != nil {
		slog.ErrorContext(ctx, "updating escalation failed", "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to update escalation"})
		return
	}

	slog.InfoContext(ctx, "escalation decided",
		"escalation_id", escalationID,
		"capability", escalation.Capability,
		"decision", req.Decision)

	escalation.Status = status
	c.JSON(http.StatusOK, dto.ToEscalationResponse(*escalation))
}
