package dto

import (
	"encoding/json"
	"time"

	"propflow.app/assist/internal/model"
)

type EscalationResponse struct {
	ID             int64           `json:"id,string"`
	ConversationID int64           `json:"conversation_id,string"`
	Capability     string          `json:"capability"`
	Arguments      json.RawMessage `json:"arguments"`
	Status         string          `json:"status"`
	CreatedAt      time.Time       `json:"created_at"`
}

func ToEscalationResponse(esc model.Escalation) EscalationResponse {
	return EscalationResponse{
		ID:             esc.ID,
		ConversationID: esc.ConversationID,
		Capability:     esc.Capability,
		Arguments:      esc.Arguments,
		Status:         string(esc.Status),
		CreatedAt:      esc.CreatedAt,
	}
}

type DecideEscalationRequest struct {
	Decision string `json:"decision" binding:"required,oneof=approve reject"`
}
