package dto

import (
	"time"

	"propflow.app/assist/internal/model"
)

type CreateConversationRequest struct {
	Title string `json:"title" binding:"omitempty,max=255"`
}

type ConversationResponse struct {
	ID        int64     `json:"id,string"`
	Title     string    `json:"title"`
	Slug      string    `json:"slug"`
	CreatedAt time.Time `json:"created_at"`
}

func ToConversationResponse(conv *model.Conversation) *ConversationResponse {
	return &ConversationResponse{
		ID:        conv.ID,
		Title:     conv.Title,
		Slug:      conv.Slug,
		CreatedAt: conv.CreatedAt,
	}
}

type MessageResponse struct {
	ID          int64           `json:"id,string"`
	Role        string          `json:"role"`
	Content     string          `json:"content"`
	Attachments []AttachmentRef `json:"attachments,omitempty"`
	CreatedAt   time.Time       `json:"created_at"`
}

func ToMessageResponse(msg model.Message) MessageResponse {
	response := MessageResponse{
		ID:        msg.ID,
		Role:      msg.Role,
		Content:   msg.Content,
		CreatedAt: msg.CreatedAt,
	}
	for _, att := range msg.Attachments {
		response.Attachments = append(response.Attachments, AttachmentRef{
			ID:       att.ID,
			Filename: att.Filename,
			MimeType: att.MimeType,
		})
	}
	return response
}
