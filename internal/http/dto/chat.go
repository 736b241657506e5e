package dto

type AttachmentRef struct {
	ID       string `json:"id" binding:"required,max=128"`
	Filename string `json:"filename" binding:"required,max=512"`
	MimeType string `json:"mime_type,omitempty" binding:"omitempty,max=255"`
}

type ChatRequest struct {
	Message     string          `json:"message" binding:"omitempty,max=8000"`
	Attachments []AttachmentRef `json:"attachments,omitempty" binding:"omitempty,max=10,dive"`
}

// SSE frame payloads. One frame kind per event name on the wire.

type DeltaFrame struct {
	Text string `json:"text"`
}

type ToolsFrame struct {
	Tools []string `json:"tools"`
}

type DoneFrame struct {
	Tools map[string]int `json:"tools,omitempty"`
}

type ErrorFrame struct {
	Error       string `json:"error"`
	RateLimited bool   `json:"rate_limited,omitempty"`
}
