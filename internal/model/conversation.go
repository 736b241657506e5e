package model

import "time"

// Conversation is one user's thread with the assistant. Messages hang off it
// as an append-only log.
type Conversation struct {
	ID        int64
	TenantID  string
	UserID    string
	Title     string
	Slug      string
	CreatedAt time.Time
}

// Message roles. The assistant only persists the two user-visible roles;
// system/tool turns are rebuilt per request and never stored.
const (
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

// AttachmentRef points at an uploaded file associated with a message.
type AttachmentRef struct {
	ID       string `json:"id"`
	Filename string `json:"filename"`
	MimeType string `json:"mime_type"`
}

// Message is one turn in a conversation. Immutable once stored.
type Message struct {
	ID             int64
	ConversationID int64
	TenantID       string
	Role           string
	Content        string
	Attachments    []AttachmentRef
	CreatedAt      time.Time
}

// HasAttachments reports whether any file rides along with the message.
func (m Message) HasAttachments() bool {
	return len(m.Attachments) > 0
}
