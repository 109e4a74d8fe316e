package domain

import "time"

// Role identifies the author of a message.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
	RoleSystem    Role = "system"
)

// Valid reports whether r is one of the known roles.
func (r Role) Valid() bool {
	switch r {
	case RoleUser, RoleAssistant, RoleSystem:
		return true
	}
	return false
}

// Conversation is a persisted chat thread. Title is derived from the first
// user message and never mutated afterwards; UpdatedAt is refreshed on every
// message append so the index stays ordered by recent activity.
type Conversation struct {
	ID        string    `json:"id"`
	Title     string    `json:"title"`
	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
}

// Message is one persisted turn entry. Messages are immutable once stored and
// totally ordered by CreatedAt within their conversation.
type Message struct {
	ID             string    `json:"id"`
	ConversationID string    `json:"conversationId"`
	Role           Role      `json:"role"`
	Content        string    `json:"content"`
	CreatedAt      time.Time `json:"createdAt"`
}

// ConversationSummary is the index-listing shape: metadata plus message count,
// without the message bodies.
type ConversationSummary struct {
	ID           string    `json:"id"`
	Title        string    `json:"title"`
	CreatedAt    time.Time `json:"createdAt"`
	UpdatedAt    time.Time `json:"updatedAt"`
	MessageCount int       `json:"messageCount"`
}

// Attachment is a transient inline image. The binary payload travels only for
// the single provider round-trip; history stores a textual placeholder.
type Attachment struct {
	Type   string `json:"type"`
	Base64 string `json:"base64"`
	Name   string `json:"name,omitempty"`
}

// Document is pre-extracted text from an uploaded file. Extraction happens
// upstream; the relay only concatenates the text into the user message.
type Document struct {
	Name    string `json:"name"`
	Content string `json:"content"`
	Type    string `json:"type,omitempty"`
}
