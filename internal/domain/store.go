package domain

import "context"

// ConversationStore handles durable storage of conversations and messages.
// The relay only needs create/find/append/delete with timestamp ordering;
// schema and locking are the implementation's concern.
type ConversationStore interface {
	CreateConversation(ctx context.Context, title string) (*Conversation, error)
	GetConversation(ctx context.Context, id string) (*Conversation, error)
	ListConversations(ctx context.Context) ([]ConversationSummary, error)
	DeleteConversation(ctx context.Context, id string) error

	// AppendMessage stores one immutable message and refreshes the owning
	// conversation's UpdatedAt.
	AppendMessage(ctx context.Context, convID string, role Role, content string) (*Message, error)

	// Messages returns the most recent limit messages in chronological
	// order; limit <= 0 means no bound.
	Messages(ctx context.Context, convID string, limit int) ([]Message, error)

	Close() error
}
