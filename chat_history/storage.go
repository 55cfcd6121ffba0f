package chat_history

import (
	"context"

	"github.com/google/uuid"
)

// ChatHistoryStorage defines the interface for conversation history storage
type ChatHistoryStorage interface {
	// CreateChat initializes a new chat conversation
	CreateChat(ctx context.Context) (*ChatHistory, error)

	// AddMessage appends a message to an existing conversation
	AddMessage(ctx context.Context, chatID uuid.UUID, message ChatHistoryMessage) error

	// GetChat retrieves a conversation with its messages
	GetChat(ctx context.Context, chatID uuid.UUID) (*ChatHistory, error)

	// ListChatHistories returns all stored conversations without their messages
	ListChatHistories(ctx context.Context) ([]ChatHistory, error)

	// DeleteChat removes a conversation and its messages
	DeleteChat(ctx context.Context, chatID uuid.UUID) error
}
