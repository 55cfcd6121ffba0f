package chat_history

import (
	"errors"
	"time"

	"github.com/google/uuid"
)

// Role is who produced a message.
type Role string

const (
	RoleSystem    Role = "system"
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
	RoleTool      Role = "tool"
)

// ChatHistoryMessage is one entry of a transcript.
type ChatHistoryMessage struct {
	Role        Role              `json:"role"`
	Text        string            `json:"text"`
	GeneratedAt time.Time         `json:"generated_at"`
	Metadata    map[string]string `json:"metadata,omitempty"`
}

// ChatHistory is a transcript and its messages in insertion order.
type ChatHistory struct {
	UUID      uuid.UUID            `json:"uuid"`
	Messages  []ChatHistoryMessage `json:"messages"`
	CreatedAt time.Time            `json:"created_at"`
}

// ErrChatNotFound is returned for operations on an unknown chat.
var ErrChatNotFound = errors.New("chat not found")
