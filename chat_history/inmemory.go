package chat_history

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
)

// InMemoryChatHistoryStorage is an in-memory implementation of ChatHistoryStorage
type InMemoryChatHistoryStorage struct {
	conversations map[uuid.UUID]*ChatHistory
	mu            sync.RWMutex
}

// NewInMemoryChatHistoryStorage creates a new instance of InMemoryChatHistoryStorage
func NewInMemoryChatHistoryStorage() *InMemoryChatHistoryStorage {
	return &InMemoryChatHistoryStorage{
		conversations: make(map[uuid.UUID]*ChatHistory),
	}
}

func (s *InMemoryChatHistoryStorage) CreateChat(ctx context.Context) (*ChatHistory, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	chat := &ChatHistory{
		UUID:      uuid.New(),
		Messages:  []ChatHistoryMessage{},
		CreatedAt: time.Now().UTC(),
	}
	s.conversations[chat.UUID] = chat
	return copyChat(chat, true), nil
}

func (s *InMemoryChatHistoryStorage) AddMessage(ctx context.Context, chatID uuid.UUID, message ChatHistoryMessage) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	chat, exists := s.conversations[chatID]
	if !exists {
		return fmt.Errorf("%w: %s", ErrChatNotFound, chatID)
	}
	chat.Messages = append(chat.Messages, message)
	return nil
}

func (s *InMemoryChatHistoryStorage) GetChat(ctx context.Context, chatID uuid.UUID) (*ChatHistory, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	chat, exists := s.conversations[chatID]
	if !exists {
		return nil, fmt.Errorf("%w: %s", ErrChatNotFound, chatID)
	}
	return copyChat(chat, true), nil
}

// ListChatHistories returns the chats newest first.
func (s *InMemoryChatHistoryStorage) ListChatHistories(ctx context.Context) ([]ChatHistory, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	chats := make([]ChatHistory, 0, len(s.conversations))
	for _, chat := range s.conversations {
		chats = append(chats, *copyChat(chat, false))
	}
	sort.Slice(chats, func(i, j int) bool { return chats[i].CreatedAt.After(chats[j].CreatedAt) })
	return chats, nil
}

func (s *InMemoryChatHistoryStorage) DeleteChat(ctx context.Context, chatID uuid.UUID) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.conversations[chatID]; !exists {
		return fmt.Errorf("%w: %s", ErrChatNotFound, chatID)
	}
	delete(s.conversations, chatID)
	return nil
}

func copyChat(chat *ChatHistory, withMessages bool) *ChatHistory {
	out := &ChatHistory{UUID: chat.UUID, CreatedAt: chat.CreatedAt, Messages: []ChatHistoryMessage{}}
	if withMessages {
		out.Messages = append(out.Messages, chat.Messages...)
	}
	return out
}
