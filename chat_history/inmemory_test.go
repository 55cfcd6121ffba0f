package chat_history

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewInMemoryChatHistoryStorage(t *testing.T) {
	storage := NewInMemoryChatHistoryStorage()
	assert.NotNil(t, storage)
	assert.NotNil(t, storage.conversations)
}

func TestInMemoryChatHistoryStorage_CreateChat(t *testing.T) {
	storage := NewInMemoryChatHistoryStorage()
	ctx := context.Background()

	chat, err := storage.CreateChat(ctx)

	require.NoError(t, err)
	assert.NotEqual(t, uuid.Nil, chat.UUID)
	assert.Empty(t, chat.Messages)
	assert.NotZero(t, chat.CreatedAt)

	_, exists := storage.conversations[chat.UUID]
	assert.True(t, exists)
}

func TestInMemoryChatHistoryStorage_AddMessage(t *testing.T) {
	storage := NewInMemoryChatHistoryStorage()
	ctx := context.Background()
	chat, err := storage.CreateChat(ctx)
	require.NoError(t, err)

	tests := []struct {
		name    string
		chatID  uuid.UUID
		wantErr error
	}{
		{name: "existing chat", chatID: chat.UUID},
		{name: "unknown chat", chatID: uuid.New(), wantErr: ErrChatNotFound},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := storage.AddMessage(ctx, tt.chatID, ChatHistoryMessage{
				Role:        RoleUser,
				Text:        "test message",
				GeneratedAt: time.Now(),
			})
			if tt.wantErr != nil {
				assert.True(t, errors.Is(err, tt.wantErr))
				return
			}
			assert.NoError(t, err)
		})
	}

	got, err := storage.GetChat(ctx, chat.UUID)
	require.NoError(t, err)
	require.Len(t, got.Messages, 1)
	assert.Equal(t, "test message", got.Messages[0].Text)
}

func TestInMemoryChatHistoryStorage_GetChatReturnsCopy(t *testing.T) {
	storage := NewInMemoryChatHistoryStorage()
	ctx := context.Background()
	chat, _ := storage.CreateChat(ctx)
	require.NoError(t, storage.AddMessage(ctx, chat.UUID, ChatHistoryMessage{Role: RoleUser, Text: "one"}))

	got, err := storage.GetChat(ctx, chat.UUID)
	require.NoError(t, err)
	got.Messages[0].Text = "changed"
	got.Messages = append(got.Messages, ChatHistoryMessage{Role: RoleAssistant, Text: "extra"})

	again, err := storage.GetChat(ctx, chat.UUID)
	require.NoError(t, err)
	require.Len(t, again.Messages, 1)
	assert.Equal(t, "one", again.Messages[0].Text)
}

func TestInMemoryChatHistoryStorage_ListAndDelete(t *testing.T) {
	storage := NewInMemoryChatHistoryStorage()
	ctx := context.Background()

	first, _ := storage.CreateChat(ctx)
	time.Sleep(time.Millisecond)
	second, _ := storage.CreateChat(ctx)
	require.NoError(t, storage.AddMessage(ctx, first.UUID, ChatHistoryMessage{Role: RoleUser, Text: "hi"}))

	chats, err := storage.ListChatHistories(ctx)
	require.NoError(t, err)
	require.Len(t, chats, 2)
	assert.Equal(t, second.UUID, chats[0].UUID)
	assert.Equal(t, first.UUID, chats[1].UUID)
	assert.Empty(t, chats[1].Messages)

	require.NoError(t, storage.DeleteChat(ctx, first.UUID))
	_, err = storage.GetChat(ctx, first.UUID)
	assert.ErrorIs(t, err, ErrChatNotFound)
	assert.ErrorIs(t, storage.DeleteChat(ctx, first.UUID), ErrChatNotFound)

	chats, err = storage.ListChatHistories(ctx)
	require.NoError(t, err)
	assert.Len(t, chats, 1)
}
