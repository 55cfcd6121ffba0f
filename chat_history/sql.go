package chat_history

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	_ "github.com/lib/pq"
	_ "github.com/mattn/go-sqlite3"
	"github.com/shaharia-lab/mcpstdio/observability"
)

// Dialect names a supported SQL backend. Values are database/sql driver names.
type Dialect string

const (
	DialectSQLite   Dialect = "sqlite3"
	DialectPostgres Dialect = "postgres"
)

var schemas = map[Dialect][]string{
	DialectSQLite: {
		`CREATE TABLE IF NOT EXISTS chats (
			uuid TEXT PRIMARY KEY,
			created_at DATETIME NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS messages (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			chat_uuid TEXT NOT NULL REFERENCES chats(uuid) ON DELETE CASCADE,
			role TEXT NOT NULL,
			text TEXT NOT NULL,
			generated_at DATETIME NOT NULL,
			metadata TEXT NOT NULL DEFAULT '{}'
		)`,
		`CREATE INDEX IF NOT EXISTS idx_messages_chat_uuid ON messages (chat_uuid)`,
	},
	DialectPostgres: {
		`CREATE TABLE IF NOT EXISTS chats (
			uuid TEXT PRIMARY KEY,
			created_at TIMESTAMPTZ NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS messages (
			id BIGSERIAL PRIMARY KEY,
			chat_uuid TEXT NOT NULL REFERENCES chats(uuid) ON DELETE CASCADE,
			role TEXT NOT NULL,
			text TEXT NOT NULL,
			generated_at TIMESTAMPTZ NOT NULL,
			metadata TEXT NOT NULL DEFAULT '{}'
		)`,
		`CREATE INDEX IF NOT EXISTS idx_messages_chat_uuid ON messages (chat_uuid)`,
	},
}

// SQLStorage is a ChatHistoryStorage over database/sql.
type SQLStorage struct {
	db      *sql.DB
	dialect Dialect
	logger  observability.Logger
}

// Open connects to dsn with driver ("sqlite3" or "postgres") and prepares the schema.
func Open(ctx context.Context, driver, dsn string, logger observability.Logger) (*SQLStorage, error) {
	dialect := Dialect(driver)
	if _, ok := schemas[dialect]; !ok {
		return nil, fmt.Errorf("unsupported history driver %q", driver)
	}

	db, err := sql.Open(driver, dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open %s database: %w", driver, err)
	}
	if dialect == DialectSQLite {
		// One writer avoids SQLITE_BUSY between pooled connections.
		db.SetMaxOpenConns(1)
	}

	storage, err := NewSQLStorage(ctx, db, dialect, logger)
	if err != nil {
		db.Close()
		return nil, err
	}
	return storage, nil
}

// NewSQLStorage wraps an open database and creates missing tables.
func NewSQLStorage(ctx context.Context, db *sql.DB, dialect Dialect, logger observability.Logger) (*SQLStorage, error) {
	if _, ok := schemas[dialect]; !ok {
		return nil, fmt.Errorf("unsupported history dialect %q", dialect)
	}
	if logger == nil {
		logger = observability.NewNullLogger()
	}

	s := &SQLStorage{db: db, dialect: dialect, logger: logger}
	if err := s.initSchema(ctx); err != nil {
		return nil, fmt.Errorf("failed to initialize database schema: %w", err)
	}
	return s, nil
}

func (s *SQLStorage) initSchema(ctx context.Context) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction for schema init: %w", err)
	}
	defer tx.Rollback()

	for _, stmt := range schemas[s.dialect] {
		if _, err := tx.ExecContext(ctx, stmt); err != nil {
			return err
		}
	}
	return tx.Commit()
}

// rebind rewrites ? placeholders for dialects that number them.
func (s *SQLStorage) rebind(query string) string {
	if s.dialect != DialectPostgres {
		return query
	}
	var b strings.Builder
	n := 0
	for _, r := range query {
		if r == '?' {
			n++
			b.WriteByte('$')
			b.WriteString(strconv.Itoa(n))
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}

func (s *SQLStorage) CreateChat(ctx context.Context) (*ChatHistory, error) {
	chat := &ChatHistory{
		UUID:      uuid.New(),
		Messages:  []ChatHistoryMessage{},
		CreatedAt: time.Now().UTC(),
	}

	_, err := s.db.ExecContext(ctx, s.rebind(`INSERT INTO chats (uuid, created_at) VALUES (?, ?)`),
		chat.UUID.String(), chat.CreatedAt)
	if err != nil {
		return nil, fmt.Errorf("failed to insert new chat (uuid: %s): %w", chat.UUID, err)
	}

	s.logger.WithFields(map[string]interface{}{"chatID": chat.UUID.String()}).Debug("Chat created")
	return chat, nil
}

// AddMessage inserts message after checking, in the same transaction, that the chat exists.
func (s *SQLStorage) AddMessage(ctx context.Context, chatID uuid.UUID, message ChatHistoryMessage) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction for adding message: %w", err)
	}
	defer tx.Rollback()

	if err := chatExists(ctx, tx, s.rebind(`SELECT COUNT(*) FROM chats WHERE uuid = ?`), chatID); err != nil {
		return err
	}

	metadata := message.Metadata
	if metadata == nil {
		metadata = map[string]string{}
	}
	metadataJSON, err := json.Marshal(metadata)
	if err != nil {
		return fmt.Errorf("failed to marshal message metadata: %w", err)
	}

	generatedAt := message.GeneratedAt
	if generatedAt.IsZero() {
		generatedAt = time.Now()
	}

	_, err = tx.ExecContext(ctx,
		s.rebind(`INSERT INTO messages (chat_uuid, role, text, generated_at, metadata) VALUES (?, ?, ?, ?, ?)`),
		chatID.String(), string(message.Role), message.Text, generatedAt.UTC(), string(metadataJSON))
	if err != nil {
		return fmt.Errorf("failed to insert message: %w", err)
	}
	return tx.Commit()
}

func chatExists(ctx context.Context, tx *sql.Tx, query string, chatID uuid.UUID) error {
	var count int
	if err := tx.QueryRowContext(ctx, query, chatID.String()).Scan(&count); err != nil {
		return fmt.Errorf("failed to check chat existence: %w", err)
	}
	if count == 0 {
		return fmt.Errorf("%w: %s", ErrChatNotFound, chatID)
	}
	return nil
}

// GetChat returns the chat with its messages in insertion order.
func (s *SQLStorage) GetChat(ctx context.Context, chatID uuid.UUID) (*ChatHistory, error) {
	chat := &ChatHistory{UUID: chatID, Messages: []ChatHistoryMessage{}}

	err := s.db.QueryRowContext(ctx, s.rebind(`SELECT created_at FROM chats WHERE uuid = ?`), chatID.String()).
		Scan(&chat.CreatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("%w: %s", ErrChatNotFound, chatID)
		}
		return nil, fmt.Errorf("failed to query chat: %w", err)
	}

	rows, err := s.db.QueryContext(ctx,
		s.rebind(`SELECT role, text, generated_at, metadata FROM messages WHERE chat_uuid = ? ORDER BY id ASC`),
		chatID.String())
	if err != nil {
		return nil, fmt.Errorf("failed to query messages: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var (
			message      ChatHistoryMessage
			role         string
			metadataJSON string
		)
		if err := rows.Scan(&role, &message.Text, &message.GeneratedAt, &metadataJSON); err != nil {
			return nil, fmt.Errorf("failed to scan message row: %w", err)
		}
		message.Role = Role(role)
		if metadataJSON != "" && metadataJSON != "{}" {
			if err := json.Unmarshal([]byte(metadataJSON), &message.Metadata); err != nil {
				return nil, fmt.Errorf("failed to unmarshal message metadata: %w", err)
			}
		}
		chat.Messages = append(chat.Messages, message)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating message rows: %w", err)
	}
	return chat, nil
}

// ListChatHistories returns the chats newest first, without messages.
func (s *SQLStorage) ListChatHistories(ctx context.Context) ([]ChatHistory, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT uuid, created_at FROM chats ORDER BY created_at DESC`)
	if err != nil {
		return nil, fmt.Errorf("failed to query chats: %w", err)
	}
	defer rows.Close()

	chats := []ChatHistory{}
	for rows.Next() {
		var (
			chat ChatHistory
			id   string
		)
		if err := rows.Scan(&id, &chat.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan chat row: %w", err)
		}
		if chat.UUID, err = uuid.Parse(id); err != nil {
			return nil, fmt.Errorf("invalid chat uuid %q: %w", id, err)
		}
		chat.Messages = []ChatHistoryMessage{}
		chats = append(chats, chat)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating chat rows: %w", err)
	}
	return chats, nil
}

// DeleteChat removes the chat and its messages in one transaction.
func (s *SQLStorage) DeleteChat(ctx context.Context, chatID uuid.UUID) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction for deleting chat: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, s.rebind(`DELETE FROM messages WHERE chat_uuid = ?`), chatID.String()); err != nil {
		return fmt.Errorf("failed to delete messages: %w", err)
	}
	res, err := tx.ExecContext(ctx, s.rebind(`DELETE FROM chats WHERE uuid = ?`), chatID.String())
	if err != nil {
		return fmt.Errorf("failed to delete chat: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to delete chat: %w", err)
	}
	if n == 0 {
		return fmt.Errorf("%w: %s", ErrChatNotFound, chatID)
	}
	return tx.Commit()
}

// Close closes the database connection
func (s *SQLStorage) Close() error {
	return s.db.Close()
}
