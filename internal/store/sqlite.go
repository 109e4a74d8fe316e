// Package store persists conversations and messages in SQLite.
package store

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"

	"chatrelay/internal/domain"

	_ "modernc.org/sqlite"
)

// SQLiteStore implements domain.ConversationStore using SQLite.
type SQLiteStore struct {
	db     *sql.DB
	logger *slog.Logger
}

func NewSQLiteStore(dbPath string, logger *slog.Logger) (*SQLiteStore, error) {
	dir := filepath.Dir(dbPath)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("cannot create database directory %s: %w", dir, err)
	}

	db, err := sql.Open("sqlite", dbPath+"?_journal_mode=WAL&_busy_timeout=5000&_foreign_keys=on")
	if err != nil {
		return nil, fmt.Errorf("cannot open database: %w", err)
	}

	// Single connection: SQLite serializes writers anyway, and one shared
	// connection keeps the foreign_keys pragma in effect everywhere.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	s := &SQLiteStore{db: db, logger: logger}

	if err := s.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("database migration failed: %w", err)
	}

	return s, nil
}

func (s *SQLiteStore) migrate() error {
	schema := `
	PRAGMA foreign_keys = ON;

	CREATE TABLE IF NOT EXISTS conversations (
		id          TEXT PRIMARY KEY,
		title       TEXT NOT NULL,
		created_at  DATETIME NOT NULL,
		updated_at  DATETIME NOT NULL
	);

	CREATE TABLE IF NOT EXISTS messages (
		seq             INTEGER PRIMARY KEY AUTOINCREMENT,
		id              TEXT NOT NULL UNIQUE,
		conversation_id TEXT NOT NULL REFERENCES conversations(id) ON DELETE CASCADE,
		role            TEXT NOT NULL,
		content         TEXT NOT NULL,
		created_at      DATETIME NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_messages_conv ON messages(conversation_id, created_at, seq);
	`

	_, err := s.db.Exec(schema)
	return err
}

func (s *SQLiteStore) CreateConversation(ctx context.Context, title string) (*domain.Conversation, error) {
	now := time.Now().UTC()
	conv := &domain.Conversation{
		ID:        uuid.NewString(),
		Title:     title,
		CreatedAt: now,
		UpdatedAt: now,
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO conversations (id, title, created_at, updated_at) VALUES (?, ?, ?, ?)`,
		conv.ID, conv.Title, conv.CreatedAt, conv.UpdatedAt,
	)
	if err != nil {
		return nil, fmt.Errorf("create conversation: %w", err)
	}
	return conv, nil
}

// GetConversation returns nil, nil when the conversation does not exist.
func (s *SQLiteStore) GetConversation(ctx context.Context, id string) (*domain.Conversation, error) {
	var conv domain.Conversation
	err := s.db.QueryRowContext(ctx,
		`SELECT id, title, created_at, updated_at FROM conversations WHERE id = ?`, id,
	).Scan(&conv.ID, &conv.Title, &conv.CreatedAt, &conv.UpdatedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &conv, nil
}

func (s *SQLiteStore) ListConversations(ctx context.Context) ([]domain.ConversationSummary, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT c.id, c.title, c.created_at, c.updated_at,
		        (SELECT COUNT(*) FROM messages m WHERE m.conversation_id = c.id)
		 FROM conversations c ORDER BY c.updated_at DESC`,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []domain.ConversationSummary
	for rows.Next() {
		var c domain.ConversationSummary
		if err := rows.Scan(&c.ID, &c.Title, &c.CreatedAt, &c.UpdatedAt, &c.MessageCount); err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

func (s *SQLiteStore) DeleteConversation(ctx context.Context, id string) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM conversations WHERE id = ?`, id)
	return err
}

func (s *SQLiteStore) AppendMessage(ctx context.Context, convID string, role domain.Role, content string) (*domain.Message, error) {
	now := time.Now().UTC()
	msg := &domain.Message{
		ID:             uuid.NewString(),
		ConversationID: convID,
		Role:           role,
		Content:        content,
		CreatedAt:      now,
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO messages (id, conversation_id, role, content, created_at)
		 VALUES (?, ?, ?, ?, ?)`,
		msg.ID, msg.ConversationID, msg.Role, msg.Content, msg.CreatedAt,
	)
	if err != nil {
		return nil, fmt.Errorf("append message: %w", err)
	}

	// Keep the index's most-recently-active ordering correct.
	if _, err := s.db.ExecContext(ctx,
		`UPDATE conversations SET updated_at = ? WHERE id = ?`, now, convID,
	); err != nil {
		s.logger.Warn("failed to refresh conversation timestamp", "conversation", convID, "err", err)
	}
	return msg, nil
}

func (s *SQLiteStore) Messages(ctx context.Context, convID string, limit int) ([]domain.Message, error) {
	query := `SELECT id, conversation_id, role, content, created_at
	          FROM messages WHERE conversation_id = ?
	          ORDER BY created_at DESC, seq DESC`
	args := []any{convID}
	if limit > 0 {
		query += ` LIMIT ?`
		args = append(args, limit)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var msgs []domain.Message
	for rows.Next() {
		var m domain.Message
		if err := rows.Scan(&m.ID, &m.ConversationID, &m.Role, &m.Content, &m.CreatedAt); err != nil {
			return nil, err
		}
		msgs = append(msgs, m)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	// Reverse to chronological order.
	for i, j := 0, len(msgs)-1; i < j; i, j = i+1, j-1 {
		msgs[i], msgs[j] = msgs[j], msgs[i]
	}
	return msgs, nil
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}
