package store

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"

	"github.com/user/llmgate/pkg/llm"
)

// titleLimit caps the chat title derived from the first user message.
const titleLimit = 200

// SQLiteStore implements Store using SQLite, creating the schema on
// open.
type SQLiteStore struct {
	db     *sql.DB
	logger *slog.Logger
}

// NewSQLiteStore opens (or creates) the database at path. Parent
// directories are created if needed; WAL mode is enabled for concurrent
// readers.
func NewSQLiteStore(path string) (*SQLiteStore, error) {
	logger := slog.Default().With("component", "store")

	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return nil, fmt.Errorf("creating database directory: %w", err)
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("enabling WAL mode: %w", err)
	}
	if _, err := db.Exec("PRAGMA foreign_keys=ON"); err != nil {
		db.Close()
		return nil, fmt.Errorf("enabling foreign keys: %w", err)
	}

	s := &SQLiteStore{db: db, logger: logger}
	if err := s.createSchema(); err != nil {
		db.Close()
		return nil, fmt.Errorf("creating schema: %w", err)
	}

	logger.Info("store initialized", "path", path)
	return s, nil
}

func (s *SQLiteStore) createSchema() error {
	schema := `
		CREATE TABLE IF NOT EXISTS chats (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			user_id TEXT NOT NULL,
			user_name TEXT,
			username TEXT,
			provider TEXT NOT NULL DEFAULT 'openai',
			title TEXT,
			created_at DATETIME NOT NULL,
			updated_at DATETIME NOT NULL
		);

		CREATE INDEX IF NOT EXISTS idx_chats_user
			ON chats(user_id, provider, updated_at);

		CREATE TABLE IF NOT EXISTS messages (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			chat_id INTEGER NOT NULL,
			role TEXT NOT NULL,
			content TEXT NOT NULL,
			provider TEXT,
			temperature REAL,
			max_tokens INTEGER,
			created_at DATETIME NOT NULL,
			FOREIGN KEY (chat_id) REFERENCES chats(id)
		);

		CREATE INDEX IF NOT EXISTS idx_messages_chat
			ON messages(chat_id, created_at);
	`
	_, err := s.db.Exec(schema)
	return err
}

// CreateOrReuseChat returns the user's most recent chat for the
// provider, creating one if none exists, and bumps its updated_at.
func (s *SQLiteStore) CreateOrReuseChat(ctx context.Context, user UserInfo, provider string) (int64, error) {
	now := time.Now().UTC()

	var id int64
	err := s.db.QueryRowContext(ctx,
		`SELECT id FROM chats WHERE user_id = ? AND provider = ? ORDER BY updated_at DESC LIMIT 1`,
		user.UserID, provider).Scan(&id)
	switch {
	case err == sql.ErrNoRows:
		res, err := s.db.ExecContext(ctx,
			`INSERT INTO chats (user_id, user_name, username, provider, created_at, updated_at)
			 VALUES (?, ?, ?, ?, ?, ?)`,
			user.UserID, user.UserName, user.Username, provider, now, now)
		if err != nil {
			return 0, fmt.Errorf("creating chat: %w", err)
		}
		return res.LastInsertId()
	case err != nil:
		return 0, fmt.Errorf("looking up chat: %w", err)
	}

	if _, err := s.db.ExecContext(ctx,
		`UPDATE chats SET updated_at = ? WHERE id = ?`, now, id); err != nil {
		return 0, fmt.Errorf("touching chat: %w", err)
	}
	return id, nil
}

// AppendMessage records one turn and sets the chat title from the first
// user message.
func (s *SQLiteStore) AppendMessage(ctx context.Context, chatID int64, role llm.Role, content, provider string, opts llm.Options) error {
	now := time.Now().UTC()
	if _, err := s.db.ExecContext(ctx,
		`INSERT INTO messages (chat_id, role, content, provider, temperature, max_tokens, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?)`,
		chatID, string(role), content, provider, opts.Temperature, opts.MaxOutputTokens, now); err != nil {
		return fmt.Errorf("appending message: %w", err)
	}

	if role == llm.RoleUser {
		title := content
		if len(title) > titleLimit {
			title = title[:titleLimit]
		}
		if _, err := s.db.ExecContext(ctx,
			`UPDATE chats SET title = ? WHERE id = ? AND (title IS NULL OR title = '')`,
			title, chatID); err != nil {
			// Title is cosmetic; the message itself is already saved.
			s.logger.Warn("setting chat title failed", "chat_id", chatID, "error", err)
		}
	}
	return nil
}

// LoadHistory returns the chat's turns in chronological order.
func (s *SQLiteStore) LoadHistory(ctx context.Context, chatID int64, limit int) (llm.Conversation, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT role, content FROM messages WHERE chat_id = ? ORDER BY created_at ASC, id ASC LIMIT ?`,
		chatID, limit)
	if err != nil {
		return nil, fmt.Errorf("loading history: %w", err)
	}
	defer rows.Close()

	var conv llm.Conversation
	for rows.Next() {
		var role, content string
		if err := rows.Scan(&role, &content); err != nil {
			return nil, fmt.Errorf("scanning history row: %w", err)
		}
		conv = append(conv, llm.Turn{Role: llm.Role(role), Content: content})
	}
	return conv, rows.Err()
}

// ListChats returns the user's most recently updated chats.
func (s *SQLiteStore) ListChats(ctx context.Context, userID string, limit int) ([]*Chat, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT c.id, c.user_id, COALESCE(c.user_name, ''), COALESCE(c.username, ''),
		        c.provider, COALESCE(c.title, ''), c.created_at, c.updated_at,
		        (SELECT COUNT(*) FROM messages m WHERE m.chat_id = c.id)
		 FROM chats c WHERE c.user_id = ? ORDER BY c.updated_at DESC LIMIT ?`,
		userID, limit)
	if err != nil {
		return nil, fmt.Errorf("listing chats: %w", err)
	}
	defer rows.Close()

	var chats []*Chat
	for rows.Next() {
		c := &Chat{}
		if err := rows.Scan(&c.ID, &c.UserID, &c.UserName, &c.Username,
			&c.Provider, &c.Title, &c.CreatedAt, &c.UpdatedAt, &c.MessageCount); err != nil {
			return nil, fmt.Errorf("scanning chat row: %w", err)
		}
		chats = append(chats, c)
	}
	return chats, rows.Err()
}

// GetChat returns one chat by id, or nil when absent.
func (s *SQLiteStore) GetChat(ctx context.Context, chatID int64) (*Chat, error) {
	c := &Chat{}
	err := s.db.QueryRowContext(ctx,
		`SELECT c.id, c.user_id, COALESCE(c.user_name, ''), COALESCE(c.username, ''),
		        c.provider, COALESCE(c.title, ''), c.created_at, c.updated_at,
		        (SELECT COUNT(*) FROM messages m WHERE m.chat_id = c.id)
		 FROM chats c WHERE c.id = ?`, chatID).
		Scan(&c.ID, &c.UserID, &c.UserName, &c.Username,
			&c.Provider, &c.Title, &c.CreatedAt, &c.UpdatedAt, &c.MessageCount)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("getting chat: %w", err)
	}
	return c, nil
}

// Messages returns the chat's messages in chronological order.
func (s *SQLiteStore) Messages(ctx context.Context, chatID int64, limit int) ([]*Message, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, chat_id, role, content, COALESCE(provider, ''),
		        COALESCE(temperature, 0), COALESCE(max_tokens, 0), created_at
		 FROM messages WHERE chat_id = ? ORDER BY created_at ASC, id ASC LIMIT ?`,
		chatID, limit)
	if err != nil {
		return nil, fmt.Errorf("listing messages: %w", err)
	}
	defer rows.Close()

	var msgs []*Message
	for rows.Next() {
		m := &Message{}
		if err := rows.Scan(&m.ID, &m.ChatID, &m.Role, &m.Content,
			&m.Provider, &m.Temperature, &m.MaxTokens, &m.CreatedAt); err != nil {
			return nil, fmt.Errorf("scanning message row: %w", err)
		}
		msgs = append(msgs, m)
	}
	return msgs, rows.Err()
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}
