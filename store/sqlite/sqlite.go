// Package sqlite persists messenger runtime state (poll offset, per-chat
// provider locks) in a local SQLite file. Pure Go, zero CGO.
package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"relay"

	_ "modernc.org/sqlite" // pure-Go SQLite driver
)

// Option configures a Store.
type Option func(*Store)

// WithLogger sets a structured logger for the store.
func WithLogger(l *slog.Logger) Option {
	return func(s *Store) {
		if l != nil {
			s.log = l
		}
	}
}

// ChatLock is the persisted provider selection of one chat.
type ChatLock struct {
	ChatID       string
	Provider     relay.ProviderID
	ModelID      string
	LastUpdateAt int64
}

// Store holds bot runtime state backed by a local SQLite file.
type Store struct {
	db  *sql.DB
	log *slog.Logger
}

var nopLogger = slog.New(discardHandler{})

type discardHandler struct{}

func (discardHandler) Enabled(context.Context, slog.Level) bool  { return false }
func (discardHandler) Handle(context.Context, slog.Record) error { return nil }
func (d discardHandler) WithAttrs([]slog.Attr) slog.Handler      { return d }
func (d discardHandler) WithGroup(string) slog.Handler           { return d }

// New opens the store at dbPath. A single shared connection serializes all
// writers, avoiding SQLITE_BUSY from concurrent connections.
func New(dbPath string, opts ...Option) *Store {
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		// sql.Open only fails when the driver is not registered; with the
		// blank import above that never happens.
		panic(fmt.Sprintf("sqlite: open driver: %v", err))
	}
	db.SetMaxOpenConns(1)
	s := &Store{db: db, log: nopLogger}
	for _, o := range opts {
		o(s)
	}
	s.log.Debug("sqlite: bot state opened", "path", dbPath)
	return s
}

// Init creates the required tables.
func (s *Store) Init(ctx context.Context) error {
	tables := []string{
		`CREATE TABLE IF NOT EXISTS bot_state (
			key TEXT PRIMARY KEY,
			value TEXT NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS chat_locks (
			chat_id TEXT PRIMARY KEY,
			provider TEXT NOT NULL,
			model_id TEXT,
			updated_at INTEGER NOT NULL
		)`,
	}
	for _, ddl := range tables {
		if _, err := s.db.ExecContext(ctx, ddl); err != nil {
			return fmt.Errorf("create table: %w", err)
		}
	}
	return nil
}

// Close releases the database handle.
func (s *Store) Close() error { return s.db.Close() }

// Offset returns the last persisted update offset, zero when unset.
func (s *Store) Offset(ctx context.Context) (int64, error) {
	var v int64
	err := s.db.QueryRowContext(ctx,
		`SELECT CAST(value AS INTEGER) FROM bot_state WHERE key = 'update_offset'`).Scan(&v)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("read offset: %w", err)
	}
	return v, nil
}

// SaveOffset persists the update offset.
func (s *Store) SaveOffset(ctx context.Context, offset int64) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO bot_state (key, value) VALUES ('update_offset', ?)
		 ON CONFLICT(key) DO UPDATE SET value = excluded.value`,
		fmt.Sprintf("%d", offset))
	if err != nil {
		return fmt.Errorf("save offset: %w", err)
	}
	return nil
}

// Lock returns the provider lock of a chat, ok=false when the chat is in
// auto mode.
func (s *Store) Lock(ctx context.Context, chatID string) (ChatLock, bool, error) {
	var lock ChatLock
	var model sql.NullString
	err := s.db.QueryRowContext(ctx,
		`SELECT chat_id, provider, model_id, updated_at FROM chat_locks WHERE chat_id = ?`,
		chatID).Scan(&lock.ChatID, &lock.Provider, &model, &lock.LastUpdateAt)
	if errors.Is(err, sql.ErrNoRows) {
		return ChatLock{}, false, nil
	}
	if err != nil {
		return ChatLock{}, false, fmt.Errorf("read chat lock: %w", err)
	}
	lock.ModelID = model.String
	return lock, true, nil
}

// SaveLock upserts the provider lock of a chat.
func (s *Store) SaveLock(ctx context.Context, lock ChatLock) error {
	if lock.LastUpdateAt == 0 {
		lock.LastUpdateAt = time.Now().UnixMilli()
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO chat_locks (chat_id, provider, model_id, updated_at)
		 VALUES (?, ?, ?, ?)
		 ON CONFLICT(chat_id) DO UPDATE SET
		   provider = excluded.provider,
		   model_id = excluded.model_id,
		   updated_at = excluded.updated_at`,
		lock.ChatID, string(lock.Provider), lock.ModelID, lock.LastUpdateAt)
	if err != nil {
		return fmt.Errorf("save chat lock: %w", err)
	}
	s.log.Debug("sqlite: chat lock saved", "chat", lock.ChatID, "provider", lock.Provider)
	return nil
}

// ClearLock returns the chat to auto mode.
func (s *Store) ClearLock(ctx context.Context, chatID string) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM chat_locks WHERE chat_id = ?`, chatID)
	if err != nil {
		return fmt.Errorf("clear chat lock: %w", err)
	}
	return nil
}
