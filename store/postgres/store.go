// Package postgres provides a PostgreSQL implementation of store.Store.
package postgres

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"sync/atomic"

	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq"
	"github.com/rbaliyan/messenger/store"
)

// Compile-time check
var _ store.Store = (*Store)(nil)

// Store implements store.Store using PostgreSQL.
type Store struct {
	db        *sqlx.DB
	opts      *options
	connected int32
	logger    *slog.Logger
}

// New creates a new PostgreSQL store with the provided database connection.
// Call Connect() to initialize the schema and indexes.
func New(db *sqlx.DB, opts ...Option) *Store {
	o := newOptions(opts...)
	return &Store{
		db:     db,
		opts:   o,
		logger: o.logger,
	}
}

// NewFromDB creates a new PostgreSQL store from a standard sql.DB connection.
// This wraps the sql.DB with sqlx for enhanced functionality.
func NewFromDB(db *sql.DB, opts ...Option) *Store {
	return New(sqlx.NewDb(db, "postgres"), opts...)
}

// Table name helpers.

func (s *Store) conversationsTable() string { return s.opts.prefix + "_conversations" }
func (s *Store) messagesTable() string      { return s.opts.prefix + "_messages" }
func (s *Store) notificationsTable() string { return s.opts.prefix + "_notifications" }
func (s *Store) settingsTable() string      { return s.opts.prefix + "_notification_settings" }

// Connect initializes the schema and indexes.
func (s *Store) Connect(ctx context.Context) error {
	if !atomic.CompareAndSwapInt32(&s.connected, 0, 1) {
		return store.ErrAlreadyConnected
	}

	if s.db == nil {
		atomic.StoreInt32(&s.connected, 0)
		return fmt.Errorf("postgres: db is required")
	}

	ctx, cancel := context.WithTimeout(ctx, s.opts.timeout)
	defer cancel()

	if err := s.db.PingContext(ctx); err != nil {
		atomic.StoreInt32(&s.connected, 0)
		return fmt.Errorf("postgres ping: %w", err)
	}

	if err := s.ensureSchema(ctx); err != nil {
		atomic.StoreInt32(&s.connected, 0)
		return fmt.Errorf("ensure schema: %w", err)
	}

	s.logger.Info("connected to PostgreSQL", "prefix", s.opts.prefix)
	return nil
}

// Close marks the store as disconnected.
// The caller is responsible for closing the database connection.
func (s *Store) Close(ctx context.Context) error {
	if atomic.LoadInt32(&s.connected) == 0 {
		return nil
	}
	atomic.StoreInt32(&s.connected, 0)
	return nil
}

// ensureSchema creates the required tables and indexes.
func (s *Store) ensureSchema(ctx context.Context) error {
	conversations := fmt.Sprintf(`
		CREATE TABLE IF NOT EXISTS %s (
			id UUID PRIMARY KEY DEFAULT gen_random_uuid(),
			participant_low VARCHAR(255) NOT NULL,
			participant_high VARCHAR(255) NOT NULL,
			last_message_id UUID,
			last_message_at TIMESTAMPTZ,
			created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
			CONSTRAINT %s_pair_unique UNIQUE (participant_low, participant_high)
		)
	`, s.conversationsTable(), s.conversationsTable())

	if _, err := s.db.ExecContext(ctx, conversations); err != nil {
		return fmt.Errorf("create conversations table: %w", err)
	}

	// seq is the server-assigned ordering key; client timestamps never
	// reorder the stored sequence.
	messages := fmt.Sprintf(`
		CREATE TABLE IF NOT EXISTS %s (
			id UUID PRIMARY KEY DEFAULT gen_random_uuid(),
			conversation_id UUID NOT NULL REFERENCES %s(id),
			sender_id VARCHAR(255) NOT NULL,
			receiver_id VARCHAR(255) NOT NULL,
			content TEXT NOT NULL DEFAULT '',
			message_type VARCHAR(20) NOT NULL DEFAULT 'text',
			attachment JSONB,
			reply_to_id UUID,
			is_read BOOLEAN NOT NULL DEFAULT FALSE,
			read_at TIMESTAMPTZ,
			is_deleted BOOLEAN NOT NULL DEFAULT FALSE,
			deleted_by VARCHAR(255),
			deleted_at TIMESTAMPTZ,
			seq BIGSERIAL,
			created_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
		)
	`, s.messagesTable(), s.conversationsTable())

	if _, err := s.db.ExecContext(ctx, messages); err != nil {
		return fmt.Errorf("create messages table: %w", err)
	}

	notifications := fmt.Sprintf(`
		CREATE TABLE IF NOT EXISTS %s (
			id UUID PRIMARY KEY DEFAULT gen_random_uuid(),
			user_id VARCHAR(255) NOT NULL,
			notification_type VARCHAR(50) NOT NULL,
			title TEXT NOT NULL DEFAULT '',
			message TEXT NOT NULL DEFAULT '',
			link TEXT NOT NULL DEFAULT '',
			is_read BOOLEAN NOT NULL DEFAULT FALSE,
			read_at TIMESTAMPTZ,
			created_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
		)
	`, s.notificationsTable())

	if _, err := s.db.ExecContext(ctx, notifications); err != nil {
		return fmt.Errorf("create notifications table: %w", err)
	}

	settings := fmt.Sprintf(`
		CREATE TABLE IF NOT EXISTS %s (
			user_id VARCHAR(255) PRIMARY KEY,
			comment_enabled BOOLEAN NOT NULL DEFAULT TRUE,
			like_enabled BOOLEAN NOT NULL DEFAULT TRUE,
			mention_enabled BOOLEAN NOT NULL DEFAULT TRUE,
			follow_enabled BOOLEAN NOT NULL DEFAULT TRUE,
			reply_enabled BOOLEAN NOT NULL DEFAULT TRUE,
			system_enabled BOOLEAN NOT NULL DEFAULT TRUE,
			push_enabled BOOLEAN NOT NULL DEFAULT TRUE,
			updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
		)
	`, s.settingsTable())

	if _, err := s.db.ExecContext(ctx, settings); err != nil {
		return fmt.Errorf("create notification settings table: %w", err)
	}

	indexes := []string{
		fmt.Sprintf(`CREATE INDEX IF NOT EXISTS idx_%s_low ON %s(participant_low)`, s.conversationsTable(), s.conversationsTable()),
		fmt.Sprintf(`CREATE INDEX IF NOT EXISTS idx_%s_high ON %s(participant_high)`, s.conversationsTable(), s.conversationsTable()),
		fmt.Sprintf(`CREATE INDEX IF NOT EXISTS idx_%s_activity ON %s(last_message_at DESC)`, s.conversationsTable(), s.conversationsTable()),
		fmt.Sprintf(`CREATE INDEX IF NOT EXISTS idx_%s_conv_seq ON %s(conversation_id, seq DESC)`, s.messagesTable(), s.messagesTable()),
		fmt.Sprintf(`CREATE INDEX IF NOT EXISTS idx_%s_receiver_unread ON %s(receiver_id) WHERE is_read = FALSE AND is_deleted = FALSE`, s.messagesTable(), s.messagesTable()),
		fmt.Sprintf(`CREATE INDEX IF NOT EXISTS idx_%s_user_created ON %s(user_id, created_at DESC)`, s.notificationsTable(), s.notificationsTable()),
		fmt.Sprintf(`CREATE INDEX IF NOT EXISTS idx_%s_user_unread ON %s(user_id) WHERE is_read = FALSE`, s.notificationsTable(), s.notificationsTable()),
		fmt.Sprintf(`CREATE INDEX IF NOT EXISTS idx_%s_created ON %s(created_at)`, s.notificationsTable(), s.notificationsTable()),
	}

	for _, idx := range indexes {
		if _, err := s.db.ExecContext(ctx, idx); err != nil {
			s.logger.Warn("failed to create index", "error", err, "sql", idx)
		}
	}

	return nil
}

// checkConnected returns error if not connected.
func (s *Store) checkConnected() error {
	if atomic.LoadInt32(&s.connected) == 0 {
		return store.ErrNotConnected
	}
	return nil
}
