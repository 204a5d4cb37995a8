package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/capitalize-ai/livechat-relay/internal/model"
)

const schema = `
CREATE TABLE IF NOT EXISTS conversations (
	id         TEXT PRIMARY KEY,
	status     TEXT NOT NULL DEFAULT 'ACTIVE',
	created_at TIMESTAMPTZ NOT NULL DEFAULT now(),
	updated_at TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE TABLE IF NOT EXISTS messages (
	id              TEXT PRIMARY KEY,
	conversation_id TEXT NOT NULL REFERENCES conversations(id) ON DELETE CASCADE,
	content         TEXT NOT NULL,
	type            TEXT NOT NULL,
	created_at      TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE INDEX IF NOT EXISTS messages_conversation_created_idx
	ON messages (conversation_id, created_at);
`

// PostgresStore persists to PostgreSQL through a pgx connection pool.
type PostgresStore struct {
	pool *pgxpool.Pool
}

// NewPostgresStore connects to databaseURL and applies the schema.
func NewPostgresStore(ctx context.Context, databaseURL string) (*PostgresStore, error) {
	pool, err := pgxpool.New(ctx, databaseURL)
	if err != nil {
		return nil, fmt.Errorf("failed to create pool: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to reach database: %w", err)
	}

	if _, err := pool.Exec(ctx, schema); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to apply schema: %w", err)
	}

	return &PostgresStore{pool: pool}, nil
}

// CreateConversation inserts a conversation or returns the existing one.
func (s *PostgresStore) CreateConversation(ctx context.Context, id string) (*model.Conversation, error) {
	if id == "" {
		id = uuid.Must(uuid.NewV7()).String()
	}

	_, err := s.pool.Exec(ctx,
		`INSERT INTO conversations (id, status) VALUES ($1, $2) ON CONFLICT (id) DO NOTHING`,
		id, string(model.StatusActive))
	if err != nil {
		return nil, wrap("create conversation", err)
	}

	return s.GetConversation(ctx, id)
}

// GetConversation loads one conversation.
func (s *PostgresStore) GetConversation(ctx context.Context, id string) (*model.Conversation, error) {
	var (
		conv   model.Conversation
		status string
	)
	err := s.pool.QueryRow(ctx,
		`SELECT id, status, created_at, updated_at FROM conversations WHERE id = $1`, id,
	).Scan(&conv.ID, &status, &conv.CreatedAt, &conv.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, wrap("get conversation", err)
	}
	conv.Status = model.ConversationStatus(status)
	return &conv, nil
}

// AppendMessage inserts a message in one transaction with its conversation row.
func (s *PostgresStore) AppendMessage(ctx context.Context, conversationID, content string, sender model.SenderType) (*model.Message, error) {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return nil, wrap("append message", err)
	}
	defer tx.Rollback(ctx)

	_, err = tx.Exec(ctx,
		`INSERT INTO conversations (id, status) VALUES ($1, $2) ON CONFLICT (id) DO NOTHING`,
		conversationID, string(model.StatusActive))
	if err != nil {
		return nil, wrap("append message", err)
	}

	msg := &model.Message{
		ID:             uuid.Must(uuid.NewV7()).String(),
		ConversationID: conversationID,
		Content:        content,
		Type:           sender,
	}
	err = tx.QueryRow(ctx,
		`INSERT INTO messages (id, conversation_id, content, type) VALUES ($1, $2, $3, $4) RETURNING created_at`,
		msg.ID, msg.ConversationID, msg.Content, string(msg.Type),
	).Scan(&msg.CreatedAt)
	if err != nil {
		return nil, wrap("append message", err)
	}

	if _, err := tx.Exec(ctx,
		`UPDATE conversations SET updated_at = $2 WHERE id = $1`, conversationID, msg.CreatedAt,
	); err != nil {
		return nil, wrap("append message", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, wrap("append message", err)
	}
	return msg, nil
}

// UpdateConversationStatus sets the status of an existing conversation.
func (s *PostgresStore) UpdateConversationStatus(ctx context.Context, conversationID string, status model.ConversationStatus) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE conversations SET status = $2, updated_at = $3 WHERE id = $1`,
		conversationID, string(status), time.Now())
	if err != nil {
		return wrap("update conversation status", err)
	}
	if tag.RowsAffected() == 0 {
		return wrap("update conversation status", ErrNotFound)
	}
	return nil
}

// ListMessages returns the newest limit messages, oldest first. limit <= 0 means all.
func (s *PostgresStore) ListMessages(ctx context.Context, conversationID string, limit int) ([]model.Message, error) {
	var lim any
	if limit > 0 {
		lim = limit
	}

	rows, err := s.pool.Query(ctx, `
		SELECT id, conversation_id, content, type, created_at FROM (
			SELECT id, conversation_id, content, type, created_at
			FROM messages
			WHERE conversation_id = $1
			ORDER BY created_at DESC, id DESC
			LIMIT $2
		) recent
		ORDER BY created_at ASC, id ASC`, conversationID, lim)
	if err != nil {
		return nil, wrap("list messages", err)
	}
	defer rows.Close()

	messages := make([]model.Message, 0)
	for rows.Next() {
		var (
			m      model.Message
			sender string
		)
		if err := rows.Scan(&m.ID, &m.ConversationID, &m.Content, &sender, &m.CreatedAt); err != nil {
			return nil, wrap("list messages", err)
		}
		m.Type = model.SenderType(sender)
		messages = append(messages, m)
	}
	if err := rows.Err(); err != nil {
		return nil, wrap("list messages", err)
	}
	return messages, nil
}

// Ping checks database connectivity.
func (s *PostgresStore) Ping(ctx context.Context) error {
	return s.pool.Ping(ctx)
}

// Close closes the pool.
func (s *PostgresStore) Close() {
	s.pool.Close()
}
