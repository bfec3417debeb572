// Package repository persists conversations, messages and interactions.
package repository

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"funnel_builder_backend/platform/apperr"
	"funnel_builder_backend/platform/db"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

const (
	opInsertConversation = "conversation.repository.insert"
	opGetConversation    = "conversation.repository.get"
	opFindActive         = "conversation.repository.find_active"
	opUpdateProgress     = "conversation.repository.update_progress"
	opUpdateStatus       = "conversation.repository.update_status"
	opListIdle           = "conversation.repository.list_idle"
	opInsertMessage      = "conversation.repository.insert_message"
	opListMessages       = "conversation.repository.list_messages"
	opInsertInteraction  = "conversation.repository.insert_interaction"
	opListInteractions   = "conversation.repository.list_interactions"

	msgConversationNotFound = "conversation not found"
)

const conversationColumns = `id, experience_id, whop_user_id, funnel_id, status, current_block_id,
	user_path, metadata, last_activity_at, created_at, updated_at`

type dbtx interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

type queries struct {
	db dbtx
}

// Repo implements Repository on Postgres.
type Repo struct {
	queries
	pool *pgxpool.Pool
}

// New creates a new conversation repository.
func New(pool *pgxpool.Pool) *Repo {
	return &Repo{queries: queries{db: pool}, pool: pool}
}

var _ Repository = (*Repo)(nil)

// WithTx runs fn against a transaction-scoped Store.
func (r *Repo) WithTx(ctx context.Context, fn func(Store) error) error {
	return db.WithTx(ctx, r.pool, func(tx pgx.Tx) error {
		return fn(&queries{db: tx})
	})
}

func scanConversation(row pgx.Row) (Conversation, error) {
	var (
		c      Conversation
		status string
		mdRaw  []byte
	)
	if err := row.Scan(&c.ID, &c.ExperienceID, &c.WhopUserID, &c.FunnelID, &status, &c.CurrentBlockID,
		&c.UserPath, &mdRaw, &c.LastActivityAt, &c.CreatedAt, &c.UpdatedAt); err != nil {
		return Conversation{}, err
	}
	c.Status = Status(status)
	if len(mdRaw) > 0 {
		if err := json.Unmarshal(mdRaw, &c.Metadata); err != nil {
			return Conversation{}, fmt.Errorf("decode conversation metadata: %w", err)
		}
	}
	return c, nil
}

func (q *queries) InsertConversation(ctx context.Context, p CreateConversationParams) (Conversation, error) {
	md, err := json.Marshal(p.Metadata)
	if err != nil {
		return Conversation{}, fmt.Errorf("%s: encode metadata: %w", opInsertConversation, err)
	}
	path := p.UserPath
	if path == nil {
		path = []string{}
	}

	row := q.db.QueryRow(ctx, `
		INSERT INTO conversations (experience_id, whop_user_id, funnel_id, status, current_block_id, user_path, metadata)
		VALUES ($1, $2, $3, 'active', $4, $5, $6)
		RETURNING `+conversationColumns,
		p.ExperienceID, p.WhopUserID, p.FunnelID, p.CurrentBlockID, path, md)
	c, err := scanConversation(row)
	if err != nil {
		if db.IsUniqueViolation(err, ActiveConversationIndex) {
			return Conversation{}, ErrActiveConversationExists
		}
		return Conversation{}, fmt.Errorf("%s: %w", opInsertConversation, err)
	}
	return c, nil
}

func (q *queries) getConversation(ctx context.Context, id uuid.UUID, lock bool) (Conversation, error) {
	query := `SELECT ` + conversationColumns + ` FROM conversations WHERE id = $1`
	if lock {
		query += ` FOR UPDATE`
	}
	c, err := scanConversation(q.db.QueryRow(ctx, query, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return Conversation{}, apperr.NotFound(msgConversationNotFound).WithOp(opGetConversation)
	}
	if err != nil {
		return Conversation{}, fmt.Errorf("%s: %w", opGetConversation, err)
	}
	return c, nil
}

func (q *queries) GetConversation(ctx context.Context, id uuid.UUID) (Conversation, error) {
	return q.getConversation(ctx, id, false)
}

func (q *queries) GetConversationForUpdate(ctx context.Context, id uuid.UUID) (Conversation, error) {
	return q.getConversation(ctx, id, true)
}

func (q *queries) FindActive(ctx context.Context, experienceID, whopUserID string) (*Conversation, error) {
	c, err := scanConversation(q.db.QueryRow(ctx, `
		SELECT `+conversationColumns+`
		FROM conversations
		WHERE experience_id = $1 AND whop_user_id = $2 AND status = 'active'`,
		experienceID, whopUserID))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("%s: %w", opFindActive, err)
	}
	return &c, nil
}

func (q *queries) UpdateProgress(ctx context.Context, p ProgressParams) error {
	_, err := q.db.Exec(ctx, `
		UPDATE conversations
		SET current_block_id = $2, user_path = $3, status = $4,
		    last_activity_at = now(), updated_at = now()
		WHERE id = $1`,
		p.ID, p.CurrentBlockID, p.UserPath, string(p.Status))
	if err != nil {
		return fmt.Errorf("%s: %w", opUpdateProgress, err)
	}
	return nil
}

func (q *queries) UpdateStatusIfActive(ctx context.Context, id uuid.UUID, status Status) (bool, error) {
	tag, err := q.db.Exec(ctx, `
		UPDATE conversations SET status = $2, updated_at = now()
		WHERE id = $1 AND status = 'active'`, id, string(status))
	if err != nil {
		return false, fmt.Errorf("%s: %w", opUpdateStatus, err)
	}
	return tag.RowsAffected() == 1, nil
}

func (q *queries) UpdateStatusAndMetadata(ctx context.Context, id uuid.UUID, status Status, md Metadata) error {
	raw, err := json.Marshal(md)
	if err != nil {
		return fmt.Errorf("%s: encode metadata: %w", opUpdateStatus, err)
	}
	_, err = q.db.Exec(ctx, `
		UPDATE conversations SET status = $2, metadata = $3, last_activity_at = now(), updated_at = now()
		WHERE id = $1`, id, string(status), raw)
	if err != nil {
		return fmt.Errorf("%s: %w", opUpdateStatus, err)
	}
	return nil
}

func (q *queries) ListIdleActive(ctx context.Context, before time.Time, limit int) ([]Conversation, error) {
	if limit < 1 {
		limit = 100
	}
	rows, err := q.db.Query(ctx, `
		SELECT `+conversationColumns+`
		FROM conversations
		WHERE status = 'active' AND last_activity_at < $1
		ORDER BY last_activity_at ASC
		LIMIT $2`, before, limit)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", opListIdle, err)
	}
	defer rows.Close()

	items := make([]Conversation, 0)
	for rows.Next() {
		c, err := scanConversation(rows)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", opListIdle, err)
		}
		items = append(items, c)
	}
	return items, rows.Err()
}

func scanMessage(row pgx.Row) (Message, error) {
	var (
		m     Message
		typ   string
		mdRaw []byte
	)
	if err := row.Scan(&m.ID, &m.ConversationID, &typ, &m.Content, &mdRaw, &m.CreatedAt); err != nil {
		return Message{}, err
	}
	m.Type = MessageType(typ)
	if len(mdRaw) > 0 {
		var md MessageMetadata
		if err := json.Unmarshal(mdRaw, &md); err != nil {
			return Message{}, fmt.Errorf("decode message metadata: %w", err)
		}
		m.Metadata = &md
	}
	return m, nil
}

func (q *queries) InsertMessage(ctx context.Context, p MessageParams) (Message, error) {
	var md []byte
	if p.Metadata != nil {
		raw, err := json.Marshal(p.Metadata)
		if err != nil {
			return Message{}, fmt.Errorf("%s: encode metadata: %w", opInsertMessage, err)
		}
		md = raw
	}
	m, err := scanMessage(q.db.QueryRow(ctx, `
		INSERT INTO messages (conversation_id, type, content, metadata)
		VALUES ($1, $2, $3, $4)
		RETURNING id, conversation_id, type, content, metadata, created_at`,
		p.ConversationID, string(p.Type), p.Content, md))
	if err != nil {
		return Message{}, fmt.Errorf("%s: %w", opInsertMessage, err)
	}
	return m, nil
}

func (q *queries) ListMessages(ctx context.Context, conversationID uuid.UUID) ([]Message, error) {
	rows, err := q.db.Query(ctx, `
		SELECT id, conversation_id, type, content, metadata, created_at
		FROM messages
		WHERE conversation_id = $1
		ORDER BY seq ASC`, conversationID)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", opListMessages, err)
	}
	defer rows.Close()

	items := make([]Message, 0)
	for rows.Next() {
		m, err := scanMessage(rows)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", opListMessages, err)
		}
		items = append(items, m)
	}
	return items, rows.Err()
}

func (q *queries) InsertInteraction(ctx context.Context, p InteractionParams) (Interaction, error) {
	var it Interaction
	err := q.db.QueryRow(ctx, `
		INSERT INTO funnel_interactions (conversation_id, block_id, option_text, next_block_id)
		VALUES ($1, $2, $3, $4)
		RETURNING id, conversation_id, block_id, option_text, next_block_id, created_at`,
		p.ConversationID, p.BlockID, p.OptionText, p.NextBlockID,
	).Scan(&it.ID, &it.ConversationID, &it.BlockID, &it.OptionText, &it.NextBlockID, &it.CreatedAt)
	if err != nil {
		return Interaction{}, fmt.Errorf("%s: %w", opInsertInteraction, err)
	}
	return it, nil
}

func (q *queries) ListInteractions(ctx context.Context, conversationID uuid.UUID) ([]Interaction, error) {
	rows, err := q.db.Query(ctx, `
		SELECT id, conversation_id, block_id, option_text, next_block_id, created_at
		FROM funnel_interactions
		WHERE conversation_id = $1
		ORDER BY created_at ASC, id ASC`, conversationID)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", opListInteractions, err)
	}
	defer rows.Close()

	items := make([]Interaction, 0)
	for rows.Next() {
		var it Interaction
		if err := rows.Scan(&it.ID, &it.ConversationID, &it.BlockID, &it.OptionText, &it.NextBlockID, &it.CreatedAt); err != nil {
			return nil, fmt.Errorf("%s: %w", opListInteractions, err)
		}
		items = append(items, it)
	}
	return items, rows.Err()
}
