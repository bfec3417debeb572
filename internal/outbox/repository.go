// Package outbox persists direct messages that still need to be delivered.
// The scheduler claims pending rows and hands them to asynq for retries.
package outbox

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

type Status string

const (
	StatusPending        Status = "pending"
	StatusEnqueued       Status = "enqueued"
	StatusProcessing     Status = "processing"
	StatusSucceeded      Status = "succeeded"
	StatusFailed         Status = "failed"
	errRepoNotConfigured        = "outbox repository not configured"
)

// KindHandoffDM is the hand-off direct message of a transition.
const KindHandoffDM = "handoff_dm"

type Record struct {
	ID             uuid.UUID
	ExperienceID   string
	WhopUserID     string
	ConversationID *uuid.UUID
	Kind           string
	Content        string
	RunAt          time.Time
	Status         Status
	Attempts       int
}

type InsertParams struct {
	ExperienceID   string
	WhopUserID     string
	ConversationID *uuid.UUID
	Kind           string
	Content        string
	RunAt          time.Time
	Status         Status // optional; defaults to pending
	LastError      *string
}

type Repository struct {
	pool *pgxpool.Pool
}

func New(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

func (r *Repository) Insert(ctx context.Context, p InsertParams) (uuid.UUID, error) {
	if r == nil || r.pool == nil {
		return uuid.Nil, errors.New(errRepoNotConfigured)
	}
	if p.ExperienceID == "" {
		return uuid.Nil, fmt.Errorf("experienceId is required")
	}
	if p.WhopUserID == "" {
		return uuid.Nil, fmt.Errorf("whopUserId is required")
	}
	if p.Kind == "" {
		return uuid.Nil, fmt.Errorf("kind is required")
	}
	if p.RunAt.IsZero() {
		p.RunAt = time.Now().UTC()
	}
	status := p.Status
	if status == "" {
		status = StatusPending
	}

	var id uuid.UUID
	err := r.pool.QueryRow(ctx,
		`INSERT INTO dm_outbox (experience_id, whop_user_id, conversation_id, kind, content, run_at, status, last_error)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		 RETURNING id`,
		p.ExperienceID, p.WhopUserID, p.ConversationID, p.Kind, p.Content, p.RunAt, string(status), p.LastError,
	).Scan(&id)
	if err != nil {
		return uuid.Nil, err
	}
	return id, nil
}

func (r *Repository) GetByID(ctx context.Context, id uuid.UUID) (Record, error) {
	if r == nil || r.pool == nil {
		return Record{}, errors.New(errRepoNotConfigured)
	}

	var rec Record
	var status string
	err := r.pool.QueryRow(ctx,
		`SELECT id, experience_id, whop_user_id, conversation_id, kind, content, run_at, status, attempts
		 FROM dm_outbox
		 WHERE id = $1`,
		id,
	).Scan(&rec.ID, &rec.ExperienceID, &rec.WhopUserID, &rec.ConversationID, &rec.Kind, &rec.Content, &rec.RunAt, &status, &rec.Attempts)
	if err != nil {
		return Record{}, err
	}
	rec.Status = Status(status)
	return rec, nil
}

func (r *Repository) ClaimPending(ctx context.Context, limit int) ([]Record, error) {
	if r == nil || r.pool == nil {
		return nil, errors.New(errRepoNotConfigured)
	}
	if limit < 1 {
		limit = 50
	}

	tx, err := r.pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return nil, err
	}
	defer func() { _ = tx.Rollback(ctx) }()

	rows, err := tx.Query(ctx, `WITH cte AS (
		SELECT id
		FROM dm_outbox
		WHERE status = 'pending' AND run_at <= now()
		ORDER BY run_at ASC
		LIMIT $1
		FOR UPDATE SKIP LOCKED
	)
	UPDATE dm_outbox o
	SET status = 'enqueued', updated_at = now()
	FROM cte
	WHERE o.id = cte.id
	RETURNING o.id, o.experience_id, o.whop_user_id, o.conversation_id, o.kind, o.content, o.run_at, o.status, o.attempts`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var results []Record
	for rows.Next() {
		var rec Record
		var status string
		if err := rows.Scan(&rec.ID, &rec.ExperienceID, &rec.WhopUserID, &rec.ConversationID, &rec.Kind, &rec.Content, &rec.RunAt, &status, &rec.Attempts); err != nil {
			return nil, err
		}
		rec.Status = Status(status)
		results = append(results, rec)
	}
	if rows.Err() != nil {
		return nil, rows.Err()
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, err
	}
	return results, nil
}

// MarkPending puts a row back in the queue, optionally delayed until runAt.
func (r *Repository) MarkPending(ctx context.Context, id uuid.UUID, lastError *string, runAt time.Time) error {
	if r == nil || r.pool == nil {
		return errors.New(errRepoNotConfigured)
	}
	if runAt.IsZero() {
		runAt = time.Now().UTC()
	}
	_, err := r.pool.Exec(ctx,
		`UPDATE dm_outbox
		 SET status = 'pending', last_error = $2, run_at = $3, updated_at = now()
		 WHERE id = $1`,
		id, lastError, runAt,
	)
	return err
}

func (r *Repository) MarkProcessing(ctx context.Context, id uuid.UUID) error {
	if r == nil || r.pool == nil {
		return errors.New(errRepoNotConfigured)
	}
	_, err := r.pool.Exec(ctx,
		`UPDATE dm_outbox
		 SET status = 'processing', attempts = attempts + 1, updated_at = now()
		 WHERE id = $1`,
		id,
	)
	return err
}

func (r *Repository) MarkSucceeded(ctx context.Context, id uuid.UUID) error {
	if r == nil || r.pool == nil {
		return errors.New(errRepoNotConfigured)
	}
	_, err := r.pool.Exec(ctx,
		`UPDATE dm_outbox
		 SET status = 'succeeded', last_error = NULL, updated_at = now()
		 WHERE id = $1`,
		id,
	)
	return err
}

func (r *Repository) MarkFailed(ctx context.Context, id uuid.UUID, lastError string) error {
	if r == nil || r.pool == nil {
		return errors.New(errRepoNotConfigured)
	}
	_, err := r.pool.Exec(ctx,
		`UPDATE dm_outbox
		 SET status = 'failed', last_error = $2, updated_at = now()
		 WHERE id = $1`,
		id, lastError,
	)
	return err
}
