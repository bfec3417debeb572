// Package webhook receives Whop membership webhooks, authenticates them with
// per-experience API keys and feeds them to the orchestrator.
package webhook

import (
	"context"
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

var ErrAPIKeyNotFound = errors.New("webhook API key not found")

// APIKey represents a webhook API key stored in the database.
type APIKey struct {
	ID           uuid.UUID
	ExperienceID string
	Name         string
	KeyHash      string
	KeyPrefix    string
	IsActive     bool
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

// KeyStore looks up active API keys.
type KeyStore interface {
	GetByHash(ctx context.Context, keyHash string) (APIKey, error)
}

// Repository provides data access for webhook API keys and deliveries.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository creates a new webhook repository.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

// GenerateAPIKey creates a new random API key and returns the plaintext key and its hash.
// The plaintext key is returned only once; only the hash is stored.
func GenerateAPIKey() (plaintext string, hash string, prefix string, err error) {
	bytes := make([]byte, 32)
	if _, err := rand.Read(bytes); err != nil {
		return "", "", "", err
	}
	plaintext = "whk_" + hex.EncodeToString(bytes)
	prefix = plaintext[:12] // "whk_" + 8 hex chars
	return plaintext, HashKey(plaintext), prefix, nil
}

// HashKey hashes a plaintext API key for lookup.
func HashKey(plaintext string) string {
	h := sha256.Sum256([]byte(plaintext))
	return hex.EncodeToString(h[:])
}

const apiKeyColumns = `id, experience_id, name, key_hash, key_prefix, is_active, created_at, updated_at`

func scanAPIKey(row pgx.Row) (APIKey, error) {
	var key APIKey
	err := row.Scan(&key.ID, &key.ExperienceID, &key.Name, &key.KeyHash, &key.KeyPrefix,
		&key.IsActive, &key.CreatedAt, &key.UpdatedAt)
	return key, err
}

// Create creates a new API key record.
func (r *Repository) Create(ctx context.Context, experienceID, name, keyHash, keyPrefix string) (APIKey, error) {
	return scanAPIKey(r.pool.QueryRow(ctx, `
		INSERT INTO webhook_api_keys (experience_id, name, key_hash, key_prefix)
		VALUES ($1, $2, $3, $4)
		RETURNING `+apiKeyColumns, experienceID, name, keyHash, keyPrefix))
}

// GetByHash retrieves an active API key by its hash.
func (r *Repository) GetByHash(ctx context.Context, keyHash string) (APIKey, error) {
	key, err := scanAPIKey(r.pool.QueryRow(ctx, `
		SELECT `+apiKeyColumns+`
		FROM webhook_api_keys
		WHERE key_hash = $1 AND is_active = true
	`, keyHash))
	if errors.Is(err, pgx.ErrNoRows) {
		return APIKey{}, ErrAPIKeyNotFound
	}
	return key, err
}

// ListByExperience returns all API keys for an experience.
func (r *Repository) ListByExperience(ctx context.Context, experienceID string) ([]APIKey, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT `+apiKeyColumns+`
		FROM webhook_api_keys
		WHERE experience_id = $1
		ORDER BY created_at DESC
	`, experienceID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var keys []APIKey
	for rows.Next() {
		key, err := scanAPIKey(rows)
		if err != nil {
			return nil, err
		}
		keys = append(keys, key)
	}
	return keys, rows.Err()
}

// Revoke deactivates an API key.
func (r *Repository) Revoke(ctx context.Context, keyID uuid.UUID, experienceID string) error {
	tag, err := r.pool.Exec(ctx, `
		UPDATE webhook_api_keys SET is_active = false, updated_at = now()
		WHERE id = $1 AND experience_id = $2
	`, keyID, experienceID)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrAPIKeyNotFound
	}
	return nil
}

// FirstDelivery records a delivery ID and reports whether it was new.
func (r *Repository) FirstDelivery(ctx context.Context, deliveryID, experienceID, action string) (bool, error) {
	tag, err := r.pool.Exec(ctx, `
		INSERT INTO webhook_deliveries (delivery_id, experience_id, action)
		VALUES ($1, $2, $3)
		ON CONFLICT (delivery_id) DO NOTHING
	`, deliveryID, experienceID, action)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() == 1, nil
}
