package service

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"funnel_builder_backend/internal/adapters/storage"
	"funnel_builder_backend/internal/funnel/domain"

	"github.com/google/uuid"
)

// FlowArchiver keeps an immutable copy of every deployed flow version.
type FlowArchiver interface {
	Archive(ctx context.Context, f domain.Funnel) (string, error)
	DownloadURL(ctx context.Context, experienceID string, funnelID uuid.UUID, version int) (*storage.PresignedURL, error)
}

// ArchiveKey is the object key of one funnel version snapshot.
func ArchiveKey(experienceID string, funnelID uuid.UUID, version int) string {
	return fmt.Sprintf("funnels/%s/%s/v%d.json", experienceID, funnelID, version)
}

type archiveDocument struct {
	FunnelID          uuid.UUID                 `json:"funnelId"`
	ExperienceID      string                    `json:"experienceId"`
	Name              string                    `json:"name"`
	Version           int                       `json:"version"`
	Flow              *domain.Flow              `json:"flow"`
	AppTrigger        *domain.AppTrigger        `json:"appTrigger,omitempty"`
	MembershipTrigger *domain.MembershipTrigger `json:"membershipTrigger,omitempty"`
	TargetFunnelID    *uuid.UUID                `json:"targetFunnelId,omitempty"`
}

// ObjectArchiver writes flow snapshots to object storage.
type ObjectArchiver struct {
	store  storage.StorageService
	bucket string
}

// NewObjectArchiver returns nil when store is nil, which disables archiving.
func NewObjectArchiver(store storage.StorageService, bucket string) *ObjectArchiver {
	if store == nil || bucket == "" {
		return nil
	}
	return &ObjectArchiver{store: store, bucket: bucket}
}

// Archive uploads the funnel's current flow under its version key.
func (a *ObjectArchiver) Archive(ctx context.Context, f domain.Funnel) (string, error) {
	body, err := json.MarshalIndent(archiveDocument{
		FunnelID:          f.ID,
		ExperienceID:      f.ExperienceID,
		Name:              f.Name,
		Version:           f.Version,
		Flow:              f.Flow,
		AppTrigger:        f.AppTrigger,
		MembershipTrigger: f.MembershipTrigger,
		TargetFunnelID:    f.TargetFunnelID,
	}, "", "  ")
	if err != nil {
		return "", fmt.Errorf("marshal archive: %w", err)
	}
	key := ArchiveKey(f.ExperienceID, f.ID, f.Version)
	if err := a.store.PutObject(ctx, a.bucket, key, "application/json", bytes.NewReader(body), int64(len(body))); err != nil {
		return "", err
	}
	return key, nil
}

// ErrSnapshotMissing is returned when a version was deployed while archiving
// was disabled or its upload failed.
var ErrSnapshotMissing = errors.New("flow snapshot not archived")

// DownloadURL presigns a snapshot download.
func (a *ObjectArchiver) DownloadURL(ctx context.Context, experienceID string, funnelID uuid.UUID, version int) (*storage.PresignedURL, error) {
	key := ArchiveKey(experienceID, funnelID, version)
	ok, err := a.store.ObjectExists(ctx, a.bucket, key)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, ErrSnapshotMissing
	}
	return a.store.GenerateDownloadURL(ctx, a.bucket, key)
}
