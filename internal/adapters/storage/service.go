// Package storage wraps the S3-compatible store that keeps deployed flow
// snapshots.
package storage

import (
	"context"
	"io"
	"time"
)

// PresignedURL contains the URL and metadata for a presigned download.
type PresignedURL struct {
	URL       string    `json:"url"`
	FileKey   string    `json:"fileKey"`
	ExpiresAt time.Time `json:"expiresAt"`
}

// StorageService defines the object storage operations used by the application.
type StorageService interface {
	// PutObject writes an object under an exact key, replacing any previous one.
	PutObject(ctx context.Context, bucket, key, contentType string, reader io.Reader, size int64) error

	// GetObject streams an object. The caller closes the reader.
	GetObject(ctx context.Context, bucket, key string) (io.ReadCloser, error)

	// ObjectExists reports whether key is present without downloading it.
	ObjectExists(ctx context.Context, bucket, key string) (bool, error)

	// GenerateDownloadURL creates a presigned URL for downloading an object.
	GenerateDownloadURL(ctx context.Context, bucket, key string) (*PresignedURL, error)

	// EnsureBucketExists creates the bucket if it doesn't exist.
	EnsureBucketExists(ctx context.Context, bucket string) error
}

// Config defines the configuration interface for storage.
type Config interface {
	GetMinIOEndpoint() string
	GetMinIOAccessKey() string
	GetMinIOSecretKey() string
	GetMinIOUseSSL() bool
	IsMinIOEnabled() bool
}
