// Package storage persists user avatars in an object store.
package storage

import (
	"context"
	"fmt"
	"io"

	"github.com/walletgate/apiserver/config"
)

// ObjectStorage defines the object operations the avatar store needs from
// a backend.
type ObjectStorage interface {
	EnsureBucket(ctx context.Context) error
	Put(ctx context.Context, key string, r io.Reader, size int64, contentType string) error
	Get(ctx context.Context, key string) (io.ReadCloser, error)
	Delete(ctx context.Context, key string) error
	Bucket() string
}

// AvatarStore keeps one avatar object per user.
type AvatarStore struct {
	backend ObjectStorage
}

// NewAvatarStore wraps an already constructed backend.
func NewAvatarStore(backend ObjectStorage) *AvatarStore {
	return &AvatarStore{backend: backend}
}

// New selects and constructs the configured backend, or returns (nil, nil)
// when avatar storage is not configured.
func New(ctx context.Context, cfg config.StorageConfig) (*AvatarStore, error) {
	switch cfg.Backend {
	case "":
		return nil, nil
	case "minio":
		backend, err := NewMinioBackend(cfg.Minio)
		if err != nil {
			return nil, fmt.Errorf("init minio storage: %w", err)
		}
		return &AvatarStore{backend: backend}, nil
	case "gcs":
		backend, err := NewGCSBackend(ctx, cfg.GCS)
		if err != nil {
			return nil, fmt.Errorf("init gcs storage: %w", err)
		}
		return &AvatarStore{backend: backend}, nil
	default:
		return nil, fmt.Errorf("unknown storage backend %q", cfg.Backend)
	}
}

// Key returns the object key for a user's avatar.
func Key(userID string) string {
	return "avatars/" + userID
}

// EnsureBucket ensures the configured bucket exists.
func (s *AvatarStore) EnsureBucket(ctx context.Context) error {
	return s.backend.EnsureBucket(ctx)
}

// Put uploads a user's avatar, replacing any previous one.
func (s *AvatarStore) Put(ctx context.Context, userID string, r io.Reader, size int64, contentType string) error {
	return s.backend.Put(ctx, Key(userID), r, size, contentType)
}

// Get opens a reader for a user's avatar.
func (s *AvatarStore) Get(ctx context.Context, userID string) (io.ReadCloser, error) {
	return s.backend.Get(ctx, Key(userID))
}

// Delete removes a user's avatar.
func (s *AvatarStore) Delete(ctx context.Context, userID string) error {
	return s.backend.Delete(ctx, Key(userID))
}

// Bucket returns the configured bucket name.
func (s *AvatarStore) Bucket() string {
	return s.backend.Bucket()
}
