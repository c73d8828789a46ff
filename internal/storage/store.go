package storage

import (
	"context"
	"errors"
)

// ErrNotFound is returned when no artifact exists under a key
var ErrNotFound = errors.New("artifact not found")

// ArtifactStore holds page originals, processed pages and job outputs.
// Keys are slash-separated (see models.JobPrefix).
type ArtifactStore interface {
	Put(ctx context.Context, key string, data []byte, contentType string) error
	Get(ctx context.Context, key string) ([]byte, error)
	Delete(ctx context.Context, key string) error
	// DeletePrefix removes every artifact whose key starts with prefix.
	DeletePrefix(ctx context.Context, prefix string) error
	List(ctx context.Context, prefix string) ([]string, error)
}
