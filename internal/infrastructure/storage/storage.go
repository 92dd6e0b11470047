// Package storage provides the physical blob backends behind the
// content-addressed bundle store.
package storage

import (
	"context"
	"io"
)

// Backend is the blob storage surface the pipeline writes through. Both the
// S3 and local filesystem implementations satisfy it.
type Backend interface {
	Upload(ctx context.Context, key string, body io.Reader, size int64, contentType string) error
	Download(ctx context.Context, key string) (io.ReadCloser, error)
	Exists(ctx context.Context, key string) (bool, error)
	Delete(ctx context.Context, key string) error
	Health(ctx context.Context) error
}
