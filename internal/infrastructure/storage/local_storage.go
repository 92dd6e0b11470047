package storage

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/rs/zerolog"

	"capsule-server/services/capsule-api/internal/config"
)

var errLocalStorageDisabled = errors.New("local storage is not configured; set CAPSULE_LOCAL_STORAGE_PATH to enable")

// LocalStorage stores blobs on the local filesystem, for development and
// tests.
type LocalStorage struct {
	basePath string
	log      zerolog.Logger
	disabled bool
}

func NewLocalStorage(cfg *config.Config, log zerolog.Logger) (*LocalStorage, error) {
	logger := log.With().Str("component", "local-storage").Logger()

	basePath := strings.TrimSpace(cfg.LocalStoragePath)
	if basePath == "" {
		logger.Warn().Msg("CAPSULE_LOCAL_STORAGE_PATH is not set; local storage will be disabled")
		return &LocalStorage{
			log:      logger,
			disabled: true,
		}, nil
	}

	if err := os.MkdirAll(basePath, 0755); err != nil {
		return nil, fmt.Errorf("failed to create local storage directory: %w", err)
	}

	storage := &LocalStorage{
		basePath: basePath,
		log:      logger,
	}

	logger.Info().
		Str("path", basePath).
		Msg("local storage initialized")

	return storage, nil
}

func (l *LocalStorage) ensureEnabled() error {
	if l.disabled {
		return errLocalStorageDisabled
	}
	return nil
}

// Upload stores a blob on the local filesystem.
func (l *LocalStorage) Upload(ctx context.Context, key string, body io.Reader, size int64, contentType string) error {
	if err := l.ensureEnabled(); err != nil {
		return err
	}

	fullPath := filepath.Join(l.basePath, filepath.FromSlash(key))
	if err := os.MkdirAll(filepath.Dir(fullPath), 0755); err != nil {
		return fmt.Errorf("failed to create directory: %w", err)
	}

	file, err := os.Create(fullPath)
	if err != nil {
		return fmt.Errorf("failed to create file: %w", err)
	}
	defer file.Close()

	written, err := io.Copy(file, body)
	if err != nil {
		return fmt.Errorf("failed to write file: %w", err)
	}

	l.log.Debug().
		Str("key", key).
		Int64("bytes", written).
		Msg("blob written to local storage")

	return nil
}

// Download reads a blob from the local filesystem.
func (l *LocalStorage) Download(ctx context.Context, key string) (io.ReadCloser, error) {
	if err := l.ensureEnabled(); err != nil {
		return nil, err
	}

	fullPath := filepath.Join(l.basePath, filepath.FromSlash(key))
	file, err := os.Open(fullPath)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("blob not found: %s", key)
		}
		return nil, fmt.Errorf("failed to open file: %w", err)
	}
	return file, nil
}

// Exists reports whether a blob is stored under the key.
func (l *LocalStorage) Exists(ctx context.Context, key string) (bool, error) {
	if err := l.ensureEnabled(); err != nil {
		return false, err
	}

	fullPath := filepath.Join(l.basePath, filepath.FromSlash(key))
	if _, err := os.Stat(fullPath); err != nil {
		if os.IsNotExist(err) {
			return false, nil
		}
		return false, err
	}
	return true, nil
}

// Delete removes a blob. Deleting a missing blob is not an error.
func (l *LocalStorage) Delete(ctx context.Context, key string) error {
	if err := l.ensureEnabled(); err != nil {
		return err
	}

	fullPath := filepath.Join(l.basePath, filepath.FromSlash(key))
	if err := os.Remove(fullPath); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("failed to delete file: %w", err)
	}
	return nil
}

// Health checks if the storage directory is writable.
func (l *LocalStorage) Health(ctx context.Context) error {
	if l.disabled {
		return nil
	}

	testFile := filepath.Join(l.basePath, ".health_check")
	if err := os.WriteFile(testFile, []byte("ok"), 0644); err != nil {
		return fmt.Errorf("storage directory not writable: %w", err)
	}
	_ = os.Remove(testFile)

	return nil
}
