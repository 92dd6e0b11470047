// Package bundle implements the content-addressed bundle store. A bundle is
// a set of files stored under a hash of its canonicalized contents, so
// byte-identical uploads resolve to the same storage key regardless of which
// capsule uploaded them.
package bundle

import (
	"archive/tar"
	"bytes"
	"context"
	"crypto/sha256"
	"errors"
	"fmt"
	"io"
	"sort"
	"time"

	"github.com/rs/zerolog"

	"capsule-server/services/capsule-api/internal/infrastructure/metrics"
)

// File is one (path, content) pair inside a bundle.
type File struct {
	Path    string
	Content []byte
}

// PutResult describes a stored bundle.
type PutResult struct {
	ContentHash string
	TotalSize   int64
	FileCount   int
	// Written is false when an identical bundle already existed and no blob
	// write was performed.
	Written bool
}

// BlobStore is the physical storage backend (S3 or local filesystem).
type BlobStore interface {
	Upload(ctx context.Context, key string, body io.Reader, size int64, contentType string) error
	Download(ctx context.Context, key string) (io.ReadCloser, error)
	Exists(ctx context.Context, key string) (bool, error)
	Delete(ctx context.Context, key string) error
}

// RefCounter reports how many live capsules reference a content hash.
// Backed by the capsule repository.
type RefCounter interface {
	CountByContentHash(ctx context.Context, hash string) (int64, error)
}

// ErrIntegrity is returned when stored bytes no longer match their hash.
var ErrIntegrity = errors.New("bundle content does not match its hash")

// ErrNotFound is returned when no bundle exists under a hash.
var ErrNotFound = errors.New("bundle not found")

// Store is the content-addressed store over a BlobStore.
type Store struct {
	blobs BlobStore
	refs  RefCounter
	log   zerolog.Logger
}

func NewStore(blobs BlobStore, refs RefCounter, log zerolog.Logger) *Store {
	return &Store{
		blobs: blobs,
		refs:  refs,
		log:   log.With().Str("component", "bundle-store").Logger(),
	}
}

// ContentHash derives the canonical hash of a file set: files are ordered by
// path and the digest covers each (path, content) pair. The result is a
// deterministic function of the files alone.
func ContentHash(files []File) string {
	sorted := make([]File, len(files))
	copy(sorted, files)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].Path < sorted[j].Path })

	h := sha256.New()
	for _, f := range sorted {
		h.Write([]byte(f.Path))
		h.Write([]byte{0})
		fmt.Fprintf(h, "%d", len(f.Content))
		h.Write([]byte{0})
		h.Write(f.Content)
	}
	return fmt.Sprintf("%x", h.Sum(nil))
}

// Key maps a content hash to its storage key.
func Key(hash string) string {
	return "bundles/" + hash + ".tar"
}

// Put stores a file set under its content hash. Identical bundles are never
// duplicated: if the destination key already exists the call is a no-op blob
// wise. Concurrent writers of the same bytes race harmlessly to the same key.
func (s *Store) Put(ctx context.Context, files []File) (*PutResult, error) {
	if len(files) == 0 {
		return nil, errors.New("bundle has no files")
	}

	hash := ContentHash(files)
	key := Key(hash)

	result := &PutResult{
		ContentHash: hash,
		FileCount:   len(files),
	}
	for _, f := range files {
		result.TotalSize += int64(len(f.Content))
	}

	start := time.Now()
	exists, err := s.blobs.Exists(ctx, key)
	if err != nil {
		metrics.RecordBlobOperation("put", "error", time.Since(start).Seconds())
		return nil, fmt.Errorf("check bundle existence: %w", err)
	}
	if exists {
		metrics.RecordBlobOperation("put", "deduped", time.Since(start).Seconds())
		s.log.Debug().Str("content_hash", hash).Msg("bundle already stored, skipping write")
		return result, nil
	}

	archive, err := encodeArchive(files)
	if err != nil {
		return nil, err
	}
	if err := s.blobs.Upload(ctx, key, bytes.NewReader(archive), int64(len(archive)), "application/x-tar"); err != nil {
		metrics.RecordBlobOperation("put", "error", time.Since(start).Seconds())
		return nil, fmt.Errorf("upload bundle: %w", err)
	}
	metrics.RecordBlobOperation("put", "success", time.Since(start).Seconds())

	result.Written = true
	return result, nil
}

// Get returns the file set stored under a hash.
func (s *Store) Get(ctx context.Context, hash string) ([]File, error) {
	start := time.Now()
	reader, err := s.blobs.Download(ctx, Key(hash))
	if err != nil {
		metrics.RecordBlobOperation("get", "error", time.Since(start).Seconds())
		return nil, fmt.Errorf("%w: %s", ErrNotFound, hash)
	}
	defer reader.Close()

	files, err := decodeArchive(reader)
	if err != nil {
		metrics.RecordBlobOperation("get", "error", time.Since(start).Seconds())
		return nil, err
	}
	metrics.RecordBlobOperation("get", "success", time.Since(start).Seconds())
	return files, nil
}

// Verify re-derives the hash from stored bytes and compares it to the key.
// A mismatch signals corruption and must block any dependent read.
func (s *Store) Verify(ctx context.Context, hash string) error {
	files, err := s.Get(ctx, hash)
	if err != nil {
		return err
	}
	if derived := ContentHash(files); derived != hash {
		s.log.Error().
			Str("expected", hash).
			Str("derived", derived).
			Msg("bundle integrity check failed")
		return ErrIntegrity
	}
	return nil
}

// Delete removes the blob under a hash only when no live capsule references
// it. With references remaining the call is a no-op.
func (s *Store) Delete(ctx context.Context, hash string) (bool, error) {
	refs, err := s.refs.CountByContentHash(ctx, hash)
	if err != nil {
		return false, fmt.Errorf("count bundle references: %w", err)
	}
	if refs > 0 {
		s.log.Debug().Str("content_hash", hash).Int64("refs", refs).Msg("bundle still referenced, keeping blob")
		return false, nil
	}

	start := time.Now()
	if err := s.blobs.Delete(ctx, Key(hash)); err != nil {
		metrics.RecordBlobOperation("delete", "error", time.Since(start).Seconds())
		return false, fmt.Errorf("delete bundle: %w", err)
	}
	metrics.RecordBlobOperation("delete", "success", time.Since(start).Seconds())
	return true, nil
}

// encodeArchive writes files into a deterministic tar: canonical order,
// zeroed timestamps and fixed modes, so archives of identical file sets are
// byte-identical.
func encodeArchive(files []File) ([]byte, error) {
	sorted := make([]File, len(files))
	copy(sorted, files)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].Path < sorted[j].Path })

	var buf bytes.Buffer
	tw := tar.NewWriter(&buf)
	for _, f := range sorted {
		header := &tar.Header{
			Name:    f.Path,
			Mode:    0o644,
			Size:    int64(len(f.Content)),
			ModTime: time.Unix(0, 0),
			Format:  tar.FormatPAX,
		}
		if err := tw.WriteHeader(header); err != nil {
			return nil, fmt.Errorf("write archive header %s: %w", f.Path, err)
		}
		if _, err := tw.Write(f.Content); err != nil {
			return nil, fmt.Errorf("write archive entry %s: %w", f.Path, err)
		}
	}
	if err := tw.Close(); err != nil {
		return nil, fmt.Errorf("finalize archive: %w", err)
	}
	return buf.Bytes(), nil
}

func decodeArchive(r io.Reader) ([]File, error) {
	tr := tar.NewReader(r)
	var files []File
	for {
		header, err := tr.Next()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("read archive: %w", err)
		}
		content, err := io.ReadAll(tr)
		if err != nil {
			return nil, fmt.Errorf("read archive entry %s: %w", header.Name, err)
		}
		files = append(files, File{Path: header.Name, Content: content})
	}
	return files, nil
}
