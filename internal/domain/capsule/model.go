// Package capsule owns the publish pipeline: manifest validation, safety
// gating, content-addressed storage, quota reservation, artifact compilation
// and the compensating cleanup that keeps them consistent.
package capsule

import (
	"context"
	"encoding/json"
	"time"

	"capsule-server/services/capsule-api/internal/domain/quota"
)

// Capsule is an immutable, named bundle of files plus a manifest.
type Capsule struct {
	ID          string          `json:"id"`
	OwnerID     string          `json:"owner_id"`
	Manifest    json.RawMessage `json:"manifest"`
	ContentHash string          `json:"content_hash"`
	TotalSize   int64           `json:"total_size"`
	FileCount   int             `json:"file_count"`
	Quarantined bool            `json:"quarantined"`
	ParentID    *string         `json:"parent_id,omitempty"`
	CreatedAt   time.Time       `json:"created_at"`
}

// Asset is one file within a capsule.
type Asset struct {
	Path      string `json:"path"`
	MimeType  string `json:"mime_type"`
	SizeBytes int64  `json:"size_bytes"`
}

// File is one uploaded (path, content) pair.
type File struct {
	Path    string
	Content []byte
}

// PublishRequest is one publish attempt.
type PublishRequest struct {
	OwnerID  string
	Manifest json.RawMessage
	Files    []File
	ParentID *string
}

// ArtifactSummary is the compiled-artifact portion of a publish result.
type ArtifactSummary struct {
	ID              string `json:"id"`
	RuntimeVersion  string `json:"runtimeVersion"`
	BundleDigest    string `json:"bundleDigest"`
	BundleSizeBytes int64  `json:"bundleSizeBytes"`
}

// PublishResult is returned to the caller on a committed publish.
type PublishResult struct {
	CapsuleID   string           `json:"capsuleId"`
	ContentHash string           `json:"contentHash"`
	TotalSize   int64            `json:"totalSize"`
	FileCount   int              `json:"fileCount"`
	Quarantined bool             `json:"quarantined"`
	Warnings    []string         `json:"warnings"`
	Artifact    *ArtifactSummary `json:"artifact"`
}

// QuotaStatus pairs an owner's account with their largest published bundle,
// the usage counterpart to the plan's per-bundle ceiling.
type QuotaStatus struct {
	Account       *quota.Account
	LargestBundle int64
}

// Repository persists capsules and their assets.
type Repository interface {
	// CreateWithAssets inserts the capsule and its asset rows in one
	// transaction.
	CreateWithAssets(ctx context.Context, capsule *Capsule, assets []Asset) error
	// GetByPublicID returns the capsule or nil when absent.
	GetByPublicID(ctx context.Context, id string) (*Capsule, error)
	// Delete removes the capsule and its assets.
	Delete(ctx context.Context, id string) error
	// ListAssets returns the capsule's file inventory, sorted by path.
	ListAssets(ctx context.Context, id string) ([]Asset, error)
	// CountByContentHash counts live capsules referencing a content hash.
	CountByContentHash(ctx context.Context, hash string) (int64, error)
	// LargestBundle returns the owner's biggest capsule size in bytes, zero
	// when the owner has none.
	LargestBundle(ctx context.Context, ownerID string) (int64, error)
}

// ManifestCache caches serialized runtime manifests for the frame loader.
type ManifestCache interface {
	GetManifest(ctx context.Context, artifactID string) ([]byte, error)
	SetManifest(ctx context.Context, artifactID string, manifest []byte) error
	InvalidateManifest(ctx context.Context, artifactID string) error
}
