// Package artifact compiles validated capsules into runtime-loadable
// artifacts and tracks their versioned manifests.
package artifact

import (
	"context"
	"time"
)

// Type identifies how the execution frame loads an artifact.
type Type string

const (
	TypeHTML     Type = "html"
	TypeReactJSX Type = "react-jsx"
)

// Valid reports whether the type is known.
func (t Type) Valid() bool {
	return t == TypeHTML || t == TypeReactJSX
}

// Artifact is a compiled, immutable derivative of a capsule. New manifest
// versions may supersede the loadable snapshot without touching the record.
type Artifact struct {
	ID             string    `json:"id"`
	OwnerID        string    `json:"owner_id"`
	CapsuleID      string    `json:"capsule_id"`
	Type           Type      `json:"type"`
	RuntimeVersion string    `json:"runtime_version"`
	BundleDigest   string    `json:"bundle_digest"`
	CreatedAt      time.Time `json:"created_at"`
}

// ManifestVersion is one snapshot in an artifact's manifest history.
type ManifestVersion struct {
	ArtifactID      string    `json:"artifact_id"`
	Version         int       `json:"version"`
	IsLatest        bool      `json:"is_latest"`
	BundleKey       string    `json:"bundle_key"`
	BundleSizeBytes int64     `json:"bundle_size_bytes"`
	BundleDigest    string    `json:"bundle_digest"`
	Imports         []string  `json:"imports,omitempty"`
	CreatedAt       time.Time `json:"created_at"`
}

// Repository persists artifacts and their manifest versions.
type Repository interface {
	// Create inserts the artifact with its first manifest version.
	Create(ctx context.Context, artifact *Artifact, manifest *ManifestVersion) error
	// AddManifestVersion appends a manifest snapshot and marks prior
	// versions as superseded.
	AddManifestVersion(ctx context.Context, artifactID string, manifest *ManifestVersion) error
	// GetByPublicID returns the artifact record.
	GetByPublicID(ctx context.Context, id string) (*Artifact, error)
	// GetLatestManifest resolves the current manifest version.
	GetLatestManifest(ctx context.Context, artifactID string) (*ManifestVersion, error)
	// ListByCapsule returns the artifacts belonging to a capsule.
	ListByCapsule(ctx context.Context, capsuleID string) ([]Artifact, error)
	// ListManifests returns every manifest version of an artifact, oldest
	// first.
	ListManifests(ctx context.Context, artifactID string) ([]ManifestVersion, error)
	// DeleteByCapsule removes artifacts belonging to a capsule.
	DeleteByCapsule(ctx context.Context, capsuleID string) error
}
