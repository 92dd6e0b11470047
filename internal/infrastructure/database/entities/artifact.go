package entities

import (
	"time"

	"gorm.io/datatypes"
)

// TableName specifies the table name for Artifact.
func (Artifact) TableName() string {
	return "artifacts"
}

// Artifact represents the persisted runtime artifact record.
type Artifact struct {
	ID             uint   `gorm:"primaryKey"`
	PublicID       string `gorm:"uniqueIndex;size:64"`
	OwnerID        string `gorm:"size:64;index"`
	CapsuleID      string `gorm:"size:64;index:idx_artifact_capsule"`
	Type           string `gorm:"size:32"`
	RuntimeVersion string `gorm:"size:16"`
	BundleDigest   string `gorm:"size:64"`
	CreatedAt      time.Time
	UpdatedAt      time.Time
}

// TableName specifies the table name for ArtifactManifest.
func (ArtifactManifest) TableName() string {
	return "artifact_manifests"
}

// ArtifactManifest is a versioned snapshot describing how to load an
// artifact. Multiple manifests may exist per artifact; readers resolve the
// latest.
type ArtifactManifest struct {
	ID              uint   `gorm:"primaryKey"`
	ArtifactID      string `gorm:"size:64;index:idx_manifest_artifact"`
	Version         int    `gorm:"default:1"`
	IsLatest        *bool  `gorm:"default:true;index:idx_manifest_is_latest"`
	BundleKey       string `gorm:"size:256"`
	BundleSizeBytes int64  `gorm:"default:0"`
	BundleDigest    string `gorm:"size:64"`
	Imports         datatypes.JSON `gorm:"type:jsonb"` // external module names
	CreatedAt       time.Time
}
