package responses

import (
	"encoding/json"
	"time"
)

// CapsuleResponse is the public representation of a committed capsule.
type CapsuleResponse struct {
	ID          string          `json:"id"`
	OwnerID     string          `json:"ownerId"`
	Manifest    json.RawMessage `json:"manifest"`
	ContentHash string          `json:"contentHash"`
	TotalSize   int64           `json:"totalSize"`
	FileCount   int             `json:"fileCount"`
	Quarantined bool            `json:"quarantined"`
	ParentID    *string         `json:"parentId,omitempty"`
	Assets      []AssetResponse `json:"assets"`
	CreatedAt   time.Time       `json:"createdAt"`
}

// AssetResponse is one file within a capsule.
type AssetResponse struct {
	Path      string `json:"path"`
	MimeType  string `json:"mimeType"`
	SizeBytes int64  `json:"sizeBytes"`
}

// QuotaResponse is the account/usage surface.
type QuotaResponse struct {
	Plan   string      `json:"plan"`
	Usage  QuotaUsage  `json:"usage"`
	Limits QuotaLimits `json:"limits"`
}

type QuotaUsage struct {
	Storage    int64 `json:"storage"`
	Runs       int64 `json:"runs"`
	BundleSize int64 `json:"bundleSize"`
}

type QuotaLimits struct {
	MaxStorage    int64 `json:"maxStorage"`
	MaxRuns       int64 `json:"maxRuns"`
	MaxBundleSize int64 `json:"maxBundleSize"`
}
