package entities

import (
	"time"

	"gorm.io/datatypes"
)

// TableName specifies the table name for Capsule.
func (Capsule) TableName() string {
	return "capsules"
}

// Capsule represents the persisted capsule record. Capsules are immutable
// after commit; only moderation deletes remove them.
type Capsule struct {
	ID          uint           `gorm:"primaryKey"`
	PublicID    string         `gorm:"uniqueIndex;size:64"`
	OwnerID     string         `gorm:"size:64;index:idx_capsule_owner"`
	Manifest    datatypes.JSON `gorm:"type:jsonb"`
	ContentHash string         `gorm:"size:64;index:idx_capsule_content_hash"`
	TotalSize   int64          `gorm:"default:0"`
	FileCount   int            `gorm:"default:0"`
	Quarantined bool           `gorm:"default:false"`
	ParentID    *string        `gorm:"size:64;index"` // remix lineage, tracked externally
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

// TableName specifies the table name for Asset.
func (Asset) TableName() string {
	return "assets"
}

// Asset represents one file within a capsule.
type Asset struct {
	ID        uint   `gorm:"primaryKey"`
	CapsuleID uint   `gorm:"index:idx_asset_capsule"`
	Capsule   *Capsule `gorm:"foreignKey:CapsuleID"`
	Path      string `gorm:"size:512"`
	MimeType  string `gorm:"size:128"`
	SizeBytes int64  `gorm:"default:0"`
	CreatedAt time.Time
}
