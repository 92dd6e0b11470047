package entities

import "time"

// TableName specifies the table name for StorageAccount.
func (StorageAccount) TableName() string {
	return "storage_accounts"
}

// StorageAccount holds per-owner quota state. StorageVersion is the
// optimistic-lock token: every successful usage mutation increments it, and
// writers must supply the version they last read.
type StorageAccount struct {
	ID                uint   `gorm:"primaryKey"`
	OwnerID           string `gorm:"uniqueIndex;size:64"`
	Plan              string `gorm:"size:32;default:free"`
	StorageUsageBytes int64  `gorm:"default:0"`
	StorageVersion    int64  `gorm:"default:0"`
	RunsUsed          int64  `gorm:"default:0"`
	CreatedAt         time.Time
	UpdatedAt         time.Time
}
