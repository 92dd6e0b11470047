package account

import (
	"context"
	"errors"
	"strings"

	"gorm.io/gorm"

	"capsule-server/services/capsule-api/internal/domain/quota"
	"capsule-server/services/capsule-api/internal/infrastructure/database/entities"
	"capsule-server/services/capsule-api/internal/utils/platformerrors"
)

// Repository handles storage account persistence. The usage update is a
// conditional write on the storage version, which is what makes the quota
// ledger safe under concurrent publishes.
type Repository struct {
	db *gorm.DB
}

func NewRepository(db *gorm.DB) *Repository {
	return &Repository{db: db}
}

// FindByOwner returns the account or nil when absent.
func (r *Repository) FindByOwner(ctx context.Context, ownerID string) (*quota.Account, error) {
	var entity entities.StorageAccount
	err := r.db.WithContext(ctx).Where("owner_id = ?", ownerID).First(&entity).Error
	if err != nil {
		if err == gorm.ErrRecordNotFound {
			return nil, nil
		}
		return nil, platformerrors.NewError(
			ctx,
			platformerrors.LayerRepository,
			platformerrors.ErrorTypeDatabaseError,
			"failed to find storage account",
			err,
			"6a7b8c9d-0e1f-4a2b-3c4d-5e6f7a8b9c0d",
		)
	}
	account := mapEntity(entity)
	return &account, nil
}

// Create inserts a fresh account row. A duplicate owner surfaces
// quota.ErrAccountExists so the ledger can fall back to a re-read.
func (r *Repository) Create(ctx context.Context, account *quota.Account) error {
	entity := entities.StorageAccount{
		OwnerID:           account.OwnerID,
		Plan:              string(account.Plan),
		StorageUsageBytes: account.StorageUsageBytes,
		StorageVersion:    account.StorageVersion,
		RunsUsed:          account.RunsUsed,
	}
	err := r.db.WithContext(ctx).Create(&entity).Error
	if err != nil {
		if isUniqueViolation(err) {
			return quota.ErrAccountExists
		}
		return platformerrors.NewError(
			ctx,
			platformerrors.LayerRepository,
			platformerrors.ErrorTypeDatabaseError,
			"failed to create storage account",
			err,
			"7b8c9d0e-1f2a-4b3c-4d5e-6f7a8b9c0d1e",
		)
	}
	return nil
}

// UpdateUsage applies the new usage only when the stored version still
// equals readVersion, incrementing the version in the same statement. It
// reports whether a row was updated; false means a concurrent writer won.
func (r *Repository) UpdateUsage(ctx context.Context, ownerID string, newUsage int64, readVersion int64) (bool, error) {
	result := r.db.WithContext(ctx).Model(&entities.StorageAccount{}).
		Where("owner_id = ? AND storage_version = ?", ownerID, readVersion).
		Updates(map[string]interface{}{
			"storage_usage_bytes": newUsage,
			"storage_version":     readVersion + 1,
		})
	if result.Error != nil {
		return false, platformerrors.NewError(
			ctx,
			platformerrors.LayerRepository,
			platformerrors.ErrorTypeDatabaseError,
			"failed to update storage usage",
			result.Error,
			"8c9d0e1f-2a3b-4c4d-5e6f-7a8b9c0d1e2f",
		)
	}
	return result.RowsAffected == 1, nil
}

func isUniqueViolation(err error) bool {
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		return true
	}
	// lib/pq surfaces SQLSTATE 23505 in the error text.
	return strings.Contains(err.Error(), "23505") ||
		strings.Contains(err.Error(), "duplicate key")
}

func mapEntity(entity entities.StorageAccount) quota.Account {
	return quota.Account{
		OwnerID:           entity.OwnerID,
		Plan:              quota.Plan(entity.Plan),
		StorageUsageBytes: entity.StorageUsageBytes,
		StorageVersion:    entity.StorageVersion,
		RunsUsed:          entity.RunsUsed,
	}
}
