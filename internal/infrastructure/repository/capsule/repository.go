package capsule

import (
	"context"

	"gorm.io/datatypes"
	"gorm.io/gorm"

	domain "capsule-server/services/capsule-api/internal/domain/capsule"
	"capsule-server/services/capsule-api/internal/infrastructure/database/entities"
	"capsule-server/services/capsule-api/internal/utils/platformerrors"
)

// Repository handles capsule and asset persistence.
type Repository struct {
	db *gorm.DB
}

func NewRepository(db *gorm.DB) *Repository {
	return &Repository{db: db}
}

// CreateWithAssets inserts the capsule row and its asset rows in one
// transaction, so a partially-written capsule can never be observed.
func (r *Repository) CreateWithAssets(ctx context.Context, capsule *domain.Capsule, assets []domain.Asset) error {
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		entity := entities.Capsule{
			PublicID:    capsule.ID,
			OwnerID:     capsule.OwnerID,
			Manifest:    datatypes.JSON(capsule.Manifest),
			ContentHash: capsule.ContentHash,
			TotalSize:   capsule.TotalSize,
			FileCount:   capsule.FileCount,
			Quarantined: capsule.Quarantined,
			ParentID:    capsule.ParentID,
		}
		if err := tx.Create(&entity).Error; err != nil {
			return err
		}
		for _, asset := range assets {
			row := entities.Asset{
				CapsuleID: entity.ID,
				Path:      asset.Path,
				MimeType:  asset.MimeType,
				SizeBytes: asset.SizeBytes,
			}
			if err := tx.Create(&row).Error; err != nil {
				return err
			}
		}
		capsule.CreatedAt = entity.CreatedAt
		return nil
	})
	if err != nil {
		return platformerrors.NewError(
			ctx,
			platformerrors.LayerRepository,
			platformerrors.ErrorTypeDatabaseError,
			"failed to create capsule",
			err,
			"d4f1a2b3-6c5e-4f7a-9b8c-0d1e2f3a4b5c",
		)
	}
	return nil
}

// GetByPublicID returns the capsule or nil when absent.
func (r *Repository) GetByPublicID(ctx context.Context, id string) (*domain.Capsule, error) {
	var entity entities.Capsule
	err := r.db.WithContext(ctx).Where("public_id = ?", id).First(&entity).Error
	if err != nil {
		if err == gorm.ErrRecordNotFound {
			return nil, nil
		}
		return nil, platformerrors.NewError(
			ctx,
			platformerrors.LayerRepository,
			platformerrors.ErrorTypeDatabaseError,
			"failed to find capsule",
			err,
			"8e9f0a1b-2c3d-4e5f-6a7b-8c9d0e1f2a3b",
		)
	}
	capsule := mapEntity(entity)
	return &capsule, nil
}

// Delete removes the capsule row and its assets.
func (r *Repository) Delete(ctx context.Context, id string) error {
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var entity entities.Capsule
		if err := tx.Where("public_id = ?", id).First(&entity).Error; err != nil {
			if err == gorm.ErrRecordNotFound {
				return nil
			}
			return err
		}
		if err := tx.Where("capsule_id = ?", entity.ID).Delete(&entities.Asset{}).Error; err != nil {
			return err
		}
		return tx.Delete(&entity).Error
	})
	if err != nil {
		return platformerrors.NewError(
			ctx,
			platformerrors.LayerRepository,
			platformerrors.ErrorTypeDatabaseError,
			"failed to delete capsule",
			err,
			"5a6b7c8d-9e0f-4a1b-2c3d-4e5f6a7b8c9d",
		)
	}
	return nil
}

// CountByContentHash counts live capsules referencing a content hash. The
// bundle store consults this before removing a blob.
func (r *Repository) CountByContentHash(ctx context.Context, hash string) (int64, error) {
	var count int64
	err := r.db.WithContext(ctx).Model(&entities.Capsule{}).
		Where("content_hash = ?", hash).
		Count(&count).Error
	if err != nil {
		return 0, platformerrors.NewError(
			ctx,
			platformerrors.LayerRepository,
			platformerrors.ErrorTypeDatabaseError,
			"failed to count capsules by content hash",
			err,
			"1f2a3b4c-5d6e-4f7a-8b9c-0d1e2f3a4b5d",
		)
	}
	return count, nil
}

// LargestBundle returns the size of the owner's biggest capsule, zero when
// the owner has none. Feeds the quota usage report.
func (r *Repository) LargestBundle(ctx context.Context, ownerID string) (int64, error) {
	var largest int64
	err := r.db.WithContext(ctx).Model(&entities.Capsule{}).
		Where("owner_id = ?", ownerID).
		Select("COALESCE(MAX(total_size), 0)").
		Scan(&largest).Error
	if err != nil {
		return 0, platformerrors.NewError(
			ctx,
			platformerrors.LayerRepository,
			platformerrors.ErrorTypeDatabaseError,
			"failed to measure largest capsule",
			err,
			"4d5e6f7a-8b9c-4d0e-1f2a-3b4c5d6e7f8a",
		)
	}
	return largest, nil
}

// ListAssets returns the asset rows of a capsule.
func (r *Repository) ListAssets(ctx context.Context, id string) ([]domain.Asset, error) {
	var entity entities.Capsule
	err := r.db.WithContext(ctx).Where("public_id = ?", id).First(&entity).Error
	if err != nil {
		if err == gorm.ErrRecordNotFound {
			return nil, nil
		}
		return nil, platformerrors.NewError(
			ctx,
			platformerrors.LayerRepository,
			platformerrors.ErrorTypeDatabaseError,
			"failed to find capsule",
			err,
			"2b3c4d5e-6f7a-4b8c-9d0e-1f2a3b4c5d6e",
		)
	}
	var rows []entities.Asset
	if err := r.db.WithContext(ctx).Where("capsule_id = ?", entity.ID).Order("path asc").Find(&rows).Error; err != nil {
		return nil, platformerrors.NewError(
			ctx,
			platformerrors.LayerRepository,
			platformerrors.ErrorTypeDatabaseError,
			"failed to list capsule assets",
			err,
			"3c4d5e6f-7a8b-4c9d-0e1f-2a3b4c5d6e7f",
		)
	}
	assets := make([]domain.Asset, len(rows))
	for i, row := range rows {
		assets[i] = domain.Asset{Path: row.Path, MimeType: row.MimeType, SizeBytes: row.SizeBytes}
	}
	return assets, nil
}

func mapEntity(entity entities.Capsule) domain.Capsule {
	return domain.Capsule{
		ID:          entity.PublicID,
		OwnerID:     entity.OwnerID,
		Manifest:    []byte(entity.Manifest),
		ContentHash: entity.ContentHash,
		TotalSize:   entity.TotalSize,
		FileCount:   entity.FileCount,
		Quarantined: entity.Quarantined,
		ParentID:    entity.ParentID,
		CreatedAt:   entity.CreatedAt,
	}
}
