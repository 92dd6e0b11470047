package artifact

import (
	"context"
	"encoding/json"

	"gorm.io/datatypes"
	"gorm.io/gorm"

	domain "capsule-server/services/capsule-api/internal/domain/artifact"
	"capsule-server/services/capsule-api/internal/infrastructure/database/entities"
	"capsule-server/services/capsule-api/internal/utils/platformerrors"
)

// Repository handles artifact and manifest version persistence.
type Repository struct {
	db *gorm.DB
}

func NewRepository(db *gorm.DB) *Repository {
	return &Repository{db: db}
}

// Create inserts the artifact with its first manifest version in one
// transaction.
func (r *Repository) Create(ctx context.Context, artifact *domain.Artifact, manifest *domain.ManifestVersion) error {
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		entity := entities.Artifact{
			PublicID:       artifact.ID,
			OwnerID:        artifact.OwnerID,
			CapsuleID:      artifact.CapsuleID,
			Type:           string(artifact.Type),
			RuntimeVersion: artifact.RuntimeVersion,
			BundleDigest:   artifact.BundleDigest,
		}
		if err := tx.Create(&entity).Error; err != nil {
			return err
		}
		artifact.CreatedAt = entity.CreatedAt
		return tx.Create(manifestEntity(artifact.ID, manifest)).Error
	})
	if err != nil {
		return platformerrors.NewError(
			ctx,
			platformerrors.LayerRepository,
			platformerrors.ErrorTypeDatabaseError,
			"failed to create artifact",
			err,
			"9d0e1f2a-3b4c-4d5e-6f7a-8b9c0d1e2f3a",
		)
	}
	return nil
}

// AddManifestVersion appends a manifest snapshot and retires prior versions.
func (r *Repository) AddManifestVersion(ctx context.Context, artifactID string, manifest *domain.ManifestVersion) error {
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := markOldVersionsNotLatest(tx, artifactID); err != nil {
			return err
		}
		return tx.Create(manifestEntity(artifactID, manifest)).Error
	})
	if err != nil {
		return platformerrors.NewError(
			ctx,
			platformerrors.LayerRepository,
			platformerrors.ErrorTypeDatabaseError,
			"failed to add manifest version",
			err,
			"0e1f2a3b-4c5d-4e6f-7a8b-9c0d1e2f3a4b",
		)
	}
	return nil
}

// GetByPublicID returns the artifact or nil when absent.
func (r *Repository) GetByPublicID(ctx context.Context, id string) (*domain.Artifact, error) {
	var entity entities.Artifact
	err := r.db.WithContext(ctx).Where("public_id = ?", id).First(&entity).Error
	if err != nil {
		if err == gorm.ErrRecordNotFound {
			return nil, nil
		}
		return nil, platformerrors.NewError(
			ctx,
			platformerrors.LayerRepository,
			platformerrors.ErrorTypeDatabaseError,
			"failed to find artifact",
			err,
			"1f2a3b4c-5d6e-4f7a-8b9c-0d1e2f3a4b5e",
		)
	}
	artifact := mapArtifact(entity)
	return &artifact, nil
}

// GetLatestManifest resolves the current manifest version, or nil when the
// artifact has none.
func (r *Repository) GetLatestManifest(ctx context.Context, artifactID string) (*domain.ManifestVersion, error) {
	var entity entities.ArtifactManifest
	err := r.db.WithContext(ctx).
		Where("artifact_id = ? AND is_latest = ?", artifactID, true).
		Order("version desc").
		First(&entity).Error
	if err != nil {
		if err == gorm.ErrRecordNotFound {
			return nil, nil
		}
		return nil, platformerrors.NewError(
			ctx,
			platformerrors.LayerRepository,
			platformerrors.ErrorTypeDatabaseError,
			"failed to find latest manifest",
			err,
			"2a3b4c5d-6e7f-4a8b-9c0d-1e2f3a4b5c6d",
		)
	}
	manifest := mapManifest(entity)
	return &manifest, nil
}

// ListByCapsule returns the artifacts belonging to a capsule.
func (r *Repository) ListByCapsule(ctx context.Context, capsuleID string) ([]domain.Artifact, error) {
	var rows []entities.Artifact
	err := r.db.WithContext(ctx).Where("capsule_id = ?", capsuleID).Find(&rows).Error
	if err != nil {
		return nil, platformerrors.NewError(
			ctx,
			platformerrors.LayerRepository,
			platformerrors.ErrorTypeDatabaseError,
			"failed to list capsule artifacts",
			err,
			"4c5d6e7f-8a9b-4c0d-1e2f-3a4b5c6d7e8f",
		)
	}
	artifacts := make([]domain.Artifact, len(rows))
	for i, row := range rows {
		artifacts[i] = mapArtifact(row)
	}
	return artifacts, nil
}

// ListManifests returns every manifest version of an artifact, oldest first.
func (r *Repository) ListManifests(ctx context.Context, artifactID string) ([]domain.ManifestVersion, error) {
	var rows []entities.ArtifactManifest
	err := r.db.WithContext(ctx).
		Where("artifact_id = ?", artifactID).
		Order("version asc").
		Find(&rows).Error
	if err != nil {
		return nil, platformerrors.NewError(
			ctx,
			platformerrors.LayerRepository,
			platformerrors.ErrorTypeDatabaseError,
			"failed to list manifest versions",
			err,
			"5d6e7f8a-9b0c-4d1e-2f3a-4b5c6d7e8f9a",
		)
	}
	manifests := make([]domain.ManifestVersion, len(rows))
	for i, row := range rows {
		manifests[i] = mapManifest(row)
	}
	return manifests, nil
}

// DeleteByCapsule removes a capsule's artifacts and their manifest versions.
func (r *Repository) DeleteByCapsule(ctx context.Context, capsuleID string) error {
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var rows []entities.Artifact
		if err := tx.Where("capsule_id = ?", capsuleID).Find(&rows).Error; err != nil {
			return err
		}
		for _, row := range rows {
			if err := tx.Where("artifact_id = ?", row.PublicID).Delete(&entities.ArtifactManifest{}).Error; err != nil {
				return err
			}
		}
		return tx.Where("capsule_id = ?", capsuleID).Delete(&entities.Artifact{}).Error
	})
	if err != nil {
		return platformerrors.NewError(
			ctx,
			platformerrors.LayerRepository,
			platformerrors.ErrorTypeDatabaseError,
			"failed to delete capsule artifacts",
			err,
			"3b4c5d6e-7f8a-4b9c-0d1e-2f3a4b5c6d7e",
		)
	}
	return nil
}

func markOldVersionsNotLatest(tx *gorm.DB, artifactID string) error {
	return tx.Model(&entities.ArtifactManifest{}).
		Where("artifact_id = ? AND is_latest = ?", artifactID, true).
		Update("is_latest", false).Error
}

func manifestEntity(artifactID string, manifest *domain.ManifestVersion) *entities.ArtifactManifest {
	isLatest := true
	return &entities.ArtifactManifest{
		ArtifactID:      artifactID,
		Version:         manifest.Version,
		IsLatest:        &isLatest,
		BundleKey:       manifest.BundleKey,
		BundleSizeBytes: manifest.BundleSizeBytes,
		BundleDigest:    manifest.BundleDigest,
		Imports:         encodeImports(manifest.Imports),
	}
}

func encodeImports(imports []string) datatypes.JSON {
	if len(imports) == 0 {
		return nil
	}
	raw, err := json.Marshal(imports)
	if err != nil {
		return nil
	}
	return datatypes.JSON(raw)
}

func decodeImports(raw datatypes.JSON) []string {
	if len(raw) == 0 {
		return nil
	}
	var imports []string
	if err := json.Unmarshal(raw, &imports); err != nil {
		return nil
	}
	return imports
}

func mapArtifact(entity entities.Artifact) domain.Artifact {
	return domain.Artifact{
		ID:             entity.PublicID,
		OwnerID:        entity.OwnerID,
		CapsuleID:      entity.CapsuleID,
		Type:           domain.Type(entity.Type),
		RuntimeVersion: entity.RuntimeVersion,
		BundleDigest:   entity.BundleDigest,
		CreatedAt:      entity.CreatedAt,
	}
}

func mapManifest(entity entities.ArtifactManifest) domain.ManifestVersion {
	return domain.ManifestVersion{
		ArtifactID:      entity.ArtifactID,
		Version:         entity.Version,
		IsLatest:        entity.IsLatest != nil && *entity.IsLatest,
		BundleKey:       entity.BundleKey,
		BundleSizeBytes: entity.BundleSizeBytes,
		BundleDigest:    entity.BundleDigest,
		Imports:         decodeImports(entity.Imports),
		CreatedAt:       entity.CreatedAt,
	}
}
