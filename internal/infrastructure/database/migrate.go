package database

import (
	"context"

	"github.com/rs/zerolog"
	"gorm.io/gorm"

	"capsule-server/services/capsule-api/internal/infrastructure/database/entities"
)

// AutoMigrate applies database schema changes for the capsule domain.
func AutoMigrate(ctx context.Context, db *gorm.DB, log zerolog.Logger) error {
	if err := db.WithContext(ctx).AutoMigrate(
		&entities.Capsule{},
		&entities.Asset{},
		&entities.StorageAccount{},
		&entities.Artifact{},
		&entities.ArtifactManifest{},
	); err != nil {
		return err
	}

	log.Info().Msg("database schema up to date")
	return nil
}
