package persistence

import (
	"context"
	"errors"
	"time"

	"github.com/erp/receiving/internal/domain/receiving"
	"github.com/erp/receiving/internal/domain/shared"
	"github.com/erp/receiving/internal/infrastructure/persistence/models"
	"gorm.io/gorm"
)

const manifestBatchSize = 500

// GormManifestRepository implements ManifestSource and ManifestWriter using GORM
type GormManifestRepository struct {
	db *gorm.DB
}

// NewGormManifestRepository creates a new GormManifestRepository
func NewGormManifestRepository(db *gorm.DB) *GormManifestRepository {
	return &GormManifestRepository{db: db}
}

// ListExpected returns the expected packages of a session ordered by group and package
func (r *GormManifestRepository) ListExpected(ctx context.Context, key receiving.SessionKey) ([]receiving.ExpectedPackage, error) {
	var rows []models.ExpectedPackageModel
	if err := r.db.WithContext(ctx).
		Where("location = ? AND session_date = ?", key.Location, key.DateString()).
		Order("group_id, package_id").
		Find(&rows).Error; err != nil {
		return nil, classify("list expected packages", err)
	}

	packages := make([]receiving.ExpectedPackage, len(rows))
	for i := range rows {
		packages[i] = rows[i].ToDomain()
	}
	return packages, nil
}

// ReplaceExpected swaps the expected set of a session and stores its manifest
// version in one transaction. The version update only applies while the
// session is OPEN, so a reload and a completion cannot interleave, and only
// while the stored version is the one session was read at. A session changed
// since it was read yields shared.ErrConcurrencyConflict.
func (r *GormManifestRepository) ReplaceExpected(ctx context.Context, session *receiving.ReceivingSession, packages []receiving.ExpectedPackage) error {
	key := session.Key
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		result := tx.Model(&models.ReceivingSessionModel{}).
			Where("location = ? AND session_date = ? AND status = ? AND version = ?",
				key.Location, key.DateString(), receiving.SessionStatusOpen, session.LoadedVersion()).
			Updates(map[string]any{
				"manifest_version": session.ManifestVersion,
				"version":          gorm.Expr("version + 1"),
				"updated_at":       time.Now().UTC(),
			})
		if result.Error != nil {
			return result.Error
		}
		if result.RowsAffected == 0 {
			var current models.ReceivingSessionModel
			if err := tx.Select("status").
				Where("location = ? AND session_date = ?", key.Location, key.DateString()).
				Take(&current).Error; err != nil {
				return err
			}
			if current.Status != receiving.SessionStatusOpen {
				return receiving.ErrSessionCompleted
			}
			return shared.ErrConcurrencyConflict
		}

		if err := tx.Where("location = ? AND session_date = ?", key.Location, key.DateString()).
			Delete(&models.ExpectedPackageModel{}).Error; err != nil {
			return err
		}
		if len(packages) == 0 {
			return nil
		}

		rows := make([]models.ExpectedPackageModel, len(packages))
		for i, p := range packages {
			p.Key = key
			rows[i].FromDomain(p)
		}
		return tx.CreateInBatches(rows, manifestBatchSize).Error
	})
	if errors.Is(err, receiving.ErrSessionCompleted) || errors.Is(err, shared.ErrConcurrencyConflict) {
		return err
	}
	return classify("replace expected packages", err)
}

var (
	_ receiving.ManifestSource = (*GormManifestRepository)(nil)
	_ receiving.ManifestWriter = (*GormManifestRepository)(nil)
)
