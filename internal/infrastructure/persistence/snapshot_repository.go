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

// GormSnapshotRepository implements SnapshotRepository using GORM
type GormSnapshotRepository struct {
	db *gorm.DB
}

// NewGormSnapshotRepository creates a new GormSnapshotRepository
func NewGormSnapshotRepository(db *gorm.DB) *GormSnapshotRepository {
	return &GormSnapshotRepository{db: db}
}

// SaveAndComplete inserts the snapshot with its lines and groups and flips
// the session from COMPLETING to COMPLETED in the same transaction. It
// returns shared.ErrConcurrencyConflict if a snapshot already exists or the
// session is no longer COMPLETING; nothing is written in that case.
func (r *GormSnapshotRepository) SaveAndComplete(ctx context.Context, snapshot *receiving.SessionSnapshot) error {
	var model models.SessionSnapshotModel
	model.FromDomain(snapshot)

	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Omit("Lines", "Groups").Create(&model).Error; err != nil {
			if isUniqueViolation(err) {
				return shared.ErrConcurrencyConflict
			}
			return err
		}
		if len(model.Lines) > 0 {
			if err := tx.CreateInBatches(model.Lines, manifestBatchSize).Error; err != nil {
				return err
			}
		}
		if len(model.Groups) > 0 {
			if err := tx.Create(model.Groups).Error; err != nil {
				return err
			}
		}

		result := tx.Model(&models.ReceivingSessionModel{}).
			Where("location = ? AND session_date = ? AND status = ?",
				model.Location, model.SessionDate, receiving.SessionStatusCompleting).
			Updates(map[string]any{
				"status":       receiving.SessionStatusCompleted,
				"completed_at": snapshot.CompletedAt,
				"completed_by": snapshot.CompletedBy,
				"snapshot_id":  snapshot.ID,
				"version":      gorm.Expr("version + 1"),
				"updated_at":   time.Now().UTC(),
			})
		if result.Error != nil {
			return result.Error
		}
		if result.RowsAffected != 1 {
			return shared.ErrConcurrencyConflict
		}
		return nil
	})
	if errors.Is(err, shared.ErrConcurrencyConflict) {
		return err
	}
	return classify("save snapshot", err)
}

// FindBySession loads the snapshot of a completed session
func (r *GormSnapshotRepository) FindBySession(ctx context.Context, key receiving.SessionKey) (*receiving.SessionSnapshot, error) {
	var model models.SessionSnapshotModel
	if err := r.db.WithContext(ctx).
		Preload("Lines", func(db *gorm.DB) *gorm.DB { return db.Order("position") }).
		Preload("Groups", func(db *gorm.DB) *gorm.DB { return db.Order("group_id") }).
		Where("location = ? AND session_date = ?", key.Location, key.DateString()).
		First(&model).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, receiving.ErrSnapshotNotFound
		}
		return nil, classify("find snapshot", err)
	}
	return model.ToDomain(), nil
}

var _ receiving.SnapshotRepository = (*GormSnapshotRepository)(nil)
