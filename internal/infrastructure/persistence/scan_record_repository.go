package persistence

import (
	"context"

	"github.com/erp/receiving/internal/domain/receiving"
	"github.com/erp/receiving/internal/infrastructure/persistence/models"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// GormScanRecordRepository implements ScanRecordRepository using GORM
type GormScanRecordRepository struct {
	db *gorm.DB
}

// NewGormScanRecordRepository creates a new GormScanRecordRepository
func NewGormScanRecordRepository(db *gorm.DB) *GormScanRecordRepository {
	return &GormScanRecordRepository{db: db}
}

// Append inserts the record unless one already exists for the same package
// in the same session. The unique index decides the winner among concurrent
// writers; losers see zero affected rows.
func (r *GormScanRecordRepository) Append(ctx context.Context, rec *receiving.ScanRecord) (bool, error) {
	var model models.ScanRecordModel
	model.FromDomain(rec)

	result := r.db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "location"}, {Name: "session_date"}, {Name: "package_id"}},
			DoNothing: true,
		}).
		Create(&model)
	if result.Error != nil {
		if isUniqueViolation(result.Error) {
			return false, nil
		}
		return false, classify("append scan record", result.Error)
	}
	return result.RowsAffected == 1, nil
}

// ListBySession returns the scan records of a session ordered by scan time
func (r *GormScanRecordRepository) ListBySession(ctx context.Context, key receiving.SessionKey) ([]receiving.ScanRecord, error) {
	var rows []models.ScanRecordModel
	if err := r.db.WithContext(ctx).
		Where("location = ? AND session_date = ?", key.Location, key.DateString()).
		Order("scanned_at, id").
		Find(&rows).Error; err != nil {
		return nil, classify("list scan records", err)
	}

	records := make([]receiving.ScanRecord, len(rows))
	for i := range rows {
		records[i] = rows[i].ToDomain()
	}
	return records, nil
}

var _ receiving.ScanRecordRepository = (*GormScanRecordRepository)(nil)
