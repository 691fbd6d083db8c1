package persistence

import (
	"context"
	"errors"
	"time"

	"github.com/erp/receiving/internal/domain/receiving"
	"github.com/erp/receiving/internal/infrastructure/persistence/models"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// GormSessionRepository implements SessionRepository using GORM
type GormSessionRepository struct {
	db *gorm.DB
}

// NewGormSessionRepository creates a new GormSessionRepository
func NewGormSessionRepository(db *gorm.DB) *GormSessionRepository {
	return &GormSessionRepository{db: db}
}

// GetOrCreate returns the session, inserting it as OPEN on first access.
// Concurrent first accesses converge on the same row.
func (r *GormSessionRepository) GetOrCreate(ctx context.Context, key receiving.SessionKey) (*receiving.ReceivingSession, error) {
	var model models.ReceivingSessionModel
	model.FromDomain(receiving.NewReceivingSession(key))
	model.UpdatedAt = time.Now().UTC()

	if err := r.db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "location"}, {Name: "session_date"}},
			DoNothing: true,
		}).
		Create(&model).Error; err != nil {
		return nil, classify("create session", err)
	}
	return r.FindByKey(ctx, key)
}

// FindByKey loads a session by its key
func (r *GormSessionRepository) FindByKey(ctx context.Context, key receiving.SessionKey) (*receiving.ReceivingSession, error) {
	var model models.ReceivingSessionModel
	if err := r.db.WithContext(ctx).
		Where("location = ? AND session_date = ?", key.Location, key.DateString()).
		First(&model).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, receiving.ErrSessionNotFound
		}
		return nil, classify("find session", err)
	}
	return model.ToDomain(), nil
}

// CompareAndSetStatus moves the status from -> to only if it currently equals from
func (r *GormSessionRepository) CompareAndSetStatus(ctx context.Context, key receiving.SessionKey, from, to receiving.SessionStatus) (bool, error) {
	if !from.CanTransitionTo(to) {
		return false, nil
	}
	result := r.db.WithContext(ctx).
		Model(&models.ReceivingSessionModel{}).
		Where("location = ? AND session_date = ? AND status = ?", key.Location, key.DateString(), from).
		Updates(map[string]any{
			"status":     to,
			"version":    gorm.Expr("version + 1"),
			"updated_at": time.Now().UTC(),
		})
	if result.Error != nil {
		return false, classify("compare and set session status", result.Error)
	}
	return result.RowsAffected == 1, nil
}

// CountByStatus counts the sessions of sessionDate per status
func (r *GormSessionRepository) CountByStatus(ctx context.Context, sessionDate string) (map[receiving.SessionStatus]int64, error) {
	var rows []struct {
		Status receiving.SessionStatus
		Count  int64
	}
	if err := r.db.WithContext(ctx).
		Model(&models.ReceivingSessionModel{}).
		Select("status, COUNT(*) AS count").
		Where("session_date = ?", sessionDate).
		Group("status").
		Scan(&rows).Error; err != nil {
		return nil, classify("count sessions by status", err)
	}
	counts := make(map[receiving.SessionStatus]int64, len(rows))
	for _, row := range rows {
		counts[row.Status] = row.Count
	}
	return counts, nil
}

// FindStale returns the keys of sessions that have been in status since before cutoff
func (r *GormSessionRepository) FindStale(ctx context.Context, status receiving.SessionStatus, cutoff time.Time) ([]receiving.SessionKey, error) {
	var rows []models.ReceivingSessionModel
	if err := r.db.WithContext(ctx).
		Select("location", "session_date").
		Where("status = ? AND updated_at < ?", status, cutoff.UTC()).
		Order("updated_at").
		Find(&rows).Error; err != nil {
		return nil, classify("find stale sessions", err)
	}

	keys := make([]receiving.SessionKey, 0, len(rows))
	for _, row := range rows {
		key, err := receiving.ParseSessionKey(row.Location, row.SessionDate)
		if err != nil {
			return nil, err
		}
		keys = append(keys, key)
	}
	return keys, nil
}

var _ receiving.SessionRepository = (*GormSessionRepository)(nil)
