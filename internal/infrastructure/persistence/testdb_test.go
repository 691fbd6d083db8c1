package persistence

import (
	"database/sql"
	"fmt"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/erp/receiving/internal/domain/receiving"
	"github.com/erp/receiving/internal/infrastructure/persistence/models"
	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/postgres"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

// setupTestDB opens an isolated in-memory sqlite database with the receiving schema
func setupTestDB(t *testing.T) *gorm.DB {
	t.Helper()

	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared", uuid.NewString())
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		Logger:                 logger.Default.LogMode(logger.Silent),
		SkipDefaultTransaction: true,
	})
	require.NoError(t, err)

	sqlDB, err := db.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)
	t.Cleanup(func() { sqlDB.Close() })

	require.NoError(t, db.AutoMigrate(models.AllModels()...))
	return db
}

// newMockDB returns a GORM postgres handle backed by sqlmock
func newMockDB(t *testing.T) (*gorm.DB, sqlmock.Sqlmock, *sql.DB) {
	t.Helper()

	mockDB, mock, err := sqlmock.New()
	require.NoError(t, err)

	dialector := postgres.New(postgres.Config{
		Conn:       mockDB,
		DriverName: "postgres",
	})
	gormDB, err := gorm.Open(dialector, &gorm.Config{
		SkipDefaultTransaction: true,
		Logger:                 logger.Default.LogMode(logger.Silent),
	})
	require.NoError(t, err)

	return gormDB, mock, mockDB
}

func testKey() receiving.SessionKey {
	return receiving.MustSessionKey("DOCK-1", "2026-03-02")
}

func seedManifest(t *testing.T, db *gorm.DB, key receiving.SessionKey, pairs ...string) {
	t.Helper()
	pkgs := make([]receiving.ExpectedPackage, 0, len(pairs)/2)
	for i := 0; i+1 < len(pairs); i += 2 {
		p, err := receiving.NewExpectedPackage(key, pairs[i], pairs[i+1], 1)
		require.NoError(t, err)
		pkgs = append(pkgs, p)
	}
	session, err := NewGormSessionRepository(db).GetOrCreate(t.Context(), key)
	require.NoError(t, err)
	require.NoError(t, NewGormManifestRepository(db).ReplaceExpected(t.Context(), session, pkgs))
}
