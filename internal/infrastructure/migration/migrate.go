package migration

import (
	"database/sql"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strconv"
	"strings"

	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database/postgres"
	"github.com/golang-migrate/migrate/v4/source"
	_ "github.com/golang-migrate/migrate/v4/source/file"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	"go.uber.org/zap"

	"github.com/erp/receiving/migrations"
)

// ErrDirtySchema means a previous migration failed halfway. The schema
// must be repaired by hand and the version forced before migrating again.
var ErrDirtySchema = errors.New("migration: schema is dirty")

// Migrator applies the receiving schema with golang-migrate
type Migrator struct {
	migrate   *migrate.Migrate
	logger    *zap.Logger
	available []uint
}

// Status compares the applied schema with the migrations on hand
type Status struct {
	Current uint
	Dirty   bool
	Latest  uint
	Pending int
}

// New creates a Migrator over an open postgres connection. An empty
// migrationsPath selects the schema compiled into the binary.
func New(db *sql.DB, migrationsPath string, logger *zap.Logger) (*Migrator, error) {
	driver, err := postgres.WithInstance(db, &postgres.Config{})
	if err != nil {
		return nil, fmt.Errorf("failed to create postgres driver: %w", err)
	}

	src, srcURL, err := openSource(migrationsPath)
	if err != nil {
		return nil, err
	}

	var m *migrate.Migrate
	if src != nil {
		m, err = migrate.NewWithInstance("iofs", src, "postgres", driver)
	} else {
		m, err = migrate.NewWithDatabaseInstance(srcURL, "postgres", driver)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to create migrate instance: %w", err)
	}

	names, err := ListMigrations(sourceFS(migrationsPath))
	if err != nil {
		return nil, err
	}
	available, err := parseVersions(names)
	if err != nil {
		return nil, err
	}
	return &Migrator{migrate: m, logger: logger, available: available}, nil
}

func sourceFS(migrationsPath string) fs.FS {
	if migrationsPath == "" {
		return migrations.FS
	}
	return os.DirFS(migrationsPath)
}

// parseVersions extracts the numeric prefixes of migration base names
func parseVersions(names []string) ([]uint, error) {
	versions := make([]uint, 0, len(names))
	for _, name := range names {
		prefix, _, _ := strings.Cut(name, "_")
		v, err := strconv.ParseUint(prefix, 10, 64)
		if err != nil {
			return nil, fmt.Errorf("migration %q has no numeric version", name)
		}
		versions = append(versions, uint(v))
	}
	return versions, nil
}

func newStatus(current uint, dirty bool, available []uint) Status {
	st := Status{Current: current, Dirty: dirty}
	for _, v := range available {
		if v > st.Latest {
			st.Latest = v
		}
		if v > current {
			st.Pending++
		}
	}
	return st
}

// Status reports the applied version against the available migrations
func (m *Migrator) Status() (Status, error) {
	current, dirty, err := m.Version()
	if err != nil {
		return Status{}, err
	}
	return newStatus(current, dirty, m.available), nil
}

// openSource returns either an embedded source driver or a file:// URL.
func openSource(migrationsPath string) (source.Driver, string, error) {
	if migrationsPath != "" {
		return nil, fmt.Sprintf("file://%s", migrationsPath), nil
	}
	src, err := EmbeddedSource(migrations.FS)
	if err != nil {
		return nil, "", err
	}
	return src, "", nil
}

// EmbeddedSource wraps an fs.FS holding migration files.
func EmbeddedSource(fsys fs.FS) (source.Driver, error) {
	src, err := iofs.New(fsys, ".")
	if err != nil {
		return nil, fmt.Errorf("failed to open embedded migrations: %w", err)
	}
	return src, nil
}

// Up runs all pending migrations. It refuses to run on a dirty schema.
func (m *Migrator) Up() error {
	st, err := m.Status()
	if err != nil {
		return err
	}
	if st.Dirty {
		return fmt.Errorf("%w at version %d", ErrDirtySchema, st.Current)
	}
	m.logger.Info("Running migrations up",
		zap.Uint("from", st.Current),
		zap.Uint("to", st.Latest),
		zap.Int("pending", st.Pending),
	)

	err = m.migrate.Up()
	if errors.Is(err, migrate.ErrNoChange) {
		m.logger.Info("No migrations to apply")
		return nil
	}
	if err != nil {
		return fmt.Errorf("migration up failed: %w", err)
	}

	version, dirty, err := m.migrate.Version()
	if err != nil {
		return fmt.Errorf("failed to get migration version: %w", err)
	}

	m.logger.Info("Migrations completed",
		zap.Uint("version", version),
		zap.Bool("dirty", dirty),
	)
	return nil
}

// Down rolls back all migrations
func (m *Migrator) Down() error {
	m.logger.Info("Running migrations down")

	err := m.migrate.Down()
	if errors.Is(err, migrate.ErrNoChange) {
		m.logger.Info("No migrations to roll back")
		return nil
	}
	if err != nil {
		return fmt.Errorf("migration down failed: %w", err)
	}

	m.logger.Info("All migrations rolled back")
	return nil
}

// Steps applies n migrations (positive = up, negative = down)
func (m *Migrator) Steps(n int) error {
	m.logger.Info("Running migration steps", zap.Int("steps", n))

	err := m.migrate.Steps(n)
	if errors.Is(err, migrate.ErrNoChange) {
		m.logger.Info("No migrations to apply")
		return nil
	}
	if err != nil {
		return fmt.Errorf("migration steps failed: %w", err)
	}

	version, dirty, err := m.Version()
	if err != nil {
		return err
	}
	m.logger.Info("Migration steps completed",
		zap.Uint("version", version),
		zap.Bool("dirty", dirty),
	)
	return nil
}

// Version returns the current migration version; 0 when nothing is applied.
func (m *Migrator) Version() (uint, bool, error) {
	version, dirty, err := m.migrate.Version()
	if errors.Is(err, migrate.ErrNilVersion) {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, fmt.Errorf("failed to get migration version: %w", err)
	}
	return version, dirty, nil
}

// Force sets the migration version without running migrations.
// Only for recovering a dirty schema.
func (m *Migrator) Force(version int) error {
	m.logger.Warn("Forcing migration version", zap.Int("version", version))

	if err := m.migrate.Force(version); err != nil {
		return fmt.Errorf("failed to force version %d: %w", version, err)
	}
	return nil
}

// Close closes the migrator and releases resources
func (m *Migrator) Close() error {
	sourceErr, dbErr := m.migrate.Close()
	if sourceErr != nil {
		return fmt.Errorf("failed to close source: %w", sourceErr)
	}
	if dbErr != nil {
		return fmt.Errorf("failed to close database: %w", dbErr)
	}
	return nil
}
