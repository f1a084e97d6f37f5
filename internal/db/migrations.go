package db

import (
	"database/sql"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/btcsuite/btclog/v2"
	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database/sqlite3"
	"github.com/golang-migrate/migrate/v4/source/httpfs"
	"github.com/reviewloop/reviewloop/internal/build"
)

// LatestMigrationVersion is the latest migration version of the
// database. This is used to implement downgrade protection for the
// daemon.
//
// NOTE: This MUST be updated when a new migration is added.
const LatestMigrationVersion uint = 1

// ErrMigrationDowngrade is returned when a database downgrade is
// detected.
var ErrMigrationDowngrade = errors.New("database downgrade detected")

// log is the package-wide logger for the db package.
var log = build.NewSubLogger("DB")

// migrationLogger adapts our logger to the migrate.Logger interface.
type migrationLogger struct {
	log btclog.Logger
}

// Printf implements the migrate.Logger interface.
func (m *migrationLogger) Printf(format string, v ...any) {
	format = strings.TrimRight(format, "\n")
	m.log.Infof(format, v...)
}

// Verbose returns true when verbose logging is enabled.
func (m *migrationLogger) Verbose() bool {
	return true
}

// RunMigrations applies all pending schema migrations from the embedded
// migration files, refusing to run against a database that is newer than
// this binary.
func RunMigrations(db *sql.DB) error {
	driver, err := sqlite3.WithInstance(db, &sqlite3.Config{})
	if err != nil {
		return fmt.Errorf("failed to create migration driver: %w",
			err)
	}

	migrateFileServer, err := httpfs.New(http.FS(sqlSchemas),
		"migrations")
	if err != nil {
		return err
	}

	sqlMigrate, err := migrate.NewWithInstance(
		"migrations", migrateFileServer, "reviewloop", driver,
	)
	if err != nil {
		return err
	}

	migrationVersion, dirty, err := sqlMigrate.Version()
	if err != nil && !errors.Is(err, migrate.ErrNilVersion) {
		return fmt.Errorf("unable to determine current migration "+
			"version: %w", err)
	}

	// A dirty version means a previous migration did not complete and
	// requires manual intervention.
	if dirty {
		return fmt.Errorf("database is in a dirty state at version "+
			"%v, manual intervention required", migrationVersion)
	}

	// Down migrations may drop data, so refuse to open a database
	// written by a newer binary.
	if migrationVersion > LatestMigrationVersion {
		return fmt.Errorf("%w: db_version=%v, "+
			"latest_migration_version=%v", ErrMigrationDowngrade,
			migrationVersion, LatestMigrationVersion)
	}

	log.Infof("Applying migrations, current_db_version=%v, "+
		"latest_migration_version=%v", migrationVersion,
		LatestMigrationVersion)

	sqlMigrate.Log = &migrationLogger{log}

	err = sqlMigrate.Up()
	if err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return err
	}

	return nil
}
