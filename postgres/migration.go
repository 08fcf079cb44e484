//nolint:exhaustruct
package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"io/fs"
	"time"

	"github.com/golang-migrate/migrate/v4"
	pgx_migrate "github.com/golang-migrate/migrate/v4/database/pgx/v5"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	_ "github.com/jackc/pgx/v5/stdlib" // database/sql driver used by the migrator
	"github.com/rs/zerolog/log"
)

const (
	driverName        = "pgx"
	connectionTimeout = 10 * time.Second
)

type MigrationVersion struct {
	Version uint
	Dirty   bool
}

// Migrations is a set of golang-migrate files in dir of fsys, typically an
// embed.FS.
type Migrations struct {
	FS  fs.FS
	Dir string
}

func openAndPingDB(dbURI string) (*sql.DB, error) {
	db, err := sql.Open(driverName, dbURI)
	if err != nil {
		return nil, fmt.Errorf("postgres: failed to open database connection: %w", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), connectionTimeout)
	defer cancel()

	if err = db.PingContext(ctx); err != nil {
		_ = db.Close()

		return nil, fmt.Errorf("postgres: failed to ping database: %w", err)
	}

	return db, nil
}

func createMigrator(db *sql.DB, migrations Migrations) (*migrate.Migrate, error) {
	source, err := iofs.New(migrations.FS, migrations.Dir)
	if err != nil {
		return nil, fmt.Errorf("postgres: failed to open migration source: %w", err)
	}

	driver, err := pgx_migrate.WithInstance(db, &pgx_migrate.Config{})
	if err != nil {
		return nil, fmt.Errorf("postgres: failed to create migration driver instance: %w", err)
	}

	migrator, err := migrate.NewWithInstance("iofs", source, driverName, driver)
	if err != nil {
		return nil, fmt.Errorf("postgres: failed to create migrator instance: %w", err)
	}

	return migrator, nil
}

func closeMigrator(migrator *migrate.Migrate) error {
	sourceErr, databaseErr := migrator.Close()
	if sourceErr != nil {
		return fmt.Errorf("postgres: migration cleanup error (source): %w", sourceErr)
	}

	if databaseErr != nil {
		return fmt.Errorf("postgres: migration cleanup error (database): %w", databaseErr)
	}

	return nil
}

func withMigrator(dbURI string, migrations Migrations, fn func(*migrate.Migrate) error) error {
	db, err := openAndPingDB(dbURI)
	if err != nil {
		return err
	}

	defer func() {
		if closeErr := db.Close(); closeErr != nil {
			log.Error().
				Err(closeErr).
				Msg("The database connection failed to close after migration attempt")
		}
	}()

	migrator, err := createMigrator(db, migrations)
	if err != nil {
		return err
	}

	if err := fn(migrator); err != nil {
		_ = closeMigrator(migrator)

		return err
	}

	return closeMigrator(migrator)
}

func logMigrationResult(migrator *migrate.Migrate, err error, operation string) error {
	switch {
	case errors.Is(err, migrate.ErrNoChange):
		log.Info().
			Str("operation", operation).
			Msg("The database migration completed with no changes to apply")
	case err != nil:
		log.Error().
			Err(err).
			Str("operation", operation).
			Msg("The database migration has failed")

		return fmt.Errorf("postgres: failed to run migration %s: %w", operation, err)
	default:
		version, dirty, _ := migrator.Version()
		log.Info().
			Uint("version", version).
			Bool("dirty", dirty).
			Str("operation", operation).
			Msg("The database migration has been completed successfully")
	}

	return nil
}

func MigrateUp(dbURI string, migrations Migrations) error {
	return withMigrator(dbURI, migrations, func(migrator *migrate.Migrate) error {
		return logMigrationResult(migrator, migrator.Up(), "up")
	})
}

func MigrateDown(dbURI string, migrations Migrations) error {
	return withMigrator(dbURI, migrations, func(migrator *migrate.Migrate) error {
		return logMigrationResult(migrator, migrator.Down(), "down")
	})
}

func GetMigrationVersion(dbURI string, migrations Migrations) (*MigrationVersion, error) {
	var result *MigrationVersion

	err := withMigrator(dbURI, migrations, func(migrator *migrate.Migrate) error {
		version, dirty, err := migrator.Version()
		if err != nil && !errors.Is(err, migrate.ErrNilVersion) {
			return fmt.Errorf("postgres: failed to get migration version: %w", err)
		}

		result = &MigrationVersion{Version: version, Dirty: dirty}

		return nil
	})
	if err != nil {
		return nil, err
	}

	return result, nil
}
