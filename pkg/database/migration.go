package database

import (
	"os"
	"path/filepath"

	"github.com/Gobusters/ectologger"
	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database"
	_ "github.com/golang-migrate/migrate/v4/source/file"
	"github.com/pkg/errors"
)

// MigrationConfig controls how schema migrations are applied at startup.
type MigrationConfig struct {
	FolderPath string
	// Version pins the target version; zero means latest.
	Version uint
	// Force sets the recorded version without running anything. Operator
	// escape hatch for a dirty database.
	Force int
	// AutoRollback reverts a dirty database to its previous version so the
	// next start gets a clean retry. The migration error is still returned.
	AutoRollback bool
}

// MigrationService applies the db/pg migration files against the store.
type MigrationService struct {
	config MigrationConfig
	logger ectologger.Logger
}

func NewMigrationService(config MigrationConfig, logger ectologger.Logger) *MigrationService {
	return &MigrationService{config: config, logger: logger}
}

// Migrate brings the schema to the configured version.
func (ms *MigrationService) Migrate(databaseName string, driver database.Driver) error {
	folder := ms.resolveFolder()
	if _, err := os.Stat(folder); err != nil {
		return errors.Wrapf(err, "migration folder %s does not exist", folder)
	}

	m, err := migrate.NewWithDatabaseInstance("file://"+folder, databaseName, driver)
	if err != nil {
		return errors.Wrap(err, "failed to create migrate instance")
	}
	m.Log = migrationLogger{ms.logger}

	if ms.config.Force != 0 {
		if err := m.Force(ms.config.Force); err != nil {
			return errors.Wrapf(err, "failed to force version %d", ms.config.Force)
		}
	}

	previous, _, _ := m.Version()

	var migrationErr error
	if ms.config.Version != 0 {
		migrationErr = m.Migrate(ms.config.Version)
	} else {
		migrationErr = m.Up()
	}

	if migrationErr == nil || migrationErr == migrate.ErrNoChange {
		ms.logger.Info("database schema is up to date")
		return nil
	}

	version, dirty, versionErr := m.Version()
	if versionErr == nil && dirty && ms.config.AutoRollback {
		if previous == 0 && version > 0 {
			previous = version - 1
		}
		ms.logger.WithError(migrationErr).
			Warnf("database dirty at version %d, reverting to %d", version, previous)
		if err := m.Force(int(previous)); err != nil {
			return errors.Wrapf(err, "failed to revert to version %d", previous)
		}
	}

	return errors.Wrap(migrationErr, "migration failed")
}

func (ms *MigrationService) resolveFolder() string {
	if _, err := os.Stat(ms.config.FolderPath); err == nil {
		return ms.config.FolderPath
	}
	wd, _ := os.Getwd()
	return filepath.Join(wd, ms.config.FolderPath)
}

type migrationLogger struct {
	ectologger.Logger
}

func (l migrationLogger) Verbose() bool { return true }

func (l migrationLogger) Printf(format string, v ...any) {
	l.Infof(format, v...)
}
