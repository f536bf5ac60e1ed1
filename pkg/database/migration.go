package database

import (
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strconv"
	"time"

	"github.com/Gobusters/ectologger"
	"github.com/golang-migrate/migrate/v4"
	migratedb "github.com/golang-migrate/migrate/v4/database"
	"github.com/golang-migrate/migrate/v4/database/postgres"
	_ "github.com/golang-migrate/migrate/v4/source/file"
	pkgerrors "github.com/pkg/errors"
)

// MigrationLogger adapts ectologger to migrate.Logger.
type MigrationLogger struct {
	ectologger.Logger
}

func (l MigrationLogger) Verbose() bool {
	return true
}

func (l MigrationLogger) Printf(format string, v ...any) {
	l.Debugf(format, v...)
}

type MigrationConfig struct {
	MigrationFolderPath string
	Version             uint
	Force               int
	AutoRollback        bool // force the previous version back when a migration leaves the schema dirty
}

type MigrationService struct {
	config *MigrationConfig
	logger ectologger.Logger
}

func NewMigrationService(logger ectologger.Logger, config *MigrationConfig) *MigrationService {
	return &MigrationService{
		config: config,
		logger: logger,
	}
}

// MigratePostgres runs the migrations against an open postgres pool.
func (ms *MigrationService) MigratePostgres(db *sql.DB, databaseName string) error {
	driver, err := postgres.WithInstance(db, &postgres.Config{DatabaseName: databaseName})
	if err != nil {
		ms.logger.WithError(err).Error("failed to create postgres migration driver")
		return pkgerrors.Wrap(err, "failed to create postgres migration driver")
	}
	return ms.Migrate(databaseName, driver)
}

func (ms *MigrationService) Migrate(databaseName string, driver migratedb.Driver) error {
	folder := ms.resolveMigrationFolder()
	if _, err := os.Stat(folder); err != nil {
		return pkgerrors.Wrap(err, fmt.Sprintf("migration folder %s does not exist", folder))
	}

	m, err := migrate.NewWithDatabaseInstance("file://"+folder, databaseName, driver)
	if err != nil {
		ms.logger.WithError(err).Error("failed to create migrate instance")
		return err
	}
	m.Log = MigrationLogger{Logger: ms.logger}

	if ms.config.Force != 0 {
		if err := m.Force(ms.config.Force); err != nil {
			ms.logger.WithError(err).Errorf("failed to force database to version %d", ms.config.Force)
			return err
		}
	}

	previous, _, versionErr := m.Version()
	if versionErr != nil && !errors.Is(versionErr, migrate.ErrNilVersion) {
		ms.logger.WithError(versionErr).Warn("failed to read current migration version")
	}

	start := time.Now()
	if ms.config.Version != 0 {
		err = m.Migrate(ms.config.Version)
	} else {
		err = m.Up()
	}
	ms.logger.Infof("database migrations finished in %v", time.Since(start))

	return ms.handleMigrationError(m, err, previous)
}

func (ms *MigrationService) resolveMigrationFolder() string {
	folder := ms.config.MigrationFolderPath
	if filepath.IsAbs(folder) {
		return folder
	}
	if _, err := os.Stat(folder); err == nil {
		return folder
	}
	wd, _ := os.Getwd()
	return filepath.Join(wd, folder)
}

func (ms *MigrationService) handleMigrationError(m *migrate.Migrate, err error, previous uint) error {
	if err == nil {
		ms.logger.Info("successfully applied migrations")
		return nil
	}
	if errors.Is(err, migrate.ErrNoChange) {
		ms.logger.Info("no new migrations to apply")
		return nil
	}

	ms.logger.WithError(err).Errorf("migration failed: %v", err)

	version, dirty, versionErr := m.Version()
	if versionErr != nil {
		ms.logger.WithError(versionErr).Error("failed to read migration version after failure")
		return err
	}

	if dirty && ms.config.AutoRollback {
		target := int(previous)
		if target == 0 {
			target = int(version) - 1
		}
		ms.logger.Warnf("database is dirty at version %d, forcing version %d", version, target)
		if forceErr := m.Force(target); forceErr != nil {
			ms.logger.WithError(forceErr).Errorf("failed to force database to version %d", target)
			return forceErr
		}
	}

	// the original error is returned even after a rollback so startup stops
	return err
}

// LatestVersion returns the highest up-migration number found in folder.
func LatestVersion(folder string) (int, error) {
	files, err := os.ReadDir(folder)
	if err != nil {
		return 0, err
	}

	re := regexp.MustCompile(`^(\d+)_.*\.up\.sql$`)
	var versions []int
	for _, file := range files {
		if file.IsDir() {
			continue
		}
		matches := re.FindStringSubmatch(file.Name())
		if len(matches) < 2 {
			continue
		}
		v, err := strconv.Atoi(matches[1])
		if err != nil {
			return 0, err
		}
		versions = append(versions, v)
	}

	if len(versions) == 0 {
		return 0, fmt.Errorf("no migration files found in %s", folder)
	}
	sort.Ints(versions)
	return versions[len(versions)-1], nil
}
