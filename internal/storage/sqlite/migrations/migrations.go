// Package migrations owns the execution journal schema.
package migrations

import (
	"database/sql"
	"embed"
	"errors"
	"fmt"

	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database/sqlite3"
	"github.com/golang-migrate/migrate/v4/source/iofs"

	"github.com/slok/rctl/internal/log"
)

//go:embed sql/*.sql
var schema embed.FS

// JournalTable is the table holding finished script executions.
const JournalTable = "executions"

// Apply brings the journal schema to the latest version and returns it.
// A journal already at the latest version is left untouched.
func Apply(db *sql.DB, logger log.Logger) (uint, error) {
	logger = journalLogger(logger)

	var version uint
	err := withSchema(db, logger, func(m *migrate.Migrate) error {
		if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
			return fmt.Errorf("could not migrate journal: %w", err)
		}

		v, dirty, err := m.Version()
		if err != nil {
			return fmt.Errorf("could not read journal version: %w", err)
		}
		if dirty {
			return fmt.Errorf("journal schema version %d is dirty", v)
		}
		version = v
		return nil
	})
	if err != nil {
		return 0, err
	}

	logger.Debugf("Journal schema at version %d", version)
	return version, nil
}

// Revert drops the journal schema.
func Revert(db *sql.DB, logger log.Logger) error {
	logger = journalLogger(logger)

	err := withSchema(db, logger, func(m *migrate.Migrate) error {
		if err := m.Down(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
			return fmt.Errorf("could not revert journal: %w", err)
		}
		return nil
	})
	if err != nil {
		return err
	}

	logger.Debugf("Journal schema reverted")
	return nil
}

func journalLogger(logger log.Logger) log.Logger {
	if logger == nil {
		logger = log.Noop
	}
	return logger.WithValues(log.Kv{"svc": "storage.JournalSchema"})
}

// withSchema runs fn against a migrate instance backed by the embedded journal schema.
func withSchema(db *sql.DB, logger log.Logger, fn func(m *migrate.Migrate) error) error {
	if db == nil {
		return fmt.Errorf("db is required")
	}

	src, err := iofs.New(schema, "sql")
	if err != nil {
		return fmt.Errorf("could not load journal schema: %w", err)
	}
	defer func() {
		if err := src.Close(); err != nil {
			logger.Warningf("Could not close journal schema source: %s", err)
		}
	}()

	driver, err := sqlite3.WithInstance(db, &sqlite3.Config{})
	if err != nil {
		return fmt.Errorf("could not create journal driver: %w", err)
	}

	m, err := migrate.NewWithInstance("iofs", src, "sqlite3", driver)
	if err != nil {
		return fmt.Errorf("could not prepare journal migration: %w", err)
	}

	return fn(m)
}
