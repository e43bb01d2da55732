// Package storedb opens per-module sqlite databases and applies their
// schema migrations. Several modules may share one database file; each
// tracks its applied versions independently in schema_migrations.
package storedb

import (
	"database/sql"
	"os"
	"path/filepath"
	"sort"
	"time"

	_ "modernc.org/sqlite"

	"github.com/voslund/decoynet/internal/errx"
)

// Migration is one schema step. Versions are applied in ascending order
// and each version runs at most once per module.
type Migration struct {
	Version int
	Name    string
	SQL     string
}

type OpenOptions struct {
	Path       string
	Module     string
	Migrations []Migration
}

// Open opens (creating if needed) the database at opts.Path and brings
// opts.Module's schema up to date. The caller owns the returned handle.
func Open(opts OpenOptions) (*sql.DB, error) {
	if opts.Path == "" {
		return nil, errx.With(ErrOpen, ": empty path")
	}
	if opts.Module == "" {
		return nil, errx.With(ErrOpen, ": empty module")
	}
	if err := os.MkdirAll(filepath.Dir(opts.Path), 0755); err != nil {
		return nil, errx.With(ErrOpen, ": create db directory: %w", err)
	}

	dsn := "file:" + opts.Path +
		"?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)&_pragma=foreign_keys(1)"
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, errx.With(ErrOpen, ": %q: %w", opts.Path, err)
	}
	// The driver serializes writers; a single connection avoids
	// SQLITE_BUSY under concurrent use.
	db.SetMaxOpenConns(1)

	if err := migrate(db, opts.Module, opts.Migrations); err != nil {
		db.Close()
		return nil, err
	}
	return db, nil
}

func migrate(db *sql.DB, module string, migrations []Migration) error {
	if _, err := db.Exec(
		`CREATE TABLE IF NOT EXISTS schema_migrations (
  module TEXT NOT NULL,
  version INTEGER NOT NULL,
  name TEXT NOT NULL,
  applied_at TEXT NOT NULL,
  PRIMARY KEY (module, version)
)`); err != nil {
		return errx.With(ErrMigrate, ": create schema_migrations: %w", err)
	}

	sorted := make([]Migration, len(migrations))
	copy(sorted, migrations)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].Version < sorted[j].Version })
	for i, m := range sorted {
		if m.Version <= 0 {
			return errx.With(ErrMigrate, ": %s has non-positive version %d", module, m.Version)
		}
		if i > 0 && m.Version == sorted[i-1].Version {
			return errx.With(ErrMigrate, ": %s has duplicate version %d", module, m.Version)
		}
	}

	var current int
	if err := db.QueryRow(
		`SELECT COALESCE(MAX(version), 0) FROM schema_migrations WHERE module = ?`,
		module,
	).Scan(&current); err != nil {
		return errx.With(ErrMigrate, ": read %s version: %w", module, err)
	}

	for _, m := range sorted {
		if m.Version <= current {
			continue
		}
		if err := apply(db, module, m); err != nil {
			return err
		}
	}
	return nil
}

func apply(db *sql.DB, module string, m Migration) error {
	tx, err := db.Begin()
	if err != nil {
		return errx.With(ErrMigrate, ": begin %s v%d: %w", module, m.Version, err)
	}
	defer tx.Rollback()

	if _, err := tx.Exec(m.SQL); err != nil {
		return errx.With(ErrMigrate, ": apply %s v%d (%s): %w", module, m.Version, m.Name, err)
	}
	if _, err := tx.Exec(
		`INSERT INTO schema_migrations(module, version, name, applied_at) VALUES (?, ?, ?, ?)`,
		module,
		m.Version,
		m.Name,
		time.Now().UTC().Format(time.RFC3339Nano),
	); err != nil {
		return errx.With(ErrMigrate, ": record %s v%d: %w", module, m.Version, err)
	}
	if err := tx.Commit(); err != nil {
		return errx.With(ErrMigrate, ": commit %s v%d: %w", module, m.Version, err)
	}
	return nil
}
