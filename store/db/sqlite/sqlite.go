package sqlite

import (
	"context"
	"database/sql"

	"github.com/pkg/errors"

	// Import the SQLite driver.
	_ "modernc.org/sqlite"

	"github.com/gryagbot/gryag/internal/profile"
	"github.com/gryagbot/gryag/store"
)

type DB struct {
	db      *sql.DB
	profile *profile.Profile
}

// NewDB opens the sqlite database at the profile DSN.
//
// Connection settings:
// - Journal mode WAL: prevents reader/writer locking issues.
// - busy_timeout 10s: writers wait instead of failing with SQLITE_BUSY.
// - Single connection: with WAL and one process this is optimal and it
//   serializes writes, which the pipeline relies on for message ordering.
//
// Note: with `modernc.org/sqlite`, each pragma must be prefixed with `_pragma=`.
func NewDB(profile *profile.Profile) (store.Driver, error) {
	if profile.DSN == "" {
		return nil, errors.New("dsn required")
	}

	sqliteDB, err := sql.Open("sqlite", profile.DSN+"?_pragma=foreign_keys(0)&_pragma=busy_timeout(10000)&_pragma=journal_mode(WAL)&_pragma=auto_vacuum(2)")
	if err != nil {
		return nil, errors.Wrapf(err, "failed to open db with dsn: %s", profile.DSN)
	}

	sqliteDB.SetMaxOpenConns(1)
	sqliteDB.SetMaxIdleConns(1)
	sqliteDB.SetConnMaxLifetime(0)
	sqliteDB.SetConnMaxIdleTime(0)

	driver := DB{db: sqliteDB, profile: profile}

	return &driver, nil
}

func (d *DB) GetDB() *sql.DB {
	return d.db
}

func (d *DB) Close() error {
	return d.db.Close()
}

// Vacuum reclaims space freed by retention pruning.
func (d *DB) Vacuum(ctx context.Context) error {
	if _, err := d.db.ExecContext(ctx, "PRAGMA incremental_vacuum"); err != nil {
		return errors.Wrap(err, "failed to vacuum")
	}
	return nil
}
