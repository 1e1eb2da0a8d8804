package database

import (
	"database/sql"
	"fmt"

	"github.com/tillsync/tillsync/pkg/errors"

	_ "modernc.org/sqlite"
)

func (db *DB) openSQLite() error {
	var err error

	if db.handler, err = sql.Open("sqlite", db.DSN); err != nil {
		return errors.Wrap(err, "could not open db connection")
	}

	// sqlite has no real concurrency, a single connection avoids
	// SQLITE_BUSY under parallel handlers
	db.handler.SetMaxOpenConns(1)

	if _, err = db.handler.Exec(`PRAGMA journal_mode = wal;`); err != nil {
		return errors.Wrap(err, "could not enable wal mode")
	}
	if _, err = db.handler.Exec(`PRAGMA foreign_keys = on;`); err != nil {
		return errors.Wrap(err, "could not enable foreign keys")
	}

	if err = db.migrateSQLite(); err != nil {
		return errors.Wrap(err, "could not migrate sqlite database")
	}

	return nil
}

func (db *DB) migrateSQLite() error {
	db.lock.Lock()
	defer db.lock.Unlock()

	var version int
	if err := db.handler.QueryRow("PRAGMA user_version").Scan(&version); err != nil {
		return errors.Wrap(err, "could not query schema version")
	}

	if version == len(sqliteMigrations) {
		return nil
	}
	if version > len(sqliteMigrations) {
		return errors.New("database schema version %d is newer than this build supports", version)
	}

	tx, err := db.handler.Begin()
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if version == 0 {
		if _, err := tx.Exec(sqliteSchema); err != nil {
			return errors.Wrap(err, "could not initialize schema")
		}
	} else {
		for _, migration := range sqliteMigrations[version:] {
			if _, err := tx.Exec(migration); err != nil {
				return errors.Wrap(err, "could not apply migration")
			}
		}
	}

	if _, err := tx.Exec(fmt.Sprintf("PRAGMA user_version = %d", len(sqliteMigrations))); err != nil {
		return errors.Wrap(err, "could not bump schema version")
	}

	return tx.Commit()
}

const sqliteSchema = `
CREATE TABLE sync_blob
(
    id             TEXT PRIMARY KEY,
    scope          TEXT NOT NULL,
    version        TEXT NOT NULL,
    encrypted_data BLOB NOT NULL,
    recovery_hash  TEXT NOT NULL,
    timestamp      TIMESTAMP NOT NULL,
    synced         BOOLEAN NOT NULL DEFAULT FALSE,
    conflict       BOOLEAN NOT NULL DEFAULT FALSE,
    conflict_with  TEXT NOT NULL DEFAULT ''
);

CREATE INDEX sync_blob_scope_index ON sync_blob (scope);
`

var sqliteMigrations = []string{
	sqliteSchema,
}
