package database

import (
	"database/sql"

	"github.com/tillsync/tillsync/pkg/errors"

	_ "github.com/lib/pq"
)

func (db *DB) openPostgres() error {
	var err error

	if db.handler, err = sql.Open("postgres", db.DSN); err != nil {
		return errors.Wrap(err, "could not open postgres connection")
	}

	if err = db.handler.Ping(); err != nil {
		return errors.Wrap(err, "could not ping postgres")
	}

	if err = db.migratePostgres(); err != nil {
		return errors.Wrap(err, "could not migrate postgres database")
	}

	return nil
}

func (db *DB) migratePostgres() error {
	db.lock.Lock()
	defer db.lock.Unlock()

	tx, err := db.handler.Begin()
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if _, err := tx.Exec(`CREATE TABLE IF NOT EXISTS schema_version (version INTEGER NOT NULL)`); err != nil {
		return errors.Wrap(err, "could not create schema version table")
	}

	var version int
	err = tx.QueryRow(`SELECT version FROM schema_version LIMIT 1`).Scan(&version)
	if err != nil && !errors.Is(err, sql.ErrNoRows) {
		return errors.Wrap(err, "could not query schema version")
	}
	if errors.Is(err, sql.ErrNoRows) {
		if _, err := tx.Exec(`INSERT INTO schema_version (version) VALUES (0)`); err != nil {
			return errors.Wrap(err, "could not seed schema version")
		}
		version = 0
	}

	if version == len(postgresMigrations) {
		return tx.Commit()
	}
	if version > len(postgresMigrations) {
		return errors.New("database schema version %d is newer than this build supports", version)
	}

	if version == 0 {
		if _, err := tx.Exec(postgresSchema); err != nil {
			return errors.Wrap(err, "could not initialize schema")
		}
	} else {
		for _, migration := range postgresMigrations[version:] {
			if _, err := tx.Exec(migration); err != nil {
				return errors.Wrap(err, "could not apply migration")
			}
		}
	}

	if _, err := tx.Exec(`UPDATE schema_version SET version = $1`, len(postgresMigrations)); err != nil {
		return errors.Wrap(err, "could not bump schema version")
	}

	return tx.Commit()
}

const postgresSchema = `
CREATE TABLE sync_blob
(
    id             TEXT PRIMARY KEY,
    scope          TEXT NOT NULL,
    version        TEXT NOT NULL,
    encrypted_data BYTEA NOT NULL,
    recovery_hash  TEXT NOT NULL,
    timestamp      TIMESTAMP NOT NULL,
    synced         BOOLEAN NOT NULL DEFAULT FALSE,
    conflict       BOOLEAN NOT NULL DEFAULT FALSE,
    conflict_with  TEXT NOT NULL DEFAULT ''
);

CREATE INDEX sync_blob_scope_index ON sync_blob (scope);
`

var postgresMigrations = []string{
	postgresSchema,
}
