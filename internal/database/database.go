package database

import (
	"context"
	"database/sql"
	"fmt"
	"path/filepath"
	"sync"

	sq "github.com/Masterminds/squirrel"
	"github.com/rs/zerolog"

	"github.com/tillsync/tillsync/internal/domain"
	"github.com/tillsync/tillsync/internal/logger"
	"github.com/tillsync/tillsync/pkg/errors"
)

type DB struct {
	log     zerolog.Logger
	handler *sql.DB
	lock    sync.RWMutex
	ctx     context.Context
	cancel  func()

	Driver string
	DSN    string

	squirrel sq.StatementBuilderType
}

func NewDB(cfg *domain.Config, log logger.Logger) (*DB, error) {
	db := &DB{
		log:      log.With().Str("module", "database").Logger(),
		squirrel: sq.StatementBuilder.PlaceholderFormat(sq.Dollar),
	}
	db.ctx, db.cancel = context.WithCancel(context.Background())

	switch cfg.Database.Type {
	case "sqlite":
		db.Driver = "sqlite"
		db.DSN = dataSourceName(cfg.ConfigPath, "tillsync.db")
	case "postgres", "postgresql":
		if cfg.Database.Postgres.Host == "" || cfg.Database.Postgres.Port == 0 || cfg.Database.Postgres.Database == "" {
			return nil, errors.New("postgres configuration is incomplete")
		}
		db.DSN = fmt.Sprintf("host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
			cfg.Database.Postgres.Host, cfg.Database.Postgres.Port, cfg.Database.Postgres.User,
			cfg.Database.Postgres.Pass, cfg.Database.Postgres.Database, cfg.Database.Postgres.SslMode)
		db.Driver = "postgres"
	default:
		return nil, errors.New("unsupported database type: %v", cfg.Database.Type)
	}

	return db, nil
}

func (db *DB) Open() error {
	if db.DSN == "" {
		return errors.New("database DSN is required but not configured")
	}

	var err error

	switch db.Driver {
	case "sqlite":
		if err = db.openSQLite(); err != nil {
			db.log.Fatal().Err(err).Msg("could not open sqlite database")
			return err
		}
	case "postgres":
		if err = db.openPostgres(); err != nil {
			db.log.Fatal().Err(err).Msg("could not open postgres database")
			return err
		}
	}

	return nil
}

func (db *DB) Close() error {
	db.cancel()

	if db.handler != nil {
		return db.handler.Close()
	}
	return nil
}

func (db *DB) Ping(ctx context.Context) error {
	if db.handler == nil {
		return errors.New("database handler is not open")
	}
	return db.handler.PingContext(ctx)
}

// dataSourceName builds the path of the embedded database file next to the
// config file.
func dataSourceName(configPath string, name string) string {
	if configPath != "" {
		return filepath.Join(configPath, name)
	}
	return name
}
