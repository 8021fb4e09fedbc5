package postgres

import (
	"context"
	"database/sql"
	"sync"
	"time"

	"github.com/andresuchdata/fetchers/internal/config"
	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/jmoiron/sqlx"
	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"
	"golang.org/x/sync/semaphore"
)

type DB struct {
	*sqlx.DB
	sem *semaphore.Weighted
}

var (
	dbInstance *DB
	once       sync.Once
)

const schema = `
CREATE TABLE IF NOT EXISTS fetch_log (
	id            TEXT PRIMARY KEY,
	backend       TEXT NOT NULL,
	fetch_key     TEXT NOT NULL,
	outcome       TEXT NOT NULL,
	attempts      INTEGER NOT NULL DEFAULT 0,
	size          BIGINT NOT NULL DEFAULT 0,
	spooled_path  TEXT NOT NULL DEFAULT '',
	error_code    TEXT NOT NULL DEFAULT '',
	error_message TEXT NOT NULL DEFAULT '',
	error         TEXT NOT NULL DEFAULT '',
	scopes        TEXT[] NOT NULL DEFAULT '{}',
	elapsed_ms    BIGINT NOT NULL DEFAULT 0,
	slept_ms      BIGINT NOT NULL DEFAULT 0,
	started_at    TIMESTAMPTZ NOT NULL DEFAULT NOW()
);
CREATE INDEX IF NOT EXISTS fetch_log_backend_key_idx ON fetch_log (backend, fetch_key, started_at DESC);
`

// NewDB creates the connection pool once per process.
func NewDB(ctx context.Context, cfg *config.DatabaseConfig) (*DB, error) {
	var err error
	once.Do(func() {
		var db *sqlx.DB
		db, err = sqlx.ConnectContext(ctx, "pgx", cfg.DSN())
		if err != nil {
			err = errors.Wrap(err, "connecting to postgres")
			return
		}

		// Configure connection pool
		db.SetMaxOpenConns(25)
		db.SetMaxIdleConns(5)
		db.SetConnMaxLifetime(5 * time.Minute)

		dbInstance = &DB{
			DB:  db,
			sem: semaphore.NewWeighted(10), // Limit to 10 concurrent operations
		}
	})

	return dbInstance, err
}

// EnsureSchema creates the fetch_log table when missing.
func (db *DB) EnsureSchema(ctx context.Context) error {
	if _, err := db.ExecContext(ctx, schema); err != nil {
		return errors.Wrap(err, "creating fetch_log schema")
	}
	return nil
}

// WithTx executes a function within a transaction
func (db *DB) WithTx(ctx context.Context, fn func(tx *sql.Tx) error) error {
	if err := db.sem.Acquire(ctx, 1); err != nil {
		return errors.Wrap(err, "could not acquire semaphore")
	}
	defer db.sem.Release(1)

	tx, err := db.BeginTxx(ctx, nil)
	if err != nil {
		return errors.Wrap(err, "could not begin transaction")
	}

	if err := fn(tx.Tx); err != nil {
		if rbErr := tx.Rollback(); rbErr != nil {
			log.Error().Err(rbErr).Msg("could not rollback transaction")
		}
		return err
	}

	if err := tx.Commit(); err != nil {
		return errors.Wrap(err, "could not commit transaction")
	}

	return nil
}
