package postgres

import (
	"context"
	"database/sql"
	"time"

	"github.com/andresuchdata/fetchers/internal/domain"
	"github.com/lib/pq"
	"github.com/pkg/errors"
)

const defaultRecentLimit = 20

type fetchLogRepository struct {
	db *DB
}

func NewFetchLogRepository(db *DB) *fetchLogRepository {
	return &fetchLogRepository{db: db}
}

// fetchLogRow adds the array column the domain model does not map. The
// column is selected as its text literal for pq.StringArray to parse.
type fetchLogRow struct {
	domain.FetchRecord
	Scopes pq.StringArray `db:"scopes"`
}

func (r *fetchLogRepository) Record(ctx context.Context, rec *domain.FetchRecord) error {
	started := rec.StartedAt
	if started.IsZero() {
		started = time.Now()
	}
	scopes := rec.Scopes
	if scopes == nil {
		scopes = []string{}
	}
	return r.db.WithTx(ctx, func(tx *sql.Tx) error {
		query := `
			INSERT INTO fetch_log (
				id, backend, fetch_key, outcome, attempts, size, spooled_path,
				error_code, error_message, error, scopes, elapsed_ms, slept_ms, started_at
			) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14)
		`
		_, err := tx.ExecContext(ctx, query,
			rec.ID,
			rec.Backend,
			rec.Key,
			rec.Outcome,
			rec.Attempts,
			rec.Size,
			rec.SpooledPath,
			rec.ErrorCode,
			rec.ErrorMessage,
			rec.Error,
			pq.Array(scopes),
			rec.ElapsedMs,
			rec.SleptMs,
			started,
		)
		if err != nil {
			return errors.Wrap(err, "failed to insert fetch log")
		}
		return nil
	})
}

func (r *fetchLogRepository) Recent(ctx context.Context, backend, key string, limit int) ([]*domain.FetchRecord, error) {
	if limit <= 0 {
		limit = defaultRecentLimit
	}
	query := `
		SELECT id, backend, fetch_key, outcome, attempts, size, spooled_path,
			error_code, error_message, error, scopes::text AS scopes, elapsed_ms, slept_ms, started_at
		FROM fetch_log
		WHERE backend = $1 AND fetch_key = $2
		ORDER BY started_at DESC
		LIMIT $3
	`
	var rows []fetchLogRow
	if err := r.db.SelectContext(ctx, &rows, query, backend, key, limit); err != nil {
		return nil, errors.Wrap(err, "failed to query fetch log")
	}

	records := make([]*domain.FetchRecord, 0, len(rows))
	for i := range rows {
		rec := rows[i].FetchRecord
		rec.Scopes = []string(rows[i].Scopes)
		records = append(records, &rec)
	}
	return records, nil
}
