package repository

import (
	"context"

	"github.com/andresuchdata/fetchers/internal/domain"
)

// FetchLogRepository is the audit log of fetch calls.
type FetchLogRepository interface {
	Record(ctx context.Context, record *domain.FetchRecord) error
	Recent(ctx context.Context, backend, key string, limit int) ([]*domain.FetchRecord, error)
}

type noopFetchLog struct{}

// NewNoopFetchLog returns a log that drops every record, used when no
// database is configured.
func NewNoopFetchLog() FetchLogRepository {
	return noopFetchLog{}
}

func (noopFetchLog) Record(context.Context, *domain.FetchRecord) error { return nil }

func (noopFetchLog) Recent(context.Context, string, string, int) ([]*domain.FetchRecord, error) {
	return nil, nil
}
