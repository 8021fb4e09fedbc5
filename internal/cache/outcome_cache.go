package cache

import (
	"context"
	"encoding/json"
	"time"

	"github.com/andresuchdata/fetchers/internal/config"
	"github.com/andresuchdata/fetchers/internal/domain"
	"github.com/pkg/errors"
	"github.com/redis/go-redis/v9"
)

const (
	outcomeKeyPrefix     = "fetch:outcome:"
	outcomeScanBatchSize = 100
)

// OutcomeCache keeps the last outcome per backend and fetch key.
type OutcomeCache interface {
	Get(ctx context.Context, backend, key string) (*domain.FetchRecord, bool, error)
	Set(ctx context.Context, record *domain.FetchRecord) error
	InvalidateBackend(ctx context.Context, backend string) error
	Close() error
}

type redisOutcomeCache struct {
	client *redis.Client
	ttl    time.Duration
}

type noopOutcomeCache struct{}

// NewOutcomeCache connects to redis when caching is enabled, else returns a
// cache that remembers nothing.
func NewOutcomeCache(ctx context.Context, cfg config.CacheConfig) (OutcomeCache, error) {
	if !cfg.Enabled {
		return &noopOutcomeCache{}, nil
	}

	client, ttl, err := newRedisClient(ctx, cfg)
	if err != nil {
		return nil, err
	}
	return &redisOutcomeCache{client: client, ttl: ttl}, nil
}

func NewNoopOutcomeCache() OutcomeCache {
	return &noopOutcomeCache{}
}

func (c *redisOutcomeCache) Get(ctx context.Context, backend, key string) (*domain.FetchRecord, bool, error) {
	payload, err := c.client.Get(ctx, outcomeKey(backend, key)).Bytes()
	if err == redis.Nil {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, errors.Wrap(err, "redis get failed")
	}

	var record domain.FetchRecord
	if err := json.Unmarshal(payload, &record); err != nil {
		return nil, false, errors.Wrap(err, "decode fetch outcome cache")
	}
	return &record, true, nil
}

func (c *redisOutcomeCache) Set(ctx context.Context, record *domain.FetchRecord) error {
	payload, err := json.Marshal(record)
	if err != nil {
		return errors.Wrap(err, "encode fetch outcome cache")
	}
	if err := c.client.Set(ctx, outcomeKey(record.Backend, record.Key), payload, c.ttl).Err(); err != nil {
		return errors.Wrap(err, "redis set failed")
	}
	return nil
}

func (c *redisOutcomeCache) InvalidateBackend(ctx context.Context, backend string) error {
	return deleteKeysWithPrefix(ctx, c.client, outcomeKeyPrefix+backend+":", outcomeScanBatchSize)
}

func (c *redisOutcomeCache) Close() error {
	return c.client.Close()
}

func (c *noopOutcomeCache) Get(context.Context, string, string) (*domain.FetchRecord, bool, error) {
	return nil, false, nil
}

func (c *noopOutcomeCache) Set(context.Context, *domain.FetchRecord) error { return nil }

func (c *noopOutcomeCache) InvalidateBackend(context.Context, string) error { return nil }

func (c *noopOutcomeCache) Close() error { return nil }

func outcomeKey(backend, key string) string {
	return outcomeKeyPrefix + backend + ":" + key
}
