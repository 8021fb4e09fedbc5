package service

import (
	"context"
	"sort"
	"time"

	"github.com/andresuchdata/fetchers/internal/cache"
	"github.com/andresuchdata/fetchers/internal/config"
	"github.com/andresuchdata/fetchers/internal/credentials"
	"github.com/andresuchdata/fetchers/internal/domain"
	"github.com/andresuchdata/fetchers/internal/fetch"
	"github.com/andresuchdata/fetchers/internal/repository"
	"github.com/google/uuid"
	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"
)

var ErrUnknownBackend = errors.New("unknown backend")

// FetchRequest selects a backend and key. Spool and Throttle override the
// configured values when set.
type FetchRequest struct {
	Backend  string
	Key      string
	Spool    *bool
	Throttle []int64
}

// FetchService runs fetch calls per backend and records each outcome in the
// outcome cache and the audit log.
type FetchService struct {
	fetchers map[string]*fetch.Fetcher
	base     fetch.Config
	cache    cache.OutcomeCache
	history  repository.FetchLogRepository
}

func NewFetchService(base fetch.Config, cacheImpl cache.OutcomeCache, history repository.FetchLogRepository, fetchers ...*fetch.Fetcher) *FetchService {
	if cacheImpl == nil {
		cacheImpl = cache.NewNoopOutcomeCache()
	}
	if history == nil {
		history = repository.NewNoopFetchLog()
	}
	byName := make(map[string]*fetch.Fetcher, len(fetchers))
	for _, f := range fetchers {
		byName[f.Name()] = f
	}
	return &FetchService{fetchers: byName, base: base, cache: cacheImpl, history: history}
}

// FetchConfig builds the per-call configuration from the loaded settings.
func FetchConfig(c config.FetcherConfig) fetch.Config {
	return fetch.Config{
		Scopes: c.Scopes,
		Material: credentials.Material{
			ClientID:               c.ClientID,
			TenantID:               c.TenantID,
			CertificateBytesBase64: c.CertificateBytesBase64,
			CertificatePassword:    c.CertificatePassword,
			ClientSecret:           c.ClientSecret,
			ServiceAccountJSON:     c.ServiceAccountJSON,
			AccessKeyID:            c.AccessKeyID,
			SecretAccessKey:        c.SecretAccessKey,
		},
		ThrottleSeconds: c.ThrottleSeconds,
		SpoolToTemp:     c.SpoolToTemp,
		SpoolDir:        c.SpoolDir,
	}
}

// Backends lists the configured backend names.
func (s *FetchService) Backends() []string {
	names := make([]string, 0, len(s.fetchers))
	for n := range s.fetchers {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}

func (s *FetchService) Fetch(ctx context.Context, req FetchRequest) (*fetch.Outcome, *domain.FetchRecord, error) {
	f, ok := s.fetchers[req.Backend]
	if !ok {
		return nil, nil, errors.Wrapf(ErrUnknownBackend, "%q", req.Backend)
	}

	cfg := s.base
	if req.Spool != nil {
		cfg.SpoolToTemp = *req.Spool
	}
	if req.Throttle != nil {
		cfg.ThrottleSeconds = req.Throttle
	}

	started := time.Now()
	meta := fetch.Metadata{}
	out, err := f.Fetch(ctx, cfg, req.Key, meta)

	rec := newRecord(req.Backend, req.Key, cfg.Scopes, started, meta, out, err)
	s.record(ctx, rec)
	return out, rec, err
}

// LastOutcome returns the most recent outcome for key, from the cache or
// else the audit log.
func (s *FetchService) LastOutcome(ctx context.Context, backend, key string) (*domain.FetchRecord, bool, error) {
	if rec, ok, err := s.cache.Get(ctx, backend, key); err == nil && ok {
		return rec, true, nil
	} else if err != nil {
		log.Warn().Err(err).Msg("fetch: cache get outcome failed")
	}

	recent, err := s.history.Recent(ctx, backend, key, 1)
	if err != nil {
		return nil, false, err
	}
	if len(recent) == 0 {
		return nil, false, nil
	}
	return recent[0], true, nil
}

// ResetOutcomes drops the cached outcomes of backend. The audit log is kept,
// so LastOutcome falls back to it afterwards.
func (s *FetchService) ResetOutcomes(ctx context.Context, backend string) error {
	if _, ok := s.fetchers[backend]; !ok {
		return errors.Wrapf(ErrUnknownBackend, "%q", backend)
	}
	return errors.Wrapf(s.cache.InvalidateBackend(ctx, backend), "reset outcomes of %s", backend)
}

func (s *FetchService) History(ctx context.Context, backend, key string, limit int) ([]*domain.FetchRecord, error) {
	return s.history.Recent(ctx, backend, key, limit)
}

// record stores rec on a context detached from the caller's, so a canceled
// fetch is still logged.
func (s *FetchService) record(ctx context.Context, rec *domain.FetchRecord) {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
	defer cancel()

	if err := s.cache.Set(ctx, rec); err != nil {
		log.Warn().Err(err).Str("key", rec.Key).Msg("fetch: cache set outcome failed")
	}
	if err := s.history.Record(ctx, rec); err != nil {
		log.Warn().Err(err).Str("key", rec.Key).Msg("fetch: audit log write failed")
	}
}

func newRecord(backend, key string, scopes []string, started time.Time, meta fetch.Metadata, out *fetch.Outcome, err error) *domain.FetchRecord {
	rec := &domain.FetchRecord{
		ID:        uuid.NewString(),
		Backend:   backend,
		Key:       key,
		Scopes:    scopes,
		StartedAt: started.UTC(),
	}
	rec.Attempts, _ = meta[fetch.MetaAttempts].(int)
	rec.ElapsedMs, _ = meta[fetch.MetaElapsedMs].(int64)
	rec.SleptMs, _ = meta[fetch.MetaSleptMs].(int64)
	rec.ErrorCode, _ = meta[fetch.MetaErrorCode].(string)
	rec.ErrorMessage, _ = meta[fetch.MetaErrorMessage].(string)

	switch {
	case err != nil:
		rec.Outcome = fetch.KindOf(err).String()
		rec.Error = err.Error()
	case out.Spooled():
		rec.Outcome = domain.OutcomeSpooled
		rec.SpooledPath = out.Path
		rec.Size = out.Size
	default:
		rec.Outcome = domain.OutcomeStream
		rec.Size = out.Size
	}
	return rec
}
