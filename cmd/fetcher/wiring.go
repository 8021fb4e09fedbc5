package main

import (
	"context"

	"github.com/andresuchdata/fetchers/internal/backend"
	"github.com/andresuchdata/fetchers/internal/cache"
	"github.com/andresuchdata/fetchers/internal/config"
	"github.com/andresuchdata/fetchers/internal/credentials"
	"github.com/andresuchdata/fetchers/internal/fetch"
	"github.com/andresuchdata/fetchers/internal/repository"
	"github.com/andresuchdata/fetchers/internal/repository/postgres"
	"github.com/andresuchdata/fetchers/internal/service"
	"github.com/andresuchdata/fetchers/pkg/logger"
	"github.com/pkg/errors"
)

// newFetchers builds one fetcher per name. With skipBroken, backends that
// cannot be constructed or have no usable credential material are logged
// and left out.
func newFetchers(cfg *config.Config, names []string, skipBroken bool) ([]*fetch.Fetcher, error) {
	provider := credentials.NewProvider(cfg.Fetcher.AuthorityHost)
	material := service.FetchConfig(cfg.Fetcher).Material
	classifier := fetch.DefaultClassifier(cfg.Fetcher.TerminalCodes...)
	settings := backend.SettingsFromConfig(cfg.Backends)

	fetchers := make([]*fetch.Fetcher, 0, len(names))
	for _, name := range names {
		b, err := backend.New(name, settings)
		if err != nil {
			if skipBroken {
				logger.Log.Warn().Err(err).Str("backend", name).Msg("backend disabled")
				continue
			}
			return nil, err
		}
		if skipBroken && !backend.Configured(b, material) {
			logger.Log.Warn().Str("backend", name).Msg("no credential material for backend, disabled")
			continue
		}
		fetchers = append(fetchers, fetch.New(name, b, backend.ProviderFor(b, provider), fetch.WithClassifier(classifier)))
	}
	if len(fetchers) == 0 {
		return nil, errors.New("no usable backend configured")
	}
	return fetchers, nil
}

// newService wires the outcome cache and audit log around fetchers. The
// returned func releases both.
func newService(ctx context.Context, cfg *config.Config, fetchers []*fetch.Fetcher) (*service.FetchService, func(), error) {
	outcomes, err := cache.NewOutcomeCache(ctx, cfg.Cache)
	if err != nil {
		logger.Log.Warn().Err(err).Msg("outcome cache unavailable, continuing without it")
		outcomes = cache.NewNoopOutcomeCache()
	}

	history := repository.NewNoopFetchLog()
	closers := []func() error{outcomes.Close}
	if cfg.Database.Enabled {
		db, err := postgres.NewDB(ctx, &cfg.Database)
		if err != nil {
			_ = outcomes.Close()
			return nil, nil, err
		}
		if err := db.EnsureSchema(ctx); err != nil {
			_ = outcomes.Close()
			_ = db.Close()
			return nil, nil, err
		}
		history = postgres.NewFetchLogRepository(db)
		closers = append(closers, db.Close)
	}

	cleanup := func() {
		for _, c := range closers {
			if err := c(); err != nil {
				logger.Log.Warn().Err(err).Msg("cleanup failed")
			}
		}
	}
	return service.NewFetchService(service.FetchConfig(cfg.Fetcher), outcomes, history, fetchers...), cleanup, nil
}
