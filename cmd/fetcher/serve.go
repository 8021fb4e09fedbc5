package main

import (
	"context"
	"net/http"
	"time"

	"github.com/andresuchdata/fetchers/internal/api"
	"github.com/andresuchdata/fetchers/internal/backend"
	"github.com/andresuchdata/fetchers/internal/config"
	"github.com/andresuchdata/fetchers/pkg/logger"
	"github.com/gin-gonic/gin"
	"github.com/urfave/cli/v2"
)

func runServe(c *cli.Context) error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}

	if cfg.Server.Mode == "debug" {
		gin.SetMode(gin.DebugMode)
	} else {
		gin.SetMode(gin.ReleaseMode)
	}

	fetchers, err := newFetchers(cfg, backend.Names(), true)
	if err != nil {
		return err
	}
	svc, cleanup, err := newService(c.Context, cfg, fetchers)
	if err != nil {
		return err
	}
	defer cleanup()

	port := c.String("port")
	if port == "" {
		port = cfg.Server.Port
	}

	router := api.NewRouter(&api.Services{FetchService: svc}, cfg.Server.AllowedOrigins)
	srv := &http.Server{
		Addr:         ":" + port,
		Handler:      router,
		ReadTimeout:  time.Duration(cfg.Server.ReadTimeout) * time.Second,
		WriteTimeout: time.Duration(cfg.Server.WriteTimeout) * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Log.Info().Str("port", port).Strs("backends", svc.Backends()).Msg("Starting server")
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		return err
	case <-c.Context.Done():
	}
	logger.Log.Info().Msg("Shutting down server...")

	// In-flight fetches get 5 seconds to finish.
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := srv.Shutdown(ctx); err != nil {
		logger.Log.Error().Err(err).Msg("Server forced to shutdown")
		return err
	}

	logger.Log.Info().Msg("Server exiting")
	return nil
}
