package main

import (
	"context"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/andresuchdata/fetchers/internal/backend"
	"github.com/andresuchdata/fetchers/internal/config"
	"github.com/andresuchdata/fetchers/pkg/logger"
	"github.com/urfave/cli/v2"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	app := &cli.App{
		Name:  "fetcher",
		Usage: "Fetch items from remote document stores with retries",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "log-level",
				Usage:   "Log level (debug, info, warn, error)",
				EnvVars: []string{"LOG_LEVEL"},
			},
			&cli.BoolFlag{
				Name:    "json-logs",
				Usage:   "Write JSON log lines instead of console output",
				EnvVars: []string{"LOG_JSON"},
			},
		},
		Before: func(c *cli.Context) error {
			cfg, err := config.Load()
			if err != nil {
				return cli.Exit(err.Error(), 2)
			}
			if c.Bool("json-logs") {
				logger.SetJSON(os.Stderr)
			}
			level := c.String("log-level")
			if level == "" {
				level = cfg.LogLevel
			}
			logger.SetLevel(level)
			return nil
		},
		Commands: []*cli.Command{
			{
				Name:      "fetch",
				Usage:     "Fetch one or more keys (container,item)",
				ArgsUsage: "KEY...",
				Flags: []cli.Flag{
					&cli.StringFlag{
						Name:  "backend",
						Usage: "Backend to fetch from: " + joinNames(),
					},
					&cli.BoolFlag{
						Name:  "spool",
						Usage: "Copy content to a temp file and print its path",
					},
					&cli.StringFlag{
						Name:  "out",
						Usage: "Directory to write streamed content to; stdout for a single key when empty",
					},
					&cli.StringFlag{
						Name:  "throttle",
						Usage: "Comma separated retry delays in seconds, e.g. 1,5,30",
					},
					&cli.IntFlag{
						Name:  "concurrency",
						Usage: "Number of keys fetched at once",
						Value: 4,
					},
				},
				Action: runFetch,
			},
			{
				Name:  "serve",
				Usage: "Serve the fetch HTTP API",
				Flags: []cli.Flag{
					&cli.StringFlag{
						Name:  "port",
						Usage: "Port to listen on, SERVER_PORT when empty",
					},
				},
				Action: runServe,
			},
		},
	}

	if err := app.RunContext(ctx, os.Args); err != nil {
		logger.Log.Error().Err(err).Msg("fetcher failed")
		os.Exit(1)
	}
}

func joinNames() string {
	return strings.Join(backend.Names(), ", ")
}
