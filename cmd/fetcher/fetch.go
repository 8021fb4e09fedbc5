package main

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"

	"github.com/andresuchdata/fetchers/internal/config"
	"github.com/andresuchdata/fetchers/internal/service"
	"github.com/andresuchdata/fetchers/pkg/logger"
	"github.com/pkg/errors"
	"github.com/urfave/cli/v2"
	"golang.org/x/sync/errgroup"
)

func runFetch(c *cli.Context) error {
	keys := c.Args().Slice()
	if len(keys) == 0 {
		return cli.Exit("at least one KEY is required", 2)
	}
	outDir := c.String("out")

	cfg, err := config.Load()
	if err != nil {
		return err
	}
	spool := spoolEnabled(c.IsSet("spool"), c.Bool("spool"), cfg.Fetcher.SpoolToTemp)
	if err := checkOutput(len(keys), outDir, spool); err != nil {
		return cli.Exit(err.Error(), 2)
	}
	backendName := c.String("backend")
	if backendName == "" {
		backendName = cfg.Fetcher.Backend
	}

	var throttle []int64
	if c.IsSet("throttle") {
		if throttle, err = config.ParseThrottle(c.String("throttle")); err != nil {
			return cli.Exit(err.Error(), 2)
		}
		if throttle == nil {
			throttle = []int64{}
		}
	}

	fetchers, err := newFetchers(cfg, []string{backendName}, false)
	if err != nil {
		return err
	}
	svc, cleanup, err := newService(c.Context, cfg, fetchers)
	if err != nil {
		return err
	}
	defer cleanup()

	if outDir != "" {
		if err := os.MkdirAll(outDir, 0o755); err != nil {
			return errors.Wrapf(err, "creating output directory %s", outDir)
		}
	}

	var failed atomic.Int32
	g, ctx := errgroup.WithContext(c.Context)
	g.SetLimit(max(1, c.Int("concurrency")))

	for _, key := range keys {
		key := key
		g.Go(func() error {
			req := service.FetchRequest{Backend: backendName, Key: key, Throttle: throttle, Spool: &spool}
			out, rec, err := svc.Fetch(ctx, req)
			if err != nil {
				failed.Add(1)
				logger.Log.Error().Err(err).Str("key", key).Msg("fetch failed")
				return nil
			}

			if out.Spooled() {
				fmt.Fprintf(c.App.Writer, "%s\t%s\t%d\n", key, out.Path, out.Size)
				return nil
			}
			defer out.Body.Close()

			n, err := writeContent(c.App.Writer, outDir, key, out.Body)
			if err != nil {
				failed.Add(1)
				logger.Log.Error().Err(err).Str("key", key).Msg("writing content failed")
				return nil
			}
			logger.Log.Info().Str("key", key).Int64("bytes", n).Int("attempts", rec.Attempts).Msg("fetched")
			return nil
		})
	}
	_ = g.Wait()

	if n := failed.Load(); n > 0 {
		return cli.Exit(fmt.Sprintf("%d of %d fetches failed", n, len(keys)), 1)
	}
	return nil
}

// spoolEnabled resolves the --spool flag against FETCHER_SPOOL_TO_TEMP; an
// explicit flag wins either way.
func spoolEnabled(flagSet, flag, configured bool) bool {
	if flagSet {
		return flag
	}
	return configured
}

// checkOutput rejects streaming several keys to stdout, where their content
// would interleave.
func checkOutput(keys int, outDir string, spool bool) error {
	if outDir == "" && !spool && keys > 1 {
		return errors.New("--out is required when streaming more than one key")
	}
	return nil
}

// writeContent copies body to stdout, or to a file named after key in dir.
func writeContent(stdout io.Writer, dir, key string, body io.Reader) (int64, error) {
	if dir == "" {
		return io.Copy(stdout, body)
	}

	path := filepath.Join(dir, outputName(key))
	f, err := os.Create(path)
	if err != nil {
		return 0, errors.Wrapf(err, "creating %s", path)
	}
	n, err := io.Copy(f, body)
	if cerr := f.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		_ = os.Remove(path)
		return n, errors.Wrapf(err, "writing %s", path)
	}
	return n, nil
}

// outputName flattens a fetch key into a single file name.
func outputName(key string) string {
	r := strings.NewReplacer(",", "__", "/", "_", `\`, "_", "..", "_")
	return r.Replace(key)
}
