// Package fetch retrieves one remote item per call and absorbs the failures
// of remote, authenticated, rate-limited services: transient errors are
// retried along a configured delay schedule, terminal ones end the call at
// once.
package fetch

import (
	"context"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/andresuchdata/fetchers/internal/credentials"
	"github.com/andresuchdata/fetchers/internal/metrics"
	"github.com/andresuchdata/fetchers/pkg/logger"
	"github.com/pkg/errors"
	"github.com/rs/zerolog"
)

// DefaultScope is requested when neither the configuration nor the backend
// names one.
const DefaultScope = "https://graph.microsoft.com/.default"

// Backend performs one remote retrieval. Implementations return a
// *BackendError, possibly wrapped, when the service reports a structured
// error.
type Backend interface {
	Retrieve(ctx context.Context, key Key, cred *credentials.Handle) (io.ReadCloser, error)
}

// Scoper is implemented by backends with their own default scope.
type Scoper interface {
	DefaultScope() string
}

// CredentialProvider turns credential material into a handle. It is called
// once per fetch call, never per retry.
type CredentialProvider interface {
	Acquire(ctx context.Context, scopes []string, m credentials.Material) (*credentials.Handle, error)
}

// Config is the validated configuration of a fetch call.
type Config struct {
	Scopes   []string
	Material credentials.Material
	// ThrottleSeconds holds one delay per attempt; its length bounds the
	// number of attempts. nil means a single attempt.
	ThrottleSeconds []int64
	SpoolToTemp     bool
	// SpoolDir is where spooled files go, os.TempDir when empty.
	SpoolDir string
}

// Outcome is a successful fetch: either a live stream or a spooled file.
type Outcome struct {
	Body     io.ReadCloser
	Path     string
	Size     int64
	Attempts int
}

// Spooled reports whether the content was copied to Path.
func (o *Outcome) Spooled() bool { return o.Path != "" }

// Open returns the content, opening the spooled file when there is one.
func (o *Outcome) Open() (io.ReadCloser, error) {
	if o.Spooled() {
		return os.Open(o.Path)
	}
	return o.Body, nil
}

// Sleeper blocks for d or until ctx is done, whichever comes first.
type Sleeper func(ctx context.Context, d time.Duration) error

// Fetcher runs the attempt loop against one backend. It holds no per-call
// state and is safe for concurrent use.
type Fetcher struct {
	name        string
	backend     Backend
	credentials CredentialProvider
	classifier  *Classifier
	sleep       Sleeper
	log         zerolog.Logger
}

type Option func(*Fetcher)

// WithClassifier replaces the default classifier.
func WithClassifier(c *Classifier) Option {
	return func(f *Fetcher) { f.classifier = c }
}

// WithSleeper replaces the timer based sleeper.
func WithSleeper(s Sleeper) Option {
	return func(f *Fetcher) { f.sleep = s }
}

func WithLogger(l zerolog.Logger) Option {
	return func(f *Fetcher) { f.log = l }
}

// New returns a Fetcher named name, used in logs and metrics.
func New(name string, backend Backend, provider CredentialProvider, opts ...Option) *Fetcher {
	f := &Fetcher{
		name:        name,
		backend:     backend,
		credentials: provider,
		classifier:  DefaultClassifier(),
		sleep:       sleepContext,
		log:         logger.Log,
	}
	for _, opt := range opts {
		opt(f)
	}
	f.log = f.log.With().Str("backend", name).Logger()
	return f
}

// Name returns the backend name the fetcher was built with.
func (f *Fetcher) Name() string { return f.name }

// Fetch retrieves the item named by rawKey. On success exactly one of
// Outcome.Body and Outcome.Path is set; every failure is an *Error. meta
// receives diagnostic entries and may be nil.
func (f *Fetcher) Fetch(ctx context.Context, cfg Config, rawKey string, meta Metadata) (out *Outcome, err error) {
	var (
		start    = time.Now()
		attempts int
		slept    time.Duration
	)
	meta.set(MetaBackend, f.name)
	defer func() {
		elapsed := time.Since(start)
		meta.set(MetaAttempts, attempts)
		meta.set(MetaElapsedMs, elapsed.Milliseconds())
		meta.set(MetaSleptMs, slept.Milliseconds())
		metrics.FetchDuration.WithLabelValues(f.name).Observe(elapsed.Seconds())
		metrics.FetchOutcomes.WithLabelValues(f.name, outcomeLabel(out, err)).Inc()

		var fe *Error
		if errors.As(err, &fe) && fe.Code != "" {
			meta.set(MetaErrorCode, fe.Code)
			meta.set(MetaErrorMessage, fe.Message)
		}
	}()

	key, err := ParseKey(rawKey)
	if err != nil {
		return nil, &Error{Kind: FailureInvalidKey, Key: rawKey, Err: err}
	}

	handle, err := f.credentials.Acquire(ctx, f.scopes(cfg.Scopes), cfg.Material)
	if err != nil {
		return nil, &Error{Kind: FailureCredentials, Key: rawKey, Err: err}
	}

	schedule := scheduleOf(cfg.ThrottleSeconds)
	maxAttempts := len(schedule)
	if maxAttempts == 0 {
		maxAttempts = 1
	}

	var lastErr error
	for attempt := 0; attempt < maxAttempts; attempt++ {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, &Error{Kind: FailureCanceled, Key: rawKey, Attempts: attempts, Err: ctxErr}
		}
		attempts++

		body, err := f.retrieve(ctx, key, handle)
		if err == nil {
			delivered, deliverErr := f.deliver(cfg, rawKey, body, meta)
			if deliverErr == nil {
				metrics.FetchAttempts.WithLabelValues(f.name, "success").Inc()
				delivered.Attempts = attempts
				return delivered, nil
			}
			var src *sourceError
			if !errors.As(deliverErr, &src) {
				metrics.FetchAttempts.WithLabelValues(f.name, "terminal").Inc()
				f.log.Error().Stack().Err(deliverErr).Str("key", rawKey).Msg("spooling failed, not retrying")
				return nil, &Error{Kind: FailureSpool, Key: rawKey, Attempts: attempts, Err: deliverErr}
			}
			err = src.err
		}
		if ctxErr := ctx.Err(); ctxErr != nil {
			metrics.FetchAttempts.WithLabelValues(f.name, "canceled").Inc()
			return nil, &Error{Kind: FailureCanceled, Key: rawKey, Attempts: attempts, Err: ctxErr}
		}

		f.log.Warn().
			Err(err).
			Int("retry", attempt).
			Str("key", rawKey).
			Str("error_type", fmt.Sprintf("%T", errors.Cause(err))).
			Msg("exception fetching")

		v := f.classifier.Classify(err)
		if v.Code != "" {
			f.log.Warn().Str("code", v.Code).Str("message", v.Message).Str("key", rawKey).Msg("backend error")
		}
		if v.Terminal() {
			metrics.FetchAttempts.WithLabelValues(f.name, "terminal").Inc()
			f.log.Warn().Str("code", v.Code).Str("key", rawKey).Msg("hit a no retry error code, not retrying")
			return nil, terminalError(rawKey, attempts, v, err)
		}
		metrics.FetchAttempts.WithLabelValues(f.name, "retryable").Inc()
		lastErr = err

		if attempt+1 < maxAttempts {
			d := time.Duration(schedule[attempt]) * time.Second
			f.log.Warn().Dur("delay", d).Int("retry", attempt).Msg("sleeping before retry")
			if sleepErr := f.sleep(ctx, d); sleepErr != nil {
				return nil, &Error{Kind: FailureCanceled, Key: rawKey, Attempts: attempts, Err: sleepErr}
			}
			slept += d
			metrics.BackoffSeconds.WithLabelValues(f.name).Add(d.Seconds())
		}
	}

	return nil, &Error{Kind: FailureExhausted, Key: rawKey, Attempts: attempts, Err: lastErr}
}

func (f *Fetcher) retrieve(ctx context.Context, key Key, handle *credentials.Handle) (io.ReadCloser, error) {
	start := time.Now()
	defer func() {
		f.log.Debug().Dur("elapsed", time.Since(start)).Str("key", key.String()).Msg("total to fetch")
	}()

	body, err := f.backend.Retrieve(ctx, key, handle)
	if err != nil {
		if body != nil {
			_ = body.Close()
		}
		return nil, err
	}
	if body == nil {
		return nil, errors.Wrapf(ErrEmptyResponse, "fetching %s", key)
	}
	return body, nil
}

// deliver hands back the live stream or spools it, closing body in the
// latter case.
func (f *Fetcher) deliver(cfg Config, rawKey string, body io.ReadCloser, meta Metadata) (*Outcome, error) {
	if !cfg.SpoolToTemp {
		return &Outcome{Body: body, Size: -1}, nil
	}
	defer body.Close()

	path, n, err := spoolToTemp(cfg.SpoolDir, body)
	if err != nil {
		return nil, err
	}
	metrics.SpooledBytes.WithLabelValues(f.name).Add(float64(n))
	f.log.Info().Str("key", rawKey).Str("path", path).Int64("bytes", n).Msg("spooled to temp file")
	meta.set(MetaSpooledPath, path)
	meta.set(MetaSize, n)
	return &Outcome{Path: path, Size: n}, nil
}

func (f *Fetcher) scopes(configured []string) []string {
	if len(configured) > 0 {
		return append([]string(nil), configured...)
	}
	if s, ok := f.backend.(Scoper); ok && s.DefaultScope() != "" {
		return []string{s.DefaultScope()}
	}
	return []string{DefaultScope}
}

func terminalError(rawKey string, attempts int, v Verdict, cause error) *Error {
	kind := FailureBackend
	if v.Reason == ReasonNotFound {
		kind = FailureNotFound
	}
	return &Error{
		Kind:     kind,
		Key:      rawKey,
		Attempts: attempts,
		Code:     v.Code,
		Message:  v.Message,
		Err:      cause,
	}
}

// scheduleOf copies throttle so the caller cannot change it mid-call.
func scheduleOf(throttle []int64) []int64 {
	if throttle == nil {
		return []int64{0}
	}
	return append([]int64{}, throttle...)
}

func outcomeLabel(out *Outcome, err error) string {
	switch {
	case err != nil:
		return KindOf(err).String()
	case out != nil && out.Spooled():
		return "spooled"
	default:
		return "stream"
	}
}

func sleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
