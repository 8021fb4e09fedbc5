// Package backend holds the remote services a fetcher can read from.
package backend

import (
	"context"
	"fmt"
	"net/http"
	"sort"
	"strings"

	"github.com/Azure/azure-sdk-for-go/sdk/azidentity"
	"github.com/andresuchdata/fetchers/internal/config"
	"github.com/andresuchdata/fetchers/internal/credentials"
	"github.com/andresuchdata/fetchers/internal/fetch"
	"github.com/pkg/errors"
	"golang.org/x/oauth2"
	"google.golang.org/api/googleapi"
)

const (
	MSGraph = "msgraph"
	GDrive  = "gdrive"
	GCS     = "gcs"
	S3      = "s3"
	Local   = "local"
)

// Settings configures backend construction. Zero values fall back to the
// public service endpoints.
type Settings struct {
	GraphBaseURL  string
	DriveEndpoint string
	GCSEndpoint   string
	S3Endpoint    string
	S3Region      string
	S3UseSSL      bool
	LocalRoot     string
	// HTTPClient carries the transport for API calls, nil means http.DefaultClient.
	HTTPClient *http.Client
}

// SettingsFromConfig maps the loaded backend configuration.
func SettingsFromConfig(c config.BackendConfig) Settings {
	return Settings{
		GraphBaseURL:  c.GraphBaseURL,
		DriveEndpoint: c.DriveEndpoint,
		GCSEndpoint:   c.GCSEndpoint,
		S3Endpoint:    c.S3Endpoint,
		S3Region:      c.S3Region,
		S3UseSSL:      c.S3UseSSL,
		LocalRoot:     c.LocalRoot,
	}
}

var constructors = map[string]func(Settings) (fetch.Backend, error){
	MSGraph: func(s Settings) (fetch.Backend, error) { return NewGraph(s.GraphBaseURL, s.HTTPClient), nil },
	GDrive:  func(s Settings) (fetch.Backend, error) { return NewDrive(s.DriveEndpoint, s.HTTPClient), nil },
	GCS:     func(s Settings) (fetch.Backend, error) { return NewGCS(s.GCSEndpoint, s.HTTPClient), nil },
	S3:      func(s Settings) (fetch.Backend, error) { return NewS3(s.S3Endpoint, s.S3Region, s.S3UseSSL) },
	Local:   func(s Settings) (fetch.Backend, error) { return NewLocal(s.LocalRoot) },
}

// New builds the backend registered under name.
func New(name string, s Settings) (fetch.Backend, error) {
	ctor, ok := constructors[strings.ToLower(strings.TrimSpace(name))]
	if !ok {
		return nil, errors.Errorf("unknown backend %q, expected one of %s", name, strings.Join(Names(), ", "))
	}
	return ctor(s)
}

// Names lists the registered backends in sorted order.
func Names() []string {
	names := make([]string, 0, len(constructors))
	for n := range constructors {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}

type anonymous interface {
	anonymous()
}

// accepter is implemented by backends that authenticate with a fixed set of
// credential methods.
type accepter interface {
	Accepts() []credentials.Method
}

// restricted hands the wrapped provider only the material its backend can
// use, so precedence never picks another service's credentials.
type restricted struct {
	provider fetch.CredentialProvider
	methods  []credentials.Method
}

func (r restricted) Acquire(ctx context.Context, scopes []string, m credentials.Material) (*credentials.Handle, error) {
	return r.provider.Acquire(ctx, scopes, m.Only(r.methods...))
}

// ProviderFor returns the credential provider b needs: credentials.NoAuth
// for backends that read without authentication, else p restricted to the
// methods b accepts.
func ProviderFor(b fetch.Backend, p fetch.CredentialProvider) fetch.CredentialProvider {
	switch v := b.(type) {
	case anonymous:
		return credentials.NoAuth{}
	case accepter:
		return restricted{provider: p, methods: v.Accepts()}
	}
	return p
}

// Configured reports whether m holds material b can authenticate with.
func Configured(b fetch.Backend, m credentials.Material) bool {
	switch v := b.(type) {
	case anonymous:
		return true
	case accepter:
		return m.Has(v.Accepts()...)
	}
	return true
}

// tokenError maps a token endpoint rejection to Unauthorized. Other token
// failures stay retryable.
func tokenError(err error) (*fetch.BackendError, bool) {
	var status int
	var msg string

	var re *oauth2.RetrieveError
	var ae *azidentity.AuthenticationFailedError
	switch {
	case errors.As(err, &re) && re.Response != nil:
		status = re.Response.StatusCode
		msg = re.ErrorDescription
		if msg == "" {
			msg = re.ErrorCode
		}
	case errors.As(err, &ae) && ae.RawResponse != nil:
		status = ae.RawResponse.StatusCode
		msg = fmt.Sprintf("token request rejected with status %d", status)
	default:
		return nil, false
	}

	switch status {
	case http.StatusBadRequest, http.StatusUnauthorized:
		return &fetch.BackendError{Code: fetch.CodeUnauthorized, Message: msg, Status: status}, true
	}
	return nil, false
}

// googleError maps a googleapi.Error onto the canonical codes. Media
// downloads carry no reason, so the status decides.
func googleError(err error, op string) error {
	if be, ok := tokenError(err); ok {
		return be
	}
	var gerr *googleapi.Error
	if !errors.As(err, &gerr) {
		return errors.Wrap(err, op)
	}
	reason := ""
	if len(gerr.Errors) > 0 {
		reason = gerr.Errors[0].Reason
	}
	msg := gerr.Message
	if msg == "" {
		msg = strings.TrimSpace(gerr.Body)
	}
	return &fetch.BackendError{Code: googleCode(gerr.Code, reason), Message: msg, Status: gerr.Code}
}

func googleCode(status int, reason string) string {
	switch reason {
	case "rateLimitExceeded", "userRateLimitExceeded":
		return reason
	case "notFound":
		return fetch.CodeItemNotFound
	case "badRequest", "invalid":
		return fetch.CodeInvalidRequest
	case "forbidden", "insufficientPermissions", "appNotAuthorizedToFile":
		return fetch.CodeForbidden
	case "authError":
		return fetch.CodeUnauthorized
	}
	if code := statusCode(status); code != "" {
		return code
	}
	if reason != "" {
		return reason
	}
	return fmt.Sprintf("http%d", status)
}

// statusCode maps the statuses with a canonical code.
func statusCode(status int) string {
	switch status {
	case http.StatusNotFound:
		return fetch.CodeItemNotFound
	case http.StatusBadRequest:
		return fetch.CodeInvalidRequest
	case http.StatusForbidden:
		return fetch.CodeForbidden
	case http.StatusUnauthorized:
		return fetch.CodeUnauthorized
	}
	return ""
}
