package backend

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"cloud.google.com/go/storage"
	"github.com/Azure/azure-sdk-for-go/sdk/azcore"
	"github.com/Azure/azure-sdk-for-go/sdk/azcore/policy"
	"github.com/Azure/azure-sdk-for-go/sdk/azidentity"
	"github.com/andresuchdata/fetchers/internal/credentials"
	"github.com/andresuchdata/fetchers/internal/fetch"
	"github.com/minio/minio-go/v7"
	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/oauth2"
	"google.golang.org/api/googleapi"
)

func tokenHandle() *credentials.Handle {
	return &credentials.Handle{
		Method:      credentials.MethodClientSecret,
		TokenSource: oauth2.StaticTokenSource(&oauth2.Token{AccessToken: "tok", TokenType: "Bearer"}),
	}
}

// staticCredential serves a fixed Microsoft identity token, or err.
type staticCredential struct {
	token string
	err   error
}

func (s staticCredential) GetToken(context.Context, policy.TokenRequestOptions) (azcore.AccessToken, error) {
	if s.err != nil {
		return azcore.AccessToken{}, s.err
	}
	return azcore.AccessToken{Token: s.token, ExpiresOn: time.Now().Add(time.Hour)}, nil
}

// rejectedToken is the error azidentity reports when the token endpoint
// answers with status.
func rejectedToken(status int) *azidentity.AuthenticationFailedError {
	req := httptest.NewRequest(http.MethodPost, "https://login.microsoftonline.com/tenant/oauth2/v2.0/token", nil)
	return &azidentity.AuthenticationFailedError{RawResponse: &http.Response{
		StatusCode: status,
		Status:     http.StatusText(status),
		Header:     http.Header{},
		Body:       io.NopCloser(strings.NewReader(`{"error":"invalid_client"}`)),
		Request:    req,
	}}
}

func graphHandle(cred azcore.TokenCredential) *credentials.Handle {
	return &credentials.Handle{
		Method:          credentials.MethodClientSecret,
		Scopes:          []string{fetch.DefaultScope},
		TokenCredential: cred,
	}
}

func backendError(t *testing.T, err error) *fetch.BackendError {
	t.Helper()
	var be *fetch.BackendError
	require.True(t, errors.As(err, &be), "expected a BackendError, got %v", err)
	return be
}

func TestNew(t *testing.T) {
	b, err := New("MSGraph", Settings{})
	require.NoError(t, err)
	assert.IsType(t, &Graph{}, b)

	b, err = New(Local, Settings{LocalRoot: t.TempDir()})
	require.NoError(t, err)
	assert.IsType(t, &LocalDir{}, b)

	_, err = New("ftp", Settings{})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unknown backend")
}

func TestNames(t *testing.T) {
	assert.Equal(t, []string{GCS, GDrive, Local, MSGraph, S3}, Names())
}

func TestProviderFor(t *testing.T) {
	p := credentials.NewProvider("")

	local, err := NewLocal(t.TempDir())
	require.NoError(t, err)
	assert.IsType(t, credentials.NoAuth{}, ProviderFor(local, p))
	assert.IsType(t, restricted{}, ProviderFor(NewGraph("", nil), p))
}

const serviceAccountJSON = `{"type":"service_account","client_email":"fetcher@project.iam.gserviceaccount.com",` +
	`"private_key":"unused","token_uri":"https://oauth2.googleapis.com/token"}`

func TestProviderFor_MixedMaterial(t *testing.T) {
	p := credentials.NewProvider("")
	ctx := context.Background()
	mixed := credentials.Material{
		ClientID:           "client",
		TenantID:           "tenant",
		ClientSecret:       "secret",
		ServiceAccountJSON: serviceAccountJSON,
		AccessKeyID:        "AKIA",
		SecretAccessKey:    "shh",
	}

	s3, err := NewS3("localhost:9000", "", false)
	require.NoError(t, err)
	h, err := ProviderFor(s3, p).Acquire(ctx, nil, mixed)
	require.NoError(t, err)
	assert.Equal(t, credentials.MethodAccessKey, h.Method)
	assert.Equal(t, "AKIA", h.AccessKeyID)

	for _, b := range []fetch.Backend{NewDrive("", nil), NewGCS("", nil)} {
		h, err = ProviderFor(b, p).Acquire(ctx, nil, mixed)
		require.NoError(t, err)
		assert.Equal(t, credentials.MethodServiceAccount, h.Method)
		assert.NotNil(t, h.TokenSource)
	}

	h, err = ProviderFor(NewGraph("", nil), p).Acquire(ctx, nil, mixed)
	require.NoError(t, err)
	assert.Equal(t, credentials.MethodClientSecret, h.Method)
	assert.NotNil(t, h.TokenCredential)

	_, err = ProviderFor(NewGraph("", nil), p).Acquire(ctx, nil, credentials.Material{AccessKeyID: "AKIA", SecretAccessKey: "shh"})
	assert.ErrorIs(t, err, credentials.ErrNoCredentials)
}

func TestConfigured(t *testing.T) {
	local, err := NewLocal(t.TempDir())
	require.NoError(t, err)
	s3, err := NewS3("localhost:9000", "", false)
	require.NoError(t, err)

	graphOnly := credentials.Material{ClientID: "client", TenantID: "tenant", ClientSecret: "secret"}
	assert.True(t, Configured(local, credentials.Material{}))
	assert.True(t, Configured(NewGraph("", nil), graphOnly))
	assert.False(t, Configured(s3, graphOnly))
	assert.False(t, Configured(NewDrive("", nil), graphOnly))
}

func TestDefaultScopes(t *testing.T) {
	assert.Equal(t, fetch.DefaultScope, NewGraph("", nil).DefaultScope())
	assert.Equal(t, "https://www.googleapis.com/auth/drive.readonly", NewDrive("", nil).DefaultScope())
	assert.Equal(t, storage.ScopeReadOnly, NewGCS("", nil).DefaultScope())
}

func TestGoogleCode(t *testing.T) {
	tests := []struct {
		status int
		reason string
		want   string
	}{
		{404, "notFound", fetch.CodeItemNotFound},
		{404, "", fetch.CodeItemNotFound},
		{400, "badRequest", fetch.CodeInvalidRequest},
		{400, "invalid", fetch.CodeInvalidRequest},
		{403, "insufficientPermissions", fetch.CodeForbidden},
		{403, "appNotAuthorizedToFile", fetch.CodeForbidden},
		{403, "rateLimitExceeded", "rateLimitExceeded"},
		{403, "userRateLimitExceeded", "userRateLimitExceeded"},
		{401, "authError", fetch.CodeUnauthorized},
		{401, "", fetch.CodeUnauthorized},
		{500, "backendError", "backendError"},
		{503, "", "http503"},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, googleCode(tt.status, tt.reason), "status=%d reason=%q", tt.status, tt.reason)
	}
}

func TestGoogleError(t *testing.T) {
	err := googleError(errors.Wrap(&googleapi.Error{
		Code:    404,
		Message: "File not found: abc.",
		Errors:  []googleapi.ErrorItem{{Reason: "notFound"}},
	}, "do"), "get")

	be := backendError(t, err)
	assert.Equal(t, fetch.CodeItemNotFound, be.Code)
	assert.Equal(t, "File not found: abc.", be.Message)
	assert.Equal(t, 404, be.Status)

	plain := errors.New("dial tcp: i/o timeout")
	err = googleError(plain, "get")
	assert.ErrorIs(t, err, plain)
	var be2 *fetch.BackendError
	assert.False(t, errors.As(err, &be2))
}

func TestTokenError(t *testing.T) {
	rejected := &oauth2.RetrieveError{
		Response:         &http.Response{StatusCode: http.StatusUnauthorized},
		ErrorCode:        "invalid_client",
		ErrorDescription: "AADSTS7000215: Invalid client secret provided.",
	}
	be, ok := tokenError(errors.Wrap(rejected, "token"))
	require.True(t, ok)
	assert.Equal(t, fetch.CodeUnauthorized, be.Code)
	assert.Contains(t, be.Message, "Invalid client secret")

	_, ok = tokenError(&oauth2.RetrieveError{Response: &http.Response{StatusCode: http.StatusServiceUnavailable}})
	assert.False(t, ok)

	_, ok = tokenError(errors.New("connection refused"))
	assert.False(t, ok)

	be, ok = tokenError(errors.Wrap(rejectedToken(http.StatusUnauthorized), "get token"))
	require.True(t, ok)
	assert.Equal(t, fetch.CodeUnauthorized, be.Code)
	assert.Equal(t, http.StatusUnauthorized, be.Status)
}

func TestStorageError(t *testing.T) {
	for _, err := range []error{storage.ErrObjectNotExist, storage.ErrBucketNotExist} {
		be := backendError(t, storageError(err))
		assert.Equal(t, fetch.CodeItemNotFound, be.Code)
	}
	be := backendError(t, storageError(&googleapi.Error{Code: 403, Errors: []googleapi.ErrorItem{{Reason: "forbidden"}}}))
	assert.Equal(t, fetch.CodeForbidden, be.Code)
}

func TestS3Error(t *testing.T) {
	tests := map[string]string{
		"NoSuchKey":             fetch.CodeItemNotFound,
		"NoSuchBucket":          fetch.CodeItemNotFound,
		"AccessDenied":          fetch.CodeForbidden,
		"InvalidAccessKeyId":    fetch.CodeUnauthorized,
		"SignatureDoesNotMatch": fetch.CodeUnauthorized,
		"InvalidBucketName":     fetch.CodeInvalidRequest,
		"SlowDown":              "SlowDown",
		"InternalError":         "InternalError",
	}
	for code, want := range tests {
		be := backendError(t, s3Error(minio.ErrorResponse{Code: code, Message: "msg", StatusCode: 400}))
		assert.Equal(t, want, be.Code, code)
		assert.Equal(t, "msg", be.Message)
	}

	plain := errors.New("connection reset")
	assert.ErrorIs(t, s3Error(plain), plain)
}

func TestNewS3_Endpoint(t *testing.T) {
	tests := []struct {
		endpoint string
		useSSL   bool
		host     string
		secure   bool
	}{
		{"s3.amazonaws.com", true, "s3.amazonaws.com", true},
		{"minio.local:9000", false, "minio.local:9000", false},
		{"http://minio.local:9000/", true, "minio.local:9000", false},
		{"https://objects.example.com", false, "objects.example.com", true},
	}
	for _, tt := range tests {
		s, err := NewS3(tt.endpoint, "", tt.useSSL)
		require.NoError(t, err)
		assert.Equal(t, tt.host, s.endpoint, tt.endpoint)
		assert.Equal(t, tt.secure, s.secure, tt.endpoint)
		assert.Equal(t, defaultS3Region, s.region)
	}

	_, err := NewS3(" ", "", true)
	assert.Error(t, err)
}

func TestS3_RequiresAccessKey(t *testing.T) {
	s, err := NewS3("localhost:9000", "", false)
	require.NoError(t, err)

	_, err = s.Retrieve(context.Background(), fetch.Key{Container: "b", Item: "o"}, tokenHandle())
	assert.Equal(t, fetch.CodeUnauthorized, backendError(t, err).Code)
}

func TestGraph_Retrieve(t *testing.T) {
	var auth string
	srv := httptest.NewTLSServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		auth = r.Header.Get("Authorization")
		switch r.URL.Path {
		case "/v1.0/drives/b!drive/items/ok/content":
			_, _ = w.Write([]byte("graph content"))
		case "/v1.0/drives/b!drive/items/empty/content":
			w.WriteHeader(http.StatusNoContent)
		case "/v1.0/drives/b!drive/items/gone/content":
			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(http.StatusNotFound)
			_ = json.NewEncoder(w).Encode(map[string]any{
				"error": map[string]any{"code": "itemNotFound", "message": "The resource could not be found."},
			})
		case "/v1.0/drives/b!drive/items/busy/content":
			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(http.StatusServiceUnavailable)
			_ = json.NewEncoder(w).Encode(map[string]any{
				"error": map[string]any{"code": "serviceNotAvailable", "message": "try later"},
			})
		case "/v1.0/drives/b!drive/items/plain/content":
			w.Header().Set("Content-Type", "text/plain")
			w.WriteHeader(http.StatusBadGateway)
			_, _ = w.Write([]byte("upstream down"))
		default:
			w.WriteHeader(http.StatusTeapot)
		}
	}))
	defer srv.Close()

	g := NewGraph(srv.URL+"/v1.0/", srv.Client())
	ctx := context.Background()
	h := graphHandle(staticCredential{token: "tok"})

	body, err := g.Retrieve(ctx, fetch.Key{Container: "b!drive", Item: "ok"}, h)
	require.NoError(t, err)
	got, err := io.ReadAll(body)
	require.NoError(t, err)
	body.Close()
	assert.Equal(t, "graph content", string(got))
	assert.Equal(t, "Bearer tok", auth)

	body, err = g.Retrieve(ctx, fetch.Key{Container: "b!drive", Item: "empty"}, h)
	assert.NoError(t, err)
	assert.Nil(t, body)

	_, err = g.Retrieve(ctx, fetch.Key{Container: "b!drive", Item: "gone"}, h)
	be := backendError(t, err)
	assert.Equal(t, fetch.CodeItemNotFound, be.Code)
	assert.Equal(t, "The resource could not be found.", be.Message)
	assert.Equal(t, http.StatusNotFound, be.Status)
	assert.Equal(t, fetch.FailureNotFound, fetch.KindOf(fetchErr(t, err)))

	_, err = g.Retrieve(ctx, fetch.Key{Container: "b!drive", Item: "busy"}, h)
	be = backendError(t, err)
	assert.Equal(t, "serviceNotAvailable", be.Code)
	assert.False(t, fetch.DefaultClassifier().Classify(err).Terminal())

	_, err = g.Retrieve(ctx, fetch.Key{Container: "b!drive", Item: "plain"}, h)
	require.Error(t, err)
	assert.False(t, fetch.DefaultClassifier().Classify(err).Terminal())
}

// fetchErr runs err through a one-attempt fetch to see the failure kind the
// engine reports for it.
func fetchErr(t *testing.T, err error) error {
	t.Helper()
	f := fetch.New("graph", failingBackend{err: err}, credentials.NoAuth{})
	_, ferr := f.Fetch(context.Background(), fetch.Config{}, "d,i", nil)
	return ferr
}

type failingBackend struct{ err error }

func (b failingBackend) Retrieve(context.Context, fetch.Key, *credentials.Handle) (io.ReadCloser, error) {
	return nil, b.err
}

func TestGraph_TokenRejected(t *testing.T) {
	called := false
	srv := httptest.NewTLSServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) { called = true }))
	defer srv.Close()

	_, err := NewGraph(srv.URL, srv.Client()).Retrieve(context.Background(),
		fetch.Key{Container: "d", Item: "i"}, graphHandle(staticCredential{err: rejectedToken(http.StatusBadRequest)}))

	be := backendError(t, err)
	assert.Equal(t, fetch.CodeUnauthorized, be.Code)
	assert.Equal(t, http.StatusBadRequest, be.Status)
	assert.False(t, called)
}

func TestGraph_RequiresTokenCredential(t *testing.T) {
	_, err := NewGraph("", nil).Retrieve(context.Background(), fetch.Key{Container: "d", Item: "i"}, &credentials.Handle{AccessKeyID: "a"})
	assert.Equal(t, fetch.CodeUnauthorized, backendError(t, err).Code)
}

func TestValidHosts(t *testing.T) {
	u, err := url.Parse("https://Graph.Microsoft.com/v1.0")
	require.NoError(t, err)
	assert.Equal(t, []string{"graph.microsoft.com"}, validHosts(u))

	u, err = url.Parse("https://127.0.0.1:8443/v1.0")
	require.NoError(t, err)
	assert.Equal(t, []string{"127.0.0.1", "127.0.0.1:8443"}, validHosts(u))
}

func TestDrive_Retrieve(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/drive/v3/files/file1" {
			w.WriteHeader(http.StatusNotFound)
			return
		}
		if r.URL.Query().Get("alt") == "media" {
			_, _ = w.Write([]byte("drive content"))
			return
		}
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]any{"id": "file1", "driveId": "shared1"})
	}))
	defer srv.Close()

	d := NewDrive(srv.URL+"/drive/v3/", srv.Client())
	ctx := context.Background()

	body, err := d.Retrieve(ctx, fetch.Key{Container: "shared1", Item: "file1"}, tokenHandle())
	require.NoError(t, err)
	got, err := io.ReadAll(body)
	require.NoError(t, err)
	body.Close()
	assert.Equal(t, "drive content", string(got))

	body, err = d.Retrieve(ctx, fetch.Key{Container: MyDrive, Item: "file1"}, tokenHandle())
	require.NoError(t, err)
	body.Close()

	_, err = d.Retrieve(ctx, fetch.Key{Container: "other", Item: "file1"}, tokenHandle())
	assert.Equal(t, fetch.CodeItemNotFound, backendError(t, err).Code)

	_, err = d.Retrieve(ctx, fetch.Key{Container: MyDrive, Item: "missing"}, tokenHandle())
	assert.Equal(t, fetch.CodeItemNotFound, backendError(t, err).Code)
}

func TestLocal_Retrieve(t *testing.T) {
	root := t.TempDir()
	require.NoError(t, os.MkdirAll(filepath.Join(root, "reports", "2024"), 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(root, "reports", "2024", "q1.pdf"), []byte("%PDF-1.7"), 0o644))

	l, err := NewLocal(root)
	require.NoError(t, err)
	ctx := context.Background()

	body, err := l.Retrieve(ctx, fetch.Key{Container: "reports", Item: "2024/q1.pdf"}, nil)
	require.NoError(t, err)
	got, err := io.ReadAll(body)
	require.NoError(t, err)
	assert.Equal(t, "%PDF-1.7", string(got))

	_, err = l.Retrieve(ctx, fetch.Key{Container: "reports", Item: "missing.pdf"}, nil)
	assert.Equal(t, fetch.CodeItemNotFound, backendError(t, err).Code)

	for _, key := range []fetch.Key{
		{Container: "..", Item: "etc/passwd"},
		{Container: "reports", Item: "../../secret"},
		{Container: "/etc", Item: "passwd"},
	} {
		_, err = l.Retrieve(ctx, key, nil)
		assert.Equal(t, fetch.CodeInvalidRequest, backendError(t, err).Code, key.String())
	}
}

func TestNewLocal_RequiresDirectory(t *testing.T) {
	_, err := NewLocal("")
	assert.Error(t, err)

	_, err = NewLocal(filepath.Join(t.TempDir(), "nope"))
	assert.Error(t, err)

	file := filepath.Join(t.TempDir(), "file")
	require.NoError(t, os.WriteFile(file, nil, 0o644))
	_, err = NewLocal(file)
	assert.Error(t, err)
}
