package backend

import (
	"bytes"
	"context"
	"io"
	"net/http"
	"net/url"
	"strings"

	"github.com/andresuchdata/fetchers/internal/credentials"
	"github.com/andresuchdata/fetchers/internal/fetch"
	abstractions "github.com/microsoft/kiota-abstractions-go"
	kiotaauth "github.com/microsoft/kiota-authentication-azure-go"
	msgraphsdk "github.com/microsoftgraph/msgraph-sdk-go"
	"github.com/microsoftgraph/msgraph-sdk-go/models/odataerrors"
	"github.com/pkg/errors"
)

const DefaultGraphBaseURL = "https://graph.microsoft.com/v1.0"

// Graph reads drive item content from Microsoft Graph. The container is the
// drive id, the item is the drive item id.
type Graph struct {
	baseURL string
	client  *http.Client
}

// NewGraph returns a Graph backend. client carries the transport; the SDK's
// retry middleware is not installed since the fetch loop owns retries.
func NewGraph(baseURL string, client *http.Client) *Graph {
	if baseURL == "" {
		baseURL = DefaultGraphBaseURL
	}
	if client == nil {
		client = &http.Client{}
	}
	return &Graph{baseURL: strings.TrimSuffix(baseURL, "/"), client: client}
}

func (g *Graph) DefaultScope() string { return fetch.DefaultScope }

func (g *Graph) Accepts() []credentials.Method {
	return []credentials.Method{credentials.MethodCertificate, credentials.MethodClientSecret}
}

func (g *Graph) Retrieve(ctx context.Context, key fetch.Key, cred *credentials.Handle) (io.ReadCloser, error) {
	if cred == nil || cred.TokenCredential == nil {
		return nil, &fetch.BackendError{Code: fetch.CodeUnauthorized, Message: "microsoft graph requires an azure token credential"}
	}

	client, err := g.newClient(cred)
	if err != nil {
		return nil, err
	}

	content, err := client.Drives().ByDriveId(key.Container).Items().ByDriveItemId(key.Item).Content().Get(ctx, nil)
	if err != nil {
		return nil, graphError(err, key)
	}
	if content == nil {
		return nil, nil
	}
	return io.NopCloser(bytes.NewReader(content)), nil
}

func (g *Graph) newClient(cred *credentials.Handle) (*msgraphsdk.GraphServiceClient, error) {
	u, err := url.Parse(g.baseURL)
	if err != nil {
		return nil, errors.Wrapf(err, "parsing graph base url %s", g.baseURL)
	}

	auth, err := kiotaauth.NewAzureIdentityAuthenticationProviderWithScopesAndValidHosts(
		cred.TokenCredential, cred.Scopes, validHosts(u))
	if err != nil {
		return nil, errors.Wrap(err, "creating graph auth provider")
	}
	adapter, err := msgraphsdk.NewGraphRequestAdapterWithParseNodeFactoryAndSerializationWriterFactoryAndHttpClient(auth, nil, nil, g.client)
	if err != nil {
		return nil, errors.Wrap(err, "creating graph request adapter")
	}
	adapter.SetBaseUrl(g.baseURL)
	return msgraphsdk.NewGraphServiceClient(adapter), nil
}

func validHosts(u *url.URL) []string {
	hosts := []string{strings.ToLower(u.Hostname())}
	if u.Port() != "" {
		hosts = append(hosts, strings.ToLower(u.Host))
	}
	return hosts
}

// graphError maps SDK failures. OData codes are kept as is; errors without
// one fall back to the HTTP status.
func graphError(err error, key fetch.Key) error {
	if be, ok := tokenError(err); ok {
		return be
	}

	var oerr *odataerrors.ODataError
	if errors.As(err, &oerr) {
		status := oerr.ResponseStatusCode
		code, msg := "", oerr.Message
		if main := oerr.GetErrorEscaped(); main != nil {
			if c := main.GetCode(); c != nil {
				code = *c
			}
			if m := main.GetMessage(); m != nil {
				msg = *m
			}
		}
		if code == "" {
			code = statusText(status)
		}
		return &fetch.BackendError{Code: code, Message: msg, Status: status}
	}

	var aerr *abstractions.ApiError
	if errors.As(err, &aerr) {
		return &fetch.BackendError{Code: statusText(aerr.ResponseStatusCode), Message: aerr.Message, Status: aerr.ResponseStatusCode}
	}
	return errors.Wrapf(err, "get drive item content %s", key)
}

func statusText(status int) string {
	if code := statusCode(status); code != "" {
		return code
	}
	return strings.ReplaceAll(http.StatusText(status), " ", "")
}
