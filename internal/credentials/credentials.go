// Package credentials turns configured credential material into an
// authentication handle for a single fetch call. Microsoft identity platform
// material becomes an azidentity credential, Google service accounts an
// oauth2 token source.
//
// When several kinds of material are configured the strongest one wins:
// certificate, then client secret, then Google service account JSON, then a
// static access key pair. Certificate-backed authentication is preferred over
// a shared secret whenever both are supplied.
package credentials

import (
	"context"
	"net/http"

	"github.com/Azure/azure-sdk-for-go/sdk/azcore"
	"github.com/pkg/errors"
	"golang.org/x/oauth2"
	"golang.org/x/oauth2/google"
)

// ErrNoCredentials is returned when no usable material is configured.
var ErrNoCredentials = errors.New("no credential material configured")

const DefaultAuthorityHost = "https://login.microsoftonline.com/"

// Method names the kind of material a Handle was built from.
type Method string

const (
	MethodCertificate    Method = "certificate"
	MethodClientSecret   Method = "client_secret"
	MethodServiceAccount Method = "service_account"
	MethodAccessKey      Method = "access_key"
	MethodNone           Method = "none"
)

// Material is the credential material of a fetcher configuration.
type Material struct {
	ClientID               string
	TenantID               string
	CertificateBytesBase64 string
	CertificatePassword    string
	ClientSecret           string
	ServiceAccountJSON     string
	AccessKeyID            string
	SecretAccessKey        string
}

// Only keeps the material the given methods use. Client and tenant ids go
// with the Microsoft methods.
func (m Material) Only(methods ...Method) Material {
	var out Material
	for _, method := range methods {
		switch method {
		case MethodCertificate:
			out.ClientID, out.TenantID = m.ClientID, m.TenantID
			out.CertificateBytesBase64, out.CertificatePassword = m.CertificateBytesBase64, m.CertificatePassword
		case MethodClientSecret:
			out.ClientID, out.TenantID = m.ClientID, m.TenantID
			out.ClientSecret = m.ClientSecret
		case MethodServiceAccount:
			out.ServiceAccountJSON = m.ServiceAccountJSON
		case MethodAccessKey:
			out.AccessKeyID, out.SecretAccessKey = m.AccessKeyID, m.SecretAccessKey
		}
	}
	return out
}

// Has reports whether m carries material for any of methods.
func (m Material) Has(methods ...Method) bool {
	for _, method := range methods {
		switch method {
		case MethodCertificate:
			if m.CertificateBytesBase64 != "" {
				return true
			}
		case MethodClientSecret:
			if m.ClientSecret != "" {
				return true
			}
		case MethodServiceAccount:
			if m.ServiceAccountJSON != "" {
				return true
			}
		case MethodAccessKey:
			if m.AccessKeyID != "" && m.SecretAccessKey != "" {
				return true
			}
		}
	}
	return false
}

// Handle is the authentication handle of one fetch call. It is never
// persisted or shared across calls.
type Handle struct {
	Method Method
	Scopes []string
	// TokenCredential is set for the Microsoft identity platform methods.
	TokenCredential azcore.TokenCredential
	// TokenSource is set for Google service accounts.
	TokenSource oauth2.TokenSource

	AccessKeyID     string
	SecretAccessKey string
}

// HTTPClient returns a client that authorizes requests with the handle's
// token source. base carries the transport; nil means http.DefaultClient.
func (h *Handle) HTTPClient(ctx context.Context, base *http.Client) *http.Client {
	if base != nil {
		ctx = context.WithValue(ctx, oauth2.HTTPClient, base)
	}
	return oauth2.NewClient(ctx, h.TokenSource)
}

// Provider acquires handles against the Microsoft identity platform or
// Google, depending on the material.
type Provider struct {
	// AuthorityHost is the identity platform host, DefaultAuthorityHost when empty.
	AuthorityHost string
	// HTTPClient is used for token requests; nil means http.DefaultClient.
	HTTPClient *http.Client
}

// NewProvider returns a Provider for the given authority host.
func NewProvider(authorityHost string) *Provider {
	return &Provider{AuthorityHost: authorityHost}
}

// Acquire builds a handle for scopes from m. Tokens are requested lazily on
// first use and reused until they expire.
func (p *Provider) Acquire(ctx context.Context, scopes []string, m Material) (*Handle, error) {
	if p.HTTPClient != nil {
		ctx = context.WithValue(ctx, oauth2.HTTPClient, p.HTTPClient)
	}

	switch {
	case m.CertificateBytesBase64 != "":
		if err := requireIdentity(m); err != nil {
			return nil, err
		}
		cred, err := p.certificateCredential(m)
		if err != nil {
			return nil, errors.Wrap(err, "certificate credentials")
		}
		return &Handle{Method: MethodCertificate, Scopes: scopes, TokenCredential: cred}, nil

	case m.ClientSecret != "":
		if err := requireIdentity(m); err != nil {
			return nil, err
		}
		cred, err := p.secretCredential(m)
		if err != nil {
			return nil, errors.Wrap(err, "client secret credentials")
		}
		return &Handle{Method: MethodClientSecret, Scopes: scopes, TokenCredential: cred}, nil

	case m.ServiceAccountJSON != "":
		jwtCfg, err := google.JWTConfigFromJSON([]byte(m.ServiceAccountJSON), scopes...)
		if err != nil {
			return nil, errors.Wrap(err, "unable to parse service account credentials")
		}
		return &Handle{
			Method:      MethodServiceAccount,
			Scopes:      scopes,
			TokenSource: jwtCfg.TokenSource(ctx),
		}, nil

	case m.AccessKeyID != "" && m.SecretAccessKey != "":
		return &Handle{
			Method:          MethodAccessKey,
			Scopes:          scopes,
			AccessKeyID:     m.AccessKeyID,
			SecretAccessKey: m.SecretAccessKey,
		}, nil
	}

	return nil, ErrNoCredentials
}

// NoAuth hands out empty handles, for backends that read without
// authentication.
type NoAuth struct{}

func (NoAuth) Acquire(_ context.Context, scopes []string, _ Material) (*Handle, error) {
	return &Handle{Method: MethodNone, Scopes: scopes}, nil
}

func requireIdentity(m Material) error {
	if m.ClientID == "" {
		return errors.New("client id must be provided")
	}
	if m.TenantID == "" {
		return errors.New("tenant id must be provided")
	}
	return nil
}
