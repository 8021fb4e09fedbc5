package credentials

import (
	"encoding/base64"
	"strings"

	"github.com/Azure/azure-sdk-for-go/sdk/azcore"
	"github.com/Azure/azure-sdk-for-go/sdk/azcore/cloud"
	"github.com/Azure/azure-sdk-for-go/sdk/azidentity"
	"github.com/pkg/errors"
)

// certificateCredential decodes the base64 PKCS#12 (or PEM) bundle and
// builds a client certificate credential from it.
func (p *Provider) certificateCredential(m Material) (*azidentity.ClientCertificateCredential, error) {
	raw, err := base64.StdEncoding.DecodeString(m.CertificateBytesBase64)
	if err != nil {
		return nil, errors.Wrap(err, "decoding certificate bytes")
	}
	var password []byte
	if m.CertificatePassword != "" {
		password = []byte(m.CertificatePassword)
	}
	certs, key, err := azidentity.ParseCertificates(raw, password)
	if err != nil {
		return nil, errors.Wrap(err, "parsing certificate")
	}
	return azidentity.NewClientCertificateCredential(m.TenantID, m.ClientID, certs, key,
		&azidentity.ClientCertificateCredentialOptions{
			ClientOptions:        p.clientOptions(),
			SendCertificateChain: true,
		})
}

func (p *Provider) secretCredential(m Material) (*azidentity.ClientSecretCredential, error) {
	return azidentity.NewClientSecretCredential(m.TenantID, m.ClientID, m.ClientSecret,
		&azidentity.ClientSecretCredentialOptions{ClientOptions: p.clientOptions()})
}

// clientOptions points the credentials at the configured authority. Token
// requests are tried once; the fetch loop owns retries.
func (p *Provider) clientOptions() azcore.ClientOptions {
	host := strings.TrimSpace(p.AuthorityHost)
	if host == "" {
		host = DefaultAuthorityHost
	}
	if !strings.HasSuffix(host, "/") {
		host += "/"
	}

	opts := azcore.ClientOptions{
		Cloud: cloud.Configuration{ActiveDirectoryAuthorityHost: host},
	}
	opts.Retry.MaxRetries = -1
	if p.HTTPClient != nil {
		opts.Transport = p.HTTPClient
	}
	return opts
}
