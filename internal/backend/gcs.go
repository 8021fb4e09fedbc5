package backend

import (
	"context"
	"io"
	"net/http"

	"cloud.google.com/go/storage"
	"github.com/andresuchdata/fetchers/internal/credentials"
	"github.com/andresuchdata/fetchers/internal/fetch"
	"github.com/pkg/errors"
	"google.golang.org/api/option"
)

// GCSBucket reads objects from Google Cloud Storage. The container is the
// bucket, the item is the object name.
type GCSBucket struct {
	endpoint string
	client   *http.Client
}

func NewGCS(endpoint string, client *http.Client) *GCSBucket {
	return &GCSBucket{endpoint: endpoint, client: client}
}

func (g *GCSBucket) DefaultScope() string { return storage.ScopeReadOnly }

func (g *GCSBucket) Accepts() []credentials.Method {
	return []credentials.Method{credentials.MethodServiceAccount}
}

func (g *GCSBucket) Retrieve(ctx context.Context, key fetch.Key, cred *credentials.Handle) (io.ReadCloser, error) {
	if cred == nil || cred.TokenSource == nil {
		return nil, &fetch.BackendError{Code: fetch.CodeUnauthorized, Message: "cloud storage requires an oauth2 token"}
	}

	opts := []option.ClientOption{option.WithHTTPClient(cred.HTTPClient(ctx, g.client))}
	if g.endpoint != "" {
		opts = append(opts, option.WithEndpoint(g.endpoint))
	}
	client, err := storage.NewClient(ctx, opts...)
	if err != nil {
		return nil, errors.Wrap(err, "failed to create storage client")
	}

	r, err := client.Bucket(key.Container).Object(key.Item).NewReader(ctx)
	if err != nil {
		_ = client.Close()
		return nil, storageError(err)
	}
	return &clientReader{ReadCloser: r, client: client}, nil
}

func storageError(err error) error {
	if errors.Is(err, storage.ErrObjectNotExist) || errors.Is(err, storage.ErrBucketNotExist) {
		return &fetch.BackendError{Code: fetch.CodeItemNotFound, Message: err.Error(), Status: http.StatusNotFound}
	}
	return googleError(err, "failed to open object")
}

// clientReader closes the per-call storage client with the object reader.
type clientReader struct {
	io.ReadCloser
	client io.Closer
}

func (c *clientReader) Close() error {
	err := c.ReadCloser.Close()
	if cerr := c.client.Close(); err == nil {
		err = cerr
	}
	return err
}
