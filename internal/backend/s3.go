package backend

import (
	"context"
	"io"
	"net/http"
	"strings"

	"github.com/andresuchdata/fetchers/internal/credentials"
	"github.com/andresuchdata/fetchers/internal/fetch"
	"github.com/minio/minio-go/v7"
	miniocreds "github.com/minio/minio-go/v7/pkg/credentials"
	"github.com/pkg/errors"
)

const defaultS3Region = "us-east-1"

// S3Store reads objects from an S3-compatible service. The container is the
// bucket, the item is the object key.
type S3Store struct {
	endpoint string
	region   string
	secure   bool
}

// NewS3 accepts a bare host or a URL; a scheme in the endpoint overrides
// useSSL.
func NewS3(endpoint, region string, useSSL bool) (*S3Store, error) {
	endpoint = strings.TrimSpace(endpoint)
	if endpoint == "" {
		return nil, errors.New("s3 endpoint must be provided")
	}

	secure := useSSL
	switch {
	case strings.HasPrefix(endpoint, "https://"):
		secure = true
	case strings.HasPrefix(endpoint, "http://"):
		secure = false
	}
	endpoint = strings.TrimPrefix(strings.TrimPrefix(endpoint, "https://"), "http://")
	endpoint = strings.TrimSuffix(strings.TrimPrefix(endpoint, "//"), "/")

	region = strings.TrimSpace(region)
	if region == "" {
		region = defaultS3Region
	}

	return &S3Store{endpoint: endpoint, region: region, secure: secure}, nil
}

func (s *S3Store) Accepts() []credentials.Method {
	return []credentials.Method{credentials.MethodAccessKey}
}

func (s *S3Store) Retrieve(ctx context.Context, key fetch.Key, cred *credentials.Handle) (io.ReadCloser, error) {
	if cred == nil || cred.AccessKeyID == "" || cred.SecretAccessKey == "" {
		return nil, &fetch.BackendError{Code: fetch.CodeUnauthorized, Message: "s3 requires an access key pair"}
	}

	client, err := minio.New(s.endpoint, &minio.Options{
		Creds:        miniocreds.NewStaticV4(cred.AccessKeyID, cred.SecretAccessKey, ""),
		Secure:       s.secure,
		Region:       s.region,
		BucketLookup: minio.BucketLookupPath,
	})
	if err != nil {
		return nil, errors.Wrap(err, "failed to create s3 client")
	}

	obj, err := client.GetObject(ctx, key.Container, key.Item, minio.GetObjectOptions{})
	if err != nil {
		return nil, s3Error(err)
	}
	// GetObject is lazy; Stat surfaces missing objects and denied access.
	if _, err := obj.Stat(); err != nil {
		_ = obj.Close()
		return nil, s3Error(err)
	}
	return obj, nil
}

func s3Error(err error) error {
	resp := minio.ToErrorResponse(err)
	if resp.Code == "" {
		return errors.Wrap(err, "s3 request")
	}

	code := resp.Code
	switch resp.Code {
	case "NoSuchKey", "NoSuchBucket":
		code = fetch.CodeItemNotFound
	case "AccessDenied":
		code = fetch.CodeForbidden
	case "InvalidAccessKeyId", "SignatureDoesNotMatch":
		code = fetch.CodeUnauthorized
	case "InvalidRequest", "InvalidArgument", "InvalidBucketName":
		code = fetch.CodeInvalidRequest
	}

	status := resp.StatusCode
	if status == 0 && code == fetch.CodeItemNotFound {
		status = http.StatusNotFound
	}
	return &fetch.BackendError{Code: code, Message: resp.Message, Status: status}
}
