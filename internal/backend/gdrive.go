package backend

import (
	"context"
	"fmt"
	"io"
	"net/http"

	"github.com/andresuchdata/fetchers/internal/credentials"
	"github.com/andresuchdata/fetchers/internal/fetch"
	"github.com/pkg/errors"
	"google.golang.org/api/drive/v3"
	"google.golang.org/api/option"
)

// MyDrive as the container skips the shared drive membership check.
const MyDrive = "my"

// Drive reads file content from Google Drive. The container is the shared
// drive id (or MyDrive), the item is the file id.
type Drive struct {
	endpoint string
	client   *http.Client
}

func NewDrive(endpoint string, client *http.Client) *Drive {
	return &Drive{endpoint: endpoint, client: client}
}

func (d *Drive) DefaultScope() string { return drive.DriveReadonlyScope }

func (d *Drive) Accepts() []credentials.Method {
	return []credentials.Method{credentials.MethodServiceAccount}
}

func (d *Drive) newService(ctx context.Context, cred *credentials.Handle) (*drive.Service, error) {
	opts := []option.ClientOption{option.WithHTTPClient(cred.HTTPClient(ctx, d.client))}
	if d.endpoint != "" {
		opts = append(opts, option.WithEndpoint(d.endpoint))
	}
	srv, err := drive.NewService(ctx, opts...)
	if err != nil {
		return nil, errors.Wrap(err, "unable to retrieve Drive client")
	}
	return srv, nil
}

func (d *Drive) Retrieve(ctx context.Context, key fetch.Key, cred *credentials.Handle) (io.ReadCloser, error) {
	if cred == nil || cred.TokenSource == nil {
		return nil, &fetch.BackendError{Code: fetch.CodeUnauthorized, Message: "google drive requires an oauth2 token"}
	}
	srv, err := d.newService(ctx, cred)
	if err != nil {
		return nil, err
	}

	if key.Container != MyDrive {
		f, err := srv.Files.Get(key.Item).
			SupportsAllDrives(true).
			Fields("id", "driveId").
			Context(ctx).
			Do()
		if err != nil {
			return nil, googleError(err, "unable to get file metadata")
		}
		if f.DriveId != key.Container {
			return nil, &fetch.BackendError{
				Code:    fetch.CodeItemNotFound,
				Message: fmt.Sprintf("file %s is not in drive %s", key.Item, key.Container),
				Status:  http.StatusNotFound,
			}
		}
	}

	resp, err := srv.Files.Get(key.Item).SupportsAllDrives(true).Context(ctx).Download()
	if err != nil {
		return nil, googleError(err, "unable to download file")
	}
	return resp.Body, nil
}
