package backend

import (
	"bytes"
	"context"
	"io"
	"io/fs"
	"net/http"
	"os"
	"path"
	"strings"

	"github.com/andresuchdata/fetchers/internal/credentials"
	"github.com/andresuchdata/fetchers/internal/fetch"
	"github.com/chartmuseum/storage"
	"github.com/pkg/errors"
)

// LocalDir reads files below a root directory. The container is a directory
// under the root, the item a file path inside it.
type LocalDir struct {
	backend *storage.LocalFilesystemBackend
}

func NewLocal(root string) (*LocalDir, error) {
	if root == "" {
		return nil, errors.New("local root must be provided")
	}
	info, err := os.Stat(root)
	if err != nil {
		return nil, errors.Wrapf(err, "local root %s", root)
	}
	if !info.IsDir() {
		return nil, errors.Errorf("local root %s is not a directory", root)
	}
	return &LocalDir{backend: storage.NewLocalFilesystemBackend(root)}, nil
}

func (LocalDir) anonymous() {}

func (l *LocalDir) Retrieve(_ context.Context, key fetch.Key, _ *credentials.Handle) (io.ReadCloser, error) {
	if escapes(key.Container) || escapes(key.Item) {
		return nil, &fetch.BackendError{
			Code:    fetch.CodeInvalidRequest,
			Message: "path escapes the local root: " + key.String(),
			Status:  http.StatusBadRequest,
		}
	}

	obj, err := l.backend.GetObject(path.Join(key.Container, key.Item))
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, &fetch.BackendError{Code: fetch.CodeItemNotFound, Message: err.Error(), Status: http.StatusNotFound}
		}
		return nil, errors.Wrapf(err, "reading %s", key)
	}
	return io.NopCloser(bytes.NewReader(obj.Content)), nil
}

func escapes(p string) bool {
	if strings.HasPrefix(p, "/") || strings.HasPrefix(p, `\`) {
		return true
	}
	for _, part := range strings.FieldsFunc(p, func(r rune) bool { return r == '/' || r == '\\' }) {
		if part == ".." {
			return true
		}
	}
	return false
}
