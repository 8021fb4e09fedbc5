package fetch

import (
	"io"
	"os"

	"github.com/pkg/errors"
)

const spoolPattern = "spooled-temp-*.dat"

// sourceError marks a failure reading the remote stream while spooling. The
// disk is fine, so the attempt may be retried.
type sourceError struct {
	err error
}

func (e *sourceError) Error() string { return "reading remote stream: " + e.err.Error() }
func (e *sourceError) Unwrap() error { return e.err }

type trackingReader struct {
	r   io.Reader
	err error
}

func (t *trackingReader) Read(p []byte) (int, error) {
	n, err := t.r.Read(p)
	if err != nil && err != io.EOF {
		t.err = err
	}
	return n, err
}

// spoolToTemp copies body into a new temp file in dir (os.TempDir when
// empty). The file is removed if the copy does not complete.
func spoolToTemp(dir string, body io.Reader) (string, int64, error) {
	f, err := os.CreateTemp(dir, spoolPattern)
	if err != nil {
		return "", 0, errors.Wrap(err, "creating temp file")
	}
	name := f.Name()

	src := &trackingReader{r: body}
	n, err := io.Copy(f, src)
	if err != nil {
		_ = f.Close()
		_ = os.Remove(name)
		if src.err != nil {
			return "", n, &sourceError{err: src.err}
		}
		return "", n, errors.Wrapf(err, "writing %s", name)
	}
	if err := f.Close(); err != nil {
		_ = os.Remove(name)
		return "", n, errors.Wrapf(err, "closing %s", name)
	}
	return name, n, nil
}
