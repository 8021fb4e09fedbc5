package fetch

import (
	"fmt"

	"github.com/pkg/errors"
)

// ErrEmptyResponse is recorded when a backend returns neither content nor an
// error. It is retryable.
var ErrEmptyResponse = errors.New("empty response from backend")

// BackendError is the structured error a backend reports when the remote
// service answered with a machine-readable code.
type BackendError struct {
	Code    string
	Message string
	// Status is the HTTP status of the response, 0 when unknown.
	Status int
}

func (e *BackendError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("backend error %s", e.Code)
	}
	return fmt.Sprintf("backend error %s: %s", e.Code, e.Message)
}

// FailureKind enumerates the ways a fetch call can fail.
type FailureKind int

const (
	FailureUnknown FailureKind = iota
	FailureInvalidKey
	FailureNotFound
	FailureBackend
	FailureExhausted
	FailureSpool
	FailureCredentials
	FailureCanceled
)

func (k FailureKind) String() string {
	switch k {
	case FailureInvalidKey:
		return "invalid_key"
	case FailureNotFound:
		return "not_found"
	case FailureBackend:
		return "backend"
	case FailureExhausted:
		return "exhausted"
	case FailureSpool:
		return "spool"
	case FailureCredentials:
		return "credentials"
	case FailureCanceled:
		return "canceled"
	default:
		return "unknown"
	}
}

// Error is the single failure type returned by Fetch.
type Error struct {
	Kind     FailureKind
	Key      string
	Attempts int
	// Code and Message are the backend's, when the failure came from one.
	Code    string
	Message string
	Err     error
}

func (e *Error) Error() string {
	var msg string
	switch e.Kind {
	case FailureInvalidKey:
		msg = fmt.Sprintf("invalid fetch key %q", e.Key)
	case FailureNotFound:
		msg = fmt.Sprintf("item not found: %s", e.Key)
	case FailureBackend:
		msg = fmt.Sprintf("backend error: %s", e.Code)
	case FailureExhausted:
		msg = fmt.Sprintf("could not fetch %s after %d attempt(s)", e.Key, e.Attempts)
	case FailureSpool:
		msg = fmt.Sprintf("spooling %s to temp file", e.Key)
	case FailureCredentials:
		msg = fmt.Sprintf("acquiring credentials for %s", e.Key)
	case FailureCanceled:
		msg = fmt.Sprintf("fetch of %s canceled", e.Key)
	default:
		msg = fmt.Sprintf("fetch of %s failed", e.Key)
	}
	if e.Err != nil {
		return msg + ": " + e.Err.Error()
	}
	return msg
}

func (e *Error) Unwrap() error { return e.Err }

// KindOf reports the FailureKind of err, FailureUnknown when err is not a
// fetch error.
func KindOf(err error) FailureKind {
	var fe *Error
	if errors.As(err, &fe) {
		return fe.Kind
	}
	return FailureUnknown
}
