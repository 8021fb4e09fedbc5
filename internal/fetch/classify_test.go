package fetch

import (
	"context"
	"fmt"
	"testing"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
)

func TestClassify(t *testing.T) {
	c := DefaultClassifier()

	tests := []struct {
		name   string
		err    error
		kind   VerdictKind
		reason TerminalReason
		code   string
	}{
		{"nil", nil, Retryable, ReasonNone, ""},
		{"plain error", errors.New("connection reset"), Retryable, ReasonNone, ""},
		{"deadline", context.DeadlineExceeded, Retryable, ReasonNone, ""},
		{"empty response", ErrEmptyResponse, Retryable, ReasonNone, ""},
		{"not found", &BackendError{Code: CodeItemNotFound}, Terminal, ReasonNotFound, CodeItemNotFound},
		{"invalid request", &BackendError{Code: CodeInvalidRequest}, Terminal, ReasonBackend, CodeInvalidRequest},
		{"forbidden", &BackendError{Code: CodeForbidden}, Terminal, ReasonBackend, CodeForbidden},
		{"unauthorized", &BackendError{Code: CodeUnauthorized}, Terminal, ReasonBackend, CodeUnauthorized},
		{"throttled", &BackendError{Code: "TooManyRequests", Status: 429}, Retryable, ReasonNone, "TooManyRequests"},
		{"wrapped once", errors.Wrap(&BackendError{Code: CodeForbidden}, "get content"), Terminal, ReasonBackend, CodeForbidden},
		{"wrapped with fmt", fmt.Errorf("graph: %w", &BackendError{Code: CodeItemNotFound}), Terminal, ReasonNotFound, CodeItemNotFound},
		{"wrapped twice", errors.WithMessage(errors.Wrap(&BackendError{Code: CodeUnauthorized}, "token"), "request"), Terminal, ReasonBackend, CodeUnauthorized},
		{"code is case sensitive", &BackendError{Code: "forbidden"}, Retryable, ReasonNone, "forbidden"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			v := c.Classify(tt.err)
			assert.Equal(t, tt.kind, v.Kind)
			assert.Equal(t, tt.reason, v.Reason)
			assert.Equal(t, tt.code, v.Code)
		})
	}
}

func TestClassify_CopiesMessage(t *testing.T) {
	v := DefaultClassifier().Classify(&BackendError{Code: CodeItemNotFound, Message: "The resource could not be found."})
	assert.Equal(t, "The resource could not be found.", v.Message)
}

func TestNewClassifier_ReplacesDefaults(t *testing.T) {
	c := NewClassifier("activityLimitReached")

	assert.True(t, c.Classify(&BackendError{Code: "activityLimitReached"}).Terminal())
	assert.False(t, c.Classify(&BackendError{Code: CodeForbidden}).Terminal())
}

func TestDefaultClassifier_DoesNotMutateDefaults(t *testing.T) {
	before := append([]string(nil), DefaultTerminalCodes...)
	_ = DefaultClassifier("extra-1", "extra-2")
	assert.Equal(t, before, DefaultTerminalCodes)
	assert.False(t, DefaultClassifier().Classify(&BackendError{Code: "extra-1"}).Terminal())
}
