package fetch

import (
	"github.com/pkg/errors"
)

// Codes that end a fetch without retrying by default.
const (
	CodeItemNotFound   = "itemNotFound"
	CodeInvalidRequest = "invalidRequest"
	CodeForbidden      = "Forbidden"
	CodeUnauthorized   = "Unauthorized"
)

// DefaultTerminalCodes is the terminal set used by DefaultClassifier.
var DefaultTerminalCodes = []string{
	CodeItemNotFound,
	CodeInvalidRequest,
	CodeForbidden,
	CodeUnauthorized,
}

// VerdictKind is the retry decision for one failed attempt.
type VerdictKind int

const (
	Retryable VerdictKind = iota
	Terminal
)

// TerminalReason distinguishes a missing item from every other terminal code.
type TerminalReason int

const (
	ReasonNone TerminalReason = iota
	ReasonNotFound
	ReasonBackend
)

// Verdict is the outcome of classifying an attempt error.
type Verdict struct {
	Kind   VerdictKind
	Reason TerminalReason
	// Code and Message are copied from the BackendError when one was found.
	Code    string
	Message string
}

// Terminal reports whether the fetch must stop.
func (v Verdict) Terminal() bool { return v.Kind == Terminal }

// Classifier decides whether an attempt error is worth retrying. Its
// terminal code set is fixed at construction.
type Classifier struct {
	terminal map[string]struct{}
}

// NewClassifier returns a classifier whose terminal set is codes.
func NewClassifier(codes ...string) *Classifier {
	set := make(map[string]struct{}, len(codes))
	for _, c := range codes {
		if c != "" {
			set[c] = struct{}{}
		}
	}
	return &Classifier{terminal: set}
}

// DefaultClassifier returns a classifier with DefaultTerminalCodes plus extra.
func DefaultClassifier(extra ...string) *Classifier {
	codes := append(append([]string(nil), DefaultTerminalCodes...), extra...)
	return NewClassifier(codes...)
}

// Classify inspects err and its causes for a BackendError. Errors without
// one, such as timeouts and connection resets, are retryable.
func (c *Classifier) Classify(err error) Verdict {
	var be *BackendError
	if err == nil || !errors.As(err, &be) {
		return Verdict{Kind: Retryable}
	}

	v := Verdict{Kind: Retryable, Code: be.Code, Message: be.Message}
	if _, ok := c.terminal[be.Code]; !ok {
		return v
	}

	v.Kind = Terminal
	v.Reason = ReasonBackend
	if be.Code == CodeItemNotFound {
		v.Reason = ReasonNotFound
	}
	return v
}
