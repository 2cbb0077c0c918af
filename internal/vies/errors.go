package vies

import (
	"context"
	"errors"
	"io"
	"net"
	"strings"
	"syscall"
)

// Kind classifies a failed validity check.
type Kind string

// Kinds reported by the VIES service or derived from transport failures.
const (
	KindServiceUnavailable  Kind = "SERVICE_UNAVAILABLE"
	KindEndpointUnavailable Kind = "MS_UNAVAILABLE"
	KindEndpointRateLimited Kind = "MS_MAX_CONCURRENT_REQ"
	KindGlobalRateLimited   Kind = "GLOBAL_MAX_CONCURRENT_REQ"
	KindTimeout             Kind = "TIMEOUT"
	KindConnectionError     Kind = "CONNECTION_ERROR"
	KindInvalidInput        Kind = "INVALID_INPUT"
	KindUnknown             Kind = "UNKNOWN"
)

// ErrMalformedResponse marks a response body that could not be interpreted as a VIES answer.
var ErrMalformedResponse = errors.New("vies: malformed service response")

// keywords is matched in order against the raw failure text; first match wins.
var keywords = []Kind{
	KindServiceUnavailable,
	KindEndpointUnavailable,
	KindEndpointRateLimited,
	KindGlobalRateLimited,
	KindTimeout,
	KindConnectionError,
	KindInvalidInput,
}

var (
	malformedHints = []string{"malformed", "unexpected end of json", "invalid character", "cannot unmarshal"}
	connResetHints = []string{"connection reset", "econnreset", "socket hang up"}
	deadlineHints  = []string{"deadline exceeded", "timed out", "timeout", "etimedout"}
)

// Recoverable reports whether a failure of this kind is expected to be transient.
func (k Kind) Recoverable() bool {
	switch k {
	case KindInvalidInput, KindUnknown, "":
		return false
	}
	return true
}

// Error is a classified validity check failure.
type Error struct {
	Kind    Kind
	Message string
	Err     error
}

func (e *Error) Error() string {
	if e.Message != "" {
		return e.Message
	}
	if e.Err != nil {
		return e.Err.Error()
	}
	return string(e.Kind)
}

func (e *Error) Unwrap() error { return e.Err }

// Recoverable reports whether the next cycle may safely retry the check.
func (e *Error) Recoverable() bool { return e != nil && e.Kind.Recoverable() }

// ClassifyMessage maps raw failure text to a kind using the keyword table and the text fallbacks.
func ClassifyMessage(msg string) Kind {
	for _, k := range keywords {
		if strings.Contains(msg, string(k)) {
			return k
		}
	}
	lower := strings.ToLower(msg)
	switch {
	case containsAny(lower, malformedHints):
		return KindServiceUnavailable
	case containsAny(lower, connResetHints):
		return KindConnectionError
	case containsAny(lower, deadlineHints):
		return KindTimeout
	}
	return KindUnknown
}

// Classify turns any failure returned by a Checker into an *Error.
// An error that already is an *Error is returned as is.
func Classify(err error) *Error {
	if err == nil {
		return nil
	}
	var ve *Error
	if errors.As(err, &ve) {
		return ve
	}
	msg := err.Error()
	kind := ClassifyMessage(msg)
	if kind == KindUnknown {
		kind = classifyTyped(err)
	}
	return &Error{Kind: kind, Message: msg, Err: err}
}

func classifyTyped(err error) Kind {
	if errors.Is(err, ErrMalformedResponse) {
		return KindServiceUnavailable
	}
	if errors.Is(err, syscall.ECONNRESET) || errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
		return KindConnectionError
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return KindTimeout
	}
	var ne net.Error
	if errors.As(err, &ne) && ne.Timeout() {
		return KindTimeout
	}
	return KindUnknown
}

// KindOf returns the classified kind of err.
func KindOf(err error) Kind {
	if ve := Classify(err); ve != nil {
		return ve.Kind
	}
	return ""
}

// IsRecoverable reports whether err classifies to a recoverable kind.
func IsRecoverable(err error) bool {
	return Classify(err).Recoverable()
}

func containsAny(s string, hints []string) bool {
	for _, h := range hints {
		if strings.Contains(s, h) {
			return true
		}
	}
	return false
}
