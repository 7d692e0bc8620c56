package upstream

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	pkgoauth "taskgate/pkg/oauth"
)

// Kind classifies a failed upstream call.
type Kind string

const (
	KindUnauthorized Kind = "UNAUTHORIZED"
	KindForbidden    Kind = "FORBIDDEN"
	KindNotFound     Kind = "NOT_FOUND"
	KindRateLimited  Kind = "RATE_LIMITED"
	KindServerError  Kind = "SERVER_ERROR"
	KindTimeout      Kind = "TIMEOUT"
	KindNetworkError Kind = "NETWORK_ERROR"
	KindUnknown      Kind = "UNKNOWN"
)

// Error is the classified failure of an upstream call.
type Error struct {
	Kind Kind

	// Status is the HTTP status code, or 0 when no response was received.
	Status int

	// Message is the best-effort human-readable description taken from the
	// response body, or a generic description of the failure.
	Message string

	Retryable bool

	// RetryAfter is the delay the upstream asked for. It is only meaningful
	// when HasRetryAfter is set; an explicit zero means retry immediately.
	RetryAfter    time.Duration
	HasRetryAfter bool

	// Body holds the raw response body for HTTP failures.
	Body []byte

	err error
}

func (e *Error) Error() string {
	if e.Status != 0 {
		return fmt.Sprintf("upstream %s (HTTP %d): %s", e.Kind, e.Status, e.Message)
	}
	return fmt.Sprintf("upstream %s: %s", e.Kind, e.Message)
}

func (e *Error) Unwrap() error {
	return e.err
}

// IsKind reports whether err is an upstream Error of the given kind.
func IsKind(err error, kind Kind) bool {
	var upErr *Error
	return errors.As(err, &upErr) && upErr.Kind == kind
}

// classifyStatus maps a non-2xx response to an Error. For 401 and 403
// responses without a usable body the message comes from the RFC 6750
// WWW-Authenticate challenge.
func classifyStatus(status int, header http.Header, body []byte) *Error {
	message := bodyMessage(body)
	if message == "" && (status == http.StatusUnauthorized || status == http.StatusForbidden) {
		message = challengeMessage(header)
	}
	if message == "" {
		message = fmt.Sprintf("HTTP %d", status)
	}

	e := &Error{
		Status:  status,
		Message: message,
		Body:    body,
	}
	switch {
	case status == http.StatusUnauthorized:
		e.Kind = KindUnauthorized
	case status == http.StatusForbidden:
		e.Kind = KindForbidden
	case status == http.StatusNotFound:
		e.Kind = KindNotFound
	case status == http.StatusTooManyRequests:
		e.Kind = KindRateLimited
		e.Retryable = true
	case status >= 500 && status <= 599:
		e.Kind = KindServerError
		e.Retryable = true
	default:
		e.Kind = KindUnknown
	}
	e.RetryAfter, e.HasRetryAfter = retryHint(header, body)
	return e
}

// classifyTransport maps an error returned by the HTTP client. ctx is the
// per-attempt context.
func classifyTransport(ctx context.Context, err error) *Error {
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) || ctx.Err() != nil {
		return &Error{
			Kind:      KindTimeout,
			Message:   "request timed out",
			Retryable: true,
			err:       err,
		}
	}
	return &Error{
		Kind:    KindNetworkError,
		Message: "upstream unreachable",
		err:     err,
	}
}

// classifyPanic maps a recovered panic value.
func classifyPanic(v any) *Error {
	if err, ok := v.(error); ok {
		return &Error{Kind: KindUnknown, Message: err.Error(), err: err}
	}
	return &Error{Kind: KindUnknown, Message: fmt.Sprint(v)}
}

// extractMessage picks error_description, message, then error from a JSON
// body, falling back to "HTTP <status>".
func extractMessage(status int, body []byte) string {
	if msg := bodyMessage(body); msg != "" {
		return msg
	}
	return fmt.Sprintf("HTTP %d", status)
}

func bodyMessage(body []byte) string {
	var fields map[string]any
	if len(body) > 0 && json.Unmarshal(body, &fields) == nil {
		for _, key := range []string{"error_description", "message", "error"} {
			if s, ok := fields[key].(string); ok && s != "" {
				return s
			}
		}
	}
	return ""
}

// challengeMessage returns error_description, then error, from a
// WWW-Authenticate header.
func challengeMessage(header http.Header) string {
	params := pkgoauth.ParseWWWAuthenticate(header.Get("WWW-Authenticate"))
	if params == nil {
		return ""
	}
	if params.ErrorDescription != "" {
		return params.ErrorDescription
	}
	return params.Error
}

// retryHint reads a Retry-After header in seconds, or a numeric retry_after
// or retryAfter field from a JSON body. ok reports whether a hint was
// present, so that an explicit zero can be told apart from none.
func retryHint(header http.Header, body []byte) (delay time.Duration, ok bool) {
	if v := strings.TrimSpace(header.Get("Retry-After")); v != "" {
		if secs, err := strconv.ParseFloat(v, 64); err == nil && secs >= 0 {
			return time.Duration(secs * float64(time.Second)), true
		}
	}
	var fields map[string]any
	if len(body) > 0 && json.Unmarshal(body, &fields) == nil {
		for _, key := range []string{"retry_after", "retryAfter"} {
			if secs, ok := fields[key].(float64); ok && secs >= 0 {
				return time.Duration(secs * float64(time.Second)), true
			}
		}
	}
	return 0, false
}
