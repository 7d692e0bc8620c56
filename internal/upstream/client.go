package upstream

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/cenkalti/backoff/v4"

	"taskgate/internal/metrics"
	"taskgate/pkg/logging"
)

const (
	// DefaultMaxRetries is the number of retries after the first attempt.
	DefaultMaxRetries = 3

	// DefaultInitialDelay is the wait before the first retry; it doubles on
	// each subsequent retry.
	DefaultInitialDelay = 1 * time.Second

	// DefaultTimeout bounds each individual attempt.
	DefaultTimeout = 30 * time.Second

	// maxResponseSize caps how much of a response body is read.
	maxResponseSize = 1 << 20
)

// Options tunes retry behavior for a call.
type Options struct {
	MaxRetries   int
	InitialDelay time.Duration
	Timeout      time.Duration

	// Timer drives the waits between attempts. Nil uses a real timer.
	Timer backoff.Timer
}

// DefaultOptions returns the default retry options.
func DefaultOptions() Options {
	return Options{
		MaxRetries:   DefaultMaxRetries,
		InitialDelay: DefaultInitialDelay,
		Timeout:      DefaultTimeout,
	}
}

// Request describes an outbound call. The body is replayed on every attempt.
type Request struct {
	// Operation names the call in logs and metrics, e.g. "token_exchange".
	Operation string
	Method    string
	URL       string
	Header    http.Header
	Body      []byte
}

// Response is a successful (2xx) upstream response with its body read.
type Response struct {
	StatusCode int
	Header     http.Header
	Body       []byte
}

// DecodeJSON unmarshals the response body into v.
func (r *Response) DecodeJSON(v any) error {
	return json.Unmarshal(r.Body, v)
}

// HTTPDoer is the subset of *http.Client used by Client.
type HTTPDoer interface {
	Do(req *http.Request) (*http.Response, error)
}

// Client performs outbound HTTP calls with per-attempt deadlines, error
// classification and exponential backoff.
type Client struct {
	httpClient HTTPDoer
	opts       Options
}

// NewClient creates a Client. A nil httpClient uses a plain *http.Client.
// Zero-valued InitialDelay and Timeout fall back to the defaults.
func NewClient(httpClient HTTPDoer, opts Options) *Client {
	if httpClient == nil {
		httpClient = &http.Client{}
	}
	return &Client{
		httpClient: httpClient,
		opts:       normalize(opts),
	}
}

// Options returns the client's default options.
func (c *Client) Options() Options {
	return c.opts
}

// Do performs req with the client's default options.
func (c *Client) Do(ctx context.Context, req Request) (*Response, error) {
	return c.DoWithOptions(ctx, req, c.opts)
}

// DoWithOptions performs req, retrying retryable failures up to
// opts.MaxRetries times. The returned error is always an *Error.
func (c *Client) DoWithOptions(ctx context.Context, req Request, opts Options) (*Response, error) {
	opts = normalize(opts)
	operation := req.Operation
	if operation == "" {
		operation = "request"
	}

	var (
		result  *Response
		lastErr *Error
		attempt int
	)

	op := func() error {
		attempt++
		resp, upErr := c.attempt(ctx, req, opts.Timeout)
		if upErr != nil {
			lastErr = upErr
			metrics.UpstreamRequests.WithLabelValues(operation, string(upErr.Kind)).Inc()
			if !upErr.Retryable {
				return backoff.Permanent(upErr)
			}
			return upErr
		}
		metrics.UpstreamRequests.WithLabelValues(operation, "success").Inc()
		result = resp
		return nil
	}

	policy := &hintedBackOff{
		initial: opts.InitialDelay,
		hint: func() (time.Duration, bool) {
			if lastErr == nil {
				return 0, false
			}
			return lastErr.RetryAfter, lastErr.HasRetryAfter
		},
	}
	var b backoff.BackOff = backoff.WithMaxRetries(policy, uint64(opts.MaxRetries))
	b = backoff.WithContext(b, ctx)

	notify := func(err error, delay time.Duration) {
		kind := KindUnknown
		if lastErr != nil {
			kind = lastErr.Kind
		}
		metrics.UpstreamRetries.WithLabelValues(operation, string(kind)).Inc()
		logging.Warn("Upstream", "%s attempt %d/%d failed (%s), retrying in %s",
			operation, attempt, opts.MaxRetries+1, kind, delay)
	}

	err := backoff.RetryNotifyWithTimer(op, b, notify, opts.Timer)
	if err == nil {
		return result, nil
	}

	var upErr *Error
	if errors.As(err, &upErr) {
		return nil, upErr
	}
	// The parent context ended while waiting between attempts.
	return nil, &Error{
		Kind:      KindTimeout,
		Message:   fmt.Sprintf("request cancelled: %v", err),
		Retryable: true,
		err:       err,
	}
}

// attempt runs a single call under its own deadline. Panics are recovered
// and reported as KindUnknown.
func (c *Client) attempt(ctx context.Context, req Request, timeout time.Duration) (resp *Response, upErr *Error) {
	defer func() {
		if r := recover(); r != nil {
			resp = nil
			upErr = classifyPanic(r)
		}
	}()

	attemptCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	var body io.Reader
	if req.Body != nil {
		body = bytes.NewReader(req.Body)
	}
	httpReq, err := http.NewRequestWithContext(attemptCtx, req.Method, req.URL, body)
	if err != nil {
		return nil, &Error{Kind: KindUnknown, Message: err.Error(), err: err}
	}
	for key, values := range req.Header {
		for _, v := range values {
			httpReq.Header.Add(key, v)
		}
	}

	httpResp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return nil, classifyTransport(attemptCtx, err)
	}
	defer httpResp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(httpResp.Body, maxResponseSize))
	if err != nil {
		return nil, classifyTransport(attemptCtx, err)
	}

	if httpResp.StatusCode < 200 || httpResp.StatusCode > 299 {
		return nil, classifyStatus(httpResp.StatusCode, httpResp.Header, data)
	}
	return &Response{
		StatusCode: httpResp.StatusCode,
		Header:     httpResp.Header,
		Body:       data,
	}, nil
}

func normalize(opts Options) Options {
	if opts.MaxRetries < 0 {
		opts.MaxRetries = 0
	}
	if opts.InitialDelay <= 0 {
		opts.InitialDelay = DefaultInitialDelay
	}
	if opts.Timeout <= 0 {
		opts.Timeout = DefaultTimeout
	}
	return opts
}
