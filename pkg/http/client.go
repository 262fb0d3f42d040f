package http

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

const (
	MethodGet  = http.MethodGet
	MethodPost = http.MethodPost
)

// maxErrorBody bounds how much of a failed response is kept in StatusError.
const maxErrorBody = 4 << 10

// StatusError is returned for non-2xx responses. Message is the first
// AppError message when the body is an API envelope, else the raw body.
type StatusError struct {
	Code    int
	Message string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("unexpected status %d: %s", e.Code, e.Message)
}

// IsStatus reports whether err is a StatusError with the given code.
func IsStatus(err error, code int) bool {
	var se *StatusError
	return errors.As(err, &se) && se.Code == code
}

type RequestOptions struct {
	Method      string
	URL         string // absolute, or a path joined to the base URL
	Headers     map[string]string
	QueryParams map[string][]string
	Body        interface{}
}

// Client sends JSON requests to the Calibra API or a trainer service. GETs
// are retried on transport errors and 5xx when retries are enabled.
type Client struct {
	baseURL string
	timeout time.Duration
	headers map[string]string
	retries int
	backoff time.Duration
	client  *http.Client
}

type ClientOption func(*Client)

func NewClient(opts ...ClientOption) *Client {
	c := &Client{timeout: 30 * time.Second, headers: map[string]string{}, backoff: 200 * time.Millisecond}
	for _, opt := range opts {
		opt(c)
	}
	c.client = &http.Client{Timeout: c.timeout}
	return c
}

func WithTimeout(timeout time.Duration) ClientOption {
	return func(c *Client) { c.timeout = timeout }
}

// WithHeader sets a header sent on every request.
func WithHeader(key, value string) ClientOption {
	return func(c *Client) { c.headers[key] = value }
}

// WithBaseURL is prefixed to request URLs that start with "/".
func WithBaseURL(base string) ClientOption {
	return func(c *Client) { c.baseURL = strings.TrimRight(base, "/") }
}

// WithRetries retries GETs up to n more times, waiting backoff, 2*backoff, ...
func WithRetries(n int, backoff time.Duration) ClientOption {
	return func(c *Client) {
		c.retries = n
		if backoff > 0 {
			c.backoff = backoff
		}
	}
}

// SendRequest returns the response whatever its status. The caller closes
// the body.
func (c *Client) SendRequest(ctx context.Context, opts *RequestOptions) (*http.Response, error) {
	attempts := 1
	if opts.Method == MethodGet || opts.Method == "" {
		attempts += c.retries
	}
	wait := c.backoff
	for i := 1; ; i++ {
		resp, err := c.do(ctx, opts)
		retryable := err != nil || (resp.StatusCode >= 500 && resp.StatusCode != http.StatusNotImplemented)
		if !retryable || i >= attempts {
			return resp, err
		}
		if resp != nil {
			_ = resp.Body.Close()
		}
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(wait):
		}
		wait *= 2
	}
}

func (c *Client) do(ctx context.Context, opts *RequestOptions) (*http.Response, error) {
	req, err := c.buildRequest(ctx, opts)
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	resp, err := c.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%s %s: %w", req.Method, req.URL.Path, err)
	}
	return resp, nil
}

// SendAndParse decodes a 2xx body into dest: *[]byte gets the raw body, an
// io.Writer gets it copied, anything else is JSON-decoded. Other statuses
// return a *StatusError.
func (c *Client) SendAndParse(ctx context.Context, opts *RequestOptions, dest interface{}) error {
	resp, err := c.SendRequest(ctx, opts)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		return &StatusError{Code: resp.StatusCode, Message: errorMessage(body)}
	}
	switch v := dest.(type) {
	case nil:
		return nil
	case *[]byte:
		*v, err = io.ReadAll(resp.Body)
		return err
	case io.Writer:
		_, err = io.Copy(v, resp.Body)
		return err
	}
	if err := json.NewDecoder(resp.Body).Decode(dest); err != nil {
		return fmt.Errorf("decode json: %w", err)
	}
	return nil
}

// errorMessage pulls a readable message out of an API envelope.
func errorMessage(body []byte) string {
	var env struct {
		Message string     `json:"message"`
		Data    []AppError `json:"data"`
	}
	if json.Unmarshal(body, &env) == nil {
		if len(env.Data) > 0 && env.Data[0].Message != "" {
			return env.Data[0].Message
		}
		if env.Message != "" {
			return env.Message
		}
	}
	return string(bytes.TrimSpace(body))
}

func (c *Client) buildRequest(ctx context.Context, opts *RequestOptions) (*http.Request, error) {
	body, err := requestBody(opts.Body)
	if err != nil {
		return nil, err
	}
	url := opts.URL
	if c.baseURL != "" && strings.HasPrefix(url, "/") {
		url = c.baseURL + url
	}
	req, err := http.NewRequestWithContext(ctx, opts.Method, url, body)
	if err != nil {
		return nil, err
	}
	if len(opts.QueryParams) > 0 {
		q := req.URL.Query()
		for k, vs := range opts.QueryParams {
			for _, v := range vs {
				q.Add(k, v)
			}
		}
		req.URL.RawQuery = q.Encode()
	}
	for k, v := range c.headers {
		req.Header.Set(k, v)
	}
	for k, v := range opts.Headers {
		req.Header.Set(k, v)
	}
	if body != nil && req.Header.Get("Content-Type") == "" {
		req.Header.Set("Content-Type", "application/json")
	}
	return req, nil
}

func requestBody(b interface{}) (io.Reader, error) {
	switch v := b.(type) {
	case nil:
		return nil, nil
	case []byte:
		return bytes.NewReader(v), nil
	case string:
		return strings.NewReader(v), nil
	case io.Reader:
		return v, nil
	}
	raw, err := json.Marshal(b)
	if err != nil {
		return nil, fmt.Errorf("marshal body: %w", err)
	}
	return bytes.NewReader(raw), nil
}
