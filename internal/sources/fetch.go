package sources

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"time"

	"github.com/cenkalti/backoff/v4"
)

const (
	defaultTimeout = 15 * time.Second
	maxErrorBody   = 512
)

// Client performs upstream GETs with a per-attempt timeout and bounded
// exponential retry of transient failures.
type Client struct {
	http      *http.Client
	userAgent string
	timeout   time.Duration
	retries   int
	interval  time.Duration
}

type Option func(*Client)

func WithHTTPClient(h *http.Client) Option {
	return func(c *Client) {
		if h != nil {
			c.http = h
		}
	}
}

func WithUserAgent(ua string) Option {
	return func(c *Client) { c.userAgent = ua }
}

// WithRequestTimeout bounds each attempt
func WithRequestTimeout(d time.Duration) Option {
	return func(c *Client) {
		if d > 0 {
			c.timeout = d
		}
	}
}

// WithRetries sets how many times a transient failure is retried
func WithRetries(n int) Option {
	return func(c *Client) {
		if n >= 0 {
			c.retries = n
		}
	}
}

// WithRetryInterval sets the first backoff interval
func WithRetryInterval(d time.Duration) Option {
	return func(c *Client) { c.interval = d }
}

func NewClient(opts ...Option) *Client {
	c := &Client{
		http:     http.DefaultClient,
		timeout:  defaultTimeout,
		retries:  2,
		interval: 500 * time.Millisecond,
	}
	for _, o := range opts {
		o(c)
	}
	return c
}

// With returns a copy of c using h as transport client
func (c *Client) With(h *http.Client) *Client {
	cp := *c
	cp.http = h
	return &cp
}

func (c *Client) newReq(ctx context.Context, rawURL, accept string) (*http.Request, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return nil, backoff.Permanent(err)
	}
	req.Header.Set("Accept", accept)
	if c.userAgent != "" {
		req.Header.Set("User-Agent", c.userAgent)
	}
	return req, nil
}

func (c *Client) attempt(ctx context.Context, rawURL, accept string) ([]byte, error) {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	req, err := c.newReq(ctx, rawURL, accept)
	if err != nil {
		return nil, err
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode >= 200 && resp.StatusCode < 300:
		return io.ReadAll(resp.Body)
	default:
		b, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		se := &StatusError{URL: rawURL, Code: resp.StatusCode, Body: string(b)}
		if se.Temporary() {
			return nil, se
		}
		return nil, backoff.Permanent(se)
	}
}

func (c *Client) get(ctx context.Context, rawURL, accept string) ([]byte, error) {
	eb := backoff.NewExponentialBackOff()
	eb.InitialInterval = c.interval
	eb.MaxElapsedTime = 0
	b := backoff.WithContext(backoff.WithMaxRetries(eb, uint64(c.retries)), ctx)

	return backoff.RetryWithData(func() ([]byte, error) {
		return c.attempt(ctx, rawURL, accept)
	}, b)
}

// GetJSON fetches rawURL and decodes the body into out
func (c *Client) GetJSON(ctx context.Context, rawURL string, out any) error {
	body, err := c.get(ctx, rawURL, "application/json")
	if err != nil {
		return err
	}
	if err := json.Unmarshal(body, out); err != nil {
		return &DecodeError{URL: rawURL, Err: err}
	}
	return nil
}

// GetText fetches rawURL and returns the body
func (c *Client) GetText(ctx context.Context, rawURL string) (string, error) {
	body, err := c.get(ctx, rawURL, "text/html, */*")
	if err != nil {
		return "", err
	}
	return string(body), nil
}
