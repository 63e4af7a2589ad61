// Package serving talks to the out-of-process model-serving and embedding
// endpoints over HTTP+JSON.
package serving

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"math/rand"
	"net"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/turtacn/KidneyMatch/internal/infrastructure/monitoring/logging"
)

const userAgent = "kmatch-serving/1"

// Config is the connection setup shared by the serving clients.
type Config struct {
	BaseURL      string
	Timeout      time.Duration
	MaxRetries   int
	RetryWait    time.Duration
	RetryWaitMax time.Duration
	MaxIdleConns int
}

func (c *Config) applyDefaults() {
	if c.Timeout <= 0 {
		c.Timeout = 30 * time.Second
	}
	if c.MaxRetries < 0 {
		c.MaxRetries = 0
	}
	if c.RetryWait <= 0 {
		c.RetryWait = 200 * time.Millisecond
	}
	if c.RetryWaitMax < c.RetryWait {
		c.RetryWaitMax = 5 * c.RetryWait
	}
	if c.MaxIdleConns <= 0 {
		c.MaxIdleConns = 32
	}
}

// Option customises a serving client.
type Option func(*transport)

// WithHTTPClient replaces the pooled HTTP client.
func WithHTTPClient(hc *http.Client) Option {
	return func(t *transport) {
		if hc != nil {
			t.http = hc
		}
	}
}

func WithLogger(l logging.Logger) Option {
	return func(t *transport) {
		if l != nil {
			t.logger = l
		}
	}
}

// StatusError is a non-2xx answer from a serving endpoint.
type StatusError struct {
	StatusCode int
	Body       string
	RequestID  string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("serving: HTTP %d: %s [request_id=%s]", e.StatusCode, e.Body, e.RequestID)
}

// Retryable reports whether the status is worth another attempt.
func (e *StatusError) Retryable() bool {
	return e.StatusCode >= 500 || e.StatusCode == http.StatusTooManyRequests
}

// transport is a JSON request loop with bounded retries, exponential backoff
// and jitter.  Connections are pooled across calls.
type transport struct {
	base   *url.URL
	cfg    Config
	http   *http.Client
	logger logging.Logger
}

func newTransport(cfg Config, opts ...Option) (*transport, error) {
	if cfg.BaseURL == "" {
		return nil, fmt.Errorf("serving: base url is required")
	}
	base, err := url.Parse(strings.TrimSuffix(cfg.BaseURL, "/"))
	if err != nil {
		return nil, fmt.Errorf("serving: invalid base url: %w", err)
	}
	if base.Scheme != "http" && base.Scheme != "https" {
		return nil, fmt.Errorf("serving: base url scheme must be http or https")
	}
	cfg.applyDefaults()

	t := &transport{
		base: base,
		cfg:  cfg,
		http: &http.Client{
			Timeout: cfg.Timeout,
			Transport: &http.Transport{
				Proxy:               http.ProxyFromEnvironment,
				DialContext:         (&net.Dialer{Timeout: 5 * time.Second, KeepAlive: 30 * time.Second}).DialContext,
				MaxIdleConns:        cfg.MaxIdleConns,
				MaxIdleConnsPerHost: cfg.MaxIdleConns,
				IdleConnTimeout:     90 * time.Second,
			},
		},
		logger: logging.NewNopLogger(),
	}
	for _, opt := range opts {
		opt(t)
	}
	return t, nil
}

func (t *transport) endpoint(path string) string {
	return t.base.String() + "/" + strings.TrimPrefix(path, "/")
}

// do sends body as JSON and decodes a 2xx answer into out.  Network errors,
// 5xx and 429 are retried; other statuses return a *StatusError at once.
func (t *transport) do(ctx context.Context, method, path string, body, out interface{}) error {
	var payload []byte
	if body != nil {
		var err error
		if payload, err = json.Marshal(body); err != nil {
			return fmt.Errorf("serving: encode request: %w", err)
		}
	}

	var lastErr error
	for attempt := 0; attempt <= t.cfg.MaxRetries; attempt++ {
		if attempt > 0 {
			wait := t.backoff(attempt)
			t.logger.Debug("retrying serving call",
				logging.String("path", path),
				logging.Int("attempt", attempt),
				logging.Duration("wait", wait))
			select {
			case <-time.After(wait):
			case <-ctx.Done():
				return ctx.Err()
			}
		}

		err := t.once(ctx, method, path, payload, out)
		if err == nil {
			return nil
		}
		lastErr = err
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if se, ok := err.(*StatusError); ok && !se.Retryable() {
			return err
		}
		if _, ok := err.(*decodeError); ok {
			return err
		}
	}
	return lastErr
}

type decodeError struct{ err error }

func (e *decodeError) Error() string { return "serving: decode response: " + e.err.Error() }
func (e *decodeError) Unwrap() error { return e.err }

func (t *transport) once(ctx context.Context, method, path string, payload []byte, out interface{}) error {
	var reader io.Reader
	if payload != nil {
		reader = bytes.NewReader(payload)
	}
	req, err := http.NewRequestWithContext(ctx, method, t.endpoint(path), reader)
	if err != nil {
		return fmt.Errorf("serving: build request: %w", err)
	}
	requestID := uuid.New().String()
	if id := logging.RequestIDFromContext(ctx); id != "" {
		requestID = id
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("User-Agent", userAgent)
	req.Header.Set("X-Request-ID", requestID)
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := t.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return err
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return &StatusError{StatusCode: resp.StatusCode, Body: snippet(data), RequestID: requestID}
	}
	if out == nil {
		return nil
	}
	if err := json.Unmarshal(data, out); err != nil {
		return &decodeError{err: err}
	}
	return nil
}

func (t *transport) backoff(attempt int) time.Duration {
	wait := t.cfg.RetryWait * time.Duration(1<<uint(attempt-1))
	if wait > t.cfg.RetryWaitMax {
		wait = t.cfg.RetryWaitMax
	}
	if q := int64(wait / 4); q > 0 {
		wait += time.Duration(rand.Int63n(q))
	}
	return wait
}

func snippet(b []byte) string {
	const max = 256
	s := strings.TrimSpace(string(b))
	if len(s) > max {
		return s[:max] + "..."
	}
	return s
}
