// Package transport implements component B: an authenticated HTTP client
// wrapping a lower-level http.Client with three request/response
// middlewares applied in order on the request path (reverse on response) —
// tracing, Retry-After honoring, and transient-retry with exponential
// backoff. Retry-After honoring and transient-retry are collapsed into one
// RoundTripper (the spec explicitly allows this, §9) since the backoff
// computed by the retry loop is the thing Retry-After needs to clamp.
package transport

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"math"
	"math/rand"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"arcache/internal/logging"
)

const apiAcceptHeader = "application/json;api-version=6.0-preview.1"

// Config mirrors the Configuration table of the spec (§3) for everything
// that governs transport behavior.
type Config struct {
	UserAgent         string
	Token             string
	MaxRetries        int
	MinRetryInterval  time.Duration
	MaxRetryInterval  time.Duration
	BackoffFactorBase float64
	HTTPClient        *http.Client

	// OnRetry, when set, is called once per retried attempt (transient
	// status or transient network error alike), before the backoff wait.
	// Used by callers to feed a retry counter; must not block.
	OnRetry func()
}

// DefaultConfig fills in the spec's default values (§3) for anything the
// caller left zero.
func DefaultConfig(cfg Config) Config {
	if cfg.MaxRetries <= 0 {
		cfg.MaxRetries = 2
	}
	if cfg.MinRetryInterval <= 0 {
		cfg.MinRetryInterval = 50 * time.Millisecond
	}
	if cfg.MaxRetryInterval <= 0 {
		cfg.MaxRetryInterval = 10 * time.Second
	}
	if cfg.BackoffFactorBase <= 0 {
		cfg.BackoffFactorBase = 3
	}
	if cfg.HTTPClient == nil {
		cfg.HTTPClient = &http.Client{}
	}
	return cfg
}

// Client is the authenticated, retrying HTTP client shared by every
// operation. It carries no per-call mutable state and is safe for
// concurrent use, per spec.md §5.
type Client struct {
	cfg Config
	rt  http.RoundTripper
	log *logging.Logger
}

// New builds a Client with the artifactcache API headers and retry stack
// wired in. It holds no base URL; callers pass full endpoint URLs to Do.
// log may be nil.
func New(cfg Config, log *logging.Logger) *Client {
	cfg = DefaultConfig(cfg)
	if log != nil && cfg.Token != "" {
		log.MarkSensitive(cfg.Token)
	}
	base := cfg.HTTPClient.Transport
	if base == nil {
		base = http.DefaultTransport
	}
	rt := &tracingRoundTripper{
		log:  log,
		next: &retryRoundTripper{cfg: cfg, log: log, next: base},
	}
	return &Client{cfg: cfg, rt: rt, log: log}
}

// Response is the drained result of a request: status, headers, and body.
// The engine components never need streaming access beyond a single
// bounded chunk, so the transport always reads the full body.
type Response struct {
	Status int
	Header http.Header
	Body   []byte
}

// Do issues an authenticated request with no per-attempt deadline beyond
// ctx itself — used for the orchestrator's lookup/reserve/commit calls,
// which have no chunk-timeout contract.
func (c *Client) Do(ctx context.Context, method, rawURL string, body []byte, extraHeaders map[string]string) (*Response, error) {
	return c.DoWithTimeout(ctx, method, rawURL, body, extraHeaders, 0)
}

// DoWithTimeout is Do, but each individual HTTP attempt (including every
// retry) gets its own fresh attemptTimeout, per spec.md §5 "Retry attempts
// each carry the full timeout." A zero attemptTimeout imposes no deadline
// beyond ctx.
func (c *Client) DoWithTimeout(ctx context.Context, method, rawURL string, body []byte, extraHeaders map[string]string, attemptTimeout time.Duration) (*Response, error) {
	var bodyReader io.Reader
	if body != nil {
		bodyReader = bytes.NewReader(body)
	}
	req, err := http.NewRequestWithContext(ctx, method, rawURL, bodyReader)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Accept", apiAcceptHeader)
	if c.cfg.Token != "" {
		req.Header.Set("Authorization", "Bearer "+c.cfg.Token)
	}
	if c.cfg.UserAgent != "" {
		req.Header.Set("User-Agent", c.cfg.UserAgent)
	}
	for k, v := range extraHeaders {
		req.Header.Set(k, v)
	}
	// GetBody lets the retry layer replay the request body on retry.
	if body != nil {
		b := body
		req.GetBody = func() (io.ReadCloser, error) {
			return io.NopCloser(bytes.NewReader(b)), nil
		}
	}
	if attemptTimeout > 0 {
		req = req.WithContext(withAttemptTimeout(req.Context(), attemptTimeout))
	}

	resp, err := c.rt.RoundTrip(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("reading response body: %w", err)
	}
	return &Response{Status: resp.StatusCode, Header: resp.Header, Body: data}, nil
}

// BaseURL parses input and returns the service base (input with trailing
// slashes trimmed and /_apis/artifactcache/ appended, per spec.md §4.E
// "Base-URL construction") together with the original, un-suffixed URL.
func BaseURL(input string) (serviceBase string, originalBase string, err error) {
	u, err := url.Parse(input)
	if err != nil {
		return "", "", err
	}
	trimmed := strings.TrimRight(input, "/")
	return trimmed + "/_apis/artifactcache/", u.String(), nil
}

// --- tracing layer ---

type tracingRoundTripper struct {
	log  *logging.Logger
	next http.RoundTripper
}

func (t *tracingRoundTripper) RoundTrip(req *http.Request) (*http.Response, error) {
	if t.log != nil && t.log.Enabled(logging.Debug) {
		t.log.Debugf("%s %s", req.Method, logging.SanitizeURL(req.URL.String()))
	}
	start := time.Now()
	resp, err := t.next.RoundTrip(req)
	if t.log != nil {
		if err != nil {
			t.log.Debugf("%s %s failed after %s: %v", req.Method, logging.SanitizeURL(req.URL.String()), time.Since(start), err)
		} else if t.log.Enabled(logging.Debug) {
			t.log.Debugf("%s %s -> %d in %s", req.Method, logging.SanitizeURL(req.URL.String()), resp.StatusCode, time.Since(start))
		}
	}
	return resp, err
}

// --- retry-after + transient-retry layer ---

type retryRoundTripper struct {
	cfg  Config
	log  *logging.Logger
	next http.RoundTripper
}

func (r *retryRoundTripper) RoundTrip(req *http.Request) (*http.Response, error) {
	parent := req.Context()
	timeout, _ := parent.Value(attemptTimeoutKey{}).(time.Duration)

	attemptReq := func() (*http.Request, context.CancelFunc) {
		if timeout <= 0 {
			return req, func() {}
		}
		ctx, cancel := context.WithTimeout(parent, timeout)
		return req.Clone(ctx), cancel
	}

	var lastErr error
	for attempt := 0; attempt <= r.cfg.MaxRetries; attempt++ {
		areq, cancel := attemptReq()
		if attempt > 0 && req.GetBody != nil {
			rc, err := req.GetBody()
			if err != nil {
				cancel()
				return nil, err
			}
			areq.Body = rc
		}
		resp, err := r.next.RoundTrip(areq)
		if err == nil {
			// Buffer the body now, while the attempt's context (and its
			// deadline timer) is still alive, so the caller can read it
			// safely after we cancel below.
			data, readErr := io.ReadAll(resp.Body)
			resp.Body.Close()
			cancel()
			if readErr != nil {
				return nil, readErr
			}
			resp.Body = io.NopCloser(bytes.NewReader(data))
			if !isTransientStatus(resp.StatusCode) {
				return resp, nil
			}
			if attempt == r.cfg.MaxRetries {
				return resp, nil
			}
			retryAfter := parseRetryAfter(resp.Header.Get("Retry-After"))
			wait := backoff(r.cfg, attempt)
			if retryAfter > wait {
				wait = retryAfter
			}
			if r.cfg.OnRetry != nil {
				r.cfg.OnRetry()
			}
			if r.log != nil {
				r.log.WarnfThrottled("transport-retry:"+req.URL.Host, time.Second, "retrying %s %s (attempt %d/%d) after %s", req.Method, logging.SanitizeURL(req.URL.String()), attempt+1, r.cfg.MaxRetries, wait)
			}
			select {
			case <-parent.Done():
				return nil, parent.Err()
			case <-time.After(wait):
			}
			continue
		}
		cancel()
		if !isTransientNetErr(err) || attempt == r.cfg.MaxRetries {
			return nil, err
		}
		lastErr = err
		wait := backoff(r.cfg, attempt)
		if r.cfg.OnRetry != nil {
			r.cfg.OnRetry()
		}
		if r.log != nil {
			r.log.WarnfThrottled("transport-retry:"+req.URL.Host, time.Second, "retrying %s %s (attempt %d/%d) after %s", req.Method, logging.SanitizeURL(req.URL.String()), attempt+1, r.cfg.MaxRetries, wait)
		}
		select {
		case <-parent.Done():
			return nil, parent.Err()
		case <-time.After(wait):
		}
	}
	return nil, lastErr
}

type attemptTimeoutKey struct{}

func withAttemptTimeout(ctx context.Context, d time.Duration) context.Context {
	return context.WithValue(ctx, attemptTimeoutKey{}, d)
}

func isTransientStatus(status int) bool {
	if status == 408 || status == 429 {
		return true
	}
	return status >= 500
}

func isTransientNetErr(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return false
	}
	// Anything else surfaced by the net/http client at this layer is a
	// connection-level failure (dial, TLS handshake, reset, timeout).
	return true
}

// backoff computes interval = clamp(min, min*base^attempt, max) with jitter,
// per spec.md §4.B.
func backoff(cfg Config, attempt int) time.Duration {
	raw := float64(cfg.MinRetryInterval) * math.Pow(cfg.BackoffFactorBase, float64(attempt))
	d := time.Duration(raw)
	if d < cfg.MinRetryInterval {
		d = cfg.MinRetryInterval
	}
	if d > cfg.MaxRetryInterval {
		d = cfg.MaxRetryInterval
	}
	jitter := time.Duration(rand.Int63n(int64(d)/4 + 1))
	return d - jitter/2
}

func parseRetryAfter(raw string) time.Duration {
	s := strings.TrimSpace(raw)
	if s == "" {
		return 0
	}
	if secs, err := strconv.Atoi(s); err == nil && secs >= 0 {
		return time.Duration(secs) * time.Second
	}
	if t, err := http.ParseTime(s); err == nil {
		if d := time.Until(t); d > 0 {
			return d
		}
	}
	return 0
}
