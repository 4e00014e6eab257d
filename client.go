// Package arcache is a client library for a remote artifact cache service.
// Artifacts are opaque binary blobs keyed by a caller-supplied string and a
// content-addressed version fingerprint. The client supports two
// operations: lookup+download of a previously stored artifact against a
// list of candidate keys, and reserve+upload+commit of a new one.
package arcache

import (
	"errors"
	"io"
	"net/http"
	"os"
	"strconv"
	"sync"
	"time"

	"arcache/internal/audit"
	"arcache/internal/downloader"
	"arcache/internal/logging"
	"arcache/internal/metrics"
	"arcache/internal/transport"
	"arcache/internal/uploader"
	"arcache/internal/version"
)

// Semantic version components baked into every cache fingerprint; bumping
// Minor or Major invalidates all previously stored entries (spec.md §3).
const (
	libraryMajor = 1
	libraryMinor = 0
)

const (
	defaultDownloadChunkSize   = 4 * 1024 * 1024
	defaultDownloadConcurrency = 8
	defaultUploadChunkSize     = 1 * 1024 * 1024
	defaultUploadConcurrency   = 4
	defaultChunkTimeout        = 60 * time.Second
)

// Client is the cache client. It carries no per-call mutable state and is
// safe for concurrent use across multiple Entry/Put/Get calls
// (spec.md §5).
type Client struct {
	serviceBase string
	originalBase string
	key         string
	restoreKeys []string

	transport  *transport.Client
	downloader *downloader.Downloader
	uploader   *uploader.Uploader

	log        *logging.Logger
	maskingOut io.Writer

	journal *audit.Journal
	metrics *metrics.Manager

	statsMu sync.Mutex
	stats   Stats
}

// Stats summarizes the most recently completed Get/Put calls (spec.md's
// original_source supplement, §3.1): total bytes transferred and
// wall-clock duration, tracked separately per direction.
type Stats struct {
	LastGetBytes    int64
	LastGetDuration time.Duration
	LastPutBytes    int64
	LastPutDuration time.Duration
}

// Stats returns a snapshot of the client's most recent transfer stats.
func (c *Client) Stats() Stats {
	c.statsMu.Lock()
	defer c.statsMu.Unlock()
	return c.stats
}

func (c *Client) recordGet(n int64, d time.Duration) {
	c.statsMu.Lock()
	c.stats.LastGetBytes, c.stats.LastGetDuration = n, d
	c.statsMu.Unlock()
	c.metrics.AddBytesDownloaded(n)
	c.metrics.ObserveGetSeconds(d.Seconds())
	c.metrics.IncGetSuccess()
	_ = c.metrics.Write()
}

func (c *Client) recordPut(n int64, d time.Duration) {
	c.statsMu.Lock()
	c.stats.LastPutBytes, c.stats.LastPutDuration = n, d
	c.statsMu.Unlock()
	c.metrics.AddBytesUploaded(n)
	c.metrics.ObservePutSeconds(d.Seconds())
	c.metrics.IncPutSuccess()
	_ = c.metrics.Write()
}

type clientConfig struct {
	userAgent            string
	maxRetries           int
	minRetryInterval     time.Duration
	maxRetryInterval     time.Duration
	backoffFactorBase    float64
	downloadChunkSize    int64
	downloadConcurrency  int
	downloadChunkTimeout time.Duration
	uploadChunkSize      int64
	uploadConcurrency    int
	uploadChunkTimeout   time.Duration
	httpClient           *http.Client
	logger               *logging.Logger
	maskingOut           io.Writer
	journal              *audit.Journal
	metrics              *metrics.Manager
	onDownloadChunk      func(n int64)
	onUploadChunk        func(n int64)
}

// Option configures a Client at construction time.
type Option func(*clientConfig)

func WithUserAgent(ua string) Option { return func(c *clientConfig) { c.userAgent = ua } }

func WithMaxRetries(n int) Option { return func(c *clientConfig) { c.maxRetries = n } }

func WithRetryIntervalBounds(min, max time.Duration) Option {
	return func(c *clientConfig) { c.minRetryInterval = min; c.maxRetryInterval = max }
}

func WithBackoffFactorBase(base float64) Option {
	return func(c *clientConfig) { c.backoffFactorBase = base }
}

func WithDownloadChunkSize(n int64) Option {
	return func(c *clientConfig) { c.downloadChunkSize = n }
}

func WithDownloadConcurrency(n int) Option {
	return func(c *clientConfig) { c.downloadConcurrency = n }
}

func WithUploadChunkSize(n int64) Option {
	return func(c *clientConfig) { c.uploadChunkSize = n }
}

func WithUploadConcurrency(n int) Option {
	return func(c *clientConfig) { c.uploadConcurrency = n }
}

// WithChunkTimeouts sets the per-attempt timeout applied to every download
// and upload chunk request (and to each of its retries, spec.md §5).
func WithChunkTimeouts(download, upload time.Duration) Option {
	return func(c *clientConfig) { c.downloadChunkTimeout = download; c.uploadChunkTimeout = upload }
}

func WithHTTPClient(h *http.Client) Option { return func(c *clientConfig) { c.httpClient = h } }

// WithLogger attaches a logger; the token is marked sensitive on it
// automatically. Ambient, not part of spec.md's enumerated options, but
// needed for the CLI wrapper to share one logger across components.
func WithLogger(l *logging.Logger) Option { return func(c *clientConfig) { c.logger = l } }

// WithMaskingOutput overrides the masking sink (default os.Stdout).
func WithMaskingOutput(w io.Writer) Option { return func(c *clientConfig) { c.maskingOut = w } }

// WithJournal attaches an audit journal; every Entry/reserve/Get/Put call
// is recorded to it. Ambient, consumed by the CLI's status/keys
// subcommands.
func WithJournal(j *audit.Journal) Option { return func(c *clientConfig) { c.journal = j } }

// WithMetrics attaches a Prometheus textfile metrics manager.
func WithMetrics(m *metrics.Manager) Option { return func(c *clientConfig) { c.metrics = m } }

// WithDownloadProgress registers a callback invoked with each downloaded
// chunk's byte length as it completes — the CLI progress bar's hook.
func WithDownloadProgress(fn func(n int64)) Option {
	return func(c *clientConfig) { c.onDownloadChunk = fn }
}

// WithUploadProgress registers a callback invoked with each uploaded
// chunk's byte length as it completes.
func WithUploadProgress(fn func(n int64)) Option {
	return func(c *clientConfig) { c.onUploadChunk = fn }
}

func defaultChunkTimeoutFromEnv() time.Duration {
	if raw := os.Getenv("SEGMENT_DOWNLOAD_TIMEOUT_MINS"); raw != "" {
		if mins, err := strconv.Atoi(raw); err == nil && mins > 0 {
			return time.Duration(mins) * time.Minute
		}
	}
	return defaultChunkTimeout
}

// NewClient builds a Client against baseURL with the given bearer token
// and active restore key list (key first, fallbacks after). Construction
// fails if baseURL doesn't parse, any restoreKeys entry fails key
// validation, or the token cannot be sent as an HTTP header value
// (spec.md §6).
func NewClient(baseURL, token string, restoreKeys []string, opts ...Option) (*Client, error) {
	if len(restoreKeys) == 0 {
		return nil, errors.New("arcache: at least one restore key (the active key) is required")
	}
	for _, k := range restoreKeys {
		if err := version.CheckKey(k); err != nil {
			return nil, err
		}
	}
	for i := 0; i < len(token); i++ {
		if b := token[i]; (b < 0x20 && b != '\t') || b == 0x7f {
			return nil, errors.New("arcache: token cannot be encoded as an HTTP header value")
		}
	}

	cfg := clientConfig{
		maxRetries:           2,
		minRetryInterval:     50 * time.Millisecond,
		maxRetryInterval:     10 * time.Second,
		backoffFactorBase:    3,
		downloadChunkSize:    defaultDownloadChunkSize,
		downloadConcurrency:  defaultDownloadConcurrency,
		downloadChunkTimeout: defaultChunkTimeoutFromEnv(),
		uploadChunkSize:      defaultUploadChunkSize,
		uploadConcurrency:    defaultUploadConcurrency,
		uploadChunkTimeout:   defaultChunkTimeoutFromEnv(),
		maskingOut:           os.Stdout,
	}
	for _, opt := range opts {
		opt(&cfg)
	}

	serviceBase, originalBase, err := transport.BaseURL(baseURL)
	if err != nil {
		return nil, err
	}

	tcfg := transport.Config{
		UserAgent:         cfg.userAgent,
		Token:             token,
		MaxRetries:        cfg.maxRetries,
		MinRetryInterval:  cfg.minRetryInterval,
		MaxRetryInterval:  cfg.maxRetryInterval,
		BackoffFactorBase: cfg.backoffFactorBase,
		HTTPClient:        cfg.httpClient,
		OnRetry:           func() { cfg.metrics.IncRetries(1) },
	}
	tc := transport.New(tcfg, cfg.logger)

	dl := downloader.New(tc, downloader.Config{
		ChunkSize:    cfg.downloadChunkSize,
		Concurrency:  cfg.downloadConcurrency,
		ChunkTimeout: cfg.downloadChunkTimeout,
		OnChunk:      cfg.onDownloadChunk,
	}, cfg.logger)

	ul := uploader.New(tc, uploader.Config{
		ChunkSize:    cfg.uploadChunkSize,
		Concurrency:  cfg.uploadConcurrency,
		ChunkTimeout: cfg.uploadChunkTimeout,
		OnChunk:      cfg.onUploadChunk,
	}, cfg.logger)

	return &Client{
		serviceBase:  serviceBase,
		originalBase: originalBase,
		key:          restoreKeys[0],
		restoreKeys:  restoreKeys[1:],
		transport:    tc,
		downloader:   dl,
		uploader:     ul,
		log:          cfg.logger,
		maskingOut:   cfg.maskingOut,
		journal:      cfg.journal,
		metrics:      cfg.metrics,
	}, nil
}

// BaseURL returns the original, un-suffixed base URL this Client was
// constructed with.
func (c *Client) BaseURL() string { return c.originalBase }
