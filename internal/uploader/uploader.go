// Package uploader implements component D: slicing a readable+seekable
// stream of known length into chunks and dispatching PATCHes under one of
// three concurrency regimes, first-error-cancels.
//
// Grounded on the teacher's internal/downloader/chunked.go worker-pool shape
// (errgroup + semaphore-gated dispatch), mirrored for the write path and
// generalized to a shared, mutex-guarded io.ReadSeeker per spec.md §4.D /
// §9 "Shared seekable input".
package uploader

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"arcache/internal/cacheerrors"
	"arcache/internal/logging"
	"arcache/internal/transport"
)

// Config governs the chunked upload per spec.md's Configuration table.
type Config struct {
	ChunkSize    int64
	Concurrency  int
	ChunkTimeout time.Duration

	// OnChunk, when set, is called with the byte length of each chunk once
	// its PATCH completes — the CLI wrapper's progress bar hook. Called
	// from whichever goroutine completed the chunk; must not block.
	OnChunk func(n int64)
}

func (c Config) reportChunk(n int64) {
	if c.OnChunk != nil {
		c.OnChunk(n)
	}
}

type Uploader struct {
	client *transport.Client
	cfg    Config
	log    *logging.Logger
}

func New(client *transport.Client, cfg Config, log *logging.Logger) *Uploader {
	if cfg.ChunkSize <= 0 {
		cfg.ChunkSize = 1024 * 1024
	}
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = 4
	}
	return &Uploader{client: client, cfg: cfg, log: log}
}

// Upload sends the full contents of stream (size bytes, already positioned
// at offset 0) to url as cacheID's reserved upload, choosing one of the
// three dispatch regimes spec.md §4.D describes.
func (u *Uploader) Upload(ctx context.Context, url string, stream io.ReadSeeker, size int64) error {
	chunkSize := u.cfg.ChunkSize

	if size <= chunkSize {
		buf := make([]byte, size)
		if _, err := io.ReadFull(stream, buf); err != nil && size > 0 {
			return fmt.Errorf("reading upload stream: %w", err)
		}
		return u.patch(ctx, url, 0, buf)
	}

	if size <= chunkSize*int64(u.cfg.Concurrency) {
		return u.dispatchUnbounded(ctx, url, stream, size)
	}
	return u.dispatchGated(ctx, url, stream, size)
}

// dispatchUnbounded reads every chunk sequentially on the calling
// goroutine (the stream has no concurrent readers to coordinate) then fans
// the network sends out concurrently with no semaphore, per spec.md §4.D
// regime 2.
func (u *Uploader) dispatchUnbounded(ctx context.Context, url string, stream io.ReadSeeker, size int64) error {
	chunkSize := u.cfg.ChunkSize
	g, gctx := errgroup.WithContext(ctx)

	for start := int64(0); start < size; start += chunkSize {
		n := chunkSize
		if start+n > size {
			n = size - start
		}
		buf := make([]byte, n)
		if _, err := io.ReadFull(stream, buf); err != nil {
			return fmt.Errorf("reading upload stream at offset %d: %w", start, err)
		}
		start := start
		g.Go(func() error {
			return u.patch(gctx, url, start, buf)
		})
	}
	return g.Wait()
}

// dispatchGated shares the stream under a mutex across a semaphore-gated
// worker pool, per spec.md §4.D regime 3 / §5 "Shared resources": the lock
// is held only across seek+read, never across the network send.
func (u *Uploader) dispatchGated(ctx context.Context, url string, stream io.ReadSeeker, size int64) error {
	chunkSize := u.cfg.ChunkSize
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(u.cfg.Concurrency)

	var mu sync.Mutex

	for start := int64(0); start < size; start += chunkSize {
		start := start
		n := chunkSize
		if start+n > size {
			n = size - start
		}
		g.Go(func() error {
			buf := make([]byte, n)
			mu.Lock()
			_, err := stream.Seek(start, io.SeekStart)
			if err == nil {
				_, err = io.ReadFull(stream, buf)
			}
			mu.Unlock()
			if err != nil {
				return fmt.Errorf("reading upload stream at offset %d: %w", start, err)
			}
			return u.patch(gctx, url, start, buf)
		})
	}
	return g.Wait()
}

func (u *Uploader) patch(ctx context.Context, url string, start int64, buf []byte) error {
	end := start + int64(len(buf)) - 1
	if end < start {
		end = start // zero-length chunk: Content-Range bytes start-start/* is the convention for an empty PATCH
	}
	headers := map[string]string{
		"Content-Type":  "application/octet-stream",
		"Content-Range": fmt.Sprintf("bytes %d-%d/*", start, end),
	}
	resp, err := u.client.DoWithTimeout(ctx, http.MethodPatch, url, buf, headers, u.cfg.ChunkTimeout)
	if err != nil {
		return err
	}
	if resp.Status < 200 || resp.Status >= 300 {
		return cacheerrors.ServiceStatus(resp.Status, string(resp.Body))
	}
	u.cfg.reportChunk(int64(len(buf)))
	return nil
}
