package arcache

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"math"
	"net/http"
	"net/url"
	"time"

	"arcache/internal/audit"
	"arcache/internal/cacheerrors"
	"arcache/internal/masking"
	"arcache/internal/version"
)

// Entry performs the lookup of a previously stored artifact: compute the
// cache version from callerVersion, query the service for the active key
// (falling back to the configured restore keys), and if a match is found,
// emit its archive location to the masking sink and return the entry.
// Entry does not download anything; pass entry.ArchiveLocation to Get for
// that. Returns (nil, nil) when no entry matches — not an error
// (spec.md §4.E.1).
func (c *Client) Entry(ctx context.Context, callerVersion string) (*ArtifactCacheEntry, error) {
	start := time.Now()
	entry, err := c.lookup(ctx, callerVersion)
	_ = c.journal.Record(audit.Entry{
		Op:        audit.OpEntry,
		Key:       c.key,
		Duration:  time.Since(start),
		Succeeded: err == nil,
		Detail:    entryDetail(entry, err),
	})
	if err != nil || entry == nil {
		return entry, err
	}
	if err := masking.Emit(c.maskingOut, entry.ArchiveLocation); err != nil && c.log != nil {
		c.log.Warnf("failed to emit masking directive: %v", err)
	}
	return entry, nil
}

func entryDetail(entry *ArtifactCacheEntry, err error) string {
	if err != nil {
		return err.Error()
	}
	if entry == nil {
		return "no match"
	}
	return "matched " + entry.CacheKey
}

func (c *Client) lookup(ctx context.Context, callerVersion string) (*ArtifactCacheEntry, error) {
	v := version.CacheVersion(callerVersion, version.Salt{Major: libraryMajor, Minor: libraryMinor})
	keys := version.RestoreKeysParam(c.key, c.restoreKeys)

	q := url.Values{}
	q.Set("keys", keys)
	q.Set("version", v)
	endpoint := c.serviceBase + "cache?" + q.Encode()

	resp, err := c.transport.Do(ctx, http.MethodGet, endpoint, nil, nil)
	if err != nil {
		return nil, err
	}
	switch {
	case resp.Status == http.StatusNoContent:
		return nil, nil
	case resp.Status >= 200 && resp.Status < 300:
		var entry ArtifactCacheEntry
		if err := json.Unmarshal(resp.Body, &entry); err != nil {
			return nil, fmt.Errorf("parsing cache entry: %w", err)
		}
		if entry.ArchiveLocation == "" {
			return nil, cacheerrors.NotFound("lookup succeeded but archiveLocation is empty")
		}
		return &entry, nil
	default:
		return nil, cacheerrors.ServiceStatus(resp.Status, string(resp.Body))
	}
}

// Get downloads the artifact at url (an archive location returned by
// Entry) using the chunked downloader (spec.md §4.C / §4.E.4).
func (c *Client) Get(ctx context.Context, url string) ([]byte, error) {
	start := time.Now()
	data, err := c.downloader.Get(ctx, url)
	dur := time.Since(start)
	if err == nil {
		c.recordGet(int64(len(data)), dur)
	}
	_ = c.journal.Record(audit.Entry{
		Op:        audit.OpGet,
		Key:       c.key,
		Bytes:     int64(len(data)),
		Duration:  dur,
		Succeeded: err == nil,
		Detail:    errDetail(err),
	})
	return data, err
}

func errDetail(err error) string {
	if err == nil {
		return "ok"
	}
	return err.Error()
}

// reserve allocates a cache id for (key, version, size). Returns nil when
// the server reports 204 or 409 — a concurrent writer already owns this
// (key, version) pair, which is not an error (spec.md §4.E.2).
func (c *Client) reserve(ctx context.Context, v string, size int64) (*int64, error) {
	body, err := json.Marshal(reserveRequest{Key: c.key, Version: v, CacheSize: size})
	if err != nil {
		return nil, err
	}
	endpoint := c.serviceBase + "caches"
	resp, err := c.transport.Do(ctx, http.MethodPost, endpoint, body, map[string]string{"Content-Type": "application/json"})
	if err != nil {
		_ = c.journal.Record(audit.Entry{Op: audit.OpReserve, Key: c.key, Version: v, Detail: errDetail(err)})
		return nil, err
	}
	switch {
	case resp.Status == http.StatusNoContent || resp.Status == http.StatusConflict:
		_ = c.journal.Record(audit.Entry{Op: audit.OpReserve, Key: c.key, Version: v, Succeeded: true, Detail: "already reserved"})
		return nil, nil
	case resp.Status >= 200 && resp.Status < 300:
		var rr reserveResponse
		if err := json.Unmarshal(resp.Body, &rr); err != nil {
			return nil, fmt.Errorf("parsing reserve response: %w", err)
		}
		_ = c.journal.Record(audit.Entry{Op: audit.OpReserve, Key: c.key, Version: v, Succeeded: true, Detail: fmt.Sprintf("cacheId=%d", rr.CacheID)})
		return &rr.CacheID, nil
	default:
		err := cacheerrors.ServiceStatus(resp.Status, string(resp.Body))
		_ = c.journal.Record(audit.Entry{Op: audit.OpReserve, Key: c.key, Version: v, Detail: errDetail(err)})
		return nil, err
	}
}

// Put reserves, uploads, and commits a new cache entry for callerVersion
// from stream, a readable+seekable byte source (spec.md §4.E.3). If the
// server reports the (key, version) pair is already reserved by someone
// else (204/409 on reserve), Put returns nil without uploading or
// committing anything.
func (c *Client) Put(ctx context.Context, callerVersion string, stream io.ReadSeeker) error {
	start := time.Now()
	size, err := stream.Seek(0, io.SeekEnd)
	if err != nil {
		return fmt.Errorf("seeking to end of upload stream: %w", err)
	}
	// stream.Seek already bounds size to int64; this is the wire-contract
	// check of spec.md §4.E.3 step 1, kept for parity even though it's
	// unreachable through an io.Seeker in Go.
	if size > math.MaxInt64 {
		return cacheerrors.SizeTooLarge(fmt.Sprintf("artifact size %d exceeds i64 range", size))
	}

	v := version.CacheVersion(callerVersion, version.Salt{Major: libraryMajor, Minor: libraryMinor})
	cacheID, err := c.reserve(ctx, v, size)
	if err != nil {
		return err
	}
	if cacheID == nil {
		return nil // already owned by a concurrent writer
	}

	if _, err := stream.Seek(0, io.SeekStart); err != nil {
		return fmt.Errorf("rewinding upload stream: %w", err)
	}

	endpoint := fmt.Sprintf("%scaches/%d", c.serviceBase, *cacheID)
	if err := c.uploader.Upload(ctx, endpoint, stream, size); err != nil {
		_ = c.journal.Record(audit.Entry{Op: audit.OpPut, Key: c.key, Version: v, Bytes: size, Duration: time.Since(start), Detail: errDetail(err)})
		return err
	}

	if err := c.commit(ctx, *cacheID, size); err != nil {
		_ = c.journal.Record(audit.Entry{Op: audit.OpPut, Key: c.key, Version: v, Bytes: size, Duration: time.Since(start), Detail: errDetail(err)})
		return err
	}

	dur := time.Since(start)
	c.recordPut(size, dur)
	_ = c.journal.Record(audit.Entry{Op: audit.OpPut, Key: c.key, Version: v, Bytes: size, Duration: dur, Succeeded: true, Detail: "ok"})
	return nil
}

func (c *Client) commit(ctx context.Context, cacheID int64, size int64) error {
	body, err := json.Marshal(commitRequest{Size: size})
	if err != nil {
		return err
	}
	endpoint := fmt.Sprintf("%scaches/%d", c.serviceBase, cacheID)
	resp, err := c.transport.Do(ctx, http.MethodPost, endpoint, body, map[string]string{"Content-Type": "application/json"})
	if err != nil {
		return err
	}
	if resp.Status < 200 || resp.Status >= 300 {
		return cacheerrors.ServiceStatus(resp.Status, string(resp.Body))
	}
	return nil
}
