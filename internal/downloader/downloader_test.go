package downloader

import (
	"context"
	"crypto/md5"
	"encoding/hex"
	"fmt"
	"net/http"
	"testing"

	"arcache/internal/testutil"
	"arcache/internal/transport"
)

func md5Hex(b []byte) string {
	sum := md5.Sum(b)
	return hex.EncodeToString(sum[:])
}

func newClient(url string) *transport.Client {
	return transport.New(transport.Config{MaxRetries: 0}, nil)
}

func TestGetSmallDownloadSingleRequest(t *testing.T) {
	want := []byte("hello cache world")
	var calls int
	srv := testutil.NewHandlerServer(func(w http.ResponseWriter, r *http.Request) {
		calls++
		if r.Header.Get("Range") != "bytes=0-63" {
			t.Fatalf("unexpected Range: %s", r.Header.Get("Range"))
		}
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write(want)
	})
	defer srv.Close()

	d := New(newClient(srv.URL), Config{ChunkSize: 64, Concurrency: 4}, nil)
	got, err := d.Get(context.Background(), srv.URL)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if string(got) != string(want) {
		t.Fatalf("got %q want %q", got, want)
	}
	if calls != 1 {
		t.Fatalf("expected 1 call, got %d", calls)
	}
}

func TestGetExactMultiChunkParallel(t *testing.T) {
	const chunkSize = 8
	full := []byte("AAAAAAAABBBBBBBBCCCCCCCC") // 24 bytes, 3 chunks of 8
	srv := testutil.NewHandlerServer(func(w http.ResponseWriter, r *http.Request) {
		var start, end int
		fmt.Sscanf(r.Header.Get("Range"), "bytes=%d-%d", &start, &end)
		if end >= len(full) {
			end = len(full) - 1
		}
		chunk := full[start : end+1]
		w.Header().Set("Content-Range", fmt.Sprintf("bytes %d-%d/%d", start, end, len(full)))
		w.Header().Set("Content-MD5", md5Hex(chunk))
		w.WriteHeader(http.StatusPartialContent)
		_, _ = w.Write(chunk)
	})
	defer srv.Close()

	d := New(newClient(srv.URL), Config{ChunkSize: chunkSize, Concurrency: 4}, nil)
	got, err := d.Get(context.Background(), srv.URL)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if string(got) != string(full) {
		t.Fatalf("got %q want %q", got, full)
	}
}

func TestGetChecksumFailureStopsEarly(t *testing.T) {
	const chunkSize = 8
	full := []byte("AAAAAAAABBBBBBBBCCCCCCCC")
	var secondChunkRequested bool
	srv := testutil.NewHandlerServer(func(w http.ResponseWriter, r *http.Request) {
		var start, end int
		fmt.Sscanf(r.Header.Get("Range"), "bytes=%d-%d", &start, &end)
		if end >= len(full) {
			end = len(full) - 1
		}
		chunk := full[start : end+1]
		if start > 0 {
			secondChunkRequested = true
		}
		w.Header().Set("Content-Range", fmt.Sprintf("bytes %d-%d/%d", start, end, len(full)))
		w.Header().Set("Content-MD5", "deadbeefdeadbeefdeadbeefdeadbeef")
		w.WriteHeader(http.StatusPartialContent)
		_, _ = w.Write(chunk)
	})
	defer srv.Close()

	d := New(newClient(srv.URL), Config{ChunkSize: chunkSize, Concurrency: 4}, nil)
	_, err := d.Get(context.Background(), srv.URL)
	if err == nil {
		t.Fatal("expected checksum error")
	}
	if secondChunkRequested {
		t.Fatal("expected no further chunk requests after the first chunk failed its checksum")
	}
}

func TestGetSizeEqualsChunkSizeBoundary(t *testing.T) {
	const chunkSize = 16
	full := make([]byte, chunkSize)
	for i := range full {
		full[i] = byte('a' + i%26)
	}
	var calls int
	srv := testutil.NewHandlerServer(func(w http.ResponseWriter, r *http.Request) {
		calls++
		w.Header().Set("Content-Range", fmt.Sprintf("bytes 0-%d/%d", chunkSize-1, chunkSize))
		w.Header().Set("Content-MD5", md5Hex(full))
		w.WriteHeader(http.StatusPartialContent)
		_, _ = w.Write(full)
	})
	defer srv.Close()

	d := New(newClient(srv.URL), Config{ChunkSize: chunkSize, Concurrency: 4}, nil)
	got, err := d.Get(context.Background(), srv.URL)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if string(got) != string(full) {
		t.Fatalf("got %q want %q", got, full)
	}
	if calls != 1 {
		t.Fatalf("expected exactly 1 request for size==chunk_size, got %d", calls)
	}
}

func TestGetSequentialFallbackWhenServerIgnoresRange(t *testing.T) {
	const chunkSize = 8
	full := []byte("AAAAAAAABBBBBBBBCCCCC") // 21 bytes: two full chunks + a short final one
	var offsets []int
	srv := testutil.NewHandlerServer(func(w http.ResponseWriter, r *http.Request) {
		var start, end int
		fmt.Sscanf(r.Header.Get("Range"), "bytes=%d-%d", &start, &end)
		offsets = append(offsets, start)
		if start >= len(full) {
			w.WriteHeader(http.StatusOK)
			return
		}
		if end >= len(full) {
			end = len(full) - 1
		}
		chunk := full[start : end+1]
		// Server serves the requested bytes but always replies 200 OK with
		// no Content-Range, so the total size is unknown and the
		// sequential fallback is used.
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write(chunk)
	})
	defer srv.Close()

	d := New(newClient(srv.URL), Config{ChunkSize: chunkSize, Concurrency: 4}, nil)
	got, err := d.Get(context.Background(), srv.URL)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if string(got) != string(full) {
		t.Fatalf("got %q want %q", got, full)
	}
	if len(offsets) < 3 {
		t.Fatalf("expected at least 3 sequential requests, got %d: %v", len(offsets), offsets)
	}
}

func TestParseContentRangeTotal(t *testing.T) {
	cases := []struct {
		header string
		want   int64
		ok     bool
	}{
		{"bytes 0-9/100", 100, true},
		{"bytes 0-9/*", 0, false},
		{"", 0, false},
		{"garbage", 0, false},
	}
	for _, c := range cases {
		got, ok := parseContentRangeTotal(c.header)
		if ok != c.ok || got != c.want {
			t.Errorf("parseContentRangeTotal(%q) = (%d, %v), want (%d, %v)", c.header, got, ok, c.want, c.ok)
		}
	}
}
