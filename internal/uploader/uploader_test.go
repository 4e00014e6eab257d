package uploader

import (
	"bytes"
	"context"
	"fmt"
	"net/http"
	"sync"
	"sync/atomic"
	"testing"

	"arcache/internal/testutil"
	"arcache/internal/transport"
)

func newClient() *transport.Client {
	return transport.New(transport.Config{MaxRetries: 0}, nil)
}

func TestUploadSingleChunk(t *testing.T) {
	var gotRange, gotType string
	var gotBody []byte
	srv := testutil.NewHandlerServer(func(w http.ResponseWriter, r *http.Request) {
		gotRange = r.Header.Get("Content-Range")
		gotType = r.Header.Get("Content-Type")
		gotBody, _ = readAll(r)
		w.WriteHeader(http.StatusOK)
	})
	defer srv.Close()

	data := []byte("small payload")
	u := New(newClient(), Config{ChunkSize: 1024, Concurrency: 4}, nil)
	err := u.Upload(context.Background(), srv.URL, bytes.NewReader(data), int64(len(data)))
	if err != nil {
		t.Fatalf("Upload: %v", err)
	}
	if gotType != "application/octet-stream" {
		t.Fatalf("Content-Type = %q", gotType)
	}
	want := fmt.Sprintf("bytes 0-%d/*", len(data)-1)
	if gotRange != want {
		t.Fatalf("Content-Range = %q, want %q", gotRange, want)
	}
	if string(gotBody) != string(data) {
		t.Fatalf("body = %q, want %q", gotBody, data)
	}
}

func TestUploadUnboundedRegime(t *testing.T) {
	const chunkSize = 4
	size := int64(chunkSize * 3) // 12 bytes, within chunkSize*concurrency (16), no semaphore
	data := make([]byte, size)
	for i := range data {
		data[i] = byte('a' + i%26)
	}

	var mu sync.Mutex
	seen := map[string][]byte{}
	srv := testutil.NewHandlerServer(func(w http.ResponseWriter, r *http.Request) {
		body, _ := readAll(r)
		mu.Lock()
		seen[r.Header.Get("Content-Range")] = body
		mu.Unlock()
		w.WriteHeader(http.StatusOK)
	})
	defer srv.Close()

	u := New(newClient(), Config{ChunkSize: chunkSize, Concurrency: 4}, nil)
	if err := u.Upload(context.Background(), srv.URL, bytes.NewReader(data), size); err != nil {
		t.Fatalf("Upload: %v", err)
	}
	if len(seen) != 3 {
		t.Fatalf("expected 3 PATCHes, got %d", len(seen))
	}
	for i := 0; i < 3; i++ {
		start := i * chunkSize
		end := start + chunkSize - 1
		key := fmt.Sprintf("bytes %d-%d/*", start, end)
		got, ok := seen[key]
		if !ok {
			t.Fatalf("missing PATCH for range %q", key)
		}
		if string(got) != string(data[start:end+1]) {
			t.Fatalf("range %q body mismatch", key)
		}
	}
}

func TestUploadGatedRegimeRespectsConcurrencyCeiling(t *testing.T) {
	const chunkSize = 4
	const concurrency = 2
	size := int64(chunkSize * 9) // exceeds chunkSize*concurrency, forces gated regime
	data := make([]byte, size)
	for i := range data {
		data[i] = byte('a' + i%26)
	}

	var inFlight, maxInFlight int32
	srv := testutil.NewHandlerServer(func(w http.ResponseWriter, r *http.Request) {
		n := atomic.AddInt32(&inFlight, 1)
		for {
			cur := atomic.LoadInt32(&maxInFlight)
			if n <= cur || atomic.CompareAndSwapInt32(&maxInFlight, cur, n) {
				break
			}
		}
		_, _ = readAll(r)
		atomic.AddInt32(&inFlight, -1)
		w.WriteHeader(http.StatusOK)
	})
	defer srv.Close()

	u := New(newClient(), Config{ChunkSize: chunkSize, Concurrency: concurrency}, nil)
	if err := u.Upload(context.Background(), srv.URL, bytes.NewReader(data), size); err != nil {
		t.Fatalf("Upload: %v", err)
	}
	if maxInFlight > concurrency {
		t.Fatalf("observed %d concurrent PATCHes, want <= %d", maxInFlight, concurrency)
	}
}

func TestUploadFirstErrorCancelsSiblings(t *testing.T) {
	const chunkSize = 4
	size := int64(chunkSize * 3)
	data := make([]byte, size)

	srv := testutil.NewHandlerServer(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Content-Range") == fmt.Sprintf("bytes 0-%d/*", chunkSize-1) {
			w.WriteHeader(http.StatusInternalServerError)
			return
		}
		w.WriteHeader(http.StatusOK)
	})
	defer srv.Close()

	u := New(newClient(), Config{ChunkSize: chunkSize, Concurrency: 4}, nil)
	err := u.Upload(context.Background(), srv.URL, bytes.NewReader(data), size)
	if err == nil {
		t.Fatal("expected error from failing chunk")
	}
}

func TestUploadZeroSize(t *testing.T) {
	var called bool
	var gotRange string
	srv := testutil.NewHandlerServer(func(w http.ResponseWriter, r *http.Request) {
		called = true
		gotRange = r.Header.Get("Content-Range")
		w.WriteHeader(http.StatusOK)
	})
	defer srv.Close()

	u := New(newClient(), Config{ChunkSize: 1024, Concurrency: 4}, nil)
	if err := u.Upload(context.Background(), srv.URL, bytes.NewReader(nil), 0); err != nil {
		t.Fatalf("Upload: %v", err)
	}
	if !called {
		t.Fatal("expected a single zero-length PATCH to be issued")
	}
	if gotRange != "bytes 0-0/*" {
		t.Fatalf("Content-Range = %q", gotRange)
	}
}

func readAll(r *http.Request) ([]byte, error) {
	buf := new(bytes.Buffer)
	_, err := buf.ReadFrom(r.Body)
	return buf.Bytes(), err
}
