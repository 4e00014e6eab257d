package arcache

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"arcache/internal/cacheerrors"
)

func TestNewClientRejectsInvalidKey(t *testing.T) {
	_, err := NewClient("https://cache.example.com", "tok", []string{"a,b"})
	ce, ok := err.(*cacheerrors.CacheError)
	if !ok || ce.Kind != cacheerrors.KindInvalidKeyComma {
		t.Fatalf("expected InvalidKeyComma, got %v", err)
	}
}

func TestNewClientRejectsOverLengthKey(t *testing.T) {
	long := strings.Repeat("a", 513)
	_, err := NewClient("https://cache.example.com", "tok", []string{long})
	ce, ok := err.(*cacheerrors.CacheError)
	if !ok || ce.Kind != cacheerrors.KindInvalidKeyLength {
		t.Fatalf("expected InvalidKeyLength, got %v", err)
	}
}

func TestEntryReturnsNilOn204(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	}))
	defer srv.Close()

	c, err := NewClient(srv.URL, "tok", []string{"k1"})
	if err != nil {
		t.Fatalf("NewClient: %v", err)
	}
	entry, err := c.Entry(context.Background(), "caller-v1")
	if err != nil {
		t.Fatalf("Entry: %v", err)
	}
	if entry != nil {
		t.Fatalf("expected nil entry, got %+v", entry)
	}
}

func TestEntryFailsWithoutArchiveLocation(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(`{"cacheKey":"k1"}`))
	}))
	defer srv.Close()

	c, err := NewClient(srv.URL, "tok", []string{"k1"})
	if err != nil {
		t.Fatalf("NewClient: %v", err)
	}
	_, err = c.Entry(context.Background(), "caller-v1")
	ce, ok := err.(*cacheerrors.CacheError)
	if !ok || ce.Kind != cacheerrors.KindNotFound {
		t.Fatalf("expected CacheNotFound, got %v", err)
	}
}

func TestEntryEmitsMaskAndReturnsEntry(t *testing.T) {
	var gotQuery string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotQuery = r.URL.RawQuery
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		_ = json.NewEncoder(w).Encode(ArtifactCacheEntry{
			CacheKey:        "k1",
			ArchiveLocation: "https://blob.example.com/archive?sig=abc",
		})
	}))
	defer srv.Close()

	var mask bytes.Buffer
	c, err := NewClient(srv.URL, "tok", []string{"k1", "k1-fallback"}, WithMaskingOutput(&mask))
	if err != nil {
		t.Fatalf("NewClient: %v", err)
	}
	entry, err := c.Entry(context.Background(), "caller-v1")
	if err != nil {
		t.Fatalf("Entry: %v", err)
	}
	if entry == nil || entry.ArchiveLocation == "" {
		t.Fatalf("expected a populated entry, got %+v", entry)
	}
	if !strings.Contains(gotQuery, "k1%2Ck1-fallback") && !strings.Contains(gotQuery, "k1,k1-fallback") {
		t.Fatalf("expected restore keys joined by comma in query, got %q", gotQuery)
	}
	if !strings.Contains(mask.String(), "::add-mask::") {
		t.Fatalf("expected masking directive to be emitted, got %q", mask.String())
	}
}

func TestPutReserveConflictSkipsUploadAndCommit(t *testing.T) {
	var patched, committed bool
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch {
		case r.Method == http.MethodPost && strings.HasSuffix(r.URL.Path, "/caches"):
			w.WriteHeader(http.StatusConflict)
		case r.Method == http.MethodPatch:
			patched = true
			w.WriteHeader(http.StatusOK)
		case r.Method == http.MethodPost:
			committed = true
			w.WriteHeader(http.StatusOK)
		}
	}))
	defer srv.Close()

	c, err := NewClient(srv.URL, "tok", []string{"k1"})
	if err != nil {
		t.Fatalf("NewClient: %v", err)
	}
	if err := c.Put(context.Background(), "caller-v1", bytes.NewReader([]byte("hello"))); err != nil {
		t.Fatalf("Put: %v", err)
	}
	if patched || committed {
		t.Fatal("expected no PATCH or commit after a reserve conflict")
	}
}

func TestPutRoundTripsThenGet(t *testing.T) {
	var stored []byte
	var cacheSize int64
	var committedSize int64
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch {
		case r.Method == http.MethodPost && strings.HasSuffix(r.URL.Path, "/caches"):
			var req reserveRequest
			_ = json.NewDecoder(r.Body).Decode(&req)
			cacheSize = req.CacheSize
			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(http.StatusOK)
			_ = json.NewEncoder(w).Encode(reserveResponse{CacheID: 42})
		case r.Method == http.MethodPatch:
			body, _ := io.ReadAll(r.Body)
			stored = append(stored, body...)
			w.WriteHeader(http.StatusOK)
		case r.Method == http.MethodPost && strings.HasSuffix(r.URL.Path, "/caches/42"):
			var req commitRequest
			_ = json.NewDecoder(r.Body).Decode(&req)
			committedSize = req.Size
			w.WriteHeader(http.StatusOK)
		case r.Method == http.MethodGet:
			w.WriteHeader(http.StatusOK)
			_, _ = w.Write(stored)
		}
	}))
	defer srv.Close()

	c, err := NewClient(srv.URL, "tok", []string{"k1"}, WithDownloadChunkSize(1024))
	if err != nil {
		t.Fatalf("NewClient: %v", err)
	}
	payload := []byte("round trip payload")
	if err := c.Put(context.Background(), "caller-v1", bytes.NewReader(payload)); err != nil {
		t.Fatalf("Put: %v", err)
	}
	if cacheSize != int64(len(payload)) {
		t.Fatalf("reserve cacheSize = %d, want %d", cacheSize, len(payload))
	}
	if committedSize != int64(len(payload)) {
		t.Fatalf("commit size = %d, want %d", committedSize, len(payload))
	}

	got, err := c.Get(context.Background(), srv.URL)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if string(got) != string(payload) {
		t.Fatalf("got %q want %q", got, payload)
	}
}

func TestBaseURLAccessor(t *testing.T) {
	c, err := NewClient("https://cache.example.com/", "tok", []string{"k1"})
	if err != nil {
		t.Fatalf("NewClient: %v", err)
	}
	if c.BaseURL() != "https://cache.example.com/" {
		t.Fatalf("BaseURL() = %q", c.BaseURL())
	}
}
