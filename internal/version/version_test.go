package version

import (
	"testing"

	"arcache/internal/cacheerrors"
)

func TestCheckKeyLength(t *testing.T) {
	long := make([]byte, MaxKeyBytes+1)
	for i := range long {
		long[i] = 'a'
	}
	err := CheckKey(string(long))
	if err == nil {
		t.Fatal("expected error for over-length key")
	}
	ce, ok := err.(*cacheerrors.CacheError)
	if !ok || ce.Kind != cacheerrors.KindInvalidKeyLength {
		t.Fatalf("expected InvalidKeyLength, got %v", err)
	}
}

func TestCheckKeyComma(t *testing.T) {
	err := CheckKey("a,b")
	ce, ok := err.(*cacheerrors.CacheError)
	if !ok || ce.Kind != cacheerrors.KindInvalidKeyComma {
		t.Fatalf("expected InvalidKeyComma, got %v", err)
	}
}

func TestCheckKeyValid(t *testing.T) {
	if err := CheckKey("node-modules-linux-x64"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}

func TestCacheVersionDeterministic(t *testing.T) {
	salt := Salt{Major: 2, Minor: 1}
	v1 := CacheVersion("package-lock.json|abc123", salt)
	v2 := CacheVersion("package-lock.json|abc123", salt)
	if v1 != v2 {
		t.Fatalf("expected deterministic fingerprint, got %q != %q", v1, v2)
	}
	if len(v1) != 64 {
		t.Fatalf("expected 64 hex chars, got %d", len(v1))
	}
}

func TestCacheVersionChangesWithMinorBump(t *testing.T) {
	v1 := CacheVersion("x", Salt{Major: 1, Minor: 0})
	v2 := CacheVersion("x", Salt{Major: 1, Minor: 1})
	if v1 == v2 {
		t.Fatal("expected different fingerprints across minor versions")
	}
}

func TestRestoreKeysParam(t *testing.T) {
	got := RestoreKeysParam("active", []string{"fallback-1", "fallback-2"})
	want := "active,fallback-1,fallback-2"
	if got != want {
		t.Fatalf("got %q want %q", got, want)
	}
}
