package masking

import (
	"strings"
	"testing"
)

func TestEmitPlainURL(t *testing.T) {
	var buf strings.Builder
	if err := Emit(&buf, "https://example.blob.core.windows.net/archive?sig=abc"); err != nil {
		t.Fatalf("Emit: %v", err)
	}
	want := "::add-mask::'https://example.blob.core.windows.net/archive?sig=abc'\n"
	if buf.String() != want {
		t.Fatalf("got %q want %q", buf.String(), want)
	}
}

func TestEmitEscapesEmbeddedQuote(t *testing.T) {
	var buf strings.Builder
	if err := Emit(&buf, "https://example.com/a'b"); err != nil {
		t.Fatalf("Emit: %v", err)
	}
	want := `::add-mask::'https://example.com/a'\''b'` + "\n"
	if buf.String() != want {
		t.Fatalf("got %q want %q", buf.String(), want)
	}
}
