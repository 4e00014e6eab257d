// Package testutil provides fixtures shared by the cache client's test
// suites: a canned-response HTTP server for protocol tests, and a
// handler-based server for the chunked transfer engine's Range/Content-MD5
// exercises, where responses depend on the request rather than the path.
package testutil

import (
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

// MockHTTPServer serves canned responses keyed by path (optionally with a
// query string) — suitable for the orchestrator's lookup/reserve/commit
// calls, which don't need per-request computation.
type MockHTTPServer struct {
	*httptest.Server
	Responses map[string]MockResponse
}

// MockResponse is a canned HTTP response.
type MockResponse struct {
	StatusCode int
	Body       string
	Headers    map[string]string
}

// NewMockHTTPServer starts a server with no canned responses registered yet.
func NewMockHTTPServer() *MockHTTPServer {
	ms := &MockHTTPServer{Responses: make(map[string]MockResponse)}
	ms.Server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		key := r.URL.Path
		if r.URL.RawQuery != "" {
			key += "?" + r.URL.RawQuery
		}
		resp, ok := ms.Responses[key]
		if !ok {
			resp, ok = ms.Responses[r.URL.Path]
		}
		if !ok {
			w.WriteHeader(http.StatusNotFound)
			_, _ = fmt.Fprintf(w, "no mock response configured for %s", key)
			return
		}
		for k, v := range resp.Headers {
			w.Header().Set(k, v)
		}
		w.WriteHeader(resp.StatusCode)
		_, _ = fmt.Fprint(w, resp.Body)
	}))
	return ms
}

// AddResponse registers a canned response for a path (with or without query).
func (ms *MockHTTPServer) AddResponse(path string, response MockResponse) {
	ms.Responses[path] = response
}

// AddJSONResponse is a convenience wrapper that sets Content-Type: application/json.
func (ms *MockHTTPServer) AddJSONResponse(path string, statusCode int, body string) {
	ms.Responses[path] = MockResponse{
		StatusCode: statusCode,
		Body:       body,
		Headers:    map[string]string{"Content-Type": "application/json"},
	}
}

// NewHandlerServer wraps an arbitrary handler — used by the downloader and
// uploader test suites, whose responses depend on Range/Content-Range
// headers rather than a fixed path/body mapping.
func NewHandlerServer(h http.HandlerFunc) *httptest.Server {
	return httptest.NewServer(h)
}

// MockRoundTripper lets transport-layer tests simulate connection errors
// and canned statuses without a real listener.
type MockRoundTripper struct {
	Responses map[string]*http.Response
	Errs      map[string]error
	Requests  []*http.Request
}

func NewMockRoundTripper() *MockRoundTripper {
	return &MockRoundTripper{
		Responses: make(map[string]*http.Response),
		Errs:      make(map[string]error),
	}
}

func (m *MockRoundTripper) RoundTrip(req *http.Request) (*http.Response, error) {
	m.Requests = append(m.Requests, req)
	key := req.URL.String()
	if err, ok := m.Errs[key]; ok {
		return nil, err
	}
	resp, ok := m.Responses[key]
	if !ok {
		return &http.Response{StatusCode: http.StatusNotFound, Body: io.NopCloser(strings.NewReader("not found")), Header: make(http.Header), Request: req}, nil
	}
	return resp, nil
}

func (m *MockRoundTripper) AddStringResponse(url string, statusCode int, body string) {
	m.Responses[url] = &http.Response{StatusCode: statusCode, Body: io.NopCloser(strings.NewReader(body)), Header: make(http.Header)}
}

func (m *MockRoundTripper) AssertRequestMade(t *testing.T, url string) {
	t.Helper()
	for _, req := range m.Requests {
		if req.URL.String() == url {
			return
		}
	}
	t.Errorf("expected request to %s, but none was made", url)
}
