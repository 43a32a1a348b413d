package search

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/veillehq/veille/internal/log"
	"github.com/veillehq/veille/internal/security"
)

// testClient wires the client to a local httptest server. The production
// constructor installs the SSRF-guarded client, which refuses loopback, so
// tests build the struct directly with the server's own client.
func testClient(srv *httptest.Server) *Client {
	return &Client{
		baseURL:    srv.URL,
		httpClient: srv.Client(),
		validator:  security.NewURL(),
		logger:     log.NewNop(),
	}
}

func TestSearchDisabled(t *testing.T) {
	c := New("", security.NewURL(), log.NewNop())

	if c.Enabled() {
		t.Error("client with empty base URL reports enabled")
	}
	if _, err := c.Search(context.Background(), "q", 5); !errors.Is(err, ErrDisabled) {
		t.Errorf("Search() error = %v, want ErrDisabled", err)
	}
}

func TestSearchParsesResults(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if got := r.URL.Query().Get("q"); got != "pgvector hnsw" {
			t.Errorf("query = %q", got)
		}
		if got := r.URL.Query().Get("format"); got != "json" {
			t.Errorf("format = %q", got)
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"results": [
			{"url": "https://a.example/post", "title": " First ", "content": " snippet one ", "engine": "duckduckgo", "score": 4.2},
			{"url": "https://b.example/post", "title": "Second", "content": "snippet two", "engine": "brave", "score": 1.1}
		]}`))
	}))
	defer srv.Close()

	results, err := testClient(srv).Search(context.Background(), "pgvector hnsw", 5)
	if err != nil {
		t.Fatalf("Search() error = %v", err)
	}
	if len(results) != 2 {
		t.Fatalf("got %d results, want 2", len(results))
	}
	if results[0].Title != "First" || results[0].Snippet != "snippet one" {
		t.Errorf("results[0] not trimmed: %+v", results[0])
	}
	if results[0].Engine != "duckduckgo" || results[0].Score != 4.2 {
		t.Errorf("results[0] metadata wrong: %+v", results[0])
	}
}

func TestSearchHonorsLimit(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte(`{"results": [
			{"url": "https://a.example/1", "title": "1", "content": "c"},
			{"url": "https://a.example/2", "title": "2", "content": "c"},
			{"url": "https://a.example/3", "title": "3", "content": "c"}
		]}`))
	}))
	defer srv.Close()

	results, err := testClient(srv).Search(context.Background(), "q", 2)
	if err != nil {
		t.Fatalf("Search() error = %v", err)
	}
	if len(results) != 2 {
		t.Errorf("got %d results, want limit of 2", len(results))
	}
}

func TestSearchDropsUnsafeResultURLs(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte(`{"results": [
			{"url": "http://169.254.169.254/latest/meta-data/", "title": "metadata", "content": "x"},
			{"url": "http://127.0.0.1:8080/admin", "title": "local", "content": "x"},
			{"url": "https://safe.example/post", "title": "safe", "content": "x"}
		]}`))
	}))
	defer srv.Close()

	results, err := testClient(srv).Search(context.Background(), "q", 5)
	if err != nil {
		t.Fatalf("Search() error = %v", err)
	}
	if len(results) != 1 || results[0].URL != "https://safe.example/post" {
		t.Fatalf("results = %+v, want only the safe URL", results)
	}
}

func TestSearchNonOKStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		http.Error(w, "too many requests", http.StatusTooManyRequests)
	}))
	defer srv.Close()

	if _, err := testClient(srv).Search(context.Background(), "q", 5); err == nil {
		t.Fatal("expected error on 429 response")
	}
}

func TestSearchMalformedJSON(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte(`<html>not json</html>`))
	}))
	defer srv.Close()

	if _, err := testClient(srv).Search(context.Background(), "q", 5); err == nil {
		t.Fatal("expected error on malformed response")
	}
}

func TestBaseURLTrailingSlashTrimmed(t *testing.T) {
	c := New("http://searxng:8080/", security.NewURL(), log.NewNop())
	if c.baseURL != "http://searxng:8080" {
		t.Errorf("baseURL = %q", c.baseURL)
	}
}
