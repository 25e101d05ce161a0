package context7

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
)

func newTestClient(t *testing.T, handler http.HandlerFunc) *Client {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	return New(Config{BaseURL: srv.URL})
}

func TestSearch(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/search" || r.URL.Query().Get("query") != "chi router" {
			t.Errorf("unexpected request: %s %s", r.URL.Path, r.URL.RawQuery)
		}
		if r.Header.Get("X-Context7-Source") == "" {
			t.Error("source header missing")
		}
		w.Write([]byte(`{"results":[{"id":"/go-chi/chi","title":"chi",
			"description":"router","branch":"master","lastUpdateDate":"2026-01-01",
			"state":"finalized","totalTokens":1000,"totalSnippets":50,
			"totalPages":10,"trustScore":9.5}]}`))
	})

	out, err := c.Search(context.Background(), "chi router")
	if err != nil {
		t.Fatal(err)
	}
	if len(out.Results) != 1 {
		t.Fatalf("results = %d, want 1", len(out.Results))
	}
	r := out.Results[0]
	if r.ID != "/go-chi/chi" || r.TotalTokens != 1000 {
		t.Fatalf("result = %+v", r)
	}
	if r.TrustScore == nil || *r.TrustScore != 9.5 {
		t.Fatalf("trust score = %v", r.TrustScore)
	}
}

func TestSearchRateLimited(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTooManyRequests)
	})

	_, err := c.Search(context.Background(), "x")
	var rle *RateLimitError
	if !errors.As(err, &rle) {
		t.Fatalf("err = %v, want RateLimitError", err)
	}
}

func TestFetchDocumentation(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/go-chi/chi" {
			t.Errorf("path = %s", r.URL.Path)
		}
		q := r.URL.Query()
		if q.Get("type") != "txt" || q.Get("topic") != "middleware" || q.Get("tokens") != "500" {
			t.Errorf("query = %s", r.URL.RawQuery)
		}
		w.Write([]byte("the docs"))
	})

	// The leading slash of the library ID must be stripped.
	got, err := c.FetchDocumentation(context.Background(), "/go-chi/chi",
		FetchOptions{Tokens: 500, Topic: "middleware"})
	if err != nil {
		t.Fatal(err)
	}
	if got != "the docs" {
		t.Fatalf("docs = %q", got)
	}
}

func TestFetchDocumentationNotFound(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	})
	got, err := c.FetchDocumentation(context.Background(), "missing/lib", FetchOptions{})
	if err != nil || got != "" {
		t.Fatalf("got %q, %v; want empty, nil", got, err)
	}
}

func TestFetchDocumentationEmptySentinel(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("No content available"))
	})
	got, err := c.FetchDocumentation(context.Background(), "x/y", FetchOptions{})
	if err != nil || got != "" {
		t.Fatalf("got %q, %v; want empty, nil", got, err)
	}
}

func TestFetchDocumentationServerError(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	})
	_, err := c.FetchDocumentation(context.Background(), "x/y", FetchOptions{})
	var apiErr *APIError
	if !errors.As(err, &apiErr) || apiErr.Status != http.StatusInternalServerError {
		t.Fatalf("err = %v", err)
	}
}
