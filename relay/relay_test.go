package relay

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

func TestCallLocal(t *testing.T) {
	r := New()
	r.RegisterLocal("toggle_keep_active", func(_ context.Context, payload []byte) ([]byte, error) {
		return []byte(`{"enabled":true}`), nil
	})

	resp := r.Call(context.Background(), "toggle_keep_active", nil)
	if !resp.Success || !strings.Contains(string(resp.Data), "enabled") {
		t.Fatalf("response = %+v", resp)
	}
}

func TestCallHandlerErrorInEnvelope(t *testing.T) {
	r := New()
	r.RegisterLocal("sync", func(context.Context, []byte) ([]byte, error) {
		return nil, errors.New("page detached")
	})

	resp := r.Call(context.Background(), "sync", nil)
	if resp.Success || resp.Error != "page detached" {
		t.Fatalf("response = %+v", resp)
	}
}

func TestCallUnknownOp(t *testing.T) {
	resp := New().Call(context.Background(), "nope", nil)
	if resp.Success || !strings.Contains(resp.Error, "not routable") {
		t.Fatalf("response = %+v", resp)
	}
}

func TestLocalShadowsForwarder(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		t.Error("forwarder should not be reached")
	}))
	defer ts.Close()

	r := New(WithForwarder(NewForwarder(ts.URL, nil)))
	r.RegisterLocal("get_clients", func(context.Context, []byte) ([]byte, error) {
		return []byte(`{"clients":[]}`), nil
	})

	if resp := r.Call(context.Background(), "get_clients", nil); !resp.Success {
		t.Fatalf("response = %+v", resp)
	}
}

func TestForwardRoutes(t *testing.T) {
	var gotMethod, gotPath string
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotMethod, gotPath = r.Method, r.URL.RequestURI()
		w.Write([]byte(`{"ok":true}`))
	}))
	defer ts.Close()

	r := New(WithForwarder(NewForwarder(ts.URL, nil)))

	cases := []struct {
		op         string
		payload    string
		wantMethod string
		wantPath   string
	}{
		{"get_clients", "", "GET", "/api/clients"},
		{"sync", `{"client_id":"c","message":"m"}`, "POST", "/api/sync"},
		{"preview_sync", `{"client_id":"c","message":"m"}`, "POST", "/api/sync/preview"},
		{"get_file_tree", `{"client_id":"cli_1"}`, "GET", "/api/clients/cli_1/file_tree"},
		{"get_file_content", `{"client_id":"cli_1","paths":["a"]}`, "POST", "/api/clients/cli_1/file_content"},
		{"generate_prompt", `{"client_id":"cli_1","paths":["a"]}`, "POST", "/api/prompt/generate"},
		{"search_docs", `{"query":"chi router"}`, "GET", "/api/context7/search?query=chi+router"},
		{"get_doc", `{"id":"/go-chi/chi","topic":"middleware"}`, "GET", "/api/context7/docs/go-chi/chi?topic=middleware"},
	}
	for _, tc := range cases {
		resp := r.Call(context.Background(), tc.op, []byte(tc.payload))
		if !resp.Success {
			t.Fatalf("%s: response = %+v", tc.op, resp)
		}
		if gotMethod != tc.wantMethod || gotPath != tc.wantPath {
			t.Fatalf("%s: %s %s, want %s %s", tc.op, gotMethod, gotPath, tc.wantMethod, tc.wantPath)
		}
	}
}

func TestForwardServerErrorSurfaces(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
		json.NewEncoder(w).Encode(map[string]string{"error": "client not found"})
	}))
	defer ts.Close()

	r := New(WithForwarder(NewForwarder(ts.URL, nil)))
	resp := r.Call(context.Background(), "get_file_tree", []byte(`{"client_id":"ghost"}`))
	if resp.Success || !strings.Contains(resp.Error, "client not found") {
		t.Fatalf("response = %+v", resp)
	}
}

func TestForwardMissingClientID(t *testing.T) {
	r := New(WithForwarder(NewForwarder("http://unused", nil)))
	resp := r.Call(context.Background(), "get_file_tree", []byte(`{}`))
	if resp.Success || !strings.Contains(resp.Error, "client_id") {
		t.Fatalf("response = %+v", resp)
	}
}
