package relay

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"
)

// Forwarder translates relay ops into sync-server HTTP calls.
type Forwarder struct {
	base string
	hc   *http.Client
}

// NewForwarder creates a Forwarder for a server base URL, e.g.
// http://127.0.0.1:6032.
func NewForwarder(base string, hc *http.Client) *Forwarder {
	if hc == nil {
		hc = &http.Client{Timeout: 90 * time.Second}
	}
	return &Forwarder{base: strings.TrimRight(base, "/"), hc: hc}
}

// clientScoped ops carry the target client in the payload.
type clientScoped struct {
	ClientID string   `json:"client_id"`
	Paths    []string `json:"paths,omitempty"`
}

type docScoped struct {
	ID     string `json:"id"`
	Topic  string `json:"topic,omitempty"`
	Tokens int    `json:"tokens,omitempty"`
	Query  string `json:"query,omitempty"`
}

func (f *Forwarder) routes(op string) bool {
	switch op {
	case "get_clients", "sync", "preview_sync", "get_file_tree",
		"get_file_content", "generate_prompt", "search_docs", "get_doc":
		return true
	}
	return false
}

// Handle maps one op onto its API route and returns the raw response
// body. Non-2xx responses surface the server's error message.
func (f *Forwarder) Handle(ctx context.Context, op string, payload []byte) ([]byte, error) {
	method, path := http.MethodPost, ""
	body := payload

	switch op {
	case "get_clients":
		method, path, body = http.MethodGet, "/api/clients", nil
	case "sync":
		path = "/api/sync"
	case "preview_sync":
		path = "/api/sync/preview"
	case "generate_prompt":
		path = "/api/prompt/generate"

	case "get_file_tree", "get_file_content":
		var scoped clientScoped
		if err := json.Unmarshal(payload, &scoped); err != nil || scoped.ClientID == "" {
			return nil, fmt.Errorf("relay: %s needs a client_id", op)
		}
		if op == "get_file_tree" {
			method, path, body = http.MethodGet, "/api/clients/"+scoped.ClientID+"/file_tree", nil
		} else {
			path = "/api/clients/" + scoped.ClientID + "/file_content"
		}

	case "search_docs":
		var scoped docScoped
		if err := json.Unmarshal(payload, &scoped); err != nil || scoped.Query == "" {
			return nil, fmt.Errorf("relay: search_docs needs a query")
		}
		method, body = http.MethodGet, nil
		path = "/api/context7/search?query=" + url.QueryEscape(scoped.Query)

	case "get_doc":
		var scoped docScoped
		if err := json.Unmarshal(payload, &scoped); err != nil || scoped.ID == "" {
			return nil, fmt.Errorf("relay: get_doc needs a library id")
		}
		params := url.Values{}
		if scoped.Topic != "" {
			params.Set("topic", scoped.Topic)
		}
		if scoped.Tokens > 0 {
			params.Set("tokens", fmt.Sprint(scoped.Tokens))
		}
		method, body = http.MethodGet, nil
		path = "/api/context7/docs/" + strings.TrimPrefix(scoped.ID, "/")
		if len(params) > 0 {
			path += "?" + params.Encode()
		}

	default:
		return nil, &ErrOpNotFound{Op: op}
	}

	return f.do(ctx, method, path, body)
}

func (f *Forwarder) do(ctx context.Context, method, path string, body []byte) ([]byte, error) {
	var reader io.Reader
	if body != nil {
		reader = bytes.NewReader(body)
	}
	req, err := http.NewRequestWithContext(ctx, method, f.base+path, reader)
	if err != nil {
		return nil, fmt.Errorf("relay: build request: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := f.hc.Do(req)
	if err != nil {
		return nil, fmt.Errorf("relay: forward: %w", err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("relay: read response: %w", err)
	}
	if resp.StatusCode >= 300 {
		var apiErr struct {
			Error string `json:"error"`
		}
		if json.Unmarshal(raw, &apiErr) == nil && apiErr.Error != "" {
			return nil, fmt.Errorf("relay: server: %s (status %d)", apiErr.Error, resp.StatusCode)
		}
		return nil, fmt.Errorf("relay: server: status %d", resp.StatusCode)
	}
	return raw, nil
}
