package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"

	"github.com/litsync/litsync/msgtext"
	"github.com/litsync/litsync/pagewatch"
	"github.com/litsync/litsync/relay"
	"github.com/litsync/litsync/settings"
)

// newOpRouter wires the daemon's relay: page-local ops in-process,
// everything else forwarded to the sync server.
func newOpRouter(logger *slog.Logger, watcher *pagewatch.PageWatcher, store *settings.Store, serverURL string) *relay.Router {
	router := relay.New(
		relay.WithLogger(logger),
		relay.WithForwarder(relay.NewForwarder(serverURL, nil)),
	)
	converter := msgtext.New()
	fwd := relay.NewForwarder(serverURL, nil)

	router.RegisterLocal("status", func(ctx context.Context, _ []byte) ([]byte, error) {
		return json.Marshal(map[string]any{
			"generation": watcher.Status().String(),
			"settings":   snapshot(store.Load(ctx)),
		})
	})

	router.RegisterLocal("toggle_keep_active", func(ctx context.Context, _ []byte) ([]byte, error) {
		next := !store.Load(ctx).KeepActive
		if err := store.Set(ctx, "keep_active", boolValue(next), 0); err != nil {
			return nil, err
		}
		return json.Marshal(map[string]bool{"keep_active": next})
	})

	router.RegisterLocal("set_setting", func(ctx context.Context, payload []byte) ([]byte, error) {
		var req struct {
			Key   string `json:"key"`
			Value string `json:"value"`
		}
		if err := json.Unmarshal(payload, &req); err != nil || req.Key == "" {
			return nil, fmt.Errorf("set_setting needs key and value")
		}
		if err := store.Set(ctx, req.Key, req.Value, 0); err != nil {
			return nil, err
		}
		return json.Marshal(map[string]string{req.Key: req.Value})
	})

	// sync and preview_sync shadow the server ops: the daemon supplies
	// the message itself, extracted from the newest chat response.
	syncMessage := func(ctx context.Context, payload []byte, path string) ([]byte, error) {
		var req struct {
			ClientID string `json:"client_id"`
		}
		if err := json.Unmarshal(payload, &req); err != nil || req.ClientID == "" {
			return nil, fmt.Errorf("sync needs a client_id")
		}

		html, err := watcher.LatestMessageHTML(ctx)
		if err != nil {
			return nil, err
		}
		text, err := converter.Text(html)
		if err != nil {
			return nil, err
		}

		body, err := json.Marshal(map[string]string{
			"client_id": req.ClientID,
			"message":   text,
		})
		if err != nil {
			return nil, err
		}
		return fwd.Handle(ctx, path, body)
	}
	router.RegisterLocal("sync", func(ctx context.Context, payload []byte) ([]byte, error) {
		return syncMessage(ctx, payload, "sync")
	})
	router.RegisterLocal("preview_sync", func(ctx context.Context, payload []byte) ([]byte, error) {
		return syncMessage(ctx, payload, "preview_sync")
	})

	return router
}

func snapshot(st settings.Settings) map[string]any {
	return map[string]any{
		"enabled":         st.Enabled,
		"shorten_enabled": st.ShortenEnabled,
		"keep_active":     st.KeepActive,
		"server_url":      st.ServerURL,
		"sound": map[string]any{
			"enabled": st.Sound.Enabled,
			"id":      st.Sound.ID,
			"volume":  st.Sound.Volume,
		},
	}
}

func boolValue(b bool) string {
	if b {
		return "1"
	}
	return "0"
}

func readBody(r *http.Request) ([]byte, error) {
	defer r.Body.Close()
	body, err := io.ReadAll(io.LimitReader(r.Body, 1<<20))
	if err != nil {
		return nil, fmt.Errorf("read body: %w", err)
	}
	if len(body) == 0 {
		body = []byte("{}")
	}
	return body, nil
}

func writeEnvelope(w http.ResponseWriter, resp relay.Response) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(resp)
}
