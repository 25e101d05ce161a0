// Command litsyncd is the companion daemon: it drives the chat page in
// Chrome (completion watcher, stream shortener, periodic scanner) and
// exposes the relay ops on a local control endpoint.
//
// Usage:
//
//	litsyncd -config litsync.yaml
//	litsyncd -url https://lmarena.ai/ -remote ws://127.0.0.1:9222
package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	_ "modernc.org/sqlite"

	"github.com/litsync/litsync/notify"
	"github.com/litsync/litsync/pagewatch"
	"github.com/litsync/litsync/relay"
	"github.com/litsync/litsync/settings"
)

func main() {
	configPath := flag.String("config", "", "path to litsync.yaml config file")
	pageURL := flag.String("url", "", "chat page URL (overrides config)")
	remote := flag.String("remote", "", "remote Chrome debugging URL (overrides config)")
	control := flag.String("control", "127.0.0.1:6033", "local control listen address")
	logLevel := flag.String("log-level", "info", "log level: debug, info, warn, error")
	flag.Parse()

	logger := slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{Level: parseLevel(*logLevel)}))
	slog.SetDefault(logger)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, logger, *configPath, *pageURL, *remote, *control); err != nil {
		logger.Error("litsyncd: fatal", "error", err)
		os.Exit(1)
	}
}

func parseLevel(s string) slog.Level {
	switch s {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

func run(ctx context.Context, logger *slog.Logger, configPath, pageURL, remote, control string) error {
	cfg, err := loadConfig(configPath)
	if err != nil {
		return err
	}
	if pageURL != "" {
		cfg.Page.URL = pageURL
	}
	if remote != "" {
		cfg.Page.Remote = remote
	}

	store, err := settings.Open(cfg.Settings, logger)
	if err != nil {
		return err
	}
	defer store.Close()

	watcher := pagewatch.New(cfg, store, notify.NewRouter(logger), logger)
	if err := watcher.Start(ctx); err != nil {
		return err
	}
	defer watcher.Stop()

	serverURL := store.Load(ctx).ServerURL
	router := newOpRouter(logger, watcher, store, serverURL)

	srv := &http.Server{Addr: control, Handler: controlHandler(router)}
	errc := make(chan error, 1)
	go func() { errc <- srv.ListenAndServe() }()
	logger.Info("litsyncd running",
		"page", cfg.Page.URL, "control", control, "server", serverURL)

	select {
	case <-ctx.Done():
	case err := <-errc:
		return fmt.Errorf("control endpoint: %w", err)
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	_ = srv.Shutdown(shutdownCtx)
	return nil
}

func loadConfig(path string) (*pagewatch.Config, error) {
	if path == "" {
		return pagewatch.DefaultConfig(), nil
	}
	return pagewatch.LoadConfigFile(path)
}

// controlHandler exposes the relay on POST /op/{name}: body is the op
// payload, response is the envelope.
func controlHandler(router *relay.Router) http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("POST /op/{name}", func(w http.ResponseWriter, r *http.Request) {
		payload, err := readBody(r)
		if err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		resp := router.Call(r.Context(), r.PathValue("name"), payload)
		writeEnvelope(w, resp)
	})
	return mux
}
