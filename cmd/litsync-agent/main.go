// Command litsync-agent connects a workspace directory to the sync
// server, serving its file tree and contents and applying pushed file
// updates.
//
// Usage:
//
//	litsync-agent                           # serve the current directory
//	litsync-agent -root ~/code/myproj -server http://127.0.0.1:6032
package main

import (
	"context"
	"flag"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/litsync/litsync/agent"
)

func main() {
	serverURL := flag.String("server", "http://127.0.0.1:6032", "sync server base URL")
	root := flag.String("root", ".", "workspace directory to serve")
	hostname := flag.String("hostname", "", "hostname to register (defaults to the machine's)")
	poll := flag.Duration("poll-interval", 2*time.Second, "polling-mode check cadence")
	logLevel := flag.String("log-level", "info", "log level: debug, info, warn, error")
	flag.Parse()

	logger := slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{Level: parseLevel(*logLevel)}))
	slog.SetDefault(logger)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	a, err := agent.New(agent.Config{
		ServerURL:    *serverURL,
		Root:         *root,
		Hostname:     *hostname,
		PollInterval: *poll,
		Logger:       logger,
	})
	if err != nil {
		logger.Error("litsync-agent: fatal", "error", err)
		os.Exit(1)
	}

	logger.Info("litsync-agent running",
		"server", *serverURL, "root", a.Workspace().Root())
	if err := a.Run(ctx); err != nil {
		logger.Error("litsync-agent: fatal", "error", err)
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
