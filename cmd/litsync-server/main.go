// Command litsync-server is the workspace sync server: the HTTP API,
// the agent transports (WebSocket and /v2 polling), and optionally the
// MCP tool surface over stdio.
//
// Usage:
//
//	litsync-server                          # serve on :6032
//	litsync-server -addr :7000 -public http://myhost:7000
//	litsync-server -mcp stdio               # additionally expose MCP tools
//	litsync-server -events-db events.db     # record an operational event log
package main

import (
	"context"
	"flag"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/modelcontextprotocol/go-sdk/mcp"
	_ "modernc.org/sqlite"

	"github.com/litsync/litsync/dbopen"
	"github.com/litsync/litsync/events"
	"github.com/litsync/litsync/server"
)

func main() {
	addr := flag.String("addr", ":6032", "listen address")
	public := flag.String("public", "", "public base URL advertised to polling agents")
	timeout := flag.Duration("timeout", 60*time.Second, "agent request timeout")
	contextLines := flag.Int("diff-context", 3, "context lines in sync previews")
	mcpTransport := flag.String("mcp", "", "MCP transport: empty or 'stdio'")
	eventsDB := flag.String("events-db", "", "SQLite path for the operational event log (off when empty)")
	logLevel := flag.String("log-level", "info", "log level: debug, info, warn, error")
	flag.Parse()

	logger := slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{Level: parseLevel(*logLevel)}))
	slog.SetDefault(logger)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, logger, *addr, *public, *timeout, *contextLines, *mcpTransport, *eventsDB); err != nil {
		logger.Error("litsync-server: fatal", "error", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, logger *slog.Logger, addr, public string, timeout time.Duration, contextLines int, mcpTransport, eventsDB string) error {
	var eventLog *events.Logger
	if eventsDB != "" {
		db, err := dbopen.Open(eventsDB, dbopen.WithMkdirAll(), dbopen.WithSchema(events.Schema))
		if err != nil {
			return err
		}
		defer db.Close()
		eventLog = events.NewLogger(db, 1000)
		defer eventLog.Close()
	}

	s := server.New(server.Config{
		Addr:           addr,
		PublicBaseURL:  public,
		RequestTimeout: timeout,
		ContextLines:   contextLines,
		Events:         eventLog,
		Logger:         logger,
	})

	if mcpTransport == "stdio" {
		srv := mcp.NewServer(&mcp.Implementation{Name: "litsync", Version: "1.0.0"}, nil)
		s.RegisterMCP(srv)
		go func() {
			if err := srv.Run(ctx, &mcp.StdioTransport{}); err != nil {
				logger.Error("mcp transport failed", "error", err)
			}
		}()
	}

	return s.Run(ctx)
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
