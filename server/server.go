package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/litsync/litsync/context7"
	"github.com/litsync/litsync/diffgen"
	"github.com/litsync/litsync/events"
	"github.com/litsync/litsync/idgen"
	"github.com/litsync/litsync/parse"
)

// Config configures the sync server.
type Config struct {
	// Addr is the listen address.
	Addr string
	// PublicBaseURL is the base URL polling agents can reach the server
	// on. Defaults to http://127.0.0.1<Addr>.
	PublicBaseURL string
	// RequestTimeout bounds each relayed agent request.
	RequestTimeout time.Duration
	// ContextLines is the diff context width for sync previews.
	ContextLines int
	// Docs configures the documentation API client.
	Docs context7.Config
	// Events, when set, records sync operations, registrations and
	// evictions for later inspection.
	Events *events.Logger
	// Logger defaults to slog.Default.
	Logger *slog.Logger
}

func (c *Config) defaults() {
	if c.Addr == "" {
		c.Addr = ":6032"
	}
	if c.PublicBaseURL == "" {
		c.PublicBaseURL = "http://127.0.0.1" + c.Addr
	}
	if c.RequestTimeout <= 0 {
		c.RequestTimeout = DefaultRequestTimeout
	}
	if c.ContextLines <= 0 {
		c.ContextLines = diffgen.DefaultContextLines
	}
	if c.Logger == nil {
		c.Logger = slog.Default()
	}
}

// Server wires the registry, coordinator, message parser, diff detector
// and docs client behind the HTTP, WebSocket and MCP surfaces.
type Server struct {
	cfg    Config
	logger *slog.Logger

	reg    *Registry
	coord  *Coordinator
	parser *parse.Parser
	differ *diffgen.Detector
	docs   *context7.Client
	events *events.Logger

	newClientID idgen.Generator

	connMu sync.Mutex
	conns  map[string]*socketConn
}

// New creates a Server.
func New(cfg Config) *Server {
	cfg.defaults()
	if cfg.Docs.Logger == nil {
		cfg.Docs.Logger = cfg.Logger
	}
	return &Server{
		cfg:    cfg,
		logger: cfg.Logger,
		reg:    NewRegistry(cfg.Logger),
		coord: NewCoordinator(CoordinatorConfig{
			PublicBaseURL: cfg.PublicBaseURL,
			Timeout:       cfg.RequestTimeout,
			Logger:        cfg.Logger,
		}),
		parser:      parse.New(cfg.Logger),
		differ:      diffgen.New(cfg.ContextLines),
		docs:        context7.New(cfg.Docs),
		events:      cfg.Events,
		newClientID: idgen.Prefixed("cli_", idgen.Default),
		conns:       make(map[string]*socketConn),
	}
}

// Router builds the full HTTP surface.
func (s *Server) Router() *chi.Mux {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)

	r.Route("/api", func(r chi.Router) {
		r.Get("/clients", s.handleClients)
		r.Post("/sync", s.handleSync)
		r.Post("/sync/preview", s.handleSyncPreview)
		r.Get("/clients/{id}/file_tree", s.handleFileTree)
		r.Post("/clients/{id}/file_content", s.handleFileContent)
		r.Post("/prompt/generate", s.handleGeneratePrompt)
		r.Get("/context7/search", s.handleDocsSearch)
		r.Get("/context7/docs/*", s.handleDocsFetch)
	})

	r.Route("/v2", func(r chi.Router) {
		r.Post("/register", s.handleV2Register)
		r.Post("/disconnect", s.handleV2Disconnect)
		r.Get("/check", s.handleV2Check)
		r.Post("/upload/{id}/{request}", s.handleV2Upload)
	})

	r.Get("/ws/client", s.handleSocket)
	return r
}

// Run serves until ctx is cancelled, then shuts down gracefully.
func (s *Server) Run(ctx context.Context) error {
	srv := &http.Server{Addr: s.cfg.Addr, Handler: s.Router()}

	errc := make(chan error, 1)
	go func() { errc <- srv.ListenAndServe() }()
	s.logger.Info("sync server listening", "addr", s.cfg.Addr)

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("server: shutdown: %w", err)
		}
		return nil
	case err := <-errc:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("server: listen: %w", err)
		}
		return nil
	}
}

// record writes an operational event when an event log is configured.
func (s *Server) record(typ, clientID string, detail any, err error, started time.Time) {
	if s.events == nil {
		return
	}
	s.events.LogAsync(s.events.Record("server", typ, clientID, detail, err, time.Since(started)))
}

// evict force-disconnects a superseded client: its socket (if any) is
// closed and its queued work discarded. The registry entry stays until
// the transport notices the close, keeping the eviction visible.
func (s *Server) evict(clientID string) {
	s.connMu.Lock()
	conn := s.conns[clientID]
	delete(s.conns, clientID)
	s.connMu.Unlock()

	s.coord.DropClient(clientID)
	if conn != nil {
		conn.close()
	}
	s.record("evict", clientID, nil, nil, time.Now())
}
