package agent

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"time"

	"github.com/litsync/litsync/idgen"
	"github.com/litsync/litsync/parse"
)

// DefaultPollInterval is the /v2/check cadence in polling mode.
const DefaultPollInterval = 2 * time.Second

// reconnectDelay spaces socket reconnection attempts after the polling
// fallback also fails.
const reconnectDelay = 5 * time.Second

// command mirrors the server's dispatch frame.
type command struct {
	Type      string          `json:"type"`
	RequestID string          `json:"request_id,omitempty"`
	Payload   json.RawMessage `json:"payload,omitempty"`
	UploadURL string          `json:"upload_url,omitempty"`
}

type pathsPayload struct {
	Paths []string `json:"paths"`
}

type updateFilesPayload struct {
	Files []parse.FilePair `json:"files"`
}

type fileTreePayload struct {
	Files []string `json:"files"`
	Error string   `json:"error,omitempty"`
}

type fileContentPayload struct {
	Files []FileEntry `json:"files"`
}

// Config configures an Agent.
type Config struct {
	// ServerURL is the sync server base, e.g. http://127.0.0.1:8095.
	ServerURL string
	// Root is the workspace directory to serve.
	Root string
	// Hostname identifies this machine to the server. Defaults to
	// os.Hostname.
	Hostname string
	// ClientID persists across reconnects; generated when empty.
	ClientID string
	// PollInterval is the polling-mode check cadence.
	PollInterval time.Duration
	// Logger defaults to slog.Default.
	Logger *slog.Logger
}

func (c *Config) defaults() error {
	if c.ServerURL == "" {
		c.ServerURL = "http://127.0.0.1:6032"
	}
	if c.Hostname == "" {
		host, err := os.Hostname()
		if err != nil {
			return fmt.Errorf("agent: hostname: %w", err)
		}
		c.Hostname = host
	}
	if c.ClientID == "" {
		c.ClientID = idgen.Prefixed("cli_", idgen.Default)()
	}
	if c.PollInterval <= 0 {
		c.PollInterval = DefaultPollInterval
	}
	if c.Logger == nil {
		c.Logger = slog.Default()
	}
	return nil
}

// Agent connects a workspace to the sync server, preferring a
// WebSocket session and falling back to HTTP polling.
type Agent struct {
	cfg    Config
	ws     *Workspace
	logger *slog.Logger
	hc     *http.Client
}

// New creates an Agent serving the configured workspace.
func New(cfg Config) (*Agent, error) {
	if err := cfg.defaults(); err != nil {
		return nil, err
	}
	ws, err := NewWorkspace(cfg.Root, cfg.Logger)
	if err != nil {
		return nil, err
	}
	return &Agent{
		cfg:    cfg,
		ws:     ws,
		logger: cfg.Logger,
		hc:     &http.Client{Timeout: 30 * time.Second},
	}, nil
}

// Workspace returns the served workspace.
func (a *Agent) Workspace() *Workspace { return a.ws }

// Run keeps the agent connected until ctx is cancelled. Each socket
// failure drops to polling; each polling failure retries the socket
// after a delay.
func (a *Agent) Run(ctx context.Context) error {
	for {
		if err := a.runSocket(ctx); err != nil && ctx.Err() == nil {
			a.logger.Warn("socket session ended, falling back to polling", "error", err)
		}
		if ctx.Err() != nil {
			return nil
		}

		if err := a.runPolling(ctx); err != nil && ctx.Err() == nil {
			a.logger.Warn("polling failed", "error", err)
		}
		if ctx.Err() != nil {
			return nil
		}

		select {
		case <-ctx.Done():
			return nil
		case <-time.After(reconnectDelay):
		}
	}
}

// handle executes one server command. reply reports whether the
// payload should be sent back.
func (a *Agent) handle(cmd command) (payload json.RawMessage, reply bool, err error) {
	switch cmd.Type {
	case "get_file_tree":
		out := fileTreePayload{Files: []string{}}
		files, err := a.ws.FileTree()
		if err != nil {
			out.Error = err.Error()
		} else {
			out.Files = files
		}
		raw, err := json.Marshal(out)
		return raw, true, err

	case "get_file_content":
		var req pathsPayload
		if err := json.Unmarshal(cmd.Payload, &req); err != nil {
			return nil, false, fmt.Errorf("agent: decode get_file_content: %w", err)
		}
		raw, err := json.Marshal(fileContentPayload{Files: a.ws.FileContent(req.Paths)})
		return raw, true, err

	case "update_files":
		var req updateFilesPayload
		if err := json.Unmarshal(cmd.Payload, &req); err != nil {
			return nil, false, fmt.Errorf("agent: decode update_files: %w", err)
		}
		written, err := a.ws.WriteFiles(req.Files)
		a.logger.Info("update applied", "written", written)
		return nil, false, err

	default:
		return nil, false, fmt.Errorf("agent: unknown command %q", cmd.Type)
	}
}
