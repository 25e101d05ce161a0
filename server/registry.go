// Package server is the workspace sync server: it tracks connected
// workspace agents, relays file operations to them over WebSocket or
// HTTP polling, and exposes the sync HTTP API plus MCP tools.
package server

import (
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"
)

// PendingHostname is shown for a connected agent that has not yet
// identified itself.
const PendingHostname = "Pending registration..."

// ErrUnknownClient is returned for operations against a client ID the
// registry has never seen or has already dropped.
var ErrUnknownClient = errors.New("server: unknown client")

// Client is one workspace agent connection.
type Client struct {
	ID          string    `json:"id"`
	IP          string    `json:"ip"`
	Transport   string    `json:"transport"` // "socket" or "polling"
	Hostname    string    `json:"hostname"`
	RootDirName string    `json:"root_dir_name,omitempty"`
	Registered  bool      `json:"registered"`
	ConnectedAt time.Time `json:"connected_at"`
}

// Registry tracks agent connections and enforces one live registration
// per hostname. Safe for concurrent use.
type Registry struct {
	mu         sync.RWMutex
	clients    map[string]*Client
	byHostname map[string]string // hostname -> client ID
	logger     *slog.Logger
	now        func() time.Time
}

// NewRegistry creates an empty Registry.
func NewRegistry(logger *slog.Logger) *Registry {
	if logger == nil {
		logger = slog.Default()
	}
	return &Registry{
		clients:    make(map[string]*Client),
		byHostname: make(map[string]string),
		logger:     logger,
		now:        time.Now,
	}
}

// Add records a fresh connection. The client stays in the pending state
// until it registers a hostname.
func (r *Registry) Add(id, ip, transport string) Client {
	r.mu.Lock()
	defer r.mu.Unlock()

	c := &Client{
		ID:          id,
		IP:          ip,
		Transport:   transport,
		Hostname:    PendingHostname,
		ConnectedAt: r.now(),
	}
	r.clients[id] = c
	r.logger.Info("client connected", "client_id", id, "ip", ip, "transport", transport)
	return *c
}

// Register binds a hostname and workspace root name to a connected
// client. If another client already holds the hostname it is evicted:
// marked as superseded and returned so the transport can force its
// disconnect. Returns "" when nothing was evicted.
func (r *Registry) Register(id, hostname, rootDirName string) (evicted string, err error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	c, ok := r.clients[id]
	if !ok {
		return "", fmt.Errorf("register %q: %w", id, ErrUnknownClient)
	}

	if old, ok := r.byHostname[hostname]; ok && old != id {
		if prev, ok := r.clients[old]; ok {
			prev.Hostname = fmt.Sprintf("EVICTED by %s", id)
			prev.Registered = false
			evicted = old
			r.logger.Warn("hostname conflict, evicting previous client",
				"hostname", hostname, "evicted", old, "client_id", id)
		}
	}

	c.Hostname = hostname
	c.RootDirName = rootDirName
	c.Registered = true
	r.byHostname[hostname] = id
	r.logger.Info("client registered",
		"client_id", id, "hostname", hostname, "root_dir_name", rootDirName)
	return evicted, nil
}

// Remove drops a client. The hostname index entry is only cleared when
// it still points at this client, so an evicted client's departure does
// not unhook its replacement.
func (r *Registry) Remove(id string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	c, ok := r.clients[id]
	if !ok {
		return false
	}
	delete(r.clients, id)
	if r.byHostname[c.Hostname] == id {
		delete(r.byHostname, c.Hostname)
	}
	r.logger.Info("client removed", "client_id", id, "hostname", c.Hostname)
	return true
}

// Get returns a snapshot of one client.
func (r *Registry) Get(id string) (Client, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	c, ok := r.clients[id]
	if !ok {
		return Client{}, false
	}
	return *c, true
}

// Registered returns snapshots of all fully registered clients, sorted
// by hostname. Pending and evicted connections are excluded.
func (r *Registry) Registered() []Client {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]Client, 0, len(r.clients))
	for _, c := range r.clients {
		if c.Registered {
			out = append(out, *c)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Hostname < out[j].Hostname })
	return out
}

// RootDirName returns the registered workspace folder name for a
// client, or "" when unknown.
func (r *Registry) RootDirName(id string) string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if c, ok := r.clients[id]; ok {
		return c.RootDirName
	}
	return ""
}
