// Package browser owns the Chrome side of the daemon: process lifecycle,
// the chat tab, and the injected page helpers the watcher machinery
// drives through CDP.
package browser

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"

	"github.com/go-rod/rod"
	"github.com/go-rod/rod/lib/launcher"
)

// Config configures the browser manager.
type Config struct {
	// RemoteURL attaches to an already-running Chrome (the user's own,
	// started with --remote-debugging-port). Accepts ws:// or http://
	// forms; empty launches a local instance instead.
	RemoteURL string

	// Headless applies only to locally launched instances. Attaching to
	// the user's logged-in session is the normal mode; a headless launch
	// is mostly for development.
	Headless bool

	Logger *slog.Logger
}

func (c *Config) defaults() {
	if c.Logger == nil {
		c.Logger = slog.Default()
	}
}

// Manager manages the Chrome connection.
type Manager struct {
	cfg     Config
	mu      sync.RWMutex
	browser *rod.Browser
	lnch    *launcher.Launcher
	closed  bool
}

// NewManager creates a Manager. Call Start to connect.
func NewManager(cfg Config) *Manager {
	cfg.defaults()
	return &Manager{cfg: cfg}
}

// Start connects to Chrome (remote or locally launched) and returns the
// Rod browser handle.
func (m *Manager) Start(ctx context.Context) (*rod.Browser, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return nil, fmt.Errorf("browser: manager is closed")
	}

	wsURL, err := m.controlURL()
	if err != nil {
		return nil, err
	}

	b := rod.New().Context(ctx).ControlURL(wsURL)
	if err := b.Connect(); err != nil {
		return nil, fmt.Errorf("browser: connect: %w", err)
	}
	m.browser = b
	return b, nil
}

// Browser returns the current Rod browser handle. Thread-safe.
func (m *Manager) Browser() *rod.Browser {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.browser
}

// Close disconnects from (or shuts down) Chrome. Remote instances are
// left running: the user owns them.
func (m *Manager) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.closed = true

	if m.browser != nil {
		m.browser.Close()
		m.browser = nil
	}
	if m.lnch != nil {
		m.lnch.Cleanup()
		m.lnch = nil
	}
	return nil
}

func (m *Manager) controlURL() (string, error) {
	log := m.cfg.Logger

	if m.cfg.RemoteURL != "" {
		u := m.cfg.RemoteURL
		if !strings.HasPrefix(u, "ws://") && !strings.HasPrefix(u, "wss://") {
			resolved, err := launcher.ResolveURL(u)
			if err != nil {
				return "", fmt.Errorf("browser: resolve %s: %w", u, err)
			}
			u = resolved
		}
		log.Info("browser: attaching to remote chrome", "url", u)
		return u, nil
	}

	l := launcher.New().
		Headless(m.cfg.Headless).
		Set("disable-blink-features", "AutomationControlled")
	u, err := l.Launch()
	if err != nil {
		return "", fmt.Errorf("browser: launch: %w", err)
	}
	m.lnch = l
	log.Info("browser: launched local chrome", "url", u, "headless", m.cfg.Headless)
	return u, nil
}
