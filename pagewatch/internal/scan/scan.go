// Package scan runs the low-frequency document sweep: it claims message
// containers and prompt-input wrappers that no previous sweep has touched
// and hands them to wiring callbacks. Claiming is monotonic, a claimed
// node is never revisited; everything that happens inside it afterwards
// belongs to whatever the callback wired up.
package scan

import (
	"context"
	"log/slog"
	"time"
)

// DefaultInterval is the sweep period. The sweep only discovers new
// nodes, so it can run well below the watcher tick rate.
const DefaultInterval = 250 * time.Millisecond

// Document is the scanner's view of the live page. Both methods claim:
// they mark each returned node as processed before returning, so a node
// appears in at most one sweep's result across the document's lifetime.
type Document interface {
	ClaimContainers(ctx context.Context) ([]string, error)
	ClaimPromptInputs(ctx context.Context) ([]string, error)
}

// Config for a Scanner.
type Config struct {
	Doc      Document
	Interval time.Duration // default DefaultInterval

	// WireShortener is called once per claimed message container while
	// shortening is enabled. The callback owns the container from then on.
	WireShortener func(ctx context.Context, id string)

	// WirePromptInput is called once per claimed prompt-input wrapper,
	// regardless of the shorten toggle.
	WirePromptInput func(ctx context.Context, id string)

	// ShortenEnabled reads the global toggle. Consulted at Run start and
	// again on each OnSettingsChanged call, never per tick.
	ShortenEnabled func(ctx context.Context) bool

	// TeardownShorteners runs when the toggle flips off.
	TeardownShorteners func()

	Logger *slog.Logger
}

func (c *Config) defaults() {
	if c.Interval <= 0 {
		c.Interval = DefaultInterval
	}
	if c.Logger == nil {
		c.Logger = slog.Default()
	}
}

// Scanner sweeps the document on a fixed period. Single goroutine; the
// enabled flag is the only state shared with the settings watcher, so it
// travels through a channel rather than a lock.
type Scanner struct {
	cfg     Config
	enabled bool
	reload  chan struct{}
}

// New creates a Scanner.
func New(cfg Config) *Scanner {
	cfg.defaults()
	return &Scanner{cfg: cfg, reload: make(chan struct{}, 1)}
}

// OnSettingsChanged requests a re-read of the shorten toggle on the next
// loop turn. Coalesces: multiple notifications before the loop services
// them collapse into one re-read.
func (s *Scanner) OnSettingsChanged() {
	select {
	case s.reload <- struct{}{}:
	default:
	}
}

// Run sweeps until ctx is done.
func (s *Scanner) Run(ctx context.Context) {
	s.enabled = s.readEnabled(ctx)
	s.cfg.Logger.Info("scan: started",
		"interval", s.cfg.Interval, "shorten_enabled", s.enabled)

	ticker := time.NewTicker(s.cfg.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			s.cfg.Logger.Debug("scan: stopped")
			return
		case <-s.reload:
			was := s.enabled
			s.enabled = s.readEnabled(ctx)
			if was && !s.enabled && s.cfg.TeardownShorteners != nil {
				s.cfg.Logger.Info("scan: shortening disabled, tearing down")
				s.cfg.TeardownShorteners()
			}
		case <-ticker.C:
			s.sweep(ctx)
		}
	}
}

// sweep claims and wires everything new in the document. Claim errors
// are transient (navigation, detached frames); the tick is simply lost.
func (s *Scanner) sweep(ctx context.Context) {
	inputs, err := s.cfg.Doc.ClaimPromptInputs(ctx)
	if err != nil {
		s.cfg.Logger.Debug("scan: prompt-input claim failed", "error", err)
	}
	for _, id := range inputs {
		if s.cfg.WirePromptInput != nil {
			s.cfg.WirePromptInput(ctx, id)
		}
	}

	// Containers are only claimed while shortening is on: an unclaimed
	// container stays eligible and gets wired after a later re-enable.
	if !s.enabled {
		return
	}
	containers, err := s.cfg.Doc.ClaimContainers(ctx)
	if err != nil {
		s.cfg.Logger.Debug("scan: container claim failed", "error", err)
	}
	for _, id := range containers {
		if s.cfg.WireShortener != nil {
			s.cfg.WireShortener(ctx, id)
		}
	}
}

func (s *Scanner) readEnabled(ctx context.Context) bool {
	if s.cfg.ShortenEnabled == nil {
		return true
	}
	return s.cfg.ShortenEnabled(ctx)
}
