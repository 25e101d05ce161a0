// Package shorten collapses the bulky <files> region of a streaming chat
// message into a lightweight placeholder, per message container.
//
// Each container runs an independent three-phase machine:
//
//	INITIAL:   no marker seen yet
//	STREAMING: start marker seen; markup already replaced by
//	           prefix + placeholder; waiting for the end marker
//	FINAL:     terminal; markup rebuilt as prefix + placeholder + tail
//	           and never touched again
//
// The markers are escaped literal text ("&lt;files&gt;"), so matching is
// plain substring search on the markup: an HTML parser would unescape
// the very entities that must be matched.
package shorten

import (
	"context"
	"log/slog"
	"strings"
	"sync"
	"time"
)

// Default markers and timings.
const (
	DefaultStartMarker = "&lt;files&gt;"
	DefaultEndMarker   = "&lt;/files&gt;"

	// DefaultFinalizeDelay lets a superficially present end marker
	// settle: in pathological streams the marker text itself arrives
	// incrementally.
	DefaultFinalizeDelay = 250 * time.Millisecond
)

// DefaultPlaceholder is the static element substituted for the files
// region: a non-interactive progress indicator plus label.
const DefaultPlaceholder = `<div class="litsync-placeholder"><span class="litsync-spinner" role="progressbar"></span><span class="litsync-placeholder-label">Files block hidden by LitSync</span></div>`

// Phase of a container's machine.
type Phase int

const (
	PhaseInitial Phase = iota
	PhaseStreaming
	PhaseFinal
)

func (p Phase) String() string {
	switch p {
	case PhaseStreaming:
		return "streaming"
	case PhaseFinal:
		return "final"
	default:
		return "initial"
	}
}

// Region is one message container's mutable markup. A rod-backed Region
// lives in pagewatch/internal/browser; tests use an in-memory one.
type Region interface {
	HTML(ctx context.Context) (string, error)
	SetHTML(ctx context.Context, html string) error
}

// Config for a Shortener.
type Config struct {
	StartMarker   string        // default DefaultStartMarker
	EndMarker     string        // default DefaultEndMarker
	Placeholder   string        // default DefaultPlaceholder
	FinalizeDelay time.Duration // default 250ms
	Logger        *slog.Logger
}

func (c *Config) defaults() {
	if c.StartMarker == "" {
		c.StartMarker = DefaultStartMarker
	}
	if c.EndMarker == "" {
		c.EndMarker = DefaultEndMarker
	}
	if c.Placeholder == "" {
		c.Placeholder = DefaultPlaceholder
	}
	if c.FinalizeDelay <= 0 {
		c.FinalizeDelay = DefaultFinalizeDelay
	}
	if c.Logger == nil {
		c.Logger = slog.Default()
	}
}

// Shortener is the per-container machine. Mutation notifications arrive
// via OnMutation; the finalize timer fires on its own goroutine. All
// state is guarded by one mutex, so notifications and the timer
// interleave safely.
type Shortener struct {
	cfg    Config
	region Region

	mu          sync.Mutex
	phase       Phase
	prefix      string      // markup before the start marker; set in STREAMING only
	finalize    *time.Timer // pending finalize debounce; superseded on each sighting
	unsubscribe func()      // disconnects the mutation observer
	ctx         context.Context
}

// New creates a Shortener for region. ctx bounds all region access.
func New(ctx context.Context, region Region, cfg Config) *Shortener {
	cfg.defaults()
	return &Shortener{cfg: cfg, region: region, ctx: ctx}
}

// Bind hands over the observer's disconnect function. The shortener owns
// it from here: it is called exactly once, either on finalization or on
// teardown.
func (s *Shortener) Bind(unsubscribe func()) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.phase == PhaseFinal {
		// Finalized before the subscription handshake completed.
		if unsubscribe != nil {
			unsubscribe()
		}
		return
	}
	s.unsubscribe = unsubscribe
}

// Phase returns the current phase.
func (s *Shortener) Phase() Phase {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.phase
}

// OnMutation is the (already coalesced) mutation notification handler.
// It is also invoked once at wiring time to cover content that was
// present before observation began.
func (s *Shortener) OnMutation() {
	s.mu.Lock()
	defer s.mu.Unlock()

	// FINAL is absorbing. The observer is disconnected by then, but a
	// notification already in flight may still land here.
	if s.phase == PhaseFinal {
		return
	}

	html, err := s.region.HTML(s.ctx)
	if err != nil {
		s.cfg.Logger.Debug("shorten: read failed, waiting for next mutation", "error", err)
		return
	}

	switch s.phase {
	case PhaseInitial:
		s.maybeStartStreaming(html)
	case PhaseStreaming:
		s.maybeArmFinalize(html)
	}
}

// maybeStartStreaming handles INITIAL→STREAMING: capture the prefix,
// replace the whole markup with prefix + placeholder. Everything at or
// after the start marker is discarded; the page's own updates deliver
// the rest below the placeholder.
func (s *Shortener) maybeStartStreaming(html string) {
	idx := strings.Index(html, s.cfg.StartMarker)
	if idx < 0 {
		return
	}

	s.prefix = html[:idx]
	s.phase = PhaseStreaming
	if err := s.region.SetHTML(s.ctx, s.prefix+s.cfg.Placeholder); err != nil {
		s.cfg.Logger.Warn("shorten: placeholder write failed", "error", err)
	}
	s.cfg.Logger.Debug("shorten: streaming", "prefix_len", len(s.prefix))
}

// maybeArmFinalize (re)starts the finalize debounce whenever the end
// marker is present. Supersede semantics: the newest sighting wins.
func (s *Shortener) maybeArmFinalize(html string) {
	if !strings.Contains(html, s.cfg.EndMarker) {
		return
	}
	if s.finalize != nil {
		s.finalize.Stop()
	}
	s.finalize = time.AfterFunc(s.cfg.FinalizeDelay, s.finalizeNow)
}

// finalizeNow runs when the debounce elapses without being superseded.
func (s *Shortener) finalizeNow() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.phase != PhaseStreaming {
		return
	}

	html, err := s.region.HTML(s.ctx)
	if err != nil {
		s.cfg.Logger.Debug("shorten: finalize read failed, staying in streaming", "error", err)
		return
	}

	idx := strings.Index(html, s.cfg.EndMarker)
	if idx < 0 {
		// Spurious or partial match that has since vanished; keep waiting.
		s.cfg.Logger.Debug("shorten: end marker vanished, staying in streaming")
		return
	}

	// Disconnect strictly before the final write so the observer can
	// never see its own mutation.
	if s.unsubscribe != nil {
		s.unsubscribe()
		s.unsubscribe = nil
	}

	tail := html[idx+len(s.cfg.EndMarker):]
	final := s.prefix + s.cfg.Placeholder + tail
	if err := s.region.SetHTML(s.ctx, final); err != nil {
		s.cfg.Logger.Warn("shorten: final write failed", "error", err)
	}

	s.phase = PhaseFinal
	s.prefix = ""
	s.cfg.Logger.Debug("shorten: finalized", "tail_len", len(tail))
}

// Teardown disconnects the observer and cancels any pending finalize.
// Idempotent and safe on a shortener that never progressed.
func (s *Shortener) Teardown() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.finalize != nil {
		s.finalize.Stop()
		s.finalize = nil
	}
	if s.unsubscribe != nil {
		s.unsubscribe()
		s.unsubscribe = nil
	}
}
