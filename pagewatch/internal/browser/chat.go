package browser

import (
	"context"
	_ "embed"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/go-rod/rod"
	"github.com/go-rod/rod/lib/proto"
	"github.com/go-rod/stealth"
)

//go:embed page.js
var pageJS string

// mutationBinding is the JS→Go channel for per-container mutation
// notifications. The payload is the container ID.
const mutationBinding = "__litsync_mutations"

// Selectors locate the chat page's anchors. All are plain CSS selectors;
// the stop check is textual on top of the matched control, so one
// selector covers the send/stop dual-role button.
type Selectors struct {
	ActionButton     string `yaml:"action_button"`
	MessageContainer string `yaml:"message_container"`
	PromptInput      string `yaml:"prompt_input"`
}

func (s *Selectors) defaults() {
	if s.ActionButton == "" {
		s.ActionButton = `form button[type="submit"]`
	}
	if s.MessageContainer == "" {
		s.MessageContainer = `[data-message-role="assistant"]`
	}
	if s.PromptInput == "" {
		s.PromptInput = `form textarea`
	}
}

// ChatConfig configures a ChatTab.
type ChatConfig struct {
	URL       string
	Selectors Selectors

	// Stealth wraps the tab in anti-automation-detection patches. Only
	// meaningful for locally launched instances.
	Stealth bool

	Logger *slog.Logger
}

// ChatTab is the daemon's handle on the chat page. It implements the
// generation watcher's probe, the scanner's document, and hands out
// per-container regions for the shortener.
type ChatTab struct {
	page   *rod.Page
	cfg    ChatConfig
	logger *slog.Logger

	mu       sync.Mutex
	handlers map[string]func()
}

// Attach finds an existing tab already on the chat URL, or opens a new
// one, then installs the page helpers and the mutation binding.
func Attach(ctx context.Context, mgr *Manager, cfg ChatConfig) (*ChatTab, error) {
	cfg.Selectors.defaults()
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}

	b := mgr.Browser()
	if b == nil {
		return nil, fmt.Errorf("browser: no active browser")
	}

	page, err := findOrOpen(ctx, b, cfg)
	if err != nil {
		return nil, err
	}

	t := &ChatTab{
		page:     page,
		cfg:      cfg,
		logger:   cfg.Logger,
		handlers: make(map[string]func()),
	}
	if err := t.install(ctx); err != nil {
		return nil, err
	}
	go t.listenBinding(ctx)

	cfg.Logger.Info("browser: attached to chat page", "url", cfg.URL)
	return t, nil
}

func findOrOpen(ctx context.Context, b *rod.Browser, cfg ChatConfig) (*rod.Page, error) {
	pages, err := b.Pages()
	if err == nil {
		for _, p := range pages {
			info, err := p.Info()
			if err != nil {
				continue
			}
			if info.URL == cfg.URL {
				return p.Context(ctx), nil
			}
		}
	}

	var page *rod.Page
	if cfg.Stealth {
		page, err = stealth.Page(b)
	} else {
		page, err = b.Page(proto.TargetCreateTarget{URL: ""})
	}
	if err != nil {
		return nil, fmt.Errorf("browser: create tab: %w", err)
	}

	navCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()
	if err := page.Context(navCtx).Navigate(cfg.URL); err != nil {
		page.Close()
		return nil, fmt.Errorf("browser: navigate %s: %w", cfg.URL, err)
	}
	if err := page.Context(navCtx).WaitLoad(); err != nil {
		cfg.Logger.Warn("browser: wait load timeout", "url", cfg.URL, "error", err)
	}
	return page.Context(ctx), nil
}

// install injects the page helpers and registers the mutation binding.
func (t *ChatTab) install(ctx context.Context) error {
	err := proto.RuntimeAddBinding{Name: mutationBinding}.Call(t.page)
	if err != nil {
		t.logger.Warn("browser: addBinding failed (may already exist)", "error", err)
	}
	if _, err := t.page.Context(ctx).Eval(pageJS); err != nil {
		return fmt.Errorf("browser: inject page helpers: %w", err)
	}
	return nil
}

// listenBinding dispatches mutation notifications to container handlers.
func (t *ChatTab) listenBinding(ctx context.Context) {
	t.page.Context(ctx).EachEvent(func(e *proto.RuntimeBindingCalled) {
		if e.Name != mutationBinding {
			return
		}
		t.mu.Lock()
		h := t.handlers[e.Payload]
		t.mu.Unlock()
		if h != nil {
			h()
		}
	})()
}

// StopVisible reports whether the action control currently reads as a
// stop affordance. Textual check: label or visible text contains "stop".
func (t *ChatTab) StopVisible(ctx context.Context) (bool, error) {
	res, err := t.page.Context(ctx).Eval(`(sel) => {
		const el = document.querySelector(sel);
		if (el === null) return false;
		const label = (el.getAttribute("aria-label") || "") + " " + (el.textContent || "");
		return label.toLowerCase().includes("stop");
	}`, t.cfg.Selectors.ActionButton)
	if err != nil {
		return false, fmt.Errorf("browser: stop probe: %w", err)
	}
	return res.Value.Bool(), nil
}

// ContentLength returns the text length of the newest message container.
// A missing container is a transient condition, reported as an error so
// the caller consumes the tick without a transition.
func (t *ChatTab) ContentLength(ctx context.Context) (int, error) {
	res, err := t.page.Context(ctx).Eval(`(sel) => {
		const els = document.querySelectorAll(sel);
		if (els.length === 0) return -1;
		return els[els.length - 1].textContent.length;
	}`, t.cfg.Selectors.MessageContainer)
	if err != nil {
		return 0, fmt.Errorf("browser: content probe: %w", err)
	}
	n := res.Value.Int()
	if n < 0 {
		return 0, fmt.Errorf("browser: no message container")
	}
	return n, nil
}

// ClaimContainers claims unprocessed message containers, marking each
// with a processed flag and a stable ID. Monotonic per page lifetime.
func (t *ChatTab) ClaimContainers(ctx context.Context) ([]string, error) {
	return t.claim(ctx, t.cfg.Selectors.MessageContainer, "msg")
}

// ClaimPromptInputs claims unprocessed prompt-input wrappers.
func (t *ChatTab) ClaimPromptInputs(ctx context.Context) ([]string, error) {
	return t.claim(ctx, t.cfg.Selectors.PromptInput, "input")
}

func (t *ChatTab) claim(ctx context.Context, selector, kind string) ([]string, error) {
	res, err := t.page.Context(ctx).Eval(
		`(sel, kind) => window.__litsync.claim(sel, kind)`, selector, kind)
	if err != nil {
		return nil, fmt.Errorf("browser: claim %s: %w", kind, err)
	}
	var ids []string
	for _, v := range res.Value.Arr() {
		ids = append(ids, v.Str())
	}
	return ids, nil
}

// Container returns the mutable markup region of a claimed container.
func (t *ChatTab) Container(id string) *ContainerRegion {
	return &ContainerRegion{tab: t, id: id}
}

// Subscribe attaches a MutationObserver to a claimed container and
// routes its notifications to handler. The returned function
// disconnects the observer; it is idempotent.
func (t *ChatTab) Subscribe(ctx context.Context, id string, handler func()) (func(), error) {
	t.mu.Lock()
	t.handlers[id] = handler
	t.mu.Unlock()

	res, err := t.page.Context(ctx).Eval(
		`(id) => window.__litsync.observe(id)`, id)
	if err != nil || !res.Value.Bool() {
		t.mu.Lock()
		delete(t.handlers, id)
		t.mu.Unlock()
		if err == nil {
			err = fmt.Errorf("container not found")
		}
		return nil, fmt.Errorf("browser: observe %s: %w", id, err)
	}

	var once sync.Once
	return func() {
		once.Do(func() {
			t.mu.Lock()
			delete(t.handlers, id)
			t.mu.Unlock()
			if _, err := t.page.Eval(`(id) => window.__litsync.disconnect(id)`, id); err != nil {
				t.logger.Debug("browser: disconnect failed", "id", id, "error", err)
			}
		})
	}, nil
}

// MarkPromptInput drops the attachment badge next to a claimed
// prompt-input wrapper so the user can see the daemon is wired.
func (t *ChatTab) MarkPromptInput(ctx context.Context, id string) error {
	res, err := t.page.Context(ctx).Eval(
		`(id) => window.__litsync.badge(id)`, id)
	if err != nil {
		return fmt.Errorf("browser: badge %s: %w", id, err)
	}
	if !res.Value.Bool() {
		return fmt.Errorf("browser: prompt input %s detached", id)
	}
	return nil
}

// LatestMessageHTML returns the markup of the newest message container,
// for handing to the sync pipeline.
func (t *ChatTab) LatestMessageHTML(ctx context.Context) (string, error) {
	res, err := t.page.Context(ctx).Eval(`(sel) => {
		const els = document.querySelectorAll(sel);
		if (els.length === 0) return null;
		return els[els.length - 1].innerHTML;
	}`, t.cfg.Selectors.MessageContainer)
	if err != nil {
		return "", fmt.Errorf("browser: latest message: %w", err)
	}
	if res.Value.Nil() {
		return "", fmt.Errorf("browser: no message container")
	}
	return res.Value.Str(), nil
}

// Close closes the tab.
func (t *ChatTab) Close() error {
	if t.page != nil {
		return t.page.Close()
	}
	return nil
}

// ContainerRegion is one claimed container's markup, addressed by its
// stable ID so the handle survives React-style node replacement above it.
type ContainerRegion struct {
	tab *ChatTab
	id  string
}

func (r *ContainerRegion) HTML(ctx context.Context) (string, error) {
	res, err := r.tab.page.Context(ctx).Eval(
		`(id) => window.__litsync.html(id)`, r.id)
	if err != nil {
		return "", fmt.Errorf("browser: read %s: %w", r.id, err)
	}
	if res.Value.Nil() {
		return "", fmt.Errorf("browser: container %s detached", r.id)
	}
	return res.Value.Str(), nil
}

func (r *ContainerRegion) SetHTML(ctx context.Context, html string) error {
	res, err := r.tab.page.Context(ctx).Eval(
		`(id, html) => window.__litsync.setHtml(id, html)`, r.id, html)
	if err != nil {
		return fmt.Errorf("browser: write %s: %w", r.id, err)
	}
	if !res.Value.Bool() {
		return fmt.Errorf("browser: container %s detached", r.id)
	}
	return nil
}
