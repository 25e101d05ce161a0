// Package pagewatch is the top-level orchestrator of the companion
// daemon's page side: it attaches Chrome to the chat page and runs the
// generation watcher, the stream-shortener registry, the periodic
// scanner and the keep-active loop, all reacting to the shared settings
// store.
package pagewatch

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/litsync/litsync/pagewatch/genwatch"
	"github.com/litsync/litsync/pagewatch/internal/browser"
	"github.com/litsync/litsync/pagewatch/internal/scan"
	"github.com/litsync/litsync/pagewatch/shorten"
	"github.com/litsync/litsync/settings"
)

// PageWatcher wires the page-side machinery together. Create one per
// daemon.
type PageWatcher struct {
	cfg      *Config
	store    *settings.Store
	notifier genwatch.Notifier
	logger   *slog.Logger

	mgr *browser.Manager
	tab *browser.ChatTab
	gen *genwatch.Watcher
	reg *shorten.Registry

	mu         sync.Mutex
	keepCancel context.CancelFunc
}

// New creates a PageWatcher. Call Start to attach and run.
func New(cfg *Config, store *settings.Store, notifier genwatch.Notifier, logger *slog.Logger) *PageWatcher {
	if logger == nil {
		logger = slog.Default()
	}
	return &PageWatcher{
		cfg:      cfg,
		store:    store,
		notifier: notifier,
		logger:   logger,
		reg:      shorten.NewRegistry(logger),
	}
}

// Start connects to Chrome, attaches the chat tab and launches the
// loops. Returns once everything is running; the loops stop when ctx is
// cancelled.
func (w *PageWatcher) Start(ctx context.Context) error {
	w.mgr = browser.NewManager(browser.Config{
		RemoteURL: w.cfg.Page.Remote,
		Headless:  w.cfg.Page.Headless,
		Logger:    w.logger,
	})
	if _, err := w.mgr.Start(ctx); err != nil {
		return fmt.Errorf("pagewatch: %w", err)
	}

	tab, err := browser.Attach(ctx, w.mgr, browser.ChatConfig{
		URL: w.cfg.Page.URL,
		Selectors: browser.Selectors{
			ActionButton:     w.cfg.Page.Selectors.ActionButton,
			MessageContainer: w.cfg.Page.Selectors.MessageContainer,
			PromptInput:      w.cfg.Page.Selectors.PromptInput,
		},
		Stealth: w.cfg.Page.Stealth,
		Logger:  w.logger,
	})
	if err != nil {
		return fmt.Errorf("pagewatch: %w", err)
	}
	w.tab = tab

	w.gen = genwatch.New(genwatch.Config{
		Probe:        tab,
		Tick:         w.cfg.Watcher.Tick,
		StableWindow: w.cfg.Watcher.StableWindow,
		LoadSound: func(ctx context.Context) settings.Sound {
			return w.store.Load(ctx).Sound
		},
		Notifier: w.notifier,
		Logger:   w.logger,
	})

	scanner := scan.New(scan.Config{
		Doc:             tab,
		Interval:        w.cfg.Scan.Interval,
		WireShortener:   w.wireShortener,
		WirePromptInput: w.wirePromptInput,
		ShortenEnabled: func(ctx context.Context) bool {
			st := w.store.Load(ctx)
			return st.Enabled && st.ShortenEnabled
		},
		TeardownShorteners: w.reg.TeardownAll,
		Logger:             w.logger,
	})

	go w.gen.Run(ctx)
	go scanner.Run(ctx)

	// Settings written by the popup relay (or any other process) land
	// here within one poll interval.
	go w.store.Watch(w.logger).OnChange(ctx, func() error {
		scanner.OnSettingsChanged()
		w.applyKeepActive(ctx)
		return nil
	})
	w.applyKeepActive(ctx)

	return nil
}

// Stop tears down the shorteners and releases the browser.
func (w *PageWatcher) Stop() {
	w.reg.TeardownAll()

	w.mu.Lock()
	if w.keepCancel != nil {
		w.keepCancel()
		w.keepCancel = nil
	}
	w.mu.Unlock()

	if w.tab != nil {
		if err := w.tab.Close(); err != nil {
			w.logger.Debug("pagewatch: close tab", "error", err)
		}
	}
	if w.mgr != nil {
		w.mgr.Close()
	}
}

// Status exposes the generation watcher state for the relay.
func (w *PageWatcher) Status() genwatch.Status {
	return w.gen.Status()
}

// LatestMessageHTML hands the newest message's markup to the sync
// pipeline.
func (w *PageWatcher) LatestMessageHTML(ctx context.Context) (string, error) {
	return w.tab.LatestMessageHTML(ctx)
}

// wireShortener attaches a shortener to a freshly claimed container:
// throttled observer, ownership handover, immediate first check.
func (w *PageWatcher) wireShortener(ctx context.Context, id string) {
	s := shorten.New(ctx, w.tab.Container(id), shorten.Config{
		StartMarker:   w.cfg.Shorten.StartMarker,
		EndMarker:     w.cfg.Shorten.EndMarker,
		Placeholder:   w.cfg.Shorten.Placeholder,
		FinalizeDelay: w.cfg.Shorten.FinalizeDelay,
		Logger:        w.logger,
	})

	handler := shorten.Throttle(w.cfg.Shorten.CoalesceWindow, s.OnMutation)
	unsubscribe, err := w.tab.Subscribe(ctx, id, handler)
	if err != nil {
		// The container vanished between claim and wiring; nothing to own.
		w.logger.Debug("pagewatch: shortener wiring failed", "id", id, "error", err)
		return
	}
	s.Bind(unsubscribe)
	s.OnMutation()
	w.reg.Put(id, s)
}

func (w *PageWatcher) wirePromptInput(ctx context.Context, id string) {
	if err := w.tab.MarkPromptInput(ctx, id); err != nil {
		w.logger.Debug("pagewatch: prompt badge failed", "id", id, "error", err)
	}
}

// applyKeepActive reconciles the keep-active loop with the settings
// flag: started when the flag turns on, cancelled when it turns off.
func (w *PageWatcher) applyKeepActive(ctx context.Context) {
	want := w.store.Load(ctx).KeepActive

	w.mu.Lock()
	defer w.mu.Unlock()

	running := w.keepCancel != nil
	switch {
	case want && !running:
		kctx, cancel := context.WithCancel(ctx)
		w.keepCancel = cancel
		w.logger.Info("pagewatch: keep-active on")
		go w.tab.KeepActive(kctx)
	case !want && running:
		w.keepCancel()
		w.keepCancel = nil
		w.logger.Info("pagewatch: keep-active off")
	}
}
