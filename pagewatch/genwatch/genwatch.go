// Package genwatch infers "a response is being generated" from transient
// page state. The chat page exposes no completion event, so the watcher
// polls two signals on a fixed tick: the primary action control's label
// (a textual "stop" means in progress) and the character count of the
// newest message's content region (growth means still streaming).
//
// The label alone is not enough: it can vanish an instant before trailing
// content is flushed. Completion therefore requires the label to be gone
// AND the content length to have been stable for a full debounce window.
package genwatch

import (
	"context"
	"log/slog"
	"time"

	"github.com/litsync/litsync/settings"
)

// Status is the coarse generation state.
type Status int

const (
	StatusIdle Status = iota
	StatusGenerating
)

func (s Status) String() string {
	if s == StatusGenerating {
		return "generating"
	}
	return "idle"
}

// Probe reads the two page signals. A rod-backed probe lives in
// pagewatch/internal/browser; tests use fakes.
type Probe interface {
	// StopVisible reports whether the primary action control currently
	// shows an in-progress label. A transiently missing control reads
	// as false.
	StopVisible(ctx context.Context) (bool, error)
	// ContentLength returns the character count of the most recently
	// appended message's content region. A missing region reads as 0.
	ContentLength(ctx context.Context) (int, error)
}

// Notifier plays the completion sound. Failures are the notifier's to
// log; the watcher never escalates them.
type Notifier interface {
	Play(ctx context.Context, snd settings.Sound) error
}

// Config for creating a Watcher.
type Config struct {
	Probe Probe

	// Tick is the polling period. Default: 300ms.
	Tick time.Duration
	// StableWindow is how long the content length must hold still before
	// a completion may fire. Default: 1200ms.
	StableWindow time.Duration

	// LoadSound snapshots the user's sound preference. Called once per
	// IDLE→GENERATING transition, never per tick. Nil means sound off.
	LoadSound func(ctx context.Context) settings.Sound

	// Notifier receives the completion side effect. Nil disables it.
	Notifier Notifier

	Logger *slog.Logger
}

func (c *Config) defaults() {
	if c.Tick <= 0 {
		c.Tick = 300 * time.Millisecond
	}
	if c.StableWindow <= 0 {
		c.StableWindow = 1200 * time.Millisecond
	}
	if c.Logger == nil {
		c.Logger = slog.Default()
	}
}

// Watcher is the generation state machine. One instance per daemon.
// Not safe for concurrent use: it is driven by a single tick loop.
type Watcher struct {
	cfg Config

	status      Status
	lastLen     int
	stableSince time.Time // zero while growing or unmeasured
	sound       settings.Sound
}

// New creates a Watcher in StatusIdle.
func New(cfg Config) *Watcher {
	cfg.defaults()
	return &Watcher{cfg: cfg, lastLen: -1}
}

// Status returns the current state.
func (w *Watcher) Status() Status { return w.status }

// Run polls until ctx is cancelled.
func (w *Watcher) Run(ctx context.Context) {
	ticker := time.NewTicker(w.cfg.Tick)
	defer ticker.Stop()

	w.cfg.Logger.Info("genwatch: started",
		"tick", w.cfg.Tick, "stable_window", w.cfg.StableWindow)

	for {
		select {
		case <-ctx.Done():
			w.cfg.Logger.Info("genwatch: stopped")
			return
		case now := <-ticker.C:
			w.step(ctx, now)
		}
	}
}

// step advances the machine by one tick. Transient probe errors consume
// the tick without a transition; absence is a signal to wait, not an error.
func (w *Watcher) step(ctx context.Context, now time.Time) {
	stop, err := w.cfg.Probe.StopVisible(ctx)
	if err != nil {
		w.cfg.Logger.Debug("genwatch: stop probe failed, retrying next tick", "error", err)
		return
	}

	if w.status == StatusIdle {
		if !stop {
			return
		}
		// Entry resets all measurement state and snapshots the sound
		// preference. The transition consumes the whole tick.
		w.status = StatusGenerating
		w.lastLen = -1
		w.stableSince = time.Time{}
		w.sound = w.loadSound(ctx)
		w.cfg.Logger.Info("genwatch: generation started")
		return
	}

	length, err := w.cfg.Probe.ContentLength(ctx)
	if err != nil {
		w.cfg.Logger.Debug("genwatch: content probe failed, retrying next tick", "error", err)
		return
	}

	switch {
	case length > w.lastLen:
		// Still growing: any stability measured so far is void.
		w.stableSince = time.Time{}
		w.lastLen = length
	case w.stableSince.IsZero():
		w.stableSince = now
	}
	// Unchanged length with a running stability timer: leave it running.

	if !stop && !w.stableSince.IsZero() && now.Sub(w.stableSince) >= w.cfg.StableWindow {
		// Edge-triggered: the status reset below guarantees exactly one
		// completion per generation.
		w.status = StatusIdle
		w.stableSince = time.Time{}
		w.cfg.Logger.Info("genwatch: generation complete", "content_length", w.lastLen)
		w.notify(ctx)
	}
}

func (w *Watcher) loadSound(ctx context.Context) settings.Sound {
	if w.cfg.LoadSound == nil {
		return settings.Sound{}
	}
	return w.cfg.LoadSound(ctx)
}

func (w *Watcher) notify(ctx context.Context) {
	if !w.sound.Enabled || w.cfg.Notifier == nil {
		return
	}
	snd := w.sound
	// Fire and forget: playback may block on the audio subsystem and
	// must never stall the tick loop.
	go func() {
		if err := w.cfg.Notifier.Play(ctx, snd); err != nil {
			w.cfg.Logger.Warn("genwatch: completion sound failed", "error", err)
		}
	}()
}
