// Package notify plays the completion sound. Two backends: the system
// beep/notification facility for the built-in "default" sound, and an
// external audio player for user-supplied sound files. Playback failures
// are logged by the caller and never escalate.
package notify

import (
	"context"
	"fmt"
	"log/slog"
	"os/exec"
	"strconv"

	"github.com/gen2brain/beeep"

	"github.com/litsync/litsync/settings"
)

// DefaultSoundID selects the built-in system sound.
const DefaultSoundID = "default"

// Notifier plays one completion sound.
type Notifier interface {
	Play(ctx context.Context, snd settings.Sound) error
}

// Desktop plays the built-in sound through the OS notification facility.
type Desktop struct{}

// Play emits a system beep. Volume is not adjustable on this path; the
// OS owns it.
func (Desktop) Play(context.Context, settings.Sound) error {
	if err := beeep.Beep(beeep.DefaultFreq, beeep.DefaultDuration); err != nil {
		return fmt.Errorf("notify: beep: %w", err)
	}
	return nil
}

// Player shells out to an audio player for file-based sounds. The sound
// ID is the file path.
type Player struct {
	// Command is the player binary. Default: ffplay.
	Command string
}

// Play runs the player with the volume mapped to its 0..100 scale.
func (p Player) Play(ctx context.Context, snd settings.Sound) error {
	cmd := p.Command
	if cmd == "" {
		cmd = "ffplay"
	}
	args := PlayerArgs(snd)
	if err := exec.CommandContext(ctx, cmd, args...).Run(); err != nil {
		return fmt.Errorf("notify: %s: %w", cmd, err)
	}
	return nil
}

// PlayerArgs builds the ffplay argument list for a sound. Split out for
// testing; running a player in tests is not an option.
func PlayerArgs(snd settings.Sound) []string {
	vol := int(snd.Volume * 100)
	if vol < 0 {
		vol = 0
	}
	if vol > 100 {
		vol = 100
	}
	return []string{
		"-nodisp", "-autoexit", "-loglevel", "quiet",
		"-volume", strconv.Itoa(vol),
		snd.ID,
	}
}

// Router picks the backend by sound ID: "default" goes to the desktop
// facility, anything else is treated as a file path for the player.
type Router struct {
	Desktop Notifier
	Player  Notifier
	Logger  *slog.Logger
}

// NewRouter creates a Router with the standard backends.
func NewRouter(logger *slog.Logger) *Router {
	if logger == nil {
		logger = slog.Default()
	}
	return &Router{Desktop: Desktop{}, Player: Player{}, Logger: logger}
}

// Play dispatches to the backend for snd.ID.
func (r *Router) Play(ctx context.Context, snd settings.Sound) error {
	if snd.ID == "" || snd.ID == DefaultSoundID {
		return r.Desktop.Play(ctx, snd)
	}
	return r.Player.Play(ctx, snd)
}

// Null discards all playback. Used when sound is configured off.
type Null struct{}

func (Null) Play(context.Context, settings.Sound) error { return nil }
