// Package settings is the persisted key-value settings store for the
// companion daemon. It mirrors the settings the popup UI edits: master
// enable, shorten enable, completion-sound preferences, sync-server URL
// and the keep-active flag.
//
// Reads never fail outward: any load error falls back to Defaults(), per
// the error-handling contract of the watcher core.
package settings

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	"github.com/litsync/litsync/dbopen"
	"github.com/litsync/litsync/watch"
)

// Schema for the settings table.
const Schema = `
CREATE TABLE IF NOT EXISTS settings (
	key        TEXT PRIMARY KEY,
	value      TEXT NOT NULL,
	updated_at INTEGER NOT NULL
);
`

// Settings is a snapshot of all user preferences.
type Settings struct {
	Enabled        bool    // master switch for all page affordances
	ShortenEnabled bool    // stream-shortener feature flag
	Sound          Sound   // completion-sound preferences
	ServerURL      string  // sync server base URL
	KeepActive     bool    // keep-tab-active throttling workaround
}

// Sound holds the completion-sound preferences. Volume is in [0,1].
type Sound struct {
	Enabled bool
	ID      string
	Volume  float64
}

// Defaults returns the hardcoded fallback configuration used when the
// store cannot be read.
func Defaults() Settings {
	return Settings{
		Enabled:        true,
		ShortenEnabled: true,
		Sound: Sound{
			Enabled: false,
			ID:      "default",
			Volume:  0.5,
		},
		ServerURL:  "http://127.0.0.1:6032",
		KeepActive: false,
	}
}

// Store reads and writes settings in SQLite.
type Store struct {
	db     *sql.DB
	logger *slog.Logger
}

// Open opens (or creates) the settings database at path.
func Open(path string, logger *slog.Logger) (*Store, error) {
	if logger == nil {
		logger = slog.Default()
	}
	db, err := dbopen.Open(path, dbopen.WithMkdirAll(), dbopen.WithSchema(Schema))
	if err != nil {
		return nil, fmt.Errorf("settings: open: %w", err)
	}
	return &Store{db: db, logger: logger}, nil
}

// NewStore wraps an existing database handle. The schema must already be
// applied (tests use dbopen.OpenMemory with WithSchema).
func NewStore(db *sql.DB, logger *slog.Logger) *Store {
	if logger == nil {
		logger = slog.Default()
	}
	return &Store{db: db, logger: logger}
}

// Close closes the underlying database.
func (s *Store) Close() error { return s.db.Close() }

// DB exposes the handle for the change watcher.
func (s *Store) DB() *sql.DB { return s.db }

// Load reads the full settings snapshot. Missing keys keep their default;
// a failing store returns Defaults() and logs the error.
func (s *Store) Load(ctx context.Context) Settings {
	out := Defaults()

	rows, err := s.db.QueryContext(ctx, `SELECT key, value FROM settings`)
	if err != nil {
		s.logger.Warn("settings: load failed, using defaults", "error", err)
		return out
	}
	defer rows.Close()

	for rows.Next() {
		var k, v string
		if err := rows.Scan(&k, &v); err != nil {
			s.logger.Warn("settings: scan failed, using defaults", "error", err)
			return Defaults()
		}
		out.apply(k, v, s.logger)
	}
	if err := rows.Err(); err != nil {
		s.logger.Warn("settings: rows failed, using defaults", "error", err)
		return Defaults()
	}
	return out
}

func (st *Settings) apply(key, value string, log *slog.Logger) {
	switch key {
	case "enabled":
		st.Enabled = value == "1"
	case "shorten_enabled":
		st.ShortenEnabled = value == "1"
	case "sound_enabled":
		st.Sound.Enabled = value == "1"
	case "sound_id":
		if value != "" {
			st.Sound.ID = value
		}
	case "sound_volume":
		v, err := strconv.ParseFloat(value, 64)
		if err != nil || v < 0 || v > 1 {
			log.Warn("settings: invalid sound_volume, keeping default", "value", value)
			return
		}
		st.Sound.Volume = v
	case "server_url":
		if value != "" {
			st.ServerURL = value
		}
	case "keep_active":
		st.KeepActive = value == "1"
	default:
		// Unknown keys are tolerated: a newer popup may write keys this
		// daemon does not understand yet.
	}
}

// Save writes the full snapshot.
func (s *Store) Save(ctx context.Context, st Settings) error {
	pairs := map[string]string{
		"enabled":         boolValue(st.Enabled),
		"shorten_enabled": boolValue(st.ShortenEnabled),
		"sound_enabled":   boolValue(st.Sound.Enabled),
		"sound_id":        st.Sound.ID,
		"sound_volume":    strconv.FormatFloat(st.Sound.Volume, 'f', -1, 64),
		"server_url":      st.ServerURL,
		"keep_active":     boolValue(st.KeepActive),
	}
	now := time.Now().Unix()
	for k, v := range pairs {
		if err := s.Set(ctx, k, v, now); err != nil {
			return err
		}
	}
	return nil
}

// Set writes one key. Exposed for the popup relay, which patches single
// settings (e.g. toggle_keep_active).
func (s *Store) Set(ctx context.Context, key, value string, now int64) error {
	if now == 0 {
		now = time.Now().Unix()
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO settings (key, value, updated_at) VALUES (?,?,?)
		ON CONFLICT(key) DO UPDATE SET value = excluded.value, updated_at = excluded.updated_at`,
		key, value, now)
	if err != nil {
		return fmt.Errorf("settings: set %s: %w", key, err)
	}
	return nil
}

func boolValue(b bool) string {
	if b {
		return "1"
	}
	return "0"
}

// Watch creates a change watcher over the settings database. The scanner
// subscribes its reload to this; it fires within one poll interval of any
// external write.
func (s *Store) Watch(logger *slog.Logger) *watch.Watcher {
	return watch.New(s.db, watch.Options{
		Interval: 200 * time.Millisecond,
		Debounce: 300 * time.Millisecond,
		Detector: watch.PragmaDataVersion,
		Logger:   logger,
	})
}
