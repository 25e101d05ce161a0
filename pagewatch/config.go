package pagewatch

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the top-level daemon configuration. Everything here is
// deploy-time; the runtime-mutable preferences live in the settings
// store instead.
type Config struct {
	Page     PageConfig    `yaml:"page"`
	Watcher  WatcherConfig `yaml:"watcher"`
	Shorten  ShortenConfig `yaml:"shorten"`
	Scan     ScanConfig    `yaml:"scan"`
	Settings string        `yaml:"settings_db"`
}

// PageConfig locates the chat page and the Chrome instance to drive.
type PageConfig struct {
	URL string `yaml:"url"`
	// Remote is the debugging endpoint of the user's own Chrome
	// (ws:// or http://host:port). Empty launches a local instance.
	Remote    string          `yaml:"remote"`
	Headless  bool            `yaml:"headless"`
	Stealth   bool            `yaml:"stealth"`
	Selectors SelectorsConfig `yaml:"selectors"`
}

// SelectorsConfig overrides the page anchors. Empty fields keep the
// built-in defaults.
type SelectorsConfig struct {
	ActionButton     string `yaml:"action_button"`
	MessageContainer string `yaml:"message_container"`
	PromptInput      string `yaml:"prompt_input"`
}

// WatcherConfig tunes the generation watcher.
type WatcherConfig struct {
	Tick         time.Duration `yaml:"tick"`
	StableWindow time.Duration `yaml:"stable_window"`
}

// ShortenConfig tunes the stream shortener.
type ShortenConfig struct {
	StartMarker    string        `yaml:"start_marker"`
	EndMarker      string        `yaml:"end_marker"`
	Placeholder    string        `yaml:"placeholder"`
	FinalizeDelay  time.Duration `yaml:"finalize_delay"`
	CoalesceWindow time.Duration `yaml:"coalesce_window"`
}

// ScanConfig tunes the periodic scanner.
type ScanConfig struct {
	Interval time.Duration `yaml:"interval"`
}

// DefaultConfig returns a Config with every default applied.
func DefaultConfig() *Config {
	cfg := &Config{}
	cfg.applyDefaults()
	return cfg
}

// LoadConfigFile reads a YAML configuration file.
func LoadConfigFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("pagewatch: read config: %w", err)
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("pagewatch: parse config: %w", err)
	}

	cfg.applyDefaults()
	return &cfg, nil
}

func (c *Config) applyDefaults() {
	if c.Page.URL == "" {
		c.Page.URL = "https://lmarena.ai/"
	}
	if c.Watcher.Tick <= 0 {
		c.Watcher.Tick = 300 * time.Millisecond
	}
	if c.Watcher.StableWindow <= 0 {
		c.Watcher.StableWindow = 1200 * time.Millisecond
	}
	if c.Shorten.FinalizeDelay <= 0 {
		c.Shorten.FinalizeDelay = 250 * time.Millisecond
	}
	if c.Shorten.CoalesceWindow <= 0 {
		c.Shorten.CoalesceWindow = 100 * time.Millisecond
	}
	if c.Scan.Interval <= 0 {
		c.Scan.Interval = 250 * time.Millisecond
	}
	if c.Settings == "" {
		c.Settings = "litsync-settings.db"
	}
}
