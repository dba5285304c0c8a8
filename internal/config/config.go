// Package config provides configuration loading and defaults for the Plexcord
// daemon.
//
// Configuration is loaded from config.toml in the data directory. It covers
// the Discord application override, the metadata/config API endpoint, Plex
// server connection overrides, presence display defaults, privacy controls
// and loop timing. The Plex account token and server name live in the
// separate setup blob (see package setup).
package config

//go:generate go run ../../cmd/genconfig

import (
	"bytes"
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"os"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/bmatcuk/doublestar/v4"
	"tools.zach/dev/plexcord/internal/atomicfile"
	"tools.zach/dev/plexcord/internal/logger"
	"tools.zach/dev/plexcord/internal/migrate"
)

// ErrNoClientSource is returned by [Config.CheckClientSource] when neither a
// Discord application ID nor an API URL is configured.
var ErrNoClientSource = errors.New("no discord app_id and no api url configured")

// ///////////////////////////////////////////////
// Configuration Types
// ///////////////////////////////////////////////

// Config represents the top-level application configuration.
type Config struct {
	// Version is the config schema version used for migrations.
	Version  int            `toml:"version"`
	Discord  DiscordConfig  `toml:"discord"`
	API      APIConfig      `toml:"api"`
	Plex     PlexConfig     `toml:"plex"`
	Display  DisplayConfig  `toml:"display"`
	Privacy  PrivacyConfig  `toml:"privacy"`
	Behavior BehaviorConfig `toml:"behavior"`
	Log      LogConfig      `toml:"log"`
}

// DiscordConfig holds Discord connection settings.
type DiscordConfig struct {
	// AppID overrides the client ID fetched from the remote config endpoint.
	AppID string `toml:"app_id"`
}

// APIConfig points at the metadata and remote config service.
type APIConfig struct {
	URL            string `toml:"url"`
	TimeoutSeconds int    `toml:"timeout_seconds"`
}

// PlexConfig holds optional overrides for reaching the media server.
type PlexConfig struct {
	// ServerURL skips plex.tv resource discovery when set.
	ServerURL      string `toml:"server_url"`
	TimeoutSeconds int    `toml:"timeout_seconds"`
}

// DisplayConfig holds presence display defaults.
type DisplayConfig struct {
	// LargeImage is the asset key shown when no poster art was resolved.
	LargeImage string `toml:"large_image"`
	// BookImage replaces LargeImage for audiobooks.
	BookImage string `toml:"book_image"`
	// SmallImage is the playback indicator asset key.
	SmallImage string        `toml:"small_image"`
	Button     ButtonsConfig `toml:"button"`
}

// ButtonsConfig describes the static button appended after any deep link.
type ButtonsConfig struct {
	Label string `toml:"label"`
	URL   string `toml:"url"`
}

// PrivacyConfig holds privacy settings.
type PrivacyConfig struct {
	// IgnoreLibraries lists glob patterns of library section titles whose
	// sessions are never broadcast.
	IgnoreLibraries []string `toml:"ignore_libraries"`
}

// BehaviorConfig holds reconciliation loop timing.
type BehaviorConfig struct {
	PollIntervalSeconds      int `toml:"poll_interval_seconds"`
	ReconnectIntervalSeconds int `toml:"reconnect_interval_seconds"`
	PauseCheckSeconds        int `toml:"pause_check_seconds"`
	// MetadataCacheSize bounds the number of cached metadata lookups.
	MetadataCacheSize int `toml:"metadata_cache_size"`
}

// LogConfig holds logging settings.
type LogConfig struct {
	// Level is the minimum log level (trace, debug, info, warn, error).
	Level string `toml:"level"`
	// MaxSizeMB is the maximum log file size in megabytes before rotation.
	MaxSizeMB int `toml:"max_size_mb"`
	// Console mirrors log output to stderr.
	Console bool `toml:"console"`
}

// ///////////////////////////////////////////////
// Default Configuration
// ///////////////////////////////////////////////

// DefaultConfig returns a Config populated with the built-in defaults.
func DefaultConfig() *Config {
	return &Config{
		Version: migrate.Config.CurrentVersion,
		API: APIConfig{
			TimeoutSeconds: 3,
		},
		Plex: PlexConfig{
			TimeoutSeconds: 5,
		},
		Display: DisplayConfig{
			LargeImage: "plex_logo",
			BookImage:  "book_icon",
			SmallImage: "playing_icon",
			Button: ButtonsConfig{
				Label: "Get PlexRPC",
				URL:   "https://github.com/malvinarum/Plex-Rich-Presence",
			},
		},
		Privacy: PrivacyConfig{
			IgnoreLibraries: []string{},
		},
		Behavior: BehaviorConfig{
			PollIntervalSeconds:      15,
			ReconnectIntervalSeconds: 30,
			PauseCheckSeconds:        2,
			MetadataCacheSize:        2048,
		},
		Log: LogConfig{
			Level:     "info",
			MaxSizeMB: 5,
			Console:   true,
		},
	}
}

// ///////////////////////////////////////////////
// Durations
// ///////////////////////////////////////////////

// PollInterval is the wait between reconciliation ticks.
func (c *Config) PollInterval() time.Duration {
	return time.Duration(c.Behavior.PollIntervalSeconds) * time.Second
}

// ReconnectInterval is the backoff after the session source fails.
func (c *Config) ReconnectInterval() time.Duration {
	return time.Duration(c.Behavior.ReconnectIntervalSeconds) * time.Second
}

// PauseCheck is the re-check interval while presence is paused.
func (c *Config) PauseCheck() time.Duration {
	return time.Duration(c.Behavior.PauseCheckSeconds) * time.Second
}

// APITimeout bounds each metadata lookup.
func (c *Config) APITimeout() time.Duration {
	return time.Duration(c.API.TimeoutSeconds) * time.Second
}

// PlexTimeout bounds each session fetch.
func (c *Config) PlexTimeout() time.Duration {
	return time.Duration(c.Plex.TimeoutSeconds) * time.Second
}

// ///////////////////////////////////////////////
// PeekVersion
// ///////////////////////////////////////////////

// PeekVersion reads just the version field from raw TOML bytes.
// Returns 1 if the version field is missing or zero.
func PeekVersion(data []byte) int {
	var v struct {
		Version int `toml:"version"`
	}
	if err := toml.Unmarshal(data, &v); err != nil || v.Version == 0 {
		return 1
	}
	return v.Version
}

// ///////////////////////////////////////////////
// Loading and Saving
// ///////////////////////////////////////////////

// Seed writes defaultTOML to path unless a file already exists there.
// It reports whether a file was written.
func Seed(path string, defaultTOML []byte) (bool, error) {
	if _, err := os.Stat(path); err == nil {
		return false, nil
	} else if !os.IsNotExist(err) {
		return false, fmt.Errorf("stat config: %w", err)
	}
	if err := atomicfile.Write(path, defaultTOML, 0o644); err != nil {
		return false, fmt.Errorf("seed config: %w", err)
	}
	return true, nil
}

// Load reads and validates the configuration file at path. A missing file
// yields DefaultConfig. Older schema versions are migrated, backed up to
// path+".bak" and re-saved.
func Load(path string, log *slog.Logger) (*Config, error) {
	if log == nil {
		log = logger.Discard()
	}

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return DefaultConfig(), nil
		}
		return nil, fmt.Errorf("read config file: %w", err)
	}

	version := PeekVersion(data)
	migrated := migrate.Config.NeedsMigration(version)
	if migrated {
		if err := os.WriteFile(path+".bak", data, 0o644); err != nil {
			log.Warn("failed to write config backup", "error", err)
		}
		data, _, err = migrate.Config.Run(data, version, log)
		if err != nil {
			return nil, fmt.Errorf("migrate config: %w", err)
		}
	}

	cfg := DefaultConfig()
	if err := toml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}
	cfg.Version = migrate.Config.CurrentVersion

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validate config: %w", err)
	}

	if migrated {
		if err := cfg.Save(path); err != nil {
			log.Warn("failed to save migrated config", "error", err)
		}
	}
	return cfg, nil
}

// Save writes the config to disk as TOML using atomic file write.
func (c *Config) Save(path string) error {
	var buf bytes.Buffer
	if err := toml.NewEncoder(&buf).Encode(c); err != nil {
		return fmt.Errorf("encoding config: %w", err)
	}
	return atomicfile.Write(path, buf.Bytes(), 0o644)
}

// ///////////////////////////////////////////////
// Validation
// ///////////////////////////////////////////////

// Validate checks that all configuration values are within acceptable ranges.
func (c *Config) Validate() error {
	if !logger.ValidLevel(c.Log.Level) {
		return fmt.Errorf("invalid log.level %q: must be trace, debug, info, warn, error, or fail", c.Log.Level)
	}
	if c.Log.MaxSizeMB <= 0 {
		return fmt.Errorf("log.max_size_mb must be > 0, got %d", c.Log.MaxSizeMB)
	}

	positive := []struct {
		key string
		val int
	}{
		{"behavior.poll_interval_seconds", c.Behavior.PollIntervalSeconds},
		{"behavior.reconnect_interval_seconds", c.Behavior.ReconnectIntervalSeconds},
		{"behavior.pause_check_seconds", c.Behavior.PauseCheckSeconds},
		{"behavior.metadata_cache_size", c.Behavior.MetadataCacheSize},
		{"api.timeout_seconds", c.API.TimeoutSeconds},
		{"plex.timeout_seconds", c.Plex.TimeoutSeconds},
	}
	for _, p := range positive {
		if p.val <= 0 {
			return fmt.Errorf("%s must be > 0, got %d", p.key, p.val)
		}
	}

	for _, raw := range []struct{ key, val string }{
		{"api.url", c.API.URL},
		{"plex.server_url", c.Plex.ServerURL},
		{"display.button.url", c.Display.Button.URL},
	} {
		if raw.val == "" {
			continue
		}
		u, err := url.Parse(raw.val)
		if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
			return fmt.Errorf("invalid %s %q: must be an absolute http(s) URL", raw.key, raw.val)
		}
	}

	if (c.Display.Button.Label == "") != (c.Display.Button.URL == "") {
		return fmt.Errorf("display.button needs both label and url, or neither")
	}

	for _, pattern := range c.Privacy.IgnoreLibraries {
		if !doublestar.ValidatePattern(pattern) {
			return fmt.Errorf("invalid privacy.ignore_libraries pattern %q", pattern)
		}
	}
	return nil
}

// CheckClientSource reports whether the daemon has any way to learn its
// Discord application ID.
func (c *Config) CheckClientSource() error {
	if c.Discord.AppID == "" && c.API.URL == "" {
		return ErrNoClientSource
	}
	return nil
}
