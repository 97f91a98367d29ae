// Package config loads and validates the seshat configuration from viper
// into an immutable Config value passed to constructors.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/lepinkainen/seshat/internal/dedup"
	"github.com/lepinkainen/seshat/internal/metadata"
)

// Environment composition modes for calibredb invocations.
const (
	EnvModeInherit  = "inherit"
	EnvModeClean    = "clean"
	EnvModeOverride = "override"
)

const stateFileName = "seshat-state.json"

// LoggingConfig controls log output.
type LoggingConfig struct {
	Level string
}

// LibraryConfig identifies the Calibre library to operate on.
// Either Path (local) or URL (content server) must be set for update runs.
type LibraryConfig struct {
	Path     string
	URL      string
	Username string
	Password string
}

// IsRemote reports whether the library is a content-server URL.
func (l LibraryConfig) IsRemote() bool {
	return strings.HasPrefix(l.URL, "http://") || strings.HasPrefix(l.URL, "https://")
}

// Location returns the value passed to calibredb --with-library:
// the remote URL when configured, otherwise the local path.
func (l LibraryConfig) Location() string {
	if l.IsRemote() {
		return l.URL
	}
	return l.Path
}

// StateConfig controls the processing-state file.
type StateConfig struct {
	Path            string
	CheckpointEvery int
}

// CalibreDBConfig controls how calibredb is invoked.
type CalibreDBConfig struct {
	EnvMode       string
	DebugEnv      bool
	Timeout       time.Duration
	RetryAttempts int
	RetryDelay    time.Duration
}

// FetchConfig controls metadata fetching behaviour.
// HeadlessEnv entries use KEY=VALUE form, same as exec.Cmd.Env.
type FetchConfig struct {
	Headless    bool
	HeadlessEnv []string
	Timeout     time.Duration
	Delay       time.Duration
	CacheDB     string
	CacheTTL    time.Duration
}

// PolicyConfig holds the processing policy knobs.
type PolicyConfig struct {
	DryRun                 bool
	ReprocessOnChange      bool
	MinScoreToSkipFetch    int
	IncludeMissingLanguage bool
	Languages              []string
}

// DupsConfig holds defaults for the duplicate finder.
type DupsConfig struct {
	Extensions      []string
	MinSize         int64
	IncludeSidecars bool
	FollowSymlinks  bool
	Workers         int
	Format          string
}

// Config is the full application configuration. Loaded once at startup and
// treated as immutable afterwards.
type Config struct {
	Logging   LoggingConfig
	Library   LibraryConfig
	State     StateConfig
	Formats   []string
	CalibreDB CalibreDBConfig
	Fetch     FetchConfig
	Policy    PolicyConfig
	Scoring   metadata.Weights
	Dups      DupsConfig
}

// SetDefaults registers all configuration defaults with viper.
// Called once before reading the config file.
func SetDefaults() {
	viper.SetDefault("logging.level", "info")

	viper.SetDefault("library.path", "")
	viper.SetDefault("library.url", "")
	viper.SetDefault("library.username", "")
	viper.SetDefault("library.password", "")

	viper.SetDefault("state.path", "")
	viper.SetDefault("state.checkpoint_every", 1)

	viper.SetDefault("formats", []string{"epub", "pdf"})

	viper.SetDefault("calibredb.env_mode", EnvModeInherit)
	viper.SetDefault("calibredb.debug_env", false)
	viper.SetDefault("calibredb.timeout", "300s")
	viper.SetDefault("calibredb.retry_attempts", 3)
	viper.SetDefault("calibredb.retry_delay", "2s")

	viper.SetDefault("fetch.headless", true)
	viper.SetDefault("fetch.headless_env", DefaultHeadlessEnv())
	viper.SetDefault("fetch.timeout", "120s")
	viper.SetDefault("fetch.delay", "350ms")
	viper.SetDefault("fetch.cache_db", "")
	viper.SetDefault("fetch.cache_ttl", "720h")

	viper.SetDefault("policy.dry_run", false)
	viper.SetDefault("policy.reprocess_on_change", false)
	viper.SetDefault("policy.min_score_to_skip_fetch", 70)
	viper.SetDefault("policy.include_missing_language", true)
	viper.SetDefault("policy.languages", []string{"en", "eng", "en-us", "en-gb"})

	viper.SetDefault("scoring.title", 15)
	viper.SetDefault("scoring.authors", 15)
	viper.SetDefault("scoring.series", 5)
	viper.SetDefault("scoring.publisher", 10)
	viper.SetDefault("scoring.pubdate", 5)
	viper.SetDefault("scoring.isbn", 15)
	viper.SetDefault("scoring.identifiers", 10)
	viper.SetDefault("scoring.tags", 10)
	viper.SetDefault("scoring.comments", 15)
	viper.SetDefault("scoring.cover", 10)
	viper.SetDefault("scoring.require_title", true)
	viper.SetDefault("scoring.require_authors", true)

	viper.SetDefault("dups.extensions", DefaultDupExtensions())
	viper.SetDefault("dups.min_size", 0)
	viper.SetDefault("dups.include_sidecars", false)
	viper.SetDefault("dups.follow_symlinks", false)
	viper.SetDefault("dups.workers", 0)
	viper.SetDefault("dups.format", "text")
}

// DefaultDupExtensions returns the default extension filter for the
// duplicate finder.
func DefaultDupExtensions() []string {
	return dedup.DefaultExtensions()
}

// DefaultHeadlessEnv returns the environment applied to fetch-ebook-metadata
// when headless mode is enabled, in KEY=VALUE form. Forces Qt offscreen
// rendering so the tool runs on servers without a display.
func DefaultHeadlessEnv() []string {
	return []string{
		"QT_QPA_PLATFORM=offscreen",
		"QTWEBENGINE_DISABLE_SANDBOX=1",
		"QTWEBENGINE_CHROMIUM_FLAGS=--no-sandbox --disable-gpu",
		"QTWEBENGINE_DISABLE_GPU=1",
		"LIBGL_ALWAYS_SOFTWARE=1",
	}
}

// Load reads the current viper state into a validated Config.
func Load() (*Config, error) {
	cfg := &Config{
		Logging: LoggingConfig{
			Level: viper.GetString("logging.level"),
		},
		Library: LibraryConfig{
			Path:     strings.TrimSpace(viper.GetString("library.path")),
			URL:      normalizeLibraryURL(viper.GetString("library.url")),
			Username: viper.GetString("library.username"),
			Password: viper.GetString("library.password"),
		},
		State: StateConfig{
			Path:            viper.GetString("state.path"),
			CheckpointEvery: viper.GetInt("state.checkpoint_every"),
		},
		Formats: normalizeFormats(viper.GetStringSlice("formats")),
		CalibreDB: CalibreDBConfig{
			EnvMode:       viper.GetString("calibredb.env_mode"),
			DebugEnv:      viper.GetBool("calibredb.debug_env"),
			Timeout:       viper.GetDuration("calibredb.timeout"),
			RetryAttempts: viper.GetInt("calibredb.retry_attempts"),
			RetryDelay:    viper.GetDuration("calibredb.retry_delay"),
		},
		Fetch: FetchConfig{
			Headless:    viper.GetBool("fetch.headless"),
			HeadlessEnv: viper.GetStringSlice("fetch.headless_env"),
			Timeout:     viper.GetDuration("fetch.timeout"),
			Delay:       viper.GetDuration("fetch.delay"),
			CacheDB:     viper.GetString("fetch.cache_db"),
			CacheTTL:    viper.GetDuration("fetch.cache_ttl"),
		},
		Policy: PolicyConfig{
			DryRun:                 viper.GetBool("policy.dry_run"),
			ReprocessOnChange:      viper.GetBool("policy.reprocess_on_change"),
			MinScoreToSkipFetch:    viper.GetInt("policy.min_score_to_skip_fetch"),
			IncludeMissingLanguage: viper.GetBool("policy.include_missing_language"),
			Languages:              viper.GetStringSlice("policy.languages"),
		},
		Scoring: metadata.Weights{
			Title:          viper.GetInt("scoring.title"),
			Authors:        viper.GetInt("scoring.authors"),
			Series:         viper.GetInt("scoring.series"),
			Publisher:      viper.GetInt("scoring.publisher"),
			PubDate:        viper.GetInt("scoring.pubdate"),
			ISBN:           viper.GetInt("scoring.isbn"),
			Identifiers:    viper.GetInt("scoring.identifiers"),
			Tags:           viper.GetInt("scoring.tags"),
			Comments:       viper.GetInt("scoring.comments"),
			Cover:          viper.GetInt("scoring.cover"),
			RequireTitle:   viper.GetBool("scoring.require_title"),
			RequireAuthors: viper.GetBool("scoring.require_authors"),
		},
		Dups: DupsConfig{
			Extensions:      viper.GetStringSlice("dups.extensions"),
			MinSize:         viper.GetInt64("dups.min_size"),
			IncludeSidecars: viper.GetBool("dups.include_sidecars"),
			FollowSymlinks:  viper.GetBool("dups.follow_symlinks"),
			Workers:         viper.GetInt("dups.workers"),
			Format:          viper.GetString("dups.format"),
		},
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// Validate checks invariants that hold for every run mode.
// Mode-specific requirements (library presence for update, root for dups)
// are checked by the commands themselves.
func (c *Config) Validate() error {
	switch c.CalibreDB.EnvMode {
	case EnvModeInherit, EnvModeClean, EnvModeOverride:
	default:
		return fmt.Errorf("invalid calibredb.env_mode %q (want inherit, clean or override)", c.CalibreDB.EnvMode)
	}

	if len(c.Formats) == 0 {
		return fmt.Errorf("formats must list at least one target format")
	}

	if c.Scoring.Total() <= 0 {
		return fmt.Errorf("scoring weights must sum to a positive total")
	}
	if err := c.Scoring.Validate(); err != nil {
		return err
	}

	if c.Fetch.Delay < 0 {
		return fmt.Errorf("fetch.delay must not be negative")
	}
	if c.Policy.MinScoreToSkipFetch < 0 || c.Policy.MinScoreToSkipFetch > 100 {
		return fmt.Errorf("policy.min_score_to_skip_fetch must be in [0, 100], got %d", c.Policy.MinScoreToSkipFetch)
	}
	if c.State.CheckpointEvery < 1 {
		return fmt.Errorf("state.checkpoint_every must be at least 1")
	}

	switch c.Dups.Format {
	case "text", "json", "yaml":
	default:
		return fmt.Errorf("invalid dups.format %q (want text, json or yaml)", c.Dups.Format)
	}

	return nil
}

// ResolveStatePath returns the path of the processing-state file: the
// configured path if set, the library directory for local libraries, or the
// user cache directory for remote libraries.
func (c *Config) ResolveStatePath() (string, error) {
	if c.State.Path != "" {
		return c.State.Path, nil
	}
	if !c.Library.IsRemote() && c.Library.Path != "" {
		return filepath.Join(c.Library.Path, stateFileName), nil
	}

	cacheDir, err := os.UserCacheDir()
	if err != nil {
		return "", fmt.Errorf("state.path not set and no user cache directory: %w", err)
	}
	return filepath.Join(cacheDir, "seshat", "state.json"), nil
}

// ResolveCacheDB returns the path of the fetch-result cache database.
func (c *Config) ResolveCacheDB() string {
	if c.Fetch.CacheDB != "" {
		return c.Fetch.CacheDB
	}
	cacheDir, err := os.UserCacheDir()
	if err != nil {
		return "./seshat-cache.db"
	}
	return filepath.Join(cacheDir, "seshat", "fetch-cache.db")
}

// normalizeLibraryURL strips trailing slashes so content-server URLs with a
// library fragment ("http://host:8081/#fiction/") keep working.
func normalizeLibraryURL(url string) string {
	url = strings.TrimSpace(url)
	if strings.HasPrefix(url, "http://") || strings.HasPrefix(url, "https://") {
		return strings.TrimRight(url, "/")
	}
	return url
}

func normalizeFormats(formats []string) []string {
	out := make([]string, 0, len(formats))
	for _, f := range formats {
		f = strings.ToLower(strings.TrimPrefix(strings.TrimSpace(f), "."))
		if f != "" {
			out = append(out, f)
		}
	}
	return out
}
