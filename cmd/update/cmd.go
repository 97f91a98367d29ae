// Package update implements the default command: the bulk metadata update
// run over a Calibre library.
package update

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"strings"

	"github.com/spf13/viper"

	"github.com/lepinkainen/seshat/internal/cache"
	"github.com/lepinkainen/seshat/internal/calibre"
	"github.com/lepinkainen/seshat/internal/config"
	"github.com/lepinkainen/seshat/internal/ratelimit"
	"github.com/lepinkainen/seshat/internal/state"
	"github.com/lepinkainen/seshat/internal/updater"
)

// Stubbed in tests.
var newClient = func(opts calibre.Options) (*calibre.Client, error) {
	return calibre.New(opts)
}

// Cmd is the update command. Flags override the corresponding config values.
type Cmd struct {
	Library      string   `help:"Path to the local Calibre library" type:"path" placeholder:"PATH"`
	LibraryURL   string   `help:"Calibre content server URL (overrides --library)" placeholder:"URL"`
	Username     string   `help:"Content server username"`
	Password     string   `help:"Content server password"`
	Formats      []string `short:"f" help:"Target formats to update and embed (e.g. epub,pdf)"`
	DryRun       bool     `help:"Report decisions without fetching, writing or embedding anything"`
	Reprocess    bool     `help:"Reprocess books whose tracked metadata changed since the last run"`
	MinScore     *int     `help:"Completeness score at or above which fetching is skipped" placeholder:"N"`
	State        string   `help:"Path to the processing-state file" type:"path" placeholder:"PATH"`
	RefreshCache bool     `help:"Ignore cached fetch results and hit the metadata service again"`
}

// Run wires the collaborators together and executes the update.
func (c *Cmd) Run() error {
	c.applyOverrides()

	cfg, err := config.Load()
	if err != nil {
		return err
	}
	if cfg.Library.Location() == "" {
		return fmt.Errorf("no library configured: set library.path or library.url, or pass --library")
	}
	if !cfg.Library.IsRemote() {
		if info, err := os.Stat(cfg.Library.Path); err != nil || !info.IsDir() {
			return fmt.Errorf("library path is not a directory: %s", cfg.Library.Path)
		}
	}

	statePath, err := cfg.ResolveStatePath()
	if err != nil {
		return err
	}
	store := state.New(statePath)
	if err := store.Load(); err != nil {
		return err
	}
	slog.Info("Loaded processing state", "path", statePath, "records", store.Len())

	client, err := newClient(calibre.Options{
		Library:       cfg.Library.Location(),
		Username:      cfg.Library.Username,
		Password:      cfg.Library.Password,
		Formats:       cfg.Formats,
		EnvMode:       cfg.CalibreDB.EnvMode,
		DebugEnv:      cfg.CalibreDB.DebugEnv,
		Timeout:       cfg.CalibreDB.Timeout,
		RetryAttempts: cfg.CalibreDB.RetryAttempts,
		RetryDelay:    cfg.CalibreDB.RetryDelay,
		FetchTimeout:  cfg.Fetch.Timeout,
		Headless:      cfg.Fetch.Headless,
		HeadlessEnv:   cfg.Fetch.HeadlessEnv,
	})
	if err != nil {
		return err
	}

	fetcher := &updater.CachedFetcher{
		Source:  client,
		TTL:     cfg.Fetch.CacheTTL,
		Refresh: c.RefreshCache,
	}
	if !cfg.Policy.DryRun {
		cacheStore, err := cache.Open(cfg.ResolveCacheDB())
		if err != nil {
			slog.Warn("Fetch cache unavailable, fetching directly", "error", err)
		} else {
			defer cacheStore.Close()
			fetcher.Cache = cacheStore
		}
	}

	engine := updater.New(updater.Options{
		Enumerator:      client,
		Fetcher:         fetcher,
		Catalog:         client,
		Embedder:        client,
		Store:           store,
		Throttle:        ratelimit.NewInterval("fetch-ebook-metadata", cfg.Fetch.Delay),
		Policy:          cfg.Policy,
		Weights:         cfg.Scoring,
		Formats:         cfg.Formats,
		CheckpointEvery: cfg.State.CheckpointEvery,
	})

	_, err = engine.Run(context.Background())
	return err
}

// applyOverrides pushes set flags into viper before the config is loaded, so
// precedence stays flag > env > file > default.
func (c *Cmd) applyOverrides() {
	if c.Library != "" {
		viper.Set("library.path", c.Library)
		viper.Set("library.url", "")
	}
	if c.LibraryURL != "" {
		viper.Set("library.url", c.LibraryURL)
	}
	if c.Username != "" {
		viper.Set("library.username", c.Username)
	}
	if c.Password != "" {
		viper.Set("library.password", c.Password)
	}
	if len(c.Formats) > 0 {
		viper.Set("formats", splitFormats(c.Formats))
	}
	if c.DryRun {
		viper.Set("policy.dry_run", true)
	}
	if c.Reprocess {
		viper.Set("policy.reprocess_on_change", true)
	}
	if c.MinScore != nil {
		viper.Set("policy.min_score_to_skip_fetch", *c.MinScore)
	}
	if c.State != "" {
		viper.Set("state.path", c.State)
	}
}

// splitFormats tolerates both repeated flags and one comma separated value.
func splitFormats(values []string) []string {
	var out []string
	for _, value := range values {
		for _, part := range strings.Split(value, ",") {
			if part = strings.TrimSpace(part); part != "" {
				out = append(out, part)
			}
		}
	}
	return out
}
