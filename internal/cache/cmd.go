package cache

import (
	"fmt"
	"log/slog"

	"github.com/lepinkainen/seshat/internal/config"
)

// Cmd groups the cache maintenance subcommands.
type Cmd struct {
	Clear ClearCmd `cmd:"" help:"Delete all cached fetch results"`
	Prune PruneCmd `cmd:"" help:"Delete expired cached fetch results"`
}

// ClearCmd empties the fetch cache.
type ClearCmd struct{}

func (c *ClearCmd) Run() error {
	return withStore(func(store *Store) error {
		deleted, err := store.Purge()
		if err != nil {
			return err
		}
		slog.Info("Cache cleared", "entries_deleted", deleted)
		return nil
	})
}

// PruneCmd removes expired entries from the fetch cache.
type PruneCmd struct{}

func (p *PruneCmd) Run() error {
	return withStore(func(store *Store) error {
		deleted, err := store.PruneExpired()
		if err != nil {
			return err
		}
		slog.Info("Expired cache entries removed", "entries_deleted", deleted)
		return nil
	})
}

func withStore(fn func(*Store) error) error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}

	path := cfg.ResolveCacheDB()
	store, err := Open(path)
	if err != nil {
		return fmt.Errorf("open cache database %s: %w", path, err)
	}
	defer store.Close()

	return fn(store)
}
