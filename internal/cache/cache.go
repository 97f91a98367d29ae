// Package cache is a JSON-over-SQLite cache for external fetch results.
// Every entry carries its own expiry, which lets "not found" responses be
// cached for a shorter time than real results.
package cache

import (
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	_ "modernc.org/sqlite"
)

const (
	// DefaultTTL is how long successful fetch results stay valid (30 days).
	DefaultTTL = 720 * time.Hour
	// NegativeTTL is how long "not found" responses stay valid (7 days).
	NegativeTTL = 168 * time.Hour
)

// FetchFunc fetches data from an external source on a cache miss.
type FetchFunc[T any] func() (T, error)

// Store manages the SQLite cache database.
type Store struct {
	db *sql.DB
	mu sync.RWMutex
}

// Open opens or creates the cache database at path and ensures its schema.
func Open(path string) (*Store, error) {
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create cache directory: %w", err)
		}
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open cache database: %w", err)
	}
	db.SetMaxOpenConns(10)
	db.SetMaxIdleConns(5)

	if err := db.Ping(); err != nil {
		closeErr := db.Close()
		return nil, errors.Join(fmt.Errorf("connect to cache database: %w", err), closeErr)
	}
	if _, err := db.Exec(fetchCacheSchema); err != nil {
		closeErr := db.Close()
		return nil, errors.Join(fmt.Errorf("create cache schema: %w", err), closeErr)
	}

	return &Store{db: db}, nil
}

// Close closes the database connection.
func (s *Store) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.db != nil {
		return s.db.Close()
	}
	return nil
}

// Get returns the cached JSON for key, and whether a live entry existed.
// Expired entries count as misses.
func (s *Store) Get(key string) (string, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var data string
	var expiresAt time.Time
	err := s.db.QueryRow(
		`SELECT data, expires_at FROM fetch_cache WHERE cache_key = ?`, key,
	).Scan(&data, &expiresAt)
	if err == sql.ErrNoRows {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("query cache: %w", err)
	}

	if time.Now().UTC().After(expiresAt) {
		slog.Debug("Cache entry expired", "key", key)
		return "", false, nil
	}
	return data, true, nil
}

// Set stores JSON data under key with the given time-to-live.
func (s *Store) Set(key, data string, ttl time.Duration) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, err := s.db.Exec(
		`INSERT OR REPLACE INTO fetch_cache (cache_key, data, cached_at, expires_at)
		 VALUES (?, ?, CURRENT_TIMESTAMP, ?)`,
		key, data, time.Now().UTC().Add(ttl),
	)
	if err != nil {
		return fmt.Errorf("set cache: %w", err)
	}
	return nil
}

// Delete removes the entry for key if present.
func (s *Store) Delete(key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, err := s.db.Exec(`DELETE FROM fetch_cache WHERE cache_key = ?`, key); err != nil {
		return fmt.Errorf("delete cache entry: %w", err)
	}
	return nil
}

// Purge removes every entry and returns the number deleted.
func (s *Store) Purge() (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	result, err := s.db.Exec(`DELETE FROM fetch_cache`)
	if err != nil {
		return 0, fmt.Errorf("purge cache: %w", err)
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("purge cache: %w", err)
	}
	return rows, nil
}

// PruneExpired removes entries past their expiry and returns the number
// deleted.
func (s *Store) PruneExpired() (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	result, err := s.db.Exec(`DELETE FROM fetch_cache WHERE expires_at < ?`, time.Now().UTC())
	if err != nil {
		return 0, fmt.Errorf("prune cache: %w", err)
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("prune cache: %w", err)
	}
	return rows, nil
}

// GetOrFetch returns the cached value for key, or calls fetch and caches the
// result. ttlFor picks the entry's lifetime from the fetched value; nil means
// DefaultTTL. A nil store degrades to a direct fetch, as do cache read and
// write problems: caching never fails the fetch itself.
func GetOrFetch[T any](s *Store, key string, fetch FetchFunc[T], ttlFor func(T) time.Duration) (T, bool, error) {
	var zero T

	if s == nil {
		data, err := fetch()
		return data, false, err
	}

	cached, hit, err := s.Get(key)
	if err != nil {
		slog.Warn("Cache read failed, fetching directly", "key", key, "error", err)
	} else if hit {
		var result T
		if err := json.Unmarshal([]byte(cached), &result); err == nil {
			slog.Debug("Cache hit", "key", key)
			return result, true, nil
		}
		slog.Warn("Discarding undecodable cache entry", "key", key, "error", err)
	}

	slog.Debug("Cache miss, fetching", "key", key)
	data, err := fetch()
	if err != nil {
		return zero, false, err
	}

	ttl := DefaultTTL
	if ttlFor != nil {
		ttl = ttlFor(data)
	}

	encoded, err := json.Marshal(data)
	if err != nil {
		slog.Warn("Failed to encode value for caching", "key", key, "error", err)
		return data, false, nil
	}
	if err := s.Set(key, string(encoded), ttl); err != nil {
		slog.Warn("Failed to cache value", "key", key, "error", err)
	}
	return data, false, nil
}

// SelectNegativeTTL returns a TTL selector that caches "not found" results
// for NegativeTTL and everything else for DefaultTTL.
func SelectNegativeTTL[T any](isNotFound func(T) bool) func(T) time.Duration {
	return func(result T) time.Duration {
		if isNotFound(result) {
			return NegativeTTL
		}
		return DefaultTTL
	}
}
