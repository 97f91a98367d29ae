package updater

import (
	"context"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/lepinkainen/seshat/internal/cache"
	"github.com/lepinkainen/seshat/internal/calibre"
	seshaterrors "github.com/lepinkainen/seshat/internal/errors"
	"github.com/lepinkainen/seshat/internal/metadata"
)

// MetadataSource is the raw external lookup. calibre.Client satisfies this.
type MetadataSource interface {
	Fetch(ctx context.Context, book *calibre.Book) (*metadata.Fetched, error)
}

// CachedFetcher wraps a MetadataSource with the fetch-result cache, so
// re-runs after partial failures do not hit the external service again.
// "Not found" results are cached too, with a shorter lifetime.
type CachedFetcher struct {
	Source MetadataSource
	// Cache may be nil, which degrades to direct fetches.
	Cache *cache.Store
	// TTL for positive results; zero means cache.DefaultTTL.
	TTL time.Duration
	// Refresh drops any existing cache entry before fetching.
	Refresh bool
}

// cachedLookup is the persisted form of one lookup, positive or negative.
type cachedLookup struct {
	NotFound bool              `json:"not_found,omitempty"`
	Data     *metadata.Fetched `json:"data,omitempty"`
}

// Fetch implements Fetcher. The cached return is false whenever the external
// service was actually contacted.
func (f *CachedFetcher) Fetch(ctx context.Context, book *calibre.Book) (*metadata.Fetched, bool, error) {
	key := lookupKey(book)

	if f.Refresh && f.Cache != nil {
		if err := f.Cache.Delete(key); err != nil {
			slog.Warn("Failed to drop cache entry", "key", key, "error", err)
		}
	}

	result, cached, err := cache.GetOrFetch(f.Cache, key, func() (cachedLookup, error) {
		fetched, err := f.Source.Fetch(ctx, book)
		if seshaterrors.IsNotFound(err) {
			return cachedLookup{NotFound: true}, nil
		}
		if err != nil {
			return cachedLookup{}, err
		}
		return cachedLookup{Data: fetched}, nil
	}, f.ttlFor)
	if err != nil {
		return nil, false, err
	}

	if result.NotFound || result.Data == nil {
		return nil, cached, seshaterrors.NewNotFoundError(key)
	}

	// A cached entry's cover file lived in a temp dir of an earlier run.
	if cached && result.Data.CoverPath != "" {
		if _, err := os.Stat(result.Data.CoverPath); err != nil {
			result.Data.CoverPath = ""
		}
	}
	return result.Data, cached, nil
}

func (f *CachedFetcher) ttlFor(result cachedLookup) time.Duration {
	if result.NotFound {
		return cache.NegativeTTL
	}
	if f.TTL > 0 {
		return f.TTL
	}
	return cache.DefaultTTL
}

// lookupKey identifies a book for caching by what the lookup would query:
// the ISBN when there is one, otherwise title plus authors.
func lookupKey(book *calibre.Book) string {
	if book.ISBN != "" {
		return "isbn:" + book.ISBN
	}
	if isbn := book.Identifiers["isbn"]; isbn != "" {
		return "isbn:" + isbn
	}
	return "title:" + strings.ToLower(strings.TrimSpace(book.Title)) +
		"|authors:" + strings.ToLower(strings.Join(book.Authors, ", "))
}
