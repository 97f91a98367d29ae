package updater

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lepinkainen/seshat/internal/cache"
	"github.com/lepinkainen/seshat/internal/calibre"
	seshaterrors "github.com/lepinkainen/seshat/internal/errors"
	"github.com/lepinkainen/seshat/internal/metadata"
)

type fakeSource struct {
	calls   int
	fetched *metadata.Fetched
	err     error
}

func (f *fakeSource) Fetch(_ context.Context, _ *calibre.Book) (*metadata.Fetched, error) {
	f.calls++
	return f.fetched, f.err
}

func openTestCache(t *testing.T) *cache.Store {
	t.Helper()

	store, err := cache.Open(filepath.Join(t.TempDir(), "fetch-cache.db"))
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })
	return store
}

func TestCachedFetcherCachesPositiveResults(t *testing.T) {
	source := &fakeSource{fetched: &metadata.Fetched{Title: "Found Title"}}
	fetcher := &CachedFetcher{Source: source, Cache: openTestCache(t)}
	book := &calibre.Book{ID: 1, ISBN: "9780441478125"}

	fetched, cached, err := fetcher.Fetch(context.Background(), book)
	require.NoError(t, err)
	assert.False(t, cached)
	assert.Equal(t, "Found Title", fetched.Title)
	assert.Equal(t, 1, source.calls)

	fetched, cached, err = fetcher.Fetch(context.Background(), book)
	require.NoError(t, err)
	assert.True(t, cached)
	assert.Equal(t, "Found Title", fetched.Title)
	assert.Equal(t, 1, source.calls, "second lookup must come from the cache")
}

func TestCachedFetcherCachesNotFound(t *testing.T) {
	source := &fakeSource{err: seshaterrors.NewNotFoundError("isbn:123")}
	fetcher := &CachedFetcher{Source: source, Cache: openTestCache(t)}
	book := &calibre.Book{ID: 1, ISBN: "123"}

	for i := range 2 {
		_, _, err := fetcher.Fetch(context.Background(), book)
		require.Error(t, err)
		assert.True(t, seshaterrors.IsNotFound(err), "run %d", i)
	}
	assert.Equal(t, 1, source.calls, "negative result must be cached")
}

func TestCachedFetcherDoesNotCacheErrors(t *testing.T) {
	source := &fakeSource{err: errors.New("tool crashed")}
	fetcher := &CachedFetcher{Source: source, Cache: openTestCache(t)}
	book := &calibre.Book{ID: 1, ISBN: "123"}

	for range 2 {
		_, _, err := fetcher.Fetch(context.Background(), book)
		require.Error(t, err)
	}
	assert.Equal(t, 2, source.calls, "hard failures must not be cached")
}

func TestCachedFetcherRefreshBypassesCache(t *testing.T) {
	source := &fakeSource{fetched: &metadata.Fetched{Title: "Found Title"}}
	store := openTestCache(t)
	book := &calibre.Book{ID: 1, ISBN: "123"}

	fetcher := &CachedFetcher{Source: source, Cache: store}
	_, _, err := fetcher.Fetch(context.Background(), book)
	require.NoError(t, err)

	refresher := &CachedFetcher{Source: source, Cache: store, Refresh: true}
	_, cached, err := refresher.Fetch(context.Background(), book)
	require.NoError(t, err)
	assert.False(t, cached)
	assert.Equal(t, 2, source.calls)
}

func TestCachedFetcherWithoutCacheFetchesDirectly(t *testing.T) {
	source := &fakeSource{fetched: &metadata.Fetched{Title: "Found Title"}}
	fetcher := &CachedFetcher{Source: source}
	book := &calibre.Book{ID: 1, ISBN: "123"}

	for range 2 {
		_, cached, err := fetcher.Fetch(context.Background(), book)
		require.NoError(t, err)
		assert.False(t, cached)
	}
	assert.Equal(t, 2, source.calls)
}

func TestCachedFetcherDropsStaleCoverPath(t *testing.T) {
	coverFile := filepath.Join(t.TempDir(), "cover.jpg")
	require.NoError(t, os.WriteFile(coverFile, []byte("jpeg"), 0o644))

	source := &fakeSource{fetched: &metadata.Fetched{Title: "T", CoverPath: coverFile}}
	fetcher := &CachedFetcher{Source: source, Cache: openTestCache(t)}
	book := &calibre.Book{ID: 1, ISBN: "123"}

	fetched, _, err := fetcher.Fetch(context.Background(), book)
	require.NoError(t, err)
	assert.Equal(t, coverFile, fetched.CoverPath)

	// The temp cover of the first run is gone by the time the cache entry is
	// read again.
	require.NoError(t, os.Remove(coverFile))

	fetched, cached, err := fetcher.Fetch(context.Background(), book)
	require.NoError(t, err)
	assert.True(t, cached)
	assert.Empty(t, fetched.CoverPath)
}

func TestLookupKey(t *testing.T) {
	tests := []struct {
		name string
		book calibre.Book
		want string
	}{
		{
			name: "isbn field wins",
			book: calibre.Book{ISBN: "9780441478125", Title: "Ignored"},
			want: "isbn:9780441478125",
		},
		{
			name: "isbn identifier used when field empty",
			book: calibre.Book{Identifiers: map[string]string{"isbn": "123"}},
			want: "isbn:123",
		},
		{
			name: "title and authors fallback",
			book: calibre.Book{Title: "The Dispossessed", Authors: []string{"Ursula K. Le Guin"}},
			want: "title:the dispossessed|authors:ursula k. le guin",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, lookupKey(&tt.book))
		})
	}
}
