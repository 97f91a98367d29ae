package calibre

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseBooks(t *testing.T) {
	data := []byte(`[
		{
			"id": 42,
			"title": " The Dispossessed ",
			"authors": ["Ursula K. Le Guin"],
			"series": "Hainish Cycle",
			"publisher": "Harper & Row",
			"pubdate": "1974-05-01T00:00:00+00:00",
			"languages": ["eng"],
			"formats": ["EPUB", "PDF"],
			"isbn": "9780060125639",
			"identifiers": {"ISBN": "9780060125639", "goodreads": "13651"},
			"tags": ["Science Fiction", "Utopia"],
			"comments": "<p>An ambiguous utopia.</p>",
			"cover": "/library/Ursula K. Le Guin/The Dispossessed (42)/cover.jpg",
			"last_modified": "2024-01-02T03:04:05+00:00"
		}
	]`)

	books, err := ParseBooks(data)
	require.NoError(t, err)
	require.Len(t, books, 1)

	b := books[0]
	assert.Equal(t, int64(42), b.ID)
	assert.Equal(t, "The Dispossessed", b.Title)
	assert.Equal(t, []string{"Ursula K. Le Guin"}, b.Authors)
	assert.Equal(t, "Hainish Cycle", b.Series)
	assert.Equal(t, []string{"eng"}, b.Languages)
	assert.Equal(t, []string{"epub", "pdf"}, b.Formats)
	assert.Equal(t, "9780060125639", b.ISBN)
	assert.Equal(t, map[string]string{"isbn": "9780060125639", "goodreads": "13651"}, b.Identifiers)
	assert.Equal(t, []string{"Science Fiction", "Utopia"}, b.Tags)
	assert.True(t, b.HasCover)
}

func TestParseBooksStringVariants(t *testing.T) {
	data := []byte(`[
		{
			"id": 7,
			"title": "Solo",
			"authors": "Jane Doe",
			"languages": "EN",
			"formats": "EPUB; PDF",
			"tags": "fiction, drama",
			"cover": null
		}
	]`)

	books, err := ParseBooks(data)
	require.NoError(t, err)
	require.Len(t, books, 1)

	b := books[0]
	assert.Equal(t, []string{"Jane Doe"}, b.Authors)
	assert.Equal(t, []string{"en"}, b.Languages)
	assert.Equal(t, []string{"epub", "pdf"}, b.Formats)
	assert.Equal(t, []string{"fiction", "drama"}, b.Tags)
	assert.False(t, b.HasCover)
}

func TestParseBooksSkipsNonObjects(t *testing.T) {
	data := []byte(`[{"id": 1, "title": "Kept"}, "stray", 17, {"id": 2, "title": "Also kept"}]`)

	books, err := ParseBooks(data)
	require.NoError(t, err)
	require.Len(t, books, 2)
	assert.Equal(t, "Kept", books[0].Title)
	assert.Equal(t, "Also kept", books[1].Title)
}

func TestParseBooksRejectsNonArray(t *testing.T) {
	_, err := ParseBooks([]byte(`{"id": 1}`))
	assert.Error(t, err)
}

func TestParseBooksIdentifierNormalization(t *testing.T) {
	data := []byte(`[{"id": 3, "identifiers": {"Goodreads": " 123 ", "amazon": 42, "empty": "", " ": "x"}}]`)

	books, err := ParseBooks(data)
	require.NoError(t, err)
	require.Len(t, books, 1)
	assert.Equal(t, map[string]string{"goodreads": "123", "amazon": "42"}, books[0].Identifiers)
}

func TestHasAnyFormat(t *testing.T) {
	b := Book{Formats: []string{"epub", "mobi"}}
	assert.True(t, b.HasAnyFormat([]string{"epub", "pdf"}))
	assert.False(t, b.HasAnyFormat([]string{"pdf"}))
	assert.False(t, b.HasAnyFormat(nil))
}

func TestAvailableFormats(t *testing.T) {
	b := Book{Formats: []string{"pdf", "epub", "mobi"}}
	assert.Equal(t, []string{"epub", "pdf"}, b.AvailableFormats([]string{"epub", "pdf"}))
	assert.Empty(t, b.AvailableFormats([]string{"azw3"}))
}

func TestSnapshotProjection(t *testing.T) {
	b := Book{
		ID:           9,
		Title:        "Title",
		Authors:      []string{"A"},
		Series:       "S",
		Publisher:    "P",
		PubDate:      "2020-01-01",
		Languages:    []string{"en"},
		Formats:      []string{"epub"},
		ISBN:         "123",
		Identifiers:  map[string]string{"isbn": "123"},
		Tags:         []string{"t"},
		Comments:     "c",
		HasCover:     true,
		LastModified: "2024-01-01T00:00:00+00:00",
	}

	snap := b.Snapshot()
	assert.Equal(t, "Title", snap.Title)
	assert.Equal(t, "S", snap.Series)
	assert.True(t, snap.HasCover)

	fp1, err := snap.Fingerprint()
	require.NoError(t, err)

	// Fields outside the tracked set must not influence the fingerprint.
	b.Formats = []string{"epub", "pdf"}
	b.LastModified = "2025-06-06T00:00:00+00:00"
	fp2, err := b.Snapshot().Fingerprint()
	require.NoError(t, err)
	assert.Equal(t, fp1, fp2)
}
