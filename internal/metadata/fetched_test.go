package metadata

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestMergeFillsGapsOnly(t *testing.T) {
	snap := Snapshot{
		Title:   "Existing Title",
		Authors: []string{"Existing Author"},
	}
	fetched := &Fetched{
		Title:     "Fetched Title",
		Authors:   []string{"Fetched Author"},
		Publisher: "Fetched Publisher",
		PubDate:   "2010-01-01",
		Comments:  "Fetched description.",
		CoverPath: "/tmp/cover.jpg",
	}

	filled := Merge(&snap, fetched)

	// Existing values survive, empty ones are filled.
	assert.Equal(t, "Existing Title", snap.Title)
	assert.Equal(t, []string{"Existing Author"}, snap.Authors)
	assert.Equal(t, "Fetched Publisher", snap.Publisher)
	assert.Equal(t, "2010-01-01", snap.PubDate)
	assert.Equal(t, "Fetched description.", snap.Comments)
	assert.True(t, snap.HasCover)
	assert.Equal(t, 4, filled)
}

func TestMergeIdentifiersPerScheme(t *testing.T) {
	snap := Snapshot{
		Identifiers: map[string]string{"goodreads": "111"},
	}
	fetched := &Fetched{
		Identifiers: map[string]string{
			"goodreads": "222",
			"isbn":      "9780000000000",
		},
	}

	filled := Merge(&snap, fetched)

	assert.Equal(t, "111", snap.Identifiers["goodreads"], "existing scheme must not be overwritten")
	assert.Equal(t, "9780000000000", snap.Identifiers["isbn"])
	assert.Equal(t, 1, filled)
}

func TestMergeIntoEmptySnapshot(t *testing.T) {
	snap := Snapshot{}
	fetched := &Fetched{
		Title:       "T",
		Authors:     []string{"A"},
		Series:      "S",
		Publisher:   "P",
		PubDate:     "2001",
		Languages:   []string{"eng"},
		ISBN:        "9780000000000",
		Identifiers: map[string]string{"goodreads": "1"},
		Tags:        []string{"tag"},
		Comments:    "c",
		CoverPath:   "/tmp/cover.jpg",
	}

	filled := Merge(&snap, fetched)

	assert.Equal(t, 11, filled)
	assert.Equal(t, "T", snap.Title)
	assert.Equal(t, "S", snap.Series)
	assert.True(t, snap.HasCover)
}

func TestMergeNil(t *testing.T) {
	snap := Snapshot{Title: "T"}
	assert.Equal(t, 0, Merge(&snap, nil))
	assert.Equal(t, "T", snap.Title)
}

func TestMergeNoChanges(t *testing.T) {
	snap := fullSnapshot()
	before, err := snap.Fingerprint()
	assert.NoError(t, err)

	filled := Merge(&snap, &Fetched{Title: "Other", Comments: "Other"})
	after, err := snap.Fingerprint()
	assert.NoError(t, err)

	assert.Equal(t, 0, filled)
	assert.Equal(t, before, after)
}
