package metadata

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func fullSnapshot() Snapshot {
	return Snapshot{
		Title:       "The Dispossessed",
		Authors:     []string{"Ursula K. Le Guin"},
		Series:      "Hainish Cycle",
		Publisher:   "Harper & Row",
		PubDate:     "1974-05-01",
		Languages:   []string{"eng"},
		ISBN:        "9780060125639",
		Identifiers: map[string]string{"isbn": "9780060125639", "goodreads": "13651"},
		Tags:        []string{"science fiction", "utopia"},
		Comments:    "An ambiguous utopia.",
		HasCover:    true,
	}
}

func TestScoreDefaults(t *testing.T) {
	weights := DefaultWeights()
	require.Equal(t, 100, weights.Total())

	tests := []struct {
		name string
		snap Snapshot
		want int
	}{
		{
			name: "empty snapshot scores zero",
			snap: Snapshot{},
			want: 0,
		},
		{
			name: "full snapshot scores 100",
			snap: fullSnapshot(),
			want: 100,
		},
		{
			name: "title and authors only",
			snap: Snapshot{
				Title:   "Annihilation",
				Authors: []string{"Jeff VanderMeer"},
			},
			want: 30,
		},
		{
			name: "isbn adds its full weight",
			snap: Snapshot{
				Title:   "Annihilation",
				Authors: []string{"Jeff VanderMeer"},
				ISBN:    "9780374104092",
			},
			want: 45,
		},
		{
			name: "non-isbn identifiers earn the lower identifier weight",
			snap: Snapshot{
				Title:       "Annihilation",
				Authors:     []string{"Jeff VanderMeer"},
				Identifiers: map[string]string{"goodreads": "17934530"},
			},
			want: 40,
		},
		{
			name: "isbn inside identifier map counts as isbn",
			snap: Snapshot{
				Title:       "Annihilation",
				Authors:     []string{"Jeff VanderMeer"},
				Identifiers: map[string]string{"isbn": "9780374104092"},
			},
			want: 45,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Score(tt.snap, weights))
		})
	}
}

func TestScoreNormalization(t *testing.T) {
	// Weights that do not sum to 100 still produce a 0..100 score.
	weights := Weights{Title: 1, Authors: 1}

	assert.Equal(t, 2, weights.Total())
	assert.Equal(t, 0, Score(Snapshot{}, weights))
	assert.Equal(t, 50, Score(Snapshot{Title: "A"}, weights))
	assert.Equal(t, 100, Score(Snapshot{Title: "A", Authors: []string{"B"}}, weights))
}

func TestScoreZeroTotal(t *testing.T) {
	assert.Equal(t, 0, Score(fullSnapshot(), Weights{}))
}

func TestScoreMonotonicity(t *testing.T) {
	// Filling any previously-empty field must never decrease the score.
	additions := []struct {
		name string
		fill func(*Snapshot)
	}{
		{"title", func(s *Snapshot) { s.Title = "T" }},
		{"authors", func(s *Snapshot) { s.Authors = []string{"A"} }},
		{"series", func(s *Snapshot) { s.Series = "S" }},
		{"publisher", func(s *Snapshot) { s.Publisher = "P" }},
		{"pubdate", func(s *Snapshot) { s.PubDate = "2001" }},
		{"isbn", func(s *Snapshot) { s.ISBN = "9780000000000" }},
		{"identifiers", func(s *Snapshot) { s.Identifiers = map[string]string{"goodreads": "1"} }},
		{"tags", func(s *Snapshot) { s.Tags = []string{"t"} }},
		{"comments", func(s *Snapshot) { s.Comments = "c" }},
		{"cover", func(s *Snapshot) { s.HasCover = true }},
	}

	configs := []struct {
		name    string
		weights Weights
	}{
		{"default weights", DefaultWeights()},
		{"identifiers weighted above isbn", Weights{Title: 10, ISBN: 2, Identifiers: 8}},
	}

	for _, cfg := range configs {
		t.Run(cfg.name, func(t *testing.T) {
			// Start from every subset seed, apply each addition on top.
			seeds := []Snapshot{
				{},
				{Title: "T"},
				{Identifiers: map[string]string{"goodreads": "1"}},
				{Title: "T", Authors: []string{"A"}, Tags: []string{"t"}},
			}
			for _, seed := range seeds {
				before := Score(seed, cfg.weights)
				for _, add := range additions {
					snap := seed
					if seed.Identifiers != nil {
						snap.Identifiers = map[string]string{}
						for k, v := range seed.Identifiers {
							snap.Identifiers[k] = v
						}
					}
					add.fill(&snap)
					after := Score(snap, cfg.weights)
					assert.GreaterOrEqual(t, after, before,
						"adding %s decreased the score", add.name)
				}
			}
		})
	}
}

func TestComplete(t *testing.T) {
	weights := DefaultWeights()

	tests := []struct {
		name     string
		snap     Snapshot
		minScore int
		want     bool
	}{
		{
			name:     "score above threshold",
			snap:     fullSnapshot(),
			minScore: 70,
			want:     true,
		},
		{
			name: "score exactly at threshold is complete",
			snap: Snapshot{
				Title:    "T",
				Authors:  []string{"A"},
				ISBN:     "9780000000000",
				Tags:     []string{"t"},
				Comments: "c",
			},
			minScore: 70,
			want:     true,
		},
		{
			name: "score below threshold",
			snap: Snapshot{
				Title:   "T",
				Authors: []string{"A"},
			},
			minScore: 70,
			want:     false,
		},
		{
			name: "missing title never complete when required",
			snap: func() Snapshot {
				s := fullSnapshot()
				s.Title = ""
				return s
			}(),
			minScore: 0,
			want:     false,
		},
		{
			name: "missing authors never complete when required",
			snap: func() Snapshot {
				s := fullSnapshot()
				s.Authors = nil
				return s
			}(),
			minScore: 0,
			want:     false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Complete(tt.snap, weights, tt.minScore))
		})
	}

	t.Run("required gates can be disabled", func(t *testing.T) {
		relaxed := DefaultWeights()
		relaxed.RequireTitle = false
		relaxed.RequireAuthors = false

		snap := fullSnapshot()
		snap.Title = ""
		snap.Authors = nil

		assert.True(t, Complete(snap, relaxed, 50))
	})
}

func TestCompleteThresholdBoundary(t *testing.T) {
	// Exactly at the threshold skips the fetch; one point below does not.
	snap := Snapshot{
		Title:    "T",
		Authors:  []string{"A"},
		ISBN:     "9780000000000",
		Tags:     []string{"t"},
		Comments: "c",
	}
	weights := DefaultWeights()
	score := Score(snap, weights)
	require.Equal(t, 70, score)

	assert.True(t, Complete(snap, weights, score))
	assert.False(t, Complete(snap, weights, score+1))
}

func TestMissing(t *testing.T) {
	assert.Empty(t, Missing(fullSnapshot()))

	missing := Missing(Snapshot{Title: "T", Identifiers: map[string]string{"goodreads": "1"}})
	assert.Equal(t, []string{"authors", "series", "publisher", "pubdate", "isbn", "tags", "comments", "cover"}, missing)

	missing = Missing(Snapshot{})
	assert.Contains(t, missing, "identifiers")
	assert.NotContains(t, missing, "isbn")
}

func TestWeightsValidate(t *testing.T) {
	assert.NoError(t, DefaultWeights().Validate())

	bad := DefaultWeights()
	bad.Tags = -1
	err := bad.Validate()
	assert.Error(t, err)
	assert.Contains(t, err.Error(), "scoring.tags")
}
