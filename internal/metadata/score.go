package metadata

import (
	"fmt"
	"math"
)

// Weights assigns a completeness weight to each tracked field. A field's
// weight is earned when the field is present and non-trivial. ISBN and
// Identifiers are mutually exclusive: a book with an ISBN earns the ISBN
// weight, a book with only other identifiers earns the Identifiers weight.
type Weights struct {
	Title       int
	Authors     int
	Series      int
	Publisher   int
	PubDate     int
	ISBN        int
	Identifiers int
	Tags        int
	Comments    int
	Cover       int

	// RequireTitle and RequireAuthors gate the fetch-skip decision: a book
	// missing a required field is never considered complete, regardless of
	// its score.
	RequireTitle   bool
	RequireAuthors bool
}

// DefaultWeights returns the default scoring weights. They sum to 100, so
// default scores are direct percentages.
func DefaultWeights() Weights {
	return Weights{
		Title:          15,
		Authors:        15,
		Series:         5,
		Publisher:      10,
		PubDate:        5,
		ISBN:           15,
		Identifiers:    10,
		Tags:           10,
		Comments:       15,
		Cover:          10,
		RequireTitle:   true,
		RequireAuthors: true,
	}
}

// Total returns the maximum attainable weight sum. ISBN and Identifiers
// never both contribute, so only the larger of the two counts.
func (w Weights) Total() int {
	return w.Title + w.Authors + w.Series + w.Publisher + w.PubDate +
		max(w.ISBN, w.Identifiers) + w.Tags + w.Comments + w.Cover
}

// Validate rejects negative weights.
func (w Weights) Validate() error {
	for _, entry := range []struct {
		name   string
		weight int
	}{
		{"title", w.Title},
		{"authors", w.Authors},
		{"series", w.Series},
		{"publisher", w.Publisher},
		{"pubdate", w.PubDate},
		{"isbn", w.ISBN},
		{"identifiers", w.Identifiers},
		{"tags", w.Tags},
		{"comments", w.Comments},
		{"cover", w.Cover},
	} {
		if entry.weight < 0 {
			return fmt.Errorf("scoring.%s must not be negative, got %d", entry.name, entry.weight)
		}
	}
	return nil
}

// Score computes the completeness of a snapshot as an integer in [0, 100].
// The earned weight sum is normalized against Total, so custom weight
// configurations keep the 0..100 scale.
func Score(s Snapshot, w Weights) int {
	total := w.Total()
	if total <= 0 {
		return 0
	}

	earned := 0
	if s.Title != "" {
		earned += w.Title
	}
	if len(s.Authors) > 0 {
		earned += w.Authors
	}
	if s.Series != "" {
		earned += w.Series
	}
	if s.Publisher != "" {
		earned += w.Publisher
	}
	if s.PubDate != "" {
		earned += w.PubDate
	}
	// An ISBN is itself an identifier, so it earns at least the identifier
	// weight. Keeps the score monotonic when adding an ISBN under configs
	// that weight identifiers above ISBNs.
	if s.HasISBN() {
		earned += max(w.ISBN, w.Identifiers)
	} else if len(s.Identifiers) > 0 {
		earned += w.Identifiers
	}
	if len(s.Tags) > 0 {
		earned += w.Tags
	}
	if s.Comments != "" {
		earned += w.Comments
	}
	if s.HasCover {
		earned += w.Cover
	}

	return int(math.Round(float64(earned) * 100 / float64(total)))
}

// Complete reports whether a snapshot's metadata is good enough to skip
// fetching: the score reaches the threshold (inclusive) and all required
// fields are present.
func Complete(s Snapshot, w Weights, minScore int) bool {
	if w.RequireTitle && s.Title == "" {
		return false
	}
	if w.RequireAuthors && len(s.Authors) == 0 {
		return false
	}
	return Score(s, w) >= minScore
}

// Missing returns the names of tracked fields absent from the snapshot,
// in a fixed order, for log output.
func Missing(s Snapshot) []string {
	var missing []string
	if s.Title == "" {
		missing = append(missing, "title")
	}
	if len(s.Authors) == 0 {
		missing = append(missing, "authors")
	}
	if s.Series == "" {
		missing = append(missing, "series")
	}
	if s.Publisher == "" {
		missing = append(missing, "publisher")
	}
	if s.PubDate == "" {
		missing = append(missing, "pubdate")
	}
	if !s.HasISBN() {
		if len(s.Identifiers) == 0 {
			missing = append(missing, "identifiers")
		} else {
			missing = append(missing, "isbn")
		}
	}
	if len(s.Tags) == 0 {
		missing = append(missing, "tags")
	}
	if s.Comments == "" {
		missing = append(missing, "comments")
	}
	if !s.HasCover {
		missing = append(missing, "cover")
	}
	return missing
}
