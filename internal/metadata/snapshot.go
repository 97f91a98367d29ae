// Package metadata defines the tracked metadata snapshot of a book, its
// completeness scoring and its change fingerprint.
package metadata

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
)

// Snapshot represents the tracked metadata fields of a book.
// Changes to any of these fields change the fingerprint; fields outside
// this set (file paths, timestamps) do not.
type Snapshot struct {
	Title       string            `json:"title"`
	Authors     []string          `json:"authors"`
	Series      string            `json:"series"`
	Publisher   string            `json:"publisher"`
	PubDate     string            `json:"pubdate"`
	Languages   []string          `json:"languages"`
	ISBN        string            `json:"isbn"`
	Identifiers map[string]string `json:"identifiers"`
	Tags        []string          `json:"tags"`
	Comments    string            `json:"comments"`
	HasCover    bool              `json:"has_cover"`
}

// Fingerprint computes a stable hex SHA-256 hash of the snapshot.
// Struct field order is fixed and encoding/json emits map keys in sorted
// order, so equal field values always hash identically.
func (s Snapshot) Fingerprint() (string, error) {
	data, err := json.Marshal(s)
	if err != nil {
		return "", err
	}

	hash := sha256.Sum256(data)
	return hex.EncodeToString(hash[:]), nil
}

// HasISBN reports whether the snapshot carries an ISBN, either directly or
// in the identifier map.
func (s Snapshot) HasISBN() bool {
	if s.ISBN != "" {
		return true
	}
	return s.Identifiers["isbn"] != ""
}
