// Package calibre shells out to the Calibre command line tools: calibredb
// for listing and updating the library and fetch-ebook-metadata for online
// metadata lookups.
package calibre

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/lepinkainen/seshat/internal/metadata"
)

// Book is one entry of calibredb list --for-machine output, normalized into
// stable Go shapes. Calibre emits some fields as either a string or a list
// depending on version and backend, so decoding tolerates both.
type Book struct {
	ID           int64
	Title        string
	Authors      []string
	Series       string
	Publisher    string
	PubDate      string
	Languages    []string
	Formats      []string
	ISBN         string
	Identifiers  map[string]string
	Tags         []string
	Comments     string
	HasCover     bool
	LastModified string
}

// Snapshot projects the tracked metadata fields of the book.
func (b *Book) Snapshot() metadata.Snapshot {
	return metadata.Snapshot{
		Title:       b.Title,
		Authors:     b.Authors,
		Series:      b.Series,
		Publisher:   b.Publisher,
		PubDate:     b.PubDate,
		Languages:   b.Languages,
		ISBN:        b.ISBN,
		Identifiers: b.Identifiers,
		Tags:        b.Tags,
		Comments:    b.Comments,
		HasCover:    b.HasCover,
	}
}

// HasAnyFormat reports whether the book has at least one of the given
// formats. Formats are compared lowercase.
func (b *Book) HasAnyFormat(formats []string) bool {
	for _, have := range b.Formats {
		for _, want := range formats {
			if have == want {
				return true
			}
		}
	}
	return false
}

// AvailableFormats returns the subset of the given formats the book actually
// has, preserving the input order.
func (b *Book) AvailableFormats(formats []string) []string {
	out := make([]string, 0, len(formats))
	for _, want := range formats {
		for _, have := range b.Formats {
			if have == want {
				out = append(out, want)
				break
			}
		}
	}
	return out
}

type bookRow struct {
	ID           int64           `json:"id"`
	Title        string          `json:"title"`
	Authors      json.RawMessage `json:"authors"`
	Series       string          `json:"series"`
	Publisher    string          `json:"publisher"`
	PubDate      string          `json:"pubdate"`
	Languages    json.RawMessage `json:"languages"`
	Formats      json.RawMessage `json:"formats"`
	ISBN         string          `json:"isbn"`
	Identifiers  json.RawMessage `json:"identifiers"`
	Tags         json.RawMessage `json:"tags"`
	Comments     string          `json:"comments"`
	Cover        json.RawMessage `json:"cover"`
	LastModified string          `json:"last_modified"`
}

// ParseBooks decodes calibredb list --for-machine output. Array entries that
// are not objects are ignored.
func ParseBooks(data []byte) ([]Book, error) {
	var rows []json.RawMessage
	if err := json.Unmarshal(data, &rows); err != nil {
		return nil, fmt.Errorf("unexpected calibredb list output: %w", err)
	}

	books := make([]Book, 0, len(rows))
	for _, raw := range rows {
		var row bookRow
		if err := json.Unmarshal(raw, &row); err != nil {
			continue
		}
		books = append(books, decodeBook(row))
	}
	return books, nil
}

func decodeBook(row bookRow) Book {
	return Book{
		ID:           row.ID,
		Title:        strings.TrimSpace(row.Title),
		Authors:      decodeStringList(row.Authors),
		Series:       strings.TrimSpace(row.Series),
		Publisher:    strings.TrimSpace(row.Publisher),
		PubDate:      strings.TrimSpace(row.PubDate),
		Languages:    lowerAll(decodeStringList(row.Languages)),
		Formats:      decodeFormats(row.Formats),
		ISBN:         strings.TrimSpace(row.ISBN),
		Identifiers:  decodeIdentifiers(row.Identifiers),
		Tags:         decodeTags(row.Tags),
		Comments:     strings.TrimSpace(row.Comments),
		HasCover:     hasJSONValue(row.Cover),
		LastModified: strings.TrimSpace(row.LastModified),
	}
}

// decodeStringList accepts a JSON list of strings or a bare string.
func decodeStringList(raw json.RawMessage) []string {
	if len(raw) == 0 {
		return nil
	}
	var list []string
	if err := json.Unmarshal(raw, &list); err == nil {
		return trimAll(list)
	}
	var single string
	if err := json.Unmarshal(raw, &single); err == nil {
		if single = strings.TrimSpace(single); single != "" {
			return []string{single}
		}
	}
	return nil
}

// decodeTags is decodeStringList with comma splitting for the bare-string
// form, which is how older calibredb versions emit tags.
func decodeTags(raw json.RawMessage) []string {
	if len(raw) == 0 {
		return nil
	}
	var list []string
	if err := json.Unmarshal(raw, &list); err == nil {
		return trimAll(list)
	}
	var single string
	if err := json.Unmarshal(raw, &single); err == nil {
		return trimAll(strings.Split(single, ","))
	}
	return nil
}

func decodeFormats(raw json.RawMessage) []string {
	if len(raw) == 0 {
		return nil
	}
	var list []string
	if err := json.Unmarshal(raw, &list); err == nil {
		return lowerAll(trimAll(list))
	}
	var single string
	if err := json.Unmarshal(raw, &single); err == nil {
		single = strings.ReplaceAll(strings.ToLower(single), ";", ",")
		return trimAll(strings.Split(single, ","))
	}
	return nil
}

func decodeIdentifiers(raw json.RawMessage) map[string]string {
	if len(raw) == 0 {
		return nil
	}
	var values map[string]any
	if err := json.Unmarshal(raw, &values); err != nil {
		return nil
	}

	out := make(map[string]string, len(values))
	for key, value := range values {
		key = strings.ToLower(strings.TrimSpace(key))
		var text string
		if s, ok := value.(string); ok {
			text = strings.TrimSpace(s)
		} else if value != nil {
			text = fmt.Sprintf("%v", value)
		}
		if key != "" && text != "" {
			out[key] = text
		}
	}
	if len(out) == 0 {
		return nil
	}
	return out
}

func hasJSONValue(raw json.RawMessage) bool {
	trimmed := bytes.TrimSpace(raw)
	if len(trimmed) == 0 || bytes.Equal(trimmed, []byte("null")) {
		return false
	}
	return !bytes.Equal(trimmed, []byte(`""`))
}

func trimAll(values []string) []string {
	out := make([]string, 0, len(values))
	for _, v := range values {
		if v = strings.TrimSpace(v); v != "" {
			out = append(out, v)
		}
	}
	if len(out) == 0 {
		return nil
	}
	return out
}

func lowerAll(values []string) []string {
	for i, v := range values {
		values[i] = strings.ToLower(v)
	}
	return values
}
