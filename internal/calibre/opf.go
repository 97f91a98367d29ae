package calibre

import (
	"encoding/xml"
	"fmt"
	"sort"
	"strings"

	"github.com/lepinkainen/seshat/internal/metadata"
)

// Marshal-side OPF types. encoding/xml does not emit namespace prefixes on
// its own, so element names carry literal dc:/opf: prefixes and the
// namespaces are declared as plain attributes.
type opfDocument struct {
	XMLName  xml.Name    `xml:"package"`
	Xmlns    string      `xml:"xmlns,attr"`
	Version  string      `xml:"version,attr"`
	UniqueID string      `xml:"unique-identifier,attr"`
	Metadata opfMetadata `xml:"metadata"`
}

type opfMetadata struct {
	XmlnsDc     string          `xml:"xmlns:dc,attr"`
	XmlnsOpf    string          `xml:"xmlns:opf,attr"`
	Title       string          `xml:"dc:title,omitempty"`
	Creators    []opfCreator    `xml:"dc:creator,omitempty"`
	Publisher   string          `xml:"dc:publisher,omitempty"`
	Date        string          `xml:"dc:date,omitempty"`
	Languages   []string        `xml:"dc:language,omitempty"`
	Identifiers []opfIdentifier `xml:"dc:identifier,omitempty"`
	Subjects    []string        `xml:"dc:subject,omitempty"`
	Description string          `xml:"dc:description,omitempty"`
	Meta        []opfMeta       `xml:"meta,omitempty"`
}

type opfCreator struct {
	Role string `xml:"opf:role,attr"`
	Name string `xml:",chardata"`
}

type opfIdentifier struct {
	Scheme string `xml:"opf:scheme,attr"`
	Value  string `xml:",chardata"`
}

type opfMeta struct {
	Name    string `xml:"name,attr"`
	Content string `xml:"content,attr"`
}

// BuildOPF renders a snapshot as an OPF package document that calibredb
// set_metadata accepts. Empty fields are omitted entirely so set_metadata
// leaves the corresponding database columns untouched.
func BuildOPF(snap metadata.Snapshot) ([]byte, error) {
	meta := opfMetadata{
		XmlnsDc:     "http://purl.org/dc/elements/1.1/",
		XmlnsOpf:    "http://www.idpf.org/2007/opf",
		Title:       snap.Title,
		Publisher:   snap.Publisher,
		Date:        snap.PubDate,
		Languages:   snap.Languages,
		Subjects:    snap.Tags,
		Description: snap.Comments,
	}

	for _, author := range snap.Authors {
		meta.Creators = append(meta.Creators, opfCreator{Role: "aut", Name: author})
	}

	if snap.ISBN != "" {
		meta.Identifiers = append(meta.Identifiers, opfIdentifier{Scheme: "ISBN", Value: snap.ISBN})
	}
	for _, scheme := range sortedKeys(snap.Identifiers) {
		if scheme == "isbn" && snap.ISBN != "" {
			continue
		}
		meta.Identifiers = append(meta.Identifiers, opfIdentifier{
			Scheme: strings.ToUpper(scheme),
			Value:  snap.Identifiers[scheme],
		})
	}

	if snap.Series != "" {
		meta.Meta = append(meta.Meta, opfMeta{Name: "calibre:series", Content: snap.Series})
	}

	doc := opfDocument{
		Xmlns:    "http://www.idpf.org/2007/opf",
		Version:  "2.0",
		UniqueID: "uuid_id",
		Metadata: meta,
	}

	body, err := xml.MarshalIndent(doc, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("marshal opf: %w", err)
	}
	return append([]byte(xml.Header), body...), nil
}

// Unmarshal-side OPF types. Tags use bare local names so they match
// namespaced elements regardless of the prefix the producer chose.
type opfInDocument struct {
	XMLName  xml.Name `xml:"package"`
	Metadata struct {
		Title   []string `xml:"title"`
		Creator []struct {
			Text string `xml:",chardata"`
			Role string `xml:"role,attr"`
		} `xml:"creator"`
		Publisher  string   `xml:"publisher"`
		Date       string   `xml:"date"`
		Language   []string `xml:"language"`
		Identifier []struct {
			Text   string `xml:",chardata"`
			Scheme string `xml:"scheme,attr"`
		} `xml:"identifier"`
		Subject     []string `xml:"subject"`
		Description string   `xml:"description"`
		Meta        []struct {
			Name    string `xml:"name,attr"`
			Content string `xml:"content,attr"`
		} `xml:"meta"`
	} `xml:"metadata"`
}

// Identifier schemes calibre uses internally; they carry no information
// worth merging back.
var internalIdentifierSchemes = map[string]bool{
	"uuid":    true,
	"calibre": true,
}

// ParseOPF extracts the metadata fields from an OPF document produced by
// fetch-ebook-metadata.
func ParseOPF(data []byte) (*metadata.Fetched, error) {
	var doc opfInDocument
	if err := xml.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("parse opf: %w", err)
	}

	fetched := &metadata.Fetched{
		Publisher: strings.TrimSpace(doc.Metadata.Publisher),
		PubDate:   strings.TrimSpace(doc.Metadata.Date),
		Comments:  strings.TrimSpace(doc.Metadata.Description),
	}

	for _, title := range doc.Metadata.Title {
		if title = strings.TrimSpace(title); title != "" {
			fetched.Title = title
			break
		}
	}

	for _, creator := range doc.Metadata.Creator {
		name := strings.TrimSpace(creator.Text)
		if name == "" {
			continue
		}
		if creator.Role == "" || creator.Role == "aut" {
			fetched.Authors = append(fetched.Authors, name)
		}
	}

	for _, lang := range doc.Metadata.Language {
		if lang = strings.ToLower(strings.TrimSpace(lang)); lang != "" {
			fetched.Languages = append(fetched.Languages, lang)
		}
	}

	for _, id := range doc.Metadata.Identifier {
		scheme := strings.ToLower(strings.TrimSpace(id.Scheme))
		value := strings.TrimSpace(id.Text)
		if scheme == "" || value == "" || internalIdentifierSchemes[scheme] {
			continue
		}
		if scheme == "isbn" {
			fetched.ISBN = value
		}
		if fetched.Identifiers == nil {
			fetched.Identifiers = make(map[string]string)
		}
		fetched.Identifiers[scheme] = value
	}

	for _, subject := range doc.Metadata.Subject {
		if subject = strings.TrimSpace(subject); subject != "" {
			fetched.Tags = append(fetched.Tags, subject)
		}
	}

	for _, m := range doc.Metadata.Meta {
		if m.Name == "calibre:series" && strings.TrimSpace(m.Content) != "" {
			fetched.Series = strings.TrimSpace(m.Content)
		}
	}

	return fetched, nil
}

func sortedKeys(m map[string]string) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
