package metadata

// Fetched holds the best-effort metadata returned by an external lookup.
// Any field may be empty. CoverPath points at a downloaded cover image file
// when the lookup produced one.
type Fetched struct {
	Title       string
	Authors     []string
	Series      string
	Publisher   string
	PubDate     string
	Languages   []string
	ISBN        string
	Identifiers map[string]string
	Tags        []string
	Comments    string
	CoverPath   string
}

// Merge fills empty snapshot fields from fetched data. Existing non-empty
// values are never overwritten. Returns the number of fields filled.
func Merge(s *Snapshot, f *Fetched) int {
	if f == nil {
		return 0
	}

	filled := 0

	if s.Title == "" && f.Title != "" {
		s.Title = f.Title
		filled++
	}
	if len(s.Authors) == 0 && len(f.Authors) > 0 {
		s.Authors = f.Authors
		filled++
	}
	if s.Series == "" && f.Series != "" {
		s.Series = f.Series
		filled++
	}
	if s.Publisher == "" && f.Publisher != "" {
		s.Publisher = f.Publisher
		filled++
	}
	if s.PubDate == "" && f.PubDate != "" {
		s.PubDate = f.PubDate
		filled++
	}
	if len(s.Languages) == 0 && len(f.Languages) > 0 {
		s.Languages = f.Languages
		filled++
	}
	if s.ISBN == "" && f.ISBN != "" {
		s.ISBN = f.ISBN
		filled++
	}
	if len(f.Identifiers) > 0 {
		if s.Identifiers == nil {
			s.Identifiers = make(map[string]string, len(f.Identifiers))
		}
		added := 0
		for scheme, value := range f.Identifiers {
			if _, ok := s.Identifiers[scheme]; !ok && value != "" {
				s.Identifiers[scheme] = value
				added++
			}
		}
		if added > 0 {
			filled++
		}
	}
	if len(s.Tags) == 0 && len(f.Tags) > 0 {
		s.Tags = f.Tags
		filled++
	}
	if s.Comments == "" && f.Comments != "" {
		s.Comments = f.Comments
		filled++
	}
	if !s.HasCover && f.CoverPath != "" {
		s.HasCover = true
		filled++
	}

	return filled
}
