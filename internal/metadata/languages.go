package metadata

import "strings"

// Calibre occasionally stores a full language name instead of a code.
var languageAliases = map[string]string{
	"english": "en",
}

// LanguageAllowed reports whether a book with the given languages passes the
// language filter. A book with no language at all passes only when
// includeMissing is set. Codes match case-insensitively, underscores count as
// hyphens, and a regional variant like en-us matches its base code.
func LanguageAllowed(languages, allowed []string, includeMissing bool) bool {
	if len(languages) == 0 {
		return includeMissing
	}
	for _, lang := range languages {
		lang = strings.ToLower(strings.ReplaceAll(strings.TrimSpace(lang), "_", "-"))
		if alias, ok := languageAliases[lang]; ok {
			lang = alias
		}
		for _, code := range allowed {
			code = strings.ToLower(strings.TrimSpace(code))
			if code == "" {
				continue
			}
			if lang == code || strings.HasPrefix(lang, code+"-") {
				return true
			}
		}
	}
	return false
}
