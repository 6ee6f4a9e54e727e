package db

import (
	"strings"
	"unicode"
)

var stopwords = map[string]bool{
	"the": true, "a": true, "an": true, "in": true, "on": true,
	"at": true, "to": true, "for": true, "of": true, "is": true,
	"it": true, "and": true, "or": true, "with": true, "from": true,
	"by": true, "this": true, "that": true, "as": true, "be": true,
}

var likeEscaper = strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)

// BuildSearchPatterns turns a free-text query into LIKE patterns for a
// title search. Words are trimmed of punctuation; stopwords and words
// under 3 chars are dropped. A node matches if any pattern matches.
func BuildSearchPatterns(query string) []string {
	var patterns []string
	seen := make(map[string]bool)
	for _, w := range strings.Fields(query) {
		trimmed := strings.TrimFunc(w, func(r rune) bool {
			return !unicode.IsLetter(r) && !unicode.IsDigit(r) && r != '_'
		})
		if len(trimmed) < 3 {
			continue
		}
		lower := strings.ToLower(trimmed)
		if stopwords[lower] || seen[lower] {
			continue
		}
		seen[lower] = true
		patterns = append(patterns, "%"+likeEscaper.Replace(lower)+"%")
	}
	return patterns
}
