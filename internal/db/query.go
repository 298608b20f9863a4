package db

import "strings"

const (
	defaultSearchLimit = 10
	maxSearchLimit     = 200
)

// ClampLimit bounds a caller-supplied result limit
func ClampLimit(limit int) int {
	if limit <= 0 {
		return defaultSearchLimit
	}
	if limit > maxSearchLimit {
		return maxSearchLimit
	}
	return limit
}

// ClampScore bounds a similarity or relevance score to [0,1]
func ClampScore(score float64) float64 {
	if score < 0 {
		return 0
	}
	if score > 1 {
		return 1
	}
	return score
}

// NormalizeName is the key used for case-insensitive exact name matching
func NormalizeName(name string) string {
	return strings.ToLower(strings.TrimSpace(name))
}

// LikePattern turns free text into a contains-pattern for LIKE/ILIKE with
// backslash as the escape character.
func LikePattern(query string) string {
	var b strings.Builder
	b.WriteByte('%')
	for _, r := range strings.TrimSpace(query) {
		switch r {
		case '\\', '%', '_':
			b.WriteByte('\\')
		}
		b.WriteRune(r)
	}
	b.WriteByte('%')
	return b.String()
}

// NormalizeTags trims, lowercases and de-duplicates tags, keeping order
func NormalizeTags(tags []string) []string {
	out := make([]string, 0, len(tags))
	seen := make(map[string]bool, len(tags))
	for _, tag := range tags {
		tag = strings.ToLower(strings.TrimSpace(tag))
		if tag == "" || seen[tag] {
			continue
		}
		seen[tag] = true
		out = append(out, tag)
	}
	return out
}
