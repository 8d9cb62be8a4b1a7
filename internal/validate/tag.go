package validate

import "regexp"

var tagDisallowed = regexp.MustCompile(`[^a-zA-Z0-9\-_.:]`)

// SanitizeTag strips characters outside the conservative tag alphabet
// used for cache and envelope tags, so tags are always safe to use as
// map keys and log fields without further escaping.
func SanitizeTag(s string) string {
	return tagDisallowed.ReplaceAllString(s, "")
}
