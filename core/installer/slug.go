package installer

import (
	"strings"
	"unicode"

	"golang.org/x/text/unicode/norm"
)

// Slugify lowercases value and keeps unicode letters, numbers and underscores; combining
// marks are dropped. Runs of spaces and hyphens collapse into "-" and leading/trailing
// "-" and "_" are trimmed.
func Slugify(value string) string {
	value = strings.ToLower(norm.NFKC.String(value))
	var b strings.Builder
	b.Grow(len(value))
	pendingSep := false
	for _, r := range value {
		switch {
		case r == '-' || unicode.IsSpace(r):
			pendingSep = true
		case r == '_' || unicode.IsLetter(r) || unicode.IsNumber(r):
			if pendingSep {
				b.WriteByte('-')
				pendingSep = false
			}
			b.WriteRune(r)
		}
	}
	return strings.Trim(b.String(), "-_")
}

// optionSlug is the slug stored on option records: underscores instead of hyphens.
func optionSlug(name string) string {
	return strings.ReplaceAll(Slugify(name), "-", "_")
}
