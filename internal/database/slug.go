package database

import (
	"regexp"
	"strings"
	"unicode"

	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"
)

var (
	slugInvalid = regexp.MustCompile(`[^a-z0-9\s-]`)
	slugSpacing = regexp.MustCompile(`[\s-]+`)
	slugValid   = regexp.MustCompile(`^[a-z0-9]+(?:-[a-z0-9]+)*$`)
)

// Slugify turns a course name into a URL slug: accents are folded to ASCII,
// everything else outside [a-z0-9] is dropped and runs of spaces or dashes
// become a single dash. "Programação em Python" -> "programacao-em-python".
func Slugify(s string) string {
	t := transform.Chain(norm.NFD, runes.Remove(runes.In(unicode.Mn)), norm.NFC)
	folded, _, err := transform.String(t, s)
	if err != nil {
		folded = s
	}

	folded = strings.ToLower(folded)
	folded = slugInvalid.ReplaceAllString(folded, "")
	folded = slugSpacing.ReplaceAllString(strings.TrimSpace(folded), "-")
	return strings.Trim(folded, "-")
}

// IsValidSlug reports whether s is already in slug form
func IsValidSlug(s string) bool {
	return slugValid.MatchString(s)
}
