package text

import (
	"errors"
	"regexp"
	"strings"
	"unicode"
)

var (
	ErrEmptySlug = errors.New("slug cannot be empty")
	nonSlugChars = regexp.MustCompile(`[^a-z0-9]+`)
)

// Slugify lowercases input and joins alphanumeric runs with hyphens.
// Used for redis consumer names and NATS subject tokens.
func Slugify(input, fallback string) (string, error) {
	slug := slugify(input)
	if slug == "" {
		slug = slugify(fallback)
	}
	if slug == "" {
		return "", ErrEmptySlug
	}
	return slug, nil
}

func slugify(s string) string {
	lower := strings.ToLower(strings.TrimSpace(s))
	slug := nonSlugChars.ReplaceAllString(lower, "-")
	return strings.Trim(slug, "-")
}

// Words splits s into lowercase word tokens, dropping surrounding punctuation.
// Inner apostrophes and hyphens are kept ("didn't", "check-in").
func Words(s string) []string {
	fields := strings.Fields(s)
	out := make([]string, 0, len(fields))
	for _, f := range fields {
		w := Bare(f)
		if w != "" {
			out = append(out, w)
		}
	}
	return out
}

// Bare lowercases a single token and trims leading/trailing punctuation.
func Bare(token string) string {
	trimmed := strings.TrimFunc(token, func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	})
	return strings.ToLower(trimmed)
}

// Stem strips common English inflections so "waited", "waiting" and "waits"
// all compare equal to "wait". It is intentionally crude.
func Stem(w string) string {
	w = strings.ToLower(w)
	for _, suffix := range []string{"ing", "ed", "es", "s", "ly"} {
		if len(w) > len(suffix)+2 && strings.HasSuffix(w, suffix) {
			stem := strings.TrimSuffix(w, suffix)
			// "stopped" -> "stopp" -> "stop"
			if n := len(stem); n > 2 && stem[n-1] == stem[n-2] && suffix != "s" && suffix != "es" {
				stem = stem[:n-1]
			}
			return stem
		}
	}
	return w
}

// ContainsWord reports whether haystack contains needle as a whole word or
// phrase, ignoring case.
func ContainsWord(haystack, needle string) bool {
	needle = strings.TrimSpace(needle)
	if needle == "" {
		return false
	}
	pattern := `(?i)(^|[^\pL\pN])` + regexp.QuoteMeta(needle) + `($|[^\pL\pN])`
	re, err := regexp.Compile(pattern)
	if err != nil {
		return strings.Contains(strings.ToLower(haystack), strings.ToLower(needle))
	}
	return re.MatchString(haystack)
}
