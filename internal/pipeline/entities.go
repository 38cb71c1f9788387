package pipeline

import (
	"regexp"
	"sort"
	"strings"

	"voxreview.app/relay/common/text"
	"voxreview.app/relay/internal/model"
)

const roleWords = `waiter|waitress|server|host|hostess|bartender|barista|chef|cook|manager|stylist|barber|guide|driver|nurse|doctor|dentist|therapist|technician|mechanic|agent|rep|trainer|instructor|receptionist|concierge|valet|sommelier`

var (
	// "jake our waiter", "jake, our server", "jake was our waiter"
	nameBeforeRole = regexp.MustCompile(`(?i)\b([\pL][\pL'-]+),?\s+(?:was\s+|is\s+)?(?:our|my)\s+(?:` + roleWords + `)\b`)
	// "our server maria", "our waiter named jake", "my stylist, luis"
	roleBeforeName = regexp.MustCompile(`(?i)\b(?:our|my)\s+(?:` + roleWords + `),?\s+(?:named\s+|called\s+)?([\pL][\pL'-]+)`)
)

// Words that the role patterns capture but are never names.
var notNames = map[string]bool{
	"and": true, "but": true, "so": true, "the": true, "was": true, "is": true,
	"with": true, "to": true, "for": true, "then": true, "also": true, "even": true,
	"by": true, "from": true, "that": true, "me": true, "us": true, "of": true,
	"who": true, "which": true, "were": true, "had": true, "has": true, "really": true,
	"very": true, "super": true, "again": true, "always": true, "here": true, "there": true,
	"brought": true, "came": true, "made": true, "said": true, "told": true, "gave": true,
	"took": true, "forgot": true, "helped": true, "did": true, "went": true, "kept": true,
	"our": true, "my": true, "a": true, "an": true, "this": true, "today": true, "tonight": true,
	"too": true, "just": true, "not": true, "never": true, "at": true, "in": true, "on": true,
	"it": true, "we": true, "i": true, "he": true, "she": true, "they": true, "you": true,
}

// sourceEntities returns the concrete names a review must keep: known staff
// and products mentioned in the source, plus names introduced by a role
// ("jake our waiter"). Names are lowercased and sorted.
func sourceEntities(src string, known model.KnownEntities) []string {
	found := make(map[string]bool)
	for _, name := range knownNames(known) {
		if text.ContainsWord(src, name) {
			found[strings.ToLower(name)] = true
		}
	}
	for _, re := range []*regexp.Regexp{nameBeforeRole, roleBeforeName} {
		for _, m := range re.FindAllStringSubmatch(src, -1) {
			name := strings.ToLower(m[1])
			if !plausibleName(name) {
				continue
			}
			found[name] = true
		}
	}

	out := make([]string, 0, len(found))
	for name := range found {
		out = append(out, name)
	}
	sort.Strings(out)
	return out
}

// inventedEntities returns known business entities that the output names
// but the source never did.
func inventedEntities(src, output string, known model.KnownEntities) []string {
	var out []string
	for _, name := range knownNames(known) {
		if text.ContainsWord(output, name) && !text.ContainsWord(src, name) {
			out = append(out, strings.ToLower(name))
		}
	}
	sort.Strings(out)
	return out
}

// plausibleName filters out the verbs and adjectives the role patterns
// sometimes capture ("our server quickly", "our host seated us").
func plausibleName(w string) bool {
	if len(w) < 2 || notNames[w] {
		return false
	}
	if _, opinion := sentimentLexicon[w]; opinion {
		return false
	}
	for _, suffix := range []string{"ly", "ed", "ing"} {
		if strings.HasSuffix(w, suffix) {
			return false
		}
	}
	return true
}

func missingEntities(required []string, output string) []string {
	var out []string
	for _, name := range required {
		if !text.ContainsWord(output, name) {
			out = append(out, name)
		}
	}
	return out
}

func knownNames(known model.KnownEntities) []string {
	names := make([]string, 0, len(known.Staff)+len(known.Products))
	names = append(names, known.Staff...)
	names = append(names, known.Products...)
	return names
}
