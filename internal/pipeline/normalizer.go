package pipeline

import (
	"fmt"
	"strings"

	"voxreview.app/relay/common/text"
	"voxreview.app/relay/core/config"
)

// Filler tokens dropped from speech. Every language also gets the shared set,
// which must not hold a real word in any supported language: "er" is German
// for "he" and "um" is a German preposition and the Portuguese "one".
var (
	sharedFillers = []string{"umm", "uh", "uhh", "uhm", "erm", "hmm", "hm", "mm", "mmm", "ah"}

	languageFillers = map[string][]string{
		"en": {"um", "er", "uh-huh", "errr"},
		"es": {"um", "eh", "ehh", "em"},
		"fr": {"um", "euh", "heu"},
		"de": {"äh", "ähm", "öh", "ähh"},
		"it": {"um", "ehm", "eh"},
		"pt": {"hum", "ahn", "éé"},
	}
)

// Normalizer cleans raw speech-to-text output without rewording it.
type Normalizer struct {
	languages map[string]bool
	fillers   map[string]map[string]bool
	minTokens int
}

func NewNormalizer(cfg config.NormalizerConfig) *Normalizer {
	n := &Normalizer{
		languages: make(map[string]bool, len(cfg.Languages)),
		fillers:   make(map[string]map[string]bool),
		minTokens: cfg.MinTokens,
	}
	if n.minTokens <= 0 {
		n.minTokens = 3
	}
	for _, lang := range cfg.Languages {
		lang = baseLanguage(lang)
		n.languages[lang] = true

		set := make(map[string]bool)
		for _, f := range sharedFillers {
			set[f] = true
		}
		for _, f := range languageFillers[lang] {
			set[f] = true
		}
		n.fillers[lang] = set
	}
	return n
}

// Normalize strips fillers and false starts, collapses immediate
// repetitions and whitespace. It is a pure function of its inputs.
func (n *Normalizer) Normalize(raw, lang string) (string, error) {
	lang = baseLanguage(lang)
	if !n.languages[lang] {
		return "", fmt.Errorf("%w: %q", ErrUnsupportedLanguage, lang)
	}
	fillers := n.fillers[lang]

	tokens := strings.Fields(raw)
	kept := make([]string, 0, len(tokens))
	meaningful := 0

	for _, tok := range tokens {
		bare := text.Bare(tok)
		if bare == "" {
			// stray punctuation joins the previous word
			if isTerminal(tok) {
				carryPunct(kept, tok)
			}
			continue
		}
		if fillers[bare] {
			if p := trailingPunct(tok); strings.ContainsAny(p, ".!?") {
				carryPunct(kept, p)
			}
			continue
		}
		if isFalseStart(tok) {
			continue
		}
		if len(kept) > 0 && text.Bare(kept[len(kept)-1]) == bare {
			carryPunct(kept, trailingPunct(tok))
			continue
		}
		kept = append(kept, tok)
		meaningful++
	}

	if meaningful < n.minTokens {
		return "", ErrEmptyInput
	}
	return strings.Join(kept, " "), nil
}

// isFalseStart reports a cut-off fragment such as "jak-".
func isFalseStart(tok string) bool {
	trimmed := strings.TrimRight(tok, "-—–")
	return trimmed != tok && trimmed != ""
}

// carryPunct moves punctuation from a dropped token onto the last kept one.
func carryPunct(kept []string, p string) {
	if p == "" || len(kept) == 0 {
		return
	}
	last := kept[len(kept)-1]
	if trailingPunct(last) == "" {
		kept[len(kept)-1] = last + p
	}
}

func trailingPunct(tok string) string {
	end := len(tok)
	for end > 0 && strings.ContainsRune(".,!?;:", rune(tok[end-1])) {
		end--
	}
	return tok[end:]
}

func isTerminal(tok string) bool {
	return strings.Trim(tok, ".,!?;:") == ""
}

func baseLanguage(lang string) string {
	lang = strings.ToLower(strings.TrimSpace(lang))
	if i := strings.IndexAny(lang, "-_"); i > 0 {
		lang = lang[:i]
	}
	return lang
}
