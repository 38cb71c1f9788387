package pipeline

import (
	"sort"

	"voxreview.app/relay/common/text"
	"voxreview.app/relay/internal/model"
)

// ExtractorVersion identifies the lexicon below. Bump it whenever a word
// list changes so stored sentiments can be traced to the rules that made them.
const ExtractorVersion = "lexicon-v1"

// Bucket thresholds on the mean word score.
const (
	positiveThreshold = 0.34
	negativeThreshold = -0.34
)

var sentimentLexicon = map[string]float64{
	// positive
	"amazing": 2, "awesome": 2, "excellent": 2, "fantastic": 2, "outstanding": 2,
	"perfect": 2, "wonderful": 2, "incredible": 2, "best": 2, "love": 2, "loved": 2,
	"delicious": 2, "superb": 2, "phenomenal": 2, "exceptional": 2,
	"great": 1, "good": 1, "nice": 1, "friendly": 1, "helpful": 1, "tasty": 1,
	"fresh": 1, "clean": 1, "enjoyed": 1, "enjoy": 1, "pleasant": 1, "recommend": 1,
	"attentive": 1, "welcoming": 1, "quick": 1, "fast": 1, "happy": 1, "glad": 1,
	"cozy": 1, "polite": 1, "professional": 1, "beautiful": 1, "lovely": 1, "like": 0.5,
	"liked": 1, "thanks": 0.5, "thank": 0.5, "kind": 1, "spotless": 2, "generous": 1,

	// neutral markers count as opinion words with no pull either way
	"okay": 0, "ok": 0, "fine": 0, "average": 0, "decent": 0, "alright": 0,
	"standard": 0, "typical": 0, "mixed": 0, "reasonable": 0,

	// negative
	"terrible": -2, "awful": -2, "horrible": -2, "worst": -2, "disgusting": -2,
	"rude": -2, "inedible": -2, "filthy": -2, "hate": -2, "hated": -2, "never": -0.5,
	"bad": -1, "poor": -1, "slow": -1, "cold": -1, "dirty": -1, "late": -1,
	"disappointing": -1, "disappointed": -1, "bland": -1, "overpriced": -1,
	"expensive": -1, "noisy": -1, "loud": -1, "unfriendly": -1, "wrong": -1,
	"stale": -1, "greasy": -1, "burnt": -1, "forgot": -1, "forgotten": -1,
	"ignored": -1, "waited": -0.5, "mediocre": -1, "messy": -1, "sorry": -0.5,
	"unprofessional": -2, "complaint": -1, "problem": -1, "issue": -1, "sick": -2,
}

var negators = map[string]bool{
	"not": true, "no": true, "never": true, "nothing": true, "hardly": true,
	"barely": true, "didn't": true, "didnt": true, "wasn't": true, "wasnt": true,
	"isn't": true, "isnt": true, "don't": true, "dont": true, "won't": true,
	"wont": true, "weren't": true, "werent": true, "aren't": true, "cannot": true,
	"can't": true, "cant": true, "couldn't": true, "nor": true, "without": true,
}

var intensifiers = map[string]float64{
	"very": 1.5, "really": 1.5, "extremely": 2, "so": 1.3, "super": 1.5,
	"incredibly": 2, "truly": 1.5, "absolutely": 2, "totally": 1.5, "quite": 1.2,
	"slightly": 0.5, "somewhat": 0.6,
}

// contrast words shift weight to the clause that follows them.
var contrasts = map[string]bool{"but": true, "however": true, "although": true, "though": true}

// topicKeywords maps a word stem to its topic.
var topicKeywords = buildTopicIndex(map[string][]string{
	"food": {"food", "dish", "meal", "pizza", "taco", "tacos", "burger", "pasta", "dessert",
		"breakfast", "lunch", "dinner", "menu", "flavor", "flavour", "taste", "delicious",
		"tasty", "bland", "portion", "steak", "salad", "soup", "coffee", "drink", "drinks",
		"sushi", "fries", "bread", "brunch", "appetizer"},
	"service": {"service", "served", "order", "ordered", "attentive", "ignored", "forgot",
		"checkout", "delivery", "experience"},
	"staff": {"staff", "waiter", "waitress", "server", "host", "hostess", "bartender",
		"barista", "chef", "manager", "team", "employee", "crew", "owner", "rude", "friendly"},
	"wait_time": {"wait", "waited", "waiting", "minutes", "minute", "hour", "hours", "slow",
		"quick", "fast", "delay", "delayed", "late", "forever"},
	"price": {"price", "prices", "priced", "expensive", "cheap", "value", "cost", "bill",
		"overpriced", "affordable", "money", "worth"},
	"ambiance": {"ambiance", "ambience", "atmosphere", "music", "decor", "vibe", "cozy",
		"noisy", "loud", "view", "lighting", "interior"},
	"cleanliness": {"clean", "dirty", "spotless", "filthy", "hygiene", "messy", "bathroom",
		"restroom", "sticky", "smell"},
	"booking": {"booking", "reservation", "reserved", "booked", "book", "appointment",
		"table", "seated", "cancelled", "canceled"},
})

func buildTopicIndex(topics map[string][]string) map[string][]string {
	idx := make(map[string][]string)
	for topic, words := range topics {
		for _, w := range words {
			stem := text.Stem(w)
			idx[stem] = appendUnique(idx[stem], topic)
		}
	}
	return idx
}

// Extractor is a deterministic lexicon classifier for polarity and topics.
type Extractor struct{}

func NewExtractor() *Extractor {
	return &Extractor{}
}

func (e *Extractor) Version() string {
	return ExtractorVersion
}

// Extract classifies text into a polarity bucket and the sorted topics it
// mentions. Text with no opinion words at all is Unknown.
func (e *Extractor) Extract(input string) (model.Sentiment, []string, error) {
	words := text.Words(input)
	if len(words) == 0 {
		return model.SentimentUnknown, []string{}, ErrEmptyInput
	}
	return polarity(words), topicsOf(words), nil
}

// Classify is Extract without topics, collapsing errors to Unknown.
func (e *Extractor) Classify(input string) model.Sentiment {
	s, _, err := e.Extract(input)
	if err != nil {
		return model.SentimentUnknown
	}
	return s
}

func polarity(words []string) model.Sentiment {
	var score, weight float64
	hits := 0
	clauseWeight := 1.0

	for i, w := range words {
		if contrasts[w] {
			clauseWeight = 1.5
			continue
		}
		v, ok := sentimentLexicon[w]
		if !ok {
			continue
		}
		// "never" as a negator is handled below, not as an opinion word.
		if negators[w] && i+1 < len(words) {
			if _, next := sentimentLexicon[words[i+1]]; next {
				continue
			}
		}

		factor := 1.0
		if i > 0 {
			if boost, ok := intensifiers[words[i-1]]; ok {
				factor = boost
			}
		}
		if negated(words, i) {
			// "not bad" is mildly positive, "not great" is mildly negative.
			v = -v * 0.75
			if v == 0 {
				v = -0.5
			}
		}

		score += v * factor * clauseWeight
		weight += clauseWeight
		hits++
	}

	if hits == 0 {
		return model.SentimentUnknown
	}
	mean := score / weight
	switch {
	case mean >= positiveThreshold:
		return model.SentimentPositive
	case mean <= negativeThreshold:
		return model.SentimentNegative
	default:
		return model.SentimentNeutral
	}
}

// negated looks back up to three words, stopping at a contrast word.
func negated(words []string, i int) bool {
	for j := i - 1; j >= 0 && j >= i-3; j-- {
		if contrasts[words[j]] {
			return false
		}
		if negators[words[j]] {
			return true
		}
	}
	return false
}

func topicsOf(words []string) []string {
	seen := make(map[string]bool)
	for _, w := range words {
		for _, topic := range topicKeywords[text.Stem(w)] {
			seen[topic] = true
		}
	}
	out := make([]string, 0, len(seen))
	for topic := range seen {
		out = append(out, topic)
	}
	sort.Strings(out)
	return out
}

func appendUnique(list []string, v string) []string {
	for _, existing := range list {
		if existing == v {
			return list
		}
	}
	return append(list, v)
}
