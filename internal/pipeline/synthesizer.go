package pipeline

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"
	"unicode/utf8"

	"voxreview.app/relay/common/llm"
	"voxreview.app/relay/core/config"
	"voxreview.app/relay/internal/metrics"
	"voxreview.app/relay/internal/model"
)

const synthesisPromptVersion = "v1"

type reviewDraft struct {
	Review string `json:"review" jsonschema_description:"The polished review, first person, in the customer's voice"`
	Rating int    `json:"rating" jsonschema:"minimum=1,maximum=5" jsonschema_description:"Star rating 1-5 matching the customer's sentiment"`
}

var reviewDraftSchema = llm.GenerateSchema[reviewDraft]()

// Regeneration reasons, also used as metric labels.
const (
	problemPolarity  = "polarity"
	problemEntities  = "entities"
	problemLength    = "length"
	problemMalformed = "malformed"
)

// Synthesizer turns a normalized transcript into a review that keeps the
// customer's sentiment and the names they mentioned.
type Synthesizer struct {
	gen       TextGenerator
	extractor *Extractor
	cfg       config.SynthesisConfig
	metrics   *metrics.Metrics
	now       func() time.Time
}

func NewSynthesizer(gen TextGenerator, extractor *Extractor, cfg config.SynthesisConfig, m *metrics.Metrics) *Synthesizer {
	if extractor == nil {
		extractor = NewExtractor()
	}
	return &Synthesizer{
		gen:       gen,
		extractor: extractor,
		cfg:       cfg,
		metrics:   m,
		now:       time.Now,
	}
}

type check struct {
	kind   string
	detail string
}

type draftResult struct {
	text     string
	rating   int
	polarity model.Sentiment
	problems []check
}

// Synthesize generates and validates a Draft review. The returned review has
// no ids; the caller owns persistence.
func (s *Synthesizer) Synthesize(ctx context.Context, biz model.BusinessContext, normalized string) (*model.GeneratedReview, error) {
	normalized = strings.TrimSpace(normalized)
	if normalized == "" {
		return nil, ErrEmptyInput
	}

	source, topics, err := s.extractor.Extract(normalized)
	if err != nil {
		source, topics = model.SentimentUnknown, []string{}
	}
	entities := sourceEntities(normalized, biz.KnownEntities)

	slog.DebugContext(ctx, "synthesizing review",
		"sentiment", source,
		"entities", entities,
		"prompt_version", synthesisPromptVersion)

	var last draftResult
	for attempt := 0; attempt <= s.cfg.MaxRegenerations; attempt++ {
		prompt := s.buildPrompt(biz, normalized, source, entities, last.problems)
		raw, err := generateWithRetry(ctx, s.gen, prompt, s.cfg.GenerationRetries, s.cfg.GenerationTimeout, s.cfg.GenerationBackoff)
		if err != nil {
			return nil, err
		}

		last = s.validate(normalized, raw, source, entities, biz.KnownEntities)
		if len(last.problems) == 0 {
			now := s.now().UTC()
			return &model.GeneratedReview{
				BusinessID:    biz.BusinessID,
				CanonicalText: last.text,
				Rating:        source.ClampRating(last.rating),
				Sentiment:     source,
				Topics:        topics,
				Status:        model.ApprovalStatusDraft,
				CreatedAt:     now,
				UpdatedAt:     now,
			}, nil
		}

		for _, p := range last.problems {
			s.metrics.Regeneration(p.kind)
		}
		slog.InfoContext(ctx, "generated review rejected, regenerating",
			"attempt", attempt+1,
			"problems", describe(last.problems))
	}

	for _, p := range last.problems {
		if p.kind == problemPolarity {
			return nil, &SentimentDriftError{Transcript: normalized, Expected: source, Got: last.polarity}
		}
	}
	return nil, &ValidationError{Problems: describe(last.problems)}
}

func (s *Synthesizer) validate(src, raw string, source model.Sentiment, entities []string, known model.KnownEntities) draftResult {
	draft, err := llm.DecodeJSON[reviewDraft](raw)
	if err != nil || strings.TrimSpace(draft.Review) == "" {
		return draftResult{problems: []check{{problemMalformed, "the response was not the requested JSON object"}}}
	}

	res := draftResult{
		text:   strings.TrimSpace(draft.Review),
		rating: draft.Rating,
	}

	if missing := missingEntities(entities, res.text); len(missing) > 0 {
		res.problems = append(res.problems, check{problemEntities, "mention " + strings.Join(missing, ", ")})
	}
	if invented := inventedEntities(src, res.text, known); len(invented) > 0 {
		res.problems = append(res.problems, check{problemEntities, "do not mention " + strings.Join(invented, ", ")})
	}

	n := utf8.RuneCountInString(res.text)
	switch {
	case n < s.cfg.MinLength:
		res.problems = append(res.problems, check{problemLength, fmt.Sprintf("too short (%d characters, minimum %d)", n, s.cfg.MinLength)})
	case n > s.cfg.MaxLength:
		res.problems = append(res.problems, check{problemLength, fmt.Sprintf("too long (%d characters, maximum %d)", n, s.cfg.MaxLength)})
	}

	res.polarity = s.extractor.Classify(res.text)
	if source != model.SentimentUnknown && res.polarity != source {
		res.problems = append(res.problems, check{problemPolarity, fmt.Sprintf("the customer was %s but the review reads %s", source, res.polarity)})
	}
	return res
}

func (s *Synthesizer) buildPrompt(biz model.BusinessContext, src string, source model.Sentiment, entities []string, feedback []check) Prompt {
	var sb strings.Builder
	fmt.Fprintf(&sb, "Business: %s\n", biz.Name)
	if biz.Language != "" {
		fmt.Fprintf(&sb, "Write in language: %s\n", biz.Language)
	}
	fmt.Fprintf(&sb, "Customer sentiment: %s\n", source)
	if len(entities) > 0 {
		fmt.Fprintf(&sb, "Names the customer mentioned (keep every one): %s\n", strings.Join(entities, ", "))
	}
	fmt.Fprintf(&sb, "Length: between %d and %d characters\n", s.cfg.MinLength, s.cfg.MaxLength)
	fmt.Fprintf(&sb, "\nWhat the customer said:\n%s\n", src)

	if len(feedback) > 0 {
		sb.WriteString("\nYour previous draft was rejected. Fix the following:\n")
		for _, f := range feedback {
			fmt.Fprintf(&sb, "- %s\n", f.detail)
		}
	}

	return Prompt{
		System:      synthesisSystemPrompt,
		User:        sb.String(),
		SchemaName:  "review_draft",
		Schema:      reviewDraftSchema,
		Temperature: llm.Temp(0.4),
	}
}

func describe(checks []check) []string {
	out := make([]string, len(checks))
	for i, c := range checks {
		out[i] = c.detail
	}
	return out
}

const synthesisSystemPrompt = `You turn a customer's spoken feedback into a written review they will post under their own name.

Rules:
- Write in the first person, as the customer.
- Keep the customer's sentiment exactly. Do not make a complaint sound positive or praise sound lukewarm.
- Keep every person and product the customer named. Do not add names, dishes or details they did not mention.
- Fix grammar and flow only. Do not invent facts, prices, dates or outcomes.
- Return JSON with "review" and "rating" (1-5 stars consistent with the sentiment).`
