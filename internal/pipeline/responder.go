package pipeline

import (
	"context"
	"fmt"
	"log/slog"
	"regexp"
	"strings"
	"time"

	"voxreview.app/relay/common/llm"
	"voxreview.app/relay/common/text"
	"voxreview.app/relay/core/config"
	"voxreview.app/relay/internal/metrics"
	"voxreview.app/relay/internal/model"
)

const responsePromptVersion = "v1"

// Generated replies get one retry before the template takes over.
const responseAttempts = 2

type replyDraft struct {
	Reply string `json:"reply" jsonschema_description:"The public reply from the business to the reviewer"`
}

var replyDraftSchema = llm.GenerateSchema[replyDraft]()

// "45 minutes", "two hours", "3 days"
var quantityPhrase = regexp.MustCompile(`(?i)\b(\d+|one|two|three|four|five|six|seven|eight|nine|ten|twenty|thirty|forty|fifty|sixty)\s+(minutes?|mins?|hours?|hrs?|days?|weeks?|months?|times|people|guests|dollars|bucks|euros)\b`)

var stopWords = map[string]bool{
	"about": true, "after": true, "again": true, "also": true, "been": true, "before": true,
	"being": true, "came": true, "could": true, "does": true, "doing": true, "down": true,
	"even": true, "every": true, "from": true, "gave": true, "going": true, "have": true,
	"having": true, "here": true, "into": true, "just": true, "last": true, "like": true,
	"made": true, "make": true, "many": true, "more": true, "most": true, "much": true,
	"only": true, "other": true, "over": true, "place": true, "really": true, "said": true,
	"should": true, "some": true, "still": true, "than": true, "that": true, "their": true,
	"them": true, "then": true, "there": true, "these": true, "they": true, "thing": true,
	"this": true, "those": true, "time": true, "told": true, "very": true, "visit": true,
	"want": true, "went": true, "were": true, "what": true, "when": true, "where": true,
	"which": true, "while": true, "will": true, "with": true, "would": true, "your": true,
	"yours": true, "ours": true, "because": true, "didn't": true, "wasn't": true,
	"don't": true, "won't": true, "it's": true, "we're": true, "i'm": true, "they're": true,
}

// reviewDetails are the concrete things a reply has to acknowledge.
type reviewDetails struct {
	quantities []string // "45 minutes"
	words      []string // content words, in order of appearance
}

func extractDetails(review string) reviewDetails {
	var d reviewDetails
	for _, m := range quantityPhrase.FindAllStringSubmatch(review, -1) {
		d.quantities = appendUnique(d.quantities, strings.ToLower(m[1]+" "+m[2]))
	}

	seen := make(map[string]bool)
	for _, w := range text.Words(review) {
		if len([]rune(w)) < 4 || stopWords[w] || isNumber(w) {
			continue
		}
		stem := text.Stem(w)
		if seen[stem] {
			continue
		}
		seen[stem] = true
		d.words = append(d.words, w)
	}
	return d
}

func isNumber(w string) bool {
	for _, r := range w {
		if r < '0' || r > '9' {
			return false
		}
	}
	return w != ""
}

// missing reports what a reply should have picked up when it acknowledges
// none of the review's details. One quantity or one content word, in any
// inflection, is enough.
func (d reviewDetails) missing(reply string) []string {
	if len(d.quantities) == 0 && len(d.words) == 0 {
		return nil
	}

	replyStems := make(map[string]bool)
	for _, w := range text.Words(reply) {
		replyStems[text.Stem(w)] = true
	}
	for _, q := range d.quantities {
		if quantityIn(q, replyStems) {
			return nil
		}
	}
	for _, w := range d.words {
		if replyStems[text.Stem(w)] {
			return nil
		}
	}

	all := append(append([]string{}, d.quantities...), d.words...)
	return []string{"at least one of: " + strings.Join(all, ", ")}
}

func quantityIn(q string, stems map[string]bool) bool {
	for _, part := range strings.Fields(q) {
		if !stems[text.Stem(part)] {
			return false
		}
	}
	return true
}

// Responder writes replies to inbound reviews in the business's voice.
type Responder struct {
	gen       TextGenerator
	extractor *Extractor
	cfg       config.SynthesisConfig
	metrics   *metrics.Metrics
	now       func() time.Time
}

func NewResponder(gen TextGenerator, extractor *Extractor, cfg config.SynthesisConfig, m *metrics.Metrics) *Responder {
	if extractor == nil {
		extractor = NewExtractor()
	}
	return &Responder{
		gen:       gen,
		extractor: extractor,
		cfg:       cfg,
		metrics:   m,
		now:       time.Now,
	}
}

// Respond drafts a reply. When generated replies keep missing the review's
// details the result is a template reply marked LowConfidence. Generation
// service errors are returned to the caller.
func (r *Responder) Respond(ctx context.Context, biz model.BusinessContext, inbound model.InboundReview) (*model.GeneratedResponse, error) {
	if strings.TrimSpace(inbound.Text) == "" && inbound.Rating == 0 {
		return nil, ErrEmptyInput
	}

	sentiment := inbound.Sentiment
	if sentiment == "" || sentiment == model.SentimentUnknown {
		sentiment = r.extractor.Classify(inbound.Text)
	}
	details := extractDetails(inbound.Text)

	var (
		reply    string
		problems []string
	)
	for attempt := 0; attempt < responseAttempts; attempt++ {
		prompt := r.buildPrompt(biz, inbound, sentiment, details, problems)
		raw, err := generateWithRetry(ctx, r.gen, prompt, r.cfg.GenerationRetries, r.cfg.GenerationTimeout, r.cfg.GenerationBackoff)
		if err != nil {
			return nil, err
		}

		reply, problems = r.validate(raw, details, biz.BrandVoice)
		if len(problems) == 0 {
			return r.response(biz, inbound, reply, false), nil
		}
		slog.InfoContext(ctx, "generated reply rejected",
			"attempt", attempt+1,
			"problems", problems,
			"prompt_version", responsePromptVersion)
	}

	r.metrics.LowConfidenceResponse()
	slog.WarnContext(ctx, "falling back to template reply", "problems", problems)
	return r.response(biz, inbound, templateReply(biz, inbound, sentiment), true), nil
}

func (r *Responder) response(biz model.BusinessContext, inbound model.InboundReview, reply string, lowConfidence bool) *model.GeneratedResponse {
	now := r.now().UTC()
	return &model.GeneratedResponse{
		InboundReviewID: inbound.ID,
		BusinessID:      biz.BusinessID,
		Text:            reply,
		Status:          model.ApprovalStatusDraft,
		LowConfidence:   lowConfidence,
		CreatedAt:       now,
		UpdatedAt:       now,
	}
}

func (r *Responder) validate(raw string, details reviewDetails, voice model.BrandVoice) (string, []string) {
	draft, err := llm.DecodeJSON[replyDraft](raw)
	reply := strings.TrimSpace(draft.Reply)
	if err != nil || reply == "" {
		return "", []string{"the response was not the requested JSON object"}
	}

	var problems []string
	for _, m := range details.missing(reply) {
		problems = append(problems, "mention "+m)
	}
	for _, phrase := range voice.Avoid {
		if text.ContainsWord(reply, phrase) {
			problems = append(problems, fmt.Sprintf("do not say %q", phrase))
		}
	}
	return reply, problems
}

func (r *Responder) buildPrompt(biz model.BusinessContext, inbound model.InboundReview, sentiment model.Sentiment, details reviewDetails, feedback []string) Prompt {
	var sb strings.Builder
	fmt.Fprintf(&sb, "Business: %s\n", biz.Name)
	if biz.Language != "" {
		fmt.Fprintf(&sb, "Write in language: %s\n", biz.Language)
	}
	if v := biz.BrandVoice; v.Tone != "" || v.Persona != "" {
		fmt.Fprintf(&sb, "Tone: %s\nSigned by: %s\n", v.Tone, v.Persona)
	}
	if biz.BrandVoice.SignOff != "" {
		fmt.Fprintf(&sb, "End with: %s\n", biz.BrandVoice.SignOff)
	}
	if len(biz.BrandVoice.Avoid) > 0 {
		fmt.Fprintf(&sb, "Never use these phrases: %s\n", strings.Join(biz.BrandVoice.Avoid, "; "))
	}
	if biz.ContactEmail != "" && sentiment == model.SentimentNegative {
		fmt.Fprintf(&sb, "Offer to continue the conversation at: %s\n", biz.ContactEmail)
	}

	fmt.Fprintf(&sb, "\nReview on %s", inbound.Platform)
	if inbound.Rating > 0 {
		fmt.Fprintf(&sb, " (%d stars)", inbound.Rating)
	}
	if inbound.Author != "" {
		fmt.Fprintf(&sb, " by %s", inbound.Author)
	}
	fmt.Fprintf(&sb, ", sentiment %s:\n%s\n", sentiment, inbound.Text)

	if len(details.quantities) > 0 {
		fmt.Fprintf(&sb, "\nAcknowledge exactly: %s\n", strings.Join(details.quantities, ", "))
	}

	if len(feedback) > 0 {
		sb.WriteString("\nYour previous reply was rejected. Fix the following:\n")
		for _, f := range feedback {
			fmt.Fprintf(&sb, "- %s\n", f)
		}
	}

	return Prompt{
		System:      responseSystemPrompt,
		User:        sb.String(),
		SchemaName:  "reply_draft",
		Schema:      replyDraftSchema,
		Temperature: llm.Temp(0.5),
	}
}

func templateReply(biz model.BusinessContext, inbound model.InboundReview, sentiment model.Sentiment) string {
	greeting := "Hi"
	if inbound.Author != "" {
		greeting = "Hi " + inbound.Author
	}

	var body string
	switch sentiment {
	case model.SentimentPositive:
		body = "thank you so much for the kind words! We're glad you enjoyed your visit and hope to see you again soon."
	case model.SentimentNegative:
		body = "thank you for telling us about your visit. We're sorry we fell short and would like to make it right."
		if biz.ContactEmail != "" {
			body += " Please reach out to us at " + biz.ContactEmail + "."
		}
	default:
		body = "thank you for taking the time to share your feedback. We hope to welcome you back soon."
	}

	reply := greeting + ", " + body
	switch {
	case biz.BrandVoice.SignOff != "":
		reply += "\n\n" + biz.BrandVoice.SignOff
	case biz.BrandVoice.Persona != "":
		reply += "\n\n" + biz.BrandVoice.Persona
	}
	return reply
}

// DecideMode picks how a generated response is published. A low-confidence
// reply always waits for the business, autopilot or not.
func DecideMode(autopilot, lowConfidence bool) model.PostingMode {
	if lowConfidence || !autopilot {
		return model.PostingModeManual
	}
	return model.PostingModeAutopilot
}

const responseSystemPrompt = `You write the public reply a business posts under a customer review.

Rules:
- Speak as the business, in the tone you are given.
- Refer to the specific things the reviewer mentioned, using their numbers exactly.
- For complaints: apologise once, do not argue, do not promise refunds or compensation.
- Never invent facts about the visit. Keep it under 120 words.
- Return JSON with a single "reply" field.`
