package pipeline

import (
	"context"
	_ "embed"
	"fmt"
	"os"
	"regexp"
	"strings"
	"unicode"

	lru "github.com/hashicorp/golang-lru/v2"
	"golang.org/x/sync/errgroup"
	"gopkg.in/yaml.v3"

	"voxreview.app/relay/internal/model"
)

//go:embed profiles.yaml
var defaultProfilesYAML []byte

// Profile holds the rendering rules for one platform.
type Profile struct {
	MaxLength       int  `yaml:"max_length"`
	ReplyMaxLength  int  `yaml:"reply_max_length"`
	StripEmoji      bool `yaml:"strip_emoji"`
	SingleParagraph bool `yaml:"single_paragraph"`
	NeedsTitle      bool `yaml:"needs_title"`
	TitleMaxLength  int  `yaml:"title_max_length"`
}

type Profiles map[model.Platform]Profile

// LoadProfiles returns the built-in profiles, overlaid with the YAML file at
// path when path is set.
func LoadProfiles(path string) (Profiles, error) {
	profiles, err := parseProfiles(defaultProfilesYAML, nil)
	if err != nil {
		return nil, fmt.Errorf("parse built-in profiles: %w", err)
	}
	if path == "" {
		return profiles, nil
	}

	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read platform profiles: %w", err)
	}
	profiles, err = parseProfiles(raw, profiles)
	if err != nil {
		return nil, fmt.Errorf("parse %s: %w", path, err)
	}
	return profiles, nil
}

func parseProfiles(raw []byte, base Profiles) (Profiles, error) {
	var nodes map[string]yaml.Node
	if err := yaml.Unmarshal(raw, &nodes); err != nil {
		return nil, err
	}

	out := make(Profiles, len(base)+len(nodes))
	for p, prof := range base {
		out[p] = prof
	}
	for name, node := range nodes {
		platform, ok := model.ParsePlatform(name)
		if !ok {
			return nil, fmt.Errorf("%w: %q", ErrUnsupportedPlatform, name)
		}
		prof := out[platform]
		if err := node.Decode(&prof); err != nil {
			return nil, fmt.Errorf("profile %s: %w", name, err)
		}
		if prof.MaxLength <= 0 {
			return nil, fmt.Errorf("profile %s: max_length must be positive", name)
		}
		if prof.ReplyMaxLength <= 0 {
			prof.ReplyMaxLength = prof.MaxLength
		}
		out[platform] = prof
	}
	return out, nil
}

type formatKey struct {
	platform model.Platform
	kind     model.SubjectKind
	text     string
}

type formatted struct {
	text      string
	title     string
	maxLength int
}

// Formatter renders canonical text into per-platform variants. Output
// depends only on the text and the platform, so results are memoized.
type Formatter struct {
	profiles Profiles
	cache    *lru.Cache[formatKey, formatted]
}

func NewFormatter(profiles Profiles, cacheSize int) (*Formatter, error) {
	if cacheSize <= 0 {
		cacheSize = 1024
	}
	cache, err := lru.New[formatKey, formatted](cacheSize)
	if err != nil {
		return nil, fmt.Errorf("create format cache: %w", err)
	}
	return &Formatter{profiles: profiles, cache: cache}, nil
}

// Format renders a review for one platform. Formatting an already formatted
// text for the same platform returns it unchanged.
func (f *Formatter) Format(review model.GeneratedReview, platform model.Platform) (model.PlatformVariant, error) {
	out, err := f.render(platform, model.SubjectKindReview, review.CanonicalText)
	if err != nil {
		return model.PlatformVariant{}, err
	}
	return model.PlatformVariant{
		SubjectKind:   model.SubjectKindReview,
		SubjectID:     review.ID,
		Platform:      platform,
		FormattedText: out.text,
		Title:         out.title,
		Rating:        review.Rating,
		MaxLength:     out.maxLength,
	}, nil
}

// FormatResponse renders a reply for the platform the inbound review came from.
func (f *Formatter) FormatResponse(resp model.GeneratedResponse, inbound model.InboundReview) (model.PlatformVariant, error) {
	out, err := f.render(inbound.Platform, model.SubjectKindResponse, resp.Text)
	if err != nil {
		return model.PlatformVariant{}, err
	}
	return model.PlatformVariant{
		SubjectKind:   model.SubjectKindResponse,
		SubjectID:     resp.ID,
		Platform:      inbound.Platform,
		FormattedText: out.text,
		MaxLength:     out.maxLength,
		InReplyTo:     inbound.ExternalID,
	}, nil
}

// FormatAll renders a review for every platform concurrently. Variants come
// back in the order of platforms.
func (f *Formatter) FormatAll(ctx context.Context, review model.GeneratedReview, platforms []model.Platform) ([]model.PlatformVariant, error) {
	variants := make([]model.PlatformVariant, len(platforms))
	g, ctx := errgroup.WithContext(ctx)
	for i, p := range platforms {
		g.Go(func() error {
			if err := ctx.Err(); err != nil {
				return err
			}
			v, err := f.Format(review, p)
			if err != nil {
				return fmt.Errorf("format for %s: %w", p, err)
			}
			variants[i] = v
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return variants, nil
}

func (f *Formatter) render(platform model.Platform, kind model.SubjectKind, canonical string) (formatted, error) {
	prof, ok := f.profiles[platform]
	if !ok {
		return formatted{}, fmt.Errorf("%w: %q", ErrUnsupportedPlatform, platform)
	}

	key := formatKey{platform: platform, kind: kind, text: canonical}
	if out, ok := f.cache.Get(key); ok {
		return out, nil
	}

	limit := prof.MaxLength
	if kind == model.SubjectKindResponse {
		limit = prof.ReplyMaxLength
	}

	s := canonical
	if prof.StripEmoji {
		s = stripEmoji(s)
	}
	s = normalizeSpace(s, prof.SingleParagraph)
	s = truncate(s, limit)

	out := formatted{text: s, maxLength: limit}
	if prof.NeedsTitle && kind == model.SubjectKindReview {
		out.title = title(s, prof.TitleMaxLength)
	}
	f.cache.Add(key, out)
	return out, nil
}

var paragraphBreak = regexp.MustCompile(`\n\s*\n`)

func normalizeSpace(s string, single bool) string {
	var paragraphs []string
	for _, p := range paragraphBreak.Split(s, -1) {
		if p = strings.Join(strings.Fields(p), " "); p != "" {
			paragraphs = append(paragraphs, p)
		}
	}
	sep := "\n\n"
	if single {
		sep = " "
	}
	return strings.Join(paragraphs, sep)
}

func stripEmoji(s string) string {
	return strings.Map(func(r rune) rune {
		if isEmoji(r) {
			return -1
		}
		return r
	}, s)
}

func isEmoji(r rune) bool {
	switch {
	case r >= 0x1F000 && r <= 0x1FAFF: // pictographs, emoticons, flags, symbols
		return true
	case r >= 0x2600 && r <= 0x27BF: // misc symbols, dingbats
		return true
	case r == 0xFE0F || r == 0x200D || r == 0x20E3:
		return true
	}
	return false
}

func isSentenceEnd(r rune) bool {
	return r == '.' || r == '!' || r == '?'
}

// truncate cuts s to at most limit runes, preferring the last sentence that
// fits and falling back to the last whole word plus an ellipsis.
func truncate(s string, limit int) string {
	runes := []rune(s)
	if limit <= 0 || len(runes) <= limit {
		return s
	}

	for i := limit - 1; i >= limit/2; i-- {
		if isSentenceEnd(runes[i]) && (i+1 == len(runes) || unicode.IsSpace(runes[i+1])) {
			return strings.TrimSpace(string(runes[:i+1]))
		}
	}
	return cutWords(runes, limit)
}

func cutWords(runes []rune, limit int) string {
	room := limit - 1 // leave space for the ellipsis
	for j := room; j > 0; j-- {
		if unicode.IsSpace(runes[j]) {
			return strings.TrimRight(string(runes[:j]), " \n,;:-") + "…"
		}
	}
	return string(runes[:room]) + "…"
}

// title is the first sentence of s without its final period.
func title(s string, limit int) string {
	runes := []rune(strings.ReplaceAll(s, "\n", " "))
	end := len(runes)
	for i, r := range runes {
		if isSentenceEnd(r) && (i+1 == len(runes) || unicode.IsSpace(runes[i+1])) {
			end = i + 1
			break
		}
	}
	t := strings.TrimSuffix(strings.TrimSpace(string(runes[:end])), ".")
	if limit > 0 && len([]rune(t)) > limit {
		return cutWords([]rune(t), limit)
	}
	return t
}
