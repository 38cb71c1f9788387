package pipeline_test

import (
	"context"
	"errors"
	"fmt"
	"math/rand/v2"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"voxreview.app/relay/core/config"
	"voxreview.app/relay/internal/model"
	"voxreview.app/relay/internal/pipeline"
)

var _ = Describe("Synthesizer", func() {
	var (
		ctx context.Context
		gen *scriptedGenerator
		cfg config.SynthesisConfig
		biz model.BusinessContext
	)

	BeforeEach(func() {
		ctx = context.Background()
		gen = &scriptedGenerator{}
		cfg = config.SynthesisConfig{
			MinLength:         20,
			MaxLength:         600,
			MaxRegenerations:  2,
			GenerationRetries: 2,
			GenerationTimeout: 50 * time.Millisecond,
			GenerationBackoff: time.Millisecond,
		}
		biz = model.BusinessContext{BusinessID: 7, Name: "Taqueria Sol", Language: "en"}
	})

	synthesize := func(src string) (*model.GeneratedReview, error) {
		return pipeline.NewSynthesizer(gen, nil, cfg, nil).Synthesize(ctx, biz, src)
	}

	DescribeTable("preserves the customer's polarity",
		func(src, output string, rating int, sentiment model.Sentiment, wantRating int) {
			gen.replies = []string{reviewJSON(output, rating)}

			review, err := synthesize(src)

			Expect(err).NotTo(HaveOccurred())
			Expect(review.Sentiment).To(Equal(sentiment))
			Expect(review.Rating).To(Equal(wantRating))
			Expect(review.Status).To(Equal(model.ApprovalStatusDraft))
			Expect(review.BusinessID).To(Equal(int64(7)))
			Expect(review.CanonicalText).To(Equal(output))
		},
		Entry("positive", "the tacos were amazing and jake our waiter was great",
			"The tacos were amazing and Jake, our waiter, was great.", 5, model.SentimentPositive, 5),
		Entry("negative", "the food was cold and the staff were rude",
			"The food arrived cold and the staff were rude to us.", 1, model.SentimentNegative, 1),
		Entry("neutral, with the rating pulled into range", "the food was okay and the price was fine",
			"The food was okay and the price was fine for what it is.", 5, model.SentimentNeutral, 3),
	)

	Describe("polarity over generated transcripts", func() {
		var rng *rand.Rand

		BeforeEach(func() {
			rng = rand.New(rand.NewPCG(uint64(GinkgoRandomSeed()), 7))
		})

		DescribeTable("keeps every transcript in its bucket with a rating to match",
			func(bucket model.Sentiment) {
				lo, hi := bucket.RatingBounds()
				for range 40 {
					src, output := opinionPair(rng, opinionWords[bucket])
					gen = &scriptedGenerator{replies: []string{reviewJSON(output, 1+rng.IntN(5))}}

					review, err := synthesize(src)

					Expect(err).NotTo(HaveOccurred(), "source %q", src)
					Expect(review.Sentiment).To(Equal(bucket), "source %q", src)
					Expect(review.Rating).To(SatisfyAll(BeNumerically(">=", lo), BeNumerically("<=", hi)), "source %q", src)
				}
			},
			Entry("positive", model.SentimentPositive),
			Entry("neutral", model.SentimentNeutral),
			Entry("negative", model.SentimentNegative),
		)

		DescribeTable("never accepts a draft from another bucket",
			func(bucket, drifted model.Sentiment) {
				for range 20 {
					src, _ := opinionPair(rng, opinionWords[bucket])
					_, output := opinionPair(rng, opinionWords[drifted])
					gen = &scriptedGenerator{replies: []string{reviewJSON(output, 3)}}

					_, err := synthesize(src)

					var drift *pipeline.SentimentDriftError
					Expect(errors.As(err, &drift)).To(BeTrue(), "source %q, draft %q", src, output)
					Expect(drift.Expected).To(Equal(bucket))
					Expect(drift.Got).To(Equal(drifted))
				}
			},
			Entry("positive turned negative", model.SentimentPositive, model.SentimentNegative),
			Entry("negative turned positive", model.SentimentNegative, model.SentimentPositive),
			Entry("neutral turned positive", model.SentimentNeutral, model.SentimentPositive),
			Entry("negative softened to neutral", model.SentimentNegative, model.SentimentNeutral),
		)
	})

	It("keeps jake when the customer said 'jake our waiter'", func() {
		gen.replies = []string{
			reviewJSON("The tacos were amazing and our waiter was great.", 5),
			reviewJSON("The tacos were amazing and Jake, our waiter, was great.", 5),
		}

		review, err := synthesize("the tacos were amazing and jake our waiter was great")

		Expect(err).NotTo(HaveOccurred())
		Expect(review.CanonicalText).To(ContainSubstring("Jake"))
		Expect(review.Topics).To(ConsistOf("food", "staff"))
		Expect(gen.Calls()).To(Equal(2))
		Expect(gen.Prompt(0).User).To(ContainSubstring("keep every one): jake"))
		Expect(gen.Prompt(1).User).To(ContainSubstring("mention jake"))
	})

	It("regenerates a draft whose polarity drifted", func() {
		gen.replies = []string{
			reviewJSON("The tacos were terrible and the service was awful.", 1),
			reviewJSON("The tacos were amazing and the service was great.", 5),
		}

		review, err := synthesize("the tacos were amazing and the service was great")

		Expect(err).NotTo(HaveOccurred())
		Expect(review.Sentiment).To(Equal(model.SentimentPositive))
		Expect(gen.Calls()).To(Equal(2))
		Expect(gen.Prompt(1).User).To(ContainSubstring("previous draft was rejected"))
	})

	It("gives up with a drift error when every draft flips the sentiment", func() {
		gen.replies = []string{reviewJSON("The tacos were terrible and the service was awful.", 1)}

		_, err := synthesize("the tacos were amazing and the service was great")

		var drift *pipeline.SentimentDriftError
		Expect(errors.As(err, &drift)).To(BeTrue())
		Expect(drift.Expected).To(Equal(model.SentimentPositive))
		Expect(drift.Got).To(Equal(model.SentimentNegative))
		Expect(pipeline.IsIntegrityError(err)).To(BeTrue())
		Expect(gen.Calls()).To(Equal(cfg.MaxRegenerations + 1))
	})

	It("refuses names the customer never mentioned", func() {
		biz.KnownEntities = model.KnownEntities{Staff: []string{"Maria"}}
		gen.replies = []string{reviewJSON("The tacos were amazing and Maria was great.", 5)}

		_, err := synthesize("the tacos were amazing and the service was great")

		var invalid *pipeline.ValidationError
		Expect(errors.As(err, &invalid)).To(BeTrue())
		Expect(invalid.Problems).To(ContainElement("do not mention maria"))
	})

	It("keeps known staff the customer did mention", func() {
		biz.KnownEntities = model.KnownEntities{Staff: []string{"Maria"}}
		gen.replies = []string{reviewJSON("Maria made the whole evening wonderful, the tacos were great.", 5)}

		review, err := synthesize("maria was wonderful and the tacos were great")

		Expect(err).NotTo(HaveOccurred())
		Expect(review.CanonicalText).To(ContainSubstring("Maria"))
	})

	DescribeTable("reports validation problems once regenerations run out",
		func(output, problem string) {
			gen.replies = []string{output}

			_, err := synthesize("the food was okay and the price was fine")

			var invalid *pipeline.ValidationError
			Expect(errors.As(err, &invalid)).To(BeTrue())
			Expect(fmt.Sprint(invalid.Problems)).To(ContainSubstring(problem))
		},
		Entry("too short", reviewJSON("Okay.", 3), "too short"),
		Entry("not json", "I cannot help with that", "not the requested JSON"),
	)

	It("maps a generation service that never answers to ErrGenerationTimeout", func() {
		gen.fn = blockUntilDone

		_, err := synthesize("the tacos were amazing and the service was great")

		Expect(err).To(MatchError(pipeline.ErrGenerationTimeout))
		Expect(gen.Calls()).To(BeNumerically(">=", 1))
	})

	It("stops at the first refusal from the generation service", func() {
		gen.fn = func(context.Context, int) (string, error) {
			return "", fmt.Errorf("%w: 401 invalid key", pipeline.ErrGenerationUnavailable)
		}

		_, err := synthesize("the tacos were amazing and the service was great")

		Expect(err).To(MatchError(pipeline.ErrGenerationUnavailable))
		Expect(gen.Calls()).To(Equal(1))
	})

	It("rejects an empty transcript without calling the generator", func() {
		_, err := synthesize("   ")
		Expect(err).To(MatchError(pipeline.ErrEmptyInput))
		Expect(gen.Calls()).To(BeZero())
	})
})

// opinionWords are lexicon adjectives grouped by the bucket they land in.
var opinionWords = map[model.Sentiment][]string{
	model.SentimentPositive: {"amazing", "wonderful", "delicious", "great", "friendly", "fresh", "lovely", "excellent"},
	model.SentimentNeutral:  {"okay", "fine", "average", "decent", "reasonable", "standard"},
	model.SentimentNegative: {"terrible", "awful", "rude", "cold", "bland", "dirty", "slow", "overpriced"},
}

var opinionSubjects = []string{"tacos", "food", "service", "staff", "salsa", "prices", "music", "table", "drinks", "dessert"}

// opinionPair builds a lowercase transcript and a differently worded draft
// that share one polarity.
func opinionPair(rng *rand.Rand, words []string) (src, output string) {
	pick := func(from []string) string { return from[rng.IntN(len(from))] }
	s1, s2 := pick(opinionSubjects), pick(opinionSubjects)
	src = fmt.Sprintf("the %s were %s and the %s was %s", s1, pick(words), s2, pick(words))
	output = fmt.Sprintf("We thought the %s were %s, and the %s was %s as well.", s1, pick(words), s2, pick(words))
	return src, output
}
