package pipeline_test

import (
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"voxreview.app/relay/internal/model"
	"voxreview.app/relay/internal/pipeline"
)

var _ = Describe("Extractor", func() {
	e := pipeline.NewExtractor()

	DescribeTable("classifies polarity and topics",
		func(input string, sentiment model.Sentiment, topics []string) {
			got, gotTopics, err := e.Extract(input)
			Expect(err).NotTo(HaveOccurred())
			Expect(got).To(Equal(sentiment))
			Expect(gotTopics).To(Equal(topics))
		},
		Entry("praise", "the tacos were amazing and the staff were friendly",
			model.SentimentPositive, []string{"food", "staff"}),
		Entry("complaint", "we waited an hour and the food was cold",
			model.SentimentNegative, []string{"food", "wait_time"}),
		Entry("lukewarm", "the food was okay, nothing special",
			model.SentimentNeutral, []string{"food"}),
		Entry("negated praise", "the service was not great",
			model.SentimentNegative, []string{"service"}),
		Entry("intensified praise", "really really good coffee",
			model.SentimentPositive, []string{"food"}),
		Entry("the clause after but wins", "the food was good but the service was terrible",
			model.SentimentNegative, []string{"food", "service"}),
		Entry("no opinion words", "we went there on tuesday",
			model.SentimentUnknown, []string{}),
	)

	It("reports empty input", func() {
		s, topics, err := e.Extract("  ...  ")
		Expect(err).To(MatchError(pipeline.ErrEmptyInput))
		Expect(s).To(Equal(model.SentimentUnknown))
		Expect(topics).To(BeEmpty())
	})

	It("is versioned", func() {
		Expect(e.Version()).To(Equal(pipeline.ExtractorVersion))
	})
})
