package service_test

import (
	"context"
	"errors"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"voxreview.app/relay/core/config"
	"voxreview.app/relay/internal/pipeline"
	"voxreview.app/relay/internal/queue"
	"voxreview.app/relay/internal/service"
	"voxreview.app/relay/internal/store/storetest"
	"voxreview.app/relay/internal/transcription"
)

var _ = Describe("IntakeService", func() {
	var (
		ctx         context.Context
		mem         *storetest.Memory
		producer    *mockProducer
		transcriber *mockTranscriber
		svc         service.IntakeService
	)

	BeforeEach(func() {
		ctx = context.Background()
		mem = storetest.New()
		mem.PutBusiness(tacoShop())
		producer = &mockProducer{}
		transcriber = &mockTranscriber{}
		normalizer := pipeline.NewNormalizer(config.NormalizerConfig{Languages: []string{"en", "es"}, MinTokens: 3})
		svc = service.NewIntakeService(mem, normalizer, transcriber, producer, config.TranscriptionConfig{MinConfidence: 0.5})
	})

	It("normalizes typed text, stores the transcript and queues synthesis", func() {
		res, err := svc.Submit(ctx, service.IntakeParams{
			BusinessID: 7,
			Text:       "um the tacos were uh amazing",
		})

		Expect(err).NotTo(HaveOccurred())
		Expect(res.Enqueued).To(BeTrue())
		Expect(res.Transcript.NormalizedText).To(Equal("the tacos were amazing"))
		Expect(res.Transcript.RawText).To(Equal("um the tacos were uh amazing"))
		Expect(res.Transcript.Language).To(Equal("en"))
		Expect(res.Transcript.Confidence).To(Equal(1.0))

		stored, err := mem.Transcripts().GetByID(ctx, res.Transcript.ID)
		Expect(err).NotTo(HaveOccurred())
		Expect(stored.NormalizedText).To(Equal("the tacos were amazing"))

		tasks := producer.Tasks()
		Expect(tasks).To(HaveLen(1))
		Expect(tasks[0].TaskType).To(Equal(queue.TaskTypeSynthesizeReview))
		Expect(tasks[0].BusinessID).To(Equal(int64(7)))
		Expect(*tasks[0].TranscriptID).To(Equal(res.Transcript.ID))
	})

	It("transcribes audio in the business language", func() {
		transcriber.transcribeFn = func(context.Context, []byte, string) (string, float64, error) {
			return "the salsa was fresh and the staff were kind", 0.88, nil
		}

		res, err := svc.Submit(ctx, service.IntakeParams{BusinessID: 7, Audio: []byte("RIFF....")})

		Expect(err).NotTo(HaveOccurred())
		Expect(transcriber.langs).To(Equal([]string{"en"}))
		Expect(res.Transcript.Confidence).To(Equal(0.88))
		Expect(res.Transcript.NormalizedText).To(Equal("the salsa was fresh and the staff were kind"))
	})

	DescribeTable("rejects unusable input without queueing anything",
		func(params service.IntakeParams, transcribe func(context.Context, []byte, string) (string, float64, error), want error) {
			transcriber.transcribeFn = transcribe

			_, err := svc.Submit(ctx, params)

			Expect(err).To(MatchError(want))
			Expect(producer.Tasks()).To(BeEmpty())
		},
		Entry("low confidence audio",
			service.IntakeParams{BusinessID: 7, Audio: []byte("x")},
			func(context.Context, []byte, string) (string, float64, error) {
				return "the tacos were amazing", 0.3, nil
			},
			service.ErrLowConfidence),
		Entry("silent audio",
			service.IntakeParams{BusinessID: 7, Audio: []byte("x")},
			func(context.Context, []byte, string) (string, float64, error) {
				return "", 0, transcription.ErrNoSpeech
			},
			pipeline.ErrEmptyInput),
		Entry("nothing but fillers", service.IntakeParams{BusinessID: 7, Text: "um uh hmm"}, nil, pipeline.ErrEmptyInput),
		Entry("no content at all", service.IntakeParams{BusinessID: 7}, nil, pipeline.ErrEmptyInput),
		Entry("unsupported language", service.IntakeParams{BusinessID: 7, Text: "la comida estaba muy buena", Language: "ja"}, nil, pipeline.ErrUnsupportedLanguage),
		Entry("unknown business", service.IntakeParams{BusinessID: 99, Text: "the tacos were amazing"}, nil, service.ErrBusinessNotFound),
		Entry("missing business", service.IntakeParams{Text: "the tacos were amazing"}, nil, service.ErrInvalidRequest),
	)

	It("classifies low confidence as an input error", func() {
		transcriber.transcribeFn = func(context.Context, []byte, string) (string, float64, error) {
			return "the tacos were amazing", 0.1, nil
		}
		_, err := svc.Submit(ctx, service.IntakeParams{BusinessID: 7, Audio: []byte("x")})
		Expect(service.IsInputError(err)).To(BeTrue())
	})

	It("passes transcription outages through", func() {
		transcriber.transcribeFn = func(context.Context, []byte, string) (string, float64, error) {
			return "", 0, transcription.ErrUnavailable
		}
		_, err := svc.Submit(ctx, service.IntakeParams{BusinessID: 7, Audio: []byte("x")})
		Expect(err).To(MatchError(transcription.ErrUnavailable))
		Expect(service.IsInputError(err)).To(BeFalse())
	})

	It("keeps the transcript when the queue is down", func() {
		producer.enqueueFn = func(context.Context, queue.Task) error { return errors.New("redis: connection refused") }

		res, err := svc.Submit(ctx, service.IntakeParams{BusinessID: 7, Text: "the tacos were amazing"})

		Expect(err).NotTo(HaveOccurred())
		Expect(res.Enqueued).To(BeFalse())
		_, err = mem.Transcripts().GetByID(ctx, res.Transcript.ID)
		Expect(err).NotTo(HaveOccurred())
	})
})
