package service_test

import (
	"context"
	"sync"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"voxreview.app/relay/internal/model"
	"voxreview.app/relay/internal/pipeline"
	"voxreview.app/relay/internal/queue"
	"voxreview.app/relay/internal/store"
)

const tacoTranscript = "the tacos were amazing and jake our waiter was great"

var _ = Describe("ReviewService", func() {
	var (
		ctx context.Context
		h   *harness
	)

	storeTranscript := func(text string) *model.Transcript {
		t, err := h.mem.Transcripts().Create(ctx, &model.Transcript{
			BusinessID:     7,
			RawText:        text,
			NormalizedText: text,
			Language:       "en",
			Confidence:     0.93,
			CapturedAt:     time.Now().UTC(),
		})
		Expect(err).NotTo(HaveOccurred())
		return t
	}

	synthesized := func() *model.GeneratedReview {
		t := storeTranscript(tacoTranscript)
		Expect(h.reviews.Synthesize(ctx, t.ID)).To(Succeed())
		r, err := h.mem.Reviews().GetLiveByTranscript(ctx, t.ID)
		Expect(err).NotTo(HaveOccurred())
		return r
	}

	BeforeEach(func() {
		ctx = context.Background()
		h = newHarness(tacoShop(), true)
		h.gen.replies = []string{reviewJSON("The tacos were amazing and Jake, our waiter, was great.", 5)}
	})

	Describe("Synthesize", func() {
		It("drafts a review with a variant per connected platform and submits it", func() {
			review := synthesized()

			Expect(review.Status).To(Equal(model.ApprovalStatusPendingApproval))
			Expect(review.Rating).To(Equal(5))
			Expect(review.Sentiment).To(Equal(model.SentimentPositive))
			Expect(review.ExpiresAt).NotTo(BeNil())
			Expect(*review.ExpiresAt).To(BeTemporally("~", review.CreatedAt.Add(72*time.Hour), time.Second))

			detail, err := h.reviews.Get(ctx, review.ID)
			Expect(err).NotTo(HaveOccurred())
			Expect(detail.Variants).To(HaveLen(2))
			platforms := []model.Platform{detail.Variants[0].Platform, detail.Variants[1].Platform}
			Expect(platforms).To(ConsistOf(model.PlatformGoogle, model.PlatformYelp))
			Expect(detail.Attempts).To(BeEmpty())

			transitions := h.eventsOfKind(model.EventKindApprovalTransition)
			Expect(transitions).To(HaveLen(1))
			Expect(transitions[0].ToState).To(Equal(string(model.ApprovalStatusPendingApproval)))
			Expect(transitions[0].ReviewID).To(Equal(review.ID))
		})

		It("leaves drafts alone when auto-submit is off", func() {
			h = newHarness(tacoShop(), false)
			h.gen.replies = []string{reviewJSON("The tacos were amazing and Jake, our waiter, was great.", 5)}

			Expect(synthesized().Status).To(Equal(model.ApprovalStatusDraft))
			Expect(h.recorder.Events()).To(BeEmpty())
		})

		It("is a no-op for a transcript that already has a review", func() {
			t := storeTranscript(tacoTranscript)
			Expect(h.reviews.Synthesize(ctx, t.ID)).To(Succeed())
			calls := h.gen.Calls()

			Expect(h.reviews.Synthesize(ctx, t.ID)).To(Succeed())

			Expect(h.gen.Calls()).To(Equal(calls))
			list, err := h.reviews.List(ctx, store.ReviewFilter{BusinessID: 7})
			Expect(err).NotTo(HaveOccurred())
			Expect(list).To(HaveLen(1))
		})

		It("drops unknown transcripts", func() {
			Expect(h.reviews.Synthesize(ctx, 424242)).To(Succeed())
			Expect(h.gen.Calls()).To(BeZero())
		})

		It("flags the transcript for manual handling when the sentiment keeps drifting", func() {
			h.gen.replies = []string{reviewJSON("The tacos were terrible and the service was awful.", 1)}
			t := storeTranscript("the tacos were amazing and the service was great")

			Expect(h.reviews.Synthesize(ctx, t.ID)).To(Succeed())

			stored, err := h.mem.Transcripts().GetByID(ctx, t.ID)
			Expect(err).NotTo(HaveOccurred())
			Expect(stored.SynthesisError).NotTo(BeNil())
			Expect(*stored.SynthesisError).To(ContainSubstring("drifted from positive to negative"))

			_, err = h.mem.Reviews().GetLiveByTranscript(ctx, t.ID)
			Expect(err).To(MatchError(store.ErrNotFound))

			failed := h.eventsOfKind(model.EventKindSynthesisFailed)
			Expect(failed).To(HaveLen(1))
			Expect(failed[0].FromState).To(Equal(string(model.SentimentPositive)))
			Expect(failed[0].ToState).To(Equal(string(model.SentimentNegative)))
		})

		It("returns generation outages so the stage retries", func() {
			h.gen.err = pipeline.ErrGenerationUnavailable
			t := storeTranscript(tacoTranscript)

			err := h.reviews.Synthesize(ctx, t.ID)

			Expect(err).To(MatchError(pipeline.ErrGenerationUnavailable))
			stored, _ := h.mem.Transcripts().GetByID(ctx, t.ID)
			Expect(stored.SynthesisError).To(BeNil())
		})
	})

	Describe("Approve", func() {
		It("plans one queued attempt per variant and hands them to the schedule", func() {
			review := synthesized()

			detail, err := h.reviews.Approve(ctx, review.ID)

			Expect(err).NotTo(HaveOccurred())
			Expect(detail.Review.Status).To(Equal(model.ApprovalStatusApproved))
			Expect(detail.Attempts).To(HaveLen(2))
			for _, a := range detail.Attempts {
				Expect(a.State).To(Equal(model.AttemptStateQueued))
				Expect(a.IdempotencyKey).NotTo(BeEmpty())
			}
			Expect(h.schedule.Len()).To(Equal(2))
			Expect(h.eventsOfKind(model.EventKindAttemptTransition)).To(HaveLen(2))
		})

		It("lets exactly one of many concurrent approvals through", func() {
			review := synthesized()

			var wg sync.WaitGroup
			for range 8 {
				wg.Add(1)
				go func() {
					defer GinkgoRecover()
					defer wg.Done()
					_, _ = h.reviews.Approve(ctx, review.ID)
				}()
			}
			wg.Wait()

			attempts, err := h.mem.Attempts().ListBySubject(ctx, review.Subject())
			Expect(err).NotTo(HaveOccurred())
			Expect(attempts).To(HaveLen(2))

			approved := 0
			for _, ev := range h.eventsOfKind(model.EventKindApprovalTransition) {
				if ev.ToState == string(model.ApprovalStatusApproved) {
					approved++
				}
			}
			Expect(approved).To(Equal(1))
		})

		It("expires a review whose approval window lapsed and commits that", func() {
			past := time.Now().Add(-time.Hour).UTC()
			review, err := h.mem.Reviews().Create(ctx, &model.GeneratedReview{
				TranscriptID:  99,
				BusinessID:    7,
				CanonicalText: "The tacos were amazing.",
				Rating:        5,
				Status:        model.ApprovalStatusPendingApproval,
				CreatedAt:     past.Add(-72 * time.Hour),
				ExpiresAt:     &past,
			})
			Expect(err).NotTo(HaveOccurred())

			_, err = h.reviews.Approve(ctx, review.ID)

			Expect(err).To(MatchError(pipeline.ErrExpired))
			stored, _ := h.mem.Reviews().GetByID(ctx, review.ID)
			Expect(stored.Status).To(Equal(model.ApprovalStatusExpired))
			attempts, _ := h.mem.Attempts().ListBySubject(ctx, review.Subject())
			Expect(attempts).To(BeEmpty())
		})

		It("completes immediately when there is nothing to distribute", func() {
			biz := tacoShop()
			biz.Platforms = nil
			h = newHarness(biz, true)
			h.gen.replies = []string{reviewJSON("The tacos were amazing and Jake, our waiter, was great.", 5)}
			review := synthesized()

			detail, err := h.reviews.Approve(ctx, review.ID)

			Expect(err).NotTo(HaveOccurred())
			Expect(detail.Review.Status).To(Equal(model.ApprovalStatusApproved))
			Expect(detail.Variants).To(BeEmpty())
			Expect(detail.Attempts).To(BeEmpty())
		})
	})

	Describe("Reject", func() {
		It("is terminal", func() {
			review := synthesized()

			detail, err := h.reviews.Reject(ctx, review.ID)
			Expect(err).NotTo(HaveOccurred())
			Expect(detail.Review.Status).To(Equal(model.ApprovalStatusRejected))

			_, err = h.reviews.Approve(ctx, review.ID)
			Expect(err).To(MatchError(pipeline.ErrInvalidTransition))
			Expect(h.schedule.Len()).To(BeZero())
			Expect(h.google.Calls()).To(BeEmpty())
		})
	})

	Describe("Edit", func() {
		It("replaces the text and re-renders variants while pending", func() {
			review := synthesized()

			detail, err := h.reviews.Edit(ctx, review.ID, "  Best tacos in town. Jake was wonderful!  ")

			Expect(err).NotTo(HaveOccurred())
			Expect(detail.Review.CanonicalText).To(Equal("Best tacos in town. Jake was wonderful!"))
			Expect(detail.Variants).To(HaveLen(2))
			for _, v := range detail.Variants {
				Expect(v.FormattedText).To(Equal("Best tacos in town. Jake was wonderful!"))
			}
		})

		It("refuses decided reviews and empty text", func() {
			review := synthesized()
			_, err := h.reviews.Edit(ctx, review.ID, "   ")
			Expect(err).To(MatchError(pipeline.ErrEmptyInput))

			_, err = h.reviews.Approve(ctx, review.ID)
			Expect(err).NotTo(HaveOccurred())

			_, err = h.reviews.Edit(ctx, review.ID, "Changed my mind.")
			Expect(err).To(MatchError(pipeline.ErrInvalidTransition))
		})
	})

	Describe("Redispatch", func() {
		It("replans only platforms without a live or successful attempt", func() {
			review := synthesized()
			detail, err := h.reviews.Approve(ctx, review.ID)
			Expect(err).NotTo(HaveOccurred())

			var yelpAttempt model.PostingAttempt
			for _, a := range detail.Attempts {
				if a.Platform == model.PlatformYelp {
					yelpAttempt = a
				}
			}
			ok, _, err := h.mem.Attempts().Transition(ctx, store.AttemptUpdate{
				ID:   yelpAttempt.ID,
				From: model.AttemptStateQueued,
				To:   model.AttemptStateAbandoned,
				At:   time.Now(),
			})
			Expect(err).NotTo(HaveOccurred())
			Expect(ok).To(BeTrue())

			detail, err = h.reviews.Redispatch(ctx, review.ID)

			Expect(err).NotTo(HaveOccurred())
			Expect(detail.Attempts).To(HaveLen(3))
			queuedYelp := 0
			for _, a := range detail.Attempts {
				if a.Platform == model.PlatformYelp && a.State == model.AttemptStateQueued {
					queuedYelp++
					Expect(a.IdempotencyKey).NotTo(Equal(yelpAttempt.IdempotencyKey))
				}
			}
			Expect(queuedYelp).To(Equal(1))
		})

		It("needs an approved review", func() {
			review := synthesized()
			_, err := h.reviews.Redispatch(ctx, review.ID)
			Expect(err).To(MatchError(pipeline.ErrInvalidTransition))
		})
	})

	Describe("ExpireLapsed and Resynthesize", func() {
		It("expires lapsed reviews and lets their transcripts be synthesized again", func() {
			fresh := synthesized()

			past := time.Now().Add(-time.Minute).UTC()
			stale, err := h.mem.Reviews().Create(ctx, &model.GeneratedReview{
				TranscriptID:  storeTranscript("the salsa was fresh and the staff were kind").ID,
				BusinessID:    7,
				CanonicalText: "The salsa was fresh and the staff were kind.",
				Rating:        5,
				Status:        model.ApprovalStatusDraft,
				CreatedAt:     past.Add(-72 * time.Hour),
				ExpiresAt:     &past,
			})
			Expect(err).NotTo(HaveOccurred())

			Expect(h.reviews.Resynthesize(ctx, stale.TranscriptID, nil)).To(MatchError(pipeline.ErrInvalidTransition))

			n, err := h.reviews.ExpireLapsed(ctx, time.Now(), 100)
			Expect(err).NotTo(HaveOccurred())
			Expect(n).To(Equal(1))

			got, _ := h.mem.Reviews().GetByID(ctx, fresh.ID)
			Expect(got.Status).To(Equal(model.ApprovalStatusPendingApproval))
			got, _ = h.mem.Reviews().GetByID(ctx, stale.ID)
			Expect(got.Status).To(Equal(model.ApprovalStatusExpired))

			Expect(h.reviews.Resynthesize(ctx, stale.TranscriptID, nil)).To(Succeed())
			tasks := h.producer.Tasks()
			Expect(tasks).To(HaveLen(1))
			Expect(tasks[0].TaskType).To(Equal(queue.TaskTypeSynthesizeReview))
			Expect(*tasks[0].TranscriptID).To(Equal(stale.TranscriptID))
		})
	})
})
