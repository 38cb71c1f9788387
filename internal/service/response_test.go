package service_test

import (
	"context"
	"errors"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"voxreview.app/relay/internal/model"
	"voxreview.app/relay/internal/pipeline"
	"voxreview.app/relay/internal/queue"
	"voxreview.app/relay/internal/service"
	"voxreview.app/relay/internal/store"
)

const (
	apologyReply = "We're so sorry you waited 45 minutes for your food. That is not the evening we want for anyone."
	vagueReply   = "Thank you for your feedback, we hope to see you again."
)

var _ = Describe("ResponseService", func() {
	var (
		ctx context.Context
		h   *harness
		biz model.BusinessContext
	)

	slowService := func() model.InboundReview {
		return model.InboundReview{
			BusinessID: 7,
			Platform:   model.PlatformYelp,
			ExternalID: "yelp-rev-1",
			Author:     "Sam",
			Text:       "We waited 45 minutes for our food and the waiter never came back.",
			Rating:     2,
			ReceivedAt: time.Date(2026, 3, 2, 19, 30, 0, 0, time.UTC),
		}
	}

	ingest := func() *model.InboundReview {
		res, err := h.responses.Ingest(ctx, slowService(), nil)
		Expect(err).NotTo(HaveOccurred())
		return res.Inbound
	}

	liveResponse := func(inboundID int64) *model.GeneratedResponse {
		resp, err := h.mem.Responses().GetLiveByInbound(ctx, inboundID)
		Expect(err).NotTo(HaveOccurred())
		return resp
	}

	BeforeEach(func() {
		ctx = context.Background()
		biz = tacoShop()
	})

	JustBeforeEach(func() {
		h = newHarness(biz, true)
		h.gen.replies = []string{replyJSON(apologyReply)}
	})

	Describe("Ingest", func() {
		It("stores the review once and queues a reply", func() {
			first, err := h.responses.Ingest(ctx, slowService(), nil)
			Expect(err).NotTo(HaveOccurred())
			Expect(first.Created).To(BeTrue())
			Expect(first.Enqueued).To(BeTrue())
			Expect(first.Inbound.Sentiment).To(Equal(model.SentimentNegative))

			again, err := h.responses.Ingest(ctx, slowService(), nil)
			Expect(err).NotTo(HaveOccurred())
			Expect(again.Created).To(BeFalse())
			Expect(again.Inbound.ID).To(Equal(first.Inbound.ID))

			tasks := h.producer.Tasks()
			Expect(tasks).To(HaveLen(1))
			Expect(tasks[0].TaskType).To(Equal(queue.TaskTypeRespondInbound))
			Expect(*tasks[0].InboundReviewID).To(Equal(first.Inbound.ID))

			received := h.eventsOfKind(model.EventKindInboundReceived)
			Expect(received).To(HaveLen(1))
			Expect(received[0].Platform).To(Equal(model.PlatformYelp))
		})

		DescribeTable("rejects bad reviews",
			func(mutate func(r *model.InboundReview), want error) {
				r := slowService()
				mutate(&r)
				_, err := h.responses.Ingest(ctx, r, nil)
				Expect(err).To(MatchError(want))
			},
			Entry("unknown platform", func(r *model.InboundReview) { r.Platform = "myspace" }, pipeline.ErrUnsupportedPlatform),
			Entry("no text or rating", func(r *model.InboundReview) { r.Text, r.Rating = " ", 0 }, pipeline.ErrEmptyInput),
			Entry("no external id", func(r *model.InboundReview) { r.ExternalID = "" }, service.ErrInvalidRequest),
			Entry("rating out of range", func(r *model.InboundReview) { r.Rating = 9 }, service.ErrInvalidRequest),
			Entry("unknown business", func(r *model.InboundReview) { r.BusinessID = 404 }, service.ErrBusinessNotFound),
		)
	})

	Describe("Respond", func() {
		Context("when the business reviews replies itself", func() {
			BeforeEach(func() { biz.Autopilot = false })

			It("leaves the reply as a draft with a yelp variant", func() {
				inbound := ingest()

				Expect(h.responses.Respond(ctx, inbound.ID)).To(Succeed())

				resp := liveResponse(inbound.ID)
				Expect(resp.Status).To(Equal(model.ApprovalStatusDraft))
				Expect(resp.Text).To(Equal(apologyReply))

				detail, err := h.responses.Get(ctx, resp.ID)
				Expect(err).NotTo(HaveOccurred())
				Expect(detail.Variants).To(HaveLen(1))
				Expect(detail.Variants[0].Platform).To(Equal(model.PlatformYelp))
				Expect(detail.Variants[0].InReplyTo).To(Equal("yelp-rev-1"))
				Expect(detail.Attempts).To(BeEmpty())
			})

			It("refuses to approve a draft the business has not submitted", func() {
				inbound := ingest()
				Expect(h.responses.Respond(ctx, inbound.ID)).To(Succeed())

				_, err := h.responses.Approve(ctx, liveResponse(inbound.ID).ID)
				Expect(err).To(MatchError(pipeline.ErrInvalidTransition))
			})

			It("plans the reply once the business submits and approves it", func() {
				inbound := ingest()
				Expect(h.responses.Respond(ctx, inbound.ID)).To(Succeed())
				resp := liveResponse(inbound.ID)

				submitted, err := h.responses.Submit(ctx, resp.ID)
				Expect(err).NotTo(HaveOccurred())
				Expect(submitted.Response.Status).To(Equal(model.ApprovalStatusPendingApproval))

				detail, err := h.responses.Approve(ctx, resp.ID)

				Expect(err).NotTo(HaveOccurred())
				Expect(detail.Response.Status).To(Equal(model.ApprovalStatusApproved))
				Expect(detail.Attempts).To(HaveLen(1))
				Expect(detail.Attempts[0].SubjectKind).To(Equal(model.SubjectKindResponse))
			})
		})

		Context("on autopilot", func() {
			BeforeEach(func() { biz.Autopilot = true })

			It("approves a confident reply and plans its posting", func() {
				inbound := ingest()

				Expect(h.responses.Respond(ctx, inbound.ID)).To(Succeed())

				resp := liveResponse(inbound.ID)
				Expect(resp.Status).To(Equal(model.ApprovalStatusApproved))
				attempts, err := h.mem.Attempts().ListBySubject(ctx, resp.Subject())
				Expect(err).NotTo(HaveOccurred())
				Expect(attempts).To(HaveLen(1))
				Expect(attempts[0].Platform).To(Equal(model.PlatformYelp))
				Expect(attempts[0].State).To(Equal(model.AttemptStateQueued))
				Expect(h.schedule.Len()).To(Equal(1))
			})

			It("holds a low-confidence reply for the business", func() {
				h.gen.replies = []string{replyJSON(vagueReply)}
				inbound := ingest()

				Expect(h.responses.Respond(ctx, inbound.ID)).To(Succeed())

				resp := liveResponse(inbound.ID)
				Expect(resp.LowConfidence).To(BeTrue())
				Expect(resp.Status).To(Equal(model.ApprovalStatusDraft))
				Expect(resp.Text).To(HavePrefix("Hi Sam, "))
				attempts, _ := h.mem.Attempts().ListBySubject(ctx, resp.Subject())
				Expect(attempts).To(BeEmpty())
			})

			It("finishes the approval when the stage is retried after the draft was stored", func() {
				inbound := ingest()
				txCalls := 0
				h.tx.withTxFn = func(ctx context.Context, fn func(service.StoreProvider) error) error {
					txCalls++
					if txCalls == 2 {
						return errors.New("connection reset")
					}
					return fn(h.mem)
				}

				Expect(h.responses.Respond(ctx, inbound.ID)).To(MatchError(ContainSubstring("connection reset")))
				Expect(liveResponse(inbound.ID).Status).To(Equal(model.ApprovalStatusDraft))
				calls := h.gen.Calls()

				Expect(h.responses.Respond(ctx, inbound.ID)).To(Succeed())

				resp := liveResponse(inbound.ID)
				Expect(resp.Status).To(Equal(model.ApprovalStatusApproved))
				Expect(h.gen.Calls()).To(Equal(calls))
				attempts, err := h.mem.Attempts().ListBySubject(ctx, resp.Subject())
				Expect(err).NotTo(HaveOccurred())
				Expect(attempts).To(HaveLen(1))
			})

			It("resumes from pending approval without submitting twice", func() {
				inbound := ingest()
				txCalls := 0
				h.tx.withTxFn = func(ctx context.Context, fn func(service.StoreProvider) error) error {
					txCalls++
					if txCalls == 3 {
						return errors.New("connection reset")
					}
					return fn(h.mem)
				}

				Expect(h.responses.Respond(ctx, inbound.ID)).NotTo(Succeed())
				Expect(liveResponse(inbound.ID).Status).To(Equal(model.ApprovalStatusPendingApproval))

				Expect(h.responses.Respond(ctx, inbound.ID)).To(Succeed())
				Expect(liveResponse(inbound.ID).Status).To(Equal(model.ApprovalStatusApproved))
			})

			It("leaves a stored low-confidence reply alone on retry", func() {
				h.gen.replies = []string{replyJSON(vagueReply)}
				inbound := ingest()
				Expect(h.responses.Respond(ctx, inbound.ID)).To(Succeed())

				Expect(h.responses.Respond(ctx, inbound.ID)).To(Succeed())
				Expect(liveResponse(inbound.ID).Status).To(Equal(model.ApprovalStatusDraft))
			})
		})

		It("does nothing for an inbound review that already has a reply", func() {
			inbound := ingest()
			Expect(h.responses.Respond(ctx, inbound.ID)).To(Succeed())
			calls := h.gen.Calls()

			Expect(h.responses.Respond(ctx, inbound.ID)).To(Succeed())
			Expect(h.gen.Calls()).To(Equal(calls))
		})

		It("returns generation outages so the stage retries", func() {
			h.gen.err = pipeline.ErrGenerationUnavailable
			inbound := ingest()

			Expect(h.responses.Respond(ctx, inbound.ID)).To(MatchError(pipeline.ErrGenerationUnavailable))
			_, err := h.mem.Responses().GetLiveByInbound(ctx, inbound.ID)
			Expect(err).To(MatchError(store.ErrNotFound))
		})
	})

	Describe("Regenerate", func() {
		BeforeEach(func() { biz.Autopilot = false })

		It("supersedes the pending reply and queues a new one", func() {
			inbound := ingest()
			Expect(h.responses.Respond(ctx, inbound.ID)).To(Succeed())
			old := liveResponse(inbound.ID)

			Expect(h.responses.Regenerate(ctx, inbound.ID, nil)).To(Succeed())

			superseded, err := h.mem.Responses().GetByID(ctx, old.ID)
			Expect(err).NotTo(HaveOccurred())
			Expect(superseded.Status).To(Equal(model.ApprovalStatusRejected))

			tasks := h.producer.Tasks()
			Expect(tasks).To(HaveLen(2))
			Expect(tasks[1].TaskType).To(Equal(queue.TaskTypeRespondInbound))

			Expect(h.responses.Respond(ctx, inbound.ID)).To(Succeed())
			fresh := liveResponse(inbound.ID)
			Expect(fresh.ID).NotTo(Equal(old.ID))
		})

		It("refuses once the reply is approved", func() {
			inbound := ingest()
			Expect(h.responses.Respond(ctx, inbound.ID)).To(Succeed())
			id := liveResponse(inbound.ID).ID
			_, err := h.responses.Submit(ctx, id)
			Expect(err).NotTo(HaveOccurred())
			_, err = h.responses.Approve(ctx, id)
			Expect(err).NotTo(HaveOccurred())

			Expect(h.responses.Regenerate(ctx, inbound.ID, nil)).To(MatchError(pipeline.ErrInvalidTransition))
		})
	})
})
