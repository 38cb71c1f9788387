package pipeline_test

import (
	"context"
	"fmt"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"voxreview.app/relay/core/config"
	"voxreview.app/relay/internal/model"
	"voxreview.app/relay/internal/pipeline"
)

var _ = Describe("Responder", func() {
	const (
		goodReply  = "We're so sorry you waited 45 minutes for your food. That is not the evening we want for anyone."
		vagueReply = "Thank you for your feedback, we hope to see you again."
	)

	var (
		ctx       context.Context
		gen       *scriptedGenerator
		responder *pipeline.Responder
		biz       model.BusinessContext
		inbound   model.InboundReview
	)

	BeforeEach(func() {
		ctx = context.Background()
		gen = &scriptedGenerator{}
		responder = pipeline.NewResponder(gen, nil, config.SynthesisConfig{
			GenerationRetries: 1,
			GenerationTimeout: 50 * time.Millisecond,
			GenerationBackoff: time.Millisecond,
		}, nil)
		biz = model.BusinessContext{
			BusinessID:   7,
			Name:         "Taqueria Sol",
			Autopilot:    true,
			ContactEmail: "hola@taqueriasol.example",
			BrandVoice:   model.BrandVoice{Tone: "warm", Persona: "Maria, owner", SignOff: "Maria"},
		}
		inbound = model.InboundReview{
			ID:         3,
			BusinessID: 7,
			Platform:   model.PlatformYelp,
			ExternalID: "yelp-rev-1",
			Author:     "Sam",
			Text:       "We waited 45 minutes for our food and the waiter never came back.",
			Rating:     2,
		}
	})

	It("acknowledges the 45 minute wait and publishes on autopilot", func() {
		gen.replies = []string{replyJSON(goodReply)}

		resp, err := responder.Respond(ctx, biz, inbound)

		Expect(err).NotTo(HaveOccurred())
		Expect(resp.Text).To(Equal(goodReply))
		Expect(resp.LowConfidence).To(BeFalse())
		Expect(resp.Status).To(Equal(model.ApprovalStatusDraft))
		Expect(resp.InboundReviewID).To(Equal(int64(3)))
		Expect(pipeline.DecideMode(biz.Autopilot, resp.LowConfidence)).To(Equal(model.PostingModeAutopilot))

		prompt := gen.Prompt(0).User
		Expect(prompt).To(ContainSubstring("Acknowledge exactly: 45 minutes"))
		Expect(prompt).To(ContainSubstring("sentiment negative"))
		Expect(prompt).To(ContainSubstring("hola@taqueriasol.example"))
	})

	It("retries once when the reply ignores the review", func() {
		gen.replies = []string{replyJSON(vagueReply), replyJSON(goodReply)}

		resp, err := responder.Respond(ctx, biz, inbound)

		Expect(err).NotTo(HaveOccurred())
		Expect(resp.LowConfidence).To(BeFalse())
		Expect(gen.Calls()).To(Equal(2))
		Expect(gen.Prompt(1).User).To(ContainSubstring("mention at least one of: 45 minutes, waited"))
	})

	It("accepts a reply that picks up a single detail of the review", func() {
		inbound.Text = "We waited 45 minutes despite a reservation."
		gen.replies = []string{replyJSON("We're truly sorry about the long wait. That is not how we want anyone's evening to go.")}

		resp, err := responder.Respond(ctx, biz, inbound)

		Expect(err).NotTo(HaveOccurred())
		Expect(gen.Calls()).To(Equal(1))
		Expect(resp.LowConfidence).To(BeFalse())
		Expect(pipeline.DecideMode(biz.Autopilot, resp.LowConfidence)).To(Equal(model.PostingModeAutopilot))
	})

	It("falls back to a template that autopilot cannot publish", func() {
		gen.replies = []string{replyJSON(vagueReply)}

		resp, err := responder.Respond(ctx, biz, inbound)

		Expect(err).NotTo(HaveOccurred())
		Expect(gen.Calls()).To(Equal(2))
		Expect(resp.LowConfidence).To(BeTrue())
		Expect(resp.Text).To(HavePrefix("Hi Sam, "))
		Expect(resp.Text).To(ContainSubstring("hola@taqueriasol.example"))
		Expect(resp.Text).To(HaveSuffix("\n\nMaria"))
		Expect(pipeline.DecideMode(biz.Autopilot, resp.LowConfidence)).To(Equal(model.PostingModeManual))
	})

	It("treats phrases the brand avoids as a failed reply", func() {
		biz.BrandVoice.Avoid = []string{"so sorry"}
		gen.replies = []string{replyJSON(goodReply)}

		resp, err := responder.Respond(ctx, biz, inbound)

		Expect(err).NotTo(HaveOccurred())
		Expect(resp.LowConfidence).To(BeTrue())
	})

	It("returns generation service failures to the caller", func() {
		gen.fn = func(context.Context, int) (string, error) {
			return "", fmt.Errorf("%w: quota exceeded", pipeline.ErrGenerationUnavailable)
		}

		_, err := responder.Respond(ctx, biz, inbound)

		Expect(err).To(MatchError(pipeline.ErrGenerationUnavailable))
	})

	It("rejects an inbound review with nothing to answer", func() {
		inbound.Text, inbound.Rating = "", 0

		_, err := responder.Respond(ctx, biz, inbound)

		Expect(err).To(MatchError(pipeline.ErrEmptyInput))
	})

	DescribeTable("DecideMode",
		func(autopilot, lowConfidence bool, want model.PostingMode) {
			Expect(pipeline.DecideMode(autopilot, lowConfidence)).To(Equal(want))
		},
		Entry("autopilot, confident", true, false, model.PostingModeAutopilot),
		Entry("autopilot, low confidence", true, true, model.PostingModeManual),
		Entry("manual, confident", false, false, model.PostingModeManual),
		Entry("manual, low confidence", false, true, model.PostingModeManual),
	)
})
