package llm_test

import (
	"context"
	"errors"
	"fmt"

	"voxreview.app/relay/common/llm"
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
)

type draft struct {
	Review string `json:"review"`
	Rating int    `json:"rating"`
}

var _ = Describe("DecodeJSON", func() {
	DescribeTable("decodes model output",
		func(content string, expected draft) {
			got, err := llm.DecodeJSON[draft](content)
			Expect(err).NotTo(HaveOccurred())
			Expect(got).To(Equal(expected))
		},
		Entry("plain json", `{"review":"Great tacos","rating":5}`, draft{"Great tacos", 5}),
		Entry("fenced json", "```json\n{\"review\":\"Great tacos\",\"rating\":5}\n```", draft{"Great tacos", 5}),
		Entry("bare fence", "```\n{\"review\":\"ok\",\"rating\":3}\n```", draft{"ok", 3}),
		Entry("trailing comma", `{"review":"Great tacos","rating":5,}`, draft{"Great tacos", 5}),
		Entry("truncated object", `{"review":"Great tacos","rating":5`, draft{"Great tacos", 5}),
	)
})

var _ = Describe("New", func() {
	It("requires an API key", func() {
		_, err := llm.New(llm.Config{Provider: llm.ProviderOpenAI})
		Expect(err).To(MatchError(ContainSubstring("API key")))
	})

	It("rejects unknown providers", func() {
		_, err := llm.New(llm.Config{Provider: "mystery", APIKey: "k"})
		Expect(err).To(MatchError(ContainSubstring("unsupported")))
	})

	It("defaults the model per provider", func() {
		c, err := llm.New(llm.Config{APIKey: "k"})
		Expect(err).NotTo(HaveOccurred())
		Expect(c.Model()).To(Equal("gpt-4o-mini"))

		c, err = llm.New(llm.Config{Provider: llm.ProviderAnthropic, APIKey: "k"})
		Expect(err).NotTo(HaveOccurred())
		Expect(c.Model()).To(HavePrefix("claude-"))
	})
})

var _ = Describe("error classification", func() {
	ctx := context.Background()

	It("treats deadlines as timeouts and retryable", func() {
		err := fmt.Errorf("openai chat: %w", context.DeadlineExceeded)
		Expect(llm.IsTimeout(err)).To(BeTrue())
		Expect(llm.IsRetryable(ctx, err)).To(BeTrue())
	})

	It("does not retry caller cancellation", func() {
		Expect(llm.IsRetryable(ctx, context.Canceled)).To(BeFalse())
		Expect(llm.IsTimeout(context.Canceled)).To(BeFalse())
	})

	It("retries plain network errors", func() {
		Expect(llm.IsRetryable(ctx, errors.New("connection reset by peer"))).To(BeTrue())
	})

	It("ignores nil", func() {
		Expect(llm.IsRetryable(ctx, nil)).To(BeFalse())
	})
})
