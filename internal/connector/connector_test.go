package connector_test

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"voxreview.app/relay/internal/connector"
	"voxreview.app/relay/internal/model"
)

var _ = Describe("HTTP connectors", func() {
	var (
		server   *httptest.Server
		handler  http.HandlerFunc
		lastReq  *http.Request
		lastBody map[string]any
		creds    model.Credentials
	)

	BeforeEach(func() {
		lastReq, lastBody = nil, nil
		creds = model.Credentials{AccessToken: "tok-123", TokenType: "Bearer", AccountID: "acc", LocationID: "loc-9"}
		server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			lastReq = r
			raw, _ := io.ReadAll(r.Body)
			if len(raw) > 0 {
				_ = json.Unmarshal(raw, &lastBody)
			}
			handler(w, r)
		}))
	})

	AfterEach(func() {
		server.Close()
	})

	respond := func(status int, body string) http.HandlerFunc {
		return func(w http.ResponseWriter, _ *http.Request) {
			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(status)
			_, _ = io.WriteString(w, body)
		}
	}

	It("posts a yelp review with bearer auth and the idempotency key", func() {
		handler = respond(http.StatusCreated, `{"id":"yelp-77"}`)
		c := connector.NewYelp(server.URL, server.Client())

		id, err := c.Post(context.Background(), model.PlatformVariant{FormattedText: "Great tacos.", Rating: 5}, creds, "key-1")

		Expect(err).NotTo(HaveOccurred())
		Expect(id).To(Equal("yelp-77"))
		Expect(lastReq.Method).To(Equal(http.MethodPost))
		Expect(lastReq.URL.Path).To(Equal("/v3/businesses/loc-9/reviews"))
		Expect(lastReq.Header.Get("Authorization")).To(Equal("Bearer tok-123"))
		Expect(lastReq.Header.Get("Idempotency-Key")).To(Equal("key-1"))
		Expect(lastBody).To(HaveKeyWithValue("text", "Great tacos."))
	})

	It("replies on google by review id", func() {
		handler = respond(http.StatusOK, `{"comment":"thanks"}`)
		c := connector.NewGoogle(server.URL, server.Client())

		id, err := c.Reply(context.Background(), model.PlatformVariant{FormattedText: "Thanks!", InReplyTo: "rev-1"}, creds, "key-2")

		Expect(err).NotTo(HaveOccurred())
		Expect(id).To(Equal("rev-1/reply"))
		Expect(lastReq.Method).To(Equal(http.MethodPut))
		Expect(lastReq.URL.Path).To(Equal("/v4/accounts/acc/locations/loc-9/reviews/rev-1/reply"))
	})

	It("refuses a reply without a target", func() {
		handler = respond(http.StatusOK, `{}`)
		c := connector.NewFacebook(server.URL, server.Client())

		_, err := c.Reply(context.Background(), model.PlatformVariant{FormattedText: "Thanks!"}, creds, "key-3")

		Expect(err).To(HaveOccurred())
		Expect(connector.IsTransient(err)).To(BeFalse())
		Expect(lastReq).To(BeNil())
	})

	DescribeTable("classifies platform failures",
		func(status int, body string, transient bool, reason string) {
			handler = respond(status, body)
			c := connector.NewTripAdvisor(server.URL, server.Client())

			_, err := c.Post(context.Background(), model.PlatformVariant{FormattedText: "ok", Rating: 4}, creds, "k")

			var cerr *connector.Error
			Expect(errors.As(err, &cerr)).To(BeTrue())
			Expect(cerr.StatusCode).To(Equal(status))
			Expect(connector.IsTransient(err)).To(Equal(transient))
			Expect(connector.Reason(err)).To(Equal(reason))
		},
		Entry("server error", http.StatusBadGateway, `oops`, true, "platform-unavailable"),
		Entry("rate limited", http.StatusTooManyRequests, `{}`, true, "rate-limited"),
		Entry("revoked token", http.StatusUnauthorized, `{"error":{"message":"token revoked"}}`, false, "token revoked"),
		Entry("policy rejection", http.StatusUnprocessableEntity, `{"message":"review violates guidelines"}`, false, "review violates guidelines"),
		Entry("bad request", http.StatusBadRequest, ``, false, "policy-rejected"),
	)

	It("treats a deadline as transient", func() {
		handler = func(w http.ResponseWriter, r *http.Request) {
			<-r.Context().Done()
		}
		c := connector.NewYelp(server.URL, server.Client())
		ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
		defer cancel()

		_, err := c.Post(ctx, model.PlatformVariant{FormattedText: "ok"}, creds, "k")

		Expect(err).To(HaveOccurred())
		Expect(connector.IsTransient(err)).To(BeTrue())
		Expect(connector.Reason(err)).To(Equal("timeout"))
	})

	It("pulls only reviews newer than the cursor", func() {
		handler = respond(http.StatusOK, `{"reviews":[
			{"id":"a","text":"We waited 45 minutes","rating":2,"user":{"name":"Ann"},"time_created":"2026-03-02 10:00:00"},
			{"id":"b","text":"Old news","rating":5,"user":{"name":"Bo"},"time_created":"2026-02-01 10:00:00"}
		]}`)
		c := connector.NewYelp(server.URL, server.Client())

		since := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)
		reviews, err := c.Pull(context.Background(), creds, since)

		Expect(err).NotTo(HaveOccurred())
		Expect(reviews).To(HaveLen(1))
		Expect(reviews[0].ExternalID).To(Equal("a"))
		Expect(reviews[0].Platform).To(Equal(model.PlatformYelp))
		Expect(reviews[0].Author).To(Equal("Ann"))
		Expect(reviews[0].Rating).To(Equal(2))
	})

	It("maps google star names on pull", func() {
		handler = respond(http.StatusOK, `{"reviews":[{"reviewId":"g1","comment":"Fine","starRating":"THREE","reviewer":{"displayName":"Cy"},"updateTime":"2026-03-02T10:00:00Z"}]}`)
		c := connector.NewGoogle(server.URL, server.Client())

		reviews, err := c.Pull(context.Background(), creds, time.Time{})

		Expect(err).NotTo(HaveOccurred())
		Expect(reviews).To(HaveLen(1))
		Expect(reviews[0].Rating).To(Equal(3))
	})
})

var _ = Describe("Registry", func() {
	It("builds connectors only for configured platforms", func() {
		r := connector.NewHTTPRegistry(map[string]string{
			"google": "https://g.example",
			"yelp":   "",
		}, nil)

		Expect(r.Platforms()).To(Equal([]model.Platform{model.PlatformGoogle}))
		_, err := r.Get(model.PlatformYelp)
		Expect(err).To(HaveOccurred())
	})
})

var _ = Describe("IsTransient", func() {
	It("does not retry cancellation", func() {
		Expect(connector.IsTransient(context.Canceled)).To(BeFalse())
		Expect(connector.IsTransient(errors.New("connection reset"))).To(BeTrue())
		Expect(connector.IsTransient(nil)).To(BeFalse())
	})
})
