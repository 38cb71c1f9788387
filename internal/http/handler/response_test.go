package handler_test

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"time"

	"github.com/gin-gonic/gin"
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"voxreview.app/relay/internal/http/handler"
	"voxreview.app/relay/internal/model"
	"voxreview.app/relay/internal/pipeline"
	"voxreview.app/relay/internal/service"
)

var _ = Describe("ResponseHandler", func() {
	var (
		router *gin.Engine
		svc    *mockResponseService
	)

	post := func(path string, body any) *httptest.ResponseRecorder {
		raw, _ := json.Marshal(body)
		req := httptest.NewRequest(http.MethodPost, path, bytes.NewBuffer(raw))
		req.Header.Set("Content-Type", "application/json")
		w := httptest.NewRecorder()
		router.ServeHTTP(w, req)
		return w
	}

	webhook := map[string]any{
		"business_id": 7,
		"platform":    "yelp",
		"external_id": "yelp-rev-1",
		"author":      "Sam",
		"text":        "We waited 45 minutes.",
		"rating":      2,
		"received_at": "2026-03-02T19:30:00Z",
	}

	BeforeEach(func() {
		router = gin.New()
		svc = &mockResponseService{}
		h := handler.NewResponseHandler(svc, "X-Trace-Id")
		router.POST("/inbound", h.Ingest)
		router.POST("/inbound/:id/regenerate", h.Regenerate)
		router.GET("/responses/:id", h.Get)
		router.POST("/responses/:id/submit", h.Submit)
	})

	It("stores a pushed review and returns 202", func() {
		var got model.InboundReview
		svc.ingestFn = func(_ context.Context, r model.InboundReview, _ *string) (*service.IngestResult, error) {
			got = r
			r.ID = 5
			return &service.IngestResult{Inbound: &r, Created: true, Enqueued: true}, nil
		}

		w := post("/inbound", webhook)

		Expect(w.Code).To(Equal(http.StatusAccepted))
		Expect(got.Platform).To(Equal(model.PlatformYelp))
		Expect(got.Rating).To(Equal(2))
		Expect(got.ReceivedAt).To(Equal(time.Date(2026, 3, 2, 19, 30, 0, 0, time.UTC)))
	})

	It("returns 200 for a review it has already seen", func() {
		svc.ingestFn = func(_ context.Context, r model.InboundReview, _ *string) (*service.IngestResult, error) {
			return &service.IngestResult{Inbound: &r}, nil
		}
		Expect(post("/inbound", webhook).Code).To(Equal(http.StatusOK))
	})

	It("returns 422 for a platform we do not support", func() {
		svc.ingestFn = func(context.Context, model.InboundReview, *string) (*service.IngestResult, error) {
			return nil, pipeline.ErrUnsupportedPlatform
		}
		Expect(post("/inbound", webhook).Code).To(Equal(http.StatusUnprocessableEntity))
	})

	It("returns 400 when required fields are missing", func() {
		Expect(post("/inbound", map[string]any{"platform": "yelp"}).Code).To(Equal(http.StatusBadRequest))
	})

	It("queues a regeneration", func() {
		var gotID int64
		svc.regenerateFn = func(_ context.Context, id int64, _ *string) error {
			gotID = id
			return nil
		}
		Expect(post("/inbound/5/regenerate", nil).Code).To(Equal(http.StatusAccepted))
		Expect(gotID).To(Equal(int64(5)))
	})

	It("refuses to regenerate an approved reply", func() {
		svc.regenerateFn = func(context.Context, int64, *string) error { return pipeline.ErrInvalidTransition }
		Expect(post("/inbound/5/regenerate", nil).Code).To(Equal(http.StatusConflict))
	})

	It("submits a draft reply", func() {
		svc.submitFn = func(_ context.Context, id int64) (*service.ResponseDetail, error) {
			return &service.ResponseDetail{
				Response: &model.GeneratedResponse{ID: id, Status: model.ApprovalStatusPendingApproval},
				Inbound:  &model.InboundReview{ID: 5},
			}, nil
		}

		w := post("/responses/9/submit", nil)

		Expect(w.Code).To(Equal(http.StatusOK))
		var resp struct {
			Response map[string]any `json:"response"`
			Variants []any          `json:"variants"`
		}
		Expect(json.Unmarshal(w.Body.Bytes(), &resp)).To(Succeed())
		Expect(resp.Response["status"]).To(Equal("pending_approval"))
		Expect(resp.Variants).To(BeEmpty())
	})
})
