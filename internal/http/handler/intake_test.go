package handler_test

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"mime/multipart"
	"net/http"
	"net/http/httptest"

	"github.com/gin-gonic/gin"
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"voxreview.app/relay/internal/http/handler"
	"voxreview.app/relay/internal/model"
	"voxreview.app/relay/internal/pipeline"
	"voxreview.app/relay/internal/service"
)

var _ = Describe("IntakeHandler", func() {
	var (
		router *gin.Engine
		svc    *mockIntakeService
		got    service.IntakeParams
	)

	BeforeEach(func() {
		router = gin.New()
		svc = &mockIntakeService{}
		svc.submitFn = func(_ context.Context, p service.IntakeParams) (*service.IntakeResult, error) {
			got = p
			return &service.IntakeResult{
				Transcript: &model.Transcript{ID: 11, BusinessID: p.BusinessID, NormalizedText: "the tacos were amazing"},
				Enqueued:   true,
			}, nil
		}
		h := handler.NewIntakeHandler(svc, "X-Trace-Id")
		router.POST("/businesses/:business_id/transcripts", h.Submit)
	})

	postJSON := func(path string, body any) *httptest.ResponseRecorder {
		raw, _ := json.Marshal(body)
		req := httptest.NewRequest(http.MethodPost, path, bytes.NewBuffer(raw))
		req.Header.Set("Content-Type", "application/json")
		req.Header.Set("X-Trace-Id", "4bf92f3577b34da6a3ce929d0e0e4736")
		w := httptest.NewRecorder()
		router.ServeHTTP(w, req)
		return w
	}

	It("returns 202 with the stored transcript for typed text", func() {
		w := postJSON("/businesses/7/transcripts", map[string]any{"text": "um the tacos were amazing", "language": "en"})

		Expect(w.Code).To(Equal(http.StatusAccepted))
		Expect(got.BusinessID).To(Equal(int64(7)))
		Expect(got.Text).To(Equal("um the tacos were amazing"))
		Expect(*got.TraceID).To(Equal("4bf92f3577b34da6a3ce929d0e0e4736"))

		var resp map[string]any
		Expect(json.Unmarshal(w.Body.Bytes(), &resp)).To(Succeed())
		Expect(resp["enqueued"]).To(BeTrue())
	})

	It("passes uploaded audio through", func() {
		body := &bytes.Buffer{}
		mw := multipart.NewWriter(body)
		part, _ := mw.CreateFormFile("audio", "memo.wav")
		_, _ = part.Write([]byte("RIFF-audio"))
		_ = mw.WriteField("language", "es")
		Expect(mw.Close()).To(Succeed())

		req := httptest.NewRequest(http.MethodPost, "/businesses/7/transcripts", body)
		req.Header.Set("Content-Type", mw.FormDataContentType())
		w := httptest.NewRecorder()
		router.ServeHTTP(w, req)

		Expect(w.Code).To(Equal(http.StatusAccepted))
		Expect(got.Audio).To(Equal([]byte("RIFF-audio")))
		Expect(got.Language).To(Equal("es"))
		Expect(got.Text).To(BeEmpty())
	})

	It("returns 400 when the multipart form has no audio", func() {
		body := &bytes.Buffer{}
		mw := multipart.NewWriter(body)
		_ = mw.WriteField("language", "en")
		Expect(mw.Close()).To(Succeed())

		req := httptest.NewRequest(http.MethodPost, "/businesses/7/transcripts", body)
		req.Header.Set("Content-Type", mw.FormDataContentType())
		w := httptest.NewRecorder()
		router.ServeHTTP(w, req)

		Expect(w.Code).To(Equal(http.StatusBadRequest))
	})

	DescribeTable("maps failures to status codes",
		func(path string, err error, want int) {
			if err != nil {
				svc.submitFn = func(context.Context, service.IntakeParams) (*service.IntakeResult, error) {
					return nil, err
				}
			}
			w := postJSON(path, map[string]any{"text": "the tacos were amazing"})
			Expect(w.Code).To(Equal(want))
		},
		Entry("bad business id", "/businesses/abc/transcripts", nil, http.StatusBadRequest),
		Entry("empty input", "/businesses/7/transcripts", pipeline.ErrEmptyInput, http.StatusUnprocessableEntity),
		Entry("low confidence", "/businesses/7/transcripts", service.ErrLowConfidence, http.StatusUnprocessableEntity),
		Entry("unsupported language", "/businesses/7/transcripts", pipeline.ErrUnsupportedLanguage, http.StatusUnprocessableEntity),
		Entry("unknown business", "/businesses/7/transcripts", service.ErrBusinessNotFound, http.StatusNotFound),
		Entry("database down", "/businesses/7/transcripts", errors.New("conn refused"), http.StatusInternalServerError),
	)

	It("returns 400 when text is missing", func() {
		w := postJSON("/businesses/7/transcripts", map[string]any{"language": "en"})
		Expect(w.Code).To(Equal(http.StatusBadRequest))
	})
})
