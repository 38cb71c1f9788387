package handler

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/gin-gonic/gin"

	"voxreview.app/relay/internal/http/dto"
	"voxreview.app/relay/internal/service"
)

type ResponseHandler struct {
	service     service.ResponseService
	traceHeader string
}

func NewResponseHandler(service service.ResponseService, traceHeader string) *ResponseHandler {
	return &ResponseHandler{service: service, traceHeader: traceHeader}
}

// Ingest is the push webhook for inbound customer reviews.
func (h *ResponseHandler) Ingest(c *gin.Context) {
	ctx := c.Request.Context()

	var req dto.InboundReviewRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		slog.WarnContext(ctx, "invalid inbound review", "error", err)
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	result, err := h.service.Ingest(ctx, req.ToModel(), traceID(c, h.traceHeader))
	if err != nil {
		writeError(c, err, "ingest inbound review")
		return
	}

	status := http.StatusAccepted
	if !result.Created {
		status = http.StatusOK
	}
	c.JSON(status, dto.InboundReviewResponse{
		Inbound:  *result.Inbound,
		Created:  result.Created,
		Enqueued: result.Enqueued,
	})
}

func (h *ResponseHandler) Regenerate(c *gin.Context) {
	inboundID, ok := pathID(c, "id")
	if !ok {
		return
	}
	if err := h.service.Regenerate(c.Request.Context(), inboundID, traceID(c, h.traceHeader)); err != nil {
		writeError(c, err, "regenerate response")
		return
	}
	c.JSON(http.StatusAccepted, gin.H{"status": "queued"})
}

func (h *ResponseHandler) Get(c *gin.Context) {
	h.transition(c, "get response", h.service.Get)
}

func (h *ResponseHandler) Submit(c *gin.Context) {
	h.transition(c, "submit response", h.service.Submit)
}

func (h *ResponseHandler) Approve(c *gin.Context) {
	h.transition(c, "approve response", h.service.Approve)
}

func (h *ResponseHandler) Reject(c *gin.Context) {
	h.transition(c, "reject response", h.service.Reject)
}

func (h *ResponseHandler) transition(c *gin.Context, action string, op func(ctx context.Context, id int64) (*service.ResponseDetail, error)) {
	id, ok := pathID(c, "id")
	if !ok {
		return
	}
	detail, err := op(c.Request.Context(), id)
	if err != nil {
		writeError(c, err, action)
		return
	}
	c.JSON(http.StatusOK, dto.ToResponseDetailResponse(detail))
}
