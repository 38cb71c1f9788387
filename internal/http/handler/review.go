package handler

import (
	"context"
	"log/slog"
	"net/http"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"

	"voxreview.app/relay/internal/http/dto"
	"voxreview.app/relay/internal/model"
	"voxreview.app/relay/internal/service"
	"voxreview.app/relay/internal/store"
)

type ReviewHandler struct {
	service     service.ReviewService
	traceHeader string
}

func NewReviewHandler(service service.ReviewService, traceHeader string) *ReviewHandler {
	return &ReviewHandler{service: service, traceHeader: traceHeader}
}

func (h *ReviewHandler) Get(c *gin.Context) {
	id, ok := pathID(c, "id")
	if !ok {
		return
	}
	detail, err := h.service.Get(c.Request.Context(), id)
	if err != nil {
		writeError(c, err, "get review")
		return
	}
	c.JSON(http.StatusOK, dto.ToReviewResponse(detail))
}

// List takes ?status=draft,pending_approval&limit=20.
func (h *ReviewHandler) List(c *gin.Context) {
	businessID, ok := pathID(c, "business_id")
	if !ok {
		return
	}

	filter := store.ReviewFilter{BusinessID: businessID}
	if raw := c.Query("status"); raw != "" {
		for _, s := range strings.Split(raw, ",") {
			status := model.ApprovalStatus(strings.TrimSpace(s))
			if !status.IsValid() {
				c.JSON(http.StatusBadRequest, gin.H{"error": "invalid status " + strconv.Quote(s)})
				return
			}
			filter.Statuses = append(filter.Statuses, status)
		}
	}
	if raw := c.Query("limit"); raw != "" {
		limit, err := strconv.ParseUint(raw, 10, 64)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid limit"})
			return
		}
		filter.Limit = limit
	}

	reviews, err := h.service.List(c.Request.Context(), filter)
	if err != nil {
		writeError(c, err, "list reviews")
		return
	}
	if reviews == nil {
		reviews = []model.GeneratedReview{}
	}
	c.JSON(http.StatusOK, dto.ListReviewsResponse{Reviews: reviews})
}

func (h *ReviewHandler) Edit(c *gin.Context) {
	id, ok := pathID(c, "id")
	if !ok {
		return
	}
	var req dto.EditReviewRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		slog.WarnContext(c.Request.Context(), "invalid edit request", "error", err)
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	detail, err := h.service.Edit(c.Request.Context(), id, req.Text)
	if err != nil {
		writeError(c, err, "edit review")
		return
	}
	c.JSON(http.StatusOK, dto.ToReviewResponse(detail))
}

func (h *ReviewHandler) Submit(c *gin.Context) {
	h.transition(c, "submit review", h.service.Submit)
}

func (h *ReviewHandler) Approve(c *gin.Context) {
	h.transition(c, "approve review", h.service.Approve)
}

func (h *ReviewHandler) Reject(c *gin.Context) {
	h.transition(c, "reject review", h.service.Reject)
}

func (h *ReviewHandler) Redispatch(c *gin.Context) {
	h.transition(c, "redispatch review", h.service.Redispatch)
}

// Resynthesize is keyed by transcript, since the review it replaces may be
// expired or never have existed.
func (h *ReviewHandler) Resynthesize(c *gin.Context) {
	transcriptID, ok := pathID(c, "id")
	if !ok {
		return
	}
	if err := h.service.Resynthesize(c.Request.Context(), transcriptID, traceID(c, h.traceHeader)); err != nil {
		writeError(c, err, "resynthesize transcript")
		return
	}
	c.JSON(http.StatusAccepted, gin.H{"status": "queued"})
}

func (h *ReviewHandler) transition(c *gin.Context, action string, op func(ctx context.Context, id int64) (*service.ReviewDetail, error)) {
	id, ok := pathID(c, "id")
	if !ok {
		return
	}
	detail, err := op(c.Request.Context(), id)
	if err != nil {
		writeError(c, err, action)
		return
	}
	c.JSON(http.StatusOK, dto.ToReviewResponse(detail))
}
