package handler

import (
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"voxreview.app/relay/internal/http/dto"
	"voxreview.app/relay/internal/service"
)

const maxAudioBytes = 25 << 20

type IntakeHandler struct {
	service     service.IntakeService
	traceHeader string
}

func NewIntakeHandler(service service.IntakeService, traceHeader string) *IntakeHandler {
	return &IntakeHandler{service: service, traceHeader: traceHeader}
}

// Submit accepts either a JSON body with typed text or a multipart form with
// an "audio" file.
func (h *IntakeHandler) Submit(c *gin.Context) {
	ctx := c.Request.Context()

	businessID, ok := pathID(c, "business_id")
	if !ok {
		return
	}
	params := service.IntakeParams{BusinessID: businessID, TraceID: traceID(c, h.traceHeader)}

	if strings.HasPrefix(c.ContentType(), "multipart/") {
		audio, err := readAudio(c)
		if err != nil {
			slog.WarnContext(ctx, "invalid audio upload", "error", err)
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		params.Audio = audio
		params.Language = c.PostForm("language")
	} else {
		var req dto.SubmitTranscriptRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			slog.WarnContext(ctx, "invalid intake request", "error", err)
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		params.Text = req.Text
		params.Language = req.Language
		params.Confidence = req.Confidence
		if req.CapturedAt != nil {
			params.CapturedAt = *req.CapturedAt
		}
	}

	result, err := h.service.Submit(ctx, params)
	if err != nil {
		writeError(c, err, "submit transcript")
		return
	}

	c.JSON(http.StatusAccepted, dto.SubmitTranscriptResponse{
		Transcript: *result.Transcript,
		Enqueued:   result.Enqueued,
	})
}

func readAudio(c *gin.Context) ([]byte, error) {
	header, err := c.FormFile("audio")
	if err != nil {
		return nil, err
	}
	if header.Size > maxAudioBytes {
		return nil, fmt.Errorf("audio too large: %d bytes", header.Size)
	}
	f, err := header.Open()
	if err != nil {
		return nil, err
	}
	defer f.Close()
	return io.ReadAll(io.LimitReader(f, maxAudioBytes))
}
