package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"voxreview.app/relay/common/id"
	"voxreview.app/relay/common/logger"
	"voxreview.app/relay/core/config"
	"voxreview.app/relay/internal/model"
	"voxreview.app/relay/internal/pipeline"
	"voxreview.app/relay/internal/queue"
	"voxreview.app/relay/internal/store"
	"voxreview.app/relay/internal/transcription"
)

// IntakeParams is one customer recording. Either Text (already transcribed
// on the device) or Audio must be set.
type IntakeParams struct {
	BusinessID int64
	Text       string
	Audio      []byte
	Language   string
	// Confidence of a device-side transcription. Ignored for Audio.
	Confidence *float64
	CapturedAt time.Time
	TraceID    *string
}

type IntakeResult struct {
	Transcript *model.Transcript
	Enqueued   bool
}

type IntakeService interface {
	Submit(ctx context.Context, params IntakeParams) (*IntakeResult, error)
}

type intakeService struct {
	stores      StoreProvider
	normalizer  *pipeline.Normalizer
	transcriber transcription.Transcriber
	queue       queue.Producer
	cfg         config.TranscriptionConfig
	now         func() time.Time
}

func NewIntakeService(stores StoreProvider, normalizer *pipeline.Normalizer, transcriber transcription.Transcriber, producer queue.Producer, cfg config.TranscriptionConfig) IntakeService {
	return &intakeService{
		stores:      stores,
		normalizer:  normalizer,
		transcriber: transcriber,
		queue:       producer,
		cfg:         cfg,
		now:         time.Now,
	}
}

func (s *intakeService) Submit(ctx context.Context, params IntakeParams) (*IntakeResult, error) {
	if params.BusinessID == 0 {
		return nil, fmt.Errorf("%w: business_id is required", ErrInvalidRequest)
	}
	if strings.TrimSpace(params.Text) == "" && len(params.Audio) == 0 {
		return nil, pipeline.ErrEmptyInput
	}

	biz, err := s.stores.Businesses().Get(ctx, params.BusinessID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, ErrBusinessNotFound
		}
		return nil, fmt.Errorf("fetching business: %w", err)
	}
	ctx = logger.WithLogFields(ctx, logger.LogFields{BusinessID: &biz.BusinessID})

	lang := params.Language
	if lang == "" {
		lang = biz.Language
	}
	if lang == "" {
		lang = "en"
	}

	raw, confidence, err := s.transcribe(ctx, params, lang)
	if err != nil {
		return nil, err
	}
	if confidence < s.cfg.MinConfidence {
		slog.InfoContext(ctx, "transcript below confidence threshold",
			"confidence", confidence,
			"min_confidence", s.cfg.MinConfidence)
		return nil, fmt.Errorf("%w: %.2f", ErrLowConfidence, confidence)
	}

	normalized, err := s.normalizer.Normalize(raw, lang)
	if err != nil {
		return nil, err
	}

	captured := params.CapturedAt
	if captured.IsZero() {
		captured = s.now()
	}
	transcript, err := s.stores.Transcripts().Create(ctx, &model.Transcript{
		ID:             id.New(),
		BusinessID:     biz.BusinessID,
		RawText:        raw,
		NormalizedText: normalized,
		Language:       lang,
		Confidence:     confidence,
		CapturedAt:     captured.UTC(),
	})
	if err != nil {
		return nil, fmt.Errorf("storing transcript: %w", err)
	}

	enqueued := true
	if err := s.queue.Enqueue(ctx, queue.Task{
		TaskType:     queue.TaskTypeSynthesizeReview,
		BusinessID:   biz.BusinessID,
		TranscriptID: &transcript.ID,
		TraceID:      params.TraceID,
	}); err != nil {
		// The transcript is kept; an operator can resynthesize it.
		enqueued = false
		slog.ErrorContext(ctx, "failed to enqueue synthesis",
			"transcript_id", transcript.ID,
			"error", err)
	}

	return &IntakeResult{Transcript: transcript, Enqueued: enqueued}, nil
}

func (s *intakeService) transcribe(ctx context.Context, params IntakeParams, lang string) (string, float64, error) {
	if len(params.Audio) == 0 {
		confidence := 1.0
		if params.Confidence != nil {
			confidence = *params.Confidence
		}
		return params.Text, confidence, nil
	}
	if s.transcriber == nil {
		return "", 0, fmt.Errorf("%w: audio intake is not configured", ErrInvalidRequest)
	}

	text, confidence, err := s.transcriber.Transcribe(ctx, params.Audio, lang)
	if errors.Is(err, transcription.ErrNoSpeech) {
		return "", 0, pipeline.ErrEmptyInput
	}
	if err != nil {
		return "", 0, fmt.Errorf("transcribing audio: %w", err)
	}
	return text, confidence, nil
}
