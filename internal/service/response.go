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
	"voxreview.app/relay/internal/events"
	"voxreview.app/relay/internal/metrics"
	"voxreview.app/relay/internal/model"
	"voxreview.app/relay/internal/pipeline"
	"voxreview.app/relay/internal/queue"
	"voxreview.app/relay/internal/store"
)

type IngestResult struct {
	Inbound  *model.InboundReview
	Created  bool
	Enqueued bool
}

type ResponseDetail struct {
	Response *model.GeneratedResponse
	Inbound  *model.InboundReview
	Variants []model.PlatformVariant
	Attempts []model.PostingAttempt
}

type ResponseService interface {
	// Ingest stores a review pulled from or pushed by a platform. Seeing the
	// same (platform, external id) again is a no-op.
	Ingest(ctx context.Context, review model.InboundReview, traceID *string) (*IngestResult, error)
	// Respond is the respond_inbound stage.
	Respond(ctx context.Context, inboundReviewID int64) error
	// Regenerate rejects the current reply, if still undecided, and queues a
	// new one.
	Regenerate(ctx context.Context, inboundReviewID int64, traceID *string) error

	Get(ctx context.Context, id int64) (*ResponseDetail, error)
	Submit(ctx context.Context, id int64) (*ResponseDetail, error)
	Approve(ctx context.Context, id int64) (*ResponseDetail, error)
	Reject(ctx context.Context, id int64) (*ResponseDetail, error)
}

type ResponseDeps struct {
	Stores     StoreProvider
	TxRunner   TxRunner
	Queue      queue.Producer
	Extractor  *pipeline.Extractor
	Responder  *pipeline.Responder
	Formatter  *pipeline.Formatter
	Dispatcher *pipeline.Dispatcher
	Events     events.Sink
	Metrics    *metrics.Metrics
	Approval   config.ApprovalConfig
}

type responseService struct {
	stores    StoreProvider
	txRunner  TxRunner
	queue     queue.Producer
	extractor *pipeline.Extractor
	responder *pipeline.Responder
	formatter *pipeline.Formatter
	events    events.Sink
	approvals *approvals
	now       func() time.Time
}

func NewResponseService(deps ResponseDeps) ResponseService {
	extractor := deps.Extractor
	if extractor == nil {
		extractor = pipeline.NewExtractor()
	}
	return &responseService{
		stores:    deps.Stores,
		txRunner:  deps.TxRunner,
		queue:     deps.Queue,
		extractor: extractor,
		responder: deps.Responder,
		formatter: deps.Formatter,
		events:    deps.Events,
		approvals: &approvals{
			txRunner:   deps.TxRunner,
			dispatcher: deps.Dispatcher,
			events:     deps.Events,
			metrics:    deps.Metrics,
			cfg:        deps.Approval,
		},
		now: time.Now,
	}
}

func responseSubject(id int64) model.Subject {
	return model.Subject{Kind: model.SubjectKindResponse, ID: id}
}

func (s *responseService) Ingest(ctx context.Context, review model.InboundReview, traceID *string) (*IngestResult, error) {
	platform, ok := model.ParsePlatform(string(review.Platform))
	if !ok {
		return nil, fmt.Errorf("%w: %q", pipeline.ErrUnsupportedPlatform, review.Platform)
	}
	review.Platform = platform
	if review.BusinessID == 0 || strings.TrimSpace(review.ExternalID) == "" {
		return nil, fmt.Errorf("%w: business_id and external_id are required", ErrInvalidRequest)
	}
	if strings.TrimSpace(review.Text) == "" && review.Rating == 0 {
		return nil, pipeline.ErrEmptyInput
	}
	if review.Rating < 0 || review.Rating > 5 {
		return nil, fmt.Errorf("%w: rating must be between 1 and 5", ErrInvalidRequest)
	}

	if _, err := s.stores.Businesses().Get(ctx, review.BusinessID); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, ErrBusinessNotFound
		}
		return nil, fmt.Errorf("fetching business: %w", err)
	}

	sentiment, topics, err := s.extractor.Extract(review.Text)
	if err != nil {
		sentiment, topics = model.SentimentUnknown, []string{}
	}
	review.Sentiment = sentiment
	review.Topics = topics
	review.ID = id.New()
	if review.ReceivedAt.IsZero() {
		review.ReceivedAt = s.now().UTC()
	}

	created, stored, err := s.stores.Inbound().Insert(ctx, &review)
	if err != nil {
		return nil, fmt.Errorf("storing inbound review: %w", err)
	}
	result := &IngestResult{Inbound: stored, Created: created}
	if !created {
		return result, nil
	}

	ctx = logger.WithLogFields(ctx, logger.LogFields{
		BusinessID:      &stored.BusinessID,
		InboundReviewID: &stored.ID,
		Platform:        logger.Ptr(string(stored.Platform)),
	})
	ev := model.Event{
		Kind:       model.EventKindInboundReceived,
		BusinessID: stored.BusinessID,
		Platform:   stored.Platform,
		ToState:    string(stored.Sentiment),
		Timestamp:  stored.ReceivedAt,
	}
	events.Emit(ctx, s.events, ev)

	if err := s.queue.Enqueue(ctx, queue.Task{
		TaskType:        queue.TaskTypeRespondInbound,
		BusinessID:      stored.BusinessID,
		InboundReviewID: &stored.ID,
		TraceID:         traceID,
	}); err != nil {
		slog.ErrorContext(ctx, "failed to enqueue response generation", "error", err)
		return result, nil
	}
	result.Enqueued = true
	return result, nil
}

func (s *responseService) Respond(ctx context.Context, inboundReviewID int64) error {
	ctx = logger.WithLogFields(ctx, logger.LogFields{InboundReviewID: &inboundReviewID})

	inbound, err := s.stores.Inbound().GetByID(ctx, inboundReviewID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			slog.WarnContext(ctx, "inbound review not found, dropping")
			return nil
		}
		return fmt.Errorf("fetching inbound review: %w", err)
	}

	biz, err := s.stores.Businesses().Get(ctx, inbound.BusinessID)
	if err != nil {
		return fmt.Errorf("fetching business %d: %w", inbound.BusinessID, err)
	}

	live, err := s.stores.Responses().GetLiveByInbound(ctx, inboundReviewID)
	switch {
	case err == nil:
		// A redelivered message may find the draft a previous run stored but
		// never got through the gate.
		if pipeline.DecideMode(biz.Autopilot, live.LowConfidence) == model.PostingModeAutopilot {
			slog.InfoContext(ctx, "resuming autopilot for stored response", "response_id", live.ID, "status", live.Status)
			return s.autoApprove(ctx, live)
		}
		slog.InfoContext(ctx, "inbound review already has a response", "response_id", live.ID)
		return nil
	case !errors.Is(err, store.ErrNotFound):
		return fmt.Errorf("checking existing response: %w", err)
	}

	resp, err := s.responder.Respond(ctx, *biz, *inbound)
	if err != nil {
		if pipeline.IsInputError(err) {
			slog.InfoContext(ctx, "nothing to respond to", "error", err)
			return nil
		}
		return err
	}
	resp.ID = id.New()
	ctx = logger.WithLogFields(ctx, logger.LogFields{ResponseID: &resp.ID})

	variant, err := s.formatter.FormatResponse(*resp, *inbound)
	if err != nil {
		return fmt.Errorf("formatting response: %w", err)
	}
	variant.ID = id.New()
	variant.CreatedAt = s.now().UTC()

	if err := s.txRunner.WithTx(ctx, func(sp StoreProvider) error {
		if _, err := sp.Responses().Create(ctx, resp); err != nil {
			return err
		}
		_, err := sp.Variants().ReplaceForSubject(ctx, resp.Subject(), []model.PlatformVariant{variant})
		return err
	}); err != nil {
		if errors.Is(err, store.ErrConflict) {
			slog.InfoContext(ctx, "another worker stored the response first")
			return nil
		}
		return fmt.Errorf("storing response: %w", err)
	}

	mode := pipeline.DecideMode(biz.Autopilot, resp.LowConfidence)
	slog.InfoContext(ctx, "response drafted",
		"mode", mode,
		"low_confidence", resp.LowConfidence)
	if mode != model.PostingModeAutopilot {
		return nil
	}
	return s.autoApprove(ctx, resp)
}

// autoApprove walks a response from wherever it stands to Approved.
func (s *responseService) autoApprove(ctx context.Context, resp *model.GeneratedResponse) error {
	if resp.Status == model.ApprovalStatusDraft {
		if err := s.approvals.submit(ctx, resp.Subject()); err != nil {
			return fmt.Errorf("submitting response: %w", err)
		}
	}
	if resp.Status != model.ApprovalStatusApproved {
		if err := s.approvals.approve(ctx, resp.Subject()); err != nil {
			return fmt.Errorf("auto-approving response: %w", err)
		}
	}
	return nil
}

func (s *responseService) Regenerate(ctx context.Context, inboundReviewID int64, traceID *string) error {
	inbound, err := s.stores.Inbound().GetByID(ctx, inboundReviewID)
	if err != nil {
		return err
	}

	live, err := s.stores.Responses().GetLiveByInbound(ctx, inboundReviewID)
	switch {
	case errors.Is(err, store.ErrNotFound):
	case err != nil:
		return fmt.Errorf("checking existing response: %w", err)
	case live.Status == model.ApprovalStatusApproved:
		return fmt.Errorf("%w: response %d is already approved", pipeline.ErrInvalidTransition, live.ID)
	default:
		if err := s.approvals.reject(ctx, live.Subject()); err != nil {
			return fmt.Errorf("superseding response %d: %w", live.ID, err)
		}
	}

	return s.queue.Enqueue(ctx, queue.Task{
		TaskType:        queue.TaskTypeRespondInbound,
		BusinessID:      inbound.BusinessID,
		InboundReviewID: &inbound.ID,
		TraceID:         traceID,
	})
}

func (s *responseService) Get(ctx context.Context, id int64) (*ResponseDetail, error) {
	resp, err := s.stores.Responses().GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	inbound, err := s.stores.Inbound().GetByID(ctx, resp.InboundReviewID)
	if err != nil {
		return nil, fmt.Errorf("fetching inbound review: %w", err)
	}
	variants, err := s.stores.Variants().ListBySubject(ctx, resp.Subject())
	if err != nil {
		return nil, fmt.Errorf("listing variants: %w", err)
	}
	attempts, err := s.stores.Attempts().ListBySubject(ctx, resp.Subject())
	if err != nil {
		return nil, fmt.Errorf("listing attempts: %w", err)
	}
	return &ResponseDetail{Response: resp, Inbound: inbound, Variants: variants, Attempts: attempts}, nil
}

func (s *responseService) Submit(ctx context.Context, id int64) (*ResponseDetail, error) {
	ctx = logger.WithLogFields(ctx, logger.LogFields{ResponseID: &id})
	if err := s.approvals.submit(ctx, responseSubject(id)); err != nil {
		return nil, err
	}
	return s.Get(ctx, id)
}

func (s *responseService) Approve(ctx context.Context, id int64) (*ResponseDetail, error) {
	ctx = logger.WithLogFields(ctx, logger.LogFields{ResponseID: &id})
	if err := s.approvals.approve(ctx, responseSubject(id)); err != nil {
		return nil, err
	}
	return s.Get(ctx, id)
}

func (s *responseService) Reject(ctx context.Context, id int64) (*ResponseDetail, error) {
	ctx = logger.WithLogFields(ctx, logger.LogFields{ResponseID: &id})
	if err := s.approvals.reject(ctx, responseSubject(id)); err != nil {
		return nil, err
	}
	return s.Get(ctx, id)
}
