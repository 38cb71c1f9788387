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

type ReviewDetail struct {
	Review   *model.GeneratedReview
	Variants []model.PlatformVariant
	Attempts []model.PostingAttempt
}

type ReviewService interface {
	// Synthesize is the synthesize_review stage. It is idempotent per
	// transcript and returns an error only for retryable failures.
	Synthesize(ctx context.Context, transcriptID int64) error
	// Resynthesize queues a new synthesis for a transcript whose review
	// expired or whose synthesis gave up.
	Resynthesize(ctx context.Context, transcriptID int64, traceID *string) error

	Get(ctx context.Context, id int64) (*ReviewDetail, error)
	List(ctx context.Context, filter store.ReviewFilter) ([]model.GeneratedReview, error)
	Edit(ctx context.Context, id int64, text string) (*ReviewDetail, error)
	Submit(ctx context.Context, id int64) (*ReviewDetail, error)
	Approve(ctx context.Context, id int64) (*ReviewDetail, error)
	Reject(ctx context.Context, id int64) (*ReviewDetail, error)
	Redispatch(ctx context.Context, id int64) (*ReviewDetail, error)

	// ExpireLapsed moves reviews past their approval window to Expired.
	ExpireLapsed(ctx context.Context, now time.Time, limit uint64) (int, error)
}

type ReviewDeps struct {
	Stores      StoreProvider
	TxRunner    TxRunner
	Queue       queue.Producer
	Synthesizer *pipeline.Synthesizer
	Formatter   *pipeline.Formatter
	Dispatcher  *pipeline.Dispatcher
	Events      events.Sink
	Metrics     *metrics.Metrics
	Approval    config.ApprovalConfig
	// AutoSubmit puts fresh drafts straight into PendingApproval.
	AutoSubmit bool
}

type reviewService struct {
	stores      StoreProvider
	txRunner    TxRunner
	queue       queue.Producer
	synthesizer *pipeline.Synthesizer
	formatter   *pipeline.Formatter
	events      events.Sink
	approvals   *approvals
	autoSubmit  bool
	now         func() time.Time
}

func NewReviewService(deps ReviewDeps) ReviewService {
	return &reviewService{
		stores:      deps.Stores,
		txRunner:    deps.TxRunner,
		queue:       deps.Queue,
		synthesizer: deps.Synthesizer,
		formatter:   deps.Formatter,
		events:      deps.Events,
		approvals: &approvals{
			txRunner:   deps.TxRunner,
			dispatcher: deps.Dispatcher,
			events:     deps.Events,
			metrics:    deps.Metrics,
			cfg:        deps.Approval,
		},
		autoSubmit: deps.AutoSubmit,
		now:        time.Now,
	}
}

func reviewSubject(id int64) model.Subject {
	return model.Subject{Kind: model.SubjectKindReview, ID: id}
}

func (s *reviewService) Synthesize(ctx context.Context, transcriptID int64) error {
	ctx = logger.WithLogFields(ctx, logger.LogFields{TranscriptID: &transcriptID})

	transcript, err := s.stores.Transcripts().GetByID(ctx, transcriptID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			slog.WarnContext(ctx, "transcript not found, dropping synthesis")
			return nil
		}
		return fmt.Errorf("fetching transcript: %w", err)
	}

	existing, err := s.stores.Reviews().GetLiveByTranscript(ctx, transcriptID)
	switch {
	case err == nil:
		slog.InfoContext(ctx, "transcript already has a review", "review_id", existing.ID)
		return nil
	case !errors.Is(err, store.ErrNotFound):
		return fmt.Errorf("checking existing review: %w", err)
	}

	biz, err := s.stores.Businesses().Get(ctx, transcript.BusinessID)
	if err != nil {
		return fmt.Errorf("fetching business %d: %w", transcript.BusinessID, err)
	}

	draft, err := s.synthesizer.Synthesize(ctx, *biz, transcript.NormalizedText)
	if err != nil {
		if pipeline.IsIntegrityError(err) || pipeline.IsInputError(err) {
			return s.giveUp(ctx, transcript, err)
		}
		return err
	}

	draft.ID = id.New()
	draft.TranscriptID = transcript.ID
	draft.ExpiresAt = s.approvals.gate(s.stores).ExpiresAt(model.SubjectKindReview, draft.CreatedAt)
	ctx = logger.WithLogFields(ctx, logger.LogFields{ReviewID: &draft.ID})

	variants, err := s.variants(ctx, *draft, biz.ConnectedPlatforms())
	if err != nil {
		return err
	}

	if err := s.txRunner.WithTx(ctx, func(sp StoreProvider) error {
		if _, err := sp.Reviews().Create(ctx, draft); err != nil {
			return err
		}
		if _, err := sp.Variants().ReplaceForSubject(ctx, draft.Subject(), variants); err != nil {
			return fmt.Errorf("storing variants: %w", err)
		}
		if transcript.SynthesisError != nil {
			return sp.Transcripts().SetSynthesisError(ctx, transcript.ID, nil)
		}
		return nil
	}); err != nil {
		if errors.Is(err, store.ErrConflict) {
			slog.InfoContext(ctx, "another worker stored the review first")
			return nil
		}
		return fmt.Errorf("storing review: %w", err)
	}

	slog.InfoContext(ctx, "review drafted",
		"sentiment", draft.Sentiment,
		"rating", draft.Rating,
		"platforms", len(variants))

	if s.autoSubmit {
		if err := s.approvals.submit(ctx, draft.Subject()); err != nil {
			slog.WarnContext(ctx, "auto-submit failed", "error", err)
		}
	}
	return nil
}

// giveUp records why synthesis stopped so the transcript surfaces for manual
// handling. The stage itself succeeds; retrying would not help.
func (s *reviewService) giveUp(ctx context.Context, transcript *model.Transcript, cause error) error {
	msg := cause.Error()
	if err := s.stores.Transcripts().SetSynthesisError(ctx, transcript.ID, &msg); err != nil {
		return fmt.Errorf("recording synthesis failure: %w", err)
	}
	slog.WarnContext(ctx, "synthesis needs manual handling", "reason", logger.Truncate(msg, 200))

	ev := model.Event{
		Kind:       model.EventKindSynthesisFailed,
		BusinessID: transcript.BusinessID,
		Reason:     msg,
		Timestamp:  s.now().UTC(),
	}
	var drift *pipeline.SentimentDriftError
	if errors.As(cause, &drift) {
		ev.FromState = string(drift.Expected)
		ev.ToState = string(drift.Got)
	}
	events.Emit(ctx, s.events, ev)
	return nil
}

func (s *reviewService) variants(ctx context.Context, review model.GeneratedReview, platforms []model.Platform) ([]model.PlatformVariant, error) {
	variants, err := s.formatter.FormatAll(ctx, review, platforms)
	if err != nil {
		return nil, fmt.Errorf("formatting review: %w", err)
	}
	now := s.now().UTC()
	for i := range variants {
		variants[i].ID = id.New()
		variants[i].CreatedAt = now
	}
	return variants, nil
}

func (s *reviewService) Resynthesize(ctx context.Context, transcriptID int64, traceID *string) error {
	transcript, err := s.stores.Transcripts().GetByID(ctx, transcriptID)
	if err != nil {
		return err
	}

	live, err := s.stores.Reviews().GetLiveByTranscript(ctx, transcriptID)
	switch {
	case err == nil:
		return fmt.Errorf("%w: transcript %d already has review %d (%s)",
			pipeline.ErrInvalidTransition, transcriptID, live.ID, live.Status)
	case !errors.Is(err, store.ErrNotFound):
		return fmt.Errorf("checking existing review: %w", err)
	}

	return s.queue.Enqueue(ctx, queue.Task{
		TaskType:     queue.TaskTypeSynthesizeReview,
		BusinessID:   transcript.BusinessID,
		TranscriptID: &transcript.ID,
		TraceID:      traceID,
	})
}

func (s *reviewService) Get(ctx context.Context, id int64) (*ReviewDetail, error) {
	review, err := s.stores.Reviews().GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	variants, err := s.stores.Variants().ListBySubject(ctx, review.Subject())
	if err != nil {
		return nil, fmt.Errorf("listing variants: %w", err)
	}
	attempts, err := s.stores.Attempts().ListBySubject(ctx, review.Subject())
	if err != nil {
		return nil, fmt.Errorf("listing attempts: %w", err)
	}
	return &ReviewDetail{Review: review, Variants: variants, Attempts: attempts}, nil
}

func (s *reviewService) List(ctx context.Context, filter store.ReviewFilter) ([]model.GeneratedReview, error) {
	if filter.Limit == 0 || filter.Limit > 200 {
		filter.Limit = 50
	}
	return s.stores.Reviews().List(ctx, filter)
}

// Edit replaces the canonical text of a review that is still awaiting
// approval and re-renders its variants.
func (s *reviewService) Edit(ctx context.Context, id int64, text string) (*ReviewDetail, error) {
	text = strings.TrimSpace(text)
	if text == "" {
		return nil, pipeline.ErrEmptyInput
	}

	review, err := s.stores.Reviews().GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if review.Status.IsTerminal() {
		return nil, fmt.Errorf("%w: review %d is %s", pipeline.ErrInvalidTransition, id, review.Status)
	}
	biz, err := s.stores.Businesses().Get(ctx, review.BusinessID)
	if err != nil {
		return nil, fmt.Errorf("fetching business: %w", err)
	}

	review.CanonicalText = text
	variants, err := s.variants(ctx, *review, biz.ConnectedPlatforms())
	if err != nil {
		return nil, err
	}

	if err := s.txRunner.WithTx(ctx, func(sp StoreProvider) error {
		ok, err := sp.Reviews().UpdateDraft(ctx, review, s.now().UTC())
		if err != nil {
			return err
		}
		if !ok {
			return fmt.Errorf("%w: review %d was decided while editing", pipeline.ErrInvalidTransition, id)
		}
		_, err = sp.Variants().ReplaceForSubject(ctx, review.Subject(), variants)
		return err
	}); err != nil {
		return nil, err
	}
	return s.Get(ctx, id)
}

func (s *reviewService) Submit(ctx context.Context, id int64) (*ReviewDetail, error) {
	if err := s.approvals.submit(ctx, reviewSubject(id)); err != nil {
		return nil, err
	}
	return s.Get(ctx, id)
}

func (s *reviewService) Approve(ctx context.Context, id int64) (*ReviewDetail, error) {
	ctx = logger.WithLogFields(ctx, logger.LogFields{ReviewID: &id})
	if err := s.approvals.approve(ctx, reviewSubject(id)); err != nil {
		return nil, err
	}
	return s.Get(ctx, id)
}

func (s *reviewService) Reject(ctx context.Context, id int64) (*ReviewDetail, error) {
	ctx = logger.WithLogFields(ctx, logger.LogFields{ReviewID: &id})
	if err := s.approvals.reject(ctx, reviewSubject(id)); err != nil {
		return nil, err
	}
	return s.Get(ctx, id)
}

func (s *reviewService) Redispatch(ctx context.Context, id int64) (*ReviewDetail, error) {
	ctx = logger.WithLogFields(ctx, logger.LogFields{ReviewID: &id})
	n, err := s.approvals.redispatch(ctx, reviewSubject(id))
	if err != nil {
		return nil, err
	}
	slog.InfoContext(ctx, "redispatched review", "planned", n)
	return s.Get(ctx, id)
}

func (s *reviewService) ExpireLapsed(ctx context.Context, now time.Time, limit uint64) (int, error) {
	lapsed, err := s.stores.Statuses().ListExpired(ctx, model.SubjectKindReview, now, limit)
	if err != nil {
		return 0, fmt.Errorf("listing lapsed reviews: %w", err)
	}

	expired := 0
	for _, st := range lapsed {
		won, err := s.approvals.expire(ctx, st.Subject)
		if err != nil {
			slog.WarnContext(ctx, "failed to expire review",
				"subject", st.Subject.String(),
				"error", err)
			continue
		}
		if won {
			expired++
		}
	}
	return expired, nil
}
