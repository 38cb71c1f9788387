package store

import (
	"context"
	"fmt"
	"time"

	"github.com/Masterminds/squirrel"
	"github.com/jackc/pgx/v5"

	"voxreview.app/relay/core/db"
	"voxreview.app/relay/internal/model"
)

const reviewColumns = `id, transcript_id, business_id, canonical_text, rating, sentiment, topics, status, created_at, updated_at, expires_at, decided_at`

type reviewStore struct {
	q db.DBTX
}

func newReviewStore(q db.DBTX) ReviewStore {
	return &reviewStore{q: q}
}

func (s *reviewStore) Create(ctx context.Context, r *model.GeneratedReview) (*model.GeneratedReview, error) {
	row := s.q.QueryRow(ctx, `
		INSERT INTO generated_reviews
			(id, transcript_id, business_id, canonical_text, rating, sentiment, topics, status, created_at, updated_at, expires_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $9, $10)
		RETURNING `+reviewColumns,
		r.ID, r.TranscriptID, r.BusinessID, r.CanonicalText, r.Rating, string(r.Sentiment),
		nonNil(r.Topics), string(r.Status), r.CreatedAt, r.ExpiresAt)

	created, err := scanReview(row)
	if err != nil {
		if isUniqueViolation(err) {
			return nil, fmt.Errorf("review for transcript %d: %w", r.TranscriptID, ErrConflict)
		}
		return nil, err
	}
	return created, nil
}

func (s *reviewStore) GetByID(ctx context.Context, id int64) (*model.GeneratedReview, error) {
	row := s.q.QueryRow(ctx, `SELECT `+reviewColumns+` FROM generated_reviews WHERE id = $1`, id)
	r, err := scanReview(row)
	if err != nil {
		return nil, notFound(err)
	}
	return r, nil
}

func (s *reviewStore) GetLiveByTranscript(ctx context.Context, transcriptID int64) (*model.GeneratedReview, error) {
	row := s.q.QueryRow(ctx, `
		SELECT `+reviewColumns+` FROM generated_reviews
		WHERE transcript_id = $1 AND status <> 'expired'`, transcriptID)
	r, err := scanReview(row)
	if err != nil {
		return nil, notFound(err)
	}
	return r, nil
}

func (s *reviewStore) UpdateDraft(ctx context.Context, r *model.GeneratedReview, now time.Time) (bool, error) {
	tag, err := s.q.Exec(ctx, `
		UPDATE generated_reviews
		SET canonical_text = $2, rating = $3, sentiment = $4, topics = $5, updated_at = $6
		WHERE id = $1 AND status IN ('draft', 'pending_approval')`,
		r.ID, r.CanonicalText, r.Rating, string(r.Sentiment), nonNil(r.Topics), now)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() == 1, nil
}

func (s *reviewStore) List(ctx context.Context, filter ReviewFilter) ([]model.GeneratedReview, error) {
	q := psql.Select(reviewColumns).From("generated_reviews").OrderBy("created_at DESC")
	if filter.BusinessID != 0 {
		q = q.Where(squirrel.Eq{"business_id": filter.BusinessID})
	}
	if len(filter.Statuses) > 0 {
		statuses := make([]string, len(filter.Statuses))
		for i, st := range filter.Statuses {
			statuses[i] = string(st)
		}
		q = q.Where(squirrel.Eq{"status": statuses})
	}
	limit := filter.Limit
	if limit == 0 {
		limit = 50
	}
	q = q.Limit(limit)

	sql, args, err := q.ToSql()
	if err != nil {
		return nil, fmt.Errorf("building review list query: %w", err)
	}
	rows, err := s.q.Query(ctx, sql, args...)
	if err != nil {
		return nil, err
	}
	return collect(rows, scanReview)
}

func scanReview(row pgx.Row) (*model.GeneratedReview, error) {
	var (
		r         model.GeneratedReview
		sentiment string
		status    string
	)
	err := row.Scan(&r.ID, &r.TranscriptID, &r.BusinessID, &r.CanonicalText, &r.Rating, &sentiment,
		&r.Topics, &status, &r.CreatedAt, &r.UpdatedAt, &r.ExpiresAt, &r.DecidedAt)
	if err != nil {
		return nil, err
	}
	r.Sentiment = model.Sentiment(sentiment)
	r.Status = model.ApprovalStatus(status)
	return &r, nil
}

func nonNil(s []string) []string {
	if s == nil {
		return []string{}
	}
	return s
}
