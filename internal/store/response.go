package store

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"

	"voxreview.app/relay/core/db"
	"voxreview.app/relay/internal/model"
)

const responseColumns = `id, inbound_review_id, business_id, text, status, low_confidence, created_at, updated_at, decided_at`

type responseStore struct {
	q db.DBTX
}

func newResponseStore(q db.DBTX) ResponseStore {
	return &responseStore{q: q}
}

func (s *responseStore) Create(ctx context.Context, r *model.GeneratedResponse) (*model.GeneratedResponse, error) {
	row := s.q.QueryRow(ctx, `
		INSERT INTO generated_responses
			(id, inbound_review_id, business_id, text, status, low_confidence, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $7)
		RETURNING `+responseColumns,
		r.ID, r.InboundReviewID, r.BusinessID, r.Text, string(r.Status), r.LowConfidence, r.CreatedAt)

	created, err := scanResponse(row)
	if err != nil {
		if isUniqueViolation(err) {
			return nil, fmt.Errorf("response for inbound review %d: %w", r.InboundReviewID, ErrConflict)
		}
		return nil, err
	}
	return created, nil
}

func (s *responseStore) GetByID(ctx context.Context, id int64) (*model.GeneratedResponse, error) {
	row := s.q.QueryRow(ctx, `SELECT `+responseColumns+` FROM generated_responses WHERE id = $1`, id)
	r, err := scanResponse(row)
	if err != nil {
		return nil, notFound(err)
	}
	return r, nil
}

func (s *responseStore) GetLiveByInbound(ctx context.Context, inboundReviewID int64) (*model.GeneratedResponse, error) {
	row := s.q.QueryRow(ctx, `
		SELECT `+responseColumns+` FROM generated_responses
		WHERE inbound_review_id = $1 AND status <> 'rejected'`, inboundReviewID)
	r, err := scanResponse(row)
	if err != nil {
		return nil, notFound(err)
	}
	return r, nil
}

func scanResponse(row pgx.Row) (*model.GeneratedResponse, error) {
	var (
		r      model.GeneratedResponse
		status string
	)
	err := row.Scan(&r.ID, &r.InboundReviewID, &r.BusinessID, &r.Text, &status, &r.LowConfidence,
		&r.CreatedAt, &r.UpdatedAt, &r.DecidedAt)
	if err != nil {
		return nil, err
	}
	r.Status = model.ApprovalStatus(status)
	return &r, nil
}
