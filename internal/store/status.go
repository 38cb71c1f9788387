package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"voxreview.app/relay/core/db"
	"voxreview.app/relay/internal/model"
)

var errUnknownSubject = errors.New("unknown subject kind")

type statusStore struct {
	q db.DBTX
}

func newStatusStore(q db.DBTX) StatusStore {
	return &statusStore{q: q}
}

func subjectTable(kind model.SubjectKind) (string, error) {
	switch kind {
	case model.SubjectKindReview:
		return "generated_reviews", nil
	case model.SubjectKindResponse:
		return "generated_responses", nil
	default:
		return "", fmt.Errorf("%w: %q", errUnknownSubject, kind)
	}
}

func (s *statusStore) Get(ctx context.Context, subject model.Subject) (*SubjectState, error) {
	table, err := subjectTable(subject.Kind)
	if err != nil {
		return nil, err
	}

	var (
		st     = SubjectState{Subject: subject}
		status string
	)
	err = s.q.QueryRow(ctx, `SELECT business_id, status, expires_at FROM `+table+` WHERE id = $1`, subject.ID).
		Scan(&st.BusinessID, &status, &st.ExpiresAt)
	if err != nil {
		return nil, notFound(err)
	}
	st.Status = model.ApprovalStatus(status)
	return &st, nil
}

func (s *statusStore) CompareAndSwap(ctx context.Context, subject model.Subject, from, to model.ApprovalStatus, at time.Time) (bool, error) {
	table, err := subjectTable(subject.Kind)
	if err != nil {
		return false, err
	}

	var decidedAt *time.Time
	if to.IsTerminal() {
		decidedAt = &at
	}

	var id int64
	err = s.q.QueryRow(ctx, `
		UPDATE `+table+`
		SET status = $3, updated_at = $4, decided_at = COALESCE($5, decided_at)
		WHERE id = $1 AND status = $2
		RETURNING id`,
		subject.ID, string(from), string(to), at, decidedAt).Scan(&id)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			// Another writer moved it first, or it never was in `from`.
			return false, nil
		}
		return false, err
	}
	return true, nil
}

func (s *statusStore) ListExpired(ctx context.Context, kind model.SubjectKind, now time.Time, limit uint64) ([]SubjectState, error) {
	table, err := subjectTable(kind)
	if err != nil {
		return nil, err
	}
	if limit == 0 {
		limit = 100
	}

	rows, err := s.q.Query(ctx, `
		SELECT id, business_id, status, expires_at FROM `+table+`
		WHERE status IN ('draft', 'pending_approval') AND expires_at IS NOT NULL AND expires_at <= $1
		ORDER BY expires_at
		LIMIT $2`, now, int64(limit))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []SubjectState
	for rows.Next() {
		st := SubjectState{Subject: model.Subject{Kind: kind}}
		var status string
		if err := rows.Scan(&st.Subject.ID, &st.BusinessID, &status, &st.ExpiresAt); err != nil {
			return nil, err
		}
		st.Status = model.ApprovalStatus(status)
		out = append(out, st)
	}
	return out, rows.Err()
}
