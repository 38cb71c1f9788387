package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/Masterminds/squirrel"
	"github.com/jackc/pgx/v5"

	"voxreview.app/relay/core/db"
	"voxreview.app/relay/internal/model"
)

const attemptColumns = `id, platform_variant_id, subject_kind, subject_id, business_id, platform, state, attempt_count, max_attempts, last_error, external_id, idempotency_key, scheduled_at, started_at, completed_at, created_at`

type attemptStore struct {
	q db.DBTX
}

func newAttemptStore(q db.DBTX) AttemptStore {
	return &attemptStore{q: q}
}

func (s *attemptStore) Create(ctx context.Context, a *model.PostingAttempt) (*model.PostingAttempt, error) {
	row := s.q.QueryRow(ctx, `
		INSERT INTO posting_attempts
			(id, platform_variant_id, subject_kind, subject_id, business_id, platform, state,
			 attempt_count, max_attempts, idempotency_key, scheduled_at, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, 0, $8, $9, $10, $11)
		RETURNING `+attemptColumns,
		a.ID, a.PlatformVariantID, string(a.SubjectKind), a.SubjectID, a.BusinessID, string(a.Platform),
		string(a.State), a.MaxAttempts, a.IdempotencyKey, a.ScheduledAt, a.CreatedAt)
	return scanAttempt(row)
}

func (s *attemptStore) GetByID(ctx context.Context, id int64) (*model.PostingAttempt, error) {
	row := s.q.QueryRow(ctx, `SELECT `+attemptColumns+` FROM posting_attempts WHERE id = $1`, id)
	a, err := scanAttempt(row)
	if err != nil {
		return nil, notFound(err)
	}
	return a, nil
}

func (s *attemptStore) ListBySubject(ctx context.Context, subject model.Subject) ([]model.PostingAttempt, error) {
	return s.List(ctx, AttemptFilter{Subject: &subject, Limit: 1000})
}

func (s *attemptStore) List(ctx context.Context, filter AttemptFilter) ([]model.PostingAttempt, error) {
	q := psql.Select(attemptColumns).From("posting_attempts").OrderBy("scheduled_at", "id")
	if filter.BusinessID != 0 {
		q = q.Where(squirrel.Eq{"business_id": filter.BusinessID})
	}
	if filter.Subject != nil {
		q = q.Where(squirrel.Eq{"subject_kind": string(filter.Subject.Kind), "subject_id": filter.Subject.ID})
	}
	if filter.Platform != "" {
		q = q.Where(squirrel.Eq{"platform": string(filter.Platform)})
	}
	if len(filter.States) > 0 {
		states := make([]string, len(filter.States))
		for i, st := range filter.States {
			states[i] = string(st)
		}
		q = q.Where(squirrel.Eq{"state": states})
	}
	if filter.ScheduledBefore != nil {
		q = q.Where(squirrel.Lt{"scheduled_at": *filter.ScheduledBefore})
	}
	if filter.StartedBefore != nil {
		q = q.Where(squirrel.Lt{"started_at": *filter.StartedBefore})
	}
	limit := filter.Limit
	if limit == 0 {
		limit = 100
	}
	q = q.Limit(limit)

	sql, args, err := q.ToSql()
	if err != nil {
		return nil, fmt.Errorf("building attempt list query: %w", err)
	}
	rows, err := s.q.Query(ctx, sql, args...)
	if err != nil {
		return nil, err
	}
	return collect(rows, scanAttempt)
}

func (s *attemptStore) Claim(ctx context.Context, id int64, now time.Time) (bool, *model.PostingAttempt, error) {
	row := s.q.QueryRow(ctx, `
		UPDATE posting_attempts
		SET state = 'in_flight', attempt_count = attempt_count + 1, started_at = $2
		WHERE id = $1 AND state IN ('queued', 'failed') AND attempt_count < max_attempts
		RETURNING `+attemptColumns, id, now)
	a, err := scanAttempt(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			// Attempt was not claimable (claimed elsewhere or terminal)
			return false, nil, nil
		}
		return false, nil, err
	}
	return true, a, nil
}

func (s *attemptStore) Transition(ctx context.Context, upd AttemptUpdate) (bool, *model.PostingAttempt, error) {
	q := psql.Update("posting_attempts").
		Set("state", string(upd.To)).
		Where(squirrel.Eq{"id": upd.ID, "state": string(upd.From)}).
		Suffix("RETURNING " + attemptColumns)
	if upd.LastError != nil {
		q = q.Set("last_error", *upd.LastError)
	}
	if upd.ExternalID != nil {
		q = q.Set("external_id", *upd.ExternalID)
	}
	if upd.ScheduledAt != nil {
		q = q.Set("scheduled_at", *upd.ScheduledAt)
	}
	if upd.To.IsTerminal() {
		q = q.Set("completed_at", upd.At)
	}

	sql, args, err := q.ToSql()
	if err != nil {
		return false, nil, fmt.Errorf("building attempt transition: %w", err)
	}
	a, err := scanAttempt(s.q.QueryRow(ctx, sql, args...))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return false, nil, nil
		}
		return false, nil, err
	}
	return true, a, nil
}

func (s *attemptStore) AbandonQueued(ctx context.Context, subject model.Subject, reason string, now time.Time) ([]model.PostingAttempt, error) {
	rows, err := s.q.Query(ctx, `
		UPDATE posting_attempts
		SET state = 'abandoned', last_error = $3, completed_at = $4
		WHERE subject_kind = $1 AND subject_id = $2 AND state = 'queued'
		RETURNING `+attemptColumns,
		string(subject.Kind), subject.ID, reason, now)
	if err != nil {
		return nil, err
	}
	return collect(rows, scanAttempt)
}

func scanAttempt(row pgx.Row) (*model.PostingAttempt, error) {
	var (
		a        model.PostingAttempt
		kind     string
		platform string
		state    string
	)
	err := row.Scan(&a.ID, &a.PlatformVariantID, &kind, &a.SubjectID, &a.BusinessID, &platform, &state,
		&a.AttemptCount, &a.MaxAttempts, &a.LastError, &a.ExternalID, &a.IdempotencyKey,
		&a.ScheduledAt, &a.StartedAt, &a.CompletedAt, &a.CreatedAt)
	if err != nil {
		return nil, err
	}
	a.SubjectKind = model.SubjectKind(kind)
	a.Platform = model.Platform(platform)
	a.State = model.AttemptState(state)
	return &a, nil
}
