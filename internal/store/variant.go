package store

import (
	"context"

	"github.com/jackc/pgx/v5"

	"voxreview.app/relay/core/db"
	"voxreview.app/relay/internal/model"
)

const variantColumns = `id, subject_kind, subject_id, platform, formatted_text, title, rating, max_length, in_reply_to, created_at`

type variantStore struct {
	q db.DBTX
}

func newVariantStore(q db.DBTX) VariantStore {
	return &variantStore{q: q}
}

func (s *variantStore) ReplaceForSubject(ctx context.Context, subject model.Subject, variants []model.PlatformVariant) ([]model.PlatformVariant, error) {
	if _, err := s.q.Exec(ctx,
		`DELETE FROM platform_variants WHERE subject_kind = $1 AND subject_id = $2`,
		string(subject.Kind), subject.ID); err != nil {
		return nil, err
	}

	out := make([]model.PlatformVariant, 0, len(variants))
	for _, v := range variants {
		row := s.q.QueryRow(ctx, `
			INSERT INTO platform_variants
				(id, subject_kind, subject_id, platform, formatted_text, title, rating, max_length, in_reply_to, created_at)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
			RETURNING `+variantColumns,
			v.ID, string(subject.Kind), subject.ID, string(v.Platform), v.FormattedText, v.Title,
			v.Rating, v.MaxLength, v.InReplyTo, v.CreatedAt)
		stored, err := scanVariant(row)
		if err != nil {
			return nil, err
		}
		out = append(out, *stored)
	}
	return out, nil
}

func (s *variantStore) ListBySubject(ctx context.Context, subject model.Subject) ([]model.PlatformVariant, error) {
	rows, err := s.q.Query(ctx, `
		SELECT `+variantColumns+` FROM platform_variants
		WHERE subject_kind = $1 AND subject_id = $2
		ORDER BY platform`, string(subject.Kind), subject.ID)
	if err != nil {
		return nil, err
	}
	return collect(rows, scanVariant)
}

func (s *variantStore) GetByID(ctx context.Context, id int64) (*model.PlatformVariant, error) {
	row := s.q.QueryRow(ctx, `SELECT `+variantColumns+` FROM platform_variants WHERE id = $1`, id)
	v, err := scanVariant(row)
	if err != nil {
		return nil, notFound(err)
	}
	return v, nil
}

func scanVariant(row pgx.Row) (*model.PlatformVariant, error) {
	var (
		v        model.PlatformVariant
		kind     string
		platform string
	)
	err := row.Scan(&v.ID, &kind, &v.SubjectID, &platform, &v.FormattedText, &v.Title,
		&v.Rating, &v.MaxLength, &v.InReplyTo, &v.CreatedAt)
	if err != nil {
		return nil, err
	}
	v.SubjectKind = model.SubjectKind(kind)
	v.Platform = model.Platform(platform)
	return &v, nil
}
