package store

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v5"

	"voxreview.app/relay/core/db"
	"voxreview.app/relay/internal/model"
)

const inboundColumns = `id, business_id, platform, external_id, author, text, rating, sentiment, topics, received_at`

type inboundStore struct {
	q db.DBTX
}

func newInboundStore(q db.DBTX) InboundStore {
	return &inboundStore{q: q}
}

func (s *inboundStore) Insert(ctx context.Context, r *model.InboundReview) (bool, *model.InboundReview, error) {
	row := s.q.QueryRow(ctx, `
		INSERT INTO inbound_reviews
			(id, business_id, platform, external_id, author, text, rating, sentiment, topics, received_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		ON CONFLICT (platform, external_id) DO NOTHING
		RETURNING `+inboundColumns,
		r.ID, r.BusinessID, string(r.Platform), r.ExternalID, r.Author, r.Text, r.Rating,
		string(r.Sentiment), nonNil(r.Topics), r.ReceivedAt)

	created, err := scanInbound(row)
	if err == nil {
		return true, created, nil
	}
	if !errors.Is(err, pgx.ErrNoRows) {
		return false, nil, err
	}

	existing, err := scanInbound(s.q.QueryRow(ctx,
		`SELECT `+inboundColumns+` FROM inbound_reviews WHERE platform = $1 AND external_id = $2`,
		string(r.Platform), r.ExternalID))
	if err != nil {
		return false, nil, notFound(err)
	}
	return false, existing, nil
}

func (s *inboundStore) GetByID(ctx context.Context, id int64) (*model.InboundReview, error) {
	row := s.q.QueryRow(ctx, `SELECT `+inboundColumns+` FROM inbound_reviews WHERE id = $1`, id)
	r, err := scanInbound(row)
	if err != nil {
		return nil, notFound(err)
	}
	return r, nil
}

func scanInbound(row pgx.Row) (*model.InboundReview, error) {
	var (
		r         model.InboundReview
		platform  string
		sentiment string
	)
	err := row.Scan(&r.ID, &r.BusinessID, &platform, &r.ExternalID, &r.Author, &r.Text, &r.Rating,
		&sentiment, &r.Topics, &r.ReceivedAt)
	if err != nil {
		return nil, err
	}
	r.Platform = model.Platform(platform)
	r.Sentiment = model.Sentiment(sentiment)
	return &r, nil
}
