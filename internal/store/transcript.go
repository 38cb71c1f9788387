package store

import (
	"context"

	"github.com/jackc/pgx/v5"

	"voxreview.app/relay/core/db"
	"voxreview.app/relay/internal/model"
)

const transcriptColumns = `id, business_id, raw_text, normalized_text, language, confidence, synthesis_error, captured_at`

type transcriptStore struct {
	q db.DBTX
}

func newTranscriptStore(q db.DBTX) TranscriptStore {
	return &transcriptStore{q: q}
}

func (s *transcriptStore) Create(ctx context.Context, t *model.Transcript) (*model.Transcript, error) {
	row := s.q.QueryRow(ctx, `
		INSERT INTO transcripts (id, business_id, raw_text, normalized_text, language, confidence, captured_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		RETURNING `+transcriptColumns,
		t.ID, t.BusinessID, t.RawText, t.NormalizedText, t.Language, t.Confidence, t.CapturedAt)
	return scanTranscript(row)
}

func (s *transcriptStore) GetByID(ctx context.Context, id int64) (*model.Transcript, error) {
	row := s.q.QueryRow(ctx, `SELECT `+transcriptColumns+` FROM transcripts WHERE id = $1`, id)
	t, err := scanTranscript(row)
	if err != nil {
		return nil, notFound(err)
	}
	return t, nil
}

func (s *transcriptStore) SetSynthesisError(ctx context.Context, id int64, msg *string) error {
	tag, err := s.q.Exec(ctx, `UPDATE transcripts SET synthesis_error = $2 WHERE id = $1`, id, msg)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func scanTranscript(row pgx.Row) (*model.Transcript, error) {
	var t model.Transcript
	err := row.Scan(&t.ID, &t.BusinessID, &t.RawText, &t.NormalizedText, &t.Language,
		&t.Confidence, &t.SynthesisError, &t.CapturedAt)
	if err != nil {
		return nil, err
	}
	return &t, nil
}
