package store

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"
	"github.com/jackc/pgx/v5"

	"voxreview.app/relay/core/db"
	"voxreview.app/relay/internal/model"
)

const businessColumns = `id, name, language, brand_voice, autopilot, known_entities, platforms, contact_email`

type businessStore struct {
	q db.DBTX
}

func newBusinessStore(q db.DBTX) BusinessStore {
	return &businessStore{q: q}
}

func (s *businessStore) Get(ctx context.Context, id int64) (*model.BusinessContext, error) {
	row := s.q.QueryRow(ctx, `SELECT `+businessColumns+` FROM businesses WHERE id = $1`, id)
	b, err := scanBusiness(row)
	if err != nil {
		return nil, notFound(err)
	}
	return b, nil
}

func (s *businessStore) ListConnected(ctx context.Context) ([]model.BusinessContext, error) {
	rows, err := s.q.Query(ctx, `
		SELECT `+businessColumns+` FROM businesses
		WHERE platforms <> '{}'::jsonb
		ORDER BY id`)
	if err != nil {
		return nil, err
	}
	return collect(rows, scanBusiness)
}

func scanBusiness(row pgx.Row) (*model.BusinessContext, error) {
	var (
		b                          model.BusinessContext
		voice, entities, platforms []byte
	)
	err := row.Scan(&b.BusinessID, &b.Name, &b.Language, &voice, &b.Autopilot, &entities, &platforms, &b.ContactEmail)
	if err != nil {
		return nil, err
	}
	if len(voice) > 0 {
		if err := json.Unmarshal(voice, &b.BrandVoice); err != nil {
			return nil, fmt.Errorf("decoding brand voice: %w", err)
		}
	}
	if len(entities) > 0 {
		if err := json.Unmarshal(entities, &b.KnownEntities); err != nil {
			return nil, fmt.Errorf("decoding known entities: %w", err)
		}
	}
	if len(platforms) > 0 {
		raw := map[string]model.Credentials{}
		if err := json.Unmarshal(platforms, &raw); err != nil {
			return nil, fmt.Errorf("decoding platforms: %w", err)
		}
		b.Platforms = make(map[model.Platform]model.Credentials, len(raw))
		for name, creds := range raw {
			// Platforms the pipeline does not know are ignored, not fatal.
			if p, ok := model.ParsePlatform(name); ok {
				b.Platforms[p] = creds
			}
		}
	}
	return &b, nil
}

// CachedBusinessStore serves repeated lookups from an expiring LRU. Business
// settings change rarely and every stage reads them.
type CachedBusinessStore struct {
	inner BusinessStore
	cache *expirable.LRU[int64, model.BusinessContext]
}

func NewCachedBusinessStore(inner BusinessStore, size int, ttl time.Duration) *CachedBusinessStore {
	if size <= 0 {
		size = 1024
	}
	return &CachedBusinessStore{
		inner: inner,
		cache: expirable.NewLRU[int64, model.BusinessContext](size, nil, ttl),
	}
}

func (s *CachedBusinessStore) Get(ctx context.Context, id int64) (*model.BusinessContext, error) {
	if b, ok := s.cache.Get(id); ok {
		return &b, nil
	}
	b, err := s.inner.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	s.cache.Add(id, *b)
	return b, nil
}

// ListConnected always reads through; the poller wants fresh credentials.
func (s *CachedBusinessStore) ListConnected(ctx context.Context) ([]model.BusinessContext, error) {
	list, err := s.inner.ListConnected(ctx)
	if err != nil {
		return nil, err
	}
	for _, b := range list {
		s.cache.Add(b.BusinessID, b)
	}
	return list, nil
}

// Invalidate drops a cached business, e.g. after a credentials refresh.
func (s *CachedBusinessStore) Invalidate(id int64) {
	s.cache.Remove(id)
}
