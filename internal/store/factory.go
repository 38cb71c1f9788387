package store

import (
	"time"

	"voxreview.app/relay/core/db"
)

type Stores struct {
	q          db.DBTX
	businesses BusinessStore
}

func NewStores(q db.DBTX) *Stores {
	return &Stores{q: q}
}

func (s *Stores) Transcripts() TranscriptStore {
	return newTranscriptStore(s.q)
}

func (s *Stores) Reviews() ReviewStore {
	return newReviewStore(s.q)
}

func (s *Stores) Responses() ResponseStore {
	return newResponseStore(s.q)
}

func (s *Stores) Statuses() StatusStore {
	return newStatusStore(s.q)
}

func (s *Stores) Variants() VariantStore {
	return newVariantStore(s.q)
}

func (s *Stores) Attempts() AttemptStore {
	return newAttemptStore(s.q)
}

func (s *Stores) Inbound() InboundStore {
	return newInboundStore(s.q)
}

func (s *Stores) Businesses() BusinessStore {
	if s.businesses != nil {
		return s.businesses
	}
	return newBusinessStore(s.q)
}

// WithBusinessCache returns stores whose business lookups go through an LRU.
// Only use it outside transactions.
func (s *Stores) WithBusinessCache(size int, ttl time.Duration) *Stores {
	return &Stores{q: s.q, businesses: NewCachedBusinessStore(newBusinessStore(s.q), size, ttl)}
}
