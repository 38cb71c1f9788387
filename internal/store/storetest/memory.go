// Package storetest provides an in-memory implementation of the store
// contracts for tests of the packages built on top of them.
package storetest

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"voxreview.app/relay/internal/model"
	"voxreview.app/relay/internal/store"
)

// Memory holds every table behind one mutex, so each store call is atomic
// the way a single SQL statement is.
type Memory struct {
	mu          sync.Mutex
	transcripts map[int64]model.Transcript
	reviews     map[int64]model.GeneratedReview
	responses   map[int64]model.GeneratedResponse
	variants    map[int64]model.PlatformVariant
	attempts    map[int64]model.PostingAttempt
	inbound     map[int64]model.InboundReview
	businesses  map[int64]model.BusinessContext
	nextID      int64
}

func New() *Memory {
	return &Memory{
		transcripts: make(map[int64]model.Transcript),
		reviews:     make(map[int64]model.GeneratedReview),
		responses:   make(map[int64]model.GeneratedResponse),
		variants:    make(map[int64]model.PlatformVariant),
		attempts:    make(map[int64]model.PostingAttempt),
		inbound:     make(map[int64]model.InboundReview),
		businesses:  make(map[int64]model.BusinessContext),
		nextID:      1000,
	}
}

// PutBusiness seeds the read-only business table.
func (m *Memory) PutBusiness(b model.BusinessContext) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.businesses[b.BusinessID] = b
}

// id fills zero ids; callers normally pass snowflakes. Must hold mu.
func (m *Memory) id(v int64) int64 {
	if v != 0 {
		return v
	}
	m.nextID++
	return m.nextID
}

func (m *Memory) Transcripts() store.TranscriptStore { return transcripts{m} }
func (m *Memory) Reviews() store.ReviewStore         { return reviews{m} }
func (m *Memory) Responses() store.ResponseStore     { return responses{m} }
func (m *Memory) Statuses() store.StatusStore        { return statuses{m} }
func (m *Memory) Variants() store.VariantStore       { return variants{m} }
func (m *Memory) Attempts() store.AttemptStore       { return attempts{m} }
func (m *Memory) Inbound() store.InboundStore        { return inbound{m} }
func (m *Memory) Businesses() store.BusinessStore    { return businesses{m} }

type transcripts struct{ m *Memory }

func (s transcripts) Create(_ context.Context, t *model.Transcript) (*model.Transcript, error) {
	s.m.mu.Lock()
	defer s.m.mu.Unlock()
	cp := *t
	cp.ID = s.m.id(cp.ID)
	s.m.transcripts[cp.ID] = cp
	return &cp, nil
}

func (s transcripts) GetByID(_ context.Context, id int64) (*model.Transcript, error) {
	s.m.mu.Lock()
	defer s.m.mu.Unlock()
	t, ok := s.m.transcripts[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	return &t, nil
}

func (s transcripts) SetSynthesisError(_ context.Context, id int64, msg *string) error {
	s.m.mu.Lock()
	defer s.m.mu.Unlock()
	t, ok := s.m.transcripts[id]
	if !ok {
		return store.ErrNotFound
	}
	t.SynthesisError = msg
	s.m.transcripts[id] = t
	return nil
}

type reviews struct{ m *Memory }

func (s reviews) Create(_ context.Context, r *model.GeneratedReview) (*model.GeneratedReview, error) {
	s.m.mu.Lock()
	defer s.m.mu.Unlock()
	for _, existing := range s.m.reviews {
		if existing.TranscriptID == r.TranscriptID && existing.Status != model.ApprovalStatusExpired {
			return nil, fmt.Errorf("review for transcript %d: %w", r.TranscriptID, store.ErrConflict)
		}
	}
	cp := *r
	cp.ID = s.m.id(cp.ID)
	s.m.reviews[cp.ID] = cp
	return &cp, nil
}

func (s reviews) GetByID(_ context.Context, id int64) (*model.GeneratedReview, error) {
	s.m.mu.Lock()
	defer s.m.mu.Unlock()
	r, ok := s.m.reviews[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	return &r, nil
}

func (s reviews) GetLiveByTranscript(_ context.Context, transcriptID int64) (*model.GeneratedReview, error) {
	s.m.mu.Lock()
	defer s.m.mu.Unlock()
	for _, r := range s.m.reviews {
		if r.TranscriptID == transcriptID && r.Status != model.ApprovalStatusExpired {
			return &r, nil
		}
	}
	return nil, store.ErrNotFound
}

func (s reviews) UpdateDraft(_ context.Context, r *model.GeneratedReview, now time.Time) (bool, error) {
	s.m.mu.Lock()
	defer s.m.mu.Unlock()
	cur, ok := s.m.reviews[r.ID]
	if !ok || cur.Status.IsTerminal() {
		return false, nil
	}
	cur.CanonicalText = r.CanonicalText
	cur.Rating = r.Rating
	cur.Sentiment = r.Sentiment
	cur.Topics = r.Topics
	cur.UpdatedAt = now
	s.m.reviews[r.ID] = cur
	return true, nil
}

func (s reviews) List(_ context.Context, filter store.ReviewFilter) ([]model.GeneratedReview, error) {
	s.m.mu.Lock()
	defer s.m.mu.Unlock()
	var out []model.GeneratedReview
	for _, r := range s.m.reviews {
		if filter.BusinessID != 0 && r.BusinessID != filter.BusinessID {
			continue
		}
		if len(filter.Statuses) > 0 && !contains(filter.Statuses, r.Status) {
			continue
		}
		out = append(out, r)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	if filter.Limit > 0 && uint64(len(out)) > filter.Limit {
		out = out[:filter.Limit]
	}
	return out, nil
}

type responses struct{ m *Memory }

func (s responses) Create(_ context.Context, r *model.GeneratedResponse) (*model.GeneratedResponse, error) {
	s.m.mu.Lock()
	defer s.m.mu.Unlock()
	for _, existing := range s.m.responses {
		if existing.InboundReviewID == r.InboundReviewID && existing.Status != model.ApprovalStatusRejected {
			return nil, fmt.Errorf("response for inbound review %d: %w", r.InboundReviewID, store.ErrConflict)
		}
	}
	cp := *r
	cp.ID = s.m.id(cp.ID)
	s.m.responses[cp.ID] = cp
	return &cp, nil
}

func (s responses) GetByID(_ context.Context, id int64) (*model.GeneratedResponse, error) {
	s.m.mu.Lock()
	defer s.m.mu.Unlock()
	r, ok := s.m.responses[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	return &r, nil
}

func (s responses) GetLiveByInbound(_ context.Context, inboundReviewID int64) (*model.GeneratedResponse, error) {
	s.m.mu.Lock()
	defer s.m.mu.Unlock()
	for _, r := range s.m.responses {
		if r.InboundReviewID == inboundReviewID && r.Status != model.ApprovalStatusRejected {
			return &r, nil
		}
	}
	return nil, store.ErrNotFound
}

type statuses struct{ m *Memory }

func (s statuses) Get(_ context.Context, subject model.Subject) (*store.SubjectState, error) {
	s.m.mu.Lock()
	defer s.m.mu.Unlock()
	switch subject.Kind {
	case model.SubjectKindReview:
		r, ok := s.m.reviews[subject.ID]
		if !ok {
			return nil, store.ErrNotFound
		}
		return &store.SubjectState{Subject: subject, BusinessID: r.BusinessID, Status: r.Status, ExpiresAt: r.ExpiresAt}, nil
	case model.SubjectKindResponse:
		r, ok := s.m.responses[subject.ID]
		if !ok {
			return nil, store.ErrNotFound
		}
		return &store.SubjectState{Subject: subject, BusinessID: r.BusinessID, Status: r.Status}, nil
	}
	return nil, fmt.Errorf("unknown subject kind %q", subject.Kind)
}

func (s statuses) CompareAndSwap(_ context.Context, subject model.Subject, from, to model.ApprovalStatus, at time.Time) (bool, error) {
	s.m.mu.Lock()
	defer s.m.mu.Unlock()

	var decided *time.Time
	if to.IsTerminal() {
		decided = &at
	}
	switch subject.Kind {
	case model.SubjectKindReview:
		r, ok := s.m.reviews[subject.ID]
		if !ok || r.Status != from {
			return false, nil
		}
		r.Status, r.UpdatedAt = to, at
		if decided != nil {
			r.DecidedAt = decided
		}
		s.m.reviews[subject.ID] = r
		return true, nil
	case model.SubjectKindResponse:
		r, ok := s.m.responses[subject.ID]
		if !ok || r.Status != from {
			return false, nil
		}
		r.Status, r.UpdatedAt = to, at
		if decided != nil {
			r.DecidedAt = decided
		}
		s.m.responses[subject.ID] = r
		return true, nil
	}
	return false, fmt.Errorf("unknown subject kind %q", subject.Kind)
}

func (s statuses) ListExpired(_ context.Context, kind model.SubjectKind, now time.Time, limit uint64) ([]store.SubjectState, error) {
	if kind != model.SubjectKindReview {
		return nil, nil
	}
	s.m.mu.Lock()
	defer s.m.mu.Unlock()
	var out []store.SubjectState
	for _, r := range s.m.reviews {
		if r.Status.IsTerminal() || r.ExpiresAt == nil || r.ExpiresAt.After(now) {
			continue
		}
		out = append(out, store.SubjectState{Subject: r.Subject(), BusinessID: r.BusinessID, Status: r.Status, ExpiresAt: r.ExpiresAt})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ExpiresAt.Before(*out[j].ExpiresAt) })
	if limit > 0 && uint64(len(out)) > limit {
		out = out[:limit]
	}
	return out, nil
}

type variants struct{ m *Memory }

func (s variants) ReplaceForSubject(_ context.Context, subject model.Subject, vs []model.PlatformVariant) ([]model.PlatformVariant, error) {
	s.m.mu.Lock()
	defer s.m.mu.Unlock()
	for id, v := range s.m.variants {
		if v.Subject() == subject {
			delete(s.m.variants, id)
		}
	}
	out := make([]model.PlatformVariant, 0, len(vs))
	for _, v := range vs {
		v.ID = s.m.id(v.ID)
		v.SubjectKind, v.SubjectID = subject.Kind, subject.ID
		s.m.variants[v.ID] = v
		out = append(out, v)
	}
	return out, nil
}

func (s variants) ListBySubject(_ context.Context, subject model.Subject) ([]model.PlatformVariant, error) {
	s.m.mu.Lock()
	defer s.m.mu.Unlock()
	var out []model.PlatformVariant
	for _, v := range s.m.variants {
		if v.Subject() == subject {
			out = append(out, v)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Platform < out[j].Platform })
	return out, nil
}

func (s variants) GetByID(_ context.Context, id int64) (*model.PlatformVariant, error) {
	s.m.mu.Lock()
	defer s.m.mu.Unlock()
	v, ok := s.m.variants[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	return &v, nil
}

type attempts struct{ m *Memory }

func (s attempts) Create(_ context.Context, a *model.PostingAttempt) (*model.PostingAttempt, error) {
	s.m.mu.Lock()
	defer s.m.mu.Unlock()
	cp := *a
	cp.ID = s.m.id(cp.ID)
	cp.AttemptCount = 0
	s.m.attempts[cp.ID] = cp
	return &cp, nil
}

func (s attempts) GetByID(_ context.Context, id int64) (*model.PostingAttempt, error) {
	s.m.mu.Lock()
	defer s.m.mu.Unlock()
	a, ok := s.m.attempts[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	return &a, nil
}

func (s attempts) ListBySubject(ctx context.Context, subject model.Subject) ([]model.PostingAttempt, error) {
	return s.List(ctx, store.AttemptFilter{Subject: &subject})
}

func (s attempts) List(_ context.Context, f store.AttemptFilter) ([]model.PostingAttempt, error) {
	s.m.mu.Lock()
	defer s.m.mu.Unlock()
	var out []model.PostingAttempt
	for _, a := range s.m.attempts {
		switch {
		case f.BusinessID != 0 && a.BusinessID != f.BusinessID,
			f.Subject != nil && a.Subject() != *f.Subject,
			f.Platform != "" && a.Platform != f.Platform,
			len(f.States) > 0 && !contains(f.States, a.State),
			f.ScheduledBefore != nil && !a.ScheduledAt.Before(*f.ScheduledBefore),
			f.StartedBefore != nil && (a.StartedAt == nil || !a.StartedAt.Before(*f.StartedBefore)):
			continue
		}
		out = append(out, a)
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].ScheduledAt.Equal(out[j].ScheduledAt) {
			return out[i].ScheduledAt.Before(out[j].ScheduledAt)
		}
		return out[i].ID < out[j].ID
	})
	if f.Limit > 0 && uint64(len(out)) > f.Limit {
		out = out[:f.Limit]
	}
	return out, nil
}

func (s attempts) Claim(_ context.Context, id int64, now time.Time) (bool, *model.PostingAttempt, error) {
	s.m.mu.Lock()
	defer s.m.mu.Unlock()
	a, ok := s.m.attempts[id]
	if !ok || (a.State != model.AttemptStateQueued && a.State != model.AttemptStateFailed) || a.AttemptCount >= a.MaxAttempts {
		return false, nil, nil
	}
	a.State = model.AttemptStateInFlight
	a.AttemptCount++
	a.StartedAt = &now
	s.m.attempts[id] = a
	return true, &a, nil
}

func (s attempts) Transition(_ context.Context, upd store.AttemptUpdate) (bool, *model.PostingAttempt, error) {
	s.m.mu.Lock()
	defer s.m.mu.Unlock()
	a, ok := s.m.attempts[upd.ID]
	if !ok || a.State != upd.From {
		return false, nil, nil
	}
	a.State = upd.To
	if upd.LastError != nil {
		a.LastError = *upd.LastError
	}
	if upd.ExternalID != nil {
		a.ExternalID = *upd.ExternalID
	}
	if upd.ScheduledAt != nil {
		a.ScheduledAt = *upd.ScheduledAt
	}
	if upd.To.IsTerminal() {
		at := upd.At
		a.CompletedAt = &at
	}
	s.m.attempts[upd.ID] = a
	return true, &a, nil
}

func (s attempts) AbandonQueued(_ context.Context, subject model.Subject, reason string, now time.Time) ([]model.PostingAttempt, error) {
	s.m.mu.Lock()
	defer s.m.mu.Unlock()
	var out []model.PostingAttempt
	for id, a := range s.m.attempts {
		if a.Subject() != subject || a.State != model.AttemptStateQueued {
			continue
		}
		a.State = model.AttemptStateAbandoned
		a.LastError = reason
		a.CompletedAt = &now
		s.m.attempts[id] = a
		out = append(out, a)
	}
	return out, nil
}

type inbound struct{ m *Memory }

func (s inbound) Insert(_ context.Context, r *model.InboundReview) (bool, *model.InboundReview, error) {
	s.m.mu.Lock()
	defer s.m.mu.Unlock()
	for _, existing := range s.m.inbound {
		if existing.Platform == r.Platform && existing.ExternalID == r.ExternalID {
			return false, &existing, nil
		}
	}
	cp := *r
	cp.ID = s.m.id(cp.ID)
	s.m.inbound[cp.ID] = cp
	return true, &cp, nil
}

func (s inbound) GetByID(_ context.Context, id int64) (*model.InboundReview, error) {
	s.m.mu.Lock()
	defer s.m.mu.Unlock()
	r, ok := s.m.inbound[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	return &r, nil
}

type businesses struct{ m *Memory }

func (s businesses) Get(_ context.Context, id int64) (*model.BusinessContext, error) {
	s.m.mu.Lock()
	defer s.m.mu.Unlock()
	b, ok := s.m.businesses[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	return &b, nil
}

func (s businesses) ListConnected(_ context.Context) ([]model.BusinessContext, error) {
	s.m.mu.Lock()
	defer s.m.mu.Unlock()
	var out []model.BusinessContext
	for _, b := range s.m.businesses {
		if len(b.Platforms) > 0 {
			out = append(out, b)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].BusinessID < out[j].BusinessID })
	return out, nil
}

func contains[T comparable](list []T, v T) bool {
	for _, x := range list {
		if x == v {
			return true
		}
	}
	return false
}
