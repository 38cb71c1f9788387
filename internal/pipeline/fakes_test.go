package pipeline_test

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"voxreview.app/relay/internal/pipeline"
)

// scriptedGenerator answers generation calls from a list of replies, the
// last one repeating. fn, when set, takes precedence.
type scriptedGenerator struct {
	mu      sync.Mutex
	replies []string
	fn      func(ctx context.Context, call int) (string, error)
	prompts []pipeline.Prompt
}

func (g *scriptedGenerator) Generate(ctx context.Context, p pipeline.Prompt) (string, error) {
	g.mu.Lock()
	g.prompts = append(g.prompts, p)
	call := len(g.prompts)
	g.mu.Unlock()

	if g.fn != nil {
		return g.fn(ctx, call)
	}
	i := call - 1
	if i >= len(g.replies) {
		i = len(g.replies) - 1
	}
	return g.replies[i], nil
}

func (g *scriptedGenerator) Calls() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return len(g.prompts)
}

func (g *scriptedGenerator) Prompt(i int) pipeline.Prompt {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.prompts[i]
}

func reviewJSON(review string, rating int) string {
	raw, _ := json.Marshal(map[string]any{"review": review, "rating": rating})
	return string(raw)
}

func replyJSON(reply string) string {
	raw, _ := json.Marshal(map[string]any{"reply": reply})
	return string(raw)
}

// blockUntilDone simulates a generation service that never answers.
func blockUntilDone(ctx context.Context, _ int) (string, error) {
	select {
	case <-ctx.Done():
		return "", ctx.Err()
	case <-time.After(5 * time.Second):
		return "", context.DeadlineExceeded
	}
}

type scheduled struct {
	id int64
	at time.Time
}

// fakeSchedule stands in for the redis delay queue.
type fakeSchedule struct {
	mu      sync.Mutex
	entries map[int64]time.Time
	history []scheduled
	removed []int64
}

func newFakeSchedule() *fakeSchedule {
	return &fakeSchedule{entries: make(map[int64]time.Time)}
}

func (s *fakeSchedule) Schedule(_ context.Context, id int64, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.entries[id] = at
	s.history = append(s.history, scheduled{id, at})
	return nil
}

func (s *fakeSchedule) Remove(_ context.Context, id int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.entries, id)
	s.removed = append(s.removed, id)
	return nil
}

func (s *fakeSchedule) At(id int64) (time.Time, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	at, ok := s.entries[id]
	return at, ok
}

func (s *fakeSchedule) Removed() []int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]int64(nil), s.removed...)
}
