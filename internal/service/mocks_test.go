package service_test

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"time"

	"voxreview.app/relay/internal/pipeline"
	"voxreview.app/relay/internal/queue"
	"voxreview.app/relay/internal/service"
	"voxreview.app/relay/internal/store/storetest"
)

// memTxRunner hands the in-memory store to fn. There is no rollback, so
// tests only rely on it for the happy path and for errors raised before
// any write.
type memTxRunner struct {
	mem      *storetest.Memory
	withTxFn func(ctx context.Context, fn func(stores service.StoreProvider) error) error
}

func (m *memTxRunner) WithTx(ctx context.Context, fn func(stores service.StoreProvider) error) error {
	if m.withTxFn != nil {
		return m.withTxFn(ctx, fn)
	}
	return fn(m.mem)
}

type mockProducer struct {
	mu        sync.Mutex
	enqueueFn func(ctx context.Context, task queue.Task) error
	tasks     []queue.Task
}

func (m *mockProducer) Enqueue(ctx context.Context, task queue.Task) error {
	m.mu.Lock()
	m.tasks = append(m.tasks, task)
	m.mu.Unlock()
	if m.enqueueFn != nil {
		return m.enqueueFn(ctx, task)
	}
	return nil
}

func (m *mockProducer) Close() error { return nil }

func (m *mockProducer) Tasks() []queue.Task {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]queue.Task(nil), m.tasks...)
}

type mockTranscriber struct {
	transcribeFn func(ctx context.Context, audio []byte, lang string) (string, float64, error)
	langs        []string
}

func (m *mockTranscriber) Transcribe(ctx context.Context, audio []byte, lang string) (string, float64, error) {
	m.langs = append(m.langs, lang)
	if m.transcribeFn != nil {
		return m.transcribeFn(ctx, audio, lang)
	}
	return "", 0, errors.New("not configured")
}

// mockGenerator answers from a fixed list, repeating the last reply.
type mockGenerator struct {
	mu      sync.Mutex
	replies []string
	err     error
	calls   int
}

func (m *mockGenerator) Generate(_ context.Context, _ pipeline.Prompt) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls++
	if m.err != nil {
		return "", m.err
	}
	i := min(m.calls, len(m.replies)) - 1
	return m.replies[i], nil
}

func (m *mockGenerator) Calls() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.calls
}

func reviewJSON(review string, rating int) string {
	raw, _ := json.Marshal(map[string]any{"review": review, "rating": rating})
	return string(raw)
}

func replyJSON(reply string) string {
	raw, _ := json.Marshal(map[string]any{"reply": reply})
	return string(raw)
}

type mockSchedule struct {
	mu      sync.Mutex
	entries map[int64]time.Time
	removed []int64
}

func newMockSchedule() *mockSchedule {
	return &mockSchedule{entries: make(map[int64]time.Time)}
}

func (m *mockSchedule) Schedule(_ context.Context, id int64, at time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.entries[id] = at
	return nil
}

func (m *mockSchedule) Remove(_ context.Context, id int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.entries, id)
	m.removed = append(m.removed, id)
	return nil
}

func (m *mockSchedule) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.entries)
}

func (m *mockSchedule) Removed() []int64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]int64(nil), m.removed...)
}
