package sink

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"hotlabel/internal/consent"
	"hotlabel/internal/storage"
	"hotlabel/internal/task"
	logx "hotlabel/pkg/logx"
)

type memBackend struct {
	mu       sync.Mutex
	failures int
	calls    int
	got      []storage.CompletionRecord
	block    chan struct{}
}

func (b *memBackend) AppendCompletion(ctx context.Context, r storage.CompletionRecord) error {
	if b.block != nil {
		select {
		case <-b.block:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	b.calls++
	if b.failures > 0 {
		b.failures--
		return errors.New("backend unavailable")
	}
	b.got = append(b.got, r)
	return nil
}

func (b *memBackend) records() []storage.CompletionRecord {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]storage.CompletionRecord(nil), b.got...)
}

func testConfig() Config {
	return Config{
		Enabled:       true,
		QueueSize:     8,
		RatePerSec:    1000,
		RetryMax:      3,
		RetryBase:     time.Millisecond,
		RetryMaxDelay: 5 * time.Millisecond,
	}
}

func completedTask(id string) *task.Task {
	now := time.Date(2025, 5, 1, 10, 0, 0, 0, time.UTC)
	done := now.Add(time.Minute)
	return &task.Task{
		ID:              id,
		Type:            "feedback",
		Category:        "ux",
		Metadata:        map[string]any{"page": "/home", "userAgent": "Mozilla/5.0"},
		CreatedAt:       now,
		Status:          task.StatusCompleted,
		DurationSeconds: 60,
		Complexity:      task.ComplexityLow,
		CompletedAt:     &done,
		Response:        map[string]any{"rating": 4, "email": "test@example.com", "exactLocation": "52.1,4.3"},
	}
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("condition not met in time")
}

func TestSubmitDeliversAnonymizedRecord(t *testing.T) {
	be := &memBackend{}
	gate := consent.NewGate(nil, nil, logx.Nop())
	gate.Configure(consent.Options{})

	s := New(testConfig(), be, gate, logx.Nop())
	s.SetIdentity("pub-1", "sess-1")
	s.Start(context.Background())
	defer s.Stop(context.Background())

	s.Submit(completedTask("task-1"))
	waitFor(t, func() bool { return len(be.records()) == 1 })

	r := be.records()[0]
	if r.TaskID != "task-1" || r.PublisherID != "pub-1" || r.SessionID != "sess-1" {
		t.Fatalf("identity not stamped: %+v", r)
	}
	if r.Complexity != "low" || r.DurationSeconds != 60 {
		t.Fatalf("sizing lost: %+v", r)
	}

	var resp map[string]any
	if err := json.Unmarshal([]byte(r.ResponseJSON), &resp); err != nil {
		t.Fatalf("response json: %v", err)
	}
	if resp["email"] != consent.HashString("test@example.com") {
		t.Fatalf("email not hashed: %v", resp["email"])
	}
	if _, ok := resp["exactLocation"]; ok {
		t.Fatalf("exactLocation persisted")
	}

	var meta map[string]any
	if err := json.Unmarshal([]byte(r.MetaJSON), &meta); err != nil {
		t.Fatalf("meta json: %v", err)
	}
	if meta["userAgent"] != "77392f8" || meta["page"] != "/home" {
		t.Fatalf("meta=%v", meta)
	}
}

func TestRetryUntilSuccess(t *testing.T) {
	be := &memBackend{failures: 2}
	s := New(testConfig(), be, nil, logx.Nop())
	s.Start(context.Background())
	defer s.Stop(context.Background())

	s.Submit(completedTask("task-r"))
	waitFor(t, func() bool { return s.Stats().Delivered == 1 })

	be.mu.Lock()
	calls := be.calls
	be.mu.Unlock()
	if calls != 3 {
		t.Fatalf("calls=%d, want 3", calls)
	}
}

func TestGivesUpAfterRetryMax(t *testing.T) {
	be := &memBackend{failures: 100}
	cfg := testConfig()
	cfg.RetryMax = 1
	s := New(cfg, be, nil, logx.Nop())
	s.Start(context.Background())
	defer s.Stop(context.Background())

	s.Submit(completedTask("task-f"))
	waitFor(t, func() bool { return s.Stats().Failed == 1 })
	if len(be.records()) != 0 {
		t.Fatalf("unexpected delivery")
	}
}

func TestQueueFullDrops(t *testing.T) {
	be := &memBackend{block: make(chan struct{})}
	cfg := testConfig()
	cfg.QueueSize = 1
	s := New(cfg, be, nil, logx.Nop())
	s.Start(context.Background())

	var full bool
	for i := 0; i < 10; i++ {
		if err := s.Enqueue(completedTask("task-q")); errors.Is(err, ErrQueueFull) {
			full = true
			break
		}
	}
	if !full {
		t.Fatalf("expected ErrQueueFull with a blocked worker")
	}
	if s.Stats().Dropped == 0 {
		t.Fatalf("dropped counter not incremented")
	}

	close(be.block)
	s.Stop(context.Background())
}

func TestDisabledAndStopped(t *testing.T) {
	be := &memBackend{}

	off := New(Config{}, be, nil, logx.Nop())
	off.Start(context.Background())
	if err := off.Enqueue(completedTask("x")); !errors.Is(err, ErrDisabled) {
		t.Fatalf("disabled: err=%v", err)
	}

	noBackend := New(testConfig(), nil, nil, logx.Nop())
	if noBackend.Enabled() {
		t.Fatalf("sink without backend reports enabled")
	}

	s := New(testConfig(), be, nil, logx.Nop())
	if err := s.Enqueue(completedTask("x")); !errors.Is(err, ErrStopped) {
		t.Fatalf("before start: err=%v", err)
	}
	s.Start(context.Background())
	s.Stop(context.Background())
	if err := s.Enqueue(completedTask("x")); !errors.Is(err, ErrStopped) {
		t.Fatalf("after stop: err=%v", err)
	}
	// Stop is idempotent.
	s.Stop(context.Background())
}

func TestStopDrainsQueue(t *testing.T) {
	be := &memBackend{}
	s := New(testConfig(), be, nil, logx.Nop())
	s.Start(context.Background())
	for i := 0; i < 5; i++ {
		s.Submit(completedTask("task-d"))
	}

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	s.Stop(ctx)
	if got := len(be.records()); got != 5 {
		t.Fatalf("delivered=%d, want 5", got)
	}
}

func TestRetryDelayBounded(t *testing.T) {
	cfg := Config{RetryBase: 100 * time.Millisecond, RetryMaxDelay: time.Second}
	for attempt := 1; attempt <= 10; attempt++ {
		d := retryDelay(cfg, attempt)
		if d <= 0 || d > time.Second {
			t.Fatalf("attempt %d: delay %v out of range", attempt, d)
		}
	}
}
