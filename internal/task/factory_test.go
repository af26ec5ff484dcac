package task

import (
	"encoding/json"
	"regexp"
	"testing"
	"time"

	"hotlabel/internal/config"
	"hotlabel/internal/policy"
	logx "hotlabel/pkg/logx"
)

type recordingSink struct{ got []*Task }

func (s *recordingSink) Submit(t *Task) { s.got = append(s.got, t) }

func manualConfig(maxPerDay int) config.Config {
	return config.Config{
		PublisherID:    "p1",
		TriggerOptions: config.TriggerOptions{Mode: config.ModeManual, MaxTasksPerDay: maxPerDay},
		TaskSettings:   config.TaskSettings{DefaultType: "generic"},
	}
}

func fixedClock(t0 time.Time) func() time.Time { return func() time.Time { return t0 } }

func TestCreateSizingTable(t *testing.T) {
	t.Parallel()
	tests := []struct {
		taskType   string
		duration   int
		complexity Complexity
	}{
		{"content-annotation", 120, ComplexityMedium},
		{"feedback", 60, ComplexityLow},
		{"technical-labeling", 180, ComplexityHigh},
		{"image-tagging", 90, ComplexityLow},
	}
	f := NewFactory(nil, logx.Nop())
	for _, tt := range tests {
		tt := tt
		t.Run(tt.taskType, func(t *testing.T) {
			var c Counters
			got, r := f.Create(Options{TaskType: tt.taskType}, manualConfig(10), &c, 0)
			if got == nil || r != policy.Eligible {
				t.Fatalf("Create() = nil, %v", r)
			}
			if got.DurationSeconds != tt.duration || got.Complexity != tt.complexity {
				t.Fatalf("sizing = (%d, %s), want (%d, %s)", got.DurationSeconds, got.Complexity, tt.duration, tt.complexity)
			}
		})
	}
}

func TestCreateDefaults(t *testing.T) {
	t.Parallel()
	t0 := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
	f := NewFactory(nil, logx.Nop(), WithClock(fixedClock(t0)))

	var c Counters
	cfg := manualConfig(5)
	cfg.TaskSettings.DefaultType = "feedback"
	got, _ := f.Create(Options{}, cfg, &c, 0)
	if got.Type != "feedback" || got.DurationSeconds != 60 {
		t.Fatalf("configured default type not used: %+v", got)
	}
	if got.Category != "default" {
		t.Fatalf("Category = %q, want default", got.Category)
	}
	if got.Metadata == nil || len(got.Metadata) != 0 {
		t.Fatalf("Metadata = %#v, want empty map", got.Metadata)
	}
	if got.Status != StatusCreated || !got.CreatedAt.Equal(t0) {
		t.Fatalf("status/createdAt = %s/%v", got.Status, got.CreatedAt)
	}
	if !regexp.MustCompile(`^task-\d+-[0-9a-z]{9}$`).MatchString(got.ID) {
		t.Fatalf("ID = %q", got.ID)
	}
	if c.TasksCreatedToday != 1 || !c.LastTaskAt.Equal(t0) {
		t.Fatalf("counters = %+v", c)
	}

	cfg.TaskSettings.DefaultType = ""
	got, _ = f.Create(Options{Category: "news", Metadata: map[string]any{"k": "v"}}, cfg, &c, 0)
	if got.Type != "generic" || got.Category != "news" || got.Metadata["k"] != "v" {
		t.Fatalf("fallbacks = %+v", got)
	}
}

func TestCreateQuota(t *testing.T) {
	t.Parallel()
	const n = 4
	f := NewFactory(nil, logx.Nop())
	var c Counters
	for i := 0; i < n; i++ {
		if got, r := f.Create(Options{}, manualConfig(n), &c, 0); got == nil {
			t.Fatalf("create %d refused: %v", i, r)
		}
	}
	before := c
	got, r := f.Create(Options{}, manualConfig(n), &c, 0)
	if got != nil || r != policy.QuotaExceeded {
		t.Fatalf("create %d = %v, %v; want nil, QuotaExceeded", n+1, got, r)
	}
	if c != before {
		t.Fatalf("refused create mutated counters: %+v -> %+v", before, c)
	}

	c.Reset()
	if got, _ := f.Create(Options{}, manualConfig(n), &c, 0); got == nil {
		t.Fatal("create after reset refused")
	}
}

func TestCreateAdaptiveGate(t *testing.T) {
	t.Parallel()
	cfg := manualConfig(3)
	cfg.TriggerOptions.Mode = config.ModeAdaptive
	cfg.TriggerOptions.MinInteractionTimeSeconds = 30
	f := NewFactory(nil, logx.Nop())

	var c Counters
	if got, r := f.Create(Options{}, cfg, &c, 29); got != nil || r != policy.InteractionTooShort {
		t.Fatalf("29s: got %v, %v", got, r)
	}
	if got, _ := f.Create(Options{}, cfg, &c, 30); got == nil {
		t.Fatal("30s: refused")
	}
}

func TestCreateUniqueIDs(t *testing.T) {
	t.Parallel()
	f := NewFactory(nil, logx.Nop())
	seen := map[string]bool{}
	var c Counters
	for i := 0; i < 500; i++ {
		got, _ := f.Create(Options{}, manualConfig(1000), &c, 0)
		if seen[got.ID] {
			t.Fatalf("duplicate id %s", got.ID)
		}
		seen[got.ID] = true
	}
}

func TestRecordCompletion(t *testing.T) {
	t.Parallel()
	t0 := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
	sink := &recordingSink{}
	f := NewFactory(sink, logx.Nop(), WithClock(fixedClock(t0)))

	if f.RecordCompletion(nil, nil) {
		t.Fatal("nil task reported as completed")
	}

	var c Counters
	tk, _ := f.Create(Options{TaskType: "feedback"}, manualConfig(1), &c, 0)
	resp := map[string]any{"rating": 4}
	if !f.RecordCompletion(tk, resp) {
		t.Fatal("RecordCompletion() = false")
	}
	if tk.Status != StatusCompleted || tk.CompletedAt == nil || !tk.CompletedAt.Equal(t0) || tk.Response["rating"] != 4 {
		t.Fatalf("completed task = %+v", tk)
	}
	if f.RecordCompletion(tk, map[string]any{"rating": 1}) {
		t.Fatal("second completion transitioned")
	}
	if tk.Response["rating"] != 4 {
		t.Fatal("second completion overwrote response")
	}
	if len(sink.got) != 1 || sink.got[0] != tk {
		t.Fatalf("sink received %d tasks, want 1", len(sink.got))
	}
}

func TestCreateCopiesMetadata(t *testing.T) {
	t.Parallel()
	f := NewFactory(nil, logx.Nop())
	meta := map[string]any{"page": "/a"}
	var c Counters
	got, _ := f.Create(Options{Metadata: meta}, manualConfig(1), &c, 0)
	if got == nil {
		t.Fatal("Create() = nil")
	}
	meta["page"] = "/b"
	meta["extra"] = true
	if got.Metadata["page"] != "/a" || len(got.Metadata) != 1 {
		t.Fatalf("task metadata follows caller map: %v", got.Metadata)
	}
}

func TestTaskJSONKeysAreCamelCase(t *testing.T) {
	t.Parallel()
	done := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)
	tk := &Task{ID: "x", CreatedAt: done, DurationSeconds: 30, CompletedAt: &done}
	b, err := json.Marshal(tk)
	if err != nil {
		t.Fatalf("Marshal: %v", err)
	}
	var m map[string]any
	if err := json.Unmarshal(b, &m); err != nil {
		t.Fatalf("Unmarshal: %v", err)
	}
	for _, k := range []string{"createdAt", "durationSeconds", "completedAt"} {
		if _, ok := m[k]; !ok {
			t.Fatalf("missing key %q in %s", k, b)
		}
	}
	for _, k := range []string{"created_at", "duration_seconds", "completed_at"} {
		if _, ok := m[k]; ok {
			t.Fatalf("snake_case key %q in %s", k, b)
		}
	}
}
