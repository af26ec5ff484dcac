package task

import (
	"fmt"
	"maps"
	"math/rand"
	"strings"
	"time"

	"hotlabel/internal/config"
	"hotlabel/internal/policy"
	logx "hotlabel/pkg/logx"
)

const (
	fallbackType     = "generic"
	fallbackCategory = "default"
)

// CompletionSink receives completed tasks. Submit must not block; delivery is
// best-effort and nothing is acknowledged back.
type CompletionSink interface {
	Submit(t *Task)
}

// Factory manufactures tasks and records their completion.
type Factory struct {
	sink CompletionSink
	log  logx.Logger
	now  func() time.Time
}

type FactoryOption func(*Factory)

// WithClock overrides time.Now (tests).
func WithClock(now func() time.Time) FactoryOption {
	return func(f *Factory) { f.now = now }
}

func NewFactory(sink CompletionSink, log logx.Logger, opts ...FactoryOption) *Factory {
	f := &Factory{sink: sink, log: log, now: time.Now}
	for _, o := range opts {
		o(f)
	}
	return f
}

// Create builds a task if the eligibility policy allows it.
//
// On success the counters are incremented and stamped. When the policy says
// no, Create returns nil and the reason, and nothing is mutated.
func (f *Factory) Create(opts Options, cfg config.Config, c *Counters, interactionSeconds float64) (*Task, policy.Reason) {
	if r := policy.Evaluate(c.TasksCreatedToday, cfg.TriggerOptions, interactionSeconds); r != policy.Eligible {
		return nil, r
	}

	now := f.now()
	t := &Task{
		ID:        newID(now),
		Type:      firstNonEmpty(opts.TaskType, cfg.TaskSettings.DefaultType, fallbackType),
		Category:  firstNonEmpty(opts.Category, fallbackCategory),
		Metadata:  maps.Clone(opts.Metadata),
		CreatedAt: now,
		Status:    StatusCreated,
	}
	if t.Metadata == nil {
		t.Metadata = map[string]any{}
	}
	s := SizingFor(t.Type)
	t.DurationSeconds = s.DurationSeconds
	t.Complexity = s.Complexity

	c.TasksCreatedToday++
	c.LastTaskAt = now
	return t, policy.Eligible
}

// RecordCompletion marks t completed, attaches response and forwards it to
// the sink. Nil or already-completed tasks are ignored; the return value
// reports whether t transitioned.
func (f *Factory) RecordCompletion(t *Task, response map[string]any) bool {
	if t == nil || t.Status == StatusCompleted {
		return false
	}
	now := f.now()
	t.Status = StatusCompleted
	t.CompletedAt = &now
	t.Response = response

	f.log.Debug("task completed", logx.String("id", t.ID), logx.String("type", t.Type))
	if f.sink != nil {
		f.sink.Submit(t)
	}
	return true
}

const idAlphabet = "0123456789abcdefghijklmnopqrstuvwxyz"

// newID returns "task-<unix ms>-<9 base36 chars>".
func newID(now time.Time) string {
	var b strings.Builder
	b.Grow(9)
	for i := 0; i < 9; i++ {
		b.WriteByte(idAlphabet[rand.Intn(len(idAlphabet))])
	}
	return fmt.Sprintf("task-%d-%s", now.UnixMilli(), b.String())
}

func firstNonEmpty(vals ...string) string {
	for _, v := range vals {
		if strings.TrimSpace(v) != "" {
			return v
		}
	}
	return ""
}
