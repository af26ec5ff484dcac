// Package metrics exposes scheduler activity as Prometheus metrics.
//
// Counters are fed from the event bus, so the scheduler never imports this
// package. Sink delivery stats are read lazily at scrape time.
package metrics

import (
	"context"

	"hotlabel/internal/eventbus"
	"hotlabel/internal/scheduler"
	"hotlabel/internal/sink"
	logx "hotlabel/pkg/logx"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "hotlabel"

type Metrics struct {
	reg *prometheus.Registry
	log logx.Logger

	tasksCreated   *prometheus.CounterVec
	tasksCompleted *prometheus.CounterVec
	triggerSkipped *prometheus.CounterVec
	tasksToday     prometheus.Gauge
	resets         prometheus.Counter
	pruned         prometheus.Counter
	optOuts        prometheus.Counter
	taskDuration   *prometheus.HistogramVec
}

// New registers every collector on a fresh registry, plus the Go runtime
// and process collectors.
func New(log logx.Logger) *Metrics {
	if log.IsZero() {
		log = logx.Nop()
	}
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	f := promauto.With(reg)

	return &Metrics{
		reg: reg,
		log: log.With(logx.String("comp", "metrics")),

		// Labels:
		//   - type: task type (e.g. "feedback", "content-annotation")
		tasksCreated: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "tasks_created_total",
			Help:      "Tasks created and handed to the presenter.",
		}, []string{"type"}),
		tasksCompleted: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "tasks_completed_total",
			Help:      "Tasks that reached completed status.",
		}, []string{"type"}),
		// Labels:
		//   - reason: "consent_denied", "quota_exceeded" or "interaction_too_short"
		triggerSkipped: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "triggers_skipped_total",
			Help:      "Trigger calls that produced no task.",
		}, []string{"reason"}),
		tasksToday: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "tasks_today",
			Help:      "Tasks created since the last midnight reset.",
		}),
		resets: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "daily_resets_total",
			Help:      "Midnight counter resets.",
		}),
		pruned: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "completions_pruned_total",
			Help:      "Completion records deleted by the retention window.",
		}),
		optOuts: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "opt_outs_total",
			Help:      "Visitor opt-out calls.",
		}),
		// Time from task creation to completion.
		taskDuration: f.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "task_completion_seconds",
			Help:      "Seconds between task creation and completion.",
			Buckets:   []float64{5, 15, 30, 60, 120, 180, 300, 600},
		}, []string{"type"}),
	}
}

func (m *Metrics) Registry() *prometheus.Registry { return m.reg }

// WatchSink exposes sink delivery counters, read at scrape time.
func (m *Metrics) WatchSink(s *sink.Service) {
	if s == nil {
		return
	}
	f := promauto.With(m.reg)
	stat := func(pick func(sink.Stats) uint64) func() float64 {
		return func() float64 { return float64(pick(s.Stats())) }
	}
	f.NewCounterFunc(prometheus.CounterOpts{
		Namespace: namespace, Subsystem: "sink", Name: "queued_total",
		Help: "Completion records accepted by the sink queue.",
	}, stat(func(st sink.Stats) uint64 { return st.Queued }))
	f.NewCounterFunc(prometheus.CounterOpts{
		Namespace: namespace, Subsystem: "sink", Name: "delivered_total",
		Help: "Completion records written to storage.",
	}, stat(func(st sink.Stats) uint64 { return st.Delivered }))
	f.NewCounterFunc(prometheus.CounterOpts{
		Namespace: namespace, Subsystem: "sink", Name: "dropped_total",
		Help: "Completion records dropped because the queue was full.",
	}, stat(func(st sink.Stats) uint64 { return st.Dropped }))
	f.NewCounterFunc(prometheus.CounterOpts{
		Namespace: namespace, Subsystem: "sink", Name: "failed_total",
		Help: "Completion records abandoned after retries.",
	}, stat(func(st sink.Stats) uint64 { return st.Failed }))
}

// Observe applies one bus event. Unknown event types are ignored.
func (m *Metrics) Observe(e eventbus.Event) {
	switch e.Type {
	case eventbus.TaskCreated:
		if ev, ok := e.Data.(scheduler.TaskEvent); ok && ev.Task != nil {
			m.tasksCreated.WithLabelValues(ev.Task.Type).Inc()
			m.tasksToday.Inc()
		}
	case eventbus.TaskCompleted:
		if ev, ok := e.Data.(scheduler.TaskEvent); ok && ev.Task != nil {
			m.tasksCompleted.WithLabelValues(ev.Task.Type).Inc()
			if ev.Task.CompletedAt != nil {
				m.taskDuration.WithLabelValues(ev.Task.Type).Observe(ev.Task.CompletedAt.Sub(ev.Task.CreatedAt).Seconds())
			}
		}
	case eventbus.TaskSkipped:
		if ev, ok := e.Data.(scheduler.SkipEvent); ok {
			m.triggerSkipped.WithLabelValues(ev.Reason.String()).Inc()
		}
	case eventbus.CountersReset:
		m.resets.Inc()
		m.tasksToday.Set(0)
		if ev, ok := e.Data.(scheduler.ResetEvent); ok && ev.Pruned > 0 {
			m.pruned.Add(float64(ev.Pruned))
		}
	case eventbus.OptedOut:
		m.optOuts.Inc()
	}
}

// Run consumes bus events until ctx is done.
func (m *Metrics) Run(ctx context.Context, bus eventbus.Bus) error {
	ch, unsub := bus.Subscribe(256)
	defer unsub()
	m.log.Debug("metrics consumer started")
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case e, ok := <-ch:
			if !ok {
				return nil
			}
			m.Observe(e)
		}
	}
}
