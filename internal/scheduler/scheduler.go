package scheduler

import (
	"context"
	"errors"
	"sync"
	"time"

	"hotlabel/internal/config"
	"hotlabel/internal/consent"
	"hotlabel/internal/eventbus"
	"hotlabel/internal/policy"
	"hotlabel/internal/task"
	logx "hotlabel/pkg/logx"

	"github.com/robfig/cron/v3"
)

var ErrNotInitialized = errors.New("scheduler not initialized")

// resetSpec fires at local midnight in the scheduler's location.
const resetSpec = "0 0 * * *"

// SignalSource reports measured engagement in seconds.
type SignalSource interface {
	CurrentInteractionSeconds() float64
}

// Presenter shows a created task to the visitor.
type Presenter interface {
	Present(ctx context.Context, t *task.Task) error
}

type PresenterFunc func(ctx context.Context, t *task.Task) error

func (f PresenterFunc) Present(ctx context.Context, t *task.Task) error { return f(ctx, t) }

// Pruner deletes completion records older than a cutoff. storage.Store satisfies it.
type Pruner interface {
	PruneCompletions(ctx context.Context, before time.Time) (int, error)
}

// Optional capabilities of collaborators.
type (
	stopper    interface{ Stop() }
	ctxStopper interface{ Stop(ctx context.Context) }
	starter    interface{ Start(ctx context.Context) }
)

// Scheduler is safe for concurrent use.
type Scheduler struct {
	mu sync.Mutex

	log       logx.Logger
	bus       eventbus.Bus
	gate      *consent.Gate
	factory   *task.Factory
	signals   SignalSource
	presenter Presenter
	sink      task.CompletionSink
	pruner    Pruner
	loc       *time.Location
	now       func() time.Time
	baseCtx   context.Context

	cfg      config.Config
	ready    bool
	counters task.Counters

	c         *cron.Cron
	resetID   cron.EntryID
	autoID    cron.EntryID
	autoFreq  string
	autoFired bool
	closed    bool
	closeOnce sync.Once
}

type Option func(*Scheduler)

func WithLogger(log logx.Logger) Option        { return func(s *Scheduler) { s.log = log } }
func WithBus(bus eventbus.Bus) Option          { return func(s *Scheduler) { s.bus = bus } }
func WithGate(g *consent.Gate) Option          { return func(s *Scheduler) { s.gate = g } }
func WithSignalSource(src SignalSource) Option { return func(s *Scheduler) { s.signals = src } }
func WithPresenter(p Presenter) Option         { return func(s *Scheduler) { s.presenter = p } }
func WithSink(sink task.CompletionSink) Option { return func(s *Scheduler) { s.sink = sink } }
func WithPruner(p Pruner) Option               { return func(s *Scheduler) { s.pruner = p } }
func WithClock(now func() time.Time) Option    { return func(s *Scheduler) { s.now = now } }

// WithLocation sets the zone of the midnight reset. Default time.Local.
func WithLocation(loc *time.Location) Option {
	return func(s *Scheduler) {
		if loc != nil {
			s.loc = loc
		}
	}
}

// WithContext sets the context used by cron-driven triggers.
func WithContext(ctx context.Context) Option {
	return func(s *Scheduler) {
		if ctx != nil {
			s.baseCtx = ctx
		}
	}
}

func New(opts ...Option) *Scheduler {
	s := &Scheduler{loc: time.Local, now: time.Now, baseCtx: context.Background()}
	for _, o := range opts {
		o(s)
	}
	if s.log.IsZero() {
		s.log = logx.Nop()
	}
	s.log = s.log.With(logx.String("comp", "scheduler"))
	if s.gate == nil {
		s.gate = consent.NewGate(nil, nil, s.log)
	}
	s.factory = task.NewFactory(s.sink, s.log, task.WithClock(s.now))
	return s
}

// Init resolves overrides against the defaults and moves the scheduler to
// ready. On failure nothing changes: an uninitialized scheduler stays
// uninitialized and a ready one keeps its previous configuration.
//
// Re-initializing clears the consent decision and any opt-out but keeps the
// daily counters. Use Apply to change settings without touching consent.
func (s *Scheduler) Init(ctx context.Context, overrides map[string]any) (config.Config, error) {
	return s.configure(ctx, overrides, true)
}

// Apply swaps in a new configuration and keeps the visitor's consent state
// (opt-out and any cached answer). Before the first Init it behaves like Init.
func (s *Scheduler) Apply(ctx context.Context, overrides map[string]any) (config.Config, error) {
	return s.configure(ctx, overrides, false)
}

func (s *Scheduler) configure(ctx context.Context, overrides map[string]any, resetConsent bool) (config.Config, error) {
	if ctx == nil {
		ctx = context.Background()
	}
	if err := ctx.Err(); err != nil {
		return config.Config{}, err
	}
	cfg, err := config.Resolve(overrides)
	if err != nil {
		s.log.Error("init failed", logx.Err(err))
		return config.Config{}, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return config.Config{}, errors.New("scheduler closed")
	}

	// A frequency the auto trigger cannot use leaves timing to the caller.
	var (
		freq  Frequency
		sched cron.Schedule
		auto  bool
	)
	if cfg.TriggerOptions.Mode == config.ModeScheduled {
		if freq, err = ParseFrequency(cfg.TriggerOptions.Frequency); err == nil {
			sched, err = freq.Schedule(s.now())
		}
		if err != nil {
			s.log.Warn("no auto trigger for frequency",
				logx.String("frequency", cfg.TriggerOptions.Frequency),
				logx.Err(err),
			)
		} else {
			auto = true
		}
	}

	wasReady := s.ready
	p := cfg.PrivacySettings
	retention := p.DataRetentionDays
	s.gate.Configure(consent.Options{
		Anonymize:         &p.Anonymize,
		ConsentRequired:   &p.ConsentRequired,
		DataRetentionDays: &retention,
	})
	if wasReady && resetConsent {
		s.gate.Reset()
	}
	s.cfg = cfg
	s.ready = true

	s.ensureCronLocked()
	s.rearmAutoLocked(auto, freq, sched)

	s.log.Info("initialized",
		logx.String("publisher", cfg.PublisherID),
		logx.String("mode", string(cfg.TriggerOptions.Mode)),
		logx.Int("max_per_day", cfg.TriggerOptions.MaxTasksPerDay),
		logx.Bool("reinit", wasReady),
		logx.Bool("consent_reset", wasReady && resetConsent),
	)
	return cfg, nil
}

func (s *Scheduler) ensureCronLocked() {
	if s.c != nil {
		return
	}
	s.c = cron.New(cron.WithParser(cronParser), cron.WithLocation(s.loc))
	id, err := s.c.AddFunc(resetSpec, s.ResetDaily)
	if err != nil {
		// resetSpec is a constant; this only fails if it is edited badly.
		panic(err)
	}
	s.resetID = id
	s.c.Start()
	s.log.Debug("daily reset armed", logx.String("tz", s.loc.String()))
}

// rearmAutoLocked replaces the scheduled-mode trigger entry.
// A once-per-session frequency fires only once per Scheduler.
func (s *Scheduler) rearmAutoLocked(auto bool, freq Frequency, sched cron.Schedule) {
	key := ""
	if auto {
		key = freq.String()
	}
	if key == s.autoFreq && (key == "" || s.autoID != 0) {
		return
	}
	if s.autoID != 0 {
		s.c.Remove(s.autoID)
		s.autoID = 0
	}
	s.autoFreq = key
	if key == "" {
		return
	}
	if freq.Kind == FrequencyOncePerSession && s.autoFired {
		return
	}
	s.autoID = s.c.Schedule(sched, cron.FuncJob(s.autoTrigger))
	s.log.Debug("auto trigger armed", logx.String("frequency", key))
}

func (s *Scheduler) autoTrigger() {
	s.mu.Lock()
	s.autoFired = true
	ctx := s.baseCtx
	s.mu.Unlock()
	if ctx.Err() != nil {
		return
	}
	if _, err := s.Trigger(ctx, task.Options{}); err != nil {
		s.log.Warn("scheduled trigger failed", logx.Err(err))
	}
}

// Trigger runs the consent check and the eligibility policy and, when both
// pass, presents a new task. A nil task with a nil error is the normal
// "no task" outcome; the reason is logged at warn.
func (s *Scheduler) Trigger(ctx context.Context, opts task.Options) (*task.Task, error) {
	if ctx == nil {
		ctx = context.Background()
	}

	s.mu.Lock()
	if !s.ready {
		s.mu.Unlock()
		return nil, ErrNotInitialized
	}
	// The prompt runs under the lock: no task is created ahead of a decision.
	if !s.gate.CheckConsent(ctx) {
		s.mu.Unlock()
		s.skipped(policy.ConsentDenied, opts)
		return nil, nil
	}
	seconds := 0.0
	if s.signals != nil {
		seconds = s.signals.CurrentInteractionSeconds()
	}
	t, reason := s.factory.Create(opts, s.cfg, &s.counters, seconds)
	today := s.counters.TasksCreatedToday
	s.mu.Unlock()

	if t == nil {
		s.skipped(reason, opts)
		return nil, nil
	}

	s.log.Debug("task created",
		logx.String("id", t.ID),
		logx.String("type", t.Type),
		logx.Int("today", today),
		logx.Float64("interaction_s", seconds),
	)
	if s.presenter != nil {
		if err := s.presenter.Present(ctx, t); err != nil {
			s.log.Error("present failed", logx.String("id", t.ID), logx.Err(err))
		}
	}
	s.publish(eventbus.TaskCreated, TaskEvent{Task: t})
	return t, nil
}

func (s *Scheduler) skipped(reason policy.Reason, opts task.Options) {
	s.log.Warn("no task", logx.String("reason", reason.String()), logx.String("type", opts.TaskType))
	s.publish(eventbus.TaskSkipped, SkipEvent{Reason: reason, TaskType: opts.TaskType})
}

// Complete records the visitor's response. It reports whether t moved to
// completed; the completion event is published only in that case.
func (s *Scheduler) Complete(_ context.Context, t *task.Task, response map[string]any) bool {
	s.mu.Lock()
	ok := s.factory.RecordCompletion(t, response)
	s.mu.Unlock()
	if ok {
		s.publish(eventbus.TaskCompleted, TaskEvent{Task: t})
	}
	return ok
}

// OptOut disables consent until the next Init, purges session identifiers
// and stops engagement tracking.
func (s *Scheduler) OptOut(ctx context.Context) {
	if ctx == nil {
		ctx = context.Background()
	}
	s.mu.Lock()
	s.gate.OptOut(ctx)
	src := s.signals
	s.mu.Unlock()

	if st, ok := src.(stopper); ok {
		st.Stop()
	}
	s.publish(eventbus.OptedOut, nil)
}

// ResetDaily zeroes the daily counter and prunes completion records older
// than the retention window. It is the body of the midnight cron job.
func (s *Scheduler) ResetDaily() {
	s.mu.Lock()
	s.counters.Reset()
	retention := s.gate.Settings().DataRetentionDays
	ready := s.ready
	pr := s.pruner
	ctx := s.baseCtx
	now := s.now()
	s.mu.Unlock()

	pruned := 0
	if ready && pr != nil && retention > 0 {
		cutoff := now.AddDate(0, 0, -retention)
		pctx, cancel := context.WithTimeout(ctx, 10*time.Second)
		n, err := pr.PruneCompletions(pctx, cutoff)
		cancel()
		if err != nil {
			s.log.Warn("retention prune failed", logx.Err(err))
		}
		pruned = n
	}
	s.log.Info("daily counters reset", logx.Int("pruned", pruned))
	s.publish(eventbus.CountersReset, ResetEvent{Pruned: pruned})
}

// Counters returns a copy of the daily counters.
func (s *Scheduler) Counters() task.Counters {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.counters
}

// Config returns the active configuration and whether Init has succeeded.
func (s *Scheduler) Config() (config.Config, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.cfg, s.ready
}

// OptedOut reports whether the visitor has opted out since the last Init.
func (s *Scheduler) OptedOut() bool { return s.gate.OptedOut() }

// NextReset returns the next midnight reset, or zero before Init.
func (s *Scheduler) NextReset() time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.c == nil {
		return time.Time{}
	}
	return s.c.Entry(s.resetID).Next
}

// Start starts collaborators that have a lifecycle (the completion sink).
func (s *Scheduler) Start(ctx context.Context) {
	if st, ok := s.sink.(starter); ok {
		st.Start(ctx)
	}
}

// Close stops the cron jobs and the completion sink. It is idempotent.
func (s *Scheduler) Close(ctx context.Context) {
	if ctx == nil {
		ctx = context.Background()
	}
	s.closeOnce.Do(func() {
		s.mu.Lock()
		s.closed = true
		c := s.c
		s.c = nil
		s.mu.Unlock()

		if c != nil {
			select {
			case <-c.Stop().Done():
			case <-ctx.Done():
			}
		}
		if st, ok := s.sink.(ctxStopper); ok {
			st.Stop(ctx)
		}
		s.log.Debug("scheduler closed")
	})
}

func (s *Scheduler) publish(typ string, data any) {
	if s.bus == nil {
		return
	}
	s.bus.Publish(eventbus.Event{Type: typ, Time: s.now(), Data: data})
}
