package app

import (
	"context"
	"fmt"
	"slices"
	"strings"
	"time"

	"hotlabel/internal/config"
	"hotlabel/internal/consent"
	"hotlabel/internal/eventbus"
	"hotlabel/internal/metrics"
	"hotlabel/internal/observability"
	rtsup "hotlabel/internal/runtime/supervisor"
	"hotlabel/internal/scheduler"
	"hotlabel/internal/signals"
	"hotlabel/internal/sink"
	"hotlabel/internal/storage"
	logx "hotlabel/pkg/logx"

	"github.com/google/uuid"
)

// Options are the host-provided pieces the app cannot build itself.
type Options struct {
	Prompter    consent.Prompter
	Presenter   scheduler.Presenter
	Environment signals.Environment
}

type App struct {
	cfgPath string

	cfgm *config.Manager
	sup  *rtsup.Supervisor

	log   logx.Logger
	logs  *logx.Service
	bus   eventbus.Bus
	store storage.Store

	gate    *consent.Gate
	tracker *signals.Tracker
	sink    *sink.Service
	sched   *scheduler.Scheduler
	metrics *metrics.Metrics
	obs     *observability.Service

	env       signals.Environment
	sessionID string
}

func NewApp(cfgPath string, opts Options) (*App, error) {
	cfgm := config.NewManager(cfgPath)
	f, err := cfgm.Load()
	if err != nil {
		return nil, err
	}

	logs, log := logx.New(mapLoggingConfig(f))

	scfg, enabled, err := mapStorageConfig(f)
	if err != nil {
		_ = logs.Close()
		return nil, err
	}
	var store storage.Store
	if enabled {
		store, err = storage.Open(scfg, log)
		if err != nil {
			_ = logs.Close()
			return nil, err
		}
	}

	sinkCfg, err := mapSinkConfig(f)
	if err != nil {
		closeStore(store)
		_ = logs.Close()
		return nil, err
	}
	loc, err := loadLocation(f)
	if err != nil {
		closeStore(store)
		_ = logs.Close()
		return nil, err
	}

	a := &App{
		cfgPath:   cfgPath,
		cfgm:      cfgm,
		log:       log,
		logs:      logs,
		bus:       eventbus.New(),
		store:     store,
		env:       opts.Environment,
		sessionID: uuid.NewString(),
	}

	// Typed nils must not leak into the interfaces below.
	var (
		sessions consent.SessionStore
		backend  sink.Backend
		pruner   scheduler.Pruner
	)
	if store != nil {
		sessions, backend, pruner = store, store, store
	}

	a.gate = consent.NewGate(a.recordingPrompter(opts.Prompter), sessions, log.With(logx.String("comp", "consent")))
	a.sink = sink.New(sinkCfg, backend, a.gate, log)
	a.tracker = signals.NewTracker(
		signals.WithAnonymizer(a.gate),
		signals.WithLogger(log.With(logx.String("comp", "signals"))),
	)
	a.metrics = metrics.New(log)
	a.metrics.WatchSink(a.sink)
	a.obs = observability.New(mapObservabilityConfig(f), a.metrics.Registry(), log)

	schedOpts := []scheduler.Option{
		scheduler.WithLogger(log),
		scheduler.WithBus(a.bus),
		scheduler.WithGate(a.gate),
		scheduler.WithSignalSource(a.tracker),
		scheduler.WithSink(a.sink),
		scheduler.WithLocation(loc),
	}
	if opts.Presenter != nil {
		schedOpts = append(schedOpts, scheduler.WithPresenter(opts.Presenter))
	}
	if pruner != nil {
		schedOpts = append(schedOpts, scheduler.WithPruner(pruner))
	}
	a.sched = scheduler.New(schedOpts...)
	return a, nil
}

// recordingPrompter stores each answer alongside the session id.
func (a *App) recordingPrompter(p consent.Prompter) consent.Prompter {
	if p == nil {
		return nil
	}
	return consent.PrompterFunc(func(ctx context.Context) (bool, error) {
		ok, err := p.Prompt(ctx)
		if err != nil || a.store == nil {
			return ok, err
		}
		answer := "denied"
		if ok {
			answer = "granted"
		}
		if perr := a.store.PutSession(ctx, storage.SessionKeyConsent, answer); perr != nil {
			a.log.Warn("consent record failed", logx.Err(perr))
		}
		return ok, nil
	})
}

func (a *App) Scheduler() *scheduler.Scheduler { return a.sched }
func (a *App) Tracker() *signals.Tracker       { return a.tracker }
func (a *App) Bus() eventbus.Bus               { return a.bus }
func (a *App) SessionID() string               { return a.sessionID }
func (a *App) Logger() logx.Logger             { return a.log }

// SinkStats reports completion pipeline counters.
func (a *App) SinkStats() sink.Stats { return a.sink.Stats() }

// Done is closed when the app supervisor context is canceled (fatal error or Stop()).
func (a *App) Done() <-chan struct{} {
	if a.sup == nil {
		ch := make(chan struct{})
		close(ch)
		return ch
	}
	return a.sup.Context().Done()
}

// Err returns the first fatal error observed by the supervisor (if any).
func (a *App) Err() error {
	if a.sup == nil {
		return nil
	}
	return a.sup.Err()
}

func (a *App) Start(ctx context.Context) error {
	a.sup = rtsup.New(ctx, rtsup.WithLogger(a.log), rtsup.WithCancelOnError(true))

	// transactional config reload: validate before commit/publish
	a.cfgm.SetLogger(a.log.With(logx.String("comp", "config")))
	a.cfgm.SetValidator(func(_ context.Context, f *config.File) error {
		return validateFile(f)
	})

	f := a.cfgm.Get()
	cfg, err := a.sched.Init(a.sup.Context(), f.Engine)
	if err != nil {
		return fmt.Errorf("engine init: %w", err)
	}
	a.sink.SetIdentity(cfg.PublisherID, a.sessionID)
	if a.store != nil {
		if err := a.store.PutSession(a.sup.Context(), storage.SessionKeyID, a.sessionID); err != nil {
			a.log.Warn("session id persist failed", logx.Err(err))
		}
	}
	// The sink outlives the run context so Stop can drain it.
	a.sched.Start(context.WithoutCancel(a.sup.Context()))
	a.tracker.Start(a.env)

	a.sup.Go("metrics.consume", func(c context.Context) error {
		return a.metrics.Run(c, a.bus)
	})

	// Optional: log events for observability/debug.
	events, unsub := a.bus.Subscribe(128)
	a.sup.Go("eventbus.log", func(c context.Context) error {
		defer unsub()
		for {
			select {
			case <-c.Done():
				return nil
			case e, ok := <-events:
				if !ok {
					return nil
				}
				a.log.Debug("event", logx.String("type", e.Type), logx.Time("time", e.Time))
			}
		}
	})

	a.obs.Reconfigure(a.sup.Context(), mapObservabilityConfig(f))

	// hot reload config fan-out
	sub := a.cfgm.Subscribe(8)
	a.sup.Go("config.reload", func(c context.Context) error {
		defer a.cfgm.Unsubscribe(sub)
		lastApplied := a.cfgm.Get()
		for {
			select {
			case <-c.Done():
				return nil
			case newF, ok := <-sub:
				if !ok {
					return nil
				}
				// Coalesce bursts: keep only the latest config in the channel.
				for {
					select {
					case newer := <-sub:
						if newer != nil {
							newF = newer
						}
					default:
						goto APPLY
					}
				}
			APPLY:
				a.applyReload(c, lastApplied, newF)
				lastApplied = newF
			}
		}
	})

	a.sup.Go("config.watch", func(c context.Context) error {
		return a.cfgm.Watch(c)
	})

	a.log.Info("app started",
		logx.String("publisher", cfg.PublisherID),
		logx.String("mode", string(cfg.TriggerOptions.Mode)),
		logx.String("session", a.sessionID),
		logx.String("config", a.cfgPath),
	)
	return nil
}

func (a *App) applyReload(c context.Context, prev, next *config.File) {
	sections, attrs := config.SummarizeChange(prev, next)
	if len(sections) == 0 {
		a.log.Debug("config reload received, but no effective changes detected")
		return
	}
	fields := append([]logx.Field{logx.String("changed", strings.Join(sections, ","))}, attrs...)
	a.log.Debug("config change summary", fields...)

	for _, s := range sections {
		switch s {
		case "storage":
			a.log.Warn("storage config changed; restart required for changes to take effect")
		case "timezone":
			a.log.Warn("timezone changed; restart required for changes to take effect")
		}
	}

	a.logs.Apply(mapLoggingConfig(next))

	// Apply keeps the visitor's consent and opt-out.
	if slices.Contains(sections, "engine") {
		cfg, err := a.sched.Apply(c, next.Engine)
		if err != nil {
			a.log.Warn("invalid engine config; keeping previous", logx.Err(err))
		} else {
			a.sink.SetIdentity(cfg.PublisherID, a.sessionID)
		}
	}

	if scfg, err := mapSinkConfig(next); err != nil {
		a.log.Warn("invalid sink config; keeping previous", logx.Err(err))
	} else {
		prevEnabled := a.sink.Enabled()
		a.sink.Apply(scfg)
		switch {
		case prevEnabled && !a.sink.Enabled():
			a.log.Info("sink disabled via config")
			stopCtx, cancel := context.WithTimeout(c, 3*time.Second)
			a.sink.Stop(stopCtx)
			cancel()
		case !prevEnabled && a.sink.Enabled():
			a.log.Info("sink enabled via config")
			a.sink.Start(context.WithoutCancel(c))
		}
	}

	a.obs.Reconfigure(c, mapObservabilityConfig(next))

	a.log.Info("config reloaded", fields...)
}

func (a *App) Stop(ctx context.Context, reason StopReason) error {
	if a.sup == nil {
		return nil
	}
	a.log.Info("stopping", logx.String("reason", string(reason)))

	// First, cancel the app run context so background loops start unwinding immediately.
	a.sup.Cancel()

	// Helper: run a shutdown step with an upper bound so one component can't stall the whole stop.
	step := func(name string, max time.Duration, fn func(context.Context) error) {
		start := time.Now()
		a.log.Debug("stop step begin", logx.String("name", name), logx.Duration("max", max))

		stepCtx := ctx
		var cancel context.CancelFunc
		if max > 0 {
			// respect the caller's deadline; never extend it
			if dl, ok := ctx.Deadline(); ok {
				rem := time.Until(dl)
				if rem <= 0 {
					max = 0
				} else if rem < max {
					max = rem
				}
			}
			if max > 0 {
				stepCtx, cancel = context.WithTimeout(ctx, max)
				defer cancel()
			}
		}

		done := make(chan error, 1)
		go func() {
			defer func() {
				if r := recover(); r != nil {
					done <- fmt.Errorf("panic in stop step %s: %v", name, r)
				}
			}()
			done <- fn(stepCtx)
		}()

		select {
		case err := <-done:
			if err != nil {
				a.log.Warn("stop step error", logx.String("name", name), logx.Err(err))
			}
			a.log.Debug("stop step end", logx.String("name", name), logx.Duration("took", time.Since(start)))
		case <-stepCtx.Done():
			a.log.Warn("stop step deadline reached (continuing)",
				logx.String("name", name),
				logx.Duration("elapsed", time.Since(start)),
			)
			go func() {
				err := <-done
				if err != nil {
					a.log.Warn("stop step finished after deadline", logx.String("name", name), logx.Err(err))
				}
			}()
		}
	}

	step("tracker", 0, func(context.Context) error { a.tracker.Stop(); return nil })
	// Scheduler first: it stops cron and drains the sink into storage.
	step("scheduler", 3*time.Second, func(c context.Context) error { a.sched.Close(c); return nil })
	step("observability", 1*time.Second, func(c context.Context) error { a.obs.Stop(c); return nil })
	step("storage", 1*time.Second, func(context.Context) error { return closeStoreErr(a.store) })
	step("supervisor", 2*time.Second, func(c context.Context) error { return a.sup.Wait(c) })

	a.log.Info("stopped")
	if a.logs != nil {
		_ = a.logs.Close()
	}
	return nil
}

func closeStore(s storage.Store) { _ = closeStoreErr(s) }

func closeStoreErr(s storage.Store) error {
	if s == nil {
		return nil
	}
	return s.Close()
}
