package sink

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math/rand"
	"sync"
	"sync/atomic"
	"time"

	rtsup "hotlabel/internal/runtime/supervisor"
	"hotlabel/internal/storage"
	"hotlabel/internal/task"
	logx "hotlabel/pkg/logx"

	"golang.org/x/time/rate"
)

// Service implements an async completion pipeline:
// queue + worker pool + rate limit + retry.
//
// It is safe for concurrent use.
type Service struct {
	mu sync.Mutex

	log     logx.Logger
	backend Backend
	anon    Anonymizer

	cfg     Config
	limiter *rate.Limiter

	publisherID string
	sessionID   string

	accepting bool
	sendWG    sync.WaitGroup

	queue    chan storage.CompletionRecord
	sup      *rtsup.Supervisor
	stopDone chan struct{} // non-nil while stopping

	queued    atomic.Uint64
	delivered atomic.Uint64
	dropped   atomic.Uint64
	failed    atomic.Uint64
}

func New(cfg Config, backend Backend, anon Anonymizer, log logx.Logger) *Service {
	if log.IsZero() {
		log = logx.Nop()
	}
	s := &Service{
		backend: backend,
		anon:    anon,
		log:     log.With(logx.String("comp", "sink")),
	}
	s.applyLocked(cfg)
	return s
}

func (s *Service) Enabled() bool {
	s.mu.Lock()
	en := s.cfg.Enabled && s.backend != nil
	s.mu.Unlock()
	return en
}

// Apply swaps the config. Queue size and worker count take effect on the next Start.
func (s *Service) Apply(cfg Config) {
	s.mu.Lock()
	s.applyLocked(cfg)
	s.mu.Unlock()
}

func (s *Service) applyLocked(cfg Config) {
	if cfg.Workers <= 0 {
		cfg.Workers = 1
	}
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = 256
	}
	if cfg.RatePerSec <= 0 {
		cfg.RatePerSec = 10
	}
	if cfg.RetryMax < 0 {
		cfg.RetryMax = 0
	}
	if cfg.RetryBase <= 0 {
		cfg.RetryBase = 500 * time.Millisecond
	}
	if cfg.RetryMaxDelay <= 0 {
		cfg.RetryMaxDelay = 10 * time.Second
	}

	s.cfg = cfg
	// Token bucket: burst = rate per sec, so short spikes don't block too hard.
	s.limiter = rate.NewLimiter(rate.Limit(cfg.RatePerSec), cfg.RatePerSec)
}

// SetIdentity stamps subsequent records with the publisher and session.
func (s *Service) SetIdentity(publisherID, sessionID string) {
	s.mu.Lock()
	s.publisherID = publisherID
	s.sessionID = sessionID
	s.mu.Unlock()
}

func (s *Service) Stats() Stats {
	return Stats{
		Queued:    s.queued.Load(),
		Delivered: s.delivered.Load(),
		Dropped:   s.dropped.Load(),
		Failed:    s.failed.Load(),
	}
}

func (s *Service) Start(ctx context.Context) {
	if ctx == nil {
		ctx = context.Background()
	}

	// Start is idempotent.
	s.mu.Lock()
	if s.stopDone != nil {
		done := s.stopDone
		s.mu.Unlock()
		select {
		case <-done:
		case <-ctx.Done():
			return
		}
		s.mu.Lock()
	}
	if s.queue != nil || !s.cfg.Enabled || s.backend == nil {
		s.mu.Unlock()
		return
	}

	s.queue = make(chan storage.CompletionRecord, s.cfg.QueueSize)
	s.accepting = true
	workers := s.cfg.Workers
	s.sup = rtsup.New(ctx, rtsup.WithLogger(s.log))
	sup := s.sup
	q := s.queue
	s.mu.Unlock()

	for i := 0; i < workers; i++ {
		sup.GoRestart(fmt.Sprintf("worker.%d", i), func(c context.Context) error {
			s.workerLoop(c, q)
			s.mu.Lock()
			stopping := s.stopDone != nil
			s.mu.Unlock()
			if stopping || c.Err() != nil {
				return nil
			}
			return errors.New("sink worker exited unexpectedly")
		}, 250*time.Millisecond, 5*time.Second)
	}
	s.log.Debug("sink started", logx.Int("workers", workers), logx.Int("queue", cap(q)))
}

// Stop stops intake and drains the queue best-effort until ctx deadline.
func (s *Service) Stop(ctx context.Context) {
	if ctx == nil {
		ctx = context.Background()
	}

	s.mu.Lock()
	q := s.queue
	sup := s.sup
	if q == nil {
		s.mu.Unlock()
		return
	}
	if s.stopDone != nil {
		done := s.stopDone
		s.mu.Unlock()
		select {
		case <-done:
		case <-ctx.Done():
		}
		return
	}

	done := make(chan struct{})
	s.stopDone = done
	s.accepting = false
	s.mu.Unlock()

	go func() {
		defer close(done)
		// Wait for in-flight enqueues, then close the queue so workers drain it.
		s.sendWG.Wait()
		close(q)
		_ = sup.Wait(context.Background())

		s.mu.Lock()
		s.queue = nil
		s.stopDone = nil
		s.sup = nil
		s.mu.Unlock()
	}()

	select {
	case <-done:
	case <-ctx.Done():
		sup.Cancel()
	}
}

// Submit implements task.CompletionSink. It never blocks.
func (s *Service) Submit(t *task.Task) {
	if err := s.Enqueue(t); err != nil && !errors.Is(err, ErrDisabled) {
		s.log.Warn("completion not queued", logx.String("task_id", t.ID), logx.Err(err))
	}
}

// Enqueue snapshots t into a record and queues it for delivery.
func (s *Service) Enqueue(t *task.Task) error {
	if t == nil {
		return nil
	}

	s.mu.Lock()
	if !s.cfg.Enabled || s.backend == nil {
		s.mu.Unlock()
		return ErrDisabled
	}
	if !s.accepting || s.queue == nil {
		s.mu.Unlock()
		return ErrStopped
	}
	q := s.queue
	pub, sess := s.publisherID, s.sessionID
	s.sendWG.Add(1)
	s.mu.Unlock()
	defer s.sendWG.Done()

	rec := s.record(t, pub, sess)
	select {
	case q <- rec:
		s.queued.Add(1)
		return nil
	default:
		s.dropped.Add(1)
		return ErrQueueFull
	}
}

// record copies everything it needs out of t; the caller may keep mutating it.
func (s *Service) record(t *task.Task, publisherID, sessionID string) storage.CompletionRecord {
	r := storage.CompletionRecord{
		TaskID:          t.ID,
		SessionID:       sessionID,
		PublisherID:     publisherID,
		Type:            t.Type,
		Category:        t.Category,
		Complexity:      string(t.Complexity),
		DurationSeconds: t.DurationSeconds,
		CreatedAt:       t.CreatedAt,
		CompletedAt:     time.Now(),
	}
	if t.CompletedAt != nil {
		r.CompletedAt = *t.CompletedAt
	}
	r.MetaJSON = s.encode(t.Metadata)
	r.ResponseJSON = s.encode(t.Response)
	return r
}

func (s *Service) encode(m map[string]any) string {
	if len(m) == 0 {
		return ""
	}
	if s.anon != nil {
		m = s.anon.Anonymize(m)
	}
	b, err := json.Marshal(m)
	if err != nil {
		s.log.Debug("completion payload not encodable", logx.Err(err))
		return ""
	}
	return string(b)
}

func (s *Service) workerLoop(ctx context.Context, q <-chan storage.CompletionRecord) {
	for {
		select {
		case <-ctx.Done():
			return
		case r, ok := <-q:
			if !ok {
				return
			}
			s.deliverWithRetry(ctx, r)
		}
	}
}

func (s *Service) deliverWithRetry(runCtx context.Context, r storage.CompletionRecord) {
	s.mu.Lock()
	cfg := s.cfg
	lim := s.limiter
	be := s.backend
	s.mu.Unlock()

	maxAttempts := 1 + cfg.RetryMax

	var lastErr error
	for attempt := 1; attempt <= maxAttempts; attempt++ {
		if err := lim.Wait(runCtx); err != nil {
			return
		}

		callCtx, cancel := context.WithTimeout(runCtx, 5*time.Second)
		err := be.AppendCompletion(callCtx, r)
		cancel()
		if err == nil {
			s.delivered.Add(1)
			return
		}
		lastErr = err
		s.log.Debug("completion write failed", logx.Err(err), logx.Int("attempt", attempt), logx.Int("max", maxAttempts))

		if attempt >= maxAttempts {
			break
		}
		t := time.NewTimer(retryDelay(cfg, attempt))
		select {
		case <-t.C:
		case <-runCtx.Done():
			t.Stop()
			return
		}
	}

	s.failed.Add(1)
	s.log.Warn("completion dropped after retries", logx.String("task_id", r.TaskID), logx.Err(lastErr))
}

func retryDelay(cfg Config, attempt int) time.Duration {
	// attempt starts at 1; the delay is for the next attempt.
	d := cfg.RetryBase
	for i := 1; i < attempt; i++ {
		d *= 2
		if d >= cfg.RetryMaxDelay {
			d = cfg.RetryMaxDelay
			break
		}
	}
	// Jitter 0.7..1.3
	j := 0.7 + rand.Float64()*0.6
	d = time.Duration(float64(d) * j)
	if d < 0 {
		return 0
	}
	if d > cfg.RetryMaxDelay {
		d = cfg.RetryMaxDelay
	}
	return d
}
