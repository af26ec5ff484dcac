package sink

import (
	"context"
	"errors"
	"time"

	"hotlabel/internal/storage"
)

var (
	ErrDisabled  = errors.New("sink disabled")
	ErrQueueFull = errors.New("sink queue full")
	ErrStopped   = errors.New("sink stopped")
)

// Config controls the delivery pipeline.
type Config struct {
	Enabled       bool
	Workers       int
	QueueSize     int
	RatePerSec    int
	RetryMax      int
	RetryBase     time.Duration
	RetryMaxDelay time.Duration
}

// Backend persists completion records. storage.Store satisfies it.
type Backend interface {
	AppendCompletion(ctx context.Context, r storage.CompletionRecord) error
}

// Anonymizer rewrites identifying fields. consent.Gate satisfies it.
type Anonymizer interface {
	Anonymize(record map[string]any) map[string]any
}

// Stats are best-effort delivery counters.
type Stats struct {
	Queued    uint64
	Delivered uint64
	Dropped   uint64
	Failed    uint64
}
