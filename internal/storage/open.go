package storage

import (
	"context"
	"errors"
	"strings"
	"time"

	logx "hotlabel/pkg/logx"
)

// Store is the persistence API used by the scheduler and the completion sink.
type Store interface {
	AppendCompletion(ctx context.Context, r CompletionRecord) error
	// ListCompletions returns records in completion order.
	ListCompletions(ctx context.Context) ([]CompletionRecord, error)
	// PruneCompletions deletes records completed before cutoff and reports how many.
	PruneCompletions(ctx context.Context, before time.Time) (int, error)

	PutSession(ctx context.Context, key, value string) error
	GetSession(ctx context.Context, key string) (value string, ok bool, err error)
	// Purge removes every session-scoped identifier.
	Purge(ctx context.Context) error

	Close() error
}

// Open initializes the configured store.
// It returns (nil, nil) if storage is disabled.
func Open(cfg Config, log logx.Logger) (Store, error) {
	driver := strings.ToLower(strings.TrimSpace(cfg.Driver))
	if driver == "" || driver == "none" {
		return nil, nil
	}
	if log.IsZero() {
		log = logx.Nop()
	}
	log = log.With(logx.String("comp", "storage"), logx.String("driver", driver))

	switch driver {
	case "file":
		return openFile(cfg, log)
	case "sqlite", "sqlite3":
		return openSQLite(cfg, log)
	case "redis":
		return openRedis(cfg, log)
	default:
		return nil, errors.New("unknown storage driver: " + driver)
	}
}
