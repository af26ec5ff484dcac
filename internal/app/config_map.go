package app

import (
	"fmt"
	"strings"
	"time"

	"hotlabel/internal/config"
	"hotlabel/internal/observability"
	"hotlabel/internal/sink"
	"hotlabel/internal/storage"
	logx "hotlabel/pkg/logx"
)

func mapLoggingConfig(f *config.File) logx.Config {
	return logx.Config{
		Level:   f.Logging.Level,
		Console: f.Logging.Console,
		File: logx.FileConfig{
			Enabled: f.Logging.File.Enabled,
			Path:    f.Logging.File.Path,
		},
	}
}

func mapStorageConfig(f *config.File) (storage.Config, bool, error) {
	if f == nil || f.Storage == nil {
		return storage.Config{}, false, nil
	}
	sc := f.Storage
	driver := strings.ToLower(strings.TrimSpace(sc.Driver))
	if driver == "" || driver == "none" {
		return storage.Config{}, false, nil
	}
	path := strings.TrimSpace(sc.Path)

	switch driver {
	case "file":
		if path == "" {
			path = "./data/hotlabel"
		}
		return storage.Config{Driver: "file", Path: path}, true, nil
	case "sqlite", "sqlite3":
		if path == "" {
			return storage.Config{}, false, fmt.Errorf("storage.path is required when storage.driver=sqlite")
		}
		busy, err := config.ParseDurationOrDefault("storage.busy_timeout", sc.BusyTimeout, time.Second)
		if err != nil {
			return storage.Config{}, false, err
		}
		return storage.Config{Driver: driver, Path: path, BusyTimeout: busy}, true, nil
	case "redis":
		addr := strings.TrimSpace(sc.Addr)
		if addr == "" {
			return storage.Config{}, false, fmt.Errorf("storage.addr is required when storage.driver=redis")
		}
		return storage.Config{Driver: "redis", Addr: addr, Path: path}, true, nil
	default:
		return storage.Config{}, false, fmt.Errorf("unknown storage.driver: %s", sc.Driver)
	}
}

// mapSinkConfig enables the sink with defaults when the section is omitted.
func mapSinkConfig(f *config.File) (sink.Config, error) {
	if f == nil || f.Sink == nil {
		return sink.Config{Enabled: true}, nil
	}
	sc := f.Sink
	if sc.QueueSize < 0 {
		return sink.Config{}, fmt.Errorf("sink.queue_size must be >= 0")
	}
	if sc.RatePerSec < 0 {
		return sink.Config{}, fmt.Errorf("sink.rate_per_sec must be >= 0")
	}
	if sc.RetryMax < 0 {
		return sink.Config{}, fmt.Errorf("sink.retry_max must be >= 0")
	}
	base, err := config.ParseDurationField("sink.retry_base", sc.RetryBase)
	if err != nil {
		return sink.Config{}, err
	}
	maxDelay, err := config.ParseDurationField("sink.retry_max_delay", sc.RetryMaxDelay)
	if err != nil {
		return sink.Config{}, err
	}
	return sink.Config{
		Enabled:       sc.Enabled,
		QueueSize:     sc.QueueSize,
		RatePerSec:    sc.RatePerSec,
		RetryMax:      sc.RetryMax,
		RetryBase:     base,
		RetryMaxDelay: maxDelay,
	}, nil
}

func mapObservabilityConfig(f *config.File) observability.Config {
	if f == nil || f.Metrics == nil {
		return observability.Config{}
	}
	m := f.Metrics
	return observability.Config{
		Enabled:       m.Enabled,
		Addr:          strings.TrimSpace(m.Addr),
		Pprof:         m.Pprof,
		Token:         strings.TrimSpace(m.Token),
		AllowInsecure: m.AllowInsecure,
	}
}

func loadLocation(f *config.File) (*time.Location, error) {
	if f == nil {
		return time.Local, nil
	}
	tz := strings.TrimSpace(f.Timezone)
	if tz == "" {
		return time.Local, nil
	}
	loc, err := time.LoadLocation(tz)
	if err != nil {
		return nil, fmt.Errorf("timezone: invalid %q: %w", tz, err)
	}
	return loc, nil
}

// validateFile rejects a reloaded file before it is committed.
func validateFile(f *config.File) error {
	if _, err := config.Resolve(f.Engine); err != nil {
		return err
	}
	if _, _, err := mapStorageConfig(f); err != nil {
		return err
	}
	if _, err := mapSinkConfig(f); err != nil {
		return err
	}
	if _, err := loadLocation(f); err != nil {
		return err
	}
	return nil
}
