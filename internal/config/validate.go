package config

import (
	"fmt"
	"strings"
)

// ConfigErrorKind classifies configuration failures.
type ConfigErrorKind int

const (
	MissingPublisherID ConfigErrorKind = iota + 1
	InvalidTriggerMode
	NegativeQuota
)

func (k ConfigErrorKind) String() string {
	switch k {
	case MissingPublisherID:
		return "missing publisher id"
	case InvalidTriggerMode:
		return "invalid trigger mode"
	case NegativeQuota:
		return "negative quota"
	default:
		return "unknown"
	}
}

// ConfigError is returned by Validate. Match kinds with errors.Is against
// ErrMissingPublisherID, ErrInvalidTriggerMode or ErrNegativeQuota.
type ConfigError struct {
	Kind   ConfigErrorKind
	Detail string
}

func (e *ConfigError) Error() string {
	if e.Detail == "" {
		return "config: " + e.Kind.String()
	}
	return "config: " + e.Kind.String() + ": " + e.Detail
}

// Is matches any *ConfigError of the same kind.
func (e *ConfigError) Is(target error) bool {
	t, ok := target.(*ConfigError)
	return ok && t.Kind == e.Kind
}

var (
	ErrMissingPublisherID = &ConfigError{Kind: MissingPublisherID}
	ErrInvalidTriggerMode = &ConfigError{Kind: InvalidTriggerMode}
	ErrNegativeQuota      = &ConfigError{Kind: NegativeQuota}
)

var validModes = []string{string(ModeAdaptive), string(ModeManual), string(ModeScheduled)}

// Validate checks the invariants init depends on. It fails exactly on an
// empty publisher id, an unknown trigger mode, or a negative daily quota.
func Validate(cfg Config) error {
	if cfg.PublisherID == "" {
		return &ConfigError{Kind: MissingPublisherID, Detail: "publisherId is required"}
	}
	if !cfg.TriggerOptions.Mode.Valid() {
		return &ConfigError{
			Kind:   InvalidTriggerMode,
			Detail: fmt.Sprintf("%q, must be one of: %s", cfg.TriggerOptions.Mode, strings.Join(validModes, ", ")),
		}
	}
	if cfg.TriggerOptions.MaxTasksPerDay < 0 {
		return &ConfigError{Kind: NegativeQuota, Detail: fmt.Sprintf("maxTasksPerDay=%d", cfg.TriggerOptions.MaxTasksPerDay)}
	}
	return nil
}
