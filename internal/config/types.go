package config

// TriggerMode controls when tasks may be created.
type TriggerMode string

const (
	// ModeAdaptive gates creation on measured interaction time.
	ModeAdaptive TriggerMode = "adaptive"
	// ModeManual leaves timing entirely to the caller.
	ModeManual TriggerMode = "manual"
	// ModeScheduled leaves timing to an external schedule (see Frequency).
	ModeScheduled TriggerMode = "scheduled"
)

// Valid reports whether m is one of the known modes.
func (m TriggerMode) Valid() bool {
	switch m {
	case ModeAdaptive, ModeManual, ModeScheduled:
		return true
	default:
		return false
	}
}

// Config is the resolved engine configuration.
//
// JSON keys are camelCase because they mirror the options object the
// embedding page passes in. The process file (File) uses snake_case like the
// rest of the ambient settings.
type Config struct {
	PublisherID     string          `json:"publisherId"`
	TriggerOptions  TriggerOptions  `json:"triggerOptions"`
	PrivacySettings PrivacySettings `json:"privacySettings"`
	TaskSettings    TaskSettings    `json:"taskSettings"`
}

type TriggerOptions struct {
	Mode TriggerMode `json:"mode"`
	// Frequency is free-form in adaptive/manual mode. In scheduled mode the
	// CLI accepts a cron spec, an interval ("15m", "01:30") or
	// "once-per-session".
	Frequency                 string  `json:"frequency"`
	MinInteractionTimeSeconds float64 `json:"minInteractionTimeSeconds"`
	MaxTasksPerDay            int     `json:"maxTasksPerDay"`
}

type PrivacySettings struct {
	Anonymize            bool     `json:"anonymize"`
	ConsentRequired      bool     `json:"consentRequired"`
	DataRetentionDays    int      `json:"dataRetentionDays"`
	CollectedSignalKinds []string `json:"collectedSignalKinds"`
}

type TaskSettings struct {
	DefaultType        string `json:"defaultType"`
	TimeoutSeconds     int    `json:"timeoutSeconds"`
	CompensationMethod string `json:"compensationMethod,omitempty"`
}

// File is the on-disk process configuration (JSON or YAML).
//
// Example:
//
//	{
//	  "engine":  { "publisherId": "pub-1", "triggerOptions": { "maxTasksPerDay": 2 } },
//	  "logging": { "level": "info", "console": true },
//	  "storage": { "driver": "sqlite", "path": "./hotlabel.db" }
//	}
type File struct {
	// Engine holds overrides merged onto Defaults() by Resolve.
	// Kept as a raw mapping so unset keys keep their defaults at any depth.
	Engine  map[string]any `json:"engine"`
	Logging LoggingConfig  `json:"logging"`
	Storage *StorageConfig `json:"storage,omitempty"`
	Sink    *SinkConfig    `json:"sink,omitempty"`
	Metrics *MetricsConfig `json:"metrics,omitempty"`

	// Timezone for the midnight counter reset (IANA name). Empty means Local.
	Timezone string `json:"timezone,omitempty"`
}

type LoggingConfig struct {
	Level   string      `json:"level"`
	Console bool        `json:"console"`
	File    LoggingFile `json:"file"`
}

type LoggingFile struct {
	Enabled bool   `json:"enabled"`
	Path    string `json:"path"`
}

// StorageConfig controls where completed tasks and session identifiers live.
//
// Driver values: "none" (default), "file", "sqlite", "redis".
type StorageConfig struct {
	Driver      string `json:"driver"`
	Path        string `json:"path,omitempty"`
	Addr        string `json:"addr,omitempty"`         // redis only
	BusyTimeout string `json:"busy_timeout,omitempty"` // Go duration string (sqlite)
}

// SinkConfig controls the async completion pipeline.
//
// All durations are Go duration strings (e.g. "500ms", "10s").
// If the section is omitted the sink is enabled with defaults.
type SinkConfig struct {
	Enabled       bool   `json:"enabled"`
	QueueSize     int    `json:"queue_size"`
	RatePerSec    int    `json:"rate_per_sec"`
	RetryMax      int    `json:"retry_max"`
	RetryBase     string `json:"retry_base"`
	RetryMaxDelay string `json:"retry_max_delay"`
}

// MetricsConfig controls the optional observability HTTP server.
// Prefer binding to localhost.
type MetricsConfig struct {
	Enabled       bool   `json:"enabled"`
	Addr          string `json:"addr,omitempty"` // default: "127.0.0.1:9464"
	Pprof         bool   `json:"pprof,omitempty"`
	Token         string `json:"token,omitempty"`
	AllowInsecure bool   `json:"allow_insecure,omitempty"`
}
