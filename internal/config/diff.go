package config

import (
	"reflect"
	"sort"
	"strings"

	logx "hotlabel/pkg/logx"
)

// SummarizeChange returns the changed top-level sections and safe fields for
// logging. Secrets such as the metrics token are reported only as set/unset.
func SummarizeChange(oldF, newF *File) ([]string, []logx.Field) {
	if oldF == nil {
		oldF = &File{}
	}
	if newF == nil {
		newF = &File{}
	}

	changed := make([]string, 0, 6)
	attrs := make([]logx.Field, 0, 12)

	if !reflect.DeepEqual(oldF.Engine, newF.Engine) {
		changed = append(changed, "engine")
		attrs = append(attrs, logx.Int("engine.keys", len(newF.Engine)))
	}

	if oldF.Logging != newF.Logging {
		changed = append(changed, "logging")
		attrs = append(attrs,
			logx.String("logging.level", newF.Logging.Level),
			logx.Bool("logging.console", newF.Logging.Console),
			logx.Bool("logging.file_enabled", newF.Logging.File.Enabled),
		)
	}

	var oS, nS StorageConfig
	if oldF.Storage != nil {
		oS = *oldF.Storage
	}
	if newF.Storage != nil {
		nS = *newF.Storage
	}
	if strings.TrimSpace(oS.Driver) != strings.TrimSpace(nS.Driver) ||
		strings.TrimSpace(oS.Path) != strings.TrimSpace(nS.Path) ||
		strings.TrimSpace(oS.Addr) != strings.TrimSpace(nS.Addr) ||
		strings.TrimSpace(oS.BusyTimeout) != strings.TrimSpace(nS.BusyTimeout) {
		changed = append(changed, "storage")
		attrs = append(attrs,
			logx.String("storage.driver", strings.TrimSpace(nS.Driver)),
			logx.Bool("storage.path_set", strings.TrimSpace(nS.Path) != ""),
		)
	}

	// Nil means the sink runs with defaults.
	defSink := SinkConfig{Enabled: true}
	oK, nK := defSink, defSink
	if oldF.Sink != nil {
		oK = *oldF.Sink
	}
	if newF.Sink != nil {
		nK = *newF.Sink
	}
	if oK != nK {
		changed = append(changed, "sink")
		attrs = append(attrs,
			logx.Bool("sink.enabled", nK.Enabled),
			logx.Int("sink.queue_size", nK.QueueSize),
			logx.Int("sink.rate_per_sec", nK.RatePerSec),
			logx.Int("sink.retry_max", nK.RetryMax),
		)
	}

	var oM, nM MetricsConfig
	if oldF.Metrics != nil {
		oM = *oldF.Metrics
	}
	if newF.Metrics != nil {
		nM = *newF.Metrics
	}
	if oM != nM {
		changed = append(changed, "metrics")
		attrs = append(attrs,
			logx.Bool("metrics.enabled", nM.Enabled),
			logx.String("metrics.addr", strings.TrimSpace(nM.Addr)),
			logx.Bool("metrics.pprof", nM.Pprof),
			logx.Bool("metrics.token_set", strings.TrimSpace(nM.Token) != ""),
		)
	}

	if strings.TrimSpace(oldF.Timezone) != strings.TrimSpace(newF.Timezone) {
		changed = append(changed, "timezone")
		attrs = append(attrs, logx.String("timezone", strings.TrimSpace(newF.Timezone)))
	}

	sort.Strings(changed)
	return changed, attrs
}
