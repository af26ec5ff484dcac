package config

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
)

// Defaults returns a fresh copy of the default engine configuration as a
// mapping, ready to be used as the left side of Merge.
func Defaults() map[string]any {
	return map[string]any{
		"publisherId": "",
		"triggerOptions": map[string]any{
			"mode":                      string(ModeAdaptive),
			"frequency":                 "once-per-session",
			"minInteractionTimeSeconds": 30,
			"maxTasksPerDay":            3,
		},
		"privacySettings": map[string]any{
			"anonymize":         true,
			"consentRequired":   true,
			"dataRetentionDays": 30,
			"collectedSignalKinds": []any{
				"language",
				"browserType",
				"contentCategory",
				"interactionPatterns",
			},
		},
		"taskSettings": map[string]any{
			"defaultType":    "generic",
			"timeoutSeconds": 300,
		},
	}
}

// Merge deep-merges overrides onto defaults and returns a new mapping.
//
// For each key in overrides: when both sides hold a nested mapping they are
// merged recursively, otherwise the override replaces the default entirely
// (slices and scalars are replaced, never concatenated). Neither input is
// mutated and the result shares no mutable containers with them.
func Merge(defaults, overrides map[string]any) map[string]any {
	out := make(map[string]any, len(defaults)+len(overrides))
	for k, v := range defaults {
		out[k] = cloneValue(v)
	}
	for k, ov := range overrides {
		om, oIsMap := ov.(map[string]any)
		dm, dIsMap := out[k].(map[string]any)
		if oIsMap && dIsMap {
			out[k] = Merge(dm, om)
			continue
		}
		out[k] = cloneValue(ov)
	}
	return out
}

func cloneValue(v any) any {
	switch x := v.(type) {
	case map[string]any:
		m := make(map[string]any, len(x))
		for k, vv := range x {
			m[k] = cloneValue(vv)
		}
		return m
	case []any:
		s := make([]any, len(x))
		for i := range x {
			s[i] = cloneValue(x[i])
		}
		return s
	case []string:
		return append([]string(nil), x...)
	default:
		return v
	}
}

// Resolve merges overrides onto Defaults(), decodes the result strictly and
// validates it. On error no Config is returned.
func Resolve(overrides map[string]any) (Config, error) {
	cfg, err := Decode(Merge(Defaults(), overrides))
	if err != nil {
		return Config{}, err
	}
	if err := Validate(cfg); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Decode converts a merged mapping into a Config.
// Unknown keys are rejected so typos surface at init instead of being ignored.
func Decode(m map[string]any) (Config, error) {
	b, err := json.Marshal(m)
	if err != nil {
		return Config{}, fmt.Errorf("engine config: marshal: %w", err)
	}
	var cfg Config
	dec := json.NewDecoder(bytes.NewReader(b))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&cfg); err != nil {
		return Config{}, fmt.Errorf("engine config: %w", err)
	}
	if err := dec.Decode(&struct{}{}); err != io.EOF {
		return Config{}, fmt.Errorf("engine config: trailing data")
	}
	return cfg, nil
}
