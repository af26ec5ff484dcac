package config

import (
	"errors"
	"reflect"
	"testing"
)

func TestMergeEmptyOverridesIsIdentity(t *testing.T) {
	t.Parallel()
	d := Defaults()
	got := Merge(d, map[string]any{})
	if !reflect.DeepEqual(got, d) {
		t.Fatalf("Merge(D, {}) = %#v, want %#v", got, d)
	}
}

func TestMergeRightBiasedAndRecursive(t *testing.T) {
	t.Parallel()
	d := map[string]any{
		"publisherId": "",
		"a": map[string]any{
			"b": map[string]any{"c": 1, "d": 2},
			"e": []any{"x", "y"},
		},
	}
	o := map[string]any{
		"publisherId": "p1",
		"a": map[string]any{
			"b": map[string]any{"c": 10},
			"e": []any{"z"},
		},
	}
	got := Merge(d, o)

	if got["publisherId"] != "p1" {
		t.Fatalf("publisherId = %v, want p1", got["publisherId"])
	}
	a := got["a"].(map[string]any)
	b := a["b"].(map[string]any)
	if b["c"] != 10 || b["d"] != 2 {
		t.Fatalf("nested merge = %#v, want c=10 d=2", b)
	}
	if !reflect.DeepEqual(a["e"], []any{"z"}) {
		t.Fatalf("slices must be replaced, got %#v", a["e"])
	}
}

func TestMergeDoesNotMutateInputs(t *testing.T) {
	t.Parallel()
	d := Defaults()
	before := Defaults()
	o := map[string]any{"triggerOptions": map[string]any{"maxTasksPerDay": 9}}

	got := Merge(d, o)
	if !reflect.DeepEqual(d, before) {
		t.Fatalf("defaults mutated: %#v", d)
	}

	// The result must not alias the defaults' nested containers.
	got["privacySettings"].(map[string]any)["anonymize"] = false
	if d["privacySettings"].(map[string]any)["anonymize"] != true {
		t.Fatalf("result aliases defaults")
	}
}

func TestMergeOverrideMapReplacesScalar(t *testing.T) {
	t.Parallel()
	got := Merge(map[string]any{"k": 1}, map[string]any{"k": map[string]any{"x": 1}})
	if !reflect.DeepEqual(got["k"], map[string]any{"x": 1}) {
		t.Fatalf("k = %#v", got["k"])
	}
}

func TestResolveKeepsDefaultsForUnsetKeys(t *testing.T) {
	t.Parallel()
	cfg, err := Resolve(map[string]any{
		"publisherId":    "test-123",
		"triggerOptions": map[string]any{"maxTasksPerDay": 5},
	})
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	if cfg.PublisherID != "test-123" {
		t.Fatalf("PublisherID = %q", cfg.PublisherID)
	}
	if cfg.TriggerOptions.MaxTasksPerDay != 5 {
		t.Fatalf("MaxTasksPerDay = %d, want 5", cfg.TriggerOptions.MaxTasksPerDay)
	}
	if cfg.TriggerOptions.Mode != ModeAdaptive {
		t.Fatalf("Mode = %q, want adaptive", cfg.TriggerOptions.Mode)
	}
	if cfg.TriggerOptions.MinInteractionTimeSeconds != 30 {
		t.Fatalf("MinInteractionTimeSeconds = %v, want 30", cfg.TriggerOptions.MinInteractionTimeSeconds)
	}
	if !cfg.PrivacySettings.Anonymize || !cfg.PrivacySettings.ConsentRequired || cfg.PrivacySettings.DataRetentionDays != 30 {
		t.Fatalf("privacy defaults lost: %+v", cfg.PrivacySettings)
	}
	if len(cfg.PrivacySettings.CollectedSignalKinds) != 4 {
		t.Fatalf("CollectedSignalKinds = %v", cfg.PrivacySettings.CollectedSignalKinds)
	}
	if cfg.TaskSettings.DefaultType != "generic" || cfg.TaskSettings.TimeoutSeconds != 300 {
		t.Fatalf("task defaults lost: %+v", cfg.TaskSettings)
	}
}

func TestResolveRejectsUnknownKeys(t *testing.T) {
	t.Parallel()
	_, err := Resolve(map[string]any{"publisherId": "p", "triggerOptionz": map[string]any{}})
	if err == nil {
		t.Fatal("expected error for unknown key")
	}
}

func TestResolveValidates(t *testing.T) {
	t.Parallel()
	_, err := Resolve(nil)
	if !errors.Is(err, ErrMissingPublisherID) {
		t.Fatalf("Resolve(nil) err = %v, want ErrMissingPublisherID", err)
	}
}
