package scheduler

import (
	"testing"
	"time"
)

func TestParseFrequency(t *testing.T) {
	cases := []struct {
		raw   string
		kind  FrequencyKind
		every time.Duration
		cron  string
		err   bool
	}{
		{raw: "", kind: FrequencyOncePerSession},
		{raw: "once-per-session", kind: FrequencyOncePerSession},
		{raw: " Once-Per-Session ", kind: FrequencyOncePerSession},
		{raw: "*/5 * * * *", kind: FrequencyCron, cron: "*/5 * * * *"},
		{raw: "@hourly", kind: FrequencyCron, cron: "@hourly"},
		{raw: "cron:0 9 * * *", kind: FrequencyCron, cron: "0 9 * * *"},
		{raw: "15m", kind: FrequencyInterval, every: 15 * time.Minute},
		{raw: "02:30", kind: FrequencyInterval, every: 150 * time.Minute},
		{raw: "every:1h", kind: FrequencyInterval, every: time.Hour},
		{raw: "interval:00:10", kind: FrequencyInterval, every: 10 * time.Minute},
		{raw: "whenever", err: true},
		{raw: "0s", err: true},
		{raw: "00:75", err: true},
		{raw: "cron:", err: true},
		{raw: "61 * * * *", err: true},
	}
	for _, tc := range cases {
		f, err := ParseFrequency(tc.raw)
		if tc.err {
			if err == nil {
				t.Fatalf("%q: expected error, got %+v", tc.raw, f)
			}
			continue
		}
		if err != nil {
			t.Fatalf("%q: %v", tc.raw, err)
		}
		if f.Kind != tc.kind || f.Every != tc.every || f.Cron != tc.cron {
			t.Fatalf("%q: got %+v", tc.raw, f)
		}
	}
}

func TestOnceScheduleFiresOnce(t *testing.T) {
	now := time.Date(2025, 1, 1, 12, 0, 0, 0, time.UTC)
	s, err := Frequency{Kind: FrequencyOncePerSession}.Schedule(now)
	if err != nil {
		t.Fatalf("Schedule: %v", err)
	}
	first := s.Next(now)
	if !first.Equal(now.Add(sessionTriggerDelay)) {
		t.Fatalf("first=%v", first)
	}
	if next := s.Next(first); !next.IsZero() {
		t.Fatalf("fired again at %v", next)
	}
}

func TestIntervalSchedule(t *testing.T) {
	now := time.Date(2025, 1, 1, 12, 0, 0, 0, time.UTC)
	s, err := Frequency{Kind: FrequencyInterval, Every: 10 * time.Minute}.Schedule(now)
	if err != nil {
		t.Fatalf("Schedule: %v", err)
	}
	if next := s.Next(now); !next.Equal(now.Add(10 * time.Minute)) {
		t.Fatalf("next=%v", next)
	}
}
