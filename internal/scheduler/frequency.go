package scheduler

import (
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/robfig/cron/v3"
)

// FrequencyKind describes how scheduled mode fires triggers.
type FrequencyKind int

const (
	FrequencyOncePerSession FrequencyKind = iota
	FrequencyCron
	FrequencyInterval
)

const oncePerSession = "once-per-session"

// Delay before the single trigger of a once-per-session frequency.
const sessionTriggerDelay = time.Second

// Frequency is a parsed triggerOptions.frequency value.
//
// Supported forms:
//   - "once-per-session" (the default)
//   - Cron: "*/5 * * * *", "0 9 * * *", "@hourly", "@every 15m"
//   - Interval duration: "15m", "1h30m"
//   - Interval HH:MM: "00:15" (15 minutes), "02:30" (2 hours 30 minutes)
//
// Optional prefixes:
//   - "cron:" forces cron parsing
//   - "interval:" or "every:" forces interval parsing
type Frequency struct {
	Kind  FrequencyKind
	Cron  string
	Every time.Duration
}

var reHHMM = regexp.MustCompile(`^\s*(\d{1,3}):(\d{2})\s*$`)

// cronParser accepts both 5-field and 6-field (with seconds) specs.
var cronParser = cron.NewParser(cron.SecondOptional | cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor)

// ParseFrequency parses a frequency string. Cron expressions are checked
// against the cron parser so a bad spec fails here rather than at Init.
func ParseFrequency(raw string) (Frequency, error) {
	s := strings.TrimSpace(raw)
	low := strings.ToLower(s)
	if s == "" || low == oncePerSession {
		return Frequency{Kind: FrequencyOncePerSession}, nil
	}

	switch {
	case strings.HasPrefix(low, "cron:"):
		return parseCron(strings.TrimSpace(s[len("cron:"):]))
	case strings.HasPrefix(low, "interval:"):
		return parseInterval(strings.TrimSpace(s[len("interval:"):]))
	case strings.HasPrefix(low, "every:"):
		return parseInterval(strings.TrimSpace(s[len("every:"):]))
	}

	// Any whitespace or a leading '@' means cron.
	if strings.ContainsAny(s, " \t\n\r") || strings.HasPrefix(s, "@") {
		return parseCron(s)
	}
	if f, err := parseInterval(s); err == nil {
		return f, nil
	}
	return Frequency{}, fmt.Errorf(
		"invalid frequency %q (use %q, cron like '0 9 * * *', HH:MM like '02:30', or duration like '15m')",
		raw, oncePerSession,
	)
}

// Schedule returns the cron schedule for f. now anchors once-per-session.
func (f Frequency) Schedule(now time.Time) (cron.Schedule, error) {
	switch f.Kind {
	case FrequencyCron:
		return cronParser.Parse(f.Cron)
	case FrequencyInterval:
		return cron.Every(f.Every), nil
	default:
		return &onceSchedule{at: now.Add(sessionTriggerDelay)}, nil
	}
}

func (f Frequency) String() string {
	switch f.Kind {
	case FrequencyCron:
		return "cron:" + f.Cron
	case FrequencyInterval:
		return "every:" + f.Every.String()
	default:
		return oncePerSession
	}
}

// onceSchedule fires a single time. A zero Next parks the cron entry.
type onceSchedule struct {
	at time.Time
}

func (s *onceSchedule) Next(t time.Time) time.Time {
	if t.Before(s.at) {
		return s.at
	}
	return time.Time{}
}

func parseCron(expr string) (Frequency, error) {
	if expr == "" {
		return Frequency{}, fmt.Errorf("cron frequency required")
	}
	if _, err := cronParser.Parse(expr); err != nil {
		return Frequency{}, fmt.Errorf("invalid cron frequency %q: %w", expr, err)
	}
	return Frequency{Kind: FrequencyCron, Cron: expr}, nil
}

func parseInterval(v string) (Frequency, error) {
	if v == "" {
		return Frequency{}, fmt.Errorf("interval required")
	}
	var (
		d   time.Duration
		err error
	)
	if m := reHHMM.FindStringSubmatch(v); m != nil {
		d, err = hhmm(m)
	} else {
		d, err = time.ParseDuration(v)
		if err != nil {
			err = fmt.Errorf("invalid interval %q (use HH:MM or Go duration like '15m')", v)
		}
	}
	if err != nil {
		return Frequency{}, err
	}
	if d <= 0 {
		return Frequency{}, fmt.Errorf("interval must be > 0")
	}
	return Frequency{Kind: FrequencyInterval, Every: d}, nil
}

func hhmm(m []string) (time.Duration, error) {
	var hh int
	for i := 0; i < len(m[1]); i++ {
		hh = hh*10 + int(m[1][i]-'0')
	}
	mm := int(m[2][0]-'0')*10 + int(m[2][1]-'0')
	if mm > 59 {
		return 0, fmt.Errorf("invalid minutes in %q", m[0])
	}
	return time.Duration(hh)*time.Hour + time.Duration(mm)*time.Minute, nil
}
