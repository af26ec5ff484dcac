// Package signals tracks visitor engagement and the environment signals
// attached to labeling tasks.
package signals

import (
	"regexp"
	"sync"
	"time"

	logx "hotlabel/pkg/logx"
)

type Kind string

const (
	MouseMove  Kind = "mouse"
	Scroll     Kind = "scroll"
	KeyPress   Kind = "key"
	Visibility Kind = "visibility"
)

// Event is a single interaction observed by the host page.
// Hidden is meaningful only for Visibility events.
type Event struct {
	Kind   Kind
	At     time.Time // zero means now
	Hidden bool
}

// Environment is static browser information captured at Start.
type Environment struct {
	UserAgent        string
	Platform         string
	Languages        []string
	CookiesEnabled   bool
	ScreenResolution string
	ColorDepth       int
	ContentCategory  string
}

// Signal kinds accepted in privacySettings.collectedSignalKinds.
const (
	SignalLanguage            = "language"
	SignalBrowserType         = "browserType"
	SignalContentCategory     = "contentCategory"
	SignalInteractionPatterns = "interactionPatterns"
)

const (
	DefaultIdleWindow = 5 * time.Second
	fallbackLanguage  = "en-US"
)

var mobileUA = regexp.MustCompile(`(?i)Android|webOS|iPhone|iPad|iPod|BlackBerry|IEMobile|Opera Mini`)

// Anonymizer rewrites identifying fields. consent.Gate satisfies it.
type Anonymizer interface {
	Anonymize(record map[string]any) map[string]any
}

// Tracker accumulates engaged time from interaction events.
//
// Time between two consecutive interactions counts as engaged when the gap is
// within the idle window and the page is visible. Events are ignored until
// Start and after Stop. It is safe for concurrent use.
type Tracker struct {
	mu sync.Mutex

	log  logx.Logger
	now  func() time.Time
	idle time.Duration
	anon Anonymizer

	env       Environment
	tracking  bool
	startedAt time.Time
	hidden    bool
	last      time.Time // last interaction while visible; zero after hide
	engaged   time.Duration
	counts    map[Kind]int
}

type Option func(*Tracker)

func WithClock(now func() time.Time) Option { return func(t *Tracker) { t.now = now } }

func WithIdleWindow(d time.Duration) Option {
	return func(t *Tracker) {
		if d > 0 {
			t.idle = d
		}
	}
}

func WithAnonymizer(a Anonymizer) Option { return func(t *Tracker) { t.anon = a } }

func WithLogger(log logx.Logger) Option { return func(t *Tracker) { t.log = log } }

func NewTracker(opts ...Option) *Tracker {
	t := &Tracker{now: time.Now, idle: DefaultIdleWindow, counts: map[Kind]int{}}
	for _, o := range opts {
		o(t)
	}
	if t.log.IsZero() {
		t.log = logx.Nop()
	}
	return t
}

// Start resets accumulated state and begins tracking.
func (t *Tracker) Start(env Environment) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.env = env
	t.tracking = true
	t.startedAt = t.now()
	t.hidden = false
	t.last = time.Time{}
	t.engaged = 0
	t.counts = map[Kind]int{}
	t.log.Debug("engagement tracking started", logx.String("device", DeviceType(env.UserAgent)))
}

// Stop freezes the engaged total. Later events are ignored.
func (t *Tracker) Stop() {
	t.mu.Lock()
	defer t.mu.Unlock()
	if !t.tracking {
		return
	}
	t.engaged += t.tailLocked(t.now())
	t.last = time.Time{}
	t.tracking = false
	t.log.Debug("engagement tracking stopped", logx.Duration("engaged", t.engaged))
}

func (t *Tracker) Tracking() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.tracking
}

func (t *Tracker) Record(e Event) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if !t.tracking {
		return
	}
	at := e.At
	if at.IsZero() {
		at = t.now()
	}
	t.counts[e.Kind]++

	if e.Kind == Visibility {
		if e.Hidden && !t.hidden {
			t.engaged += t.gapLocked(at)
			t.last = time.Time{}
		}
		t.hidden = e.Hidden
		return
	}
	if t.hidden {
		return
	}
	t.engaged += t.gapLocked(at)
	t.last = at
}

// CurrentInteractionSeconds implements the scheduler's engagement source.
func (t *Tracker) CurrentInteractionSeconds() float64 {
	t.mu.Lock()
	defer t.mu.Unlock()
	d := t.engaged
	if t.tracking {
		d += t.tailLocked(t.now())
	}
	return d.Seconds()
}

// gapLocked is the engaged time between the last interaction and at.
func (t *Tracker) gapLocked(at time.Time) time.Duration {
	if t.last.IsZero() {
		return 0
	}
	gap := at.Sub(t.last)
	if gap <= 0 || gap > t.idle {
		return 0
	}
	return gap
}

// tailLocked is the still-open segment; it ends at the idle window.
func (t *Tracker) tailLocked(now time.Time) time.Duration {
	if t.hidden || t.last.IsZero() {
		return 0
	}
	gap := now.Sub(t.last)
	if gap <= 0 {
		return 0
	}
	if gap > t.idle {
		return t.idle
	}
	return gap
}

// Snapshot returns the collected signals restricted to kinds and passed
// through the anonymizer when one is set.
func (t *Tracker) Snapshot(kinds []string) map[string]any {
	t.mu.Lock()
	env := t.env
	counts := make(map[Kind]int, len(t.counts))
	for k, v := range t.counts {
		counts[k] = v
	}
	engaged := t.engaged
	if t.tracking {
		engaged += t.tailLocked(t.now())
	}
	hidden := t.hidden
	startedAt := t.startedAt
	anon := t.anon
	t.mu.Unlock()

	out := map[string]any{}
	for _, k := range kinds {
		switch k {
		case SignalLanguage:
			out["language"] = map[string]any{
				"browser":  firstLanguage(env.Languages, ""),
				"detected": firstLanguage(env.Languages, fallbackLanguage),
			}
		case SignalBrowserType:
			out["browserInfo"] = map[string]any{
				"userAgent":        env.UserAgent,
				"platform":         env.Platform,
				"languages":        append([]string(nil), env.Languages...),
				"cookiesEnabled":   env.CookiesEnabled,
				"screenResolution": env.ScreenResolution,
				"colorDepth":       env.ColorDepth,
			}
			out["deviceType"] = DeviceType(env.UserAgent)
		case SignalContentCategory:
			if env.ContentCategory != "" {
				out["contentCategory"] = env.ContentCategory
			}
		case SignalInteractionPatterns:
			out["interactionPatterns"] = map[string]any{
				"engagedSeconds": engaged.Seconds(),
				"mouseMoves":     counts[MouseMove],
				"scrolls":        counts[Scroll],
				"keyPresses":     counts[KeyPress],
				"hidden":         hidden,
				"startedAt":      startedAt.UnixMilli(),
			}
		}
	}
	if anon != nil {
		return anon.Anonymize(out)
	}
	return out
}

// DeviceType classifies a user agent as "mobile" or "desktop".
func DeviceType(userAgent string) string {
	if mobileUA.MatchString(userAgent) {
		return "mobile"
	}
	return "desktop"
}

func firstLanguage(langs []string, def string) string {
	for _, l := range langs {
		if l != "" {
			return l
		}
	}
	return def
}
