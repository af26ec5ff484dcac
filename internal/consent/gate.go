package consent

import (
	"context"
	"sync"

	logx "hotlabel/pkg/logx"
)

// Prompter asks the visitor a yes/no consent question.
// Prompt may block; it should honor ctx cancellation.
type Prompter interface {
	Prompt(ctx context.Context) (bool, error)
}

// PrompterFunc adapts a function to Prompter.
type PrompterFunc func(ctx context.Context) (bool, error)

func (f PrompterFunc) Prompt(ctx context.Context) (bool, error) { return f(ctx) }

// SessionStore holds session-scoped identifiers that must be purged on opt-out.
type SessionStore interface {
	Purge(ctx context.Context) error
}

// Options configures a Gate. Nil fields take the documented defaults.
type Options struct {
	Anonymize         *bool // default true
	ConsentRequired   *bool // default true
	DataRetentionDays *int  // default 30
}

// Settings is the effective configuration after defaults.
type Settings struct {
	Anonymize         bool
	ConsentRequired   bool
	DataRetentionDays int
}

const DefaultRetentionDays = 30

// Gate is the consent state machine.
//
// Once OptOut has been called, CheckConsent fails until the Gate is
// reconfigured with Reset. It is safe for concurrent use; a pending prompt
// blocks other CheckConsent calls so a decision is never raced.
type Gate struct {
	mu sync.Mutex

	log      logx.Logger
	prompter Prompter
	store    SessionStore

	settings     Settings
	optedOut     bool
	consentGiven *bool // nil = not asked yet
}

// NewGate returns a Gate configured with defaults.
// A nil prompter denies consent whenever it is required.
func NewGate(prompter Prompter, store SessionStore, log logx.Logger) *Gate {
	g := &Gate{prompter: prompter, store: store, log: log}
	g.Configure(Options{})
	return g
}

// Configure stores privacy settings, substituting defaults for unset fields.
func (g *Gate) Configure(o Options) {
	s := Settings{Anonymize: true, ConsentRequired: true, DataRetentionDays: DefaultRetentionDays}
	if o.Anonymize != nil {
		s.Anonymize = *o.Anonymize
	}
	if o.ConsentRequired != nil {
		s.ConsentRequired = *o.ConsentRequired
	}
	if o.DataRetentionDays != nil {
		s.DataRetentionDays = *o.DataRetentionDays
	}
	g.mu.Lock()
	g.settings = s
	g.mu.Unlock()
}

// Settings returns the effective settings.
func (g *Gate) Settings() Settings {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.settings
}

// Reset clears the opt-out flag and the cached answer. Only an explicit
// re-init of the scheduler calls this.
func (g *Gate) Reset() {
	g.mu.Lock()
	g.optedOut = false
	g.consentGiven = nil
	g.mu.Unlock()
}

// OptedOut reports whether OptOut has been called since the last Reset.
func (g *Gate) OptedOut() bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.optedOut
}

// CheckConsent reports whether tasks may be shown.
//
// The visitor is prompted at most once per session: both answers are cached.
// A prompt error denies this request without caching, so the next call asks again.
func (g *Gate) CheckConsent(ctx context.Context) bool {
	g.mu.Lock()
	defer g.mu.Unlock()

	if g.optedOut {
		return false
	}
	if !g.settings.ConsentRequired {
		return true
	}
	if g.consentGiven != nil {
		return *g.consentGiven
	}
	if g.prompter == nil {
		g.log.Debug("consent required but no prompter configured")
		return false
	}

	ok, err := g.prompter.Prompt(ctx)
	if err != nil {
		g.log.Warn("consent prompt failed", logx.Err(err))
		return false
	}
	g.consentGiven = &ok
	g.log.Debug("consent decided", logx.Bool("given", ok))
	return ok
}

// OptOut disables consent for the rest of the session and purges stored
// session identifiers. Calling it again purges again and is otherwise a no-op.
func (g *Gate) OptOut(ctx context.Context) {
	g.mu.Lock()
	first := !g.optedOut
	g.optedOut = true
	g.consentGiven = nil
	store := g.store
	g.mu.Unlock()

	if first {
		g.log.Info("visitor opted out")
	}
	if store == nil {
		return
	}
	if err := store.Purge(ctx); err != nil {
		g.log.Warn("session purge failed", logx.Err(err))
	}
}
