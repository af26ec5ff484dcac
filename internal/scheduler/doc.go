// Package scheduler orchestrates consent, eligibility and task creation for
// one visitor session.
//
// A Scheduler starts uninitialized. Init resolves and validates the engine
// configuration; only then do Trigger and Complete do anything. Consent state
// and the daily counters are guarded by a single mutex, and the midnight
// reset runs as a robfig/cron job that takes the same lock.
//
// In scheduled mode the Scheduler also fires Trigger on its own according to
// triggerOptions.frequency. Tasks it creates that way reach the Presenter
// exactly like caller-driven ones.
package scheduler
