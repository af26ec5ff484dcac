// Package policy decides whether a new task may be created right now.
package policy

import (
	"math"

	"hotlabel/internal/config"
)

// Reason is the outcome of an eligibility check.
// Only Eligible allows creation; every other value is a normal "no task"
// outcome, never an error.
type Reason int

const (
	Eligible Reason = iota
	QuotaExceeded
	InteractionTooShort
	// ConsentDenied is produced by the scheduler, not by Evaluate. It lives
	// here so every "no task" outcome shares one vocabulary.
	ConsentDenied
)

func (r Reason) String() string {
	switch r {
	case Eligible:
		return "eligible"
	case QuotaExceeded:
		return "quota_exceeded"
	case InteractionTooShort:
		return "interaction_too_short"
	case ConsentDenied:
		return "consent_denied"
	default:
		return "unknown"
	}
}

// Evaluate is a pure function of its inputs:
//  1. tasksToday >= maxTasksPerDay fails with QuotaExceeded.
//  2. In adaptive mode, interactionSeconds < minInteractionTimeSeconds fails
//     with InteractionTooShort.
//
// Manual and scheduled modes have no interaction gate. A NaN or negative
// interactionSeconds counts as no engagement.
func Evaluate(tasksToday int, trigger config.TriggerOptions, interactionSeconds float64) Reason {
	if tasksToday >= trigger.MaxTasksPerDay {
		return QuotaExceeded
	}
	if math.IsNaN(interactionSeconds) || interactionSeconds < 0 {
		interactionSeconds = 0
	}
	if trigger.Mode == config.ModeAdaptive && interactionSeconds < trigger.MinInteractionTimeSeconds {
		return InteractionTooShort
	}
	return Eligible
}

// CanCreate reports whether Evaluate allows creation.
func CanCreate(tasksToday int, trigger config.TriggerOptions, interactionSeconds float64) bool {
	return Evaluate(tasksToday, trigger, interactionSeconds) == Eligible
}
