// Package task builds labeling task descriptors and tracks daily counters.
package task

import "time"

type Status string

const (
	StatusCreated   Status = "created"
	StatusCompleted Status = "completed"
)

type Complexity string

const (
	ComplexityLow    Complexity = "low"
	ComplexityMedium Complexity = "medium"
	ComplexityHigh   Complexity = "high"
)

// Task describes a single labeling prompt.
//
// Status only moves created -> completed. After Create returns it the caller
// owns the Task; only RecordCompletion mutates it afterwards.
type Task struct {
	ID              string         `json:"id"`
	Type            string         `json:"type"`
	Category        string         `json:"category"`
	Metadata        map[string]any `json:"metadata"`
	CreatedAt       time.Time      `json:"createdAt"`
	Status          Status         `json:"status"`
	DurationSeconds int            `json:"durationSeconds"`
	Complexity      Complexity     `json:"complexity"`

	CompletedAt *time.Time     `json:"completedAt,omitempty"`
	Response    map[string]any `json:"response,omitempty"`
}

// Options are the caller-supplied parts of a trigger request.
// Empty fields fall back to configured defaults.
type Options struct {
	TaskType string         `json:"taskType,omitempty"`
	Category string         `json:"category,omitempty"`
	Metadata map[string]any `json:"metadata,omitempty"`
}

// Counters is the per-day bookkeeping. It is not synchronized; the
// scheduler serializes access.
type Counters struct {
	TasksCreatedToday int
	LastTaskAt        time.Time // zero until the first task
}

// Reset zeroes the daily count. LastTaskAt is kept for diagnostics.
func (c *Counters) Reset() { c.TasksCreatedToday = 0 }
