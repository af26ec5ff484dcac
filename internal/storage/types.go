package storage

import (
	"errors"
	"time"
)

var ErrDisabled = errors.New("storage disabled")

// Config configures storage.
//
// Driver values:
//   - "file": dependency-free JSON Lines backend
//   - "sqlite": SQLite database file (modernc.org/sqlite, no cgo)
//   - "redis": Redis server at Addr
//
// If Driver is empty or "none", storage is disabled.
type Config struct {
	Driver      string
	Path        string
	Addr        string
	BusyTimeout time.Duration // sqlite only; 0 means default
}

// Session keys written by the scheduler.
const (
	SessionKeyID      = "hotlabel_session"
	SessionKeyConsent = "hotlabel_consent"
)

// CompletionRecord is the persisted form of a completed task.
// Keep it compact and schema-stable.
type CompletionRecord struct {
	TaskID          string    `json:"task_id"`
	SessionID       string    `json:"session_id,omitempty"`
	PublisherID     string    `json:"publisher_id"`
	Type            string    `json:"type"`
	Category        string    `json:"category"`
	Complexity      string    `json:"complexity"`
	DurationSeconds int       `json:"duration_seconds"`
	CreatedAt       time.Time `json:"created_at"`
	CompletedAt     time.Time `json:"completed_at"`
	MetaJSON        string    `json:"meta,omitempty"`
	ResponseJSON    string    `json:"response,omitempty"`
}
