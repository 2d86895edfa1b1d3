package model

import "time"

// Session lifecycle status, owned by the session API until the reconciler
// reaches a terminal decision.
const (
	StatusPending   = "pending"
	StatusActive    = "active"
	StatusCompleted = "completed"
	StatusFailed    = "failed"
)

// Fetch status tracks reconciliation progress separately from lifecycle.
// Transitions only move forward: not_fetched|retry -> fetched|failed.
const (
	FetchNotFetched = "not_fetched"
	FetchRetry      = "retry"
	FetchFetched    = "fetched"
	FetchFailed     = "failed"
)

// Attempt outcome status values recorded in the fetch log.
const (
	AttemptSuccess    = "success"
	AttemptNoData     = "no_data"
	AttemptError      = "error"
	AttemptAuthFailed = "auth_failed"
)

// ManualAttempt is the reserved attempt number for user-triggered syncs.
// It is outside the 1..MaxAttempts range and never counts toward exhaustion.
const ManualAttempt = 99

// MaxAttempts is the automated attempt ceiling per session.
const MaxAttempts = 5

// User holds the provider credential fields the credential manager owns.
type User struct {
	ID           string    `json:"user_id"`
	Email        string    `json:"email,omitempty"`
	Name         string    `json:"name,omitempty"`
	AccessToken  string    `json:"-"`
	RefreshToken string    `json:"-"`
	TokenExpiry  time.Time `json:"-"` // zero when unknown
}

// Session is a bounded interval during which a user's heart-rate samples
// are collected.
type Session struct {
	ID          string     `json:"id"`
	UserID      string     `json:"user_id"`
	StartTime   time.Time  `json:"start_time"`
	EndTime     *time.Time `json:"end_time,omitempty"`
	Status      string     `json:"status"`
	FetchStatus string     `json:"fetch_status"`
}

// AttemptRecord is one append-only fetch log entry. Attempt numbers for a
// session are assigned as max(existing automated)+1 and never reused; the
// log is the sole source of truth for how many automated attempts ran.
type AttemptRecord struct {
	ID            int64     `json:"id"`
	SessionID     string    `json:"session_id"`
	UserID        string    `json:"user_id"`
	AttemptNumber int       `json:"attempt_number"`
	Status        string    `json:"status"`
	Message       string    `json:"message,omitempty"`
	CreatedAt     time.Time `json:"created_at"`
}

// SamplePoint is a single heart-rate reading. Points are deduplicated on
// (user, session, timestamp); re-inserting a duplicate is a no-op.
type SamplePoint struct {
	UserID    string    `json:"user_id"`
	SessionID string    `json:"session_id"`
	BPM       float64   `json:"bpm"`
	Timestamp time.Time `json:"timestamp"`
	Source    string    `json:"source"`
}

// Result is the per-session aggregate. One row per session; recomputing
// overwrites the previous value.
type Result struct {
	UserID    string    `json:"user_id"`
	SessionID string    `json:"session_id"`
	MeanBPM   float64   `json:"mean_bpm"`
	UpdatedAt time.Time `json:"updated_at"`
}
