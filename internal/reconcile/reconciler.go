// Package reconcile implements the per-session fetch-classify-persist state
// machine and the periodic scheduler that drives it.
package reconcile

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"

	"heartsync/internal/auth"
	"heartsync/internal/model"
	"heartsync/internal/provider"
	"heartsync/pkg/utils"
)

// maxMessageLen bounds the free-text message stored with each attempt.
const maxMessageLen = 1000

// TokenSource yields a currently valid access token for a user.
type TokenSource interface {
	GetValidToken(ctx context.Context, userID string) (string, error)
}

// SampleSource retrieves raw points for a time window.
type SampleSource interface {
	FetchSamples(ctx context.Context, token string, windowStart, windowEnd time.Time) ([]provider.Point, error)
}

// Store is the slice of the record store the reconciler and scheduler need.
type Store interface {
	UpdateSessionStatus(sessionID, fetchStatus, lifecycle string) error
	AppendAttempt(rec model.AttemptRecord) error
	InsertSamplePoint(p model.SamplePoint) (bool, error)
	SessionMean(userID, sessionID string) (float64, int, error)
	UpsertResult(userID, sessionID string, meanBPM float64) error
	MaxAttemptNumber(sessionID string) (int, error)
	ListDueSessions(now time.Time) ([]model.Session, error)
}

// Clock abstracts time so eligibility decisions are deterministic in tests.
type Clock interface {
	Now() time.Time
}

// SystemClock is the production clock.
type SystemClock struct{}

func (SystemClock) Now() time.Time { return time.Now().UTC() }

// Outcome summarizes one reconciliation attempt for the caller. The manual
// sync endpoint surfaces it directly to the user.
type Outcome struct {
	Success      bool    `json:"success"`
	Inserted     int     `json:"inserted,omitempty"`
	MeanBPM      float64 `json:"mean_bpm,omitempty"`
	Reason       string  `json:"reason,omitempty"`
	FinalAttempt bool    `json:"final_attempt,omitempty"`
}

// Reconciler runs the state machine for one (session, attempt) pair. It has
// no retry logic of its own; all retrying is emergent from the scheduler
// re-invoking it across ticks.
type Reconciler struct {
	store   Store
	tokens  TokenSource
	samples SampleSource
	buffer  time.Duration
}

// NewReconciler wires a Reconciler. buffer is the symmetric padding added
// to the fetch window only; it never widens the stored-data filter.
func NewReconciler(store Store, tokens TokenSource, samples SampleSource, buffer time.Duration) *Reconciler {
	return &Reconciler{store: store, tokens: tokens, samples: samples, buffer: buffer}
}

// Process executes one reconciliation attempt. attemptNumber is 1-based for
// automated attempts; model.ManualAttempt marks a user-triggered sync that
// never counts toward exhaustion. The returned error covers persistence
// faults only; fetch and credential failures are absorbed into the Outcome
// and the session's recorded state.
func (r *Reconciler) Process(ctx context.Context, session model.Session, attemptNumber int) (Outcome, error) {
	if session.EndTime == nil {
		return Outcome{}, fmt.Errorf("session %s has no end time", session.ID)
	}
	start, end := session.StartTime, *session.EndTime

	log.Printf("reconcile: processing session %s, attempt %d", session.ID, attemptNumber)

	token, err := r.tokens.GetValidToken(ctx, session.UserID)
	if err != nil {
		// A missing user or dead refresh token can never be fixed by
		// retrying; a transient refresh failure goes through the normal
		// retry branch instead.
		if errors.Is(err, auth.ErrUserNotFound) || errors.Is(err, auth.ErrReauthRequired) {
			return r.authFailed(session, attemptNumber, err)
		}
		return r.fetchFailed(session, attemptNumber, err)
	}

	points, err := r.samples.FetchSamples(ctx, token, start.Add(-r.buffer), end.Add(r.buffer))
	if err != nil {
		var apiErr *provider.APIError
		if errors.As(err, &apiErr) && apiErr.AuthFailure() {
			return r.authFailed(session, attemptNumber, err)
		}
		return r.fetchFailed(session, attemptNumber, err)
	}

	// Keep only numeric points inside the unbuffered session interval; the
	// buffer tolerates provider clock skew on the fetch, never in the data.
	inserted := 0
	for _, p := range points {
		if p.Value == nil {
			continue
		}
		ts := p.Time()
		if ts.Before(start) || ts.After(end) {
			continue
		}
		if _, err := r.store.InsertSamplePoint(model.SamplePoint{
			UserID:    session.UserID,
			SessionID: session.ID,
			BPM:       *p.Value,
			Timestamp: ts,
			Source:    p.Origin,
		}); err != nil {
			return Outcome{}, fmt.Errorf("insert point for session %s: %w", session.ID, err)
		}
		inserted++
	}

	if inserted > 0 {
		return r.succeeded(session, attemptNumber, inserted)
	}
	return r.noData(session, attemptNumber)
}

func (r *Reconciler) succeeded(session model.Session, attemptNumber, inserted int) (Outcome, error) {
	mean, count, err := r.store.SessionMean(session.UserID, session.ID)
	if err != nil {
		return Outcome{}, fmt.Errorf("compute mean for session %s: %w", session.ID, err)
	}
	if err := r.store.UpsertResult(session.UserID, session.ID, mean); err != nil {
		return Outcome{}, fmt.Errorf("upsert result for session %s: %w", session.ID, err)
	}
	if err := r.store.UpdateSessionStatus(session.ID, model.FetchFetched, model.StatusCompleted); err != nil {
		return Outcome{}, fmt.Errorf("mark session %s fetched: %w", session.ID, err)
	}
	msg := fmt.Sprintf("Inserted %d points (%d stored), mean BPM: %.2f", inserted, count, mean)
	if err := r.logAttempt(session, attemptNumber, model.AttemptSuccess, msg); err != nil {
		return Outcome{}, err
	}
	log.Printf("reconcile: ✓ session %s completed: %s", session.ID, msg)
	return Outcome{Success: true, Inserted: inserted, MeanBPM: mean}, nil
}

func (r *Reconciler) noData(session model.Session, attemptNumber int) (Outcome, error) {
	final := isFinalAttempt(attemptNumber)
	if final {
		if err := r.store.UpdateSessionStatus(session.ID, model.FetchFailed, model.StatusFailed); err != nil {
			return Outcome{}, fmt.Errorf("mark session %s failed: %w", session.ID, err)
		}
	} else {
		if err := r.store.UpdateSessionStatus(session.ID, model.FetchRetry, ""); err != nil {
			return Outcome{}, fmt.Errorf("mark session %s retry: %w", session.ID, err)
		}
	}
	msg := "No heart rate data found. Will retry."
	if final {
		msg = "No heart rate data found. Final attempt."
	}
	if err := r.logAttempt(session, attemptNumber, model.AttemptNoData, msg); err != nil {
		return Outcome{}, err
	}
	log.Printf("reconcile: ⚠ session %s: no data (attempt %d/%d)", session.ID, attemptNumber, model.MaxAttempts)
	return Outcome{Reason: "no_data", FinalAttempt: final}, nil
}

// fetchFailed handles generic fetch or transient credential errors with the
// same final-vs-retry branching as the no-data path.
func (r *Reconciler) fetchFailed(session model.Session, attemptNumber int, cause error) (Outcome, error) {
	final := isFinalAttempt(attemptNumber)
	if final {
		if err := r.store.UpdateSessionStatus(session.ID, model.FetchFailed, model.StatusFailed); err != nil {
			return Outcome{}, fmt.Errorf("mark session %s failed: %w", session.ID, err)
		}
	} else {
		if err := r.store.UpdateSessionStatus(session.ID, model.FetchRetry, ""); err != nil {
			return Outcome{}, fmt.Errorf("mark session %s retry: %w", session.ID, err)
		}
	}
	if err := r.logAttempt(session, attemptNumber, model.AttemptError, cause.Error()); err != nil {
		return Outcome{}, err
	}
	log.Printf("reconcile: ✗ session %s failed (attempt %d): %v", session.ID, attemptNumber, cause)
	return Outcome{Reason: "error", FinalAttempt: final}, nil
}

// authFailed terminates the session: a rejected credential cannot succeed
// on a later attempt without the user re-authorizing.
func (r *Reconciler) authFailed(session model.Session, attemptNumber int, cause error) (Outcome, error) {
	if err := r.store.UpdateSessionStatus(session.ID, model.FetchFailed, model.StatusFailed); err != nil {
		return Outcome{}, fmt.Errorf("mark session %s failed: %w", session.ID, err)
	}
	if err := r.logAttempt(session, attemptNumber, model.AttemptAuthFailed, cause.Error()); err != nil {
		return Outcome{}, err
	}
	log.Printf("reconcile: ✗ session %s auth failed: %v", session.ID, cause)
	return Outcome{Reason: "auth_required", FinalAttempt: true}, nil
}

func (r *Reconciler) logAttempt(session model.Session, attemptNumber int, status, message string) error {
	err := r.store.AppendAttempt(model.AttemptRecord{
		SessionID:     session.ID,
		UserID:        session.UserID,
		AttemptNumber: attemptNumber,
		Status:        status,
		Message:       utils.Truncate(message, maxMessageLen),
	})
	if err != nil {
		return fmt.Errorf("log attempt %d for session %s: %w", attemptNumber, session.ID, err)
	}
	return nil
}

// isFinalAttempt reports whether this automated attempt exhausts the ceiling.
// Manual attempts never exhaust anything.
func isFinalAttempt(attemptNumber int) bool {
	return attemptNumber != model.ManualAttempt && attemptNumber >= model.MaxAttempts
}
