package reconcile

import (
	"context"
	"log"
	"time"

	"heartsync/internal/model"
)

// backoffDelays is the fixed schedule, in minutes after session end, before
// attempt N becomes eligible. Attempts past the table reuse the last entry.
var backoffDelays = []time.Duration{
	15 * time.Minute,
	30 * time.Minute,
	60 * time.Minute,
	360 * time.Minute,
	720 * time.Minute,
}

// BackoffDelay returns how long after session end attempt attemptNumber
// becomes eligible.
func BackoffDelay(attemptNumber int) time.Duration {
	if attemptNumber < 1 || attemptNumber > len(backoffDelays) {
		return backoffDelays[len(backoffDelays)-1]
	}
	return backoffDelays[attemptNumber-1]
}

// startupDelay is how soon after process start the first check runs.
const startupDelay = 5 * time.Second

// Scheduler periodically scans pending sessions and hands due ones to the
// Reconciler. It keeps no in-memory attempt state: counts are derived from
// the durable attempt log every tick, so a restart resumes exactly where
// the log left off.
type Scheduler struct {
	store      Store
	reconciler *Reconciler
	tick       time.Duration
	clock      Clock
}

// NewScheduler wires a Scheduler with the given tick period.
func NewScheduler(store Store, reconciler *Reconciler, tick time.Duration) *Scheduler {
	return &Scheduler{store: store, reconciler: reconciler, tick: tick, clock: SystemClock{}}
}

// WithClock replaces the scheduler's clock. Intended for tests.
func (s *Scheduler) WithClock(c Clock) *Scheduler {
	s.clock = c
	return s
}

// Run drives the loop until ctx is cancelled: one check shortly after
// startup, then one per tick.
func (s *Scheduler) Run(ctx context.Context) {
	log.Printf("scheduler: started, checking for syncs every %v", s.tick)

	startup := time.NewTimer(startupDelay)
	defer startup.Stop()
	select {
	case <-ctx.Done():
		return
	case <-startup.C:
		s.RunTick(ctx)
	}

	ticker := time.NewTicker(s.tick)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			log.Printf("scheduler: stopped")
			return
		case <-ticker.C:
			s.RunTick(ctx)
		}
	}
}

// RunTick performs one sync check: list candidates, decide eligibility per
// session against the backoff schedule, and process the due ones
// sequentially. A failure on one session never aborts the rest of the tick.
func (s *Scheduler) RunTick(ctx context.Context) {
	now := s.clock.Now()
	sessions, err := s.store.ListDueSessions(now)
	if err != nil {
		log.Printf("scheduler: list sessions: %v", err)
		return
	}
	if len(sessions) > 0 {
		log.Printf("scheduler: found %d sessions to check", len(sessions))
	}

	for _, session := range sessions {
		s.processOne(ctx, session, now)
		if ctx.Err() != nil {
			return
		}
	}
}

func (s *Scheduler) processOne(ctx context.Context, session model.Session, now time.Time) {
	defer func() {
		if rec := recover(); rec != nil {
			log.Printf("scheduler: panic processing session %s: %v", session.ID, rec)
		}
	}()

	attemptCount, err := s.store.MaxAttemptNumber(session.ID)
	if err != nil {
		log.Printf("scheduler: attempt count for session %s: %v", session.ID, err)
		return
	}
	if attemptCount >= model.MaxAttempts {
		// Should already be terminal; guards against a racing manual sync
		// having landed between the query and here.
		log.Printf("scheduler: session %s already exhausted all attempts", session.ID)
		return
	}

	nextAttempt := attemptCount + 1
	dueTime := session.EndTime.Add(BackoffDelay(nextAttempt))
	if now.Before(dueTime) {
		return
	}

	log.Printf("scheduler: ⏰ processing session %s (attempt %d/%d)", session.ID, nextAttempt, model.MaxAttempts)
	if _, err := s.reconciler.Process(ctx, session, nextAttempt); err != nil {
		log.Printf("scheduler: session %s attempt %d: %v", session.ID, nextAttempt, err)
	}
}
