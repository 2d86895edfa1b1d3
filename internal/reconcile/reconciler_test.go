package reconcile_test

import (
	"context"
	"fmt"
	"strings"
	"testing"
	"time"

	"heartsync/internal/auth"
	"heartsync/internal/model"
	"heartsync/internal/provider"
	"heartsync/internal/reconcile"
)

// fakeStore is an in-memory record store deriving the same invariants the
// SQLite store enforces: insert-ignore dedup, automated-attempt counting
// from the log, due-session filtering on fetch status and end time.
type fakeStore struct {
	sessions map[string]*model.Session
	attempts []model.AttemptRecord
	points   map[string]float64 // key user|session|ts -> bpm
	results  map[string]float64 // key session -> mean
}

func newFakeStore(sessions ...model.Session) *fakeStore {
	s := &fakeStore{
		sessions: make(map[string]*model.Session),
		points:   make(map[string]float64),
		results:  make(map[string]float64),
	}
	for i := range sessions {
		sess := sessions[i]
		s.sessions[sess.ID] = &sess
	}
	return s
}

func (s *fakeStore) UpdateSessionStatus(sessionID, fetchStatus, lifecycle string) error {
	sess, ok := s.sessions[sessionID]
	if !ok {
		return fmt.Errorf("no session %s", sessionID)
	}
	sess.FetchStatus = fetchStatus
	if lifecycle != "" {
		sess.Status = lifecycle
	}
	return nil
}

func (s *fakeStore) AppendAttempt(rec model.AttemptRecord) error {
	s.attempts = append(s.attempts, rec)
	return nil
}

func (s *fakeStore) InsertSamplePoint(p model.SamplePoint) (bool, error) {
	key := p.UserID + "|" + p.SessionID + "|" + p.Timestamp.Format(time.RFC3339Nano)
	if _, exists := s.points[key]; exists {
		return false, nil
	}
	s.points[key] = p.BPM
	return true, nil
}

func (s *fakeStore) SessionMean(userID, sessionID string) (float64, int, error) {
	prefix := userID + "|" + sessionID + "|"
	sum, count := 0.0, 0
	for key, bpm := range s.points {
		if strings.HasPrefix(key, prefix) {
			sum += bpm
			count++
		}
	}
	if count == 0 {
		return 0, 0, nil
	}
	return sum / float64(count), count, nil
}

func (s *fakeStore) UpsertResult(userID, sessionID string, meanBPM float64) error {
	s.results[sessionID] = meanBPM
	return nil
}

func (s *fakeStore) MaxAttemptNumber(sessionID string) (int, error) {
	max := 0
	for _, rec := range s.attempts {
		if rec.SessionID == sessionID && rec.AttemptNumber >= 1 && rec.AttemptNumber <= model.MaxAttempts && rec.AttemptNumber > max {
			max = rec.AttemptNumber
		}
	}
	return max, nil
}

func (s *fakeStore) ListDueSessions(now time.Time) ([]model.Session, error) {
	var due []model.Session
	for _, sess := range s.sessions {
		if sess.FetchStatus != model.FetchNotFetched && sess.FetchStatus != model.FetchRetry {
			continue
		}
		if sess.EndTime == nil || sess.EndTime.After(now) {
			continue
		}
		due = append(due, *sess)
	}
	return due, nil
}

func (s *fakeStore) lastAttempt(t *testing.T) model.AttemptRecord {
	t.Helper()
	if len(s.attempts) == 0 {
		t.Fatal("no attempt recorded")
	}
	return s.attempts[len(s.attempts)-1]
}

type fakeTokens struct {
	token string
	err   error
	calls int
}

func (f *fakeTokens) GetValidToken(ctx context.Context, userID string) (string, error) {
	f.calls++
	if f.err != nil {
		return "", f.err
	}
	return f.token, nil
}

type fakeSamples struct {
	points    []provider.Point
	err       error
	calls     int
	lastStart time.Time
	lastEnd   time.Time
}

func (f *fakeSamples) FetchSamples(ctx context.Context, token string, windowStart, windowEnd time.Time) ([]provider.Point, error) {
	f.calls++
	f.lastStart, f.lastEnd = windowStart, windowEnd
	if f.err != nil {
		return nil, f.err
	}
	return f.points, nil
}

func fval(v float64) *float64 { return &v }

func pointAt(ts time.Time, v *float64) provider.Point {
	return provider.Point{StartNanos: ts.UnixNano(), Value: v, Origin: "google_fit"}
}

var (
	sessStart = time.Date(2026, 8, 28, 12, 0, 0, 0, time.UTC)
	sessEnd   = time.Date(2026, 8, 28, 12, 20, 0, 0, time.UTC)
)

func testSession(id string) model.Session {
	end := sessEnd
	return model.Session{
		ID:          id,
		UserID:      "u1",
		StartTime:   sessStart,
		EndTime:     &end,
		Status:      model.StatusPending,
		FetchStatus: model.FetchNotFetched,
	}
}

const buffer = 15 * time.Minute

func TestProcessSuccessFiltersToUnbufferedWindow(t *testing.T) {
	t.Parallel()
	store := newFakeStore(testSession("s1"))
	tokens := &fakeTokens{token: "tok"}
	samples := &fakeSamples{points: []provider.Point{
		pointAt(sessStart.Add(-10*time.Minute), fval(65)), // buffer only, filtered
		pointAt(sessStart.Add(5*time.Minute), fval(70)),   // kept
		pointAt(sessEnd, fval(90)),                        // boundary, kept
		pointAt(sessEnd.Add(time.Minute), fval(100)),      // after end, filtered
		pointAt(sessStart.Add(6*time.Minute), nil),        // non-numeric, filtered
	}}
	r := reconcile.NewReconciler(store, tokens, samples, buffer)

	outcome, err := r.Process(context.Background(), *store.sessions["s1"], 3)
	if err != nil {
		t.Fatalf("process: %v", err)
	}
	if !outcome.Success || outcome.Inserted != 2 {
		t.Fatalf("unexpected outcome: %+v", outcome)
	}
	if outcome.MeanBPM != 80 {
		t.Fatalf("mean = %v, want 80", outcome.MeanBPM)
	}

	// Fetch window is the session expanded by the buffer on each side.
	if !samples.lastStart.Equal(sessStart.Add(-buffer)) || !samples.lastEnd.Equal(sessEnd.Add(buffer)) {
		t.Fatalf("fetch window [%v, %v] not buffered", samples.lastStart, samples.lastEnd)
	}

	sess := store.sessions["s1"]
	if sess.FetchStatus != model.FetchFetched || sess.Status != model.StatusCompleted {
		t.Fatalf("session state = %s/%s, want fetched/completed", sess.FetchStatus, sess.Status)
	}
	if store.results["s1"] != 80 {
		t.Fatalf("result = %v, want 80", store.results["s1"])
	}

	rec := store.lastAttempt(t)
	if rec.Status != model.AttemptSuccess || rec.AttemptNumber != 3 {
		t.Fatalf("attempt record = %+v", rec)
	}
	if !strings.Contains(rec.Message, "mean BPM") {
		t.Fatalf("success message should summarize mean, got %q", rec.Message)
	}
}

func TestProcessRedeliveryIsIdempotent(t *testing.T) {
	t.Parallel()
	store := newFakeStore(testSession("s1"))
	tokens := &fakeTokens{token: "tok"}
	samples := &fakeSamples{points: []provider.Point{
		pointAt(sessStart.Add(5*time.Minute), fval(70)),
		pointAt(sessStart.Add(10*time.Minute), fval(90)),
	}}
	r := reconcile.NewReconciler(store, tokens, samples, buffer)

	if _, err := r.Process(context.Background(), *store.sessions["s1"], 1); err != nil {
		t.Fatalf("first process: %v", err)
	}
	// A manual re-sync re-delivers the same points; no new rows, same mean,
	// still a success for the caller.
	outcome, err := r.Process(context.Background(), *store.sessions["s1"], model.ManualAttempt)
	if err != nil {
		t.Fatalf("second process: %v", err)
	}
	if !outcome.Success {
		t.Fatalf("re-sync should report success: %+v", outcome)
	}
	if len(store.points) != 2 {
		t.Fatalf("duplicate delivery created rows: %d", len(store.points))
	}
	if store.results["s1"] != 80 {
		t.Fatalf("mean changed on re-delivery: %v", store.results["s1"])
	}
}

func TestProcessNoDataRetriesUntilExhausted(t *testing.T) {
	t.Parallel()
	store := newFakeStore(testSession("s1"))
	tokens := &fakeTokens{token: "tok"}
	samples := &fakeSamples{} // zero points
	r := reconcile.NewReconciler(store, tokens, samples, buffer)

	outcome, err := r.Process(context.Background(), *store.sessions["s1"], 2)
	if err != nil {
		t.Fatalf("process: %v", err)
	}
	if outcome.Success || outcome.Reason != "no_data" || outcome.FinalAttempt {
		t.Fatalf("unexpected outcome: %+v", outcome)
	}
	sess := store.sessions["s1"]
	if sess.FetchStatus != model.FetchRetry {
		t.Fatalf("fetch status = %s, want retry", sess.FetchStatus)
	}
	if sess.Status != model.StatusPending {
		t.Fatalf("lifecycle must be untouched on retry, got %s", sess.Status)
	}
	rec := store.lastAttempt(t)
	if rec.Status != model.AttemptNoData || !strings.Contains(rec.Message, "Will retry") {
		t.Fatalf("attempt record = %+v", rec)
	}

	// The fifth attempt is final.
	outcome, err = r.Process(context.Background(), *store.sessions["s1"], model.MaxAttempts)
	if err != nil {
		t.Fatalf("process: %v", err)
	}
	if !outcome.FinalAttempt {
		t.Fatalf("attempt %d should be final: %+v", model.MaxAttempts, outcome)
	}
	sess = store.sessions["s1"]
	if sess.FetchStatus != model.FetchFailed || sess.Status != model.StatusFailed {
		t.Fatalf("session state = %s/%s, want failed/failed", sess.FetchStatus, sess.Status)
	}
	rec = store.lastAttempt(t)
	if !strings.Contains(rec.Message, "Final attempt") {
		t.Fatalf("final message = %q", rec.Message)
	}
}

func TestProcessManualAttemptNeverExhausts(t *testing.T) {
	t.Parallel()
	store := newFakeStore(testSession("s1"))
	tokens := &fakeTokens{token: "tok"}
	samples := &fakeSamples{}
	r := reconcile.NewReconciler(store, tokens, samples, buffer)

	outcome, err := r.Process(context.Background(), *store.sessions["s1"], model.ManualAttempt)
	if err != nil {
		t.Fatalf("process: %v", err)
	}
	// 99 >= 5 numerically, but the sentinel is exempt from the ceiling.
	if outcome.FinalAttempt {
		t.Fatalf("manual attempt treated as final: %+v", outcome)
	}
	if store.sessions["s1"].FetchStatus != model.FetchRetry {
		t.Fatalf("fetch status = %s, want retry", store.sessions["s1"].FetchStatus)
	}
	rec := store.lastAttempt(t)
	if rec.AttemptNumber != model.ManualAttempt {
		t.Fatalf("attempt number = %d, want sentinel %d", rec.AttemptNumber, model.ManualAttempt)
	}

	// And it never moves the automated counter.
	max, _ := store.MaxAttemptNumber("s1")
	if max != 0 {
		t.Fatalf("manual attempt leaked into automated count: %d", max)
	}
}

func TestProcessReauthRequiredIsTerminal(t *testing.T) {
	t.Parallel()
	store := newFakeStore(testSession("s1"))
	tokens := &fakeTokens{err: fmt.Errorf("%w: no refresh token", auth.ErrReauthRequired)}
	samples := &fakeSamples{}
	r := reconcile.NewReconciler(store, tokens, samples, buffer)

	outcome, err := r.Process(context.Background(), *store.sessions["s1"], 1)
	if err != nil {
		t.Fatalf("process: %v", err)
	}
	if outcome.Reason != "auth_required" || !outcome.FinalAttempt {
		t.Fatalf("unexpected outcome: %+v", outcome)
	}
	if samples.calls != 0 {
		t.Fatal("provider must not be called without a credential")
	}
	sess := store.sessions["s1"]
	if sess.FetchStatus != model.FetchFailed || sess.Status != model.StatusFailed {
		t.Fatalf("session state = %s/%s, want failed/failed", sess.FetchStatus, sess.Status)
	}
	if store.lastAttempt(t).Status != model.AttemptAuthFailed {
		t.Fatalf("attempt status = %s, want auth_failed", store.lastAttempt(t).Status)
	}
}

func TestProcessTransientRefreshFailureRetries(t *testing.T) {
	t.Parallel()
	store := newFakeStore(testSession("s1"))
	tokens := &fakeTokens{err: &auth.RefreshError{Status: 503, Body: "unavailable"}}
	samples := &fakeSamples{}
	r := reconcile.NewReconciler(store, tokens, samples, buffer)

	outcome, err := r.Process(context.Background(), *store.sessions["s1"], 1)
	if err != nil {
		t.Fatalf("process: %v", err)
	}
	if outcome.Reason != "error" || outcome.FinalAttempt {
		t.Fatalf("transient refresh failure should follow the retry branch: %+v", outcome)
	}
	if store.sessions["s1"].FetchStatus != model.FetchRetry {
		t.Fatalf("fetch status = %s, want retry", store.sessions["s1"].FetchStatus)
	}
	if store.lastAttempt(t).Status != model.AttemptError {
		t.Fatalf("attempt status = %s, want error", store.lastAttempt(t).Status)
	}
}

func TestProcessProviderAuthErrorIsTerminal(t *testing.T) {
	t.Parallel()
	store := newFakeStore(testSession("s1"))
	tokens := &fakeTokens{token: "tok"}
	samples := &fakeSamples{err: &provider.APIError{StatusCode: 401, Reason: "UNAUTHENTICATED", Body: "Invalid Credentials"}}
	r := reconcile.NewReconciler(store, tokens, samples, buffer)

	outcome, err := r.Process(context.Background(), *store.sessions["s1"], 2)
	if err != nil {
		t.Fatalf("process: %v", err)
	}
	if outcome.Reason != "auth_required" {
		t.Fatalf("unexpected outcome: %+v", outcome)
	}
	sess := store.sessions["s1"]
	if sess.FetchStatus != model.FetchFailed || sess.Status != model.StatusFailed {
		t.Fatalf("session state = %s/%s, want failed/failed", sess.FetchStatus, sess.Status)
	}
	if store.lastAttempt(t).Status != model.AttemptAuthFailed {
		t.Fatalf("attempt status = %s", store.lastAttempt(t).Status)
	}
}

func TestProcessGenericProviderErrorBranchesOnAttempt(t *testing.T) {
	t.Parallel()
	store := newFakeStore(testSession("s1"))
	tokens := &fakeTokens{token: "tok"}
	samples := &fakeSamples{err: &provider.APIError{StatusCode: 500, Body: "backend error"}}
	r := reconcile.NewReconciler(store, tokens, samples, buffer)

	outcome, err := r.Process(context.Background(), *store.sessions["s1"], 1)
	if err != nil {
		t.Fatalf("process: %v", err)
	}
	if outcome.Reason != "error" || outcome.FinalAttempt {
		t.Fatalf("unexpected outcome: %+v", outcome)
	}
	if store.sessions["s1"].FetchStatus != model.FetchRetry {
		t.Fatalf("fetch status = %s, want retry", store.sessions["s1"].FetchStatus)
	}

	outcome, err = r.Process(context.Background(), *store.sessions["s1"], model.MaxAttempts)
	if err != nil {
		t.Fatalf("process: %v", err)
	}
	if !outcome.FinalAttempt {
		t.Fatalf("fifth erroring attempt should be final: %+v", outcome)
	}
	sess := store.sessions["s1"]
	if sess.FetchStatus != model.FetchFailed || sess.Status != model.StatusFailed {
		t.Fatalf("session state = %s/%s, want failed/failed", sess.FetchStatus, sess.Status)
	}
}

func TestProcessTruncatesAttemptMessage(t *testing.T) {
	t.Parallel()
	store := newFakeStore(testSession("s1"))
	tokens := &fakeTokens{token: "tok"}
	samples := &fakeSamples{err: &provider.APIError{StatusCode: 500, Body: strings.Repeat("x", 4000)}}
	r := reconcile.NewReconciler(store, tokens, samples, buffer)

	if _, err := r.Process(context.Background(), *store.sessions["s1"], 1); err != nil {
		t.Fatalf("process: %v", err)
	}
	if got := len(store.lastAttempt(t).Message); got > 1000 {
		t.Fatalf("attempt message not truncated: %d bytes", got)
	}
}
