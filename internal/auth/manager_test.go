package auth_test

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"
	"time"

	"heartsync/internal/auth"
	"heartsync/internal/model"
	"heartsync/internal/store"
)

type fixedClock struct {
	now time.Time
}

func (c fixedClock) Now() time.Time { return c.now }

func openStore(t *testing.T) *store.Store {
	t.Helper()
	s, err := store.Open(filepath.Join(t.TempDir(), "auth.db"))
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

// tokenEndpoint is a scriptable identity provider. calls counts refresh
// requests actually received.
type tokenEndpoint struct {
	status int
	body   string
	calls  int
}

func (e *tokenEndpoint) serve(t *testing.T) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		e.calls++
		if err := r.ParseForm(); err != nil {
			t.Errorf("parse form: %v", err)
		}
		if got := r.PostFormValue("grant_type"); got != "refresh_token" {
			t.Errorf("grant_type = %q, want refresh_token", got)
		}
		w.WriteHeader(e.status)
		w.Write([]byte(e.body))
	}))
	t.Cleanup(srv.Close)
	return srv
}

func newManager(t *testing.T, s *store.Store, srv *httptest.Server, now time.Time) *auth.Manager {
	t.Helper()
	return auth.NewManager(s, srv.URL, "client-id", "client-secret").WithClock(fixedClock{now: now})
}

func TestGetValidTokenUserNotFound(t *testing.T) {
	t.Parallel()
	s := openStore(t)
	ep := &tokenEndpoint{}
	m := newManager(t, s, ep.serve(t), time.Now().UTC())

	_, err := m.GetValidToken(context.Background(), "missing")
	if !errors.Is(err, auth.ErrUserNotFound) {
		t.Fatalf("expected ErrUserNotFound, got %v", err)
	}
	if ep.calls != 0 {
		t.Fatalf("provider should not be called, got %d calls", ep.calls)
	}
}

func TestGetValidTokenWithoutRefreshToken(t *testing.T) {
	t.Parallel()
	s := openStore(t)
	if err := s.UpsertUser(model.User{ID: "u1", AccessToken: "stale"}); err != nil {
		t.Fatalf("upsert user: %v", err)
	}
	ep := &tokenEndpoint{}
	m := newManager(t, s, ep.serve(t), time.Now().UTC())

	_, err := m.GetValidToken(context.Background(), "u1")
	if !errors.Is(err, auth.ErrReauthRequired) {
		t.Fatalf("expected ErrReauthRequired, got %v", err)
	}
	if ep.calls != 0 {
		t.Fatalf("provider should not be called, got %d calls", ep.calls)
	}
}

func TestGetValidTokenReturnsCurrentTokenWithoutRefresh(t *testing.T) {
	t.Parallel()
	s := openStore(t)
	now := time.Date(2026, 8, 28, 12, 0, 0, 0, time.UTC)
	if err := s.UpsertUser(model.User{
		ID: "u1", AccessToken: "current", RefreshToken: "refresh",
		TokenExpiry: now.Add(time.Hour),
	}); err != nil {
		t.Fatalf("upsert user: %v", err)
	}
	ep := &tokenEndpoint{}
	m := newManager(t, s, ep.serve(t), now)

	token, err := m.GetValidToken(context.Background(), "u1")
	if err != nil {
		t.Fatalf("get token: %v", err)
	}
	if token != "current" {
		t.Fatalf("expected stored token, got %q", token)
	}
	if ep.calls != 0 {
		t.Fatalf("token an hour from expiry must not refresh, got %d calls", ep.calls)
	}
}

func TestGetValidTokenRefreshesWithinSkewWindow(t *testing.T) {
	t.Parallel()
	s := openStore(t)
	now := time.Date(2026, 8, 28, 12, 0, 0, 0, time.UTC)
	// Expires in 5 minutes: inside the 10-minute skew window.
	if err := s.UpsertUser(model.User{
		ID: "u1", AccessToken: "stale", RefreshToken: "refresh-old",
		TokenExpiry: now.Add(5 * time.Minute),
	}); err != nil {
		t.Fatalf("upsert user: %v", err)
	}
	ep := &tokenEndpoint{status: http.StatusOK,
		body: `{"access_token":"fresh","refresh_token":"refresh-new","expires_in":1800}`}
	m := newManager(t, s, ep.serve(t), now)

	token, err := m.GetValidToken(context.Background(), "u1")
	if err != nil {
		t.Fatalf("get token: %v", err)
	}
	if token != "fresh" {
		t.Fatalf("expected refreshed token, got %q", token)
	}
	if ep.calls != 1 {
		t.Fatalf("expected 1 refresh call, got %d", ep.calls)
	}

	u, _ := s.GetUser("u1")
	if u.AccessToken != "fresh" || u.RefreshToken != "refresh-new" {
		t.Fatalf("refresh not persisted: %+v", u)
	}
	wantExpiry := now.Add(1800 * time.Second)
	if !u.TokenExpiry.Equal(wantExpiry) {
		t.Fatalf("expected expiry %v, got %v", wantExpiry, u.TokenExpiry)
	}
}

func TestRefreshRetainsOldRefreshTokenWhenOmitted(t *testing.T) {
	t.Parallel()
	s := openStore(t)
	now := time.Date(2026, 8, 28, 12, 0, 0, 0, time.UTC)
	if err := s.UpsertUser(model.User{
		ID: "u1", AccessToken: "stale", RefreshToken: "refresh-old",
	}); err != nil { // zero expiry forces a refresh
		t.Fatalf("upsert user: %v", err)
	}
	// No refresh_token and no expires_in in the response.
	ep := &tokenEndpoint{status: http.StatusOK, body: `{"access_token":"fresh"}`}
	m := newManager(t, s, ep.serve(t), now)

	if _, err := m.GetValidToken(context.Background(), "u1"); err != nil {
		t.Fatalf("get token: %v", err)
	}
	u, _ := s.GetUser("u1")
	if u.RefreshToken != "refresh-old" {
		t.Fatalf("expected retained refresh token, got %q", u.RefreshToken)
	}
	// Omitted expires_in defaults to an hour.
	if !u.TokenExpiry.Equal(now.Add(time.Hour)) {
		t.Fatalf("expected default 1h expiry, got %v", u.TokenExpiry)
	}
}

func TestRefreshInvalidGrantClearsCredentials(t *testing.T) {
	t.Parallel()
	s := openStore(t)
	now := time.Date(2026, 8, 28, 12, 0, 0, 0, time.UTC)
	if err := s.UpsertUser(model.User{
		ID: "u1", AccessToken: "stale", RefreshToken: "revoked",
	}); err != nil {
		t.Fatalf("upsert user: %v", err)
	}
	ep := &tokenEndpoint{status: http.StatusBadRequest,
		body: `{"error":"invalid_grant","error_description":"Token has been expired or revoked."}`}
	m := newManager(t, s, ep.serve(t), now)

	_, err := m.GetValidToken(context.Background(), "u1")
	if !errors.Is(err, auth.ErrReauthRequired) {
		t.Fatalf("expected ErrReauthRequired, got %v", err)
	}
	u, _ := s.GetUser("u1")
	if u.AccessToken != "" || u.RefreshToken != "" || !u.TokenExpiry.IsZero() {
		t.Fatalf("credentials not cleared: %+v", u)
	}

	// The next call short-circuits before reaching the provider.
	callsBefore := ep.calls
	if _, err := m.GetValidToken(context.Background(), "u1"); !errors.Is(err, auth.ErrReauthRequired) {
		t.Fatalf("expected ErrReauthRequired on follow-up, got %v", err)
	}
	if ep.calls != callsBefore {
		t.Fatalf("follow-up call hit the provider (%d -> %d)", callsBefore, ep.calls)
	}
}

func TestRefreshTransientFailureMutatesNothing(t *testing.T) {
	t.Parallel()
	s := openStore(t)
	now := time.Date(2026, 8, 28, 12, 0, 0, 0, time.UTC)
	if err := s.UpsertUser(model.User{
		ID: "u1", AccessToken: "stale", RefreshToken: "refresh-old",
	}); err != nil {
		t.Fatalf("upsert user: %v", err)
	}
	ep := &tokenEndpoint{status: http.StatusInternalServerError, body: `upstream exploded`}
	m := newManager(t, s, ep.serve(t), now)

	_, err := m.GetValidToken(context.Background(), "u1")
	var refreshErr *auth.RefreshError
	if !errors.As(err, &refreshErr) {
		t.Fatalf("expected *RefreshError, got %v", err)
	}
	if refreshErr.Status != http.StatusInternalServerError {
		t.Fatalf("expected status 500, got %d", refreshErr.Status)
	}
	if errors.Is(err, auth.ErrReauthRequired) {
		t.Fatal("transient failure must not demand re-auth")
	}

	u, _ := s.GetUser("u1")
	if u.AccessToken != "stale" || u.RefreshToken != "refresh-old" {
		t.Fatalf("transient failure mutated credentials: %+v", u)
	}
}
