// Package auth owns validity and refresh of per-user bearer credentials
// against the external identity provider. Only token refresh lives here;
// the initial authorization-code exchange is an external flow.
package auth

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log"
	"net/http"
	"net/url"
	"strings"
	"time"

	"heartsync/internal/model"
)

var (
	// ErrUserNotFound means no user record exists for the id.
	ErrUserNotFound = errors.New("user not found")

	// ErrReauthRequired means the user has no usable refresh token; no
	// automated retry can succeed until the user re-authorizes.
	ErrReauthRequired = errors.New("re-authentication required")
)

// RefreshError is a transient refresh failure (network, 5xx, malformed
// response). The stored credential is left untouched and the normal backoff
// path may try again on a later attempt.
type RefreshError struct {
	Status int
	Body   string
	Err    error
}

func (e *RefreshError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("token refresh failed: %v", e.Err)
	}
	return fmt.Sprintf("token refresh failed: HTTP %d: %s", e.Status, e.Body)
}

func (e *RefreshError) Unwrap() error { return e.Err }

// refreshSkew is how far before the stored expiry a token is considered
// stale and refreshed.
const refreshSkew = 10 * time.Minute

// defaultExpiresIn applies when the provider response omits expires_in.
const defaultExpiresIn = 3600 * time.Second

// CredentialStore is the slice of the record store the manager needs.
type CredentialStore interface {
	GetUser(userID string) (model.User, error)
	UpdateUserTokens(userID, accessToken, refreshToken string, expiry time.Time) error
	ClearUserTokens(userID string) error
}

// Clock abstracts time so expiry decisions are deterministic in tests.
type Clock interface {
	Now() time.Time
}

type systemClock struct{}

func (systemClock) Now() time.Time { return time.Now().UTC() }

// Manager refreshes and serves per-user access tokens.
type Manager struct {
	store        CredentialStore
	client       *http.Client
	clock        Clock
	tokenURL     string
	clientID     string
	clientSecret string
}

// NewManager builds a Manager talking to the given token endpoint.
func NewManager(store CredentialStore, tokenURL, clientID, clientSecret string) *Manager {
	return &Manager{
		store:        store,
		client:       &http.Client{Timeout: 30 * time.Second},
		clock:        systemClock{},
		tokenURL:     tokenURL,
		clientID:     clientID,
		clientSecret: clientSecret,
	}
}

// WithClock replaces the manager's clock. Intended for tests.
func (m *Manager) WithClock(c Clock) *Manager {
	m.clock = c
	return m
}

// GetValidToken returns an access token for the user, refreshing it first
// when it is expired, expiring within the skew window, or has no known
// expiry at all.
func (m *Manager) GetValidToken(ctx context.Context, userID string) (string, error) {
	user, err := m.store.GetUser(userID)
	if errors.Is(err, sql.ErrNoRows) {
		return "", fmt.Errorf("%w: %s", ErrUserNotFound, userID)
	}
	if err != nil {
		return "", fmt.Errorf("load user %s: %w", userID, err)
	}

	if user.RefreshToken == "" {
		return "", fmt.Errorf("%w: no refresh token for user %s", ErrReauthRequired, userID)
	}

	now := m.clock.Now()
	if user.TokenExpiry.IsZero() || !now.Before(user.TokenExpiry.Add(-refreshSkew)) {
		return m.refresh(ctx, user)
	}
	return user.AccessToken, nil
}

// tokenResponse is the identity provider's refresh grant response.
type tokenResponse struct {
	AccessToken  string `json:"access_token"`
	RefreshToken string `json:"refresh_token"`
	ExpiresIn    int64  `json:"expires_in"`
}

// tokenErrorResponse carries the provider's machine-readable failure code.
type tokenErrorResponse struct {
	Error            string `json:"error"`
	ErrorDescription string `json:"error_description"`
}

func (m *Manager) refresh(ctx context.Context, user model.User) (string, error) {
	log.Printf("auth: refreshing token for user %s (expiry %v)", user.ID, user.TokenExpiry)

	form := url.Values{
		"client_id":     {m.clientID},
		"client_secret": {m.clientSecret},
		"refresh_token": {user.RefreshToken},
		"grant_type":    {"refresh_token"},
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, m.tokenURL, strings.NewReader(form.Encode()))
	if err != nil {
		return "", &RefreshError{Err: err}
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := m.client.Do(req)
	if err != nil {
		log.Printf("auth: refresh request failed for user %s: %v", user.ID, err)
		return "", &RefreshError{Err: err}
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", &RefreshError{Status: resp.StatusCode, Err: err}
	}

	if resp.StatusCode != http.StatusOK {
		// The provider reports a dead refresh token as invalid_grant in the
		// response body. That credential can never work again: wipe it so
		// the user is forced back through authorization.
		var tokErr tokenErrorResponse
		json.Unmarshal(body, &tokErr)
		if tokErr.Error == "invalid_grant" {
			log.Printf("auth: refresh token invalid for user %s, clearing credentials", user.ID)
			if err := m.store.ClearUserTokens(user.ID); err != nil {
				return "", fmt.Errorf("clear tokens for user %s: %w", user.ID, err)
			}
			return "", fmt.Errorf("%w: refresh token invalid for user %s", ErrReauthRequired, user.ID)
		}
		log.Printf("auth: refresh HTTP %d for user %s: %s", resp.StatusCode, user.ID, body)
		return "", &RefreshError{Status: resp.StatusCode, Body: string(body)}
	}

	var tok tokenResponse
	if err := json.Unmarshal(body, &tok); err != nil {
		return "", &RefreshError{Status: resp.StatusCode, Err: err}
	}
	if tok.AccessToken == "" {
		return "", &RefreshError{Status: resp.StatusCode, Body: string(body), Err: errors.New("response missing access_token")}
	}

	expiresIn := time.Duration(tok.ExpiresIn) * time.Second
	if tok.ExpiresIn <= 0 {
		expiresIn = defaultExpiresIn
	}
	expiry := m.clock.Now().Add(expiresIn)

	// The provider may or may not rotate the refresh token; an empty value
	// here keeps the stored one.
	if err := m.store.UpdateUserTokens(user.ID, tok.AccessToken, tok.RefreshToken, expiry); err != nil {
		return "", fmt.Errorf("persist refreshed token for user %s: %w", user.ID, err)
	}

	log.Printf("auth: refreshed token for user %s, new expiry %v", user.ID, expiry)
	return tok.AccessToken, nil
}
