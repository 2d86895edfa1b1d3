package handler

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"

	"heartsync/internal/model"
	"heartsync/internal/reconcile"
	"heartsync/internal/store"
)

// Handler carries the injected collaborators for the session API.
type Handler struct {
	Store           *store.Store
	Reconciler      *reconcile.Reconciler
	SessionDuration time.Duration
}

const sessionsPrefix = "/api/v1/sessions/"

// userID extracts the caller identity. Front-door authentication is an
// external collaborator; this trusts the header it sets.
func userID(r *http.Request) string {
	return strings.TrimSpace(r.Header.Get("X-User-ID"))
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]interface{}{"error": msg})
}

// sessionID pulls the id segment out of /api/v1/sessions/{id}[/suffix].
func sessionID(path, suffix string) string {
	if !strings.HasPrefix(path, sessionsPrefix) || !strings.HasSuffix(path, suffix) {
		return ""
	}
	return strings.Trim(path[len(sessionsPrefix):len(path)-len(suffix)], "/")
}

// CreateSession creates a new tracking session
// @Summary Create session
// @Description Create a new heart-rate tracking session for the calling user
// @Tags sessions
// @Accept json
// @Produce json
// @Param X-User-ID header string true "User ID"
// @Param minutes query int false "Session duration in minutes"
// @Success 200 {object} model.Session "Session created"
// @Failure 401 {object} map[string]interface{} "Missing user"
// @Failure 500 {object} map[string]interface{} "Internal server error"
// @Router /sessions [post]
func (h *Handler) CreateSession(w http.ResponseWriter, r *http.Request) {
	uid := userID(r)
	if uid == "" {
		writeError(w, http.StatusUnauthorized, "Not authenticated")
		return
	}

	duration := h.SessionDuration
	if minutesStr := r.URL.Query().Get("minutes"); minutesStr != "" {
		if minutes, err := strconv.Atoi(minutesStr); err == nil && minutes > 0 {
			duration = time.Duration(minutes) * time.Minute
		}
	}

	now := time.Now().UTC()
	end := now.Add(duration)
	sess := model.Session{
		ID:          uuid.New().String(),
		UserID:      uid,
		StartTime:   now,
		EndTime:     &end,
		Status:      model.StatusPending,
		FetchStatus: model.FetchNotFetched,
	}
	if err := h.Store.CreateSession(sess); err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to create session")
		return
	}
	writeJSON(w, http.StatusOK, sess)
}

// GetSession retrieves a session
// @Summary Get session
// @Description Retrieve a session with its lifecycle and fetch status
// @Tags sessions
// @Produce json
// @Param X-User-ID header string true "User ID"
// @Param id path string true "Session ID"
// @Success 200 {object} model.Session "Session"
// @Failure 404 {object} map[string]interface{} "Session not found"
// @Router /sessions/{id} [get]
func (h *Handler) GetSession(w http.ResponseWriter, r *http.Request) {
	uid := userID(r)
	if uid == "" {
		writeError(w, http.StatusUnauthorized, "Not authenticated")
		return
	}
	id := sessionID(r.URL.Path, "")
	if id == "" {
		writeError(w, http.StatusBadRequest, "Session ID is required")
		return
	}

	sess, err := h.Store.GetSession(id, uid)
	if errors.Is(err, sql.ErrNoRows) {
		writeError(w, http.StatusNotFound, "Session not found")
		return
	}
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to load session")
		return
	}
	writeJSON(w, http.StatusOK, sess)
}

// EndSession stamps a session's end time
// @Summary End session
// @Description End a session now; the reconciler picks it up once the backoff window opens
// @Tags sessions
// @Produce json
// @Param X-User-ID header string true "User ID"
// @Param id path string true "Session ID"
// @Success 200 {object} map[string]interface{} "Session ended"
// @Failure 404 {object} map[string]interface{} "Session not found"
// @Router /sessions/{id}/end [post]
func (h *Handler) EndSession(w http.ResponseWriter, r *http.Request) {
	uid := userID(r)
	if uid == "" {
		writeError(w, http.StatusUnauthorized, "Not authenticated")
		return
	}
	id := sessionID(r.URL.Path, "/end")
	if id == "" {
		writeError(w, http.StatusBadRequest, "Session ID is required")
		return
	}

	now := time.Now().UTC()
	err := h.Store.SetSessionEnd(id, uid, now)
	if errors.Is(err, sql.ErrNoRows) {
		writeError(w, http.StatusNotFound, "Session not found")
		return
	}
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to end session")
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"message":  "Session ended",
		"end_time": now,
	})
}

// SyncSession runs a manual sync
// @Summary Sync now
// @Description Run the reconciliation algorithm immediately with the manual attempt sentinel; does not count toward the automated attempt ceiling
// @Tags sessions
// @Produce json
// @Param X-User-ID header string true "User ID"
// @Param id path string true "Session ID"
// @Success 200 {object} reconcile.Outcome "Sync outcome"
// @Failure 404 {object} map[string]interface{} "Session not found"
// @Failure 500 {object} map[string]interface{} "Sync failed"
// @Router /sessions/{id}/sync [post]
func (h *Handler) SyncSession(w http.ResponseWriter, r *http.Request) {
	uid := userID(r)
	if uid == "" {
		writeError(w, http.StatusUnauthorized, "Not authenticated")
		return
	}
	id := sessionID(r.URL.Path, "/sync")
	if id == "" {
		writeError(w, http.StatusBadRequest, "Session ID is required")
		return
	}

	sess, err := h.Store.GetSession(id, uid)
	if errors.Is(err, sql.ErrNoRows) {
		writeError(w, http.StatusNotFound, "Session not found")
		return
	}
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to load session")
		return
	}
	if sess.EndTime == nil {
		writeError(w, http.StatusBadRequest, "Session has not ended yet")
		return
	}

	outcome, err := h.Reconciler.Process(context.Background(), sess, model.ManualAttempt)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Manual sync failed")
		return
	}
	writeJSON(w, http.StatusOK, outcome)
}

// GetResult retrieves the session aggregate
// @Summary Get result
// @Description Retrieve the computed mean heart rate for a session
// @Tags sessions
// @Produce json
// @Param X-User-ID header string true "User ID"
// @Param id path string true "Session ID"
// @Success 200 {object} model.Result "Result"
// @Failure 404 {object} map[string]interface{} "No results available yet"
// @Router /sessions/{id}/result [get]
func (h *Handler) GetResult(w http.ResponseWriter, r *http.Request) {
	uid := userID(r)
	if uid == "" {
		writeError(w, http.StatusUnauthorized, "Not authenticated")
		return
	}
	id := sessionID(r.URL.Path, "/result")
	if id == "" {
		writeError(w, http.StatusBadRequest, "Session ID is required")
		return
	}

	result, err := h.Store.GetResult(id, uid)
	if errors.Is(err, sql.ErrNoRows) {
		writeError(w, http.StatusNotFound, "No results available yet")
		return
	}
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to fetch result")
		return
	}
	writeJSON(w, http.StatusOK, result)
}

// GetAttempts lists recent attempt records
// @Summary List attempts
// @Description Retrieve the most recent fetch attempts for a session
// @Tags sessions
// @Produce json
// @Param X-User-ID header string true "User ID"
// @Param id path string true "Session ID"
// @Param limit query int false "Max records (default 10)"
// @Success 200 {object} map[string]interface{} "Attempt records"
// @Router /sessions/{id}/attempts [get]
func (h *Handler) GetAttempts(w http.ResponseWriter, r *http.Request) {
	uid := userID(r)
	if uid == "" {
		writeError(w, http.StatusUnauthorized, "Not authenticated")
		return
	}
	id := sessionID(r.URL.Path, "/attempts")
	if id == "" {
		writeError(w, http.StatusBadRequest, "Session ID is required")
		return
	}

	// Ownership check before exposing the log.
	if _, err := h.Store.GetSession(id, uid); err != nil {
		writeError(w, http.StatusNotFound, "Session not found")
		return
	}

	limit := 10
	if limitStr := r.URL.Query().Get("limit"); limitStr != "" {
		if parsed, err := strconv.Atoi(limitStr); err == nil && parsed > 0 {
			limit = parsed
		}
	}
	attempts, err := h.Store.ListAttempts(id, limit)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to fetch attempts")
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"session_id": id,
		"attempts":   attempts,
		"count":      len(attempts),
	})
}

// credentialsRequest is the payload for provisioning a user credential.
type credentialsRequest struct {
	Email        string    `json:"email"`
	Name         string    `json:"name"`
	AccessToken  string    `json:"access_token"`
	RefreshToken string    `json:"refresh_token"`
	TokenExpiry  time.Time `json:"token_expiry"`
}

// PutCredentials stores a user's provider credential
// @Summary Store credentials
// @Description Create or update a user's access/refresh token pair. Stands in for the external authorization flow.
// @Tags users
// @Accept json
// @Produce json
// @Param id path string true "User ID"
// @Param credentials body credentialsRequest true "Credential fields"
// @Success 200 {object} map[string]interface{} "Stored"
// @Failure 400 {object} map[string]interface{} "Invalid payload"
// @Router /users/{id}/credentials [put]
func (h *Handler) PutCredentials(w http.ResponseWriter, r *http.Request) {
	const prefix = "/api/v1/users/"
	const suffix = "/credentials"
	path := r.URL.Path
	if !strings.HasPrefix(path, prefix) || !strings.HasSuffix(path, suffix) {
		writeError(w, http.StatusBadRequest, "Invalid path")
		return
	}
	uid := strings.Trim(path[len(prefix):len(path)-len(suffix)], "/")
	if uid == "" {
		writeError(w, http.StatusBadRequest, "User ID is required")
		return
	}

	var req credentialsRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid JSON payload")
		return
	}
	err := h.Store.UpsertUser(model.User{
		ID:           uid,
		Email:        req.Email,
		Name:         req.Name,
		AccessToken:  req.AccessToken,
		RefreshToken: req.RefreshToken,
		TokenExpiry:  req.TokenExpiry,
	})
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to store credentials")
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"message": "Credentials stored", "user_id": uid})
}

// Health reports liveness
// @Summary Health check
// @Tags system
// @Produce json
// @Success 200 {object} map[string]interface{} "Healthy"
// @Router /health [get]
func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"status":    "healthy",
		"timestamp": time.Now().UTC(),
	})
}
