package store

import (
	"database/sql"
	"fmt"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"heartsync/internal/model"
)

// Store is the record store handle. It is constructed once at process start
// and injected into every component; there is no package-level connection.
type Store struct {
	db *sql.DB
}

// Open opens (or creates) the SQLite database at dbPath and ensures the
// schema exists.
func Open(dbPath string) (*Store, error) {
	db, err := sql.Open("sqlite3", dbPath+"?_loc=UTC&_busy_timeout=5000")
	if err != nil {
		return nil, err
	}
	s := &Store{db: db}
	if err := s.createSchema(); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

// Close releases the underlying connection pool.
func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) createSchema() error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS users (
			user_id TEXT PRIMARY KEY,
			email TEXT,
			name TEXT,
			access_token TEXT NOT NULL DEFAULT '',
			refresh_token TEXT NOT NULL DEFAULT '',
			token_expiry TIMESTAMP,
			created_at TIMESTAMP NOT NULL,
			updated_at TIMESTAMP NOT NULL
		);`,
		`CREATE TABLE IF NOT EXISTS sessions (
			id TEXT PRIMARY KEY,
			user_id TEXT NOT NULL REFERENCES users(user_id),
			start_time TIMESTAMP NOT NULL,
			end_time TIMESTAMP,
			status TEXT NOT NULL DEFAULT 'pending'
				CHECK (status IN ('pending', 'active', 'completed', 'failed')),
			fetch_status TEXT NOT NULL DEFAULT 'not_fetched'
				CHECK (fetch_status IN ('not_fetched', 'retry', 'fetched', 'failed')),
			created_at TIMESTAMP NOT NULL,
			updated_at TIMESTAMP NOT NULL
		);`,
		`CREATE INDEX IF NOT EXISTS idx_sessions_fetch_status ON sessions(fetch_status);`,
		`CREATE INDEX IF NOT EXISTS idx_sessions_end_time ON sessions(end_time);`,
		`CREATE TABLE IF NOT EXISTS heart_rate (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			user_id TEXT NOT NULL,
			session_id TEXT NOT NULL,
			bpm REAL NOT NULL,
			timestamp TIMESTAMP NOT NULL,
			source TEXT NOT NULL DEFAULT 'google_fit',
			created_at TIMESTAMP NOT NULL,
			UNIQUE (user_id, session_id, timestamp)
		);`,
		`CREATE TABLE IF NOT EXISTS fetch_logs (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			session_id TEXT NOT NULL,
			user_id TEXT NOT NULL,
			attempt_number INTEGER NOT NULL DEFAULT 1,
			status TEXT NOT NULL
				CHECK (status IN ('success', 'no_data', 'error', 'auth_failed')),
			message TEXT,
			created_at TIMESTAMP NOT NULL
		);`,
		`CREATE INDEX IF NOT EXISTS idx_fetch_logs_session ON fetch_logs(session_id, attempt_number);`,
		`CREATE TABLE IF NOT EXISTS results (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			user_id TEXT NOT NULL,
			session_id TEXT NOT NULL UNIQUE,
			mean_bpm REAL NOT NULL,
			created_at TIMESTAMP NOT NULL,
			updated_at TIMESTAMP NOT NULL
		);`,
	}
	for _, stmt := range stmts {
		if _, err := s.db.Exec(stmt); err != nil {
			return fmt.Errorf("create schema: %w", err)
		}
	}
	return nil
}

// ------------------- Users / credentials -------------------

// UpsertUser creates or replaces a user's profile and credential fields.
// An empty refresh token on update retains the stored one, matching the
// provider's habit of omitting the refresh token on re-grants.
func (s *Store) UpsertUser(u model.User) error {
	now := time.Now().UTC()
	var expiry interface{}
	if !u.TokenExpiry.IsZero() {
		expiry = u.TokenExpiry.UTC()
	}
	_, err := s.db.Exec(`INSERT INTO users (user_id, email, name, access_token, refresh_token, token_expiry, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(user_id) DO UPDATE SET
			email = excluded.email,
			name = excluded.name,
			access_token = excluded.access_token,
			refresh_token = CASE WHEN excluded.refresh_token = '' THEN users.refresh_token ELSE excluded.refresh_token END,
			token_expiry = excluded.token_expiry,
			updated_at = excluded.updated_at`,
		u.ID, u.Email, u.Name, u.AccessToken, u.RefreshToken, expiry, now, now)
	return err
}

// GetUser fetches a user by id, or sql.ErrNoRows when none exists.
func (s *Store) GetUser(userID string) (model.User, error) {
	var u model.User
	var email, name sql.NullString
	var expiry sql.NullTime
	err := s.db.QueryRow(`SELECT user_id, email, name, access_token, refresh_token, token_expiry
		FROM users WHERE user_id = ?`, userID).
		Scan(&u.ID, &email, &name, &u.AccessToken, &u.RefreshToken, &expiry)
	if err != nil {
		return model.User{}, err
	}
	u.Email = email.String
	u.Name = name.String
	if expiry.Valid {
		u.TokenExpiry = expiry.Time.UTC()
	}
	return u, nil
}

// UpdateUserTokens persists a refreshed credential. An empty refreshToken
// keeps the existing one.
func (s *Store) UpdateUserTokens(userID, accessToken, refreshToken string, expiry time.Time) error {
	_, err := s.db.Exec(`UPDATE users SET
			access_token = ?,
			refresh_token = CASE WHEN ? = '' THEN refresh_token ELSE ? END,
			token_expiry = ?,
			updated_at = ?
		WHERE user_id = ?`,
		accessToken, refreshToken, refreshToken, expiry.UTC(), time.Now().UTC(), userID)
	return err
}

// ClearUserTokens wipes a user's credential after the provider reports the
// refresh token invalid, forcing re-authorization.
func (s *Store) ClearUserTokens(userID string) error {
	_, err := s.db.Exec(`UPDATE users SET access_token = '', refresh_token = '', token_expiry = NULL, updated_at = ?
		WHERE user_id = ?`, time.Now().UTC(), userID)
	return err
}

// ------------------- Sessions -------------------

// CreateSession inserts a new session in its initial state.
func (s *Store) CreateSession(sess model.Session) error {
	now := time.Now().UTC()
	var end interface{}
	if sess.EndTime != nil {
		end = sess.EndTime.UTC()
	}
	_, err := s.db.Exec(`INSERT INTO sessions (id, user_id, start_time, end_time, status, fetch_status, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		sess.ID, sess.UserID, sess.StartTime.UTC(), end, sess.Status, sess.FetchStatus, now, now)
	return err
}

// GetSession fetches a session by id, scoped to its owner.
func (s *Store) GetSession(sessionID, userID string) (model.Session, error) {
	row := s.db.QueryRow(`SELECT id, user_id, start_time, end_time, status, fetch_status
		FROM sessions WHERE id = ? AND user_id = ?`, sessionID, userID)
	return scanSession(row)
}

// SetSessionEnd stamps the end time of a session. The reconciler owns the
// terminal lifecycle transition, so status is left untouched here.
func (s *Store) SetSessionEnd(sessionID, userID string, end time.Time) error {
	res, err := s.db.Exec(`UPDATE sessions SET end_time = ?, updated_at = ? WHERE id = ? AND user_id = ?`,
		end.UTC(), time.Now().UTC(), sessionID, userID)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return sql.ErrNoRows
	}
	return nil
}

// ListDueSessions returns sessions still awaiting a fetch whose end time
// has passed, oldest first so the most stale session is handled first.
func (s *Store) ListDueSessions(now time.Time) ([]model.Session, error) {
	rows, err := s.db.Query(`SELECT id, user_id, start_time, end_time, status, fetch_status
		FROM sessions
		WHERE fetch_status IN (?, ?) AND end_time IS NOT NULL AND end_time <= ?
		ORDER BY end_time ASC`,
		model.FetchNotFetched, model.FetchRetry, now.UTC())
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var sessions []model.Session
	for rows.Next() {
		sess, err := scanSession(rows)
		if err != nil {
			return nil, err
		}
		sessions = append(sessions, sess)
	}
	return sessions, rows.Err()
}

// UpdateSessionStatus moves a session's fetch status, optionally updating
// the lifecycle status in the same statement. An empty lifecycle leaves it
// unchanged.
func (s *Store) UpdateSessionStatus(sessionID, fetchStatus, lifecycle string) error {
	now := time.Now().UTC()
	if lifecycle == "" {
		_, err := s.db.Exec(`UPDATE sessions SET fetch_status = ?, updated_at = ? WHERE id = ?`,
			fetchStatus, now, sessionID)
		return err
	}
	_, err := s.db.Exec(`UPDATE sessions SET fetch_status = ?, status = ?, updated_at = ? WHERE id = ?`,
		fetchStatus, lifecycle, now, sessionID)
	return err
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanSession(row rowScanner) (model.Session, error) {
	var sess model.Session
	var end sql.NullTime
	if err := row.Scan(&sess.ID, &sess.UserID, &sess.StartTime, &end, &sess.Status, &sess.FetchStatus); err != nil {
		return model.Session{}, err
	}
	sess.StartTime = sess.StartTime.UTC()
	if end.Valid {
		t := end.Time.UTC()
		sess.EndTime = &t
	}
	return sess, nil
}

// ------------------- Attempt log -------------------

// MaxAttemptNumber returns the highest automated attempt number recorded
// for a session, 0 when none. Manual attempts (the out-of-band sentinel)
// are excluded, which is what makes the scheduler crash-resumable: the
// count is always derived from this durable log.
func (s *Store) MaxAttemptNumber(sessionID string) (int, error) {
	var max int
	err := s.db.QueryRow(`SELECT COALESCE(MAX(attempt_number), 0) FROM fetch_logs
		WHERE session_id = ? AND attempt_number BETWEEN 1 AND ?`,
		sessionID, model.MaxAttempts).Scan(&max)
	return max, err
}

// AppendAttempt records one reconciliation attempt. The log is append-only.
func (s *Store) AppendAttempt(rec model.AttemptRecord) error {
	_, err := s.db.Exec(`INSERT INTO fetch_logs (session_id, user_id, attempt_number, status, message, created_at)
		VALUES (?, ?, ?, ?, ?, ?)`,
		rec.SessionID, rec.UserID, rec.AttemptNumber, rec.Status, rec.Message, time.Now().UTC())
	return err
}

// ListAttempts returns the most recent attempt records for a session.
func (s *Store) ListAttempts(sessionID string, limit int) ([]model.AttemptRecord, error) {
	rows, err := s.db.Query(`SELECT id, session_id, user_id, attempt_number, status, message, created_at
		FROM fetch_logs WHERE session_id = ?
		ORDER BY id DESC LIMIT ?`, sessionID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var recs []model.AttemptRecord
	for rows.Next() {
		var rec model.AttemptRecord
		var msg sql.NullString
		if err := rows.Scan(&rec.ID, &rec.SessionID, &rec.UserID, &rec.AttemptNumber, &rec.Status, &msg, &rec.CreatedAt); err != nil {
			return nil, err
		}
		rec.Message = msg.String
		rec.CreatedAt = rec.CreatedAt.UTC()
		recs = append(recs, rec)
	}
	return recs, rows.Err()
}

// ------------------- Sample points / results -------------------

// InsertSamplePoint inserts one heart-rate point, ignoring exact duplicates
// on (user, session, timestamp). It reports whether a new row was created.
func (s *Store) InsertSamplePoint(p model.SamplePoint) (bool, error) {
	res, err := s.db.Exec(`INSERT OR IGNORE INTO heart_rate (user_id, session_id, bpm, timestamp, source, created_at)
		VALUES (?, ?, ?, ?, ?, ?)`,
		p.UserID, p.SessionID, p.BPM, p.Timestamp.UTC(), p.Source, time.Now().UTC())
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

// SessionMean recomputes the arithmetic mean over all stored points for the
// session. Always fresh, never incremental.
func (s *Store) SessionMean(userID, sessionID string) (float64, int, error) {
	var mean sql.NullFloat64
	var count int
	err := s.db.QueryRow(`SELECT AVG(bpm), COUNT(*) FROM heart_rate WHERE user_id = ? AND session_id = ?`,
		userID, sessionID).Scan(&mean, &count)
	if err != nil {
		return 0, 0, err
	}
	return mean.Float64, count, nil
}

// UpsertResult writes the per-session aggregate, overwriting any previous
// value for the session.
func (s *Store) UpsertResult(userID, sessionID string, meanBPM float64) error {
	now := time.Now().UTC()
	_, err := s.db.Exec(`INSERT INTO results (user_id, session_id, mean_bpm, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(session_id) DO UPDATE SET mean_bpm = excluded.mean_bpm, updated_at = excluded.updated_at`,
		userID, sessionID, meanBPM, now, now)
	return err
}

// GetResult fetches the aggregate for a session, or sql.ErrNoRows when the
// reconciler has not produced one yet.
func (s *Store) GetResult(sessionID, userID string) (model.Result, error) {
	var r model.Result
	err := s.db.QueryRow(`SELECT user_id, session_id, mean_bpm, updated_at FROM results
		WHERE session_id = ? AND user_id = ?`, sessionID, userID).
		Scan(&r.UserID, &r.SessionID, &r.MeanBPM, &r.UpdatedAt)
	if err != nil {
		return model.Result{}, err
	}
	r.UpdatedAt = r.UpdatedAt.UTC()
	return r, nil
}
