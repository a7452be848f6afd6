package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	_ "modernc.org/sqlite"

	"coaching_framework/internal/config"
)

// Session status values. Transitions are monotonic except paused<->processing.
const (
	SessionCreated    = "created"
	SessionProcessing = "processing"
	SessionPaused     = "paused"
	SessionCompleted  = "completed"
	SessionFailed     = "failed"
)

// Window status values.
const (
	WindowPending    = "pending"
	WindowProcessing = "processing"
	WindowCompleted  = "completed"
	WindowFailed     = "failed"
)

var (
	// ErrConflict signals an idempotent create hitting an existing id.
	ErrConflict = errors.New("record already exists")
	// ErrInvalidTransition signals a status update the state machine forbids.
	ErrInvalidTransition = errors.New("invalid status transition")
	ErrNotFound          = errors.New("record not found")
)

// sessionTransitions is the allowed edge set of the session state machine.
var sessionTransitions = map[string]map[string]bool{
	SessionCreated:    {SessionProcessing: true, SessionFailed: true},
	SessionProcessing: {SessionPaused: true, SessionCompleted: true, SessionFailed: true, SessionProcessing: true},
	SessionPaused:     {SessionProcessing: true},
}

var windowTransitions = map[string]map[string]bool{
	WindowPending:    {WindowProcessing: true, WindowFailed: true},
	WindowProcessing: {WindowCompleted: true, WindowFailed: true, WindowProcessing: true},
}

// Store wraps SQLite access for sessions, windows, digests, and
// recommendations. Writes are serialized by a single connection; each
// session only touches rows it owns, so no finer locking is needed.
type Store struct {
	db *sql.DB
}

func Open(path string) (*Store, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, err
	}
	// modernc sqlite serializes writes per connection; one writer keeps
	// concurrent sessions from tripping SQLITE_BUSY.
	db.SetMaxOpenConns(1)
	s := &Store{db: db}
	if err := s.migrate(); err != nil {
		return nil, err
	}
	return s, nil
}

func (s *Store) Close() error { return s.db.Close() }

func (s *Store) migrate() error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS sessions (
			id TEXT PRIMARY KEY,
			name TEXT NOT NULL,
			status TEXT NOT NULL,
			input_source TEXT,
			total_windows INTEGER DEFAULT 0,
			completed_windows INTEGER DEFAULT 0,
			config_json TEXT,
			created_at TIMESTAMP,
			updated_at TIMESTAMP,
			completed_at TIMESTAMP
		);`,
		`CREATE TABLE IF NOT EXISTS windows (
			id TEXT PRIMARY KEY,
			session_id TEXT NOT NULL,
			window_number INTEGER NOT NULL,
			status TEXT NOT NULL,
			start_time REAL,
			end_time REAL,
			input_json TEXT,
			output_json TEXT,
			error TEXT,
			created_at TIMESTAMP,
			updated_at TIMESTAMP
		);`,
		`CREATE UNIQUE INDEX IF NOT EXISTS idx_windows_session_number ON windows(session_id, window_number);`,
		`CREATE TABLE IF NOT EXISTS context_digests (
			id TEXT PRIMARY KEY,
			session_id TEXT NOT NULL,
			window_number INTEGER NOT NULL,
			digest_json TEXT NOT NULL,
			created_at TIMESTAMP
		);`,
		`CREATE UNIQUE INDEX IF NOT EXISTS idx_digests_session_number ON context_digests(session_id, window_number);`,
		`CREATE TABLE IF NOT EXISTS recommendations (
			id TEXT PRIMARY KEY,
			session_id TEXT NOT NULL,
			window_number INTEGER NOT NULL,
			text TEXT NOT NULL,
			category TEXT,
			confidence REAL,
			steps_json TEXT,
			impact TEXT,
			created_at TIMESTAMP
		);`,
		`CREATE INDEX IF NOT EXISTS idx_sessions_status ON sessions(status);`,
		`CREATE INDEX IF NOT EXISTS idx_windows_session_status ON windows(session_id, status);`,
		`CREATE INDEX IF NOT EXISTS idx_recommendations_session ON recommendations(session_id);`,
	}
	for _, stmt := range stmts {
		if _, err := s.db.Exec(stmt); err != nil {
			return err
		}
	}
	return nil
}

// Session is the persisted unit of batch work.
type Session struct {
	ID               string     `json:"id"`
	Name             string     `json:"name"`
	Status           string     `json:"status"`
	InputSource      string     `json:"input_source"`
	TotalWindows     int        `json:"total_windows"`
	CompletedWindows int        `json:"completed_windows"`
	ConfigJSON       string     `json:"config_json,omitempty"`
	CreatedAt        time.Time  `json:"created_at"`
	UpdatedAt        time.Time  `json:"updated_at"`
	CompletedAt      *time.Time `json:"completed_at,omitempty"`
}

// WindowRecord is the persisted counterpart of one analysis window.
type WindowRecord struct {
	ID           string    `json:"id"`
	SessionID    string    `json:"session_id"`
	WindowNumber int       `json:"window_number"`
	Status       string    `json:"status"`
	StartTime    float64   `json:"start_time"`
	EndTime      float64   `json:"end_time"`
	InputJSON    string    `json:"input_json,omitempty"`
	OutputJSON   string    `json:"output_json,omitempty"`
	Error        *string   `json:"error,omitempty"`
	CreatedAt    time.Time `json:"created_at"`
	UpdatedAt    time.Time `json:"updated_at"`
}

// Recommendation is one structured unit extracted from analysis output.
type Recommendation struct {
	ID           string  `json:"id"`
	SessionID    string  `json:"session_id"`
	WindowNumber int     `json:"window_number"`
	Text         string  `json:"text"`
	Category     string  `json:"category"`
	Confidence   float64 `json:"confidence"`
	StepsJSON    string  `json:"steps_json,omitempty"`
	Impact       string  `json:"impact,omitempty"`
}

// CreateSession inserts a new session in status created. A duplicate id
// returns ErrConflict and leaves the existing row untouched.
func (s *Store) CreateSession(ctx context.Context, id, name, inputSource, configJSON string, totalWindows int) error {
	now := config.Now()
	_, err := s.db.ExecContext(ctx, `INSERT INTO sessions(id, name, status, input_source, total_windows, completed_windows, config_json, created_at, updated_at)
		VALUES(?, ?, ?, ?, ?, 0, ?, ?, ?)`,
		id, name, SessionCreated, inputSource, totalWindows, configJSON, now, now)
	if isUniqueViolation(err) {
		return ErrConflict
	}
	return err
}

// CreateWindow inserts a pending window row. Duplicate (session, number)
// returns ErrConflict.
func (s *Store) CreateWindow(ctx context.Context, rec WindowRecord) error {
	now := config.Now()
	_, err := s.db.ExecContext(ctx, `INSERT INTO windows(id, session_id, window_number, status, start_time, end_time, input_json, created_at, updated_at)
		VALUES(?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		rec.ID, rec.SessionID, rec.WindowNumber, WindowPending, rec.StartTime, rec.EndTime, rec.InputJSON, now, now)
	if isUniqueViolation(err) {
		return ErrConflict
	}
	return err
}

// UpdateSessionStatus moves a session along the state machine. completedWindows
// < 0 leaves the counter unchanged. completed_at is set only on entry to
// completed.
func (s *Store) UpdateSessionStatus(ctx context.Context, id, status string, completedWindows int) error {
	current, err := s.Session(ctx, id)
	if err != nil {
		return err
	}
	if current.Status != status {
		allowed := sessionTransitions[current.Status]
		if !allowed[status] {
			return fmt.Errorf("%w: session %s %s -> %s", ErrInvalidTransition, id, current.Status, status)
		}
	}
	now := config.Now()
	if completedWindows >= 0 {
		_, err = s.db.ExecContext(ctx, `UPDATE sessions SET status=?, completed_windows=?, updated_at=?,
			completed_at=CASE WHEN ?='completed' THEN ? ELSE completed_at END WHERE id=?`,
			status, completedWindows, now, status, now, id)
	} else {
		_, err = s.db.ExecContext(ctx, `UPDATE sessions SET status=?, updated_at=?,
			completed_at=CASE WHEN ?='completed' THEN ? ELSE completed_at END WHERE id=?`,
			status, now, status, now, id)
	}
	return err
}

// SetTotalWindows records the window count once partitioning is done.
// Session rows are created before the input is loaded, so the count arrives
// later than the row.
func (s *Store) SetTotalWindows(ctx context.Context, id string, total int) error {
	res, err := s.db.ExecContext(ctx, `UPDATE sessions SET total_windows=?, updated_at=? WHERE id=?`,
		total, config.Now(), id)
	if err != nil {
		return err
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return fmt.Errorf("%w: session %s", ErrNotFound, id)
	}
	return nil
}

// UpdateWindowStatus moves a window along its state machine; retries of the
// same window reuse the row. output and errMsg may be empty.
func (s *Store) UpdateWindowStatus(ctx context.Context, id, status, outputJSON string, errMsg *string) error {
	row := s.db.QueryRowContext(ctx, `SELECT status FROM windows WHERE id=?`, id)
	var current string
	if err := row.Scan(&current); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return fmt.Errorf("%w: window %s", ErrNotFound, id)
		}
		return err
	}
	if current != status {
		allowed := windowTransitions[current]
		if !allowed[status] {
			return fmt.Errorf("%w: window %s %s -> %s", ErrInvalidTransition, id, current, status)
		}
	}
	var out any
	if outputJSON != "" {
		out = outputJSON
	}
	_, err := s.db.ExecContext(ctx, `UPDATE windows SET status=?, output_json=COALESCE(?, output_json), error=?, updated_at=? WHERE id=?`,
		status, out, errMsg, config.Now(), id)
	return err
}

// Session fetches one session by id.
func (s *Store) Session(ctx context.Context, id string) (*Session, error) {
	row := s.db.QueryRowContext(ctx, `SELECT id, name, status, input_source, total_windows, completed_windows, config_json, created_at, updated_at, completed_at
		FROM sessions WHERE id=?`, id)
	return scanSession(row)
}

// ListSessions returns sessions ordered by most recent update. An empty
// status matches all.
func (s *Store) ListSessions(ctx context.Context, status string, limit int) ([]Session, error) {
	query := `SELECT id, name, status, input_source, total_windows, completed_windows, config_json, created_at, updated_at, completed_at
		FROM sessions`
	args := []any{}
	if status != "" {
		query += ` WHERE status=?`
		args = append(args, status)
	}
	if limit <= 0 {
		limit = -1 // sqlite treats a negative limit as unbounded
	}
	query += ` ORDER BY updated_at DESC LIMIT ?`
	args = append(args, limit)

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var sessions []Session
	for rows.Next() {
		sess, err := scanSessionRows(rows)
		if err != nil {
			return nil, err
		}
		sessions = append(sessions, *sess)
	}
	return sessions, rows.Err()
}

// SessionWindows returns a session's windows ordered by window number.
func (s *Store) SessionWindows(ctx context.Context, sessionID string) ([]WindowRecord, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT id, session_id, window_number, status, start_time, end_time, input_json, output_json, error, created_at, updated_at
		FROM windows WHERE session_id=? ORDER BY window_number ASC`, sessionID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var records []WindowRecord
	for rows.Next() {
		var rec WindowRecord
		var input, output, errMsg sql.NullString
		if err := rows.Scan(&rec.ID, &rec.SessionID, &rec.WindowNumber, &rec.Status, &rec.StartTime, &rec.EndTime, &input, &output, &errMsg, &rec.CreatedAt, &rec.UpdatedAt); err != nil {
			return nil, err
		}
		rec.InputJSON = input.String
		rec.OutputJSON = output.String
		if errMsg.Valid {
			rec.Error = &errMsg.String
		}
		records = append(records, rec)
	}
	return records, rows.Err()
}

// SaveDigest upserts the context digest for (session, window).
func (s *Store) SaveDigest(ctx context.Context, sessionID string, windowNumber int, digestJSON string) error {
	id := fmt.Sprintf("%s_digest_%d", sessionID, windowNumber)
	_, err := s.db.ExecContext(ctx, `INSERT INTO context_digests(id, session_id, window_number, digest_json, created_at)
		VALUES(?, ?, ?, ?, ?)
		ON CONFLICT(session_id, window_number) DO UPDATE SET digest_json=excluded.digest_json`,
		id, sessionID, windowNumber, digestJSON, config.Now())
	return err
}

// DigestsBefore returns the digests for window numbers
// [windowNumber-lookback, windowNumber), oldest first. Missing windows are
// simply absent.
func (s *Store) DigestsBefore(ctx context.Context, sessionID string, windowNumber, lookback int) ([]string, error) {
	if lookback <= 0 {
		return nil, nil
	}
	from := windowNumber - lookback
	if from < 0 {
		from = 0
	}
	rows, err := s.db.QueryContext(ctx, `SELECT digest_json FROM context_digests
		WHERE session_id=? AND window_number>=? AND window_number<? ORDER BY window_number ASC`,
		sessionID, from, windowNumber)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var digests []string
	for rows.Next() {
		var d string
		if err := rows.Scan(&d); err != nil {
			return nil, err
		}
		digests = append(digests, d)
	}
	return digests, rows.Err()
}

// SaveRecommendations replaces the recommendations recorded for one window.
func (s *Store) SaveRecommendations(ctx context.Context, recs []Recommendation) error {
	now := config.Now()
	for _, rec := range recs {
		_, err := s.db.ExecContext(ctx, `INSERT INTO recommendations(id, session_id, window_number, text, category, confidence, steps_json, impact, created_at)
			VALUES(?, ?, ?, ?, ?, ?, ?, ?, ?)
			ON CONFLICT(id) DO UPDATE SET text=excluded.text, category=excluded.category, confidence=excluded.confidence, steps_json=excluded.steps_json, impact=excluded.impact`,
			rec.ID, rec.SessionID, rec.WindowNumber, rec.Text, rec.Category, rec.Confidence, rec.StepsJSON, rec.Impact, now)
		if err != nil {
			return err
		}
	}
	return nil
}

// SessionRecommendations returns all recommendations for a session ordered
// by window number.
func (s *Store) SessionRecommendations(ctx context.Context, sessionID string) ([]Recommendation, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT id, session_id, window_number, text, category, confidence, steps_json, impact
		FROM recommendations WHERE session_id=? ORDER BY window_number ASC, created_at ASC`, sessionID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var recs []Recommendation
	for rows.Next() {
		var rec Recommendation
		var steps, impact sql.NullString
		if err := rows.Scan(&rec.ID, &rec.SessionID, &rec.WindowNumber, &rec.Text, &rec.Category, &rec.Confidence, &steps, &impact); err != nil {
			return nil, err
		}
		rec.StepsJSON = steps.String
		rec.Impact = impact.String
		recs = append(recs, rec)
	}
	return recs, rows.Err()
}

// Health returns err if the DB is not reachable.
func (s *Store) Health(ctx context.Context) error {
	row := s.db.QueryRowContext(ctx, `SELECT 1`)
	var v int
	if err := row.Scan(&v); err != nil {
		return fmt.Errorf("db health: %w", err)
	}
	return nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanSession(row *sql.Row) (*Session, error) {
	sess, err := scanSessionRows(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	return sess, err
}

func scanSessionRows(row rowScanner) (*Session, error) {
	var sess Session
	var input, cfg sql.NullString
	var completedAt sql.NullTime
	if err := row.Scan(&sess.ID, &sess.Name, &sess.Status, &input, &sess.TotalWindows, &sess.CompletedWindows, &cfg, &sess.CreatedAt, &sess.UpdatedAt, &completedAt); err != nil {
		return nil, err
	}
	sess.InputSource = input.String
	sess.ConfigJSON = cfg.String
	if completedAt.Valid {
		sess.CompletedAt = &completedAt.Time
	}
	return &sess, nil
}

func isUniqueViolation(err error) bool {
	if err == nil {
		return false
	}
	msg := err.Error()
	return strings.Contains(msg, "UNIQUE constraint failed") || strings.Contains(msg, "constraint violation")
}
