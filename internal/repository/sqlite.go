package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/guiIerme/JobFinder-sub003/internal/domain"
	_ "github.com/mattn/go-sqlite3"
)

// SQLiteStore implements Store using SQLite. Timestamps are stored as unix
// microseconds so ordering comparisons stay in SQL.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLiteStore opens the database and runs migrations.
func NewSQLiteStore(dsn string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	// For in-memory SQLite, multiple connections create separate databases.
	if dsn == ":memory:" || strings.Contains(dsn, "mode=memory") {
		db.SetMaxOpenConns(1)
		db.SetMaxIdleConns(1)
	} else {
		if _, err := db.Exec("PRAGMA journal_mode = WAL"); err != nil {
			db.Close()
			return nil, fmt.Errorf("failed to enable WAL: %w", err)
		}
		if _, err := db.Exec("PRAGMA busy_timeout = 5000"); err != nil {
			db.Close()
			return nil, fmt.Errorf("failed to set busy timeout: %w", err)
		}
	}

	if _, err := db.Exec("PRAGMA foreign_keys = ON"); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to enable foreign keys: %w", err)
	}

	store := &SQLiteStore{db: db}
	if err := store.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to migrate database: %w", err)
	}
	return store, nil
}

func (s *SQLiteStore) migrate() error {
	migrations := []string{
		`CREATE TABLE IF NOT EXISTS sessions (
			session_id TEXT PRIMARY KEY,
			user_id TEXT,
			anonymous_id TEXT,
			role TEXT NOT NULL,
			context TEXT,
			active INTEGER NOT NULL DEFAULT 1,
			escalated INTEGER NOT NULL DEFAULT 0,
			handoff_pending INTEGER NOT NULL DEFAULT 0,
			satisfaction INTEGER,
			created_at INTEGER NOT NULL,
			updated_at INTEGER NOT NULL,
			closed_at INTEGER
		)`,
		`CREATE INDEX IF NOT EXISTS idx_sessions_user ON sessions(user_id, active, updated_at)`,
		`CREATE INDEX IF NOT EXISTS idx_sessions_anon ON sessions(anonymous_id, active, updated_at)`,
		`CREATE INDEX IF NOT EXISTS idx_sessions_active ON sessions(active, updated_at)`,
		`CREATE TABLE IF NOT EXISTS messages (
			message_id TEXT PRIMARY KEY,
			session_id TEXT NOT NULL,
			seq INTEGER NOT NULL,
			sender TEXT NOT NULL,
			content TEXT NOT NULL,
			metadata TEXT,
			created_at INTEGER NOT NULL,
			processing_ms INTEGER NOT NULL DEFAULT 0,
			cached INTEGER NOT NULL DEFAULT 0,
			UNIQUE (session_id, seq),
			FOREIGN KEY (session_id) REFERENCES sessions(session_id)
		)`,
		`CREATE TABLE IF NOT EXISTS knowledge_entries (
			entry_id TEXT PRIMARY KEY,
			category TEXT NOT NULL,
			title TEXT NOT NULL,
			content TEXT NOT NULL,
			keywords TEXT,
			service_refs TEXT,
			usage_count INTEGER NOT NULL DEFAULT 0,
			updated_at INTEGER NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_knowledge_category ON knowledge_entries(category)`,
		`CREATE TABLE IF NOT EXISTS analytics (
			session_id TEXT PRIMARY KEY,
			message_count INTEGER NOT NULL DEFAULT 0,
			user_messages INTEGER NOT NULL DEFAULT 0,
			assistant_messages INTEGER NOT NULL DEFAULT 0,
			total_response_ms INTEGER NOT NULL DEFAULT 0,
			max_response_ms INTEGER NOT NULL DEFAULT 0,
			cached_replies INTEGER NOT NULL DEFAULT 0,
			fallback_replies INTEGER NOT NULL DEFAULT 0,
			resolved INTEGER NOT NULL DEFAULT 0,
			escalated INTEGER NOT NULL DEFAULT 0,
			topics TEXT NOT NULL DEFAULT '[]',
			actions TEXT NOT NULL DEFAULT '[]',
			avg_response_ms REAL NOT NULL DEFAULT 0,
			duration_ms INTEGER NOT NULL DEFAULT 0,
			satisfaction INTEGER,
			close_reason TEXT,
			created_at INTEGER NOT NULL,
			updated_at INTEGER NOT NULL,
			finalized_at INTEGER,
			FOREIGN KEY (session_id) REFERENCES sessions(session_id)
		)`,
		`CREATE INDEX IF NOT EXISTS idx_analytics_created ON analytics(created_at)`,
	}

	for _, m := range migrations {
		if _, err := s.db.Exec(m); err != nil {
			return fmt.Errorf("migration failed: %w\n%s", err, m)
		}
	}
	return nil
}

// Close closes the database connection.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

const sessionColumns = `session_id, user_id, anonymous_id, role, context, active, escalated,
	handoff_pending, satisfaction, created_at, updated_at, closed_at`

// CreateSession inserts a new session row.
func (s *SQLiteStore) CreateSession(ctx context.Context, session *domain.Session) error {
	sessionCtx, err := marshalMap(session.Context)
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO sessions (session_id, user_id, anonymous_id, role, context, active, created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?, 1, ?, ?)`,
		session.SessionID, nullString(session.UserID), nullString(session.AnonymousID), session.Role,
		sessionCtx, micros(session.CreatedAt), micros(session.UpdatedAt))
	return err
}

// GetSession retrieves a session by ID.
func (s *SQLiteStore) GetSession(ctx context.Context, sessionID string) (*domain.Session, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+sessionColumns+` FROM sessions WHERE session_id = ?`, sessionID)
	session, err := scanSession(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	return session, err
}

// LatestActiveSession returns the most recently updated active session of the
// owner regardless of age.
func (s *SQLiteStore) LatestActiveSession(ctx context.Context, owner domain.Owner) (*domain.Session, error) {
	var row *sql.Row
	if owner.UserID != "" {
		row = s.db.QueryRowContext(ctx,
			`SELECT `+sessionColumns+` FROM sessions
			 WHERE user_id = ? AND active = 1 ORDER BY updated_at DESC LIMIT 1`, owner.UserID)
	} else {
		row = s.db.QueryRowContext(ctx,
			`SELECT `+sessionColumns+` FROM sessions
			 WHERE anonymous_id = ? AND user_id IS NULL AND active = 1 ORDER BY updated_at DESC LIMIT 1`, owner.AnonymousID)
	}
	session, err := scanSession(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	return session, err
}

// UpdateSessionContext replaces the stored context map.
func (s *SQLiteStore) UpdateSessionContext(ctx context.Context, sessionID string, sessionCtx map[string]any, at time.Time) error {
	raw, err := marshalMap(sessionCtx)
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx,
		`UPDATE sessions SET context = ?, updated_at = MAX(updated_at, ?) WHERE session_id = ?`,
		raw, micros(at), sessionID)
	return err
}

// SetSessionEscalated flags the session as escalated.
func (s *SQLiteStore) SetSessionEscalated(ctx context.Context, sessionID string, handoffPending bool, at time.Time) error {
	_, err := s.db.ExecContext(ctx,
		`UPDATE sessions SET escalated = 1, handoff_pending = ?, updated_at = MAX(updated_at, ?) WHERE session_id = ?`,
		boolInt(handoffPending), micros(at), sessionID)
	return err
}

// SetHandoffPending toggles the pending hand-off flag.
func (s *SQLiteStore) SetHandoffPending(ctx context.Context, sessionID string, pending bool) error {
	_, err := s.db.ExecContext(ctx,
		`UPDATE sessions SET handoff_pending = ? WHERE session_id = ?`,
		boolInt(pending), sessionID)
	return err
}

// SetSatisfaction stores the latest rating.
func (s *SQLiteStore) SetSatisfaction(ctx context.Context, sessionID string, score int, at time.Time) error {
	_, err := s.db.ExecContext(ctx,
		`UPDATE sessions SET satisfaction = ?, updated_at = MAX(updated_at, ?) WHERE session_id = ?`,
		score, micros(at), sessionID)
	return err
}

// CloseSession marks an active session closed. It reports false when the
// session was already closed or does not exist.
func (s *SQLiteStore) CloseSession(ctx context.Context, sessionID string, at time.Time) (bool, error) {
	res, err := s.db.ExecContext(ctx,
		`UPDATE sessions SET active = 0, handoff_pending = 0, closed_at = ? WHERE session_id = ? AND active = 1`,
		micros(at), sessionID)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n == 1, nil
}

// ListExpiredSessions returns ids of active sessions idle since before cutoff.
func (s *SQLiteStore) ListExpiredSessions(ctx context.Context, cutoff time.Time, limit int) ([]string, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT session_id FROM sessions WHERE active = 1 AND updated_at < ? ORDER BY updated_at ASC LIMIT ?`,
		micros(cutoff), limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanSession(row rowScanner) (*domain.Session, error) {
	var session domain.Session
	var userID, anonID, sessionCtx sql.NullString
	var active, escalated, handoff int
	var satisfaction, closedAt sql.NullInt64
	var createdAt, updatedAt int64
	if err := row.Scan(&session.SessionID, &userID, &anonID, &session.Role, &sessionCtx, &active,
		&escalated, &handoff, &satisfaction, &createdAt, &updatedAt, &closedAt); err != nil {
		return nil, err
	}
	session.UserID = userID.String
	session.AnonymousID = anonID.String
	session.Active = active == 1
	session.Escalated = escalated == 1
	session.HandoffPending = handoff == 1
	session.CreatedAt = fromMicros(createdAt)
	session.UpdatedAt = fromMicros(updatedAt)
	if satisfaction.Valid {
		v := int(satisfaction.Int64)
		session.Satisfaction = &v
	}
	if closedAt.Valid {
		t := fromMicros(closedAt.Int64)
		session.ClosedAt = &t
	}
	if sessionCtx.Valid && sessionCtx.String != "" {
		if err := json.Unmarshal([]byte(sessionCtx.String), &session.Context); err != nil {
			return nil, fmt.Errorf("decode session context: %w", err)
		}
	}
	return &session, nil
}

func micros(t time.Time) int64 {
	return t.UnixMicro()
}

func fromMicros(v int64) time.Time {
	return time.UnixMicro(v).UTC()
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}

func boolInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

func marshalMap(m map[string]any) (sql.NullString, error) {
	if len(m) == 0 {
		return sql.NullString{}, nil
	}
	raw, err := json.Marshal(m)
	if err != nil {
		return sql.NullString{}, fmt.Errorf("encode map: %w", err)
	}
	return sql.NullString{String: string(raw), Valid: true}, nil
}
