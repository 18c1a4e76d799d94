package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/guiIerme/JobFinder-sub003/internal/domain"
)

const analyticsColumns = `session_id, message_count, user_messages, assistant_messages, total_response_ms,
	max_response_ms, cached_replies, fallback_replies, resolved, escalated, topics, actions,
	avg_response_ms, duration_ms, satisfaction, close_reason, created_at, updated_at, finalized_at`

// GetAnalytics retrieves the analytics record of a session.
func (s *SQLiteStore) GetAnalytics(ctx context.Context, sessionID string) (*domain.AnalyticsRecord, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+analyticsColumns+` FROM analytics WHERE session_id = ?`, sessionID)
	rec, err := scanAnalytics(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	return rec, err
}

// ensureAnalytics creates an empty record for the session if none exists.
func ensureAnalytics(ctx context.Context, tx *sql.Tx, sessionID string, at time.Time) error {
	_, err := tx.ExecContext(ctx,
		`INSERT INTO analytics (session_id, created_at, updated_at) VALUES (?, ?, ?)
		 ON CONFLICT(session_id) DO NOTHING`,
		sessionID, micros(at), micros(at))
	return err
}

// AddAnalyticsTurn appends a topic and a reply action to an open record.
func (s *SQLiteStore) AddAnalyticsTurn(ctx context.Context, sessionID, topic, action string, at time.Time) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if err := ensureAnalytics(ctx, tx, sessionID, at); err != nil {
		return err
	}

	var topicsRaw, actionsRaw string
	var finalized sql.NullInt64
	if err := tx.QueryRowContext(ctx,
		`SELECT topics, actions, finalized_at FROM analytics WHERE session_id = ?`,
		sessionID).Scan(&topicsRaw, &actionsRaw, &finalized); err != nil {
		return err
	}
	if finalized.Valid {
		return nil
	}

	var topics, actions []string
	if err := json.Unmarshal([]byte(topicsRaw), &topics); err != nil {
		return fmt.Errorf("decode topics: %w", err)
	}
	if err := json.Unmarshal([]byte(actionsRaw), &actions); err != nil {
		return fmt.Errorf("decode actions: %w", err)
	}
	if topic != "" {
		topics = append(topics, topic)
	}
	if action != "" {
		actions = append(actions, action)
	}
	topicsOut, err := json.Marshal(nonNil(topics))
	if err != nil {
		return err
	}
	actionsOut, err := json.Marshal(nonNil(actions))
	if err != nil {
		return err
	}

	if _, err := tx.ExecContext(ctx,
		`UPDATE analytics SET topics = ?, actions = ?, updated_at = ? WHERE session_id = ? AND finalized_at IS NULL`,
		string(topicsOut), string(actionsOut), micros(at), sessionID); err != nil {
		return err
	}
	return tx.Commit()
}

// MarkAnalyticsEscalated sets the escalated flag on an open record.
func (s *SQLiteStore) MarkAnalyticsEscalated(ctx context.Context, sessionID string, at time.Time) error {
	return s.setAnalyticsFlag(ctx, sessionID, "escalated", at)
}

// MarkAnalyticsResolved sets the resolved flag on an open record.
func (s *SQLiteStore) MarkAnalyticsResolved(ctx context.Context, sessionID string, at time.Time) error {
	return s.setAnalyticsFlag(ctx, sessionID, "resolved", at)
}

func (s *SQLiteStore) setAnalyticsFlag(ctx context.Context, sessionID, column string, at time.Time) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if err := ensureAnalytics(ctx, tx, sessionID, at); err != nil {
		return err
	}
	if _, err := tx.ExecContext(ctx,
		fmt.Sprintf(`UPDATE analytics SET %s = 1, updated_at = ? WHERE session_id = ? AND finalized_at IS NULL`, column),
		micros(at), sessionID); err != nil {
		return err
	}
	return tx.Commit()
}

// FinalizeAnalytics seals the record of a closed session, computing the
// aggregate fields from the stored counters and the session row. It reports
// false when the record was already finalized.
func (s *SQLiteStore) FinalizeAnalytics(ctx context.Context, sessionID string, reason domain.CloseReason, at time.Time) (bool, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return false, err
	}
	defer tx.Rollback()

	if err := ensureAnalytics(ctx, tx, sessionID, at); err != nil {
		return false, err
	}
	res, err := tx.ExecContext(ctx,
		`UPDATE analytics SET
			avg_response_ms = CASE WHEN assistant_messages > 0
				THEN CAST(total_response_ms AS REAL) / assistant_messages ELSE 0 END,
			duration_ms = MAX(0, (? - (SELECT created_at FROM sessions WHERE sessions.session_id = analytics.session_id)) / 1000),
			satisfaction = (SELECT satisfaction FROM sessions WHERE sessions.session_id = analytics.session_id),
			escalated = MAX(escalated, (SELECT escalated FROM sessions WHERE sessions.session_id = analytics.session_id)),
			close_reason = ?,
			finalized_at = ?,
			updated_at = ?
		 WHERE session_id = ? AND finalized_at IS NULL`,
		micros(at), string(reason), micros(at), micros(at), sessionID)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	if err := tx.Commit(); err != nil {
		return false, err
	}
	return n == 1, nil
}

// ListAnalytics returns records created at or after since, oldest first.
func (s *SQLiteStore) ListAnalytics(ctx context.Context, since time.Time) ([]domain.AnalyticsRecord, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+analyticsColumns+` FROM analytics WHERE created_at >= ? ORDER BY created_at ASC`,
		micros(since))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var records []domain.AnalyticsRecord
	for rows.Next() {
		rec, err := scanAnalytics(rows)
		if err != nil {
			return nil, err
		}
		records = append(records, *rec)
	}
	return records, rows.Err()
}

func scanAnalytics(row rowScanner) (*domain.AnalyticsRecord, error) {
	var rec domain.AnalyticsRecord
	var resolved, escalated int
	var topics, actions string
	var satisfaction, finalizedAt sql.NullInt64
	var reason sql.NullString
	var createdAt, updatedAt int64
	if err := row.Scan(&rec.SessionID, &rec.MessageCount, &rec.UserMessages, &rec.AssistantMessages,
		&rec.TotalResponseMs, &rec.MaxResponseMs, &rec.CachedReplies, &rec.FallbackReplies,
		&resolved, &escalated, &topics, &actions, &rec.AvgResponseMs, &rec.DurationMs,
		&satisfaction, &reason, &createdAt, &updatedAt, &finalizedAt); err != nil {
		return nil, err
	}
	rec.Resolved = resolved == 1
	rec.Escalated = escalated == 1
	rec.CloseReason = domain.CloseReason(reason.String)
	rec.CreatedAt = fromMicros(createdAt)
	rec.UpdatedAt = fromMicros(updatedAt)
	if satisfaction.Valid {
		v := int(satisfaction.Int64)
		rec.Satisfaction = &v
	}
	if finalizedAt.Valid {
		t := fromMicros(finalizedAt.Int64)
		rec.FinalizedAt = &t
	}
	if err := json.Unmarshal([]byte(topics), &rec.Topics); err != nil {
		return nil, fmt.Errorf("decode topics: %w", err)
	}
	if err := json.Unmarshal([]byte(actions), &rec.Actions); err != nil {
		return nil, fmt.Errorf("decode actions: %w", err)
	}
	rec.Topics = nonNil(rec.Topics)
	rec.Actions = nonNil(rec.Actions)
	return &rec, nil
}

func nonNil(s []string) []string {
	if s == nil {
		return []string{}
	}
	return s
}
