package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"

	"github.com/guiIerme/JobFinder-sub003/internal/domain"
)

// AppendMessages writes msgs in one transaction. Each message receives the
// next sequence number, and a created_at that does not move past the
// previous message is bumped forward by one microsecond so both orderings
// agree. The session's updated_at and the analytics counters are updated in
// the same transaction.
func (s *SQLiteStore) AppendMessages(ctx context.Context, sessionID string, msgs []*domain.Message) error {
	if len(msgs) == 0 {
		return nil
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin append: %w", err)
	}
	defer tx.Rollback()

	var exists int
	err = tx.QueryRowContext(ctx, `SELECT 1 FROM sessions WHERE session_id = ?`, sessionID).Scan(&exists)
	if err == sql.ErrNoRows {
		return domain.ErrSessionNotFound
	}
	if err != nil {
		return err
	}

	var lastSeq, lastAt int64
	if err := tx.QueryRowContext(ctx,
		`SELECT COALESCE(MAX(seq), 0), COALESCE(MAX(created_at), 0) FROM messages WHERE session_id = ?`,
		sessionID).Scan(&lastSeq, &lastAt); err != nil {
		return err
	}

	for _, m := range msgs {
		at := micros(m.CreatedAt)
		if at <= lastAt {
			at = lastAt + 1
		}
		meta, err := marshalMap(m.Metadata)
		if err != nil {
			return err
		}
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO messages (message_id, session_id, seq, sender, content, metadata, created_at, processing_ms, cached)
			 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			m.MessageID, sessionID, lastSeq+1, m.Sender, m.Content, meta, at, m.ProcessingMs, boolInt(m.Cached)); err != nil {
			return fmt.Errorf("insert message: %w", err)
		}
		lastSeq++
		lastAt = at
		m.SessionID = sessionID
		m.Seq = lastSeq
		m.CreatedAt = fromMicros(at)
	}

	if _, err := tx.ExecContext(ctx,
		`UPDATE sessions SET updated_at = MAX(updated_at, ?) WHERE session_id = ?`,
		lastAt, sessionID); err != nil {
		return err
	}

	d := domain.DeltaFor(msgs)
	if _, err := tx.ExecContext(ctx,
		`INSERT INTO analytics (session_id, message_count, user_messages, assistant_messages, total_response_ms,
			max_response_ms, cached_replies, fallback_replies, created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		 ON CONFLICT(session_id) DO UPDATE SET
			message_count = message_count + excluded.message_count,
			user_messages = user_messages + excluded.user_messages,
			assistant_messages = assistant_messages + excluded.assistant_messages,
			total_response_ms = total_response_ms + excluded.total_response_ms,
			max_response_ms = MAX(max_response_ms, excluded.max_response_ms),
			cached_replies = cached_replies + excluded.cached_replies,
			fallback_replies = fallback_replies + excluded.fallback_replies,
			updated_at = excluded.updated_at
		 WHERE finalized_at IS NULL`,
		sessionID, d.Messages, d.UserMessages, d.AssistantMessages, d.ResponseMs,
		d.MaxResponseMs, d.CachedReplies, d.FallbackReplies, lastAt, lastAt); err != nil {
		return fmt.Errorf("update analytics: %w", err)
	}

	return tx.Commit()
}

const messageColumns = `message_id, session_id, seq, sender, content, metadata, created_at, processing_ms, cached`

// ListMessages returns up to limit messages with seq greater than afterSeq in
// ascending order.
func (s *SQLiteStore) ListMessages(ctx context.Context, sessionID string, afterSeq int64, limit int) ([]domain.Message, error) {
	query := `SELECT ` + messageColumns + ` FROM messages WHERE session_id = ? AND seq > ? ORDER BY seq ASC`
	args := []any{sessionID, afterSeq}
	if limit > 0 {
		query += ` LIMIT ?`
		args = append(args, limit)
	}
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanMessages(rows)
}

// RecentMessages returns the last limit messages in ascending order. A
// non-positive limit returns the full history.
func (s *SQLiteStore) RecentMessages(ctx context.Context, sessionID string, limit int) ([]domain.Message, error) {
	if limit <= 0 {
		return s.ListMessages(ctx, sessionID, 0, 0)
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+messageColumns+` FROM (
			SELECT `+messageColumns+` FROM messages WHERE session_id = ? ORDER BY seq DESC LIMIT ?
		 ) ORDER BY seq ASC`,
		sessionID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanMessages(rows)
}

func scanMessages(rows *sql.Rows) ([]domain.Message, error) {
	var messages []domain.Message
	for rows.Next() {
		var msg domain.Message
		var meta sql.NullString
		var createdAt int64
		var cached int
		if err := rows.Scan(&msg.MessageID, &msg.SessionID, &msg.Seq, &msg.Sender, &msg.Content,
			&meta, &createdAt, &msg.ProcessingMs, &cached); err != nil {
			return nil, err
		}
		msg.CreatedAt = fromMicros(createdAt)
		msg.Cached = cached == 1
		if meta.Valid && meta.String != "" {
			if err := json.Unmarshal([]byte(meta.String), &msg.Metadata); err != nil {
				return nil, fmt.Errorf("decode message metadata: %w", err)
			}
		}
		messages = append(messages, msg)
	}
	return messages, rows.Err()
}
