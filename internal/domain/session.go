package domain

import (
	"time"
)

// Session represents a conversation between one identity and the assistant.
type Session struct {
	SessionID      string         `json:"session_id"`
	UserID         string         `json:"user_id,omitempty"`
	AnonymousID    string         `json:"anonymous_id,omitempty"`
	Role           Role           `json:"role"`
	Context        map[string]any `json:"context,omitempty"`
	Active         bool           `json:"active"`
	Escalated      bool           `json:"escalated"`
	HandoffPending bool           `json:"handoff_pending,omitempty"`
	Satisfaction   *int           `json:"satisfaction,omitempty"`
	CreatedAt      time.Time      `json:"created_at"`
	UpdatedAt      time.Time      `json:"updated_at"`
	ClosedAt       *time.Time     `json:"closed_at,omitempty"`
}

// Owner identifies who a session belongs to. Exactly one of UserID and
// AnonymousID is set.
type Owner struct {
	UserID      string
	AnonymousID string
}

// Key returns a stable key for the owner, used for locking and rate limiting.
func (o Owner) Key() string {
	if o.UserID != "" {
		return "user:" + o.UserID
	}
	return "anon:" + o.AnonymousID
}

// Empty reports whether the owner carries no identity at all.
func (o Owner) Empty() bool {
	return o.UserID == "" && o.AnonymousID == ""
}

// Owner returns the owner of the session.
func (s *Session) Owner() Owner {
	return Owner{UserID: s.UserID, AnonymousID: s.AnonymousID}
}

// Topic returns the current conversation topic stored in the session context.
func (s *Session) Topic() string {
	if s.Context == nil {
		return ""
	}
	if v, ok := s.Context["topic"].(string); ok {
		return v
	}
	return ""
}

// Page returns the page the user is currently looking at, if known.
func (s *Session) Page() string {
	if s.Context == nil {
		return ""
	}
	if v, ok := s.Context["page"].(string); ok {
		return v
	}
	return ""
}

// Message represents a single turn in a session. Messages are immutable once
// written.
type Message struct {
	MessageID    string         `json:"message_id"`
	SessionID    string         `json:"session_id"`
	Seq          int64          `json:"seq"`
	Sender       SenderKind     `json:"sender"`
	Content      string         `json:"content"`
	Metadata     map[string]any `json:"metadata,omitempty"`
	CreatedAt    time.Time      `json:"created_at"`
	ProcessingMs int64          `json:"processing_ms,omitempty"`
	Cached       bool           `json:"cached,omitempty"`
}

// SessionEventType names a session lifecycle transition.
type SessionEventType string

const (
	SessionCreated   SessionEventType = "session.created"
	SessionResumed   SessionEventType = "session.resumed"
	SessionClosed    SessionEventType = "session.closed"
	SessionEscalated SessionEventType = "session.escalated"
)

// SessionEvent is a lifecycle notification sent to the notification sink.
type SessionEvent struct {
	Type        SessionEventType `json:"type"`
	SessionID   string           `json:"session_id"`
	UserID      string           `json:"user_id,omitempty"`
	AnonymousID string           `json:"anonymous_id,omitempty"`
	Reason      string           `json:"reason,omitempty"`
	At          time.Time        `json:"at"`
}
