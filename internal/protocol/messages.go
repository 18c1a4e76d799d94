// Package protocol defines the WebSocket frames exchanged between clients and
// the gateway.
package protocol

import (
	"encoding/json"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/guiIerme/JobFinder-sub003/internal/domain"
)

// Frame types from client to gateway
const (
	TypeChat   = "chat"
	TypeRating = "rating"
	TypePing   = "ping"
)

// Frame types from gateway to client
const (
	TypeMessage     = "message"
	TypeTyping      = "typing"
	TypeError       = "error"
	TypeRateLimited = "rate_limited"
)

// Error codes
const (
	ErrorCodeAuth            = "auth_error"
	ErrorCodeValidation      = "validation_error"
	ErrorCodeStillProcessing = "still_processing"
	ErrorCodeSessionNotFound = "session_not_found"
	ErrorCodeInternal        = "internal_error"
)

// Events carried by message frames.
const (
	EventSession = "session"
	EventMessage = "message"
)

// MaxTextLength bounds a chat message, in characters.
const MaxTextLength = 2000

// Envelope is an inbound frame before payload decoding.
type Envelope struct {
	Type    string          `json:"type"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

// Frame is an outbound frame.
type Frame struct {
	Type      string `json:"type"`
	Ts        int64  `json:"ts"`
	SessionID string `json:"session_id,omitempty"`
	RequestID string `json:"request_id,omitempty"`
	Payload   any    `json:"payload"`
}

// ChatPayload is sent by the client with a user message. Context is merged
// into the session context before the message is processed.
type ChatPayload struct {
	Text      string         `json:"text"`
	RequestID string         `json:"request_id,omitempty"`
	Context   map[string]any `json:"context,omitempty"`
}

// RatingPayload is sent by the client to rate the conversation.
type RatingPayload struct {
	Score   int    `json:"score"`
	Comment string `json:"comment,omitempty"`
}

// MessageView is a persisted message as seen by the client.
type MessageView struct {
	Event        string         `json:"event"`
	MessageID    string         `json:"message_id"`
	Seq          int64          `json:"seq"`
	Sender       string         `json:"sender"`
	Content      string         `json:"content"`
	Metadata     map[string]any `json:"metadata,omitempty"`
	CreatedAt    int64          `json:"created_at"`
	ProcessingMs int64          `json:"processing_ms,omitempty"`
	Cached       bool           `json:"cached,omitempty"`
}

// SessionPayload is the first message frame on a connection.
type SessionPayload struct {
	Event     string         `json:"event"`
	SessionID string         `json:"session_id"`
	Resumed   bool           `json:"resumed"`
	Role      string         `json:"role"`
	Context   map[string]any `json:"context,omitempty"`
	History   []MessageView  `json:"history"`
	Notice    string         `json:"notice,omitempty"`
}

// TypingPayload signals that a reply is being produced.
type TypingPayload struct {
	Typing bool `json:"typing"`
}

// ErrorPayload describes a recoverable or fatal error.
type ErrorPayload struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// RateLimitedPayload tells the client when to retry.
type RateLimitedPayload struct {
	RetryAfterSeconds int    `json:"retry_after_seconds"`
	Message           string `json:"message"`
}

// ParseEnvelope decodes an inbound frame. Unknown types are rejected.
func ParseEnvelope(data []byte) (*Envelope, error) {
	var env Envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return nil, &domain.ValidationError{Message: "invalid JSON frame"}
	}
	switch env.Type {
	case TypeChat, TypeRating, TypePing:
		return &env, nil
	case "":
		return nil, &domain.ValidationError{Field: "type", Message: "frame type is required"}
	default:
		return nil, &domain.ValidationError{Field: "type", Message: "unknown frame type: " + env.Type}
	}
}

// DecodeChat decodes and validates a chat payload.
func DecodeChat(env *Envelope) (*ChatPayload, error) {
	var p ChatPayload
	if err := decodePayload(env, &p); err != nil {
		return nil, err
	}
	p.Text = strings.TrimSpace(p.Text)
	if p.Text == "" {
		return nil, &domain.ValidationError{Field: "text", Message: "text is required"}
	}
	if utf8.RuneCountInString(p.Text) > MaxTextLength {
		return nil, &domain.ValidationError{Field: "text", Message: "text is too long"}
	}
	return &p, nil
}

// DecodeRating decodes and validates a rating payload.
func DecodeRating(env *Envelope) (*RatingPayload, error) {
	var p RatingPayload
	if err := decodePayload(env, &p); err != nil {
		return nil, err
	}
	if p.Score < 1 || p.Score > 5 {
		return nil, &domain.ValidationError{Field: "score", Message: "score must be between 1 and 5"}
	}
	return &p, nil
}

func decodePayload(env *Envelope, v any) error {
	if len(env.Payload) == 0 || string(env.Payload) == "null" {
		return &domain.ValidationError{Field: "payload", Message: "payload is required"}
	}
	if err := json.Unmarshal(env.Payload, v); err != nil {
		return &domain.ValidationError{Field: "payload", Message: "invalid " + env.Type + " payload"}
	}
	return nil
}

func newFrame(typ, sessionID string, payload any) *Frame {
	return &Frame{Type: typ, Ts: time.Now().UnixMilli(), SessionID: sessionID, Payload: payload}
}

// ViewOf converts a stored message.
func ViewOf(m *domain.Message) MessageView {
	return MessageView{
		Event:        EventMessage,
		MessageID:    m.MessageID,
		Seq:          m.Seq,
		Sender:       string(m.Sender),
		Content:      m.Content,
		Metadata:     m.Metadata,
		CreatedAt:    m.CreatedAt.UnixMilli(),
		ProcessingMs: m.ProcessingMs,
		Cached:       m.Cached,
	}
}

// MessageFrame carries one persisted message.
func MessageFrame(m *domain.Message, requestID string) *Frame {
	f := newFrame(TypeMessage, m.SessionID, ViewOf(m))
	f.RequestID = requestID
	return f
}

// SessionFrame announces the bound session with its history.
func SessionFrame(sess *domain.Session, resumed bool, history []domain.Message, notice string) *Frame {
	views := make([]MessageView, 0, len(history))
	for i := range history {
		views = append(views, ViewOf(&history[i]))
	}
	return newFrame(TypeMessage, sess.SessionID, SessionPayload{
		Event:     EventSession,
		SessionID: sess.SessionID,
		Resumed:   resumed,
		Role:      string(sess.Role),
		Context:   sess.Context,
		History:   views,
		Notice:    notice,
	})
}

// TypingFrame signals reply progress.
func TypingFrame(sessionID string, typing bool) *Frame {
	return newFrame(TypeTyping, sessionID, TypingPayload{Typing: typing})
}

// ErrorFrame reports an error with a user-safe message.
func ErrorFrame(sessionID, requestID, code, message string) *Frame {
	f := newFrame(TypeError, sessionID, ErrorPayload{Code: code, Message: message})
	f.RequestID = requestID
	return f
}

// RateLimitedFrame reports a rejected chat message.
func RateLimitedFrame(sessionID, requestID string, retryAfter int) *Frame {
	f := newFrame(TypeRateLimited, sessionID, RateLimitedPayload{
		RetryAfterSeconds: retryAfter,
		Message:           "Você enviou muitas mensagens. Aguarde um instante antes de tentar novamente.",
	})
	f.RequestID = requestID
	return f
}

// Encode marshals f.
func Encode(f *Frame) ([]byte, error) {
	return json.Marshal(f)
}
