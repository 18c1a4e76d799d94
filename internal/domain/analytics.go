package domain

import (
	"time"
)

// AnalyticsRecord aggregates per-session counters. It is keyed by session id
// and becomes immutable once FinalizedAt is set.
type AnalyticsRecord struct {
	SessionID         string      `json:"session_id"`
	MessageCount      int64       `json:"message_count"`
	UserMessages      int64       `json:"user_messages"`
	AssistantMessages int64       `json:"assistant_messages"`
	TotalResponseMs   int64       `json:"total_response_ms"`
	MaxResponseMs     int64       `json:"max_response_ms"`
	CachedReplies     int64       `json:"cached_replies"`
	FallbackReplies   int64       `json:"fallback_replies"`
	Resolved          bool        `json:"resolved"`
	Escalated         bool        `json:"escalated"`
	Topics            []string    `json:"topics"`
	Actions           []string    `json:"actions"`
	AvgResponseMs     float64     `json:"avg_response_ms"`
	DurationMs        int64       `json:"duration_ms"`
	Satisfaction      *int        `json:"satisfaction,omitempty"`
	CloseReason       CloseReason `json:"close_reason,omitempty"`
	CreatedAt         time.Time   `json:"created_at"`
	UpdatedAt         time.Time   `json:"updated_at"`
	FinalizedAt       *time.Time  `json:"finalized_at,omitempty"`
}

// Finalized reports whether the record has been sealed.
func (r *AnalyticsRecord) Finalized() bool {
	return r.FinalizedAt != nil
}

// AnalyticsDelta is the counter increment applied alongside an append.
type AnalyticsDelta struct {
	Messages          int64
	UserMessages      int64
	AssistantMessages int64
	ResponseMs        int64
	MaxResponseMs     int64
	CachedReplies     int64
	FallbackReplies   int64
}

// DeltaFor computes the counter increments for a batch of appended messages.
func DeltaFor(msgs []*Message) AnalyticsDelta {
	var d AnalyticsDelta
	for _, m := range msgs {
		d.Messages++
		switch m.Sender {
		case SenderUser:
			d.UserMessages++
		case SenderAssistant:
			d.AssistantMessages++
			d.ResponseMs += m.ProcessingMs
			if m.ProcessingMs > d.MaxResponseMs {
				d.MaxResponseMs = m.ProcessingMs
			}
			if m.Cached {
				d.CachedReplies++
			}
			if fb, _ := m.Metadata[MetaFallback].(bool); fb {
				d.FallbackReplies++
			}
		}
	}
	return d
}

// Report summarizes analytics records over a period.
type Report struct {
	Since           time.Time        `json:"since"`
	Sessions        int              `json:"sessions"`
	Finalized       int              `json:"finalized"`
	Messages        int64            `json:"messages"`
	AvgResponseMs   float64          `json:"avg_response_ms"`
	MaxResponseMs   int64            `json:"max_response_ms"`
	CacheHitRate    float64          `json:"cache_hit_rate"`
	FallbackRate    float64          `json:"fallback_rate"`
	EscalationRate  float64          `json:"escalation_rate"`
	ResolutionRate  float64          `json:"resolution_rate"`
	AvgSatisfaction float64          `json:"avg_satisfaction"`
	TopicCounts     map[string]int64 `json:"topic_counts"`
	ActionCounts    map[string]int64 `json:"action_counts"`
}
