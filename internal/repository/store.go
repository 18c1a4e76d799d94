// Package repository defines the persistence interface and its SQLite
// implementation.
package repository

import (
	"context"
	"time"

	"github.com/guiIerme/JobFinder-sub003/internal/domain"
)

// Store defines the interface for data persistence. Lookups return nil, nil
// when the row does not exist.
type Store interface {
	// Session operations
	CreateSession(ctx context.Context, session *domain.Session) error
	GetSession(ctx context.Context, sessionID string) (*domain.Session, error)
	LatestActiveSession(ctx context.Context, owner domain.Owner) (*domain.Session, error)
	UpdateSessionContext(ctx context.Context, sessionID string, sessionCtx map[string]any, at time.Time) error
	SetSessionEscalated(ctx context.Context, sessionID string, handoffPending bool, at time.Time) error
	SetHandoffPending(ctx context.Context, sessionID string, pending bool) error
	SetSatisfaction(ctx context.Context, sessionID string, score int, at time.Time) error
	CloseSession(ctx context.Context, sessionID string, at time.Time) (bool, error)
	ListExpiredSessions(ctx context.Context, cutoff time.Time, limit int) ([]string, error)

	// Message operations
	AppendMessages(ctx context.Context, sessionID string, msgs []*domain.Message) error
	ListMessages(ctx context.Context, sessionID string, afterSeq int64, limit int) ([]domain.Message, error)
	RecentMessages(ctx context.Context, sessionID string, limit int) ([]domain.Message, error)

	// Knowledge operations
	UpsertKnowledgeEntry(ctx context.Context, entry *domain.KnowledgeEntry) error
	ListKnowledgeEntries(ctx context.Context) ([]domain.KnowledgeEntry, error)
	IncrementKnowledgeUsage(ctx context.Context, entryIDs []string) error

	// Analytics operations
	GetAnalytics(ctx context.Context, sessionID string) (*domain.AnalyticsRecord, error)
	AddAnalyticsTurn(ctx context.Context, sessionID, topic, action string, at time.Time) error
	MarkAnalyticsEscalated(ctx context.Context, sessionID string, at time.Time) error
	MarkAnalyticsResolved(ctx context.Context, sessionID string, at time.Time) error
	FinalizeAnalytics(ctx context.Context, sessionID string, reason domain.CloseReason, at time.Time) (bool, error)
	ListAnalytics(ctx context.Context, since time.Time) ([]domain.AnalyticsRecord, error)

	// Lifecycle
	Close() error
}
