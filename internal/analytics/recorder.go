// Package analytics records per-session conversation analytics and exposes
// the process metrics.
package analytics

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/guiIerme/JobFinder-sub003/internal/domain"
	"github.com/guiIerme/JobFinder-sub003/internal/repository"
)

// ErrNotFound is returned when a session has no analytics record yet.
var ErrNotFound = errors.New("analytics record not found")

// Recorder writes analytics alongside the conversation. Message counters are
// maintained by the repository in the append transaction; the recorder adds
// the turn-level facts and seals the record when the session closes.
type Recorder struct {
	repo    repository.Store
	metrics *Metrics
	now     func() time.Time
}

// NewRecorder creates a recorder. metrics may be nil.
func NewRecorder(repo repository.Store, metrics *Metrics) *Recorder {
	return &Recorder{repo: repo, metrics: metrics, now: time.Now}
}

// RecordTurn appends the intent and the reply action of one exchange.
func (r *Recorder) RecordTurn(ctx context.Context, sessionID string, intent domain.Intent, action domain.ReplyAction) error {
	if err := r.repo.AddAnalyticsTurn(ctx, sessionID, string(intent), string(action), r.now()); err != nil {
		return fmt.Errorf("record turn: %w", err)
	}
	return nil
}

// MarkEscalated flags the record as escalated.
func (r *Recorder) MarkEscalated(ctx context.Context, sessionID string) error {
	if err := r.repo.MarkAnalyticsEscalated(ctx, sessionID, r.now()); err != nil {
		return fmt.Errorf("mark escalated: %w", err)
	}
	if r.metrics != nil {
		r.metrics.Escalations.Inc()
	}
	return nil
}

// MarkResolved flags the record as resolved.
func (r *Recorder) MarkResolved(ctx context.Context, sessionID string) error {
	if err := r.repo.MarkAnalyticsResolved(ctx, sessionID, r.now()); err != nil {
		return fmt.Errorf("mark resolved: %w", err)
	}
	return nil
}

// Finalize seals the record of a closed session. Only the first call has an
// effect.
func (r *Recorder) Finalize(ctx context.Context, sessionID string, reason domain.CloseReason) error {
	sealed, err := r.repo.FinalizeAnalytics(ctx, sessionID, reason, r.now())
	if err != nil {
		return fmt.Errorf("finalize analytics: %w", err)
	}
	if sealed && r.metrics != nil {
		r.metrics.SessionsFinalized.WithLabelValues(string(reason)).Inc()
	}
	return nil
}

// Get returns the record of sessionID.
func (r *Recorder) Get(ctx context.Context, sessionID string) (*domain.AnalyticsRecord, error) {
	rec, err := r.repo.GetAnalytics(ctx, sessionID)
	if err != nil {
		return nil, fmt.Errorf("get analytics: %w", err)
	}
	if rec == nil {
		return nil, ErrNotFound
	}
	return rec, nil
}

// Export returns every record created at or after since.
func (r *Recorder) Export(ctx context.Context, since time.Time) ([]domain.AnalyticsRecord, error) {
	records, err := r.repo.ListAnalytics(ctx, since)
	if err != nil {
		return nil, fmt.Errorf("export analytics: %w", err)
	}
	if records == nil {
		records = []domain.AnalyticsRecord{}
	}
	return records, nil
}

// Report aggregates the records created at or after since.
func (r *Recorder) Report(ctx context.Context, since time.Time) (*domain.Report, error) {
	records, err := r.Export(ctx, since)
	if err != nil {
		return nil, err
	}
	return Summarize(since, records), nil
}

// Summarize folds records into a report.
func Summarize(since time.Time, records []domain.AnalyticsRecord) *domain.Report {
	rep := &domain.Report{
		Since:        since,
		Sessions:     len(records),
		TopicCounts:  map[string]int64{},
		ActionCounts: map[string]int64{},
	}

	var replies, responseMs, cached, fallback int64
	var escalated, resolved, rated, satisfaction int
	for _, rec := range records {
		if rec.Finalized() {
			rep.Finalized++
		}
		rep.Messages += rec.MessageCount
		replies += rec.AssistantMessages
		responseMs += rec.TotalResponseMs
		cached += rec.CachedReplies
		fallback += rec.FallbackReplies
		if rec.MaxResponseMs > rep.MaxResponseMs {
			rep.MaxResponseMs = rec.MaxResponseMs
		}
		if rec.Escalated {
			escalated++
		}
		if rec.Resolved {
			resolved++
		}
		if rec.Satisfaction != nil {
			rated++
			satisfaction += *rec.Satisfaction
		}
		for _, t := range rec.Topics {
			rep.TopicCounts[t]++
		}
		for _, a := range rec.Actions {
			rep.ActionCounts[a]++
		}
	}

	rep.AvgResponseMs = ratio(responseMs, replies)
	rep.CacheHitRate = ratio(cached, replies)
	rep.FallbackRate = ratio(fallback, replies)
	rep.EscalationRate = ratio(int64(escalated), int64(len(records)))
	rep.ResolutionRate = ratio(int64(resolved), int64(len(records)))
	rep.AvgSatisfaction = ratio(int64(satisfaction), int64(rated))
	return rep
}

func ratio(n, d int64) float64 {
	if d == 0 {
		return 0
	}
	return float64(n) / float64(d)
}
