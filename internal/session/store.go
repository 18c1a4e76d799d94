// Package session owns session lifecycle and ordered message appends.
package session

import (
	"context"
	"fmt"
	"maps"
	"time"

	"github.com/google/uuid"
	"github.com/guiIerme/JobFinder-sub003/internal/domain"
	"github.com/guiIerme/JobFinder-sub003/internal/logging"
	"github.com/guiIerme/JobFinder-sub003/internal/repository"
	"github.com/oklog/ulid/v2"
)

// DefaultRetention is how long an idle session stays resumable.
const DefaultRetention = 24 * time.Hour

// Finalizer seals the analytics of a closed session.
type Finalizer interface {
	Finalize(ctx context.Context, sessionID string, reason domain.CloseReason) error
}

// Notifier receives lifecycle events. Implementations must not block.
type Notifier interface {
	Notify(ev domain.SessionEvent)
}

// Store serializes all mutations of a session behind a per-session lock.
type Store struct {
	repo      repository.Store
	finalizer Finalizer
	notifier  Notifier
	retention time.Duration
	now       func() time.Time

	sessions *keyedMutex
	owners   *keyedMutex
}

// Option configures a Store.
type Option func(*Store)

// WithFinalizer sets the analytics finalizer invoked on close.
func WithFinalizer(f Finalizer) Option {
	return func(s *Store) { s.finalizer = f }
}

// WithNotifier sets the lifecycle notification sink.
func WithNotifier(n Notifier) Option {
	return func(s *Store) { s.notifier = n }
}

// WithRetention overrides the resume window.
func WithRetention(d time.Duration) Option {
	return func(s *Store) {
		if d > 0 {
			s.retention = d
		}
	}
}

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option {
	return func(s *Store) { s.now = now }
}

// New creates a session store over repo.
func New(repo repository.Store, opts ...Option) *Store {
	s := &Store{
		repo:      repo,
		retention: DefaultRetention,
		now:       time.Now,
		sessions:  newKeyedMutex(),
		owners:    newKeyedMutex(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Now returns the store clock in UTC.
func (s *Store) Now() time.Time {
	return s.now().UTC()
}

// NewMessageID returns a monotonic message id.
func NewMessageID() string {
	return "msg_" + ulid.Make().String()
}

// Create starts a new active session for owner.
func (s *Store) Create(ctx context.Context, owner domain.Owner, role domain.Role, initial map[string]any) (*domain.Session, error) {
	now := s.Now()
	sess := &domain.Session{
		SessionID:   "sess_" + uuid.NewString(),
		UserID:      owner.UserID,
		AnonymousID: owner.AnonymousID,
		Role:        role,
		Context:     maps.Clone(initial),
		Active:      true,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	if err := s.repo.CreateSession(ctx, sess); err != nil {
		return nil, fmt.Errorf("create session: %w", err)
	}
	s.notify(domain.SessionCreated, sess, "")
	logging.Info().Str("session_id", sess.SessionID).Str("identity", owner.Key()).Msg("session created")
	return sess, nil
}

// Resolve returns the owner's most recent active session when it was updated
// within the retention window, otherwise a new one. A stale active session is
// closed first. The boolean reports whether an existing session was resumed.
func (s *Store) Resolve(ctx context.Context, owner domain.Owner, role domain.Role, initial map[string]any) (*domain.Session, bool, error) {
	if owner.Empty() {
		return nil, false, &domain.ValidationError{Field: "identity", Message: "owner is required"}
	}
	unlock := s.owners.Lock(owner.Key())
	defer unlock()

	latest, err := s.repo.LatestActiveSession(ctx, owner)
	if err != nil {
		return nil, false, fmt.Errorf("lookup session: %w", err)
	}
	if latest != nil {
		if s.Now().Sub(latest.UpdatedAt) < s.retention {
			if len(initial) > 0 {
				if updated, err := s.UpdateContext(ctx, latest.SessionID, initial); err == nil {
					latest = updated
				}
			}
			s.notify(domain.SessionResumed, latest, "")
			return latest, true, nil
		}
		if _, err := s.Close(ctx, latest.SessionID, domain.CloseReasonExpired); err != nil {
			return nil, false, err
		}
	}

	sess, err := s.Create(ctx, owner, role, initial)
	if err != nil {
		return nil, false, err
	}
	return sess, false, nil
}

// Get returns the session or ErrSessionNotFound.
func (s *Store) Get(ctx context.Context, sessionID string) (*domain.Session, error) {
	sess, err := s.repo.GetSession(ctx, sessionID)
	if err != nil {
		return nil, fmt.Errorf("get session: %w", err)
	}
	if sess == nil {
		return nil, domain.ErrSessionNotFound
	}
	return sess, nil
}

// AppendMessages appends msgs atomically and in order. Closed sessions are
// rejected with ErrSessionClosed.
func (s *Store) AppendMessages(ctx context.Context, sessionID string, msgs ...*domain.Message) error {
	unlock := s.sessions.Lock(sessionID)
	defer unlock()

	sess, err := s.Get(ctx, sessionID)
	if err != nil {
		return err
	}
	if !sess.Active {
		return domain.ErrSessionClosed
	}
	return s.append(ctx, sessionID, msgs)
}

// AppendReply persists a user message and the reply produced for it. If the
// session was closed while the reply was being generated the pair is still
// stored, with the reply tagged terminal; the returned flag reports that case.
func (s *Store) AppendReply(ctx context.Context, sessionID string, user, assistant *domain.Message) (bool, error) {
	unlock := s.sessions.Lock(sessionID)
	defer unlock()

	sess, err := s.Get(ctx, sessionID)
	if err != nil {
		return false, err
	}
	terminal := !sess.Active
	if terminal && assistant != nil {
		if assistant.Metadata == nil {
			assistant.Metadata = map[string]any{}
		}
		assistant.Metadata[domain.MetaTerminal] = true
	}

	var msgs []*domain.Message
	for _, m := range []*domain.Message{user, assistant} {
		if m != nil {
			msgs = append(msgs, m)
		}
	}
	return terminal, s.append(ctx, sessionID, msgs)
}

func (s *Store) append(ctx context.Context, sessionID string, msgs []*domain.Message) error {
	for _, m := range msgs {
		if m.MessageID == "" {
			m.MessageID = NewMessageID()
		}
		if m.CreatedAt.IsZero() {
			m.CreatedAt = s.Now()
		}
	}
	if err := s.repo.AppendMessages(ctx, sessionID, msgs); err != nil {
		return fmt.Errorf("append messages: %w", err)
	}
	return nil
}

// WithSession runs fn while holding the session lock.
func (s *Store) WithSession(ctx context.Context, sessionID string, fn func(*domain.Session) error) error {
	unlock := s.sessions.Lock(sessionID)
	defer unlock()

	sess, err := s.Get(ctx, sessionID)
	if err != nil {
		return err
	}
	return fn(sess)
}

// UpdateContext merges patch into the session context. Later writes win per
// key; a nil value removes the key.
func (s *Store) UpdateContext(ctx context.Context, sessionID string, patch map[string]any) (*domain.Session, error) {
	unlock := s.sessions.Lock(sessionID)
	defer unlock()

	sess, err := s.Get(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	if len(patch) == 0 {
		return sess, nil
	}
	merged := maps.Clone(sess.Context)
	if merged == nil {
		merged = make(map[string]any, len(patch))
	}
	for k, v := range patch {
		if v == nil {
			delete(merged, k)
			continue
		}
		merged[k] = v
	}
	now := s.Now()
	if err := s.repo.UpdateSessionContext(ctx, sessionID, merged, now); err != nil {
		return nil, fmt.Errorf("update context: %w", err)
	}
	sess.Context = merged
	if now.After(sess.UpdatedAt) {
		sess.UpdatedAt = now
	}
	return sess, nil
}

// Close ends the session and finalizes its analytics. It reports whether this
// call performed the close; repeated calls are no-ops.
func (s *Store) Close(ctx context.Context, sessionID string, reason domain.CloseReason) (bool, error) {
	return s.closeIf(ctx, sessionID, reason, nil)
}

func (s *Store) closeIf(ctx context.Context, sessionID string, reason domain.CloseReason, cond func(*domain.Session) bool) (bool, error) {
	unlock := s.sessions.Lock(sessionID)
	defer unlock()

	sess, err := s.Get(ctx, sessionID)
	if err != nil {
		return false, err
	}
	if !sess.Active || (cond != nil && !cond(sess)) {
		return false, nil
	}

	closed, err := s.repo.CloseSession(ctx, sessionID, s.Now())
	if err != nil {
		return false, fmt.Errorf("close session: %w", err)
	}
	if !closed {
		return false, nil
	}

	log := logging.Session(sessionID, sess.Owner().Key())
	if s.finalizer != nil {
		if err := s.finalizer.Finalize(ctx, sessionID, reason); err != nil {
			log.Error().Err(err).Msg("analytics finalize failed")
		}
	}
	s.notify(domain.SessionClosed, sess, string(reason))
	log.Info().Str("reason", string(reason)).Msg("session closed")
	return true, nil
}

// CleanupExpired closes active sessions idle beyond the retention window and
// returns how many were closed.
func (s *Store) CleanupExpired(ctx context.Context) (int, error) {
	cutoff := s.Now().Add(-s.retention)
	total := 0
	for {
		ids, err := s.repo.ListExpiredSessions(ctx, cutoff, 100)
		if err != nil {
			return total, fmt.Errorf("list expired sessions: %w", err)
		}
		closedBatch := 0
		for _, id := range ids {
			closed, err := s.closeIf(ctx, id, domain.CloseReasonExpired, func(sess *domain.Session) bool {
				return !sess.UpdatedAt.After(cutoff)
			})
			if err != nil {
				logging.Warn().Err(err).Str("session_id", id).Msg("expire session failed")
				continue
			}
			if closed {
				closedBatch++
			}
		}
		total += closedBatch
		if len(ids) < 100 || closedBatch == 0 {
			return total, nil
		}
	}
}

// History returns up to limit of the most recent messages, oldest first. A
// non-positive limit returns everything.
func (s *Store) History(ctx context.Context, sessionID string, limit int) ([]domain.Message, error) {
	msgs, err := s.repo.RecentMessages(ctx, sessionID, limit)
	if err != nil {
		return nil, fmt.Errorf("load history: %w", err)
	}
	return msgs, nil
}

// Messages pages through a session's messages in append order.
func (s *Store) Messages(ctx context.Context, sessionID string, afterSeq int64, limit int) ([]domain.Message, error) {
	msgs, err := s.repo.ListMessages(ctx, sessionID, afterSeq, limit)
	if err != nil {
		return nil, fmt.Errorf("list messages: %w", err)
	}
	return msgs, nil
}

// MarkEscalated flags the session for human follow-up and arms the hand-off
// for the next reply. It reports whether the session was not escalated before.
func (s *Store) MarkEscalated(ctx context.Context, sessionID string) (bool, error) {
	unlock := s.sessions.Lock(sessionID)
	defer unlock()

	sess, err := s.Get(ctx, sessionID)
	if err != nil {
		return false, err
	}
	if err := s.repo.SetSessionEscalated(ctx, sessionID, true, s.Now()); err != nil {
		return false, fmt.Errorf("mark escalated: %w", err)
	}
	if !sess.Escalated {
		s.notify(domain.SessionEscalated, sess, "")
	}
	return !sess.Escalated, nil
}

// SetSatisfaction records a 1..5 rating.
func (s *Store) SetSatisfaction(ctx context.Context, sessionID string, score int) error {
	if score < 1 || score > 5 {
		return &domain.ValidationError{Field: "score", Message: "must be between 1 and 5"}
	}
	unlock := s.sessions.Lock(sessionID)
	defer unlock()

	if _, err := s.Get(ctx, sessionID); err != nil {
		return err
	}
	if err := s.repo.SetSatisfaction(ctx, sessionID, score, s.Now()); err != nil {
		return fmt.Errorf("set satisfaction: %w", err)
	}
	return nil
}

// ClearHandoff disarms a pending hand-off once the contacts were delivered.
func (s *Store) ClearHandoff(ctx context.Context, sessionID string) error {
	unlock := s.sessions.Lock(sessionID)
	defer unlock()

	if err := s.repo.SetHandoffPending(ctx, sessionID, false); err != nil {
		return fmt.Errorf("clear handoff: %w", err)
	}
	return nil
}

func (s *Store) notify(t domain.SessionEventType, sess *domain.Session, reason string) {
	if s.notifier == nil {
		return
	}
	s.notifier.Notify(domain.SessionEvent{
		Type:        t,
		SessionID:   sess.SessionID,
		UserID:      sess.UserID,
		AnonymousID: sess.AnonymousID,
		Reason:      reason,
		At:          s.Now(),
	})
}
