// Package chat runs conversations: it binds identities to sessions, turns
// inbound chat frames into persisted replies and handles ratings and
// escalation.
package chat

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/guiIerme/JobFinder-sub003/internal/adapter/identity"
	"github.com/guiIerme/JobFinder-sub003/internal/domain"
	"github.com/guiIerme/JobFinder-sub003/internal/pipeline"
	"github.com/guiIerme/JobFinder-sub003/internal/policy"
	"github.com/guiIerme/JobFinder-sub003/internal/protocol"
	"github.com/guiIerme/JobFinder-sub003/internal/session"
)

// Publisher fans frames out to the connections of a session.
type Publisher interface {
	Publish(sessionID string, frame *protocol.Frame) error
}

// Recorder receives turn-level analytics.
type Recorder interface {
	RecordTurn(ctx context.Context, sessionID string, intent domain.Intent, action domain.ReplyAction) error
	MarkEscalated(ctx context.Context, sessionID string) error
	MarkResolved(ctx context.Context, sessionID string) error
}

// Escalator decides whether a conversation goes to human support.
type Escalator interface {
	ShouldEscalate(ctx context.Context, in policy.Input) (bool, error)
}

// Metrics observes served replies.
type Metrics interface {
	ReplyServed(action domain.ReplyAction, d time.Duration)
}

// Contacts are the human support channels offered on hand-off.
type Contacts struct {
	Email string
	Phone string
	Hours string
}

// Config holds service settings.
type Config struct {
	HistoryTurns   int
	ProcessTimeout time.Duration
	Contacts       Contacts
}

// Ready describes the session a connection is bound to.
type Ready struct {
	Session *domain.Session
	Resumed bool
	History []domain.Message
	Notice  string
}

// Inbound is an accepted chat frame.
type Inbound struct {
	SessionID string
	Identity  *identity.Identity
	RequestID string
	Text      string
	Context   map[string]any
	Received  time.Time

	// Bind, when set, is called with the replacement session before the
	// message is processed on it.
	Bind func(*Ready)
}

const (
	noticeNewSession = "Sua conversa anterior foi encerrada. Iniciamos uma nova conversa para você."
	ratingThanks     = "Obrigado pela sua avaliação!"
	ratingSorry      = "Obrigado pela sua avaliação. Sentimos muito que a experiência não foi boa; vamos colocar você em contato com nossa equipe."
)

// Service runs conversations.
type Service struct {
	cfg       Config
	sessions  *session.Store
	pipeline  *pipeline.Pipeline
	escalator Escalator
	recorder  Recorder
	publisher Publisher
	metrics   Metrics

	mu       sync.Mutex
	inflight map[string]struct{}
	wg       sync.WaitGroup
}

// New creates a chat service. metrics may be nil.
func New(cfg Config, sessions *session.Store, pipe *pipeline.Pipeline, escalator Escalator, recorder Recorder, publisher Publisher, metrics Metrics) *Service {
	if cfg.HistoryTurns <= 0 {
		cfg.HistoryTurns = 10
	}
	if cfg.ProcessTimeout <= 0 {
		cfg.ProcessTimeout = time.Minute
	}
	return &Service{
		cfg:       cfg,
		sessions:  sessions,
		pipeline:  pipe,
		escalator: escalator,
		recorder:  recorder,
		publisher: publisher,
		metrics:   metrics,
		inflight:  make(map[string]struct{}),
	}
}

// Connect resolves the session of id, creating one when needed, and returns
// it with its full history. page seeds the navigation context.
func (s *Service) Connect(ctx context.Context, id *identity.Identity, page string) (*Ready, error) {
	var initial map[string]any
	if page != "" {
		initial = map[string]any{"page": page}
	}
	sess, resumed, err := s.sessions.Resolve(ctx, id.Owner(), id.Role, initial)
	if err != nil {
		return nil, fmt.Errorf("resolve session: %w", err)
	}
	history, err := s.sessions.History(ctx, sess.SessionID, 0)
	if err != nil {
		return nil, err
	}
	return &Ready{Session: sess, Resumed: resumed, History: history}, nil
}

// Submit accepts a chat message for background processing. When the bound
// session no longer exists or was closed, a fresh session is resolved and
// returned so the caller can rebind; the message is processed there. A
// session with a message already in flight yields domain.ErrBusy.
func (s *Service) Submit(ctx context.Context, in Inbound) (*Ready, error) {
	if in.Identity == nil {
		return nil, &domain.ValidationError{Field: "identity", Message: "identity is required"}
	}
	if in.Received.IsZero() {
		in.Received = time.Now()
	}

	ready, err := s.ensureSession(ctx, in)
	if err != nil {
		return nil, err
	}
	if ready != nil {
		in.SessionID = ready.Session.SessionID
		if in.Bind != nil {
			in.Bind(ready)
		}
	}

	if !s.begin(in.SessionID) {
		return ready, domain.ErrBusy
	}
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		defer s.end(in.SessionID)
		pctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), s.cfg.ProcessTimeout)
		defer cancel()
		s.process(pctx, in)
	}()
	return ready, nil
}

// Wait blocks until every accepted message was processed.
func (s *Service) Wait() { s.wg.Wait() }

// Busy reports whether sessionID has a message in flight.
func (s *Service) Busy(sessionID string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.inflight[sessionID]
	return ok
}

func (s *Service) begin(sessionID string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.inflight[sessionID]; ok {
		return false
	}
	s.inflight[sessionID] = struct{}{}
	return true
}

func (s *Service) end(sessionID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.inflight, sessionID)
}

func (s *Service) ensureSession(ctx context.Context, in Inbound) (*Ready, error) {
	if in.SessionID != "" {
		sess, err := s.sessions.Get(ctx, in.SessionID)
		switch {
		case err == nil && sess.Active:
			return nil, nil
		case err != nil && !errors.Is(err, domain.ErrSessionNotFound):
			return nil, err
		}
	}

	sess, resumed, err := s.sessions.Resolve(ctx, in.Identity.Owner(), in.Identity.Role, nil)
	if err != nil {
		return nil, fmt.Errorf("resolve session: %w", err)
	}
	notice := &domain.Message{
		Sender:   domain.SenderSystem,
		Content:  noticeNewSession,
		Metadata: map[string]any{domain.MetaNotice: true},
	}
	if err := s.sessions.AppendMessages(ctx, sess.SessionID, notice); err != nil {
		return nil, err
	}
	history, err := s.sessions.History(ctx, sess.SessionID, 0)
	if err != nil {
		return nil, err
	}
	return &Ready{Session: sess, Resumed: resumed, History: history, Notice: noticeNewSession}, nil
}

func (s *Service) process(ctx context.Context, in Inbound) {
	sessionID := in.SessionID
	log := loggerFor(sessionID, in.Identity)
	s.publish(sessionID, protocol.TypingFrame(sessionID, true))

	if len(in.Context) > 0 {
		if _, err := s.sessions.UpdateContext(ctx, sessionID, in.Context); err != nil {
			log.Warn().Err(err).Msg("context update failed")
		}
	}

	if hits := policy.FrustrationHits(in.Text); hits > 0 {
		s.escalate(ctx, sessionID, in.Identity, policy.Input{FrustrationHits: hits})
	}

	var plan *pipeline.Plan
	var sess *domain.Session
	err := s.sessions.WithSession(ctx, sessionID, func(cur *domain.Session) error {
		history, err := s.sessions.History(ctx, sessionID, s.cfg.HistoryTurns*2)
		if err != nil {
			return err
		}
		sess = cur
		plan = s.pipeline.Prepare(pipeline.Request{Session: cur, Text: in.Text, History: history})
		return nil
	})
	if err != nil {
		log.Error().Err(err).Msg("prepare reply failed")
		s.publish(sessionID, protocol.TypingFrame(sessionID, false))
		s.publish(sessionID, protocol.ErrorFrame(sessionID, in.RequestID, protocol.ErrorCodeInternal, internalErrorText))
		return
	}

	reply := s.pipeline.Execute(ctx, plan)

	action := reply.Action()
	content := reply.Text
	meta := map[string]any{
		domain.MetaIntent:   string(reply.Intent),
		domain.MetaCached:   reply.Cached,
		domain.MetaFallback: reply.Fallback,
	}
	if len(reply.Links) > 0 {
		meta[domain.MetaLinks] = reply.Links
	}
	if sess.HandoffPending {
		content += "\n\n" + s.contactText()
		meta[domain.MetaHandoff] = true
		action = domain.ActionHandoff
	}

	elapsed := time.Since(in.Received)
	user := &domain.Message{
		Sender:    domain.SenderUser,
		Content:   in.Text,
		Metadata:  map[string]any{domain.MetaIntent: string(reply.Intent)},
		CreatedAt: in.Received.UTC(),
	}
	assistant := &domain.Message{
		Sender:       domain.SenderAssistant,
		Content:      content,
		Metadata:     meta,
		ProcessingMs: elapsed.Milliseconds(),
		Cached:       reply.Cached,
	}

	terminal, err := s.sessions.AppendReply(ctx, sessionID, user, assistant)
	if err != nil {
		log.Error().Err(err).Msg("append reply failed")
		s.publish(sessionID, protocol.TypingFrame(sessionID, false))
		s.publish(sessionID, protocol.ErrorFrame(sessionID, in.RequestID, protocol.ErrorCodeInternal, internalErrorText))
		return
	}
	if sess.HandoffPending {
		if err := s.sessions.ClearHandoff(ctx, sessionID); err != nil {
			log.Warn().Err(err).Msg("clear hand-off failed")
		}
	}
	if err := s.recorder.RecordTurn(ctx, sessionID, reply.Intent, action); err != nil {
		log.Warn().Err(err).Msg("record turn failed")
	}
	if s.metrics != nil {
		s.metrics.ReplyServed(action, elapsed)
	}

	s.publish(sessionID, protocol.TypingFrame(sessionID, false))
	s.publish(sessionID, protocol.MessageFrame(user, in.RequestID))
	s.publish(sessionID, protocol.MessageFrame(assistant, in.RequestID))

	log.Info().
		Str("intent", string(reply.Intent)).
		Str("action", string(action)).
		Bool("terminal", terminal).
		Int64("processing_ms", assistant.ProcessingMs).
		Msg("reply served")
}

// Rate stores a satisfaction score, acknowledges it with a system message
// and escalates or resolves the conversation accordingly.
func (s *Service) Rate(ctx context.Context, sessionID string, id *identity.Identity, p *protocol.RatingPayload) error {
	sess, err := s.sessions.Get(ctx, sessionID)
	if err != nil {
		return err
	}
	if !sess.Active {
		return domain.ErrSessionClosed
	}
	if err := s.sessions.SetSatisfaction(ctx, sessionID, p.Score); err != nil {
		return err
	}

	log := loggerFor(sessionID, id)
	if p.Score >= 4 {
		if err := s.recorder.MarkResolved(ctx, sessionID); err != nil {
			log.Warn().Err(err).Msg("mark resolved failed")
		}
	}
	escalated := s.escalate(ctx, sessionID, id, policy.Input{Rating: p.Score, Escalated: sess.Escalated})

	text := ratingThanks
	if escalated {
		text = ratingSorry
	}
	meta := map[string]any{"rating": p.Score}
	if p.Comment != "" {
		meta["comment"] = p.Comment
	}
	ack := &domain.Message{Sender: domain.SenderSystem, Content: text, Metadata: meta}
	if err := s.sessions.AppendMessages(ctx, sessionID, ack); err != nil {
		return err
	}
	s.publish(sessionID, protocol.MessageFrame(ack, ""))
	log.Info().Int("score", p.Score).Bool("escalated", escalated).Msg("rating recorded")
	return nil
}

func (s *Service) escalate(ctx context.Context, sessionID string, id *identity.Identity, in policy.Input) bool {
	log := loggerFor(sessionID, id)
	ok, err := s.escalator.ShouldEscalate(ctx, in)
	if err != nil {
		log.Warn().Err(err).Msg("escalation policy failed")
		return false
	}
	if !ok {
		return false
	}
	first, err := s.sessions.MarkEscalated(ctx, sessionID)
	if err != nil {
		log.Error().Err(err).Msg("mark escalated failed")
		return false
	}
	if first {
		if err := s.recorder.MarkEscalated(ctx, sessionID); err != nil {
			log.Warn().Err(err).Msg("analytics escalation failed")
		}
	}
	log.Info().Int("frustration_hits", in.FrustrationHits).Int("rating", in.Rating).Msg("session escalated")
	return true
}

func (s *Service) contactText() string {
	c := s.cfg.Contacts
	return fmt.Sprintf("Se preferir falar com nossa equipe de atendimento: e-mail %s, telefone %s (%s).", c.Email, c.Phone, c.Hours)
}

func (s *Service) publish(sessionID string, frame *protocol.Frame) {
	if err := s.publisher.Publish(sessionID, frame); err != nil {
		loggerFor(sessionID, nil).Warn().Err(err).Str("type", frame.Type).Msg("publish failed")
	}
}
