// Package ws provides WebSocket server functionality for client connections.
package ws

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/gorilla/websocket"
	"github.com/labstack/echo/v4"

	"github.com/guiIerme/JobFinder-sub003/internal/adapter/identity"
	"github.com/guiIerme/JobFinder-sub003/internal/chat"
	"github.com/guiIerme/JobFinder-sub003/internal/config"
	"github.com/guiIerme/JobFinder-sub003/internal/domain"
	"github.com/guiIerme/JobFinder-sub003/internal/hub"
	"github.com/guiIerme/JobFinder-sub003/internal/logging"
	"github.com/guiIerme/JobFinder-sub003/internal/protocol"
	"github.com/guiIerme/JobFinder-sub003/internal/ratelimit"
)

// Authenticator resolves connection credentials.
type Authenticator interface {
	Authenticate(ctx context.Context, creds identity.Credentials) (*identity.Identity, error)
}

// Limiter admits inbound chat frames.
type Limiter interface {
	Allow(key string) error
}

// Metrics observes rejected frames.
type Metrics interface {
	RateLimitRejected()
}

const authTimeout = 10 * time.Second

// Server handles WebSocket connections.
type Server struct {
	cfg      *config.Config
	hub      *hub.Hub
	auth     Authenticator
	chat     *chat.Service
	limiter  Limiter
	metrics  Metrics
	upgrader websocket.Upgrader
}

// NewServer creates a new WebSocket server. metrics may be nil.
func NewServer(cfg *config.Config, h *hub.Hub, auth Authenticator, svc *chat.Service, limiter Limiter, metrics Metrics) *Server {
	return &Server{
		cfg:     cfg,
		hub:     h,
		auth:    auth,
		chat:    svc,
		limiter: limiter,
		metrics: metrics,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin: func(r *http.Request) bool {
				return true
			},
		},
	}
}

// connState is the per-connection state owned by the read pump.
type connState struct {
	conn     *hub.Connection
	identity *identity.Identity
	ctx      context.Context
}

// HandleWebSocket upgrades the request, authenticates the caller, binds the
// connection to its session and starts the pumps.
func (s *Server) HandleWebSocket(c echo.Context) error {
	req := c.Request()
	ws, err := s.upgrader.Upgrade(c.Response(), req, nil)
	if err != nil {
		logging.Warn().Err(err).Msg("websocket upgrade failed")
		return err
	}

	authCtx, cancel := context.WithTimeout(req.Context(), authTimeout)
	id, err := s.auth.Authenticate(authCtx, credentialsFrom(req))
	cancel()
	if err != nil {
		s.reject(ws, err)
		return nil
	}

	ctx, stop := context.WithCancel(context.WithoutCancel(req.Context()))
	ready, err := s.chat.Connect(ctx, id, req.URL.Query().Get("page"))
	if err != nil {
		stop()
		logging.Error().Err(err).Str("identity", id.String()).Msg("session resolve failed")
		s.closeWith(ws, protocol.ErrorFrame("", "", protocol.ErrorCodeInternal, "could not start a session"), websocket.CloseInternalServerErr)
		return nil
	}

	conn := s.hub.NewConnection(ws)
	conn.Identity = id.String()
	conn.SetState(hub.StateAuthenticated)
	s.hub.Register(conn)
	ws.SetReadLimit(s.cfg.MaxMessageSize)

	st := &connState{conn: conn, identity: id, ctx: ctx}
	s.bind(st, ready)
	conn.SetState(hub.StateActive)

	logging.Info().
		Str("conn_id", conn.ID).
		Str("identity", conn.Identity).
		Str("session_id", ready.Session.SessionID).
		Bool("resumed", ready.Resumed).
		Msg("connection established")

	go s.writePump(conn)
	go s.readPump(st, stop)
	return nil
}

// credentialsFrom reads a bearer token from the Authorization header or the
// token query parameter, and an anonymous id from anon_id.
func credentialsFrom(r *http.Request) identity.Credentials {
	q := r.URL.Query()
	token := q.Get("token")
	if h := r.Header.Get("Authorization"); strings.HasPrefix(h, "Bearer ") {
		token = strings.TrimSpace(strings.TrimPrefix(h, "Bearer "))
	}
	return identity.Credentials{Token: token, AnonymousID: q.Get("anon_id")}
}

func (s *Server) reject(ws *websocket.Conn, err error) {
	reason := "authentication failed"
	var authErr *domain.AuthError
	if errors.As(err, &authErr) {
		reason = authErr.Reason
	}
	logging.Info().Err(err).Msg("connection rejected")
	s.closeWith(ws, protocol.ErrorFrame("", "", protocol.ErrorCodeAuth, reason), websocket.ClosePolicyViolation)
}

func (s *Server) closeWith(ws *websocket.Conn, frame *protocol.Frame, code int) {
	defer ws.Close()
	deadline := time.Now().Add(s.cfg.WriteTimeout)
	if data, err := protocol.Encode(frame); err == nil {
		_ = ws.SetWriteDeadline(deadline)
		_ = ws.WriteMessage(websocket.TextMessage, data)
	}
	_ = ws.WriteControl(websocket.CloseMessage, websocket.FormatCloseMessage(code, ""), deadline)
}

// bind queues the session frame and then subscribes the connection, so the
// snapshot always precedes live frames.
func (s *Server) bind(st *connState, ready *chat.Ready) {
	frame := protocol.SessionFrame(ready.Session, ready.Resumed, ready.History, ready.Notice)
	if err := s.hub.SendFrame(st.conn, frame); err != nil {
		logging.Warn().Err(err).Str("conn_id", st.conn.ID).Msg("session frame not queued")
	}
	if err := s.hub.BindSession(st.conn, ready.Session.SessionID); err != nil {
		logging.Error().Err(err).Str("conn_id", st.conn.ID).Msg("bind session failed")
	}
}

// readPump reads messages from the WebSocket connection.
func (s *Server) readPump(st *connState, stop context.CancelFunc) {
	conn := st.conn
	defer func() {
		stop()
		conn.SetState(hub.StateClosing)
		s.hub.Unregister(conn)
		conn.Close()
		logging.Info().Str("conn_id", conn.ID).Str("session_id", conn.SessionID()).Msg("connection closed")
	}()

	conn.SetReadDeadline(time.Now().Add(s.cfg.ReadTimeout))
	conn.Conn.SetPongHandler(func(string) error {
		conn.SetReadDeadline(time.Now().Add(s.cfg.ReadTimeout))
		return nil
	})

	for {
		_, message, err := conn.Conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure, websocket.CloseAbnormalClosure) {
				logging.Warn().Err(err).Str("conn_id", conn.ID).Msg("websocket read error")
			}
			return
		}
		conn.SetReadDeadline(time.Now().Add(s.cfg.ReadTimeout))
		s.handleMessage(st, message)
	}
}

// writePump writes messages to the WebSocket connection.
func (s *Server) writePump(conn *hub.Connection) {
	ticker := time.NewTicker(s.cfg.PingInterval)
	defer func() {
		ticker.Stop()
		conn.Close()
	}()

	for {
		select {
		case message := <-conn.Send:
			conn.SetWriteDeadline(time.Now().Add(s.cfg.WriteTimeout))
			if err := conn.WriteMessage(websocket.TextMessage, message); err != nil {
				logging.Debug().Err(err).Str("conn_id", conn.ID).Msg("write failed")
				return
			}

		case <-ticker.C:
			conn.SetWriteDeadline(time.Now().Add(s.cfg.WriteTimeout))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}

		case <-conn.Done():
			_ = conn.WriteControl(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
				time.Now().Add(s.cfg.WriteTimeout))
			return
		}
	}
}

// handleMessage dispatches incoming frames to the appropriate handler.
func (s *Server) handleMessage(st *connState, data []byte) {
	env, err := protocol.ParseEnvelope(data)
	if err != nil {
		s.sendError(st, "", err)
		return
	}

	switch env.Type {
	case protocol.TypePing:
		// The read deadline was already refreshed.
	case protocol.TypeChat:
		s.handleChat(st, env)
	case protocol.TypeRating:
		s.handleRating(st, env)
	}
}

func (s *Server) handleChat(st *connState, env *protocol.Envelope) {
	p, err := protocol.DecodeChat(env)
	if err != nil {
		s.sendError(st, "", err)
		return
	}

	if err := s.limiter.Allow(ratelimit.Key(st.identity.String(), ratelimit.ScopeChat)); err != nil {
		var limited *domain.RateLimitExceeded
		if errors.As(err, &limited) {
			if s.metrics != nil {
				s.metrics.RateLimitRejected()
			}
			s.send(st, protocol.RateLimitedFrame(st.conn.SessionID(), p.RequestID, limited.RetryAfterSeconds))
			return
		}
		s.sendError(st, p.RequestID, err)
		return
	}

	_, err = s.chat.Submit(st.ctx, chat.Inbound{
		SessionID: st.conn.SessionID(),
		Identity:  st.identity,
		RequestID: p.RequestID,
		Text:      p.Text,
		Context:   p.Context,
		Received:  time.Now(),
		Bind:      func(ready *chat.Ready) { s.bind(st, ready) },
	})
	if err != nil {
		s.sendError(st, p.RequestID, err)
	}
}

func (s *Server) handleRating(st *connState, env *protocol.Envelope) {
	p, err := protocol.DecodeRating(env)
	if err != nil {
		s.sendError(st, "", err)
		return
	}
	if err := s.chat.Rate(st.ctx, st.conn.SessionID(), st.identity, p); err != nil {
		s.sendError(st, "", err)
	}
}

// sendError maps err to an error frame for the connection.
func (s *Server) sendError(st *connState, requestID string, err error) {
	code, message := protocol.ErrorCodeInternal, "internal error"
	var invalid *domain.ValidationError
	switch {
	case errors.As(err, &invalid):
		code, message = protocol.ErrorCodeValidation, invalid.Error()
	case errors.Is(err, domain.ErrBusy):
		code, message = protocol.ErrorCodeStillProcessing, "a previous message is still being processed"
	case errors.Is(err, domain.ErrSessionNotFound), errors.Is(err, domain.ErrSessionClosed):
		code, message = protocol.ErrorCodeSessionNotFound, "session not found or closed"
	default:
		logging.Error().Err(err).Str("conn_id", st.conn.ID).Str("session_id", st.conn.SessionID()).Msg("frame handling failed")
	}
	s.send(st, protocol.ErrorFrame(st.conn.SessionID(), requestID, code, message))
}

func (s *Server) send(st *connState, frame *protocol.Frame) {
	if err := s.hub.SendFrame(st.conn, frame); err != nil {
		logging.Warn().Err(err).Str("conn_id", st.conn.ID).Str("type", frame.Type).Msg("frame dropped")
	}
}
