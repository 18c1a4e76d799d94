// Package rpc exposes the JSON-RPC push endpoint used by peer gateways and
// admin tooling to deliver frames to a session.
package rpc

import (
	"context"
	"errors"
	"net"
	"net/rpc"
	"net/rpc/jsonrpc"
	"time"

	"github.com/guiIerme/JobFinder-sub003/internal/logging"
)

// Broadcaster publishes documents on session topics.
type Broadcaster interface {
	BroadcastJSON(sessionID string, v interface{}) error
	HasActiveConnections(sessionID string) bool
}

// Server exposes gateway RPC endpoints.
type Server struct {
	listener  net.Listener
	rpcServer *rpc.Server
	done      chan struct{}
}

// NewServer creates a new gateway RPC server.
func NewServer(b Broadcaster) (*Server, error) {
	rpcServer := rpc.NewServer()
	handler := &Handler{hub: b}
	if err := rpcServer.RegisterName("Gateway", handler); err != nil {
		return nil, err
	}

	return &Server{
		rpcServer: rpcServer,
		done:      make(chan struct{}),
	}, nil
}

// Listen binds addr. It is split from Serve so callers know the address
// before accepting.
func (s *Server) Listen(addr string) (net.Addr, error) {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, err
	}
	s.listener = ln
	return ln.Addr(), nil
}

// Start begins accepting RPC connections on the given address.
func (s *Server) Start(addr string) error {
	if _, err := s.Listen(addr); err != nil {
		return err
	}
	return s.Serve()
}

// Serve accepts connections on the bound listener until Shutdown.
func (s *Server) Serve() error {
	for {
		conn, err := s.listener.Accept()
		if err != nil {
			if errors.Is(err, net.ErrClosed) {
				close(s.done)
				return nil
			}
			logging.Warn().Err(err).Msg("rpc accept error")
			continue
		}

		go s.rpcServer.ServeCodec(jsonrpc.NewServerCodec(conn))
	}
}

// Shutdown stops accepting new RPC connections.
func (s *Server) Shutdown(ctx context.Context) error {
	if s.listener == nil {
		return nil
	}

	if err := s.listener.Close(); err != nil {
		return err
	}

	select {
	case <-s.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Handler implements gateway RPC methods.
type Handler struct {
	hub Broadcaster
}

// PushRequest carries a frame for a session.
type PushRequest struct {
	SessionID string                 `json:"session_id"`
	Frame     map[string]interface{} `json:"frame"`
}

// PushResponse reports whether this instance had local connections.
type PushResponse struct {
	OK        bool `json:"ok"`
	Delivered bool `json:"delivered"`
}

// PushEvent publishes a frame on the session topic.
func (h *Handler) PushEvent(req *PushRequest, resp *PushResponse) error {
	if req == nil {
		return errors.New("push request is required")
	}
	if req.SessionID == "" {
		return errors.New("session_id is required")
	}
	if req.Frame == nil {
		return errors.New("frame is required")
	}
	if t, _ := req.Frame["type"].(string); t == "" {
		return errors.New("frame type is required")
	}

	if _, ok := req.Frame["ts"]; !ok {
		req.Frame["ts"] = time.Now().UnixMilli()
	}
	if _, ok := req.Frame["session_id"]; !ok {
		req.Frame["session_id"] = req.SessionID
	}

	hasConnections := h.hub.HasActiveConnections(req.SessionID)
	if err := h.hub.BroadcastJSON(req.SessionID, req.Frame); err != nil {
		return err
	}

	logging.Info().
		Str("session_id", req.SessionID).
		Interface("type", req.Frame["type"]).
		Bool("delivered", hasConnections).
		Msg("frame pushed")

	if resp != nil {
		resp.OK = true
		resp.Delivered = hasConnections
	}
	return nil
}
