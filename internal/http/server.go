// Package http provides the internal HTTP server of the assistant gateway.
package http

import (
	"context"
	"crypto/subtle"
	"net/http"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
)

// Server is the internal HTTP server.
type Server struct {
	echo *echo.Echo
}

// NewServer creates the internal HTTP server. When adminKey is set, /v1
// routes require it as a bearer token.
func NewServer(h *Handler, adminKey string) *Server {
	e := echo.New()
	e.HideBanner = true
	e.HidePort = true

	e.Use(middleware.Logger())
	e.Use(middleware.Recover())

	e.GET("/health", h.Health)
	e.GET("/metrics", h.Metrics)

	v1 := e.Group("/v1")
	if adminKey != "" {
		v1.Use(middleware.KeyAuth(func(key string, c echo.Context) (bool, error) {
			return subtle.ConstantTimeCompare([]byte(key), []byte(adminKey)) == 1, nil
		}))
	}
	h.RegisterRoutes(v1)

	return &Server{echo: e}
}

// Handler returns the underlying http.Handler.
func (s *Server) Handler() http.Handler {
	return s.echo
}

// Start starts the HTTP server.
func (s *Server) Start(addr string) error {
	return s.echo.Start(addr)
}

// Shutdown gracefully shuts down the server.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.echo.Shutdown(ctx)
}
