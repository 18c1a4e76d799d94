package http

import (
	"context"
	"net/http"
	"strconv"
	"time"

	"github.com/labstack/echo/v4"

	"github.com/guiIerme/JobFinder-sub003/internal/domain"
)

// Sessions reads and closes conversations.
type Sessions interface {
	GetMessages(ctx context.Context, sessionID string, afterSeq int64, limit int) ([]domain.Message, error)
	CloseSession(ctx context.Context, sessionID string, reason domain.CloseReason) (bool, error)
}

// Knowledge searches the knowledge base.
type Knowledge interface {
	Search(query string, category domain.Category, k int) []domain.KnowledgeEntry
	Len() int
}

// Analytics serves conversation records.
type Analytics interface {
	Get(ctx context.Context, sessionID string) (*domain.AnalyticsRecord, error)
	Report(ctx context.Context, since time.Time) (*domain.Report, error)
	Export(ctx context.Context, since time.Time) ([]domain.AnalyticsRecord, error)
}

// Stats reports live gateway counters.
type Stats interface {
	GetConnectionCount() int
	GetSessionCount() int
}

// Handler handles HTTP requests.
type Handler struct {
	sessions  Sessions
	knowledge Knowledge
	analytics Analytics
	stats     Stats
	metrics   http.Handler
}

// NewHandler creates a new handler. metrics serves the Prometheus exposition.
func NewHandler(sessions Sessions, knowledge Knowledge, analytics Analytics, stats Stats, metrics http.Handler) *Handler {
	return &Handler{
		sessions:  sessions,
		knowledge: knowledge,
		analytics: analytics,
		stats:     stats,
		metrics:   metrics,
	}
}

// RegisterRoutes registers the /v1 routes on g.
func (h *Handler) RegisterRoutes(g *echo.Group) {
	g.GET("/sessions/:session_id/messages", h.GetSessionMessages)
	g.POST("/sessions/:session_id/close", h.CloseSession)

	g.GET("/knowledge/search", h.SearchKnowledge)

	g.GET("/analytics/sessions/:session_id", h.GetSessionAnalytics)
	g.GET("/analytics/report", h.GetReport)
	g.GET("/analytics/export", h.Export)
}

// Health returns health status.
func (h *Handler) Health(c echo.Context) error {
	return c.JSON(http.StatusOK, map[string]interface{}{
		"status":      "healthy",
		"connections": h.stats.GetConnectionCount(),
		"sessions":    h.stats.GetSessionCount(),
		"knowledge":   h.knowledge.Len(),
	})
}

// Metrics serves the Prometheus registry.
func (h *Handler) Metrics(c echo.Context) error {
	h.metrics.ServeHTTP(c.Response(), c.Request())
	return nil
}

func errorJSON(c echo.Context, status int, msg string) error {
	return c.JSON(status, map[string]string{"error": msg})
}

func queryInt(c echo.Context, name string, def int) (int, error) {
	v := c.QueryParam(name)
	if v == "" {
		return def, nil
	}
	return strconv.Atoi(v)
}

// parseSince reads an RFC 3339 timestamp or a unix millisecond count. An
// empty value means the last 24 hours.
func parseSince(v string, now time.Time) (time.Time, error) {
	if v == "" {
		return now.Add(-24 * time.Hour), nil
	}
	if ms, err := strconv.ParseInt(v, 10, 64); err == nil {
		return time.UnixMilli(ms), nil
	}
	return time.Parse(time.RFC3339, v)
}
