package http

import (
	"errors"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"

	"github.com/guiIerme/JobFinder-sub003/internal/analytics"
	"github.com/guiIerme/JobFinder-sub003/internal/logging"
)

// GetSessionAnalytics returns the record of one session.
// GET /v1/analytics/sessions/:session_id
func (h *Handler) GetSessionAnalytics(c echo.Context) error {
	sessionID := c.Param("session_id")
	rec, err := h.analytics.Get(c.Request().Context(), sessionID)
	if errors.Is(err, analytics.ErrNotFound) {
		return errorJSON(c, http.StatusNotFound, "analytics record not found")
	}
	if err != nil {
		logging.Error().Err(err).Str("session_id", sessionID).Msg("get analytics failed")
		return errorJSON(c, http.StatusInternalServerError, "failed to get analytics")
	}
	return c.JSON(http.StatusOK, rec)
}

// GetReport aggregates the records created since a point in time.
// GET /v1/analytics/report?since=
func (h *Handler) GetReport(c echo.Context) error {
	since, err := parseSince(c.QueryParam("since"), time.Now())
	if err != nil {
		return errorJSON(c, http.StatusBadRequest, "since must be RFC 3339 or unix milliseconds")
	}
	rep, err := h.analytics.Report(c.Request().Context(), since)
	if err != nil {
		logging.Error().Err(err).Msg("analytics report failed")
		return errorJSON(c, http.StatusInternalServerError, "failed to build report")
	}
	return c.JSON(http.StatusOK, rep)
}

// Export returns the raw records created since a point in time.
// GET /v1/analytics/export?since=
func (h *Handler) Export(c echo.Context) error {
	since, err := parseSince(c.QueryParam("since"), time.Now())
	if err != nil {
		return errorJSON(c, http.StatusBadRequest, "since must be RFC 3339 or unix milliseconds")
	}
	records, err := h.analytics.Export(c.Request().Context(), since)
	if err != nil {
		logging.Error().Err(err).Msg("analytics export failed")
		return errorJSON(c, http.StatusInternalServerError, "failed to export analytics")
	}
	return c.JSON(http.StatusOK, map[string]interface{}{
		"since":   since.UTC(),
		"records": records,
	})
}
