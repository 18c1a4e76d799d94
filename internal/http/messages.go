package http

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/labstack/echo/v4"

	"github.com/guiIerme/JobFinder-sub003/internal/domain"
	"github.com/guiIerme/JobFinder-sub003/internal/logging"
	"github.com/guiIerme/JobFinder-sub003/internal/protocol"
)

const maxPageSize = 200

// GetSessionMessages retrieves messages for a session.
// GET /v1/sessions/:session_id/messages
func (h *Handler) GetSessionMessages(c echo.Context) error {
	sessionID := c.Param("session_id")
	limit, err := queryInt(c, "limit", 50)
	if err != nil || limit <= 0 {
		return errorJSON(c, http.StatusBadRequest, "limit must be a positive integer")
	}
	if limit > maxPageSize {
		limit = maxPageSize
	}
	var afterSeq int64
	if v := c.QueryParam("after_seq"); v != "" {
		afterSeq, err = strconv.ParseInt(v, 10, 64)
		if err != nil || afterSeq < 0 {
			return errorJSON(c, http.StatusBadRequest, "after_seq must be a non-negative integer")
		}
	}

	// One extra row tells whether another page exists.
	messages, err := h.sessions.GetMessages(c.Request().Context(), sessionID, afterSeq, limit+1)
	if errors.Is(err, domain.ErrSessionNotFound) {
		return errorJSON(c, http.StatusNotFound, protocol.ErrorCodeSessionNotFound)
	}
	if err != nil {
		logging.Error().Err(err).Str("session_id", sessionID).Msg("list messages failed")
		return errorJSON(c, http.StatusInternalServerError, "failed to list messages")
	}

	hasMore := len(messages) > limit
	if hasMore {
		messages = messages[:limit]
	}
	views := make([]protocol.MessageView, 0, len(messages))
	for i := range messages {
		views = append(views, protocol.ViewOf(&messages[i]))
	}
	return c.JSON(http.StatusOK, map[string]interface{}{
		"messages": views,
		"has_more": hasMore,
	})
}

// CloseRequest is the optional body of a close call.
type CloseRequest struct {
	Reason string `json:"reason"`
}

// CloseSession ends a session.
// POST /v1/sessions/:session_id/close
func (h *Handler) CloseSession(c echo.Context) error {
	sessionID := c.Param("session_id")
	var req CloseRequest
	if c.Request().ContentLength > 0 {
		if err := c.Bind(&req); err != nil {
			return errorJSON(c, http.StatusBadRequest, "invalid request body")
		}
	}

	reason := domain.CloseReasonAdmin
	switch domain.CloseReason(req.Reason) {
	case "":
	case domain.CloseReasonClient, domain.CloseReasonAdmin:
		reason = domain.CloseReason(req.Reason)
	default:
		return errorJSON(c, http.StatusBadRequest, "reason must be client or admin")
	}

	closed, err := h.sessions.CloseSession(c.Request().Context(), sessionID, reason)
	if errors.Is(err, domain.ErrSessionNotFound) {
		return errorJSON(c, http.StatusNotFound, protocol.ErrorCodeSessionNotFound)
	}
	if err != nil {
		logging.Error().Err(err).Str("session_id", sessionID).Msg("close session failed")
		return errorJSON(c, http.StatusInternalServerError, "failed to close session")
	}
	return c.JSON(http.StatusOK, map[string]interface{}{
		"ok":     true,
		"closed": closed,
	})
}
