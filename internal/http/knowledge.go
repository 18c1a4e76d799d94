package http

import (
	"net/http"
	"strings"

	"github.com/labstack/echo/v4"

	"github.com/guiIerme/JobFinder-sub003/internal/domain"
)

// SearchKnowledge ranks knowledge entries against a query.
// GET /v1/knowledge/search?q=&category=&k=
func (h *Handler) SearchKnowledge(c echo.Context) error {
	q := strings.TrimSpace(c.QueryParam("q"))
	if q == "" {
		return errorJSON(c, http.StatusBadRequest, "q is required")
	}
	category := domain.Category(c.QueryParam("category"))
	if category != "" && !category.Valid() {
		return errorJSON(c, http.StatusBadRequest, "unknown category")
	}
	k, err := queryInt(c, "k", 5)
	if err != nil || k <= 0 || k > 50 {
		return errorJSON(c, http.StatusBadRequest, "k must be between 1 and 50")
	}

	entries := h.knowledge.Search(q, category, k)
	if entries == nil {
		entries = []domain.KnowledgeEntry{}
	}
	return c.JSON(http.StatusOK, map[string]interface{}{
		"entries": entries,
	})
}
