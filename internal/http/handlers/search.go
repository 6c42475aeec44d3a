package handlers

import (
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/yungbote/mailscope-backend/internal/http/middleware"
	"github.com/yungbote/mailscope-backend/internal/http/response"
	"github.com/yungbote/mailscope-backend/internal/observability"
	"github.com/yungbote/mailscope-backend/internal/search"
)

type SearchHandler struct {
	engine  *search.Engine
	metrics *observability.Metrics
}

func NewSearchHandler(engine *search.Engine, metrics *observability.Metrics) *SearchHandler {
	return &SearchHandler{engine: engine, metrics: metrics}
}

// GET /v1/search
func (h *SearchHandler) Search(c *gin.Context) {
	userID, ok := middleware.UserID(c)
	if !ok {
		response.RespondError(c, http.StatusUnauthorized, "missing_user", errors.New("no user on request"))
		return
	}

	params := search.Params{
		UserID:   userID,
		Query:    c.Query("q"),
		Strategy: search.Strategy(c.Query("strategy")),
	}
	if raw := c.Query("limit"); raw != "" {
		limit, err := strconv.Atoi(raw)
		if err != nil {
			response.RespondError(c, http.StatusBadRequest, "invalid_limit", err)
			return
		}
		params.Limit = limit
	}
	if raw := c.Query("score_threshold"); raw != "" {
		threshold, err := strconv.ParseFloat(raw, 64)
		if err != nil {
			response.RespondError(c, http.StatusBadRequest, "invalid_score_threshold", err)
			return
		}
		params.ScoreThreshold = &threshold
	}
	if raw := c.Query("include_body"); raw != "" {
		includeBody, err := strconv.ParseBool(raw)
		if err != nil {
			response.RespondError(c, http.StatusBadRequest, "invalid_include_body", err)
			return
		}
		params.IncludeBody = includeBody
	}
	if raw := c.Query("from"); raw != "" {
		from, err := time.Parse(time.RFC3339, raw)
		if err != nil {
			response.RespondError(c, http.StatusBadRequest, "invalid_from", err)
			return
		}
		params.ReceivedFrom = &from
	}
	if raw := c.Query("to"); raw != "" {
		to, err := time.Parse(time.RFC3339, raw)
		if err != nil {
			response.RespondError(c, http.StatusBadRequest, "invalid_to", err)
			return
		}
		params.ReceivedTo = &to
	}

	started := time.Now()
	results, err := h.engine.Search(c.Request.Context(), params)
	h.metrics.SearchServed(time.Since(started), err != nil)
	if err != nil {
		if errors.Is(err, search.ErrInvalidParams) {
			response.RespondError(c, http.StatusBadRequest, "invalid_search", err)
			return
		}
		response.RespondError(c, http.StatusInternalServerError, "search_failed", err)
		return
	}

	response.RespondOK(c, gin.H{"results": results, "count": len(results)})
}
