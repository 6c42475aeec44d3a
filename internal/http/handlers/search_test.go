package handlers

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/yungbote/mailscope-backend/internal/http/middleware"
)

func newSearchRouter(h *SearchHandler) *gin.Engine {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	api := r.Group("/v1")
	api.Use(middleware.RequireUser())
	api.GET("/search", h.Search)
	return r
}

func TestSearchRejectsBadQueryParams(t *testing.T) {
	// Malformed params are rejected before the engine is consulted, so no
	// engine is wired here.
	r := newSearchRouter(NewSearchHandler(nil, nil))

	cases := []struct {
		name  string
		query string
	}{
		{"limit", "/v1/search?q=budget&limit=many"},
		{"score_threshold", "/v1/search?q=budget&score_threshold=high"},
		{"include_body", "/v1/search?q=budget&include_body=maybe"},
		{"from", "/v1/search?q=budget&from=yesterday"},
		{"to", "/v1/search?q=budget&to=2025-13-40"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, tc.query, nil)
			req.Header.Set("X-User-ID", uuid.NewString())
			rec := httptest.NewRecorder()
			r.ServeHTTP(rec, req)

			if rec.Code != http.StatusBadRequest {
				t.Fatalf("unexpected status: got=%d want=%d body=%s", rec.Code, http.StatusBadRequest, rec.Body.String())
			}
		})
	}
}

func TestSearchRequiresUserHeader(t *testing.T) {
	r := newSearchRouter(NewSearchHandler(nil, nil))

	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/v1/search?q=budget", nil))

	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("unexpected status: got=%d want=%d", rec.Code, http.StatusUnauthorized)
	}
}
