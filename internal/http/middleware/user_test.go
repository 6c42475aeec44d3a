package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
)

func TestRequireUserRejectsMissingHeader(t *testing.T) {
	gin.SetMode(gin.TestMode)

	r := gin.New()
	r.Use(RequireUser())
	r.GET("/v1/search", func(c *gin.Context) { c.Status(http.StatusOK) })

	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/v1/search", nil))

	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("unexpected status: got=%d want=%d", rec.Code, http.StatusUnauthorized)
	}
}

func TestRequireUserRejectsMalformedID(t *testing.T) {
	gin.SetMode(gin.TestMode)

	r := gin.New()
	r.Use(RequireUser())
	r.GET("/v1/search", func(c *gin.Context) { c.Status(http.StatusOK) })

	req := httptest.NewRequest(http.MethodGet, "/v1/search", nil)
	req.Header.Set("X-User-ID", "not-a-uuid")
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, req)

	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("unexpected status: got=%d want=%d", rec.Code, http.StatusUnauthorized)
	}
}

func TestRequireUserStoresParsedID(t *testing.T) {
	gin.SetMode(gin.TestMode)

	want := uuid.New()
	var got uuid.UUID
	var ok bool

	r := gin.New()
	r.Use(RequireUser())
	r.GET("/v1/search", func(c *gin.Context) {
		got, ok = UserID(c)
		c.Status(http.StatusOK)
	})

	req := httptest.NewRequest(http.MethodGet, "/v1/search", nil)
	req.Header.Set("X-User-ID", want.String())
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("unexpected status: got=%d want=%d", rec.Code, http.StatusOK)
	}
	if !ok || got != want {
		t.Fatalf("stored user id mismatch: got=%v ok=%v want=%v", got, ok, want)
	}
}
