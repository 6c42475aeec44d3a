package handlers

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	domain "github.com/yungbote/mailscope-backend/internal/domain/mail"
	"github.com/yungbote/mailscope-backend/internal/http/middleware"
	"github.com/yungbote/mailscope-backend/internal/pipeline"
	"github.com/yungbote/mailscope-backend/internal/pkg/dbctx"
)

type fakeEmailRepo struct {
	email   *domain.Email
	cleared bool

	clearCalls int
}

func (f *fakeEmailRepo) Upsert(dbc dbctx.Context, email *domain.Email) (*domain.Email, error) {
	return email, nil
}

func (f *fakeEmailRepo) GetByID(dbc dbctx.Context, userID, emailID uuid.UUID) (*domain.Email, error) {
	if f.email != nil && f.email.ID == emailID && f.email.UserID == userID {
		return f.email, nil
	}
	return nil, nil
}

func (f *fakeEmailRepo) GetByIDs(dbc dbctx.Context, userID uuid.UUID, ids []uuid.UUID) ([]*domain.Email, error) {
	return nil, nil
}

func (f *fakeEmailRepo) GetByMessageID(dbc dbctx.Context, userID uuid.UUID, messageID string) (*domain.Email, error) {
	return nil, nil
}

func (f *fakeEmailRepo) GetThread(dbc dbctx.Context, userID uuid.UUID, conversationID string) ([]*domain.Email, error) {
	return nil, nil
}

func (f *fakeEmailRepo) UpdateFields(dbc dbctx.Context, emailID uuid.UUID, updates map[string]interface{}) error {
	return nil
}

func (f *fakeEmailRepo) SetStatus(dbc dbctx.Context, emailID uuid.UUID, status string) error {
	return nil
}

func (f *fakeEmailRepo) MarkFailed(dbc dbctx.Context, emailID uuid.UUID, lastError string) error {
	return nil
}

func (f *fakeEmailRepo) MarkCompleted(dbc dbctx.Context, emailID uuid.UUID) error {
	return nil
}

func (f *fakeEmailRepo) ClearFailure(dbc dbctx.Context, userID, emailID uuid.UUID) (bool, error) {
	f.clearCalls++
	return f.cleared, nil
}

func (f *fakeEmailRepo) DeleteByMessageIDs(dbc dbctx.Context, userID uuid.UUID, messageIDs []string) (int64, error) {
	return 0, nil
}

type captureEnqueuer struct {
	envs []pipeline.Envelope
}

func (c *captureEnqueuer) EnqueueIngest(ctx context.Context, env pipeline.Envelope) error {
	c.envs = append(c.envs, env)
	return nil
}

func newEmailRouter(repo *fakeEmailRepo, enq *captureEnqueuer) *gin.Engine {
	gin.SetMode(gin.TestMode)
	h := NewEmailHandler(repo, enq)
	r := gin.New()
	api := r.Group("/v1")
	api.Use(middleware.RequireUser())
	api.GET("/emails/:id", h.GetEmail)
	api.POST("/emails/:id/reprocess", h.Reprocess)
	return r
}

func TestReprocessClearsFailureAndEnqueues(t *testing.T) {
	userID := uuid.New()
	emailID := uuid.New()
	repo := &fakeEmailRepo{
		email: &domain.Email{
			ID:        emailID,
			UserID:    userID,
			MessageID: "msg-1",
			FolderID:  "folder-1",
		},
		cleared: true,
	}
	enq := &captureEnqueuer{}
	r := newEmailRouter(repo, enq)

	req := httptest.NewRequest(http.MethodPost, "/v1/emails/"+emailID.String()+"/reprocess", nil)
	req.Header.Set("X-User-ID", userID.String())
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, req)

	if rec.Code != http.StatusAccepted {
		t.Fatalf("unexpected status: got=%d want=%d body=%s", rec.Code, http.StatusAccepted, rec.Body.String())
	}
	if repo.clearCalls != 1 {
		t.Fatalf("expected one ClearFailure call, got %d", repo.clearCalls)
	}
	if len(enq.envs) != 1 {
		t.Fatalf("expected one enqueued envelope, got %d", len(enq.envs))
	}
	env := enq.envs[0]
	if env.UserID != userID || env.EmailID != emailID {
		t.Fatalf("envelope ids mismatch: %+v", env)
	}
	if env.MessageID != "msg-1" || env.FolderID != "folder-1" {
		t.Fatalf("envelope provider fields mismatch: %+v", env)
	}
}

func TestReprocessConflictsWhenEmailNotFailed(t *testing.T) {
	userID := uuid.New()
	emailID := uuid.New()
	repo := &fakeEmailRepo{
		email: &domain.Email{ID: emailID, UserID: userID, MessageID: "msg-1"},
	}
	enq := &captureEnqueuer{}
	r := newEmailRouter(repo, enq)

	req := httptest.NewRequest(http.MethodPost, "/v1/emails/"+emailID.String()+"/reprocess", nil)
	req.Header.Set("X-User-ID", userID.String())
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, req)

	if rec.Code != http.StatusConflict {
		t.Fatalf("unexpected status: got=%d want=%d", rec.Code, http.StatusConflict)
	}
	if len(enq.envs) != 0 {
		t.Fatalf("expected no enqueues, got %d", len(enq.envs))
	}
}

func TestReprocessUnknownEmailIs404(t *testing.T) {
	repo := &fakeEmailRepo{}
	enq := &captureEnqueuer{}
	r := newEmailRouter(repo, enq)

	req := httptest.NewRequest(http.MethodPost, "/v1/emails/"+uuid.NewString()+"/reprocess", nil)
	req.Header.Set("X-User-ID", uuid.NewString())
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, req)

	if rec.Code != http.StatusNotFound {
		t.Fatalf("unexpected status: got=%d want=%d", rec.Code, http.StatusNotFound)
	}
}

func TestReprocessRejectsMalformedID(t *testing.T) {
	r := newEmailRouter(&fakeEmailRepo{}, &captureEnqueuer{})

	req := httptest.NewRequest(http.MethodPost, "/v1/emails/nope/reprocess", nil)
	req.Header.Set("X-User-ID", uuid.NewString())
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, req)

	if rec.Code != http.StatusBadRequest {
		t.Fatalf("unexpected status: got=%d want=%d", rec.Code, http.StatusBadRequest)
	}
}

func TestGetEmailScopesToRequestUser(t *testing.T) {
	owner := uuid.New()
	emailID := uuid.New()
	repo := &fakeEmailRepo{
		email: &domain.Email{ID: emailID, UserID: owner, MessageID: "msg-1", Subject: "hello"},
	}
	r := newEmailRouter(repo, &captureEnqueuer{})

	req := httptest.NewRequest(http.MethodGet, "/v1/emails/"+emailID.String(), nil)
	req.Header.Set("X-User-ID", owner.String())
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("unexpected status: got=%d want=%d", rec.Code, http.StatusOK)
	}
	var body struct {
		Email domain.Email `json:"email"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode body: %v", err)
	}
	if body.Email.Subject != "hello" {
		t.Fatalf("unexpected subject %q", body.Email.Subject)
	}

	// Same email requested by a different user resolves to nothing.
	req = httptest.NewRequest(http.MethodGet, "/v1/emails/"+emailID.String(), nil)
	req.Header.Set("X-User-ID", uuid.NewString())
	rec = httptest.NewRecorder()
	r.ServeHTTP(rec, req)

	if rec.Code != http.StatusNotFound {
		t.Fatalf("unexpected status for foreign user: got=%d want=%d", rec.Code, http.StatusNotFound)
	}
}
